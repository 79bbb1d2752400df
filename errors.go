package tchannel

import (
	"errors"
	"fmt"
)

var (
	// Framing errors surfaced by the parse buffer and chunk reader.
	ErrZeroLengthFrame   = errors.New("zero length frame")
	ErrBrokenReaderState = errors.New("shift past end of parse buffer")
	ErrShortRead         = errors.New("frame body short read")

	// Header and body decode errors.
	ErrFrameTooShort       = errors.New("frame size below header size")
	ErrFrameSizeMismatch   = errors.New("frame size does not match buffered length")
	ErrMissingInitHeader   = errors.New("missing required init header")
	ErrDuplicateInitHeader = errors.New("duplicate init header")
	ErrUnknownInitHeader   = errors.New("unknown init header")
	ErrDuplicateCallHeader = errors.New("duplicate transport header")
	ErrUnknownChecksumType = errors.New("unknown checksum type")
	ErrUnsupportedVersion  = errors.New("unsupported protocol version")

	// Protocol violations. Any of these resets the connection.
	ErrDuplicateInitRequest  = errors.New("duplicate init request")
	ErrDuplicateInitResponse = errors.New("duplicate init response")
	ErrCallReqBeforeInit     = errors.New("call request before init")
	ErrCallResBeforeInit     = errors.New("call response before init")
	ErrChecksumMismatch      = errors.New("checksum mismatch")

	// Operation errors.
	ErrTimeout         = errors.New("operation timed out")
	ErrNoSuchOperation = errors.New("no such operation")
	ErrEndpointExists  = errors.New("endpoint already defined")
	ErrInvalidTTL      = errors.New("ttl must be positive")
	ErrArgTooLarge     = errors.New("argument exceeds length prefix")

	// Transport errors.
	ErrSocketClosed      = errors.New("socket closed")
	ErrConnectionClosing = errors.New("connection is closing")
	ErrStuckConnection   = errors.New("connection timed out")
	ErrChannelDestroyed  = errors.New("shutdown from quit")
	ErrSelfPeer          = errors.New("cannot peer with self")
)

// TruncatedReadError reports end-of-stream with bytes still buffered in
// the chunk reader.
type TruncatedReadError struct {
	Residual int
	State    ChunkReaderState
}

func (e *TruncatedReadError) Error() string {
	return fmt.Sprintf("truncated read: %d residual bytes in state %s", e.Residual, e.State)
}

// InvalidFrameTypeError reports a frame header naming a type with no
// registered body codec.
type InvalidFrameTypeError struct {
	Type FrameType
}

func (e *InvalidFrameTypeError) Error() string {
	return fmt.Sprintf("invalid frame type 0x%02x", uint8(e.Type))
}

// ExtraFrameDataError reports a frame whose declared size exceeds what
// its body grammar consumed.
type ExtraFrameDataError struct {
	Type     FrameType
	Trailing int
}

func (e *ExtraFrameDataError) Error() string {
	return fmt.Sprintf("%s frame has %d trailing bytes", e.Type, e.Trailing)
}

// RemoteError is a non-OK completion reported by the remote peer, either
// as a CallResponse code or an Error frame.
type RemoteError struct {
	Code    ResponseCode
	Message string
}

func (e *RemoteError) Error() string {
	if e.Message != "" {
		return e.Message
	}

	return "remote error: " + e.Code.String()
}
