package tchannel

import (
	"io"
	"sync"

	"github.com/hoangvantu/tchannel/tchannelutils"
)

// FrameHeaderSize is the fixed frame header length:
// size:4 id:4 type:1 flags:1 reserved:6.
const FrameHeaderSize = 16

// Frame is a typed frame body. Serialize appends the body encoding to the
// header's payload; Deserialize parses it back out.
type Frame interface {
	Type() FrameType
	Reset()
	Serialize(frh *FrameHeader)
	Deserialize(frh *FrameHeader) error
}

var frameHeaderPool = sync.Pool{
	New: func() interface{} {
		return &FrameHeader{}
	},
}

// FrameHeader is the 16 byte header plus the typed body of one frame.
//
// Use AcquireFrameHeader instead of creating FrameHeader every time
// if you are going to use FrameHeader as your own and ReleaseFrameHeader
// to delete the FrameHeader.
//
// FrameHeader instance MUST NOT be used from different goroutines.
type FrameHeader struct {
	size  uint32
	id    uint32
	kind  FrameType
	flags FrameFlags

	rawHeader [FrameHeaderSize]byte
	payload   []byte
	wbuf      []byte

	fr Frame
}

// AcquireFrameHeader gets a FrameHeader from pool.
func AcquireFrameHeader() *FrameHeader {
	frh := frameHeaderPool.Get().(*FrameHeader)
	frh.Reset()
	return frh
}

// ReleaseFrameHeader puts frh back to the pool, releasing the body if one
// is still attached. The header values are reset by AcquireFrameHeader.
func ReleaseFrameHeader(frh *FrameHeader) {
	if frh.fr != nil {
		ReleaseFrame(frh.fr)
		frh.fr = nil
	}

	frameHeaderPool.Put(frh)
}

// Reset resets header values.
func (frh *FrameHeader) Reset() {
	frh.size = 0
	frh.id = 0
	frh.kind = 0
	frh.flags = 0
	frh.fr = nil
	frh.payload = frh.payload[:0]
}

// Type returns the frame type.
func (frh *FrameHeader) Type() FrameType {
	return frh.kind
}

// ID returns the connection-scoped frame id.
func (frh *FrameHeader) ID() uint32 {
	return frh.id
}

// SetID sets the frame id.
func (frh *FrameHeader) SetID(id uint32) {
	frh.id = id
}

// Flags returns the flags byte.
func (frh *FrameHeader) Flags() FrameFlags {
	return frh.flags
}

// SetFlags sets the flags byte.
func (frh *FrameHeader) SetFlags(flags FrameFlags) {
	frh.flags = flags
}

// Body returns the typed body.
func (frh *FrameHeader) Body() Frame {
	return frh.fr
}

// SetBody attaches fr and adopts its type.
func (frh *FrameHeader) SetBody(fr Frame) {
	if fr == nil {
		panic("Body cannot be nil")
	}

	frh.kind = fr.Type()
	frh.fr = fr
}

// DetachBody hands ownership of the body to the caller, so releasing the
// header no longer releases it.
func (frh *FrameHeader) DetachBody() Frame {
	fr := frh.fr
	frh.fr = nil
	return fr
}

func (frh *FrameHeader) parseValues(header []byte) {
	frh.size = tchannelutils.BytesToUint32(header[0:4])  // 4
	frh.id = tchannelutils.BytesToUint32(header[4:8])    // 4
	frh.kind = FrameType(header[8])                      // 1
	frh.flags = FrameFlags(header[9])                    // 1
	// reserved 10..16 ignored on read
}

func (frh *FrameHeader) parseHeader(header []byte) {
	tchannelutils.Uint32ToBytes(header[0:4], frh.size)
	tchannelutils.Uint32ToBytes(header[4:8], frh.id)
	header[8] = byte(frh.kind)
	header[9] = byte(frh.flags)
	for i := 10; i < FrameHeaderSize; i++ {
		header[i] = 0
	}
}

func (frh *FrameHeader) setPayload(payload []byte) {
	frh.payload = append(frh.payload[:0], payload...)
}

// ParseFrame decodes one complete frame slice as produced by the chunk
// reader: header, body type lookup, body grammar, trailing-byte check.
// The returned header owns its body; release with ReleaseFrameHeader.
func ParseFrame(b []byte) (*FrameHeader, error) {
	if len(b) < FrameHeaderSize {
		return nil, ErrFrameTooShort
	}

	frh := AcquireFrameHeader()
	frh.parseValues(b)

	if frh.size < FrameHeaderSize {
		frameHeaderPool.Put(frh)
		return nil, ErrFrameTooShort
	}
	if int(frh.size) != len(b) {
		frameHeaderPool.Put(frh)
		return nil, ErrFrameSizeMismatch
	}

	fr := AcquireFrame(frh.kind)
	if fr == nil {
		kind := frh.kind
		frameHeaderPool.Put(frh)
		return nil, &InvalidFrameTypeError{Type: kind}
	}

	frh.setPayload(b[FrameHeaderSize:])
	frh.fr = fr

	if err := fr.Deserialize(frh); err != nil {
		ReleaseFrameHeader(frh)
		return nil, err
	}

	return frh, nil
}

// WriteTo serializes the attached body and writes the whole frame as a
// single contiguous write.
func (frh *FrameHeader) WriteTo(w io.Writer) (int64, error) {
	frh.payload = frh.payload[:0]
	frh.fr.Serialize(frh)

	frh.size = uint32(FrameHeaderSize + len(frh.payload))
	frh.parseHeader(frh.rawHeader[:])

	frh.wbuf = append(frh.wbuf[:0], frh.rawHeader[:]...)
	frh.wbuf = append(frh.wbuf, frh.payload...)

	n, err := w.Write(frh.wbuf)
	return int64(n), err
}

var (
	initRequestPool  = sync.Pool{New: func() interface{} { return &InitRequest{} }}
	initResponsePool = sync.Pool{New: func() interface{} { return &InitResponse{} }}
	callRequestPool  = sync.Pool{New: func() interface{} { return &CallRequest{} }}
	callResponsePool = sync.Pool{New: func() interface{} { return &CallResponse{} }}
	errorMessagePool = sync.Pool{New: func() interface{} { return &ErrorMessage{} }}
)

// AcquireFrame returns a pooled body for kind, or nil for an unknown
// frame type.
func AcquireFrame(kind FrameType) Frame {
	switch kind {
	case FrameTypeInitRequest:
		return initRequestPool.Get().(*InitRequest)
	case FrameTypeInitResponse:
		return initResponsePool.Get().(*InitResponse)
	case FrameTypeCallRequest:
		return callRequestPool.Get().(*CallRequest)
	case FrameTypeCallResponse:
		return callResponsePool.Get().(*CallResponse)
	case FrameTypeError:
		return errorMessagePool.Get().(*ErrorMessage)
	}

	return nil
}

// ReleaseFrame resets fr and puts it back to its pool.
func ReleaseFrame(fr Frame) {
	if fr == nil {
		return
	}

	fr.Reset()

	switch v := fr.(type) {
	case *InitRequest:
		initRequestPool.Put(v)
	case *InitResponse:
		initResponsePool.Put(v)
	case *CallRequest:
		callRequestPool.Put(v)
	case *CallResponse:
		callResponsePool.Put(v)
	case *ErrorMessage:
		errorMessagePool.Put(v)
	}
}
