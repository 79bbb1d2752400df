// Package tchannel implements the TChannel v2 framed RPC transport.
//
// A node is symmetric: the same Channel both accepts inbound connections
// and dials outbound ones. On every established link many in-flight
// request/response operations are multiplexed by a per-link frame id.
// Request and response payloads are opaque byte triples (arg1, arg2, arg3),
// conventionally (endpoint-name, application-headers, body).
package tchannel

// ProtocolVersion is the wire version carried in init frames.
const ProtocolVersion uint16 = 2

// FrameType identifies the body codec of a frame.
//
// Byteorder is big endian everywhere; values are unsigned unless
// otherwise indicated.
type FrameType uint8

const (
	FrameTypeInitRequest  FrameType = 0x01
	FrameTypeInitResponse FrameType = 0x02
	FrameTypeCallRequest  FrameType = 0x03
	FrameTypeCallResponse FrameType = 0x04
	FrameTypeError        FrameType = 0xFF
)

func (ft FrameType) String() string {
	switch ft {
	case FrameTypeInitRequest:
		return "InitRequest"
	case FrameTypeInitResponse:
		return "InitResponse"
	case FrameTypeCallRequest:
		return "CallRequest"
	case FrameTypeCallResponse:
		return "CallResponse"
	case FrameTypeError:
		return "Error"
	}

	return "Unknown"
}

// FrameFlags is the flags byte of the frame header.
type FrameFlags uint8

// FlagFragment marks a frame as one fragment of a larger message. The
// flag is carried through but fragmentation itself is not implemented.
const FlagFragment FrameFlags = 0x01

// Has returns boolean value indicating if flags has f.
func (flags FrameFlags) Has(f FrameFlags) bool {
	return (flags & f) == f
}

// Add adds f to flags.
func (flags FrameFlags) Add(f FrameFlags) FrameFlags {
	return flags | f
}

// ResponseCode is the code byte of a CallResponse (and of an Error frame).
type ResponseCode uint8

const (
	CodeOK                   ResponseCode = 0x00
	CodeTimeout              ResponseCode = 0x01
	CodeCancelled            ResponseCode = 0x02
	CodeBusy                 ResponseCode = 0x03
	CodeSocketErrorNoRetries ResponseCode = 0x04
	CodeSocketError          ResponseCode = 0x05
	CodeAppException         ResponseCode = 0x06
)

func (rc ResponseCode) String() string {
	switch rc {
	case CodeOK:
		return "OK"
	case CodeTimeout:
		return "Timeout"
	case CodeCancelled:
		return "Cancelled"
	case CodeBusy:
		return "Busy"
	case CodeSocketErrorNoRetries:
		return "SocketErrorNoRetries"
	case CodeSocketError:
		return "SocketError"
	case CodeAppException:
		return "AppException"
	}

	return "Unknown"
}
