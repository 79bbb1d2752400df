package tchannel

import (
	"bytes"
	"fmt"

	"github.com/hoangvantu/tchannel/tchannelutils"
)

// TracingSize is the length of the opaque tracing field.
const TracingSize = 24

// CallHeader is one ordered transport header pair.
type CallHeader struct {
	Key   []byte
	Value []byte
}

// callArgs is the grammar shared by CallRequest and CallResponse:
// headers nh:1 (hk~1 hv~1){nh}, then arg1~2 arg2~2 arg3~2, then
// csumtype:1 and csum:4 iff the type is not none.
//
// Deserialized byte fields are copies owned by the body, so a detached
// body stays valid after the frame header is released.
type callArgs struct {
	Headers      []CallHeader
	Arg1         []byte
	Arg2         []byte
	Arg3         []byte
	ChecksumType ChecksumType
}

func (ca *callArgs) reset() {
	ca.Headers = ca.Headers[:0]
	ca.Arg1 = ca.Arg1[:0]
	ca.Arg2 = ca.Arg2[:0]
	ca.Arg3 = ca.Arg3[:0]
	ca.ChecksumType = ChecksumTypeNone
}

func (ca *callArgs) serialize(p []byte) []byte {
	p = append(p, byte(len(ca.Headers)))
	for _, h := range ca.Headers {
		p = appendLen8Bytes(p, h.Key)
		p = appendLen8Bytes(p, h.Value)
	}

	p = appendLen16Bytes(p, ca.Arg1)
	p = appendLen16Bytes(p, ca.Arg2)
	p = appendLen16Bytes(p, ca.Arg3)

	p = append(p, byte(ca.ChecksumType))
	if ca.ChecksumType != ChecksumTypeNone {
		// encode side always agrees with its own args
		sum, _ := checksumOf(ca.ChecksumType, ca.Arg1, ca.Arg2, ca.Arg3)
		p = tchannelutils.AppendUint32Bytes(p, sum)
	}

	return p
}

func (ca *callArgs) deserialize(cur *cursor) error {
	nh := int(cur.readByte())
	ca.Headers = ca.Headers[:0]
	for i := 0; i < nh; i++ {
		k := cur.readLen8Bytes()
		v := cur.readLen8Bytes()
		if cur.err != nil {
			return cur.err
		}

		for _, h := range ca.Headers {
			if bytes.Equal(h.Key, k) {
				return fmt.Errorf("%w: %q", ErrDuplicateCallHeader, k)
			}
		}

		ca.Headers = append(ca.Headers, CallHeader{
			Key:   append([]byte(nil), k...),
			Value: append([]byte(nil), v...),
		})
	}

	ca.Arg1 = append(ca.Arg1[:0], cur.readLen16Bytes()...)
	ca.Arg2 = append(ca.Arg2[:0], cur.readLen16Bytes()...)
	ca.Arg3 = append(ca.Arg3[:0], cur.readLen16Bytes()...)

	ca.ChecksumType = ChecksumType(cur.readByte())
	var sum uint32
	if cur.err == nil && ca.ChecksumType != ChecksumTypeNone {
		sum = cur.readUint32()
	}
	if cur.err != nil {
		return cur.err
	}

	return verifyChecksum(ca.ChecksumType, sum, ca.Arg1, ca.Arg2, ca.Arg3)
}

var (
	_ Frame = &CallRequest{}
	_ Frame = &CallResponse{}
)

// CallRequest asks the remote peer to run the endpoint named by Arg1.
type CallRequest struct {
	TTL     uint32 // milliseconds
	Tracing [TracingSize]byte
	Service []byte

	callArgs
}

func (fr *CallRequest) Type() FrameType {
	return FrameTypeCallRequest
}

func (fr *CallRequest) Reset() {
	fr.TTL = 0
	for i := range fr.Tracing {
		fr.Tracing[i] = 0
	}
	fr.Service = fr.Service[:0]
	fr.callArgs.reset()
}

func (fr *CallRequest) Serialize(frh *FrameHeader) {
	p := frh.payload
	p = tchannelutils.AppendUint32Bytes(p, fr.TTL)
	p = append(p, fr.Tracing[:]...)
	p = appendLen16Bytes(p, fr.Service)
	p = fr.callArgs.serialize(p)
	frh.payload = p
}

func (fr *CallRequest) Deserialize(frh *FrameHeader) error {
	cur := cursor{b: frh.payload}

	fr.TTL = cur.readUint32()
	copy(fr.Tracing[:], cur.read(TracingSize))
	fr.Service = append(fr.Service[:0], cur.readLen16Bytes()...)
	if cur.err != nil {
		return cur.err
	}

	if err := fr.callArgs.deserialize(&cur); err != nil {
		return err
	}

	return cur.expectEOF(FrameTypeCallRequest)
}

// CallResponse completes a CallRequest with the same frame id.
type CallResponse struct {
	Code ResponseCode

	callArgs
}

func (fr *CallResponse) Type() FrameType {
	return FrameTypeCallResponse
}

func (fr *CallResponse) Reset() {
	fr.Code = CodeOK
	fr.callArgs.reset()
}

func (fr *CallResponse) Serialize(frh *FrameHeader) {
	p := frh.payload
	p = append(p, byte(fr.Code))
	p = fr.callArgs.serialize(p)
	frh.payload = p
}

func (fr *CallResponse) Deserialize(frh *FrameHeader) error {
	cur := cursor{b: frh.payload}

	fr.Code = ResponseCode(cur.readByte())
	if cur.err != nil {
		return cur.err
	}

	if err := fr.callArgs.deserialize(&cur); err != nil {
		return err
	}

	return cur.expectEOF(FrameTypeCallResponse)
}
