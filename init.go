package tchannel

import (
	"fmt"

	"github.com/hoangvantu/tchannel/tchannelutils"
)

const (
	initHeaderHostPort    = "host_port"
	initHeaderProcessName = "process_name"
)

// initBody is the shared encoding of InitRequest and InitResponse:
// version:u16 then an nh-prefixed map of (hk~2 hv~2) pairs. Exactly the
// two required keys are written; reads accept the general form but
// reject unknown and duplicate keys.
type initBody struct {
	Version     uint16
	HostPort    string
	ProcessName string
}

func (b *initBody) reset() {
	b.Version = 0
	b.HostPort = ""
	b.ProcessName = ""
}

func (b *initBody) serialize(frh *FrameHeader) {
	p := frh.payload
	p = tchannelutils.AppendUint16Bytes(p, b.Version)
	p = tchannelutils.AppendUint16Bytes(p, 2)
	p = appendLen16Bytes(p, []byte(initHeaderHostPort))
	p = appendLen16Bytes(p, []byte(b.HostPort))
	p = appendLen16Bytes(p, []byte(initHeaderProcessName))
	p = appendLen16Bytes(p, []byte(b.ProcessName))
	frh.payload = p
}

func (b *initBody) deserialize(frh *FrameHeader, kind FrameType) error {
	cur := cursor{b: frh.payload}

	b.Version = cur.readUint16()
	nh := int(cur.readUint16())

	var hasHostPort, hasProcessName bool
	for i := 0; i < nh; i++ {
		key := cur.readLen16Bytes()
		val := cur.readLen16Bytes()
		if cur.err != nil {
			return cur.err
		}

		switch string(key) {
		case initHeaderHostPort:
			if hasHostPort {
				return fmt.Errorf("%w: %s", ErrDuplicateInitHeader, initHeaderHostPort)
			}
			hasHostPort = true
			b.HostPort = string(val)
		case initHeaderProcessName:
			if hasProcessName {
				return fmt.Errorf("%w: %s", ErrDuplicateInitHeader, initHeaderProcessName)
			}
			hasProcessName = true
			b.ProcessName = string(val)
		default:
			return fmt.Errorf("%w: %q", ErrUnknownInitHeader, key)
		}
	}

	if !hasHostPort {
		return fmt.Errorf("%w: %s", ErrMissingInitHeader, initHeaderHostPort)
	}
	if !hasProcessName {
		return fmt.Errorf("%w: %s", ErrMissingInitHeader, initHeaderProcessName)
	}

	return cur.expectEOF(kind)
}

var (
	_ Frame = &InitRequest{}
	_ Frame = &InitResponse{}
)

// InitRequest is the first frame on an outbound connection, sent with
// frame id 1 before any call traffic.
type InitRequest struct {
	initBody
}

func (fr *InitRequest) Type() FrameType {
	return FrameTypeInitRequest
}

func (fr *InitRequest) Reset() {
	fr.reset()
}

func (fr *InitRequest) Serialize(frh *FrameHeader) {
	fr.serialize(frh)
}

func (fr *InitRequest) Deserialize(frh *FrameHeader) error {
	return fr.deserialize(frh, FrameTypeInitRequest)
}

// InitResponse answers an InitRequest with the receiver's identity.
type InitResponse struct {
	initBody
}

func (fr *InitResponse) Type() FrameType {
	return FrameTypeInitResponse
}

func (fr *InitResponse) Reset() {
	fr.reset()
}

func (fr *InitResponse) Serialize(frh *FrameHeader) {
	fr.serialize(frh)
}

func (fr *InitResponse) Deserialize(frh *FrameHeader) error {
	return fr.deserialize(frh, FrameTypeInitResponse)
}
