package tchannel

import (
	"errors"
	"testing"
)

func encodeCallRequest(req *CallRequest) []byte {
	frh := &FrameHeader{}
	req.Serialize(frh)
	return frh.payload
}

func TestCallRequestDuplicateHeaderRejected(t *testing.T) {
	req := &CallRequest{TTL: 100}
	req.Headers = []CallHeader{
		{Key: []byte("as"), Value: []byte("raw")},
		{Key: []byte("as"), Value: []byte("json")},
	}
	req.ChecksumType = ChecksumTypeNone

	p := encodeCallRequest(req)

	got := &CallRequest{}
	err := got.Deserialize(&FrameHeader{payload: p})
	if !errors.Is(err, ErrDuplicateCallHeader) {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestCallRequestChecksumCorruption(t *testing.T) {
	req := &CallRequest{TTL: 100}
	req.ChecksumType = ChecksumTypeCrc32
	req.Arg1 = []byte("endpoint")
	req.Arg2 = []byte("head")
	req.Arg3 = []byte("body")

	p := encodeCallRequest(req)

	// flip one byte inside arg3
	p[len(p)-6] ^= 0xFF

	got := &CallRequest{}
	err := got.Deserialize(&FrameHeader{payload: p})
	if !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestCallRequestShortBody(t *testing.T) {
	req := &CallRequest{TTL: 100}
	req.ChecksumType = ChecksumTypeNone
	req.Arg3 = []byte("body")

	p := encodeCallRequest(req)

	got := &CallRequest{}
	err := got.Deserialize(&FrameHeader{payload: p[:len(p)-2]})
	if !errors.Is(err, ErrShortRead) {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestCallRequestUnknownChecksumTypeRejected(t *testing.T) {
	req := &CallRequest{TTL: 100}
	req.ChecksumType = ChecksumTypeNone

	p := encodeCallRequest(req)
	p[len(p)-1] = 0x77 // overwrite csumtype

	got := &CallRequest{}
	err := got.Deserialize(&FrameHeader{payload: p})
	if !errors.Is(err, ErrShortRead) && !errors.Is(err, ErrUnknownChecksumType) {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestCallResponseEmptyArgsRoundTrip(t *testing.T) {
	res := &CallResponse{Code: CodeOK}
	res.ChecksumType = ChecksumTypeNone

	frh := &FrameHeader{}
	res.Serialize(frh)

	got := &CallResponse{}
	if err := got.Deserialize(&FrameHeader{payload: frh.payload}); err != nil {
		t.Fatal(err)
	}
	if got.Code != CodeOK || len(got.Arg1) != 0 || len(got.Headers) != 0 {
		t.Fatalf("mismatch %+v", got)
	}
}

func TestDeserializedArgsAreCopies(t *testing.T) {
	req := &CallRequest{TTL: 100}
	req.ChecksumType = ChecksumTypeNone
	req.Arg1 = []byte("endpoint")

	p := encodeCallRequest(req)

	got := &CallRequest{}
	if err := got.Deserialize(&FrameHeader{payload: p}); err != nil {
		t.Fatal(err)
	}

	// mutating the source payload must not change the decoded body
	for i := range p {
		p[i] = 0xFF
	}
	if string(got.Arg1) != "endpoint" {
		t.Fatalf("decoded arg aliases the frame payload: %q", got.Arg1)
	}
}
