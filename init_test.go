package tchannel

import (
	"errors"
	"testing"

	"github.com/hoangvantu/tchannel/tchannelutils"
)

func initPayload(version uint16, pairs ...string) []byte {
	var p []byte
	p = tchannelutils.AppendUint16Bytes(p, version)
	p = tchannelutils.AppendUint16Bytes(p, uint16(len(pairs)/2))
	for _, s := range pairs {
		p = appendLen16Bytes(p, []byte(s))
	}

	return p
}

func decodeInit(p []byte) (*InitRequest, error) {
	frh := &FrameHeader{payload: p}
	body := &InitRequest{}
	return body, body.Deserialize(frh)
}

func TestInitDecodeGeneralForm(t *testing.T) {
	// keys in either order are accepted
	body, err := decodeInit(initPayload(2,
		"process_name", "B[1]",
		"host_port", "127.0.0.1:4041",
	))
	if err != nil {
		t.Fatal(err)
	}
	if body.Version != 2 || body.HostPort != "127.0.0.1:4041" || body.ProcessName != "B[1]" {
		t.Fatalf("mismatch %+v", body.initBody)
	}
}

func TestInitDecodeMissingHeader(t *testing.T) {
	_, err := decodeInit(initPayload(2, "host_port", "127.0.0.1:4041"))
	if !errors.Is(err, ErrMissingInitHeader) {
		t.Fatalf("unexpected error %v", err)
	}

	_, err = decodeInit(initPayload(2, "process_name", "B[1]"))
	if !errors.Is(err, ErrMissingInitHeader) {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestInitDecodeDuplicateHeader(t *testing.T) {
	_, err := decodeInit(initPayload(2,
		"host_port", "127.0.0.1:4041",
		"host_port", "127.0.0.1:4042",
	))
	if !errors.Is(err, ErrDuplicateInitHeader) {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestInitDecodeUnknownHeader(t *testing.T) {
	_, err := decodeInit(initPayload(2,
		"host_port", "127.0.0.1:4041",
		"process_name", "B[1]",
		"tls", "yes",
	))
	if !errors.Is(err, ErrUnknownInitHeader) {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestInitDecodeShortBody(t *testing.T) {
	p := initPayload(2, "host_port", "127.0.0.1:4041", "process_name", "B[1]")

	_, err := decodeInit(p[:len(p)-2])
	if !errors.Is(err, ErrShortRead) {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestInitWriteEmitsExactlyRequiredKeys(t *testing.T) {
	req := &InitRequest{}
	req.Version = ProtocolVersion
	req.HostPort = "127.0.0.1:4040"
	req.ProcessName = "A[1]"

	frh := &FrameHeader{}
	req.Serialize(frh)

	cur := cursor{b: frh.payload}
	if v := cur.readUint16(); v != ProtocolVersion {
		t.Fatalf("unexpected version %d", v)
	}
	if nh := cur.readUint16(); nh != 2 {
		t.Fatalf("unexpected header count %d <> 2", nh)
	}
	if k := cur.readLen16Bytes(); string(k) != "host_port" {
		t.Fatalf("unexpected first key %q", k)
	}
	if v := cur.readLen16Bytes(); string(v) != "127.0.0.1:4040" {
		t.Fatalf("unexpected host_port %q", v)
	}
	if k := cur.readLen16Bytes(); string(k) != "process_name" {
		t.Fatalf("unexpected second key %q", k)
	}
	if v := cur.readLen16Bytes(); string(v) != "A[1]" {
		t.Fatalf("unexpected process_name %q", v)
	}
	if cur.remaining() != 0 {
		t.Fatalf("unexpected trailing bytes %d", cur.remaining())
	}
}
