package tchannel

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/hoangvantu/tchannel/tchannelutils"
)

func frameBytes(t *testing.T, id uint32, fr Frame) []byte {
	t.Helper()

	frh := AcquireFrameHeader()
	frh.SetID(id)
	frh.SetBody(fr)

	var bf bytes.Buffer
	if _, err := frh.WriteTo(&bf); err != nil {
		t.Fatal(err)
	}

	frh.DetachBody()
	ReleaseFrameHeader(frh)

	return bf.Bytes()
}

func testStream(t *testing.T) ([]byte, int) {
	t.Helper()

	initReq := &InitRequest{}
	initReq.Version = ProtocolVersion
	initReq.HostPort = "127.0.0.1:4040"
	initReq.ProcessName = "A[1]"

	initRes := &InitResponse{}
	initRes.Version = ProtocolVersion
	initRes.HostPort = "127.0.0.1:4041"
	initRes.ProcessName = "B[1]"

	callReq := &CallRequest{TTL: 1000}
	callReq.Service = []byte("svc")
	callReq.ChecksumType = ChecksumTypeCrc32
	callReq.Arg1 = []byte("echo")
	callReq.Arg2 = []byte("h")
	callReq.Arg3 = []byte("hello")

	callRes := &CallResponse{Code: CodeOK}
	callRes.ChecksumType = ChecksumTypeCrc32
	callRes.Arg1 = []byte("echo")
	callRes.Arg2 = []byte("h")
	callRes.Arg3 = []byte("hello")

	var stream []byte
	stream = append(stream, frameBytes(t, 1, initReq)...)
	stream = append(stream, frameBytes(t, 1, initRes)...)
	stream = append(stream, frameBytes(t, 2, callReq)...)
	stream = append(stream, frameBytes(t, 2, callRes)...)

	return stream, 4
}

func collectFrames(t *testing.T, feed func(cr *ChunkReader)) [][]byte {
	t.Helper()

	var frames [][]byte
	cr := NewChunkReader(func(frame []byte) error {
		frames = append(frames, append([]byte(nil), frame...))
		return nil
	})

	feed(cr)
	return frames
}

// Any partition of the same byte stream must yield the identical frame
// sequence.
func TestChunkReaderPartitionInvariance(t *testing.T) {
	stream, want := testStream(t)

	allAtOnce := collectFrames(t, func(cr *ChunkReader) {
		if err := cr.Feed(stream); err != nil {
			t.Fatal(err)
		}
		if err := cr.Close(); err != nil {
			t.Fatal(err)
		}
	})
	if len(allAtOnce) != want {
		t.Fatalf("unexpected frame count %d <> %d", len(allAtOnce), want)
	}

	oneByte := collectFrames(t, func(cr *ChunkReader) {
		for i := range stream {
			if err := cr.Feed(stream[i : i+1]); err != nil {
				t.Fatal(err)
			}
		}
		if err := cr.Close(); err != nil {
			t.Fatal(err)
		}
	})

	rng := rand.New(rand.NewSource(42))
	random := collectFrames(t, func(cr *ChunkReader) {
		rest := stream
		for len(rest) > 0 {
			n := 1 + rng.Intn(len(rest))
			if err := cr.Feed(rest[:n]); err != nil {
				t.Fatal(err)
			}
			rest = rest[n:]
		}
		if err := cr.Close(); err != nil {
			t.Fatal(err)
		}
	})

	for i := 0; i < want; i++ {
		if !bytes.Equal(allAtOnce[i], oneByte[i]) {
			t.Fatalf("frame %d differs between all-at-once and one-byte feeds", i)
		}
		if !bytes.Equal(allAtOnce[i], random[i]) {
			t.Fatalf("frame %d differs between all-at-once and random feeds", i)
		}
	}
}

func TestChunkReaderZeroLengthFrame(t *testing.T) {
	stream, want := testStream(t)
	stream = append([]byte{0, 0, 0, 0}, stream...)

	var reports []error
	var frames int

	cr := NewChunkReader(func(frame []byte) error {
		frames++
		return nil
	})
	cr.ErrorHandler = func(err error) {
		reports = append(reports, err)
	}

	if err := cr.Feed(stream); err != nil {
		t.Fatal(err)
	}
	if err := cr.Close(); err != nil {
		t.Fatal(err)
	}

	if len(reports) != 1 || reports[0] != ErrZeroLengthFrame {
		t.Fatalf("unexpected reports %v", reports)
	}
	if frames != want {
		t.Fatalf("unexpected frame count %d <> %d", frames, want)
	}
}

func TestChunkReaderTruncatedRead(t *testing.T) {
	stream, _ := testStream(t)

	cr := NewChunkReader(func(frame []byte) error { return nil })
	if err := cr.Feed(stream[:len(stream)-3]); err != nil {
		t.Fatal(err)
	}

	err := cr.Close()
	tre, ok := err.(*TruncatedReadError)
	if !ok {
		t.Fatalf("unexpected error %v", err)
	}
	if tre.Residual == 0 {
		t.Fatal("expected nonzero residual")
	}
	if tre.State != ChunkStateSeeking {
		t.Fatalf("unexpected state %s <> Seeking", tre.State)
	}
}

func TestChunkReaderSmallWidths(t *testing.T) {
	for _, width := range []int{1, 2} {
		var frames [][]byte
		cr, err := NewChunkReaderSize(width, func(frame []byte) error {
			frames = append(frames, append([]byte(nil), frame...))
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}

		// one frame: prefix + 3 payload bytes, size counts the prefix
		var stream []byte
		switch width {
		case 1:
			stream = []byte{4, 'a', 'b', 'c'}
		case 2:
			stream = append(tchannelutils.AppendUint16Bytes(nil, 5), 'a', 'b', 'c')
		}

		if err := cr.Feed(stream); err != nil {
			t.Fatal(err)
		}
		if len(frames) != 1 {
			t.Fatalf("width %d: unexpected frame count %d <> 1", width, len(frames))
		}
		if !bytes.Equal(frames[0], stream) {
			t.Fatalf("width %d: mismatch %x <> %x", width, frames[0], stream)
		}
	}

	if _, err := NewChunkReaderSize(3, func([]byte) error { return nil }); err == nil {
		t.Fatal("expected error for width 3")
	}
}
