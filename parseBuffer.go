package tchannel

// parseBuffer is an append-and-consume byte queue. Appended chunks are
// copied and kept in a list with a read cursor, so concatenation stays
// amortized O(1) over appended bytes.
type parseBuffer struct {
	chunks  [][]byte
	off     int // consumed bytes of chunks[0]
	size    int // unconsumed bytes across all chunks
	scratch []byte
}

func (pb *parseBuffer) append(p []byte) {
	if len(p) == 0 {
		return
	}

	pb.chunks = append(pb.chunks, append([]byte(nil), p...))
	pb.size += len(p)
}

func (pb *parseBuffer) avail() int {
	return pb.size
}

// peek returns n bytes starting at offset off without consuming them, or
// nil if fewer are buffered. The returned slice is only valid until the
// next shift or peek.
func (pb *parseBuffer) peek(off, n int) []byte {
	if n <= 0 || off < 0 || off+n > pb.size {
		return nil
	}

	ci, rel := 0, pb.off+off
	for rel >= len(pb.chunks[ci]) {
		rel -= len(pb.chunks[ci])
		ci++
	}

	if len(pb.chunks[ci])-rel >= n {
		return pb.chunks[ci][rel : rel+n]
	}

	pb.scratch = pb.scratch[:0]
	for n > 0 {
		c := pb.chunks[ci]
		take := len(c) - rel
		if take > n {
			take = n
		}

		pb.scratch = append(pb.scratch, c[rel:rel+take]...)
		n -= take
		rel = 0
		ci++
	}

	return pb.scratch
}

// shift consumes and returns exactly n bytes. Callers must gate on
// avail() >= n; shifting past the end is a broken-state signal.
func (pb *parseBuffer) shift(n int) ([]byte, error) {
	if n > pb.size {
		return nil, ErrBrokenReaderState
	}
	if n <= 0 {
		return nil, nil
	}

	first := pb.chunks[0]
	if len(first)-pb.off >= n {
		out := first[pb.off : pb.off+n]
		pb.off += n
		pb.size -= n
		if pb.off == len(first) {
			pb.chunks = pb.chunks[1:]
			pb.off = 0
		}

		return out, nil
	}

	out := make([]byte, 0, n)
	for n > 0 {
		c := pb.chunks[0]
		take := len(c) - pb.off
		if take > n {
			take = n
		}

		out = append(out, c[pb.off:pb.off+take]...)
		pb.off += take
		pb.size -= take
		n -= take

		if pb.off == len(c) {
			pb.chunks = pb.chunks[1:]
			pb.off = 0
		}
	}

	return out, nil
}
