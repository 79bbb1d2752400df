package tchannel

import (
	"fmt"

	"github.com/hoangvantu/tchannel/tchannelutils"
)

// ChunkReaderState is the state of the framing FSM.
type ChunkReaderState int8

const (
	// ChunkStatePendingLength expects the frame length prefix.
	ChunkStatePendingLength ChunkReaderState = iota
	// ChunkStateSeeking expects the remainder of a sized frame.
	ChunkStateSeeking
)

func (s ChunkReaderState) String() string {
	switch s {
	case ChunkStatePendingLength:
		return "PendingLength"
	case ChunkStateSeeking:
		return "Seeking"
	}

	return "Unknown"
}

// ChunkReader turns a stream of byte chunks into discrete frames. The
// declared size counts the length prefix itself, so each emitted frame
// slice starts with the prefix.
//
// TChannel v2 uses a 4 byte prefix; widths of 1 and 2 are supported for
// generality.
type ChunkReader struct {
	buf       parseBuffer
	state     ChunkReaderState
	width     int
	expecting int

	emit func(frame []byte) error

	// ErrorHandler receives non-fatal framing reports such as zero
	// length frames. The reader resynchronizes and keeps going.
	ErrorHandler func(err error)
}

// NewChunkReader returns a reader with the TChannel 4 byte length prefix.
// emit receives each complete frame, length prefix included; a non-nil
// return aborts the current Feed.
func NewChunkReader(emit func(frame []byte) error) *ChunkReader {
	cr, _ := NewChunkReaderSize(4, emit)
	return cr
}

// NewChunkReaderSize is NewChunkReader with an explicit prefix width of
// 1, 2 or 4 bytes.
func NewChunkReaderSize(width int, emit func(frame []byte) error) (*ChunkReader, error) {
	switch width {
	case 1, 2, 4:
	default:
		return nil, fmt.Errorf("unsupported length prefix width %d", width)
	}

	return &ChunkReader{
		width:     width,
		expecting: width,
		emit:      emit,
	}, nil
}

// State returns the current FSM state.
func (cr *ChunkReader) State() ChunkReaderState {
	return cr.state
}

// Buffered returns the number of unconsumed bytes.
func (cr *ChunkReader) Buffered() int {
	return cr.buf.avail()
}

// Feed appends p and consumes as many frames as the buffer permits. The
// returned error is the one from emit, and is fatal to the stream.
func (cr *ChunkReader) Feed(p []byte) error {
	cr.buf.append(p)

	for {
		switch cr.state {
		case ChunkStatePendingLength:
			if cr.buf.avail() < cr.width {
				return nil
			}

			size := cr.peekLength()
			if size == 0 {
				cr.report(ErrZeroLengthFrame)
				if _, err := cr.buf.shift(cr.width); err != nil {
					return err
				}

				continue
			}

			cr.expecting = size
			cr.state = ChunkStateSeeking
		case ChunkStateSeeking:
			if cr.buf.avail() < cr.expecting {
				return nil
			}

			frame, err := cr.buf.shift(cr.expecting)
			if err != nil {
				return err
			}

			cr.expecting = cr.width
			cr.state = ChunkStatePendingLength

			if err := cr.emit(frame); err != nil {
				return err
			}
		}
	}
}

// Close signals end-of-stream. Nonzero residual bytes are a truncated
// read carrying the residual length and FSM state.
func (cr *ChunkReader) Close() error {
	if n := cr.buf.avail(); n > 0 {
		return &TruncatedReadError{Residual: n, State: cr.state}
	}

	return nil
}

func (cr *ChunkReader) peekLength() int {
	b := cr.buf.peek(0, cr.width)

	switch cr.width {
	case 1:
		return int(b[0])
	case 2:
		return int(tchannelutils.BytesToUint16(b))
	}

	return int(tchannelutils.BytesToUint32(b))
}

func (cr *ChunkReader) report(err error) {
	if cr.ErrorHandler != nil {
		cr.ErrorHandler(err)
	}
}
