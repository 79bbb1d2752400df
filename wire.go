package tchannel

import (
	"github.com/hoangvantu/tchannel/tchannelutils"
)

// cursor walks a frame payload applying the ~k grammar: a k byte big
// endian length prefix followed by that many raw bytes. The first short
// read sticks in err; callers check it once after parsing.
type cursor struct {
	b   []byte
	off int
	err error
}

func (c *cursor) fail() {
	if c.err == nil {
		c.err = ErrShortRead
	}
}

func (c *cursor) remaining() int {
	return len(c.b) - c.off
}

func (c *cursor) readByte() byte {
	if c.remaining() < 1 {
		c.fail()
		return 0
	}

	v := c.b[c.off]
	c.off++
	return v
}

func (c *cursor) readUint16() uint16 {
	if c.remaining() < 2 {
		c.fail()
		return 0
	}

	v := tchannelutils.BytesToUint16(c.b[c.off:])
	c.off += 2
	return v
}

func (c *cursor) readUint32() uint32 {
	if c.remaining() < 4 {
		c.fail()
		return 0
	}

	v := tchannelutils.BytesToUint32(c.b[c.off:])
	c.off += 4
	return v
}

func (c *cursor) read(n int) []byte {
	if n < 0 || c.remaining() < n {
		c.fail()
		return nil
	}

	v := c.b[c.off : c.off+n]
	c.off += n
	return v
}

func (c *cursor) readLen8Bytes() []byte {
	return c.read(int(c.readByte()))
}

func (c *cursor) readLen16Bytes() []byte {
	return c.read(int(c.readUint16()))
}

// expectEOF enforces that the body grammar consumed the whole payload.
func (c *cursor) expectEOF(kind FrameType) error {
	if c.err != nil {
		return c.err
	}
	if n := c.remaining(); n > 0 {
		return &ExtraFrameDataError{Type: kind, Trailing: n}
	}

	return nil
}

func appendLen8Bytes(dst, b []byte) []byte {
	dst = append(dst, byte(len(b)))
	return append(dst, b...)
}

func appendLen16Bytes(dst, b []byte) []byte {
	dst = tchannelutils.AppendUint16Bytes(dst, uint16(len(b)))
	return append(dst, b...)
}
