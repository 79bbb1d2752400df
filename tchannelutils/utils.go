package tchannelutils

import (
	"github.com/valyala/fastrand"
)

func Uint16ToBytes(b []byte, n uint16) {
	_ = b[1] // bound checking
	b[0] = byte(n >> 8)
	b[1] = byte(n)
}

func BytesToUint16(b []byte) uint16 {
	_ = b[1] // bound checking
	return uint16(b[0])<<8 | uint16(b[1])
}

func Uint32ToBytes(b []byte, n uint32) {
	_ = b[3] // bound checking
	b[0] = byte(n >> 24)
	b[1] = byte(n >> 16)
	b[2] = byte(n >> 8)
	b[3] = byte(n)
}

func BytesToUint32(b []byte) uint32 {
	_ = b[3] // bound checking
	return uint32(b[0])<<24 |
		uint32(b[1])<<16 |
		uint32(b[2])<<8 |
		uint32(b[3])
}

func AppendUint16Bytes(dst []byte, n uint16) []byte {
	dst = append(dst, byte(n>>8))
	dst = append(dst, byte(n))
	return dst
}

func AppendUint32Bytes(dst []byte, n uint32) []byte {
	dst = append(dst, byte(n>>24))
	dst = append(dst, byte(n>>16))
	dst = append(dst, byte(n>>8))
	dst = append(dst, byte(n))
	return dst
}

func Resize(b []byte, neededLen int) []byte {
	b = b[:cap(b)]

	if n := neededLen - len(b); n > 0 {
		b = append(b, make([]byte, n)...)
	}

	return b[:neededLen]
}

// RandomBytes fills b with pseudo-random bytes. Not cryptographic.
func RandomBytes(b []byte) {
	for i := 0; i < len(b); i += 4 {
		n := fastrand.Uint32()
		for j := 0; j < 4 && i+j < len(b); j++ {
			b[i+j] = byte(n >> (8 * uint(j)))
		}
	}
}
