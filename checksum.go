package tchannel

import (
	"fmt"
	"hash/crc32"

	farm "github.com/dgryski/go-farm"
)

// ChecksumType is the pluggable checksum algorithm id carried in call
// bodies.
type ChecksumType uint8

const (
	ChecksumTypeNone       ChecksumType = 0x00
	ChecksumTypeCrc32      ChecksumType = 0x01
	ChecksumTypeFarmhash32 ChecksumType = 0x02
)

func (ct ChecksumType) String() string {
	switch ct {
	case ChecksumTypeNone:
		return "none"
	case ChecksumTypeCrc32:
		return "crc32"
	case ChecksumTypeFarmhash32:
		return "farmhash32"
	}

	return "unknown"
}

// Size returns the on-wire length of the csum field.
func (ct ChecksumType) Size() int {
	if ct == ChecksumTypeNone {
		return 0
	}

	return 4
}

// New returns a fresh checksum state for ct, or nil for an unknown id.
func (ct ChecksumType) New() Checksum {
	switch ct {
	case ChecksumTypeNone:
		return noneChecksum{}
	case ChecksumTypeCrc32:
		return &crc32Checksum{}
	case ChecksumTypeFarmhash32:
		return &farm32Checksum{}
	}

	return nil
}

// Checksum computes payload integrity over the concatenated call args.
type Checksum interface {
	TypeID() ChecksumType
	Add(b []byte)
	Sum() uint32
}

type noneChecksum struct{}

func (noneChecksum) TypeID() ChecksumType { return ChecksumTypeNone }
func (noneChecksum) Add([]byte)           {}
func (noneChecksum) Sum() uint32          { return 0 }

type crc32Checksum struct {
	sum uint32
}

func (cs *crc32Checksum) TypeID() ChecksumType { return ChecksumTypeCrc32 }

func (cs *crc32Checksum) Add(b []byte) {
	cs.sum = crc32.Update(cs.sum, crc32.IEEETable, b)
}

func (cs *crc32Checksum) Sum() uint32 { return cs.sum }

// farm32Checksum buffers its input: farmhash is not incremental.
type farm32Checksum struct {
	buf []byte
}

func (cs *farm32Checksum) TypeID() ChecksumType { return ChecksumTypeFarmhash32 }

func (cs *farm32Checksum) Add(b []byte) {
	cs.buf = append(cs.buf, b...)
}

func (cs *farm32Checksum) Sum() uint32 {
	return farm.Hash32(cs.buf)
}

func checksumOf(ct ChecksumType, args ...[]byte) (uint32, error) {
	cs := ct.New()
	if cs == nil {
		return 0, fmt.Errorf("%w: 0x%02x", ErrUnknownChecksumType, uint8(ct))
	}

	for _, a := range args {
		cs.Add(a)
	}

	return cs.Sum(), nil
}

func verifyChecksum(ct ChecksumType, want uint32, args ...[]byte) error {
	if ct == ChecksumTypeNone {
		return nil
	}

	got, err := checksumOf(ct, args...)
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("%w: %s computed %08x, frame carries %08x", ErrChecksumMismatch, ct, got, want)
	}

	return nil
}
