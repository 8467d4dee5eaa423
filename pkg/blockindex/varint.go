package blockindex

import (
	"io"

	"github.com/richochetclementine1315/btc-datadir/pkg/errs"
)

// ReadCoreVarInt decodes Bitcoin Core's internal CVarInt format (serialize.h
// ReadVarInt), which is NOT the wire-format CompactSize. The same
// byte-for-byte encoding backs rev*.dat undo data and every block-index
// record field decoded here.
//
// Each byte contributes its low 7 bits, most-significant byte first; a set
// top bit means "more bytes follow", and every continuation byte adds 1 to
// the accumulator before the next shift.
func ReadCoreVarInt(r io.ByteReader) (uint64, error) {
	var n uint64
	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0, errs.Io("reading core varint", err)
		}
		n = (n << 7) | uint64(b&0x7f)
		if b&0x80 == 0 {
			return n, nil
		}
		n++
	}
}
