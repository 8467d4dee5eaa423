// Package utils holds the small decode helpers undo-file parsing needs that
// aren't already covered by github.com/btcsuite/btcd/wire or
// pkg/blockindex's core-varint reader.
package utils

import (
	"encoding/binary"
	"io"
)

// ReadCompactSize reads a Bitcoin Core CompactSize (vector-length prefix),
// the format rev*.dat uses for its num_tx_undos/num_inputs counts.
func ReadCompactSize(r io.Reader) (uint64, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}

	switch b[0] {
	case 0xfd:
		var v uint16
		if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
			return 0, err
		}
		return uint64(v), nil
	case 0xfe:
		var v uint32
		if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
			return 0, err
		}
		return uint64(v), nil
	case 0xff:
		var v uint64
		if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
			return 0, err
		}
		return v, nil
	default:
		return uint64(b[0]), nil
	}
}

// DecompressAmount reverses Bitcoin Core's compressed-satoshi-amount
// encoding used in undo records (serialize.h's DecompressAmount):
//
//	n=0 -> 0 satoshis
//	n>0: x = n-1; e = x%10; x /= 10
//	  if e<9: d = (x%9)+1; x /= 9; result = (x*10 + d) * 10^e
//	  if e==9: result = (x+1) * 10^9
func DecompressAmount(x uint64) int64 {
	if x == 0 {
		return 0
	}
	x--
	e := x % 10
	x /= 10
	var n uint64
	if e < 9 {
		d := x%9 + 1
		x /= 9
		n = x*10 + d
		for i := uint64(0); i < e; i++ {
			n *= 10
		}
	} else {
		n = x + 1
		for i := uint64(0); i < 9; i++ {
			n *= 10
		}
	}
	return int64(n)
}
