// Package blockfile discovers the numbered blkNNNNN.dat files under a
// node's blocks/ directory and serves random-access reads of blocks and
// transactions from them, with the optional xor.dat transform applied
// underneath.
package blockfile

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/btcsuite/btcd/wire"

	"github.com/richochetclementine1315/btc-datadir/pkg/errs"
)

var blkFileRE = regexp.MustCompile(`^blk(\d+)\.dat$`)

// ParseBlkIndex extracts the numeric index from a blkNNNNN.dat filename.
// Returns (n, true) for names of that exact shape, (0, false) otherwise.
func ParseBlkIndex(name string) (int32, bool) {
	m := blkFileRE.FindStringSubmatch(name)
	if m == nil {
		return 0, false
	}
	n, err := strconv.ParseInt(m[1], 10, 32)
	if err != nil {
		return 0, false
	}
	return int32(n), true
}

// Index discovers and addresses the blk*.dat files under a blocks/
// directory, and holds the XOR mask read from blocks/xor.dat, if present.
type Index struct {
	dir   string
	files map[int32]string
	mask  *[XorMaskLen]byte
}

// Open scans blocksDir for blkNNNNN.dat files and reads xor.dat if present.
func Open(blocksDir string) (*Index, error) {
	mask, err := readXorMask(blocksDir)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(blocksDir)
	if err != nil {
		return nil, errs.Io("reading blocks directory", err)
	}

	files := make(map[int32]string)
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}
		// Resolve symlinks once, up front.
		path := filepath.Join(blocksDir, entry.Name())
		if info.Mode()&os.ModeSymlink != 0 {
			resolved, err := filepath.EvalSymlinks(path)
			if err != nil {
				continue
			}
			path = resolved
			info, err = os.Stat(path)
			if err != nil {
				continue
			}
		}
		if !info.Mode().IsRegular() {
			continue
		}
		n, ok := ParseBlkIndex(entry.Name())
		if !ok {
			continue
		}
		files[n] = path
	}

	if len(files) == 0 {
		return nil, errs.ErrEmptyBlockFiles
	}

	return &Index{dir: blocksDir, files: files, mask: mask}, nil
}

func readXorMask(blocksDir string) (*[XorMaskLen]byte, error) {
	path := filepath.Join(blocksDir, "xor.dat")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Absence is not an error: identity transform.
			return nil, nil
		}
		return nil, errs.Io("reading xor.dat", err)
	}
	if len(data) != XorMaskLen {
		return nil, fmt.Errorf("%w: xor.dat must be exactly %d bytes, got %d", errs.ErrDecode, XorMaskLen, len(data))
	}
	var mask [XorMaskLen]byte
	copy(mask[:], data)
	return &mask, nil
}

func (idx *Index) path(fileIndex int32) (string, error) {
	p, ok := idx.files[fileIndex]
	if !ok {
		return "", errs.BlockFileNotFound(fileIndex)
	}
	return p, nil
}

func (idx *Index) openXor(fileIndex int32) (*XorReader, *os.File, error) {
	path, err := idx.path(fileIndex)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, errs.Io(fmt.Sprintf("opening %s", path), err)
	}
	return NewXorReader(f, idx.mask), f, nil
}

// ReadRawBlock returns the raw consensus-encoded bytes of the block whose
// size-prefixed record begins at dataPos-4 in file fileIndex.
func (idx *Index) ReadRawBlock(fileIndex int32, dataPos uint32) ([]byte, error) {
	r, f, err := idx.openXor(fileIndex)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if _, err := r.Seek(int64(dataPos)-4, io.SeekStart); err != nil {
		return nil, errs.Io("seeking to block size prefix", err)
	}

	var sizeBuf [4]byte
	if err := r.ReadFull(sizeBuf[:]); err != nil {
		return nil, errs.Io("reading block size prefix", err)
	}
	size := binary.LittleEndian.Uint32(sizeBuf[:])

	raw := make([]byte, size)
	if err := r.ReadFull(raw); err != nil {
		return nil, errs.Io("reading raw block bytes", err)
	}
	return raw, nil
}

// ReadBlock reads and consensus-decodes the block at (fileIndex, dataPos).
func (idx *Index) ReadBlock(fileIndex int32, dataPos uint32) (*wire.MsgBlock, error) {
	raw, err := idx.ReadRawBlock(fileIndex, dataPos)
	if err != nil {
		return nil, err
	}
	block := wire.MsgBlock{}
	if err := block.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, errs.Decode("decoding block", err)
	}
	return &block, nil
}

// ReadTransaction decodes a single transaction at byte offset txOffset past
// the 80-byte header of the block at (fileIndex, dataPos). It does not
// verify that dataPos belongs to a known block; callers are responsible.
func (idx *Index) ReadTransaction(fileIndex int32, dataPos uint32, txOffset uint32) (*wire.MsgTx, error) {
	r, f, err := idx.openXor(fileIndex)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	const headerLen = 80
	if _, err := r.Seek(int64(dataPos)+int64(txOffset)+headerLen, io.SeekStart); err != nil {
		return nil, errs.Io("seeking to transaction", err)
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	if err := tx.Deserialize(r); err != nil {
		return nil, errs.Decode("decoding transaction", err)
	}
	return tx, nil
}
