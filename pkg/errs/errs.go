// Package errs defines the caller-visible error kinds of the datadir reader.
package errs

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Sentinel kinds, usable with errors.Is against a wrapped error chain.
var (
	ErrDataDirMissing    = errors.New("data directory missing")
	ErrEmptyBlockFiles   = errors.New("no blk*.dat files found")
	ErrBlockFileNotFound = errors.New("block file not found")

	ErrBlockIndexRecordNotFound = errors.New("block index record not found")
	ErrBlockHashNotFound        = errors.New("block hash not found")

	ErrTxDbUnavailable              = errors.New("transaction index not open")
	ErrTransactionRecordNotFound    = errors.New("transaction record not found")
	ErrCannotFindHeightForTxn       = errors.New("cannot find block height for transaction")
	ErrMissingOutputs               = errors.New("connect failed to resolve every input")
	ErrOutpointUnresolved           = errors.New("cannot find previous outpoint, bad data")
	ErrIo                           = errors.New("i/o error")
	ErrDecode                       = errors.New("decode error")
	ErrInvalidHash                  = errors.New("invalid hash")
	ErrKvStore                      = errors.New("key-value store error")
)

// BlockFileNotFound wraps ErrBlockFileNotFound with the offending file index.
func BlockFileNotFound(fileIndex int32) error {
	return fmt.Errorf("%w: %d", ErrBlockFileNotFound, fileIndex)
}

// BlockIndexRecordNotFound wraps ErrBlockIndexRecordNotFound with the height.
func BlockIndexRecordNotFound(height int32) error {
	return fmt.Errorf("%w: height %d", ErrBlockIndexRecordNotFound, height)
}

// BlockHashNotFound wraps ErrBlockHashNotFound with the offending hash.
func BlockHashNotFound(hash chainhash.Hash) error {
	return fmt.Errorf("%w: %s", ErrBlockHashNotFound, hash)
}

// TransactionRecordNotFound wraps ErrTransactionRecordNotFound with the txid.
func TransactionRecordNotFound(txid chainhash.Hash) error {
	return fmt.Errorf("%w: %s", ErrTransactionRecordNotFound, txid)
}

// CannotFindHeightForTransaction wraps ErrCannotFindHeightForTxn with the txid.
func CannotFindHeightForTransaction(txid chainhash.Hash) error {
	return fmt.Errorf("%w: %s", ErrCannotFindHeightForTxn, txid)
}

// MissingOutputs wraps ErrMissingOutputs with the expected/actual input counts.
func MissingOutputs(expected, got int) error {
	return fmt.Errorf("%w: expected %d, got %d", ErrMissingOutputs, expected, got)
}

// OutpointUnresolved wraps ErrOutpointUnresolved with the offending outpoint.
func OutpointUnresolved(txid chainhash.Hash, vout uint32) error {
	return fmt.Errorf("%w: %s:%d", ErrOutpointUnresolved, txid, vout)
}

// Io wraps an underlying I/O failure as ErrIo.
func Io(context string, err error) error {
	return fmt.Errorf("%s: %w: %v", context, ErrIo, err)
}

// Decode wraps an underlying consensus-decode failure as ErrDecode.
func Decode(context string, err error) error {
	return fmt.Errorf("%s: %w: %v", context, ErrDecode, err)
}

// KvStore wraps an underlying key-value store failure as ErrKvStore.
func KvStore(context string, err error) error {
	return fmt.Errorf("%s: %w: %v", context, ErrKvStore, err)
}
