package analyzer

import "github.com/btcsuite/btcd/wire"

// Sequence values at or above this never signal BIP68 relative timelocks or
// BIP125 replaceability.
const seqFinalThreshold = wire.MaxTxInSequenceNum - 1

// GetLocktimeType names how a transaction's nLockTime is interpreted: zero
// is "none", other values below 500,000,000 are block heights, anything else
// a unix time.
func GetLocktimeType(locktime uint32) string {
	switch {
	case locktime == 0:
		return "none"
	case locktime < 500_000_000:
		return "block_height"
	default:
		return "unix_timestamp"
	}
}

// ParseRelativeTimelock decodes an input's BIP68 relative timelock from its
// sequence number. Returns enabled=false when bit 31 disables the lock or
// the sequence is in the final range.
func ParseRelativeTimelock(sequence uint32) (enabled bool, tlType string, value uint32) {
	if sequence&wire.SequenceLockTimeDisabled != 0 || sequence >= seqFinalThreshold {
		return false, "", 0
	}
	if sequence&wire.SequenceLockTimeIsSeconds != 0 {
		// Time-based locks count in 512-second granules.
		return true, "time", (sequence & wire.SequenceLockTimeMask) << wire.SequenceLockTimeGranularity
	}
	return true, "blocks", sequence & wire.SequenceLockTimeMask
}

// IsRBFSignaling reports whether any input's sequence signals BIP125
// replaceability.
func IsRBFSignaling(sequences []uint32) bool {
	for _, seq := range sequences {
		if seq < seqFinalThreshold {
			return true
		}
	}
	return false
}
