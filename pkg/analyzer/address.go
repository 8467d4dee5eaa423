package analyzer

import (
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
)

// netParams maps the JSON surface's network name onto chain parameters.
// Anything that isn't mainnet is treated as testnet3.
func netParams(network string) *chaincfg.Params {
	if network == "mainnet" {
		return &chaincfg.MainNetParams
	}
	return &chaincfg.TestNet3Params
}

// GetAddressFromScript derives the address encoded by a scriptPubKey.
// Returns nil when the script has no address form (OP_RETURN, bare
// multisig with several keys, nonstandard scripts).
func GetAddressFromScript(scriptPubkey []byte, network string) *string {
	_, addrs, _, err := txscript.ExtractPkScriptAddrs(scriptPubkey, netParams(network))
	if err != nil || len(addrs) != 1 {
		return nil
	}
	addrStr := addrs[0].EncodeAddress()
	return &addrStr
}
