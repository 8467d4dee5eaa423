package analyzer

import (
	"bytes"
	"encoding/hex"
	"unicode/utf8"

	"github.com/btcsuite/btcd/txscript"
)

// ClassifyOutputScript names the standard script type of an output's
// scriptPubKey, mapping txscript's classifier onto the short names the JSON
// surface uses.
func ClassifyOutputScript(scriptPubkey []byte) string {
	switch txscript.GetScriptClass(scriptPubkey) {
	case txscript.PubKeyTy:
		return "p2pk"
	case txscript.PubKeyHashTy:
		return "p2pkh"
	case txscript.ScriptHashTy:
		return "p2sh"
	case txscript.WitnessV0PubKeyHashTy:
		return "p2wpkh"
	case txscript.WitnessV0ScriptHashTy:
		return "p2wsh"
	case txscript.WitnessV1TaprootTy:
		return "p2tr"
	case txscript.MultiSigTy:
		return "multisig"
	case txscript.NullDataTy:
		return "op_return"
	default:
		return "unknown"
	}
}

// ClassifyInputScript names the spend type of an input from its scriptSig,
// witness, and the prevout script it spends. Unlike outputs there is no
// classifier to lean on: the spend type is a joint property of all three.
func ClassifyInputScript(scriptSig []byte, witness [][]byte, prevoutScript []byte) string {
	hasWitness := len(witness) > 0
	scriptSigEmpty := len(scriptSig) == 0
	prevoutType := ClassifyOutputScript(prevoutScript)

	if scriptSigEmpty && hasWitness {
		switch prevoutType {
		case "p2tr":
			// Keypath spends carry a lone 64/65-byte signature; scriptpath
			// spends end in a control block whose leaf-version byte is
			// 0xc0/0xc1.
			if len(witness) == 1 && (len(witness[0]) == 64 || len(witness[0]) == 65) {
				return "p2tr_keypath"
			}
			last := witness[len(witness)-1]
			if len(last) > 0 && last[0]&0xfe == 0xc0 {
				return "p2tr_scriptpath"
			}
		case "p2wpkh":
			if len(witness) == 2 {
				return "p2wpkh"
			}
		case "p2wsh":
			return "p2wsh"
		}
	}

	// Nested segwit: the scriptSig is a single push of the witness program.
	if hasWitness && isWitnessProgramPush(scriptSig, 0x14) && len(witness) == 2 {
		return "p2sh-p2wpkh"
	}
	if hasWitness && isWitnessProgramPush(scriptSig, 0x20) {
		return "p2sh-p2wsh"
	}

	if !scriptSigEmpty && !hasWitness && prevoutType == "p2pkh" {
		return "p2pkh"
	}

	// A legacy input in a segwit transaction may carry neither scriptSig
	// nor witness; fall back to the prevout type.
	if scriptSigEmpty && !hasWitness {
		switch prevoutType {
		case "p2pkh", "p2sh":
			return prevoutType
		}
	}

	return "unknown"
}

// isWitnessProgramPush reports whether scriptSig is exactly one push of
// OP_0 <programLen bytes>, the shape of a nested-segwit redeem script.
func isWitnessProgramPush(scriptSig []byte, programLen byte) bool {
	return len(scriptSig) == int(programLen)+3 &&
		scriptSig[0] == programLen+2 &&
		scriptSig[1] == txscript.OP_0 &&
		scriptSig[2] == programLen
}

// DisassembleScript converts script bytes to the human-readable ASM form.
// Malformed scripts disassemble as far as txscript can take them, followed
// by an "[error]" marker in place of the unparsable remainder.
func DisassembleScript(script []byte) string {
	if len(script) == 0 {
		return ""
	}
	asm, err := txscript.DisasmString(script)
	if err != nil {
		// DisasmString returns the valid prefix plus "[error]"; keep it.
		return asm
	}
	return asm
}

// ParseOpReturn extracts the pushed data from an OP_RETURN output:
// concatenated push bytes as hex, a UTF-8 rendering when the bytes are
// valid text, and a best-effort protocol tag from well-known prefixes.
func ParseOpReturn(script []byte) (dataHex string, dataUtf8 *string, protocol string) {
	if len(script) == 0 || script[0] != txscript.OP_RETURN {
		return "", nil, "unknown"
	}

	pushes, err := txscript.PushedData(script)
	if err != nil {
		return "", nil, "unknown"
	}
	var allData []byte
	for _, p := range pushes {
		allData = append(allData, p...)
	}

	dataHex = hex.EncodeToString(allData)
	if len(allData) > 0 && utf8.Valid(allData) {
		str := string(allData)
		dataUtf8 = &str
	}

	switch {
	case bytes.HasPrefix(allData, []byte("omni")):
		protocol = "omni"
	case bytes.HasPrefix(allData, []byte{0x01, 0x09, 0xf9, 0x11, 0x02}):
		protocol = "opentimestamps"
	default:
		protocol = "unknown"
	}
	return dataHex, dataUtf8, protocol
}
