package analyzer

import (
	"encoding/hex"
	"fmt"
	"math"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/richochetclementine1315/btc-datadir/pkg/blocktypes"
	"github.com/richochetclementine1315/btc-datadir/pkg/types"
)

// AnalyzeConnectedTransaction builds the rich JSON transaction shape from a
// connected transaction read straight off the node's datadir: every
// non-coinbase input already carries its spent output
// (blocktypes.ConnectedTxIn.PrevOut), so there is no prevout map or
// "missing prevout" validation step left to do — pkg/pipeline already
// resolved or failed on every input before this function ever runs.
func AnalyzeConnectedTransaction(ctx blocktypes.ConnectedTx, network string) *types.TransactionOutput {
	tx := ctx.Tx
	isSegwit := tx.HasWitness()

	txid := tx.TxHash().String()
	var wtxid *string
	if isSegwit {
		wtxidStr := tx.WitnessHash().String()
		wtxid = &wtxidStr
	}

	sizeBytes := tx.SerializeSize()
	baseSize := tx.SerializeSizeStripped()
	totalSize := sizeBytes
	weight := baseSize*3 + totalSize
	vbytes := (weight + 3) / 4

	inputs := make([]types.Input, 0, len(tx.TxIn))
	var totalInputSats int64
	var sequences []uint32

	// ctx.Inputs holds one resolved entry per non-coinbase input, in input
	// order; connIdx tracks the next unconsumed entry.
	connIdx := 0
	for _, txIn := range tx.TxIn {
		isCoinbaseInput := blocktypes.IsNullOutPoint(txIn.PreviousOutPoint)

		var prevoutValue int64
		var prevoutScript []byte
		if !isCoinbaseInput {
			prevOut := ctx.Inputs[connIdx].PrevOut
			connIdx++
			prevoutValue = prevOut.Value
			prevoutScript = prevOut.PkScript
			totalInputSats += prevoutValue
		}

		witnessItems := make([]string, 0, len(txIn.Witness))
		for _, item := range txIn.Witness {
			witnessItems = append(witnessItems, hex.EncodeToString(item))
		}

		scriptType := ClassifyInputScript(txIn.SignatureScript, txIn.Witness, prevoutScript)

		var witnessScriptAsm *string
		if (scriptType == "p2wsh" || scriptType == "p2sh-p2wsh") && len(witnessItems) > 0 {
			lastWitnessBytes, err := hex.DecodeString(witnessItems[len(witnessItems)-1])
			if err == nil && len(lastWitnessBytes) > 0 {
				asm := DisassembleScript(lastWitnessBytes)
				witnessScriptAsm = &asm
			}
		}

		var address *string
		if !isCoinbaseInput {
			address = GetAddressFromScript(prevoutScript, network)
		}

		enabled, tlType, tlValue := ParseRelativeTimelock(txIn.Sequence)
		relativeTimelock := types.RelativeTimelock{Enabled: enabled}
		if enabled {
			relativeTimelock.Type = tlType
			relativeTimelock.Value = tlValue
		}
		sequences = append(sequences, txIn.Sequence)

		inputs = append(inputs, types.Input{
			Txid:             txIn.PreviousOutPoint.Hash.String(),
			Vout:             txIn.PreviousOutPoint.Index,
			Sequence:         txIn.Sequence,
			ScriptSigHex:     hex.EncodeToString(txIn.SignatureScript),
			ScriptAsm:        DisassembleScript(txIn.SignatureScript),
			Witness:          witnessItems,
			WitnessScriptAsm: witnessScriptAsm,
			ScriptType:       scriptType,
			Address:          address,
			Prevout: types.Prevout{
				ValueSats:       prevoutValue,
				ScriptPubkeyHex: hex.EncodeToString(prevoutScript),
			},
			RelativeTimelock: relativeTimelock,
		})
	}

	outputs := make([]types.Output, 0, len(tx.TxOut))
	var totalOutputSats int64
	for i, txOut := range tx.TxOut {
		totalOutputSats += txOut.Value
		scriptType := ClassifyOutputScript(txOut.PkScript)

		output := types.Output{
			N:               i,
			ValueSats:       txOut.Value,
			ScriptPubkeyHex: hex.EncodeToString(txOut.PkScript),
			ScriptAsm:       DisassembleScript(txOut.PkScript),
			ScriptType:      scriptType,
			Address:         GetAddressFromScript(txOut.PkScript, network),
		}
		if scriptType == "op_return" {
			output.OpReturnDataHex, output.OpReturnDataUtf8, output.OpReturnProtocol = ParseOpReturn(txOut.PkScript)
		}
		outputs = append(outputs, output)
	}

	var feeSats int64
	var feeRate float64
	isCoinbaseTx := len(tx.TxIn) == 1 && blocktypes.IsNullOutPoint(tx.TxIn[0].PreviousOutPoint)
	if !isCoinbaseTx {
		feeSats = totalInputSats - totalOutputSats
		if vbytes > 0 {
			feeRate = math.Round((float64(feeSats)/float64(vbytes))*100) / 100
		}
	}

	var segwitSavings *types.SegwitSavings
	if isSegwit {
		witnessBytes := totalSize - baseSize
		weightIfLegacy := totalSize * 4
		savingsPct := (1.0 - float64(weight)/float64(weightIfLegacy)) * 100
		segwitSavings = &types.SegwitSavings{
			WitnessBytes:    witnessBytes,
			NonWitnessBytes: baseSize,
			TotalBytes:      totalSize,
			WeightActual:    weight,
			WeightIfLegacy:  weightIfLegacy,
			SavingsPct:      math.Round(savingsPct*100) / 100,
		}
	}

	voutScriptTypes := make([]string, len(outputs))
	for i, o := range outputs {
		voutScriptTypes[i] = o.ScriptType
	}

	var warnings []types.Warning
	if !isCoinbaseTx {
		warnings = GenerateWarnings(feeSats, feeRate, IsRBFSignaling(sequences), outputs)
	}

	return &types.TransactionOutput{
		OK:              true,
		Network:         network,
		Segwit:          isSegwit,
		Txid:            txid,
		Wtxid:           wtxid,
		Version:         tx.Version,
		Locktime:        tx.LockTime,
		SizeBytes:       sizeBytes,
		Weight:          weight,
		Vbytes:          vbytes,
		FeeSats:         feeSats,
		FeeRateSatVb:    feeRate,
		TotalInputSats:  totalInputSats,
		TotalOutputSats: totalOutputSats,
		RbfSignaling:    IsRBFSignaling(sequences),
		LocktimeType:    GetLocktimeType(tx.LockTime),
		LocktimeValue:   tx.LockTime,
		VinCount:        len(inputs),
		VoutCount:       len(outputs),
		VoutScriptTypes: voutScriptTypes,
		SegwitSavings:   segwitSavings,
		Vin:             inputs,
		Vout:            outputs,
		Warnings:        warnings,
	}
}

// AnalyzeConnectedBlock analyzes every transaction in a connected block,
// reporting BIP34 coinbase height and aggregate block-level statistics.
func AnalyzeConnectedBlock(block blocktypes.ConnectedBlock, network string) *types.BlockOutput {
	txs := make([]types.TransactionOutput, 0, len(block.Transactions))
	var totalFees int64
	var totalWeight int
	scriptTypeSummary := make(map[string]int)

	for i, ctx := range block.Transactions {
		out := AnalyzeConnectedTransaction(ctx, network)
		if i > 0 {
			totalFees += out.FeeSats
		}
		totalWeight += out.Weight
		for _, st := range out.VoutScriptTypes {
			scriptTypeSummary[st]++
		}
		txs = append(txs, *out)
	}

	var avgFeeRate float64
	nonCoinbase := len(txs) - 1
	if nonCoinbase > 0 {
		var sum float64
		for _, t := range txs[1:] {
			sum += t.FeeRateSatVb
		}
		avgFeeRate = math.Round((sum/float64(nonCoinbase))*100) / 100
	}

	var coinbase types.CoinbaseInfo
	var coinbaseScript []byte
	if len(block.Transactions) > 0 {
		cb := block.Transactions[0].Tx
		if len(cb.TxIn) > 0 {
			coinbaseScript = cb.TxIn[0].SignatureScript
		}
		var totalOut int64
		for _, o := range cb.TxOut {
			totalOut += o.Value
		}
		coinbase = types.CoinbaseInfo{
			Bip34Height:       ExtractBIP34Height(coinbaseScript),
			CoinbaseScriptHex: hex.EncodeToString(coinbaseScript),
			TotalOutputSats:   totalOut,
		}
	}

	txHashes := make([]chainhash.Hash, len(block.Transactions))
	for i, ctx := range block.Transactions {
		txHashes[i] = ctx.Tx.TxHash()
	}
	merkleRootValid := computeMerkleRoot(txHashes) == block.Header.MerkleRoot

	hash := block.Header.BlockHash()
	return &types.BlockOutput{
		OK:   true,
		Mode: "connected",
		BlockHeader: types.BlockHeader{
			Version:         block.Header.Version,
			PrevBlockHash:   block.Header.PrevBlock.String(),
			MerkleRoot:      block.Header.MerkleRoot.String(),
			MerkleRootValid: merkleRootValid,
			Timestamp:       uint32(block.Header.Timestamp.Unix()),
			Bits:            fmt.Sprintf("%08x", block.Header.Bits),
			Nonce:           block.Header.Nonce,
			BlockHash:       hash.String(),
		},
		TxCount:      len(block.Transactions),
		Coinbase:     coinbase,
		Transactions: txs,
		BlockStats: types.BlockStats{
			TotalFeesSats:     totalFees,
			TotalWeight:       totalWeight,
			AvgFeeRateSatVb:   avgFeeRate,
			ScriptTypeSummary: scriptTypeSummary,
		},
	}
}

// computeMerkleRoot computes a block's merkle root from its transaction
// hashes, for cross-checking against the header's recorded value.
func computeMerkleRoot(txHashes []chainhash.Hash) chainhash.Hash {
	if len(txHashes) == 0 {
		return chainhash.Hash{}
	}
	if len(txHashes) == 1 {
		return txHashes[0]
	}

	var nextLevel []chainhash.Hash
	for i := 0; i < len(txHashes); i += 2 {
		left := txHashes[i]
		right := txHashes[i]
		if i+1 < len(txHashes) {
			right = txHashes[i+1]
		}
		combined := append(append([]byte{}, left[:]...), right[:]...)
		nextLevel = append(nextLevel, chainhash.DoubleHashH(combined))
	}

	return computeMerkleRoot(nextLevel)
}
