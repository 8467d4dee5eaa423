// Command cli dumps a block or transaction from a Bitcoin Core datadir as
// JSON, exercising pkg/core's public surface directly.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/richochetclementine1315/btc-datadir/internal/config"
	"github.com/richochetclementine1315/btc-datadir/pkg/analyzer"
	"github.com/richochetclementine1315/btc-datadir/pkg/core"
	"github.com/richochetclementine1315/btc-datadir/pkg/types"
)

func main() {
	if len(os.Args) < 4 {
		printError("INVALID_ARGS", "Usage: cli <datadir> block <height> | cli <datadir> tx <txid>")
		os.Exit(1)
	}

	dataDir, mode, arg := os.Args[1], os.Args[2], os.Args[3]
	handle, err := core.Open(config.DefaultOptions(dataDir))
	if err != nil {
		printError("OPEN_FAILED", err.Error())
		os.Exit(1)
	}
	defer handle.Close()

	switch mode {
	case "block":
		handleBlockMode(handle, arg)
	case "tx":
		handleTxMode(handle, arg)
	default:
		printError("INVALID_ARGS", "mode must be \"block\" or \"tx\"")
		os.Exit(1)
	}
}

func handleBlockMode(handle *core.Handle, heightStr string) {
	var height int32
	if _, err := fmt.Sscanf(heightStr, "%d", &height); err != nil {
		printError("INVALID_ARGS", "height must be an integer")
		os.Exit(1)
	}

	block, err := handle.ConnectedBlock(height)
	if err != nil {
		printError("INVALID_BLOCK", err.Error())
		os.Exit(1)
	}

	result := analyzer.AnalyzeConnectedBlock(block, "mainnet")
	writeOutput(result.BlockHeader.BlockHash, result)
}

func handleTxMode(handle *core.Handle, txidStr string) {
	txid, err := chainhash.NewHashFromStr(txidStr)
	if err != nil {
		printError("INVALID_ARGS", fmt.Sprintf("invalid txid: %v", err))
		os.Exit(1)
	}

	ctx, err := handle.ConnectedTransaction(*txid)
	if err != nil {
		printError("INVALID_TX", err.Error())
		os.Exit(1)
	}

	result := analyzer.AnalyzeConnectedTransaction(ctx, "mainnet")
	writeOutput(result.Txid, result)
}

func writeOutput(name string, v any) {
	if err := os.MkdirAll("out", 0o755); err != nil {
		printError("IO_ERROR", fmt.Sprintf("failed to create output directory: %v", err))
		os.Exit(1)
	}

	outputJSON, _ := json.MarshalIndent(v, "", "  ")
	outputPath := filepath.Join("out", name+".json")
	if err := os.WriteFile(outputPath, outputJSON, 0o644); err != nil {
		printError("IO_ERROR", fmt.Sprintf("failed to write output file: %v", err))
		os.Exit(1)
	}

	fmt.Println(string(outputJSON))
}

func printError(code, message string) {
	type errorOutput struct {
		OK    bool             `json:"ok"`
		Error *types.ErrorInfo `json:"error"`
	}
	errJSON, _ := json.Marshal(errorOutput{OK: false, Error: &types.ErrorInfo{Code: code, Message: message}})
	fmt.Println(string(errJSON))
	fmt.Fprintf(os.Stderr, "Error: %s\n", message)
}
