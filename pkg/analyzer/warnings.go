package analyzer

import "github.com/richochetclementine1315/btc-datadir/pkg/types"

// Warning thresholds. Dust uses the conventional 546-satoshi floor for
// P2PKH outputs rather than the script-size-dependent relay rule.
const (
	highFeeSats      = 1_000_000
	highFeeRateSatVb = 200
	dustSats         = 546
)

// GenerateWarnings flags notable conditions on an analyzed transaction:
// unusually high fees, dust outputs, nonstandard output scripts, and BIP125
// replaceability signaling.
func GenerateWarnings(feeSats int64, feeRate float64, rbfSignaling bool, outputs []types.Output) []types.Warning {
	warnings := make([]types.Warning, 0)

	if feeSats > highFeeSats || feeRate > highFeeRateSatVb {
		warnings = append(warnings, types.Warning{Code: "HIGH_FEE"})
	}

	hasDust, hasUnknown := false, false
	for _, out := range outputs {
		if out.ScriptType != "op_return" && out.ValueSats < dustSats {
			hasDust = true
		}
		if out.ScriptType == "unknown" {
			hasUnknown = true
		}
	}
	if hasDust {
		warnings = append(warnings, types.Warning{Code: "DUST_OUTPUT"})
	}
	if hasUnknown {
		warnings = append(warnings, types.Warning{Code: "UNKNOWN_OUTPUT_SCRIPT"})
	}

	if rbfSignaling {
		warnings = append(warnings, types.Warning{Code: "RBF_SIGNALING"})
	}

	return warnings
}
