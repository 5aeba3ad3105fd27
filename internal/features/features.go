// Package features turns a contract address into the ordered numeric
// vector the risk model consumes.
//
// Extraction runs as an external subprocess that emits a JSON object of
// named features on stdout. The model input is positional, so the order
// of FeatureOrder is part of the model contract and must match the
// training pipeline exactly.
package features

import (
	"log/slog"
)

// Width is the model input width.
const Width = 60

// FeatureOrder lists feature names in model input order. Grouped by
// concern: ownership, liquidity, holders, code, activity, age.
var FeatureOrder = [Width]string{
	// Ownership
	"hasOwnershipTransfer", "hasRenounceOwnership", "ownerBalance", "ownerTransactionCount",
	"multipleOwners", "ownershipChangedRecently", "ownerContractAge", "ownerIsContract",
	"ownerBlacklisted", "ownerVerified",
	// Liquidity
	"hasLiquidityLock", "liquidityPoolSize", "liquidityRatio", "hasUniswapV2",
	"hasPancakeSwap", "liquidityLockedDays", "liquidityProvidedByOwner", "multiplePoolsExist",
	"poolCreatedRecently", "lowLiquidityWarning", "rugpullHistoryOnDEX", "slippageTooHigh",
	// Holder distribution
	"holderCount", "holderConcentration", "top10HoldersPercent", "averageHoldingTime",
	"suspiciousHolderPatterns", "whaleCount", "holderGrowthRate", "dormantHolders",
	"newHoldersSpiking", "sellingPressure",
	// Contract code
	"hasHiddenMint", "hasPausableTransfers", "hasBlacklist", "hasWhitelist",
	"hasTimelocks", "complexityScore", "hasProxyPattern", "isUpgradeable",
	"hasExternalCalls", "hasSelfDestruct", "hasDelegateCall", "hasInlineAssembly",
	"verifiedContract", "auditedByFirm", "openSourceCode",
	// Activity
	"avgDailyTransactions", "transactionVelocity", "uniqueInteractors", "suspiciousPatterns",
	"highFailureRate", "gasOptimized", "flashloanInteractions", "frontRunningDetected",
	// Age and launch
	"contractAge", "lastActivityDays", "creationBlock", "deployedDuringBullMarket",
	"launchFairness",
}

// Vector is a model-ready input row.
type Vector [Width]float32

// ToVector converts a named feature map into the positional vector.
// Booleans coerce to 0/1. Missing or non-numeric values become 0; each
// one is logged because a zero-filled feature silently skews the score.
func ToVector(named map[string]any, logger *slog.Logger) Vector {
	var v Vector
	for i, name := range FeatureOrder {
		raw, ok := named[name]
		if !ok {
			logger.Warn("feature missing, defaulting to zero", "feature", name)
			continue
		}
		f, ok := toFloat(raw)
		if !ok {
			logger.Warn("feature has non-numeric value, defaulting to zero",
				"feature", name, "value", raw)
			continue
		}
		v[i] = f
	}
	return v
}

func toFloat(raw any) (float32, bool) {
	switch val := raw.(type) {
	case bool:
		if val {
			return 1, true
		}
		return 0, true
	case float64: // encoding/json numbers
		return float32(val), true
	case float32:
		return val, true
	case int:
		return float32(val), true
	case int64:
		return float32(val), true
	default:
		return 0, false
	}
}
