package marketdata

import "github.com/yourorg/coinwatch/internal/domain"

// Ticker aliases for the coins users actually type. Anything not listed
// passes through as a provider id unchanged.
var symbolAliases = map[string]domain.AssetID{
	"btc":   "bitcoin",
	"eth":   "ethereum",
	"sol":   "solana",
	"bnb":   "binancecoin",
	"ada":   "cardano",
	"xrp":   "ripple",
	"dot":   "polkadot",
	"doge":  "dogecoin",
	"avax":  "avalanche-2",
	"matic": "matic-network",
	"link":  "chainlink",
	"usdt":  "tether",
	"usdc":  "usd-coin",
}

// ResolveAsset maps user input (ticker or provider id) to an AssetID.
// Free-form lookups beyond the alias table go through Client.Search.
func ResolveAsset(input string) domain.AssetID {
	normalized := domain.NormalizeAsset(input)
	if id, ok := symbolAliases[string(normalized)]; ok {
		return id
	}
	return normalized
}
