package domain

type ChainName string

const (
	// Chain Names (short codes used on the wire and in config)
	ChainNameEthereum ChainName = "eth"
	ChainNameBase     ChainName = "base"
	ChainNameOptimism ChainName = "op"
)

// KnownChains lists the chains the service ships presets for. Chains outside
// this list are still accepted from config; the name is treated as opaque.
var KnownChains = map[ChainName]struct{}{
	ChainNameEthereum: {},
	ChainNameBase:     {},
	ChainNameOptimism: {},
}
