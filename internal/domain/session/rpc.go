package session

import (
	"fmt"

	"github.com/Strob0t/FeedbackForge/internal/domain"
)

// defaultRPCURLs maps chain ids to public RPC endpoints.
var defaultRPCURLs = map[int64]string{
	1:        "https://ethereum-rpc.publicnode.com",
	10:       "https://mainnet.optimism.io",
	137:      "https://polygon-rpc.com",
	8453:     "https://mainnet.base.org",
	42161:    "https://arb1.arbitrum.io/rpc",
	59144:    "https://rpc.linea.build",
	11155111: "https://ethereum-sepolia-rpc.publicnode.com",
	84532:    "https://sepolia.base.org",
	421614:   "https://sepolia-rollup.arbitrum.io/rpc",
	11155420: "https://sepolia.optimism.io",
	59141:    "https://rpc.sepolia.linea.build",
}

// ResolveRPCURL returns the first non-empty explicit URL, or the known
// default for chainID.
func ResolveRPCURL(chainID int64, explicit ...string) (string, error) {
	for _, u := range explicit {
		if u != "" {
			return u, nil
		}
	}
	if u, ok := defaultRPCURLs[chainID]; ok {
		return u, nil
	}
	return "", fmt.Errorf("%w: no RPC URL configured and chain %d has no default", domain.ErrConfig, chainID)
}
