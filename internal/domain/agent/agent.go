// Package agent describes ERC-8004 agent identities and their CAIP-10 account ids.
package agent

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Strob0t/FeedbackForge/internal/domain"
)

// Identity is an agent as known to the identity registry.
type Identity struct {
	ID      *big.Int       `json:"agentId"`
	Domain  string         `json:"domain"`
	Address common.Address `json:"address"`
}

// Registered reports whether the identity has a non-zero id and address.
func (i Identity) Registered() bool {
	return i.ID != nil && i.ID.Sign() > 0 && i.Address != (common.Address{})
}

// CAIP10 formats an EVM account id as eip155:<chainId>:<address>.
func CAIP10(chainID int64, addr common.Address) string {
	return fmt.Sprintf("eip155:%d:%s", chainID, addr.Hex())
}

// ParseCAIP10 parses an eip155 account id.
func ParseCAIP10(s string) (int64, common.Address, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 || parts[0] != "eip155" {
		return 0, common.Address{}, fmt.Errorf("%w: %q is not an eip155 account id", domain.ErrValidation, s)
	}
	chainID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || chainID < 1 {
		return 0, common.Address{}, fmt.Errorf("%w: invalid chain id in %q", domain.ErrValidation, s)
	}
	if !common.IsHexAddress(parts[2]) {
		return 0, common.Address{}, fmt.Errorf("%w: invalid address in %q", domain.ErrValidation, s)
	}
	return chainID, common.HexToAddress(parts[2]), nil
}

// Placeholder returns the CAIP-10 id used as a feedback auth id when no
// authoritative id exists. With no client address it falls back to the zero
// address, which is known to be incorrect; fallback reports that case.
func Placeholder(chainID int64, client *common.Address) (id string, fallback bool) {
	if client == nil || *client == (common.Address{}) {
		return CAIP10(chainID, common.Address{}), true
	}
	return CAIP10(chainID, *client), false
}

// Registration is the ERC-8004 entry advertised on an agent card.
type Registration struct {
	AgentID      string `json:"agentId"`
	AgentAddress string `json:"agentAddress"`
	Signature    string `json:"signature"`
}

// NewRegistration builds a card registration for id on chainID.
// sig is the agent's personal-sign signature over its domain.
func NewRegistration(chainID int64, id Identity, sig []byte) Registration {
	agentID := "0"
	if id.ID != nil {
		agentID = id.ID.String()
	}
	return Registration{
		AgentID:      agentID,
		AgentAddress: CAIP10(chainID, id.Address),
		Signature:    "0x" + common.Bytes2Hex(sig),
	}
}
