package service

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Strob0t/FeedbackForge/internal/domain"
	"github.com/Strob0t/FeedbackForge/internal/domain/delegation"
)

// ParseAgentID parses a decimal or 0x-hex uint256 agent id.
func ParseAgentID(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	n, err := delegation.Quantity(s).Big()
	if err != nil || n.BitLen() > 256 {
		return nil, fmt.Errorf("%w: invalid agent id %q", domain.ErrValidation, s)
	}
	return n, nil
}

// ParseAddress parses a hex account address.
func ParseAddress(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: invalid address %q", domain.ErrValidation, s)
	}
	return common.HexToAddress(s), nil
}
