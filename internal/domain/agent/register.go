package agent

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/Strob0t/FeedbackForge/internal/domain"
)

// NewAgentSelector is the identity registry's newAgent(string,address) selector.
var NewAgentSelector = crypto.Keccak256([]byte("newAgent(string,address)"))[:4]

var newAgentArgs = func() abi.Arguments {
	str, err := abi.NewType("string", "", nil)
	if err != nil {
		panic(fmt.Sprintf("agent: abi type string: %v", err))
	}
	addr, err := abi.NewType("address", "", nil)
	if err != nil {
		panic(fmt.Sprintf("agent: abi type address: %v", err))
	}
	return abi.Arguments{{Name: "agentDomain", Type: str}, {Name: "agentAddress", Type: addr}}
}()

// EncodeNewAgent returns the calldata registering addr under agentDomain.
func EncodeNewAgent(agentDomain string, addr common.Address) ([]byte, error) {
	if strings.TrimSpace(agentDomain) == "" || addr == (common.Address{}) {
		return nil, fmt.Errorf("%w: newAgent needs a domain and a non-zero address", domain.ErrEncoding)
	}
	args, err := newAgentArgs.Pack(agentDomain, addr)
	if err != nil {
		return nil, fmt.Errorf("%w: pack newAgent: %w", domain.ErrEncoding, err)
	}
	return append(bytes.Clone(NewAgentSelector), args...), nil
}
