// Package chain defines the ports for on-chain collaborators: the ERC-8004
// registries, signing accounts, the EntryPoint and the ERC-4337 bundler.
package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Strob0t/FeedbackForge/internal/domain/agent"
	"github.com/Strob0t/FeedbackForge/internal/domain/userop"
)

// ReputationRegistry reads the ERC-8004 reputation registry.
// Implementations wrap failures with domain.ErrChainRead.
type ReputationRegistry interface {
	Address() common.Address
	IdentityRegistry(ctx context.Context) (common.Address, error)
	LastIndex(ctx context.Context, agentID *big.Int, client common.Address) (uint64, error)
	FeedbackAuthID(ctx context.Context, clientID, serverID *big.Int) ([32]byte, error)
	IsFeedbackAuthorized(ctx context.Context, clientID, serverID *big.Int) (bool, [32]byte, error)
}

// Domain lookup methods exposed by identity registry deployments. Not every
// deployment has all of them.
const (
	MethodResolveByDomain  = "resolveByDomain"
	MethodGetAgentByDomain = "getAgentByDomain"
	MethodResolveDomain    = "resolveDomain"
)

// IdentityRegistry reads the ERC-8004 identity registry. ResolveByAddress
// returns domain.ErrNotFound for addresses with no agent.
type IdentityRegistry interface {
	Address() common.Address
	ResolveDomain(ctx context.Context, method, domain string) (agent.Identity, error)
	ResolveByAddress(ctx context.Context, addr common.Address) (agent.Identity, error)
	GetAgent(ctx context.Context, agentID *big.Int) (agent.Identity, error)
}

// Account signs on behalf of an address. SignMessage applies EIP-191
// personal-sign to msg and returns a 65-byte signature with v in {27, 28}.
// Accounts without a key return domain.ErrSigning.
type Account interface {
	Address() common.Address
	SignMessage(ctx context.Context, msg []byte) ([]byte, error)
}

// EntryPoint reads ERC-4337 EntryPoint state.
type EntryPoint interface {
	Nonce(ctx context.Context, entryPoint, sender common.Address, key *big.Int) (*big.Int, error)
}

// Bundler talks ERC-4337 JSON-RPC to a bundler with paymaster support.
// Implementations wrap failures with domain.ErrSubmission.
type Bundler interface {
	Sponsor(ctx context.Context, op userop.RPC, entryPoint common.Address) (userop.Sponsorship, error)
	Send(ctx context.Context, op userop.RPC, entryPoint common.Address) (common.Hash, error)
	// Receipt returns nil without error while the operation is pending.
	Receipt(ctx context.Context, hash common.Hash) (*userop.Receipt, error)
}
