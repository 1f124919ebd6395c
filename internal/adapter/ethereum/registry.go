package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/Strob0t/FeedbackForge/internal/domain"
	"github.com/Strob0t/FeedbackForge/internal/domain/agent"
	"github.com/Strob0t/FeedbackForge/internal/port/chain"
)

// ReputationRegistry reads an ERC-8004 reputation registry.
type ReputationRegistry struct {
	client  *Client
	address common.Address
}

var _ chain.ReputationRegistry = (*ReputationRegistry)(nil)

// NewReputationRegistry binds the registry at addr.
func NewReputationRegistry(client *Client, addr common.Address) *ReputationRegistry {
	return &ReputationRegistry{client: client, address: addr}
}

// Address returns the registry address.
func (r *ReputationRegistry) Address() common.Address { return r.address }

// IdentityRegistry returns the identity registry the reputation registry points at.
func (r *ReputationRegistry) IdentityRegistry(ctx context.Context) (common.Address, error) {
	out, err := r.client.Call(ctx, r.address, &reputationABI, "getIdentityRegistry")
	if err != nil {
		return common.Address{}, err
	}
	return *abi.ConvertType(out[0], new(common.Address)).(*common.Address), nil
}

// LastIndex returns the last feedback index for (agentID, client).
func (r *ReputationRegistry) LastIndex(ctx context.Context, agentID *big.Int, client common.Address) (uint64, error) {
	out, err := r.client.Call(ctx, r.address, &reputationABI, "getLastIndex", agentID, client)
	if err != nil {
		return 0, err
	}
	return *abi.ConvertType(out[0], new(uint64)).(*uint64), nil
}

// FeedbackAuthID returns the recorded authorization id, zero when none.
func (r *ReputationRegistry) FeedbackAuthID(ctx context.Context, clientID, serverID *big.Int) ([32]byte, error) {
	out, err := r.client.Call(ctx, r.address, &reputationABI, "getFeedbackAuthId", clientID, serverID)
	if err != nil {
		return [32]byte{}, err
	}
	return *abi.ConvertType(out[0], new([32]byte)).(*[32]byte), nil
}

// IsFeedbackAuthorized reports whether clientID may rate serverID and the authorization id.
func (r *ReputationRegistry) IsFeedbackAuthorized(ctx context.Context, clientID, serverID *big.Int) (bool, [32]byte, error) {
	out, err := r.client.Call(ctx, r.address, &reputationABI, "isFeedbackAuthorized", clientID, serverID)
	if err != nil {
		return false, [32]byte{}, err
	}
	ok := *abi.ConvertType(out[0], new(bool)).(*bool)
	id := *abi.ConvertType(out[1], new([32]byte)).(*[32]byte)
	return ok, id, nil
}

// revertCode is the JSON-RPC error code nodes use for execution reverts.
const revertCode = 3

// IdentityRegistry reads an ERC-8004 identity registry.
type IdentityRegistry struct {
	client  *Client
	address common.Address
}

var _ chain.IdentityRegistry = (*IdentityRegistry)(nil)

// NewIdentityRegistry binds the registry at addr.
func NewIdentityRegistry(client *Client, addr common.Address) *IdentityRegistry {
	return &IdentityRegistry{client: client, address: addr}
}

// Address returns the registry address.
func (r *IdentityRegistry) Address() common.Address { return r.address }

// agentInfo mirrors the registry's AgentInfo struct. Field names follow the
// ABI component names.
type agentInfo struct {
	AgentId      *big.Int //nolint:revive // must match the ABI component name
	AgentDomain  string
	AgentAddress common.Address
}

// ResolveDomain resolves domain with one of the domain lookup methods.
func (r *IdentityRegistry) ResolveDomain(ctx context.Context, method, d string) (agent.Identity, error) {
	switch method {
	case chain.MethodResolveByDomain, chain.MethodGetAgentByDomain, chain.MethodResolveDomain:
	default:
		return agent.Identity{}, fmt.Errorf("%w: %s is not a domain lookup", domain.ErrValidation, method)
	}
	return r.lookup(ctx, method, d)
}

// ResolveByAddress resolves the agent registered for addr. Deployments that
// revert for unknown addresses report domain.ErrNotFound.
func (r *IdentityRegistry) ResolveByAddress(ctx context.Context, addr common.Address) (agent.Identity, error) {
	id, err := r.lookup(ctx, "resolveByAddress", addr)
	if err != nil && reverted(err) {
		return agent.Identity{}, fmt.Errorf("%w: resolveByAddress(%s) reverted", domain.ErrNotFound, addr.Hex())
	}
	return id, err
}

// reverted reports whether err is an execution revert from the node.
func reverted(err error) bool {
	var rerr rpc.Error
	return errors.As(err, &rerr) && rerr.ErrorCode() == revertCode
}

// GetAgent returns the agent with the given id.
func (r *IdentityRegistry) GetAgent(ctx context.Context, agentID *big.Int) (agent.Identity, error) {
	return r.lookup(ctx, "getAgent", agentID)
}

func (r *IdentityRegistry) lookup(ctx context.Context, method string, arg any) (agent.Identity, error) {
	out, err := r.client.Call(ctx, r.address, &identityABI, method, arg)
	if err != nil {
		return agent.Identity{}, err
	}
	info := *abi.ConvertType(out[0], new(agentInfo)).(*agentInfo)
	id := agent.Identity{ID: info.AgentId, Domain: info.AgentDomain, Address: info.AgentAddress}
	if !id.Registered() {
		return agent.Identity{}, fmt.Errorf("%w: %s(%v) has no registered agent", domain.ErrNotFound, method, arg)
	}
	return id, nil
}

// EntryPoint reads ERC-4337 EntryPoint state.
type EntryPoint struct {
	client *Client
}

var _ chain.EntryPoint = (*EntryPoint)(nil)

// NewEntryPoint returns an EntryPoint reader.
func NewEntryPoint(client *Client) *EntryPoint {
	return &EntryPoint{client: client}
}

// Nonce returns the next nonce for sender under key.
func (e *EntryPoint) Nonce(ctx context.Context, entryPoint, sender common.Address, key *big.Int) (*big.Int, error) {
	if key == nil {
		key = new(big.Int)
	}
	out, err := e.client.Call(ctx, entryPoint, &entryPointABI, "getNonce", sender, key)
	if err != nil {
		return nil, err
	}
	return abi.ConvertType(out[0], new(big.Int)).(*big.Int), nil
}
