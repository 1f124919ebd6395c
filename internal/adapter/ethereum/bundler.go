package ethereum

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/Strob0t/FeedbackForge/internal/domain"
	"github.com/Strob0t/FeedbackForge/internal/domain/userop"
	"github.com/Strob0t/FeedbackForge/internal/port/chain"
)

// Bundler is an ERC-4337 bundler and paymaster JSON-RPC client. Calls are
// neither retried nor given a timeout beyond the caller's context.
type Bundler struct {
	rc *rpc.Client
}

var _ chain.Bundler = (*Bundler)(nil)

// DialBundler connects to the bundler at url.
func DialBundler(ctx context.Context, url string) (*Bundler, error) {
	rc, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("%w: dial bundler %s: %w", domain.ErrConfig, url, err)
	}
	return &Bundler{rc: rc}, nil
}

// Close releases the connection.
func (b *Bundler) Close() { b.rc.Close() }

// Sponsor asks the paymaster to sponsor op.
func (b *Bundler) Sponsor(ctx context.Context, op userop.RPC, entryPoint common.Address) (userop.Sponsorship, error) {
	var s userop.Sponsorship
	if err := b.rc.CallContext(ctx, &s, "pm_sponsorUserOperation", op, entryPoint); err != nil {
		return userop.Sponsorship{}, fmt.Errorf("%w: pm_sponsorUserOperation: %w", domain.ErrSubmission, err)
	}
	if s.Paymaster == (common.Address{}) {
		return userop.Sponsorship{}, fmt.Errorf("%w: paymaster declined sponsorship", domain.ErrSubmission)
	}
	return s, nil
}

// Send submits a signed operation and returns its hash.
func (b *Bundler) Send(ctx context.Context, op userop.RPC, entryPoint common.Address) (common.Hash, error) {
	var hash common.Hash
	if err := b.rc.CallContext(ctx, &hash, "eth_sendUserOperation", op, entryPoint); err != nil {
		return common.Hash{}, fmt.Errorf("%w: eth_sendUserOperation: %w", domain.ErrSubmission, err)
	}
	return hash, nil
}

// Receipt returns the operation receipt, or nil while it is pending.
func (b *Bundler) Receipt(ctx context.Context, hash common.Hash) (*userop.Receipt, error) {
	var r *userop.Receipt
	if err := b.rc.CallContext(ctx, &r, "eth_getUserOperationReceipt", hash); err != nil {
		return nil, fmt.Errorf("%w: eth_getUserOperationReceipt: %w", domain.ErrSubmission, err)
	}
	return r, nil
}
