// Package ethereum implements the chain ports over go-ethereum: registry and
// EntryPoint reads through an RPC node, signing accounts, and the ERC-4337
// bundler JSON-RPC client.
package ethereum

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	goeth "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/Strob0t/FeedbackForge/internal/domain"
	"github.com/Strob0t/FeedbackForge/internal/resilience"
)

// Caller is the subset of ethclient.Client used for read-only calls.
type Caller interface {
	CallContract(ctx context.Context, msg goeth.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Client performs read-only contract calls with a fixed timeout behind a
// circuit breaker. All failures wrap domain.ErrChainRead.
type Client struct {
	caller  Caller
	breaker *resilience.Breaker
	timeout time.Duration
	closer  func()
}

// Dial connects to the node at url.
func Dial(ctx context.Context, url string, timeout time.Duration, breaker *resilience.Breaker) (*Client, error) {
	rc, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", domain.ErrConfig, url, err)
	}
	ec := ethclient.NewClient(rc)
	c := NewClient(ec, timeout, breaker)
	c.closer = ec.Close
	return c, nil
}

// NewClient wraps an existing caller. breaker may be nil.
func NewClient(caller Caller, timeout time.Duration, breaker *resilience.Breaker) *Client {
	return &Client{caller: caller, breaker: breaker, timeout: timeout}
}

// Close releases the underlying connection, if owned.
func (c *Client) Close() {
	if c.closer != nil {
		c.closer()
	}
}

// Call invokes a view method on to and returns the unpacked outputs.
func (c *Client) Call(ctx context.Context, to common.Address, contract *abi.ABI, method string, args ...any) ([]any, error) {
	m, ok := contract.Methods[method]
	if !ok {
		return nil, fmt.Errorf("%w: method %s not in abi", domain.ErrChainRead, method)
	}
	input, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: pack %s: %w", domain.ErrEncoding, method, err)
	}

	var out []byte
	call := func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		res, err := c.caller.CallContract(ctx, goeth.CallMsg{To: &to, Data: input}, nil)
		if err != nil {
			return err
		}
		out = res
		return nil
	}
	if c.breaker != nil {
		err = c.breaker.ExecuteContext(ctx, call)
	} else {
		err = call(ctx)
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			slog.WarnContext(ctx, "chain read timed out", "method", method, "to", to.Hex(), "timeout", c.timeout)
		}
		return nil, fmt.Errorf("%w: %s on %s: %w", domain.ErrChainRead, method, to.Hex(), err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s on %s returned no data", domain.ErrChainRead, method, to.Hex())
	}

	vals, err := m.Outputs.Unpack(out)
	if err != nil {
		return nil, fmt.Errorf("%w: unpack %s: %w", domain.ErrChainRead, method, err)
	}
	return vals, nil
}
