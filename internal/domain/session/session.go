// Package session models the delegation session package: the smart accounts,
// session key and signed delegation that let this service act on a
// delegator's behalf.
package session

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/Strob0t/FeedbackForge/internal/domain/delegation"
)

// DefaultDelegationManager is the DelegationManager deployment shared by the
// supported chains.
const DefaultDelegationManager = "0xdb9B1e94B5b69Df7e401DDbedE43491141047dB3"

// Key is the session key that owns the delegate smart account.
type Key struct {
	PrivateKey string `json:"privateKey"`
	Address    string `json:"address"`
	ValidAfter int64  `json:"validAfter"` // unix seconds
	ValidUntil int64  `json:"validUntil"` // unix seconds, 0 means open-ended
}

// Package is loaded once per process and never mutated.
type Package struct {
	ChainID                   int64                 `json:"chainId"`
	DelegatorAccount          string                `json:"delegatorAccount"`
	DelegateAccount           string                `json:"delegateAccount,omitempty"`
	ReputationRegistryAddress string                `json:"reputationRegistryAddress"`
	FunctionSelector          string                `json:"functionSelector"`
	SessionKey                Key                   `json:"sessionKey"`
	EntryPointAddress         string                `json:"entryPointAddress"`
	BundlerURL                string                `json:"bundlerUrl"`
	SignedDelegation          delegation.Delegation `json:"signedDelegation"`
	DelegationManagerAddress  string                `json:"delegationManagerAddress,omitempty"`
	RPCURL                    string                `json:"rpcUrl,omitempty"`
}

// Validate checks that every required field is present and well formed.
func (p *Package) Validate() error {
	if p.ChainID <= 0 {
		return errors.New("chainId must be positive")
	}
	for name, addr := range map[string]string{
		"delegatorAccount":          p.DelegatorAccount,
		"reputationRegistryAddress": p.ReputationRegistryAddress,
		"entryPointAddress":         p.EntryPointAddress,
		"sessionKey.address":        p.SessionKey.Address,
	} {
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("%s %q is not an address", name, addr)
		}
	}
	if p.DelegateAccount != "" && !common.IsHexAddress(p.DelegateAccount) {
		return fmt.Errorf("delegateAccount %q is not an address", p.DelegateAccount)
	}
	if p.DelegationManagerAddress != "" && !common.IsHexAddress(p.DelegationManagerAddress) {
		return fmt.Errorf("delegationManagerAddress %q is not an address", p.DelegationManagerAddress)
	}
	if sel, err := hexutil.Decode(p.FunctionSelector); err != nil || len(sel) != 4 {
		return fmt.Errorf("functionSelector %q must be 4 bytes of hex", p.FunctionSelector)
	}
	if u, err := url.Parse(p.BundlerURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("bundlerUrl %q is not a URL", p.BundlerURL)
	}

	key, err := p.PrivateKey()
	if err != nil {
		return err
	}
	if derived := crypto.PubkeyToAddress(key.PublicKey); derived != common.HexToAddress(p.SessionKey.Address) {
		return fmt.Errorf("sessionKey.address %s does not match the private key (%s)", p.SessionKey.Address, derived.Hex())
	}
	if p.SessionKey.ValidUntil != 0 && p.SessionKey.ValidUntil < p.SessionKey.ValidAfter {
		return errors.New("sessionKey.validUntil precedes validAfter")
	}

	if _, err := delegation.Normalize(p.SignedDelegation); err != nil {
		return fmt.Errorf("signedDelegation: %w", err)
	}
	return nil
}

// PrivateKey parses the session private key.
func (p *Package) PrivateKey() (*ecdsa.PrivateKey, error) {
	raw := strings.TrimPrefix(p.SessionKey.PrivateKey, "0x")
	if len(raw) != 64 {
		return nil, errors.New("sessionKey.privateKey must be 32 bytes of hex")
	}
	key, err := crypto.HexToECDSA(raw)
	if err != nil {
		return nil, fmt.Errorf("sessionKey.privateKey: %w", err)
	}
	return key, nil
}

// Selector returns the function selector the delegation is scoped to.
func (p *Package) Selector() [4]byte {
	var sel [4]byte
	copy(sel[:], hexutil.MustDecode(p.FunctionSelector))
	return sel
}

// Sender is the smart account submitting user-operations: the delegate
// account, falling back to the delegation's delegate.
func (p *Package) Sender() common.Address {
	if p.DelegateAccount != "" {
		return common.HexToAddress(p.DelegateAccount)
	}
	d, err := delegation.Normalize(p.SignedDelegation)
	if err != nil {
		return common.Address{}
	}
	return common.HexToAddress(d.Delegate)
}

// DelegationManager returns the configured manager or the default deployment.
func (p *Package) DelegationManager() common.Address {
	if p.DelegationManagerAddress != "" {
		return common.HexToAddress(p.DelegationManagerAddress)
	}
	return common.HexToAddress(DefaultDelegationManager)
}

// ActiveAt reports whether the session key may be used at t.
func (p *Package) ActiveAt(t time.Time) bool {
	now := t.Unix()
	if now < p.SessionKey.ValidAfter {
		return false
	}
	return p.SessionKey.ValidUntil == 0 || now <= p.SessionKey.ValidUntil
}
