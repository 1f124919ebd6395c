package ethereum

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/Strob0t/FeedbackForge/internal/domain"
	"github.com/Strob0t/FeedbackForge/internal/port/chain"
)

// KeyAccount signs with an in-memory private key.
type KeyAccount struct {
	key  *ecdsa.PrivateKey
	addr common.Address
}

var _ chain.Account = (*KeyAccount)(nil)

// NewKeyAccount wraps key.
func NewKeyAccount(key *ecdsa.PrivateKey) *KeyAccount {
	return &KeyAccount{key: key, addr: crypto.PubkeyToAddress(key.PublicKey)}
}

// ParseKeyAccount parses a hex private key, with or without 0x.
func ParseKeyAccount(hexKey string) (*KeyAccount, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid private key: %w", domain.ErrConfig, err)
	}
	return NewKeyAccount(key), nil
}

// Address returns the account address.
func (a *KeyAccount) Address() common.Address { return a.addr }

// SignMessage personal-signs msg (EIP-191), returning v in {27, 28}.
func (a *KeyAccount) SignMessage(_ context.Context, msg []byte) ([]byte, error) {
	sig, err := crypto.Sign(accounts.TextHash(msg), a.key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrSigning, err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// AddressAccount is an account known only by address. It cannot sign.
type AddressAccount common.Address

var _ chain.Account = AddressAccount{}

// Address returns the account address.
func (a AddressAccount) Address() common.Address { return common.Address(a) }

// SignMessage always fails with domain.ErrSigning.
func (a AddressAccount) SignMessage(context.Context, []byte) ([]byte, error) {
	return nil, fmt.Errorf("%w: account %s has no signing key", domain.ErrSigning, common.Address(a).Hex())
}
