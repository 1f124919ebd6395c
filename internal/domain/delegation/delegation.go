// Package delegation models signed delegations as used by the MetaMask
// Delegation Framework and encodes DelegationManager.redeemDelegations calls.
package delegation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/Strob0t/FeedbackForge/internal/domain"
)

// RootAuthority marks a delegation that is not derived from another delegation.
const RootAuthority = "0xffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff"

// Caveat restricts how a delegation may be used. Terms and Args are opaque to us.
type Caveat struct {
	Enforcer string `json:"enforcer"`
	Terms    string `json:"terms"`
	Args     string `json:"args"`
}

// Delegation is a delegation record as it arrives from a session package or a
// client: either flat, or wrapped as {message: {...}, signature}.
type Delegation struct {
	Delegate  string      `json:"delegate,omitempty"`
	Delegator string      `json:"delegator,omitempty"`
	Authority string      `json:"authority,omitempty"`
	Caveats   []Caveat    `json:"caveats"`
	Salt      Quantity    `json:"salt,omitempty"`
	Signature string      `json:"signature,omitempty"`
	Message   *Delegation `json:"message,omitempty"`
}

// Quantity is an integer that may be written as a JSON number, a decimal
// string or a 0x-prefixed hex string.
type Quantity string

// UnmarshalJSON accepts numbers and strings.
func (q *Quantity) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*q = Quantity(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("quantity: %w", err)
	}
	*q = Quantity(n.String())
	return nil
}

// Big parses the quantity as hex when it carries a 0x prefix and as decimal
// otherwise. Leading zeros never switch the base. Empty quantities are invalid.
func (q Quantity) Big() (*big.Int, error) {
	s := strings.TrimSpace(string(q))
	if s == "" {
		return nil, fmt.Errorf("empty quantity")
	}
	digits, base := s, 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		digits, base = s[2:], 16
	}
	if digits == "" || digits[0] == '+' || digits[0] == '-' {
		return nil, fmt.Errorf("invalid quantity %q", s)
	}
	n, ok := new(big.Int).SetString(digits, base)
	if !ok {
		return nil, fmt.Errorf("invalid quantity %q", s)
	}
	return n, nil
}

// Normalize returns the canonical flat form of d: a {message, signature}
// wrapper is unwrapped (the outer signature wins), caveats default to an empty
// list and caveat args default to "0x". Normalize is idempotent.
func Normalize(d Delegation) (Delegation, error) {
	flat := d
	if d.Message != nil {
		flat = *d.Message
		if d.Signature != "" {
			flat.Signature = d.Signature
		}
	}
	flat.Message = nil

	caveats := make([]Caveat, 0, len(flat.Caveats))
	for _, c := range flat.Caveats {
		if c.Args == "" {
			c.Args = "0x"
		}
		caveats = append(caveats, c)
	}
	flat.Caveats = caveats

	if err := flat.validate(); err != nil {
		return Delegation{}, fmt.Errorf("%w: delegation: %w", domain.ErrEncoding, err)
	}
	return flat, nil
}

func (d *Delegation) validate() error {
	if !common.IsHexAddress(d.Delegate) {
		return fmt.Errorf("delegate %q is not an address", d.Delegate)
	}
	if !common.IsHexAddress(d.Delegator) {
		return fmt.Errorf("delegator %q is not an address", d.Delegator)
	}
	if auth, err := hexutil.Decode(d.Authority); err != nil || len(auth) != 32 {
		return fmt.Errorf("authority %q is not 32 bytes of hex", d.Authority)
	}
	if _, err := d.Salt.Big(); err != nil {
		return fmt.Errorf("salt: %w", err)
	}
	if sig, err := hexutil.Decode(d.Signature); err != nil || len(sig) == 0 {
		return fmt.Errorf("signature is required")
	}
	for i, c := range d.Caveats {
		if !common.IsHexAddress(c.Enforcer) {
			return fmt.Errorf("caveat %d: enforcer %q is not an address", i, c.Enforcer)
		}
		if _, err := decodeHexField(c.Terms); err != nil {
			return fmt.Errorf("caveat %d: terms: %w", i, err)
		}
		if _, err := hexutil.Decode(c.Args); err != nil {
			return fmt.Errorf("caveat %d: args: %w", i, err)
		}
	}
	return nil
}

// decodeHexField decodes hex that may legitimately be empty ("" or "0x").
func decodeHexField(s string) ([]byte, error) {
	if s == "" || s == "0x" {
		return []byte{}, nil
	}
	return hexutil.Decode(s)
}
