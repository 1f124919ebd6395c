// Package feedbackauth builds and encodes ERC-8004 feedback authorizations:
// signed, time- and index-bounded permissions for one client to leave
// feedback about one agent.
package feedbackauth

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/Strob0t/FeedbackForge/internal/domain"
)

// DomainTag separates feedback-authorization digests from every other
// message the signer may sign.
const DomainTag = "erc8004.feedback-auth.v1"

// SignatureLength is the length of an r||s||v secp256k1 signature.
const SignatureLength = 65

// encodedLength is the size of the ABI-encoded seven-field tuple.
const encodedLength = 7 * 32

// Payload is the authorization tuple verified by the reputation registry.
type Payload struct {
	AgentID                 *big.Int       `json:"agentId"`
	ClientAddress           common.Address `json:"clientAddress"`
	IndexLimit              uint64         `json:"indexLimit"`
	Expiry                  uint64         `json:"expiry"`
	ChainID                 *big.Int       `json:"chainId"`
	IdentityRegistryAddress common.Address `json:"identityRegistryAddress"`
	SignerAddress           common.Address `json:"signerAddress"`
}

var payloadArgs = abi.Arguments{
	{Name: "agentId", Type: mustType("uint256")},
	{Name: "clientAddress", Type: mustType("address")},
	{Name: "indexLimit", Type: mustType("uint64")},
	{Name: "expiry", Type: mustType("uint64")},
	{Name: "chainId", Type: mustType("uint256")},
	{Name: "identityRegistry", Type: mustType("address")},
	{Name: "signerAddress", Type: mustType("address")},
}

// Digest returns the domain-separated hash the signer signs. Fields are
// packed at their natural widths: uint256 as 32 bytes, uint64 as 8 bytes,
// addresses as 20 bytes.
func (p *Payload) Digest(registry common.Address) ([]byte, error) {
	if err := p.check(); err != nil {
		return nil, err
	}
	buf := make([]byte, 0, len(DomainTag)+32+20+20+32+20+8+8+20)
	buf = append(buf, DomainTag...)
	buf = append(buf, common.LeftPadBytes(p.ChainID.Bytes(), 32)...)
	buf = append(buf, registry.Bytes()...)
	buf = append(buf, p.IdentityRegistryAddress.Bytes()...)
	buf = append(buf, common.LeftPadBytes(p.AgentID.Bytes(), 32)...)
	buf = append(buf, p.ClientAddress.Bytes()...)
	buf = binary.BigEndian.AppendUint64(buf, p.IndexLimit)
	buf = binary.BigEndian.AppendUint64(buf, p.Expiry)
	buf = append(buf, p.SignerAddress.Bytes()...)
	return crypto.Keccak256(buf), nil
}

// Encode returns abi.encode(agentId, clientAddress, indexLimit, expiry,
// chainId, identityRegistry, signerAddress).
func (p *Payload) Encode() ([]byte, error) {
	if err := p.check(); err != nil {
		return nil, err
	}
	data, err := payloadArgs.Pack(p.AgentID, p.ClientAddress, p.IndexLimit, p.Expiry, p.ChainID, p.IdentityRegistryAddress, p.SignerAddress)
	if err != nil {
		return nil, fmt.Errorf("%w: pack feedback auth: %w", domain.ErrEncoding, err)
	}
	return data, nil
}

func (p *Payload) check() error {
	if p.AgentID == nil || p.AgentID.Sign() < 0 || p.AgentID.BitLen() > 256 {
		return fmt.Errorf("%w: agent id must be a uint256", domain.ErrEncoding)
	}
	if p.ChainID == nil || p.ChainID.Sign() <= 0 || p.ChainID.BitLen() > 256 {
		return fmt.Errorf("%w: chain id must be a positive uint256", domain.ErrEncoding)
	}
	return nil
}

// Signed is an encoded payload followed by its signature.
type Signed struct {
	Payload   Payload `json:"payload"`
	Signature []byte  `json:"signature"`
}

// Bytes returns the encoded tuple concatenated with the signature.
func (s *Signed) Bytes() ([]byte, error) {
	enc, err := s.Payload.Encode()
	if err != nil {
		return nil, err
	}
	return append(enc, s.Signature...), nil
}

// Decode splits signed authorization bytes into the payload and signature.
func Decode(data []byte) (Signed, error) {
	if len(data) < encodedLength {
		return Signed{}, fmt.Errorf("%w: feedback auth is %d bytes, need at least %d", domain.ErrEncoding, len(data), encodedLength)
	}
	vals, err := payloadArgs.Unpack(data[:encodedLength])
	if err != nil {
		return Signed{}, fmt.Errorf("%w: unpack feedback auth: %w", domain.ErrEncoding, err)
	}
	p := Payload{
		AgentID:                 vals[0].(*big.Int),
		ClientAddress:           vals[1].(common.Address),
		IndexLimit:              vals[2].(uint64),
		Expiry:                  vals[3].(uint64),
		ChainID:                 vals[4].(*big.Int),
		IdentityRegistryAddress: vals[5].(common.Address),
		SignerAddress:           vals[6].(common.Address),
	}
	sig := make([]byte, len(data)-encodedLength)
	copy(sig, data[encodedLength:])
	return Signed{Payload: p, Signature: sig}, nil
}

// RecoverSigner returns the address whose personal signature over the
// payload digest is s.Signature.
func (s *Signed) RecoverSigner(registry common.Address) (common.Address, error) {
	if len(s.Signature) != SignatureLength {
		return common.Address{}, fmt.Errorf("%w: signature is %d bytes", domain.ErrSigning, len(s.Signature))
	}
	digest, err := s.Payload.Digest(registry)
	if err != nil {
		return common.Address{}, err
	}
	sig := make([]byte, SignatureLength)
	copy(sig, s.Signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pub, err := crypto.SigToPub(accounts.TextHash(digest), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: recover: %w", domain.ErrSigning, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

var maxUint64 = new(big.Int).SetUint64(math.MaxUint64)

// ClampUint64 bounds v to [0, 2^64-1] and reports whether it had to.
func ClampUint64(v *big.Int) (uint64, bool) {
	switch {
	case v == nil || v.Sign() < 0:
		return 0, v != nil
	case v.Cmp(maxUint64) > 0:
		return math.MaxUint64, true
	default:
		return v.Uint64(), false
	}
}

// NextIndexLimit returns lastIndex+1 clamped to uint64.
func NextIndexLimit(lastIndex uint64) (uint64, bool) {
	return ClampUint64(new(big.Int).Add(new(big.Int).SetUint64(lastIndex), big.NewInt(1)))
}

// ExpiryAt returns now+ttl clamped to uint64.
func ExpiryAt(nowUnix, ttlSeconds int64) (uint64, bool) {
	return ClampUint64(new(big.Int).Add(big.NewInt(nowUnix), big.NewInt(ttlSeconds)))
}

func mustType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(fmt.Sprintf("feedbackauth: abi type %s: %v", t, err))
	}
	return typ
}
