package delegation

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/Strob0t/FeedbackForge/internal/domain"
)

// ExecutionMode is an ERC-7579 mode word: call type, exec type, selector, payload.
type ExecutionMode [32]byte

// Execution modes used by the delegation manager and ERC-7579 accounts.
var (
	SingleDefaultMode = ExecutionMode{}
	BatchDefaultMode  = ExecutionMode{0x01}
)

// Execution is one contract call made on the delegator's behalf.
type Execution struct {
	Target   common.Address
	Value    *big.Int
	CallData []byte
}

// Redemption is the argument set of redeemDelegations. Index i of each slice
// belongs to the same redemption.
type Redemption struct {
	Delegations [][]Delegation
	Modes       []ExecutionMode
	Executions  [][]Execution
}

const delegationManagerABI = `[{"type":"function","name":"redeemDelegations","stateMutability":"nonpayable","inputs":[{"name":"_permissionContexts","type":"bytes[]"},{"name":"_modes","type":"bytes32[]"},{"name":"_executionCallDatas","type":"bytes[]"}],"outputs":[]}]`

var (
	managerABI = mustParseABI(delegationManagerABI)

	delegationsArgs = abi.Arguments{{Type: mustType("tuple[]", []abi.ArgumentMarshaling{
		{Name: "delegate", Type: "address"},
		{Name: "delegator", Type: "address"},
		{Name: "authority", Type: "bytes32"},
		{Name: "caveats", Type: "tuple[]", Components: []abi.ArgumentMarshaling{
			{Name: "enforcer", Type: "address"},
			{Name: "terms", Type: "bytes"},
			{Name: "args", Type: "bytes"},
		}},
		{Name: "salt", Type: "uint256"},
		{Name: "signature", Type: "bytes"},
	})}}

	executionsArgs = abi.Arguments{{Type: mustType("tuple[]", []abi.ArgumentMarshaling{
		{Name: "target", Type: "address"},
		{Name: "value", Type: "uint256"},
		{Name: "callData", Type: "bytes"},
	})}}
)

// abiCaveat and abiDelegation mirror the Solidity structs; field names follow
// the ABI component names.
type abiCaveat struct {
	Enforcer common.Address
	Terms    []byte
	Args     []byte
}

type abiDelegation struct {
	Delegate  common.Address
	Delegator common.Address
	Authority [32]byte
	Caveats   []abiCaveat
	Salt      *big.Int
	Signature []byte
}

type abiExecution struct {
	Target   common.Address
	Value    *big.Int
	CallData []byte
}

// EncodeRedeem encodes a single-mode redeemDelegations call that runs one
// execution through the given delegation chain (leaf first).
func EncodeRedeem(chain []Delegation, exec Execution) ([]byte, error) {
	return Redemption{
		Delegations: [][]Delegation{chain},
		Modes:       []ExecutionMode{SingleDefaultMode},
		Executions:  [][]Execution{{exec}},
	}.Encode()
}

// Encode produces redeemDelegations calldata.
func (r Redemption) Encode() ([]byte, error) {
	if len(r.Delegations) == 0 || len(r.Delegations) != len(r.Modes) || len(r.Modes) != len(r.Executions) {
		return nil, fmt.Errorf("%w: redemption needs matching delegations, modes and executions", domain.ErrEncoding)
	}

	contexts := make([][]byte, len(r.Delegations))
	modes := make([][32]byte, len(r.Modes))
	calls := make([][]byte, len(r.Executions))

	for i := range r.Delegations {
		ctx, err := PermissionContext(r.Delegations[i])
		if err != nil {
			return nil, err
		}
		contexts[i] = ctx
		modes[i] = r.Modes[i]

		switch r.Modes[i] {
		case SingleDefaultMode:
			if len(r.Executions[i]) != 1 {
				return nil, fmt.Errorf("%w: single mode takes exactly one execution, got %d", domain.ErrEncoding, len(r.Executions[i]))
			}
			calls[i], err = EncodeSingleExecution(r.Executions[i][0])
		case BatchDefaultMode:
			calls[i], err = EncodeBatchExecution(r.Executions[i])
		default:
			err = fmt.Errorf("%w: unsupported execution mode %x", domain.ErrEncoding, r.Modes[i][:2])
		}
		if err != nil {
			return nil, err
		}
	}

	data, err := managerABI.Pack("redeemDelegations", contexts, modes, calls)
	if err != nil {
		return nil, fmt.Errorf("%w: pack redeemDelegations: %w", domain.ErrEncoding, err)
	}
	return data, nil
}

// PermissionContext ABI-encodes a normalized delegation chain as Delegation[].
func PermissionContext(chain []Delegation) ([]byte, error) {
	if len(chain) == 0 {
		return nil, fmt.Errorf("%w: empty delegation chain", domain.ErrEncoding)
	}
	out := make([]abiDelegation, 0, len(chain))
	for i := range chain {
		d, err := Normalize(chain[i])
		if err != nil {
			return nil, err
		}
		ad, err := d.toABI()
		if err != nil {
			return nil, err
		}
		out = append(out, ad)
	}
	data, err := delegationsArgs.Pack(out)
	if err != nil {
		return nil, fmt.Errorf("%w: pack delegations: %w", domain.ErrEncoding, err)
	}
	return data, nil
}

// EncodeSingleExecution packs target, value and calldata back to back.
func EncodeSingleExecution(e Execution) ([]byte, error) {
	if e.Target == (common.Address{}) {
		return nil, fmt.Errorf("%w: execution target is required", domain.ErrEncoding)
	}
	value := e.Value
	if value == nil {
		value = new(big.Int)
	}
	if value.Sign() < 0 || value.BitLen() > 256 {
		return nil, fmt.Errorf("%w: execution value out of range", domain.ErrEncoding)
	}
	out := make([]byte, 0, common.AddressLength+32+len(e.CallData))
	out = append(out, e.Target.Bytes()...)
	out = append(out, common.LeftPadBytes(value.Bytes(), 32)...)
	out = append(out, e.CallData...)
	return out, nil
}

// EncodeBatchExecution ABI-encodes executions as Execution[].
func EncodeBatchExecution(execs []Execution) ([]byte, error) {
	if len(execs) == 0 {
		return nil, fmt.Errorf("%w: batch needs at least one execution", domain.ErrEncoding)
	}
	out := make([]abiExecution, len(execs))
	for i, e := range execs {
		if e.Target == (common.Address{}) {
			return nil, fmt.Errorf("%w: execution %d target is required", domain.ErrEncoding, i)
		}
		value := e.Value
		if value == nil {
			value = new(big.Int)
		}
		out[i] = abiExecution{Target: e.Target, Value: value, CallData: e.CallData}
	}
	data, err := executionsArgs.Pack(out)
	if err != nil {
		return nil, fmt.Errorf("%w: pack executions: %w", domain.ErrEncoding, err)
	}
	return data, nil
}

// toABI converts a normalized delegation. Validation already ran in Normalize.
func (d *Delegation) toABI() (abiDelegation, error) {
	var authority [32]byte
	copy(authority[:], hexutil.MustDecode(d.Authority))

	salt, err := d.Salt.Big()
	if err != nil {
		return abiDelegation{}, fmt.Errorf("%w: salt: %w", domain.ErrEncoding, err)
	}

	caveats := make([]abiCaveat, len(d.Caveats))
	for i, c := range d.Caveats {
		terms, err := decodeHexField(c.Terms)
		if err != nil {
			return abiDelegation{}, fmt.Errorf("%w: caveat %d terms: %w", domain.ErrEncoding, i, err)
		}
		caveats[i] = abiCaveat{
			Enforcer: common.HexToAddress(c.Enforcer),
			Terms:    terms,
			Args:     hexutil.MustDecode(c.Args),
		}
	}

	return abiDelegation{
		Delegate:  common.HexToAddress(d.Delegate),
		Delegator: common.HexToAddress(d.Delegator),
		Authority: authority,
		Caveats:   caveats,
		Salt:      salt,
		Signature: hexutil.MustDecode(d.Signature),
	}, nil
}

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("delegation: parse abi: %v", err))
	}
	return parsed
}

func mustType(t string, components []abi.ArgumentMarshaling) abi.Type {
	typ, err := abi.NewType(t, "", components)
	if err != nil {
		panic(fmt.Sprintf("delegation: abi type %s: %v", t, err))
	}
	return typ
}
