// Package userop models ERC-4337 (EntryPoint v0.7) user-operations: their
// packed hash, JSON-RPC wire form and receipts.
package userop

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/Strob0t/FeedbackForge/internal/domain"
)

// EntryPointV07 is the canonical EntryPoint v0.7 deployment.
const EntryPointV07 = "0x0000000071727De22E5E9d8BAf0edAc6f37da032"

// GasConfig holds the fixed gas parameters every operation is built with.
type GasConfig struct {
	CallGasLimit                  uint64
	VerificationGasLimit          uint64
	PreVerificationGas            uint64
	MaxFeePerGas                  *big.Int
	MaxPriorityFeePerGas          *big.Int
	PaymasterVerificationGasLimit uint64
	PaymasterPostOpGasLimit       uint64
}

// UserOperation is an unpacked v0.7 user-operation.
type UserOperation struct {
	Sender                        common.Address
	Nonce                         *big.Int
	Factory                       *common.Address
	FactoryData                   []byte
	CallData                      []byte
	CallGasLimit                  uint64
	VerificationGasLimit          uint64
	PreVerificationGas            uint64
	MaxFeePerGas                  *big.Int
	MaxPriorityFeePerGas          *big.Int
	Paymaster                     *common.Address
	PaymasterVerificationGasLimit uint64
	PaymasterPostOpGasLimit       uint64
	PaymasterData                 []byte
	Signature                     []byte
}

// New builds an unsigned, unsponsored operation with the fixed gas values.
func New(sender common.Address, nonce *big.Int, callData []byte, gas GasConfig) *UserOperation {
	return &UserOperation{
		Sender:                        sender,
		Nonce:                         nonce,
		CallData:                      callData,
		CallGasLimit:                  gas.CallGasLimit,
		VerificationGasLimit:          gas.VerificationGasLimit,
		PreVerificationGas:            gas.PreVerificationGas,
		MaxFeePerGas:                  gas.MaxFeePerGas,
		MaxPriorityFeePerGas:          gas.MaxPriorityFeePerGas,
		PaymasterVerificationGasLimit: gas.PaymasterVerificationGasLimit,
		PaymasterPostOpGasLimit:       gas.PaymasterPostOpGasLimit,
	}
}

// InitCode is factory || factoryData, empty for deployed accounts.
func (op *UserOperation) InitCode() []byte {
	if op.Factory == nil {
		return nil
	}
	return append(op.Factory.Bytes(), op.FactoryData...)
}

// PaymasterAndData is paymaster || uint128 verificationGas || uint128 postOpGas || data.
func (op *UserOperation) PaymasterAndData() []byte {
	if op.Paymaster == nil {
		return nil
	}
	out := make([]byte, 0, 20+32+len(op.PaymasterData))
	out = append(out, op.Paymaster.Bytes()...)
	out = append(out, uint128(new(big.Int).SetUint64(op.PaymasterVerificationGasLimit))...)
	out = append(out, uint128(new(big.Int).SetUint64(op.PaymasterPostOpGasLimit))...)
	return append(out, op.PaymasterData...)
}

var packedArgs = abi.Arguments{
	{Type: mustType("address")},
	{Type: mustType("uint256")},
	{Type: mustType("bytes32")},
	{Type: mustType("bytes32")},
	{Type: mustType("bytes32")},
	{Type: mustType("uint256")},
	{Type: mustType("bytes32")},
	{Type: mustType("bytes32")},
}

var hashArgs = abi.Arguments{
	{Type: mustType("bytes32")},
	{Type: mustType("address")},
	{Type: mustType("uint256")},
}

// Hash returns the userOpHash the EntryPoint at entryPoint computes on chainID.
func (op *UserOperation) Hash(entryPoint common.Address, chainID *big.Int) (common.Hash, error) {
	if op.Nonce == nil || op.MaxFeePerGas == nil || op.MaxPriorityFeePerGas == nil {
		return common.Hash{}, fmt.Errorf("%w: user-operation is missing nonce or fees", domain.ErrEncoding)
	}
	var accountGasLimits, gasFees [32]byte
	copy(accountGasLimits[:16], uint128(new(big.Int).SetUint64(op.VerificationGasLimit)))
	copy(accountGasLimits[16:], uint128(new(big.Int).SetUint64(op.CallGasLimit)))
	copy(gasFees[:16], uint128(op.MaxPriorityFeePerGas))
	copy(gasFees[16:], uint128(op.MaxFeePerGas))

	packed, err := packedArgs.Pack(
		op.Sender,
		op.Nonce,
		crypto.Keccak256Hash(op.InitCode()),
		crypto.Keccak256Hash(op.CallData),
		accountGasLimits,
		new(big.Int).SetUint64(op.PreVerificationGas),
		gasFees,
		crypto.Keccak256Hash(op.PaymasterAndData()),
	)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: pack user-operation: %w", domain.ErrEncoding, err)
	}
	outer, err := hashArgs.Pack(crypto.Keccak256Hash(packed), entryPoint, chainID)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: pack user-operation hash: %w", domain.ErrEncoding, err)
	}
	return crypto.Keccak256Hash(outer), nil
}

// uint128 left-pads v to 16 bytes, truncating anything wider.
func uint128(v *big.Int) []byte {
	b := v.Bytes()
	if len(b) > 16 {
		b = b[len(b)-16:]
	}
	return common.LeftPadBytes(b, 16)
}

// RPC is the JSON form accepted by eth_sendUserOperation.
type RPC struct {
	Sender                        common.Address  `json:"sender"`
	Nonce                         *hexutil.Big    `json:"nonce"`
	Factory                       *common.Address `json:"factory,omitempty"`
	FactoryData                   hexutil.Bytes   `json:"factoryData,omitempty"`
	CallData                      hexutil.Bytes   `json:"callData"`
	CallGasLimit                  hexutil.Uint64  `json:"callGasLimit"`
	VerificationGasLimit          hexutil.Uint64  `json:"verificationGasLimit"`
	PreVerificationGas            hexutil.Uint64  `json:"preVerificationGas"`
	MaxFeePerGas                  *hexutil.Big    `json:"maxFeePerGas"`
	MaxPriorityFeePerGas          *hexutil.Big    `json:"maxPriorityFeePerGas"`
	Paymaster                     *common.Address `json:"paymaster,omitempty"`
	PaymasterVerificationGasLimit *hexutil.Uint64 `json:"paymasterVerificationGasLimit,omitempty"`
	PaymasterPostOpGasLimit       *hexutil.Uint64 `json:"paymasterPostOpGasLimit,omitempty"`
	PaymasterData                 hexutil.Bytes   `json:"paymasterData,omitempty"`
	Signature                     hexutil.Bytes   `json:"signature"`
}

// ToRPC converts the operation to its wire form.
func (op *UserOperation) ToRPC() RPC {
	r := RPC{
		Sender:               op.Sender,
		Nonce:                (*hexutil.Big)(op.Nonce),
		Factory:              op.Factory,
		FactoryData:          op.FactoryData,
		CallData:             op.CallData,
		CallGasLimit:         hexutil.Uint64(op.CallGasLimit),
		VerificationGasLimit: hexutil.Uint64(op.VerificationGasLimit),
		PreVerificationGas:   hexutil.Uint64(op.PreVerificationGas),
		MaxFeePerGas:         (*hexutil.Big)(op.MaxFeePerGas),
		MaxPriorityFeePerGas: (*hexutil.Big)(op.MaxPriorityFeePerGas),
		Signature:            op.Signature,
	}
	if op.Paymaster != nil {
		pvgl := hexutil.Uint64(op.PaymasterVerificationGasLimit)
		ppogl := hexutil.Uint64(op.PaymasterPostOpGasLimit)
		r.Paymaster = op.Paymaster
		r.PaymasterVerificationGasLimit = &pvgl
		r.PaymasterPostOpGasLimit = &ppogl
		r.PaymasterData = op.PaymasterData
	}
	if r.Signature == nil {
		r.Signature = hexutil.Bytes{}
	}
	return r
}

// Sponsorship is the paymaster's answer to pm_sponsorUserOperation.
type Sponsorship struct {
	Paymaster                     common.Address  `json:"paymaster"`
	PaymasterData                 hexutil.Bytes   `json:"paymasterData"`
	PaymasterVerificationGasLimit *hexutil.Uint64 `json:"paymasterVerificationGasLimit,omitempty"`
	PaymasterPostOpGasLimit       *hexutil.Uint64 `json:"paymasterPostOpGasLimit,omitempty"`
}

// ApplySponsorship sets the paymaster fields. Account gas values stay fixed;
// paymaster gas limits are taken from the paymaster when it supplies them
// because its signature covers them.
func (op *UserOperation) ApplySponsorship(s Sponsorship) {
	pm := s.Paymaster
	op.Paymaster = &pm
	op.PaymasterData = s.PaymasterData
	if s.PaymasterVerificationGasLimit != nil {
		op.PaymasterVerificationGasLimit = uint64(*s.PaymasterVerificationGasLimit)
	}
	if s.PaymasterPostOpGasLimit != nil {
		op.PaymasterPostOpGasLimit = uint64(*s.PaymasterPostOpGasLimit)
	}
}

// Receipt is returned by eth_getUserOperationReceipt once the operation is included.
type Receipt struct {
	UserOpHash    common.Hash    `json:"userOpHash"`
	Sender        common.Address `json:"sender"`
	Nonce         *hexutil.Big   `json:"nonce"`
	Paymaster     common.Address `json:"paymaster"`
	Success       bool           `json:"success"`
	Reason        string         `json:"reason,omitempty"`
	ActualGasCost *hexutil.Big   `json:"actualGasCost"`
	ActualGasUsed *hexutil.Big   `json:"actualGasUsed"`
	Receipt       TxReceipt      `json:"receipt"`
}

// TxReceipt is the subset of the bundle transaction receipt we keep.
type TxReceipt struct {
	TransactionHash common.Hash  `json:"transactionHash"`
	BlockNumber     *hexutil.Big `json:"blockNumber"`
}

func mustType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(fmt.Sprintf("userop: abi type %s: %v", t, err))
	}
	return typ
}
