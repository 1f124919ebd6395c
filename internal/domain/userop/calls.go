package userop

import (
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/Strob0t/FeedbackForge/internal/domain"
	"github.com/Strob0t/FeedbackForge/internal/domain/delegation"
)

var executeArgs = abi.Arguments{
	{Type: mustType("bytes32")},
	{Type: mustType("bytes")},
}

// ExecuteSelector is the ERC-7579 execute(bytes32,bytes) selector.
var ExecuteSelector = crypto.Keccak256([]byte("execute(bytes32,bytes)"))[:4]

// EncodeAccountCalls builds the smart-account callData executing calls.
// A single call uses the single-call mode, several use batch mode.
func EncodeAccountCalls(calls []delegation.Execution) ([]byte, error) {
	var (
		mode delegation.ExecutionMode
		data []byte
		err  error
	)
	switch len(calls) {
	case 0:
		return nil, fmt.Errorf("%w: no calls to execute", domain.ErrEncoding)
	case 1:
		mode = delegation.SingleDefaultMode
		data, err = delegation.EncodeSingleExecution(calls[0])
	default:
		mode = delegation.BatchDefaultMode
		data, err = delegation.EncodeBatchExecution(calls)
	}
	if err != nil {
		return nil, err
	}
	packed, err := executeArgs.Pack([32]byte(mode), data)
	if err != nil {
		return nil, fmt.Errorf("%w: pack execute: %w", domain.ErrEncoding, err)
	}
	return append(append([]byte{}, ExecuteSelector...), packed...), nil
}
