package feedbackauth

import (
	"bytes"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/Strob0t/FeedbackForge/internal/domain"
)

// AcceptFeedbackSelector is the reputation registry's
// acceptFeedback(uint256,uint256) selector.
var AcceptFeedbackSelector = crypto.Keccak256([]byte("acceptFeedback(uint256,uint256)"))[:4]

var acceptArgs = abi.Arguments{
	{Name: "agentClientId", Type: mustType("uint256")},
	{Name: "agentServerId", Type: mustType("uint256")},
}

// EncodeAcceptFeedback returns the calldata authorizing clientID to leave
// feedback about serverID.
func EncodeAcceptFeedback(clientID, serverID *big.Int) ([]byte, error) {
	if clientID == nil || serverID == nil || clientID.Sign() < 0 || serverID.Sign() < 0 {
		return nil, fmt.Errorf("%w: acceptFeedback needs non-negative agent ids", domain.ErrEncoding)
	}
	args, err := acceptArgs.Pack(clientID, serverID)
	if err != nil {
		return nil, fmt.Errorf("%w: pack acceptFeedback: %w", domain.ErrEncoding, err)
	}
	return append(bytes.Clone(AcceptFeedbackSelector), args...), nil
}
