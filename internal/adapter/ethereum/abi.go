package ethereum

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const agentInfoTuple = `{"type":"tuple","name":"","components":[
	{"name":"agentId","type":"uint256"},
	{"name":"agentDomain","type":"string"},
	{"name":"agentAddress","type":"address"}]}`

var reputationABI = mustABI(`[
	{"type":"function","name":"getIdentityRegistry","stateMutability":"view","inputs":[],
	 "outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"getLastIndex","stateMutability":"view",
	 "inputs":[{"name":"agentId","type":"uint256"},{"name":"clientAddress","type":"address"}],
	 "outputs":[{"name":"","type":"uint64"}]},
	{"type":"function","name":"getFeedbackAuthId","stateMutability":"view",
	 "inputs":[{"name":"agentClientId","type":"uint256"},{"name":"agentServerId","type":"uint256"}],
	 "outputs":[{"name":"","type":"bytes32"}]},
	{"type":"function","name":"isFeedbackAuthorized","stateMutability":"view",
	 "inputs":[{"name":"agentClientId","type":"uint256"},{"name":"agentServerId","type":"uint256"}],
	 "outputs":[{"name":"isAuthorized","type":"bool"},{"name":"feedbackAuthId","type":"bytes32"}]}
]`)

var identityABI = mustABI(`[
	{"type":"function","name":"resolveByDomain","stateMutability":"view",
	 "inputs":[{"name":"agentDomain","type":"string"}],"outputs":[` + agentInfoTuple + `]},
	{"type":"function","name":"getAgentByDomain","stateMutability":"view",
	 "inputs":[{"name":"agentDomain","type":"string"}],"outputs":[` + agentInfoTuple + `]},
	{"type":"function","name":"resolveDomain","stateMutability":"view",
	 "inputs":[{"name":"agentDomain","type":"string"}],"outputs":[` + agentInfoTuple + `]},
	{"type":"function","name":"resolveByAddress","stateMutability":"view",
	 "inputs":[{"name":"agentAddress","type":"address"}],"outputs":[` + agentInfoTuple + `]},
	{"type":"function","name":"getAgent","stateMutability":"view",
	 "inputs":[{"name":"agentId","type":"uint256"}],"outputs":[` + agentInfoTuple + `]}
]`)

var entryPointABI = mustABI(`[
	{"type":"function","name":"getNonce","stateMutability":"view",
	 "inputs":[{"name":"sender","type":"address"},{"name":"key","type":"uint192"}],
	 "outputs":[{"name":"nonce","type":"uint256"}]}
]`)

func mustABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("ethereum: parse abi: %v", err))
	}
	return parsed
}
