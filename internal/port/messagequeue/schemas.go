package messagequeue

// FeedbackRecordedPayload is the schema for feedback.recorded messages.
type FeedbackRecordedPayload struct {
	ID             int64  `json:"id"`
	Domain         string `json:"domain"`
	Rating         int    `json:"rating"`
	FeedbackAuthID string `json:"feedback_auth_id"`
	AuthIDSource   string `json:"auth_id_source"`
}

// FeedbackAuthorizedPayload is the schema for feedback.authorized messages.
type FeedbackAuthorizedPayload struct {
	AgentID       string `json:"agent_id"`
	ClientAddress string `json:"client_address"`
	IndexLimit    uint64 `json:"index_limit"`
	Expiry        uint64 `json:"expiry"`
	ChainID       int64  `json:"chain_id"`
}

// UserOpSubmittedPayload is the schema for userop.submitted messages.
type UserOpSubmittedPayload struct {
	UserOpHash string `json:"user_op_hash"`
	Sender     string `json:"sender"`
	ChainID    int64  `json:"chain_id"`
}

// UserOpIncludedPayload is the schema for userop.included messages.
type UserOpIncludedPayload struct {
	UserOpHash      string `json:"user_op_hash"`
	TransactionHash string `json:"transaction_hash"`
	Success         bool   `json:"success"`
	Reason          string `json:"reason,omitempty"`
}
