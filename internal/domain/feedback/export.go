package feedback

// ExportEntry is the public JSON shape served at /.well-known/feedback.json.
// Field names are fixed by consumers and intentionally mix casing.
type ExportEntry struct {
	FeedbackAuthID string         `json:"FeedbackAuthID"`
	AgentSkillID   string         `json:"AgentSkillId"`
	TaskID         string         `json:"TaskId"`
	ContextID      string         `json:"contextId"`
	Rating         int            `json:"Rating"`
	Domain         string         `json:"Domain"`
	Data           ExportData     `json:"Data"`
	ProofOfPayment *ExportPayment `json:"ProofOfPayment,omitempty"`
}

// ExportData carries free-form feedback content.
type ExportData struct {
	Notes string `json:"notes"`
}

// ExportPayment references the payment the feedback relates to.
type ExportPayment struct {
	TxHash string `json:"txHash"`
}

// Export converts records to the export view, preserving their order.
func Export(records []Record) []ExportEntry {
	out := make([]ExportEntry, 0, len(records))
	for i := range records {
		r := &records[i]
		e := ExportEntry{
			FeedbackAuthID: r.FeedbackAuthID,
			AgentSkillID:   r.AgentSkillID,
			TaskID:         r.TaskID,
			ContextID:      r.ContextID,
			Rating:         r.Rating,
			Domain:         r.Domain,
			Data:           ExportData{Notes: r.Notes},
		}
		if r.ProofOfPayment != "" {
			e.ProofOfPayment = &ExportPayment{TxHash: r.ProofOfPayment}
		}
		out = append(out, e)
	}
	return out
}
