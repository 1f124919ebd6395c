package feedback

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestScaleRating(t *testing.T) {
	tests := []struct {
		stars   int
		want    int
		wantErr bool
	}{
		{stars: 1, want: 20},
		{stars: 3, want: 60},
		{stars: 5, want: 100},
		{stars: 0, wantErr: true},
		{stars: 6, wantErr: true},
		{stars: -1, wantErr: true},
	}
	for _, tt := range tests {
		got, err := ScaleRating(tt.stars)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ScaleRating(%d): expected error", tt.stars)
			}
			continue
		}
		if err != nil {
			t.Errorf("ScaleRating(%d): unexpected error %v", tt.stars, err)
		}
		if got != tt.want {
			t.Errorf("ScaleRating(%d) = %d, want %d", tt.stars, got, tt.want)
		}
	}
}

func TestSubmitRequestValidate(t *testing.T) {
	tests := []struct {
		name   string
		req    SubmitRequest
		errMsg string
	}{
		{name: "valid", req: SubmitRequest{Rating: 4, Domain: "a.test"}},
		{name: "rating too high", req: SubmitRequest{Rating: 6, Domain: "a.test"}, errMsg: "rating 6 must be between 1 and 5"},
		{name: "missing domain", req: SubmitRequest{Rating: 2}, errMsg: "domain is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.errMsg == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || err.Error() != tt.errMsg {
				t.Fatalf("expected %q, got %v", tt.errMsg, err)
			}
		})
	}
}

func TestRecordValidate(t *testing.T) {
	r := Record{Domain: "a.test", Rating: 101}
	if err := r.Validate(); err == nil {
		t.Fatal("expected error for rating above 100")
	}
	r.Rating = 100
	if err := r.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r.Domain = ""
	if err := r.Validate(); err == nil {
		t.Fatal("expected error for empty domain")
	}
}

func TestComputeStatsEmpty(t *testing.T) {
	s := ComputeStats(nil)
	if s.Total != 0 || s.AverageRating != 0 {
		t.Fatalf("expected zero stats, got %+v", s)
	}
	if s.ByDomain == nil || s.ByRating == nil {
		t.Fatal("maps must be non-nil")
	}

	data, err := json.Marshal(s)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"total":0,"averageRating":0,"byDomain":{},"byRating":{}}`
	if string(data) != want {
		t.Fatalf("got %s, want %s", data, want)
	}
}

func TestComputeStatsTwoDomains(t *testing.T) {
	s := ComputeStats([]Record{
		{Domain: "a.test", Rating: 80},
		{Domain: "b.test", Rating: 100},
	})
	if s.Total != 2 {
		t.Fatalf("expected total 2, got %d", s.Total)
	}
	if s.AverageRating != 90 {
		t.Fatalf("expected average 90, got %v", s.AverageRating)
	}
	if s.ByDomain["a.test"] != 1 || s.ByDomain["b.test"] != 1 || len(s.ByDomain) != 2 {
		t.Fatalf("unexpected byDomain %v", s.ByDomain)
	}
	if s.ByRating[80] != 1 || s.ByRating[100] != 1 {
		t.Fatalf("unexpected byRating %v", s.ByRating)
	}
}

func TestExport(t *testing.T) {
	entries := Export([]Record{
		{ID: 2, FeedbackAuthID: "0xabc", AgentSkillID: "finder", TaskID: "t2", ContextID: "c1", Rating: 60, Domain: "a.test", Notes: "ok", ProofOfPayment: "0xdead"},
		{ID: 1, FeedbackAuthID: "eip155:1:0x0", TaskID: "t1", Rating: 100, Domain: "b.test"},
	})
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].TaskID != "t2" || entries[1].TaskID != "t1" {
		t.Fatal("export must preserve record order")
	}
	if entries[1].ProofOfPayment != nil {
		t.Fatal("expected no ProofOfPayment when absent")
	}

	data, err := json.Marshal(entries[0])
	if err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{`"FeedbackAuthID":"0xabc"`, `"AgentSkillId":"finder"`, `"TaskId":"t2"`, `"contextId":"c1"`, `"Rating":60`, `"Domain":"a.test"`, `"Data":{"notes":"ok"}`, `"ProofOfPayment":{"txHash":"0xdead"}`} {
		if !strings.Contains(string(data), key) {
			t.Errorf("export JSON %s missing %s", data, key)
		}
	}
}

func TestFailed(t *testing.T) {
	_, err := ScaleRating(6)
	res := Failed(err)
	if res.Status != StatusError || res.Error == "" {
		t.Fatalf("unexpected result %+v", res)
	}
}
