package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/Strob0t/FeedbackForge/internal/adapter/ethereum"
	cfhttp "github.com/Strob0t/FeedbackForge/internal/adapter/http"
	"github.com/Strob0t/FeedbackForge/internal/adapter/jsonfile"
	"github.com/Strob0t/FeedbackForge/internal/domain"
	"github.com/Strob0t/FeedbackForge/internal/domain/agent"
	"github.com/Strob0t/FeedbackForge/internal/domain/feedback"
	"github.com/Strob0t/FeedbackForge/internal/domain/feedbackauth"
	"github.com/Strob0t/FeedbackForge/internal/port/chain"
	"github.com/Strob0t/FeedbackForge/internal/service"
)

var (
	registryAddr = common.HexToAddress("0x5555555555555555555555555555555555555555")
	identityAddr = common.HexToAddress("0x6666666666666666666666666666666666666666")
	clientAddr   = common.HexToAddress("0x1111111111111111111111111111111111111111")
)

type stubReputation struct {
	lastIndex      uint64
	lastIndexCalls int
	err            error
}

var _ chain.ReputationRegistry = (*stubReputation)(nil)

func (s *stubReputation) Address() common.Address { return registryAddr }
func (s *stubReputation) IdentityRegistry(context.Context) (common.Address, error) {
	return identityAddr, s.err
}
func (s *stubReputation) LastIndex(context.Context, *big.Int, common.Address) (uint64, error) {
	s.lastIndexCalls++
	return s.lastIndex, s.err
}
func (s *stubReputation) FeedbackAuthID(context.Context, *big.Int, *big.Int) ([32]byte, error) {
	return [32]byte{}, s.err
}
func (s *stubReputation) IsFeedbackAuthorized(context.Context, *big.Int, *big.Int) (bool, [32]byte, error) {
	return false, [32]byte{}, s.err
}

type stubIdentity struct {
	agents map[string]agent.Identity
}

var _ chain.IdentityRegistry = (*stubIdentity)(nil)

func (s *stubIdentity) Address() common.Address { return identityAddr }
func (s *stubIdentity) ResolveDomain(_ context.Context, _, d string) (agent.Identity, error) {
	if a, ok := s.agents[d]; ok {
		return a, nil
	}
	return agent.Identity{}, domain.ErrNotFound
}
func (s *stubIdentity) ResolveByAddress(context.Context, common.Address) (agent.Identity, error) {
	return agent.Identity{}, domain.ErrNotFound
}
func (s *stubIdentity) GetAgent(context.Context, *big.Int) (agent.Identity, error) {
	return agent.Identity{}, domain.ErrNotFound
}

type fixture struct {
	router http.Handler
	h      *cfhttp.Handlers
	rep    *stubReputation
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := jsonfile.New(filepath.Join(t.TempDir(), "feedback.json"))
	if err != nil {
		t.Fatal(err)
	}
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	rep := &stubReputation{lastIndex: 1}
	auth := service.NewAuthorizationService(rep, ethereum.NewKeyAccount(key), 11155111, time.Hour, nil)
	auth.SetMaxTTL(24 * time.Hour)
	ident := &stubIdentity{agents: map[string]agent.Identity{
		"self.test":   {ID: big.NewInt(5), Domain: "self.test", Address: common.HexToAddress("0xaa")},
		"finder.test": {ID: big.NewInt(6), Domain: "finder.test", Address: common.HexToAddress("0xbb")},
	}}
	dir, err := service.NewAgentDirectory(ident, nil, time.Minute, nil)
	if err != nil {
		t.Fatal(err)
	}

	h := &cfhttp.Handlers{
		Feedback:   service.NewFeedbackService(store, rep, auth, 11155111, nil),
		Auth:       auth,
		Directory:  dir,
		SelfDomain: "self.test",
		Peers:      map[string]string{"finder": "finder.test", "reserve": "reserve.test"},
	}
	hash, err := bcrypt.GenerateFromPassword([]byte("k3y"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	r := chi.NewRouter()
	cfhttp.MountRoutes(r, h, string(hash))
	return &fixture{router: r, h: h, rep: rep}
}

func (f *fixture) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestSubmitFeedback(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/feedback", map[string]any{
		"rating": 3, "domain": "finder.test", "notes": "ok", "feedbackAuthId": "given",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	res := decode[feedback.SubmitResult](t, rec)
	if res.Status != feedback.StatusOK || res.Rating != 60 || res.ID == 0 {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestSubmitFeedbackInvalidRating(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/feedback", map[string]any{"rating": 6, "domain": "finder.test"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	res := decode[feedback.SubmitResult](t, rec)
	if res.Status != feedback.StatusError || res.Error == "" {
		t.Errorf("unexpected result %+v", res)
	}

	list := f.do(t, http.MethodGet, "/api/v1/feedback", nil)
	if recs := decode[[]feedback.Record](t, list); len(recs) != 0 {
		t.Errorf("nothing should be stored, got %d records", len(recs))
	}
}

func TestSubmitFeedbackBadBody(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/feedback", bytes.NewBufferString("{"))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestListStatsAndExport(t *testing.T) {
	f := newFixture(t)
	for _, body := range []map[string]any{
		{"rating": 4, "domain": "a.test", "feedbackAuthId": "x"},
		{"rating": 5, "domain": "b.test", "feedbackAuthId": "y", "proofOfPayment": "0xabc", "taskId": "t1"},
	} {
		if rec := f.do(t, http.MethodPost, "/api/v1/feedback", body); rec.Code != http.StatusCreated {
			t.Fatalf("seed: %d %s", rec.Code, rec.Body.String())
		}
	}

	recs := decode[[]feedback.Record](t, f.do(t, http.MethodGet, "/api/v1/feedback?domain=a.test", nil))
	if len(recs) != 1 || recs[0].Rating != 80 {
		t.Errorf("unexpected records %+v", recs)
	}

	stats := decode[feedback.Stats](t, f.do(t, http.MethodGet, "/api/v1/feedback/stats", nil))
	if stats.Total != 2 || stats.AverageRating != 90 || stats.ByDomain["a.test"] != 1 || stats.ByDomain["b.test"] != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}

	rec := f.do(t, http.MethodGet, "/.well-known/feedback.json", nil)
	var export []map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&export); err != nil {
		t.Fatal(err)
	}
	if len(export) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(export))
	}
	newest := export[0]
	if newest["Domain"] != "b.test" || newest["TaskId"] != "t1" {
		t.Errorf("unexpected export entry %v", newest)
	}
	if pop, ok := newest["ProofOfPayment"].(map[string]any); !ok || pop["txHash"] != "0xabc" {
		t.Errorf("expected ProofOfPayment.txHash, got %v", newest["ProofOfPayment"])
	}
	if _, ok := export[1]["ProofOfPayment"]; ok {
		t.Error("ProofOfPayment should be omitted when absent")
	}
}

func TestCreateFeedbackAuth(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/feedback-auth", map[string]any{"clientAddress": clientAddr.Hex(), "ttlSeconds": 60})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	view := decode[service.AuthorizationView](t, rec)
	if view.AgentID != "5" || view.IndexLimit != 2 || view.IdentityRegistry != identityAddr.Hex() {
		t.Errorf("unexpected view %+v", view)
	}
	signed, err := feedbackauth.Decode(common.FromHex(view.FeedbackAuth))
	if err != nil {
		t.Fatal(err)
	}
	who, err := signed.RecoverSigner(registryAddr)
	if err != nil {
		t.Fatal(err)
	}
	if who.Hex() != view.Signer {
		t.Errorf("recovered %s, view says %s", who.Hex(), view.Signer)
	}
}

func TestCreateFeedbackAuthOverrides(t *testing.T) {
	f := newFixture(t)
	f.rep.err = errors.New("chain unreachable")

	rec := f.do(t, http.MethodPost, "/api/v1/feedback-auth/overrides", map[string]any{
		"agentId":       "9",
		"clientAddress": clientAddr.Hex(),
		"ttlSeconds":    10,
		"overrides": map[string]any{
			"identityRegistry": identityAddr.Hex(),
			"indexLimit":       "340282366920938463463374607431768211456",
			"chainId":          "84532",
			"now":              1000,
		},
	}, "X-API-Key", "k3y")
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	view := decode[service.AuthorizationView](t, rec)
	if view.IndexLimit != ^uint64(0) || view.Expiry != 1010 || view.ChainID != "84532" {
		t.Errorf("unexpected view %+v", view)
	}
}

func TestCreateFeedbackAuthErrors(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		body map[string]any
		want int
	}{
		{"missing client", map[string]any{}, http.StatusBadRequest},
		{"bad client", map[string]any{"clientAddress": "0x12"}, http.StatusBadRequest},
		{"bad agent", map[string]any{"clientAddress": clientAddr.Hex(), "agentId": "x"}, http.StatusBadRequest},
		{"bad override", map[string]any{"clientAddress": clientAddr.Hex(), "overrides": map[string]any{"chainId": "-1"}}, http.StatusBadRequest},
		{"ttl above maximum", map[string]any{"clientAddress": clientAddr.Hex(), "ttlSeconds": 24*60*60 + 1}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := f.do(t, http.MethodPost, "/api/v1/feedback-auth/overrides", tt.body, "X-API-Key", "k3y"); rec.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
		})
	}

	f.rep.err = domain.ErrChainRead
	rec := f.do(t, http.MethodPost, "/api/v1/feedback-auth", map[string]any{"clientAddress": clientAddr.Hex()})
	if rec.Code != http.StatusBadGateway {
		t.Errorf("chain read failure: expected 502, got %d", rec.Code)
	}
}

func TestCreateFeedbackAuthPublicRouteRejectsOverrides(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		body map[string]any
	}{
		{"index limit", map[string]any{"clientAddress": clientAddr.Hex(), "overrides": map[string]any{"indexLimit": "18446744073709551615"}}},
		{"now", map[string]any{"clientAddress": clientAddr.Hex(), "overrides": map[string]any{"now": 1000}}},
		{"identity registry", map[string]any{"clientAddress": clientAddr.Hex(), "overrides": map[string]any{"identityRegistry": identityAddr.Hex()}}},
		{"chain id", map[string]any{"clientAddress": clientAddr.Hex(), "overrides": map[string]any{"chainId": "1"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := f.do(t, http.MethodPost, "/api/v1/feedback-auth", tt.body); rec.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d: %s", rec.Code, rec.Body.String())
			}
		})
	}

	rec := f.do(t, http.MethodPost, "/api/v1/feedback-auth/overrides", tests[0].body)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("overrides route without key: expected 401, got %d", rec.Code)
	}
}

func TestCreateFeedbackAuthCapsTTL(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/feedback-auth", map[string]any{
		"clientAddress": clientAddr.Hex(),
		"ttlSeconds":    int64(9000000000000000000),
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
	if f.rep.lastIndexCalls != 0 {
		t.Errorf("rejected request must not reach the chain, got %d reads", f.rep.lastIndexCalls)
	}

	rec = f.do(t, http.MethodPost, "/api/v1/feedback-auth", map[string]any{
		"clientAddress": clientAddr.Hex(),
		"ttlSeconds":    24 * 60 * 60,
	})
	if rec.Code != http.StatusCreated {
		t.Errorf("ttl at the maximum: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestCreateFeedbackAuthWithoutSigner(t *testing.T) {
	f := newFixture(t)
	f.h.Auth = nil
	rec := f.do(t, http.MethodPost, "/api/v1/feedback-auth", map[string]any{"clientAddress": clientAddr.Hex()})
	if rec.Code != http.StatusFailedDependency {
		t.Errorf("expected 424, got %d", rec.Code)
	}
}

func TestRedeemRequiresAPIKey(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/delegations/redeem", map[string]any{"callData": "0x12345678"})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without key, got %d", rec.Code)
	}

	rec = f.do(t, http.MethodPost, "/api/v1/delegations/redeem", map[string]any{"callData": "0x12345678"}, "X-API-Key", "k3y")
	if rec.Code != http.StatusFailedDependency {
		t.Errorf("expected 424 without a session package, got %d", rec.Code)
	}

	rec = f.do(t, http.MethodPost, "/api/v1/delegations/authorize-client", map[string]any{"clientAgentId": "1", "serverAgentId": "2"}, "Authorization", "Bearer k3y")
	if rec.Code != http.StatusFailedDependency {
		t.Errorf("expected 424 without a session package, got %d", rec.Code)
	}
}

func TestAgentIDs(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/.well-known/agent-ids", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var out map[string]*struct {
		AgentID int64  `json:"agentId"`
		Domain  string `json:"domain"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out["finder"] == nil || out["finder"].AgentID != 6 {
		t.Errorf("finder = %+v", out["finder"])
	}
	if v, ok := out["reserve"]; !ok || v != nil {
		t.Errorf("unresolved peer should be null, got %+v (present=%v)", v, ok)
	}
}

func TestResolveAgent(t *testing.T) {
	f := newFixture(t)
	if rec := f.do(t, http.MethodGet, "/api/v1/agents/resolve?domain=finder.test", nil); rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/api/v1/agents/resolve", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	f.h.Checks = map[string]func(context.Context) error{
		"store": func(context.Context) error { return nil },
	}
	if rec := f.do(t, http.MethodGet, "/health", nil); rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	f.h.Checks["nats"] = func(context.Context) error { return errors.New("disconnected") }
	rec := f.do(t, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
}
