package service

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/Strob0t/FeedbackForge/internal/domain"
	"github.com/Strob0t/FeedbackForge/internal/domain/agent"
	"github.com/Strob0t/FeedbackForge/internal/domain/feedback"
	"github.com/Strob0t/FeedbackForge/internal/domain/userop"
	"github.com/Strob0t/FeedbackForge/internal/port/broadcast"
	"github.com/Strob0t/FeedbackForge/internal/port/chain"
	"github.com/Strob0t/FeedbackForge/internal/port/feedbackstore"
	"github.com/Strob0t/FeedbackForge/internal/port/messagequeue"
)

var (
	_ chain.ReputationRegistry = (*fakeReputation)(nil)
	_ chain.IdentityRegistry   = (*fakeIdentity)(nil)
	_ chain.Account            = (*fakeAccount)(nil)
	_ chain.EntryPoint         = (*fakeEntryPoint)(nil)
	_ chain.Bundler            = (*fakeBundler)(nil)
	_ feedbackstore.Store      = (*fakeStore)(nil)
	_ messagequeue.Queue       = (*fakeQueue)(nil)
	_ broadcast.Broadcaster    = (*fakeBroadcaster)(nil)
)

var (
	testRegistry = common.HexToAddress("0x5555555555555555555555555555555555555555")
	testIdentity = common.HexToAddress("0x6666666666666666666666666666666666666666")
	testClient   = common.HexToAddress("0x1111111111111111111111111111111111111111")
)

type fakeReputation struct {
	mu            sync.Mutex
	lastIndex     uint64
	authorized    bool
	authID        [32]byte
	recordedID    [32]byte
	err           error
	lastIndexHits int
	identityHits  int
	// checks scripts IsFeedbackAuthorized answers in order; once used up the
	// authorized, authID and err fields apply.
	checks []authCheck
}

type authCheck struct {
	ok  bool
	id  [32]byte
	err error
}

func (f *fakeReputation) Address() common.Address { return testRegistry }

func (f *fakeReputation) IdentityRegistry(context.Context) (common.Address, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.identityHits++
	if f.err != nil {
		return common.Address{}, f.err
	}
	return testIdentity, nil
}

func (f *fakeReputation) LastIndex(context.Context, *big.Int, common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastIndexHits++
	if f.err != nil {
		return 0, f.err
	}
	return f.lastIndex, nil
}

func (f *fakeReputation) FeedbackAuthID(context.Context, *big.Int, *big.Int) ([32]byte, error) {
	if f.err != nil {
		return [32]byte{}, f.err
	}
	return f.recordedID, nil
}

func (f *fakeReputation) IsFeedbackAuthorized(context.Context, *big.Int, *big.Int) (bool, [32]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.checks) > 0 {
		c := f.checks[0]
		f.checks = f.checks[1:]
		return c.ok, c.id, c.err
	}
	if f.err != nil {
		return false, [32]byte{}, f.err
	}
	return f.authorized, f.authID, nil
}

type fakeIdentity struct {
	mu       sync.Mutex
	byMethod map[string]agent.Identity
	byAddr   map[common.Address]agent.Identity
	addrErrs []error // scripted ResolveByAddress failures, consumed first
	calls    []string
}

func (f *fakeIdentity) Address() common.Address { return testIdentity }

func (f *fakeIdentity) ResolveDomain(_ context.Context, method, d string) (agent.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, method)
	if id, ok := f.byMethod[method]; ok && id.Domain == d {
		return id, nil
	}
	return agent.Identity{}, fmt.Errorf("%w: %s(%s)", domain.ErrChainRead, method, d)
}

func (f *fakeIdentity) ResolveByAddress(_ context.Context, addr common.Address) (agent.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "resolveByAddress")
	if len(f.addrErrs) > 0 {
		err := f.addrErrs[0]
		f.addrErrs = f.addrErrs[1:]
		return agent.Identity{}, err
	}
	if id, ok := f.byAddr[addr]; ok {
		return id, nil
	}
	return agent.Identity{}, domain.ErrNotFound
}

func (f *fakeIdentity) GetAgent(_ context.Context, id *big.Int) (agent.Identity, error) {
	for _, a := range f.byAddr {
		if a.ID.Cmp(id) == 0 {
			return a, nil
		}
	}
	return agent.Identity{}, domain.ErrNotFound
}

// fakeAccount personal-signs with a real key so signatures can be recovered.
type fakeAccount struct {
	key *ecdsa.PrivateKey
	err error
}

func newFakeAccount(t *testing.T) *fakeAccount {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	return &fakeAccount{key: key}
}

func (a *fakeAccount) Address() common.Address { return crypto.PubkeyToAddress(a.key.PublicKey) }

func (a *fakeAccount) SignMessage(_ context.Context, msg []byte) ([]byte, error) {
	if a.err != nil {
		return nil, a.err
	}
	sig, err := crypto.Sign(accounts.TextHash(msg), a.key)
	if err != nil {
		return nil, err
	}
	sig[64] += 27
	return sig, nil
}

type fakeEntryPoint struct {
	nonce *big.Int
	err   error
}

func (f *fakeEntryPoint) Nonce(context.Context, common.Address, common.Address, *big.Int) (*big.Int, error) {
	if f.err != nil {
		return nil, f.err
	}
	return new(big.Int).Set(f.nonce), nil
}

type fakeBundler struct {
	mu             sync.Mutex
	paymaster      common.Address
	sponsorErr     error
	sendErr        error
	sent           []userop.RPC
	pendingPolls   int
	receiptSuccess bool
	polls          int
}

func (f *fakeBundler) Sponsor(_ context.Context, _ userop.RPC, _ common.Address) (userop.Sponsorship, error) {
	if f.sponsorErr != nil {
		return userop.Sponsorship{}, f.sponsorErr
	}
	return userop.Sponsorship{Paymaster: f.paymaster, PaymasterData: []byte{0xbe, 0xef}}, nil
}

func (f *fakeBundler) Send(_ context.Context, op userop.RPC, _ common.Address) (common.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return common.Hash{}, f.sendErr
	}
	f.sent = append(f.sent, op)
	return common.BytesToHash([]byte{byte(len(f.sent))}), nil
}

func (f *fakeBundler) Receipt(_ context.Context, hash common.Hash) (*userop.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	if f.polls <= f.pendingPolls {
		return nil, nil
	}
	r := &userop.Receipt{
		UserOpHash: hash,
		Success:    f.receiptSuccess,
		Receipt:    userop.TxReceipt{TransactionHash: common.HexToHash("0xfeed")},
	}
	if !r.Success {
		r.Reason = "AA23 reverted"
	}
	return r, nil
}

type fakeStore struct {
	mu      sync.Mutex
	records []feedback.Record
	addErr  error
}

func (s *fakeStore) Add(_ context.Context, r *feedback.Record) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.addErr != nil {
		return 0, s.addErr
	}
	if err := r.Validate(); err != nil {
		return 0, fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}
	rec := *r
	rec.ID = int64(len(s.records) + 1)
	rec.CreatedAt = time.Now()
	s.records = append(s.records, rec)
	return rec.ID, nil
}

func (s *fakeStore) GetAll(context.Context) ([]feedback.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]feedback.Record(nil), s.records...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (s *fakeStore) GetByDomain(ctx context.Context, d string) ([]feedback.Record, error) {
	all, _ := s.GetAll(ctx)
	var out []feedback.Record
	for _, r := range all {
		if r.Domain == d {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *fakeStore) GetStats(ctx context.Context) (feedback.Stats, error) {
	all, _ := s.GetAll(ctx)
	return feedback.ComputeStats(all), nil
}

func (s *fakeStore) Close() error { return nil }

type published struct {
	subject string
	data    []byte
}

type fakeQueue struct {
	mu         sync.Mutex
	published  []published
	handlers   map[string]messagequeue.Handler
	publishErr error
}

func (q *fakeQueue) Publish(_ context.Context, subject string, data []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.publishErr != nil {
		return q.publishErr
	}
	q.published = append(q.published, published{subject, data})
	return nil
}

func (q *fakeQueue) Subscribe(_ context.Context, subject string, h messagequeue.Handler) (func(), error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.handlers == nil {
		q.handlers = make(map[string]messagequeue.Handler)
	}
	if _, dup := q.handlers[subject]; dup {
		return nil, errors.New("already subscribed")
	}
	q.handlers[subject] = h
	return func() {
		q.mu.Lock()
		delete(q.handlers, subject)
		q.mu.Unlock()
	}, nil
}

func (q *fakeQueue) subjects() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, len(q.published))
	for i, p := range q.published {
		out[i] = p.subject
	}
	return out
}

func (q *fakeQueue) Drain() error      { return nil }
func (q *fakeQueue) Close() error      { return nil }
func (q *fakeQueue) IsConnected() bool { return true }

type broadcastEvent struct {
	eventType string
	payload   any
}

type fakeBroadcaster struct {
	mu     sync.Mutex
	events []broadcastEvent
}

func (b *fakeBroadcaster) BroadcastEvent(_ context.Context, eventType string, payload any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, broadcastEvent{eventType, payload})
}
