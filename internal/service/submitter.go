package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel/codes"

	cfotel "github.com/Strob0t/FeedbackForge/internal/adapter/otel"
	"github.com/Strob0t/FeedbackForge/internal/domain"
	"github.com/Strob0t/FeedbackForge/internal/domain/delegation"
	"github.com/Strob0t/FeedbackForge/internal/domain/userop"
	"github.com/Strob0t/FeedbackForge/internal/port/chain"
	"github.com/Strob0t/FeedbackForge/internal/port/messagequeue"
)

// SubmitterConfig holds the fixed parameters of every submitted operation.
type SubmitterConfig struct {
	Sender       common.Address
	EntryPoint   common.Address
	ChainID      int64
	Gas          userop.GasConfig
	PollInterval time.Duration
}

// Submitter packages calls into sponsored user-operations signed by the
// session key and sends them through the bundler. Submissions are never
// retried.
type Submitter struct {
	bundler    chain.Bundler
	entryPoint chain.EntryPoint
	signer     chain.Account
	cfg        SubmitterConfig
	events     *Events
	metrics    *cfotel.Metrics
}

// NewSubmitter creates a Submitter.
func NewSubmitter(bundler chain.Bundler, entryPoint chain.EntryPoint, signer chain.Account, cfg SubmitterConfig, events *Events) *Submitter {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	return &Submitter{
		bundler:    bundler,
		entryPoint: entryPoint,
		signer:     signer,
		cfg:        cfg,
		events:     events,
	}
}

// SetMetrics attaches metric instruments.
func (s *Submitter) SetMetrics(m *cfotel.Metrics) { s.metrics = m }

// Sender returns the smart account operations are sent from.
func (s *Submitter) Sender() common.Address { return s.cfg.Sender }

// Submit builds, sponsors, signs and sends an operation executing calls and
// returns the bundler's userOpHash.
func (s *Submitter) Submit(ctx context.Context, calls []delegation.Execution) (common.Hash, error) {
	ctx, span := cfotel.StartSubmissionSpan(ctx, s.cfg.Sender.Hex(), len(calls))
	defer span.End()

	hash, err := s.submit(ctx, calls)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if s.metrics != nil {
			s.metrics.UserOpsFailed.Add(ctx, 1)
		}
		return common.Hash{}, err
	}
	if s.metrics != nil {
		s.metrics.UserOpsSubmitted.Add(ctx, 1)
	}
	s.events.Emit(ctx, messagequeue.SubjectUserOpSubmitted, messagequeue.UserOpSubmittedPayload{
		UserOpHash: hash.Hex(),
		Sender:     s.cfg.Sender.Hex(),
		ChainID:    s.cfg.ChainID,
	})
	slog.InfoContext(ctx, "user-operation submitted", "user_op_hash", hash.Hex(), "sender", s.cfg.Sender.Hex(), "calls", len(calls))
	return hash, nil
}

func (s *Submitter) submit(ctx context.Context, calls []delegation.Execution) (common.Hash, error) {
	callData, err := userop.EncodeAccountCalls(calls)
	if err != nil {
		return common.Hash{}, err
	}
	nonce, err := s.entryPoint.Nonce(ctx, s.cfg.EntryPoint, s.cfg.Sender, nil)
	if err != nil {
		return common.Hash{}, err
	}

	op := userop.New(s.cfg.Sender, nonce, callData, s.cfg.Gas)
	sponsorship, err := s.bundler.Sponsor(ctx, op.ToRPC(), s.cfg.EntryPoint)
	if err != nil {
		return common.Hash{}, err
	}
	op.ApplySponsorship(sponsorship)

	opHash, err := op.Hash(s.cfg.EntryPoint, big.NewInt(s.cfg.ChainID))
	if err != nil {
		return common.Hash{}, err
	}
	sig, err := s.signer.SignMessage(ctx, opHash.Bytes())
	if err != nil {
		if !errors.Is(err, domain.ErrSigning) {
			err = fmt.Errorf("%w: %w", domain.ErrSigning, err)
		}
		return common.Hash{}, err
	}
	op.Signature = sig

	sent, err := s.bundler.Send(ctx, op.ToRPC(), s.cfg.EntryPoint)
	if err != nil {
		return common.Hash{}, err
	}
	if sent != opHash {
		slog.WarnContext(ctx, "bundler returned a different user-operation hash", "computed", opHash.Hex(), "returned", sent.Hex())
	}
	return sent, nil
}

// AwaitReceipt polls the bundler until the operation's receipt is available.
// It has no deadline of its own; cancel ctx to stop waiting.
func (s *Submitter) AwaitReceipt(ctx context.Context, hash common.Hash) (*userop.Receipt, error) {
	start := time.Now()
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		r, err := s.bundler.Receipt(ctx, hash)
		if err != nil {
			return nil, err
		}
		if r != nil {
			s.included(ctx, hash, r, time.Since(start))
			return r, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: waiting for %s: %w", domain.ErrSubmission, hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

func (s *Submitter) included(ctx context.Context, hash common.Hash, r *userop.Receipt, waited time.Duration) {
	if s.metrics != nil {
		s.metrics.InclusionDuration.Record(ctx, waited.Seconds())
		if !r.Success {
			s.metrics.UserOpsFailed.Add(ctx, 1)
		}
	}
	s.events.Emit(ctx, messagequeue.SubjectUserOpIncluded, messagequeue.UserOpIncludedPayload{
		UserOpHash:      hash.Hex(),
		TransactionHash: r.Receipt.TransactionHash.Hex(),
		Success:         r.Success,
		Reason:          r.Reason,
	})
	slog.InfoContext(ctx, "user-operation included",
		"user_op_hash", hash.Hex(),
		"tx_hash", r.Receipt.TransactionHash.Hex(),
		"success", r.Success,
	)
}
