// Package payment runs the external payment lifecycle:
//
//	initiated -> pending_verification -> completed | failed
//	initiated -> cancelled
//
// The gateway redirect only triggers Verify. The outcome shown to the user is
// always read back from the recorded intent, never from redirect parameters.
package payment

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"walletflow/internal/gateway"
	"walletflow/internal/ledger"
	"walletflow/internal/metrics"
	"walletflow/internal/models"
	"walletflow/internal/notify"
)

// Gateway is the part of the payment gateway the lifecycle depends on.
type Gateway interface {
	Confirm(ctx context.Context, reference string) (gateway.Confirmation, error)
	CheckoutURL(intent *models.PaymentIntent) string
}

// DefaultClaimLease is used when NewService is given no lease. It has to
// outlast a gateway confirmation plus settlement, or a second verifier takes
// over a claim whose owner is still waiting on the gateway.
const DefaultClaimLease = 15 * time.Second

const defaultPollInterval = 200 * time.Millisecond

type Service struct {
	store   ledger.PaymentStore
	gateway Gateway
	events  *notify.Emitter
	logger  *zap.Logger
	flight  singleflight.Group

	// A pending_verification claim the store has seen renewed within
	// claimLease belongs to a verifier that is still running; other verifiers
	// wait for its outcome.
	claimLease   time.Duration
	pollInterval time.Duration
	now          func() time.Time
	newID        func() string
}

func NewService(store ledger.PaymentStore, gw Gateway, events *notify.Emitter, claimLease time.Duration, logger *zap.Logger) *Service {
	if claimLease <= 0 {
		claimLease = DefaultClaimLease
	}
	if events == nil {
		events = notify.NewEmitter(nil, nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:        store,
		gateway:      gw,
		events:       events,
		logger:       logger,
		claimLease:   claimLease,
		pollInterval: defaultPollInterval,
		now:          time.Now,
		newID:        uuid.NewString,
	}
}

// Initiate records a new intent and returns it with the gateway checkout URL.
func (s *Service) Initiate(ctx context.Context, owner string, amount int64, direction models.Direction) (*models.PaymentIntent, string, error) {
	const op = "initiate payment"

	switch {
	case strings.TrimSpace(owner) == "":
		return nil, "", models.Validation(op, "owner is required")
	case amount <= 0:
		return nil, "", models.Validation(op, "amount must be positive")
	case !direction.Valid():
		return nil, "", models.Validation(op, "unknown direction %q", direction)
	}

	now := s.now().UTC()
	intent := &models.PaymentIntent{
		ID:        s.newID(),
		OwnerUser: owner,
		Amount:    amount,
		Direction: direction,
		Status:    models.PaymentInitiated,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.store.CreatePaymentIntent(ctx, intent)
	metrics.RecordPaymentTransition("initiate", err)
	if err != nil {
		return nil, "", err
	}

	s.logger.Info("payment initiated",
		zap.String("intent_id", intent.ID),
		zap.String("owner", owner),
		zap.String("direction", string(direction)),
		zap.Int64("amount", amount),
	)
	return intent, s.gateway.CheckoutURL(intent), nil
}

// Get returns an intent owned by actor.
func (s *Service) Get(ctx context.Context, id, actor string) (*models.PaymentIntent, error) {
	return s.load(ctx, "get payment", id, actor)
}

// Cancel abandons an intent that has not reached the gateway yet.
func (s *Service) Cancel(ctx context.Context, id, actor string) (intent *models.PaymentIntent, err error) {
	const op = "cancel payment"
	defer func() { metrics.RecordPaymentTransition("cancel", err) }()

	intent, err = s.load(ctx, op, id, actor)
	if err != nil {
		return nil, err
	}
	if intent.Status != models.PaymentInitiated {
		return nil, models.InvalidTransition(op, intent.Status, models.PaymentCancelled)
	}

	ok, err := s.store.SetPaymentStatus(ctx, id, models.PaymentInitiated, models.PaymentCancelled)
	if err != nil {
		return nil, err
	}
	if !ok {
		// A verification claimed the intent first.
		return nil, models.InvalidTransition(op, models.PaymentInitiated, models.PaymentCancelled)
	}

	intent.Status = models.PaymentCancelled
	intent.UpdatedAt = s.now().UTC()
	s.logger.Info("payment cancelled", zap.String("intent_id", id))
	s.events.Emit(ctx, s.event(intent, notify.TagPayment))
	return intent, nil
}

// Verify confirms the intent with the gateway and records the outcome once.
// Later calls with the same reference return the recorded outcome with
// Replayed set and touch neither the gateway nor the wallet.
func (s *Service) Verify(ctx context.Context, id, actor, reference string) (res models.VerificationResult, err error) {
	const op = "verify payment"
	defer func() { metrics.RecordPaymentTransition("verify", err) }()

	reference = strings.TrimSpace(reference)
	if reference == "" {
		return models.VerificationResult{}, models.Validation(op, "gateway reference is required")
	}

	intent, err := s.load(ctx, op, id, actor)
	if err != nil {
		return models.VerificationResult{}, err
	}
	if res, done, err := s.recorded(op, intent, reference); done {
		return res, err
	}

	// Concurrent verifies of one intent in this process share one run. The
	// run is detached from any single caller's cancellation.
	shared := context.WithoutCancel(ctx)
	v, err, _ := s.flight.Do(id, func() (interface{}, error) {
		return s.verify(shared, op, id, reference)
	})
	if err != nil {
		return models.VerificationResult{}, err
	}
	return v.(models.VerificationResult), nil
}

func (s *Service) verify(ctx context.Context, op, id, reference string) (models.VerificationResult, error) {
	claimed, err := s.store.ClaimPaymentVerification(ctx, id, reference)
	if err != nil {
		return models.VerificationResult{}, err
	}

	intent, err := s.store.GetPaymentIntent(ctx, id)
	if err != nil {
		return models.VerificationResult{}, err
	}
	if !claimed {
		res, done, err := s.await(ctx, op, intent, reference)
		if done {
			return res, err
		}
	}

	conf, err := s.gateway.Confirm(ctx, reference)
	if err != nil {
		s.logger.Warn("payment confirmation failed, intent stays pending verification",
			zap.String("intent_id", id),
			zap.Error(err),
		)
		return models.VerificationResult{}, err
	}

	settled, won, err := s.store.SettlePayment(ctx, id, s.settlement(intent, conf))
	if err != nil {
		return models.VerificationResult{}, err
	}

	res := models.ResultFromIntent(settled)
	res.Replayed = !won
	if won {
		s.logger.Info("payment verified",
			zap.String("intent_id", id),
			zap.String("status", string(settled.Status)),
			zap.String("reason", settled.FailureReason),
		)
		s.events.Emit(ctx, s.settledEvent(settled))
	} else {
		metrics.RecordVerifyReplay()
	}
	return res, nil
}

// await waits for another verifier's outcome. It reports done=false once the
// store has handed this caller a claim that went stale, and this caller
// should resume confirmation itself.
func (s *Service) await(ctx context.Context, op string, intent *models.PaymentIntent, reference string) (models.VerificationResult, bool, error) {
	for {
		if res, done, err := s.recorded(op, intent, reference); done {
			return res, true, err
		}
		if intent.Status == models.PaymentPendingVerification {
			took, err := s.store.ReclaimPaymentVerification(ctx, intent.ID, reference, s.claimLease)
			if err != nil {
				return models.VerificationResult{}, true, err
			}
			if took {
				s.logger.Warn("resuming stale payment verification",
					zap.String("intent_id", intent.ID),
					zap.Duration("claim_lease", s.claimLease),
				)
				return models.VerificationResult{}, false, nil
			}
		}

		timer := time.NewTimer(s.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return models.VerificationResult{}, true, models.External(op, ctx.Err())
		case <-timer.C:
		}

		next, err := s.store.GetPaymentIntent(ctx, intent.ID)
		if err != nil {
			return models.VerificationResult{}, true, err
		}
		intent = next
	}
}

// recorded decides whether intent already answers a verify call. done=false
// means verification has to run.
func (s *Service) recorded(op string, intent *models.PaymentIntent, reference string) (models.VerificationResult, bool, error) {
	switch {
	case intent.Verified() || intent.Status == models.PaymentCompleted || intent.Status == models.PaymentFailed:
		if intent.GatewayReference != reference {
			return models.VerificationResult{}, true, models.Validation(op, "gateway reference does not match this payment")
		}
		metrics.RecordVerifyReplay()
		res := models.ResultFromIntent(intent)
		res.Replayed = true
		return res, true, nil
	case intent.Status == models.PaymentCancelled:
		return models.VerificationResult{}, true, models.InvalidTransition(op, intent.Status, models.PaymentPendingVerification)
	case intent.Status == models.PaymentPendingVerification && intent.GatewayReference != reference:
		return models.VerificationResult{}, true, models.Validation(op, "gateway reference does not match this payment")
	}
	return models.VerificationResult{}, false, nil
}

func (s *Service) settlement(intent *models.PaymentIntent, conf gateway.Confirmation) models.Settlement {
	st := models.Settlement{Status: models.PaymentCompleted, VerifiedAt: s.now().UTC()}
	switch {
	case conf.Outcome != gateway.OutcomeSucceeded:
		st.Status = models.PaymentFailed
		st.FailureReason = conf.Reason
		if st.FailureReason == "" {
			st.FailureReason = models.ReasonGatewayDeclined
		}
	case conf.Amount != intent.Amount:
		s.logger.Warn("gateway amount differs from intent",
			zap.String("intent_id", intent.ID),
			zap.Int64("intent_amount", intent.Amount),
			zap.Int64("gateway_amount", conf.Amount),
		)
		st.Status = models.PaymentFailed
		st.FailureReason = models.ReasonAmountMismatch
	}
	return st
}

func (s *Service) load(ctx context.Context, op, id, actor string) (*models.PaymentIntent, error) {
	intent, err := s.store.GetPaymentIntent(ctx, id)
	if err != nil {
		return nil, err
	}
	if intent.OwnerUser != actor {
		return nil, models.NotFound(op, "payment intent")
	}
	return intent, nil
}

func (s *Service) settledEvent(intent *models.PaymentIntent) notify.Event {
	if intent.Status == models.PaymentCompleted {
		return s.event(intent, notify.TagWallet, notify.TagTransaction, notify.TagPayment)
	}
	return s.event(intent, notify.TagPayment)
}

func (s *Service) event(intent *models.PaymentIntent, tags ...notify.Tag) notify.Event {
	return notify.Event{
		Tags:     tags,
		Entity:   "payment_intent",
		EntityID: intent.ID,
		Status:   string(intent.Status),
		Users:    []string{intent.OwnerUser},
	}
}
