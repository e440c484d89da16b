// Package moneyrequest runs the peer money request lifecycle:
//
//	pending -> approved | rejected | cancelled
//
// All three targets are terminal. The recipient approves or rejects, the
// requester cancels.
package moneyrequest

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"walletflow/internal/ledger"
	"walletflow/internal/metrics"
	"walletflow/internal/models"
	"walletflow/internal/notify"
)

type party int

const (
	requester party = iota
	recipient
)

type Service struct {
	store  ledger.RequestStore
	events *notify.Emitter
	logger *zap.Logger
	now    func() time.Time
	newID  func() string
}

func NewService(store ledger.RequestStore, events *notify.Emitter, logger *zap.Logger) *Service {
	if events == nil {
		events = notify.NewEmitter(nil, nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:  store,
		events: events,
		logger: logger,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// Create validates and persists a new pending request.
func (s *Service) Create(ctx context.Context, fromUser, toUser string, amount int64, description string) (*models.MoneyRequest, error) {
	const op = "create money request"

	fromUser, toUser = strings.TrimSpace(fromUser), strings.TrimSpace(toUser)
	description = strings.TrimSpace(description)
	switch {
	case fromUser == "" || toUser == "":
		return nil, models.Validation(op, "both parties are required")
	case amount <= 0:
		return nil, models.Validation(op, "amount must be positive")
	case fromUser == toUser:
		return nil, models.Validation(op, "cannot request money from yourself")
	case utf8.RuneCountInString(description) > models.MaxDescriptionLength:
		return nil, models.Validation(op, "description longer than %d characters", models.MaxDescriptionLength)
	}

	now := s.now().UTC()
	req := &models.MoneyRequest{
		ID:          s.newID(),
		FromUser:    fromUser,
		ToUser:      toUser,
		Amount:      amount,
		Description: description,
		Status:      models.RequestPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err := s.store.CreateMoneyRequest(ctx, req)
	metrics.RecordRequestTransition("create", err)
	if err != nil {
		return nil, err
	}

	s.logger.Info("money request created",
		zap.String("request_id", req.ID),
		zap.String("from_user", fromUser),
		zap.String("to_user", toUser),
		zap.Int64("amount", amount),
	)
	s.events.Emit(ctx, s.event(req, notify.TagMoneyRequests))
	return req, nil
}

// Approve settles the request: the ledger moves the amount from the
// requester to the recipient and records the approval together. If the ledger
// refuses, the request stays pending.
func (s *Service) Approve(ctx context.Context, id, actor string) (*models.MoneyRequest, error) {
	req, err := s.transition(ctx, "approve", id, actor, recipient, models.RequestApproved)
	if err != nil {
		return nil, err
	}
	s.events.Emit(ctx, s.event(req, notify.TagWallet, notify.TagTransaction, notify.TagMoneyRequests))
	return req, nil
}

// Reject closes the request without moving money.
func (s *Service) Reject(ctx context.Context, id, actor string) (*models.MoneyRequest, error) {
	req, err := s.transition(ctx, "reject", id, actor, recipient, models.RequestRejected)
	if err != nil {
		return nil, err
	}
	s.events.Emit(ctx, s.event(req, notify.TagMoneyRequests))
	return req, nil
}

// Cancel withdraws the request on behalf of its requester.
func (s *Service) Cancel(ctx context.Context, id, actor string) (*models.MoneyRequest, error) {
	req, err := s.transition(ctx, "cancel", id, actor, requester, models.RequestCancelled)
	if err != nil {
		return nil, err
	}
	s.events.Emit(ctx, s.event(req, notify.TagMoneyRequests))
	return req, nil
}

// Get returns a request visible to actor.
func (s *Service) Get(ctx context.Context, id, actor string) (*models.MoneyRequest, error) {
	req, err := s.store.GetMoneyRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor != req.FromUser && actor != req.ToUser {
		return nil, models.NotFound("get money request", "money request")
	}
	return req, nil
}

// List returns the requests actor sent or received, newest first.
func (s *Service) List(ctx context.Context, actor string) ([]models.MoneyRequest, error) {
	return s.store.ListMoneyRequests(ctx, actor)
}

func (s *Service) transition(ctx context.Context, op, id, actor string, who party, to models.RequestStatus) (req *models.MoneyRequest, err error) {
	defer func() { metrics.RecordRequestTransition(op, err) }()

	req, err = s.store.GetMoneyRequest(ctx, id)
	if err != nil {
		return nil, err
	}

	// Non-participants learn nothing about the request.
	if actor != req.FromUser && actor != req.ToUser {
		return nil, models.NotFound(op, "money request")
	}
	if req.Status != models.RequestPending {
		return nil, models.InvalidTransition(op, req.Status, to)
	}
	if who == recipient && actor != req.ToUser {
		return nil, models.Forbidden(op, "only the recipient can %s this request", op)
	}
	if who == requester && actor != req.FromUser {
		return nil, models.Forbidden(op, "only the requester can %s this request", op)
	}

	var ok bool
	if to == models.RequestApproved {
		var approved *models.MoneyRequest
		approved, ok, err = s.store.ApproveMoneyRequest(ctx, id)
		if ok {
			req = approved
		}
	} else {
		ok, err = s.store.SetMoneyRequestStatus(ctx, id, models.RequestPending, to)
		if ok {
			req.Status = to
			req.UpdatedAt = s.now().UTC()
		}
	}
	if err != nil {
		return nil, ledgerError(op, err)
	}
	if !ok {
		// Another caller moved the request first.
		return nil, models.InvalidTransition(op, models.RequestPending, to)
	}

	s.logger.Info("money request transitioned",
		zap.String("request_id", id),
		zap.String("op", op),
		zap.String("status", string(to)),
		zap.String("actor", actor),
	)
	return req, nil
}

func ledgerError(op string, err error) error {
	if errors.Is(err, ledger.ErrInsufficientFunds) {
		return &models.Error{Kind: models.ErrValidation, Op: op, Msg: "insufficient funds", Err: err}
	}
	if models.KindOf(err) != nil {
		return err
	}
	return models.External(op, err)
}

func (s *Service) event(req *models.MoneyRequest, tags ...notify.Tag) notify.Event {
	return notify.Event{
		Tags:     tags,
		Entity:   "money_request",
		EntityID: req.ID,
		Status:   string(req.Status),
		Users:    []string{req.FromUser, req.ToUser},
	}
}
