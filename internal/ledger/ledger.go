// Package ledger is the boundary to the service that owns money requests,
// payment intents and wallet balances. The lifecycles in this module never
// touch a balance directly; they ask a Store to change state and react to
// what it reports.
//
// Every status change is a check-and-set: it succeeds only when the entity is
// still in the expected source status, so concurrent callers get at most one
// winner.
package ledger

import (
	"context"
	"errors"
	"time"

	"walletflow/internal/models"
)

// ErrInsufficientFunds is returned by ApproveMoneyRequest when the requester's
// wallet cannot cover the amount.
var ErrInsufficientFunds = errors.New("insufficient funds")

// RequestStore persists money requests and moves money between wallets.
type RequestStore interface {
	CreateMoneyRequest(ctx context.Context, req *models.MoneyRequest) error
	GetMoneyRequest(ctx context.Context, id string) (*models.MoneyRequest, error)
	ListMoneyRequests(ctx context.Context, userID string) ([]models.MoneyRequest, error)
	// SetMoneyRequestStatus reports false when the request is no longer in
	// from. It closes requests without moving money, so approved is refused.
	SetMoneyRequestStatus(ctx context.Context, id string, from, to models.RequestStatus) (bool, error)
	// ApproveMoneyRequest moves the amount from the requester's wallet to the
	// recipient's and marks the request approved in one unit of work. It
	// reports false, with the request as stored, when the request is no
	// longer pending. On ErrInsufficientFunds nothing changes.
	ApproveMoneyRequest(ctx context.Context, id string) (*models.MoneyRequest, bool, error)
}

// PaymentStore persists payment intents and applies their wallet effect.
type PaymentStore interface {
	CreatePaymentIntent(ctx context.Context, intent *models.PaymentIntent) error
	GetPaymentIntent(ctx context.Context, id string) (*models.PaymentIntent, error)
	// ClaimPaymentVerification moves an initiated intent to pending
	// verification and binds the gateway reference. It reports false when the
	// intent was not initiated.
	ClaimPaymentVerification(ctx context.Context, id, gatewayReference string) (bool, error)
	// ReclaimPaymentVerification takes over a pending verification whose claim
	// has not been renewed for at least lease, as measured by the store's own
	// clock, and renews it. It reports false while the claim is still fresh or
	// once the intent has left pending verification.
	ReclaimPaymentVerification(ctx context.Context, id, gatewayReference string, lease time.Duration) (bool, error)
	SetPaymentStatus(ctx context.Context, id string, from, to models.PaymentStatus) (bool, error)
	// SettlePayment records the verification outcome once. A completed
	// deposit credits the owner's wallet and a completed withdrawal debits it,
	// in the same unit of work that sets VerifiedAt. It returns the intent as
	// recorded and whether this call was the one that settled it.
	SettlePayment(ctx context.Context, id string, s models.Settlement) (*models.PaymentIntent, bool, error)
}

// Store is the full ledger contract.
type Store interface {
	RequestStore
	PaymentStore
}
