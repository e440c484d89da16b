package models

import "time"

// Direction is the wallet effect of a payment intent.
type Direction string

const (
	DirectionDeposit    Direction = "deposit"
	DirectionWithdrawal Direction = "withdrawal"
)

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool {
	return d == DirectionDeposit || d == DirectionWithdrawal
}

// PaymentStatus is the lifecycle status of a payment intent.
type PaymentStatus string

const (
	PaymentInitiated           PaymentStatus = "initiated"
	PaymentPendingVerification PaymentStatus = "pending_verification"
	PaymentCompleted           PaymentStatus = "completed"
	PaymentFailed              PaymentStatus = "failed"
	PaymentCancelled           PaymentStatus = "cancelled"
)

// Terminal reports whether no further transition is accepted from s.
func (s PaymentStatus) Terminal() bool {
	return s == PaymentCompleted || s == PaymentFailed || s == PaymentCancelled
}

// Failure reason codes recorded on failed intents.
const (
	ReasonGatewayDeclined = "gateway_declined"
	ReasonAmountMismatch  = "amount_mismatch"
	ReasonLedgerRejected  = "ledger_rejected"
)

// PaymentIntent is an external add-money or withdrawal payment.
type PaymentIntent struct {
	ID               string        `json:"id"`
	OwnerUser        string        `json:"owner_user"`
	Amount           int64         `json:"amount"`
	Direction        Direction     `json:"direction"`
	Status           PaymentStatus `json:"status"`
	GatewayReference string        `json:"gateway_reference,omitempty"`
	FailureReason    string        `json:"failure_reason,omitempty"`
	NewBalance       *int64        `json:"new_balance,omitempty"`
	VerifiedAt       *time.Time    `json:"verified_at,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// Verified reports whether a verification outcome has been recorded.
func (p PaymentIntent) Verified() bool {
	return p.VerifiedAt != nil
}

// Settlement is the outcome the payment lifecycle asks the ledger to record.
// The ledger fills in the resulting balance itself.
type Settlement struct {
	Status        PaymentStatus
	FailureReason string
	VerifiedAt    time.Time
}

// VerificationResult is what verify returns, both on first run and on replay.
type VerificationResult struct {
	IntentID         string        `json:"intent_id"`
	Status           PaymentStatus `json:"status"`
	GatewayReference string        `json:"gateway_reference"`
	Amount           int64         `json:"amount"`
	NewBalance       *int64        `json:"new_balance,omitempty"`
	FailureReason    string        `json:"failure_reason,omitempty"`
	VerifiedAt       time.Time     `json:"verified_at"`
	Replayed         bool          `json:"replayed"`
}

// ResultFromIntent rebuilds the recorded verification outcome of p.
func ResultFromIntent(p *PaymentIntent) VerificationResult {
	res := VerificationResult{
		IntentID:         p.ID,
		Status:           p.Status,
		GatewayReference: p.GatewayReference,
		Amount:           p.Amount,
		NewBalance:       p.NewBalance,
		FailureReason:    p.FailureReason,
	}
	if p.VerifiedAt != nil {
		res.VerifiedAt = *p.VerifiedAt
	}
	return res
}

type InitiatePaymentRequest struct {
	Amount    int64     `json:"amount"`
	Direction Direction `json:"direction"`
}

type InitiatePaymentResponse struct {
	Intent      *PaymentIntent `json:"intent"`
	CheckoutURL string         `json:"checkout_url"`
}

type VerifyPaymentRequest struct {
	GatewayReference string `json:"gateway_reference"`
}
