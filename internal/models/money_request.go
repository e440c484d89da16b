package models

import "time"

// MaxDescriptionLength bounds MoneyRequest.Description.
const MaxDescriptionLength = 255

// RequestStatus is the lifecycle status of a money request.
type RequestStatus string

const (
	RequestPending   RequestStatus = "pending"
	RequestApproved  RequestStatus = "approved"
	RequestRejected  RequestStatus = "rejected"
	RequestCancelled RequestStatus = "cancelled"
)

// Terminal reports whether no further transition is accepted from s.
func (s RequestStatus) Terminal() bool {
	return s == RequestApproved || s == RequestRejected || s == RequestCancelled
}

// MoneyRequest is a peer transfer proposed by FromUser that ToUser decides on.
// Approval moves Amount from FromUser's wallet to ToUser's wallet.
type MoneyRequest struct {
	ID          string        `json:"id"`
	FromUser    string        `json:"from_user"`
	ToUser      string        `json:"to_user"`
	Amount      int64         `json:"amount"`
	Description string        `json:"description,omitempty"`
	Status      RequestStatus `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

type CreateMoneyRequestRequest struct {
	ToUser      string `json:"to_user"`
	Amount      int64  `json:"amount"`
	Description string `json:"description"`
}
