package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"walletflow/internal/models"
)

// Memory is an in-process Store. A single mutex serialises every operation,
// which gives the same at-most-one-winner guarantee as the Postgres store.
type Memory struct {
	mu       sync.Mutex
	requests map[string]models.MoneyRequest
	intents  map[string]models.PaymentIntent
	balances map[string]int64
	refs     map[string]string
	now      func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		requests: make(map[string]models.MoneyRequest),
		intents:  make(map[string]models.PaymentIntent),
		balances: make(map[string]int64),
		refs:     make(map[string]string),
		now:      time.Now,
	}
}

// SetBalance seeds a wallet balance.
func (m *Memory) SetBalance(userID string, balance int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[userID] = balance
}

// Balance returns a wallet balance.
func (m *Memory) Balance(userID string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[userID]
}

func (m *Memory) CreateMoneyRequest(ctx context.Context, req *models.MoneyRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.requests[req.ID]; exists {
		return models.Validation("create money request", "duplicate id %s", req.ID)
	}
	m.requests[req.ID] = *req
	return nil
}

func (m *Memory) GetMoneyRequest(ctx context.Context, id string) (*models.MoneyRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, ok := m.requests[id]
	if !ok {
		return nil, models.NotFound("get money request", "money request")
	}
	return &req, nil
}

func (m *Memory) ListMoneyRequests(ctx context.Context, userID string) ([]models.MoneyRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]models.MoneyRequest, 0)
	for _, req := range m.requests {
		if req.FromUser == userID || req.ToUser == userID {
			out = append(out, req)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) SetMoneyRequestStatus(ctx context.Context, id string, from, to models.RequestStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if to == models.RequestApproved {
		return false, models.Validation("set money request status", "approval must go through ApproveMoneyRequest")
	}
	req, ok := m.requests[id]
	if !ok {
		return false, models.NotFound("set money request status", "money request")
	}
	if req.Status != from {
		return false, nil
	}
	req.Status = to
	req.UpdatedAt = m.now()
	m.requests[id] = req
	return true, nil
}

func (m *Memory) ApproveMoneyRequest(ctx context.Context, id string) (*models.MoneyRequest, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, ok := m.requests[id]
	if !ok {
		return nil, false, models.NotFound("approve money request", "money request")
	}
	if req.Status != models.RequestPending {
		return &req, false, nil
	}
	if m.balances[req.FromUser] < req.Amount {
		return nil, false, ErrInsufficientFunds
	}

	m.balances[req.FromUser] -= req.Amount
	m.balances[req.ToUser] += req.Amount
	req.Status = models.RequestApproved
	req.UpdatedAt = m.now()
	m.requests[id] = req

	out := req
	return &out, true, nil
}

func (m *Memory) CreatePaymentIntent(ctx context.Context, intent *models.PaymentIntent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.intents[intent.ID]; exists {
		return models.Validation("create payment intent", "duplicate id %s", intent.ID)
	}
	m.intents[intent.ID] = *intent
	return nil
}

func (m *Memory) GetPaymentIntent(ctx context.Context, id string) (*models.PaymentIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	intent, ok := m.intents[id]
	if !ok {
		return nil, models.NotFound("get payment intent", "payment intent")
	}
	return &intent, nil
}

func (m *Memory) ClaimPaymentVerification(ctx context.Context, id, gatewayReference string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	intent, ok := m.intents[id]
	if !ok {
		return false, models.NotFound("claim payment verification", "payment intent")
	}
	if intent.Status != models.PaymentInitiated {
		return false, nil
	}
	if owner, used := m.refs[gatewayReference]; used && owner != id {
		return false, models.Validation("claim payment verification", "gateway reference already used")
	}
	intent.Status = models.PaymentPendingVerification
	intent.GatewayReference = gatewayReference
	intent.UpdatedAt = m.now()
	m.intents[id] = intent
	m.refs[gatewayReference] = id
	return true, nil
}

func (m *Memory) ReclaimPaymentVerification(ctx context.Context, id, gatewayReference string, lease time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	intent, ok := m.intents[id]
	if !ok {
		return false, models.NotFound("reclaim payment verification", "payment intent")
	}
	if intent.Status != models.PaymentPendingVerification || intent.VerifiedAt != nil || intent.GatewayReference != gatewayReference {
		return false, nil
	}
	now := m.now()
	if now.Sub(intent.UpdatedAt) < lease {
		return false, nil
	}
	intent.UpdatedAt = now
	m.intents[id] = intent
	return true, nil
}

func (m *Memory) SetPaymentStatus(ctx context.Context, id string, from, to models.PaymentStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	intent, ok := m.intents[id]
	if !ok {
		return false, models.NotFound("set payment status", "payment intent")
	}
	if intent.Status != from {
		return false, nil
	}
	intent.Status = to
	intent.UpdatedAt = m.now()
	m.intents[id] = intent
	return true, nil
}

func (m *Memory) SettlePayment(ctx context.Context, id string, s models.Settlement) (*models.PaymentIntent, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	intent, ok := m.intents[id]
	if !ok {
		return nil, false, models.NotFound("settle payment", "payment intent")
	}
	if intent.VerifiedAt != nil || intent.Status != models.PaymentPendingVerification {
		return &intent, false, nil
	}

	status, reason := s.Status, s.FailureReason
	if status == models.PaymentCompleted {
		balance := m.balances[intent.OwnerUser]
		switch intent.Direction {
		case models.DirectionDeposit:
			balance += intent.Amount
		case models.DirectionWithdrawal:
			if balance < intent.Amount {
				status, reason = models.PaymentFailed, models.ReasonLedgerRejected
				break
			}
			balance -= intent.Amount
		}
		if status == models.PaymentCompleted {
			m.balances[intent.OwnerUser] = balance
			intent.NewBalance = &balance
		}
	}

	verifiedAt := s.VerifiedAt
	intent.Status = status
	intent.FailureReason = reason
	intent.VerifiedAt = &verifiedAt
	intent.UpdatedAt = m.now()
	m.intents[id] = intent

	out := intent
	return &out, true, nil
}

var _ Store = (*Memory)(nil)
