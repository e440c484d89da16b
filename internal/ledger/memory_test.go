package ledger

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"walletflow/internal/models"
)

func seedRequest(t *testing.T, m *Memory) *models.MoneyRequest {
	t.Helper()
	req := &models.MoneyRequest{ID: "r1", FromUser: "u1", ToUser: "u2", Amount: 500, Status: models.RequestPending, CreatedAt: time.Now()}
	require.NoError(t, m.CreateMoneyRequest(context.Background(), req))
	return req
}

func TestMemoryMoneyRequestCheckAndSet(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	seedRequest(t, m)

	ok, err := m.SetMoneyRequestStatus(ctx, "r1", models.RequestPending, models.RequestRejected)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.SetMoneyRequestStatus(ctx, "r1", models.RequestPending, models.RequestCancelled)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := m.GetMoneyRequest(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, models.RequestRejected, got.Status)

	_, err = m.SetMoneyRequestStatus(ctx, "missing", models.RequestPending, models.RequestCancelled)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestMemorySetMoneyRequestStatusRefusesApproval(t *testing.T) {
	m := NewMemory()
	seedRequest(t, m)

	_, err := m.SetMoneyRequestStatus(context.Background(), "r1", models.RequestPending, models.RequestApproved)
	assert.ErrorIs(t, err, models.ErrValidation)

	got, err := m.GetMoneyRequest(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, models.RequestPending, got.Status)
}

func TestMemoryConcurrentApproveHasOneWinner(t *testing.T) {
	m := NewMemory()
	m.SetBalance("u1", 10_000)
	seedRequest(t, m)

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := m.ApproveMoneyRequest(context.Background(), "r1")
			if err == nil && ok {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins)
	assert.Equal(t, int64(9_500), m.Balance("u1"))
	assert.Equal(t, int64(500), m.Balance("u2"))
}

func TestMemoryApproveMoneyRequest(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.SetBalance("u1", 300)
	seedRequest(t, m)

	_, _, err := m.ApproveMoneyRequest(ctx, "r1")
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	got, err := m.GetMoneyRequest(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, models.RequestPending, got.Status)
	assert.Equal(t, int64(300), m.Balance("u1"))

	m.SetBalance("u1", 800)
	approved, ok, err := m.ApproveMoneyRequest(ctx, "r1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, models.RequestApproved, approved.Status)
	assert.Equal(t, int64(300), m.Balance("u1"))
	assert.Equal(t, int64(500), m.Balance("u2"))

	again, ok, err := m.ApproveMoneyRequest(ctx, "r1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, models.RequestApproved, again.Status)
	assert.Equal(t, int64(300), m.Balance("u1"))

	_, _, err = m.ApproveMoneyRequest(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestMemoryListMoneyRequests(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	now := time.Now()
	require.NoError(t, m.CreateMoneyRequest(ctx, &models.MoneyRequest{ID: "a", FromUser: "u1", ToUser: "u2", CreatedAt: now}))
	require.NoError(t, m.CreateMoneyRequest(ctx, &models.MoneyRequest{ID: "b", FromUser: "u3", ToUser: "u1", CreatedAt: now.Add(time.Minute)}))
	require.NoError(t, m.CreateMoneyRequest(ctx, &models.MoneyRequest{ID: "c", FromUser: "u3", ToUser: "u2", CreatedAt: now}))

	got, err := m.ListMoneyRequests(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].ID)
	assert.Equal(t, "a", got[1].ID)
}

func seedIntent(t *testing.T, m *Memory, id string, dir models.Direction, amount int64) {
	t.Helper()
	require.NoError(t, m.CreatePaymentIntent(context.Background(), &models.PaymentIntent{
		ID: id, OwnerUser: "u1", Amount: amount, Direction: dir, Status: models.PaymentInitiated,
	}))
}

func TestMemorySettlePaymentOnce(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	seedIntent(t, m, "p1", models.DirectionDeposit, 1000)

	ok, err := m.ClaimPaymentVerification(ctx, "p1", "abc")
	require.NoError(t, err)
	require.True(t, ok)

	settlement := models.Settlement{Status: models.PaymentCompleted, VerifiedAt: time.Now()}
	intent, settled, err := m.SettlePayment(ctx, "p1", settlement)
	require.NoError(t, err)
	assert.True(t, settled)
	assert.Equal(t, models.PaymentCompleted, intent.Status)
	require.NotNil(t, intent.NewBalance)
	assert.Equal(t, int64(1000), *intent.NewBalance)

	intent, settled, err = m.SettlePayment(ctx, "p1", settlement)
	require.NoError(t, err)
	assert.False(t, settled)
	assert.Equal(t, models.PaymentCompleted, intent.Status)
	assert.Equal(t, int64(1000), m.Balance("u1"))
}

func TestMemorySettleWithdrawalWithoutFundsFails(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.SetBalance("u1", 100)
	seedIntent(t, m, "p1", models.DirectionWithdrawal, 500)

	_, err := m.ClaimPaymentVerification(ctx, "p1", "ref")
	require.NoError(t, err)

	intent, settled, err := m.SettlePayment(ctx, "p1", models.Settlement{Status: models.PaymentCompleted, VerifiedAt: time.Now()})
	require.NoError(t, err)
	assert.True(t, settled)
	assert.Equal(t, models.PaymentFailed, intent.Status)
	assert.Equal(t, models.ReasonLedgerRejected, intent.FailureReason)
	assert.Equal(t, int64(100), m.Balance("u1"))
}

func TestMemoryClaimRejectsReusedReference(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	seedIntent(t, m, "p1", models.DirectionDeposit, 10)
	seedIntent(t, m, "p2", models.DirectionDeposit, 10)

	ok, err := m.ClaimPaymentVerification(ctx, "p1", "abc")
	require.NoError(t, err)
	require.True(t, ok)

	_, err = m.ClaimPaymentVerification(ctx, "p2", "abc")
	assert.ErrorIs(t, err, models.ErrValidation)

	ok, err = m.ClaimPaymentVerification(ctx, "p1", "abc")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryReclaimPaymentVerification(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	now := time.Now()
	m.now = func() time.Time { return now }
	seedIntent(t, m, "p1", models.DirectionDeposit, 10)

	ok, err := m.ReclaimPaymentVerification(ctx, "p1", "abc", time.Second)
	require.NoError(t, err)
	assert.False(t, ok, "initiated intents have no claim to take over")

	ok, err = m.ClaimPaymentVerification(ctx, "p1", "abc")
	require.NoError(t, err)
	require.True(t, ok)

	now = now.Add(999 * time.Millisecond)
	ok, err = m.ReclaimPaymentVerification(ctx, "p1", "abc", time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	now = now.Add(time.Millisecond)
	ok, err = m.ReclaimPaymentVerification(ctx, "p1", "other", time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = m.ReclaimPaymentVerification(ctx, "p1", "abc", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	// The takeover renews the claim.
	ok, err = m.ReclaimPaymentVerification(ctx, "p1", "abc", time.Second)
	require.NoError(t, err)
	assert.False(t, ok)
}
