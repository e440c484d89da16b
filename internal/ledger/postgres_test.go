package ledger

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"walletflow/internal/models"
)

func newMockStore(t *testing.T) (*Postgres, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgres(db, nil), mock
}

func TestPostgresSetMoneyRequestStatus(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE money_requests")).
		WithArgs(models.RequestCancelled, "r1", models.RequestPending).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE money_requests")).
		WithArgs(models.RequestRejected, "r1", models.RequestPending).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := store.SetMoneyRequestStatus(context.Background(), "r1", models.RequestPending, models.RequestCancelled)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.SetMoneyRequestStatus(context.Background(), "r1", models.RequestPending, models.RequestRejected)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = store.SetMoneyRequestStatus(context.Background(), "r1", models.RequestPending, models.RequestApproved)
	assert.ErrorIs(t, err, models.ErrValidation)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetMoneyRequestNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT (.+) FROM money_requests WHERE id").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := store.GetMoneyRequest(context.Background(), "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestPostgresCreateMoneyRequestUnknownUser(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO money_requests").
		WillReturnError(&pq.Error{Code: pqForeignKeyViolation, Message: "violates foreign key"})

	err := store.CreateMoneyRequest(context.Background(), &models.MoneyRequest{ID: "r1", FromUser: "u1", ToUser: "ghost", Amount: 10, Status: models.RequestPending})
	assert.ErrorIs(t, err, models.ErrValidation)
}

func requestRow(status models.RequestStatus) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{"id", "from_user_id", "to_user_id", "amount", "description", "status", "created_at", "updated_at"}).
		AddRow("r1", "u2", "u1", int64(500), "", string(status), now, now)
}

func TestPostgresApproveMoneyRequest(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM money_requests WHERE id = \\$1 FOR UPDATE").WithArgs("r1").
		WillReturnRows(requestRow(models.RequestPending))
	mock.ExpectQuery("SELECT balance FROM wallets").WithArgs("u2").
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(int64(900)))
	mock.ExpectExec("UPDATE wallets SET balance = balance -").WithArgs(int64(500), "u2").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("INSERT INTO wallets").WithArgs("u1", int64(500)).
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(int64(500)))
	mock.ExpectExec("INSERT INTO transactions").WithArgs("u2", "u1", int64(500), "r1").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("UPDATE money_requests").WithArgs(models.RequestApproved, "r1").
		WillReturnRows(sqlmock.NewRows([]string{"updated_at"}).AddRow(time.Now()))
	mock.ExpectCommit()

	req, ok, err := store.ApproveMoneyRequest(context.Background(), "r1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, models.RequestApproved, req.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresApproveSettledRequestMovesNothing(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM money_requests").WithArgs("r1").
		WillReturnRows(requestRow(models.RequestApproved))
	mock.ExpectRollback()

	req, ok, err := store.ApproveMoneyRequest(context.Background(), "r1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, models.RequestApproved, req.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresApproveInsufficientFunds(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM money_requests").WithArgs("r1").
		WillReturnRows(requestRow(models.RequestPending))
	mock.ExpectQuery("SELECT balance FROM wallets").WithArgs("u2").
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(int64(100)))
	mock.ExpectRollback()

	_, _, err := store.ApproveMoneyRequest(context.Background(), "r1")
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresApproveNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM money_requests").WithArgs("missing").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, _, err := store.ApproveMoneyRequest(context.Background(), "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestPostgresApproveConnectionError(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin().WillReturnError(errors.New("connection refused"))

	_, _, err := store.ApproveMoneyRequest(context.Background(), "r1")
	assert.ErrorIs(t, err, models.ErrExternalService)
}

func intentRow(status models.PaymentStatus, verifiedAt any) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{"id", "owner_user_id", "amount", "direction", "status", "gateway_reference", "failure_reason", "new_balance", "verified_at", "created_at", "updated_at"}).
		AddRow("p1", "u1", int64(1000), "deposit", string(status), "abc", "", nil, verifiedAt, now, now)
}

func TestPostgresSettleDeposit(t *testing.T) {
	store, mock := newMockStore(t)
	verifiedAt := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM payment_intents WHERE id = \\$1 FOR UPDATE").WithArgs("p1").
		WillReturnRows(intentRow(models.PaymentPendingVerification, nil))
	mock.ExpectQuery("INSERT INTO wallets").WithArgs("u1", int64(1000)).
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(int64(1500)))
	mock.ExpectExec("INSERT INTO transactions").WithArgs("u1", int64(1000), "abc").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("UPDATE payment_intents").
		WillReturnRows(sqlmock.NewRows([]string{"updated_at"}).AddRow(time.Now()))
	mock.ExpectCommit()

	intent, settled, err := store.SettlePayment(context.Background(), "p1", models.Settlement{Status: models.PaymentCompleted, VerifiedAt: verifiedAt})
	require.NoError(t, err)
	assert.True(t, settled)
	assert.Equal(t, models.PaymentCompleted, intent.Status)
	require.NotNil(t, intent.NewBalance)
	assert.Equal(t, int64(1500), *intent.NewBalance)
	require.NotNil(t, intent.VerifiedAt)
	assert.True(t, verifiedAt.Equal(*intent.VerifiedAt))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSettleAlreadyVerified(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM payment_intents").WithArgs("p1").
		WillReturnRows(intentRow(models.PaymentCompleted, time.Now()))
	mock.ExpectRollback()

	intent, settled, err := store.SettlePayment(context.Background(), "p1", models.Settlement{Status: models.PaymentCompleted, VerifiedAt: time.Now()})
	require.NoError(t, err)
	assert.False(t, settled)
	assert.Equal(t, models.PaymentCompleted, intent.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresClaimPaymentVerification(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE payment_intents").WithArgs("abc", "p1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE payment_intents").WithArgs("abc", "p2").
		WillReturnError(&pq.Error{Code: pqUniqueViolation})

	ok, err := store.ClaimPaymentVerification(context.Background(), "p1", "abc")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = store.ClaimPaymentVerification(context.Background(), "p2", "abc")
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestPostgresReclaimPaymentVerification(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("updated_at <= NOW() - $3 * INTERVAL '1 millisecond'")).
		WithArgs("p1", "abc", int64(7000)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("UPDATE payment_intents").
		WithArgs("p1", "abc", int64(7000)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := store.ReclaimPaymentVerification(context.Background(), "p1", "abc", 7*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = store.ReclaimPaymentVerification(context.Background(), "p1", "abc", 7*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}
