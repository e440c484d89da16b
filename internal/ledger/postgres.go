package ledger

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"walletflow/internal/models"
)

const (
	pqForeignKeyViolation = "23503"
	pqUniqueViolation     = "23505"
)

// Postgres is a Store backed by the walletflow schema (see internal/db).
type Postgres struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewPostgres(db *sql.DB, logger *zap.Logger) *Postgres {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Postgres{db: db, logger: logger}
}

const moneyRequestColumns = `id, from_user_id, to_user_id, amount, description, status, created_at, updated_at`

const paymentIntentColumns = `id, owner_user_id, amount, direction, status, gateway_reference, failure_reason, new_balance, verified_at, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanMoneyRequest(row scanner) (*models.MoneyRequest, error) {
	var req models.MoneyRequest
	err := row.Scan(&req.ID, &req.FromUser, &req.ToUser, &req.Amount, &req.Description, &req.Status, &req.CreatedAt, &req.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func scanPaymentIntent(row scanner) (*models.PaymentIntent, error) {
	var (
		intent     models.PaymentIntent
		newBalance sql.NullInt64
		verifiedAt sql.NullTime
	)
	err := row.Scan(&intent.ID, &intent.OwnerUser, &intent.Amount, &intent.Direction, &intent.Status,
		&intent.GatewayReference, &intent.FailureReason, &newBalance, &verifiedAt, &intent.CreatedAt, &intent.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if newBalance.Valid {
		intent.NewBalance = &newBalance.Int64
	}
	if verifiedAt.Valid {
		intent.VerifiedAt = &verifiedAt.Time
	}
	return &intent, nil
}

func (p *Postgres) CreateMoneyRequest(ctx context.Context, req *models.MoneyRequest) error {
	query := `
		INSERT INTO money_requests (` + moneyRequestColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := p.db.ExecContext(ctx, query, req.ID, req.FromUser, req.ToUser, req.Amount, req.Description, req.Status, req.CreatedAt, req.UpdatedAt)
	if err != nil {
		return p.translate("create money request", err)
	}
	return nil
}

func (p *Postgres) GetMoneyRequest(ctx context.Context, id string) (*models.MoneyRequest, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+moneyRequestColumns+` FROM money_requests WHERE id = $1`, id)
	req, err := scanMoneyRequest(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.NotFound("get money request", "money request")
		}
		return nil, p.translate("get money request", err)
	}
	return req, nil
}

func (p *Postgres) ListMoneyRequests(ctx context.Context, userID string) ([]models.MoneyRequest, error) {
	query := `SELECT ` + moneyRequestColumns + ` FROM money_requests
		WHERE from_user_id = $1 OR to_user_id = $1
		ORDER BY created_at DESC`

	rows, err := p.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, p.translate("list money requests", err)
	}
	defer rows.Close()

	out := make([]models.MoneyRequest, 0)
	for rows.Next() {
		req, err := scanMoneyRequest(rows)
		if err != nil {
			return nil, p.translate("list money requests", err)
		}
		out = append(out, *req)
	}
	if err := rows.Err(); err != nil {
		return nil, p.translate("list money requests", err)
	}
	return out, nil
}

func (p *Postgres) SetMoneyRequestStatus(ctx context.Context, id string, from, to models.RequestStatus) (bool, error) {
	if to == models.RequestApproved {
		return false, models.Validation("set money request status", "approval must go through ApproveMoneyRequest")
	}
	query := `
		UPDATE money_requests
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3`

	res, err := p.db.ExecContext(ctx, query, to, id, from)
	if err != nil {
		return false, p.translate("set money request status", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, p.translate("set money request status", err)
	}
	return n == 1, nil
}

// ApproveMoneyRequest locks the request row, moves the money and records the
// approval in one transaction. A retry after a lost commit acknowledgement
// finds the request approved and moves nothing.
func (p *Postgres) ApproveMoneyRequest(ctx context.Context, id string) (*models.MoneyRequest, bool, error) {
	const op = "approve money request"

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, p.translate(op, err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT `+moneyRequestColumns+` FROM money_requests WHERE id = $1 FOR UPDATE`, id)
	req, err := scanMoneyRequest(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, models.NotFound(op, "money request")
		}
		return nil, false, p.translate(op, err)
	}
	if req.Status != models.RequestPending {
		return req, false, nil
	}

	if err = transfer(ctx, tx, req.FromUser, req.ToUser, req.Amount, req.ID); err != nil {
		if errors.Is(err, ErrInsufficientFunds) {
			return nil, false, err
		}
		return nil, false, p.translate(op, err)
	}

	err = tx.QueryRowContext(ctx, `
		UPDATE money_requests
		SET status = $1, updated_at = NOW()
		WHERE id = $2
		RETURNING updated_at`, models.RequestApproved, id).Scan(&req.UpdatedAt)
	if err != nil {
		return nil, false, p.translate(op, err)
	}

	if err = tx.Commit(); err != nil {
		return nil, false, p.translate(op, err)
	}
	req.Status = models.RequestApproved
	return req, true, nil
}

func transfer(ctx context.Context, tx *sql.Tx, fromWallet, toWallet string, amount int64, reference string) error {
	var balance int64
	err := tx.QueryRowContext(ctx, `SELECT balance FROM wallets WHERE user_id = $1 FOR UPDATE`, fromWallet).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && balance < amount) {
		return ErrInsufficientFunds
	}
	if err != nil {
		return err
	}

	if _, err = tx.ExecContext(ctx, `UPDATE wallets SET balance = balance - $1 WHERE user_id = $2`, amount, fromWallet); err != nil {
		return err
	}
	if _, err = creditWallet(ctx, tx, toWallet, amount); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO transactions (from_user_id, to_user_id, amount, type, reference)
		VALUES ($1, $2, $3, 'transfer', $4)`, fromWallet, toWallet, amount, reference)
	return err
}

func creditWallet(ctx context.Context, tx *sql.Tx, userID string, amount int64) (int64, error) {
	var balance int64
	err := tx.QueryRowContext(ctx, `
		INSERT INTO wallets (user_id, balance) VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET balance = wallets.balance + EXCLUDED.balance
		RETURNING balance`, userID, amount).Scan(&balance)
	return balance, err
}

func (p *Postgres) CreatePaymentIntent(ctx context.Context, intent *models.PaymentIntent) error {
	query := `
		INSERT INTO payment_intents (id, owner_user_id, amount, direction, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := p.db.ExecContext(ctx, query, intent.ID, intent.OwnerUser, intent.Amount, intent.Direction, intent.Status, intent.CreatedAt, intent.UpdatedAt)
	if err != nil {
		return p.translate("create payment intent", err)
	}
	return nil
}

func (p *Postgres) GetPaymentIntent(ctx context.Context, id string) (*models.PaymentIntent, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+paymentIntentColumns+` FROM payment_intents WHERE id = $1`, id)
	intent, err := scanPaymentIntent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.NotFound("get payment intent", "payment intent")
		}
		return nil, p.translate("get payment intent", err)
	}
	return intent, nil
}

func (p *Postgres) ClaimPaymentVerification(ctx context.Context, id, gatewayReference string) (bool, error) {
	query := `
		UPDATE payment_intents
		SET status = 'pending_verification', gateway_reference = $1, updated_at = NOW()
		WHERE id = $2 AND status = 'initiated'`

	res, err := p.db.ExecContext(ctx, query, gatewayReference, id)
	if err != nil {
		return false, p.translate("claim payment verification", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, p.translate("claim payment verification", err)
	}
	return n == 1, nil
}

// ReclaimPaymentVerification compares the claim age against the database
// clock, the same clock that stamped it.
func (p *Postgres) ReclaimPaymentVerification(ctx context.Context, id, gatewayReference string, lease time.Duration) (bool, error) {
	query := `
		UPDATE payment_intents
		SET updated_at = NOW()
		WHERE id = $1 AND gateway_reference = $2
			AND status = 'pending_verification' AND verified_at IS NULL
			AND updated_at <= NOW() - $3 * INTERVAL '1 millisecond'`

	res, err := p.db.ExecContext(ctx, query, id, gatewayReference, lease.Milliseconds())
	if err != nil {
		return false, p.translate("reclaim payment verification", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, p.translate("reclaim payment verification", err)
	}
	return n == 1, nil
}

func (p *Postgres) SetPaymentStatus(ctx context.Context, id string, from, to models.PaymentStatus) (bool, error) {
	query := `
		UPDATE payment_intents
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3`

	res, err := p.db.ExecContext(ctx, query, to, id, from)
	if err != nil {
		return false, p.translate("set payment status", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, p.translate("set payment status", err)
	}
	return n == 1, nil
}

func (p *Postgres) SettlePayment(ctx context.Context, id string, s models.Settlement) (*models.PaymentIntent, bool, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, p.translate("settle payment", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT `+paymentIntentColumns+` FROM payment_intents WHERE id = $1 FOR UPDATE`, id)
	intent, err := scanPaymentIntent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, models.NotFound("settle payment", "payment intent")
		}
		return nil, false, p.translate("settle payment", err)
	}
	if intent.VerifiedAt != nil || intent.Status != models.PaymentPendingVerification {
		return intent, false, nil
	}

	status, reason := s.Status, s.FailureReason
	var newBalance *int64
	if status == models.PaymentCompleted {
		balance, err := p.applyPayment(ctx, tx, intent)
		switch {
		case errors.Is(err, ErrInsufficientFunds):
			status, reason = models.PaymentFailed, models.ReasonLedgerRejected
		case err != nil:
			return nil, false, p.translate("settle payment", err)
		default:
			newBalance = &balance
		}
	}

	verifiedAt := s.VerifiedAt
	err = tx.QueryRowContext(ctx, `
		UPDATE payment_intents
		SET status = $1, failure_reason = $2, new_balance = $3, verified_at = $4, updated_at = NOW()
		WHERE id = $5
		RETURNING updated_at`, status, reason, newBalance, verifiedAt, id).Scan(&intent.UpdatedAt)
	if err != nil {
		return nil, false, p.translate("settle payment", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, false, p.translate("settle payment", err)
	}

	intent.Status = status
	intent.FailureReason = reason
	intent.NewBalance = newBalance
	intent.VerifiedAt = &verifiedAt
	return intent, true, nil
}

func (p *Postgres) applyPayment(ctx context.Context, tx *sql.Tx, intent *models.PaymentIntent) (int64, error) {
	var (
		balance int64
		err     error
	)
	switch intent.Direction {
	case models.DirectionDeposit:
		balance, err = creditWallet(ctx, tx, intent.OwnerUser, intent.Amount)
		if err != nil {
			return 0, err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO transactions (to_user_id, amount, type, reference)
			VALUES ($1, $2, 'deposit', $3)`, intent.OwnerUser, intent.Amount, intent.GatewayReference)
	case models.DirectionWithdrawal:
		err = tx.QueryRowContext(ctx, `SELECT balance FROM wallets WHERE user_id = $1 FOR UPDATE`, intent.OwnerUser).Scan(&balance)
		if errors.Is(err, sql.ErrNoRows) || (err == nil && balance < intent.Amount) {
			return 0, ErrInsufficientFunds
		}
		if err != nil {
			return 0, err
		}
		err = tx.QueryRowContext(ctx, `UPDATE wallets SET balance = balance - $1 WHERE user_id = $2 RETURNING balance`,
			intent.Amount, intent.OwnerUser).Scan(&balance)
		if err != nil {
			return 0, err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO transactions (from_user_id, amount, type, reference)
			VALUES ($1, $2, 'withdrawal', $3)`, intent.OwnerUser, intent.Amount, intent.GatewayReference)
	}
	return balance, err
}

// translate maps driver errors onto the error taxonomy. Constraint violations
// are caller mistakes; everything else means the ledger is unavailable.
func (p *Postgres) translate(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		p.logger.Warn("postgres error",
			zap.String("op", op),
			zap.String("code", string(pqErr.Code)),
			zap.String("message", pqErr.Message),
			zap.String("detail", pqErr.Detail),
		)
		switch pqErr.Code {
		case pqForeignKeyViolation:
			return models.Validation(op, "unknown user")
		case pqUniqueViolation:
			return models.Validation(op, "duplicate record")
		}
	} else {
		p.logger.Error("database error", zap.String("op", op), zap.Error(err))
	}
	return models.External(op, err)
}

var _ Store = (*Postgres)(nil)
