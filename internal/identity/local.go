package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"walletflow/internal/models"
	"walletflow/internal/utils"
)

const minPasswordLength = 8

// Local issues HS256 tokens and resolves them against the users table.
type Local struct {
	db     *sql.DB
	secret []byte
	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time
	newID  func() string
}

func NewLocal(db *sql.DB, secret string, ttl time.Duration, logger *zap.Logger) *Local {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Local{
		db:     db,
		secret: []byte(secret),
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// GenerateToken creates a signed token for a user.
func (l *Local) GenerateToken(userID string, role models.Role) (string, error) {
	now := l.now()
	claims := models.Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(l.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(l.secret)
}

// CurrentPrincipal validates token and reads the user behind it. Role and
// status come from the table, not from the token.
func (l *Local) CurrentPrincipal(ctx context.Context, token string) (*models.Principal, error) {
	const op = "current principal"

	claims := &models.Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return l.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(l.now),
	)
	if err != nil || !parsed.Valid || claims.UserID == "" {
		return nil, models.Unauthenticated(op, "invalid token")
	}

	var p models.Principal
	err = l.db.QueryRowContext(ctx,
		"SELECT id, role, account_status, verified FROM users WHERE id = $1",
		claims.UserID,
	).Scan(&p.ID, &p.Role, &p.AccountStatus, &p.Verified)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.Unauthenticated(op, "user no longer exists")
	}
	if err != nil {
		l.logger.Error("principal lookup failed", zap.String("user_id", claims.UserID), zap.Error(err))
		return nil, models.External(op, err)
	}
	return &p, nil
}

// Login checks credentials and returns a fresh token.
func (l *Local) Login(ctx context.Context, req models.LoginRequest) (models.LoginResponse, error) {
	const op = "login"

	var (
		userID string
		hash   string
		role   models.Role
	)
	err := l.db.QueryRowContext(ctx,
		"SELECT id, password_hash, role FROM users WHERE email = $1",
		strings.ToLower(strings.TrimSpace(req.Email)),
	).Scan(&userID, &hash, &role)
	if errors.Is(err, sql.ErrNoRows) {
		return models.LoginResponse{}, models.Unauthenticated(op, "invalid credentials")
	}
	if err != nil {
		return models.LoginResponse{}, models.External(op, err)
	}
	if !utils.CheckPasswordHash(req.Password, hash) {
		return models.LoginResponse{}, models.Unauthenticated(op, "invalid credentials")
	}

	token, err := l.GenerateToken(userID, role)
	if err != nil {
		return models.LoginResponse{}, fmt.Errorf("%s: sign token: %w", op, err)
	}
	return models.LoginResponse{Token: token, Role: role, UserID: userID}, nil
}

// Register creates a user and an empty wallet. Agents start pending until an
// admin approves them; admins cannot self-register.
func (l *Local) Register(ctx context.Context, req models.RegisterRequest) (*models.Principal, error) {
	const op = "register"

	name := strings.TrimSpace(req.Name)
	email := strings.ToLower(strings.TrimSpace(req.Email))
	role := req.Role
	if role == "" {
		role = models.RoleUser
	}

	switch {
	case name == "":
		return nil, models.Validation(op, "name is required")
	case email == "":
		return nil, models.Validation(op, "email is required")
	case len(req.Password) < minPasswordLength:
		return nil, models.Validation(op, "password must be at least %d characters", minPasswordLength)
	case role != models.RoleUser && role != models.RoleAgent:
		return nil, models.Validation(op, "role %q cannot be self-registered", role)
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, models.Validation(op, "invalid email")
	}

	status := models.AccountActive
	if role == models.RoleAgent {
		status = models.AccountPending
	}

	hash, err := utils.HashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("%s: hash password: %w", op, err)
	}

	p := &models.Principal{ID: l.newID(), Role: role, AccountStatus: status}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, models.External(op, err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO users (id, name, email, password_hash, role, account_status)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		p.ID, name, email, hash, p.Role, p.AccountStatus)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return nil, models.Validation(op, "email already registered")
		}
		return nil, models.External(op, err)
	}

	if _, err = tx.ExecContext(ctx, "INSERT INTO wallets (user_id, balance) VALUES ($1, 0)", p.ID); err != nil {
		return nil, models.External(op, err)
	}
	if err = tx.Commit(); err != nil {
		return nil, models.External(op, err)
	}

	l.logger.Info("user registered",
		zap.String("user_id", p.ID),
		zap.String("role", string(p.Role)),
		zap.String("account_status", string(p.AccountStatus)),
	)
	return p, nil
}
