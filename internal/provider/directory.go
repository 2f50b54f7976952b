package provider

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mihir-28/blockchain-scm/internal/email"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/oauth2"
)

// minPasswordLen matches the weak-password threshold of the hosted identity
// service the dashboard originally ran on.
const minPasswordLen = 6

// recentLoginWindow is how fresh the last authentication event must be for a
// password change to proceed without re-authentication.
const recentLoginWindow = 10 * time.Minute

// Directory is the shared account store behind every provider session.
// It owns the PostgreSQL accounts schema, password hashing, the Google OAuth
// client, and password-reset delivery.
type Directory struct {
	db          *pgxpool.Pool
	mailer      email.Sender
	oauth       *oauth2.Config
	frontendURL string
	logger      *zap.Logger

	// userInfoOverride points the Google userinfo fetch at a test server.
	userInfoOverride string
}

// NewDirectory creates a Directory. oauthCfg may be nil to disable Google
// sign-in.
func NewDirectory(db *pgxpool.Pool, mailer email.Sender, oauthCfg *oauth2.Config, frontendURL string, logger *zap.Logger) *Directory {
	return &Directory{
		db:          db,
		mailer:      mailer,
		oauth:       oauthCfg,
		frontendURL: frontendURL,
		logger:      logger,
	}
}

// NewSession opens a fresh, signed-out provider session against this directory.
func (d *Directory) NewSession() *Session {
	return &Session{dir: d, dispatch: newDispatcher(), logger: d.logger}
}

// ValidateEmail checks the address shape. Coded failure: invalid-email.
func ValidateEmail(addr string) error {
	addr = strings.TrimSpace(addr)
	at := strings.Index(addr, "@")
	if at <= 0 || at == len(addr)-1 || !strings.Contains(addr[at+1:], ".") {
		return NewError(CodeInvalidEmail, "malformed email address")
	}
	return nil
}

// ValidatePassword checks password strength. Coded failure: weak-password.
func ValidatePassword(password string) error {
	if len(password) < minPasswordLen {
		return NewError(CodeWeakPassword, fmt.Sprintf("password must be at least %d characters", minPasswordLen))
	}
	return nil
}

// CreateAccount registers a new email/password account.
func (d *Directory) CreateAccount(ctx context.Context, emailAddr, password string) (*Identity, error) {
	if err := ValidateEmail(emailAddr); err != nil {
		return nil, err
	}
	if err := ValidatePassword(password); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	id := uuid.New()
	now := time.Now().UTC()
	q := `
		INSERT INTO accounts (id, email, password_hash, created_at, last_login_at)
		VALUES ($1, $2, $3, $4, $4)`
	if _, err := d.db.Exec(ctx, q, id, emailAddr, string(hash), now); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, NewError(CodeEmailInUse, "email already registered")
		}
		return nil, fmt.Errorf("create account: %w", err)
	}

	return &Identity{ID: id, Email: emailAddr, CreatedAt: now, LastLoginAt: now}, nil
}

// Authenticate verifies email/password credentials and bumps the
// last-authentication timestamp.
func (d *Directory) Authenticate(ctx context.Context, emailAddr, password string) (*Identity, error) {
	ident, hash, err := d.getByEmail(ctx, emailAddr)
	if err != nil {
		return nil, err
	}
	if hash == "" {
		// OAuth-only account: no password is ever the right password.
		return nil, NewError(CodeWrongPassword, "account has no password; use Google sign-in")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return nil, NewError(CodeWrongPassword, "incorrect password")
	}
	return d.touchLastLogin(ctx, ident)
}

// GetByID returns the identity for an account id.
func (d *Directory) GetByID(ctx context.Context, id uuid.UUID) (*Identity, error) {
	ident, _, err := d.scanOne(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	return ident, err
}

// GetByEmail returns the identity for an email address.
func (d *Directory) GetByEmail(ctx context.Context, emailAddr string) (*Identity, error) {
	ident, _, err := d.getByEmail(ctx, emailAddr)
	return ident, err
}

// SetDisplayName updates the account's display name.
func (d *Directory) SetDisplayName(ctx context.Context, id uuid.UUID, name string) error {
	tag, err := d.db.Exec(ctx, `UPDATE accounts SET display_name = $2 WHERE id = $1`, id, name)
	if err != nil {
		return fmt.Errorf("set display name: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return NewError(CodeUserNotFound, "no such account")
	}
	return nil
}

// VerifyPassword performs a credential challenge against the stored hash and,
// on success, counts as a fresh authentication event.
func (d *Directory) VerifyPassword(ctx context.Context, id uuid.UUID, password string) error {
	ident, hash, err := d.scanOne(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if hash == "" || bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return NewError(CodeWrongPassword, "incorrect password")
	}
	_, err = d.touchLastLogin(ctx, ident)
	return err
}

// SetPassword hashes and stores a new password. The caller must have
// authenticated recently; otherwise the coded requires-recent-login failure
// tells the caller to prompt for a full re-login.
func (d *Directory) SetPassword(ctx context.Context, id uuid.UUID, newPassword string) error {
	if err := ValidatePassword(newPassword); err != nil {
		return err
	}

	ident, _, err := d.scanOne(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if time.Since(ident.LastLoginAt) > recentLoginWindow {
		return NewError(CodeRequiresRecentLogin, "session too old; sign in again before changing the password")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if _, err := d.db.Exec(ctx, `UPDATE accounts SET password_hash = $2 WHERE id = $1`, id, string(hash)); err != nil {
		return fmt.Errorf("set password: %w", err)
	}
	return nil
}

// FindOrCreateGoogle resolves a Google identity to an account, creating one
// on first sign-in. An existing password account with the same email but no
// Google link is NOT silently linked — that surfaces the
// account-exists-with-different-credential failure, matching the dashboard's
// original provider semantics.
func (d *Directory) FindOrCreateGoogle(ctx context.Context, googleID, emailAddr, name, photoURL string) (*Identity, error) {
	ident, _, err := d.scanOne(ctx, `SELECT `+accountColumns+` FROM accounts WHERE google_id = $1`, googleID)
	if err == nil {
		return d.touchLastLogin(ctx, ident)
	}
	var pe *Error
	if !errors.As(err, &pe) || pe.Code != CodeUserNotFound {
		return nil, err
	}

	if _, _, err := d.getByEmail(ctx, emailAddr); err == nil {
		return nil, NewError(CodeAccountExists, "an account with this email already exists with a different sign-in method")
	} else if CodeOf(err) != CodeUserNotFound {
		return nil, err
	}

	id := uuid.New()
	now := time.Now().UTC()
	q := `
		INSERT INTO accounts (id, email, display_name, photo_url, google_id, created_at, last_login_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)`
	if _, err := d.db.Exec(ctx, q, id, emailAddr, name, photoURL, googleID, now); err != nil {
		return nil, fmt.Errorf("create google account: %w", err)
	}
	return &Identity{
		ID:          id,
		Email:       emailAddr,
		DisplayName: name,
		PhotoURL:    photoURL,
		CreatedAt:   now,
		LastLoginAt: now,
	}, nil
}

// SendPasswordReset emails a reset link. Always returns nil for unknown
// addresses so the endpoint cannot be used to enumerate accounts.
func (d *Directory) SendPasswordReset(ctx context.Context, emailAddr string) error {
	ident, _, err := d.getByEmail(ctx, emailAddr)
	if err != nil {
		return nil
	}

	token, err := secureToken(32)
	if err != nil {
		d.logger.Error("generate password reset token", zap.Error(err))
		return nil
	}

	expires := time.Now().UTC().Add(1 * time.Hour)
	q := `
		INSERT INTO password_resets (id, account_id, token, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5)`
	if _, err := d.db.Exec(ctx, q, uuid.New(), ident.ID, token, expires, time.Now().UTC()); err != nil {
		d.logger.Error("persist password reset token", zap.Error(err))
		return nil
	}

	link := d.frontendURL + "/reset-password?token=" + token
	body := fmt.Sprintf(
		"Hello,\n\nReset your supply-chain dashboard password:\n\n  %s\n\nThis link expires in 1 hour.\n\nIf you did not request a reset, ignore this email — your password has not changed.\n",
		link,
	)
	if err := d.mailer.Send(ctx, ident.Email, "Reset your password", body); err != nil {
		d.logger.Warn("send password reset email",
			zap.String("account_id", ident.ID.String()),
			zap.Error(err),
		)
	}
	return nil
}

// CompletePasswordReset consumes a reset token and sets the new password.
func (d *Directory) CompletePasswordReset(ctx context.Context, token, newPassword string) error {
	if err := ValidatePassword(newPassword); err != nil {
		return err
	}

	tx, err := d.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var accountID uuid.UUID
	var expiresAt time.Time
	var usedAt *time.Time
	q := `SELECT account_id, expires_at, used_at FROM password_resets WHERE token = $1`
	if err := tx.QueryRow(ctx, q, token).Scan(&accountID, &expiresAt, &usedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("reset token not found or expired")
		}
		return fmt.Errorf("query reset token: %w", err)
	}
	if usedAt != nil {
		return fmt.Errorf("reset token already used")
	}
	if time.Now().After(expiresAt) {
		return fmt.Errorf("reset token expired")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	now := time.Now().UTC()
	if _, err := tx.Exec(ctx, `UPDATE password_resets SET used_at = $2 WHERE token = $1`, token, now); err != nil {
		return fmt.Errorf("mark token used: %w", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE accounts SET password_hash = $2 WHERE id = $1`, accountID, string(hash)); err != nil {
		return fmt.Errorf("set password: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ── internals ────────────────────────────────────────────────────────────────

const accountColumns = `id, email, password_hash, display_name, photo_url, phone, google_id, created_at, last_login_at`

func (d *Directory) getByEmail(ctx context.Context, emailAddr string) (*Identity, string, error) {
	return d.scanOne(ctx, `SELECT `+accountColumns+` FROM accounts WHERE email = $1`, emailAddr)
}

// scanOne executes a single-row account query and returns the identity plus
// its password hash ("" for OAuth-only accounts).
func (d *Directory) scanOne(ctx context.Context, q string, args ...any) (*Identity, string, error) {
	rows, err := d.db.Query(ctx, q, args...)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, "", err
		}
		return nil, "", NewError(CodeUserNotFound, "no such account")
	}

	var ident Identity
	var hash, displayName, photoURL, phone, googleID *string
	if err := rows.Scan(
		&ident.ID, &ident.Email, &hash, &displayName, &photoURL, &phone, &googleID,
		&ident.CreatedAt, &ident.LastLoginAt,
	); err != nil {
		return nil, "", fmt.Errorf("scan account: %w", err)
	}
	if displayName != nil {
		ident.DisplayName = *displayName
	}
	if photoURL != nil {
		ident.PhotoURL = *photoURL
	}
	if phone != nil {
		ident.Phone = *phone
	}
	h := ""
	if hash != nil {
		h = *hash
	}
	return &ident, h, rows.Err()
}

func (d *Directory) touchLastLogin(ctx context.Context, ident *Identity) (*Identity, error) {
	now := time.Now().UTC()
	if _, err := d.db.Exec(ctx, `UPDATE accounts SET last_login_at = $2 WHERE id = $1`, ident.ID, now); err != nil {
		return nil, fmt.Errorf("touch last login: %w", err)
	}
	ident.LastLoginAt = now
	return ident, nil
}

// secureToken returns a hex-encoded random token of the given byte length.
func secureToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
