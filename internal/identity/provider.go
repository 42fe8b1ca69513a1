// Package identity is the email/password identity backend and the
// per-caller session client the session manager talks to.
package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"firehouse/internal/ecode"
	"firehouse/internal/logging"
	"firehouse/internal/models"
)

const (
	issuer         = "firehouse"
	minPasswordLen = 6
)

type claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Provider keeps accounts and sessions in sqlite and signs ID tokens.
// A token stays valid until it expires or its session is signed out.
type Provider struct {
	db       *sql.DB
	secret   []byte
	ttl      time.Duration
	validate *validator.Validate
	log      *logging.Logger
	now      func() time.Time
}

func NewProvider(db *sql.DB, secret string, ttl time.Duration, log *logging.Logger) *Provider {
	return &Provider{
		db:       db,
		secret:   []byte(secret),
		ttl:      ttl,
		validate: validator.New(),
		log:      log,
		now:      time.Now,
	}
}

// NewClient returns a signed-out client.
func (p *Provider) NewClient() *Client {
	return &Client{provider: p}
}

// Resume returns a client signed in with an existing token.
func (p *Provider) Resume(ctx context.Context, token string) (*Client, error) {
	c, err := p.verify(ctx, token)
	if err != nil {
		return nil, err
	}
	return &Client{provider: p, current: &models.Identity{UID: c.Subject, Email: c.Email, Token: token}}, nil
}

// Verify returns the uid a live token belongs to.
func (p *Provider) Verify(ctx context.Context, token string) (string, error) {
	c, err := p.verify(ctx, token)
	if err != nil {
		return "", err
	}
	return c.Subject, nil
}

func (p *Provider) createAccount(ctx context.Context, email, password string) (*models.Identity, error) {
	email = strings.TrimSpace(email)
	if err := p.checkEmail(email); err != nil {
		return nil, err
	}
	if len(password) < minPasswordLen {
		return nil, ecode.New(ecode.WeakPassword, fmt.Sprintf("Password should be at least %d characters", minPasswordLen))
	}

	var exists int
	err := p.db.QueryRowContext(ctx, `SELECT 1 FROM accounts WHERE email = ?`, email).Scan(&exists)
	if err == nil {
		return nil, ecode.New(ecode.EmailAlreadyInUse, "The email address is already in use by another account.")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("lookup account: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	uid := uuid.NewString()
	_, err = p.db.ExecContext(ctx, `INSERT INTO accounts(uid,email,password_hash,created_at) VALUES(?,?,?,?)`,
		uid, email, string(hash), p.now())
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return nil, ecode.New(ecode.EmailAlreadyInUse, "The email address is already in use by another account.")
		}
		return nil, fmt.Errorf("insert account: %w", err)
	}
	p.log.Info(ctx, "account created", "uid", uid)
	return p.openSession(ctx, uid, email)
}

func (p *Provider) signIn(ctx context.Context, email, password string) (*models.Identity, error) {
	email = strings.TrimSpace(email)
	if err := p.checkEmail(email); err != nil {
		return nil, err
	}
	var uid, hash string
	err := p.db.QueryRowContext(ctx, `SELECT uid, password_hash FROM accounts WHERE email = ?`, email).Scan(&uid, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ecode.New(ecode.UserNotFound, "There is no user record corresponding to this identifier.")
	} else if err != nil {
		return nil, fmt.Errorf("lookup account: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return nil, ecode.New(ecode.WrongPassword, "The password is invalid.")
	}
	return p.openSession(ctx, uid, email)
}

func (p *Provider) openSession(ctx context.Context, uid, email string) (*models.Identity, error) {
	sid := uuid.NewString()
	now := p.now()
	expires := now.Add(p.ttl)
	if _, err := p.db.ExecContext(ctx, `INSERT INTO sessions(id,uid,expires_at) VALUES(?,?,?)`, sid, uid, expires); err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   uid,
			ID:        sid,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}).SignedString(p.secret)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}
	return &models.Identity{UID: uid, Email: email, Token: token}, nil
}

func (p *Provider) closeSession(ctx context.Context, token string) error {
	c, err := p.parse(token, jwt.WithoutClaimsValidation())
	if err != nil {
		return nil
	}
	if _, err := p.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, c.ID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (p *Provider) parse(token string, opts ...jwt.ParserOption) (*claims, error) {
	opts = append(opts, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(p.now))
	c := &claims{}
	_, err := jwt.ParseWithClaims(token, c, func(*jwt.Token) (any, error) {
		return p.secret, nil
	}, opts...)
	if err != nil {
		return nil, ecode.New(ecode.InvalidToken, err.Error())
	}
	return c, nil
}

func (p *Provider) verify(ctx context.Context, token string) (*claims, error) {
	c, err := p.parse(token)
	if err != nil {
		return nil, err
	}
	var uid string
	var exp time.Time
	err = p.db.QueryRowContext(ctx, `SELECT uid, expires_at FROM sessions WHERE id = ?`, c.ID).Scan(&uid, &exp)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ecode.New(ecode.InvalidToken, "session has been signed out")
	} else if err != nil {
		return nil, fmt.Errorf("lookup session: %w", err)
	}
	if uid != c.Subject || p.now().After(exp) {
		return nil, ecode.New(ecode.InvalidToken, "session expired")
	}
	return c, nil
}

func (p *Provider) checkEmail(email string) error {
	if err := p.validate.Var(email, "required,email"); err != nil {
		return ecode.New(ecode.InvalidEmail, "The email address is badly formatted.")
	}
	return nil
}
