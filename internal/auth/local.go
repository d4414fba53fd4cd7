package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"carelink/internal/db"
)

const accountsPath = "accounts"

type account struct {
	Email        string `json:"email"`
	PasswordHash string `json:"passwordHash"`
	CreatedAt    int64  `json:"createdAt"`
}

// LocalProvider keeps bcrypt credentials in the document store under
// accounts/<uid> and issues its own signed id tokens.
type LocalProvider struct {
	store    db.Store
	secret   []byte
	tokenTTL time.Duration
	cost     int
	// mu keeps email uniqueness within this process.
	mu sync.Mutex
}

func NewLocalProvider(store db.Store, secret string) *LocalProvider {
	return &LocalProvider{
		store:    store,
		secret:   []byte(secret),
		tokenTTL: time.Hour,
		cost:     bcrypt.DefaultCost,
	}
}

// WithCost sets the bcrypt cost for new hashes.
func (p *LocalProvider) WithCost(cost int) *LocalProvider {
	p.cost = cost
	return p
}

func (p *LocalProvider) CreateAccount(ctx context.Context, email, password string) (string, error) {
	email = normalizeEmail(email)
	p.mu.Lock()
	defer p.mu.Unlock()

	uid, _, err := p.lookup(ctx, email)
	if err != nil {
		return "", err
	}
	if uid != "" {
		return "", ErrAccountExists
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), p.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	uid = uuid.NewString()
	acc := account{Email: email, PasswordHash: string(hash), CreatedAt: time.Now().UnixMilli()}
	if err := p.store.Set(ctx, db.Join(accountsPath, uid), acc); err != nil {
		return "", err
	}
	return uid, nil
}

func (p *LocalProvider) SignIn(ctx context.Context, email, password string) (string, error) {
	uid, acc, err := p.lookup(ctx, normalizeEmail(email))
	if err != nil {
		return "", err
	}
	if uid == "" {
		return "", ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte(password)) != nil {
		return "", ErrInvalidCredentials
	}
	now := time.Now()
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   uid,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(p.tokenTTL)),
	})
	return t.SignedString(p.secret)
}

func (p *LocalProvider) Verify(_ context.Context, token string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return p.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !parsed.Valid || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

func (p *LocalProvider) ResetPassword(ctx context.Context, email, password string) (string, error) {
	uid, _, err := p.lookup(ctx, normalizeEmail(email))
	if err != nil {
		return "", err
	}
	if uid == "" {
		return "", ErrInvalidCredentials
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), p.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	if err := p.store.Update(ctx, db.Join(accountsPath, uid), map[string]any{"passwordHash": string(hash)}); err != nil {
		return "", err
	}
	return uid, nil
}

func (p *LocalProvider) lookup(ctx context.Context, email string) (string, *account, error) {
	children, err := p.store.QueryEqual(ctx, accountsPath, "email", email)
	if err != nil {
		return "", nil, err
	}
	if len(children) == 0 {
		return "", nil, nil
	}
	var acc account
	if err := json.Unmarshal(children[0].Value, &acc); err != nil {
		return "", nil, errors.Join(fmt.Errorf("decode account %s", children[0].Key), err)
	}
	return children[0].Key, &acc, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
