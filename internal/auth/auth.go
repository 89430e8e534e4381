// Package auth handles owner accounts: invite-code registration, password
// login, signed session tokens and their revocation.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/sweeney/irrigation-scheduler/internal/store"
)

var (
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrInvalidInvite      = errors.New("auth: invalid invite code")
	ErrInvalidToken       = errors.New("auth: invalid token")
	ErrRevoked            = errors.New("auth: token revoked")
)

// InputError is a registration or login form problem shown to the owner as is.
type InputError struct {
	Message string
}

func (e *InputError) Error() string { return e.Message }

const msgMissingFields = "Por favor, preencha todos os campos"

// HashPassword returns the bcrypt hash of password at cost. Costs outside
// bcrypt's range fall back to bcrypt.DefaultCost.
func HashPassword(password string, cost int) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	return string(b), err
}

// CheckPassword reports whether password matches hash.
func CheckPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// NormalizeEmail trims and lowercases an address before it reaches the store.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// RegisterInput is the registration form.
type RegisterInput struct {
	Nome           string `json:"nome" validate:"required,min=3"`
	Email          string `json:"email" validate:"required,email"`
	Senha          string `json:"senha" validate:"required,min=6"`
	ConfirmarSenha string `json:"confirmar_senha" validate:"required,eqfield=Senha"`
	Codigo         string `json:"codigo" validate:"required"`
}

// LoginInput is the login form.
type LoginInput struct {
	Email string `json:"email"`
	Senha string `json:"senha"`
}

// Options configure a Service.
type Options struct {
	InviteCode string
	Secret     string
	TTL        time.Duration
	// Revoker records logged-out tokens. nil means an in-process MemoryRevoker.
	Revoker Revoker
	// Now stamps issued tokens. nil means time.Now.
	Now func() time.Time
	// BcryptCost hashes new passwords. 0 means bcrypt.DefaultCost.
	BcryptCost int
	Logger     *zap.Logger
}

// Service registers and authenticates owners against a store.
type Service struct {
	users      store.Store
	revoker    Revoker
	inviteCode string
	tokens     *tokenIssuer
	cost       int
	log        *zap.Logger
}

// NewService creates a Service.
func NewService(users store.Store, o Options) *Service {
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Revoker == nil {
		o.Revoker = NewMemoryRevoker(o.Now)
	}
	if o.TTL <= 0 {
		o.TTL = 24 * time.Hour
	}
	if o.BcryptCost == 0 {
		o.BcryptCost = bcrypt.DefaultCost
	}
	return &Service{
		users:      users,
		revoker:    o.Revoker,
		inviteCode: o.InviteCode,
		tokens:     &tokenIssuer{secret: []byte(o.Secret), ttl: o.TTL, now: o.Now},
		cost:       o.BcryptCost,
		log:        o.Logger,
	}
}

// Register validates in and creates the account. Checks run in a fixed
// order: missing fields, invite code, then the field rules, then email
// uniqueness.
func (s *Service) Register(ctx context.Context, in RegisterInput) (store.User, error) {
	in.Nome = strings.TrimSpace(in.Nome)
	in.Email = NormalizeEmail(in.Email)
	in.Codigo = strings.TrimSpace(in.Codigo)

	if in.Nome == "" || in.Email == "" || in.Senha == "" || in.ConfirmarSenha == "" || in.Codigo == "" {
		return store.User{}, &InputError{Message: msgMissingFields}
	}
	if in.Codigo != s.inviteCode {
		return store.User{}, ErrInvalidInvite
	}
	if err := store.ValidateStruct(in); err != nil {
		return store.User{}, &InputError{Message: store.ValidationMessage(err)}
	}

	hash, err := HashPassword(in.Senha, s.cost)
	if err != nil {
		return store.User{}, fmt.Errorf("hash password: %w", err)
	}
	u, err := s.users.CreateUser(ctx, store.User{Name: in.Nome, Email: in.Email, PasswordHash: hash})
	if err != nil {
		return store.User{}, err
	}
	s.log.Info("owner registered", zap.String("user_id", u.ID))
	return u, nil
}

// Login checks the credentials and issues a token.
func (s *Service) Login(ctx context.Context, in LoginInput) (string, Principal, error) {
	email := NormalizeEmail(in.Email)
	if email == "" || in.Senha == "" {
		return "", Principal{}, &InputError{Message: msgMissingFields}
	}
	u, err := s.users.UserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return "", Principal{}, ErrInvalidCredentials
	}
	if err != nil {
		return "", Principal{}, err
	}
	if !CheckPassword(in.Senha, u.PasswordHash) {
		s.log.Info("login failed", zap.String("user_id", u.ID))
		return "", Principal{}, ErrInvalidCredentials
	}
	tok, p, err := s.tokens.issue(u)
	if err != nil {
		return "", Principal{}, err
	}
	return tok, p, nil
}

// Authenticate resolves a token to its owner.
func (s *Service) Authenticate(ctx context.Context, token string) (Principal, error) {
	p, err := s.tokens.parse(token)
	if err != nil {
		return Principal{}, err
	}
	revoked, err := s.revoker.Revoked(ctx, p.TokenID)
	if err != nil {
		return Principal{}, fmt.Errorf("check revocation: %w", err)
	}
	if revoked {
		return Principal{}, ErrRevoked
	}
	if _, err := s.users.UserByID(ctx, p.UserID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Principal{}, ErrInvalidToken
		}
		return Principal{}, err
	}
	return p, nil
}

// Logout revokes p's token until it would have expired anyway.
func (s *Service) Logout(ctx context.Context, p Principal) error {
	return s.revoker.Revoke(ctx, p.TokenID, p.ExpiresAt)
}
