package services

import (
	"context"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// AdminAccount is one editor allowed to run admin operations.
type AdminAccount struct {
	ID       string
	Email    string
	PassHash []byte
}

type AdminDirectory interface {
	FindAdmin(ctx context.Context, email string) (*AdminAccount, error)
}

// StaticDirectory serves accounts loaded from configuration.
type StaticDirectory map[string]AdminAccount

func NewStaticDirectory(accounts ...AdminAccount) StaticDirectory {
	d := StaticDirectory{}
	for _, a := range accounts {
		if strings.TrimSpace(a.Email) == "" || len(a.PassHash) == 0 {
			continue
		}
		d[strings.ToLower(strings.TrimSpace(a.Email))] = a
	}
	return d
}

func (d StaticDirectory) FindAdmin(_ context.Context, email string) (*AdminAccount, error) {
	a, ok := d[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

type TokenSigner func(actor Actor, ttl time.Duration) (string, error)

type AuthService struct {
	dir       AdminDirectory
	signToken TokenSigner
	tokenTTL  time.Duration
}

type AuthResult struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Actor     Actor     `json:"-"`
}

func NewAuthService(dir AdminDirectory, signer TokenSigner) *AuthService {
	return &AuthService{
		dir:       dir,
		signToken: signer,
		tokenTTL:  12 * time.Hour,
	}
}

// Login checks an editor's password and issues an admin token.
func (s *AuthService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	email = strings.TrimSpace(email)
	if email == "" || strings.TrimSpace(password) == "" {
		return nil, NewInvalidError("email/password required")
	}
	a, err := s.dir.FindAdmin(ctx, email)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, NewUnauthorizedError("invalid credentials")
	}
	if err := bcrypt.CompareHashAndPassword(a.PassHash, []byte(password)); err != nil {
		return nil, NewUnauthorizedError("invalid credentials")
	}
	if s.signToken == nil {
		return nil, NewInvalidError("token signer not configured")
	}
	actor := Actor{ID: a.ID, Email: a.Email, Admin: true}
	token, err := s.signToken(actor, s.tokenTTL)
	if err != nil {
		return nil, err
	}
	return &AuthResult{Token: token, ExpiresAt: time.Now().Add(s.tokenTTL).UTC(), Actor: actor}, nil
}

func (s *AuthService) TokenTTL() time.Duration {
	return s.tokenTTL
}

// HashPassword returns a bcrypt hash suitable for PULSE_ADMIN_PASSWORD_HASH.
func HashPassword(password string) (string, error) {
	if len(strings.TrimSpace(password)) < 8 {
		return "", NewInvalidError("password must be at least 8 characters")
	}
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
