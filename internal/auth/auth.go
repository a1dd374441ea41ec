// Package auth implements optional credential checking for the HTTP API:
// a single username/password pair exchanged for a signed JWT.
package auth

import (
	"errors"
	"time"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAuthDisabled       = errors.New("authentication is disabled")
)

// Options configures an Authenticator. Password may be a plaintext secret
// (hashed at startup) or a pre-computed bcrypt hash.
type Options struct {
	Enabled   bool
	Username  string
	Password  string
	JWTSecret string
	JWTExpiry time.Duration
}

// Authenticator validates credentials and issues tokens.
type Authenticator struct {
	enabled      bool
	username     string
	passwordHash []byte
	tokens       *TokenManager
}

// New creates an authenticator. When enabled, the password is stored only
// as a bcrypt hash.
func New(opts Options) (*Authenticator, error) {
	a := &Authenticator{
		enabled:  opts.Enabled,
		username: opts.Username,
		tokens:   NewTokenManager(opts.JWTSecret, opts.JWTExpiry),
	}

	if !opts.Enabled {
		return a, nil
	}
	if opts.Username == "" || opts.Password == "" {
		return nil, errors.New("auth enabled but username or password missing")
	}

	if isBcryptHash(opts.Password) {
		a.passwordHash = []byte(opts.Password)
	} else {
		hash, err := bcrypt.GenerateFromPassword([]byte(opts.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, err
		}
		a.passwordHash = hash
	}
	return a, nil
}

func isBcryptHash(s string) bool {
	return len(s) == 60 && s[0] == '$'
}

// IsEnabled reports whether authentication is required.
func (a *Authenticator) IsEnabled() bool {
	return a.enabled
}

// Authenticate checks the credentials and returns a signed token with its
// expiry as Unix seconds.
func (a *Authenticator) Authenticate(username, password string) (string, int64, error) {
	if !a.enabled {
		return "", 0, ErrAuthDisabled
	}
	if username != a.username {
		return "", 0, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(a.passwordHash, []byte(password)); err != nil {
		return "", 0, ErrInvalidCredentials
	}

	token, expiresAt, err := a.tokens.Generate(username)
	if err != nil {
		return "", 0, err
	}
	return token, expiresAt.Unix(), nil
}

// ValidateToken parses and verifies a token issued by Authenticate.
func (a *Authenticator) ValidateToken(token string) (*Claims, error) {
	return a.tokens.Validate(token)
}
