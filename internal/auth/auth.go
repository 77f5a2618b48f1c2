package auth

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/npezzotti/go-messenger/internal/database"
	"github.com/npezzotti/go-messenger/internal/types"
)

const (
	TokenCookieKey = "token"
	TokenQueryKey  = "token"

	emailClaim = "email"
	expClaim   = "exp"
)

// Identity is a verified user together with the expiry of the credential
// it was resolved from.
type Identity struct {
	User      types.User
	ExpiresAt time.Time
}

// Expired reports whether the credential behind the identity has lapsed.
func (i Identity) Expired(now time.Time) bool {
	return !i.ExpiresAt.IsZero() && !now.Before(i.ExpiresAt)
}

type AccountLookup interface {
	GetAccountByEmail(email string) (database.User, error)
}

type Resolver struct {
	signingKey []byte
	accounts   AccountLookup
}

func NewResolver(signingKey []byte, accounts AccountLookup) *Resolver {
	return &Resolver{
		signingKey: signingKey,
		accounts:   accounts,
	}
}

// Resolve verifies credential and loads the account it names. Every
// failure wraps types.ErrUnauthenticated.
func (r *Resolver) Resolve(credential string) (Identity, error) {
	if credential == "" {
		return Identity{}, fmt.Errorf("empty credential: %w", types.ErrUnauthenticated)
	}

	token, err := jwt.Parse(credential, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return r.signingKey, nil
	})
	if err != nil {
		return Identity{}, fmt.Errorf("parse token: %v: %w", err, types.ErrUnauthenticated)
	}

	if !token.Valid {
		return Identity{}, fmt.Errorf("invalid token: %w", types.ErrUnauthenticated)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Identity{}, fmt.Errorf("invalid token claims: %w", types.ErrUnauthenticated)
	}

	email, ok := claims[emailClaim].(string)
	if !ok || email == "" {
		return Identity{}, fmt.Errorf("invalid email claim: %w", types.ErrUnauthenticated)
	}

	var expiresAt time.Time
	if exp, ok := claims[expClaim].(float64); ok {
		expiresAt = time.Unix(int64(exp), 0)
	}

	account, err := r.accounts.GetAccountByEmail(email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Identity{}, fmt.Errorf("account %q: %w", email, types.ErrUnauthenticated)
		}
		return Identity{}, fmt.Errorf("get account: %v: %w", err, types.ErrUnauthenticated)
	}

	return Identity{
		User: types.User{
			Id:        account.Id,
			Name:      account.Name,
			Email:     account.EmailAddress,
			Avatar:    account.Avatar,
			CreatedAt: account.CreatedAt,
			UpdatedAt: account.UpdatedAt,
		},
		ExpiresAt: expiresAt,
	}, nil
}

type TokenIssuer struct {
	signingKey []byte
}

func NewTokenIssuer(signingKey []byte) *TokenIssuer {
	return &TokenIssuer{signingKey: signingKey}
}

func (ti *TokenIssuer) Issue(user types.User, ttl time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		emailClaim: user.Email,
		expClaim:   time.Now().Add(ttl).Unix(),
	})

	return token.SignedString(ti.signingKey)
}

// CredentialFromRequest returns the bearer token, the token query
// parameter or the token cookie, in that order of preference.
func CredentialFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if scheme, token, ok := strings.Cut(h, " "); ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}

	if token := r.URL.Query().Get(TokenQueryKey); token != "" {
		return token
	}

	if cookie, err := r.Cookie(TokenCookieKey); err == nil {
		return cookie.Value
	}

	return ""
}
