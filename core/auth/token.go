// Package auth mints and verifies the signed session tokens that prove an
// account's identity without a credential lookup.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Sessions are valid for a week; callers refresh on expiry.
const sessionTTL = 7 * 24 * time.Hour

// ErrorKind classifies decode failures so callers can branch on them.
type ErrorKind int

const (
	// ErrNone means the token decoded cleanly.
	ErrNone ErrorKind = iota
	// ErrInvalid covers bad signatures and malformed structure.
	ErrInvalid
	// ErrExpired means the token was well-formed and signed but past expiry.
	ErrExpired
	// ErrOther covers anything else; Result.Message carries the detail.
	ErrOther
)

// Result is the outcome of decoding a session token. Decode never returns a
// Go error; failures are represented here.
type Result struct {
	Username string
	Kind     ErrorKind
	Message  string
}

// Ok reports whether the token decoded cleanly.
func (r Result) Ok() bool { return r.Kind == ErrNone }

// Codec signs and verifies session tokens with a process-wide secret.
type Codec struct {
	secret []byte
}

// NewCodec constructs a Codec from the signing secret.
func NewCodec(secret string) *Codec {
	return &Codec{secret: []byte(secret)}
}

// Encode mints a session token for the given username, expiring in 7 days.
func (c *Codec) Encode(username string) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   username,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(sessionTTL)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString(c.secret)
}

// Decode verifies a session token. Expired tokens are distinguished from
// invalid ones because callers auto-refresh on expiry but reject on invalid.
func (c *Codec) Decode(token string) Result {
	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return c.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS512.Alg()}))

	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return Result{Kind: ErrExpired, Message: "Token has expired."}
		case errors.Is(err, jwt.ErrTokenMalformed),
			errors.Is(err, jwt.ErrSignatureInvalid),
			errors.Is(err, jwt.ErrTokenSignatureInvalid),
			errors.Is(err, jwt.ErrTokenUnverifiable):
			return Result{Kind: ErrInvalid, Message: "Token is invalid."}
		default:
			return Result{Kind: ErrOther, Message: err.Error()}
		}
	}

	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return Result{Kind: ErrInvalid, Message: "Token is invalid."}
	}
	return Result{Username: claims.Subject}
}
