package qstash

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidSignature = errors.New("qstash: invalid signature")

// Verifier checks the Upstash-Signature header, an HS256 JWT whose body claim
// is the base64url sha256 of the request body.
type Verifier struct {
	keys []string
	now  func() time.Time
}

func NewVerifier(current, next string) *Verifier {
	v := &Verifier{now: time.Now}
	for _, k := range []string{current, next} {
		if k = strings.TrimSpace(k); k != "" {
			v.keys = append(v.keys, k)
		}
	}
	return v
}

type claims struct {
	jwt.RegisteredClaims
	Body string `json:"body"`
}

// Verify accepts the token when either signing key validates it. A non-empty
// destination must match the subject claim. Tokens without exp are rejected.
func (v *Verifier) Verify(token string, body []byte, destination string) error {
	if v == nil || len(v.keys) == 0 {
		return fmt.Errorf("%w: no signing keys configured", ErrInvalidSignature)
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("%w: missing token", ErrInvalidSignature)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer("Upstash"),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	}
	if destination != "" {
		opts = append(opts, jwt.WithSubject(destination))
	}

	var lastErr error
	for _, key := range v.keys {
		var c claims
		_, err := jwt.ParseWithClaims(token, &c, func(*jwt.Token) (any, error) {
			return []byte(key), nil
		}, opts...)
		if err != nil {
			lastErr = fmt.Errorf("%w: %v", ErrInvalidSignature, err)
			continue
		}

		sum := sha256.Sum256(body)
		if strings.TrimRight(c.Body, "=") != base64.RawURLEncoding.EncodeToString(sum[:]) {
			return fmt.Errorf("%w: body hash mismatch", ErrInvalidSignature)
		}
		return nil
	}
	return lastErr
}
