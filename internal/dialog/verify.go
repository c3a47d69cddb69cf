package dialog

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken indicates the webhook signature or claims did not verify.
var ErrInvalidToken = errors.New("dialog: invalid webhook token")

// Claims is the payload the dialog platform signs onto each webhook turn: the
// end-user identity and their linked collaboration-platform access token.
type Claims struct {
	jwt.RegisteredClaims
	Identity    string `json:"identity"`
	AccessToken string `json:"accessToken,omitempty"`
}

// Verifier checks the platform-signed webhook token.
type Verifier struct {
	secret   []byte
	audience string
}

// NewVerifier creates a verifier for the shared webhook secret; audience is
// the client id the platform addresses tokens to.
func NewVerifier(secret, audience string) *Verifier {
	return &Verifier{secret: []byte(secret), audience: audience}
}

// Verify parses and validates the token, returning its claims.
func (v *Verifier) Verify(token string) (Claims, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %s", t.Method.Alg())
		}
		return v.secret, nil
	}, jwt.WithAudience(v.audience), jwt.WithExpirationRequired())
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid || claims.Identity == "" {
		return Claims{}, ErrInvalidToken
	}
	return claims, nil
}
