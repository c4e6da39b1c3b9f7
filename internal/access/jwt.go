package access

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/guided-traffic/json-post-proxy/internal/pipeline"
)

// ClaimPrefix is prepended to the variables bound from token claims
const ClaimPrefix = "jwt_"

// RemoteUserVariable holds the authenticated basic auth user
const RemoteUserVariable = "remote_user"

// JWTAuthenticator accepts HS256 bearer tokens signed with a shared secret.
// String, number and boolean claims are exposed as $jwt_<claim>.
type JWTAuthenticator struct {
	secret []byte
	realm  string
	parser *jwt.Parser
}

// NewJWTAuthenticator creates a bearer token authenticator
func NewJWTAuthenticator(secret, realm string) *JWTAuthenticator {
	return &JWTAuthenticator{
		secret: []byte(secret),
		realm:  realm,
		parser: jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})),
	}
}

// Type implements Authenticator
func (a *JWTAuthenticator) Type() string {
	return "jwt"
}

// Authenticate implements Authenticator
func (a *JWTAuthenticator) Authenticate(r *pipeline.Request) error {
	challenge := fmt.Sprintf("Bearer realm=%q", a.realm)

	header := r.HTTP.Header.Get("Authorization")
	tokenString, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || tokenString == "" {
		return &Failure{Reason: ReasonMissingCredentials, Challenge: challenge}
	}

	claims := jwt.MapClaims{}
	_, err := a.parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return a.secret, nil
	})
	if err != nil {
		reason := ReasonInvalidToken
		if errors.Is(err, jwt.ErrTokenExpired) {
			reason = ReasonExpiredToken
		}
		return &Failure{
			Reason:    reason,
			Challenge: challenge + `, error="invalid_token"`,
			Err:       err,
		}
	}

	for name, value := range claims {
		if s, ok := claimString(value); ok {
			r.Vars().Set(ClaimPrefix+pipeline.SanitizeName(name), s)
		}
	}
	return nil
}

func claimString(v interface{}) (string, bool) {
	switch c := v.(type) {
	case string:
		return c, true
	case float64:
		return strconv.FormatFloat(c, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(c), true
	}
	return "", false
}
