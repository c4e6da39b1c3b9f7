package access

import (
	"errors"
	"fmt"

	"github.com/guided-traffic/json-post-proxy/internal/pipeline"
	"golang.org/x/crypto/bcrypt"
)

// BasicAuthenticator checks HTTP basic credentials against bcrypt hashes
type BasicAuthenticator struct {
	realm string
	users map[string][]byte
}

// NewBasicAuthenticator creates a basic auth authenticator; users maps names
// to bcrypt password hashes
func NewBasicAuthenticator(realm string, users map[string]string) *BasicAuthenticator {
	a := &BasicAuthenticator{realm: realm, users: make(map[string][]byte, len(users))}
	for name, hash := range users {
		a.users[name] = []byte(hash)
	}
	return a
}

// Type implements Authenticator
func (a *BasicAuthenticator) Type() string {
	return "basic"
}

// Authenticate implements Authenticator. The user name is exposed as $remote_user.
func (a *BasicAuthenticator) Authenticate(r *pipeline.Request) error {
	challenge := fmt.Sprintf("Basic realm=%q", a.realm)

	name, password, ok := r.HTTP.BasicAuth()
	if !ok {
		return &Failure{Reason: ReasonMissingCredentials, Challenge: challenge}
	}

	hash, found := a.users[name]
	if !found {
		return &Failure{Reason: ReasonUnknownUser, Challenge: challenge}
	}

	if err := bcrypt.CompareHashAndPassword(hash, []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return &Failure{Reason: ReasonBadPassword, Challenge: challenge}
		}
		return fmt.Errorf("failed to verify password of user %s: %w", name, err)
	}

	r.Vars().Set(RemoteUserVariable, name)
	return nil
}
