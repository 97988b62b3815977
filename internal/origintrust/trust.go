// File: internal/origintrust/trust.go

// Package origintrust owns the process-wide identifiers that separate the
// bridge's trusted origin from arbitrary target-site origins: the shared
// secret proving a message came from our own injected script, and the
// session cookie marking our own browsing context.
package origintrust

import (
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SessionCookieName is the cookie used on the trusted origin. It must never
// be sent to, or accepted from, a target site.
const SessionCookieName = "HUD-Session"

// TestNonSecret is a well known non-secret used to simulate the case where
// a malicious target site has got hold of the real shared secret. Only ever
// active in tutorial test mode.
const TestNonSecret = "TEST_MODE"

// Service holds the identifiers for the lifetime of the process. Both are
// generated once at construction and immutable afterwards, so concurrent
// reads need no synchronisation.
type Service struct {
	sharedSecret  string
	sessionCookie string
	log           *zap.Logger
}

// NewService generates the shared secret and session cookie. A failing
// random source is fatal: the whole trust model depends on these being
// unguessable, so there is no fallback value.
func NewService(logger *zap.Logger) (*Service, error) {
	secret, err := uuid.NewRandom()
	if err != nil {
		return nil, fmt.Errorf("generating shared secret: %w", err)
	}
	cookie, err := uuid.NewRandom()
	if err != nil {
		return nil, fmt.Errorf("generating session cookie: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		sharedSecret:  secret.String(),
		sessionCookie: cookie.String(),
		log:           logger.Named("origintrust"),
	}, nil
}

// ActiveSecret returns the secret to substitute into served assets. When
// tutorial test mode is enabled the well known non-secret is returned
// instead, an explicit downgrade for controlled tutorial environments.
func (s *Service) ActiveSecret(testModeEnabled bool) string {
	if testModeEnabled {
		return TestNonSecret
	}
	return s.sharedSecret
}

// SessionCookie returns the trusted-origin session cookie value.
func (s *Service) SessionCookie() string {
	return s.sessionCookie
}

// IsTrustedSession reports whether the request carries our own session
// cookie with the expected value.
func (s *Service) IsTrustedSession(r *http.Request) bool {
	v, ok := ExtractCookie(r, SessionCookieName)
	return ok && v == s.sessionCookie
}

// ExtractCookie returns the first cookie with the given name from the
// request, if present. Absence is not an error.
func ExtractCookie(r *http.Request, name string) (string, bool) {
	for _, c := range r.Cookies() {
		if c.Name == name {
			return c.Value, true
		}
	}
	return "", false
}
