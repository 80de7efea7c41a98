package secrets

// Store is the secret-store port: it holds the shared webhook signing
// secret. A missing secret is an operator misconfiguration, reported to
// callers as absent rather than as an error.
type Store interface {
	WebhookSecret() (string, bool)
}

// Static serves a secret fixed at construction time.
type Static struct {
	secret string
}

func NewStatic(secret string) *Static {
	return &Static{secret: secret}
}

func (s *Static) WebhookSecret() (string, bool) {
	return s.secret, s.secret != ""
}
