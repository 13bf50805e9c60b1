package identity

import (
	"context"
	"errors"
	"sync"

	"github.com/MarcoPoloResearchLab/mideita/backend/internal/auth"
	"go.uber.org/zap"
)

// Provider is the sign-in surface offered to the device. Outcomes are observed through
// the broadcaster, never through return values of the engine.
type Provider interface {
	SignIn(ctx context.Context, credential string) error
	SignOut(ctx context.Context) error
}

// SessionProvider signs in with a session token issued by the external auth provider.
type SessionProvider struct {
	validator   *auth.SessionValidator
	broadcaster *Broadcaster
	logger      *zap.Logger

	mu    sync.RWMutex
	token string
}

// NewSessionProvider wires a validator to a broadcaster.
func NewSessionProvider(validator *auth.SessionValidator, broadcaster *Broadcaster, logger *zap.Logger) (*SessionProvider, error) {
	if validator == nil {
		return nil, errors.New("identity: session validator required")
	}
	if broadcaster == nil {
		return nil, errors.New("identity: broadcaster required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionProvider{validator: validator, broadcaster: broadcaster, logger: logger}, nil
}

// SignIn validates the token and publishes the resulting identity.
func (p *SessionProvider) SignIn(ctx context.Context, token string) error {
	claims, err := p.validator.ValidateToken(token)
	if err != nil {
		p.logger.Warn("sign in rejected", zap.Error(err))
		return err
	}
	snapshot := FromClaims(claims)
	p.mu.Lock()
	p.token = token
	p.mu.Unlock()
	p.broadcaster.Publish(snapshot)
	p.logger.Info("signed in", zap.String("user_id", snapshot.ID))
	return nil
}

// SignOut forgets the token and publishes the guest identity.
func (p *SessionProvider) SignOut(ctx context.Context) error {
	p.mu.Lock()
	p.token = ""
	p.mu.Unlock()
	if p.broadcaster.Publish(Guest()) {
		p.logger.Info("signed out")
	}
	return nil
}

// Token returns the active session token, empty when signed out.
func (p *SessionProvider) Token() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.token
}
