// Package credentials stores calendar credentials encrypted at rest and
// hands out OAuth token sources and CalDAV logins to the providers.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/robpanda/panda-crm/internal/availability/domain"
)

// DefaultCacheTTL bounds how long a token source is reused before the
// stored credential is read again.
const DefaultCacheTTL = 30 * time.Minute

// StoredCredential is the encrypted form of one identity's credentials.
// OAuth identities fill the token fields; CalDAV identities fill the
// server fields and Password.
type StoredCredential struct {
	Provider     domain.ProviderType
	Account      string
	AccessToken  []byte
	RefreshToken []byte
	TokenType    string
	Expiry       time.Time
	ServerURL    string
	Username     string
	Password     []byte
	CalendarPath string
	UpdatedAt    time.Time
}

// Identity returns the external identity the credential belongs to.
func (c StoredCredential) Identity() domain.ExternalIdentity {
	return domain.ExternalIdentity{Provider: c.Provider, Account: c.Account}
}

// Repository persists stored credentials. Find returns
// domain.ErrNoCredentials when nothing is stored.
type Repository interface {
	SaveCredential(ctx context.Context, cred StoredCredential) error
	FindCredential(ctx context.Context, identity domain.ExternalIdentity) (*StoredCredential, error)
}

// BasicAuth is a decrypted CalDAV login.
type BasicAuth struct {
	ServerURL    string
	Username     string
	Password     string
	CalendarPath string
}

type cachedSource struct {
	source  oauth2.TokenSource
	expires time.Time
}

// Service resolves identities to usable credentials.
type Service struct {
	repo      Repository
	encrypter Encrypter
	oauth     map[domain.ProviderType]*oauth2.Config
	logger    *slog.Logger
	ttl       time.Duration
	now       func() time.Time

	mu    sync.Mutex
	cache map[string]cachedSource
}

// NewService creates a credential service.
func NewService(repo Repository, encrypter Encrypter, logger *slog.Logger) (*Service, error) {
	if repo == nil || encrypter == nil {
		return nil, errors.New("credential dependencies are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:      repo,
		encrypter: encrypter,
		oauth:     make(map[domain.ProviderType]*oauth2.Config),
		logger:    logger,
		ttl:       DefaultCacheTTL,
		now:       time.Now,
		cache:     make(map[string]cachedSource),
	}, nil
}

// WithCacheTTL overrides the token source cache lifetime.
func (s *Service) WithCacheTTL(ttl time.Duration) *Service {
	if ttl > 0 {
		s.ttl = ttl
	}
	return s
}

// RegisterOAuth configures the OAuth client used to refresh tokens for a
// provider.
func (s *Service) RegisterOAuth(provider domain.ProviderType, clientID, clientSecret, authURL, tokenURL string, scopes []string) error {
	if clientID == "" || clientSecret == "" || tokenURL == "" {
		return fmt.Errorf("oauth configuration for %s is incomplete", provider)
	}
	s.oauth[provider] = &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:  authURL,
			TokenURL: tokenURL,
		},
		Scopes: scopes,
	}
	return nil
}

// AuthCodeURL returns the consent URL for provider. Offline access is
// requested so the stored token can be refreshed.
func (s *Service) AuthCodeURL(provider domain.ProviderType, state, redirectURL string) (string, error) {
	cfg, ok := s.oauth[provider]
	if !ok {
		return "", fmt.Errorf("oauth not configured for %s", provider)
	}
	c := *cfg
	c.RedirectURL = redirectURL
	return c.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce), nil
}

// Exchange trades an authorization code for a token and stores it for
// identity.
func (s *Service) Exchange(ctx context.Context, identity domain.ExternalIdentity, code, redirectURL string) error {
	cfg, ok := s.oauth[identity.Provider]
	if !ok {
		return fmt.Errorf("oauth not configured for %s", identity.Provider)
	}
	c := *cfg
	c.RedirectURL = redirectURL
	token, err := c.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("exchange code for %s: %w", identity, err)
	}
	return s.StoreToken(ctx, identity, token)
}

// TokenSource returns a refreshing token source for an OAuth identity.
// Sources are cached per identity until the TTL lapses or Invalidate is
// called. Refreshed tokens are written back to the repository.
func (s *Service) TokenSource(ctx context.Context, identity domain.ExternalIdentity) (oauth2.TokenSource, error) {
	key := identity.Key()
	s.mu.Lock()
	if cached, ok := s.cache[key]; ok && s.now().Before(cached.expires) {
		s.mu.Unlock()
		return cached.source, nil
	}
	s.mu.Unlock()

	cfg, ok := s.oauth[identity.Provider]
	if !ok {
		return nil, fmt.Errorf("oauth not configured for %s", identity.Provider)
	}
	stored, err := s.repo.FindCredential(ctx, identity)
	if err != nil {
		return nil, err
	}
	token, err := s.decryptToken(stored)
	if err != nil {
		return nil, fmt.Errorf("decrypt token for %s: %w", identity, err)
	}

	// Refreshes outlive the request that triggered the lookup.
	base := cfg.TokenSource(context.WithoutCancel(ctx), token)
	source := &persistingSource{
		base:     base,
		last:     token.AccessToken,
		identity: identity,
		service:  s,
	}

	s.mu.Lock()
	s.cache[key] = cachedSource{source: source, expires: s.now().Add(s.ttl)}
	s.mu.Unlock()
	return source, nil
}

// Invalidate drops the cached token source so the next lookup reloads
// the stored credential.
func (s *Service) Invalidate(identity domain.ExternalIdentity) {
	s.mu.Lock()
	delete(s.cache, identity.Key())
	s.mu.Unlock()
	s.logger.Info("credential cache invalidated", "identity", identity.String())
}

// BasicAuth returns the decrypted CalDAV login for an identity.
func (s *Service) BasicAuth(ctx context.Context, identity domain.ExternalIdentity) (BasicAuth, error) {
	stored, err := s.repo.FindCredential(ctx, identity)
	if err != nil {
		return BasicAuth{}, err
	}
	if stored.ServerURL == "" {
		return BasicAuth{}, fmt.Errorf("%w: %s has no server url", domain.ErrNoCredentials, identity)
	}
	password, err := s.decrypt(stored.Password)
	if err != nil {
		return BasicAuth{}, fmt.Errorf("decrypt password for %s: %w", identity, err)
	}
	username := stored.Username
	if username == "" {
		username = identity.Account
	}
	return BasicAuth{
		ServerURL:    stored.ServerURL,
		Username:     username,
		Password:     password,
		CalendarPath: stored.CalendarPath,
	}, nil
}

// StoreToken encrypts and saves an OAuth token for an identity.
func (s *Service) StoreToken(ctx context.Context, identity domain.ExternalIdentity, token *oauth2.Token) error {
	if token == nil || token.AccessToken == "" {
		return errors.New("access token is required")
	}
	access, err := s.encrypter.Encrypt([]byte(token.AccessToken))
	if err != nil {
		return err
	}
	var refresh []byte
	if token.RefreshToken != "" {
		if refresh, err = s.encrypter.Encrypt([]byte(token.RefreshToken)); err != nil {
			return err
		}
	}
	err = s.repo.SaveCredential(ctx, StoredCredential{
		Provider:     identity.Provider,
		Account:      normalizeAccount(identity.Account),
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    token.TokenType,
		Expiry:       token.Expiry,
		UpdatedAt:    s.now().UTC(),
	})
	if err != nil {
		return err
	}
	s.Invalidate(identity)
	return nil
}

// StoreBasicAuth encrypts and saves a CalDAV login for an identity.
func (s *Service) StoreBasicAuth(ctx context.Context, identity domain.ExternalIdentity, auth BasicAuth) error {
	if auth.ServerURL == "" {
		return errors.New("server url is required")
	}
	password, err := s.encrypter.Encrypt([]byte(auth.Password))
	if err != nil {
		return err
	}
	return s.repo.SaveCredential(ctx, StoredCredential{
		Provider:     identity.Provider,
		Account:      normalizeAccount(identity.Account),
		ServerURL:    auth.ServerURL,
		Username:     auth.Username,
		Password:     password,
		CalendarPath: auth.CalendarPath,
		UpdatedAt:    s.now().UTC(),
	})
}

func (s *Service) decryptToken(stored *StoredCredential) (*oauth2.Token, error) {
	access, err := s.decrypt(stored.AccessToken)
	if err != nil {
		return nil, err
	}
	refresh, err := s.decrypt(stored.RefreshToken)
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    stored.TokenType,
		Expiry:       stored.Expiry,
	}, nil
}

func (s *Service) decrypt(b []byte) (string, error) {
	if len(b) == 0 {
		return "", nil
	}
	plain, err := s.encrypter.Decrypt(b)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

func normalizeAccount(account string) string {
	return strings.ToLower(strings.TrimSpace(account))
}

// persistingSource writes refreshed tokens back to the repository.
type persistingSource struct {
	base     oauth2.TokenSource
	identity domain.ExternalIdentity
	service  *Service

	mu   sync.Mutex
	last string
}

func (p *persistingSource) Token() (*oauth2.Token, error) {
	token, err := p.base.Token()
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	changed := token.AccessToken != p.last
	p.last = token.AccessToken
	p.mu.Unlock()

	if changed {
		if err := p.persist(token); err != nil {
			p.service.logger.Warn("persist refreshed token failed", "identity", p.identity.String(), "error", err)
		}
	}
	return token, nil
}

func (p *persistingSource) persist(token *oauth2.Token) error {
	s := p.service
	access, err := s.encrypter.Encrypt([]byte(token.AccessToken))
	if err != nil {
		return err
	}
	var refresh []byte
	if token.RefreshToken != "" {
		if refresh, err = s.encrypter.Encrypt([]byte(token.RefreshToken)); err != nil {
			return err
		}
	}
	return s.repo.SaveCredential(context.Background(), StoredCredential{
		Provider:     p.identity.Provider,
		Account:      normalizeAccount(p.identity.Account),
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    token.TokenType,
		Expiry:       token.Expiry,
		UpdatedAt:    s.now().UTC(),
	})
}
