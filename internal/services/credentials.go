package services

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrCredential marks signing or token-exchange failures. Work that depends on
// the credential must stop when it is returned; sending with an invalid token
// is never an option.
var ErrCredential = errors.New("credential minting failed")

const (
	firebaseScope     = "https://www.googleapis.com/auth/firebase.messaging"
	jwtBearerGrant    = "urn:ietf:params:oauth:grant-type:jwt-bearer"
	assertionLifetime = time.Hour
	expiryLeeway      = time.Minute
)

// ServiceAccount is the subset of a service-account key file the dispatch
// path needs.
type ServiceAccount struct {
	ProjectID   string `json:"project_id"`
	ClientEmail string `json:"client_email"`
	PrivateKey  string `json:"private_key"`
}

// ParseServiceAccount decodes the key JSON and parses the embedded PEM
// private key. Done once at startup so a malformed key fails fast instead of
// on the first dispatch.
func ParseServiceAccount(raw string) (*ServiceAccount, *rsa.PrivateKey, error) {
	var account ServiceAccount
	if err := json.Unmarshal([]byte(raw), &account); err != nil {
		return nil, nil, fmt.Errorf("decoding service account key: %w", err)
	}
	if account.ProjectID == "" || account.ClientEmail == "" || account.PrivateKey == "" {
		return nil, nil, errors.New("service account key missing project_id, client_email or private_key")
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(account.PrivateKey))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: parsing private key: %v", ErrCredential, err)
	}
	return &account, key, nil
}

// CredentialCache is an optional external store for minted tokens. A miss is
// ("", nil); cache errors are logged and ignored.
type CredentialCache interface {
	GetAccessToken(ctx context.Context) (string, error)
	SetAccessToken(ctx context.Context, token string, ttl time.Duration) error
}

// Minter exchanges a signed service-account assertion for a bearer token
// usable against the push gateway, and reuses the token until shortly before
// it expires.
type Minter struct {
	account  *ServiceAccount
	key      *rsa.PrivateKey
	tokenURL string
	client   *http.Client
	cache    CredentialCache
	logger   *slog.Logger

	mu      sync.Mutex
	token   string
	expires time.Time
	now     func() time.Time
}

func NewMinter(account *ServiceAccount, key *rsa.PrivateKey, tokenURL string, timeout time.Duration, cache CredentialCache, logger *slog.Logger) *Minter {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Minter{
		account:  account,
		key:      key,
		tokenURL: tokenURL,
		client: &http.Client{
			Timeout: timeout,
		},
		cache:  cache,
		logger: logger,
		now:    time.Now,
	}
}

// AccessToken returns a bearer token, minting one only when no valid token is
// held in process or in the external cache. No retry on failure; the periodic
// trigger re-invokes the whole pass.
func (m *Minter) AccessToken(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if m.token != "" && now.Before(m.expires.Add(-expiryLeeway)) {
		return m.token, nil
	}

	if m.cache != nil {
		cached, err := m.cache.GetAccessToken(ctx)
		if err != nil {
			m.logger.Warn("credential cache read failed", slog.Any("error", err))
		} else if cached != "" {
			return cached, nil
		}
	}

	token, expiresIn, err := m.exchange(ctx, now)
	if err != nil {
		return "", err
	}

	m.token = token
	m.expires = now.Add(expiresIn)

	if m.cache != nil {
		if err := m.cache.SetAccessToken(ctx, token, expiresIn-expiryLeeway); err != nil {
			m.logger.Warn("credential cache write failed", slog.Any("error", err))
		}
	}
	return token, nil
}

func (m *Minter) exchange(ctx context.Context, now time.Time) (string, time.Duration, error) {
	assertion, err := m.signAssertion(now)
	if err != nil {
		return "", 0, fmt.Errorf("%w: signing assertion: %v", ErrCredential, err)
	}

	form := url.Values{
		"grant_type": {jwtBearerGrant},
		"assertion":  {assertion},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, fmt.Errorf("%w: %v", ErrCredential, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.client.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("%w: token exchange: %v", ErrCredential, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", 0, fmt.Errorf("%w: reading token response: %v", ErrCredential, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", 0, fmt.Errorf("%w: token endpoint returned %d: %s", ErrCredential, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", 0, fmt.Errorf("%w: decoding token response: %v", ErrCredential, err)
	}
	if parsed.AccessToken == "" {
		return "", 0, fmt.Errorf("%w: token response missing access_token", ErrCredential)
	}

	expiresIn := time.Duration(parsed.ExpiresIn) * time.Second
	if expiresIn <= 0 {
		expiresIn = assertionLifetime
	}
	return parsed.AccessToken, expiresIn, nil
}

// signAssertion builds the three-part RS256 token the identity provider
// accepts in place of client credentials: issuer, requested scope, audience
// and a one-hour validity window.
func (m *Minter) signAssertion(now time.Time) (string, error) {
	claims := jwt.MapClaims{
		"iss":   m.account.ClientEmail,
		"scope": firebaseScope,
		"aud":   m.tokenURL,
		"iat":   now.Unix(),
		"exp":   now.Add(assertionLifetime).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(m.key)
}
