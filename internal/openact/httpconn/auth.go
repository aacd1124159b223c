// Authentication routing: resolves an AuthorizationType union (API key,
// basic, OAuth2 client-credentials, OAuth2 authorization-code) into
// request decoration, using golang.org/x/oauth2/clientcredentials for
// the client-credentials flow and a store-backed cache for refreshed
// authorization-code tokens.
package httpconn

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/openact/openact/internal/openact/errs"
)

// patPrefixes lists recognized personal-access-token prefixes that allow a
// client-credentials secret to be used directly as a bearer token without
// an AuthStore round trip.
var patPrefixes = []string{"ghp_", "gho_", "ghu_", "ghs_", "ghr_"}

// AuthConnectionStore is the subset of the persistence layer the OAuth2
// manager needs to read/refresh an AuthorizationCode connection's token.
type AuthConnectionStore interface {
	GetAuthConnection(ctx context.Context, trn string) (*AuthConnectionView, error)
	CompareAndSwapAuthConnection(ctx context.Context, trn string, expectedVersion int64, newAccessToken, newRefreshToken string, newExpiresAt *time.Time) (bool, error)
}

// AuthConnectionView is the read projection of store.AuthConnection that
// httpconn needs, kept independent of the store package to avoid an import
// cycle between httpconn and store (store has no dependency on httpconn).
type AuthConnectionView struct {
	Version      int64
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
	TokenType    string
}

// TokenRefresher exchanges a refresh token for a new access token; the
// concrete OAuth2 provider quirks are external per §1 scope.
type TokenRefresher func(ctx context.Context, tokenURL, clientID, clientSecret, refreshToken string) (*oauth2.Token, error)

type cachedToken struct {
	accessToken string
	expiresAt   time.Time
}

// AuthManager resolves AuthConfig into a request decoration, caching
// client-credentials tokens by (token_url, client_id, scopes) and
// coalescing concurrent refreshes for authorization-code connections.
type AuthManager struct {
	Store        AuthConnectionStore
	Refresher    TokenRefresher
	SafetyMargin time.Duration

	mu          sync.Mutex
	ccCache     map[string]cachedToken
	refreshLock map[string]*sync.Mutex
}

// NewAuthManager builds an AuthManager with a 60s safety margin default.
func NewAuthManager(store AuthConnectionStore, refresher TokenRefresher) *AuthManager {
	return &AuthManager{
		Store:        store,
		Refresher:    refresher,
		SafetyMargin: 60 * time.Second,
		ccCache:      make(map[string]cachedToken),
		refreshLock:  make(map[string]*sync.Mutex),
	}
}

// Decoration is what Apply asks the request builder to do: add a header,
// add a query parameter, or set Basic auth.
type Decoration struct {
	Header      string // header name to set, "" if none
	HeaderValue string
	Query       string // query key to add, "" if none
	QueryValue  string
	BasicUser   string
	BasicPass   string
	UseBasic    bool
}

// Resolve computes the Decoration for auth, performing any required token
// acquisition/refresh.
func (m *AuthManager) Resolve(ctx context.Context, auth *AuthConfig) (*Decoration, error) {
	if auth == nil {
		return nil, nil
	}
	switch auth.Type {
	case AuthApiKey:
		return resolveAPIKey(auth), nil
	case AuthBasic:
		return &Decoration{UseBasic: true, BasicUser: auth.Username, BasicPass: auth.Password}, nil
	case AuthOAuth2ClientCredentials:
		token, err := m.resolveClientCredentials(ctx, auth)
		if err != nil {
			return nil, err
		}
		return &Decoration{Header: "Authorization", HeaderValue: "Bearer " + token}, nil
	case AuthOAuth2AuthorizationCode:
		token, err := m.resolveAuthorizationCode(ctx, auth)
		if err != nil {
			return nil, err
		}
		return &Decoration{Header: "Authorization", HeaderValue: "Bearer " + token}, nil
	default:
		return nil, errs.NewInvalidConfig("httpconn: unsupported authorization type " + string(auth.Type))
	}
}

// resolveAPIKey implements the §4.4.3 ApiKey placement heuristic:
// "authorization" in the name (case-insensitive) -> bearer header; a name
// that starts with "x-" or contains "key" -> custom header; otherwise the
// key/value go in the query string.
func resolveAPIKey(auth *AuthConfig) *Decoration {
	lower := strings.ToLower(auth.ApiKeyName)
	switch {
	case strings.Contains(lower, "authorization"):
		return &Decoration{Header: "Authorization", HeaderValue: "Bearer " + auth.ApiKeyValue}
	case strings.HasPrefix(lower, "x-") || strings.Contains(lower, "key"):
		return &Decoration{Header: auth.ApiKeyName, HeaderValue: auth.ApiKeyValue}
	default:
		return &Decoration{Query: auth.ApiKeyName, QueryValue: auth.ApiKeyValue}
	}
}

func isPAT(secret string) bool {
	for _, p := range patPrefixes {
		if strings.HasPrefix(secret, p) {
			return true
		}
	}
	return false
}

func (m *AuthManager) resolveClientCredentials(ctx context.Context, auth *AuthConfig) (string, error) {
	if m.Store == nil && isPAT(auth.ClientSecret) {
		return auth.ClientSecret, nil
	}
	if m.Store == nil {
		return "", &errs.Error{Type: errs.Authentication, Message: "httpconn: oauth2 client_credentials requires an AuthStore"}
	}

	key := cacheKey(auth.TokenURL, auth.ClientID, auth.Scopes)

	m.mu.Lock()
	if cached, ok := m.ccCache[key]; ok && time.Now().Before(cached.expiresAt.Add(-m.SafetyMargin)) {
		m.mu.Unlock()
		return cached.accessToken, nil
	}
	m.mu.Unlock()

	cfg := clientcredentials.Config{
		ClientID:     auth.ClientID,
		ClientSecret: auth.ClientSecret,
		TokenURL:     auth.TokenURL,
		Scopes:       auth.Scopes,
	}
	token, err := cfg.Token(ctx)
	if err != nil {
		return "", classifyOAuth2Error(err, "httpconn: oauth2 client_credentials exchange failed")
	}

	m.mu.Lock()
	m.ccCache[key] = cachedToken{accessToken: token.AccessToken, expiresAt: token.Expiry}
	m.mu.Unlock()

	return token.AccessToken, nil
}

func (m *AuthManager) resolveAuthorizationCode(ctx context.Context, auth *AuthConfig) (string, error) {
	if auth.AuthRef == "" {
		return "", errs.NewInvalidConfig("httpconn: oauth2 authorization_code requires auth_ref")
	}
	if m.Store == nil {
		return "", errs.NewInvalidConfig("httpconn: oauth2 authorization_code requires an AuthStore")
	}

	lock := m.lockFor(auth.AuthRef)
	lock.Lock()
	defer lock.Unlock()

	conn, err := m.Store.GetAuthConnection(ctx, auth.AuthRef)
	if err != nil {
		return "", err
	}
	if !isExpiringSoon(conn.ExpiresAt, m.SafetyMargin) {
		return conn.AccessToken, nil
	}
	if m.Refresher == nil {
		return conn.AccessToken, nil
	}

	newToken, err := m.Refresher(ctx, auth.TokenURL, auth.ClientID, auth.ClientSecret, conn.RefreshToken)
	if err != nil {
		return "", classifyOAuth2Error(err, "httpconn: oauth2 refresh failed")
	}

	ok, err := m.Store.CompareAndSwapAuthConnection(ctx, auth.AuthRef, conn.Version, newToken.AccessToken, newToken.RefreshToken, &newToken.Expiry)
	if err != nil {
		return "", err
	}
	if !ok {
		// Lost a concurrent refresh race; re-read and retry once.
		conn, err = m.Store.GetAuthConnection(ctx, auth.AuthRef)
		if err != nil {
			return "", err
		}
		ok, err = m.Store.CompareAndSwapAuthConnection(ctx, auth.AuthRef, conn.Version, newToken.AccessToken, newToken.RefreshToken, &newToken.Expiry)
		if err != nil {
			return "", err
		}
		if !ok {
			return conn.AccessToken, nil
		}
	}
	return newToken.AccessToken, nil
}

func (m *AuthManager) lockFor(key string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.refreshLock[key]
	if !ok {
		l = &sync.Mutex{}
		m.refreshLock[key] = l
	}
	return l
}

func isExpiringSoon(expiresAt *time.Time, margin time.Duration) bool {
	if expiresAt == nil {
		return false
	}
	return time.Now().Add(margin).After(*expiresAt)
}

func cacheKey(tokenURL, clientID string, scopes []string) string {
	return tokenURL + "|" + clientID + "|" + strings.Join(scopes, ",")
}

// nonRetryableOAuth2Codes are RFC 6749 error codes indicating the grant
// itself is invalid; retrying with the same credentials cannot help.
var nonRetryableOAuth2Codes = map[string]bool{
	"invalid_grant":        true,
	"unauthorized_client":  true,
	"access_denied":        true,
	"invalid_client":       true,
	"unsupported_grant_type": true,
}

// retryableOAuth2Codes indicate a transient condition at the authorization
// server.
var retryableOAuth2Codes = map[string]bool{
	"temporarily_unavailable": true,
	"server_error":            true,
}

// classifyOAuth2Error inspects a token-exchange error's RFC 6749 error code
// (when the provider returned one) to decide retryability: only
// temporarily_unavailable and server_error become retryable Connection
// errors; every other failure, including errors without an RFC 6749 code
// (network errors, malformed responses), is a non-retryable Authentication
// error.
func classifyOAuth2Error(err error, message string) error {
	retrieveErr, ok := err.(*oauth2.RetrieveError)
	if !ok {
		return &errs.Error{Type: errs.Authentication, Message: message, Cause: err}
	}
	code := retrieveErr.ErrorCode
	e := &errs.Error{Type: errs.Authentication, Message: message + ": " + code, Cause: err}
	if nonRetryableOAuth2Codes[code] {
		return e
	}
	if retryableOAuth2Codes[code] {
		e.Type = errs.Connection
		return e
	}
	return e
}
