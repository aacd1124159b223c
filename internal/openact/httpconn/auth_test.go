package httpconn

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestResolveAPIKeyAuthorizationGoesToBearerHeader(t *testing.T) {
	d := resolveAPIKey(&AuthConfig{ApiKeyName: "Authorization", ApiKeyValue: "tok"})
	require.Equal(t, "Authorization", d.Header)
	require.Equal(t, "Bearer tok", d.HeaderValue)
}

func TestResolveAPIKeyCustomHeaderForXPrefixOrKey(t *testing.T) {
	d := resolveAPIKey(&AuthConfig{ApiKeyName: "X-Api-Token", ApiKeyValue: "v"})
	require.Equal(t, "X-Api-Token", d.Header)

	d2 := resolveAPIKey(&AuthConfig{ApiKeyName: "apikey", ApiKeyValue: "v2"})
	require.Equal(t, "apikey", d2.Header)
}

func TestResolveAPIKeyFallsBackToQuery(t *testing.T) {
	d := resolveAPIKey(&AuthConfig{ApiKeyName: "token", ApiKeyValue: "v"})
	require.Equal(t, "token", d.Query)
	require.Equal(t, "v", d.QueryValue)
}

func TestAuthManagerResolveBasic(t *testing.T) {
	mgr := NewAuthManager(nil, nil)
	d, err := mgr.Resolve(context.Background(), &AuthConfig{Type: AuthBasic, Username: "u", Password: "p"})
	require.NoError(t, err)
	require.True(t, d.UseBasic)
	require.Equal(t, "u", d.BasicUser)
}

func TestAuthManagerResolveNilAuthIsNoop(t *testing.T) {
	mgr := NewAuthManager(nil, nil)
	d, err := mgr.Resolve(context.Background(), nil)
	require.NoError(t, err)
	require.Nil(t, d)
}

func TestAuthManagerClientCredentialsPATBypassesStore(t *testing.T) {
	mgr := NewAuthManager(nil, nil)
	d, err := mgr.Resolve(context.Background(), &AuthConfig{Type: AuthOAuth2ClientCredentials, ClientSecret: "ghp_abc123"})
	require.NoError(t, err)
	require.Equal(t, "Bearer ghp_abc123", d.HeaderValue)
}

func TestAuthManagerClientCredentialsWithoutStoreOrPATFails(t *testing.T) {
	mgr := NewAuthManager(nil, nil)
	_, err := mgr.Resolve(context.Background(), &AuthConfig{Type: AuthOAuth2ClientCredentials, ClientSecret: "plain-secret"})
	require.Error(t, err)
}

type fakeAuthStore struct {
	conn *AuthConnectionView
	cas  func(trn string, expected int64, access, refresh string, exp *time.Time) (bool, error)
}

func (f *fakeAuthStore) GetAuthConnection(ctx context.Context, trn string) (*AuthConnectionView, error) {
	return f.conn, nil
}

func (f *fakeAuthStore) CompareAndSwapAuthConnection(ctx context.Context, trn string, expectedVersion int64, newAccessToken, newRefreshToken string, newExpiresAt *time.Time) (bool, error) {
	return f.cas(trn, expectedVersion, newAccessToken, newRefreshToken, newExpiresAt)
}

func TestAuthManagerAuthorizationCodeReturnsCurrentTokenWhenFresh(t *testing.T) {
	future := time.Now().Add(time.Hour)
	store := &fakeAuthStore{conn: &AuthConnectionView{Version: 1, AccessToken: "current", ExpiresAt: &future}}
	mgr := NewAuthManager(store, nil)

	d, err := mgr.Resolve(context.Background(), &AuthConfig{Type: AuthOAuth2AuthorizationCode, AuthRef: "trn:openact:default:auth/github:alice"})
	require.NoError(t, err)
	require.Equal(t, "Bearer current", d.HeaderValue)
}

func TestAuthManagerAuthorizationCodeRequiresAuthRef(t *testing.T) {
	mgr := NewAuthManager(&fakeAuthStore{}, nil)
	_, err := mgr.Resolve(context.Background(), &AuthConfig{Type: AuthOAuth2AuthorizationCode})
	require.Error(t, err)
}

func TestAuthManagerAuthorizationCodeRefreshesWhenExpiringSoon(t *testing.T) {
	soon := time.Now().Add(time.Second)
	casCalled := false
	store := &fakeAuthStore{
		conn: &AuthConnectionView{Version: 3, AccessToken: "old", RefreshToken: "refresh-1", ExpiresAt: &soon},
		cas: func(trn string, expected int64, access, refresh string, exp *time.Time) (bool, error) {
			casCalled = true
			require.Equal(t, int64(3), expected)
			require.Equal(t, "new-access", access)
			return true, nil
		},
	}
	refresher := func(ctx context.Context, tokenURL, clientID, clientSecret, refreshToken string) (*oauth2.Token, error) {
		require.Equal(t, "refresh-1", refreshToken)
		return &oauth2.Token{AccessToken: "new-access", RefreshToken: "new-refresh", Expiry: time.Now().Add(time.Hour)}, nil
	}
	mgr := NewAuthManager(store, refresher)

	d, err := mgr.Resolve(context.Background(), &AuthConfig{Type: AuthOAuth2AuthorizationCode, AuthRef: "trn:openact:default:auth/github:alice"})
	require.NoError(t, err)
	require.Equal(t, "Bearer new-access", d.HeaderValue)
	require.True(t, casCalled)
}
