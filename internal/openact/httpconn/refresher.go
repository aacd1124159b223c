package httpconn

import (
	"context"

	"golang.org/x/oauth2"
)

// DefaultTokenRefresher implements TokenRefresher using
// golang.org/x/oauth2's authorization-code token source: it exchanges a
// refresh token for a new access token against tokenURL using the
// standard OAuth2 refresh grant.
func DefaultTokenRefresher(ctx context.Context, tokenURL, clientID, clientSecret, refreshToken string) (*oauth2.Token, error) {
	cfg := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: tokenURL},
	}
	src := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, classifyOAuth2Error(err, "httpconn: authorization_code refresh failed")
	}
	return tok, nil
}
