// Package storebridge adapts store.Store onto the narrower, store-agnostic
// interfaces that httpconn and other connector packages depend on, keeping
// those packages free of a direct store import.
package storebridge

import (
	"context"
	"time"

	"github.com/openact/openact/internal/openact/httpconn"
	"github.com/openact/openact/internal/openact/store"
)

// AuthConnectionStore adapts store.Store's mutate-closure based
// CompareAndSwapAuthConnection onto httpconn.AuthConnectionStore's
// direct-value signature.
type AuthConnectionStore struct {
	St store.Store
}

// NewAuthConnectionStore wraps st for use as an httpconn.AuthManager's
// token store.
func NewAuthConnectionStore(st store.Store) *AuthConnectionStore {
	return &AuthConnectionStore{St: st}
}

func (a *AuthConnectionStore) GetAuthConnection(ctx context.Context, trn string) (*httpconn.AuthConnectionView, error) {
	rec, err := a.St.GetAuthConnection(ctx, trn)
	if err != nil {
		return nil, err
	}
	return &httpconn.AuthConnectionView{
		Version:      rec.Version,
		AccessToken:  rec.AccessToken,
		RefreshToken: rec.RefreshToken,
		ExpiresAt:    rec.ExpiresAt,
		TokenType:    rec.TokenType,
	}, nil
}

func (a *AuthConnectionStore) CompareAndSwapAuthConnection(ctx context.Context, trn string, expectedVersion int64, newAccessToken, newRefreshToken string, newExpiresAt *time.Time) (bool, error) {
	return a.St.CompareAndSwapAuthConnection(ctx, trn, expectedVersion, func(existing *store.AuthConnection) (*store.AuthConnection, error) {
		if existing == nil {
			return nil, errNoExistingAuthConnection
		}
		updated := *existing
		updated.AccessToken = newAccessToken
		updated.RefreshToken = newRefreshToken
		updated.ExpiresAt = newExpiresAt
		return &updated, nil
	})
}

var errNoExistingAuthConnection = authConnectionNotFoundError{}

type authConnectionNotFoundError struct{}

func (authConnectionNotFoundError) Error() string {
	return "storebridge: cannot refresh a token for an auth connection that does not exist"
}
