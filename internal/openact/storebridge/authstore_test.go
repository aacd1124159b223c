package storebridge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openact/openact/internal/openact/store"
)

func TestGetAuthConnectionMapsToView(t *testing.T) {
	st, err := store.NewMemory("")
	require.NoError(t, err)
	ctx := context.Background()
	authTrn := "trn:openact:default:auth_connection/github:alice"

	ok, err := st.CompareAndSwapAuthConnection(ctx, authTrn, 0, func(existing *store.AuthConnection) (*store.AuthConnection, error) {
		return &store.AuthConnection{Trn: authTrn, Tenant: "default", Provider: "github", UserID: "alice", AccessToken: "tok-1", TokenType: "Bearer"}, nil
	})
	require.NoError(t, err)
	require.True(t, ok)

	bridge := NewAuthConnectionStore(st)
	view, err := bridge.GetAuthConnection(ctx, authTrn)
	require.NoError(t, err)
	require.Equal(t, "tok-1", view.AccessToken)
	require.Equal(t, int64(1), view.Version)
}

func TestGetAuthConnectionPropagatesNotFound(t *testing.T) {
	st, err := store.NewMemory("")
	require.NoError(t, err)
	bridge := NewAuthConnectionStore(st)

	_, err = bridge.GetAuthConnection(context.Background(), "trn:openact:default:auth_connection/github:missing")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestCompareAndSwapAuthConnectionUpdatesTokens(t *testing.T) {
	st, err := store.NewMemory("")
	require.NoError(t, err)
	ctx := context.Background()
	authTrn := "trn:openact:default:auth_connection/github:alice"

	_, err = st.CompareAndSwapAuthConnection(ctx, authTrn, 0, func(existing *store.AuthConnection) (*store.AuthConnection, error) {
		return &store.AuthConnection{Trn: authTrn, Tenant: "default", Provider: "github", UserID: "alice", AccessToken: "tok-1", TokenType: "Bearer"}, nil
	})
	require.NoError(t, err)

	bridge := NewAuthConnectionStore(st)
	ok, err := bridge.CompareAndSwapAuthConnection(ctx, authTrn, 1, "tok-2", "refresh-2", nil)
	require.NoError(t, err)
	require.True(t, ok)

	view, err := bridge.GetAuthConnection(ctx, authTrn)
	require.NoError(t, err)
	require.Equal(t, "tok-2", view.AccessToken)
	require.Equal(t, "refresh-2", view.RefreshToken)
}

func TestCompareAndSwapAuthConnectionRejectsStaleVersion(t *testing.T) {
	st, err := store.NewMemory("")
	require.NoError(t, err)
	ctx := context.Background()
	authTrn := "trn:openact:default:auth_connection/github:alice"

	_, err = st.CompareAndSwapAuthConnection(ctx, authTrn, 0, func(existing *store.AuthConnection) (*store.AuthConnection, error) {
		return &store.AuthConnection{Trn: authTrn, Tenant: "default", Provider: "github", UserID: "alice", AccessToken: "tok-1", TokenType: "Bearer"}, nil
	})
	require.NoError(t, err)

	bridge := NewAuthConnectionStore(st)
	ok, err := bridge.CompareAndSwapAuthConnection(ctx, authTrn, 0, "tok-2", "refresh-2", nil)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCompareAndSwapAuthConnectionErrorsWhenMissing(t *testing.T) {
	st, err := store.NewMemory("")
	require.NoError(t, err)
	bridge := NewAuthConnectionStore(st)

	_, err = bridge.CompareAndSwapAuthConnection(context.Background(), "trn:openact:default:auth_connection/github:missing", 0, "tok", "refresh", nil)
	require.Error(t, err)
}
