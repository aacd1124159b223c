package httpconn

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTimeoutConfigValidate(t *testing.T) {
	require.NoError(t, TimeoutConfig{ConnectMs: 1, ReadMs: 1, TotalMs: 1}.Validate())
	require.Error(t, TimeoutConfig{ConnectMs: 0, ReadMs: 1, TotalMs: 1}.Validate())
	require.Error(t, TimeoutConfig{ConnectMs: 1, ReadMs: 0, TotalMs: 1}.Validate())
	require.Error(t, TimeoutConfig{ConnectMs: 1, ReadMs: 1, TotalMs: 0}.Validate())
	require.Error(t, TimeoutConfig{ConnectMs: 100, ReadMs: 1, TotalMs: 50}.Validate())
	require.Error(t, TimeoutConfig{ConnectMs: 1, ReadMs: 100, TotalMs: 50}.Validate())
}

func TestDefaultTimeoutConfigIsValid(t *testing.T) {
	require.NoError(t, DefaultTimeoutConfig().Validate())
}

func TestTimeoutManagerWithTotalTimeoutBoundsContext(t *testing.T) {
	mgr := NewTimeoutManager(TimeoutConfig{ConnectMs: 10, ReadMs: 10, TotalMs: 10})
	ctx, cancel := mgr.WithTotalTimeout(context.Background())
	defer cancel()
	<-ctx.Done()
	require.Error(t, ctx.Err())
}
