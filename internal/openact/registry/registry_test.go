package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openact/openact/internal/openact/errs"
	"github.com/openact/openact/internal/openact/store"
)

type fakeConnection struct{ connector string }

func (c *fakeConnection) Trn() string           { return "trn:openact:default:connection/" + c.connector + ":fake" }
func (c *fakeConnection) ConnectorKind() string { return c.connector }
func (c *fakeConnection) HealthCheck(ctx context.Context) error { return nil }
func (c *fakeConnection) Metadata() map[string]any { return map[string]any{"connector": c.connector} }

type fakeAction struct {
	validateErr error
	output      map[string]any
}

func (a *fakeAction) Trn() string           { return "trn:openact:default:action/fake:fake" }
func (a *fakeAction) ConnectorKind() string { return "fake" }
func (a *fakeAction) HealthCheck(ctx context.Context, conn Connection) error {
	return conn.HealthCheck(ctx)
}
func (a *fakeAction) Metadata() map[string]any { return nil }
func (a *fakeAction) ValidateInput(input map[string]any) error { return a.validateErr }
func (a *fakeAction) Execute(ctx context.Context, conn Connection, input map[string]any) (*ExecutionResult, error) {
	return &ExecutionResult{Output: a.output}, nil
}
func (a *fakeAction) MCPInputSchema() map[string]any  { return map[string]any{"type": "object"} }
func (a *fakeAction) MCPOutputSchema() map[string]any { return map[string]any{"type": "object"} }
func (a *fakeAction) MCPWrapOutput(output map[string]any) map[string]any { return output }
func (a *fakeAction) MCPAnnotations() map[string]any                    { return nil }

func seedFixture(t *testing.T, st store.Store) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.UpsertConnection(ctx, &store.ConnectionRecord{
		Trn: "trn:openact:default:connection/http:svc-a", Connector: "http", Name: "svc-a", ConfigJSON: "{}",
	}))
	require.NoError(t, st.UpsertAction(ctx, &store.ActionRecord{
		Trn: "trn:openact:default:action/http/get", Connector: "http", Name: "get",
		ConnectionTrn: "trn:openact:default:connection/http:svc-a", ConfigJSON: "{}",
	}))
}

func TestExecuteHappyPath(t *testing.T) {
	st, err := store.NewMemory("")
	require.NoError(t, err)
	seedFixture(t, st)

	reg := New(st, 0)
	reg.RegisterConnector("http",
		func(rec *store.ConnectionRecord) (Connection, error) { return &fakeConnection{connector: rec.Connector}, nil },
		func(rec *store.ActionRecord) (Action, error) {
			return &fakeAction{output: map[string]any{"ok": true}}, nil
		},
	)

	result, metadata, err := reg.Execute(context.Background(), "trn:openact:default:action/http/get", map[string]any{})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"ok": true}, result.Output)
	require.Equal(t, "http", metadata["connector"])
}

func TestExecuteMissingAction(t *testing.T) {
	st, err := store.NewMemory("")
	require.NoError(t, err)
	reg := New(st, 0)

	_, _, err = reg.Execute(context.Background(), "trn:openact:default:action/http/missing", nil)
	var openactErr *errs.Error
	require.ErrorAs(t, err, &openactErr)
	require.Equal(t, errs.NotFound, openactErr.Type)
}

func TestExecuteConnectorNotRegistered(t *testing.T) {
	st, err := store.NewMemory("")
	require.NoError(t, err)
	seedFixture(t, st)
	reg := New(st, 0)

	_, _, err = reg.Execute(context.Background(), "trn:openact:default:action/http/get", nil)
	var openactErr *errs.Error
	require.ErrorAs(t, err, &openactErr)
	require.Equal(t, errs.InvalidConfig, openactErr.Type)
}

func TestConnectionCacheReused(t *testing.T) {
	st, err := store.NewMemory("")
	require.NoError(t, err)
	seedFixture(t, st)

	reg := New(st, 0)
	builds := 0
	reg.RegisterConnector("http",
		func(rec *store.ConnectionRecord) (Connection, error) {
			builds++
			return &fakeConnection{connector: rec.Connector}, nil
		},
		func(rec *store.ActionRecord) (Action, error) { return &fakeAction{output: map[string]any{}}, nil },
	)

	for i := 0; i < 3; i++ {
		_, _, err := reg.Execute(context.Background(), "trn:openact:default:action/http/get", map[string]any{})
		require.NoError(t, err)
	}
	require.Equal(t, 1, builds)

	reg.ClearConnectionCache()
	_, _, err = reg.Execute(context.Background(), "trn:openact:default:action/http/get", map[string]any{})
	require.NoError(t, err)
	require.Equal(t, 2, builds)
}

func TestDeriveMCPSchemasCached(t *testing.T) {
	st, err := store.NewMemory("")
	require.NoError(t, err)
	seedFixture(t, st)

	reg := New(st, 50*time.Millisecond)
	derives := 0
	reg.RegisterConnector("http",
		func(rec *store.ConnectionRecord) (Connection, error) { return &fakeConnection{connector: rec.Connector}, nil },
		func(rec *store.ActionRecord) (Action, error) {
			derives++
			return &fakeAction{}, nil
		},
	)

	_, _, err = reg.DeriveMCPSchemas("trn:openact:default:action/http/get")
	require.NoError(t, err)
	_, _, err = reg.DeriveMCPSchemas("trn:openact:default:action/http/get")
	require.NoError(t, err)
	require.Equal(t, 1, derives)

	time.Sleep(60 * time.Millisecond)
	_, _, err = reg.DeriveMCPSchemas("trn:openact:default:action/http/get")
	require.NoError(t, err)
	require.Equal(t, 2, derives)
}
