package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCommandEnvelopeValidateRequiresSchemaVersion(t *testing.T) {
	e := &CommandEnvelope{Tenant: "acme"}
	require.Error(t, e.Validate())
}

func TestCommandEnvelopeValidateRejectsUnsupportedVersion(t *testing.T) {
	e := &CommandEnvelope{SchemaVersion: "2.0", Tenant: "acme"}
	require.Error(t, e.Validate())
}

func TestCommandEnvelopeValidateRequiresTenant(t *testing.T) {
	e := &CommandEnvelope{SchemaVersion: "1.0"}
	require.Error(t, e.Validate())
}

func TestCommandEnvelopeValidateAcceptsMatchingHeaderTenant(t *testing.T) {
	e := &CommandEnvelope{SchemaVersion: "1.0", Tenant: "acme", HeaderTenant: "acme"}
	require.NoError(t, e.Validate())
}

func TestCommandEnvelopeValidateAcceptsDefaultHeaderTenant(t *testing.T) {
	e := &CommandEnvelope{SchemaVersion: "1.0", Tenant: "acme", HeaderTenant: "default"}
	require.NoError(t, e.Validate())
}

func TestCommandEnvelopeValidateRejectsMismatchedHeaderTenant(t *testing.T) {
	e := &CommandEnvelope{SchemaVersion: "1.0", Tenant: "acme", HeaderTenant: "other"}
	require.Error(t, e.Validate())
}

func TestCommandEnvelopeIsFireForget(t *testing.T) {
	e := &CommandEnvelope{}
	require.False(t, e.IsFireForget())

	e.Parameters = map[string]any{"mode": "fire-forget"}
	require.True(t, e.IsFireForget())

	e.Parameters = map[string]any{"mode": "sync"}
	require.False(t, e.IsFireForget())
}
