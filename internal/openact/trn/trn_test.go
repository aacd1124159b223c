package trn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	cases := []struct {
		tenant, resourceType, name string
		version                    int64
	}{
		{"default", "action/http", "get_user", 0},
		{"acme", "connection/postgres", "primary", 3},
		{"t1", "auth/github", "u-1", 7},
	}
	for _, c := range cases {
		s := BuildTenant(c.tenant, c.resourceType, c.name, c.version)
		got, err := Parse(s)
		require.NoError(t, err)
		assert.Equal(t, c.tenant, got.Tenant)
		assert.Equal(t, c.resourceType, got.ResourceType)
		assert.Equal(t, c.name, got.Name)
		assert.Equal(t, c.version, got.Version)
		assert.Equal(t, s, got.String())
	}
}

func TestParseErrors(t *testing.T) {
	cases := []string{
		"",
		"not-a-trn",
		"trn:openact:",
		"trn:openact::action/http/x",
		"trn:openact:default:noslash",
		"trn:openact:default:action/http/x@vbad",
		"trn:openact:default:action/http/x@2",
	}
	for _, s := range cases {
		_, err := Parse(s)
		assert.Error(t, err, s)
	}
}

func TestParseActionRequiresActionPrefix(t *testing.T) {
	_, err := ParseAction("trn:openact:default:connection/http/c1")
	assert.Error(t, err)

	a, err := ParseAction("trn:openact:default:action/http/get_user")
	require.NoError(t, err)
	assert.Equal(t, "http.get_user", a.ToolName())
}

func TestCanonicalizeConnectorKind(t *testing.T) {
	assert.Equal(t, "postgres", CanonicalizeConnectorKind("PostgreSQL"))
	assert.Equal(t, "postgres", CanonicalizeConnectorKind("pg"))
	assert.Equal(t, "http", CanonicalizeConnectorKind("HTTP"))
}
