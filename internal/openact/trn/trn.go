// Package trn implements the Tenant Resource Name codec used to identify
// every persisted record in OpenAct: trn:openact:{tenant}:{resource_type}/{name}[@v{version}].
package trn

import (
	"fmt"
	"strconv"
	"strings"
)

const prefix = "trn:openact:"

// TRN is a parsed Tenant Resource Name.
type TRN struct {
	Tenant       string
	ResourceType string
	Name         string
	Version      int64
}

// Parse decomposes a TRN string into its components.
//
// The resource/name split uses the *last* slash, since resource_type may
// itself embed a slash (e.g. "action/http").
func Parse(s string) (TRN, error) {
	if !strings.HasPrefix(s, prefix) {
		return TRN{}, fmt.Errorf("trn: missing %q prefix: %q", prefix, s)
	}
	rest := s[len(prefix):]

	colon := strings.IndexByte(rest, ':')
	if colon < 0 {
		return TRN{}, fmt.Errorf("trn: missing tenant separator: %q", s)
	}
	tenant := rest[:colon]
	if tenant == "" {
		return TRN{}, fmt.Errorf("trn: empty tenant: %q", s)
	}

	body := rest[colon+1:]

	version := int64(0)
	if at := strings.LastIndexByte(body, '@'); at >= 0 {
		verPart := body[at+1:]
		if !strings.HasPrefix(verPart, "v") {
			return TRN{}, fmt.Errorf("trn: malformed version suffix: %q", s)
		}
		v, err := strconv.ParseInt(verPart[1:], 10, 64)
		if err != nil || v < 0 {
			return TRN{}, fmt.Errorf("trn: malformed version suffix: %q", s)
		}
		version = v
		body = body[:at]
	}

	slash := strings.LastIndexByte(body, '/')
	if slash < 0 {
		return TRN{}, fmt.Errorf("trn: missing resource/name separator: %q", s)
	}
	resourceType := body[:slash]
	name := body[slash+1:]
	if resourceType == "" || name == "" {
		return TRN{}, fmt.Errorf("trn: empty resource_type or name: %q", s)
	}

	return TRN{Tenant: tenant, ResourceType: resourceType, Name: name, Version: version}, nil
}

// Build formats a TRN from its components. It is the inverse of Parse for
// every value it produces: Parse(Build(kind, connector, name, version))
// always reproduces the same components.
func Build(resourceType, connector, name string, version int64) string {
	full := resourceType
	if connector != "" {
		full = resourceType + "/" + connector
	}
	s := prefix + "default" + ":" + full + "/" + name
	if version > 0 {
		s += "@v" + strconv.FormatInt(version, 10)
	}
	return s
}

// BuildTenant formats a TRN for an explicit tenant.
func BuildTenant(tenant, resourceType, name string, version int64) string {
	s := prefix + tenant + ":" + resourceType + "/" + name
	if version > 0 {
		s += "@v" + strconv.FormatInt(version, 10)
	}
	return s
}

// String reproduces the canonical TRN string for t.
func (t TRN) String() string {
	return BuildTenant(t.Tenant, t.ResourceType, t.Name, t.Version)
}

// ActionTrn is a TRN known to carry an "action/..." resource type.
type ActionTrn struct{ TRN }

// ParseAction parses s and requires its resource_type to start with "action/".
func ParseAction(s string) (ActionTrn, error) {
	t, err := Parse(s)
	if err != nil {
		return ActionTrn{}, err
	}
	if !strings.HasPrefix(t.ResourceType, "action/") {
		return ActionTrn{}, fmt.Errorf("trn: not an action trn: %q", s)
	}
	return ActionTrn{t}, nil
}

// ConnectionTrn is a TRN known to carry a "connection/..." resource type.
type ConnectionTrn struct{ TRN }

// ParseConnection parses s and requires its resource_type to start with "connection/".
func ParseConnection(s string) (ConnectionTrn, error) {
	t, err := Parse(s)
	if err != nil {
		return ConnectionTrn{}, err
	}
	if !strings.HasPrefix(t.ResourceType, "connection/") {
		return ConnectionTrn{}, fmt.Errorf("trn: not a connection trn: %q", s)
	}
	return ConnectionTrn{t}, nil
}

// Connector returns the connector segment of an action/connection resource_type
// ("action/http" -> "http").
func (t TRN) Connector() string {
	parts := strings.SplitN(t.ResourceType, "/", 2)
	if len(parts) == 2 {
		return parts[1]
	}
	return ""
}

// ToolName derives the governance/MCP tool name "connector.action" from an
// action TRN.
func (t ActionTrn) ToolName() string {
	return t.Connector() + "." + t.Name
}

// CanonicalizeConnectorKind lowercases and normalizes a connector kind string,
// e.g. "PostgreSQL" / "pg" -> "postgres".
func CanonicalizeConnectorKind(kind string) string {
	k := strings.ToLower(strings.TrimSpace(kind))
	switch k {
	case "postgresql", "pg":
		return "postgres"
	default:
		return k
	}
}
