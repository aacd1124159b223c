package orchestrator

import (
	"strings"

	"github.com/openact/openact/internal/openact/errs"
)

// supportedSchemaVersionPrefix is the Stepflow envelope version this
// adapter accepts; the wire format itself is an external collaborator per
// §1 and is consumed as opaque after this prefix check.
const supportedSchemaVersionPrefix = "1."

// CommandEnvelope is the parsed Stepflow command intake shape (§4.5 step 1-3).
type CommandEnvelope struct {
	SchemaVersion string
	Tenant        string
	CommandID     string
	Target        string // action TRN string
	Input         map[string]any
	Parameters    map[string]any // carries "mode":"fire-forget" when present
	TimeoutMs     int64
	CorrelationID string

	// HeaderTenant is the tenant value carried on the transport (e.g.
	// X-Tenant), separate from the envelope body's tenant field.
	HeaderTenant string
}

// Validate enforces §4.5 step 1-2: schema version prefix and non-empty
// tenant, plus the header/body tenant-mismatch rule.
func (e *CommandEnvelope) Validate() error {
	if e.SchemaVersion == "" || !strings.HasPrefix(e.SchemaVersion, supportedSchemaVersionPrefix) {
		return errs.NewInvalidInput("stepflow: unsupported schemaVersion: " + e.SchemaVersion)
	}
	if e.Tenant == "" {
		return errs.NewInvalidInput("stepflow: tenant is required")
	}
	if e.HeaderTenant != "" && e.HeaderTenant != "default" && e.HeaderTenant != e.Tenant {
		return errs.NewInvalidInput("stepflow: tenant mismatch between header and envelope")
	}
	return nil
}

// IsFireForget reports whether parameters.mode == "fire-forget".
func (e *CommandEnvelope) IsFireForget() bool {
	if e.Parameters == nil {
		return false
	}
	mode, _ := e.Parameters["mode"].(string)
	return mode == "fire-forget"
}

// CancelPayload is the body of a cancel_command request.
type CancelPayload struct {
	Reason string
}
