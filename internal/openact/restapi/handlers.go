package restapi

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/openact/openact/internal/openact/errs"
	"github.com/openact/openact/internal/openact/store"
	"github.com/openact/openact/internal/openact/trn"
)

// handleKinds serves GET /api/v1/kinds: the distinct connector kinds of the
// stored connections.
func (s *Server) handleKinds(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFor(r)
	ctx := ctxFrom(r)

	kinds, err := s.st.ListDistinctConnectors(ctx)
	if err != nil {
		writeFailure(w, requestID, errs.NewInternal(err))
		return
	}
	sort.Strings(kinds)

	items := make([]map[string]any, 0, len(kinds))
	for _, k := range kinds {
		items = append(items, map[string]any{"kind": k})
	}
	writeSuccess(w, http.StatusOK, requestID, items, metadata{})
}

// handleListActions serves GET /api/v1/actions: filters `connection`,
// `kind`, `q`, paginated via `limit`/`offset`, governance-filtered against
// the process-wide allow/deny lists.
func (s *Server) handleListActions(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFor(r)
	ctx := ctxFrom(r)
	q := r.URL.Query()

	var recs []*store.ActionRecord
	var err error
	switch {
	case q.Get("connection") != "":
		recs, err = s.st.ListActionsByConnection(ctx, q.Get("connection"))
	case q.Get("kind") != "":
		recs, err = s.st.ListActionsByConnector(ctx, q.Get("kind"))
	default:
		recs, err = s.listAllActions(ctx)
	}
	if err != nil {
		writeFailure(w, requestID, errs.NewInternal(err))
		return
	}

	needle := strings.ToLower(q.Get("q"))
	filtered := make([]*store.ActionRecord, 0, len(recs))
	for _, rec := range recs {
		if needle != "" && !strings.Contains(strings.ToLower(rec.Name), needle) {
			continue
		}
		if parsed, perr := trn.ParseAction(rec.Trn); perr == nil {
			if s.governance != nil && s.governance.Check(parsed.ToolName()) != nil {
				continue
			}
		}
		filtered = append(filtered, rec)
	}

	limit := queryInt(q, "limit", 50)
	offset := queryInt(q, "offset", 0)
	total := len(filtered)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total || limit <= 0 {
		end = total
	}
	page := filtered[offset:end]

	items := make([]map[string]any, 0, len(page))
	for _, rec := range page {
		items = append(items, map[string]any{
			"trn":            rec.Trn,
			"connector":      rec.Connector,
			"name":           rec.Name,
			"connection_trn": rec.ConnectionTrn,
			"mcp_enabled":    rec.MCPEnabled,
			"version":        rec.Version,
		})
	}
	writeSuccess(w, http.StatusOK, requestID, map[string]any{
		"actions": items,
		"total":   total,
		"limit":   limit,
		"offset":  offset,
	}, metadata{})
}

func (s *Server) listAllActions(ctx context.Context) ([]*store.ActionRecord, error) {
	kinds, err := s.st.ListDistinctConnectors(ctx)
	if err != nil {
		return nil, err
	}
	var all []*store.ActionRecord
	for _, k := range kinds {
		recs, err := s.st.ListActionsByConnector(ctx, k)
		if err != nil {
			return nil, err
		}
		all = append(all, recs...)
	}
	return all, nil
}

func queryInt(q map[string][]string, key string, def int) int {
	v := firstOr(q, key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func firstOr(q map[string][]string, key string) string {
	vs, ok := q[key]
	if !ok || len(vs) == 0 {
		return ""
	}
	return vs[0]
}

// actionsPrefix is stripped from the path before checking the trailing
// "/schema" or "/execute" segment; the remainder (the action TRN itself)
// is used verbatim since TRNs legitimately contain "/" and ":".
const actionsPrefix = "/api/v1/actions/"

// handleActionSchema serves GET /api/v1/actions/{action}/schema.
func (s *Server) handleActionSchema(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFor(r)
	rest := strings.TrimPrefix(r.URL.Path, actionsPrefix)
	actionTrn := strings.TrimSuffix(rest, "/schema")
	if actionTrn == "" || actionTrn == rest {
		writeFailure(w, requestID, errs.NewNotFound("restapi: unknown route"))
		return
	}

	input, output, err := s.reg.DeriveMCPSchemas(actionTrn)
	if err != nil {
		writeFailure(w, requestID, err)
		return
	}

	digest := schemaDigest(input)
	writeSuccess(w, http.StatusOK, requestID, map[string]any{
		"input_schema":  input,
		"output_schema": output,
	}, metadata{
		ActionTrn: actionTrn,
		Warnings:  []string{"input_schema_digest=" + digest},
	})
}

func schemaDigest(schema map[string]any) string {
	raw, err := json.Marshal(schema)
	if err != nil {
		return "sha256:"
	}
	sum := sha256.Sum256(raw)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// handleActionExecute serves POST /api/v1/actions/{action}/execute?validate=true.
func (s *Server) handleActionExecute(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFor(r)
	rest := strings.TrimPrefix(r.URL.Path, actionsPrefix)
	actionTrn := strings.TrimSuffix(rest, "/execute")
	if actionTrn == "" || actionTrn == rest {
		writeFailure(w, requestID, errs.NewNotFound("restapi: unknown route"))
		return
	}
	s.executeAction(w, r, requestID, actionTrn)
}

// executeRequestBody is the shared JSON body shape for direct-execution
// endpoints: {"input": {...}}.
type executeRequestBody struct {
	Input map[string]any `json:"input"`
}

func decodeExecuteBody(r *http.Request) (map[string]any, error) {
	if r.Body == nil {
		return map[string]any{}, nil
	}
	var body executeRequestBody
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&body); err != nil {
		return nil, errs.NewInvalidInput("restapi: malformed JSON body: " + err.Error())
	}
	if body.Input == nil {
		return map[string]any{}, nil
	}
	return body.Input, nil
}

func (s *Server) executeAction(w http.ResponseWriter, r *http.Request, requestID, actionTrn string) {
	input, err := decodeExecuteBody(r)
	if err != nil {
		writeFailure(w, requestID, err)
		return
	}

	if r.URL.Query().Get("validate") == "true" {
		if inputSchema, _, derr := s.reg.DeriveMCPSchemas(actionTrn); derr == nil {
			if verr := validatePreflight(inputSchema, input); verr != nil {
				writeFailure(w, requestID, verr)
				return
			}
		}
	}

	result, meta, err := s.reg.Execute(ctxFrom(r), actionTrn, input)
	md := metadata{ActionTrn: actionTrn}
	if ms, ok := meta["duration_ms"].(int64); ok {
		md.ExecutionTimeMs = &ms
	}
	if err != nil {
		writeFailure(w, requestID, err)
		return
	}
	writeSuccess(w, http.StatusOK, requestID, result.Output, md)
}

// handleExecute serves POST /api/v1/execute: execute by full action TRN.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFor(r)
	var body struct {
		ActionTrn string         `json:"action_trn"`
		Input     map[string]any `json:"input"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeFailure(w, requestID, errs.NewInvalidInput("restapi: malformed JSON body: "+err.Error()))
		return
	}
	if body.ActionTrn == "" {
		writeFailure(w, requestID, errs.NewInvalidInput("restapi: action_trn is required"))
		return
	}
	if body.Input == nil {
		body.Input = map[string]any{}
	}

	result, meta, err := s.reg.Execute(ctxFrom(r), body.ActionTrn, body.Input)
	md := metadata{ActionTrn: body.ActionTrn}
	if ms, ok := meta["duration_ms"].(int64); ok {
		md.ExecutionTimeMs = &ms
	}
	if err != nil {
		writeFailure(w, requestID, err)
		return
	}
	writeSuccess(w, http.StatusOK, requestID, result.Output, md)
}
