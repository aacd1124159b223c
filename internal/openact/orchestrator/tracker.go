// Tracker plan decoding and body-condition evaluation for the Async Task
// Manager (§4.5.1): JSON pointer/path extraction (itchyny/gojq) over a
// polled response body for success/failure condition matching.
package orchestrator

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"

	"github.com/itchyny/gojq"

	"github.com/openact/openact/internal/openact/errs"
)

// AsyncHandle is the opaque handle an action embeds in its output to
// signal asynchronous completion tracking, per S5/S6 in §8.
type AsyncHandle struct {
	Config          HandleConfig `json:"config"`
	ExternalRunID   string       `json:"externalRunId"`
}

// HandleConfig carries the tracker plan and optional cancel plan.
type HandleConfig struct {
	Tracker *TrackerPlan `json:"tracker"`
	Cancel  *CancelPlan  `json:"cancel"`
}

// TrackerPlan is the union of async-completion strategies from §4.5.1's
// table (kind: noop | mock_complete | mock_fail | http_poll).
type TrackerPlan struct {
	Kind string `json:"kind"`

	// mock_complete / mock_fail
	DelayMs int64          `json:"delay_ms"`
	Result  map[string]any `json:"result"`
	Err     map[string]any `json:"error"`

	// http_poll
	URL               string          `json:"url"`
	Method            string          `json:"method"`
	IntervalMs        int64           `json:"interval_ms"`
	BackoffFactor     float64         `json:"backoff_factor"`
	MaxAttempts       int             `json:"max_attempts"`
	TimeoutMs         int64           `json:"timeout_ms"`
	MaxElapsedMs      int64           `json:"max_elapsed_ms"`
	SuccessStatus     []int           `json:"success_status"`
	FailureStatus     []int           `json:"failure_status"`
	SuccessConditions []BodyCondition `json:"success_conditions"`
	FailureConditions []BodyCondition `json:"failure_conditions"`
	ResultPointer     string          `json:"result_pointer"`
}

// CancelPlan issues a templated HTTP request to notify a remote system of
// cancellation (§4.5.1's cancel plan).
type CancelPlan struct {
	URL    string `json:"url"`
	Method string `json:"method"`
}

// BodyCondition is one success/failure predicate over a parsed JSON
// response body. Exactly one of the operator fields may be set.
type BodyCondition struct {
	Path            string  `json:"path"`
	Equals          *string `json:"equals"`
	NotEquals       *string `json:"not_equals"`
	Contains        *string `json:"contains"`
	Regex           *string `json:"regex"`
	JSONPathEquals  *string `json:"jsonpath_equals"`
	JSONPathExists  *bool   `json:"jsonpath_exists"`
	GreaterThan     *float64 `json:"greater_than"`
	GreaterOrEqual  *float64 `json:"greater_or_equal"`
	LessThan        *float64 `json:"less_than"`
	LessOrEqual     *float64 `json:"less_or_equal"`
}

// DecodeAsyncHandle parses the asyncHandle JSON embedded in a run's
// metadata or an action's output.
func DecodeAsyncHandle(raw map[string]any) (*AsyncHandle, error) {
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, errs.NewInternal(err)
	}
	var h AsyncHandle
	if err := json.Unmarshal(b, &h); err != nil {
		return nil, errs.NewInvalidInput("stepflow: malformed asyncHandle: " + err.Error())
	}
	return &h, nil
}

// Evaluate reports whether c matches body. Only the first operator set, in
// field order, is evaluated; it returns an error when no operator is set,
// and a condition with more than one operator set is not rejected.
func (c BodyCondition) Evaluate(body any) (bool, error) {
	val := extractPath(body, c.Path)

	switch {
	case c.Equals != nil:
		return fmt.Sprint(val) == *c.Equals, nil
	case c.NotEquals != nil:
		return fmt.Sprint(val) != *c.NotEquals, nil
	case c.Contains != nil:
		s, _ := val.(string)
		return regexp.MustCompile(regexp.QuoteMeta(*c.Contains)).MatchString(s), nil
	case c.Regex != nil:
		re, err := regexp.Compile(*c.Regex)
		if err != nil {
			return false, errs.NewInvalidConfig("stepflow: invalid regex condition: " + err.Error())
		}
		s, _ := val.(string)
		return re.MatchString(s), nil
	case c.JSONPathEquals != nil:
		result, err := evalJSONPath(body, c.Path)
		if err != nil {
			return false, err
		}
		return fmt.Sprint(result) == *c.JSONPathEquals, nil
	case c.JSONPathExists != nil:
		result, err := evalJSONPath(body, c.Path)
		if err != nil {
			return false, nil
		}
		exists := result != nil
		return exists == *c.JSONPathExists, nil
	case c.GreaterThan != nil:
		f, ok := toFloat(val)
		return ok && f > *c.GreaterThan, nil
	case c.GreaterOrEqual != nil:
		f, ok := toFloat(val)
		return ok && f >= *c.GreaterOrEqual, nil
	case c.LessThan != nil:
		f, ok := toFloat(val)
		return ok && f < *c.LessThan, nil
	case c.LessOrEqual != nil:
		f, ok := toFloat(val)
		return ok && f <= *c.LessOrEqual, nil
	default:
		return false, errs.NewInvalidConfig("stepflow: body condition specifies no operator")
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// extractPath resolves a dotted JSON-pointer-like path ("data.id") against
// an already-decoded body value.
func extractPath(body any, path string) any {
	if path == "" {
		return body
	}
	result, err := evalJSONPath(body, path)
	if err != nil {
		return nil
	}
	return result
}

// evalJSONPath runs a minimal ".a.b" accessor query (gojq) against body.
func evalJSONPath(body any, path string) (any, error) {
	if path == "" {
		return body, nil
	}
	query, err := gojq.Parse("." + path)
	if err != nil {
		return nil, errs.NewInvalidConfig("stepflow: invalid path expression: " + path)
	}
	iter := query.Run(body)
	v, ok := iter.Next()
	if !ok {
		return nil, nil
	}
	if qErr, ok := v.(error); ok {
		return nil, qErr
	}
	return v, nil
}

// ExtractResult pulls the async completion result out of a polled body
// using the tracker's optional JSON-pointer-style ResultPointer.
func (p *TrackerPlan) ExtractResult(body any) any {
	if p.ResultPointer == "" {
		return body
	}
	v, err := evalJSONPath(body, p.ResultPointer)
	if err != nil {
		return body
	}
	return v
}
