package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string    { return &s }
func boolPtr(b bool) *bool       { return &b }
func floatPtr(f float64) *float64 { return &f }

func TestBodyConditionEquals(t *testing.T) {
	body := map[string]any{"status": "done"}
	c := BodyCondition{Path: "status", Equals: strPtr("done")}
	ok, err := c.Evaluate(body)
	require.NoError(t, err)
	require.True(t, ok)

	c2 := BodyCondition{Path: "status", Equals: strPtr("pending")}
	ok2, err := c2.Evaluate(body)
	require.NoError(t, err)
	require.False(t, ok2)
}

func TestBodyConditionNotEquals(t *testing.T) {
	body := map[string]any{"status": "done"}
	c := BodyCondition{Path: "status", NotEquals: strPtr("pending")}
	ok, err := c.Evaluate(body)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestBodyConditionContains(t *testing.T) {
	body := map[string]any{"message": "job finished successfully"}
	c := BodyCondition{Path: "message", Contains: strPtr("finished")}
	ok, err := c.Evaluate(body)
	require.NoError(t, err)
	require.True(t, ok)

	c2 := BodyCondition{Path: "message", Contains: strPtr("errored")}
	ok2, err := c2.Evaluate(body)
	require.NoError(t, err)
	require.False(t, ok2)
}

func TestBodyConditionRegex(t *testing.T) {
	body := map[string]any{"id": "job-12345"}
	c := BodyCondition{Path: "id", Regex: strPtr(`^job-\d+$`)}
	ok, err := c.Evaluate(body)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestBodyConditionRegexInvalidPatternErrors(t *testing.T) {
	c := BodyCondition{Path: "id", Regex: strPtr(`(`)}
	_, err := c.Evaluate(map[string]any{"id": "x"})
	require.Error(t, err)
}

func TestBodyConditionJSONPathEquals(t *testing.T) {
	body := map[string]any{"data": map[string]any{"status": "complete"}}
	c := BodyCondition{Path: "data.status", JSONPathEquals: strPtr("complete")}
	ok, err := c.Evaluate(body)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestBodyConditionJSONPathExists(t *testing.T) {
	body := map[string]any{"data": map[string]any{"result": "ok"}}
	c := BodyCondition{Path: "data.result", JSONPathExists: boolPtr(true)}
	ok, err := c.Evaluate(body)
	require.NoError(t, err)
	require.True(t, ok)

	c2 := BodyCondition{Path: "data.missing", JSONPathExists: boolPtr(false)}
	ok2, err := c2.Evaluate(body)
	require.NoError(t, err)
	require.True(t, ok2)
}

func TestBodyConditionGreaterThan(t *testing.T) {
	body := map[string]any{"progress": float64(87)}
	c := BodyCondition{Path: "progress", GreaterThan: floatPtr(50)}
	ok, err := c.Evaluate(body)
	require.NoError(t, err)
	require.True(t, ok)

	c2 := BodyCondition{Path: "progress", GreaterThan: floatPtr(99)}
	ok2, err := c2.Evaluate(body)
	require.NoError(t, err)
	require.False(t, ok2)
}

func TestBodyConditionGreaterOrEqualBoundary(t *testing.T) {
	body := map[string]any{"progress": float64(100)}
	c := BodyCondition{Path: "progress", GreaterOrEqual: floatPtr(100)}
	ok, err := c.Evaluate(body)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestBodyConditionLessThanAndLessOrEqual(t *testing.T) {
	body := map[string]any{"remaining": float64(0)}
	c := BodyCondition{Path: "remaining", LessThan: floatPtr(1)}
	ok, err := c.Evaluate(body)
	require.NoError(t, err)
	require.True(t, ok)

	c2 := BodyCondition{Path: "remaining", LessOrEqual: floatPtr(0)}
	ok2, err := c2.Evaluate(body)
	require.NoError(t, err)
	require.True(t, ok2)
}

func TestBodyConditionNoOperatorErrors(t *testing.T) {
	c := BodyCondition{Path: "status"}
	_, err := c.Evaluate(map[string]any{"status": "done"})
	require.Error(t, err)
}

func TestBodyConditionEmptyPathEvaluatesWholeBody(t *testing.T) {
	c := BodyCondition{Equals: strPtr("done")}
	ok, err := c.Evaluate("done")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestDecodeAsyncHandleRoundTrips(t *testing.T) {
	raw := map[string]any{
		"externalRunId": "ext-123",
		"config": map[string]any{
			"tracker": map[string]any{
				"kind":     "mock_complete",
				"delay_ms": float64(10),
			},
			"cancel": map[string]any{
				"url":    "https://example.test/cancel/{{externalRunId}}",
				"method": "POST",
			},
		},
	}
	h, err := DecodeAsyncHandle(raw)
	require.NoError(t, err)
	require.Equal(t, "ext-123", h.ExternalRunID)
	require.Equal(t, "mock_complete", h.Config.Tracker.Kind)
	require.NotNil(t, h.Config.Cancel)
	require.Equal(t, "POST", h.Config.Cancel.Method)
}

func TestDecodeAsyncHandleMalformedErrors(t *testing.T) {
	_, err := DecodeAsyncHandle(map[string]any{"config": map[string]any{"tracker": map[string]any{"kind": 5}}})
	require.Error(t, err)
}

func TestTrackerPlanExtractResultWithPointer(t *testing.T) {
	plan := &TrackerPlan{ResultPointer: "data.result"}
	body := map[string]any{"data": map[string]any{"result": map[string]any{"id": "1"}}}
	got := plan.ExtractResult(body)
	require.Equal(t, map[string]any{"id": "1"}, got)
}

func TestTrackerPlanExtractResultWithoutPointerReturnsWholeBody(t *testing.T) {
	plan := &TrackerPlan{}
	body := map[string]any{"x": 1}
	require.Equal(t, body, plan.ExtractResult(body))
}
