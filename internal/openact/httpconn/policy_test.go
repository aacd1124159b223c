package httpconn

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestHeaderNullDelete covers S1: Connection sets X-Trace, Action adds
// nothing, Input deletes it with an explicit null.
func TestHeaderNullDelete(t *testing.T) {
	policy := DefaultHttpPolicy()
	conn := map[string][]string{"X-Trace": {"abc"}}
	action := map[string][]string{}
	input := map[string]any{"x-trace": nil}

	headers, err := mergeHeaders(policy, conn, action, input)
	require.NoError(t, err)
	require.NotContains(t, headers, "X-Trace")
	require.NotContains(t, headers, "x-trace")
}

// TestAppendAndReservedHeaders covers S2: a reserved header keeps the
// Connection value, and an append-listed header concatenates "conn, action".
func TestAppendAndReservedHeaders(t *testing.T) {
	policy := DefaultHttpPolicy()
	policy.MultiValueAppendHeaders = []string{"accept"}
	policy.ReservedHeaders = []string{"authorization"}

	conn := map[string][]string{
		"Authorization": {"Bearer c"},
		"Accept":        {"application/json"},
	}
	action := map[string][]string{
		"authorization": {"Bearer a"},
		"accept":        {"text/plain"},
	}

	headers, err := mergeHeaders(policy, conn, action, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"Bearer c"}, headers["authorization"])
	require.Equal(t, []string{"application/json, text/plain"}, headers["accept"])
}

func TestHeaderNormalizationLowercasesKeys(t *testing.T) {
	policy := DefaultHttpPolicy()
	policy.NormalizeHeaderNames = true

	conn := map[string][]string{"X-Custom": {"v1"}}
	action := map[string][]string{"X-Other": {"v2"}}
	input := map[string]any{"X-Third": "v3"}

	headers, err := mergeHeaders(policy, conn, action, input)
	require.NoError(t, err)
	for k := range headers {
		require.Equal(t, k, lowerInvariant(k))
	}
}

func lowerInvariant(s string) string {
	out := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}

func TestDeniedHeaderRejectedByDefault(t *testing.T) {
	policy := DefaultHttpPolicy()
	_, err := mergeHeaders(policy, nil, map[string][]string{"Host": {"evil.example"}}, nil)
	require.Error(t, err)
}

func TestDeniedHeaderDroppedWhenConfigured(t *testing.T) {
	policy := DefaultHttpPolicy()
	policy.DropForbiddenHeaders = true
	headers, err := mergeHeaders(policy, nil, map[string][]string{"Host": {"evil.example"}}, nil)
	require.NoError(t, err)
	require.NotContains(t, headers, "host")
}

func TestHeaderValueWithCRLFAlwaysRejected(t *testing.T) {
	policy := DefaultHttpPolicy()
	policy.DropForbiddenHeaders = true // even drop mode can't save a smuggling attempt
	_, err := mergeHeaders(policy, nil, map[string][]string{"X-Evil": {"a\r\nSet-Cookie: x"}}, nil)
	require.Error(t, err)
}

func TestMaxTotalHeadersExceeded(t *testing.T) {
	policy := DefaultHttpPolicy()
	policy.MaxTotalHeaders = 1
	_, err := mergeHeaders(policy, map[string][]string{"A": {"1"}}, map[string][]string{"B": {"2"}}, nil)
	require.Error(t, err)
}

func TestQueryParamCountLimit(t *testing.T) {
	many := map[string]any{}
	for i := 0; i < 101; i++ {
		many["k"+itoa(i)] = "v"
	}
	_, err := mergeQuery(nil, nil, many)
	require.Error(t, err)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

func TestAllowedContentTypesMatchesMainTypeOnly(t *testing.T) {
	policy := DefaultHttpPolicy()
	policy.AllowedContentTypes = []string{"application/json"}
	require.NoError(t, checkAllowedContentType(policy, "application/json; charset=utf-8"))
	require.Error(t, checkAllowedContentType(policy, "text/plain"))
}

func TestAllowedContentTypesEmptyAllowsAny(t *testing.T) {
	policy := DefaultHttpPolicy()
	require.NoError(t, checkAllowedContentType(policy, "anything/whatever"))
}
