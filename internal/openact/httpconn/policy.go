package httpconn

import (
	"strings"

	"github.com/openact/openact/internal/openact/errs"
)

// headerSet is a multi-value header map keyed by the header name as
// it was supplied; callers normalize before inserting when policy requires it.
type headerSet map[string][]string

func newHeaderSet() headerSet { return make(headerSet) }

func (h headerSet) set(key string, values []string) {
	h[key] = append([]string(nil), values...)
}

func (h headerSet) delete(key string) {
	delete(h, key)
}

// lookupKey finds the existing key in h matching name case-insensitively,
// returning "" if absent. Used so the Connection/Action/Input layers, which
// may use different cases for the same header, collapse onto one entry.
func (h headerSet) lookupKey(name string) string {
	lower := strings.ToLower(name)
	for k := range h {
		if strings.ToLower(k) == lower {
			return k
		}
	}
	return ""
}

// mergeHeaders implements the three-layer, null-delete header merge from
// §4.4.1: Connection defaults -> Action (policy-enforced) -> Input
// (policy-enforced again, since Input can introduce denied headers too).
//
// connDefaults and actionHeaders use []string values (multi-value).
// inputHeaders uses JSON values: a string, a list of strings, or null
// (explicit delete).
func mergeHeaders(policy HttpPolicy, connDefaults, actionHeaders map[string][]string, inputHeaders map[string]any) (map[string][]string, error) {
	hs := newHeaderSet()
	for k, v := range connDefaults {
		if policy.NormalizeHeaderNames {
			k = strings.ToLower(k)
		}
		hs.set(k, v)
	}

	for k, v := range actionHeaders {
		if err := applyHeaderPolicyLayer(policy, hs, k, v, true); err != nil {
			return nil, err
		}
	}

	for k, raw := range inputHeaders {
		if raw == nil {
			existing := hs.lookupKey(k)
			if existing == "" && policy.NormalizeHeaderNames {
				existing = hs.lookupKey(strings.ToLower(k))
			}
			if existing != "" {
				hs.delete(existing)
			} else {
				hs.delete(k)
			}
			continue
		}
		values := jsonHeaderValues(raw)
		if err := applyHeaderPolicyLayer(policy, hs, k, values, false); err != nil {
			return nil, err
		}
	}

	if err := enforceHeaderLimits(policy, hs); err != nil {
		return nil, err
	}

	return map[string][]string(hs), nil
}

func jsonHeaderValues(raw any) []string {
	switch v := raw.(type) {
	case string:
		return []string{v}
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// applyHeaderPolicyLayer inserts key/values into hs honoring denied headers,
// reserved-header precedence, multi-value append, normalization, and
// per-value length. isActionLayer distinguishes the Action layer (where
// reserved_headers/multi_value_append_headers apply against the Connection
// layer already in hs) from the Input layer (which gets only the deny,
// CR/LF and length checks and then replaces any existing entry). An
// over-length value drops the header or is rejected; it is never truncated.
func applyHeaderPolicyLayer(policy HttpPolicy, hs headerSet, key string, values []string, isActionLayer bool) error {
	normalizedKey := key
	if policy.NormalizeHeaderNames {
		normalizedKey = strings.ToLower(key)
	}
	lowerKey := strings.ToLower(key)

	for _, denied := range policy.DeniedHeaders {
		if strings.ToLower(denied) == lowerKey {
			if policy.DropForbiddenHeaders {
				return nil
			}
			return errs.NewInvalidConfig("header policy: denied header " + key)
		}
	}

	for _, v := range values {
		if strings.ContainsAny(v, "\r\n") {
			return errs.NewInvalidConfig("header policy: CR/LF in header value for " + key)
		}
		if policy.MaxHeaderValueLength > 0 && len(v) > policy.MaxHeaderValueLength {
			if policy.DropForbiddenHeaders {
				return nil
			}
			return errs.NewInvalidConfig("header policy: value too long for " + key)
		}
	}

	existingKey := hs.lookupKey(normalizedKey)

	if isActionLayer && existingKey != "" {
		for _, reserved := range policy.ReservedHeaders {
			if strings.ToLower(reserved) == lowerKey {
				// Connection value wins; Action value is dropped entirely.
				return nil
			}
		}
		for _, appendable := range policy.MultiValueAppendHeaders {
			if strings.ToLower(appendable) == lowerKey {
				combined := strings.Join(hs[existingKey], ", ") + ", " + strings.Join(values, ", ")
				hs.set(existingKey, []string{combined})
				return nil
			}
		}
	}

	if existingKey != "" && existingKey != normalizedKey {
		hs.delete(existingKey)
	}
	hs.set(normalizedKey, values)
	return nil
}

func enforceHeaderLimits(policy HttpPolicy, hs headerSet) error {
	if policy.MaxTotalHeaders > 0 && len(hs) > policy.MaxTotalHeaders {
		return errs.NewInvalidConfig("header policy: too many headers")
	}
	return nil
}

// mergeQuery implements the same three-layer merge for query parameters,
// without the header-specific policy rules (reserved/append/normalize).
func mergeQuery(connDefaults, actionQuery map[string][]string, inputQuery map[string]any) (map[string][]string, error) {
	out := make(map[string][]string)
	for k, v := range connDefaults {
		out[k] = append([]string(nil), v...)
	}
	for k, v := range actionQuery {
		out[k] = append([]string(nil), v...)
	}
	for k, raw := range inputQuery {
		if raw == nil {
			delete(out, k)
			continue
		}
		out[k] = jsonHeaderValues(raw)
	}

	count := 0
	for _, v := range out {
		count += len(v)
	}
	if count > 100 {
		return nil, errs.NewInvalidConfig("query policy: too many query parameters")
	}
	return out, nil
}

// checkAllowedContentType enforces HttpPolicy.AllowedContentTypes against the
// resolved Content-Type header, comparing only the main type before ';'.
func checkAllowedContentType(policy HttpPolicy, contentType string) error {
	if len(policy.AllowedContentTypes) == 0 || contentType == "" {
		return nil
	}
	mainType := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	for _, allowed := range policy.AllowedContentTypes {
		if strings.ToLower(strings.TrimSpace(allowed)) == mainType {
			return nil
		}
	}
	return errs.NewInvalidConfig("header policy: content type not allowed: " + contentType)
}
