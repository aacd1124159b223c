package httpconn

// MergedRequest is the fully-resolved outbound request shape after the
// three-layer Connection -> Action -> Input merge (§4.4.1).
type MergedRequest struct {
	Method      string
	URL         string
	Headers     map[string][]string
	QueryParams map[string][]string
	Timeout     TimeoutConfig
	Retry       RetryPolicy
	Body        *RequestBody
	Auth        *AuthConfig
}

// Input is the per-call override layer: an Input{headers, query} JSON
// shape where header/query values may be nil to signal deletion.
type Input struct {
	Headers map[string]any
	Query   map[string]any
}

// Merge builds a MergedRequest from a connection, action, and input,
// enforcing HttpPolicy during header assembly and resolving the URL via
// RFC 3986 reference resolution.
func Merge(conn *HttpConnection, action *HttpAction, input Input) (*MergedRequest, error) {
	policy := DefaultHttpPolicy()
	if conn.Policy != nil {
		policy = *conn.Policy
	}

	headers, err := mergeHeaders(policy, conn.DefaultHeaders, action.Headers, input.Headers)
	if err != nil {
		return nil, err
	}
	query, err := mergeQuery(conn.DefaultQuery, action.QueryParams, input.Query)
	if err != nil {
		return nil, err
	}

	timeout := DefaultTimeoutConfig()
	if conn.Timeout != nil {
		timeout = *conn.Timeout
	}
	if action.Timeout != nil {
		timeout = *action.Timeout
	}
	if err := timeout.Validate(); err != nil {
		return nil, err
	}

	retry := DefaultRetryPolicy()
	if conn.Retry != nil {
		retry = *conn.Retry
	}
	if action.Retry != nil {
		retry = *action.Retry
	}

	url, err := JoinURL(conn.BaseURL, action.Path)
	if err != nil {
		return nil, err
	}
	url, err = AppendQuery(url, query)
	if err != nil {
		return nil, err
	}

	auth := conn.Auth
	if action.Auth != nil {
		auth = action.Auth
	}

	return &MergedRequest{
		Method:      action.Method,
		URL:         url,
		Headers:     headers,
		QueryParams: query,
		Timeout:     timeout,
		Retry:       retry,
		Body:        action.Body,
		Auth:        auth,
	}, nil
}
