package httpconn

import "github.com/openact/openact/internal/openact/errs"

// rawConnectionConfig is the JSON shape of a ConnectionRecord.config_json
// for connector "http", mirroring §4.4.1's
// invocation_http_parameters.{header_parameters,query_string_parameters}.
type rawConnectionConfig struct {
	BaseURL string `json:"base_url"`
	InvocationHttpParameters struct {
		HeaderParameters      map[string][]string `json:"header_parameters"`
		QueryStringParameters map[string][]string `json:"query_string_parameters"`
	} `json:"invocation_http_parameters"`
	TimeoutConfig  *TimeoutConfig `json:"timeout_config"`
	RetryPolicy    *RetryPolicy   `json:"retry_policy"`
	Policy         *HttpPolicy    `json:"policy"`
	Response       *ResponsePolicy `json:"response_policy"`
	Auth           *AuthConfig    `json:"auth"`
}

func (r *rawConnectionConfig) toHttpConnection(trn string) (*HttpConnection, error) {
	if r.BaseURL == "" {
		return nil, errs.NewInvalidConfig("httpconn: connection config missing base_url")
	}
	return &HttpConnection{
		Trn:            trn,
		BaseURL:        r.BaseURL,
		DefaultHeaders: r.InvocationHttpParameters.HeaderParameters,
		DefaultQuery:   r.InvocationHttpParameters.QueryStringParameters,
		Timeout:        r.TimeoutConfig,
		Retry:          r.RetryPolicy,
		Policy:         r.Policy,
		Response:       r.Response,
		Auth:           r.Auth,
	}, nil
}

// rawActionConfig is the JSON shape of an ActionRecord.config_json for
// connector "http". RequestBody is the legacy untyped JSON form (§4.4.1's
// "typed form takes precedence" rule: Body wins over RequestBody when set).
type rawActionConfig struct {
	Method      string              `json:"method"`
	Path        string              `json:"path"`
	Headers     map[string][]string `json:"headers"`
	QueryParams map[string][]string `json:"query_params"`
	Timeout     *TimeoutConfig      `json:"timeout_config"`
	Retry       *RetryPolicy        `json:"retry_policy"`
	Body        *RequestBody        `json:"body"`
	RequestBody any                 `json:"request_body"`
	Auth        *AuthConfig         `json:"auth"`
	InputSchema map[string]any      `json:"input_schema"`
}

func (r *rawActionConfig) toHttpAction(trn string) (*HttpAction, error) {
	if r.Method == "" {
		return nil, errs.NewInvalidConfig("httpconn: action config missing method")
	}
	body := r.Body
	if body == nil && r.RequestBody != nil {
		body = &RequestBody{Variant: BodyJSON, JSONData: r.RequestBody}
	}
	return &HttpAction{
		Trn:         trn,
		Method:      r.Method,
		Path:        r.Path,
		Headers:     r.Headers,
		QueryParams: r.QueryParams,
		Timeout:     r.Timeout,
		Retry:       r.Retry,
		Body:        body,
		Auth:        r.Auth,
	}, nil
}
