// Package httpconn implements the HTTP Executor: the connector that turns a
// persisted Connection+Action pair into an outbound HTTP call, with policy
// enforcement, pluggable authentication, a typed request body builder, and a
// retrying, timeout-bounded transport.
package httpconn

import "time"

// AuthorizationType selects how credentials are attached to a request.
type AuthorizationType string

const (
	AuthApiKey                  AuthorizationType = "api_key"
	AuthBasic                   AuthorizationType = "basic"
	AuthOAuth2ClientCredentials AuthorizationType = "oauth2_client_credentials"
	AuthOAuth2AuthorizationCode AuthorizationType = "oauth2_authorization_code"
)

// AuthConfig holds every field any AuthorizationType might need; only the
// fields relevant to Type are consulted.
type AuthConfig struct {
	Type AuthorizationType `json:"type"`

	// ApiKey
	ApiKeyName  string `json:"api_key_name"`
	ApiKeyValue string `json:"api_key_value"`

	// Basic
	Username string `json:"username"`
	Password string `json:"password"`

	// OAuth2ClientCredentials / OAuth2AuthorizationCode
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret"`
	TokenURL     string   `json:"token_url"`
	Scopes       []string `json:"scopes"`
	AuthRef      string   `json:"auth_ref"` // AuthConnection TRN, required for AuthorizationCode
}

// TimeoutConfig bounds connect, body-read, and total request duration.
type TimeoutConfig struct {
	ConnectMs int `json:"connect_ms"`
	ReadMs    int `json:"read_ms"`
	TotalMs   int `json:"total_ms"`
}

// Validate enforces that connect/read budgets don't exceed the total.
func (c TimeoutConfig) Validate() error {
	if c.ConnectMs <= 0 || c.ReadMs <= 0 || c.TotalMs <= 0 {
		return errTimeoutNotPositive
	}
	if c.ConnectMs > c.TotalMs {
		return errConnectExceedsTotal
	}
	if c.ReadMs > c.TotalMs {
		return errReadExceedsTotal
	}
	return nil
}

// DefaultTimeoutConfig matches the reference values used when a Connection
// or Action does not override timeouts.
func DefaultTimeoutConfig() TimeoutConfig {
	return TimeoutConfig{ConnectMs: 5_000, ReadMs: 25_000, TotalMs: 30_000}
}

func (c TimeoutConfig) total() time.Duration { return time.Duration(c.TotalMs) * time.Millisecond }
func (c TimeoutConfig) connect() time.Duration {
	return time.Duration(c.ConnectMs) * time.Millisecond
}

// RetryPolicy configures the RetryManager.
type RetryPolicy struct {
	MaxRetries         int     `json:"max_retries"`
	InitialDelayMs     int     `json:"initial_delay_ms"`
	MaxDelayMs         int     `json:"max_delay_ms"`
	BackoffMultiplier  float64 `json:"backoff_multiplier"`
	RetryOnStatusCodes []int   `json:"retry_on_status_codes"`
	UseJitter          *bool   `json:"use_jitter"` // nil means default true
}

// DefaultRetryPolicy fills in the reference retry defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:        3,
		InitialDelayMs:    500,
		MaxDelayMs:        30_000,
		BackoffMultiplier: 2.0,
	}
}

func (p RetryPolicy) useJitter() bool {
	if p.UseJitter == nil {
		return true
	}
	return *p.UseJitter
}

// HttpPolicy governs which headers may reach the upstream request.
type HttpPolicy struct {
	DeniedHeaders           []string `json:"denied_headers"`
	ReservedHeaders         []string `json:"reserved_headers"`
	MultiValueAppendHeaders []string `json:"multi_value_append_headers"`
	DropForbiddenHeaders    bool     `json:"drop_forbidden_headers"`
	NormalizeHeaderNames    bool     `json:"normalize_header_names"`
	MaxHeaderValueLength    int      `json:"max_header_value_length"`
	MaxTotalHeaders         int      `json:"max_total_headers"`
	AllowedContentTypes     []string `json:"allowed_content_types"`
}

// DefaultHttpPolicy fills in the reference header/body policy defaults.
func DefaultHttpPolicy() HttpPolicy {
	return HttpPolicy{
		DeniedHeaders:           []string{"host", "content-length", "transfer-encoding", "expect"},
		ReservedHeaders:         []string{"authorization"},
		MultiValueAppendHeaders: []string{"cookie", "set-cookie"},
		DropForbiddenHeaders:    false,
		NormalizeHeaderNames:    true,
		MaxHeaderValueLength:    1000,
		MaxTotalHeaders:         50,
	}
}

// ResponsePolicy bounds response body collection.
type ResponsePolicy struct {
	MaxBodyBytes int64  `json:"max_body_bytes"`
	AllowBinary  bool   `json:"allow_binary"`
	SinkTrn      string `json:"sink_trn"`
}

// DefaultResponsePolicy fills in the reference 8 MiB body cap.
func DefaultResponsePolicy() ResponsePolicy {
	return ResponsePolicy{MaxBodyBytes: 8 << 20}
}

// HttpConnection is the Connection-layer configuration: base URL, default
// headers/query params, and the defaults every Action on it inherits.
type HttpConnection struct {
	Trn            string
	BaseURL        string
	DefaultHeaders map[string][]string
	DefaultQuery   map[string][]string
	Timeout        *TimeoutConfig
	Retry          *RetryPolicy
	Policy         *HttpPolicy
	Response       *ResponsePolicy
	Auth           *AuthConfig
	ConnectTimeout time.Duration
}

// BodyVariant tags which RequestBodyType a typed body uses.
type BodyVariant string

const (
	BodyJSON      BodyVariant = "json"
	BodyForm      BodyVariant = "form"
	BodyMultipart BodyVariant = "multipart"
	BodyRaw       BodyVariant = "raw"
	BodyText      BodyVariant = "text"
)

// RequestBody is a tagged union over JSON/form/multipart/raw/text body
// encodings; exactly one variant's fields are consulted.
type RequestBody struct {
	Variant         BodyVariant       `json:"variant"`
	JSONData        any               `json:"data,omitempty"`
	FormFields      map[string]string `json:"fields,omitempty"`
	Parts           []MultipartPart   `json:"parts,omitempty"`
	RawBytesB64     string            `json:"bytes_b64,omitempty"`
	RawContentType  string            `json:"content_type,omitempty"`
	Text            string            `json:"text,omitempty"`
	TextContentType string            `json:"text_content_type,omitempty"`
}

// MultipartPart is one field of a multipart/form-data body.
type MultipartPart struct {
	Name        string `json:"name"`
	Filename    string `json:"filename,omitempty"` // empty for plain fields
	ContentType string `json:"content_type,omitempty"`
	Value       []byte `json:"value,omitempty"`
}

// HttpAction is the Action-layer configuration merged over its Connection.
type HttpAction struct {
	Trn         string
	Method      string
	Path        string
	Headers     map[string][]string
	QueryParams map[string][]string
	Timeout     *TimeoutConfig
	Retry       *RetryPolicy
	Body        *RequestBody
	Auth        *AuthConfig
}
