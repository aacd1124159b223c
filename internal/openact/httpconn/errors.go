package httpconn

import "errors"

var (
	errTimeoutNotPositive = errors.New("httpconn: connect_ms, read_ms, and total_ms must all be positive")
	errConnectExceedsTotal = errors.New("httpconn: connect_ms must be <= total_ms")
	errReadExceedsTotal    = errors.New("httpconn: read_ms must be <= total_ms")
)
