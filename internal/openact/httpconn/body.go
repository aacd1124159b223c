package httpconn

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/url"
	"strconv"

	"github.com/openact/openact/internal/openact/errs"
)

// BuiltBody is the encoded request body plus the Content-Type it implies.
type BuiltBody struct {
	Bytes         []byte
	ContentType   string
	ContentLength int64 // -1 when unknown (multipart never sets one)
}

// BuildBody encodes a RequestBody per §4.4.4's tagged union. existingCT is
// the Content-Type already present on the merged headers, which wins over
// a variant's default.
func BuildBody(body *RequestBody, existingCT string) (*BuiltBody, error) {
	if body == nil {
		return nil, nil
	}
	switch body.Variant {
	case BodyJSON:
		raw, err := json.Marshal(body.JSONData)
		if err != nil {
			return nil, errs.NewInvalidInput(fmt.Sprintf("httpconn: json body encode failed: %v", err))
		}
		ct := existingCT
		if ct == "" {
			ct = "application/json"
		}
		return &BuiltBody{Bytes: raw, ContentType: ct, ContentLength: int64(len(raw))}, nil

	case BodyForm:
		values := url.Values{}
		for k, v := range body.FormFields {
			values.Set(k, v)
		}
		raw := []byte(values.Encode())
		ct := existingCT
		if ct == "" {
			ct = "application/x-www-form-urlencoded"
		}
		return &BuiltBody{Bytes: raw, ContentType: ct, ContentLength: int64(len(raw))}, nil

	case BodyMultipart:
		var buf bytes.Buffer
		w := multipart.NewWriter(&buf)
		for _, part := range body.Parts {
			var fw interface {
				Write([]byte) (int, error)
			}
			var err error
			if part.Filename != "" {
				pw, ferr := w.CreateFormFile(part.Name, part.Filename)
				fw, err = pw, ferr
			} else {
				pw, ferr := w.CreateFormField(part.Name)
				fw, err = pw, ferr
			}
			if err != nil {
				return nil, errs.NewInternal(err)
			}
			if _, err := fw.Write(part.Value); err != nil {
				return nil, errs.NewInternal(err)
			}
		}
		if err := w.Close(); err != nil {
			return nil, errs.NewInternal(err)
		}
		// Transport sets Content-Type (including the boundary parameter);
		// Content-Length is deliberately left unknown per §4.4.4.
		return &BuiltBody{Bytes: buf.Bytes(), ContentType: w.FormDataContentType(), ContentLength: -1}, nil

	case BodyRaw:
		raw, err := base64.StdEncoding.DecodeString(body.RawBytesB64)
		if err != nil {
			return nil, errs.NewInvalidInput("httpconn: raw body is not valid base64")
		}
		ct := body.RawContentType
		if ct == "" {
			ct = existingCT
		}
		return &BuiltBody{Bytes: raw, ContentType: ct, ContentLength: int64(len(raw))}, nil

	case BodyText:
		ct := body.TextContentType
		if ct == "" {
			ct = existingCT
		}
		if ct == "" {
			ct = "text/plain"
		}
		raw := []byte(body.Text)
		return &BuiltBody{Bytes: raw, ContentType: ct, ContentLength: int64(len(raw))}, nil

	default:
		return nil, errs.NewInvalidConfig("httpconn: unknown body variant " + string(body.Variant))
	}
}

// contentLengthHeader formats a known length for the Content-Length header.
func contentLengthHeader(n int64) string {
	return strconv.FormatInt(n, 10)
}
