package httpconn

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildBodyJSON(t *testing.T) {
	built, err := BuildBody(&RequestBody{Variant: BodyJSON, JSONData: map[string]any{"a": 1}}, "")
	require.NoError(t, err)
	require.Equal(t, "application/json", built.ContentType)
	require.JSONEq(t, `{"a":1}`, string(built.Bytes))
	require.Equal(t, int64(len(built.Bytes)), built.ContentLength)
}

func TestBuildBodyJSONRespectsExistingContentType(t *testing.T) {
	built, err := BuildBody(&RequestBody{Variant: BodyJSON, JSONData: map[string]any{}}, "application/vnd.api+json")
	require.NoError(t, err)
	require.Equal(t, "application/vnd.api+json", built.ContentType)
}

func TestBuildBodyForm(t *testing.T) {
	built, err := BuildBody(&RequestBody{Variant: BodyForm, FormFields: map[string]string{"k": "v"}}, "")
	require.NoError(t, err)
	require.Equal(t, "application/x-www-form-urlencoded", built.ContentType)
	require.Equal(t, "k=v", string(built.Bytes))
}

func TestBuildBodyMultipartLeavesContentLengthUnknown(t *testing.T) {
	built, err := BuildBody(&RequestBody{Variant: BodyMultipart, Parts: []MultipartPart{
		{Name: "field1", Value: []byte("hello")},
		{Name: "file1", Filename: "a.txt", Value: []byte("contents")},
	}}, "")
	require.NoError(t, err)
	require.Contains(t, built.ContentType, "multipart/form-data")
	require.Equal(t, int64(-1), built.ContentLength)
	require.NotEmpty(t, built.Bytes)
}

func TestBuildBodyRawDecodesBase64(t *testing.T) {
	raw := []byte("binary-data")
	b64 := base64.StdEncoding.EncodeToString(raw)
	built, err := BuildBody(&RequestBody{Variant: BodyRaw, RawBytesB64: b64, RawContentType: "application/octet-stream"}, "")
	require.NoError(t, err)
	require.Equal(t, raw, built.Bytes)
	require.Equal(t, "application/octet-stream", built.ContentType)
}

func TestBuildBodyRawInvalidBase64Errors(t *testing.T) {
	_, err := BuildBody(&RequestBody{Variant: BodyRaw, RawBytesB64: "not-base64!!"}, "")
	require.Error(t, err)
}

func TestBuildBodyTextDefaultsContentType(t *testing.T) {
	built, err := BuildBody(&RequestBody{Variant: BodyText, Text: "hello"}, "")
	require.NoError(t, err)
	require.Equal(t, "text/plain", built.ContentType)
	require.Equal(t, "hello", string(built.Bytes))
}

func TestBuildBodyNilReturnsNil(t *testing.T) {
	built, err := BuildBody(nil, "")
	require.NoError(t, err)
	require.Nil(t, built)
}

func TestBuildBodyUnknownVariantErrors(t *testing.T) {
	_, err := BuildBody(&RequestBody{Variant: "unknown"}, "")
	require.Error(t, err)
}
