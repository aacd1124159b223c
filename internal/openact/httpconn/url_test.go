package httpconn

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestJoinURLRelativePathAppends(t *testing.T) {
	got, err := JoinURL("https://api.example.com/base/", "widgets/42")
	require.NoError(t, err)
	require.Equal(t, "https://api.example.com/base/widgets/42", got)
}

func TestJoinURLAbsolutePathReplaces(t *testing.T) {
	got, err := JoinURL("https://api.example.com/base/", "/other/path")
	require.NoError(t, err)
	require.Equal(t, "https://api.example.com/other/path", got)
}

func TestJoinURLEmptyPathReturnsBase(t *testing.T) {
	got, err := JoinURL("https://api.example.com/base", "")
	require.NoError(t, err)
	require.Equal(t, "https://api.example.com/base", got)
}

func TestJoinURLMissingTrailingSlashStillJoins(t *testing.T) {
	got, err := JoinURL("https://api.example.com/base", "widgets")
	require.NoError(t, err)
	require.Equal(t, "https://api.example.com/base/widgets", got)
}

func TestAppendQueryPreservesExistingPairs(t *testing.T) {
	got, err := AppendQuery("https://api.example.com/x?a=1", map[string][]string{"b": {"2"}})
	require.NoError(t, err)
	require.Contains(t, got, "a=1")
	require.Contains(t, got, "b=2")
}

func TestAppendQueryNoParamsIsNoop(t *testing.T) {
	got, err := AppendQuery("https://api.example.com/x?a=1", nil)
	require.NoError(t, err)
	require.Equal(t, "https://api.example.com/x?a=1", got)
}
