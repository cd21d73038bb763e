package helpers

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/sds/pkg/errors"
)

// AssertAppError asserts that err wraps sentinel inside an AppError of errType
func AssertAppError(t *testing.T, err error, sentinel error, errType errors.ErrorType) {
	t.Helper()

	require.Error(t, err)
	assert.ErrorIs(t, err, sentinel)
	assert.True(t, errors.IsType(err, errType), "expected a %s error, got %v", errType, err)
}

// AssertFileContains asserts that the file exists and contains every line
func AssertFileContains(t *testing.T, path string, expectedLines ...string) {
	t.Helper()

	require.FileExists(t, path)

	content, err := os.ReadFile(path)
	require.NoError(t, err, "should be able to read file")

	for _, expected := range expectedLines {
		assert.Contains(t, string(content), expected+"\n", "%s should contain %q", path, expected)
	}
}
