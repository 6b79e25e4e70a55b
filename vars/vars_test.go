package vars

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"
	"gotest.tools/v3/assert"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	return path
}

func TestLoadMergesFileOverEnvironment(t *testing.T) {
	t.Setenv("ENTRYPOINT_TEST_KEY", "from-env")
	t.Setenv("ENTRYPOINT_TEST_ONLY_ENV", "still-here")

	path := writeFile(t, "variables.yml", "ENTRYPOINT_TEST_KEY: from-file\nport: 8080\n")

	variables, err := Load(hclog.NewNullLogger(), path, true)
	require.NoError(t, err)

	assert.Equal(t, "from-file", variables["ENTRYPOINT_TEST_KEY"])
	assert.Equal(t, "still-here", variables["ENTRYPOINT_TEST_ONLY_ENV"])
	assert.Equal(t, 8080, variables["port"])
}

func TestLoadPreservesValueTypes(t *testing.T) {
	path := writeFile(t, "variables.yml", "servers:\n  - a\n  - b\nnested:\n  x: true\n")

	variables, err := Load(hclog.NewNullLogger(), path, true)
	require.NoError(t, err)

	servers, ok := variables["servers"].([]interface{})
	require.True(t, ok)
	assert.DeepEqual(t, []interface{}{"a", "b"}, servers)

	nested, ok := variables["nested"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, true, nested["x"])
}

func TestLoadMissingDefaultPathIsSoft(t *testing.T) {
	t.Setenv("ENTRYPOINT_TEST_ONLY_ENV", "still-here")

	path := filepath.Join(t.TempDir(), "does-not-exist.yml")

	variables, err := Load(hclog.NewNullLogger(), path, false)
	require.NoError(t, err)
	assert.Equal(t, "still-here", variables["ENTRYPOINT_TEST_ONLY_ENV"])
}

func TestLoadMissingExplicitPathFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist.yml")

	_, err := Load(hclog.NewNullLogger(), path, true)
	require.ErrorIs(t, err, ErrVariablesMissing)
}

func TestLoadDirectoryFails(t *testing.T) {
	_, err := Load(hclog.NewNullLogger(), t.TempDir(), true)
	require.Error(t, err)
}

func TestLoadNonMappingFails(t *testing.T) {
	path := writeFile(t, "variables.yml", "- just\n- a\n- list\n")

	_, err := Load(hclog.NewNullLogger(), path, true)
	require.ErrorIs(t, err, ErrNotMapping)
}

func TestLoadParseErrorFails(t *testing.T) {
	path := writeFile(t, "variables.yml", "key: [unterminated\n")

	_, err := Load(hclog.NewNullLogger(), path, true)
	require.Error(t, err)
}

func TestLoadEmptyFile(t *testing.T) {
	path := writeFile(t, "variables.yml", "")

	variables, err := Load(hclog.NewNullLogger(), path, true)
	require.NoError(t, err)
	assert.Assert(t, variables != nil)
}
