package cli

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
	"gotest.tools/v3/assert"

	"github.com/hlub/entrypoint/signal"
)

func TestParseArgsDefaults(t *testing.T) {
	opts, err := ParseArgs([]string{"--", "myapp", "--flag"})
	require.NoError(t, err)

	assert.Equal(t, "/variables.yml", opts.VariablesFile)
	assert.Equal(t, "/templates", opts.TemplateRoot)
	assert.Equal(t, "/jinja", opts.JinjaRoot)
	assert.Equal(t, "/", opts.OutputRoot)
	assert.Equal(t, "/entrypoint_hooks", opts.HooksDir)
	assert.Assert(t, !opts.NoInit)
	assert.Assert(t, !opts.NoSetsid)
	assert.Assert(t, !opts.VariablesExplicit)
	assert.DeepEqual(t, []string{"myapp", "--flag"}, opts.Command)
}

func TestParseArgsSplitsAtDoubleDash(t *testing.T) {
	opts, err := ParseArgs([]string{"--no-setsid", "--", "sh", "-c", "exit 0"})
	require.NoError(t, err)

	assert.Assert(t, opts.NoSetsid)
	assert.DeepEqual(t, []string{"sh", "-c", "exit 0"}, opts.Command)
}

func TestParseArgsStopsAtFirstPositional(t *testing.T) {
	opts, err := ParseArgs([]string{"-v", "myapp", "--no-init"})
	require.NoError(t, err)

	assert.Equal(t, 1, opts.Verbose)
	// --no-init after the command belongs to the command.
	assert.Assert(t, !opts.NoInit)
	assert.DeepEqual(t, []string{"myapp", "--no-init"}, opts.Command)
}

func TestParseArgsMissingCommand(t *testing.T) {
	_, err := ParseArgs([]string{"--no-init"})
	require.ErrorIs(t, err, ErrMissingCommand)
}

func TestParseArgsVersionNeedsNoCommand(t *testing.T) {
	opts, err := ParseArgs([]string{"--version"})
	require.NoError(t, err)
	assert.Assert(t, opts.Version)
}

func TestParseArgsUnknownFlag(t *testing.T) {
	_, err := ParseArgs([]string{"--definitely-not-a-flag", "--", "myapp"})
	require.Error(t, err)
}

func TestParseArgsRewrites(t *testing.T) {
	opts, err := ParseArgs([]string{"-r", "term:quit", "--rewrite", "usr1:none", "--", "myapp"})
	require.NoError(t, err)

	assert.Equal(t, unix.SIGQUIT, opts.Rewrites.Translate(unix.SIGTERM))
	assert.Equal(t, signal.None, opts.Rewrites.Translate(unix.SIGUSR1))
}

func TestParseArgsBadRewrite(t *testing.T) {
	_, err := ParseArgs([]string{"--rewrite", "term", "--", "myapp"})
	require.ErrorIs(t, err, signal.ErrBadRewrite)

	_, err = ParseArgs([]string{"--rewrite", "term:bogus", "--", "myapp"})
	require.ErrorIs(t, err, signal.ErrBadSignalName)
}

func TestParseArgsExplicitVariables(t *testing.T) {
	opts, err := ParseArgs([]string{"-V", "/etc/overrides.yml", "--", "myapp"})
	require.NoError(t, err)

	assert.Assert(t, opts.VariablesExplicit)
	assert.Equal(t, "/etc/overrides.yml", opts.VariablesFile)
}
