package supervise

import (
	"os"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sys/unix"
	"gotest.tools/v3/assert"

	"github.com/hlub/entrypoint/signal"
)

func waitStatusExit(code int) unix.WaitStatus {
	return unix.WaitStatus(code << 8)
}

func waitStatusSignaled(sig unix.Signal) unix.WaitStatus {
	return unix.WaitStatus(sig)
}

func TestDeriveExitCode(t *testing.T) {
	assert.Equal(t, 0, DeriveExitCode(waitStatusExit(0)))
	assert.Equal(t, 42, DeriveExitCode(waitStatusExit(42)))
	assert.Equal(t, 128+15, DeriveExitCode(waitStatusSignaled(unix.SIGTERM)))
	assert.Equal(t, 128+9, DeriveExitCode(waitStatusSignaled(unix.SIGKILL)))
}

func TestRunPropagatesChildExitCode(t *testing.T) {
	sup := New(Options{Log: hclog.NewNullLogger(), UseSetsid: true})

	code := sup.Run([]string{"sh", "-c", "exit 7"})
	assert.Equal(t, 7, code)
}

func TestRunPropagatesZeroExit(t *testing.T) {
	sup := New(Options{Log: hclog.NewNullLogger()})

	code := sup.Run([]string{"true"})
	assert.Equal(t, 0, code)
}

func TestRunSpawnMissingBinary(t *testing.T) {
	sup := New(Options{Log: hclog.NewNullLogger(), UseSetsid: true})

	code := sup.Run([]string{"/definitely/not/a/real/binary"})
	assert.Equal(t, ExitExecFailed, code)
}

func TestRunForwardsTermToGroup(t *testing.T) {
	sup := New(Options{Log: hclog.NewNullLogger(), UseSetsid: true})

	go func() {
		time.Sleep(500 * time.Millisecond)
		unix.Kill(os.Getpid(), unix.SIGTERM)
	}()

	code := sup.Run([]string{"sh", "-c", `trap 'exit 42' TERM; sleep 60; exit 9`})
	assert.Equal(t, 42, code)
}

func TestRunForwardsToDirectChildWithoutSetsid(t *testing.T) {
	sup := New(Options{Log: hclog.NewNullLogger(), UseSetsid: false})

	go func() {
		time.Sleep(500 * time.Millisecond)
		unix.Kill(os.Getpid(), unix.SIGTERM)
	}()

	// The sleep runs in the background so the shell's trap fires as
	// soon as the signal arrives; only the shell itself is signaled.
	code := sup.Run([]string{"sh", "-c", `trap 'exit 42' TERM; sleep 60 & wait`})
	assert.Equal(t, 42, code)
}

func TestRunDropsRewrittenSignal(t *testing.T) {
	rewrites, err := signal.Build([]string{"term:none"})
	assert.NilError(t, err)

	sup := New(Options{Log: hclog.NewNullLogger(), Rewrites: rewrites, UseSetsid: true})

	go func() {
		time.Sleep(300 * time.Millisecond)
		unix.Kill(os.Getpid(), unix.SIGTERM)
	}()

	code := sup.Run([]string{"sh", "-c", `trap 'exit 42' TERM; sleep 1; exit 9`})
	assert.Equal(t, 9, code)
}

func TestRunRewritesToDifferentSignal(t *testing.T) {
	rewrites, err := signal.Build([]string{"term:usr1"})
	assert.NilError(t, err)

	sup := New(Options{Log: hclog.NewNullLogger(), Rewrites: rewrites, UseSetsid: true})

	go func() {
		time.Sleep(500 * time.Millisecond)
		unix.Kill(os.Getpid(), unix.SIGTERM)
	}()

	code := sup.Run([]string{"sh", "-c", `trap 'exit 3' USR1; sleep 60; exit 9`})
	assert.Equal(t, 3, code)
}
