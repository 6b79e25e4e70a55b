// Package supervise is the pid-1 core: it spawns the one supervised
// child, forwards signals to it (or to its whole session group),
// reaps every descendant the kernel re-parents to us, and derives the
// exit status from the child's fate.
package supervise

import (
	"os"
	"os/exec"
	osignal "os/signal"
	"syscall"

	"github.com/hashicorp/go-hclog"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/hlub/entrypoint/signal"
)

// Exit statuses for failures of the supervisor itself, matching shell
// convention for the exec case.
const (
	ExitSpawnFailed = 1
	ExitExecFailed  = 127
)

type Options struct {
	Log       hclog.Logger
	Rewrites  *signal.Map
	UseSetsid bool
}

// Supervisor owns the supervised child and the installed signal stream
// for the lifetime of the process. Single-threaded: the loop in Run is
// the only consumer.
type Supervisor struct {
	log       hclog.Logger
	rewrites  *signal.Map
	useSetsid bool

	childPid    int
	exited      bool
	status      unix.WaitStatus
	noChildren  bool
	ttyDetached bool

	// One-time ignores due to TTY quirks: detaching from the
	// controlling terminal makes the kernel send HUP and CONT to our
	// group, which must not reach the child.
	ignoreOnce map[unix.Signal]bool
}

func New(opts Options) *Supervisor {
	log := opts.Log
	if log == nil {
		log = hclog.NewNullLogger()
	}

	rewrites := opts.Rewrites
	if rewrites == nil {
		rewrites = signal.NewMap(nil)
	}

	return &Supervisor{
		log:        log,
		rewrites:   rewrites,
		useSetsid:  opts.UseSetsid,
		ignoreOnce: make(map[unix.Signal]bool),
	}
}

// Run spawns argv as the supervised child and services signals until
// the child has been reaped and no reapable descendant remains. The
// returned status is the child's exit code, or 128 plus the signal
// number when the child died from a signal; in the latter case Run
// first re-raises that signal on ourselves with default disposition so
// the supervisor's own termination reason is observable.
func (s *Supervisor) Run(argv []string) int {
	// The signal stream: the runtime's handler only enqueues, all real
	// work happens below on this goroutine.
	ch := make(chan os.Signal, 128)
	osignal.Notify(ch, signal.Forwardable()...)
	defer osignal.Stop(ch)

	s.detachTTY()

	if code, err := s.spawn(argv); err != nil {
		s.log.Error("unable to spawn child", "error", err)
		return code
	}

	for !(s.exited && s.noChildren) {
		sig, ok := (<-ch).(unix.Signal)
		if !ok {
			continue
		}
		s.handle(sig)
	}

	return s.exitStatus()
}

// spawn starts the child with inherited stdio and environment. In
// setsid mode the child becomes leader of a new session, taking the
// controlling terminal with it when we detached from one.
func (s *Supervisor) spawn(argv []string) (int, error) {
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	attr := &syscall.SysProcAttr{}
	if s.useSetsid {
		attr.Setsid = true
		if s.ttyDetached {
			attr.Setctty = true
			attr.Ctty = 0
		}
	}
	cmd.SysProcAttr = attr

	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) ||
			errors.Is(err, os.ErrNotExist) ||
			errors.Is(err, os.ErrPermission) {
			return ExitExecFailed, err
		}
		return ExitSpawnFailed, err
	}

	s.childPid = cmd.Process.Pid
	s.log.Debug("child spawned", "pid", s.childPid, "setsid", s.useSetsid)

	return 0, nil
}

// detachTTY gives up the controlling terminal so the child's new
// session can attach to it instead and do normal job control.
func (s *Supervisor) detachTTY() {
	if !s.useSetsid || !isatty.IsTerminal(os.Stdout.Fd()) {
		return
	}

	if err := unix.IoctlSetInt(int(os.Stdin.Fd()), unix.TIOCNOTTY, 0); err != nil {
		s.log.Debug("unable to detach from controlling tty", "error", err)
		return
	}

	s.ttyDetached = true

	sid, err := unix.Getsid(0)
	if err == nil && sid == unix.Getpid() {
		// The kernel sends HUP and CONT to the group of a session
		// leader that detaches; the child must not see them.
		s.log.Debug("detached from controlling tty, ignoring the first HUP and CONT")
		s.ignoreOnce[unix.SIGHUP] = true
		s.ignoreOnce[unix.SIGCONT] = true
	} else {
		s.log.Debug("detached from controlling tty, but was not session leader")
	}
}

func (s *Supervisor) handle(sig unix.Signal) {
	s.log.Debug("received signal", "signal", signal.Name(sig))

	if s.ignoreOnce[sig] {
		delete(s.ignoreOnce, sig)
		s.log.Debug("ignoring tty hand-off signal", "signal", signal.Name(sig))
		return
	}

	if sig == unix.SIGCHLD {
		s.reap()
		return
	}

	s.forward(sig)

	switch sig {
	case unix.SIGTSTP, unix.SIGTTIN, unix.SIGTTOU:
		// Suspend alongside the group so a later CONT resumes both.
		s.log.Debug("suspending self due to tty signal")
		unix.Kill(unix.Getpid(), unix.SIGSTOP)
	}
}

// forward translates sig through the rewrite map and delivers it to
// the child, or to the child's whole process group in setsid mode.
func (s *Supervisor) forward(sig unix.Signal) {
	out := s.rewrites.Translate(sig)
	if out == signal.None {
		s.log.Debug("not forwarding signal", "signal", signal.Name(sig))
		return
	}

	pid := s.childPid
	if s.useSetsid {
		pid = -pid
	}

	if err := unix.Kill(pid, out); err != nil {
		s.log.Debug("forwarding signal interrupted",
			"signal", signal.Name(out), "error", err)
		return
	}

	s.log.Debug("forwarded signal", "signal", signal.Name(out))
}

// reap collects every exited descendant. Identical pending CHLD
// signals coalesce, so a single wake drains until nothing is
// immediately reapable.
func (s *Supervisor) reap() {
	for {
		var status unix.WaitStatus

		pid, err := unix.Wait4(-1, &status, unix.WNOHANG, nil)
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.ECHILD:
			// No children left at all.
			s.noChildren = true
			return
		case err != nil:
			s.log.Warn("wait failed", "error", err)
			return
		case pid == 0:
			// Children remain but none is reapable right now.
			return
		}

		s.noChildren = false

		if pid != s.childPid {
			s.log.Debug("reaped orphaned descendant", "pid", pid)
			continue
		}

		s.exited = true
		s.status = status

		if status.Exited() {
			s.log.Debug("child exited", "pid", pid, "status", status.ExitStatus())
		} else {
			s.log.Debug("child terminated by signal",
				"pid", pid, "signal", signal.Name(status.Signal()))
		}

		// Nudge any remaining descendants so the group winds down.
		s.forward(unix.SIGTERM)
	}
}

// exitStatus derives the supervisor's own exit status from the child's
// wait status.
func (s *Supervisor) exitStatus() int {
	code := DeriveExitCode(s.status)

	if s.status.Signaled() {
		sig := s.status.Signal()
		s.log.Debug("re-raising child's termination signal", "signal", signal.Name(sig))
		osignal.Reset(sig)
		unix.Kill(unix.Getpid(), sig)
		// Unreachable for terminating signals; plain exit otherwise.
	}

	s.log.Debug("init process terminates", "exit", code)

	return code
}

// DeriveExitCode maps a wait status to the exit code the supervisor
// propagates: the child's code on normal exit, 128 plus the signal
// number on signal death.
func DeriveExitCode(status unix.WaitStatus) int {
	if status.Signaled() {
		return 128 + int(status.Signal())
	}
	return status.ExitStatus()
}
