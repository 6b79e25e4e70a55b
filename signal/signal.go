// Package signal maps between POSIX signal names and numbers and holds
// the rewrite table applied before signals are forwarded to the child.
package signal

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Signals we care about are numbered from 1 to 31, inclusive.
// 32 and above are real-time signals.
const MaxSignal = 31

// None is the rewrite target meaning the signal is dropped instead of
// forwarded.
const None = unix.Signal(0)

var ErrBadSignalName = errors.New("not a signal name")

var names = map[unix.Signal]string{
	unix.SIGHUP:    "HUP",
	unix.SIGINT:    "INT",
	unix.SIGQUIT:   "QUIT",
	unix.SIGILL:    "ILL",
	unix.SIGTRAP:   "TRAP",
	unix.SIGABRT:   "ABRT",
	unix.SIGBUS:    "BUS",
	unix.SIGFPE:    "FPE",
	unix.SIGKILL:   "KILL",
	unix.SIGUSR1:   "USR1",
	unix.SIGSEGV:   "SEGV",
	unix.SIGUSR2:   "USR2",
	unix.SIGPIPE:   "PIPE",
	unix.SIGALRM:   "ALRM",
	unix.SIGTERM:   "TERM",
	unix.SIGSTKFLT: "STKFLT",
	unix.SIGCHLD:   "CHLD",
	unix.SIGCONT:   "CONT",
	unix.SIGSTOP:   "STOP",
	unix.SIGTSTP:   "TSTP",
	unix.SIGTTIN:   "TTIN",
	unix.SIGTTOU:   "TTOU",
	unix.SIGURG:    "URG",
	unix.SIGXCPU:   "XCPU",
	unix.SIGXFSZ:   "XFSZ",
	unix.SIGVTALRM: "VTALRM",
	unix.SIGPROF:   "PROF",
	unix.SIGWINCH:  "WINCH",
	unix.SIGIO:     "IO",
	unix.SIGPWR:    "PWR",
	unix.SIGSYS:    "SYS",
}

var numbers = map[string]unix.Signal{}

// Historic alternate names the kernel headers also carry.
var aliases = map[string]string{
	"IOT":  "ABRT",
	"CLD":  "CHLD",
	"POLL": "IO",
}

func init() {
	for sig, name := range names {
		numbers[name] = sig
	}
	for alias, name := range aliases {
		numbers[alias] = numbers[name]
	}
}

// Name returns the canonical uppercase name of sig, without the SIG
// prefix.
func Name(sig unix.Signal) string {
	if sig == None {
		return "NONE"
	}
	if name, ok := names[sig]; ok {
		return name
	}
	return unix.SignalName(sig)
}

// Parse resolves a signal name to its number. Matching is
// case-insensitive and a leading SIG prefix is optional. Numeric forms
// are not accepted.
func Parse(name string) (unix.Signal, error) {
	sig, ok := numbers[normalize(name)]
	if !ok {
		return 0, errors.Wrapf(ErrBadSignalName, "%q", name)
	}
	return sig, nil
}

// parseTarget is Parse plus the NONE pseudo-signal, which is only legal
// as a rewrite target.
func parseTarget(name string) (unix.Signal, error) {
	if normalize(name) == "NONE" {
		return None, nil
	}
	return Parse(name)
}

func normalize(name string) string {
	name = strings.ToUpper(name)
	return strings.TrimPrefix(name, "SIG")
}

// Forwardable returns every signal the supervisor waits on: ids 1
// through MaxSignal, minus the two uncatchable signals and the
// synchronous fault signals, which stay on their default dispositions.
func Forwardable() []os.Signal {
	var sigs []os.Signal

	for n := 1; n <= MaxSignal; n++ {
		sig := unix.Signal(n)
		switch sig {
		case unix.SIGKILL, unix.SIGSTOP,
			unix.SIGSEGV, unix.SIGBUS, unix.SIGFPE, unix.SIGILL:
			continue
		}

		sigs = append(sigs, sig)
	}

	return sigs
}
