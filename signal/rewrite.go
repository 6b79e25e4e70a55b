package signal

import (
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

var ErrBadRewrite = errors.New("malformed signal rewrite")

// Rewrite is a single user-specified FROM:TO mapping. To may be None.
type Rewrite struct {
	From unix.Signal
	To   unix.Signal
}

// ParseRewrite parses a FROM:TO pair. Both sides accept the same names
// Parse accepts; only the target side additionally accepts NONE.
func ParseRewrite(spec string) (Rewrite, error) {
	from, to, ok := strings.Cut(spec, ":")
	if !ok {
		return Rewrite{}, errors.Wrapf(ErrBadRewrite, "%q", spec)
	}

	fromSig, err := Parse(from)
	if err != nil {
		return Rewrite{}, err
	}

	toSig, err := parseTarget(to)
	if err != nil {
		return Rewrite{}, err
	}

	return Rewrite{From: fromSig, To: toSig}, nil
}

// Map is the total signal translation function applied before
// forwarding. It is built once at startup and read-only afterwards.
// Signals without an explicit rule translate to themselves.
type Map struct {
	rules map[unix.Signal]unix.Signal
}

// In a new session with an orphaned foreground group the kernel does
// not apply default job-control behavior for these, so forwarding them
// verbatim would be a no-op. Rewriting to STOP obtains the intended
// suspension. User rewrites override these.
var defaultRewrites = []Rewrite{
	{From: unix.SIGTSTP, To: unix.SIGSTOP},
	{From: unix.SIGTTIN, To: unix.SIGSTOP},
	{From: unix.SIGTTOU, To: unix.SIGSTOP},
}

// NewMap builds a Map from the defaults followed by the given rewrites,
// later entries winning.
func NewMap(rewrites []Rewrite) *Map {
	m := &Map{
		rules: make(map[unix.Signal]unix.Signal),
	}

	for _, rw := range defaultRewrites {
		m.rules[rw.From] = rw.To
	}
	for _, rw := range rewrites {
		m.rules[rw.From] = rw.To
	}

	return m
}

// Build parses a sequence of FROM:TO specs and constructs the Map.
func Build(specs []string) (*Map, error) {
	var rewrites []Rewrite

	for _, spec := range specs {
		rw, err := ParseRewrite(spec)
		if err != nil {
			return nil, err
		}

		rewrites = append(rewrites, rw)
	}

	return NewMap(rewrites), nil
}

// Translate applies the rewrite for sig, returning None when the signal
// should be dropped. KILL and STOP cannot be caught and are never
// translated.
func (m *Map) Translate(sig unix.Signal) unix.Signal {
	if sig == unix.SIGKILL || sig == unix.SIGSTOP {
		return sig
	}
	if to, ok := m.rules[sig]; ok {
		return to
	}
	return sig
}

// Equal reports whether two maps hold the same set of rewrite rules. A
// rule that maps a signal to itself, or one for KILL or STOP, still
// counts, so maps that translate identically can compare unequal.
func (m *Map) Equal(o *Map) bool {
	if len(m.rules) != len(o.rules) {
		return false
	}
	for from, to := range m.rules {
		if other, ok := o.rules[from]; !ok || other != to {
			return false
		}
	}
	return true
}
