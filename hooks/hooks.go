// Package hooks discovers and runs user-supplied initialization hooks.
//
// A hook unit is a Lua file directly under the hooks directory. The
// unit's capability set is whichever of the global functions prehook,
// hook and posthook it defines; it must define at least one. Units run
// in lexicographic order of their file names. Prehooks may mutate the
// variable space; from the template rendering stage on it is frozen and
// hook/posthook invocations see a copy.
package hooks

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
	lua "github.com/yuin/gopher-lua"
)

var ErrNoHookFunctions = errors.New("hook unit defines none of prehook, hook, posthook")

// Unit is a single loaded hook file and its capability set.
type Unit struct {
	Name string
	Path string

	HasPrehook  bool
	HasHook     bool
	HasPosthook bool

	state *lua.LState
}

// Set holds every discovered hook unit in invocation order.
type Set struct {
	log   hclog.Logger
	units []*Unit
}

// Discover loads all hook units from dir. A missing directory yields an
// empty set; a unit that fails to load or defines no hook function is
// an error.
func Discover(log hclog.Logger, dir string) (*Set, error) {
	set := &Set{log: log}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			log.Debug("no hooks directory", "path", dir)
			return set, nil
		}
		return nil, errors.Wrapf(err, "reading hooks directory %s", dir)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".lua") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	log.Debug("discovered hook units", "path", dir, "count", len(names))

	for _, name := range names {
		unit, err := loadUnit(dir, name)
		if err != nil {
			set.Close()
			return nil, err
		}

		log.Debug("loaded hook unit", "unit", unit.Name,
			"prehook", unit.HasPrehook, "hook", unit.HasHook, "posthook", unit.HasPosthook)

		set.units = append(set.units, unit)
	}

	return set, nil
}

func loadUnit(dir, name string) (*Unit, error) {
	unit := &Unit{
		Name: strings.TrimSuffix(name, ".lua"),
		Path: filepath.Join(dir, name),
	}

	L := lua.NewState()
	if err := L.DoFile(unit.Path); err != nil {
		L.Close()
		return nil, errors.Wrapf(err, "loading hook unit %s", unit.Name)
	}

	unit.HasPrehook = isFunction(L.GetGlobal("prehook"))
	unit.HasHook = isFunction(L.GetGlobal("hook"))
	unit.HasPosthook = isFunction(L.GetGlobal("posthook"))

	if !unit.HasPrehook && !unit.HasHook && !unit.HasPosthook {
		L.Close()
		return nil, errors.Wrapf(ErrNoHookFunctions, "%s", unit.Path)
	}

	unit.state = L
	return unit, nil
}

func isFunction(lv lua.LValue) bool {
	return lv.Type() == lua.LTFunction
}

// Units returns the loaded units in invocation order.
func (s *Set) Units() []*Unit {
	return s.units
}

// RunPrehooks invokes every prehook with the variable space. Changes
// the hook makes to its table are copied back into variables.
func (s *Set) RunPrehooks(variables map[string]interface{}) error {
	for _, unit := range s.units {
		if !unit.HasPrehook {
			continue
		}

		s.log.Debug("running prehook", "unit", unit.Name)

		table, err := unit.call("prehook", variables)
		if err != nil {
			return errors.Wrapf(err, "prehook %s", unit.Name)
		}

		merged, ok := toGo(table).(map[string]interface{})
		if !ok {
			continue
		}
		for key := range variables {
			delete(variables, key)
		}
		for key, value := range merged {
			variables[key] = value
		}
	}

	return nil
}

// RunHooks invokes every hook with the frozen variable space.
func (s *Set) RunHooks(variables map[string]interface{}) error {
	return s.runFrozen("hook", variables)
}

// RunPosthooks invokes every posthook with the frozen variable space.
func (s *Set) RunPosthooks(variables map[string]interface{}) error {
	return s.runFrozen("posthook", variables)
}

func (s *Set) runFrozen(entry string, variables map[string]interface{}) error {
	for _, unit := range s.units {
		has := unit.HasHook
		if entry == "posthook" {
			has = unit.HasPosthook
		}
		if !has {
			continue
		}

		s.log.Debug("running "+entry, "unit", unit.Name)

		if _, err := unit.call(entry, variables); err != nil {
			return errors.Wrapf(err, "%s %s", entry, unit.Name)
		}
	}

	return nil
}

// call invokes the named global with the variable space as its single
// table argument and returns that table for inspection.
func (u *Unit) call(entry string, variables map[string]interface{}) (lua.LValue, error) {
	L := u.state

	fn, ok := L.GetGlobal(entry).(*lua.LFunction)
	if !ok {
		return nil, errors.Errorf("%s is not a function", entry)
	}

	table := toLua(L, variables)

	err := L.CallByParam(lua.P{
		Fn:      fn,
		NRet:    0,
		Protect: true,
	}, table)
	if err != nil {
		return nil, err
	}

	return table, nil
}

// Close releases every unit's interpreter state.
func (s *Set) Close() {
	for _, unit := range s.units {
		if unit.state != nil {
			unit.state.Close()
			unit.state = nil
		}
	}
}
