package template

import (
	"math"
	"path/filepath"

	"github.com/flosch/pongo2/v6"
	"github.com/hashicorp/go-hclog"
)

// renderContext builds the full render context: the helper globals
// first, then the variable space shadowing anything it names.
func renderContext(log hclog.Logger, variables map[string]interface{}) pongo2.Context {
	ctx := pongo2.Context{}

	for name, value := range globals(log, variables) {
		ctx[name] = value
	}
	for name, value := range variables {
		ctx[name] = value
	}

	return ctx
}

// globals are helper functions reachable from every template.
func globals(log hclog.Logger, variables map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		// The whole variable space as one value, for iteration.
		"context": func() *pongo2.Value {
			return pongo2.AsValue(variables)
		},

		"glob": func(pattern *pongo2.Value) *pongo2.Value {
			matches, err := filepath.Glob(pattern.String())
			if err != nil {
				return pongo2.AsValue([]string{})
			}
			return pongo2.AsValue(matches)
		},

		"zip": func(a, b *pongo2.Value) *pongo2.Value {
			left, right := listOf(a), listOf(b)
			n := len(left)
			if len(right) < n {
				n = len(right)
			}
			pairs := make([][]interface{}, n)
			for i := 0; i < n; i++ {
				pairs[i] = []interface{}{left[i], right[i]}
			}
			return pongo2.AsValue(pairs)
		},

		"min": func(v *pongo2.Value) *pongo2.Value {
			return pongo2.AsValue(foldFloats(v, math.Inf(1), math.Min))
		},
		"max": func(v *pongo2.Value) *pongo2.Value {
			return pongo2.AsValue(foldFloats(v, math.Inf(-1), math.Max))
		},
		"abs": func(v *pongo2.Value) *pongo2.Value {
			return pongo2.AsValue(math.Abs(v.Float()))
		},
		"round": func(v *pongo2.Value) *pongo2.Value {
			return pongo2.AsValue(int(math.Round(v.Float())))
		},
		"all": func(v *pongo2.Value) *pongo2.Value {
			for _, item := range listOf(v) {
				if !pongo2.AsValue(item).IsTrue() {
					return pongo2.AsValue(false)
				}
			}
			return pongo2.AsValue(true)
		},
		"any": func(v *pongo2.Value) *pongo2.Value {
			for _, item := range listOf(v) {
				if pongo2.AsValue(item).IsTrue() {
					return pongo2.AsValue(true)
				}
			}
			return pongo2.AsValue(false)
		},

		// Aborts the whole initialization; rendering must not produce
		// a config the hook logic knows to be wrong.
		"fatal_error": func(msg *pongo2.Value) *pongo2.Value {
			panic(fatalError(msg.String()))
		},

		"log_debug":   logFn(log.Debug),
		"log_info":    logFn(log.Info),
		"log_warning": logFn(log.Warn),
		"log_error":   logFn(log.Error),
	}
}

func logFn(emit func(msg string, args ...interface{})) func(*pongo2.Value) *pongo2.Value {
	return func(msg *pongo2.Value) *pongo2.Value {
		emit(msg.String())
		return pongo2.AsValue("")
	}
}

func foldFloats(v *pongo2.Value, start float64, fold func(a, b float64) float64) float64 {
	acc := start
	for _, item := range listOf(v) {
		acc = fold(acc, pongo2.AsValue(item).Float())
	}
	return acc
}
