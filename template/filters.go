package template

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/flosch/pongo2/v6"
)

// Custom filters available in every template, mirroring what init-time
// configuration templates tend to need: string splitting, JSON output
// and basic set algebra over lists.
func init() {
	register("split", filterSplit)
	register("to_json", filterToJSON)
	register("to_pretty_json", filterToPrettyJSON)
	register("unique", filterUnique)
	register("union", filterUnion)
	register("intersect", filterIntersect)
	register("difference", filterDifference)
	register("symmetric_difference", filterSymmetricDifference)
}

func register(name string, fn pongo2.FilterFunction) {
	if err := pongo2.RegisterFilter(name, fn); err != nil {
		// Already taken by a builtin; ours wins.
		if err := pongo2.ReplaceFilter(name, fn); err != nil {
			panic(err)
		}
	}
}

func filterSplit(in, param *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
	s := in.String()

	if param == nil || param.IsNil() || param.String() == "" {
		return pongo2.AsValue(strings.Fields(s)), nil
	}

	return pongo2.AsValue(strings.Split(s, param.String())), nil
}

func filterToJSON(in, param *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
	data, err := json.Marshal(in.Interface())
	if err != nil {
		return nil, &pongo2.Error{Sender: "filter:to_json", OrigError: err}
	}

	return pongo2.AsValue(string(data)), nil
}

func filterToPrettyJSON(in, param *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
	data, err := json.MarshalIndent(in.Interface(), "", "    ")
	if err != nil {
		return nil, &pongo2.Error{Sender: "filter:to_pretty_json", OrigError: err}
	}

	return pongo2.AsValue(string(data)), nil
}

func filterUnique(in, param *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
	return pongo2.AsValue(unique(listOf(in))), nil
}

func filterUnion(in, param *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
	return pongo2.AsValue(unique(append(listOf(in), listOf(param)...))), nil
}

func filterIntersect(in, param *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
	other := keySet(listOf(param))

	var out []interface{}
	for _, item := range unique(listOf(in)) {
		if other[itemKey(item)] {
			out = append(out, item)
		}
	}

	return pongo2.AsValue(out), nil
}

func filterDifference(in, param *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
	other := keySet(listOf(param))

	var out []interface{}
	for _, item := range unique(listOf(in)) {
		if !other[itemKey(item)] {
			out = append(out, item)
		}
	}

	return pongo2.AsValue(out), nil
}

func filterSymmetricDifference(in, param *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
	left, right := unique(listOf(in)), unique(listOf(param))
	leftKeys, rightKeys := keySet(left), keySet(right)

	var out []interface{}
	for _, item := range left {
		if !rightKeys[itemKey(item)] {
			out = append(out, item)
		}
	}
	for _, item := range right {
		if !leftKeys[itemKey(item)] {
			out = append(out, item)
		}
	}

	return pongo2.AsValue(out), nil
}

// listOf flattens a template value into a Go slice; scalars become a
// single-element list.
func listOf(v *pongo2.Value) []interface{} {
	if v == nil || v.IsNil() {
		return nil
	}

	rv := reflect.ValueOf(v.Interface())
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		out := make([]interface{}, rv.Len())
		for i := range out {
			out[i] = rv.Index(i).Interface()
		}
		return out
	default:
		return []interface{}{v.Interface()}
	}
}

// unique preserves first-occurrence order.
func unique(items []interface{}) []interface{} {
	seen := make(map[string]bool)

	var out []interface{}
	for _, item := range items {
		key := itemKey(item)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, item)
	}

	return out
}

func keySet(items []interface{}) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, item := range items {
		set[itemKey(item)] = true
	}
	return set
}

func itemKey(item interface{}) string {
	return fmt.Sprintf("%T:%v", item, item)
}
