package sandbox

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"go.starlark.net/starlark"
)

// toStarlark converts a decoded JSON-like Go value into a Starlark value.
func toStarlark(v any) (starlark.Value, error) {
	switch t := v.(type) {
	case nil:
		return starlark.None, nil
	case starlark.Value:
		return t, nil
	case bool:
		return starlark.Bool(t), nil
	case string:
		return starlark.String(t), nil
	case int:
		return starlark.MakeInt(t), nil
	case int32:
		return starlark.MakeInt64(int64(t)), nil
	case int64:
		return starlark.MakeInt64(t), nil
	case uint64:
		return starlark.MakeUint64(t), nil
	case float32:
		return starlark.Float(t), nil
	case float64:
		return starlark.Float(t), nil
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return starlark.MakeInt64(i), nil
		}
		f, err := t.Float64()
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", t)
		}
		return starlark.Float(f), nil
	case []any:
		elems := make([]starlark.Value, 0, len(t))
		for _, item := range t {
			sv, err := toStarlark(item)
			if err != nil {
				return nil, err
			}
			elems = append(elems, sv)
		}
		return starlark.NewList(elems), nil
	case []string:
		elems := make([]starlark.Value, 0, len(t))
		for _, s := range t {
			elems = append(elems, starlark.String(s))
		}
		return starlark.NewList(elems), nil
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		d := starlark.NewDict(len(t))
		for _, k := range keys {
			sv, err := toStarlark(t[k])
			if err != nil {
				return nil, err
			}
			if err := d.SetKey(starlark.String(k), sv); err != nil {
				return nil, err
			}
		}
		return d, nil
	default:
		// Anything else goes through its JSON form.
		raw, err := json.Marshal(t)
		if err != nil {
			return nil, fmt.Errorf("cannot convert %T: %w", v, err)
		}
		var decoded any
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return nil, fmt.Errorf("cannot convert %T: %w", v, err)
		}
		return toStarlark(decoded)
	}
}

// fromStarlark converts a Starlark value into plain Go values suitable for
// JSON encoding. Dict keys must be strings.
func fromStarlark(v starlark.Value) (any, error) {
	switch t := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(t), nil
	case starlark.String:
		return string(t), nil
	case starlark.Int:
		if i, ok := t.Int64(); ok {
			return i, nil
		}
		f := t.Float()
		if math.IsInf(float64(f), 0) {
			return nil, fmt.Errorf("integer %s out of range", t)
		}
		return float64(f), nil
	case starlark.Float:
		return float64(t), nil
	case *starlark.List:
		return iterableToSlice(t, t.Len())
	case starlark.Tuple:
		return iterableToSlice(t, t.Len())
	case *starlark.Dict:
		out := make(map[string]any, t.Len())
		for _, item := range t.Items() {
			k, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict keys must be strings, got %s", item[0].Type())
			}
			gv, err := fromStarlark(item[1])
			if err != nil {
				return nil, err
			}
			out[string(k)] = gv
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported value of type %s", v.Type())
	}
}

func iterableToSlice(it starlark.Iterable, n int) ([]any, error) {
	out := make([]any, 0, n)
	iter := it.Iterate()
	defer iter.Done()
	var x starlark.Value
	for iter.Next(&x) {
		gv, err := fromStarlark(x)
		if err != nil {
			return nil, err
		}
		out = append(out, gv)
	}
	return out, nil
}
