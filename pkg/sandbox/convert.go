package sandbox

import (
	"reflect"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	lua "github.com/yuin/gopher-lua"
)

// goToLua converts decoded YAML values into Lua values. Sequences become array tables and
// mappings become hash tables.
func goToLua(L *lua.LState, value interface{}) (lua.LValue, error) {
	// handle a few simple and common cases first
	switch value := value.(type) {
	case nil:
		return lua.LNil, nil
	case string:
		return lua.LString(value), nil
	case int:
		return lua.LNumber(value), nil
	case int64:
		return lua.LNumber(value), nil
	case uint64:
		return lua.LNumber(value), nil
	case bool:
		return lua.LBool(value), nil
	case float64:
		return lua.LNumber(value), nil
	case []string:
		tbl := L.CreateTable(len(value), 0)
		for _, item := range value {
			tbl.Append(lua.LString(item))
		}
		return tbl, nil
	}

	refValue := reflect.ValueOf(value)
	switch refValue.Kind() {
	case reflect.Slice, reflect.Array:
		tbl := L.CreateTable(refValue.Len(), 0)
		for idx := 0; idx < refValue.Len(); idx++ {
			item, err := goToLua(L, refValue.Index(idx).Interface())
			if err != nil {
				return nil, err
			}
			// nil can't be stored in a sequence without ending it
			if item == lua.LNil {
				item = lua.LFalse
			}
			tbl.RawSetInt(idx+1, item)
		}
		return tbl, nil
	case reflect.Map:
		tbl := L.CreateTable(0, refValue.Len())
		iter := refValue.MapRange()
		for iter.Next() {
			key, err := goToLua(L, iter.Key().Interface())
			if err != nil {
				return nil, err
			}

			item, err := goToLua(L, iter.Value().Interface())
			if err != nil {
				return nil, err
			}

			tbl.RawSet(key, item)
		}
		return tbl, nil
	}

	return nil, eris.Errorf("encountered unsupported type %v", refValue.Kind())
}

// lookupKey follows a dotted key through maps and sequences. The second result is false if any
// step is missing.
func lookupKey(doc interface{}, key string) (interface{}, bool, error) {
	if key == "" {
		return doc, doc != nil, nil
	}

	value := doc
	for _, step := range strings.Split(key, ".") {
		switch current := value.(type) {
		case map[string]interface{}:
			next, ok := current[step]
			if !ok {
				return nil, false, nil
			}
			value = next
		case map[interface{}]interface{}:
			next, ok := current[step]
			if !ok {
				return nil, false, nil
			}
			value = next
		case []interface{}:
			idx, err := strconv.Atoi(step)
			if err != nil || idx < 0 || idx >= len(current) {
				return nil, false, nil
			}
			value = current[idx]
		case nil:
			return nil, false, nil
		default:
			return nil, false, eris.Errorf("can't look up %q in a value of type %T", step, value)
		}
	}

	return value, value != nil, nil
}
