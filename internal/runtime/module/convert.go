package module

import (
	"fmt"

	"github.com/dop251/goja"

	"github.com/tangramdotdev/tangram/internal/id"
	"github.com/tangramdotdev/tangram/internal/object"
)

// toGoja converts a host-boundary Value (spec §9's "tagged sum... no
// inheritance") into the goja.Value the script sees.
func toGoja(vm *goja.Runtime, v object.Value) goja.Value {
	switch v.Kind() {
	case object.ValueNull:
		return goja.Null()
	case object.ValueBool:
		return vm.ToValue(v.AsBool())
	case object.ValueNumber:
		return vm.ToValue(v.AsNumber())
	case object.ValueString:
		return vm.ToValue(v.AsString())
	case object.ValueBytes:
		return vm.ToValue(vm.NewArrayBuffer(v.AsBytes()))
	case object.ValueArray:
		els := v.AsArray()
		arr := make([]any, len(els))
		for i, el := range els {
			arr[i] = toGoja(vm, el)
		}
		return vm.ToValue(arr)
	case object.ValueMap:
		m := v.AsMap()
		obj := vm.NewObject()
		for k, el := range m {
			obj.Set(k, toGoja(vm, el))
		}
		return obj
	case object.ValueObject:
		return vm.ToValue(v.AsObject().String())
	case object.ValueTemplate:
		// Templates reach the script as a placeholder string naming
		// their component count; their artifact references are not
		// resolved.
		return vm.ToValue(fmt.Sprintf("<template:%d components>", len(v.AsTemplate())))
	default:
		return goja.Undefined()
	}
}

// fromGoja converts a script-produced goja.Value back into a Value (the
// module's return value, or an argument to a host call). Unrecognized
// JS types (functions, symbols) are rejected rather than silently
// coerced, matching spec §9's "exhaustive matching; no inheritance."
func fromGoja(vm *goja.Runtime, v goja.Value) (object.Value, error) {
	switch {
	case v == nil || goja.IsUndefined(v) || goja.IsNull(v):
		return object.Null(), nil
	}
	exported := v.Export()
	switch x := exported.(type) {
	case bool:
		return object.Bool(x), nil
	case int64:
		return object.Number(float64(x)), nil
	case float64:
		return object.Number(x), nil
	case string:
		return object.String(x), nil
	case []byte:
		return object.Bytes(x), nil
	case []any:
		out := make([]object.Value, 0, len(x))
		for _, el := range x {
			ev, err := fromGoja(vm, vm.ToValue(el))
			if err != nil {
				return object.Value{}, err
			}
			out = append(out, ev)
		}
		return object.Array(out...), nil
	case map[string]any:
		out := make(map[string]object.Value, len(x))
		for k, el := range x {
			ev, err := fromGoja(vm, vm.ToValue(el))
			if err != nil {
				return object.Value{}, err
			}
			out[k] = ev
		}
		return object.Map(out), nil
	default:
		return object.Value{}, fmt.Errorf("module: value of type %T has no host representation", exported)
	}
}

// idFromJS parses a textual ID a script passed back to a host function.
func idFromJS(s string) (id.ID, error) {
	return id.Parse(s)
}
