package twin

import (
	"math"
	"reflect"
)

// sanitize walks v and zeroes every NaN or infinite float, returning how
// many were replaced. JSON cannot carry non-finite numbers.
func sanitize(v any) int {
	return sanitizeValue(reflect.ValueOf(v))
}

func sanitizeValue(v reflect.Value) int {
	switch v.Kind() {
	case reflect.Pointer:
		if v.IsNil() {
			return 0
		}
		return sanitizeValue(v.Elem())
	case reflect.Struct:
		n := 0
		t := v.Type()
		for i := 0; i < v.NumField(); i++ {
			if t.Field(i).IsExported() {
				n += sanitizeValue(v.Field(i))
			}
		}
		return n
	case reflect.Slice, reflect.Array:
		n := 0
		for i := 0; i < v.Len(); i++ {
			n += sanitizeValue(v.Index(i))
		}
		return n
	case reflect.Float32, reflect.Float64:
		if f := v.Float(); (math.IsNaN(f) || math.IsInf(f, 0)) && v.CanSet() {
			v.SetFloat(0)
			return 1
		}
	}
	return 0
}
