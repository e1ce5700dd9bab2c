package persistence

import (
	"bytes"
	"database/sql/driver"
	"reflect"
	"time"
)

// capture records the normalised values of an entity's attributes.
func capture(e Entity) []any {
	fields := e.Fields()
	out := make([]any, len(fields))
	for i, f := range fields {
		out[i] = normalize(f)
	}
	return out
}

// normalize turns a field pointer into a comparable, bindable value.
// Valuers are reduced to their driver value, nil pointers to nil, and byte
// slices are copied so later mutation of the entity cannot alter a snapshot.
func normalize(field any) any {
	v := reflect.ValueOf(field)
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return nil
		}
		if valuer, ok := v.Interface().(driver.Valuer); ok {
			return valuerValue(valuer)
		}
		v = v.Elem()
	}
	if !v.IsValid() {
		return nil
	}

	x := v.Interface()
	if valuer, ok := x.(driver.Valuer); ok {
		return valuerValue(valuer)
	}
	if b, ok := x.([]byte); ok {
		return bytes.Clone(b)
	}
	return x
}

func valuerValue(valuer driver.Valuer) any {
	dv, err := valuer.Value()
	if err != nil {
		return err
	}
	if b, ok := dv.([]byte); ok {
		return bytes.Clone(b)
	}
	return dv
}

// equalValues compares two normalised values.
func equalValues(a, b any) bool {
	if ta, ok := a.(time.Time); ok {
		tb, ok := b.(time.Time)
		return ok && ta.Equal(tb)
	}
	if ba, ok := a.([]byte); ok {
		bb, ok := b.([]byte)
		return ok && bytes.Equal(ba, bb)
	}
	return reflect.DeepEqual(a, b)
}

// diff returns the indexes of attributes whose values differ.
func diff(before, after []any) []int {
	var changed []int
	for i := range after {
		if i >= len(before) || !equalValues(before[i], after[i]) {
			changed = append(changed, i)
		}
	}
	return changed
}
