package cachekey

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"
)

// canonical renders v deterministically, including its type, so that values
// of different types never collide and map iteration order does not matter.
func canonical(v any) string {
	if v == nil {
		return "nil"
	}

	switch t := v.(type) {
	case string:
		return "string:" + strconv.Quote(t)
	case []byte:
		if t == nil {
			return "bytes:nil"
		}
		return "bytes:" + hex.EncodeToString(t)
	case time.Time:
		return "time:" + t.UTC().Format(time.RFC3339Nano)
	case time.Duration:
		return "duration:" + t.String()
	case fmt.Stringer:
		rv := reflect.ValueOf(v)
		if rv.Kind() != reflect.Struct && rv.Kind() != reflect.Ptr {
			return reflect.TypeOf(v).String() + ":" + t.String()
		}
	}

	rv := reflect.ValueOf(v)
	rt := rv.Type()

	switch rt.Kind() {
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			return "nil"
		}
		return canonical(rv.Elem().Interface())
	case reflect.Slice:
		if rv.IsNil() {
			return "slice:nil"
		}
		return canonicalList("slice", rv)
	case reflect.Array:
		return canonicalList("array", rv)
	case reflect.Map:
		if rv.IsNil() {
			return "map:nil"
		}
		return canonicalMap(rv)
	case reflect.Struct:
		return canonicalStruct(rv, rt)
	case reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return fmt.Sprintf("%s:%p", rt.Kind(), v)
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64,
		reflect.Complex64, reflect.Complex128,
		reflect.String:
		return fmt.Sprintf("%s:%v", rt.String(), v)
	}

	data, err := json.Marshal(v)
	if err != nil {
		return "fallback:" + rt.String()
	}
	return "json:" + string(data)
}

func canonicalList(kind string, rv reflect.Value) string {
	parts := make([]string, rv.Len())
	for i := range parts {
		parts[i] = canonical(rv.Index(i).Interface())
	}
	return fmt.Sprintf("%s[%d]:{%s}", kind, len(parts), strings.Join(parts, ","))
}

func canonicalMap(rv reflect.Value) string {
	pairs := make([]string, 0, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		pairs = append(pairs, canonical(iter.Key().Interface())+"="+canonical(iter.Value().Interface()))
	}
	sort.Strings(pairs)
	return fmt.Sprintf("map[%d]:{%s}", len(pairs), strings.Join(pairs, ","))
}

func canonicalStruct(rv reflect.Value, rt reflect.Type) string {
	parts := make([]string, 0, rv.NumField())
	for i := 0; i < rv.NumField(); i++ {
		field := rt.Field(i)
		if !field.IsExported() {
			continue
		}
		parts = append(parts, field.Name+":"+canonical(rv.Field(i).Interface()))
	}
	return fmt.Sprintf("%s:{%s}", rt.String(), strings.Join(parts, ","))
}
