package cache

import (
	"reflect"

	"github.com/cockroachdb/errors"
)

// ErrCyclicValue is returned when a value refers back to itself and so has
// no finite encoding.
var ErrCyclicValue = errors.New("value contains a reference cycle")

type refID struct {
	typ reflect.Type
	ptr uintptr
	len int
}

// checkAcyclic walks the maps, slices, pointers and interfaces reachable from
// value and fails with ErrCyclicValue when one of them contains itself.
// Shared references that do not form a cycle are allowed.
func checkAcyclic(value any) error {
	w := cycleWalker{path: map[refID]bool{}, done: map[refID]bool{}}
	return w.walk(reflect.ValueOf(value))
}

type cycleWalker struct {
	path map[refID]bool
	done map[refID]bool
}

func (w *cycleWalker) walk(v reflect.Value) error {
	switch v.Kind() {
	case reflect.Interface:
		if v.IsNil() {
			return nil
		}
		return w.walk(v.Elem())
	case reflect.Pointer:
		if v.IsNil() {
			return nil
		}
		return w.enter(refID{typ: v.Type(), ptr: v.Pointer()}, func() error {
			return w.walk(v.Elem())
		})
	case reflect.Map:
		if v.IsNil() {
			return nil
		}
		return w.enter(refID{typ: v.Type(), ptr: v.Pointer()}, func() error {
			iter := v.MapRange()
			for iter.Next() {
				if err := w.walk(iter.Value()); err != nil {
					return err
				}
			}
			return nil
		})
	case reflect.Slice:
		if v.IsNil() || v.Len() == 0 {
			return nil
		}
		return w.enter(refID{typ: v.Type(), ptr: v.Pointer(), len: v.Len()}, func() error {
			return w.walkElems(v)
		})
	case reflect.Array:
		return w.walkElems(v)
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			if err := w.walk(v.Field(i)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (w *cycleWalker) walkElems(v reflect.Value) error {
	for i := 0; i < v.Len(); i++ {
		if err := w.walk(v.Index(i)); err != nil {
			return err
		}
	}
	return nil
}

func (w *cycleWalker) enter(id refID, visit func() error) error {
	if w.done[id] {
		return nil
	}
	if w.path[id] {
		return errors.Wrapf(ErrCyclicValue, "%s refers to itself", id.typ)
	}
	w.path[id] = true
	err := visit()
	delete(w.path, id)
	if err == nil {
		w.done[id] = true
	}
	return err
}
