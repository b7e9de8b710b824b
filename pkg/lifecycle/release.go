package lifecycle

import (
	"context"
	"io"
	"reflect"
)

// Shutdowner is the async release contract.
type Shutdowner interface {
	Shutdown(ctx context.Context) error
}

// Releaser is implemented by values that support both release protocols,
// such as *http.Server.
type Releaser interface {
	io.Closer
	Shutdowner
}

// Close releases c through its sync surface. A nil interface or an
// interface holding a nil pointer, map, slice, chan or func is skipped.
func Close(c io.Closer) error {
	if isNil(c) {
		return nil
	}
	return c.Close()
}

// Shutdown releases s through its async surface, passing ctx through.
// Nil values are skipped like in Close.
func Shutdown(ctx context.Context, s Shutdowner) error {
	if isNil(s) {
		return nil
	}
	return s.Shutdown(ctx)
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func, reflect.Interface:
		return rv.IsNil()
	}
	return false
}
