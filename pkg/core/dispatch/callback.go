package dispatch

import (
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"

	"github.com/vango-go/wit-lite/pkg/core"
	"github.com/vango-go/wit-lite/pkg/core/types"
)

// Handle identifies one async dispatch.
type Handle string

// NewHandle returns a fresh random handle.
func NewHandle() Handle {
	return Handle(uuid.NewString())
}

// String implements fmt.Stringer.
func (h Handle) String() string { return string(h) }

// Result is what a callback receives.
type Result struct {
	Handle   Handle
	Kind     types.QueryKind
	Response *types.Response
	Err      error
	Latency  time.Duration
}

// Empty reports a successful query that produced no result.
func (r Result) Empty() bool {
	return r.Err == nil && r.Response.IsEmpty()
}

// Outcome classifies the result for logs and metrics: "ok", "empty" or "error".
func (r Result) Outcome() string {
	switch {
	case r.Err != nil:
		return "error"
	case r.Response.IsEmpty():
		return "empty"
	default:
		return "ok"
	}
}

// Callback receives the result of an async query.
type Callback interface {
	Invoke(Result)
}

// CallbackFunc adapts a function to Callback.
type CallbackFunc func(Result)

// Invoke implements Callback.
func (f CallbackFunc) Invoke(r Result) { f(r) }

// ResponseFunc adapts a (response, error) function to Callback.
type ResponseFunc func(*types.Response, error)

// Invoke implements Callback.
func (f ResponseFunc) Invoke(r Result) { f(r.Response, r.Err) }

// MethodRef names a method on Receiver to be used as a callback. The method
// must have the shape func(Result) or func(*types.Response, error).
type MethodRef struct {
	Receiver any
	Name     string
}

// Method is shorthand for MethodRef{Receiver: recv, Name: name}.
func Method(recv any, name string) MethodRef {
	return MethodRef{Receiver: recv, Name: name}
}

// Resolve turns any accepted callback shape into a Callback. It is called
// once, at registration, so the invoker never inspects types.
func Resolve(cb any) (Callback, error) {
	switch v := cb.(type) {
	case nil:
		return nil, core.NewInvalidCallbackError("callback is required")
	case Callback:
		if isNilValue(v) {
			return nil, core.NewInvalidCallbackError("callback is nil")
		}
		return v, nil
	case func(Result):
		if v == nil {
			return nil, core.NewInvalidCallbackError("callback is nil")
		}
		return CallbackFunc(v), nil
	case func(*types.Response, error):
		if v == nil {
			return nil, core.NewInvalidCallbackError("callback is nil")
		}
		return ResponseFunc(v), nil
	case MethodRef:
		return v.resolve()
	case *MethodRef:
		if v == nil {
			return nil, core.NewInvalidCallbackError("callback is nil")
		}
		return v.resolve()
	default:
		return nil, core.NewInvalidCallbackError(fmt.Sprintf("unsupported callback type %T", cb))
	}
}

func (m MethodRef) resolve() (Callback, error) {
	if m.Name == "" {
		return nil, core.NewInvalidCallbackError("method reference has no name")
	}
	rv := reflect.ValueOf(m.Receiver)
	if !rv.IsValid() || isNilValue(m.Receiver) {
		return nil, core.NewInvalidCallbackError(fmt.Sprintf("method reference %q has no receiver", m.Name))
	}
	method := rv.MethodByName(m.Name)
	if !method.IsValid() {
		return nil, core.NewInvalidCallbackError(fmt.Sprintf("%T has no exported method %q", m.Receiver, m.Name))
	}
	switch fn := method.Interface().(type) {
	case func(Result):
		return CallbackFunc(fn), nil
	case func(*types.Response, error):
		return ResponseFunc(fn), nil
	default:
		return nil, core.NewInvalidCallbackError(fmt.Sprintf("method %T.%s has unsupported signature %s", m.Receiver, m.Name, method.Type()))
	}
}

func isNilValue(v any) bool {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Func, reflect.Map, reflect.Slice, reflect.Interface, reflect.Chan:
		return rv.IsNil()
	default:
		return false
	}
}
