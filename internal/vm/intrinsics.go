package vm

import (
	"context"
	"fmt"

	"github.com/jward/capgate/internal/adapter"
	"github.com/jward/capgate/internal/ref"
)

type intrinsicFunc func(m *Machine, ctx context.Context, caller ref.Reference, args []Value) (Value, error)

// intrinsics is filled in init: several entries call back into the Machine,
// which dispatches through this table.
var intrinsics map[ref.Key]intrinsicFunc

func init() {
	intrinsics = map[ref.Key]intrinsicFunc{
		ref.Optionally.Key():    optionally,
		ref.OptionallyRun.Key(): optionallyRun,
		ref.Either.Key():        notRewritten,
		ref.Adapt.Key():         notRewritten,

		ref.NotPresentOptional.Key(): func(*Machine, context.Context, ref.Reference, []Value) (Value, error) {
			return &Optional{}, nil
		},
		ref.NotPresentBoolean.Key(): func(*Machine, context.Context, ref.Reference, []Value) (Value, error) {
			return false, nil
		},
		ref.OnePresent.Key(): onePresent,
		ref.NonePresent.Key(): func(*Machine, context.Context, ref.Reference, []Value) (Value, error) {
			return nil, ErrNoneImplemented
		},

		ref.NotImplemented.Key(): func(_ *Machine, _ context.Context, _ ref.Reference, args []Value) (Value, error) {
			r, ok := args[0].(ref.Reference)
			if !ok {
				return nil, fmt.Errorf("%w: notImplemented wants a reference", ErrTypeMismatch)
			}
			return &NotImplementedError{Ref: r}, nil
		},
		ref.Convert.Key(): convert,

		ref.UnimplementedCall.Key(): func(_ *Machine, _ context.Context, caller ref.Reference, _ []Value) (Value, error) {
			return nil, &NotImplementedError{Ref: caller}
		},
		ref.IsImplementedCall.Key(): func(m *Machine, _ context.Context, _ ref.Reference, args []Value) (Value, error) {
			r, ok := args[0].(ref.Reference)
			if !ok {
				return nil, fmt.Errorf("%w: isImplemented wants a reference", ErrTypeMismatch)
			}
			return m.src.IsImplemented(r), nil
		},

		ref.OptionalOrElse.Key(): func(_ *Machine, _ context.Context, _ ref.Reference, args []Value) (Value, error) {
			o, err := optionalArg(args)
			if err != nil {
				return nil, err
			}
			if o.Present {
				return o.Value, nil
			}
			return args[1], nil
		},
		ref.OptionalIsPresent.Key(): func(_ *Machine, _ context.Context, _ ref.Reference, args []Value) (Value, error) {
			o, err := optionalArg(args)
			if err != nil {
				return nil, err
			}
			return o.Present, nil
		},
		ref.OptionalGet.Key(): func(_ *Machine, _ context.Context, _ ref.Reference, args []Value) (Value, error) {
			o, err := optionalArg(args)
			if err != nil {
				return nil, err
			}
			if !o.Present {
				return nil, ErrAbsent
			}
			return o.Value, nil
		},
	}
}

func (m *Machine) intrinsic(ctx context.Context, caller, r ref.Reference, args []Value) (Value, error) {
	fn, ok := intrinsics[r.Key()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoMethod, r)
	}
	if len(args) < r.Slots() {
		return nil, fmt.Errorf("vm: %s wants %d arguments, got %d", r, r.Slots(), len(args))
	}
	return fn(m, ctx, caller, args)
}

func notRewritten(_ *Machine, _ context.Context, caller ref.Reference, _ []Value) (Value, error) {
	return nil, fmt.Errorf("%w in %s", ErrNotRewritten, caller)
}

func closureArg(v Value) (*Closure, error) {
	c, ok := v.(*Closure)
	if !ok {
		return nil, fmt.Errorf("%w: want closure, got %s", ErrTypeMismatch, Format(v))
	}
	return c, nil
}

func optionalArg(args []Value) (*Optional, error) {
	o, ok := args[0].(*Optional)
	if !ok {
		return nil, fmt.Errorf("%w: want optional, got %s", ErrTypeMismatch, Format(args[0]))
	}
	return o, nil
}

// optionally runs a kept block. Reaching an unimplemented symbol inside it
// yields an empty optional instead of a failure.
func optionally(m *Machine, ctx context.Context, _ ref.Reference, args []Value) (Value, error) {
	c, err := closureArg(args[0])
	if err != nil {
		return nil, err
	}
	v, err := m.CallClosure(ctx, c)
	if IsNotImplemented(err) {
		log.Debugf("optional block %s is absent: %s", c.Target, err)
		return &Optional{}, nil
	}
	if err != nil {
		return nil, err
	}
	return &Optional{Value: v, Present: v != nil}, nil
}

func optionallyRun(m *Machine, ctx context.Context, _ ref.Reference, args []Value) (Value, error) {
	c, err := closureArg(args[0])
	if err != nil {
		return nil, err
	}
	_, err = m.CallClosure(ctx, c)
	if IsNotImplemented(err) {
		return false, nil
	}
	if err != nil {
		return nil, err
	}
	return true, nil
}

func onePresent(m *Machine, ctx context.Context, _ ref.Reference, args []Value) (Value, error) {
	arr, ok := args[0].(*Array)
	if !ok {
		return nil, fmt.Errorf("%w: want array, got %s", ErrTypeMismatch, Format(args[0]))
	}
	i, ok := args[1].(int64)
	if !ok || i < 0 || int(i) >= len(arr.Items) {
		return nil, fmt.Errorf("%w: alternative %v", ErrIndexOutOfRange, args[1])
	}
	c, err := closureArg(arr.Items[i])
	if err != nil {
		return nil, err
	}
	return m.CallClosure(ctx, c)
}

func convert(m *Machine, _ context.Context, _ ref.Reference, args []Value) (Value, error) {
	src, ok1 := args[1].(string)
	dst, ok2 := args[2].(string)
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("%w: convert wants type names", ErrTypeMismatch)
	}
	k := [2]string{src, dst}
	fn, ok := m.conversions[k]
	if !ok {
		if m.adapters == nil {
			return nil, fmt.Errorf("%w: %s to %s", adapter.ErrNoAdapter, src, dst)
		}
		fn = m.adapters.LazyConversion(src, dst)
		m.conversions[k] = fn
	}
	return fn(args[0])
}
