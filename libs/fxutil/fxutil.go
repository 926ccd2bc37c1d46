package fxutil

import (
	"context"

	"go.uber.org/fx"
)

// WithLifecycle derives a context that is canceled once the lifecycle stops.
func WithLifecycle(ctx context.Context, lc fx.Lifecycle) context.Context {
	ctx, cancel := context.WithCancel(ctx)
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
	return ctx
}

// OptionsIf groups the given options if the condition is met.
func OptionsIf(cond bool, opts ...fx.Option) fx.Option {
	if !cond {
		return fx.Options()
	}
	return fx.Options(opts...)
}

// InvokeIf invokes a given function if a condition is met.
func InvokeIf(cond bool, function any) fx.Option {
	if cond {
		return fx.Invoke(function)
	}
	return fx.Options()
}
