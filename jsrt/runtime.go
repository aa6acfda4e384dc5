package jsrt

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dop251/goja"
	"github.com/tetratelabs/wazero"
	"go.uber.org/zap"
)

// ErrPending is returned by Await for a promise that has not settled.
var ErrPending = errors.New("promise still pending")

// Runtime is a JavaScript VM with a WebAssembly implementation backed by
// wazero. It is not safe for concurrent use.
type Runtime struct {
	vm     *goja.Runtime
	cfg    config
	logger *zap.Logger

	// ctx is used for wasm calls; Run replaces it for the duration of a run.
	ctx   context.Context
	cache wazero.CompilationCache

	// validator compiles modules for WebAssembly.Module and validate.
	validator wazero.Runtime
	// instances each get a runtime so host module names never collide.
	instances []wazero.Runtime

	wasm *webAssembly

	closed bool
}

// New creates a Runtime with the environment, console, host functions and
// WebAssembly globals installed.
func New(ctx context.Context, opts ...Option) (*Runtime, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	r := &Runtime{
		vm:     goja.New(),
		cfg:    cfg,
		logger: cfg.logger,
		ctx:    ctx,
		cache:  wazero.NewCompilationCache(),
	}
	r.validator = wazero.NewRuntimeWithConfig(ctx, r.runtimeConfig())

	if err := r.install(); err != nil {
		r.Close(ctx)
		return nil, err
	}
	return r, nil
}

func (r *Runtime) runtimeConfig() wazero.RuntimeConfig {
	rtConfig := wazero.NewRuntimeConfig().
		WithCompilationCache(r.cache).
		WithCloseOnContextDone(true)
	if r.cfg.memoryLimitPages > 0 {
		rtConfig = rtConfig.WithMemoryLimitPages(r.cfg.memoryLimitPages)
	}
	return rtConfig
}

func (r *Runtime) install() error {
	if err := r.installConsole(); err != nil {
		return fmt.Errorf("install console: %w", err)
	}
	if err := r.installEnv(); err != nil {
		return fmt.Errorf("install %s env: %w", r.cfg.env, err)
	}
	if err := r.installHostFuncs(); err != nil {
		return fmt.Errorf("install host functions: %w", err)
	}
	wasm, err := newWebAssembly(r)
	if err != nil {
		return fmt.Errorf("install WebAssembly: %w", err)
	}
	r.wasm = wasm
	return nil
}

func (r *Runtime) installHostFuncs() error {
	if r.cfg.registry == nil {
		return nil
	}
	for _, name := range r.cfg.registry.List() {
		fn, ok := r.cfg.registry.Get(name)
		if !ok {
			continue
		}
		err := r.vm.Set(name, func(call goja.FunctionCall) goja.Value {
			args := make([]any, len(call.Arguments))
			for i, arg := range call.Arguments {
				args[i] = arg.Export()
			}
			res, err := fn(r.ctx, args...)
			if err != nil {
				panic(r.vm.NewGoError(err))
			}
			return r.vm.ToValue(res)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Run evaluates src as a script. Promise jobs queued by src run before Run
// returns. Canceling ctx interrupts both JavaScript and wasm execution.
func (r *Runtime) Run(ctx context.Context, src string) (goja.Value, error) {
	if r.closed {
		return nil, errors.New("runtime closed")
	}

	prev := r.ctx
	r.ctx = ctx
	defer func() { r.ctx = prev }()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			r.vm.Interrupt(ctx.Err())
		case <-done:
		}
	}()

	v, err := r.vm.RunString(src)
	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			r.vm.ClearInterrupt()
			if ctx.Err() == context.DeadlineExceeded {
				return nil, fmt.Errorf("timeout: %w", ctx.Err())
			}
			return nil, fmt.Errorf("interrupted: %w", ctx.Err())
		}
		return nil, fmt.Errorf("execution failed: %w", err)
	}
	return v, nil
}

// Get returns a global, or undefined if it does not exist.
func (r *Runtime) Get(name string) goja.Value {
	v := r.vm.Get(name)
	if v == nil {
		return goja.Undefined()
	}
	return v
}

// VM exposes the underlying goja runtime.
func (r *Runtime) VM() *goja.Runtime {
	return r.vm
}

// IsPromise reports whether v is a Promise.
func IsPromise(v goja.Value) bool {
	if v == nil {
		return false
	}
	_, ok := v.Export().(*goja.Promise)
	return ok
}

// Await returns the settled value of a promise, or v itself when it is not
// a promise. A rejected promise is returned as an error; a pending one as
// ErrPending.
func (r *Runtime) Await(v goja.Value) (goja.Value, error) {
	if v == nil {
		return goja.Undefined(), nil
	}
	p, ok := v.Export().(*goja.Promise)
	if !ok {
		return v, nil
	}
	switch p.State() {
	case goja.PromiseStateFulfilled:
		return p.Result(), nil
	case goja.PromiseStateRejected:
		return nil, fmt.Errorf("promise rejected: %s", describeError(p.Result()))
	default:
		return nil, ErrPending
	}
}

// IsModule reports whether v is a WebAssembly.Module.
func (r *Runtime) IsModule(v goja.Value) bool {
	return r.wasm.moduleOf(v) != nil
}

// IsInstance reports whether v is a WebAssembly.Instance.
func (r *Runtime) IsInstance(v goja.Value) bool {
	return r.wasm.isInstance(v)
}

// Kind names what v is: "promise", "module", "instance", "undefined" or
// the JavaScript typeof-style name of anything else.
func (r *Runtime) Kind(v goja.Value) string {
	switch {
	case v == nil || goja.IsUndefined(v):
		return "undefined"
	case goja.IsNull(v):
		return "null"
	case IsPromise(v):
		return "promise"
	case r.IsModule(v):
		return "module"
	case r.IsInstance(v):
		return "instance"
	}
	switch v.Export().(type) {
	case string:
		return "string"
	case bool:
		return "boolean"
	case int64, float64:
		return "number"
	}
	if _, ok := goja.AssertFunction(v); ok {
		return "function"
	}
	return "object"
}

// Close releases every wazero runtime created by r.
func (r *Runtime) Close(ctx context.Context) error {
	if r.closed {
		return nil
	}
	r.closed = true

	var errs []error
	for _, rt := range r.instances {
		if err := rt.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	r.instances = nil
	if r.validator != nil {
		if err := r.validator.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := r.cache.Close(ctx); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

func describeError(v goja.Value) string {
	if v == nil {
		return "undefined"
	}
	if obj, ok := v.(*goja.Object); ok {
		name := obj.Get("name")
		msg := obj.Get("message")
		if name != nil && msg != nil && !goja.IsUndefined(msg) {
			return strings.TrimSpace(name.String() + ": " + msg.String())
		}
	}
	return v.String()
}
