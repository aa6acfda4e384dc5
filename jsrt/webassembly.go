package jsrt

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"sort"

	"github.com/dop251/goja"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"
)

//go:embed webassembly.js
var errorClassesScript string

var errorClassesProg = goja.MustCompile("webassembly.js", errorClassesScript, true)

// jsError is an error destined to be thrown as a JavaScript error of Kind.
type jsError struct {
	Kind string // a WebAssembly error class or a global error constructor
	Err  error
}

func (e *jsError) Error() string { return e.Kind + ": " + e.Err.Error() }
func (e *jsError) Unwrap() error { return e.Err }

func errorf(kind, format string, args ...any) error {
	return &jsError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

type wasmModule struct {
	bin      []byte
	compiled wazero.CompiledModule
}

// webAssembly implements the WebAssembly namespace on top of wazero.
type webAssembly struct {
	r             *Runtime
	ns            *goja.Object
	moduleProto   *goja.Object
	instanceProto *goja.Object
	modules       map[*goja.Object]*wasmModule
	instances     map[*goja.Object]struct{}
}

func newWebAssembly(r *Runtime) (*webAssembly, error) {
	vm := r.vm
	w := &webAssembly{
		r:         r,
		ns:        vm.NewObject(),
		modules:   make(map[*goja.Object]*wasmModule),
		instances: make(map[*goja.Object]struct{}),
	}

	v, err := vm.RunProgram(errorClassesProg)
	if err != nil {
		return nil, err
	}
	defineErrors, ok := goja.AssertFunction(v)
	if !ok {
		return nil, errors.New("error class script did not return a function")
	}
	if _, err := defineErrors(goja.Undefined(), w.ns); err != nil {
		return nil, err
	}

	moduleCtor := vm.ToValue(w.constructModule).(*goja.Object)
	instanceCtor := vm.ToValue(w.constructInstance).(*goja.Object)
	w.moduleProto = w.prototypeOf(moduleCtor)
	w.instanceProto = w.prototypeOf(instanceCtor)

	for name, fn := range map[string]any{
		"imports":        w.moduleImports,
		"exports":        w.moduleExports,
		"customSections": w.moduleCustomSections,
	} {
		if err := moduleCtor.Set(name, fn); err != nil {
			return nil, err
		}
	}

	for name, val := range map[string]any{
		"Module":      moduleCtor,
		"Instance":    instanceCtor,
		"compile":     w.compile,
		"instantiate": w.instantiate,
		"validate":    w.validate,
	} {
		if err := w.ns.Set(name, val); err != nil {
			return nil, err
		}
	}

	if err := vm.Set("WebAssembly", w.ns); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *webAssembly) prototypeOf(ctor *goja.Object) *goja.Object {
	if proto, ok := ctor.Get("prototype").(*goja.Object); ok && proto != nil {
		return proto
	}
	proto := w.r.vm.NewObject()
	_ = proto.Set("constructor", ctor)
	_ = ctor.Set("prototype", proto)
	return proto
}

// throw raises err in JavaScript. It never returns.
func (w *webAssembly) throw(err error) {
	panic(w.errorValue(err))
}

func (w *webAssembly) errorValue(err error) goja.Value {
	var exc *goja.Exception
	if errors.As(err, &exc) {
		return exc.Value()
	}

	var je *jsError
	if !errors.As(err, &je) {
		return w.r.vm.NewGoError(err)
	}
	if je.Kind == "TypeError" {
		return w.r.vm.NewTypeError(je.Err.Error())
	}
	ctorVal := w.ns.Get(je.Kind)
	if ctorVal == nil || goja.IsUndefined(ctorVal) {
		ctorVal = w.r.vm.Get(je.Kind)
	}
	ctor, ok := goja.AssertConstructor(ctorVal)
	if !ok {
		return w.r.vm.NewGoError(err)
	}
	obj, cerr := ctor(nil, w.r.vm.ToValue(je.Err.Error()))
	if cerr != nil {
		return w.r.vm.NewGoError(err)
	}
	return obj
}

func (w *webAssembly) moduleOf(v goja.Value) *wasmModule {
	obj, ok := v.(*goja.Object)
	if !ok || obj == nil {
		return nil
	}
	return w.modules[obj]
}

func (w *webAssembly) isInstance(v goja.Value) bool {
	obj, ok := v.(*goja.Object)
	if !ok || obj == nil {
		return false
	}
	_, ok = w.instances[obj]
	return ok
}

func (w *webAssembly) compileValue(v goja.Value) (*wasmModule, error) {
	bin, err := w.r.bytesOf(v)
	if err != nil {
		return nil, &jsError{Kind: "TypeError", Err: err}
	}
	return w.compileBytes(bin)
}

func (w *webAssembly) compileBytes(bin []byte) (*wasmModule, error) {
	compiled, err := w.r.validator.CompileModule(w.r.ctx, bin)
	if err != nil {
		w.r.logger.Debug("compile failed", zap.Int("bytes", len(bin)), zap.Error(err))
		return nil, &jsError{Kind: "CompileError", Err: err}
	}
	w.r.logger.Debug("compiled", zap.Int("bytes", len(bin)))
	return &wasmModule{bin: bin, compiled: compiled}, nil
}

func (w *webAssembly) wrapModule(m *wasmModule) *goja.Object {
	obj := w.r.vm.NewObject()
	_ = obj.SetPrototype(w.moduleProto)
	w.modules[obj] = m
	return obj
}

// new WebAssembly.Module(bytes)
func (w *webAssembly) constructModule(call goja.ConstructorCall) *goja.Object {
	m, err := w.compileValue(call.Argument(0))
	if err != nil {
		w.throw(err)
	}
	return w.wrapModule(m)
}

// new WebAssembly.Instance(module, imports)
func (w *webAssembly) constructInstance(call goja.ConstructorCall) *goja.Object {
	m := w.moduleOf(call.Argument(0))
	if m == nil {
		w.throw(errorf("TypeError", "WebAssembly.Instance(): argument 0 must be a WebAssembly.Module"))
	}
	inst, err := w.newInstance(m, call.Argument(1))
	if err != nil {
		w.throw(err)
	}
	return inst
}

// WebAssembly.compile(bytes) -> Promise<Module>
func (w *webAssembly) compile(call goja.FunctionCall) goja.Value {
	promise, resolve, reject := w.r.vm.NewPromise()
	m, err := w.compileValue(call.Argument(0))
	if err != nil {
		reject(w.errorValue(err))
	} else {
		resolve(w.wrapModule(m))
	}
	return w.r.vm.ToValue(promise)
}

// WebAssembly.instantiate(bytes, imports) -> Promise<{module, instance}>
// WebAssembly.instantiate(module, imports) -> Promise<Instance>
func (w *webAssembly) instantiate(call goja.FunctionCall) goja.Value {
	promise, resolve, reject := w.r.vm.NewPromise()
	source, imports := call.Argument(0), call.Argument(1)

	if m := w.moduleOf(source); m != nil {
		inst, err := w.newInstance(m, imports)
		if err != nil {
			reject(w.errorValue(err))
		} else {
			resolve(inst)
		}
		return w.r.vm.ToValue(promise)
	}

	m, err := w.compileValue(source)
	if err != nil {
		reject(w.errorValue(err))
		return w.r.vm.ToValue(promise)
	}
	inst, err := w.newInstance(m, imports)
	if err != nil {
		reject(w.errorValue(err))
		return w.r.vm.ToValue(promise)
	}

	result := w.r.vm.NewObject()
	_ = result.Set("module", w.wrapModule(m))
	_ = result.Set("instance", inst)
	resolve(result)
	return w.r.vm.ToValue(promise)
}

// WebAssembly.validate(bytes) -> boolean
func (w *webAssembly) validate(call goja.FunctionCall) goja.Value {
	bin, err := w.r.bytesOf(call.Argument(0))
	if err != nil {
		w.throw(&jsError{Kind: "TypeError", Err: err})
	}
	compiled, err := w.r.validator.CompileModule(w.r.ctx, bin)
	if err != nil {
		return w.r.vm.ToValue(false)
	}
	_ = compiled.Close(w.r.ctx)
	return w.r.vm.ToValue(true)
}

func (w *webAssembly) requireModule(v goja.Value, fn string) *wasmModule {
	m := w.moduleOf(v)
	if m == nil {
		w.throw(errorf("TypeError", "WebAssembly.Module.%s(): argument must be a WebAssembly.Module", fn))
	}
	return m
}

// WebAssembly.Module.imports(module)
func (w *webAssembly) moduleImports(call goja.FunctionCall) goja.Value {
	m := w.requireModule(call.Argument(0), "imports")
	var out []any
	for _, def := range m.compiled.ImportedFunctions() {
		modName, name, _ := def.Import()
		out = append(out, map[string]any{"module": modName, "name": name, "kind": "function"})
	}
	for _, def := range m.compiled.ImportedMemories() {
		modName, name, _ := def.Import()
		out = append(out, map[string]any{"module": modName, "name": name, "kind": "memory"})
	}
	return w.r.vm.ToValue(out)
}

// WebAssembly.Module.exports(module)
func (w *webAssembly) moduleExports(call goja.FunctionCall) goja.Value {
	m := w.requireModule(call.Argument(0), "exports")
	var out []any
	for _, name := range sortedKeys(m.compiled.ExportedFunctions()) {
		out = append(out, map[string]any{"name": name, "kind": "function"})
	}
	for _, name := range sortedKeys(m.compiled.ExportedMemories()) {
		out = append(out, map[string]any{"name": name, "kind": "memory"})
	}
	return w.r.vm.ToValue(out)
}

// WebAssembly.Module.customSections(module, name)
func (w *webAssembly) moduleCustomSections(call goja.FunctionCall) goja.Value {
	m := w.requireModule(call.Argument(0), "customSections")
	name := call.Argument(1).String()
	var out []any
	for _, sec := range m.compiled.CustomSections() {
		if sec.Name() == name {
			data := append([]byte(nil), sec.Data()...)
			out = append(out, w.r.vm.NewArrayBuffer(data))
		}
	}
	return w.r.vm.ToValue(out)
}

// newInstance links m against imports and instantiates it in a fresh wazero
// runtime. The compilation cache makes the recompile cheap.
func (w *webAssembly) newInstance(m *wasmModule, importsVal goja.Value) (*goja.Object, error) {
	ctx := w.r.ctx
	vm := w.r.vm

	var imports *goja.Object
	if importsVal != nil && !goja.IsUndefined(importsVal) && !goja.IsNull(importsVal) {
		obj, ok := importsVal.(*goja.Object)
		if !ok {
			return nil, errorf("TypeError", "imports argument must be an object")
		}
		imports = obj
	}

	rt := wazero.NewRuntimeWithConfig(ctx, w.r.runtimeConfig())
	w.r.instances = append(w.r.instances, rt)

	compiled, err := rt.CompileModule(ctx, m.bin)
	if err != nil {
		return nil, &jsError{Kind: "CompileError", Err: err}
	}
	if mems := compiled.ImportedMemories(); len(mems) > 0 {
		modName, name, _ := mems[0].Import()
		return nil, errorf("LinkError", "import %s.%s: memory imports are not supported", modName, name)
	}
	if err := w.link(ctx, rt, compiled, imports); err != nil {
		return nil, err
	}

	mod, err := rt.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName(""))
	if err != nil {
		return nil, &jsError{Kind: "RuntimeError", Err: err}
	}

	inst := vm.NewObject()
	_ = inst.SetPrototype(w.instanceProto)
	if err := inst.Set("exports", w.exportsOf(mod, compiled)); err != nil {
		return nil, err
	}
	w.instances[inst] = struct{}{}

	w.r.logger.Debug("instantiated",
		zap.Int("imports", len(compiled.ImportedFunctions())),
		zap.Int("exports", len(compiled.ExportedFunctions())))
	return inst, nil
}

// link builds one host module per import namespace from the functions found
// in imports.
func (w *webAssembly) link(ctx context.Context, rt wazero.Runtime, compiled wazero.CompiledModule, imports *goja.Object) error {
	builders := make(map[string]wazero.HostModuleBuilder)
	var order []string

	for _, def := range compiled.ImportedFunctions() {
		modName, name, _ := def.Import()
		if imports == nil {
			return errorf("TypeError", "module imports %s.%s but no imports object was given", modName, name)
		}

		nsVal := imports.Get(modName)
		nsObj, ok := nsVal.(*goja.Object)
		if !ok || nsObj == nil {
			return errorf("TypeError", "import module %q must be an object", modName)
		}
		fn, ok := goja.AssertFunction(nsObj.Get(name))
		if !ok {
			return errorf("LinkError", "import %s.%s: function expected", modName, name)
		}

		b, ok := builders[modName]
		if !ok {
			b = rt.NewHostModuleBuilder(modName)
			builders[modName] = b
			order = append(order, modName)
		}
		b.NewFunctionBuilder().
			WithGoModuleFunction(w.hostFunction(fn, def), def.ParamTypes(), def.ResultTypes()).
			WithName(name).
			Export(name)
	}

	for _, modName := range order {
		if _, err := builders[modName].Instantiate(ctx); err != nil {
			return errorf("LinkError", "import module %q: %v", modName, err)
		}
	}
	return nil
}

func (w *webAssembly) hostFunction(fn goja.Callable, def api.FunctionDefinition) api.GoModuleFunc {
	params, results := def.ParamTypes(), def.ResultTypes()
	return func(ctx context.Context, mod api.Module, stack []uint64) {
		args := make([]goja.Value, len(params))
		for i, t := range params {
			args[i] = w.r.vm.ToValue(decodeValue(t, stack[i]))
		}
		ret, err := fn(goja.Undefined(), args...)
		if err != nil {
			panic(err)
		}
		switch len(results) {
		case 0:
		case 1:
			stack[0] = encodeValue(results[0], ret)
		default:
			arr := ret.ToObject(w.r.vm)
			for i, t := range results {
				stack[i] = encodeValue(t, arr.Get(fmt.Sprint(i)))
			}
		}
	}
}

func (w *webAssembly) exportsOf(mod api.Module, compiled wazero.CompiledModule) *goja.Object {
	vm := w.r.vm
	exports := vm.NewObject()

	defs := compiled.ExportedFunctions()
	for _, name := range sortedKeys(defs) {
		fn := mod.ExportedFunction(name)
		if fn == nil {
			continue
		}
		_ = exports.Set(name, w.exportFunction(fn, defs[name]))
	}

	for _, name := range sortedKeys(compiled.ExportedMemories()) {
		mem := mod.ExportedMemory(name)
		if mem == nil {
			continue
		}
		_ = exports.Set(name, w.memoryObject(mem))
	}
	return exports
}

func (w *webAssembly) exportFunction(fn api.Function, def api.FunctionDefinition) func(goja.FunctionCall) goja.Value {
	params, results := def.ParamTypes(), def.ResultTypes()
	return func(call goja.FunctionCall) goja.Value {
		stack := make([]uint64, len(params))
		for i, t := range params {
			stack[i] = encodeValue(t, call.Argument(i))
		}
		res, err := fn.Call(w.r.ctx, stack...)
		if err != nil {
			var exc *goja.Exception
			if errors.As(err, &exc) {
				panic(exc.Value())
			}
			w.throw(&jsError{Kind: "RuntimeError", Err: err})
		}
		switch len(results) {
		case 0:
			return goja.Undefined()
		case 1:
			return w.r.vm.ToValue(decodeValue(results[0], res[0]))
		default:
			out := make([]any, len(results))
			for i, t := range results {
				out[i] = decodeValue(t, res[i])
			}
			return w.r.vm.ToValue(out)
		}
	}
}

// memoryObject exposes an exported memory. buffer is a view of the memory
// that stays valid until the memory grows.
func (w *webAssembly) memoryObject(mem api.Memory) *goja.Object {
	vm := w.r.vm
	obj := vm.NewObject()
	getter := vm.ToValue(func(goja.FunctionCall) goja.Value {
		view, _ := mem.Read(0, mem.Size())
		return vm.ToValue(vm.NewArrayBuffer(view))
	})
	_ = obj.DefineAccessorProperty("buffer", getter, nil, goja.FLAG_FALSE, goja.FLAG_TRUE)
	_ = obj.Set("grow", func(call goja.FunctionCall) goja.Value {
		prev, ok := mem.Grow(uint32(call.Argument(0).ToInteger()))
		if !ok {
			w.throw(errorf("RangeError", "WebAssembly.Memory.grow(): maximum memory size exceeded"))
		}
		return vm.ToValue(prev)
	})
	return obj
}

func decodeValue(t api.ValueType, v uint64) any {
	switch t {
	case api.ValueTypeI32:
		return api.DecodeI32(v)
	case api.ValueTypeI64:
		return int64(v)
	case api.ValueTypeF32:
		return api.DecodeF32(v)
	case api.ValueTypeF64:
		return api.DecodeF64(v)
	default:
		return nil
	}
}

func encodeValue(t api.ValueType, v goja.Value) uint64 {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return 0
	}
	switch t {
	case api.ValueTypeI32:
		return api.EncodeI32(int32(v.ToInteger()))
	case api.ValueTypeI64:
		return api.EncodeI64(v.ToInteger())
	case api.ValueTypeF32:
		return api.EncodeF32(float32(v.ToFloat()))
	case api.ValueTypeF64:
		return api.EncodeF64(v.ToFloat())
	default:
		return 0
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
