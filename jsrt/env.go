package jsrt

import (
	"encoding/base64"
	"fmt"
	"io"
	"strings"
	"unicode"

	"github.com/dop251/goja"
)

func (r *Runtime) installConsole() error {
	console := r.vm.NewObject()
	logTo := func(w io.Writer) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			parts := make([]string, len(call.Arguments))
			for i, arg := range call.Arguments {
				parts[i] = arg.String()
			}
			fmt.Fprintln(w, strings.Join(parts, " "))
			return goja.Undefined()
		}
	}
	for name, w := range map[string]io.Writer{
		"log":   r.cfg.stdout,
		"info":  r.cfg.stdout,
		"debug": r.cfg.stdout,
		"warn":  r.cfg.stderr,
		"error": r.cfg.stderr,
	} {
		if err := console.Set(name, logTo(w)); err != nil {
			return err
		}
	}
	return r.vm.Set("console", console)
}

func (r *Runtime) installEnv() error {
	global := r.vm.GlobalObject()
	if err := global.Set("globalThis", global); err != nil {
		return err
	}

	switch r.cfg.env {
	case EnvNode:
		return r.installNode()
	case EnvBrowser:
		return r.installBrowser()
	default:
		return fmt.Errorf("unsupported env %s", r.cfg.env)
	}
}

// installNode provides the parts of Node the loader probes for:
// process.versions.node and Buffer.from(string, encoding).
func (r *Runtime) installNode() error {
	versions := r.vm.NewObject()
	if err := versions.Set("node", "20.0.0"); err != nil {
		return err
	}
	process := r.vm.NewObject()
	if err := process.Set("versions", versions); err != nil {
		return err
	}
	if err := process.Set("env", r.vm.NewObject()); err != nil {
		return err
	}
	if err := r.vm.Set("process", process); err != nil {
		return err
	}

	buffer := r.vm.NewObject()
	if err := buffer.Set("from", r.bufferFrom); err != nil {
		return err
	}
	return r.vm.Set("Buffer", buffer)
}

func (r *Runtime) bufferFrom(call goja.FunctionCall) goja.Value {
	src := call.Argument(0)
	if data, err := r.bytesOf(src); err == nil {
		return r.newUint8Array(data)
	}

	s := src.String()
	encoding := "utf8"
	if enc := call.Argument(1); !goja.IsUndefined(enc) {
		encoding = strings.ToLower(enc.String())
	}

	var data []byte
	switch encoding {
	case "base64":
		decoded, err := decodeBase64Lenient(s)
		if err != nil {
			panic(r.vm.NewTypeError("Buffer.from: invalid base64: %v", err))
		}
		data = decoded
	case "utf8", "utf-8":
		data = []byte(s)
	case "binary", "latin1":
		b, ok := latin1Bytes(s)
		if !ok {
			panic(r.vm.NewTypeError("Buffer.from: character out of latin1 range"))
		}
		data = b
	default:
		panic(r.vm.NewTypeError("Buffer.from: unsupported encoding %q", encoding))
	}
	return r.newUint8Array(data)
}

// installBrowser provides window, self, atob and btoa.
func (r *Runtime) installBrowser() error {
	global := r.vm.GlobalObject()
	for _, name := range []string{"window", "self"} {
		if err := global.Set(name, global); err != nil {
			return err
		}
	}
	if err := r.vm.Set("atob", r.atob); err != nil {
		return err
	}
	return r.vm.Set("btoa", r.btoa)
}

// atob returns a string with one character per decoded byte.
func (r *Runtime) atob(call goja.FunctionCall) goja.Value {
	data, err := decodeBase64Lenient(call.Argument(0).String())
	if err != nil {
		panic(r.vm.NewTypeError("atob: InvalidCharacterError: %v", err))
	}
	runes := make([]rune, len(data))
	for i, b := range data {
		runes[i] = rune(b)
	}
	return r.vm.ToValue(string(runes))
}

func (r *Runtime) btoa(call goja.FunctionCall) goja.Value {
	data, ok := latin1Bytes(call.Argument(0).String())
	if !ok {
		panic(r.vm.NewTypeError("btoa: InvalidCharacterError: character out of latin1 range"))
	}
	return r.vm.ToValue(base64.StdEncoding.EncodeToString(data))
}

// decodeBase64Lenient follows the forgiving-base64 rules of atob: ASCII
// whitespace is ignored and padding is optional.
func decodeBase64Lenient(s string) ([]byte, error) {
	s = strings.Map(func(c rune) rune {
		if unicode.IsSpace(c) {
			return -1
		}
		return c
	}, s)
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
}

func latin1Bytes(s string) ([]byte, bool) {
	out := make([]byte, 0, len(s))
	for _, c := range s {
		if c > 0xff {
			return nil, false
		}
		out = append(out, byte(c))
	}
	return out, true
}

func (r *Runtime) newUint8Array(data []byte) goja.Value {
	ctor, ok := goja.AssertConstructor(r.vm.Get("Uint8Array"))
	if !ok {
		panic(r.vm.NewTypeError("Uint8Array is not a constructor"))
	}
	arr, err := ctor(nil, r.vm.ToValue(r.vm.NewArrayBuffer(data)))
	if err != nil {
		panic(err)
	}
	return arr
}

// bytesOf copies the bytes of an ArrayBuffer, typed array or array-like.
func (r *Runtime) bytesOf(v goja.Value) ([]byte, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, fmt.Errorf("expected a buffer source")
	}

	switch x := v.Export().(type) {
	case []byte:
		return append([]byte(nil), x...), nil
	case goja.ArrayBuffer:
		return append([]byte(nil), x.Bytes()...), nil
	case string:
		return nil, fmt.Errorf("expected a buffer source, got string")
	}

	obj, ok := v.(*goja.Object)
	if !ok {
		return nil, fmt.Errorf("expected a buffer source, got %s", v.String())
	}
	if bufVal := obj.Get("buffer"); bufVal != nil {
		if buf, ok := bufVal.Export().(goja.ArrayBuffer); ok {
			offset := int(obj.Get("byteOffset").ToInteger())
			length := int(obj.Get("byteLength").ToInteger())
			data := buf.Bytes()
			if offset < 0 || length < 0 || offset+length > len(data) {
				return nil, fmt.Errorf("typed array view out of range")
			}
			return append([]byte(nil), data[offset:offset+length]...), nil
		}
	}

	lengthVal := obj.Get("length")
	if lengthVal == nil || goja.IsUndefined(lengthVal) {
		return nil, fmt.Errorf("expected a buffer source")
	}
	n := int(lengthVal.ToInteger())
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		out[i] = byte(obj.Get(fmt.Sprint(i)).ToInteger())
	}
	return out, nil
}
