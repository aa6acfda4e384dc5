package bundler_test

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/caffeineduck/wasmembed/bundler"
	"github.com/caffeineduck/wasmembed/internal/testwasm"
	"github.com/caffeineduck/wasmembed/jsrt"
	"github.com/caffeineduck/wasmembed/plugin"
	"github.com/evanw/esbuild/pkg/api"
	"github.com/stretchr/testify/require"
)

var envs = []jsrt.Env{jsrt.EnvNode, jsrt.EnvBrowser}

// bundle builds an IIFE whose entry imports a .wasm file holding data and
// stores the result of calling its default export as globalThis.result.
// When withImports is set the call receives globalThis.imports.
func bundle(t *testing.T, data []byte, sync, withImports bool) string {
	t.Helper()
	dir := t.TempDir()
	path := testwasm.WriteFile(t, dir, "mod.wasm", data)

	call := "init()"
	if withImports {
		call = "init(globalThis.imports)"
	}
	opts := bundler.Options{
		Stdin:      "import init from './mod.wasm'\nglobalThis.result = " + call + "\n",
		ResolveDir: dir,
		Format:     api.FormatIIFE,
	}
	if sync {
		opts.Sync = []string{path}
	}

	res, err := bundler.Build(context.Background(), opts)
	require.NoError(t, err)
	return string(res.Code)
}

func newRuntime(t *testing.T, env jsrt.Env) *jsrt.Runtime {
	t.Helper()
	r, err := jsrt.New(context.Background(), jsrt.WithEnv(env))
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close(context.Background()) })
	return r
}

const logImports = `
	var seen = [];
	globalThis.imports = { env: { log: function (v) { seen.push(v) } } };
`

func TestLoadOutcomes(t *testing.T) {
	tests := []struct {
		name        string
		data        []byte
		sync        bool
		withImports bool
		wantKind    string // kind returned by the default export
		wantSettled string // kind after awaiting
	}{
		{"compile async", testwasm.Add, false, false, "promise", "module"},
		{"compile async empty", testwasm.Empty, false, false, "promise", "module"},
		{"instantiate async", testwasm.Imports, false, true, "promise", "object"},
		{"compile sync", testwasm.Add, true, false, "module", "module"},
		{"instantiate sync", testwasm.Imports, true, true, "instance", "instance"},
	}

	for _, tt := range tests {
		code := bundle(t, tt.data, tt.sync, tt.withImports)
		for _, env := range envs {
			t.Run(tt.name+"/"+env.String(), func(t *testing.T) {
				r := newRuntime(t, env)
				_, err := r.Run(context.Background(), logImports+code)
				require.NoError(t, err)

				result := r.Get("result")
				require.Equal(t, tt.wantKind, r.Kind(result))

				settled, err := r.Await(result)
				require.NoError(t, err)
				require.Equal(t, tt.wantSettled, r.Kind(settled))
			})
		}
	}
}

func TestImportsAreCalled(t *testing.T) {
	for _, sync := range []bool{false, true} {
		code := bundle(t, testwasm.Imports, sync, true)
		for _, env := range envs {
			t.Run(fmt.Sprintf("sync=%t/%s", sync, env), func(t *testing.T) {
				r := newRuntime(t, env)
				_, err := r.Run(context.Background(), logImports+code)
				require.NoError(t, err)

				_, err = r.Run(context.Background(), `
					Promise.resolve(result).then(function (res) {
						var inst = res.instance || res;
						inst.exports.run();
					});
				`)
				require.NoError(t, err)

				got, err := r.Run(context.Background(), `seen.join(',')`)
				require.NoError(t, err)
				require.Equal(t, "42", got.String())
			})
		}
	}
}

func TestInstantiatedExportsWork(t *testing.T) {
	code := bundle(t, testwasm.Add, true, true)
	for _, env := range envs {
		t.Run(env.String(), func(t *testing.T) {
			r := newRuntime(t, env)
			_, err := r.Run(context.Background(), `globalThis.imports = {};`+code)
			require.NoError(t, err)

			got, err := r.Run(context.Background(), `result.exports.add(19, 23)`)
			require.NoError(t, err)
			require.Equal(t, int64(42), got.ToInteger())
		})
	}
}

func TestDecodeAllBytes(t *testing.T) {
	data := testwasm.AllBytes()
	code := bundle(t, testwasm.Add, false, false)
	want := make([]string, len(data))
	for i, b := range data {
		want[i] = fmt.Sprint(b)
	}

	for _, env := range envs {
		t.Run(env.String(), func(t *testing.T) {
			r := newRuntime(t, env)
			_, err := r.Run(context.Background(), code)
			require.NoError(t, err)

			got, err := r.Run(context.Background(),
				fmt.Sprintf(`Array.prototype.join.call(_wasmDecodeBase64('%s'), ',')`, plugin.Encode(data)))
			require.NoError(t, err)
			require.Equal(t, strings.Join(want, ","), got.String())
		})
	}
}

func TestInvalidBinary(t *testing.T) {
	t.Run("sync throws", func(t *testing.T) {
		code := bundle(t, testwasm.Invalid, true, false)
		r := newRuntime(t, jsrt.EnvNode)
		_, err := r.Run(context.Background(), code)
		require.Error(t, err)
		require.Contains(t, err.Error(), "CompileError")
	})

	t.Run("async rejects", func(t *testing.T) {
		code := bundle(t, testwasm.Invalid, false, false)
		r := newRuntime(t, jsrt.EnvBrowser)
		_, err := r.Run(context.Background(), code)
		require.NoError(t, err)

		_, err = r.Await(r.Get("result"))
		require.Error(t, err)
		require.Contains(t, err.Error(), "CompileError")
	})
}

func TestEmptyModuleLoads(t *testing.T) {
	code := bundle(t, testwasm.Empty, true, false)
	r := newRuntime(t, jsrt.EnvNode)
	_, err := r.Run(context.Background(), code)
	require.NoError(t, err)
	require.True(t, r.IsModule(r.Get("result")))
}
