// Package plugin turns .wasm files into JavaScript modules for a bundler.
//
// # Overview
//
// A [Plugin] provides the three hooks a bundler needs:
//
//   - [Plugin.Load] reads a .wasm file's raw bytes, or declines other files.
//   - [Plugin.Transform] emits a module whose default export loads the
//     embedded bytes at run time.
//   - [Plugin.Banner] returns the shared loader that must appear once per
//     bundle (see package [github.com/caffeineduck/wasmembed/loader]).
//
// # Basic Usage
//
//	p, err := plugin.New(plugin.WithSync("wasm/tables.wasm"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	rec, err := p.Load(ctx, "/abs/path/module.wasm")
//	if err != nil {
//	    return err // read failure, never retried
//	}
//	code, _ := p.Transform(rec.Contents, rec.Path)
//
// The generated module looks like:
//
//	export default function(imports){return _loadWasmModule(false, 'AGFzbQEAAAA=', imports)}
//
// Files listed with [WithSync] get true instead of false and load without a
// Promise. See package [github.com/caffeineduck/wasmembed/bundler] for the
// esbuild integration.
package plugin
