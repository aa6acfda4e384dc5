// Package wasmembed turns .wasm files into JavaScript modules for esbuild
// bundles.
//
// # Overview
//
// Every imported .wasm file becomes a module whose default export takes an
// optional imports object:
//
//	import init from './add.wasm'
//
//	init().then(module => ...)             // WebAssembly.compile
//	init(imports).then(({instance}) => ...) // WebAssembly.instantiate
//
// Files configured as sync skip the Promise and return a WebAssembly.Module
// or WebAssembly.Instance directly. The binary is embedded as base64. A
// shared loader, added once at the top of the bundle, decodes it with Buffer
// on Node and atob elsewhere.
//
// # Basic Usage
//
//	res, err := bundler.Build(ctx, bundler.Options{
//	    Entry: "src/index.js",
//	    Sync:  []string{"src/tables.wasm"},
//	})
//
// To add the plugin to an existing esbuild build:
//
//	p, _ := plugin.New(plugin.WithSync("src/tables.wasm"))
//	api.Build(api.BuildOptions{
//	    EntryPoints: []string{"src/index.js"},
//	    Bundle:      true,
//	    Plugins:     []api.Plugin{bundler.Plugin(ctx, p)},
//	})
//
// # Running Bundles
//
// The jsrt package runs a bundle in goja with a WebAssembly implementation
// backed by wazero, imitating either Node or a browser:
//
//	rt, _ := jsrt.New(ctx, jsrt.WithEnv(jsrt.EnvBrowser))
//	defer rt.Close(ctx)
//	rt.Run(ctx, string(res.Code))
//
// # Packages
//
//   - plugin: load and transform hooks, sync configuration
//   - loader: the shared run-time loader
//   - bundler: esbuild integration
//   - jsrt: JavaScript runtime for executing bundles
//   - hostfunc: Go functions exposed to scripts
//   - cmd/wasmembed: CLI (build, run, transform, repl, serve)
package wasmembed
