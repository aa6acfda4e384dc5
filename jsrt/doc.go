// Package jsrt is a small JavaScript host for running bundles produced by
// the wasm plugin outside a browser or Node.
//
// A [Runtime] wraps a goja VM and installs:
//
//   - console, writing to the configured stdout and stderr
//   - the globals of the selected [Env]: process and Buffer for EnvNode,
//     window, self, atob and btoa for EnvBrowser
//   - a WebAssembly namespace backed by wazero (Module, Instance, compile,
//     instantiate, validate and the three error classes)
//   - every function of a hostfunc.Registry as a global
//
// Each instance gets its own wazero runtime, so two instances may import
// the same namespace with different functions. Compiled code is shared
// through one compilation cache per Runtime.
//
// Promises settle when the script that created them returns, so [Runtime.Await]
// can inspect a promise right after [Runtime.Run].
package jsrt
