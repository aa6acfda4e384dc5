// Package loader holds the run-time snippet that bundles carry to turn an
// embedded base64 payload back into a WebAssembly module.
//
// The snippet is injected once per bundle. It defines a single global,
// [FunctionName], which every generated module calls with three arguments:
// whether the module was configured for synchronous loading, the base64
// payload, and the caller's imports object (possibly undefined).
//
// # Dispatch
//
// The two booleans select one of four [Outcome] values:
//
//	sync  imports  outcome
//	no    no       CompileAsync      -> Promise<WebAssembly.Module>
//	no    yes      InstantiateAsync  -> Promise<{module, instance}>
//	yes   no       CompileSync       -> WebAssembly.Module
//	yes   yes      InstantiateSync   -> WebAssembly.Instance
//
// The JavaScript dispatch table is rendered from [Outcomes], so the Go
// enumeration and the emitted code cannot drift apart.
//
// # Decoding
//
// Base64 decoding is chosen once when the snippet runs: Node's Buffer when
// process.versions.node is present, otherwise atob with a byte-by-byte copy
// into a Uint8Array.
package loader
