// Package bundler runs esbuild with the wasm plugin installed.
//
// Use [Plugin] to add .wasm support to an existing esbuild build, or [Build]
// for a one-shot bundle:
//
//	res, err := bundler.Build(ctx, bundler.Options{
//	    Entry:    "src/index.js",
//	    Format:   api.FormatIIFE,
//	    Platform: api.PlatformBrowser,
//	    Sync:     []string{"src/tables.wasm"},
//	})
//
// The shared loader is added to the js banner once per build, after any
// banner the caller configured.
package bundler
