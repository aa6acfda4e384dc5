package bundler

import (
	"fmt"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
	"go.uber.org/zap"
)

// Options describes one bundle.
type Options struct {
	// Entry is the entry point path. Ignored when Stdin is set.
	Entry string
	// Stdin, when non-empty, is bundled instead of Entry. Imports resolve
	// relative to ResolveDir.
	Stdin      string
	ResolveDir string

	// Outfile is where the bundle goes. With Write false it only names the
	// output; the code is returned in Result.Code either way.
	Outfile string
	Write   bool

	Format   api.Format
	Platform api.Platform
	Minify   bool

	// Sync lists .wasm files loaded without a Promise.
	Sync []string

	// Root, when set, confines every file the build reads to that directory.
	Root string

	Logger *zap.Logger
}

// ParseFormat maps a format name to esbuild's format. The empty string
// selects iife.
func ParseFormat(s string) (api.Format, error) {
	switch strings.ToLower(s) {
	case "", "iife":
		return api.FormatIIFE, nil
	case "cjs", "commonjs":
		return api.FormatCommonJS, nil
	case "esm", "module":
		return api.FormatESModule, nil
	default:
		return api.FormatDefault, fmt.Errorf("unknown format %q: use iife, cjs, or esm", s)
	}
}

// ParsePlatform maps a platform name to esbuild's platform. The empty string
// selects browser.
func ParsePlatform(s string) (api.Platform, error) {
	switch strings.ToLower(s) {
	case "", "browser":
		return api.PlatformBrowser, nil
	case "node":
		return api.PlatformNode, nil
	case "neutral":
		return api.PlatformNeutral, nil
	default:
		return api.PlatformBrowser, fmt.Errorf("unknown platform %q: use browser, node, or neutral", s)
	}
}
