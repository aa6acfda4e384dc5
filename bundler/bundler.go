package bundler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/caffeineduck/wasmembed/plugin"
	"github.com/evanw/esbuild/pkg/api"
	"go.uber.org/zap"
)

// bannerKey is the output type esbuild applies a banner to.
const bannerKey = "js"

// Plugin adapts p to esbuild. The shared loader is registered as a js banner
// when the build is set up; the .wasm files themselves are handled by an
// OnLoad callback that reads and transforms them in one step.
//
// ctx bounds every file read made during the build.
func Plugin(ctx context.Context, p *plugin.Plugin) api.Plugin {
	return api.Plugin{
		Name: p.Name(),
		Setup: func(build api.PluginBuild) {
			RegisterBanner(build.InitialOptions, p.Banner())

			build.OnLoad(api.OnLoadOptions{Filter: plugin.Filter, Namespace: "file"},
				func(args api.OnLoadArgs) (api.OnLoadResult, error) {
					rec, err := p.Load(ctx, args.Path)
					if err != nil {
						return api.OnLoadResult{}, err
					}
					if rec == nil {
						return api.OnLoadResult{}, nil
					}

					code, ok := p.TransformRecord(rec)
					if !ok {
						return api.OnLoadResult{}, nil
					}

					return api.OnLoadResult{
						Contents:   &code,
						ResolveDir: filepath.Dir(rec.Path),
						Loader:     api.LoaderJS,
					}, nil
				})
		},
	}
}

// RegisterBanner adds banner to the js banner of opts exactly once. Any
// banner already configured stays in front. It reports whether opts changed.
func RegisterBanner(opts *api.BuildOptions, banner string) bool {
	if opts == nil || banner == "" {
		return false
	}
	if opts.Banner == nil {
		opts.Banner = make(map[string]string)
	}

	existing := opts.Banner[bannerKey]
	if strings.Contains(existing, banner) {
		return false
	}
	if existing == "" {
		opts.Banner[bannerKey] = banner
	} else {
		opts.Banner[bannerKey] = existing + "\n" + banner
	}
	return true
}

// Result is the output of Build.
type Result struct {
	Code     []byte
	Path     string
	Warnings []string
	Stats    plugin.Stats
}

// BuildError carries the messages esbuild reported for a failed build.
type BuildError struct {
	Messages []api.Message
}

func (e *BuildError) Error() string {
	formatted := api.FormatMessages(e.Messages, api.FormatMessagesOptions{
		Kind: api.ErrorMessage,
	})
	return "build failed: " + strings.TrimSpace(strings.Join(formatted, ""))
}

// Build bundles opts with the wasm plugin installed.
func Build(ctx context.Context, opts Options) (*Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	p, err := plugin.New(plugin.WithSync(opts.Sync...), plugin.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	buildOpts := api.BuildOptions{
		Bundle:            true,
		Format:            opts.Format,
		Platform:          opts.Platform,
		Outfile:           opts.Outfile,
		MinifyWhitespace:  opts.Minify,
		MinifySyntax:      opts.Minify,
		MinifyIdentifiers: opts.Minify,
		LogLevel:          api.LogLevelSilent,
		Plugins:           []api.Plugin{Plugin(ctx, p)},
	}
	if opts.Root != "" {
		buildOpts.Plugins = append([]api.Plugin{rootPlugin(opts.Root)}, buildOpts.Plugins...)
	}

	if opts.Stdin != "" {
		buildOpts.Stdin = &api.StdinOptions{
			Contents:   opts.Stdin,
			ResolveDir: opts.ResolveDir,
			Sourcefile: "<stdin>",
			Loader:     api.LoaderJS,
		}
	} else {
		if opts.Entry == "" {
			return nil, fmt.Errorf("entry point required")
		}
		buildOpts.EntryPoints = []string{opts.Entry}
	}

	bctx, ctxErr := api.Context(buildOpts)
	if ctxErr != nil {
		return nil, &BuildError{Messages: ctxErr.Errors}
	}
	defer bctx.Dispose()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			bctx.Cancel()
		case <-done:
		}
	}()

	result := bctx.Rebuild()
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("build canceled: %w", err)
	}
	if len(result.Errors) > 0 {
		logger.Debug("build failed", zap.Int("errors", len(result.Errors)))
		return nil, &BuildError{Messages: result.Errors}
	}

	out := &Result{Stats: p.Stats()}
	if len(result.OutputFiles) > 0 {
		out.Code = result.OutputFiles[0].Contents
		out.Path = result.OutputFiles[0].Path
	}
	if opts.Write && opts.Outfile != "" {
		if err := writeOutput(opts.Outfile, out.Code); err != nil {
			return nil, err
		}
	}
	if len(result.Warnings) > 0 {
		out.Warnings = api.FormatMessages(result.Warnings, api.FormatMessagesOptions{
			Kind: api.WarningMessage,
		})
	}

	logger.Debug("build finished",
		zap.String("entry", opts.Entry),
		zap.Int("bytes", len(out.Code)),
		zap.Int64("wasm_modules", out.Stats.Transformed))

	return out, nil
}

// writeOutput writes code to path, creating parent directories.
func writeOutput(path string, code []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := os.WriteFile(path, code, 0644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
