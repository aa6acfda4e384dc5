package bundler_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/caffeineduck/wasmembed/bundler"
	"github.com/caffeineduck/wasmembed/internal/testwasm"
	"github.com/caffeineduck/wasmembed/loader"
	"github.com/caffeineduck/wasmembed/plugin"
	"github.com/evanw/esbuild/pkg/api"
)

// esbuild reprints the transformed module, so quotes and spacing may differ
// from what the plugin emitted.
var loaderCallRe = regexp.MustCompile(regexp.QuoteMeta(loader.FunctionName) + `\((true|false|!0|!1),\s*["']`)

func countCalls(code, flag string) int {
	n := 0
	for _, m := range loaderCallRe.FindAllStringSubmatch(code, -1) {
		if m[1] == flag {
			n++
		}
	}
	return n
}

func TestRegisterBanner(t *testing.T) {
	banner := loader.Source()

	if bundler.RegisterBanner(nil, banner) {
		t.Error("nil options should not change")
	}

	opts := &api.BuildOptions{}
	if bundler.RegisterBanner(opts, "") {
		t.Error("empty banner should not change options")
	}
	if !bundler.RegisterBanner(opts, banner) {
		t.Fatal("first registration should change options")
	}
	if opts.Banner["js"] != banner {
		t.Errorf("banner not set: %q", opts.Banner["js"])
	}
	if bundler.RegisterBanner(opts, banner) {
		t.Error("second registration should be a no-op")
	}
	if strings.Count(opts.Banner["js"], banner) != 1 {
		t.Error("banner registered more than once")
	}
}

func TestRegisterBannerKeepsExisting(t *testing.T) {
	opts := &api.BuildOptions{Banner: map[string]string{"js": "/* license */"}}
	if !bundler.RegisterBanner(opts, loader.Source()) {
		t.Fatal("expected options to change")
	}
	got := opts.Banner["js"]
	if !strings.HasPrefix(got, "/* license */\n") {
		t.Errorf("existing banner should stay in front, got %q", got[:40])
	}
	if !strings.HasSuffix(got, loader.Source()) {
		t.Error("loader should follow the existing banner")
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    api.Format
		wantErr bool
	}{
		{"", api.FormatIIFE, false},
		{"iife", api.FormatIIFE, false},
		{"CJS", api.FormatCommonJS, false},
		{"commonjs", api.FormatCommonJS, false},
		{"esm", api.FormatESModule, false},
		{"module", api.FormatESModule, false},
		{"amd", api.FormatDefault, true},
	}
	for _, tt := range tests {
		got, err := bundler.ParseFormat(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseFormat(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseFormat(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestParsePlatform(t *testing.T) {
	tests := []struct {
		in      string
		want    api.Platform
		wantErr bool
	}{
		{"", api.PlatformBrowser, false},
		{"browser", api.PlatformBrowser, false},
		{"Node", api.PlatformNode, false},
		{"neutral", api.PlatformNeutral, false},
		{"deno", api.PlatformBrowser, true},
	}
	for _, tt := range tests {
		got, err := bundler.ParsePlatform(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParsePlatform(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParsePlatform(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestBuildBannerOnce(t *testing.T) {
	dir := t.TempDir()
	testwasm.WriteFile(t, dir, "a.wasm", testwasm.Add)
	testwasm.WriteFile(t, dir, "b.wasm", testwasm.Imports)

	res, err := bundler.Build(context.Background(), bundler.Options{
		Stdin: `
			import a from './a.wasm'
			import b from './b.wasm'
			globalThis.loaders = [a, b]
		`,
		ResolveDir: dir,
		Format:     api.FormatIIFE,
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	code := string(res.Code)
	if n := strings.Count(code, "function "+loader.FunctionName+" "); n != 1 {
		t.Errorf("loader defined %d times, want 1", n)
	}
	if n := countCalls(code, "false"); n != 2 {
		t.Errorf("expected 2 async loader calls, got %d", n)
	}
	if !strings.HasPrefix(code, "var _wasmDecodeBase64") {
		t.Error("loader should lead the bundle")
	}
	if res.Stats.Transformed != 2 || res.Stats.Loaded != 2 {
		t.Errorf("unexpected stats: %+v", res.Stats)
	}
	if res.Stats.LoadedBytes != int64(len(testwasm.Add)+len(testwasm.Imports)) {
		t.Errorf("LoadedBytes = %d", res.Stats.LoadedBytes)
	}
}

func TestBuildSyncFiles(t *testing.T) {
	dir := t.TempDir()
	syncPath := testwasm.WriteFile(t, dir, "tables.wasm", testwasm.Add)
	testwasm.WriteFile(t, dir, "lazy.wasm", testwasm.Add)

	res, err := bundler.Build(context.Background(), bundler.Options{
		Stdin: `
			import tables from './tables.wasm'
			import lazy from './lazy.wasm'
			globalThis.loaders = [tables, lazy]
		`,
		ResolveDir: dir,
		Sync:       []string{syncPath},
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	code := string(res.Code)
	if countCalls(code, "true") != 1 {
		t.Error("sync file should be loaded with sync=true")
	}
	if countCalls(code, "false") != 1 {
		t.Error("other file should be loaded with sync=false")
	}
	if res.Stats.Sync != 1 {
		t.Errorf("Stats.Sync = %d, want 1", res.Stats.Sync)
	}
}

func TestBuildEntryAndWrite(t *testing.T) {
	dir := t.TempDir()
	testwasm.WriteFile(t, dir, "src/add.wasm", testwasm.Add)
	entry := filepath.Join(dir, "src", "index.js")
	if err := os.WriteFile(entry, []byte("import add from './add.wasm'\nexport { add }\n"), 0644); err != nil {
		t.Fatal(err)
	}
	outfile := filepath.Join(dir, "dist", "out.js")

	res, err := bundler.Build(context.Background(), bundler.Options{
		Entry:    entry,
		Outfile:  outfile,
		Write:    true,
		Format:   api.FormatESModule,
		Platform: api.PlatformNeutral,
		Minify:   true,
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	written, err := os.ReadFile(outfile)
	if err != nil {
		t.Fatalf("outfile not written: %v", err)
	}
	if string(written) != string(res.Code) {
		t.Error("written file differs from Result.Code")
	}
	if !strings.Contains(string(res.Code), loader.FunctionName+"(") {
		t.Error("minified output should still call the global loader")
	}
	if res.Path != outfile {
		t.Errorf("Path = %q, want %q", res.Path, outfile)
	}
}

func TestBuildMissingWasm(t *testing.T) {
	dir := t.TempDir()

	_, err := bundler.Build(context.Background(), bundler.Options{
		Stdin:      `import x from './missing.wasm'; console.log(x)`,
		ResolveDir: dir,
	})
	if err == nil {
		t.Fatal("expected error for missing .wasm")
	}
	var buildErr *bundler.BuildError
	if !errors.As(err, &buildErr) {
		t.Fatalf("expected *BuildError, got %T", err)
	}
	if !strings.Contains(err.Error(), "missing.wasm") {
		t.Errorf("error should name the file: %v", err)
	}
}

func TestBuildRequiresEntry(t *testing.T) {
	_, err := bundler.Build(context.Background(), bundler.Options{})
	if err == nil || !strings.Contains(err.Error(), "entry") {
		t.Fatalf("expected entry error, got %v", err)
	}
}

func TestBuildCanceled(t *testing.T) {
	dir := t.TempDir()
	testwasm.WriteFile(t, dir, "a.wasm", testwasm.Add)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := bundler.Build(ctx, bundler.Options{
		Stdin:      `import a from './a.wasm'; globalThis.a = a`,
		ResolveDir: dir,
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestPluginInUserBuild(t *testing.T) {
	dir := t.TempDir()
	testwasm.WriteFile(t, dir, "a.wasm", testwasm.Add)

	p, err := plugin.New()
	if err != nil {
		t.Fatal(err)
	}

	result := api.Build(api.BuildOptions{
		Stdin: &api.StdinOptions{
			Contents:   `import a from './a.wasm'; globalThis.a = a`,
			ResolveDir: dir,
		},
		Bundle:   true,
		Format:   api.FormatIIFE,
		Banner:   map[string]string{"js": "/* user banner */"},
		LogLevel: api.LogLevelSilent,
		Plugins:  []api.Plugin{bundler.Plugin(context.Background(), p)},
	})
	if len(result.Errors) > 0 {
		t.Fatalf("build errors: %v", result.Errors)
	}
	code := string(result.OutputFiles[0].Contents)
	if !strings.HasPrefix(code, "/* user banner */\n") {
		t.Error("user banner should come first")
	}
	if strings.Count(code, "function "+loader.FunctionName+" ") != 1 {
		t.Error("loader should appear exactly once")
	}
}

func TestWithin(t *testing.T) {
	tmp, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	root := filepath.Join(tmp, "app")

	tests := []struct {
		path string
		want bool
	}{
		{root, true},
		{filepath.Join(root, "src", "index.js"), true},
		{filepath.Join(root, "..", "app", "a.wasm"), true},
		{filepath.Join(root, "..", "secrets.json"), false},
		{filepath.Join(root, "..", "app-other", "x.js"), false},
		{filepath.Dir(root), false},
	}
	for _, tt := range tests {
		if got := bundler.Within(root, tt.path); got != tt.want {
			t.Errorf("Within(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestBuildOutsideRoot(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, "app")
	testwasm.WriteFile(t, dir, "secrets.json", []byte(`{"password":"hunter2"}`))
	inside := testwasm.WriteFile(t, root, "index.js", []byte("import s from '../secrets.json'\nconsole.log(s)\n"))
	outside := filepath.Join(dir, "secrets.json")

	for name, entry := range map[string]string{"entry": outside, "import": inside} {
		t.Run(name, func(t *testing.T) {
			res, err := bundler.Build(context.Background(), bundler.Options{Entry: entry, Root: root})
			if err == nil {
				t.Fatalf("expected build to fail, got %q", res.Code)
			}
			var buildErr *bundler.BuildError
			if !errors.As(err, &buildErr) {
				t.Fatalf("expected *BuildError, got %T", err)
			}
			if !strings.Contains(err.Error(), "outside") || strings.Contains(err.Error(), "hunter2") {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestBuildInsideRoot(t *testing.T) {
	root := t.TempDir()
	testwasm.WriteFile(t, root, "add.wasm", testwasm.Add)
	entry := testwasm.WriteFile(t, root, "index.js", []byte("import add from './add.wasm'\nglobalThis.add = add\n"))

	res, err := bundler.Build(context.Background(), bundler.Options{Entry: entry, Root: root})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if countCalls(string(res.Code), "false") != 1 {
		t.Error("wasm import inside root should still be transformed")
	}
}

func TestWithinFollowsSymlinks(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, "app")
	testwasm.WriteFile(t, dir, "secrets.json", []byte(`{}`))
	if err := os.MkdirAll(root, 0755); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(root, "link.json")
	if err := os.Symlink(filepath.Join(dir, "secrets.json"), link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	if bundler.Within(root, link) {
		t.Error("symlink pointing out of root should be outside")
	}
}
