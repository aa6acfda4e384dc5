package plugin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/caffeineduck/wasmembed/loader"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Name is the plugin name reported to the host bundler.
const Name = "wasm"

// Filter is the pattern of file ids the plugin handles. It is case-sensitive.
const Filter = `\.wasm$`

var filterRe = regexp.MustCompile(Filter)

// Record is a loaded .wasm file. It lives for one build pass.
type Record struct {
	Path     string
	Contents []byte
}

// Stats counts work done by a Plugin across builds.
type Stats struct {
	Loaded      int64
	LoadedBytes int64
	Transformed int64
	Sync        int64
}

// Plugin turns .wasm files into JavaScript modules whose default export
// loads the embedded binary at run time.
//
// A Plugin is safe for concurrent use. Its configuration is fixed by New.
type Plugin struct {
	syncFiles []string
	syncSet   map[string]struct{}
	logger    *zap.Logger

	loaded      atomic.Int64
	loadedBytes atomic.Int64
	transformed atomic.Int64
	syncCount   atomic.Int64
}

// New creates a Plugin. It fails only if a sync path cannot be made absolute.
func New(opts ...Option) (*Plugin, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	p := &Plugin{
		syncSet: make(map[string]struct{}, len(cfg.sync)),
		logger:  cfg.logger,
	}

	for _, path := range cfg.sync {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("resolve sync path %q: %w", path, err)
		}
		if _, dup := p.syncSet[abs]; dup {
			continue
		}
		p.syncSet[abs] = struct{}{}
		p.syncFiles = append(p.syncFiles, abs)
	}

	return p, nil
}

// Name returns "wasm".
func (p *Plugin) Name() string {
	return Name
}

// Match reports whether id names a file the plugin handles.
func (p *Plugin) Match(id string) bool {
	return filterRe.MatchString(id)
}

// IsSync reports whether id equals one of the resolved sync paths. id is
// compared as given; callers pass absolute paths, as esbuild does.
func (p *Plugin) IsSync(id string) bool {
	_, ok := p.syncSet[id]
	return ok
}

// SyncFiles returns the resolved sync paths in configuration order.
func (p *Plugin) SyncFiles() []string {
	out := make([]string, len(p.syncFiles))
	copy(out, p.syncFiles)
	return out
}

// Load reads the file named by id. It returns nil, nil when id does not
// match the plugin's filter so the host can try other loaders. Read errors
// are returned as-is (wrapped) and are never retried.
func (p *Plugin) Load(ctx context.Context, id string) (*Record, error) {
	if !p.Match(id) {
		return nil, nil
	}

	type readResult struct {
		data []byte
		err  error
	}
	resultCh := make(chan readResult, 1)
	go func() {
		data, err := os.ReadFile(id)
		resultCh <- readResult{data: data, err: err}
	}()

	var res readResult
	select {
	case res = <-resultCh:
	case <-ctx.Done():
		return nil, fmt.Errorf("load %s: %w", id, ctx.Err())
	}

	if res.err != nil {
		p.logger.Debug("load failed", zap.String("path", id), zap.Error(res.err))
		return nil, fmt.Errorf("load %s: %w", id, res.err)
	}

	p.loaded.Inc()
	p.loadedBytes.Add(int64(len(res.data)))
	p.logger.Debug("loaded", zap.String("path", id), zap.Int("bytes", len(res.data)))

	return &Record{Path: id, Contents: res.data}, nil
}

// Banner returns the shared loader that must appear once in every bundle
// containing a transformed module.
func (p *Plugin) Banner() string {
	return loader.Source()
}

// Transform returns the JavaScript module for a .wasm file. The second
// result is false when id does not match the plugin's filter.
func (p *Plugin) Transform(code []byte, id string) (string, bool) {
	if !p.Match(id) {
		return "", false
	}

	sync := p.IsSync(id)
	p.transformed.Inc()
	if sync {
		p.syncCount.Inc()
	}
	p.logger.Debug("transformed",
		zap.String("path", id),
		zap.Bool("sync", sync),
		zap.Int("bytes", len(code)))

	return fmt.Sprintf("export default function(imports){return %s(%t, '%s', imports)}",
		loader.FunctionName, sync, Encode(code)), true
}

// TransformRecord is Transform applied to a loaded record.
func (p *Plugin) TransformRecord(rec *Record) (string, bool) {
	if rec == nil {
		return "", false
	}
	return p.Transform(rec.Contents, rec.Path)
}

// Stats returns a snapshot of the plugin's counters.
func (p *Plugin) Stats() Stats {
	return Stats{
		Loaded:      p.loaded.Load(),
		LoadedBytes: p.loadedBytes.Load(),
		Transformed: p.transformed.Load(),
		Sync:        p.syncCount.Load(),
	}
}
