package plugin

import (
	"go.uber.org/zap"
)

// Option configures a Plugin at construction time.
type Option func(*config)

type config struct {
	sync   []string
	logger *zap.Logger
}

func defaultConfig() config {
	return config{
		logger: zap.NewNop(),
	}
}

// WithSync marks files that must be loaded synchronously. Paths are resolved
// to absolute form when the Plugin is created; relative paths are taken
// relative to the working directory at that time.
//
// Examples:
//
//	plugin.New(plugin.WithSync("wasm/sample.wasm"))
//	plugin.New(plugin.WithSync("a.wasm"), plugin.WithSync("b.wasm"))
func WithSync(paths ...string) Option {
	return func(c *config) {
		c.sync = append(c.sync, paths...)
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}
