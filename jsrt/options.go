package jsrt

import (
	"fmt"
	"io"
	"strings"

	"github.com/caffeineduck/wasmembed/hostfunc"
	"go.uber.org/zap"
)

// Env selects which host globals the runtime imitates.
type Env int

const (
	// EnvNode defines process.versions.node and Buffer.
	EnvNode Env = iota
	// EnvBrowser defines window, self, atob and btoa.
	EnvBrowser
)

func (e Env) String() string {
	switch e {
	case EnvNode:
		return "node"
	case EnvBrowser:
		return "browser"
	default:
		return fmt.Sprintf("env(%d)", int(e))
	}
}

// ParseEnv maps "node" or "browser" to an Env.
func ParseEnv(s string) (Env, error) {
	switch strings.ToLower(s) {
	case "", "node":
		return EnvNode, nil
	case "browser", "web":
		return EnvBrowser, nil
	default:
		return EnvNode, fmt.Errorf("unknown env %q: use node or browser", s)
	}
}

// Option configures a Runtime at creation time.
type Option func(*config)

type config struct {
	env              Env
	registry         *hostfunc.Registry
	stdout           io.Writer
	stderr           io.Writer
	memoryLimitPages uint32 // each page = 64KB, 0 = wazero default
	logger           *zap.Logger
}

func defaultConfig() config {
	return config{
		env:    EnvNode,
		stdout: io.Discard,
		stderr: io.Discard,
		logger: zap.NewNop(),
	}
}

// WithEnv selects the host environment. Default is EnvNode.
func WithEnv(env Env) Option {
	return func(c *config) {
		c.env = env
	}
}

// WithRegistry exposes every function in r as a global.
func WithRegistry(r *hostfunc.Registry) Option {
	return func(c *config) {
		c.registry = r
	}
}

// WithStdout sets where console.log and console.info write.
func WithStdout(w io.Writer) Option {
	return func(c *config) {
		if w != nil {
			c.stdout = w
		}
	}
}

// WithStderr sets where console.error and console.warn write.
func WithStderr(w io.Writer) Option {
	return func(c *config) {
		if w != nil {
			c.stderr = w
		}
	}
}

// WithMemoryLimit caps the memory of every instantiated module. Each page is
// 64KB; 0 keeps wazero's default of 65536 pages (4GB).
func WithMemoryLimit(pages uint32) Option {
	return func(c *config) {
		c.memoryLimitPages = pages
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
