package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/c2h5oh/datasize"
	"github.com/caffeineduck/wasmembed/bundler"
	"github.com/caffeineduck/wasmembed/hostfunc"
	"github.com/caffeineduck/wasmembed/jsrt"
	"github.com/evanw/esbuild/pkg/api"
	"github.com/ghodss/yaml"
	"github.com/spf13/cobra"
)

const defaultConfigFile = "wasmembed.yaml"

// wasmPageSize is the size of one WebAssembly memory page.
const wasmPageSize = 64 * datasize.KB

// maxMemoryPages is the most a 32-bit memory can address.
const maxMemoryPages = 65536

// fileConfig is the YAML config file. Relative sync paths are relative to
// the file.
type fileConfig struct {
	Sync     []string          `json:"sync"`
	Format   string            `json:"format"`
	Platform string            `json:"platform"`
	Minify   bool              `json:"minify"`
	Env      string            `json:"env"`
	Memory   datasize.ByteSize `json:"memory"`
	KV       bool              `json:"kv"`
}

// settings is the merged result of the config file and flags.
type settings struct {
	sync        []string
	format      api.Format
	platform    api.Platform
	minify      bool
	env         jsrt.Env
	memoryPages uint32
	kv          bool
}

func loadConfig(path string) (*fileConfig, error) {
	explicit := path != ""
	if !explicit {
		path = defaultConfigFile
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return &fileConfig{}, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	dir := filepath.Dir(path)
	for i, p := range cfg.Sync {
		if !filepath.IsAbs(p) {
			cfg.Sync[i] = filepath.Join(dir, p)
		}
	}
	return &cfg, nil
}

// loadSettings merges the config file with the flags cmd defines. A flag
// given on the command line wins over the file.
func loadSettings(cmd *cobra.Command) (*settings, error) {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	str := func(name, fromFile string) string {
		if flags.Lookup(name) == nil {
			return fromFile
		}
		if flags.Changed(name) || fromFile == "" {
			v, _ := flags.GetString(name)
			return v
		}
		return fromFile
	}

	s := &settings{minify: cfg.Minify, kv: cfg.KV}

	s.sync = append(s.sync, cfg.Sync...)
	if flags.Lookup("sync") != nil {
		extra, _ := flags.GetStringSlice("sync")
		s.sync = append(s.sync, extra...)
	}

	if s.format, err = bundler.ParseFormat(str("format", cfg.Format)); err != nil {
		return nil, err
	}
	if s.platform, err = bundler.ParsePlatform(str("platform", cfg.Platform)); err != nil {
		return nil, err
	}
	if s.env, err = jsrt.ParseEnv(str("env", cfg.Env)); err != nil {
		return nil, err
	}

	if flags.Lookup("minify") != nil && flags.Changed("minify") {
		s.minify, _ = flags.GetBool("minify")
	}

	if flags.Lookup("kv") != nil && flags.Changed("kv") {
		s.kv, _ = flags.GetBool("kv")
	}

	memory := cfg.Memory
	if flags.Lookup("memory") != nil && (flags.Changed("memory") || memory == 0) {
		raw, _ := flags.GetString("memory")
		if memory, err = parseSize(raw); err != nil {
			return nil, err
		}
	}
	if s.memoryPages, err = memoryPages(memory); err != nil {
		return nil, err
	}

	return s, nil
}

// runtimeOptions returns the jsrt options shared by run and repl.
func (s *settings) runtimeOptions() []jsrt.Option {
	opts := []jsrt.Option{
		jsrt.WithEnv(s.env),
		jsrt.WithMemoryLimit(s.memoryPages),
	}
	if s.kv {
		registry := hostfunc.NewRegistry()
		hostfunc.NewKV(hostfunc.DefaultKVConfig()).Register(registry)
		opts = append(opts, jsrt.WithRegistry(registry))
	}
	return opts
}

func parseSize(s string) (datasize.ByteSize, error) {
	var size datasize.ByteSize
	if s == "" {
		return 0, nil
	}
	if err := size.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid memory size %q: %w", s, err)
	}
	return size, nil
}

// memoryPages converts a size to WebAssembly pages, rounding up. Zero means
// no limit beyond wazero's default.
func memoryPages(size datasize.ByteSize) (uint32, error) {
	if size == 0 {
		return 0, nil
	}
	pages := (size + wasmPageSize - 1) / wasmPageSize
	if pages > maxMemoryPages {
		return 0, fmt.Errorf("memory limit %s exceeds 4GB", size.HR())
	}
	return uint32(pages), nil
}
