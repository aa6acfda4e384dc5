package main

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/caffeineduck/wasmembed/bundler"
	"github.com/caffeineduck/wasmembed/jsrt"
	"github.com/evanw/esbuild/pkg/api"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [entry]",
		Short: "Bundle an entry point and execute it",
		Long: `Bundle an entry point and execute the result in an embedded JavaScript
runtime with a wazero-backed WebAssembly implementation.

The entry can be given as a file or piped on stdin, in which case imports
resolve from the working directory:
  wasmembed run examples/add.js
  echo "import init from './add.wasm'; init().then(console.log)" | wasmembed run

Promises settle before run exits.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runRun,
	}
	cmd.Flags().StringSlice("sync", nil, "Load this .wasm file without a Promise (repeatable)")
	cmd.Flags().String("env", "node", "Host globals to provide: node, browser")
	cmd.Flags().String("memory", "", "Memory limit per instance, e.g. 16MB (default: 4GB)")
	cmd.Flags().Duration("timeout", 30*time.Second, "Execution timeout")
	cmd.Flags().Bool("kv", false, "Expose kv_get, kv_set, kv_delete and kv_keys to scripts")
	return cmd
}

func runRun(cmd *cobra.Command, args []string) error {
	s, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	logger, err := newLogger(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	opts := bundler.Options{
		Format:   api.FormatIIFE,
		Platform: api.PlatformBrowser,
		Sync:     s.sync,
		Logger:   logger,
	}
	if s.env == jsrt.EnvNode {
		opts.Platform = api.PlatformNode
	}

	if len(args) > 0 {
		opts.Entry = args[0]
	} else {
		if term.IsTerminal(int(os.Stdin.Fd())) {
			return cmd.Help()
		}
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return err
		}
		if len(data) == 0 {
			return cmd.Help()
		}
		wd, err := os.Getwd()
		if err != nil {
			return err
		}
		opts.Stdin = string(data)
		opts.ResolveDir = wd
	}

	timeout, _ := cmd.Flags().GetDuration("timeout")
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	res, err := bundler.Build(ctx, opts)
	if err != nil {
		return err
	}

	rt, err := jsrt.New(ctx, append(s.runtimeOptions(),
		jsrt.WithStdout(cmd.OutOrStdout()),
		jsrt.WithStderr(cmd.ErrOrStderr()),
		jsrt.WithLogger(logger))...)
	if err != nil {
		return err
	}
	defer rt.Close(context.Background())

	start := time.Now()
	if _, err := rt.Run(ctx, string(res.Code)); err != nil {
		return err
	}

	logger.Debug("run finished",
		zap.Duration("duration", time.Since(start)),
		zap.Int64("wasm_modules", res.Stats.Transformed))
	return nil
}
