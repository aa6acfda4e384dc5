package main

import (
	"context"
	"fmt"

	"github.com/caffeineduck/wasmembed/bundler"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newBuildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build <entry>",
		Short: "Bundle an entry point, embedding imported .wasm files",
		Long: `Bundle an entry point with esbuild. Every imported .wasm file is
embedded as a module; the shared loader is added once at the top.

Output goes to stdout unless --outfile is given:
  wasmembed build src/index.js
  wasmembed build src/index.js -o dist/app.js --sync src/tables.wasm`,
		Args: cobra.ExactArgs(1),
		RunE: runBuild,
	}
	cmd.Flags().StringP("outfile", "o", "", "Write the bundle to this file")
	addBundleFlags(cmd)
	return cmd
}

func addBundleFlags(cmd *cobra.Command) {
	cmd.Flags().StringSlice("sync", nil, "Load this .wasm file without a Promise (repeatable)")
	cmd.Flags().String("format", "iife", "Output format: iife, cjs, esm")
	cmd.Flags().String("platform", "browser", "Target platform: browser, node, neutral")
	cmd.Flags().Bool("minify", false, "Minify the bundle")
}

func runBuild(cmd *cobra.Command, args []string) error {
	s, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	logger, err := newLogger(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	outfile, _ := cmd.Flags().GetString("outfile")

	res, err := bundler.Build(context.Background(), bundler.Options{
		Entry:    args[0],
		Outfile:  outfile,
		Write:    outfile != "",
		Format:   s.format,
		Platform: s.platform,
		Minify:   s.minify,
		Sync:     s.sync,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	for _, w := range res.Warnings {
		fmt.Fprint(cmd.ErrOrStderr(), w)
	}
	if outfile == "" {
		_, err = cmd.OutOrStdout().Write(res.Code)
		return err
	}

	logger.Info("bundle written",
		zap.String("outfile", outfile),
		zap.Int64("wasm_modules", res.Stats.Transformed),
		zap.Int64("wasm_bytes", res.Stats.LoadedBytes))
	return nil
}
