package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "wasmembed",
		Short: "Bundle .wasm files as JavaScript modules",
		Long: `wasmembed - Turn WebAssembly binaries into importable JavaScript modules.

Every imported .wasm file becomes a module whose default export takes an
optional imports object and returns a WebAssembly.Module or Instance. The
binary is embedded as base64 and decoded with Buffer on Node or atob in
browsers. Files listed with --sync load without a Promise.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().String("config", "", "Config file (default: "+defaultConfigFile+" if present)")
	root.PersistentFlags().BoolP("verbose", "v", false, "Log debug output to stderr")

	root.AddCommand(
		newBuildCmd(),
		newRunCmd(),
		newTransformCmd(),
		newReplCmd(),
		newServeCmd(),
	)
	return root
}

func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newLogger builds a development logger with --verbose and a warn-level
// production logger otherwise.
func newLogger(cmd *cobra.Command) (*zap.Logger, error) {
	verbose, _ := cmd.Flags().GetBool("verbose")
	if verbose {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	return cfg.Build()
}
