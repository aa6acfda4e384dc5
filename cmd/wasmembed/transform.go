package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/caffeineduck/wasmembed/plugin"
	"github.com/spf13/cobra"
)

func newTransformCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transform <file.wasm>",
		Short: "Print the module generated for one .wasm file",
		Args:  cobra.ExactArgs(1),
		RunE:  runTransform,
	}
	cmd.Flags().StringSlice("sync", nil, "Load this .wasm file without a Promise (repeatable)")
	cmd.Flags().Bool("banner", false, "Print the shared loader before the module")
	return cmd
}

func runTransform(cmd *cobra.Command, args []string) error {
	s, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	logger, err := newLogger(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	p, err := plugin.New(plugin.WithSync(s.sync...), plugin.WithLogger(logger))
	if err != nil {
		return err
	}

	path, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}
	rec, err := p.Load(context.Background(), path)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("%s: not a .wasm file", path)
	}
	code, _ := p.TransformRecord(rec)

	out := cmd.OutOrStdout()
	if banner, _ := cmd.Flags().GetBool("banner"); banner {
		fmt.Fprintln(out, p.Banner())
	}
	fmt.Fprintln(out, code)
	return nil
}
