package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caffeineduck/wasmembed/jsrt"
	"github.com/caffeineduck/wasmembed/plugin"
	"github.com/chzyer/readline"
	"github.com/dop251/goja"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newReplCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repl",
		Short: "Interactive JavaScript console with the wasm loader installed",
		Long: `Start an interactive console with the shared loader and a loadWasm helper:

  >>> var m = loadWasm('add.wasm', {})
  >>> m.exports.add(1, 2)
  3

loadWasm(path, imports) runs the same load and transform steps as a build
and calls the module's default export. Files listed with --sync return a
Module or Instance directly; others return a Promise.

Features:
  - Command history (up/down arrows)
  - Line editing (left/right, backspace, delete)
  - History search (Ctrl+R)
  - Multi-line input (end line with \)

Type 'exit' or 'quit' to end the session, or press Ctrl+D.`,
		Args: cobra.NoArgs,
		RunE: runRepl,
	}
	cmd.Flags().StringSlice("sync", nil, "Load this .wasm file without a Promise (repeatable)")
	cmd.Flags().String("env", "node", "Host globals to provide: node, browser")
	cmd.Flags().String("memory", "", "Memory limit per instance, e.g. 16MB (default: 4GB)")
	cmd.Flags().Duration("timeout", 30*time.Second, "Timeout per input")
	cmd.Flags().Bool("kv", false, "Expose kv_get, kv_set, kv_delete and kv_keys")
	cmd.Flags().String("history", "", "History file path (default: ~/.wasmembed_history)")
	return cmd
}

type replSession struct {
	rt      *jsrt.Runtime
	plugin  *plugin.Plugin
	timeout time.Duration
}

func newReplSession(ctx context.Context, s *settings, stdout, stderr io.Writer, logger *zap.Logger) (*replSession, error) {
	p, err := plugin.New(plugin.WithSync(s.sync...), plugin.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	rt, err := jsrt.New(ctx, append(s.runtimeOptions(),
		jsrt.WithStdout(stdout),
		jsrt.WithStderr(stderr),
		jsrt.WithLogger(logger))...)
	if err != nil {
		return nil, err
	}

	if _, err := rt.Run(ctx, p.Banner()); err != nil {
		rt.Close(ctx)
		return nil, fmt.Errorf("install loader: %w", err)
	}

	sess := &replSession{rt: rt, plugin: p, timeout: 30 * time.Second}
	if err := rt.VM().Set("loadWasm", sess.loadWasm); err != nil {
		rt.Close(ctx)
		return nil, err
	}
	return sess, nil
}

// loadWasm(path, imports) evaluates the module generated for path and calls
// its default export.
func (s *replSession) loadWasm(call goja.FunctionCall) goja.Value {
	vm := s.rt.VM()
	path, err := filepath.Abs(call.Argument(0).String())
	if err != nil {
		panic(vm.NewGoError(err))
	}

	rec, err := s.plugin.Load(context.Background(), path)
	if err != nil {
		panic(vm.NewGoError(err))
	}
	if rec == nil {
		panic(vm.NewTypeError("loadWasm: %s is not a .wasm file", path))
	}
	code, _ := s.plugin.TransformRecord(rec)

	// the module's only statement is its default export
	fnVal, err := vm.RunString("(" + strings.TrimPrefix(code, "export default ") + ")")
	if err != nil {
		panic(err)
	}
	fn, ok := goja.AssertFunction(fnVal)
	if !ok {
		panic(vm.NewTypeError("loadWasm: %s did not produce a function", path))
	}
	v, err := fn(goja.Undefined(), call.Argument(1))
	if err != nil {
		panic(err)
	}
	return v
}

// eval runs one input and formats its completion value. Undefined formats
// as the empty string.
func (s *replSession) eval(line string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	v, err := s.rt.Run(ctx, line)
	if err != nil {
		return "", err
	}
	return s.format(v), nil
}

func (s *replSession) format(v goja.Value) string {
	vm := s.rt.VM()
	switch s.rt.Kind(v) {
	case "undefined":
		return ""
	case "null":
		return "null"
	case "string":
		return "'" + v.String() + "'"
	case "promise":
		settled, err := s.rt.Await(v)
		switch {
		case errors.Is(err, jsrt.ErrPending):
			return "Promise { <pending> }"
		case err != nil:
			return "Promise { <rejected> " + strings.TrimPrefix(err.Error(), "promise rejected: ") + " }"
		}
		inner := s.format(settled)
		if inner == "" {
			inner = "undefined"
		}
		return "Promise { " + inner + " }"
	case "module":
		return "WebAssembly.Module {}"
	case "instance":
		exports := v.ToObject(vm).Get("exports").ToObject(vm)
		return "WebAssembly.Instance { exports: [" + strings.Join(exports.Keys(), ", ") + "] }"
	case "object":
		obj := v.ToObject(vm)
		if obj.ClassName() == "Array" {
			return "[ " + v.String() + " ]"
		}
		return "{ " + strings.Join(obj.Keys(), ", ") + " }"
	default:
		return v.String()
	}
}

func (s *replSession) close() {
	s.rt.Close(context.Background())
}

func runRepl(cmd *cobra.Command, args []string) error {
	cfg, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	logger, err := newLogger(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	historyFile, _ := cmd.Flags().GetString("history")
	if historyFile == "" {
		home, _ := os.UserHomeDir()
		historyFile = filepath.Join(home, ".wasmembed_history")
	}

	stdout, stderr := cmd.OutOrStdout(), cmd.ErrOrStderr()
	sess, err := newReplSession(context.Background(), cfg, stdout, stderr, logger)
	if err != nil {
		return err
	}
	defer sess.close()
	sess.timeout, _ = cmd.Flags().GetDuration("timeout")

	rl, err := readline.NewEx(&readline.Config{
		Prompt:            ">>> ",
		HistoryFile:       historyFile,
		HistoryLimit:      1000,
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		return fmt.Errorf("initializing readline: %w", err)
	}
	defer rl.Close()

	fmt.Fprintf(stderr, "wasmembed %s REPL (type 'exit' to quit, Ctrl+D to exit)\n", cfg.env)

	var multiLine strings.Builder
	inMultiLine := false

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				if inMultiLine {
					multiLine.Reset()
					inMultiLine = false
					rl.SetPrompt(">>> ")
				}
				continue
			}
			if err == io.EOF {
				fmt.Fprintln(stdout)
				break
			}
			return fmt.Errorf("reading input: %w", err)
		}

		if strings.HasSuffix(line, "\\") {
			multiLine.WriteString(strings.TrimSuffix(line, "\\"))
			multiLine.WriteString("\n")
			inMultiLine = true
			rl.SetPrompt("... ")
			continue
		}

		if inMultiLine {
			multiLine.WriteString(line)
			line = multiLine.String()
			multiLine.Reset()
			inMultiLine = false
			rl.SetPrompt(">>> ")
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			break
		}

		out, err := sess.eval(line)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			continue
		}
		if out != "" {
			fmt.Fprintln(stdout, out)
		}
	}
	return nil
}
