package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/caffeineduck/wasmembed/bundler"
	"github.com/caffeineduck/wasmembed/plugin"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// maxWasmBody caps the size of an uploaded binary.
const maxWasmBody = 64 << 20

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP server for transforms and builds",
		Long: `Start an HTTP server that exposes the plugin over REST.

Endpoints:
  POST   /transform?path=x.wasm   Body is the binary, returns {"code","sync","bytes"}
  GET    /banner                  The shared loader
  POST   /build                   {"entry","sync","format","platform","minify"} -> {"code","warnings"}
  GET    /health                  Health check

Paths given to /build are relative to --root, and nothing outside it is read.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
	cmd.Flags().IntP("port", "p", 8080, "Port to listen on")
	cmd.Flags().String("host", "127.0.0.1", "Address to listen on")
	cmd.Flags().String("root", ".", "Directory /build may read from")
	cmd.Flags().StringSlice("sync", nil, "Load this .wasm file without a Promise (repeatable)")
	cmd.Flags().Duration("timeout", 30*time.Second, "Build timeout")
	return cmd
}

type transformResponse struct {
	Code  string `json:"code"`
	Sync  bool   `json:"sync"`
	Bytes int    `json:"bytes"`
}

type buildRequest struct {
	Entry    string   `json:"entry"`
	Sync     []string `json:"sync,omitempty"`
	Format   string   `json:"format,omitempty"`
	Platform string   `json:"platform,omitempty"`
	Minify   bool     `json:"minify,omitempty"`
}

type buildResponse struct {
	Code     string   `json:"code"`
	Warnings []string `json:"warnings,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type server struct {
	plugin  *plugin.Plugin
	root    string
	sync    []string
	timeout time.Duration
	logger  *zap.Logger
}

func newServer(p *plugin.Plugin, root string, timeout time.Duration, logger *zap.Logger) *server {
	return &server{
		plugin:  p,
		root:    root,
		sync:    p.SyncFiles(),
		timeout: timeout,
		logger:  logger,
	}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/transform", s.handleTransform)
	mux.HandleFunc("/banner", s.handleBanner)
	mux.HandleFunc("/build", s.handleBuild)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *server) handleTransform(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "path required"})
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWasmBody))
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: err.Error()})
		return
	}

	if !filepath.IsAbs(path) {
		path = filepath.Join(s.root, path)
	}
	code, ok := s.plugin.Transform(data, path)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("%s: not a .wasm file", path)})
		return
	}
	writeJSON(w, http.StatusOK, transformResponse{
		Code:  code,
		Sync:  s.plugin.IsSync(path),
		Bytes: len(data),
	})
}

func (s *server) handleBanner(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "text/javascript; charset=utf-8")
	io.WriteString(w, s.plugin.Banner())
}

func (s *server) handleBuild(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req buildRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid json"})
		return
	}
	if req.Entry == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "entry required"})
		return
	}
	entry, err := s.confine(req.Entry)
	if err != nil {
		writeJSON(w, http.StatusForbidden, errorResponse{Error: err.Error()})
		return
	}
	sync := append([]string(nil), s.sync...)
	for _, rel := range req.Sync {
		path, err := s.confine(rel)
		if err != nil {
			writeJSON(w, http.StatusForbidden, errorResponse{Error: err.Error()})
			return
		}
		sync = append(sync, path)
	}
	format, err := bundler.ParseFormat(req.Format)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	platform, err := bundler.ParsePlatform(req.Platform)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	res, err := bundler.Build(ctx, bundler.Options{
		Entry:    entry,
		Format:   format,
		Platform: platform,
		Minify:   req.Minify,
		Sync:     sync,
		Root:     s.root,
		Logger:   s.logger,
	})
	if err != nil {
		status := http.StatusInternalServerError
		var buildErr *bundler.BuildError
		if errors.As(err, &buildErr) {
			status = http.StatusUnprocessableEntity
		}
		writeJSON(w, status, errorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, buildResponse{Code: string(res.Code), Warnings: res.Warnings})
}

// confine resolves a request path against the server root and rejects it
// when it escapes.
func (s *server) confine(path string) (string, error) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(s.root, path)
	}
	if !bundler.Within(s.root, path) {
		return "", fmt.Errorf("%s: outside server root", path)
	}
	return path, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	s, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	logger, err := newLogger(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	host, _ := cmd.Flags().GetString("host")
	port, _ := cmd.Flags().GetInt("port")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	root, _ := cmd.Flags().GetString("root")
	root, err = filepath.Abs(root)
	if err != nil {
		return err
	}

	p, err := plugin.New(plugin.WithSync(s.sync...), plugin.WithLogger(logger))
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:    net.JoinHostPort(host, strconv.Itoa(port)),
		Handler: newServer(p, root, timeout, logger).routes(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	fmt.Fprintf(cmd.ErrOrStderr(), "wasmembed server listening on %s\n", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	stats := p.Stats()
	logger.Info("server stopped", zap.Int64("transformed", stats.Transformed), zap.Int64("sync", stats.Sync))
	return nil
}
