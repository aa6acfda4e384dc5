package main

import (
	"bytes"
	"context"
	"strconv"
	"strings"
	"testing"

	"github.com/caffeineduck/wasmembed/internal/testwasm"
	"github.com/caffeineduck/wasmembed/jsrt"
	"go.uber.org/zap"
)

func newTestSession(t *testing.T, s *settings) (*replSession, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	sess, err := newReplSession(context.Background(), s, &out, &out, zap.NewNop())
	if err != nil {
		t.Fatalf("newReplSession: %v", err)
	}
	t.Cleanup(sess.close)
	return sess, &out
}

func mustEval(t *testing.T, sess *replSession, line string) string {
	t.Helper()
	got, err := sess.eval(line)
	if err != nil {
		t.Fatalf("eval %q: %v", line, err)
	}
	return got
}

func TestReplFormatting(t *testing.T) {
	sess, _ := newTestSession(t, &settings{env: jsrt.EnvNode})

	tests := []struct {
		line string
		want string
	}{
		{"1 + 2", "3"},
		{"'hi'", "'hi'"},
		{"var x = 1", ""},
		{"null", "null"},
		{"[1, 2]", "[ 1,2 ]"},
		{"({a: 1, b: 2})", "{ a, b }"},
		{"Promise.resolve(7)", "Promise { 7 }"},
		{"new Promise(function () {})", "Promise { <pending> }"},
	}
	for _, tt := range tests {
		if got := mustEval(t, sess, tt.line); got != tt.want {
			t.Errorf("eval(%q) = %q, want %q", tt.line, got, tt.want)
		}
	}
}

func TestReplLoadWasm(t *testing.T) {
	dir := t.TempDir()
	syncPath := testwasm.WriteFile(t, dir, "sync.wasm", testwasm.Add)
	asyncPath := testwasm.WriteFile(t, dir, "async.wasm", testwasm.Add)

	sess, _ := newTestSession(t, &settings{env: jsrt.EnvBrowser, sync: []string{syncPath}})

	if got := mustEval(t, sess, "loadWasm("+strconv.Quote(syncPath)+")"); got != "WebAssembly.Module {}" {
		t.Errorf("sync compile = %q", got)
	}
	if got := mustEval(t, sess, "loadWasm("+strconv.Quote(syncPath)+", {})"); got != "WebAssembly.Instance { exports: [add] }" {
		t.Errorf("sync instantiate = %q", got)
	}
	if got := mustEval(t, sess, "loadWasm("+strconv.Quote(syncPath)+", {}).exports.add(20, 22)"); got != "42" {
		t.Errorf("add = %q", got)
	}
	if got := mustEval(t, sess, "loadWasm("+strconv.Quote(asyncPath)+")"); got != "Promise { WebAssembly.Module {} }" {
		t.Errorf("async compile = %q", got)
	}
	if got := mustEval(t, sess, "loadWasm("+strconv.Quote(asyncPath)+", {})"); got != "Promise { { module, instance } }" {
		t.Errorf("async instantiate = %q", got)
	}
}

func TestReplLoadWasmErrors(t *testing.T) {
	sess, _ := newTestSession(t, &settings{env: jsrt.EnvNode})

	if _, err := sess.eval("loadWasm('notes.txt')"); err == nil || !strings.Contains(err.Error(), "not a .wasm file") {
		t.Errorf("expected rejection of non-wasm path, got %v", err)
	}
	if _, err := sess.eval("loadWasm('/does/not/exist.wasm')"); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestReplConsole(t *testing.T) {
	sess, out := newTestSession(t, &settings{env: jsrt.EnvNode})

	mustEval(t, sess, "console.log('hello')")
	if out.String() != "hello\n" {
		t.Errorf("expected console output, got %q", out.String())
	}
}

func TestReplKV(t *testing.T) {
	sess, _ := newTestSession(t, &settings{env: jsrt.EnvNode, kv: true})

	mustEval(t, sess, "kv_set('answer', 42)")
	if got := mustEval(t, sess, "kv_get('answer')"); got != "42" {
		t.Errorf("kv_get = %q, want 42", got)
	}
	if got := mustEval(t, sess, "kv_get('missing', 'none')"); got != "'none'" {
		t.Errorf("kv_get default = %q", got)
	}

	plain, _ := newTestSession(t, &settings{env: jsrt.EnvNode})
	if got := mustEval(t, plain, "typeof kv_get"); got != "'undefined'" {
		t.Errorf("kv should be off by default, got %q", got)
	}
}
