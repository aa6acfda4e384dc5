// Package testwasm holds small hand-assembled WebAssembly binaries shared by
// tests across the module.
package testwasm

import (
	"os"
	"path/filepath"
	"testing"
)

// Empty is the smallest valid module: magic and version only.
var Empty = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

// Add exports add(i32, i32) -> i32.
var Add = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
	// type: (i32, i32) -> i32
	0x01, 0x07, 0x01, 0x60, 0x02, 0x7f, 0x7f, 0x01, 0x7f,
	// func: 0 -> type 0
	0x03, 0x02, 0x01, 0x00,
	// export "add" func 0
	0x07, 0x07, 0x01, 0x03, 0x61, 0x64, 0x64, 0x00, 0x00,
	// code: local.get 0, local.get 1, i32.add
	0x0a, 0x09, 0x01, 0x07, 0x00, 0x20, 0x00, 0x20, 0x01, 0x6a, 0x0b,
}

// Imports imports env.log(i32) and exports run(), which calls log(42).
var Imports = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
	// types: (i32) -> (), () -> ()
	0x01, 0x08, 0x02, 0x60, 0x01, 0x7f, 0x00, 0x60, 0x00, 0x00,
	// import "env" "log" func type 0
	0x02, 0x0b, 0x01, 0x03, 0x65, 0x6e, 0x76, 0x03, 0x6c, 0x6f, 0x67, 0x00, 0x00,
	// func: 1 -> type 1
	0x03, 0x02, 0x01, 0x01,
	// export "run" func 1
	0x07, 0x07, 0x01, 0x03, 0x72, 0x75, 0x6e, 0x00, 0x01,
	// code: i32.const 42, call 0
	0x0a, 0x08, 0x01, 0x06, 0x00, 0x41, 0x2a, 0x10, 0x00, 0x0b,
}

// Invalid has a bad magic number.
var Invalid = []byte{0x00, 0x61, 0x73, 0x6e, 0x01, 0x00, 0x00, 0x00}

// AllBytes returns 0..255 in order.
func AllBytes() []byte {
	b := make([]byte, 256)
	for i := range b {
		b[i] = byte(i)
	}
	return b
}

// WriteFile writes data to name under dir and returns the full path.
func WriteFile(t testing.TB, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}
