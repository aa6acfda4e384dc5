package loader

import (
	_ "embed"
	"strconv"
	"strings"
	"sync"

	"github.com/valyala/fasttemplate"
)

// FunctionName is the global the banner defines and generated modules call.
const FunctionName = "_loadWasmModule"

//go:embed loader.js
var sourceTemplate string

// Outcome is one cell of the sync/async x compile/instantiate matrix.
type Outcome int

const (
	// CompileAsync compiles the module without instantiating it and
	// resolves to a WebAssembly.Module.
	CompileAsync Outcome = iota
	// InstantiateAsync compiles and instantiates with the caller's imports,
	// resolving to {module, instance}.
	InstantiateAsync
	// CompileSync returns a WebAssembly.Module immediately.
	CompileSync
	// InstantiateSync returns a WebAssembly.Instance immediately.
	InstantiateSync
)

// Weights used to compute the table index on both sides.
const (
	importsWeight = 1
	syncWeight    = 2
)

// Select returns the outcome for a module configured as sync (or not) and
// called with (or without) an imports object.
func Select(sync, hasImports bool) Outcome {
	o := CompileAsync
	if sync {
		o += syncWeight
	}
	if hasImports {
		o += importsWeight
	}
	return o
}

// Outcomes returns every outcome in dispatch-table order.
func Outcomes() []Outcome {
	return []Outcome{CompileAsync, InstantiateAsync, CompileSync, InstantiateSync}
}

// Sync reports whether the outcome returns without a Promise.
func (o Outcome) Sync() bool {
	return o == CompileSync || o == InstantiateSync
}

// Instantiates reports whether the outcome produces a running instance.
func (o Outcome) Instantiates() bool {
	return o == InstantiateAsync || o == InstantiateSync
}

func (o Outcome) String() string {
	switch o {
	case CompileAsync:
		return "compile-async"
	case InstantiateAsync:
		return "instantiate-async"
	case CompileSync:
		return "compile-sync"
	case InstantiateSync:
		return "instantiate-sync"
	default:
		return "outcome(" + strconv.Itoa(int(o)) + ")"
	}
}

// Expr returns the JavaScript function implementing the outcome. The
// function takes the decoded bytes and the imports object.
func (o Outcome) Expr() string {
	switch o {
	case CompileAsync:
		return "function (buf) { return WebAssembly.compile(buf) }"
	case InstantiateAsync:
		return "function (buf, imports) { return WebAssembly.instantiate(buf, imports) }"
	case CompileSync:
		return "function (buf) { return new WebAssembly.Module(buf) }"
	case InstantiateSync:
		return "function (buf, imports) { return new WebAssembly.Instance(new WebAssembly.Module(buf), imports) }"
	default:
		panic("loader: unknown outcome " + o.String())
	}
}

var (
	source     string
	sourceOnce sync.Once
)

// Source returns the shared loader snippet injected once per bundle.
func Source() string {
	sourceOnce.Do(func() {
		outcomes := Outcomes()
		rows := make([]string, len(outcomes))
		for i, o := range outcomes {
			rows[i] = "  /* " + o.String() + " */ " + o.Expr()
		}
		t := fasttemplate.New(sourceTemplate, "<%", "%>")
		source = strings.TrimSpace(t.ExecuteString(map[string]interface{}{
			"outcomes":      strings.Join(rows, ",\n"),
			"name":          FunctionName,
			"syncWeight":    strconv.Itoa(syncWeight),
			"importsWeight": strconv.Itoa(importsWeight),
		}))
	})
	return source
}
