// Package hostfunc holds Go functions exposed to bundles run by the jsrt
// package.
//
// Each registered function becomes a global in the JavaScript runtime:
//
//	registry := hostfunc.NewRegistry()
//	registry.Register("report", func(ctx context.Context, args ...any) (any, error) {
//	    fmt.Println(args...)
//	    return nil, nil
//	})
//
//	rt, _ := jsrt.New(ctx, jsrt.WithRegistry(registry))
//	rt.Run(ctx, `report("loaded", 1)`)
//
// A returned error is thrown into JavaScript as a GoError.
package hostfunc
