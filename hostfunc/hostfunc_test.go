package hostfunc

import (
	"context"
	"sync"
	"testing"
)

func TestRegistryRegisterGet(t *testing.T) {
	r := NewRegistry()
	r.Register("double", func(ctx context.Context, args ...any) (any, error) {
		return args[0].(float64) * 2, nil
	})

	fn, ok := r.Get("double")
	if !ok {
		t.Fatal("expected registered function")
	}
	got, err := fn(context.Background(), float64(21))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != float64(42) {
		t.Errorf("expected 42, got %v", got)
	}

	if _, ok := r.Get("missing"); ok {
		t.Error("missing function should not be found")
	}
}

func TestRegistryOverwrite(t *testing.T) {
	r := NewRegistry()
	r.Register("f", func(ctx context.Context, args ...any) (any, error) { return 1, nil })
	r.Register("f", func(ctx context.Context, args ...any) (any, error) { return 2, nil })

	fn, _ := r.Get("f")
	if got, _ := fn(context.Background()); got != 2 {
		t.Errorf("expected latest registration to win, got %v", got)
	}
}

func TestRegistryListSorted(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		r.Register(name, func(ctx context.Context, args ...any) (any, error) { return nil, nil })
	}

	got := r.List()
	want := []string{"alpha", "mid", "zeta"}
	if len(got) != len(want) {
		t.Fatalf("List() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("List()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			r.Register("f", func(ctx context.Context, args ...any) (any, error) { return nil, nil })
		}()
		go func() {
			defer wg.Done()
			r.Get("f")
			r.List()
		}()
	}
	wg.Wait()
}
