package tools

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ggoodman/mcp-obsidian-go/mcp"
)

func staticTool(name, text string) Handler {
	return HandlerFunc{
		Descriptor: mcp.Tool{Name: name, Description: text, InputSchema: mcp.ToolInputSchema{Type: "object"}},
		Fn: func(ctx context.Context, args map[string]any) ([]Content, error) {
			return TextResult(text), nil
		},
	}
}

func TestRegistry_LastRegistrationWins(t *testing.T) {
	r := NewRegistry()
	r.Register(staticTool("echo", "first"))
	r.Register(staticTool("echo", "second"))
	r.Seal()

	if r.Len() != 1 {
		t.Fatalf("want 1 tool, got %d", r.Len())
	}
	out, err := r.Call(context.Background(), TransportREST, "echo", nil)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if got := out[0].(Text).Text; got != "second" {
		t.Fatalf("want %q, got %q", "second", got)
	}
	if got := r.List()[0].Description; got != "second" {
		t.Fatalf("want listed description %q, got %q", "second", got)
	}
}

func TestRegistry_ListCallConsistency(t *testing.T) {
	r := NewRegistry()
	for _, n := range []string{"c", "a", "b"} {
		r.Register(staticTool(n, n))
	}
	r.Seal()

	listed := r.List()
	if len(listed) != 3 {
		t.Fatalf("want 3 tools, got %d", len(listed))
	}
	for i, want := range []string{"a", "b", "c"} {
		if listed[i].Name != want {
			t.Fatalf("want %q at %d, got %q", want, i, listed[i].Name)
		}
		if _, err := r.Call(context.Background(), TransportSSE, want, nil); err != nil {
			t.Fatalf("listed tool %q not callable: %v", want, err)
		}
	}
	if _, err := r.Call(context.Background(), TransportSSE, "zzz", nil); !errors.Is(err, ErrToolNotFound) {
		t.Fatalf("want ErrToolNotFound, got %v", err)
	}
}

func TestRegistry_LookupMiss(t *testing.T) {
	r := NewRegistry()
	if _, ok := r.Lookup("nope"); ok {
		t.Fatalf("want miss")
	}
}

func TestRegistry_RegisterAfterSealPanics(t *testing.T) {
	r := NewRegistry()
	r.Seal()
	defer func() {
		if recover() == nil {
			t.Fatalf("want panic")
		}
	}()
	r.Register(staticTool("late", "late"))
}

func TestRegistry_HandlerFailureAndPanic(t *testing.T) {
	var mu sync.Mutex
	var seen []Observation
	r := NewRegistry(WithObserver(ObserverFunc(func(o Observation) {
		mu.Lock()
		seen = append(seen, o)
		mu.Unlock()
	})))
	r.Register(HandlerFunc{
		Descriptor: mcp.Tool{Name: "boom"},
		Fn: func(ctx context.Context, args map[string]any) ([]Content, error) {
			return nil, errors.New("vault unreachable")
		},
	})
	r.Register(HandlerFunc{
		Descriptor: mcp.Tool{Name: "panics"},
		Fn: func(ctx context.Context, args map[string]any) ([]Content, error) {
			panic("nil map")
		},
	})
	r.Register(HandlerFunc{
		Descriptor: mcp.Tool{Name: "silent"},
		Fn: func(ctx context.Context, args map[string]any) ([]Content, error) {
			return nil, errors.New("")
		},
	})
	r.Seal()

	if _, err := r.Call(context.Background(), TransportREST, "boom", nil); err == nil || err.Error() != "vault unreachable" {
		t.Fatalf("want handler error, got %v", err)
	}
	if _, err := r.Call(context.Background(), TransportREST, "panics", nil); err == nil {
		t.Fatalf("want panic converted to error")
	}
	if _, err := r.Call(context.Background(), TransportREST, "silent", nil); err == nil || err.Error() == "" {
		t.Fatalf("want non-empty error message, got %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 3 {
		t.Fatalf("want 3 observations, got %d", len(seen))
	}
	wantKinds := []string{"handler", "panic", "handler"}
	for i, o := range seen {
		if o.Success || o.ErrorKind != wantKinds[i] {
			t.Fatalf("observation %d: want kind %q, got %+v", i, wantKinds[i], o)
		}
	}
}

func TestRegistry_ConcurrentCalls(t *testing.T) {
	r := NewRegistry()
	r.Register(staticTool("echo", "hi"))
	r.Seal()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.Call(context.Background(), TransportSSE, "echo", map[string]any{}); err != nil {
				t.Errorf("call: %v", err)
			}
			_ = r.List()
		}()
	}
	wg.Wait()
}
