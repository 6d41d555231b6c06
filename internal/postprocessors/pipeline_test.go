package postprocessors

import (
	"context"
	"errors"
	"testing"

	"github.com/custodia-labs/keep/internal/core/domain"
)

// mockSectioner is a test sectioner that returns predefined parts.
type mockSectioner struct {
	name  string
	parts []domain.Part
	err   error
	calls int
}

func (m *mockSectioner) Name() string {
	return m.name
}

func (m *mockSectioner) Split(_ context.Context, _ string) ([]domain.Part, error) {
	m.calls++
	return m.parts, m.err
}

func parts(n int) []domain.Part {
	out := make([]domain.Part, n)
	for i := range out {
		out[i] = domain.Part{Summary: "s", Content: "c"}
	}
	return out
}

func TestNewChain(t *testing.T) {
	c := NewChain()
	if c.Len() != 0 {
		t.Errorf("expected 0 sectioners, got %d", c.Len())
	}
	c.Add(&mockSectioner{name: "a"})
	c.Add(&mockSectioner{name: "b"})
	if c.Len() != 2 {
		t.Errorf("expected 2 sectioners, got %d", c.Len())
	}
	if c.Name() != "a+b" {
		t.Errorf("expected name a+b, got %s", c.Name())
	}
}

func TestChain_FirstMultiPartResultWins(t *testing.T) {
	first := &mockSectioner{name: "first", parts: parts(1)}
	second := &mockSectioner{name: "second", parts: parts(3)}
	third := &mockSectioner{name: "third", parts: parts(5)}

	got, err := NewChain(first, second, third).Split(context.Background(), "x")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 3 {
		t.Errorf("expected 3 parts, got %d", len(got))
	}
	if third.calls != 0 {
		t.Error("sectioners after a successful split should not run")
	}
}

func TestChain_FallsBackToLastNonEmpty(t *testing.T) {
	a := &mockSectioner{name: "a", parts: parts(1)}
	b := &mockSectioner{name: "b"}

	got, err := NewChain(a, b).Split(context.Background(), "x")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("expected the single-part result, got %d parts", len(got))
	}
}

func TestChain_Error(t *testing.T) {
	boom := errors.New("boom")
	_, err := NewChain(&mockSectioner{name: "bad", err: boom}).Split(context.Background(), "x")
	if !errors.Is(err, boom) {
		t.Errorf("expected wrapped error, got %v", err)
	}
}

func TestChain_Empty(t *testing.T) {
	got, err := NewChain().Split(context.Background(), "x")
	if err != nil || got != nil {
		t.Errorf("expected nil, nil; got %v, %v", got, err)
	}
}
