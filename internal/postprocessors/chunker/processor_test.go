package chunker

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestNew(t *testing.T) {
	t.Run("default values", func(t *testing.T) {
		p := New()
		if p.chunkSize != DefaultChunkSize {
			t.Errorf("expected chunkSize %d, got %d", DefaultChunkSize, p.chunkSize)
		}
		if p.overlap != DefaultChunkOverlap {
			t.Errorf("expected overlap %d, got %d", DefaultChunkOverlap, p.overlap)
		}
	})

	t.Run("overlap exceeds chunk size", func(t *testing.T) {
		p := New(WithChunkSize(100), WithOverlap(150))
		if p.overlap >= p.chunkSize {
			t.Error("overlap should be reduced when it exceeds chunk size")
		}
	})

	t.Run("invalid values ignored", func(t *testing.T) {
		p := New(WithChunkSize(0), WithOverlap(-1))
		if p.chunkSize != DefaultChunkSize || p.overlap != DefaultChunkOverlap {
			t.Errorf("expected defaults, got %d/%d", p.chunkSize, p.overlap)
		}
	})
}

func TestProcessor_Name(t *testing.T) {
	if New().Name() != "chunker" {
		t.Errorf("expected name 'chunker', got '%s'", New().Name())
	}
}

func TestSplit_EmptyContent(t *testing.T) {
	parts, err := New().Split(context.Background(), "  \n\t ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if parts != nil {
		t.Errorf("expected no parts, got %d", len(parts))
	}
}

func TestSplit_SmallContent(t *testing.T) {
	parts, err := New().Split(context.Background(), "Short note.\nSecond line.")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(parts) != 1 {
		t.Fatalf("expected 1 part, got %d", len(parts))
	}
	if parts[0].Content != "Short note.\nSecond line." {
		t.Errorf("unexpected content %q", parts[0].Content)
	}
	if parts[0].Summary != "Short note." {
		t.Errorf("unexpected summary %q", parts[0].Summary)
	}
}

func TestSplit_LargeContentOverlaps(t *testing.T) {
	content := strings.Repeat("word ", 500)
	parts, err := New(WithChunkSize(1000), WithOverlap(200)).Split(context.Background(), content)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(parts) < 3 {
		t.Fatalf("expected at least 3 parts, got %d", len(parts))
	}
	for i, part := range parts {
		if len(part.Content) > 1000 {
			t.Errorf("part %d is %d bytes", i, len(part.Content))
		}
		if strings.HasPrefix(part.Content, " ") || strings.HasSuffix(part.Content, " ") {
			t.Errorf("part %d is not trimmed", i)
		}
		if i > 0 && !strings.Contains(parts[i-1].Content, part.Content[:50]) {
			t.Errorf("part %d does not overlap its predecessor", i)
		}
	}
}

func TestSplit_PrefersParagraphBreaks(t *testing.T) {
	para := strings.Repeat("a", 80)
	content := para + "\n\n" + para + "\n\n" + para
	parts, err := New(WithChunkSize(100), WithOverlap(0)).Split(context.Background(), content)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(parts) != 3 {
		t.Fatalf("expected 3 parts, got %d", len(parts))
	}
	for i, part := range parts {
		if part.Content != para {
			t.Errorf("part %d: expected a whole paragraph, got %q", i, part.Content)
		}
	}
}

func TestSplit_MultibyteBoundaries(t *testing.T) {
	content := strings.Repeat("世界", 1000)
	parts, err := New(WithChunkSize(100), WithOverlap(10)).Split(context.Background(), content)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(parts) < 2 {
		t.Fatalf("expected several parts, got %d", len(parts))
	}
	for i, part := range parts {
		if !utf8.ValidString(part.Content) {
			t.Errorf("part %d splits a rune", i)
		}
	}
}

func TestSplit_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := New().Split(ctx, "content"); err == nil {
		t.Error("expected context error")
	}
}

func TestExcerpt(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"one line", 20, "one line"},
		{"\n  first\nsecond", 20, "first"},
		{"abcdefghij", 4, "abcd..."},
		{"日本語のテキスト", 3, "日本語..."},
	}
	for _, tc := range tests {
		if got := Excerpt(tc.in, tc.n); got != tc.want {
			t.Errorf("Excerpt(%q, %d) = %q, want %q", tc.in, tc.n, got, tc.want)
		}
	}
}
