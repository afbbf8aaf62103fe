package format

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestChunkShortInputPassthrough(t *testing.T) {
	input := "fits in one message"
	got := Chunk(input, 100)
	if len(got) != 1 || got[0] != input {
		t.Errorf("Chunk = %v, want single unchanged element", got)
	}
}

func TestChunkEmptyInput(t *testing.T) {
	got := Chunk("", 100)
	if len(got) != 1 || got[0] != "" {
		t.Errorf("Chunk(\"\") = %v, want one empty element", got)
	}
}

func TestChunkRespectsLimitAndReconstructs(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		maxLen int
	}{
		{
			name:   "paragraphs",
			input:  strings.Repeat("First paragraph of the reply.\n\nSecond paragraph with more detail.\n\n", 40),
			maxLen: 200,
		},
		{
			name:   "single lines",
			input:  strings.Repeat("line of output\n", 100),
			maxLen: 120,
		},
		{
			name:   "sentences no newlines",
			input:  strings.Repeat("This is a sentence. Here is another one! Is this a third? ", 30),
			maxLen: 150,
		},
		{
			name:   "no boundaries at all",
			input:  strings.Repeat("x", 5000),
			maxLen: 1024,
		},
		{
			name:   "default limit",
			input:  strings.Repeat("word ", 2000),
			maxLen: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limit := tt.maxLen
			if limit == 0 {
				limit = TelegramMessageLimit
			}
			chunks := Chunk(tt.input, tt.maxLen)
			if len(chunks) < 2 {
				t.Fatalf("expected multiple chunks, got %d", len(chunks))
			}
			for i, c := range chunks {
				if len(c) == 0 {
					t.Errorf("chunk %d is empty", i)
				}
				if len(c) > limit {
					t.Errorf("chunk %d has %d bytes, limit %d", i, len(c), limit)
				}
			}
			if joined := strings.Join(chunks, ""); joined != tt.input {
				t.Error("concatenated chunks do not reconstruct the input")
			}
		})
	}
}

func TestChunkPrefersParagraphBoundary(t *testing.T) {
	// A paragraph break inside the lookback window must win over a plain
	// word boundary.
	input := strings.Repeat("a", 80) + "\n\n" + strings.Repeat("b c ", 100)
	chunks := Chunk(input, 100)
	if chunks[0] != strings.Repeat("a", 80)+"\n\n" {
		t.Errorf("first chunk = %q, want cut after paragraph break", chunks[0])
	}
}

func TestChunkNeverSplitsEscape(t *testing.T) {
	// Every reserved character escaped: a naive cut at maxLen would
	// orphan a backslash at a chunk end.
	input := Escape(strings.Repeat(".", 3000))
	chunks := Chunk(input, 1024)
	for i, c := range chunks {
		n := 0
		for j := len(c) - 1; j >= 0 && c[j] == '\\'; j-- {
			n++
		}
		if n%2 == 1 {
			t.Errorf("chunk %d ends with an orphaned escape backslash", i)
		}
	}
	if strings.Join(chunks, "") != input {
		t.Error("concatenated chunks do not reconstruct the input")
	}
}

func TestChunkNeverSplitsRune(t *testing.T) {
	input := strings.Repeat("日本語テキスト", 300)
	chunks := Chunk(input, 100)
	for i, c := range chunks {
		if !utf8.ValidString(c) {
			t.Errorf("chunk %d is not valid UTF-8", i)
		}
	}
	if strings.Join(chunks, "") != input {
		t.Error("concatenated chunks do not reconstruct the input")
	}
}

func TestChunkExactLimit(t *testing.T) {
	input := strings.Repeat("x", 1024)
	got := Chunk(input, 1024)
	if len(got) != 1 {
		t.Errorf("input exactly at limit split into %d chunks", len(got))
	}
}
