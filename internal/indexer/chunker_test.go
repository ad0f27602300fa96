package indexer

import (
	"strings"
	"testing"
	"unicode/utf8"
)

// periodSplitter splits on ". " and keeps the period.
type periodSplitter struct{}

func (periodSplitter) Split(text string) []string {
	var out []string
	for _, s := range strings.SplitAfter(text, ". ") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func TestNewSentenceChunker(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		overlap int
		wantErr bool
	}{
		{"valid", 100, 20, false},
		{"no overlap", 100, 0, false},
		{"zero size", 0, 0, true},
		{"overlap equals size", 100, 100, true},
		{"negative overlap", 100, -1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSentenceChunker(periodSplitter{}, tt.size, tt.overlap)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewSentenceChunker() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSentenceChunker_Chunk(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		overlap int
		text    string
		want    []string
	}{
		{
			name: "empty text",
			size: 50,
			text: "",
			want: nil,
		},
		{
			name: "fits in one chunk",
			size: 50,
			text: "One. Two. Three.",
			want: []string{"One. Two. Three."},
		},
		{
			name:    "overlap seeds next chunk",
			size:    20,
			overlap: 5,
			text:    "Aaaa bbbb. Cccc dddd. Eeee ffff.",
			want:    []string{"Aaaa bbbb.", "bbbb. Cccc dddd.", "dddd. Eeee ffff."},
		},
		{
			name:    "oversized sentence stands alone",
			size:    10,
			overlap: 3,
			text:    "Short. This sentence is far too long. End.",
			want:    []string{"Short.", "This sentence is far too long.", "End."},
		},
		{
			name:    "seed shortened to fit sentence",
			size:    12,
			overlap: 8,
			text:    "Abcdefghij. Klmnopqrst.",
			want:    []string{"Abcdefghij.", "Klmnopqrst."},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewSentenceChunker(periodSplitter{}, tt.size, tt.overlap)
			if err != nil {
				t.Fatalf("NewSentenceChunker() error = %v", err)
			}
			got := c.Chunk(tt.text)
			if len(got) != len(tt.want) {
				t.Fatalf("Chunk() = %v, want %v", got, tt.want)
			}
			for i, ch := range got {
				if ch.Index != i {
					t.Errorf("chunk %d has Index %d", i, ch.Index)
				}
				if ch.Text != tt.want[i] {
					t.Errorf("chunk %d = %q, want %q", i, ch.Text, tt.want[i])
				}
			}
		})
	}
}

func TestSentenceChunker_BoundaryInvariant(t *testing.T) {
	splitter, err := NewPunktSplitter("english")
	if err != nil {
		t.Fatalf("NewPunktSplitter() error = %v", err)
	}
	c, err := NewSentenceChunker(splitter, 120, 30)
	if err != nil {
		t.Fatalf("NewSentenceChunker() error = %v", err)
	}

	var b strings.Builder
	for i := 0; i < 40; i++ {
		b.WriteString("The quarterly report lists revenue, costs and the outlook for next year. ")
		b.WriteString("Überprüfung läuft. ")
	}
	text := b.String()

	chunks := c.Chunk(text)
	if len(chunks) < 2 {
		t.Fatalf("expected several chunks, got %d", len(chunks))
	}

	sentences := splitter.Split(text)
	longest := 0
	for _, s := range sentences {
		longest = max(longest, utf8.RuneCountInString(s))
	}

	for i, ch := range chunks {
		n := utf8.RuneCountInString(ch.Text)
		if n > 120 && n > longest {
			t.Errorf("chunk %d has %d runes, exceeds size and longest sentence", i, n)
		}
		if ch.Index != i {
			t.Errorf("chunk %d has Index %d", i, ch.Index)
		}
		if strings.TrimSpace(ch.Text) == "" {
			t.Errorf("chunk %d is empty", i)
		}
	}

	again := c.Chunk(text)
	for i := range chunks {
		if chunks[i] != again[i] {
			t.Fatalf("Chunk() is not deterministic at %d", i)
		}
	}
}

func TestNewPunktSplitter(t *testing.T) {
	s, err := NewPunktSplitter("")
	if err != nil {
		t.Fatalf("NewPunktSplitter(\"\") error = %v", err)
	}
	got := s.Split("Dr. Smith arrived at 5 p.m. yesterday. He left early.")
	if len(got) < 2 {
		t.Errorf("Split() = %v, want at least 2 sentences", got)
	}

	if _, err := NewPunktSplitter("klingon"); err == nil {
		t.Error("NewPunktSplitter(klingon) should return error")
	}
}

func TestTailRunes(t *testing.T) {
	tests := []struct {
		s    string
		n    int
		want string
	}{
		{"hello", 3, "llo"},
		{"hello", 10, "hello"},
		{"hello", 0, ""},
		{"héllo", 4, "éllo"},
	}
	for _, tt := range tests {
		if got := tailRunes(tt.s, tt.n); got != tt.want {
			t.Errorf("tailRunes(%q, %d) = %q, want %q", tt.s, tt.n, got, tt.want)
		}
	}
}
