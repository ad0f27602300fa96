package extract

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, content, 0644))
	return path
}

func TestTextExtractor_Pages(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content []byte
		plain   bool
		want    []Page
	}{
		{
			name:    "plain text",
			file:    "a.md",
			content: []byte("Hello world."),
			want:    []Page{{Index: 0, Text: "Hello world."}},
		},
		{
			name:    "bom stripped",
			file:    "bom.txt",
			content: append([]byte{0xEF, 0xBB, 0xBF}, []byte("text")...),
			want:    []Page{{Index: 0, Text: "text"}},
		},
		{
			name:    "invalid bytes replaced",
			file:    "bad.txt",
			content: []byte("ab\xffcd"),
			want:    []Page{{Index: 0, Text: "ab�cd"}},
		},
		{
			name:    "empty file yields nothing",
			file:    "empty.txt",
			content: []byte("  \n"),
			want:    nil,
		},
		{
			name:    "markdown kept verbatim by default",
			file:    "n.md",
			content: []byte("# Title\n\nSome *text*."),
			want:    []Page{{Index: 0, Text: "# Title\n\nSome *text*."}},
		},
		{
			name:    "markdown rendered to plain text",
			file:    "n.md",
			content: []byte("# Title\n\nSome *emphasis* here.\n\n- one\n- two\n\n| A | B |\n|---|---|\n| 1 | 2 |\n"),
			plain:   true,
			want:    []Page{{Index: 0, Text: "Title\nSome emphasis here.\none\ntwo\nA | B\n1 | 2"}},
		},
		{
			name:    "plain option leaves txt alone",
			file:    "n.txt",
			content: []byte("# not a heading"),
			plain:   true,
			want:    []Page{{Index: 0, Text: "# not a heading"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, tt.file, tt.content)
			pages, err := collect(t, NewTextExtractor(tt.plain).Pages(context.Background(), path))
			require.NoError(t, err)
			assert.Equal(t, tt.want, pages)
		})
	}
}
