package indexer

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/neurosnap/sentences"
	"github.com/neurosnap/sentences/data"
	"github.com/neurosnap/sentences/english"
)

// Chunk is one passage of a page, ready to embed.
type Chunk struct {
	Index int    // position within the page, from 0
	Text  string // passage text
}

// Splitter breaks text into sentences.
type Splitter interface {
	Split(text string) []string
}

// PunktSplitter splits sentences with a trained punkt model.
type PunktSplitter struct {
	tokenizer *sentences.DefaultSentenceTokenizer
}

// NewPunktSplitter loads the punkt model for language (e.g. "english", "german").
func NewPunktSplitter(language string) (*PunktSplitter, error) {
	language = strings.ToLower(strings.TrimSpace(language))
	if language == "" || language == "english" {
		tok, err := english.NewSentenceTokenizer(nil)
		if err != nil {
			return nil, fmt.Errorf("loading english sentence model: %w", err)
		}
		return &PunktSplitter{tokenizer: tok}, nil
	}

	b, err := data.Asset("data/" + language + ".json")
	if err != nil {
		return nil, fmt.Errorf("no sentence model for language %q: %w", language, err)
	}
	training, err := sentences.LoadTraining(b)
	if err != nil {
		return nil, fmt.Errorf("loading %s sentence model: %w", language, err)
	}
	return &PunktSplitter{tokenizer: sentences.NewSentenceTokenizer(training)}, nil
}

// Split returns the trimmed, non-empty sentences of text.
func (s *PunktSplitter) Split(text string) []string {
	var out []string
	for _, sent := range s.tokenizer.Tokenize(text) {
		if t := strings.TrimSpace(sent.Text); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// SentenceChunker packs whole sentences into chunks of at most size runes,
// seeding each new chunk with the tail of the previous one.
type SentenceChunker struct {
	splitter Splitter
	size     int
	overlap  int
}

// NewSentenceChunker creates a chunker. size must be positive and overlap in [0, size).
func NewSentenceChunker(splitter Splitter, size, overlap int) (*SentenceChunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("chunk overlap must be in [0, %d), got %d", size, overlap)
	}
	return &SentenceChunker{splitter: splitter, size: size, overlap: overlap}, nil
}

// Chunk splits text into chunks. Lengths are measured in runes.
//
// A sentence joins the current chunk while the result stays within size.
// Otherwise the chunk is closed and the next starts with the last overlap
// runes of the closed chunk, shortened so that the seed plus the sentence
// still fit. A sentence longer than size becomes a chunk on its own.
func (c *SentenceChunker) Chunk(text string) []Chunk {
	var (
		chunks []Chunk
		cur    string
	)
	emit := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" {
			return
		}
		chunks = append(chunks, Chunk{Index: len(chunks), Text: s})
	}

	for _, sent := range c.splitter.Split(text) {
		sentLen := utf8.RuneCountInString(sent)
		curLen := utf8.RuneCountInString(cur)

		if cur == "" {
			if sentLen > c.size {
				emit(sent)
				continue
			}
			cur = sent
			continue
		}
		if curLen+sentLen+1 <= c.size {
			cur += " " + sent
			continue
		}

		emit(cur)
		if sentLen > c.size {
			emit(sent)
			cur = ""
			continue
		}

		seed := tailRunes(cur, min(c.overlap, c.size-sentLen-1))
		seed = strings.TrimSpace(seed)
		if seed == "" {
			cur = sent
		} else {
			cur = seed + " " + sent
		}
	}
	emit(cur)
	return chunks
}

// tailRunes returns the last n runes of s, or s when it is shorter.
func tailRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	total := utf8.RuneCountInString(s)
	if total <= n {
		return s
	}
	skip := total - n
	for i := range s {
		if skip == 0 {
			return s[i:]
		}
		skip--
	}
	return ""
}
