package indexer

import (
	"math"
	"sort"
	"sync"
	"unicode/utf8"
)

// chunkSampleSize bounds the number of chunk lengths kept for statistics.
const chunkSampleSize = 10000

// Stats collects engine counters. Safe for concurrent use.
type Stats struct {
	mu       sync.Mutex
	counters Counters
	lengths  []int
	next     int
}

// Counters are cumulative since process start.
type Counters struct {
	DocumentsIndexed int `json:"documents_indexed"`
	DocumentsSkipped int `json:"documents_skipped"`
	DocumentsRemoved int `json:"documents_removed"`
	DocumentsFailed  int `json:"documents_failed"`
	ChunksEmbedded   int `json:"chunks_embedded"`
	OCRPages         int `json:"ocr_pages"`
}

// ChunkLengthStats summarizes chunk lengths in runes over recent chunks.
type ChunkLengthStats struct {
	Min  int     `json:"min"`
	Max  int     `json:"max"`
	Mean float64 `json:"mean"`
	P95  int     `json:"p95"`
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	Counters
	ChunkLengths ChunkLengthStats `json:"chunk_lengths"`
}

func (s *Stats) indexed(chunks []string, ocrPages int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters.DocumentsIndexed++
	s.counters.ChunksEmbedded += len(chunks)
	s.counters.OCRPages += ocrPages
	for _, c := range chunks {
		n := utf8.RuneCountInString(c)
		if len(s.lengths) < chunkSampleSize {
			s.lengths = append(s.lengths, n)
			continue
		}
		s.lengths[s.next] = n
		s.next = (s.next + 1) % chunkSampleSize
	}
}

func (s *Stats) skipped() {
	s.mu.Lock()
	s.counters.DocumentsSkipped++
	s.mu.Unlock()
}

func (s *Stats) removed() {
	s.mu.Lock()
	s.counters.DocumentsRemoved++
	s.mu.Unlock()
}

func (s *Stats) failed() {
	s.mu.Lock()
	s.counters.DocumentsFailed++
	s.mu.Unlock()
}

// Snapshot returns the current counters and chunk length statistics.
func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StatsSnapshot{
		Counters:     s.counters,
		ChunkLengths: computeLengthStats(s.lengths),
	}
}

// computeLengthStats computes min, max, mean, and p95 from lengths.
func computeLengthStats(lengths []int) ChunkLengthStats {
	if len(lengths) == 0 {
		return ChunkLengthStats{}
	}

	sorted := make([]int, len(lengths))
	copy(sorted, lengths)
	sort.Ints(sorted)

	sum := 0
	for _, n := range sorted {
		sum += n
	}
	mean := float64(sum) / float64(len(sorted))

	p95Index := int(math.Ceil(float64(len(sorted))*0.95)) - 1
	if p95Index < 0 {
		p95Index = 0
	}

	return ChunkLengthStats{
		Min:  sorted[0],
		Max:  sorted[len(sorted)-1],
		Mean: math.Round(mean*100) / 100, // 2 decimal places
		P95:  sorted[p95Index],
	}
}
