package pipeline

import (
	"context"
	"strings"
	"sync"

	"github.com/ternarybob/venari/internal/models"
)

const (
	urlSetCap  = 10000
	hashSetCap = 5000

	// Similarity signatures grow to signatureCap, then trim to the most
	// recent signatureRetain in one pass.
	signatureCap    = 10000
	signatureRetain = 5000
)

// DeduplicationStage drops records already seen by URL, content hash, or
// near-duplicate content (Jaccard similarity over title, company and
// description tokens). State persists across batches and runs until Reset,
// with bounded memory.
type DeduplicationStage struct {
	// Threshold is the Jaccard similarity at or above which two
	// descriptions count as duplicates. Zero disables similarity checks.
	Threshold float64

	mu         sync.Mutex
	seenURLs   map[string]bool
	seenHashes map[string]bool
	urlOrder   []string
	hashOrder  []string
	recent     []map[string]bool // token signatures of recently kept records
}

// NewDeduplicationStage creates the stage with the given similarity
// threshold (0.85 is the usual setting).
func NewDeduplicationStage(threshold float64) *DeduplicationStage {
	return &DeduplicationStage{
		Threshold:  threshold,
		seenURLs:   make(map[string]bool),
		seenHashes: make(map[string]bool),
	}
}

func (s *DeduplicationStage) Name() models.StageName { return models.StageDeduplication }

// Reset clears all dedup state.
func (s *DeduplicationStage) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seenURLs = make(map[string]bool)
	s.seenHashes = make(map[string]bool)
	s.urlOrder = nil
	s.hashOrder = nil
	s.recent = nil
}

// ProcessBatch keeps first occurrences in input order.
func (s *DeduplicationStage) ProcessBatch(ctx context.Context, records []*models.JobRecord) ([]*models.JobRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var kept []*models.JobRecord
	for _, rec := range records {
		if s.isDuplicateLocked(rec) {
			continue
		}
		s.rememberLocked(rec)
		kept = append(kept, rec)
	}
	return kept, nil
}

func (s *DeduplicationStage) isDuplicateLocked(rec *models.JobRecord) bool {
	if rec.URL != "" && s.seenURLs[rec.URL] {
		return true
	}
	hash := rec.ContentHash
	if hash == "" {
		hash = rec.ComputeContentHash()
	}
	if s.seenHashes[hash] {
		return true
	}
	if s.Threshold > 0 {
		tokens := signature(rec)
		if len(tokens) > 0 {
			for _, prior := range s.recent {
				if jaccard(tokens, prior) >= s.Threshold {
					return true
				}
			}
		}
	}
	return false
}

func (s *DeduplicationStage) rememberLocked(rec *models.JobRecord) {
	if rec.URL != "" && !s.seenURLs[rec.URL] {
		s.seenURLs[rec.URL] = true
		s.urlOrder = append(s.urlOrder, rec.URL)
		if len(s.urlOrder) > urlSetCap {
			delete(s.seenURLs, s.urlOrder[0])
			s.urlOrder = s.urlOrder[1:]
		}
	}

	hash := rec.ContentHash
	if hash == "" {
		hash = rec.ComputeContentHash()
	}
	if !s.seenHashes[hash] {
		s.seenHashes[hash] = true
		s.hashOrder = append(s.hashOrder, hash)
		if len(s.hashOrder) > hashSetCap {
			delete(s.seenHashes, s.hashOrder[0])
			s.hashOrder = s.hashOrder[1:]
		}
	}

	if s.Threshold > 0 {
		if tokens := signature(rec); len(tokens) > 0 {
			s.recent = append(s.recent, tokens)
			if len(s.recent) > signatureCap {
				s.recent = append([]map[string]bool(nil), s.recent[len(s.recent)-signatureRetain:]...)
			}
		}
	}
}

// signature is the token set similarity compares: title, company and
// description together, so shared boilerplate descriptions alone cannot
// collapse distinct jobs.
func signature(rec *models.JobRecord) map[string]bool {
	return tokenSet(rec.Title + " " + rec.Company + " " + rec.Description)
}

func tokenSet(text string) map[string]bool {
	tokens := make(map[string]bool)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,;:!?()[]{}\"'")
		if len(word) > 2 {
			tokens[word] = true
		}
	}
	return tokens
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(b) < len(a) {
		small, large = b, a
	}
	intersection := 0
	for token := range small {
		if large[token] {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	return float64(intersection) / float64(union)
}
