// Package company resolves free-text company mentions to DART corp codes.
// It keeps the full company directory in an immutable in-memory snapshot
// and scores candidates with normalized fuzzy matching.
package company

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/agnivade/levenshtein"

	"github.com/kfin-labs/dartdeep/internal/dart"
)

const (
	// MatchThreshold is the minimum score for a usable resolution;
	// candidates below ConfirmThreshold are flagged for confirmation.
	MatchThreshold   = 80
	ConfirmThreshold = 90
	candidateFloor   = 60
	maxCandidates    = 5
)

// Candidate is one scored directory match. Score is 0..100.
type Candidate struct {
	CorpCode  string `json:"corp_code"`
	CorpName  string `json:"corp_name"`
	StockCode string `json:"stock_code,omitempty"`
	Score     int    `json:"score"`
}

// NeedsConfirmation reports whether the match is usable but weak enough
// that the caller should surface it to the user.
func (c Candidate) NeedsConfirmation() bool {
	return c.Score < ConfirmThreshold
}

type directory interface {
	Directory(ctx context.Context) ([]dart.CorpRecord, error)
}

type snapshot struct {
	records []indexedRecord
	byStock map[string]int // stock code -> index into records
	byExact map[string]int // normalized name -> index
	builtAt time.Time
}

type indexedRecord struct {
	dart.CorpRecord
	normalized string
	tokens     []string
}

// Resolver matches query text against the company directory.
type Resolver struct {
	source directory
	logger *log.Logger
	ttl    time.Duration
	snap   atomic.Pointer[snapshot]
	now    func() time.Time
}

func NewResolver(source directory, ttl time.Duration, logger *log.Logger) *Resolver {
	if ttl == 0 {
		ttl = 7 * 24 * time.Hour
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Resolver{source: source, ttl: ttl, logger: logger, now: time.Now}
}

var stockCodeRe = regexp.MustCompile(`^\d{6}$`)

// IsStockCode reports whether token looks like a 6-digit KRX ticker.
func IsStockCode(token string) bool {
	return stockCodeRe.MatchString(strings.TrimSpace(token))
}

// Resolve returns up to five candidates for the query, best first. A
// 6-digit token resolves through the stock-code index before fuzzy search.
func (r *Resolver) Resolve(ctx context.Context, query string) ([]Candidate, error) {
	snap, err := r.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	if IsStockCode(query) {
		if i, ok := snap.byStock[query]; ok {
			rec := snap.records[i]
			return []Candidate{{CorpCode: rec.CorpCode, CorpName: rec.CorpName, StockCode: rec.StockCode, Score: 100}}, nil
		}
		return nil, nil
	}

	norm := Normalize(query)
	if i, ok := snap.byExact[norm]; ok {
		rec := snap.records[i]
		return []Candidate{{CorpCode: rec.CorpCode, CorpName: rec.CorpName, StockCode: rec.StockCode, Score: 100}}, nil
	}

	qTokens := tokenize(norm)
	var out []Candidate
	for _, rec := range snap.records {
		s := score(norm, qTokens, rec)
		if s < candidateFloor {
			continue
		}
		out = append(out, Candidate{CorpCode: rec.CorpCode, CorpName: rec.CorpName, StockCode: rec.StockCode, Score: s})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		// listed companies and shorter canonical names win ties
		if (out[i].StockCode != "") != (out[j].StockCode != "") {
			return out[i].StockCode != ""
		}
		if len(out[i].CorpName) != len(out[j].CorpName) {
			return len(out[i].CorpName) < len(out[j].CorpName)
		}
		return out[i].CorpName < out[j].CorpName
	})
	if len(out) > maxCandidates {
		out = out[:maxCandidates]
	}
	return out, nil
}

// Best returns the single best candidate at or above MatchThreshold.
func (r *Resolver) Best(ctx context.Context, query string) (*Candidate, error) {
	cands, err := r.Resolve(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(cands) == 0 || cands[0].Score < MatchThreshold {
		return nil, nil
	}
	c := cands[0]
	return &c, nil
}

// Refresh rebuilds the snapshot regardless of age.
func (r *Resolver) Refresh(ctx context.Context) error {
	records, err := r.source.Directory(ctx)
	if err != nil {
		return fmt.Errorf("refresh company directory: %w", err)
	}
	snap := buildSnapshot(records, r.now())
	r.snap.Store(snap)
	r.logger.Printf("company directory snapshot rebuilt: %d records", len(snap.records))
	return nil
}

func (r *Resolver) snapshot(ctx context.Context) (*snapshot, error) {
	if s := r.snap.Load(); s != nil && r.now().Sub(s.builtAt) < r.ttl {
		return s, nil
	}
	if err := r.Refresh(ctx); err != nil {
		// a stale snapshot beats failing the whole run
		if s := r.snap.Load(); s != nil {
			r.logger.Printf("directory refresh failed, serving stale snapshot: %v", err)
			return s, nil
		}
		return nil, err
	}
	return r.snap.Load(), nil
}

func buildSnapshot(records []dart.CorpRecord, at time.Time) *snapshot {
	s := &snapshot{
		byStock: make(map[string]int),
		byExact: make(map[string]int, len(records)),
		builtAt: at,
	}
	for _, rec := range records {
		if rec.CorpCode == "" || rec.CorpName == "" {
			continue
		}
		norm := Normalize(rec.CorpName)
		s.records = append(s.records, indexedRecord{
			CorpRecord: rec,
			normalized: norm,
			tokens:     tokenize(norm),
		})
		i := len(s.records) - 1
		if rec.StockCode != "" {
			s.byStock[rec.StockCode] = i
		}
		if prev, ok := s.byExact[norm]; !ok {
			s.byExact[norm] = i
		} else if s.records[prev].StockCode == "" && rec.StockCode != "" {
			// prefer the listed entity under a shared name
			s.byExact[norm] = i
		}
	}
	return s
}

var legalSuffixes = []string{"주식회사", "(주)", "㈜", "유한회사", "유한책임회사"}

// Normalize lowers, strips corporate suffixes and removes whitespace so
// "삼성전자 주식회사" and "삼성전자" collide.
func Normalize(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	for _, suf := range legalSuffixes {
		n = strings.ReplaceAll(n, suf, "")
	}
	return strings.Join(strings.Fields(n), "")
}

func tokenize(normalized string) []string {
	// hangul names rarely carry spaces post-normalization; split on any
	// non-alphanumeric boundary that survived
	return strings.FieldsFunc(normalized, func(r rune) bool {
		return r == '-' || r == '_' || r == '.' || r == ','
	})
}

// score blends containment, token overlap and edit distance into 0..100.
func score(query string, qTokens []string, rec indexedRecord) int {
	name := rec.normalized
	if query == name {
		return 100
	}
	best := 0

	if strings.Contains(name, query) || strings.Contains(query, name) {
		shorter, longer := len(query), len(name)
		if shorter > longer {
			shorter, longer = longer, shorter
		}
		if longer > 0 {
			best = 70 + (25*shorter)/longer
		}
	}

	if sim := editSimilarity(query, name); sim > best {
		best = sim
	}

	if len(qTokens) > 1 && len(rec.tokens) > 1 {
		if sim := jaccard(qTokens, rec.tokens); sim > best {
			best = sim
		}
	}
	if best > 99 {
		best = 99 // only byte-equality earns 100
	}
	return best
}

func editSimilarity(a, b string) int {
	la, lb := len([]rune(a)), len([]rune(b))
	if la == 0 || lb == 0 {
		return 0
	}
	d := levenshtein.ComputeDistance(a, b)
	max := la
	if lb > max {
		max = lb
	}
	return (100 * (max - d)) / max
}

func jaccard(a, b []string) int {
	set := make(map[string]bool, len(a))
	for _, t := range a {
		set[t] = true
	}
	inter := 0
	union := len(set)
	for _, t := range b {
		if set[t] {
			inter++
		} else {
			union++
		}
	}
	if union == 0 {
		return 0
	}
	return (100 * inter) / union
}
