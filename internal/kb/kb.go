// Package kb implements relevance search over a file-backed knowledge base
// with a freshness-checked in-process cache.
package kb

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultTopK = 5
	MaxTopK     = 10
	snippetLen  = 150
)

// Scoring weights.
const (
	titleWeight   = 3.0
	contentWeight = 1.0
	tagWeight     = 2.0
	phraseBonus   = 5.0
)

// ErrSourceUnavailable is returned when the knowledge source cannot be
// stat'ed, read or parsed.
var ErrSourceUnavailable = errors.New("knowledge source unavailable")

// Audience values.
const (
	AudienceCustomer = "customer"
	AudienceInternal = "internal"
)

// Entry is one knowledge-base document.
type Entry struct {
	ID          string   `json:"id" yaml:"id"`
	Title       string   `json:"title" yaml:"title"`
	Content     string   `json:"content" yaml:"content"`
	Tags        []string `json:"tags" yaml:"tags"`
	Audience    string   `json:"audience" yaml:"audience"`
	LastUpdated string   `json:"last_updated,omitempty" yaml:"last_updated,omitempty"`
}

// Query is a search request. Empty Tags or Audience means no filter.
type Query struct {
	Text     string
	TopK     int
	Tags     []string
	Audience string
}

// Result is one scored hit.
type Result struct {
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	Score   float64  `json:"score"`
	Snippet string   `json:"snippet"`
	Tags    []string `json:"tags"`
}

type token struct {
	modTime time.Time
	size    int64
}

type snapshot struct {
	token   token
	entries []Entry
}

// Engine searches a single knowledge source. It is safe for concurrent use.
type Engine struct {
	path   string
	cache  atomic.Pointer[snapshot]
	reload sync.Mutex
	loads  atomic.Int64
}

// NewEngine creates an engine for the file at path. The file is not read
// until the first search.
func NewEngine(path string) *Engine {
	return &Engine{path: path}
}

// Path returns the knowledge source path.
func (e *Engine) Path() string { return e.path }

// Loads returns how many times the source has been parsed.
func (e *Engine) Loads() int64 { return e.loads.Load() }

// Entries returns the current entries, reloading the source if it changed.
func (e *Engine) Entries() ([]Entry, error) {
	snap, err := e.current()
	if err != nil {
		return nil, err
	}
	return snap.entries, nil
}

// Search scores entries against q and returns at most q.TopK results,
// best first.
func (e *Engine) Search(q Query) ([]Result, error) {
	snap, err := e.current()
	if err != nil {
		return nil, err
	}

	topK := q.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}
	if topK > MaxTopK {
		topK = MaxTopK
	}

	phrase := strings.ToLower(q.Text)
	words := wordSet(phrase)
	if len(words) == 0 {
		return []Result{}, nil
	}

	filterTags := make([]string, len(q.Tags))
	for i, t := range q.Tags {
		filterTags[i] = strings.ToLower(t)
	}
	audience := strings.ToLower(q.Audience)

	results := []Result{}
	for _, entry := range snap.entries {
		if len(filterTags) > 0 && !sharesTag(entry.Tags, filterTags) {
			continue
		}
		if audience != "" && strings.ToLower(entry.Audience) != audience {
			continue
		}

		score := scoreEntry(entry, phrase, words)
		if score <= 0 {
			continue
		}
		tags := entry.Tags
		if tags == nil {
			tags = []string{}
		}
		results = append(results, Result{
			ID:      entry.ID,
			Title:   entry.Title,
			Score:   math.Round(score*100) / 100,
			Snippet: snippet(entry.Content),
			Tags:    tags,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// current returns the cached snapshot when the freshness token still
// matches, otherwise reparses the source.
func (e *Engine) current() (*snapshot, error) {
	tok, err := e.stat()
	if err != nil {
		e.cache.Store(nil)
		return nil, err
	}
	if snap := e.cache.Load(); snap != nil && snap.token == tok {
		return snap, nil
	}

	e.reload.Lock()
	defer e.reload.Unlock()

	// Another caller may have reloaded while we waited.
	if snap := e.cache.Load(); snap != nil && snap.token == tok {
		return snap, nil
	}

	entries, err := e.parse()
	if err != nil {
		e.cache.Store(nil)
		return nil, err
	}
	snap := &snapshot{token: tok, entries: entries}
	e.cache.Store(snap)
	e.loads.Add(1)
	return snap, nil
}

func (e *Engine) stat() (token, error) {
	info, err := os.Stat(e.path)
	if err != nil {
		return token{}, fmt.Errorf("kb: stat %s: %w: %v", e.path, ErrSourceUnavailable, err)
	}
	return token{modTime: info.ModTime(), size: info.Size()}, nil
}

func (e *Engine) parse() ([]Entry, error) {
	data, err := os.ReadFile(e.path)
	if err != nil {
		return nil, fmt.Errorf("kb: read %s: %w: %v", e.path, ErrSourceUnavailable, err)
	}

	var entries []Entry
	switch strings.ToLower(filepath.Ext(e.path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &entries)
	default:
		err = json.Unmarshal(data, &entries)
	}
	if err != nil {
		return nil, fmt.Errorf("kb: parse %s: %w: %v", e.path, ErrSourceUnavailable, err)
	}

	seen := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		if _, dup := seen[entry.ID]; dup {
			return nil, fmt.Errorf("kb: parse %s: %w: duplicate id %q", e.path, ErrSourceUnavailable, entry.ID)
		}
		seen[entry.ID] = struct{}{}
	}
	return entries, nil
}

func scoreEntry(entry Entry, phrase string, words map[string]struct{}) float64 {
	title := strings.ToLower(entry.Title)
	content := strings.ToLower(entry.Content)

	tags := make(map[string]struct{}, len(entry.Tags))
	for _, t := range entry.Tags {
		tags[strings.ToLower(t)] = struct{}{}
	}

	score := titleWeight*float64(overlap(words, wordSet(title))) +
		contentWeight*float64(overlap(words, wordSet(content))) +
		tagWeight*float64(overlap(words, tags))

	if strings.Contains(title, phrase) || strings.Contains(content, phrase) {
		score += phraseBonus
	}
	return score
}

func wordSet(s string) map[string]struct{} {
	fields := strings.Fields(s)
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

func overlap(a, b map[string]struct{}) int {
	n := 0
	for w := range a {
		if _, ok := b[w]; ok {
			n++
		}
	}
	return n
}

func sharesTag(entryTags, filter []string) bool {
	for _, t := range entryTags {
		lt := strings.ToLower(t)
		for _, f := range filter {
			if lt == f {
				return true
			}
		}
	}
	return false
}

func snippet(content string) string {
	runes := []rune(content)
	if len(runes) <= snippetLen {
		return content
	}
	return string(runes[:snippetLen]) + "..."
}
