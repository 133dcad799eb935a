// Package retrieval surfaces previously-authored example pairs similar to a
// new authoring query. The corpus is a CSV read once at construction; the
// similarity index is a pre-built Qdrant collection whose payloads carry the
// retrieval key. Only the query is ever embedded here.
package retrieval

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/quizsmith/quizsmith-backend/internal/platform/logger"
	"github.com/quizsmith/quizsmith-backend/internal/platform/qdrant"
)

// ExamplesPlaceholder is the slot FormatTemplate fills in a base template.
const ExamplesPlaceholder = "{examples}"

// Example is one (input, target) pair from the corpus.
type Example struct {
	Key      string
	Target   string
	Metadata map[string]any

	corpusOrder int
}

// Filter is a predicate over example metadata. A nil filter admits everything.
type Filter func(metadata map[string]any) bool

// Embeddings is the query-embedding capability the retriever consumes.
type Embeddings interface {
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
}

// Retriever returns the k nearest examples to a query, honoring the installed
// filter.
type Retriever interface {
	SetFilter(pred Filter)
	Retrieve(ctx context.Context, query string, k int) ([]Example, error)
	FormatTemplate(ctx context.Context, query string, k int, base string) (string, error)
	// Sync embeds the corpus and upserts it into the index namespace.
	Sync(ctx context.Context) error
}

type Config struct {
	CorpusPath   string
	InputColumn  string
	TargetColumn string
	Namespace    string
	// Overfetch controls how many extra candidates are pulled from the index
	// to survive filtering. Defaults to 4x the requested k.
	Overfetch int
}

type retriever struct {
	log      *logger.Logger
	cfg      Config
	embedder Embeddings
	index    qdrant.VectorStore

	byKey map[string]*Example
	count int

	mu     sync.RWMutex
	filter Filter
}

func New(log *logger.Logger, cfg Config, embedder Embeddings, index qdrant.VectorStore) (Retriever, error) {
	if embedder == nil {
		return nil, &ConfigError{Code: ConfigErrorIndexUnavailable, Cause: fmt.Errorf("embeddings client required")}
	}
	if index == nil {
		return nil, &ConfigError{Code: ConfigErrorIndexUnavailable, Cause: fmt.Errorf("vector store required")}
	}
	if strings.TrimSpace(cfg.InputColumn) == "" || strings.TrimSpace(cfg.TargetColumn) == "" {
		return nil, &ConfigError{Code: ConfigErrorMissingColumn, Value: "(unset)"}
	}

	r := &retriever{
		log:      log.With("service", "ExampleRetriever"),
		cfg:      cfg,
		embedder: embedder,
		index:    index,
	}
	if err := r.loadCorpus(); err != nil {
		return nil, err
	}
	r.log.Info("example corpus loaded", "path", cfg.CorpusPath, "examples", r.count)
	return r, nil
}

func (r *retriever) loadCorpus() error {
	f, err := os.Open(r.cfg.CorpusPath)
	if err != nil {
		return &ConfigError{Code: ConfigErrorCorpusUnreachable, Value: r.cfg.CorpusPath, Cause: err}
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			// An empty corpus is a valid (if useless) configuration; every
			// retrieval simply returns nothing.
			r.byKey = map[string]*Example{}
			return nil
		}
		return &ConfigError{Code: ConfigErrorCorpusMalformed, Value: r.cfg.CorpusPath, Cause: err}
	}

	inputIdx, targetIdx := -1, -1
	for i, col := range header {
		switch strings.TrimSpace(col) {
		case r.cfg.InputColumn:
			inputIdx = i
		case r.cfg.TargetColumn:
			targetIdx = i
		}
	}
	if inputIdx < 0 {
		return &ConfigError{Code: ConfigErrorMissingColumn, Value: r.cfg.InputColumn}
	}
	if targetIdx < 0 {
		return &ConfigError{Code: ConfigErrorMissingColumn, Value: r.cfg.TargetColumn}
	}

	r.byKey = map[string]*Example{}
	order := 0
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return &ConfigError{Code: ConfigErrorCorpusMalformed, Value: r.cfg.CorpusPath, Cause: err}
		}
		if inputIdx >= len(row) || targetIdx >= len(row) {
			continue
		}
		key := strings.TrimSpace(row[inputIdx])
		if key == "" {
			continue
		}
		meta := map[string]any{}
		for i, col := range header {
			if i == inputIdx || i == targetIdx || i >= len(row) {
				continue
			}
			meta[strings.TrimSpace(col)] = row[i]
		}
		// First occurrence wins; the key identifies the example.
		if _, exists := r.byKey[key]; exists {
			continue
		}
		r.byKey[key] = &Example{
			Key:         key,
			Target:      row[targetIdx],
			Metadata:    meta,
			corpusOrder: order,
		}
		order++
	}
	r.count = order
	return nil
}

func (r *retriever) SetFilter(pred Filter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.filter = pred
}

func (r *retriever) currentFilter() Filter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.filter
}

func (r *retriever) Retrieve(ctx context.Context, query string, k int) ([]Example, error) {
	if k <= 0 {
		k = 1
	}
	if r.count == 0 {
		return []Example{}, nil
	}

	vecs, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, &RetrievalError{Op: "embed_query", Cause: err}
	}
	if len(vecs) == 0 || len(vecs[0]) == 0 {
		return nil, &RetrievalError{Op: "embed_query", Cause: fmt.Errorf("empty embedding")}
	}

	overfetch := r.cfg.Overfetch
	if overfetch <= 0 {
		overfetch = 4 * k
	}
	matches, err := r.index.Query(ctx, r.cfg.Namespace, vecs[0], k+overfetch, nil)
	if err != nil {
		return nil, &RetrievalError{Op: "index_query", Cause: err}
	}

	type candidate struct {
		ex    *Example
		score float64
	}
	candidates := make([]candidate, 0, len(matches))
	for _, m := range matches {
		ex, ok := r.byKey[m.ID]
		if !ok {
			// Index knows a key the corpus does not; stale index entry.
			r.log.Debug("index key absent from corpus", "key", m.ID)
			continue
		}
		candidates = append(candidates, candidate{ex: ex, score: m.Score})
	}
	// Descending similarity; ties fall back to original corpus order.
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score == candidates[j].score {
			return candidates[i].ex.corpusOrder < candidates[j].ex.corpusOrder
		}
		return candidates[i].score > candidates[j].score
	})

	filter := r.currentFilter()
	out := make([]Example, 0, k)
	for _, c := range candidates {
		ex := c.ex
		if filter != nil {
			admitted, filterErr := applyFilter(filter, ex.Metadata)
			if filterErr != nil {
				return nil, &RetrievalError{Op: "apply_filter", Cause: filterErr}
			}
			if !admitted {
				continue
			}
		}
		out = append(out, *ex)
		if len(out) == k {
			break
		}
	}
	return out, nil
}

// applyFilter converts a panicking predicate into an error instead of
// poisoning the whole process.
func applyFilter(pred Filter, meta map[string]any) (admitted bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			admitted = false
			err = fmt.Errorf("filter predicate panicked: %v", r)
		}
	}()
	return pred(meta), nil
}

// Sync pushes the whole corpus into the index, embedding inputs in batches.
// Point ids are the retrieval keys, so a re-sync overwrites in place.
func (r *retriever) Sync(ctx context.Context) error {
	ordered := make([]*Example, 0, r.count)
	for _, ex := range r.byKey {
		ordered = append(ordered, ex)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].corpusOrder < ordered[j].corpusOrder })

	const batchSize = 64
	for start := 0; start < len(ordered); start += batchSize {
		end := start + batchSize
		if end > len(ordered) {
			end = len(ordered)
		}
		batch := ordered[start:end]
		inputs := make([]string, len(batch))
		for i, ex := range batch {
			inputs[i] = ex.Key
		}
		vecs, err := r.embedder.Embed(ctx, inputs)
		if err != nil {
			return &RetrievalError{Op: "embed_corpus", Cause: err}
		}
		if len(vecs) != len(batch) {
			return &RetrievalError{Op: "embed_corpus", Cause: fmt.Errorf("expected %d embeddings, got %d", len(batch), len(vecs))}
		}
		points := make([]qdrant.Vector, len(batch))
		for i, ex := range batch {
			payload := map[string]any{}
			for k, v := range ex.Metadata {
				payload[k] = v
			}
			points[i] = qdrant.Vector{ID: ex.Key, Values: vecs[i], Payload: payload}
		}
		if err := r.index.Upsert(ctx, r.cfg.Namespace, points); err != nil {
			return &RetrievalError{Op: "index_upsert", Cause: err}
		}
	}
	r.log.Info("example corpus synced to index", "examples", len(ordered))
	return nil
}

func (r *retriever) FormatTemplate(ctx context.Context, query string, k int, base string) (string, error) {
	examples, err := r.Retrieve(ctx, query, k)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for i, ex := range examples {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "Example input:\n%s\n\nExample output:\n%s", ex.Key, ex.Target)
	}
	return strings.ReplaceAll(base, ExamplesPlaceholder, b.String()), nil
}
