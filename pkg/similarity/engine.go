// Package similarity ranks dataset items against each other by textual
// closeness: TF-IDF vectors compared with cosine similarity.
package similarity

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ammar0144/recsync/pkg/errs"
	"github.com/ammar0144/recsync/pkg/logging"
	"github.com/ammar0144/recsync/pkg/model"
)

// Config holds engine settings
type Config struct {
	TopN    int `koanf:"top_n" yaml:"top_n"`
	Workers int `koanf:"workers" yaml:"workers"` // 0 = GOMAXPROCS
}

// DefaultConfig returns the default engine configuration
func DefaultConfig() Config {
	return Config{TopN: 10}
}

// Validate checks if the engine configuration is valid
func (c Config) Validate() error {
	if c.TopN < 1 {
		return fmt.Errorf("similarity.top_n must be at least 1, got %d", c.TopN)
	}
	if c.Workers < 0 {
		return fmt.Errorf("similarity.workers must not be negative")
	}
	return nil
}

// Engine computes top-N recommendations for every item of a dataset
type Engine struct {
	workers int
}

// NewEngine creates an engine
func NewEngine(cfg Config) *Engine {
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Engine{workers: workers}
}

// Generate loads the dataset at path and returns, for every item in input
// order, the ids of its topN most similar other items. Ties are broken by row
// order and an item never recommends itself. The work is O(N²) in items and
// must not run on a request path.
func (e *Engine) Generate(ctx context.Context, path string, topN int) ([]model.Recommendation, error) {
	if topN < 1 {
		return nil, &DataFormatError{Path: path, Reason: fmt.Sprintf("top_n must be at least 1, got %d", topN)}
	}

	start := time.Now()
	items, err := LoadDataset(path)
	if err != nil {
		return nil, err
	}

	recs, err := e.Rank(ctx, items, topN)
	if err != nil {
		return nil, err
	}

	logging.Ctx(ctx).Info().
		Str("path", path).
		Int("items", len(items)).
		Int("top_n", topN).
		Dur("elapsed", time.Since(start)).
		Msg("recommendations generated")
	return recs, nil
}

// Rank scores already loaded items. Rows are ranked in parallel.
func (e *Engine) Rank(ctx context.Context, items []Item, topN int) ([]model.Recommendation, error) {
	if topN < 1 {
		return nil, fmt.Errorf("%w: top_n must be at least 1", errs.ErrDataFormat)
	}

	docs := make([]string, len(items))
	for i, it := range items {
		docs[i] = it.Text
	}
	vectors := vectorize(docs)

	out := make([]model.Recommendation, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)

	for i := range items {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			best := topK(vectors, i, topN)
			ids := make(model.IDList, len(best))
			for k, c := range best {
				ids[k] = items[c.row].ID
			}
			out[i] = model.Recommendation{ID: items[i].ID, RecommendedIDs: ids}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

type candidate struct {
	row   int
	score float64
}

// before orders by similarity descending, then by row order
func (c candidate) before(o candidate) bool {
	if c.score != o.score {
		return c.score > o.score
	}
	return c.row < o.row
}

// topK keeps the k best rows for row self in a small sorted slice
func topK(vectors []vector, self, k int) []candidate {
	best := make([]candidate, 0, k+1)
	for j := range vectors {
		if j == self {
			continue
		}
		c := candidate{row: j, score: cosine(vectors[self], vectors[j])}
		if len(best) == k && !c.before(best[k-1]) {
			continue
		}

		pos := len(best)
		for pos > 0 && c.before(best[pos-1]) {
			pos--
		}
		best = append(best, candidate{})
		copy(best[pos+1:], best[pos:])
		best[pos] = c
		if len(best) > k {
			best = best[:k]
		}
	}
	return best
}
