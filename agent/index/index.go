package index

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strings"
	"sync"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/rs/zerolog/log"
	"github.com/tanpawarit/Chative-Shopping-Assistant/agent/catalog"
	contractx "github.com/tanpawarit/Chative-Shopping-Assistant/agent/contract"
)

const embedBatchSize = 64

// Searcher is the read side of the catalog index used by the tools.
type Searcher interface {
	Search(ctx context.Context, query string, k int) ([]catalog.Product, error)
}

var _ Searcher = (*Index)(nil)

type entry struct {
	product catalog.Product
	vector  []float64
}

// Index is an in-memory similarity index over product documents.
// Entries keep catalog insertion order, which breaks score ties.
type Index struct {
	mu       sync.RWMutex
	embedder embedding.Embedder
	entries  []entry
	minScore float64
}

func New(embedder embedding.Embedder) *Index {
	return &Index{embedder: embedder}
}

// Build embeds every product into a fresh index.
func Build(ctx context.Context, embedder embedding.Embedder, products []catalog.Product) (*Index, error) {
	ix := New(embedder)
	if err := ix.Add(ctx, products...); err != nil {
		return nil, err
	}
	return ix, nil
}

// Add embeds and appends products. Products whose name is already indexed are skipped.
func (ix *Index) Add(ctx context.Context, products ...catalog.Product) error {
	if ix.embedder == nil {
		return fmt.Errorf("%w: embedder is nil", contractx.ErrSearchUnavailable)
	}

	ix.mu.RLock()
	seen := make(map[string]struct{}, len(ix.entries)+len(products))
	for _, e := range ix.entries {
		seen[catalog.NameKey(e.product.Name)] = struct{}{}
	}
	ix.mu.RUnlock()

	pending := make([]catalog.Product, 0, len(products))
	for _, p := range products {
		key := catalog.NameKey(p.Name)
		if _, dup := seen[key]; dup {
			log.Warn().Str("product", p.Name).Msg("skipping duplicate catalog product")
			continue
		}
		seen[key] = struct{}{}
		pending = append(pending, p)
	}

	added := make([]entry, 0, len(pending))
	for start := 0; start < len(pending); start += embedBatchSize {
		batch := pending[start:min(start+embedBatchSize, len(pending))]
		docs := make([]string, len(batch))
		for i, p := range batch {
			docs[i] = p.Document()
		}
		vectors, err := ix.embedder.EmbedStrings(ctx, docs)
		if err != nil {
			return fmt.Errorf("%w: embed catalog: %v", contractx.ErrSearchUnavailable, err)
		}
		if len(vectors) != len(batch) {
			return fmt.Errorf("%w: embedder returned %d vectors for %d documents",
				contractx.ErrSearchUnavailable, len(vectors), len(batch))
		}
		for i, p := range batch {
			added = append(added, entry{product: p, vector: vectors[i]})
		}
	}

	ix.mu.Lock()
	ix.entries = append(ix.entries, added...)
	ix.mu.Unlock()
	return nil
}

// SetMinScore makes Search drop hits whose cosine similarity is below score.
// A score <= 0 returns the top k regardless of similarity.
func (ix *Index) SetMinScore(score float64) {
	ix.mu.Lock()
	ix.minScore = score
	ix.mu.Unlock()
}

// Search returns at most k products ranked by cosine similarity to query.
func (ix *Index) Search(ctx context.Context, query string, k int) ([]catalog.Product, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: search query is empty", contractx.ErrInvalidInput)
	}
	if k < 1 {
		return nil, fmt.Errorf("%w: k must be >= 1, got %d", contractx.ErrInvalidInput, k)
	}
	if ix.embedder == nil {
		return nil, fmt.Errorf("%w: embedder is nil", contractx.ErrSearchUnavailable)
	}

	vectors, err := ix.embedder.EmbedStrings(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("%w: embed query: %v", contractx.ErrSearchUnavailable, err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("%w: embedder returned %d vectors for query", contractx.ErrSearchUnavailable, len(vectors))
	}
	qv := vectors[0]

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	type scored struct {
		product catalog.Product
		score   float64
	}
	ranked := make([]scored, 0, len(ix.entries))
	for _, e := range ix.entries {
		if len(e.vector) != len(qv) {
			return nil, fmt.Errorf("%w: query dimension %d does not match index dimension %d",
				contractx.ErrSearchUnavailable, len(qv), len(e.vector))
		}
		score := cosine(qv, e.vector)
		if ix.minScore > 0 && score < ix.minScore {
			continue
		}
		ranked = append(ranked, scored{product: e.product, score: score})
	}
	slices.SortStableFunc(ranked, func(a, b scored) int {
		switch {
		case a.score > b.score:
			return -1
		case a.score < b.score:
			return 1
		default:
			return 0
		}
	})

	n := min(k, len(ranked))
	out := make([]catalog.Product, n)
	for i := 0; i < n; i++ {
		out[i] = ranked[i].product
	}

	log.Debug().Str("query", query).Int("k", k).Int("hits", n).Msg("catalog search")
	return out, nil
}

func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.entries)
}

func (ix *Index) dimension() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if len(ix.entries) == 0 {
		return 0
	}
	return len(ix.entries[0].vector)
}

func cosine(a, b []float64) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
