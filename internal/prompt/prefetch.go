package prompt

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/voxloop-ai/voxloop/internal/store"
	"github.com/voxloop-ai/voxloop/pkg/provider/embeddings"
)

const (
	// DefaultTopK is how many knowledge snippets a fetch retrieves.
	DefaultTopK = 3

	// DefaultBudget caps the whole prefetch. Retrieval rides the caller's
	// latency budget for a turn, so whatever missed the window is skipped.
	DefaultBudget = 300 * time.Millisecond
)

// Prefetcher pulls prompt context concurrently before a generation: the
// agent's nearest knowledge snippets for the current utterance, and a fixed
// set of cache keys (live facts the operator pushes out of band, like current
// promotions or wait times).
//
// Every branch degrades independently. A fetch returns whatever arrived
// within the budget and never fails.
type Prefetcher struct {
	// Knowledge and Embedder together enable snippet retrieval. Either nil
	// disables it.
	Knowledge store.KnowledgeStore
	Embedder  embeddings.Provider

	// Cache and CacheKeys enable live-fact retrieval. Values land in the
	// context block under their configured key.
	Cache     store.Cache
	CacheKeys []string

	// TopK and Budget override the defaults when positive.
	TopK   int
	Budget time.Duration
}

// Fetch returns the context entries retrieved within the budget. Snippets
// appear as knowledge_1..knowledge_n, best match first; cache values appear
// under their key. query selects the knowledge snippets; empty skips them.
func (p *Prefetcher) Fetch(ctx context.Context, agentUUID, query string) map[string]string {
	budget := p.Budget
	if budget <= 0 {
		budget = DefaultBudget
	}
	topK := p.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}

	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	var (
		mu  sync.Mutex
		out = map[string]string{}
	)
	g, gctx := errgroup.WithContext(ctx)

	if p.Knowledge != nil && p.Embedder != nil && query != "" {
		g.Go(func() error {
			vec, err := p.Embedder.Embed(gctx, query)
			if err != nil {
				slog.Debug("prompt: embed query failed", "agent", agentUUID, "err", err)
				return nil
			}
			snippets, err := p.Knowledge.Search(gctx, agentUUID, vec, topK)
			if err != nil {
				slog.Debug("prompt: knowledge search failed", "agent", agentUUID, "err", err)
				return nil
			}
			mu.Lock()
			for i, s := range snippets {
				out[fmt.Sprintf("knowledge_%d", i+1)] = strings.TrimSpace(s.Content)
			}
			mu.Unlock()
			return nil
		})
	}

	if p.Cache != nil {
		for _, key := range p.CacheKeys {
			g.Go(func() error {
				if v, ok := p.Cache.Get(gctx, key); ok && strings.TrimSpace(v) != "" {
					mu.Lock()
					out[key] = v
					mu.Unlock()
				}
				return nil
			})
		}
	}

	// Branches swallow their own errors; Wait only joins.
	_ = g.Wait()
	return out
}
