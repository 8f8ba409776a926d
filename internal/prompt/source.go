package prompt

import (
	"context"

	"github.com/voxloop-ai/voxloop/internal/agent"
	"github.com/voxloop-ai/voxloop/internal/pipeline"
)

// Source renders one agent's system prompt per generation, prefetching
// context first. It implements the pipeline's prompt hook.
type Source struct {
	agent *agent.Agent
	pre   *Prefetcher
}

// NewSource builds a Source for an agent. pre may be nil, which renders the
// prompt from the agent's static configuration alone.
func NewSource(a *agent.Agent, pre *Prefetcher) *Source {
	return &Source{agent: a, pre: pre}
}

// System renders the prompt for the generation ctx belongs to. Knowledge
// retrieval is grounded on the utterance the pipeline tagged into ctx and
// only runs for agents that enabled it.
func (s *Source) System(ctx context.Context) string {
	var extra map[string]string
	if s.pre != nil {
		query := ""
		if s.agent.KnowledgeEnabled {
			query = pipeline.QueryFromContext(ctx)
		}
		extra = s.pre.Fetch(ctx, s.agent.UUID, query)
	}
	return Build(s.agent, extra)
}

var _ pipeline.PromptSource = (*Source)(nil)
