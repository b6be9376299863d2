package tool

import (
	"context"

	"github.com/h1v3-io/agentrouter/internal/kb"
)

// Searcher runs knowledge-base queries. Implemented by *kb.Engine.
type Searcher interface {
	Search(q kb.Query) ([]kb.Result, error)
}

// SearchResponse is the search_kb result payload.
type SearchResponse struct {
	Results []kb.Result `json:"results"`
}

// --- SearchKBTool ---

type SearchKBTool struct {
	KB Searcher
}

type searchArgs struct {
	Query   string         `json:"query"`
	TopK    *int           `json:"top_k"`
	Filters map[string]any `json:"filters"`
}

func (t *SearchKBTool) Name() string { return "search_kb" }
func (t *SearchKBTool) Description() string {
	return "Search the knowledge base for relevant information. Use this when you need to find information about products, services, policies, or troubleshooting guides."
}
func (t *SearchKBTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{"type": "string", "description": "The search query to find relevant knowledge base entries"},
			"top_k": map[string]any{
				"type":        "integer",
				"description": "Maximum number of results to return (default 5, max 10)",
				"default":     kb.DefaultTopK,
				"minimum":     1,
				"maximum":     kb.MaxTopK,
			},
			"filters": map[string]any{
				"type":        "object",
				"description": "Optional filters to narrow down results",
				"properties": map[string]any{
					"tags": map[string]any{
						"type":        "array",
						"items":       map[string]any{"type": "string"},
						"description": "Filter by tags (e.g., ['pricing', 'product'])",
					},
					"audience": map[string]any{
						"type":        "string",
						"description": "Filter by audience: 'customer' or 'internal'",
						"enum":        []string{kb.AudienceCustomer, kb.AudienceInternal},
					},
				},
			},
		},
		"required": []string{"query"},
	}
}

func (t *SearchKBTool) Execute(_ context.Context, params map[string]any) (any, error) {
	var args searchArgs
	if err := decodeArgs(params, &args, "query"); err != nil {
		return nil, err
	}

	q := kb.Query{Text: args.Query}
	if args.TopK != nil {
		q.TopK = *args.TopK
	}
	if args.Filters != nil {
		q.Tags = getStringSlice(args.Filters, "tags")
		q.Audience = getString(args.Filters, "audience")
	}

	results, err := t.KB.Search(q)
	if err != nil {
		return nil, err
	}
	return SearchResponse{Results: results}, nil
}
