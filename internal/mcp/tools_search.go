package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const defaultToolSearchLimit = 5

type toolSearchInput struct {
	Query    string `json:"query" jsonschema:"Substring or regular expression matched against tool names, descriptions and keywords"`
	Category string `json:"category,omitempty" jsonschema:"Restrict results to one category: council, ceremony, field, wisdom or search"`
	Limit    int    `json:"limit,omitempty" jsonschema:"Maximum results to return (default: 5)"`
}

type toolSearchResult struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Score       int    `json:"score"`
	MatchReason string `json:"match_reason"`
}

type toolSearchOutput struct {
	Query      string             `json:"query" jsonschema:"Search query used"`
	Results    []toolSearchResult `json:"results" jsonschema:"Matching tools, best first"`
	Count      int                `json:"count" jsonschema:"Number of tools found"`
	TotalTools int                `json:"total_tools" jsonschema:"Total number of registered tools"`
}

func (s *Server) registerSearchTools() {
	addTool(s, &ToolMetadata{
		Name:        "tool_search",
		Description: "Find councild tools by name, description or keyword",
		Category:    CategorySearch,
		Keywords:    []string{"search", "discover", "tools", "find"},
	}, s.toolSearch)
}

func (s *Server) toolSearch(_ context.Context, _ *mcp.CallToolRequest, in toolSearchInput) (*mcp.CallToolResult, toolSearchOutput, error) {
	query := strings.TrimSpace(in.Query)
	if query == "" {
		return nil, toolSearchOutput{}, fmt.Errorf("query is %w", errRequired)
	}

	limit := in.Limit
	if limit <= 0 {
		limit = defaultToolSearchLimit
	}

	var matches []*SearchResult
	if in.Category != "" {
		matches = s.toolRegistry.SearchByCategory(query, ToolCategory(in.Category))
	} else {
		matches = s.toolRegistry.Search(query)
	}
	if len(matches) > limit {
		matches = matches[:limit]
	}

	out := toolSearchOutput{
		Query:      query,
		Results:    make([]toolSearchResult, 0, len(matches)),
		TotalTools: s.toolRegistry.Count(),
	}
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		out.Results = append(out.Results, toolSearchResult{
			Name:        m.Tool.Name,
			Description: m.Tool.Description,
			Category:    string(m.Tool.Category),
			Score:       m.Score,
			MatchReason: m.MatchReason,
		})
		names = append(names, m.Tool.Name)
	}
	out.Count = len(out.Results)

	if out.Count == 0 {
		return textResult("No tools match %q.", query), out, nil
	}
	return textResult("Found %d tools: %s", out.Count, strings.Join(names, ", ")), out, nil
}
