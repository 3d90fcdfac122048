package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/etm-sa/landylocal/core/capability"
	"github.com/etm-sa/landylocal/core/infra/schema"
)

const (
	searchMaxResults   = 5
	searchSnippetRunes = 200
)

func researchPrompt(region, competitorTexts, painPointTexts string) string {
	return fmt.Sprintf(`You are a market research analyst for local businesses in %s.

Based on the following search results, extract structured competitive intelligence.

COMPETITOR SEARCH RESULTS:
%s

CUSTOMER PAIN POINTS SEARCH RESULTS:
%s

Return ONLY a valid JSON object matching this exact schema:
{
  "competitors": [
    {"name": "string", "url": "string", "summary": "string"}
  ],
  "local_pain_points": ["string", "string", ...],
  "cultural_hooks": ["string", "string", ...]
}

- competitors: up to 5 real local businesses found in results
- local_pain_points: 3-5 specific things customers complain about or want in this region
- cultural_hooks: 3-5 culturally relevant values or motivators

Return ONLY valid JSON. No markdown, no explanation.`, region, competitorTexts, painPointTexts)
}

func formatSearchResults(results []capability.SearchResult) string {
	lines := make([]string, 0, len(results))
	for _, r := range results {
		content := r.Content
		if runes := []rune(content); len(runes) > searchSnippetRunes {
			content = string(runes[:searchSnippetRunes])
		}
		lines = append(lines, fmt.Sprintf("- %s: %s", r.Title, content))
	}
	return strings.Join(lines, "\n")
}

// runResearch queries the search provider for competitors and customer
// sentiment, then distills both into a structured summary.
func (d *Driver) runResearch(ctx context.Context, task Task) (*ResearchSummary, json.RawMessage, error) {
	profile := task.Profile
	if profile == nil {
		return nil, nil, fmt.Errorf("research: task has no profile")
	}

	competitors, err := d.search.Search(ctx,
		fmt.Sprintf("Top competitors for %s in %s", profile.SearchNiche, profile.SearchRegion),
		searchMaxResults)
	if err != nil {
		return nil, nil, fmt.Errorf("research: competitor search: %w", err)
	}
	painPoints, err := d.search.Search(ctx,
		fmt.Sprintf("What do customers in %s care about most when choosing %s", profile.SearchRegion, profile.SearchNiche),
		searchMaxResults)
	if err != nil {
		return nil, nil, fmt.Errorf("research: pain point search: %w", err)
	}

	d.publish(task.JobID, Event{
		Status:  StatusResearching,
		Step:    string(StageResearch),
		Message: "🧠 Extracting insights from search results...",
	})

	competitorTexts := formatSearchResults(competitors)
	if task.Input != nil && len(task.Input.CompetitorURLs) > 0 {
		competitorTexts += "\n\nKNOWN COMPETITOR SITES (provided by the customer):\n- " +
			strings.Join(task.Input.CompetitorURLs, "\n- ")
	}

	raw, err := d.gen.Generate(ctx, researchPrompt(profile.SearchRegion, competitorTexts, formatSearchResults(painPoints)))
	if err != nil {
		return nil, nil, fmt.Errorf("research: %w", err)
	}
	payload := json.RawMessage(capability.CleanModelJSON(raw))
	if err := schema.Validate(schema.ResearchSchema, payload); err != nil {
		return nil, nil, fmt.Errorf("research: %w", err)
	}
	var summary ResearchSummary
	if err := json.Unmarshal(payload, &summary); err != nil {
		return nil, nil, fmt.Errorf("research: decode summary: %w", err)
	}
	return &summary, payload, nil
}
