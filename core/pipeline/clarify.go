package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/etm-sa/landylocal/core/capability"
	"github.com/etm-sa/landylocal/core/infra/schema"
)

func clarifyPrompt(input *JobInput) string {
	return fmt.Sprintf(`You are a business analyst specializing in local markets.

Analyze this business and return a JSON object that strictly matches this schema:
- business_name: string (cleaned)
- business_type: string (normalized category)
- target_city: string
- target_country: string (inferred from locale: %s)
- search_niche: string (concise English search term, e.g. "dental clinic")
- search_region: string (city + country in English, e.g. "Dammam Saudi Arabia")
- locale: string (BCP-47 tag)
- direction: "rtl" or "ltr"
- dialect: string (e.g. "Gulf Arabic", "Modern Standard Arabic")
- tone: string (e.g. "professional", "friendly", "urgent")
- usp: string or ""
- additional_notes: string or ""

Business Input:
- Name: %s
- Type: %s
- City: %s
- Locale: %s
- Direction: %s
- Notes: %s

Return ONLY valid JSON. No markdown, no explanation.`,
		input.Locale,
		input.BusinessName,
		input.BusinessType,
		input.City,
		input.Locale,
		input.Direction,
		input.AdditionalNotes,
	)
}

// runClarify turns the raw business brief into a structured profile.
func (d *Driver) runClarify(ctx context.Context, task Task) (*BusinessProfile, json.RawMessage, error) {
	if task.Input == nil {
		return nil, nil, fmt.Errorf("clarify: task has no input")
	}

	raw, err := d.gen.Generate(ctx, clarifyPrompt(task.Input))
	if err != nil {
		return nil, nil, fmt.Errorf("clarify: %w", err)
	}
	payload := json.RawMessage(capability.CleanModelJSON(raw))
	if err := schema.Validate(schema.ProfileSchema, payload); err != nil {
		return nil, nil, fmt.Errorf("clarify: %w", err)
	}
	var profile BusinessProfile
	if err := json.Unmarshal(payload, &profile); err != nil {
		return nil, nil, fmt.Errorf("clarify: decode profile: %w", err)
	}
	return &profile, payload, nil
}
