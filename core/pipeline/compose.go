package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/etm-sa/landylocal/core/capability"
	"github.com/etm-sa/landylocal/core/infra/schema"
)

func composePrompt(profile *BusinessProfile, research *ResearchSummary) string {
	lang := "English"
	if profile.Direction == "rtl" {
		lang = "Arabic"
	}
	dialect := profile.Dialect
	if dialect == "" {
		dialect = "Modern Standard Arabic"
	}
	tone := profile.Tone
	if tone == "" {
		tone = "professional"
	}
	usp := profile.USP
	if usp == "" {
		usp = "quality and trust"
	}

	painPoints := make([]string, 0, len(research.LocalPainPoints))
	for _, p := range research.LocalPainPoints {
		painPoints = append(painPoints, "- "+p)
	}
	hooks := make([]string, 0, len(research.CulturalHooks))
	for _, h := range research.CulturalHooks {
		hooks = append(hooks, "- "+h)
	}

	return fmt.Sprintf(`You are an expert landing page copywriter specializing in %[1]s marketing copy for the MENA region.

Business: %[2]s
Type: %[3]s
City: %[4]s
Tone: %[5]s
Dialect: %[6]s
USP: %[7]s

LOCAL PAIN POINTS:
%[8]s

CULTURAL HOOKS:
%[9]s

Return ONLY a valid JSON object:
{
  "hero": {
    "headline": "string (max 10 words, powerful, in %[1]s)",
    "subheadline": "string (max 20 words, clarifies the value, in %[1]s)",
    "cta_text": "string (max 5 words, action verb, in %[1]s)"
  },
  "features": [
    {"title": "string", "description": "string"}
  ],
  "benefits": [
    {"title": "string", "description": "string"}
  ],
  "cta_headline": "string (urgency-driven, in %[1]s)",
  "cta_subtext": "string (reassurance, in %[1]s)",
  "cta_button_text": "string (max 4 words, in %[1]s)",
  "social_proof": "string or \"\""
}

- features: exactly 3 items
- benefits: exactly 3 items
- All text in %[1]s (%[6]s)
- Return ONLY valid JSON. No markdown, no explanation.`,
		lang,
		profile.BusinessName,
		profile.BusinessType,
		profile.TargetCity,
		tone,
		dialect,
		usp,
		strings.Join(painPoints, "\n"),
		strings.Join(hooks, "\n"),
	)
}

// runCompose writes the full copy deck from the profile and research summary.
func (d *Driver) runCompose(ctx context.Context, task Task) (*PageCopy, json.RawMessage, error) {
	if task.Profile == nil || task.Research == nil {
		return nil, nil, fmt.Errorf("compose: task missing profile or research")
	}

	raw, err := d.gen.Generate(ctx, composePrompt(task.Profile, task.Research))
	if err != nil {
		return nil, nil, fmt.Errorf("compose: %w", err)
	}
	payload := json.RawMessage(capability.CleanModelJSON(raw))
	if err := schema.Validate(schema.CopySchema, payload); err != nil {
		return nil, nil, fmt.Errorf("compose: %w", err)
	}
	var deck PageCopy
	if err := json.Unmarshal(payload, &deck); err != nil {
		return nil, nil, fmt.Errorf("compose: decode copy: %w", err)
	}
	return &deck, payload, nil
}
