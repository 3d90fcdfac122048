package pipeline

import (
	"fmt"
)

const (
	featuresTitleAR = "مميزاتنا"
	featuresTitleEN = "Our Features"
	benefitsTitleAR = "لماذا نحن؟"
	benefitsTitleEN = "Why Us?"
)

func copyItemsData(items []CopyItem) []any {
	out := make([]any, 0, len(items))
	for _, item := range items {
		out = append(out, map[string]any{
			"title":       item.Title,
			"description": item.Description,
		})
	}
	return out
}

// runAssemble deterministically builds the final page structure from the
// profile and copy deck. No model call is involved: the block order and
// theme are fixed so every page renders predictably.
func (d *Driver) runAssemble(task Task) (*PageStructure, error) {
	profile := task.Profile
	deck := task.Copy
	if profile == nil || deck == nil {
		return nil, fmt.Errorf("assemble: task missing profile or copy")
	}

	isRTL := profile.Direction == "rtl"
	locale := profile.Locale
	if locale == "" {
		locale = "ar-SA"
	}

	featuresTitle, benefitsTitle := featuresTitleEN, benefitsTitleEN
	if isRTL {
		featuresTitle, benefitsTitle = featuresTitleAR, benefitsTitleAR
	}

	layout := []LayoutBlock{
		{ID: "hero-1", Type: "hero", Data: map[string]any{
			"headline":     deck.Hero.Headline,
			"subheadline":  deck.Hero.Subheadline,
			"cta_text":     deck.Hero.CTAText,
			"social_proof": deck.SocialProof,
		}},
		{ID: "features-1", Type: "features", Data: map[string]any{
			"title": featuresTitle,
			"items": copyItemsData(deck.Features),
		}},
		{ID: "benefits-1", Type: "benefits", Data: map[string]any{
			"title": benefitsTitle,
			"items": copyItemsData(deck.Benefits),
		}},
	}

	if d.markets.WhatsAppEnabled(locale) {
		layout = append(layout, LayoutBlock{ID: "whatsapp-cta-1", Type: "whatsapp_cta", Data: map[string]any{
			"headline":    deck.CTAHeadline,
			"subtext":     deck.CTASubtext,
			"button_text": deck.CTAButtonText,
			"wa_message":  fmt.Sprintf("مرحباً، جئت من صفحة إتمام وأود الاستفسار عن خدمات %s", profile.BusinessName),
		}})
	}

	layout = append(layout, LayoutBlock{ID: "footer-1", Type: "footer", Data: map[string]any{
		"text":      d.markets.Brand.FooterText,
		"brand_url": d.markets.Brand.SiteURL,
	}})

	return &PageStructure{
		BrandName: d.markets.Brand.Name,
		Theme: ThemeSpec{
			PrimaryColor: d.markets.Theme.PrimaryColor,
			FontFamily:   d.markets.Theme.FontFamily,
			BorderRadius: d.markets.Theme.BorderRadius,
		},
		RTL:    isRTL,
		Locale: locale,
		Layout: layout,
	}, nil
}
