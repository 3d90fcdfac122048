package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Theme holds the brand styling applied to every assembled page.
type Theme struct {
	PrimaryColor string `yaml:"primary_color"`
	FontFamily   string `yaml:"font_family"`
	BorderRadius string `yaml:"border_radius"`
}

// Brand holds the agency identity stamped onto assembled pages.
type Brand struct {
	Name       string `yaml:"name"`
	SiteURL    string `yaml:"site_url"`
	FooterText string `yaml:"footer_text"`
}

// MarketsConfig describes per-market page assembly rules.
type MarketsConfig struct {
	Brand           Brand    `yaml:"brand"`
	Theme           Theme    `yaml:"theme"`
	WhatsAppLocales []string `yaml:"whatsapp_locales"`
}

// DefaultMarkets returns the built-in market rules used when no config file exists.
func DefaultMarkets() *MarketsConfig {
	return &MarketsConfig{
		Brand: Brand{
			Name:       "Etm",
			SiteURL:    "https://etm.sa",
			FooterText: "Built with ❤️ by Etm",
		},
		Theme: Theme{
			PrimaryColor: "#C8A96E",
			FontFamily:   "Cairo",
			BorderRadius: "12px",
		},
		WhatsAppLocales: []string{"ar-SA", "ar-AE", "ar-KW", "ar-QA", "ar-BH", "ar-OM"},
	}
}

// ParseMarketsConfig parses market rules from YAML bytes, filling in defaults.
func ParseMarketsConfig(data []byte) (*MarketsConfig, error) {
	cfg := DefaultMarkets()
	if len(data) == 0 {
		return cfg, nil
	}
	var raw MarketsConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse markets config: %w", err)
	}
	if raw.Brand.Name != "" {
		cfg.Brand.Name = raw.Brand.Name
	}
	if raw.Brand.SiteURL != "" {
		cfg.Brand.SiteURL = raw.Brand.SiteURL
	}
	if raw.Brand.FooterText != "" {
		cfg.Brand.FooterText = raw.Brand.FooterText
	}
	if raw.Theme.PrimaryColor != "" {
		cfg.Theme.PrimaryColor = raw.Theme.PrimaryColor
	}
	if raw.Theme.FontFamily != "" {
		cfg.Theme.FontFamily = raw.Theme.FontFamily
	}
	if raw.Theme.BorderRadius != "" {
		cfg.Theme.BorderRadius = raw.Theme.BorderRadius
	}
	if len(raw.WhatsAppLocales) > 0 {
		cfg.WhatsAppLocales = raw.WhatsAppLocales
	}
	return cfg, nil
}

// LoadMarkets reads market rules from a YAML file. A missing file yields defaults.
func LoadMarkets(path string) (*MarketsConfig, error) {
	if path == "" {
		return DefaultMarkets(), nil
	}

	// #nosec G304 -- markets config path is operator-provided.
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultMarkets(), nil
		}
		return nil, fmt.Errorf("read markets config %s: %w", path, err)
	}
	cfg, err := ParseMarketsConfig(data)
	if err != nil {
		return nil, fmt.Errorf("load markets config %s: %w", path, err)
	}
	return cfg, nil
}

// WhatsAppEnabled reports whether the locale belongs to a WhatsApp-first market.
// Matching is by substring so region variants like "ar-SA-u-nu-arab" still qualify.
func (c *MarketsConfig) WhatsAppEnabled(locale string) bool {
	for _, m := range c.WhatsAppLocales {
		if strings.Contains(locale, m) {
			return true
		}
	}
	return false
}
