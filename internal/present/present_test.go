package present

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpungsan/kaia/internal/normalize"
)

func normalized(t *testing.T, raw string) normalize.Result {
	t.Helper()
	var v any
	require.NoError(t, json.Unmarshal([]byte(raw), &v))
	return normalize.Normalize(v)
}

func sectionItem(v View, section, label string) (string, bool) {
	for _, s := range v.Sections {
		if s.Title != section {
			continue
		}
		for _, it := range s.Items {
			if it.Label == label {
				return it.Value, true
			}
		}
	}
	return "", false
}

var defaultViews = map[string]string{"Platinum": "expanded"}

func TestDispatcher_Variant(t *testing.T) {
	d := NewDispatcher(map[string]string{"Platinum": "expanded", "Pro": "EXPANDED", "Basic": "bogus"})

	tests := []struct {
		tier string
		want Variant
	}{
		{"Platinum", VariantExpanded},
		{"platinum", VariantExpanded},
		{"Pro", VariantExpanded},
		{"Basic", VariantCompact},
		{"Standard", VariantCompact},
		{"Trial", VariantCompact},
		{"", VariantCompact},
	}
	for _, tt := range tests {
		t.Run(tt.tier, func(t *testing.T) {
			assert.Equal(t, tt.want, d.Variant(tt.tier))
		})
	}
}

func TestRender_CompactStandard(t *testing.T) {
	d := NewDispatcher(defaultViews)
	r := normalized(t, `{"market_bias":"Bullish","analysis_text":"Liquidity grab below the Asian low."}`)

	v := d.Render("Standard", r)
	assert.Equal(t, VariantCompact, v.Variant)
	assert.False(t, v.Expanded())
	assert.Empty(t, v.Sections)
	assert.Equal(t, ToneBullish, v.Tone)
	assert.Equal(t, "Bullish", v.Summary[0].Value)
	assert.Equal(t, normalize.Placeholder, v.Summary[1].Value)
	assert.Equal(t, "Liquidity grab below the Asian low.", v.Narrative)
	assert.Contains(t, string(v.NarrativeHTML), "Liquidity grab below the Asian low.")

	text := Text(v)
	assert.Contains(t, text, "Bullish")
	assert.Contains(t, text, "Liquidity grab below the Asian low.")
}

func TestRender_ExpandedPlatinumKeyLevels(t *testing.T) {
	d := NewDispatcher(defaultViews)
	r := normalized(t, `{"key_levels":{"upside":[{"price":1.2345}]}}`)

	v := d.Render("Platinum", r)
	require.True(t, v.Expanded())

	upside, ok := sectionItem(v, "Key Levels", "Upside")
	require.True(t, ok)
	assert.Contains(t, upside, "1.2345")
	assert.NotContains(t, upside, "[object Object]")

	assert.Contains(t, Text(v), "1.2345")
}

func TestRender_ExpandedLayoutIsStable(t *testing.T) {
	d := NewDispatcher(defaultViews)
	empty := d.Render("Platinum", normalize.Normalize(nil))
	full := d.Render("Platinum", normalized(t, `{
		"risk_zones": {"stop_loss": "1.0800", "invalidation": "close above 1.0950"},
		"key_levels": {"upside": "1.10", "downside": "1.07", "entry": "1.085"},
		"session": "London"
	}`))

	for _, section := range []string{"Risk Zones", "Key Levels"} {
		for _, slot := range append(riskZones, keyLevels...) {
			_, inEmpty := sectionItem(empty, section, slot.label)
			_, inFull := sectionItem(full, section, slot.label)
			assert.Equal(t, inEmpty, inFull, "%s/%s presence must not depend on the result", section, slot.label)
		}
	}

	v, _ := sectionItem(empty, "Risk Zones", "Stop Loss")
	assert.Equal(t, normalize.Placeholder, v)
	v, _ = sectionItem(full, "Risk Zones", "Stop Loss")
	assert.Equal(t, "1.0800", v)
	v, _ = sectionItem(full, "Additional Fields", "Session")
	assert.Equal(t, "London", v)
}

func TestRender_TierNotShape(t *testing.T) {
	d := NewDispatcher(defaultViews)
	r := normalized(t, `{"key_levels":{"upside":"1.2"},"risk_zones":{"stop_loss":"1.1"}}`)

	v := d.Render("Standard", r)
	assert.Equal(t, VariantCompact, v.Variant, "rich results do not promote the view")
	assert.Empty(t, v.Sections)
}

func TestRender_RiskNote(t *testing.T) {
	d := NewDispatcher(defaultViews)
	v := d.Render("Standard", normalized(t, `{"risk_note":"Wait for NY open"}`))
	assert.True(t, v.HasRiskNote)
	assert.Equal(t, "Wait for NY open", v.RiskNote)
	assert.Contains(t, Text(v), "Risk Note: Wait for NY open")

	v = d.Render("Standard", normalized(t, `{}`))
	assert.False(t, v.HasRiskNote)
	assert.NotContains(t, Text(v), "Risk Note")
}

func TestToneOf(t *testing.T) {
	tests := map[string]Tone{
		"Bullish":     ToneBullish,
		"STRONG BUY":  ToneBullish,
		"Bearish":     ToneBearish,
		"sell":        ToneBearish,
		"اتجاه صاعد":  ToneBullish,
		"اتجاه هابط":  ToneBearish,
		"Range":       ToneNeutral,
		"N/A":         ToneNeutral,
	}
	for bias, want := range tests {
		assert.Equal(t, want, ToneOf(bias), bias)
	}
	assert.Equal(t, "bullish-glow", ToneBullish.Class())
	assert.Equal(t, "", ToneNeutral.Class())
}

func TestLabel(t *testing.T) {
	assert.Equal(t, "Key Levels / Upside", Label("key_levels.upside"))
	assert.Equal(t, "Session", Label("session"))
}

func TestMarkdown_DropsRawHTML(t *testing.T) {
	out := string(Markdown("**Bullish** <script>alert(1)</script>"))
	assert.Contains(t, out, "<strong>Bullish</strong>")
	assert.False(t, strings.Contains(out, "<script>"))
}
