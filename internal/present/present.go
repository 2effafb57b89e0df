// Package present turns a normalized analysis into a tier-specific view.
//
// Rendering is pure. The variant is chosen from the subscriber tier alone
// through a configurable tier→variant table, never from the shape of the
// result.
package present

import (
	"bytes"
	"html/template"
	"sort"
	"strings"
	"unicode"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"

	"github.com/hpungsan/kaia/internal/normalize"
)

// Variant names a view layout.
type Variant string

const (
	VariantCompact  Variant = "compact"
	VariantExpanded Variant = "expanded"
)

// Tone is the visual emphasis derived from the bias.
type Tone string

const (
	ToneBullish Tone = "bullish"
	ToneBearish Tone = "bearish"
	ToneNeutral Tone = "neutral"
)

// Class returns the CSS class for the tone.
func (t Tone) Class() string {
	switch t {
	case ToneBullish:
		return "bullish-glow"
	case ToneBearish:
		return "bearish-glow"
	}
	return ""
}

// Item is one labelled value.
type Item struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// Section is a titled group of items.
type Section struct {
	Title string `json:"title"`
	Items []Item `json:"items"`
}

// View is a rendered analysis panel.
type View struct {
	Variant       Variant       `json:"variant"`
	Tier          string        `json:"tier"`
	Title         string        `json:"title"`
	Tone          Tone          `json:"tone"`
	Summary       []Item        `json:"summary"`
	Narrative     string        `json:"narrative"`
	NarrativeHTML template.HTML `json:"-"`
	RiskNote      string        `json:"risk_note,omitempty"`
	HasRiskNote   bool          `json:"has_risk_note"`
	Sections      []Section     `json:"sections,omitempty"`
}

// Expanded reports whether the view uses the multi-section layout.
func (v View) Expanded() bool {
	return v.Variant == VariantExpanded
}

// subsection is a fixed slot of the expanded view. The first alias present
// in the result's fields fills it.
type subsection struct {
	label   string
	aliases []string
}

var riskZones = []subsection{
	{"Stop Loss", []string{"risk_zones.stop_loss", "stop_loss", "key_levels.stop_loss"}},
	{"Invalidation", []string{"risk_zones.invalidation", "invalidation", "invalidation_level"}},
	{"Liquidity", []string{"risk_zones.liquidity", "liquidity_zones", "liquidity"}},
}

var keyLevels = []subsection{
	{"Upside", []string{"key_levels.upside", "upside", "targets"}},
	{"Downside", []string{"key_levels.downside", "downside"}},
	{"Entry", []string{"key_levels.entry", "entry", "entry_zone"}},
}

// Dispatcher maps tiers to variants.
type Dispatcher struct {
	views map[string]Variant
}

// NewDispatcher builds a dispatcher from a tier→variant table. Tier names
// match case-insensitively; unknown variants fall back to compact.
func NewDispatcher(tierViews map[string]string) *Dispatcher {
	views := make(map[string]Variant, len(tierViews))
	for tier, v := range tierViews {
		if Variant(strings.ToLower(v)) == VariantExpanded {
			views[strings.ToLower(strings.TrimSpace(tier))] = VariantExpanded
		}
	}
	return &Dispatcher{views: views}
}

// Variant returns the layout for tier.
func (d *Dispatcher) Variant(tier string) Variant {
	if v, ok := d.views[strings.ToLower(strings.TrimSpace(tier))]; ok {
		return v
	}
	return VariantCompact
}

// Render builds the view for tier.
func (d *Dispatcher) Render(tier string, r normalize.Result) View {
	v := View{
		Variant:       d.Variant(tier),
		Tier:          tier,
		Title:         "KAIA AI REPORT",
		Tone:          ToneOf(r.Bias),
		Narrative:     r.Narrative,
		NarrativeHTML: Markdown(r.Narrative),
		Summary: []Item{
			{"Market Bias", r.Bias},
			{"Market Phase", r.Phase},
			{"Confidence", r.Confidence},
			{"Zones", r.Field(normalize.FieldOpportunity)},
		},
	}
	if r.RiskNote != nil {
		v.RiskNote = *r.RiskNote
		v.HasRiskNote = true
	}
	if v.Variant != VariantExpanded {
		return v
	}

	v.Title = "KAIA INSTITUTIONAL REPORT"
	used := map[string]bool{normalize.FieldOpportunity: true}
	v.Sections = []Section{
		fixedSection("Risk Zones", riskZones, r, used),
		fixedSection("Key Levels", keyLevels, r, used),
	}
	if extra := additional(r, used); len(extra.Items) > 0 {
		v.Sections = append(v.Sections, extra)
	}
	return v
}

// fixedSection always yields every slot, with the placeholder when no
// alias is present.
func fixedSection(title string, slots []subsection, r normalize.Result, used map[string]bool) Section {
	s := Section{Title: title}
	for _, slot := range slots {
		value := normalize.Placeholder
		for _, key := range slot.aliases {
			used[key] = true
			if value == normalize.Placeholder {
				value = r.Field(key)
			}
		}
		s.Items = append(s.Items, Item{Label: slot.label, Value: value})
	}
	return s
}

func additional(r normalize.Result, used map[string]bool) Section {
	keys := make([]string, 0, len(r.Fields))
	for k := range r.Fields {
		if !used[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	s := Section{Title: "Additional Fields"}
	for _, k := range keys {
		s.Items = append(s.Items, Item{Label: Label(k), Value: r.Field(k)})
	}
	return s
}

// ToneOf classifies a bias string.
func ToneOf(bias string) Tone {
	b := strings.ToLower(bias)
	switch {
	case strings.Contains(b, "buy"), strings.Contains(b, "bull"), strings.Contains(b, "صاعد"), strings.Contains(b, "شراء"):
		return ToneBullish
	case strings.Contains(b, "sell"), strings.Contains(b, "bear"), strings.Contains(b, "هابط"), strings.Contains(b, "بيع"):
		return ToneBearish
	}
	return ToneNeutral
}

// Label turns a field key such as "key_levels.upside" into "Key Levels / Upside".
func Label(key string) string {
	parts := strings.Split(key, ".")
	for i, p := range parts {
		words := strings.Fields(strings.ReplaceAll(p, "_", " "))
		for j, w := range words {
			rs := []rune(w)
			rs[0] = unicode.ToUpper(rs[0])
			words[j] = string(rs)
		}
		parts[i] = strings.Join(words, " ")
	}
	return strings.Join(parts, " / ")
}

// Raw HTML in narratives is dropped by the default renderer.
var md = goldmark.New(
	goldmark.WithExtensions(extension.Linkify),
	goldmark.WithRendererOptions(html.WithHardWraps()),
)

// Markdown converts narrative markdown to HTML.
func Markdown(text string) template.HTML {
	var buf bytes.Buffer
	if err := md.Convert([]byte(text), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(text))
	}
	return template.HTML(buf.String())
}
