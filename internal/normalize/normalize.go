// Package normalize turns loosely shaped analysis payloads into a fixed,
// displayable Result. Every function here is total: any JSON-representable
// input yields a value and none of them panic or return an error.
package normalize

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Placeholder is rendered wherever a value is absent, null or empty.
const Placeholder = "N/A"

// Fixed precedence lists. The first key holding a non-empty value wins.
var (
	BiasKeys        = []string{"market_bias", "bias", "signal"}
	PhaseKeys       = []string{"market_phase", "phase", "structure"}
	ConfidenceKeys  = []string{"confidence", "confidence_level", "probability"}
	NarrativeKeys   = []string{"analysis_text", "narrative", "reason", "summary", "analysis"}
	RiskNoteKeys    = []string{"risk_note", "risk", "risk_warning"}
	OpportunityKeys = []string{"opportunity_context", "key_zones", "zones"}
)

// FieldOpportunity is the Fields key holding the opportunity/zones text.
const FieldOpportunity = "opportunity"

// Result is the normalized form of one analysis. It is never mutated after
// Normalize returns it.
type Result struct {
	Bias       string            `json:"bias"`
	Phase      string            `json:"phase"`
	Confidence string            `json:"confidence"`
	Narrative  string            `json:"narrative"`
	RiskNote   *string           `json:"risk_note,omitempty"`
	Fields     map[string]string `json:"fields"`
}

// Field returns the tier-specific field for key, or Placeholder.
func (r Result) Field(key string) string {
	if v, ok := r.Fields[key]; ok && v != "" {
		return v
	}
	return Placeholder
}

// Normalize converts a raw analysis payload into a Result.
func Normalize(raw any) Result {
	return NormalizeResponse(raw, nil)
}

// NormalizeResponse normalizes the analysis payload and falls back to
// legacy top-level fields of the response envelope (signal, structure,
// key_zones, reason) when the analysis object lacks them.
func NormalizeResponse(analysis any, envelope map[string]any) Result {
	analysis = decodeEmbedded(analysis)
	envelope = withoutKey(envelope, "analysis")

	res := Result{Fields: map[string]string{}}
	obj, isObj := asObject(analysis)
	if !isObj {
		// A bare string, list or scalar payload is the narrative itself.
		obj = map[string]any{}
		if text := Text(analysis); !isEmpty(text) {
			obj["analysis_text"] = analysis
		}
	}

	consumed := map[string]bool{}
	pick := func(keys []string) string {
		// Every alias is consumed so none of them leaks into Fields as a duplicate.
		for _, k := range keys {
			consumed[k] = true
		}
		if v := first(obj, keys); v != "" {
			return v
		}
		return first(envelope, keys)
	}

	res.Bias = orPlaceholder(pick(BiasKeys))
	res.Phase = orPlaceholder(pick(PhaseKeys))
	res.Confidence = orPlaceholder(pick(ConfidenceKeys))
	res.Narrative = orPlaceholder(pick(NarrativeKeys))
	if risk := pick(RiskNoteKeys); risk != "" {
		res.RiskNote = &risk
	}
	if opp := pick(OpportunityKeys); opp != "" {
		res.Fields[FieldOpportunity] = opp
	}

	for key, value := range obj {
		if consumed[key] {
			continue
		}
		flattenInto(res.Fields, key, value)
	}

	return res
}

// withoutKey returns a copy of m lacking key. The envelope still holds the
// analysis payload itself, which must never be read back as a legacy field.
func withoutKey(m map[string]any, key string) map[string]any {
	if _, ok := m[key]; !ok {
		return m
	}
	out := make(map[string]any, len(m)-1)
	for k, v := range m {
		if k != key {
			out[k] = v
		}
	}
	return out
}

// flattenInto writes value under key. Objects are expanded one level into
// dotted keys so that subsections (key_levels.upside) can be addressed.
func flattenInto(fields map[string]string, key string, value any) {
	value = decodeEmbedded(value)
	if obj, ok := asObject(value); ok && len(obj) > 0 {
		for child, v := range obj {
			fields[key+"."+child] = orPlaceholder(Text(v))
		}
		return
	}
	fields[key] = orPlaceholder(Text(value))
}

// first returns the first non-empty rendering among keys.
func first(obj map[string]any, keys []string) string {
	for _, k := range keys {
		v, ok := obj[k]
		if !ok {
			continue
		}
		if text := Text(v); !isEmpty(text) {
			return text
		}
	}
	return ""
}

// Text renders any JSON-representable value as display text.
//   - strings are used as-is (trimmed)
//   - arrays are rendered element-wise, order preserved, empty elements dropped
//   - objects render "key: value" per key in sorted order, newline joined
//   - nil renders as Placeholder
func Text(v any) string {
	return render(v, 0)
}

const maxDepth = 32

func render(v any, depth int) string {
	if depth > maxDepth {
		return Placeholder
	}
	switch t := v.(type) {
	case nil:
		return Placeholder
	case string:
		return cleanString(t)
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	case []any:
		return renderList(t, depth)
	case []string:
		items := make([]any, len(t))
		for i, s := range t {
			items[i] = s
		}
		return renderList(items, depth)
	case map[string]any:
		return renderObject(t, depth)
	case map[string]string:
		obj := make(map[string]any, len(t))
		for k, s := range t {
			obj[k] = s
		}
		return renderObject(obj, depth)
	}

	// Anything else goes through its JSON form so structs and typed slices
	// render like the payloads they would have been on the wire.
	data, err := json.Marshal(v)
	if err != nil {
		return cleanString(fmt.Sprint(v))
	}
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return cleanString(string(data))
	}
	return render(generic, depth+1)
}

func renderList(items []any, depth int) string {
	parts := make([]string, 0, len(items))
	multiline := false
	for _, item := range items {
		s := render(item, depth+1)
		if isEmpty(s) {
			continue
		}
		if strings.Contains(s, "\n") {
			multiline = true
		}
		parts = append(parts, s)
	}
	if len(parts) == 0 {
		return Placeholder
	}
	if multiline {
		return strings.Join(parts, "\n")
	}
	return strings.Join(parts, ", ")
}

func renderObject(obj map[string]any, depth int) string {
	if len(obj) == 0 {
		return Placeholder
	}
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		s := orPlaceholder(render(obj[k], depth+1))
		if strings.Contains(s, "\n") {
			lines = append(lines, k+":\n"+indent(s))
			continue
		}
		lines = append(lines, k+": "+s)
	}
	return strings.Join(lines, "\n")
}

func indent(s string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = "  " + l
	}
	return strings.Join(lines, "\n")
}

// literal renderings of missing values leaked by other clients
var junk = map[string]bool{
	"undefined":       true,
	"null":            true,
	"<nil>":           true,
	"[object object]": true,
}

func cleanString(s string) string {
	s = strings.TrimSpace(s)
	if junk[strings.ToLower(s)] {
		return ""
	}
	return s
}

func isEmpty(s string) bool {
	return s == "" || s == Placeholder
}

func orPlaceholder(s string) string {
	if isEmpty(s) {
		return Placeholder
	}
	return s
}

func asObject(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case map[string]string:
		obj := make(map[string]any, len(t))
		for k, s := range t {
			obj[k] = s
		}
		return obj, true
	}
	return nil, false
}

// decodeEmbedded unwraps a string that itself carries a JSON object or array.
func decodeEmbedded(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	trimmed := strings.TrimSpace(s)
	if len(trimmed) < 2 || (trimmed[0] != '{' && trimmed[0] != '[') {
		return v
	}
	dec := json.NewDecoder(strings.NewReader(trimmed))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return v
	}
	return out
}
