// Package sanitize turns raw model replies into a strict field -> []string
// shape. It never fails: unusable replies produce empty categories and the
// raw text is kept for diagnostics.
package sanitize

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"
	"go.uber.org/zap"

	"github.com/sells-group/concept-cli/internal/model"
)

// Placeholders substituted for values that cannot be used as-is.
const (
	PlaceholderObjectString    = "[LLM Returned Object String]"
	PlaceholderNoValue         = "[No Value]"
	PlaceholderMalformed       = "[Malformed Object Detected]"
	PlaceholderUnstringifiable = "[Unstringifiable Object]"
)

// Limits on the object handed to the decoder and repairer.
const (
	MaxReplyBytes = 64 << 10
	MaxDepth      = 32
)

// flattenKeys are checked in order when an array item is an object.
var flattenKeys = []string{"value", "name", "text", "label", "description"}

var fencePattern = regexp.MustCompile("```[A-Za-z0-9_-]*")

// Result is the sanitized form of one reply.
type Result struct {
	// Fields holds every top-level key of the reply as a list of strings.
	// The four canonical categories are always present.
	Fields   map[string][]string
	Issues   []string
	Parsed   bool
	Repaired bool
	Raw      string
}

// Sanitize parses raw into a Result.
func Sanitize(raw string) Result {
	res := Result{Fields: emptyFields(), Raw: raw}

	root, repaired, issue := parse(raw)
	if issue != "" {
		res.Issues = append(res.Issues, issue)
		zap.L().Warn("sanitize: reply unusable", zap.String("issue", issue), zap.Int("length", len(raw)))
		return res
	}
	if repaired {
		res.Repaired = true
		res.Issues = append(res.Issues, "reply required JSON repair")
	}

	res.Parsed = true
	seen := make(map[string]bool, len(root.Fields))
	for _, f := range root.Fields {
		repeated := seen[f.Key]
		seen[f.Key] = true
		if repeated {
			res.Issues = append(res.Issues, fmt.Sprintf("field %q repeated, values appended", f.Key))
		}
		if f.Value.Kind != KindArray {
			if !repeated {
				res.Fields[f.Key] = []string{}
			}
			res.Issues = append(res.Issues, fmt.Sprintf("field %q is not an array (got %s), defaulting to []", f.Key, f.Value.Kind))
			continue
		}
		items := make([]string, 0, len(f.Value.Items))
		for i, item := range f.Value.Items {
			s, issue := Flatten(item)
			if issue != "" {
				res.Issues = append(res.Issues, fmt.Sprintf("field %q item %d: %s", f.Key, i, issue))
			}
			items = append(items, s)
		}
		if repeated {
			items = append(res.Fields[f.Key], items...)
		}
		res.Fields[f.Key] = items
	}

	if len(res.Issues) > 0 {
		zap.L().Debug("sanitize: reply coerced", zap.Strings("issues", res.Issues))
	}
	return res
}

// Parseable reports whether raw yields a JSON object, after repair if
// needed. It logs nothing.
func Parseable(raw string) bool {
	_, _, issue := parse(raw)
	return issue == ""
}

// parse locates, decodes and if necessary repairs the reply object. A
// non-empty issue means no usable object was found.
func parse(raw string) (Value, bool, string) {
	body, ok := ExtractObject(StripFences(raw))
	if !ok {
		return Value{}, false, "no JSON object found in reply"
	}
	if len(body) > MaxReplyBytes {
		return Value{}, false, fmt.Sprintf("reply object is %d bytes, over the %d byte limit", len(body), MaxReplyBytes)
	}
	if d := nestingDepth(body); d > MaxDepth {
		return Value{}, false, fmt.Sprintf("reply nests %d levels, over the limit of %d", d, MaxDepth)
	}

	root, err := decode([]byte(body))
	repaired := false
	if err != nil {
		fixed, repairErr := jsonrepair.JSONRepair(body)
		if repairErr != nil {
			return Value{}, false, fmt.Sprintf("unparseable reply: %v", err)
		}
		root, err = decode([]byte(fixed))
		if err != nil {
			return Value{}, false, fmt.Sprintf("unparseable reply after repair: %v", err)
		}
		repaired = true
	}
	if root.Kind != KindObject {
		return Value{}, false, fmt.Sprintf("reply root is %s, not an object", root.Kind)
	}
	return root, repaired, ""
}

// nestingDepth returns the deepest bracket nesting of s outside string
// literals.
func nestingDepth(s string) int {
	depth, maxDepth := 0, 0
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{', '[':
			depth++
			maxDepth = max(maxDepth, depth)
		case '}', ']':
			if depth > 0 {
				depth--
			}
		}
	}
	return maxDepth
}

// Flatten coerces one array item to a string. The second return value
// describes any coercion applied.
func Flatten(v Value) (string, string) {
	switch v.Kind {
	case KindString:
		if v.Str == "[object Object]" {
			return PlaceholderObjectString, "object rendered as string"
		}
		return v.Str, ""
	case KindNull:
		return PlaceholderNoValue, "null item"
	case KindNumber:
		return v.Num.String(), "number converted to string"
	case KindBool:
		return fmt.Sprintf("%t", v.Bool), "bool converted to string"
	case KindObject:
		for _, key := range flattenKeys {
			if inner, ok := v.Get(key); ok && inner.Kind == KindString && strings.TrimSpace(inner.Str) != "" {
				return inner.Str, fmt.Sprintf("object flattened via %q", key)
			}
		}
		if len(v.Fields) == 0 {
			return PlaceholderMalformed, "empty object"
		}
		return stringify(v), "object serialized"
	case KindArray:
		return stringify(v), "nested array serialized"
	default:
		return PlaceholderUnstringifiable, "unknown value kind"
	}
}

func stringify(v Value) string {
	b, err := json.Marshal(v)
	if err != nil {
		return PlaceholderUnstringifiable
	}
	return string(b)
}

// StripFences removes markdown code fence markers anywhere in s.
func StripFences(s string) string {
	return strings.TrimSpace(fencePattern.ReplaceAllString(s, ""))
}

// ExtractObject returns the text between the first '{' and the last '}'.
func ExtractObject(s string) (string, bool) {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}

func emptyFields() map[string][]string {
	out := make(map[string][]string, len(model.Categories))
	for _, c := range model.Categories {
		out[string(c)] = []string{}
	}
	return out
}

// ToConceptSet keeps only the canonical category keys of res. Alias keys
// are the Normalizer's job.
func ToConceptSet(res Result) model.ConceptSet {
	values := make(map[model.Category][]string, len(model.Categories))
	for _, c := range model.Categories {
		values[c] = res.Fields[string(c)]
	}
	return model.ConceptSetFromValues(values, model.SourceSanitizer)
}
