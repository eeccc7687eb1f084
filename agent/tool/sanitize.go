package tool

import (
	"encoding/json"
	"fmt"
	"regexp"
	"unicode/utf8"
)

const (
	redactedValue  = "[REDACTED]"
	truncatedMark  = "...[truncated]"
	maxDepthMarker = "[max depth]"
)

// SanitizeConfig bounds what ends up in logs and audit rows.
type SanitizeConfig struct {
	MaxDepth  int      `yaml:"max_depth"`
	MaxString int      `yaml:"max_string"`
	MaxItems  int      `yaml:"max_items"`
	Keys      []string `yaml:"keys"`
}

type Sanitizer struct {
	cfg      SanitizeConfig
	patterns []*regexp.Regexp
}

func NewSanitizer(cfg SanitizeConfig) (*Sanitizer, error) {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = 6
	}
	if cfg.MaxString <= 0 {
		cfg.MaxString = 512
	}
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = 20
	}
	s := &Sanitizer{cfg: cfg}
	for _, raw := range cfg.Keys {
		re, err := regexp.Compile(raw)
		if err != nil {
			return nil, fmt.Errorf("redaction pattern %q: %w", raw, err)
		}
		s.patterns = append(s.patterns, re)
	}
	return s, nil
}

// Sanitize returns a redacted, size-bounded copy of v as a generic tree of
// maps, slices, and scalars. v itself is never modified.
func (s *Sanitizer) Sanitize(v any) any {
	tree, err := toTree(v)
	if err != nil {
		return fmt.Sprintf("[unserializable %T]", v)
	}
	return s.visit(tree, 0)
}

// JSON renders the sanitized value; "" when v is nil.
func (s *Sanitizer) JSON(v any) string {
	if v == nil {
		return ""
	}
	raw, err := json.Marshal(s.Sanitize(v))
	if err != nil {
		return ""
	}
	return string(raw)
}

func (s *Sanitizer) visit(node any, depth int) any {
	if depth >= s.cfg.MaxDepth {
		switch node.(type) {
		case map[string]any, []any:
			return maxDepthMarker
		}
	}
	switch val := node.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			if s.sensitive(k) {
				out[k] = redactedValue
				continue
			}
			out[k] = s.visit(child, depth+1)
		}
		return out
	case []any:
		n := len(val)
		if n > s.cfg.MaxItems {
			n = s.cfg.MaxItems
		}
		out := make([]any, 0, n+1)
		for _, child := range val[:n] {
			out = append(out, s.visit(child, depth+1))
		}
		if rest := len(val) - n; rest > 0 {
			out = append(out, fmt.Sprintf("... %d more", rest))
		}
		return out
	case string:
		if len(val) > s.cfg.MaxString {
			cut := s.cfg.MaxString
			for cut > 0 && !utf8.RuneStart(val[cut]) {
				cut--
			}
			return val[:cut] + truncatedMark
		}
		return val
	default:
		return val
	}
}

func (s *Sanitizer) sensitive(key string) bool {
	for _, re := range s.patterns {
		if re.MatchString(key) {
			return true
		}
	}
	return false
}

// toTree normalizes structs and typed maps into the generic JSON shape.
func toTree(v any) (any, error) {
	switch v.(type) {
	case nil, string, bool, float64:
		return v, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
