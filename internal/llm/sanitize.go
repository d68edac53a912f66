package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

var (
	// a run of fences, with optional language tags, opening a line
	leadingFence = regexp.MustCompile("(?m)^[ \t]*(```[A-Za-z0-9_+-]*[ \t\r]*)+")
	// a run of fences closing a line
	trailingFence = regexp.MustCompile("(?m)(```[ \t\r]*)+$")
	// doubled quotes glued to a word: ""value"" -> "value"; an empty "" is left alone
	quoteRunBefore = regexp.MustCompile(`"{2,}(\w)`)
	quoteRunAfter  = regexp.MustCompile(`(\w)"{2,}`)
)

// capitalised booleans, repaired only in value position outside strings
var boolLiterals = []string{"True", "TRUE", "False", "FALSE"}

// Sanitize prepares raw model output for strict JSON parsing. It does not
// validate. Passes repeat until the text is stable, so
// Sanitize(Sanitize(s)) == Sanitize(s).
func Sanitize(raw string) string {
	s := raw
	for {
		next := sanitizePass(s)
		if next == s {
			return s
		}
		s = next
	}
}

// sanitizePass never lengthens its input, so Sanitize terminates.
func sanitizePass(s string) string {
	s = leadingFence.ReplaceAllString(s, "")
	s = trailingFence.ReplaceAllString(s, "")
	s = quoteRunBefore.ReplaceAllString(s, `"$1`)
	s = quoteRunAfter.ReplaceAllString(s, `$1"`)
	s = lowerBooleans(s)
	return strings.TrimSpace(s)
}

// lowerBooleans rewrites True/False literals that follow ':', '[' or ','
// and leaves string contents alone.
func lowerBooleans(s string) string {
	b := []byte(s)
	inString, escaped := false, false
	var prev byte
	for i := 0; i < len(b); i++ {
		c := b[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
				prev = c
			}
			continue
		}
		switch c {
		case '"':
			inString = true
			continue
		case ' ', '\t', '\r', '\n':
			continue
		}
		if prev == ':' || prev == '[' || prev == ',' {
			for _, lit := range boolLiterals {
				end := i + len(lit)
				if strings.HasPrefix(s[i:], lit) && (end == len(b) || !isWordByte(b[end])) {
					copy(b[i:end], strings.ToLower(lit))
					i = end - 1
					break
				}
			}
		}
		prev = b[i]
	}
	return string(b)
}

func isWordByte(c byte) bool {
	return c == '_' || ('0' <= c && c <= '9') || ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}

// DecodeJSON sanitizes raw, validates it against schema when one is given and
// unmarshals it into dst. Every failure is a MalformedPlanError.
func DecodeJSON(stage, raw string, schema *jsonschema.Schema, dst any) error {
	clean := Sanitize(raw)
	if clean == "" {
		return &MalformedPlanError{Stage: stage, Raw: raw, Err: fmt.Errorf("no content")}
	}
	var doc any
	if err := json.Unmarshal([]byte(clean), &doc); err != nil {
		return &MalformedPlanError{Stage: stage, Raw: raw, Err: err}
	}
	if schema != nil {
		if err := schema.Validate(doc); err != nil {
			return &MalformedPlanError{Stage: stage, Raw: raw, Err: fmt.Errorf("schema: %w", err)}
		}
	}
	if err := json.Unmarshal([]byte(clean), dst); err != nil {
		return &MalformedPlanError{Stage: stage, Raw: raw, Err: err}
	}
	return nil
}
