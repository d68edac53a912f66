package executor

import (
	"fmt"
	"strconv"
	"strings"
)

// Command is one parsed browser command, e.g. fill(3, "hello").
type Command struct {
	Verb string
	Args []string
	Raw  string
}

func (c Command) String() string { return c.Raw }

// Int returns argument i as an integer.
func (c Command) Int(i int) (int, error) {
	if i >= len(c.Args) {
		return 0, fmt.Errorf("%s: missing argument %d", c.Verb, i+1)
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(c.Args[i]), 64)
	if err != nil {
		return 0, fmt.Errorf("%s: argument %d is not a number: %q", c.Verb, i+1, c.Args[i])
	}
	return int(f), nil
}

// Text returns argument i.
func (c Command) Text(i int) (string, error) {
	if i >= len(c.Args) {
		return "", fmt.Errorf("%s: missing argument %d", c.Verb, i+1)
	}
	return c.Args[i], nil
}

// SplitAlternatives splits a command list on semicolons that are not inside
// quotes or parentheses. Blank entries are dropped.
func SplitAlternatives(s string) []string {
	var (
		out   []string
		cur   strings.Builder
		quote rune
		esc   bool
		depth int
	)
	flush := func() {
		if t := strings.TrimSpace(cur.String()); t != "" {
			out = append(out, t)
		}
		cur.Reset()
	}
	for _, r := range s {
		switch {
		case esc:
			esc = false
		case quote != 0 && r == '\\':
			esc = true
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '"' || r == '\'':
			quote = r
		case r == '(':
			depth++
		case r == ')' && depth > 0:
			depth--
		case r == ';' && depth == 0:
			flush()
			continue
		}
		cur.WriteRune(r)
	}
	flush()
	return out
}

// ParseCommand parses `verb(arg, "arg", ...)`. A bare verb without
// parentheses has no arguments.
func ParseCommand(raw string) (Command, error) {
	raw = strings.TrimSpace(raw)
	cmd := Command{Raw: raw}
	open := strings.IndexByte(raw, '(')
	if open < 0 {
		if !isIdent(raw) {
			return cmd, fmt.Errorf("cannot parse command %q", raw)
		}
		cmd.Verb = strings.ToLower(raw)
		return cmd, nil
	}
	if !strings.HasSuffix(raw, ")") {
		return cmd, fmt.Errorf("command %q: missing closing parenthesis", raw)
	}
	verb := strings.TrimSpace(raw[:open])
	if !isIdent(verb) {
		return cmd, fmt.Errorf("command %q: bad verb %q", raw, verb)
	}
	cmd.Verb = strings.ToLower(verb)
	args, err := splitArgs(raw[open+1 : len(raw)-1])
	if err != nil {
		return cmd, fmt.Errorf("command %q: %w", raw, err)
	}
	cmd.Args = args
	return cmd, nil
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}

func splitArgs(s string) ([]string, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var (
		args   []string
		cur    strings.Builder
		quote  rune
		esc    bool
		quoted bool
	)
	finish := func() {
		a := cur.String()
		if !quoted {
			a = strings.TrimSpace(a)
		}
		args = append(args, a)
		cur.Reset()
		quoted = false
	}
	for _, r := range s {
		switch {
		case esc:
			cur.WriteRune(r)
			esc = false
		case quote != 0 && r == '\\':
			esc = true
		case quote != 0 && r == quote:
			quote = 0
		case quote != 0:
			cur.WriteRune(r)
		case r == '"' || r == '\'':
			if strings.TrimSpace(cur.String()) != "" {
				return nil, fmt.Errorf("unexpected quote")
			}
			cur.Reset()
			quote, quoted = r, true
		case r == ',':
			finish()
		case quoted && r != ' ' && r != '\t':
			return nil, fmt.Errorf("text after closing quote")
		case quoted:
		default:
			cur.WriteRune(r)
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("unterminated string")
	}
	finish()
	return args, nil
}
