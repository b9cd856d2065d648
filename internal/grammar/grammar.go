// Package grammar expands command templates into argument vectors.
//
// A template is tokenized with shell rules (whitespace separation, quoting,
// escape sequences) and supports two variable forms: ordinary shell `$NAME`
// references, and `%name%` markers whose names may contain characters that
// are not legal in shell variables, such as the `:` in `%env:Version%`.
// Both forms resolve through the caller's resolver first, then through the
// process environment, and finally expand to the empty string. Expansion is
// pure: it never executes or interprets the resulting tokens.
package grammar

import (
	"fmt"
	"os"
	"strings"

	"mvdan.cc/sh/v3/shell"
)

// Resolver supplies values for variable references found in a template.
// The boolean reports whether the name is known to the resolver.
type Resolver func(name string) (string, bool)

// Process expands template into an ordered token sequence. The returned
// slice is freshly allocated on every call, so callers may mutate it.
func Process(template string, resolve Resolver) ([]string, error) {
	lookup := func(name string) string {
		if resolve != nil {
			if v, ok := resolve(name); ok {
				return v
			}
		}
		return os.Getenv(name)
	}

	fields, err := shell.Fields(template, lookup)
	if err != nil {
		return nil, fmt.Errorf("parse command template %q: %w", template, err)
	}

	tokens := make([]string, 0, len(fields))
	for _, field := range fields {
		tokens = append(tokens, substituteMarkers(field, lookup))
	}
	return tokens, nil
}

// substituteMarkers replaces every %name% marker inside a single token.
// A marker name must be non-empty and free of whitespace; anything else,
// including a lone percent sign, is left as literal text.
func substituteMarkers(token string, lookup func(string) string) string {
	if !strings.Contains(token, "%") {
		return token
	}

	var sb strings.Builder
	rest := token
	for {
		open := strings.IndexByte(rest, '%')
		if open == -1 {
			sb.WriteString(rest)
			return sb.String()
		}
		close := strings.IndexByte(rest[open+1:], '%')
		if close == -1 {
			sb.WriteString(rest)
			return sb.String()
		}
		name := rest[open+1 : open+1+close]
		if name == "" || strings.ContainsAny(name, " \t%") {
			// Not a marker; emit up to and including the first percent
			// and keep scanning from the next character.
			sb.WriteString(rest[:open+1])
			rest = rest[open+1:]
			continue
		}
		sb.WriteString(rest[:open])
		sb.WriteString(lookup(name))
		rest = rest[open+close+2:]
	}
}
