// Package template implements flat placeholder substitution for message
// templates.
//
// Authors write placeholders as {name}. Normalize rewrites only braces that
// wrap a simple identifier into the dollar form, so stylesheet blocks such as
// {color: red;} survive untouched. Render then substitutes row values into the
// dollar form and restores unknown placeholders to their literal {name} form.
package template

import (
	"regexp"
	"strings"
)

// identifier is the placeholder name grammar.
const identifier = `[A-Za-z_][A-Za-z0-9_]*`

var (
	bracePattern = regexp.MustCompile(`\{(` + identifier + `)\}`)

	// dollarPattern matches "$$", "$name" and "${name}".
	dollarPattern = regexp.MustCompile(`\$(?:(\$)|(` + identifier + `)|\{(` + identifier + `)\})`)
)

// Normalize rewrites every {name} placeholder into $name. Everything else,
// including braces around non-identifier text, is passed through unchanged.
// When the closing brace is followed by an identifier character the braced
// ${name} form is emitted so the placeholder keeps its boundary.
func Normalize(tpl string) string {
	matches := bracePattern.FindAllStringSubmatchIndex(tpl, -1)
	if len(matches) == 0 {
		return tpl
	}

	var b strings.Builder
	b.Grow(len(tpl))

	last := 0
	for _, m := range matches {
		start, end := m[0], m[1]
		name := tpl[m[2]:m[3]]

		b.WriteString(tpl[last:start])
		if end < len(tpl) && isIdentChar(tpl[end]) {
			b.WriteString("${" + name + "}")
		} else {
			b.WriteString("$" + name)
		}
		last = end
	}
	b.WriteString(tpl[last:])

	return b.String()
}

// Render substitutes row values into a normalized template. "$$" yields a
// literal "$". Placeholders whose key is absent from row are restored to
// {name}. Substituted values are never re-scanned.
func Render(normalized string, row map[string]string) string {
	return dollarPattern.ReplaceAllStringFunc(normalized, func(token string) string {
		if token == "$$" {
			return "$"
		}
		name := strings.TrimSuffix(strings.TrimPrefix(strings.TrimPrefix(token, "$"), "{"), "}")
		return lookup(row, name)
	})
}

// Execute normalizes tpl and renders it against row.
func Execute(tpl string, row map[string]string) string {
	return Render(Normalize(tpl), row)
}

// lookup returns the row value for name, or the literal placeholder when the
// row has no such key.
func lookup(row map[string]string, name string) string {
	if value, ok := row[name]; ok {
		return value
	}
	return "{" + name + "}"
}

func isIdentChar(c byte) bool {
	return c == '_' ||
		('a' <= c && c <= 'z') ||
		('A' <= c && c <= 'Z') ||
		('0' <= c && c <= '9')
}
