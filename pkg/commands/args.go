package commands

import (
	"strings"
	"unicode"
)

// Tokenize splits a raw command line into positional tokens.
//
// Whitespace separates tokens unless inside matching single or double
// quotes. A backslash escapes the next character when it is a quote,
// whitespace, or another backslash; any other escaped character passes
// through with the backslash preserved. When maxArgs > 0 and maxArgs-1
// tokens have been produced, the trimmed remainder becomes the final token
// verbatim. Malformed quoting degrades gracefully; there are no error
// conditions.
func Tokenize(input string, maxArgs int) []string {
	var tokens []string
	runes := []rune(input)

	i := 0
	for i < len(runes) {
		for i < len(runes) && unicode.IsSpace(runes[i]) {
			i++
		}
		if i >= len(runes) {
			break
		}

		if maxArgs > 0 && len(tokens) == maxArgs-1 {
			tokens = append(tokens, strings.TrimSpace(string(runes[i:])))
			return tokens
		}

		var b strings.Builder
		var quote rune
		for i < len(runes) {
			r := runes[i]

			if r == '\\' && i+1 < len(runes) {
				next := runes[i+1]
				if next == '"' || next == '\'' || next == '\\' || unicode.IsSpace(next) {
					b.WriteRune(next)
				} else {
					b.WriteRune('\\')
					b.WriteRune(next)
				}
				i += 2
				continue
			}

			if quote != 0 {
				if r == quote {
					quote = 0
					i++
					continue
				}
				b.WriteRune(r)
				i++
				continue
			}

			if r == '"' || r == '\'' {
				quote = r
				i++
				continue
			}

			if unicode.IsSpace(r) {
				break
			}

			b.WriteRune(r)
			i++
		}

		tokens = append(tokens, b.String())
	}

	return tokens
}

// ExtractFlags lifts --key, --key value, and --key=value tokens out of the
// token stream, returning the remaining positional tokens and a flag map.
//
// Flags are extracted before positional assignment. A --key=value token
// carries its value inline; otherwise a --key followed by a non-flag token
// consumes that token as its value, and a --key followed by another flag
// (or nothing) gets the value "true".
func ExtractFlags(tokens []string) ([]string, map[string]string) {
	var positional []string
	flags := make(map[string]string)

	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		if !strings.HasPrefix(tok, "--") || len(tok) == 2 {
			positional = append(positional, tok)
			continue
		}

		key := tok[2:]
		if eq := strings.IndexByte(key, '='); eq >= 0 {
			flags[key[:eq]] = key[eq+1:]
			continue
		}
		if i+1 < len(tokens) && !strings.HasPrefix(tokens[i+1], "--") {
			flags[key] = tokens[i+1]
			i++
		} else {
			flags[key] = "true"
		}
	}

	return positional, flags
}

var quoteNormalizer = strings.NewReplacer(
	"“", `"`, // left double curly quote
	"”", `"`, // right double curly quote
	"‘", "'", // left single curly quote
	"’", "'", // right single curly quote
)

// NormalizeQuotes replaces curly quotes with straight quotes so downstream
// string comparisons are quote-style-agnostic.
func NormalizeQuotes(s string) string {
	return quoteNormalizer.Replace(s)
}
