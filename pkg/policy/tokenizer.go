package policy

import (
	"sort"
	"strings"
	"unicode"
)

// Literal atoms recognized by the parser.
const (
	LiteralTrue  = "true()"
	LiteralFalse = "false()"
)

// Token is one lexical unit of a policy string.
type Token struct {
	// Text is the token text.
	Text string

	// Start and End delimit the token in the source, End exclusive.
	Start int
	End   int

	// Special marks single-character parenthesis tokens.
	Special bool
}

func isSpecial(r rune) bool {
	return r == '(' || r == ')'
}

// Tokenize splits text into tokens. Parentheses are single-character tokens and
// every other maximal run of non-space characters is one generic token. Afterwards
// each of atoms, plus the true()/false() literals, that the split fragmented is
// merged back into a single generic token.
func Tokenize(text string, atoms []string) []Token {
	tokens := scan(text)

	candidates := make([]string, 0, len(atoms)+2)
	candidates = append(candidates, LiteralTrue, LiteralFalse)
	for _, a := range atoms {
		if a != "" {
			candidates = append(candidates, a)
		}
	}
	// Longer atoms first so a name that embeds another wins the span.
	sort.SliceStable(candidates, func(i, j int) bool {
		return len(candidates[i]) > len(candidates[j])
	})

	for _, atom := range candidates {
		if !strings.Contains(text, atom) || hasToken(tokens, atom) {
			continue
		}
		tokens = merge(tokens, text, atom)
	}
	return tokens
}

func scan(text string) []Token {
	var tokens []Token
	start := -1
	flush := func(end int) {
		if start >= 0 {
			tokens = append(tokens, Token{Text: text[start:end], Start: start, End: end})
			start = -1
		}
	}
	for i, r := range text {
		switch {
		case unicode.IsSpace(r):
			flush(i)
		case isSpecial(r):
			flush(i)
			tokens = append(tokens, Token{Text: string(r), Start: i, End: i + 1, Special: true})
		default:
			if start < 0 {
				start = i
			}
		}
	}
	flush(len(text))
	return tokens
}

func hasToken(tokens []Token, text string) bool {
	for _, t := range tokens {
		if !t.Special && t.Text == text {
			return true
		}
	}
	return false
}

// merge collapses every run of tokens whose spans exactly cover an occurrence of atom.
func merge(tokens []Token, text, atom string) []Token {
	for offset := 0; offset < len(text); {
		idx := strings.Index(text[offset:], atom)
		if idx < 0 {
			break
		}
		begin := offset + idx
		end := begin + len(atom)
		offset = begin + 1

		first, last := -1, -1
		for i, t := range tokens {
			if t.Start == begin {
				first = i
			}
			if t.End == end {
				last = i
				break
			}
		}
		if first < 0 || last < first || first == last && !tokens[first].Special {
			continue
		}

		merged := Token{Text: atom, Start: begin, End: end}
		out := make([]Token, 0, len(tokens)-(last-first))
		out = append(out, tokens[:first]...)
		out = append(out, merged)
		out = append(out, tokens[last+1:]...)
		tokens = out
		offset = end
	}
	return tokens
}
