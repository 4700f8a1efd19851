package sparql

import (
	"fmt"
	"net/url"
	"strings"
)

type tokenKind int

const (
	tokWord    tokenKind = iota // keyword, function name, a, true, false
	tokIRI                      // <...>, text without the brackets
	tokPName                    // prefixed name such as ex:g or ex:
	tokVar                      // ?x or $x, text without the sigil
	tokLiteral                  // string, number or blank node label
	tokPunct                    // braces, brackets, separators and operators
)

type token struct {
	kind tokenKind
	text string
}

func (t token) isWord(kw string) bool {
	return t.kind == tokWord && strings.EqualFold(t.text, kw)
}

func (t token) isPunct(p string) bool {
	return t.kind == tokPunct && t.text == p
}

// isTerm reports whether t can stand in a triple pattern
func (t token) isTerm() bool {
	switch t.kind {
	case tokIRI, tokPName, tokVar, tokLiteral:
		return true
	case tokPunct:
		return t.text == "["
	case tokWord:
		return t.text == "a" || strings.EqualFold(t.text, "true") || strings.EqualFold(t.text, "false")
	}
	return false
}

// tokenize splits SPARQL text into tokens. Comments are dropped; string
// literals become a single token, so keywords inside them are never seen.
func tokenize(text string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(text) {
		c := text[i]
		switch {
		case isSpace(c):
			i++
		case c == '#':
			for i < len(text) && text[i] != '\n' {
				i++
			}
		case c == '<':
			if end, ok := scanIRI(text, i); ok {
				toks = append(toks, token{tokIRI, text[i+1 : end]})
				i = end + 1
			} else {
				toks = append(toks, token{tokPunct, "<"})
				i++
			}
		case c == '?' || c == '$':
			j := i + 1
			for j < len(text) && isNameChar(text[j]) {
				j++
			}
			if j == i+1 {
				toks = append(toks, token{tokPunct, string(c)})
				i++
				continue
			}
			toks = append(toks, token{tokVar, text[i+1 : j]})
			i = j
		case c == '"' || c == '\'':
			end, err := scanString(text, i)
			if err != nil {
				return nil, err
			}
			toks = append(toks, token{tokLiteral, text[i:end]})
			i = end
			if i < len(text) && text[i] == '@' {
				i++
				for i < len(text) && (isNameChar(text[i]) || text[i] == '-') {
					i++
				}
			}
		case c == '_' && i+1 < len(text) && text[i+1] == ':':
			j := i + 2
			for j < len(text) && (isNameChar(text[j]) || text[j] == '-' || text[j] == '.') {
				j++
			}
			for j > i+2 && text[j-1] == '.' {
				j--
			}
			toks = append(toks, token{tokLiteral, text[i:j]})
			i = j
		case isDigit(c) || ((c == '.' || c == '+' || c == '-') && i+1 < len(text) && isDigit(text[i+1])):
			j := i + 1
			for j < len(text) && (isDigit(text[j]) || text[j] == '.' || text[j] == 'e' || text[j] == 'E') {
				j++
			}
			for j > i+1 && text[j-1] == '.' {
				j--
			}
			toks = append(toks, token{tokLiteral, text[i:j]})
			i = j
		case isNameStart(c) || c == ':':
			j, pname := scanName(text, i)
			kind := tokWord
			if pname {
				kind = tokPName
			}
			toks = append(toks, token{kind, text[i:j]})
			i = j
		default:
			toks = append(toks, token{tokPunct, string(c)})
			i++
		}
	}
	return toks, nil
}

// scanIRI returns the index of the '>' closing an IRI reference opened at i,
// or false when the '<' is an operator.
func scanIRI(text string, i int) (int, bool) {
	for j := i + 1; j < len(text); j++ {
		switch c := text[j]; {
		case c == '>':
			return j, true
		case c <= ' ' || strings.IndexByte("<\"{}|^`\\", c) >= 0:
			return 0, false
		}
	}
	return 0, false
}

// scanString returns the index just past the literal opened at i
func scanString(text string, i int) (int, error) {
	quote := text[i]
	long := strings.Repeat(string(quote), 3)
	if strings.HasPrefix(text[i:], long) {
		for j := i + 3; j < len(text); j++ {
			if text[j] == '\\' {
				j++
				continue
			}
			if strings.HasPrefix(text[j:], long) {
				return j + 3, nil
			}
		}
		return 0, fmt.Errorf("unterminated string literal at offset %d", i)
	}
	for j := i + 1; j < len(text); j++ {
		switch text[j] {
		case '\\':
			j++
		case quote:
			return j + 1, nil
		case '\n', '\r':
			return 0, fmt.Errorf("unterminated string literal at offset %d", i)
		}
	}
	return 0, fmt.Errorf("unterminated string literal at offset %d", i)
}

// scanName reads a keyword or a prefixed name starting at i. Prefixed names
// may contain dots but never end with one.
func scanName(text string, i int) (int, bool) {
	j := i
	pname := false
	for j < len(text) {
		c := text[j]
		switch {
		case c == ':':
			pname = true
		case c == '\\' && pname && j+1 < len(text):
			j++
		case c == '%' && pname:
		case c == '.' || c == '-':
			if !pname && c == '.' {
				return j, false
			}
		case isNameChar(c):
		default:
			return trimDots(text, i, j), pname
		}
		j++
	}
	return trimDots(text, i, j), pname
}

func trimDots(text string, start, end int) int {
	for end > start+1 && text[end-1] == '.' {
		end--
	}
	return end
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isNameStart(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= 0x80
}

func isNameChar(c byte) bool {
	return isNameStart(c) || isDigit(c) || c == '_'
}

// prologue tracks BASE and PREFIX declarations in effect
type prologue struct {
	base     *url.URL
	prefixes map[string]string
}

func newPrologue() *prologue {
	return &prologue{prefixes: make(map[string]string)}
}

// declare consumes a PREFIX or BASE declaration at toks[i] and returns the
// index of its last token; ok is false when the declaration is malformed.
func (p *prologue) declare(toks []token, i int) (int, bool) {
	switch {
	case toks[i].isWord("BASE"):
		if i+1 >= len(toks) || toks[i+1].kind != tokIRI {
			return i, false
		}
		ref, err := url.Parse(toks[i+1].text)
		if err != nil {
			return i, false
		}
		if p.base != nil {
			ref = p.base.ResolveReference(ref)
		}
		p.base = ref
		return i + 1, true
	case toks[i].isWord("PREFIX"):
		if i+2 >= len(toks) || toks[i+1].kind != tokPName || toks[i+2].kind != tokIRI {
			return i, false
		}
		name := toks[i+1].text
		if !strings.HasSuffix(name, ":") {
			return i, false
		}
		p.prefixes[strings.TrimSuffix(name, ":")] = p.resolveRef(toks[i+2].text)
		return i + 2, true
	}
	return i, false
}

// resolveRef resolves a relative IRI against BASE when one is declared
func (p *prologue) resolveRef(raw string) string {
	if p.base == nil {
		return raw
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return p.base.ResolveReference(ref).String()
}

// graphIRI resolves a graph name token to an absolute IRI
func (p *prologue) graphIRI(t token) (string, bool) {
	var iri string
	switch t.kind {
	case tokIRI:
		iri = p.resolveRef(t.text)
	case tokPName:
		prefix, local, _ := strings.Cut(t.text, ":")
		ns, ok := p.prefixes[prefix]
		if !ok {
			return "", false
		}
		iri = ns + unescapeLocal(local)
	default:
		return "", false
	}
	u, err := url.Parse(iri)
	if err != nil || !u.IsAbs() {
		return "", false
	}
	return iri, true
}

func unescapeLocal(local string) string {
	if !strings.Contains(local, `\`) {
		return local
	}
	var sb strings.Builder
	for i := 0; i < len(local); i++ {
		if local[i] == '\\' && i+1 < len(local) {
			i++
		}
		sb.WriteByte(local[i])
	}
	return sb.String()
}
