package sparql

import (
	"fmt"
	"strings"
)

// TermKind tags the variant held by an RDFTerm
type TermKind uint8

const (
	// KindURI is an IRI reference
	KindURI TermKind = iota + 1
	// KindLiteral is a literal with optional datatype or language tag
	KindLiteral
	// KindBlankNode is a blank node label
	KindBlankNode
)

// String returns the SPARQL results JSON type name
func (k TermKind) String() string {
	switch k {
	case KindURI:
		return "uri"
	case KindLiteral:
		return "literal"
	case KindBlankNode:
		return "bnode"
	default:
		return "unknown"
	}
}

// RDFTerm is one RDF value bound to a variable.
// Datatype and Language are only meaningful for literals.
type RDFTerm struct {
	Kind     TermKind
	Value    string
	Datatype string
	Language string
}

// URI returns an IRI term
func URI(value string) RDFTerm {
	return RDFTerm{Kind: KindURI, Value: value}
}

// Literal returns a plain literal
func Literal(value string) RDFTerm {
	return RDFTerm{Kind: KindLiteral, Value: value}
}

// TypedLiteral returns a literal with a datatype IRI
func TypedLiteral(value, datatype string) RDFTerm {
	return RDFTerm{Kind: KindLiteral, Value: value, Datatype: datatype}
}

// LangLiteral returns a language-tagged literal. Tags compare case-insensitively
// per BCP 47, so they are stored lower-cased.
func LangLiteral(value, language string) RDFTerm {
	return RDFTerm{Kind: KindLiteral, Value: value, Language: strings.ToLower(language)}
}

// BlankNode returns a blank node term
func BlankNode(label string) RDFTerm {
	return RDFTerm{Kind: KindBlankNode, Value: label}
}

// IsURI reports whether the term is an IRI
func (t RDFTerm) IsURI() bool { return t.Kind == KindURI }

// IsLiteral reports whether the term is a literal
func (t RDFTerm) IsLiteral() bool { return t.Kind == KindLiteral }

// IsBlankNode reports whether the term is a blank node
func (t RDFTerm) IsBlankNode() bool { return t.Kind == KindBlankNode }

// Equal reports structural equality: same kind, value, datatype and language
func (t RDFTerm) Equal(other RDFTerm) bool {
	return t == other
}

// Validate checks the term is one of the known variants and carries no
// literal-only fields when it is not a literal
func (t RDFTerm) Validate() error {
	switch t.Kind {
	case KindURI, KindBlankNode:
		if t.Datatype != "" || t.Language != "" {
			return fmt.Errorf("%s term cannot carry datatype or language", t.Kind)
		}
	case KindLiteral:
		if t.Datatype != "" && t.Language != "" {
			return fmt.Errorf("literal cannot carry both datatype and language")
		}
	default:
		return fmt.Errorf("unknown term kind %d", t.Kind)
	}
	return nil
}

// String renders the term in N-Triples-like syntax for logs
func (t RDFTerm) String() string {
	switch t.Kind {
	case KindURI:
		return "<" + t.Value + ">"
	case KindBlankNode:
		return "_:" + t.Value
	case KindLiteral:
		s := fmt.Sprintf("%q", t.Value)
		if t.Language != "" {
			return s + "@" + t.Language
		}
		if t.Datatype != "" {
			return s + "^^<" + t.Datatype + ">"
		}
		return s
	default:
		return "?"
	}
}
