package sparql

import (
	"encoding/json"
	"fmt"
)

// termJSON is the SPARQL 1.1 Query Results JSON form of a term
type termJSON struct {
	Type     string `json:"type"`
	Value    string `json:"value"`
	Datatype string `json:"datatype,omitempty"`
	Language string `json:"xml:lang,omitempty"`
}

// MarshalJSON encodes the term in SPARQL results JSON form
func (t RDFTerm) MarshalJSON() ([]byte, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(termJSON{
		Type:     t.Kind.String(),
		Value:    t.Value,
		Datatype: t.Datatype,
		Language: t.Language,
	})
}

// UnmarshalJSON decodes a SPARQL results JSON term. "typed-literal", emitted by
// some stores for datatyped literals, is read as a literal.
func (t *RDFTerm) UnmarshalJSON(data []byte) error {
	var raw termJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch raw.Type {
	case "uri":
		*t = URI(raw.Value)
	case "literal", "typed-literal":
		switch {
		case raw.Language != "":
			*t = LangLiteral(raw.Value, raw.Language)
		case raw.Datatype != "":
			*t = TypedLiteral(raw.Value, raw.Datatype)
		default:
			*t = Literal(raw.Value)
		}
	case "bnode":
		*t = BlankNode(raw.Value)
	default:
		return fmt.Errorf("unknown term type %q", raw.Type)
	}
	return nil
}

// MarshalJSON encodes the row as an object keyed by variable name
func (b Bindings) MarshalJSON() ([]byte, error) {
	if b.terms == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(b.terms)
}

// UnmarshalJSON decodes a row object
func (b *Bindings) UnmarshalJSON(data []byte) error {
	var terms map[string]RDFTerm
	if err := json.Unmarshal(data, &terms); err != nil {
		return err
	}
	*b = NewBindings(terms)
	return nil
}

type resultsJSON struct {
	Head struct {
		Vars []string `json:"vars"`
	} `json:"head"`
	Results *struct {
		Bindings []Bindings `json:"bindings"`
	} `json:"results,omitempty"`
	Boolean *bool `json:"boolean,omitempty"`
}

// MarshalJSON encodes the snapshot as a SPARQL 1.1 results document
func (r BindingsResults) MarshalJSON() ([]byte, error) {
	var doc resultsJSON
	doc.Head.Vars = r.Variables
	if doc.Head.Vars == nil {
		doc.Head.Vars = []string{}
	}
	rows := r.Rows
	if rows == nil {
		rows = []Bindings{}
	}
	doc.Results = &struct {
		Bindings []Bindings `json:"bindings"`
	}{Bindings: rows}
	return json.Marshal(doc)
}

// UnmarshalJSON decodes a SPARQL 1.1 results document. Boolean (ASK) results
// have no rows and are rejected.
func (r *BindingsResults) UnmarshalJSON(data []byte) error {
	var doc resultsJSON
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	if doc.Results == nil {
		if doc.Boolean != nil {
			return fmt.Errorf("boolean results are not a result set")
		}
		return fmt.Errorf("missing results member")
	}
	r.Variables = doc.Head.Vars
	r.Rows = doc.Results.Bindings
	return nil
}

// ParseResults decodes a SPARQL 1.1 results JSON document
func ParseResults(data []byte) (BindingsResults, error) {
	var r BindingsResults
	if err := json.Unmarshal(data, &r); err != nil {
		return BindingsResults{}, err
	}
	return r, nil
}

type arJSON struct {
	Added   BindingsResults `json:"addedResults"`
	Removed BindingsResults `json:"removedResults"`
}

// MarshalJSON encodes the delta as {"addedResults": …, "removedResults": …}
func (ar ARBindingsResults) MarshalJSON() ([]byte, error) {
	return json.Marshal(arJSON{Added: ar.Added, Removed: ar.Removed})
}

// UnmarshalJSON decodes a delta
func (ar *ARBindingsResults) UnmarshalJSON(data []byte) error {
	var doc arJSON
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	ar.Added = doc.Added
	ar.Removed = doc.Removed
	return nil
}
