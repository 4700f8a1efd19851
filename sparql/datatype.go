package sparql

// Common XML Schema datatypes used when completing literal bindings
const (
	XSDString   = "http://www.w3.org/2001/XMLSchema#string"
	XSDInteger  = "http://www.w3.org/2001/XMLSchema#integer"
	XSDDecimal  = "http://www.w3.org/2001/XMLSchema#decimal"
	XSDDouble   = "http://www.w3.org/2001/XMLSchema#double"
	XSDBoolean  = "http://www.w3.org/2001/XMLSchema#boolean"
	XSDDateTime = "http://www.w3.org/2001/XMLSchema#dateTime"
)

// WithDefaultDatatypes returns a copy of b where every plain literal (no
// datatype, no language tag) whose variable has an entry in defaults is given
// that datatype. Other terms are left untouched.
func WithDefaultDatatypes(b Bindings, defaults map[string]string) Bindings {
	if len(defaults) == 0 {
		return b
	}
	out := make(map[string]RDFTerm, b.Len())
	for _, name := range b.Variables() {
		term, _ := b.Get(name)
		if term.IsLiteral() && term.Datatype == "" && term.Language == "" {
			if dt, ok := defaults[name]; ok && dt != "" {
				term = TypedLiteral(term.Value, dt)
			}
		}
		out[name] = term
	}
	return NewBindings(out)
}
