package policy

// Policy is the compiled form of one policy string. It is immutable after
// Compile and safe for concurrent evaluation.
type Policy struct {
	text       string
	root       Expression
	references []string
	unresolved []string
}

// Compile parses text against rules. rules may be nil, in which case every
// name other than true() resolves to false. The returned error is a *ParseError.
func Compile(text string, rules Rules) (*Policy, error) {
	p := newParser(text, rules)
	root, err := p.parse()
	if err != nil {
		return nil, err
	}
	return &Policy{
		text:       text,
		root:       root,
		references: p.references,
		unresolved: p.unresolved,
	}, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(text string, rules Rules) *Policy {
	p, err := Compile(text, rules)
	if err != nil {
		panic(err)
	}
	return p
}

// Evaluate reports whether subject satisfies the policy. A nil Policy allows everything.
func (p *Policy) Evaluate(subject Subject) bool {
	if p == nil {
		return true
	}
	return p.root.Evaluate(subject)
}

// Text returns the source policy string.
func (p *Policy) Text() string {
	if p == nil {
		return ""
	}
	return p.text
}

// Root returns the expression tree.
func (p *Policy) Root() Expression {
	if p == nil {
		return nil
	}
	return p.root
}

// References returns the rule names the policy mentions, in source order.
func (p *Policy) References() []string {
	if p == nil {
		return nil
	}
	return append([]string(nil), p.references...)
}

// Unresolved returns referenced names that had no collection at compile time.
func (p *Policy) Unresolved() []string {
	if p == nil {
		return nil
	}
	return append([]string(nil), p.unresolved...)
}

// String renders the canonical form of the expression tree.
func (p *Policy) String() string {
	if p == nil {
		return LiteralTrue
	}
	return p.root.String()
}
