package policy

// Keywords of the policy grammar. They match exactly, lowercase only.
const (
	keywordAnd = "and"
	keywordOr  = "or"
	keywordNot = "not"
)

// parser is a recursive-descent parser over one token stream.
//
//	expr    := andExpr { "or" andExpr }
//	andExpr := unary { "and" unary }
//	unary   := "not" "(" expr ")" | "(" expr ")" | atom
type parser struct {
	text   string
	tokens []Token
	pos    int
	rules  Rules

	references []string
	unresolved []string
}

func newParser(text string, rules Rules) *parser {
	var names []string
	if rules != nil {
		names = rules.Names()
	}
	return &parser{
		text:   text,
		tokens: Tokenize(text, names),
		rules:  rules,
	}
}

func (p *parser) parse() (Expression, error) {
	if len(p.tokens) == 0 {
		return nil, p.fail(ReasonUnexpectedEnd)
	}
	expr, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if tok, ok := p.peek(); ok {
		if tok.Special && tok.Text == ")" {
			return nil, p.fail(ReasonUnexpectedParentheses)
		}
		return nil, p.fail(ReasonIncompleteParse)
	}
	return expr, nil
}

func (p *parser) parseOr() (Expression, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.acceptKeyword(keywordOr) {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &LogicalExpression{Operator: OperatorOr, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Expression, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.acceptKeyword(keywordAnd) {
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &LogicalExpression{Operator: OperatorAnd, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (Expression, error) {
	tok, ok := p.peek()
	if !ok {
		return nil, p.fail(ReasonUnexpectedEnd)
	}

	switch {
	case !tok.Special && tok.Text == keywordNot:
		p.pos++
		next, ok := p.peek()
		if !ok {
			return nil, p.fail(ReasonUnexpectedEnd)
		}
		if !next.Special || next.Text != "(" {
			return nil, p.fail(ReasonUnexpectedParentheses)
		}
		inner, err := p.parseGroup()
		if err != nil {
			return nil, err
		}
		return &NegateExpression{Operand: inner}, nil

	case tok.Special && tok.Text == "(":
		return p.parseGroup()

	case tok.Special:
		return nil, p.fail(ReasonUnexpectedParentheses)

	case tok.Text == keywordAnd || tok.Text == keywordOr:
		return nil, p.fail(ReasonInvalidExpression)
	}

	p.pos++
	return p.atom(tok.Text), nil
}

// parseGroup parses "(" expr ")" starting at the open parenthesis.
func (p *parser) parseGroup() (Expression, error) {
	p.pos++
	inner, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	tok, ok := p.peek()
	if !ok || !tok.Special || tok.Text != ")" {
		return nil, p.fail(ReasonUnexpectedParentheses)
	}
	p.pos++
	return inner, nil
}

func (p *parser) atom(name string) Expression {
	switch name {
	case LiteralTrue:
		return &PolicyExpression{Name: name, Literal: true}
	case LiteralFalse:
		return &PolicyExpression{Name: name}
	}
	p.references = append(p.references, name)
	if p.rules != nil {
		if c, ok := p.rules.Lookup(name); ok {
			return &PolicyExpression{Name: name, Collection: c}
		}
	}
	p.unresolved = append(p.unresolved, name)
	return &PolicyExpression{Name: name}
}

func (p *parser) peek() (Token, bool) {
	if p.pos >= len(p.tokens) {
		return Token{}, false
	}
	return p.tokens[p.pos], true
}

func (p *parser) acceptKeyword(word string) bool {
	tok, ok := p.peek()
	if ok && !tok.Special && tok.Text == word {
		p.pos++
		return true
	}
	return false
}

func (p *parser) fail(reason Reason) *ParseError {
	if tok, ok := p.peek(); ok {
		return &ParseError{Reason: reason, Policy: p.text, Offset: tok.Start, Token: tok.Text}
	}
	return &ParseError{Reason: reason, Policy: p.text, Offset: len(p.text)}
}
