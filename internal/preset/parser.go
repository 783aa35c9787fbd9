package preset

import (
	"fmt"
)

// rawElement is one parsed `identifier "(" ... ")"` element before its
// per-filter keyword semantics are applied.
type rawElement struct {
	name    string
	numbers []float64
	tuples  []Point
	ident   string
	str     string
	hasStr  bool
	hasID   bool
}

type parser struct {
	lex *lexer
	cur token
	err error
}

func newParser(src string) (*parser, error) {
	p := &parser{lex: newLexer(src)}
	if err := p.advance(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *parser) advance() error {
	t, err := p.lex.next()
	if err != nil {
		return err
	}
	p.cur = t
	return nil
}

func (p *parser) expect(k tokenKind, what string) (token, error) {
	if p.cur.kind != k {
		return token{}, &parseErr{offset: p.cur.offset, expected: what}
	}
	t := p.cur
	if err := p.advance(); err != nil {
		return token{}, err
	}
	return t, nil
}

// Parse parses src into a fresh Collection. defaults is the in-memory
// default preset library consulted for bare-identifier parameter bodies
// (spec.md §4.5); it may be nil if no such reference is expected.
func Parse(src string, defaults *Collection) (*Collection, error) {
	p, err := newParser(src)
	if err != nil {
		return nil, toParseError(err)
	}
	out := NewCollection()
	if p.cur.kind == tokEOF {
		return out, nil
	}
	for {
		preset, err := p.parseParameter(defaults)
		if err != nil {
			return nil, toParseError(err)
		}
		out.Add(preset)
		if p.cur.kind != tokComma {
			break
		}
		if err := p.advance(); err != nil {
			return nil, toParseError(err)
		}
		if p.cur.kind == tokEOF {
			break
		}
	}
	if p.cur.kind != tokEOF {
		return nil, toParseError(&parseErr{offset: p.cur.offset, expected: "end of input"})
	}
	return out, nil
}

func (p *parser) parseParameter(defaults *Collection) (*Preset, error) {
	nameTok, err := p.expect(tokIdent, "a filter name")
	if err != nil {
		return nil, err
	}
	filterName := nameTok.text
	if _, ok := keywordWhitelist[filterName]; !ok {
		return nil, &parseErr{offset: nameTok.offset, expected: "a known filter name"}
	}
	if _, err := p.expect(tokEquals, "'='"); err != nil {
		return nil, err
	}

	// Bare-identifier preset reference: `filter_name=Identifier`, not
	// followed by '('.
	if p.cur.kind == tokIdent {
		identTok := p.cur
		savedLex := *p.lex
		savedCur := p.cur
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.cur.kind != tokLParen {
			if defaults == nil {
				return nil, &parseErr{offset: identTok.offset, expected: "a known preset name (no default library supplied)"}
			}
			found, ok := defaults.Lookup(filterName, identTok.text)
			if !ok {
				return nil, &parseErr{offset: identTok.offset, expected: "a known preset name"}
			}
			return found.Clone(), nil
		}
		// Not a bare reference after all; rewind and fall through to
		// element parsing.
		*p.lex = savedLex
		p.cur = savedCur
	}

	out := New(filterName, "", "")
	for {
		el, err := p.parseElement()
		if err != nil {
			return nil, err
		}
		if err := applyElement(out, el); err != nil {
			return nil, err
		}
		if p.cur.kind != tokComma {
			break
		}
		// Lookahead: a comma either separates elements of this parameter
		// or starts the next parameter. Elements always look like
		// `ident (`; peek without consuming by cloning parser state.
		savedLex := *p.lex
		savedCur := p.cur
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.cur.kind == tokIdent {
			identTok := p.cur
			lookaheadLex := *p.lex
			lookaheadCur := p.cur
			if err := p.advance(); err != nil {
				return nil, err
			}
			if p.cur.kind == tokLParen {
				*p.lex = lookaheadLex
				p.cur = lookaheadCur
				_ = identTok
				continue
			}
		}
		*p.lex = savedLex
		p.cur = savedCur
		break
	}
	return out, nil
}

func (p *parser) parseElement() (rawElement, error) {
	nameTok, err := p.expect(tokIdent, "a parameter keyword")
	if err != nil {
		return rawElement{}, err
	}
	if _, err := p.expect(tokLParen, "'('"); err != nil {
		return rawElement{}, err
	}
	el := rawElement{name: nameTok.text}

	if p.cur.kind == tokString {
		el.str = p.cur.text
		el.hasStr = true
		if err := p.advance(); err != nil {
			return rawElement{}, err
		}
	} else if p.cur.kind == tokIdent {
		el.ident = p.cur.text
		el.hasID = true
		if err := p.advance(); err != nil {
			return rawElement{}, err
		}
	} else {
		for {
			numTok, err := p.expect(tokNumber, "a number")
			if err != nil {
				return rawElement{}, err
			}
			if p.cur.kind == tokColon {
				if err := p.advance(); err != nil {
					return rawElement{}, err
				}
				yTok, err := p.expect(tokNumber, "a number after ':'")
				if err != nil {
					return rawElement{}, err
				}
				el.tuples = append(el.tuples, Point{X: numTok.num, Y: yTok.num})
			} else {
				el.numbers = append(el.numbers, numTok.num)
			}
			if p.cur.kind != tokComma {
				break
			}
			// Only consume the comma if another value follows within
			// these parens (i.e. next token is not ')').
			savedLex := *p.lex
			savedCur := p.cur
			if err := p.advance(); err != nil {
				return rawElement{}, err
			}
			if p.cur.kind == tokNumber {
				continue
			}
			*p.lex = savedLex
			p.cur = savedCur
			break
		}
	}

	if _, err := p.expect(tokRParen, "')'"); err != nil {
		return rawElement{}, err
	}
	return el, nil
}

func toParseError(err error) error {
	if pe, ok := err.(*parseErr); ok {
		return &ParseError{Offset: pe.offset, Expected: pe.expected}
	}
	return err
}

// ParseError reports a preset-DSL syntax failure at a byte offset along
// with what the parser expected there (spec.md §4.5). A parse error
// never mutates the destination Collection — Parse returns nil on any
// error.
type ParseError struct {
	Offset   int
	Expected string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("preset: parse error at offset %d: expected %s", e.Offset, e.Expected)
}
