package expr

import (
	"fmt"
	"strconv"

	"github.com/relmeta/relmeta/internal/errors"
)

// Parser builds a Node tree from a partitioning-expression source string.
type Parser struct {
	tokens []Token
	pos    int
}

// Parse parses a partitioning expression. The grammar is:
//
//	expr   := term (('+' | '-') term)*
//	term   := factor (('*' | '/' | '%') factor)*
//	factor := NUMBER | STRING | IDENT | '-' NUMBER | '(' expr ')'
func Parse(input string) (Node, error) {
	tokens := NewLexer(input).Tokenize()
	if len(tokens) > 0 && tokens[len(tokens)-1].Type == TokenError {
		bad := tokens[len(tokens)-1]
		return nil, errors.NewExpressionError(errors.CodeParseError,
			fmt.Sprintf("unexpected input %q at position %d", bad.Literal, bad.Pos), nil)
	}

	p := &Parser{tokens: tokens}
	node, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if p.current().Type != TokenEOF {
		return nil, errors.NewExpressionError(errors.CodeParseError,
			fmt.Sprintf("unexpected token %q at position %d", p.current().Literal, p.current().Pos), nil)
	}
	return node, nil
}

func (p *Parser) current() Token {
	if p.pos >= len(p.tokens) {
		return Token{Type: TokenEOF}
	}
	return p.tokens[p.pos]
}

func (p *Parser) advance() Token {
	tok := p.current()
	p.pos++
	return tok
}

func (p *Parser) parseExpr() (Node, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}

	for {
		switch p.current().Type {
		case TokenPlus, TokenMinus:
			op := p.advance().Literal
			right, err := p.parseTerm()
			if err != nil {
				return nil, err
			}
			left = &BinaryExpr{Op: op, Left: left, Right: right}
		default:
			return left, nil
		}
	}
}

func (p *Parser) parseTerm() (Node, error) {
	left, err := p.parseFactor()
	if err != nil {
		return nil, err
	}

	for {
		switch p.current().Type {
		case TokenStar, TokenSlash, TokenPercent:
			op := p.advance().Literal
			right, err := p.parseFactor()
			if err != nil {
				return nil, err
			}
			left = &BinaryExpr{Op: op, Left: left, Right: right}
		default:
			return left, nil
		}
	}
}

func (p *Parser) parseFactor() (Node, error) {
	tok := p.advance()

	switch tok.Type {
	case TokenNumber:
		return parseNumber(tok.Literal, false)

	case TokenMinus:
		next := p.advance()
		if next.Type != TokenNumber {
			return nil, errors.NewExpressionError(errors.CodeParseError,
				fmt.Sprintf("expected number after unary minus at position %d", tok.Pos), nil)
		}
		return parseNumber(next.Literal, true)

	case TokenString:
		return &StringLit{Value: tok.Literal}, nil

	case TokenIdent:
		return &ColumnRef{Name: tok.Literal}, nil

	case TokenLParen:
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if p.advance().Type != TokenRParen {
			return nil, errors.NewExpressionError(errors.CodeParseError,
				"missing closing parenthesis", nil)
		}
		return inner, nil

	case TokenEOF:
		return nil, errors.NewExpressionError(errors.CodeParseError,
			"unexpected end of expression", nil)

	default:
		return nil, errors.NewExpressionError(errors.CodeParseError,
			fmt.Sprintf("unexpected token %q at position %d", tok.Literal, tok.Pos), nil)
	}
}

func parseNumber(literal string, negate bool) (Node, error) {
	if i, err := strconv.ParseInt(literal, 10, 64); err == nil {
		if negate {
			i = -i
		}
		return &IntLit{Value: i}, nil
	}
	f, err := strconv.ParseFloat(literal, 64)
	if err != nil {
		return nil, errors.NewExpressionError(errors.CodeParseError,
			fmt.Sprintf("malformed number %q", literal), err)
	}
	if negate {
		f = -f
	}
	return &FloatLit{Value: f}, nil
}
