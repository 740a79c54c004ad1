package compiler

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/InternalCakeEngine/fpga-flapjack/pkg/ast"
	"github.com/InternalCakeEngine/fpga-flapjack/pkg/diag"
)

// Parser consumes the flat token slice produced by the Lexer and builds an
// untyped ast.Program. Type references are left as ast.NamedType for Resolve.
//
// Grammar:
//
//	program    = (function | struct | asm)* EOF
//	function   = "function" IDENT "(" [param ("," param)*] ")" "->" type block
//	param      = IDENT "->" type
//	struct     = "struct" IDENT "{" (IDENT "->" type ";")* "}" [";"]
//	asm        = "asm" STRING ";"
//	block      = "{" statement* "}"
//	statement  = block | varDecl | assignment | return | while | if
//	varDecl    = "var" IDENT "->" type ";"
//	assignment = "let" IDENT "=" expression ";"
//	return     = "return" [expression] ";"
//	while      = "while" "(" expression ")" block
//	if         = "if" "(" expression ")" block ["else" (block | if)]
//	expression = bitwise_or
//	bitwise_or = bitwise_xor ("|" bitwise_xor)*
//	bitwise_xor = bitwise_and ("^" bitwise_and)*
//	bitwise_and = equality ("&" equality)*
//	equality   = relational (("=="|"!=") relational)*
//	relational = shift (("<"|">") shift)*
//	shift      = additive (("<<"|">>") additive)*
//	additive   = multiplicative (("+"|"-") multiplicative)*
//	multiplicative = unary (("*"|"/") unary)*
//	unary      = ("-"|"~") unary | primary
//	primary    = INTEGER | IDENT | IDENT "(" args ")" | "(" expression ")"
type Parser struct {
	tokens      []Token
	pos         int
	sourceLines []string
	scope       ast.Scope
}

func NewParser(tokens []Token, rawSource string) *Parser {
	return &Parser{tokens: tokens, sourceLines: strings.Split(rawSource, "\n")}
}

// Parse lexes and parses src.
func Parse(src string) (*ast.Program, error) {
	tokens, err := Lex(src)
	if err != nil {
		return nil, err
	}
	return NewParser(tokens, src).ParseProgram()
}

// fmtError wraps an error message with the source line where the token appears.
func (p *Parser) fmtError(tok Token, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	lineIdx := tok.Line - 1 // Lines are 1-based

	snippet := "<source unavailable>"
	if lineIdx >= 0 && lineIdx < len(p.sourceLines) {
		snippet = strings.TrimSpace(p.sourceLines[lineIdx])
	}

	return diag.Errorf(diag.StageParse, diag.KindSyntax, "%s\n  |> %s", msg, snippet).AtLine(tok.Line)
}

// peek returns the current token without consuming it.
func (p *Parser) peek() Token {
	if p.pos >= len(p.tokens) {
		return Token{Type: EOF}
	}
	return p.tokens[p.pos]
}

// advance consumes and returns the current token.
func (p *Parser) advance() Token {
	tok := p.peek()
	if p.pos < len(p.tokens) {
		p.pos++
	}
	return tok
}

// expect consumes the current token if it matches tt, otherwise returns an error.
func (p *Parser) expect(tt TokenType) (Token, error) {
	tok := p.advance()
	if tok.Type != tt {
		return tok, p.fmtError(tok, "expected %s, got %s (%q)", tt, tok.Type, tok.Lexeme)
	}
	return tok, nil
}

// ParseProgram parses the whole token stream.
func (p *Parser) ParseProgram() (*ast.Program, error) {
	prog := &ast.Program{}
	for p.peek().Type != EOF {
		var d ast.Decl
		var err error
		switch tok := p.peek(); tok.Type {
		case FUNCTION:
			d, err = p.parseFunction()
		case STRUCT:
			d, err = p.parseStruct()
		case ASM:
			d, err = p.parseAsm()
		default:
			return nil, p.fmtError(tok, "expected function, struct or asm, got %s (%q)", tok.Type, tok.Lexeme)
		}
		if err != nil {
			return nil, err
		}
		prog.Decls = append(prog.Decls, d)
	}
	return prog, nil
}

func (p *Parser) parseType() (ast.Type, error) {
	tok := p.advance()
	switch tok.Type {
	case INT16:
		return ast.Int16{}, nil
	case IDENTIFIER:
		return &ast.NamedType{Name: tok.Lexeme, Line: tok.Line}, nil
	}
	return nil, p.fmtError(tok, "expected type, got %s (%q)", tok.Type, tok.Lexeme)
}

// parseTypedName parses IDENT "->" type.
func (p *Parser) parseTypedName() (*ast.LocalVar, error) {
	name, err := p.expect(IDENTIFIER)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(ARROW); err != nil {
		return nil, err
	}
	t, err := p.parseType()
	if err != nil {
		return nil, err
	}
	return &ast.LocalVar{Name: name.Lexeme, Type: t, Line: name.Line}, nil
}

func (p *Parser) parseFunction() (*ast.Function, error) {
	kw := p.advance() // function
	name, err := p.expect(IDENTIFIER)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(LPAREN); err != nil {
		return nil, err
	}
	var params ast.ParamList
	if p.peek().Type != RPAREN {
		for {
			v, err := p.parseTypedName()
			if err != nil {
				return nil, err
			}
			params = append(params, v)
			if p.peek().Type != COMMA {
				break
			}
			p.advance()
		}
	}
	if _, err := p.expect(RPAREN); err != nil {
		return nil, err
	}
	if _, err := p.expect(ARROW); err != nil {
		return nil, err
	}
	ret, err := p.parseType()
	if err != nil {
		return nil, err
	}

	p.scope = params
	body, err := p.parseBlock()
	p.scope = nil
	if err != nil {
		return nil, err
	}
	return &ast.Function{Name: name.Lexeme, Params: params, Return: ret, Body: body, Line: kw.Line}, nil
}

func (p *Parser) parseStruct() (*ast.StructDecl, error) {
	kw := p.advance() // struct
	name, err := p.expect(IDENTIFIER)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(LBRACE); err != nil {
		return nil, err
	}
	st := &ast.StructType{Name: name.Lexeme}
	for p.peek().Type != RBRACE {
		if p.peek().Type == EOF {
			return nil, p.fmtError(p.peek(), "unterminated struct %s", name.Lexeme)
		}
		v, err := p.parseTypedName()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(SEMICOLON); err != nil {
			return nil, err
		}
		st.Fields = append(st.Fields, &ast.Field{Name: v.Name, Type: v.Type})
	}
	p.advance() // }
	if p.peek().Type == SEMICOLON {
		p.advance()
	}
	return &ast.StructDecl{Type: st, Line: kw.Line}, nil
}

func (p *Parser) parseAsm() (*ast.AsmDecl, error) {
	kw := p.advance() // asm
	text, err := p.expect(STRING)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(SEMICOLON); err != nil {
		return nil, err
	}
	return &ast.AsmDecl{Text: text.Lexeme, Line: kw.Line}, nil
}

// parseBlock parses a braced block whose parent scope is the current one.
func (p *Parser) parseBlock() (*ast.CodeBlock, error) {
	open, err := p.expect(LBRACE)
	if err != nil {
		return nil, err
	}
	b := &ast.CodeBlock{Parent: p.scope, Line: open.Line}
	outer := p.scope
	p.scope = b
	defer func() { p.scope = outer }()

	for p.peek().Type != RBRACE {
		if p.peek().Type == EOF {
			return nil, p.fmtError(p.peek(), "unterminated block opened on line %d", open.Line)
		}
		s, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		b.Stmts = append(b.Stmts, s)
	}
	p.advance() // }
	return b, nil
}

func (p *Parser) parseStatement() (ast.Stmt, error) {
	tok := p.peek()
	switch tok.Type {
	case LBRACE:
		return p.parseBlock()

	case VAR:
		p.advance()
		v, err := p.parseTypedName()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(SEMICOLON); err != nil {
			return nil, err
		}
		return &ast.VarDecl{Var: v}, nil

	case LET:
		p.advance()
		name, err := p.expect(IDENTIFIER)
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(ASSIGN); err != nil {
			return nil, err
		}
		val, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(SEMICOLON); err != nil {
			return nil, err
		}
		return &ast.Assign{Name: name.Lexeme, Value: val, Line: name.Line}, nil

	case RETURN:
		p.advance()
		ret := &ast.Return{Line: tok.Line}
		if p.peek().Type != SEMICOLON {
			val, err := p.parseExpression()
			if err != nil {
				return nil, err
			}
			ret.Value = val
		}
		if _, err := p.expect(SEMICOLON); err != nil {
			return nil, err
		}
		return ret, nil

	case WHILE:
		p.advance()
		cond, err := p.parseCondition()
		if err != nil {
			return nil, err
		}
		body, err := p.parseBlock()
		if err != nil {
			return nil, err
		}
		return &ast.While{Cond: cond, Body: body, Line: tok.Line}, nil

	case IF:
		return p.parseIf()
	}
	return nil, p.fmtError(tok, "unexpected %s (%q) at start of statement", tok.Type, tok.Lexeme)
}

func (p *Parser) parseCondition() (ast.Expr, error) {
	if _, err := p.expect(LPAREN); err != nil {
		return nil, err
	}
	cond, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(RPAREN); err != nil {
		return nil, err
	}
	return cond, nil
}

func (p *Parser) parseIf() (*ast.If, error) {
	kw := p.advance() // if
	cond, err := p.parseCondition()
	if err != nil {
		return nil, err
	}
	then, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	stmt := &ast.If{Cond: cond, Then: then, Line: kw.Line}
	if p.peek().Type != ELSE {
		return stmt, nil
	}
	p.advance()

	if p.peek().Type == IF {
		// else if: wrap the nested if in a block of its own.
		wrap := &ast.CodeBlock{Parent: p.scope, Line: p.peek().Line}
		outer := p.scope
		p.scope = wrap
		nested, err := p.parseIf()
		p.scope = outer
		if err != nil {
			return nil, err
		}
		wrap.Stmts = []ast.Stmt{nested}
		stmt.Else = wrap
		return stmt, nil
	}
	els, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	stmt.Else = els
	return stmt, nil
}

var binaryTokens = map[TokenType]ast.Operator{
	PIPE:    ast.OpOr,
	CARET:   ast.OpXor,
	AND:     ast.OpAnd,
	EQUALS:  ast.OpEq,
	NOT_EQ:  ast.OpNe,
	LESS:    ast.OpLt,
	GREATER: ast.OpGt,
	SHL_OP:  ast.OpShl,
	SHR_OP:  ast.OpShr,
	PLUS:    ast.OpAdd,
	MINUS:   ast.OpSub,
	STAR:    ast.OpMul,
	SLASH:   ast.OpDiv,
}

// precedence lists binary operator levels from loosest to tightest.
var precedence = [][]TokenType{
	{PIPE},
	{CARET},
	{AND},
	{EQUALS, NOT_EQ},
	{LESS, GREATER},
	{SHL_OP, SHR_OP},
	{PLUS, MINUS},
	{STAR, SLASH},
}

// parseExpression is the entry point for expression parsing.
func (p *Parser) parseExpression() (ast.Expr, error) {
	return p.parseBinary(0)
}

// parseBinary parses a left-associative chain at the given level.
func (p *Parser) parseBinary(level int) (ast.Expr, error) {
	if level == len(precedence) {
		return p.parseUnary()
	}
	expr, err := p.parseBinary(level + 1)
	if err != nil {
		return nil, err
	}
	for p.atAny(precedence[level]) {
		tok := p.advance()
		right, err := p.parseBinary(level + 1)
		if err != nil {
			return nil, err
		}
		expr = &ast.Binary{Op: binaryTokens[tok.Type], Left: expr, Right: right, Line: tok.Line}
	}
	return expr, nil
}

func (p *Parser) atAny(types []TokenType) bool {
	tt := p.peek().Type
	for _, t := range types {
		if tt == t {
			return true
		}
	}
	return false
}

// parseUnary handles prefix - and ~.
func (p *Parser) parseUnary() (ast.Expr, error) {
	tok := p.peek()
	if tok.Type == MINUS || tok.Type == TILDE {
		p.advance()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		op := ast.OpNeg
		if tok.Type == TILDE {
			op = ast.OpNot
		}
		return &ast.Unary{Op: op, X: x, Line: tok.Line}, nil
	}
	return p.parsePrimary()
}

func (p *Parser) parseCallArgs() ([]ast.Expr, error) {
	var args []ast.Expr
	if p.peek().Type != RPAREN {
		for {
			arg, err := p.parseExpression()
			if err != nil {
				return nil, err
			}
			args = append(args, arg)

			if p.peek().Type != COMMA {
				break
			}
			p.advance()
		}
	}

	if _, err := p.expect(RPAREN); err != nil {
		return nil, err
	}
	return args, nil
}

// parsePrimary handles literals, variables, calls and parenthesised expressions.
func (p *Parser) parsePrimary() (ast.Expr, error) {
	tok := p.advance()
	switch tok.Type {
	case INTEGER:
		var val uint64
		var err error
		if lex := strings.ToLower(tok.Lexeme); strings.HasPrefix(lex, "0x") {
			val, err = strconv.ParseUint(lex[2:], 16, 16)
		} else {
			val, err = strconv.ParseUint(lex, 10, 16)
		}
		if err != nil {
			return nil, diag.Errorf(diag.StageParse, diag.KindEncodingRange, "integer out of 16-bit range").
				WithName(tok.Lexeme).AtLine(tok.Line)
		}
		return &ast.Literal{Value: int(val), Line: tok.Line}, nil

	case IDENTIFIER:
		if p.peek().Type == LPAREN {
			p.advance()
			args, err := p.parseCallArgs()
			if err != nil {
				return nil, err
			}
			return &ast.Call{Name: tok.Lexeme, Args: args, Line: tok.Line}, nil
		}
		return &ast.Ident{Name: tok.Lexeme, Line: tok.Line}, nil

	case LPAREN:
		expr, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(RPAREN); err != nil {
			return nil, err
		}
		return expr, nil
	}
	return nil, p.fmtError(tok, "unexpected %s (%q) in expression", tok.Type, tok.Lexeme)
}
