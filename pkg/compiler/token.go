package compiler

import "fmt"

// TokenType identifies the category of a lexed token.
type TokenType int

const (
	EOF TokenType = iota // sentinel: end of input

	// Literals
	IDENTIFIER // variable / function / type name
	INTEGER    // decimal or 0x integer literal
	STRING     // string literal "..."

	// Keywords
	FUNCTION // "function"
	VAR      // "var"
	LET      // "let"
	RETURN   // "return"
	WHILE    // "while"
	IF       // "if"
	ELSE     // "else"
	STRUCT   // "struct"
	ASM      // "asm"
	INT16    // "int16"

	// Paired delimiters
	LBRACE // {
	RBRACE // }
	LPAREN // (
	RPAREN // )

	// Punctuation
	SEMICOLON // ;
	COMMA     // ,
	ARROW     // ->

	// Operators
	PLUS    // +
	MINUS   // -
	STAR    // *
	SLASH   // /
	AND     // &
	PIPE    // |
	CARET   // ^
	TILDE   // ~
	SHL_OP  // <<
	SHR_OP  // >>
	ASSIGN  // =
	EQUALS  // ==
	NOT_EQ  // !=
	LESS    // <
	GREATER // >
)

var tokenNames = [...]string{
	EOF:        "EOF",
	IDENTIFIER: "IDENTIFIER",
	INTEGER:    "INTEGER",
	STRING:     "STRING",
	FUNCTION:   "FUNCTION",
	VAR:        "VAR",
	LET:        "LET",
	RETURN:     "RETURN",
	WHILE:      "WHILE",
	IF:         "IF",
	ELSE:       "ELSE",
	STRUCT:     "STRUCT",
	ASM:        "ASM",
	INT16:      "INT16",
	LBRACE:     "LBRACE",
	RBRACE:     "RBRACE",
	LPAREN:     "LPAREN",
	RPAREN:     "RPAREN",
	SEMICOLON:  "SEMICOLON",
	COMMA:      "COMMA",
	ARROW:      "ARROW",
	PLUS:       "PLUS",
	MINUS:      "MINUS",
	STAR:       "STAR",
	SLASH:      "SLASH",
	AND:        "AND",
	PIPE:       "PIPE",
	CARET:      "CARET",
	TILDE:      "TILDE",
	SHL_OP:     "SHL_OP",
	SHR_OP:     "SHR_OP",
	ASSIGN:     "ASSIGN",
	EQUALS:     "EQUALS",
	NOT_EQ:     "NOT_EQ",
	LESS:       "LESS",
	GREATER:    "GREATER",
}

func (tt TokenType) String() string {
	if int(tt) >= 0 && int(tt) < len(tokenNames) {
		return tokenNames[tt]
	}
	return fmt.Sprintf("TokenType(%d)", int(tt))
}

// Token is a single lexical unit produced by the Lexer.
type Token struct {
	Type   TokenType
	Lexeme string // the exact source text that was matched
	Line   int    // 1-based source line
}

func (t Token) String() string {
	return fmt.Sprintf("%-10s %-14q  line %d", t.Type, t.Lexeme, t.Line)
}
