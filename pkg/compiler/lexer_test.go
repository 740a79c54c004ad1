package compiler

import (
	"testing"

	"github.com/InternalCakeEngine/fpga-flapjack/pkg/diag"
)

func TestLex(t *testing.T) {
	src := `function f(a->int16)->int16 { # comment
  // another
  let x = 0x1F << 2 != ~a;
}`
	tokens, err := Lex(src)
	if err != nil {
		t.Fatalf("Lex failed: %v", err)
	}
	want := []struct {
		tt     TokenType
		lexeme string
		line   int
	}{
		{FUNCTION, "function", 1}, {IDENTIFIER, "f", 1}, {LPAREN, "(", 1}, {IDENTIFIER, "a", 1},
		{ARROW, "->", 1}, {INT16, "int16", 1}, {RPAREN, ")", 1}, {ARROW, "->", 1},
		{INT16, "int16", 1}, {LBRACE, "{", 1},
		{LET, "let", 3}, {IDENTIFIER, "x", 3}, {ASSIGN, "=", 3}, {INTEGER, "0x1F", 3},
		{SHL_OP, "<<", 3}, {INTEGER, "2", 3}, {NOT_EQ, "!=", 3}, {TILDE, "~", 3},
		{IDENTIFIER, "a", 3}, {SEMICOLON, ";", 3},
		{RBRACE, "}", 4}, {EOF, "", 4},
	}
	if len(tokens) != len(want) {
		t.Fatalf("got %d tokens, want %d: %v", len(tokens), len(want), tokens)
	}
	for i, w := range want {
		got := tokens[i]
		if got.Type != w.tt || got.Lexeme != w.lexeme || got.Line != w.line {
			t.Errorf("token %d = %v, want %s %q line %d", i, got, w.tt, w.lexeme, w.line)
		}
	}
}

func TestLexOperators(t *testing.T) {
	tokens, err := Lex("+ - * / & | ^ ~ << >> = == != < > ->")
	if err != nil {
		t.Fatal(err)
	}
	want := []TokenType{PLUS, MINUS, STAR, SLASH, AND, PIPE, CARET, TILDE, SHL_OP, SHR_OP,
		ASSIGN, EQUALS, NOT_EQ, LESS, GREATER, ARROW, EOF}
	for i, tt := range want {
		if tokens[i].Type != tt {
			t.Errorf("token %d = %s, want %s", i, tokens[i].Type, tt)
		}
	}
}

func TestLexString(t *testing.T) {
	tokens, err := Lex(`asm "  add r1, r2 # \"x\"\t";`)
	if err != nil {
		t.Fatal(err)
	}
	if tokens[1].Type != STRING || tokens[1].Lexeme != "  add r1, r2 # \"x\"\t" {
		t.Errorf("string token = %v", tokens[1])
	}
}

func TestLexErrors(t *testing.T) {
	tests := []struct {
		src  string
		line int
	}{
		{"let x = 1;\n@", 2},
		{"0x", 1},
		{"12ab", 1},
		{"\"open", 1},
		{"\"bad \\q\"", 1},
		{"a ! b", 1},
	}
	for _, tt := range tests {
		_, err := Lex(tt.src)
		if err == nil {
			t.Errorf("Lex(%q): expected error", tt.src)
			continue
		}
		de, ok := err.(*diag.Error)
		if !ok || de.Kind != diag.KindSyntax || de.Stage != diag.StageLex || de.Line != tt.line {
			t.Errorf("Lex(%q) = %v, want lex syntax error on line %d", tt.src, err, tt.line)
		}
	}
}
