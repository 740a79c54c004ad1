// Package compiler is the Flapjack front end and pipeline driver: it lexes,
// parses and resolves source, then runs every function through the backend
// and assembles the result.
//
// Pipeline: source → Lex → Parse → Resolve → layout → irgen → liveness →
// regalloc → emit → asm
package compiler
