// Package depfile parses make-style dependency files (the files compilers
// emit via -MMD/-MF), grounded on the teacher's depfile_parser.go lexer
// (itself a straight port of ninja's upstream depfile_parser.in.cc re2c
// scanner). Ninjacore hand-rolls the token scan instead of running a
// generated lexer, but preserves the documented escaping rules verbatim:
//
//	Backslashes escape a space or hash sign.
//	When a space is preceded by 2N+1 backslashes, it represents N
//	backslashes followed by a literal space.
//	When a space is preceded by 2N backslashes, it represents 2N
//	backslashes at the end of a filename (the space is a separator).
//	A hash sign is escaped by a single backslash. All other backslashes
//	are left unchanged.
//	"$$" is de-escaped to a literal "$".
package depfile

import "fmt"

// Options controls parsing behavior. The build and scan packages take it
// from build.Config.DepfileParserOptions; no rule binding selects it.
type Options struct {
	// NoSpecialChars disables the backslash/escape handling above and
	// treats the file as plain whitespace/colon-delimited tokens, for
	// depfiles emitted by tools that don't follow GCC's escaping
	// convention.
	NoSpecialChars bool
}

// Parser accumulates the outputs (targets, almost always exactly one) and
// inputs (dependencies) of a single depfile.
type Parser struct {
	Outs []string
	Ins  []string
	opts Options
}

func NewParser(opts Options) *Parser {
	return &Parser{opts: opts}
}

type tokenKind int8

const (
	tokenPlain tokenKind = iota
	tokenTarget
)

// Parse scans content (the full text of a depfile) and populates Outs/Ins.
// It returns an error if non-empty content names no target (no token ends
// in an unescaped ':'), or if a path already listed as an input reappears
// as a target that has inputs of its own. Several targets, on one line or
// on several, are accepted; their inputs are collected into one Ins list.
func (this *Parser) Parse(content string) error {
	haveTarget := false
	parsingTargets := true
	poisonedInput := false
	isEmpty := true

	seenIns := make(map[string]bool)
	seenOuts := make(map[string]bool)

	i := 0
	n := len(content)
	for i < n {
		haveNewline := false
		tok, kind, next := this.scanToken(content, i)
		i = next
		if kind == tokenKind(-1) {
			// Pure whitespace run with no filename token; if it stopped at
			// a newline, that newline ends the current rule.
			if i < n && content[i] == '\n' {
				i++
				parsingTargets = true
				poisonedInput = false
			}
			continue
		}

		isDependency := !parsingTargets
		if kind == tokenTarget {
			parsingTargets = false
			haveTarget = true
		}

		isEmpty = false
		if !seenIns[tok] && !seenOuts[tok] {
			if isDependency {
				if poisonedInput {
					return fmt.Errorf("inputs may not also have inputs")
				}
				this.Ins = append(this.Ins, tok)
				seenIns[tok] = true
			} else {
				this.Outs = append(this.Outs, tok)
				seenOuts[tok] = true
			}
		} else if seenIns[tok] && !isDependency {
			poisonedInput = true
		}

		if i < n && content[i] == '\n' {
			haveNewline = true
			i++
		}
		if haveNewline {
			parsingTargets = true
			poisonedInput = false
		}
	}
	if !haveTarget && !isEmpty {
		return fmt.Errorf("expected ':' in depfile")
	}
	return nil
}

// scanToken reads one filename token starting at i, skipping leading
// whitespace first. kind is tokenTarget if the token ends with an
// unescaped colon (stripped from the returned text). next is the index
// just past the token (or past the skipped whitespace, if no token was
// found before a newline). Returns kind == -1 with an empty token when
// only whitespace/newline was consumed and no filename was seen.
func (this *Parser) scanToken(s string, i int) (string, tokenKind, int) {
	n := len(s)
	for i < n && (s[i] == ' ' || s[i] == '\t' || s[i] == '\r') {
		i++
	}
	if i >= n || s[i] == '\n' {
		return "", tokenKind(-1), i
	}

	var buf []byte
	for i < n {
		c := s[i]
		switch {
		case c == '\n' || c == ' ' || c == '\t' || c == '\r':
			return finishToken(buf, i)
		case c == '\\' && !this.opts.NoSpecialChars:
			backslashes := 0
			j := i
			for j < n && s[j] == '\\' {
				backslashes++
				j++
			}
			if j < n && (s[j] == ' ' || s[j] == '\t') {
				// 2N+1 backslashes before a space -> N backslashes plus a
				// literal space; 2N backslashes (even count) -> all 2N
				// literal, and the space is a separator.
				if backslashes%2 == 1 {
					for k := 0; k < backslashes/2; k++ {
						buf = append(buf, '\\')
					}
					buf = append(buf, ' ')
					i = j + 1
					continue
				}
				for k := 0; k < backslashes; k++ {
					buf = append(buf, '\\')
				}
				return finishToken(buf, j)
			}
			if j < n && s[j] == '#' && backslashes == 1 {
				buf = append(buf, '#')
				i = j + 1
				continue
			}
			if j < n && s[j] == '\n' {
				// Backslash-newline: line continuation, swallowed.
				i = j + 1
				continue
			}
			for k := 0; k < backslashes; k++ {
				buf = append(buf, '\\')
			}
			i = j
		case c == '$' && !this.opts.NoSpecialChars && i+1 < n && s[i+1] == '$':
			buf = append(buf, '$')
			i += 2
		default:
			buf = append(buf, c)
			i++
		}
	}
	return finishToken(buf, i)
}

func finishToken(buf []byte, next int) (string, tokenKind, int) {
	if len(buf) > 0 && buf[len(buf)-1] == ':' {
		return string(buf[:len(buf)-1]), tokenTarget, next
	}
	return string(buf), tokenPlain, next
}
