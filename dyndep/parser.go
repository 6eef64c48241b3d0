package dyndep

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"ninjacore/graph"
)

// parseVersion splits a "MAJOR.MINOR" string the way the teacher's
// ParseVersion helper does, tolerating a missing minor component.
func parseVersion(version string) (major, minor int, err error) {
	parts := strings.SplitN(version, ".", 2)
	major, err = strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid ninja_dyndep_version %q", version)
	}
	if len(parts) == 2 {
		minor, err = strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil {
			return 0, 0, fmt.Errorf("invalid ninja_dyndep_version %q", version)
		}
	}
	return major, minor, nil
}

// unescapePath undoes the three escapes a dyndep file writer may emit:
// "$ " for a literal space, "$:" for a literal colon, "$$" for a literal
// dollar sign.
func unescapePath(tok string) string {
	var buf strings.Builder
	for i := 0; i < len(tok); i++ {
		if tok[i] == '$' && i+1 < len(tok) {
			switch tok[i+1] {
			case ' ', ':', '$':
				buf.WriteByte(tok[i+1])
				i++
				continue
			}
		}
		buf.WriteByte(tok[i])
	}
	return buf.String()
}

// tokenizeBuildLine splits a "build ..." statement (which may itself be
// continued across multiple physical lines via a trailing "$" the way
// ninja manifests allow) into raw whitespace-delimited tokens, keeping
// "|" and "||" and ":" as their own tokens.
func tokenizeBuildLine(line string) []string {
	var toks []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			toks = append(toks, cur.String())
			cur.Reset()
		}
	}
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case c == '$' && i+1 < len(line):
			cur.WriteByte(c)
			cur.WriteByte(line[i+1])
			i++
		case c == ' ' || c == '\t':
			flush()
		case c == ':' || c == '|':
			flush()
			// "||" is order-only; keep it as one token.
			if c == '|' && i+1 < len(line) && line[i+1] == '|' {
				toks = append(toks, "||")
				i++
			} else {
				toks = append(toks, string(c))
			}
		default:
			cur.WriteByte(c)
		}
	}
	flush()
	return toks
}

// parseBuildStatement parses the tokens of one "build ..." line (version
// line excluded) into its three path groups, per the grammar:
//
//	build OUT [ | IMPLICIT_OUT... ] : dyndep [ | IMPLICIT_IN... ]
func parseBuildStatement(toks []string) (out string, implicitOuts, implicitIns []string, err error) {
	if len(toks) == 0 || toks[0] != "build" {
		return "", nil, nil, fmt.Errorf("expected 'build' statement")
	}
	toks = toks[1:]
	if len(toks) == 0 {
		return "", nil, nil, fmt.Errorf("expected path")
	}
	out = unescapePath(toks[0])
	toks = toks[1:]

	if len(toks) > 0 && toks[0] == "|" {
		toks = toks[1:]
		for len(toks) > 0 && toks[0] != ":" {
			implicitOuts = append(implicitOuts, unescapePath(toks[0]))
			toks = toks[1:]
		}
	}
	if len(toks) == 0 || toks[0] != ":" {
		return "", nil, nil, fmt.Errorf("expected ':' in dyndep build statement")
	}
	toks = toks[1:]
	if len(toks) == 0 || toks[0] != "dyndep" {
		return "", nil, nil, fmt.Errorf("expected build command name 'dyndep'")
	}
	toks = toks[1:]

	if len(toks) > 0 && toks[0] == "|" {
		toks = toks[1:]
		for len(toks) > 0 && toks[0] != "||" {
			implicitIns = append(implicitIns, unescapePath(toks[0]))
			toks = toks[1:]
		}
	}
	if len(toks) > 0 && toks[0] == "||" {
		return "", nil, nil, fmt.Errorf("order-only inputs not supported")
	}
	if len(toks) > 0 {
		return "", nil, nil, fmt.Errorf("unexpected token %q", toks[0])
	}
	return out, implicitOuts, implicitIns, nil
}

// Parser turns dyndep file text into a File, resolving every path against
// state's node table (interning new nodes as necessary, matching the
// teacher's DyndepParser.ParseEdge GetNode calls).
type Parser struct {
	state *graph.State
}

func NewParser(state *graph.State) *Parser {
	return &Parser{state: state}
}

// joinContinuations collapses a trailing-"$"-at-end-of-line continuation
// the way ninja's lexer treats it: the newline is swallowed and parsing
// continues on the same logical line.
func joinContinuations(text string) []string {
	var logical []string
	var cur strings.Builder
	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasSuffix(line, "$") {
			cur.WriteString(strings.TrimSuffix(line, "$"))
			cur.WriteString(" ")
			continue
		}
		cur.WriteString(line)
		logical = append(logical, cur.String())
		cur.Reset()
	}
	if cur.Len() > 0 {
		logical = append(logical, cur.String())
	}
	return logical
}

// Parse parses the text of a dyndep file and returns the File describing
// every edge it mentions.
func (this *Parser) Parse(filename, text string) (File, error) {
	lines := joinContinuations(text)

	file := File{}
	haveVersion := false
	var lastDD *Dependencies

	for li := 0; li < len(lines); li++ {
		raw := lines[li]
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" {
			continue
		}
		indented := len(raw) > 0 && (raw[0] == ' ' || raw[0] == '\t')

		if !haveVersion {
			key, val, ok := splitAssignment(trimmed)
			if !ok || key != "ninja_dyndep_version" {
				return nil, fmt.Errorf("%s: expected 'ninja_dyndep_version = ...'", filename)
			}
			major, minor, err := parseVersion(val)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", filename, err)
			}
			if major != 1 || minor != 0 {
				return nil, fmt.Errorf("%s: unsupported ninja_dyndep_version '%s'", filename, val)
			}
			haveVersion = true
			continue
		}

		if indented {
			if lastDD == nil {
				return nil, fmt.Errorf("%s: unexpected indented binding", filename)
			}
			key, val, ok := splitAssignment(trimmed)
			if !ok || key != "restat" {
				return nil, fmt.Errorf("%s: binding is not 'restat'", filename)
			}
			lastDD.Restat = val != ""
			continue
		}

		toks := tokenizeBuildLine(trimmed)
		outPath, implicitOuts, implicitIns, err := parseBuildStatement(toks)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filename, err)
		}
		dd, err := this.addEdge(file, outPath, implicitOuts, implicitIns)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filename, err)
		}
		lastDD = dd
	}

	if !haveVersion {
		return nil, fmt.Errorf("%s: expected 'ninja_dyndep_version = ...'", filename)
	}
	return file, nil
}

func splitAssignment(line string) (key, val string, ok bool) {
	idx := strings.IndexByte(line, '=')
	if idx < 0 {
		return "", "", false
	}
	return strings.TrimSpace(line[:idx]), strings.TrimSpace(line[idx+1:]), true
}

func (this *Parser) addEdge(file File, outPath string, implicitOuts, implicitIns []string) (*Dependencies, error) {
	node := this.state.LookupNode(outPath)
	if node == nil || node.InEdge() == nil {
		return nil, fmt.Errorf("no build statement exists for '%s'", outPath)
	}
	edge := node.InEdge()
	if _, exists := file[edge]; exists {
		return nil, fmt.Errorf("multiple statements for '%s'", outPath)
	}

	dd := &Dependencies{}
	for _, p := range implicitIns {
		dd.ImplicitInputs = append(dd.ImplicitInputs, this.state.GetNode(p, 0))
	}
	for _, p := range implicitOuts {
		dd.ImplicitOutputs = append(dd.ImplicitOutputs, this.state.GetNode(p, 0))
	}
	file[edge] = dd
	return dd, nil
}
