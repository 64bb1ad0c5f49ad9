package srccheck

import (
	"fmt"
	"strings"
)

type bracket struct {
	ch   byte
	line int
}

type mismatch struct {
	got      byte
	line     int
	expected byte
}

type bracketScan struct {
	open       []bracket
	mismatches []mismatch
	// unterminated is the line of a multi-line string or block comment still open at EOF, or 0.
	unterminated     int
	unterminatedKind string
}

const maxReportedMismatches = 5

func (s bracketScan) errors() []string {
	var out []string
	for i, m := range s.mismatches {
		if i == maxReportedMismatches {
			out = append(out, fmt.Sprintf("%d more bracket errors", len(s.mismatches)-i))
			break
		}
		if m.expected == 0 {
			out = append(out, fmt.Sprintf("unexpected '%c' at line %d", m.got, m.line))
			continue
		}
		out = append(out, fmt.Sprintf("mismatched '%c' at line %d (expected '%c')", m.got, m.line, m.expected))
	}
	out = append(out, s.unclosedErrors()...)
	if s.unterminated > 0 {
		out = append(out, fmt.Sprintf("unterminated %s starting at line %d", s.unterminatedKind, s.unterminated))
	}
	return out
}

func (s bracketScan) unclosedErrors() []string {
	out := make([]string, 0, len(s.open))
	for _, b := range s.open {
		out = append(out, fmt.Sprintf("unclosed '%c' opened at line %d", b.ch, b.line))
	}
	return out
}

func closerFor(open byte) byte {
	switch open {
	case '(':
		return ')'
	case '[':
		return ']'
	default:
		return '}'
	}
}

func openerFor(closer byte) byte {
	switch closer {
	case ')':
		return '('
	case ']':
		return '['
	default:
		return '{'
	}
}

// scanBrackets tracks (), [] and {} outside strings and comments.
// Single-line strings end silently at a newline so apostrophes in prose do not cascade.
func scanBrackets(content string, sx syntax) bracketScan {
	var s bracketScan
	line := 1
	var quote byte
	quoteLine := 0
	inBlock := false
	blockLine := 0
	triple := ""

	for i := 0; i < len(content); i++ {
		ch := content[i]
		if ch == '\n' {
			line++
			if quote != 0 && !strings.ContainsRune(sx.multilineQuotes, rune(quote)) {
				quote = 0
			}
			continue
		}
		switch {
		case triple != "":
			if strings.HasPrefix(content[i:], triple) {
				i += len(triple) - 1
				triple = ""
			}
			continue
		case inBlock:
			if ch == '*' && i+1 < len(content) && content[i+1] == '/' {
				inBlock = false
				i++
			}
			continue
		case quote != 0:
			if ch == '\\' && i+1 < len(content) && content[i+1] != '\n' {
				i++
				continue
			}
			if ch == quote {
				quote = 0
			}
			continue
		}

		if sx.blockComment && ch == '/' && i+1 < len(content) && content[i+1] == '*' {
			inBlock, blockLine = true, line
			i++
			continue
		}
		if skip := lineCommentAt(content, i, sx.lineComments); skip {
			for i+1 < len(content) && content[i+1] != '\n' {
				i++
			}
			continue
		}
		if sx.tripleQuotes && (strings.HasPrefix(content[i:], `"""`) || strings.HasPrefix(content[i:], "'''")) {
			triple, quoteLine = content[i:i+3], line
			i += 2
			continue
		}
		if strings.IndexByte(sx.quotes, ch) >= 0 {
			quote, quoteLine = ch, line
			continue
		}

		switch ch {
		case '(', '[', '{':
			s.open = append(s.open, bracket{ch: ch, line: line})
		case ')', ']', '}':
			if len(s.open) == 0 {
				s.mismatches = append(s.mismatches, mismatch{got: ch, line: line})
				continue
			}
			top := s.open[len(s.open)-1]
			if top.ch != openerFor(ch) {
				s.mismatches = append(s.mismatches, mismatch{got: ch, line: line, expected: closerFor(top.ch)})
			}
			s.open = s.open[:len(s.open)-1]
		}
	}

	switch {
	case triple != "":
		s.unterminated, s.unterminatedKind = quoteLine, "string"
	case inBlock:
		s.unterminated, s.unterminatedKind = blockLine, "block comment"
	case quote != 0:
		s.unterminated, s.unterminatedKind = quoteLine, "string"
	}
	return s
}

func lineCommentAt(content string, i int, markers []string) bool {
	for _, m := range markers {
		if strings.HasPrefix(content[i:], m) {
			return true
		}
	}
	return false
}
