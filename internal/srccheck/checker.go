// Package srccheck performs cheap static checks on generated source files.
//
// The checks are syntactic only: JSON and YAML documents must parse, Markdown frontmatter must be valid
// YAML, and C-family, Python and stylesheet sources must have balanced brackets outside strings and comments.
package srccheck

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/floegence/appforge/internal/buildgen"
)

type syntax struct {
	lineComments []string
	blockComment bool
	quotes       string
	// multilineQuotes lists quote characters whose strings may span lines.
	multilineQuotes string
	tripleQuotes    bool
}

var (
	cLike  = syntax{lineComments: []string{"//"}, blockComment: true, quotes: `"'` + "`", multilineQuotes: "`"}
	css    = syntax{blockComment: true, quotes: `"'`}
	scss   = syntax{lineComments: []string{"//"}, blockComment: true, quotes: `"'`}
	python = syntax{lineComments: []string{"#"}, quotes: `"'`, tripleQuotes: true}
)

var bracketSyntaxByExt = map[string]syntax{
	".js": cLike, ".mjs": cLike, ".cjs": cLike, ".jsx": cLike,
	".ts": cLike, ".mts": cLike, ".cts": cLike, ".tsx": cLike,
	".go": cLike, ".java": cLike, ".kt": cLike, ".swift": cLike, ".rs": cLike,
	".c": cLike, ".h": cLike, ".cc": cLike, ".cpp": cLike, ".cs": cLike, ".dart": cLike, ".php": cLike,
	".css": css, ".scss": scss, ".less": scss,
	".py": python,
}

// Checker implements buildgen.Validator.
type Checker struct{}

var _ buildgen.Validator = (*Checker)(nil)

func New() *Checker { return &Checker{} }

func (c *Checker) Supports(p string) bool {
	ext := strings.ToLower(path.Ext(p))
	switch ext {
	case ".json", ".yaml", ".yml", ".md", ".mdx":
		return true
	}
	_, ok := bracketSyntaxByExt[ext]
	return ok
}

func (c *Checker) Validate(content, p string) buildgen.ValidationResult {
	var errs []string
	if hasFenceLine(content) {
		errs = append(errs, "stray markdown code fence")
	}

	ext := strings.ToLower(path.Ext(p))
	switch ext {
	case ".json":
		errs = append(errs, checkJSON(content)...)
	case ".yaml", ".yml":
		errs = append(errs, checkYAML(content)...)
	case ".md", ".mdx":
		// Fences are legitimate in Markdown.
		errs = checkFrontmatter(content)
	default:
		if sx, ok := bracketSyntaxByExt[ext]; ok {
			errs = append(errs, scanBrackets(content, sx).errors()...)
		}
	}
	return buildgen.ValidationResult{Valid: len(errs) == 0, Errors: errs}
}

// AutoFix removes stray fence lines and appends closers for brackets left open at end of file.
// Content that still has mismatched brackets is returned without closers.
func (c *Checker) AutoFix(content string, errs []string) string {
	out := content
	if hasFenceLine(out) {
		out = stripFenceLines(out)
	}
	if !mentionsUnclosed(errs) {
		return out
	}
	scan := scanBrackets(out, cLike)
	if len(scan.mismatches) > 0 || len(scan.open) == 0 {
		return out
	}
	var b strings.Builder
	b.WriteString(strings.TrimRight(out, " \t\r\n"))
	for i := len(scan.open) - 1; i >= 0; i-- {
		b.WriteString("\n")
		b.WriteByte(closerFor(scan.open[i].ch))
	}
	b.WriteString("\n")
	return b.String()
}

func checkJSON(content string) []string {
	var v any
	dec := json.NewDecoder(strings.NewReader(content))
	if err := dec.Decode(&v); err != nil {
		var se *json.SyntaxError
		if errors.As(err, &se) {
			line, col := lineCol(content, int(se.Offset))
			errs := []string{fmt.Sprintf("invalid JSON at line %d col %d: %s", line, col, se.Error())}
			return append(errs, scanBrackets(content, syntax{quotes: `"`}).unclosedErrors()...)
		}
		errs := []string{"invalid JSON: " + err.Error()}
		return append(errs, scanBrackets(content, syntax{quotes: `"`}).unclosedErrors()...)
	}
	if dec.More() {
		return []string{"invalid JSON: trailing data after the top-level value"}
	}
	return nil
}

func checkYAML(content string) []string {
	var node yaml.Node
	dec := yaml.NewDecoder(strings.NewReader(content))
	for {
		err := dec.Decode(&node)
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		return []string{"invalid YAML: " + err.Error()}
	}
}

func checkFrontmatter(content string) []string {
	normalized := strings.ReplaceAll(content, "\r\n", "\n")
	if !strings.HasPrefix(normalized, "---\n") {
		return nil
	}
	rest := normalized[len("---\n"):]
	idx := strings.Index(rest, "\n---")
	if idx < 0 {
		return []string{"unclosed frontmatter block"}
	}
	var fm map[string]any
	if err := yaml.Unmarshal([]byte(rest[:idx]), &fm); err != nil {
		return []string{"invalid frontmatter: " + err.Error()}
	}
	return nil
}

func hasFenceLine(content string) bool {
	for _, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			return true
		}
	}
	return false
}

func stripFenceLines(content string) string {
	lines := strings.Split(content, "\n")
	out := lines[:0]
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

func mentionsUnclosed(errs []string) bool {
	for _, e := range errs {
		if strings.HasPrefix(e, "unclosed ") {
			return true
		}
	}
	return false
}

func lineCol(content string, offset int) (int, int) {
	if offset > len(content) {
		offset = len(content)
	}
	if offset < 0 {
		offset = 0
	}
	line := 1 + strings.Count(content[:offset], "\n")
	col := offset - strings.LastIndex(content[:offset], "\n")
	return line, col
}
