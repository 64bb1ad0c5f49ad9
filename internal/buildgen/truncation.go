package buildgen

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/floegence/appforge/internal/ai"
)

// TruncationTolerances are empirically tuned slack values for the imbalance heuristics.
type TruncationTolerances struct {
	// Brace is the allowed |{ - }| difference per file.
	Brace int `json:"brace"`
	// Tag is the allowed excess of opening markup tags over closing plus self-closing tags.
	Tag int `json:"tag"`
}

const (
	DefaultBraceTolerance = 2
	DefaultTagTolerance   = 3
)

func DefaultTruncationTolerances() TruncationTolerances {
	return TruncationTolerances{Brace: DefaultBraceTolerance, Tag: DefaultTagTolerance}
}

// TruncationInfo describes whether a response was cut off and how much of it can be kept.
type TruncationInfo struct {
	IsTruncated bool   `json:"is_truncated"`
	Reason      string `json:"reason,omitempty"`
	// LastCompleteFile is empty when no file in the kept prefix is brace balanced.
	LastCompleteFile string `json:"last_complete_file,omitempty"`
	SalvageableFiles int    `json:"salvageable_files"`
}

var (
	markupExts = map[string]struct{}{
		".html": {}, ".htm": {}, ".xml": {}, ".svg": {}, ".vue": {}, ".svelte": {}, ".jsx": {}, ".tsx": {},
	}
	proseExts = map[string]struct{}{
		".md": {}, ".markdown": {}, ".txt": {}, ".rst": {},
	}
	voidElements = map[string]struct{}{
		"area": {}, "base": {}, "br": {}, "col": {}, "embed": {}, "hr": {}, "img": {}, "input": {},
		"link": {}, "meta": {}, "source": {}, "track": {}, "wbr": {},
	}

	openTagRE  = regexp.MustCompile(`<([A-Za-z][\w:.-]*)(\s[^<>]*?)?(/?)>`)
	closeTagRE = regexp.MustCompile(`</[A-Za-z][\w:.-]*\s*>`)
)

// DetectTruncation runs the four truncation checks in order and returns on the first hit.
//
// On a hit, the implicated file and everything after it are excluded, and the returned slice is the
// known-good prefix ending at LastCompleteFile. Without a hit, files are returned unchanged.
func DetectTruncation(text string, files []GeneratedFile, tol TruncationTolerances) (TruncationInfo, []GeneratedFile) {
	implicated, reason := -1, ""

	switch {
	case strings.Contains(text, MarkerFilePrefix) && !strings.Contains(text, MarkerEnd):
		implicated, reason = len(files)-1, "response ended without the "+MarkerEnd+" marker"
	default:
		if i, open, closed := firstBraceImbalance(files, tol.Brace); i >= 0 {
			implicated, reason = i, fmt.Sprintf("brace imbalance in %s (%d open, %d close)", files[i].Path, open, closed)
		} else if i, open, closed := firstMarkupImbalance(files, tol.Tag); i >= 0 {
			implicated, reason = i, fmt.Sprintf("unclosed markup in %s (%d open, %d closed or self-closing)", files[i].Path, open, closed)
		} else if i := firstMidTokenCutoff(files); i >= 0 {
			implicated, reason = i, fmt.Sprintf("%s ends inside an unterminated string", files[i].Path)
		}
	}
	if reason == "" {
		return TruncationInfo{}, files
	}
	return salvage(files, implicated, reason, tol)
}

// TruncateAtLastFile marks a response truncated when the provider reported hitting its output cap
// but the structural checks found nothing; the file being written last is implicated.
func TruncateAtLastFile(files []GeneratedFile, finishReason string, tol TruncationTolerances) (TruncationInfo, []GeneratedFile) {
	if finishReason != ai.FinishReasonLength || len(files) == 0 {
		return TruncationInfo{}, files
	}
	return salvage(files, len(files)-1, "provider stopped at the output token limit", tol)
}

func salvage(files []GeneratedFile, implicated int, reason string, tol TruncationTolerances) (TruncationInfo, []GeneratedFile) {
	if implicated < 0 {
		implicated = 0
	}
	if implicated > len(files) {
		implicated = len(files)
	}
	prefix := files[:implicated]
	info := TruncationInfo{IsTruncated: true, Reason: reason}
	last := -1
	for i := len(prefix) - 1; i >= 0; i-- {
		if braceBalanced(prefix[i].Content, tol.Brace) {
			last = i
			break
		}
	}
	for _, f := range prefix {
		if braceBalanced(f.Content, tol.Brace) {
			info.SalvageableFiles++
		}
	}
	if last < 0 {
		return info, nil
	}
	info.LastCompleteFile = prefix[last].Path
	kept := make([]GeneratedFile, last+1)
	copy(kept, prefix[:last+1])
	return info, kept
}

func braceCounts(content string) (int, int) {
	return strings.Count(content, "{"), strings.Count(content, "}")
}

func braceBalanced(content string, tolerance int) bool {
	open, closed := braceCounts(content)
	diff := open - closed
	if diff < 0 {
		diff = -diff
	}
	return diff <= tolerance
}

func firstBraceImbalance(files []GeneratedFile, tolerance int) (int, int, int) {
	for i, f := range files {
		if !braceBalanced(f.Content, tolerance) {
			open, closed := braceCounts(f.Content)
			return i, open, closed
		}
	}
	return -1, 0, 0
}

func firstMarkupImbalance(files []GeneratedFile, tolerance int) (int, int, int) {
	for i, f := range files {
		if _, ok := markupExts[fileExt(f.Path)]; !ok {
			continue
		}
		open, closed := markupCounts(f.Content)
		if open > closed+tolerance {
			return i, open, closed
		}
	}
	return -1, 0, 0
}

// markupCounts returns all opening tags (self-closing included) and closing plus self-closing tags.
func markupCounts(content string) (int, int) {
	open, selfClosing := 0, 0
	for _, loc := range openTagRE.FindAllStringSubmatchIndex(content, -1) {
		// A tag glued to an identifier is a generic such as useState<string>.
		if loc[0] > 0 && isIdentByte(content[loc[0]-1]) {
			continue
		}
		open++
		_, void := voidElements[strings.ToLower(content[loc[2]:loc[3]])]
		if (loc[6] >= 0 && loc[7] > loc[6]) || void {
			selfClosing++
		}
	}
	return open, len(closeTagRE.FindAllStringIndex(content, -1)) + selfClosing
}

func isIdentByte(b byte) bool {
	return b == '_' || b == '.' || b >= '0' && b <= '9' || b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z'
}

func firstMidTokenCutoff(files []GeneratedFile) int {
	for i, f := range files {
		if _, ok := proseExts[fileExt(f.Path)]; ok {
			continue
		}
		if endsMidToken(f.Content) {
			return i
		}
	}
	return -1
}

func endsMidToken(content string) bool {
	line := lastNonBlankLine(content)
	if line == "" {
		return false
	}
	switch line[len(line)-1] {
	case ';', '}', '{', ')', ']', '>', ',':
		return false
	}
	for _, q := range []string{`"`, `'`, "`"} {
		if strings.Count(line, q)%2 == 1 {
			return true
		}
	}
	return false
}

func lastNonBlankLine(content string) string {
	content = strings.TrimRight(content, " \t\r\n")
	if i := strings.LastIndexByte(content, '\n'); i >= 0 {
		content = content[i+1:]
	}
	return strings.TrimSpace(content)
}
