package buildgen

import (
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"
)

// Delimited response protocol markers.
const (
	MarkerFilePrefix   = "===FILE:"
	MarkerName         = "===NAME==="
	MarkerDescription  = "===DESCRIPTION==="
	MarkerDependencies = "===DEPENDENCIES==="
	MarkerSetup        = "===SETUP==="
	MarkerEnd          = "===END==="
)

const (
	maxMarkerPathLen = 256
	maxMarkerDescLen = 200
	// markerOverlap bounds the longest marker the regexp can match; rescans start this far before the cursor.
	markerOverlap = 512
)

var markerRE = regexp.MustCompile(fmt.Sprintf(
	`===(?:FILE:[ \t]{0,4}([^\n=|]{1,%d}?)(?:[ \t]{0,4}\|[ \t]{0,4}([^\n=]{0,%d}?))?|(NAME|DESCRIPTION|DEPENDENCIES|SETUP|END))===`,
	maxMarkerPathLen, maxMarkerDescLen,
))

var (
	ErrNoFileMarkers = errors.New("response contained no ===FILE:<path>=== markers")
	ErrUnsafePath    = errors.New("unsafe file path")
)

type markerKind int

const (
	markerKindFile markerKind = iota + 1
	markerKindSection
)

type marker struct {
	kind    markerKind
	start   int
	end     int
	path    string
	desc    string
	section string
}

func markerAt(text string, loc []int) marker {
	m := marker{start: loc[0], end: loc[1]}
	if loc[2] >= 0 {
		m.kind = markerKindFile
		m.path = strings.TrimSpace(text[loc[2]:loc[3]])
		if loc[4] >= 0 {
			m.desc = strings.TrimSpace(text[loc[4]:loc[5]])
		}
		return m
	}
	m.kind = markerKindSection
	m.section = text[loc[6]:loc[7]]
	return m
}

func findMarkers(text string) []marker {
	locs := markerRE.FindAllStringSubmatchIndex(text, -1)
	out := make([]marker, 0, len(locs))
	for _, loc := range locs {
		out = append(out, markerAt(text, loc))
	}
	return out
}

// ParsedResponse is the structured form of a delimited model response.
type ParsedResponse struct {
	Name         string            `json:"name,omitempty"`
	Description  string            `json:"description,omitempty"`
	Files        []GeneratedFile   `json:"files"`
	Dependencies map[string]string `json:"dependencies,omitempty"`
	Setup        string            `json:"setup,omitempty"`
	HasEnd       bool              `json:"has_end"`
}

// ParseResponse splits a complete response into files and sections. File bodies run from one marker to the next.
func ParseResponse(text string) (ParsedResponse, error) {
	var out ParsedResponse
	markers := findMarkers(text)
	index := map[string]int{}
	for i, m := range markers {
		bodyEnd := len(text)
		if i+1 < len(markers) {
			bodyEnd = markers[i+1].start
		}
		body := text[m.end:bodyEnd]

		if m.kind == markerKindFile {
			p, err := NormalizeFilePath(m.path)
			if err != nil {
				return ParsedResponse{}, err
			}
			f := GeneratedFile{Path: p, Content: cleanFileBody(body), Description: m.desc}
			if at, ok := index[p]; ok {
				out.Files[at] = f
				continue
			}
			index[p] = len(out.Files)
			out.Files = append(out.Files, f)
			continue
		}

		switch m.section {
		case "NAME":
			out.Name = firstLine(body)
		case "DESCRIPTION":
			out.Description = strings.TrimSpace(body)
		case "DEPENDENCIES":
			deps := parseDependencies(body)
			if len(deps) > 0 && out.Dependencies == nil {
				out.Dependencies = map[string]string{}
			}
			for k, v := range deps {
				out.Dependencies[k] = v
			}
		case "SETUP":
			out.Setup = strings.TrimSpace(body)
		case "END":
			out.HasEnd = true
		}
		if out.HasEnd {
			break
		}
	}
	if len(out.Files) == 0 {
		return out, ErrNoFileMarkers
	}
	return out, nil
}

// NormalizeFilePath cleans a model-provided path and rejects anything that could escape the output root.
func NormalizeFilePath(raw string) (string, error) {
	p := strings.TrimSpace(strings.ReplaceAll(raw, "\\", "/"))
	p = strings.TrimPrefix(p, "./")
	if p == "" {
		return "", fmt.Errorf("%w: empty path", ErrUnsafePath)
	}
	if strings.HasPrefix(p, "/") || (len(p) >= 2 && p[1] == ':') {
		return "", fmt.Errorf("%w: absolute path %q", ErrUnsafePath, raw)
	}
	clean := path.Clean(p)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: %q escapes the project root", ErrUnsafePath, raw)
	}
	return clean, nil
}

func cleanFileBody(body string) string {
	body = strings.TrimLeft(body, " \t")
	body = strings.TrimPrefix(body, "\r")
	body = strings.TrimPrefix(body, "\n")
	body = strings.TrimRight(body, " \t\r\n")
	if unwrapped, ok := unwrapCodeFence(body); ok {
		body = unwrapped
	}
	if body == "" {
		return ""
	}
	return body + "\n"
}

func unwrapCodeFence(body string) (string, bool) {
	if !strings.HasPrefix(body, "```") || !strings.HasSuffix(body, "```") {
		return "", false
	}
	nl := strings.Index(body, "\n")
	if nl < 0 {
		return "", false
	}
	inner := body[nl+1 : len(body)-3]
	return strings.TrimRight(inner, " \t\r\n"), true
}

func firstLine(body string) string {
	body = strings.TrimSpace(body)
	if i := strings.IndexByte(body, '\n'); i >= 0 {
		body = body[:i]
	}
	return strings.TrimSpace(body)
}

func parseDependencies(body string) map[string]string {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil
	}
	if strings.HasPrefix(body, "{") {
		var raw map[string]any
		if err := json.Unmarshal([]byte(body), &raw); err == nil {
			out := map[string]string{}
			flattenDependencyJSON(raw, out)
			return out
		}
	}
	out := map[string]string{}
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "-* ")
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "//") || strings.HasPrefix(line, "```") {
			continue
		}
		name, version := splitDependencyLine(line)
		if name != "" {
			out[name] = version
		}
	}
	return out
}

func flattenDependencyJSON(raw map[string]any, out map[string]string) {
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		switch v := raw[k].(type) {
		case string:
			out[k] = strings.TrimSpace(v)
		case map[string]any:
			// package.json style {"dependencies": {...}, "devDependencies": {...}}
			flattenDependencyJSON(v, out)
		}
	}
}

func splitDependencyLine(line string) (string, string) {
	if name, version, ok := strings.Cut(line, ":"); ok {
		return strings.Trim(strings.TrimSpace(name), `"'`), strings.Trim(strings.TrimSpace(version), `"',`)
	}
	if at := strings.LastIndex(line, "@"); at > 0 {
		return strings.TrimSpace(line[:at]), strings.TrimSpace(line[at+1:])
	}
	if fields := strings.Fields(line); len(fields) >= 2 {
		return fields[0], fields[1]
	}
	return line, "latest"
}
