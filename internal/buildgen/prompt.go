package buildgen

import (
	"fmt"
	"strings"
)

const maxExistingFilesListed = 200

const defaultSystemPrompt = `You are an application generator. You write complete, working source files.

Respond in this exact plain-text format and nothing else:

===NAME===
<short project name>
===DESCRIPTION===
<one paragraph>
===FILE:<relative/path.ext>===
<full file content>
===FILE:<relative/path.ext> | <optional one-line description>===
<full file content>
===DEPENDENCIES===
<one "name@version" per line, or a JSON object>
===SETUP===
<setup notes>
===END===

Rules:
- Paths are relative to the project root. Never use absolute paths or "..".
- Write each file in full. Do not wrap file bodies in Markdown code fences.
- Always finish with ===END===.`

// buildUserPrompt renders the instruction for one unit. retry is the corrective instruction of the previous attempt, if any.
func buildUserPrompt(u buildUnit, retry string) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(u.prompt))

	if u.phase != nil {
		fmt.Fprintf(&b, "\n\n# Phase %s: %s\n", formatPhaseNumber(u.phase.Number), u.phase.Name)
		if d := strings.TrimSpace(u.phase.Description); d != "" {
			b.WriteString(d)
			b.WriteString("\n")
		}
		if len(u.phase.Features) > 0 {
			b.WriteString("\nImplement only these features:\n")
			for _, f := range u.phase.Features {
				b.WriteString("- ")
				b.WriteString(f)
				b.WriteString("\n")
			}
		}
	}

	if len(u.existing) > 0 {
		b.WriteString("\n# Existing files\nThese files already exist. Reissue one only if it must change, and then in full.\n")
		for i, f := range u.existing {
			if i == maxExistingFilesListed {
				fmt.Fprintf(&b, "- ... and %d more\n", len(u.existing)-i)
				break
			}
			b.WriteString("- ")
			b.WriteString(f.Path)
			if f.Description != "" {
				b.WriteString(": ")
				b.WriteString(f.Description)
			}
			b.WriteString("\n")
		}
	}

	if retry = strings.TrimSpace(retry); retry != "" {
		b.WriteString("\n")
		b.WriteString(retry)
	}
	return b.String()
}

func formatPhaseNumber(n float64) string {
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.4f", n), "0"), ".")
}
