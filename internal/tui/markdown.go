package tui

import (
	"regexp"
	"strings"
)

var codeBlockRe = regexp.MustCompile("(?s)```([A-Za-z0-9_+-]*)\\n?(.*?)```")

type segment struct {
	code bool
	lang string
	text string
}

// splitCodeBlocks cuts content into plain text and fenced code segments.
// An unterminated fence is left as plain text.
func splitCodeBlocks(content string) []segment {
	var out []segment
	last := 0
	for _, loc := range codeBlockRe.FindAllStringSubmatchIndex(content, -1) {
		if loc[0] > last {
			out = append(out, segment{text: content[last:loc[0]]})
		}
		out = append(out, segment{
			code: true,
			lang: content[loc[2]:loc[3]],
			text: strings.TrimRight(content[loc[4]:loc[5]], "\n"),
		})
		last = loc[1]
	}
	if last < len(content) {
		out = append(out, segment{text: content[last:]})
	}
	return out
}
