package service

import (
	"regexp"
	"strings"
)

// 推理标签处理: 部分模型把思考过程内联在回复正文里 (<think>...</think>)。
// 代码块中的标签原样保留。

// --- Compiled patterns ---

// quickTagRe is the fast-path check: if no match, skip all processing.
var quickTagRe = regexp.MustCompile(`(?i)<\s*/?\s*(?:think(?:ing)?|thought|antthinking|final)\b`)

// finalTagRe matches <final> and </final> tags.
var finalTagRe = regexp.MustCompile(`(?i)<\s*/?\s*final\b[^<>]*>`)

// thinkingTagRe matches opening/closing think/thinking/thought/antthinking tags.
// Capture group 1 = "/" if closing tag, empty if opening.
var thinkingTagRe = regexp.MustCompile(`(?i)<\s*(/?)\s*(?:think(?:ing)?|thought|antthinking)\b[^<>]*>`)

// --- Code region detection (protects tags inside code blocks) ---

var inlineCodeRe = regexp.MustCompile("`+[^`]+`+")

type codeRegion struct {
	start, end int
}

// findCodeRegions finds fenced code blocks (``` / ~~~) and inline code spans.
// Tags inside these regions are preserved (not stripped).
func findCodeRegions(text string) []codeRegion {
	var regions []codeRegion

	// Fenced code blocks: ```...``` or ~~~...~~~
	// Go's RE2 engine does not support backreferences, so we scan manually.
	regions = append(regions, findFencedBlocks(text, "```")...)
	regions = append(regions, findFencedBlocks(text, "~~~")...)

	// Inline code: `...` (but not inside fenced blocks)
	for _, match := range inlineCodeRe.FindAllStringIndex(text, -1) {
		insideFenced := false
		for _, r := range regions {
			if match[0] >= r.start && match[1] <= r.end {
				insideFenced = true
				break
			}
		}
		if !insideFenced {
			regions = append(regions, codeRegion{match[0], match[1]})
		}
	}

	return regions
}

// findFencedBlocks scans text for fenced code blocks delimited by fence (``` or ~~~).
func findFencedBlocks(text, fence string) []codeRegion {
	var regions []codeRegion
	offset := 0
	for offset < len(text) {
		// Find opening fence at start of line
		idx := strings.Index(text[offset:], fence)
		if idx < 0 {
			break
		}
		start := offset + idx
		// Opening fence must be at start of text or preceded by newline
		if start > 0 && text[start-1] != '\n' {
			offset = start + len(fence)
			continue
		}
		// Skip to end of opening fence line
		lineEnd := strings.Index(text[start:], "\n")
		if lineEnd < 0 {
			break // no newline after fence = unclosed, treat rest as code
		}
		searchFrom := start + lineEnd + 1
		// Find closing fence (same delimiter, at start of line)
		closeIdx := -1
		pos := searchFrom
		for pos < len(text) {
			ci := strings.Index(text[pos:], fence)
			if ci < 0 {
				break
			}
			cand := pos + ci
			if cand == 0 || text[cand-1] == '\n' {
				closeIdx = cand
				break
			}
			pos = cand + len(fence)
		}
		if closeIdx >= 0 {
			// End after the closing fence line
			end := closeIdx + len(fence)
			if nlAfter := strings.Index(text[end:], "\n"); nlAfter >= 0 {
				end += nlAfter + 1
			} else {
				end = len(text)
			}
			regions = append(regions, codeRegion{start, end})
			offset = end
		} else {
			// Unclosed fence: rest of text is code
			regions = append(regions, codeRegion{start, len(text)})
			break
		}
	}
	return regions
}

func isInsideCode(pos int, regions []codeRegion) bool {
	for _, r := range regions {
		if pos >= r.start && pos < r.end {
			return true
		}
	}
	return false
}

// SplitReasoning separates inline reasoning from an assistant reply.
//
// Supported tags (case-insensitive): <think>, <thinking>, <thought>, <antthinking>, <final>.
// Tags inside code blocks (fenced ``` / ~~~ or inline `) are preserved.
// complete is false when the text ends inside an unclosed tag, as a
// reply cut off mid-stream does; the unclosed tail counts as reasoning.
func SplitReasoning(text string) (answer, reasoning string, complete bool) {
	if text == "" || !quickTagRe.MatchString(text) {
		return text, "", true
	}

	cleaned := text

	// 1. <final> 只去标记, 保留内容
	if finalTagRe.MatchString(cleaned) {
		preCodeRegions := findCodeRegions(cleaned)
		matches := finalTagRe.FindAllStringIndex(cleaned, -1)
		for i := len(matches) - 1; i >= 0; i-- {
			m := matches[i]
			if !isInsideCode(m[0], preCodeRegions) {
				cleaned = cleaned[:m[0]] + cleaned[m[1]:]
			}
		}
	}

	// 2. 状态机: 标签外写入 answer, 标签内写入 reasoning
	codeRegions := findCodeRegions(cleaned)
	allMatches := thinkingTagRe.FindAllStringSubmatchIndex(cleaned, -1)

	var out, thought strings.Builder
	out.Grow(len(cleaned))

	lastIndex := 0
	inThinking := false

	for _, match := range allMatches {
		// match[2..3] = group 1, non-empty for a closing tag
		idx, matchEnd := match[0], match[1]
		isClose := match[2] != match[3]

		if isInsideCode(idx, codeRegions) {
			continue
		}

		if !inThinking {
			out.WriteString(cleaned[lastIndex:idx])
			if !isClose {
				inThinking = true
			}
		} else {
			appendThought(&thought, cleaned[lastIndex:idx])
			if isClose {
				inThinking = false
			}
		}
		lastIndex = matchEnd
	}

	tail := cleaned[lastIndex:]
	if inThinking {
		appendThought(&thought, tail)
	} else {
		out.WriteString(tail)
	}

	return strings.TrimSpace(out.String()), strings.TrimSpace(thought.String()), !inThinking
}

func appendThought(b *strings.Builder, s string) {
	s = strings.TrimSpace(s)
	if s == "" {
		return
	}
	if b.Len() > 0 {
		b.WriteString("\n\n")
	}
	b.WriteString(s)
}
