package service

import (
	"strings"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// DefaultTitleLength caps derived conversation titles, in runes.
const DefaultTitleLength = 60

// FallbackTitle is used when the first message has no usable text.
const FallbackTitle = "New conversation"

var titleParser = goldmark.New().Parser()

// DeriveTitle builds a conversation title from the first user message.
// The markdown is parsed and the first heading or paragraph is flattened to
// plain text, so "## Fix *this* bug" becomes "Fix this bug". Code blocks,
// images and raw HTML are skipped.
func DeriveTitle(markdown string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = DefaultTitleLength
	}
	src := []byte(markdown)
	doc := titleParser.Parse(text.NewReader(src))

	var title string
	for block := doc.FirstChild(); block != nil; block = block.NextSibling() {
		switch block.Kind() {
		case ast.KindHeading, ast.KindParagraph, ast.KindTextBlock:
		case ast.KindList, ast.KindBlockquote:
			// descend one level to the first paragraph-like child
			if t := flattenFirstText(block, src); t != "" {
				title = t
			}
		default:
			continue
		}
		if title == "" {
			title = flattenInline(block, src)
		}
		if title != "" {
			break
		}
	}

	title = strings.Join(strings.Fields(title), " ")
	if title == "" {
		return FallbackTitle
	}
	return truncateRunes(title, maxLen)
}

func flattenFirstText(node ast.Node, src []byte) string {
	var found string
	_ = ast.Walk(node, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering || found != "" {
			return ast.WalkContinue, nil
		}
		switch n.Kind() {
		case ast.KindParagraph, ast.KindTextBlock, ast.KindHeading:
			found = flattenInline(n, src)
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	return found
}

func flattenInline(node ast.Node, src []byte) string {
	var b strings.Builder
	_ = ast.Walk(node, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch v := n.(type) {
		case *ast.Image, *ast.RawHTML:
			return ast.WalkSkipChildren, nil
		case *ast.Text:
			b.Write(v.Segment.Value(src))
			if v.SoftLineBreak() || v.HardLineBreak() {
				b.WriteByte(' ')
			}
		case *ast.String:
			b.Write(v.Value)
		}
		return ast.WalkContinue, nil
	})
	return b.String()
}

func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	cut := strings.TrimRight(string(runes[:max-1]), " ")
	return cut + "…"
}
