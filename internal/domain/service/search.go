package service

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/ngoclaw/chatsync/internal/domain/entity"
)

// SearchHit is one conversation matching a search query.
type SearchHit struct {
	Conversation *entity.Conversation
	// Distance is the fuzzy title distance; -1 when only the content matched.
	Distance   int
	TitleMatch bool
	MessageID  string
	Snippet    string
}

const snippetRadius = 40

// SearchConversations matches query against titles (fuzzy, case-insensitive)
// and message text (substring, case-insensitive). Title hits rank first by
// distance; content-only hits follow, newest conversation first.
func SearchConversations(convs []*entity.Conversation, query string) []SearchHit {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil
	}
	lowerQuery := strings.ToLower(query)

	hits := make([]SearchHit, 0)
	for _, c := range convs {
		hit := SearchHit{Conversation: c, Distance: -1}

		if d := fuzzy.RankMatchFold(query, c.Title); d >= 0 {
			hit.TitleMatch = true
			hit.Distance = d
		}

		for _, m := range c.Messages {
			body := m.Content.Text()
			idx := strings.Index(strings.ToLower(body), lowerQuery)
			if idx < 0 {
				continue
			}
			hit.MessageID = m.ID
			hit.Snippet = snippet(body, idx, len(lowerQuery))
			break
		}

		if hit.TitleMatch || hit.MessageID != "" {
			hits = append(hits, hit)
		}
	}

	sort.SliceStable(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		if a.TitleMatch != b.TitleMatch {
			return a.TitleMatch
		}
		if a.TitleMatch && a.Distance != b.Distance {
			return a.Distance < b.Distance
		}
		return a.Conversation.UpdatedAt.After(b.Conversation.UpdatedAt)
	})
	return hits
}

// snippet cuts a window around a byte offset without splitting runes.
// The offset comes from the lowercased text; lowercasing can shift byte
// offsets for some scripts, so the window is clamped and realigned.
func snippet(body string, at, n int) string {
	start := at - snippetRadius
	if start < 0 {
		start = 0
	}
	end := at + n + snippetRadius
	if end > len(body) {
		end = len(body)
	}
	if start > end {
		start = end
	}
	for start > 0 && !utf8.RuneStart(body[start]) {
		start--
	}
	for end < len(body) && !utf8.RuneStart(body[end]) {
		end++
	}

	out := strings.Join(strings.Fields(body[start:end]), " ")
	if start > 0 {
		out = "…" + out
	}
	if end < len(body) {
		out += "…"
	}
	return out
}
