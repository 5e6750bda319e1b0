package cli

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/ngoclaw/chatsync/internal/application/usecase"
	"github.com/ngoclaw/chatsync/internal/domain/entity"
	"github.com/ngoclaw/chatsync/internal/domain/service"
	"github.com/ngoclaw/chatsync/internal/infrastructure/remote"
)

// Renderer handles all output rendering: tables, markdown, sync progress
type Renderer struct {
	glamour *glamour.TermRenderer
	width   int
}

// NewRenderer creates a renderer with the given terminal width
func NewRenderer(width int) *Renderer {
	if width <= 0 {
		width = 80
	}
	r, _ := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width-4),
	)
	return &Renderer{
		glamour: r,
		width:   width,
	}
}

// Width 终端宽度
func (r *Renderer) Width() int { return r.width }

// RenderMarkdown renders markdown text to styled terminal output
func (r *Renderer) RenderMarkdown(md string) string {
	if r.glamour == nil {
		return md
	}
	out, err := r.glamour.Render(md)
	if err != nil {
		return md
	}
	return strings.TrimSpace(out)
}

func (r *Renderer) newTable(headers ...string) *table.Table {
	headerStyle := lipgloss.NewStyle().Foreground(colorCyan).Bold(true).Padding(0, 1)
	cellStyle := lipgloss.NewStyle().Foreground(colorWhite).Padding(0, 1)
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(colorDim)).
		Width(r.width).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers(headers...)
}

// RenderConversations renders a conversation list as a table.
func (r *Renderer) RenderConversations(convs []*entity.Conversation) string {
	if len(convs) == 0 {
		return dimStyle().Render("  (no conversations)")
	}
	t := r.newTable("ID", "TITLE", "SOURCE", "MESSAGES", "UPDATED")
	for _, c := range convs {
		t.Row(shortID(c.ID), truncate(c.Title, 40), string(c.Source), fmt.Sprintf("%d", len(c.Messages)), formatTime(c.UpdatedAt))
	}
	return t.String()
}

// RenderConversation renders the header and every message of one
// conversation, message bodies as markdown.
func (r *Renderer) RenderConversation(conv *entity.Conversation) string {
	titleStyle := lipgloss.NewStyle().Foreground(colorCyan).Bold(true)
	metaStyle := dimStyle()

	var sb strings.Builder
	sb.WriteString(titleStyle.Render("◇ " + conv.Title))
	sb.WriteString("\n")
	sb.WriteString(metaStyle.Render(fmt.Sprintf("  %s · %s · %d messages · updated %s",
		conv.ID, conv.Source, len(conv.Messages), formatTime(conv.UpdatedAt))))
	sb.WriteString("\n\n")
	for _, m := range conv.Messages {
		sb.WriteString(r.RenderMessage(m))
		sb.WriteString("\n\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

// RenderMessage renders one message with a role header.
func (r *Renderer) RenderMessage(m *entity.Message) string {
	var header string
	switch m.Role {
	case entity.RoleUser:
		header = lipgloss.NewStyle().Foreground(colorGreen).Bold(true).Render("▶ You")
	case entity.RoleAssistant:
		name := "Assistant"
		if m.ModelName != "" {
			name += " · " + m.ModelName
		} else if m.Model != "" {
			name += " · " + m.Model
		}
		header = lipgloss.NewStyle().Foreground(colorCyan).Bold(true).Render("🤖 " + name)
	default:
		header = lipgloss.NewStyle().Foreground(colorGray).Bold(true).Render("⚙ " + string(m.Role))
	}
	if m.Error {
		header += " " + lipgloss.NewStyle().Foreground(colorRed).Render("(error)")
	}
	header += dimStyle().Render("  " + formatTime(m.Timestamp))

	body := r.RenderMarkdown(m.Content.Text())
	var extras []string
	if m.Reasoning != "" {
		note := fmt.Sprintf("  💭 reasoning · %d chars", len([]rune(m.Reasoning)))
		if !m.ReasoningComplete {
			note += " (incomplete)"
		}
		extras = append(extras, note)
	}
	for _, u := range m.Content.ImageURLs() {
		extras = append(extras, "  🖼 "+truncate(u, 60))
	}
	for _, a := range m.Attachments {
		extras = append(extras, fmt.Sprintf("  📎 %s (%s)", a.Filename, a.MimeType))
	}
	out := header + "\n" + body
	if len(extras) > 0 {
		out += "\n" + dimStyle().Render(strings.Join(extras, "\n"))
	}
	return out
}

// RenderSearchHits renders fuzzy search results.
func (r *Renderer) RenderSearchHits(hits []service.SearchHit) string {
	if len(hits) == 0 {
		return dimStyle().Render("  (no matches)")
	}
	t := r.newTable("ID", "TITLE", "MATCH")
	for _, h := range hits {
		match := "title"
		if !h.TitleMatch {
			match = truncate(strings.ReplaceAll(h.Snippet, "\n", " "), 50)
		}
		t.Row(shortID(h.Conversation.ID), truncate(h.Conversation.Title, 40), match)
	}
	return t.String()
}

// RenderProviders renders providers with masked keys.
func (r *Renderer) RenderProviders(providers []entity.Provider) string {
	if len(providers) == 0 {
		return dimStyle().Render("  (no providers)")
	}
	t := r.newTable("ID", "LABEL", "BASE URL", "KEY", "STATUS")
	for _, p := range providers {
		status := "enabled"
		if p.Disabled {
			status = "disabled"
		}
		t.Row(p.ID, p.Label, p.BaseURL, p.MaskedKey(), status)
	}
	return t.String()
}

// RenderModels renders every bucket of a snapshot, marking selected models.
func (r *Renderer) RenderModels(snap *entity.ConfigSnapshot) string {
	selected := make(map[string]bool, len(snap.SelectedModels))
	for _, id := range snap.SelectedModels {
		selected[id] = true
	}
	buckets := snap.Buckets()
	names := make([]string, 0, len(buckets))
	for name := range buckets {
		names = append(names, name)
	}
	sort.Strings(names)

	t := r.newTable("", "BUCKET", "MODEL", "NAME", "CAPABILITIES")
	rows := 0
	for _, name := range names {
		for _, m := range buckets[name] {
			mark := ""
			if selected[m.ID] {
				mark = "★"
			}
			t.Row(mark, name, m.ID, m.Name, strings.Join(m.Capabilities(), ","))
			rows++
		}
	}
	if rows == 0 {
		return dimStyle().Render("  (no models)")
	}
	return t.String()
}

// RenderStats renders count-only usage statistics.
func (r *Renderer) RenderStats(stats remote.ChatStats) string {
	t := r.newTable("METRIC", "VALUE")
	t.Row("conversations", fmt.Sprintf("%d", stats.Conversations.Total))
	t.Row("  server", fmt.Sprintf("%d", stats.Conversations.Server))
	t.Row("  byok", fmt.Sprintf("%d", stats.Conversations.BYOK))
	t.Row("messages", fmt.Sprintf("%d", stats.Messages))
	t.Row("user messages", fmt.Sprintf("%d", stats.UserMessages))
	t.Row("  server prompts", fmt.Sprintf("%d", stats.ServerUserPrompts))
	t.Row("  byok prompts", fmt.Sprintf("%d", stats.BYOKUserPrompts))
	return t.String()
}

// RenderSyncEvent renders one sync lifecycle step as a single line.
func (r *Renderer) RenderSyncEvent(ev usecase.SyncEvent) string {
	switch ev.Kind {
	case usecase.SyncStarted:
		return lipgloss.NewStyle().Foreground(colorCyan).Render("⟳ sync started")
	case usecase.SyncTransition:
		return dimStyle().Render(fmt.Sprintf("  %s → %s", ev.From, ev.To))
	case usecase.SyncCompleted:
		return lipgloss.NewStyle().Foreground(colorGreen).Render(
			fmt.Sprintf("✓ sync complete (%s)", ev.Snapshot.Elapsed.Round(time.Millisecond)))
	case usecase.SyncFailed:
		return lipgloss.NewStyle().Foreground(colorRed).Render(fmt.Sprintf("✗ sync failed: %v", ev.Err))
	default:
		return ""
	}
}

// RenderError renders an error line.
func (r *Renderer) RenderError(err error) string {
	return lipgloss.NewStyle().Foreground(colorRed).Render("✗ " + err.Error())
}

// RenderNotice renders a success line.
func (r *Renderer) RenderNotice(msg string) string {
	return lipgloss.NewStyle().Foreground(colorGreen).Render("✓ " + msg)
}

func dimStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(colorGray)
}

// shortID keeps uuid-style ids readable in tables.
func shortID(id string) string {
	if len(id) > 13 {
		return id[:13]
	}
	return id
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}
