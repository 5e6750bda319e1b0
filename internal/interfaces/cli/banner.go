package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// AppVersion is printed by `chatsync version` and the shell banner.
const AppVersion = "0.3.0"

// brand colors
var (
	colorCyan    = lipgloss.Color("#00D7FF")
	colorDimCyan = lipgloss.Color("#00AFAF")
	colorGray    = lipgloss.Color("#6C6C6C")
	colorWhite   = lipgloss.Color("#FFFFFF")
	colorDim     = lipgloss.Color("#4E4E4E")
	colorGreen   = lipgloss.Color("#00FF87")
	colorYellow  = lipgloss.Color("#FFD75F")
	colorRed     = lipgloss.Color("#FF5F5F")
)

// BannerInfo carries the session facts shown in the shell banner and by
// `chatsync status`.
type BannerInfo struct {
	User          string
	SignedIn      bool
	LocalDriver   string
	RemoteDriver  string // empty when offline
	Conversations int
	SyncState     string
	LastSync      string
}

// RenderBanner returns the styled status header.
func RenderBanner(info BannerInfo, width int) string {
	labelStyle := lipgloss.NewStyle().Foreground(colorGray)
	valueStyle := lipgloss.NewStyle().Foreground(colorWhite)
	tipStyle := lipgloss.NewStyle().Foreground(colorDim)
	versionStyle := lipgloss.NewStyle().Foreground(colorDimCyan)

	logo := lipgloss.NewStyle().Foreground(colorCyan).Bold(true).Render(" ◇  C H A T S Y N C")
	if width >= 40 {
		logo += versionStyle.Render(fmt.Sprintf("  v%s", AppVersion))
	}

	user := lipgloss.NewStyle().Foreground(colorYellow).Render(info.User + " (anonymous)")
	if info.SignedIn {
		user = lipgloss.NewStyle().Foreground(colorGreen).Render(info.User)
	}
	remote := info.RemoteDriver
	if remote == "" {
		remote = "offline"
	}

	line := func(label, value string) string {
		return fmt.Sprintf("  %s %s", labelStyle.Render(fmt.Sprintf("%-13s", label)), value)
	}
	lines := []string{
		logo,
		"",
		line("User", user),
		line("Local", valueStyle.Render(info.LocalDriver)),
		line("Remote", valueStyle.Render(remote)),
		line("Conversations", valueStyle.Render(fmt.Sprintf("%d", info.Conversations))),
	}
	if info.SyncState != "" {
		lines = append(lines, line("Sync", valueStyle.Render(info.SyncState)))
	}
	if info.LastSync != "" {
		lines = append(lines, line("Last sync", valueStyle.Render(info.LastSync)))
	}
	lines = append(lines, "", tipStyle.Render("  /help 命令 · Ctrl+D 退出"))
	return "\n" + strings.Join(lines, "\n") + "\n"
}
