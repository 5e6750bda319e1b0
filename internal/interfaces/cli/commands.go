package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/ngoclaw/chatsync/internal/application/usecase"
	"github.com/ngoclaw/chatsync/internal/domain/entity"
	"github.com/ngoclaw/chatsync/internal/domain/repository"
	"github.com/ngoclaw/chatsync/internal/domain/service"
	"github.com/ngoclaw/chatsync/internal/domain/valueobject"
	apperrors "github.com/ngoclaw/chatsync/pkg/errors"
)

// SlashCommand represents a parsed slash command
type SlashCommand struct {
	Name string
	Args []string
}

// ParseSlashCommand parses a slash command from user input
func ParseSlashCommand(input string) *SlashCommand {
	input = strings.TrimSpace(input)
	if !strings.HasPrefix(input, "/") {
		return nil
	}

	parts := strings.Fields(input)
	name := strings.TrimPrefix(parts[0], "/")
	var args []string
	if len(parts) > 1 {
		args = parts[1:]
	}

	return &SlashCommand{Name: name, Args: args}
}

// CommandResult is the output of executing a shell line
type CommandResult struct {
	Output string
	IsQuit bool
}

// ShellConfig 交互式 shell 依赖
type ShellConfig struct {
	Conversations *usecase.ConversationStore
	Sync          *usecase.SyncOrchestrator
	Session       repository.SessionProvider
	Renderer      *Renderer
	PageSize      int
}

// Shell keeps the open conversation between lines. Plain text is appended
// to it as a user message; the first line starts a new conversation.
type Shell struct {
	cfg     ShellConfig
	current string
	page    valueobject.PageCursor
}

// NewShell 创建 shell
func NewShell(cfg ShellConfig) *Shell {
	if cfg.Renderer == nil {
		cfg.Renderer = NewRenderer(80)
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 20
	}
	return &Shell{cfg: cfg}
}

// Current returns the id of the open conversation, "" when none.
func (s *Shell) Current() string { return s.current }

// Prompt 当前提示符
func (s *Shell) Prompt() string {
	if s.current == "" {
		return "❯ "
	}
	return shortID(s.current) + " ❯ "
}

// Execute runs one line of input.
func (s *Shell) Execute(ctx context.Context, input string) CommandResult {
	input = strings.TrimSpace(input)
	if input == "" {
		return CommandResult{}
	}
	cmd := ParseSlashCommand(input)
	if cmd == nil {
		return s.append(ctx, input)
	}

	r := s.cfg.Renderer
	switch cmd.Name {
	case "help", "h":
		return CommandResult{Output: renderHelp()}
	case "exit", "quit", "q":
		return CommandResult{IsQuit: true}
	case "new":
		s.current = ""
		return CommandResult{Output: r.RenderNotice("next message starts a new conversation")}
	case "list", "ls":
		return s.list(ctx, len(cmd.Args) > 0 && cmd.Args[0] == "more")
	case "open", "o":
		if len(cmd.Args) == 0 {
			return CommandResult{Output: "用法: /open <id>"}
		}
		conv, err := ResolveConversation(ctx, s.cfg.Conversations, cmd.Args[0])
		if err != nil {
			return CommandResult{Output: r.RenderError(err)}
		}
		s.current = conv.ID
		return CommandResult{Output: r.RenderConversation(conv)}
	case "show":
		if s.current == "" {
			return CommandResult{Output: "no open conversation"}
		}
		conv, err := s.cfg.Conversations.LoadConversation(ctx, s.current)
		if err != nil {
			return CommandResult{Output: r.RenderError(err)}
		}
		return CommandResult{Output: r.RenderConversation(conv)}
	case "search", "s":
		if len(cmd.Args) == 0 {
			return CommandResult{Output: "用法: /search <query>"}
		}
		hits, err := s.cfg.Conversations.SearchConversations(ctx, strings.Join(cmd.Args, " "))
		if err != nil {
			return CommandResult{Output: r.RenderError(err)}
		}
		return CommandResult{Output: r.RenderSearchHits(hits)}
	case "delete", "rm":
		if len(cmd.Args) == 0 {
			return CommandResult{Output: "用法: /delete <id>"}
		}
		conv, err := ResolveConversation(ctx, s.cfg.Conversations, cmd.Args[0])
		if err == nil {
			err = s.cfg.Conversations.DeleteConversation(ctx, conv.ID)
		}
		if err != nil {
			return CommandResult{Output: r.RenderError(err)}
		}
		if s.current == conv.ID {
			s.current = ""
		}
		return CommandResult{Output: r.RenderNotice("deleted " + conv.ID)}
	case "sync":
		user, _ := s.cfg.Session.CurrentUser()
		if _, err := s.cfg.Sync.SyncWithCloud(ctx, user, nil); err != nil {
			return CommandResult{Output: r.RenderError(err)}
		}
		return CommandResult{Output: r.RenderNotice("synced")}
	case "status":
		return CommandResult{Output: renderSyncStatus(s.cfg.Sync.State())}
	case "version":
		return CommandResult{Output: fmt.Sprintf("chatsync v%s", AppVersion)}
	default:
		return CommandResult{Output: fmt.Sprintf("未知命令: /%s  输入 /help 查看可用命令", cmd.Name)}
	}
}

func (s *Shell) append(ctx context.Context, text string) CommandResult {
	r := s.cfg.Renderer
	msg := &entity.Message{Role: entity.RoleUser, Content: valueobject.NewTextContent(text)}
	conv, err := s.cfg.Conversations.AppendMessage(ctx, usecase.AppendRequest{
		ConversationID: s.current,
		Message:        msg,
	})
	if err != nil {
		return CommandResult{Output: r.RenderError(err)}
	}
	if s.current == "" {
		s.current = conv.ID
		return CommandResult{Output: r.RenderNotice(fmt.Sprintf("started %q (%s)", conv.Title, conv.ID))}
	}
	return CommandResult{Output: dimStyle().Render(fmt.Sprintf("  saved · %d messages", len(conv.Messages)))}
}

// list shows the first page, or the next one with "/list more".
func (s *Shell) list(ctx context.Context, more bool) CommandResult {
	r := s.cfg.Renderer
	if !more {
		s.page = ""
	} else if s.page.IsZero() {
		return CommandResult{Output: "no more conversations"}
	}
	page, err := s.cfg.Conversations.LoadConversationsPaginated(ctx, s.cfg.PageSize, s.page)
	if err != nil {
		return CommandResult{Output: r.RenderError(err)}
	}
	out := r.RenderConversations(page.Items)
	if page.HasMore {
		s.page = page.Cursor
		out += "\n" + dimStyle().Render("  /list more 查看下一页")
	} else {
		s.page = ""
	}
	return CommandResult{Output: out}
}

// ResolveConversation finds a conversation by full id or unique id prefix.
func ResolveConversation(ctx context.Context, store *usecase.ConversationStore, ref string) (*entity.Conversation, error) {
	conv, err := store.LoadConversation(ctx, ref)
	if err == nil {
		return conv, nil
	}
	if !apperrors.IsNotFound(err) {
		return nil, err
	}
	all, err := store.LoadConversations(ctx, false)
	if err != nil {
		return nil, err
	}
	var matches []string
	for _, c := range all {
		if strings.HasPrefix(c.ID, ref) {
			matches = append(matches, c.ID)
		}
	}
	switch len(matches) {
	case 0:
		return nil, apperrors.NewNotFoundError("no conversation matches " + ref)
	case 1:
		return store.LoadConversation(ctx, matches[0])
	default:
		return nil, apperrors.NewInvalidInputError(fmt.Sprintf("%q matches %d conversations", ref, len(matches)))
	}
}

func renderHelp() string {
	titleStyle := lipgloss.NewStyle().Foreground(colorCyan).Bold(true)
	cmdStyle := lipgloss.NewStyle().Foreground(colorGreen)
	descStyle := lipgloss.NewStyle().Foreground(colorGray)

	cmds := []struct {
		name string
		desc string
	}{
		{"/help", "显示此帮助"},
		{"/list [more]", "会话列表 (分页)"},
		{"/open <id>", "打开会话 (支持 id 前缀)"},
		{"/show", "显示当前会话"},
		{"/new", "开始新会话"},
		{"/search <q>", "模糊搜索标题和内容"},
		{"/delete <id>", "删除会话"},
		{"/sync", "与云端同步"},
		{"/status", "同步状态"},
		{"/exit", "退出"},
	}

	var sb strings.Builder
	sb.WriteString(titleStyle.Render("◇ 可用命令"))
	sb.WriteString("\n\n")

	for _, c := range cmds {
		sb.WriteString(fmt.Sprintf("  %s  %s\n",
			cmdStyle.Render(fmt.Sprintf("%-16s", c.name)),
			descStyle.Render(c.desc),
		))
	}
	sb.WriteString("\n" + descStyle.Render("  其他输入作为用户消息追加到当前会话"))

	return sb.String()
}

func renderSyncStatus(snap service.SyncStateSnapshot) string {
	titleStyle := lipgloss.NewStyle().Foreground(colorCyan).Bold(true)
	labelStyle := lipgloss.NewStyle().Foreground(colorGray)
	valueStyle := lipgloss.NewStyle().Foreground(colorWhite)

	var sb strings.Builder
	sb.WriteString(titleStyle.Render("◇ 同步状态"))
	sb.WriteString("\n\n")
	row := func(label, value string) {
		sb.WriteString(fmt.Sprintf("  %s %s\n", labelStyle.Render(fmt.Sprintf("%-10s", label)), valueStyle.Render(value)))
	}
	row("状态:", string(snap.State))
	if snap.UserID != "" {
		row("用户:", snap.UserID)
	}
	row("运行:", strconv.Itoa(snap.Runs))
	row("失败:", strconv.Itoa(snap.Failures))
	if snap.LastError != "" {
		row("最近错误:", snap.LastError)
	}
	return sb.String()
}
