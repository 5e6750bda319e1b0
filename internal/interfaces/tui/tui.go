package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"github.com/ngoclaw/chatsync/internal/application/usecase"
	"github.com/ngoclaw/chatsync/internal/domain/entity"
	"github.com/ngoclaw/chatsync/internal/domain/valueobject"
)

// Loader is the slice of the conversation store the browser reads.
type Loader interface {
	LoadConversationsPaginated(ctx context.Context, pageSize int, cursor valueobject.PageCursor) (valueobject.Page[*entity.Conversation], error)
	LoadConversation(ctx context.Context, conversationID string) (*entity.Conversation, error)
	DeleteConversation(ctx context.Context, conversationID string) error
}

// Config holds browser configuration
type Config struct {
	PageSize int
	// Render formats an opened conversation; defaults to plain text.
	Render func(*entity.Conversation) string
}

type mode int

const (
	modeList mode = iota
	modeDetail
)

// ─── Messages ───

type pageLoadedMsg struct {
	page  valueobject.Page[*entity.Conversation]
	reset bool
	err   error
}

type conversationLoadedMsg struct {
	conv *entity.Conversation
	err  error
}

type deletedMsg struct {
	id  string
	err error
}

// ReloadMsg asks the browser to reload from the first page.
type ReloadMsg struct{}

// ─── Keys ───

type keyMap struct {
	Open   key.Binding
	Back   key.Binding
	Delete key.Binding
	Reload key.Binding
	Quit   key.Binding
}

var keys = keyMap{
	Open:   key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "open")),
	Back:   key.NewBinding(key.WithKeys("esc", "backspace"), key.WithHelp("esc", "back")),
	Delete: key.NewBinding(key.WithKeys("d"), key.WithHelp("d", "delete")),
	Reload: key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "reload")),
	Quit:   key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
}

// conversationItem implements list.DefaultItem
type conversationItem struct {
	conv *entity.Conversation
}

func (i conversationItem) FilterValue() string { return i.conv.Title }
func (i conversationItem) Title() string       { return i.conv.Title }
func (i conversationItem) Description() string {
	return fmt.Sprintf("%d messages • %s • %s",
		len(i.conv.Messages), i.conv.Source, i.conv.UpdatedAt.Local().Format("Jan 2, 15:04"))
}

// Model is a paginated conversation browser. The next page is fetched when
// the selection reaches the last loaded item.
type Model struct {
	ctx    context.Context
	loader Loader
	cfg    Config

	list     list.Model
	viewport viewport.Model
	mode     mode

	cursor  valueobject.PageCursor
	hasMore bool
	loading bool
	status  string
	err     error

	width  int
	height int
}

// New 创建会话浏览器
func New(ctx context.Context, loader Loader, cfg Config) *Model {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 20
	}
	if cfg.Render == nil {
		cfg.Render = plainConversation
	}

	l := list.New([]list.Item{}, list.NewDefaultDelegate(), 0, 0)
	l.Title = "Conversations"
	l.SetShowStatusBar(true)
	l.SetFilteringEnabled(true)
	l.KeyMap.Quit.SetEnabled(false)
	l.AdditionalShortHelpKeys = func() []key.Binding {
		return []key.Binding{keys.Open, keys.Delete, keys.Reload}
	}
	l.Styles.Title = lipgloss.NewStyle().Foreground(lipgloss.Color("#00D7FF")).Bold(true)

	return &Model{
		ctx:      ctx,
		loader:   loader,
		cfg:      cfg,
		list:     l,
		viewport: viewport.New(0, 0),
	}
}

func (m *Model) Init() tea.Cmd {
	m.loading = true
	return m.fetchPage("", true)
}

func (m *Model) fetchPage(cursor valueobject.PageCursor, reset bool) tea.Cmd {
	ctx, loader, size := m.ctx, m.loader, m.cfg.PageSize
	return func() tea.Msg {
		page, err := loader.LoadConversationsPaginated(ctx, size, cursor)
		return pageLoadedMsg{page: page, reset: reset, err: err}
	}
}

func (m *Model) fetchConversation(id string) tea.Cmd {
	ctx, loader := m.ctx, m.loader
	return func() tea.Msg {
		conv, err := loader.LoadConversation(ctx, id)
		return conversationLoadedMsg{conv: conv, err: err}
	}
}

func (m *Model) deleteConversation(id string) tea.Cmd {
	ctx, loader := m.ctx, m.loader
	return func() tea.Msg {
		return deletedMsg{id: id, err: loader.DeleteConversation(ctx, id)}
	}
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.list.SetSize(msg.Width, msg.Height-1)
		m.viewport.Width = msg.Width
		m.viewport.Height = msg.Height - 2
		return m, nil

	case pageLoadedMsg:
		m.loading = false
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.err = nil
		items := make([]list.Item, 0, len(m.list.Items())+len(msg.page.Items))
		if !msg.reset {
			items = append(items, m.list.Items()...)
		}
		for _, c := range msg.page.Items {
			items = append(items, conversationItem{conv: c})
		}
		m.hasMore = msg.page.HasMore
		m.cursor = msg.page.Cursor
		return m, m.list.SetItems(items)

	case conversationLoadedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.err = nil
		m.mode = modeDetail
		m.viewport.SetContent(m.cfg.Render(msg.conv))
		m.viewport.GotoTop()
		return m, nil

	case deletedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.status = "deleted " + msg.id
		for i, it := range m.list.Items() {
			if ci, ok := it.(conversationItem); ok && ci.conv.ID == msg.id {
				m.list.RemoveItem(i)
				break
			}
		}
		return m, nil

	case ReloadMsg:
		if m.loading {
			return m, nil
		}
		m.loading = true
		return m, m.fetchPage("", true)

	case tea.KeyMsg:
		if m.mode == modeDetail {
			switch {
			case key.Matches(msg, keys.Back):
				m.mode = modeList
				return m, nil
			case key.Matches(msg, keys.Quit):
				return m, tea.Quit
			}
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}

		if m.list.FilterState() != list.Filtering {
			switch {
			case key.Matches(msg, keys.Quit):
				return m, tea.Quit
			case key.Matches(msg, keys.Open):
				if it, ok := m.list.SelectedItem().(conversationItem); ok {
					return m, m.fetchConversation(it.conv.ID)
				}
				return m, nil
			case key.Matches(msg, keys.Delete):
				if it, ok := m.list.SelectedItem().(conversationItem); ok {
					return m, m.deleteConversation(it.conv.ID)
				}
				return m, nil
			case key.Matches(msg, keys.Reload):
				return m.Update(ReloadMsg{})
			}
		}
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	cmds = append(cmds, cmd)
	if more := m.maybeLoadMore(); more != nil {
		cmds = append(cmds, more)
	}
	return m, tea.Batch(cmds...)
}

// maybeLoadMore fetches the next page once the selection sits on the last
// loaded item. Filtering only sees loaded items, so it does not page.
func (m *Model) maybeLoadMore() tea.Cmd {
	if !m.hasMore || m.loading || m.list.FilterState() != list.Unfiltered {
		return nil
	}
	n := len(m.list.Items())
	if n > 0 && m.list.Index() < n-1 {
		return nil
	}
	m.loading = true
	return m.fetchPage(m.cursor, false)
}

func (m *Model) View() string {
	if m.mode == modeDetail {
		footer := lipgloss.NewStyle().Foreground(lipgloss.Color("#6C6C6C")).
			Render(fmt.Sprintf(" %3.f%% · esc 返回 · q 退出", m.viewport.ScrollPercent()*100))
		return m.viewport.View() + "\n" + footer
	}

	line := ""
	switch {
	case m.err != nil:
		line = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5F5F")).Render("✗ " + m.err.Error())
	case m.loading:
		line = "loading…"
	case m.status != "":
		line = m.status
	case m.hasMore:
		line = "↓ more below"
	}
	return m.list.View() + "\n" + lipgloss.NewStyle().Foreground(lipgloss.Color("#6C6C6C")).Render(line)
}

// Run starts the browser full-screen until the user quits. Conversation
// changes published on notifier reload the list.
func Run(ctx context.Context, loader Loader, notifier *usecase.Notifier, cfg Config, logger *zap.Logger) error {
	p := tea.NewProgram(New(ctx, loader, cfg), tea.WithAltScreen(), tea.WithContext(ctx))
	if notifier != nil {
		unsub := notifier.Conversations.Subscribe(func(ev usecase.ConversationsChanged) {
			p.Send(ReloadMsg{})
		})
		defer unsub()
	}
	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		logger.Error("Browser exited with error", zap.Error(err))
		return fmt.Errorf("run browser: %w", err)
	}
	return nil
}

func plainConversation(conv *entity.Conversation) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s\n\n", conv.Title)
	for _, msg := range conv.Messages {
		fmt.Fprintf(&sb, "[%s] %s\n\n", msg.Role, msg.Content.Text())
	}
	return sb.String()
}
