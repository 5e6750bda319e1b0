package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/chzyer/readline"
	"golang.org/x/term"

	"github.com/ngoclaw/chatsync/internal/application/usecase"
)

// ─── ANSI Helpers ───

const (
	reset    = "\033[0m"
	cyanBold = "\033[96m\033[1m"
	yellow   = "\033[93m"
	dimText  = "\033[90m"
	clearLn  = "\033[2K\r"
)

// Braille spinner frames
var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// REPLConfig holds shell runtime config
type REPLConfig struct {
	Banner      BannerInfo
	HistoryFile string
	// Notifier drives the sync spinner and external-change notices; may be nil.
	Notifier *usecase.Notifier
}

// RunShell starts the interactive loop and returns on Ctrl+D, /exit or ctx end.
func RunShell(ctx context.Context, sh *Shell, cfg REPLConfig) error {
	fmt.Println(RenderBanner(cfg.Banner, termWidth()))

	// Readline for proper line editing (backspace, arrows, history)
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          prompt(sh),
		HistoryFile:     cfg.HistoryFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("readline init: %w", err)
	}
	defer rl.Close()

	go func() {
		<-ctx.Done()
		rl.Close()
	}()

	spinner := newSpinner()
	defer spinner.Stop()
	if cfg.Notifier != nil {
		unsubSync := cfg.Notifier.Sync.Subscribe(func(ev usecase.SyncEvent) {
			switch ev.Kind {
			case usecase.SyncStarted:
				spinner.Update("syncing...")
			case usecase.SyncTransition:
				spinner.Update(strings.ToLower(string(ev.To)))
			default:
				spinner.Stop()
			}
		})
		defer unsubSync()

		unsubConvs := cfg.Notifier.Conversations.Subscribe(func(ev usecase.ConversationsChanged) {
			if ev.External {
				fmt.Fprintf(rl.Stderr(), "%s↻ conversations changed in another session%s\n", yellow, reset)
			}
		})
		defer unsubConvs()
	}

	for {
		input, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				fmt.Printf("%s👋 再见%s\n", dimText, reset)
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("readline: %w", err)
		}

		result := sh.Execute(ctx, input)
		spinner.Stop()
		if result.IsQuit {
			fmt.Printf("%s👋 再见%s\n", dimText, reset)
			return nil
		}
		if result.Output != "" {
			fmt.Println(result.Output)
		}
		rl.SetPrompt(prompt(sh))
	}
}

func prompt(sh *Shell) string {
	return "\001" + cyanBold + "\002" + sh.Prompt() + "\001" + reset + "\002"
}

// ─── Braille Spinner ───

type asyncSpinner struct {
	mu      sync.Mutex
	running bool
	msg     string
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func newSpinner() *asyncSpinner {
	return &asyncSpinner{}
}

func (s *asyncSpinner) Update(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.msg = msg
	if !s.running {
		s.running = true
		s.stopCh = make(chan struct{})
		s.doneCh = make(chan struct{})
		go s.run()
	}
}

func (s *asyncSpinner) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	doneCh := s.doneCh
	s.mu.Unlock()

	<-doneCh
	fmt.Print(clearLn) // Clear spinner line
}

func (s *asyncSpinner) run() {
	defer close(s.doneCh)

	frame := 0
	ticker := time.NewTicker(80 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.mu.Lock()
			msg := s.msg
			s.mu.Unlock()

			f := spinnerFrames[frame%len(spinnerFrames)]
			fmt.Printf("%s%s%s %s%s%s", clearLn, cyanBold, f, dimText, msg, reset)
			frame++
		}
	}
}

// ─── Helpers ───

// TermWidth returns the stdout width, 80 when it is not a terminal.
func TermWidth() int { return termWidth() }

func termWidth() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 {
		return 80
	}
	return w
}
