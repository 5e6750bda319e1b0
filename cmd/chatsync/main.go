package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ngoclaw/chatsync/internal/application"
	"github.com/ngoclaw/chatsync/internal/infrastructure/config"
	"github.com/ngoclaw/chatsync/internal/infrastructure/logger"
	"github.com/ngoclaw/chatsync/internal/interfaces/cli"
)

const cliName = config.AppName

func main() {
	rootCmd := &cobra.Command{
		Use:           cliName,
		Short:         "chatsync: local-first chat history and model config sync",
		Long:          "chatsync: 会话与模型配置同步: 本地缓存 + 远端文档存储, 登录时自动合并",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runShell,
	}

	rootCmd.PersistentFlags().String("config", "", "配置文件路径 (默认 ~/.chatsync/config.yaml)")
	rootCmd.PersistentFlags().Bool("offline", false, "不连接远端存储")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "按配置输出日志")

	// --- Subcommands ---

	rootCmd.AddCommand(
		newLoginCmd(),
		newLogoutCmd(),
		newSyncCmd(),
		newConversationsCmd(),
		newProvidersCmd(),
		newModelsCmd(),
		newStatsCmd(),
		newStatusCmd(),
		newBrowseCmd(),
		newWatchCmd(),
		newServeCmd(),
		&cobra.Command{
			Use:   "shell",
			Short: "交互式 shell (默认命令)",
			RunE:  runShell,
		},
		&cobra.Command{
			Use:   "doctor",
			Short: "环境诊断",
			RunE:  runDoctor,
		},
		&cobra.Command{
			Use:   "version",
			Short: "显示版本",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Printf("%s v%s\n", cliName, cli.AppVersion)
			},
		},
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, cli.NewRenderer(cli.TermWidth()).RenderError(err))
		stop()
		os.Exit(1)
	}
}

// ─── Shared setup ───

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	var (
		cfg *config.Config
		err error
	)
	if path != "" {
		cfg, err = config.LoadFile(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// newLogger keeps the CLI quiet unless --verbose asks for the configured log.
func newLogger(cmd *cobra.Command, cfg *config.Config) (*zap.Logger, error) {
	lc := logger.Config{Level: "error", Format: "console", OutputPath: "stderr"}
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		lc = logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, OutputPath: cfg.Log.Output}
	}
	log, err := logger.NewLogger(lc)
	if err != nil {
		return nil, fmt.Errorf("logger init: %w", err)
	}
	return log, nil
}

// openApp loads configuration and builds the application container. The
// returned cleanup closes it and flushes the logger.
func openApp(cmd *cobra.Command) (*application.App, func(), error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	log, err := newLogger(cmd, cfg)
	if err != nil {
		return nil, nil, err
	}
	if err := config.Bootstrap("", cfg, log); err != nil {
		log.Warn("Bootstrap failed", zap.Error(err))
	}

	offline, _ := cmd.Flags().GetBool("offline")
	app, err := application.NewApp(cmd.Context(), cfg, log, application.Options{Offline: offline})
	if err != nil {
		_ = log.Sync()
		return nil, nil, fmt.Errorf("初始化失败: %w", err)
	}
	return app, func() {
		app.Close()
		_ = log.Sync()
	}, nil
}

func renderer() *cli.Renderer {
	return cli.NewRenderer(cli.TermWidth())
}

// bannerInfo collects the session facts shown by the shell and `status`.
func bannerInfo(ctx context.Context, app *application.App) cli.BannerInfo {
	cfg := app.Config()
	user, signedIn := app.Session().CurrentUser()
	info := cli.BannerInfo{
		User:        user.ID(),
		SignedIn:    signedIn,
		LocalDriver: cfg.Local.Driver,
		SyncState:   string(app.Sync().State().State),
	}
	if info.User == "" {
		info.User = "guest"
	}
	if app.Remote() != nil {
		info.RemoteDriver = cfg.Remote.Driver
	}
	if convs, err := app.Conversations().LoadConversations(ctx, false); err == nil {
		info.Conversations = len(convs)
	}
	if meta, ok := app.LocalConfig().LoadSyncMetadata(); ok && !meta.LastSync.IsZero() {
		info.LastSync = meta.LastSync.Local().Format("2006-01-02 15:04")
	}
	return info
}

// ─── Shell (default) ───

func runShell(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	app, cleanup, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	app.WatchLocal(ctx)
	sh := cli.NewShell(cli.ShellConfig{
		Conversations: app.Conversations(),
		Sync:          app.Sync(),
		Session:       app.Session(),
		Renderer:      renderer(),
		PageSize:      app.Config().Sync.PageSize,
	})
	return cli.RunShell(ctx, sh, cli.REPLConfig{
		Banner:      bannerInfo(ctx, app),
		HistoryFile: filepath.Join(config.HomeDir(), "history"),
		Notifier:    app.Notifier(),
	})
}

// ─── Status ───

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "当前用户、存储与同步状态",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, cleanup, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer cleanup()
			fmt.Println(cli.RenderBanner(bannerInfo(cmd.Context(), app), cli.TermWidth()))
			return nil
		},
	}
}
