package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ngoclaw/chatsync/internal/application"
	"github.com/ngoclaw/chatsync/internal/infrastructure/config"
	"github.com/ngoclaw/chatsync/internal/infrastructure/logger"
	"github.com/ngoclaw/chatsync/internal/interfaces/cli"
	"github.com/ngoclaw/chatsync/internal/interfaces/tui"
	apperrors "github.com/ngoclaw/chatsync/pkg/errors"
)

// ─── Document Server Mode ───

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "启动文档服务 (REST + 变更推送 + 附件)",
		Long:  "在 server.host:server.port 上提供 remote.driver 指定的文档存储, 供 http 驱动的客户端使用",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log, err := logger.NewLogger(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		OutputPath: cfg.Log.Output,
	})
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer log.Sync()

	log.Info("Starting chatsync document server", zap.String("version", cli.AppVersion))
	if err := config.Bootstrap("", cfg, log); err != nil {
		log.Warn("Bootstrap failed", zap.Error(err))
	}

	ctx := cmd.Context()
	server, err := application.NewDocServer(ctx, cfg, log)
	if err != nil {
		return err
	}
	if err := server.Start(ctx); err != nil {
		server.Close()
		return err
	}

	// Wait for shutdown signal
	<-ctx.Done()
	log.Info("Received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Stop(shutdownCtx); err != nil {
		log.Error("Error during shutdown", zap.Error(err))
		return err
	}
	log.Info("Document server stopped")
	return nil
}

// ─── Browser ───

func newBrowseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "browse",
		Short: "全屏会话浏览器",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, cleanup, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			app.WatchLocal(ctx)
			r := cli.NewRenderer(cli.TermWidth())
			return tui.Run(ctx, app.Conversations(), app.Notifier(), tui.Config{
				PageSize: app.Config().Sync.PageSize,
				Render:   r.RenderConversation,
			}, app.Logger())
		},
	}
}

// ─── Doctor ───

type doctorCheck struct {
	name  string
	check func() (string, bool)
}

func runDoctor(cmd *cobra.Command, args []string) error {
	fmt.Printf("◇ chatsync doctor v%s\n\n", cli.AppVersion)

	cfg, cfgErr := loadConfig(cmd)
	checks := []doctorCheck{
		{"配置文件", checkConfigFile},
		{"配置校验", func() (string, bool) {
			if cfgErr != nil {
				return cfgErr.Error(), false
			}
			return "OK", true
		}},
	}
	if cfgErr == nil {
		checks = append(checks,
			doctorCheck{"本地存储", func() (string, bool) { return checkLocal(cfg) }},
			doctorCheck{"远端存储", func() (string, bool) { return checkRemote(cmd.Context(), cfg) }},
		)
	}

	allOK := true
	for _, c := range checks {
		val, ok := c.check()
		icon := "\033[92m✓\033[0m"
		if !ok {
			icon = "\033[91m✗\033[0m"
			allOK = false
		}
		fmt.Printf("  %s %s: %s\n", icon, c.name, val)
	}

	fmt.Println()
	if allOK {
		fmt.Println("所有检查通过 ✓")
	} else {
		fmt.Println("存在问题, 请检查上方标记")
	}
	return nil
}

func checkConfigFile() (string, bool) {
	path := filepath.Join(config.HomeDir(), "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return path, true
	}
	return "未找到 " + path + " (首次运行任意命令会自动生成)", false
}

func checkLocal(cfg *config.Config) (string, bool) {
	switch cfg.Local.Driver {
	case "memory":
		return "memory (不持久化)", true
	case "sqlite":
		dir := filepath.Dir(cfg.Local.Path)
		if _, err := os.Stat(dir); err != nil {
			return "目录不存在: " + dir, false
		}
		return "sqlite " + cfg.Local.Path, true
	default:
		if _, err := os.Stat(cfg.Local.Path); err != nil {
			return "目录不存在: " + cfg.Local.Path, false
		}
		return "file " + cfg.Local.Path, true
	}
}

// checkRemote reads one document. A missing document or a namespace
// refusal both prove the store answered.
func checkRemote(ctx context.Context, cfg *config.Config) (string, bool) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	store, err := application.OpenDocumentStore(ctx, cfg.Remote, nil, zap.NewNop())
	if err != nil {
		return fmt.Sprintf("%s: %v", cfg.Remote.Driver, err), false
	}
	defer store.Close()

	_, err = store.Get(ctx, "health/ping")
	switch {
	case err == nil, apperrors.IsNotFound(err), apperrors.IsUnauthorized(err):
		return fmt.Sprintf("%s (max batch %d)", cfg.Remote.Driver, store.MaxBatchSize()), true
	default:
		return fmt.Sprintf("%s: %v", cfg.Remote.Driver, err), false
	}
}
