package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ngoclaw/chatsync/internal/application"
	"github.com/ngoclaw/chatsync/internal/application/usecase"
	"github.com/ngoclaw/chatsync/internal/infrastructure/docstore"
	"github.com/ngoclaw/chatsync/internal/interfaces/cli"
	apperrors "github.com/ngoclaw/chatsync/pkg/errors"
)

// printSyncProgress prints every sync lifecycle step until the returned
// function is called.
func printSyncProgress(app *application.App, r *cli.Renderer) func() {
	return app.Notifier().Sync.Subscribe(func(ev usecase.SyncEvent) {
		if line := r.RenderSyncEvent(ev); line != "" {
			fmt.Println(line)
		}
	})
}

func newLoginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login <user-id>",
		Short: "登录并同步 (迁移匿名期间的本地会话)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, cleanup, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			r := renderer()
			defer printSyncProgress(app, r)()

			name, _ := cmd.Flags().GetString("name")
			user, err := app.Login(cmd.Context(), args[0], name, nil)
			if err != nil {
				return err
			}
			fmt.Println(r.RenderNotice("signed in as " + user.Username()))
			return nil
		},
	}
	cmd.Flags().String("name", "", "显示名称 (默认同 user-id)")
	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "退出登录",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, cleanup, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := app.Logout(cmd.Context()); err != nil {
				return err
			}
			fmt.Println(renderer().RenderNotice("signed out"))
			return nil
		},
	}
}

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "与云端合并供应商和模型配置",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, cleanup, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			r := renderer()
			defer printSyncProgress(app, r)()

			snap, err := app.Sync().SyncWithCloud(cmd.Context(), app.CurrentUser(), nil)
			if err != nil {
				return err
			}
			fmt.Println(r.RenderModels(snap))
			return nil
		},
	}
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "会话与消息计数 (需登录)",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, cleanup, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			user, ok := app.Session().CurrentUser()
			if !ok {
				return apperrors.NewUnauthorizedError("stats are kept remotely; sign in first")
			}
			if app.Remote() == nil {
				return apperrors.NewUnavailableError("no remote store configured", nil)
			}
			stats, err := app.Remote().GetUserChatStats(cmd.Context(), user.ID())
			if err != nil {
				return err
			}
			fmt.Println(renderer().RenderStats(stats))
			return nil
		},
	}
}

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "实时显示其他会话或设备的改动",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, cleanup, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			r := renderer()
			app.WatchLocal(ctx)
			unsub := app.Notifier().Conversations.Subscribe(func(ev usecase.ConversationsChanged) {
				if ev.External {
					fmt.Println(r.RenderNotice(fmt.Sprintf("%s %s", ev.Kind, ev.ConversationID)))
				}
			})
			defer unsub()

			err = app.WatchRemote(ctx, func(ch docstore.Change) {
				verb := "set"
				if ch.Deleted {
					verb = "deleted"
				}
				fmt.Printf("%s  %-7s %s\n", ch.At.Local().Format("15:04:05"), verb, ch.Path)
			})
			if apperrors.IsUnavailable(err) || apperrors.IsUnauthorized(err) {
				// 无远端推送时只监听本地
				fmt.Println(r.RenderNotice("watching local changes only: " + err.Error()))
				<-ctx.Done()
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			return err
		},
	}
}
