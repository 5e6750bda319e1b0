package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ngoclaw/chatsync/internal/domain/valueobject"
	"github.com/ngoclaw/chatsync/internal/interfaces/cli"
)

func newConversationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"conv", "c"},
		Short:   "会话管理",
	}
	cmd.AddCommand(
		newConversationsListCmd(),
		newConversationsShowCmd(),
		newConversationsDeleteCmd(),
		newConversationsSearchCmd(),
		newConversationsExportCmd(),
	)
	return cmd
}

func newConversationsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "按更新时间倒序列出会话",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, cleanup, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			size, _ := cmd.Flags().GetInt("page-size")
			if size <= 0 {
				size = app.Config().Sync.PageSize
			}
			cursor, _ := cmd.Flags().GetString("cursor")
			page, err := app.Conversations().LoadConversationsPaginated(cmd.Context(), size, valueobject.PageCursor(cursor))
			if err != nil {
				return err
			}
			fmt.Println(renderer().RenderConversations(page.Items))
			if page.HasMore {
				fmt.Printf("\nnext page: %s conversations list --cursor %s\n", cliName, page.Cursor)
			}
			return nil
		},
	}
	cmd.Flags().Int("page-size", 0, "每页条数 (默认 sync.page_size)")
	cmd.Flags().String("cursor", "", "上一页返回的游标")
	return cmd
}

func newConversationsShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "显示会话 (支持 id 前缀)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, cleanup, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			conv, err := cli.ResolveConversation(ctx, app.Conversations(), args[0])
			if err != nil {
				return err
			}
			if tail, _ := cmd.Flags().GetInt("tail"); tail > 0 {
				page, err := app.Conversations().LoadRecentMessages(ctx, conv.ID, tail, "")
				if err != nil {
					return err
				}
				conv.Messages = page.Items
			}
			if err := app.Conversations().RefreshAttachmentURLs(ctx, conv); err != nil {
				app.Logger().Debug("Attachment URLs not refreshed", zap.Error(err))
			}
			fmt.Println(renderer().RenderConversation(conv))
			return nil
		},
	}
	cmd.Flags().Int("tail", 0, "只显示最近 N 条消息")
	return cmd
}

func newConversationsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>...",
		Short: "删除会话及其消息",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, cleanup, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			r := renderer()
			for _, ref := range args {
				conv, err := cli.ResolveConversation(ctx, app.Conversations(), ref)
				if err != nil {
					return err
				}
				if err := app.Conversations().DeleteConversation(ctx, conv.ID); err != nil {
					return err
				}
				fmt.Println(r.RenderNotice("deleted " + conv.ID))
			}
			return nil
		},
	}
}

func newConversationsSearchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search <query>",
		Short: "模糊搜索会话标题和消息",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, cleanup, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			hits, err := app.Conversations().SearchConversations(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Println(renderer().RenderSearchHits(hits))
			return nil
		},
	}
}

func newConversationsExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export [id]...",
		Short: "导出会话 (json | yaml | markdown)，不指定 id 时导出全部",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, cleanup, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			ids := make([]string, 0, len(args))
			for _, ref := range args {
				conv, err := cli.ResolveConversation(ctx, app.Conversations(), ref)
				if err != nil {
					return err
				}
				ids = append(ids, conv.ID)
			}

			var w io.Writer = os.Stdout
			if out, _ := cmd.Flags().GetString("output"); out != "" && out != "-" {
				f, err := os.Create(out)
				if err != nil {
					return fmt.Errorf("create %s: %w", out, err)
				}
				defer f.Close()
				w = f
			}
			format, _ := cmd.Flags().GetString("format")
			return app.Conversations().Export(ctx, w, format, ids...)
		},
	}
	cmd.Flags().StringP("format", "f", "json", "导出格式: json, yaml, markdown")
	cmd.Flags().StringP("output", "o", "-", "输出文件 (默认标准输出)")
	return cmd
}
