package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ngoclaw/chatsync/internal/domain/entity"
	apperrors "github.com/ngoclaw/chatsync/pkg/errors"
)

// ─── Providers ───

func newProvidersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "providers",
		Short: "自定义 API 供应商 (BYOK)",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "列出供应商 (密钥打码)",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, cleanup, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			providers, err := app.Sync().LoadProviders(cmd.Context(), app.CurrentUser())
			if err != nil {
				return err
			}
			fmt.Println(renderer().RenderProviders(providers))
			return nil
		},
	})

	add := &cobra.Command{
		Use:   "add <id>",
		Short: "添加或更新供应商",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, cleanup, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			p := entity.Provider{ID: args[0]}
			p.Label, _ = cmd.Flags().GetString("label")
			p.BaseURL, _ = cmd.Flags().GetString("base-url")
			p.APIKey, _ = cmd.Flags().GetString("api-key")
			p.Disabled, _ = cmd.Flags().GetBool("disabled")
			if p.Label == "" {
				p.Label = p.ID
			}
			if err := p.Validate(); err != nil {
				return apperrors.Wrap(apperrors.CodeInvalidInput, "invalid provider", err)
			}

			user := app.CurrentUser()
			providers, err := app.Sync().LoadProviders(ctx, user)
			if err != nil {
				return err
			}
			replaced := false
			for i := range providers {
				if providers[i].ID == p.ID {
					providers[i] = p
					replaced = true
				}
			}
			if !replaced {
				providers = append(providers, p)
			}
			if err := app.Sync().SaveProviders(ctx, user, providers); err != nil {
				return err
			}
			fmt.Println(renderer().RenderNotice("saved provider " + p.ID))
			return nil
		},
	}
	add.Flags().String("label", "", "显示名称")
	add.Flags().String("base-url", "", "OpenAI 兼容的 API 地址")
	add.Flags().String("api-key", "", "API 密钥")
	add.Flags().Bool("disabled", false, "保存但不启用")
	cmd.AddCommand(add)

	cmd.AddCommand(&cobra.Command{
		Use:   "remove <id>",
		Short: "删除供应商",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, cleanup, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := app.Sync().RemoveProvider(cmd.Context(), app.CurrentUser(), args[0]); err != nil {
				return err
			}
			fmt.Println(renderer().RenderNotice("removed provider " + args[0]))
			return nil
		},
	})
	return cmd
}

// ─── Models ───

func newModelsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "模型列表与启用选择",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "按 bucket 列出模型, ★ 为已启用",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, cleanup, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			snap, err := app.Sync().LoadAllData(cmd.Context(), app.CurrentUser())
			if err != nil {
				return err
			}
			fmt.Println(renderer().RenderModels(snap))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "select <model-id>...",
		Short: "设置启用的模型 (匿名时仅当前进程有效)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, cleanup, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			user := app.CurrentUser()
			if err := app.Sync().SaveSelectedModels(cmd.Context(), user, args); err != nil {
				return err
			}
			msg := fmt.Sprintf("selected %d models", len(args))
			if user.IsAnonymous() {
				msg += " (anonymous: not persisted)"
			}
			fmt.Println(renderer().RenderNotice(msg))
			return nil
		},
	})
	return cmd
}
