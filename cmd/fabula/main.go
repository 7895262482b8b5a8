package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/fabulabot/fabula/config"
	srv "github.com/fabulabot/fabula/internal/server"
	"github.com/fabulabot/fabula/internal/store"
)

func main() {
	var cfgPath string
	var root = &cobra.Command{Use: "fabula"}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file")

	var serve = &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return srv.Run(config.LoadConfig(cfgPath))
		},
	}

	var migDir string
	var direction string
	var steps int
	var migrate = &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			return srv.Migrate(migDir, cfg.Storage.Postgres.DSN(), direction, steps)
		},
	}
	migrate.Flags().StringVar(&migDir, "dir", "file://migrations", "migrations source (file://migrations)")
	migrate.Flags().StringVar(&direction, "direction", "up", "up or down")
	migrate.Flags().IntVar(&steps, "steps", 0, "number of steps (0 = all)")

	var webhook = &cobra.Command{
		Use:   "webhook",
		Short: "Manage the Telegram webhook registration",
	}
	var webhookSet = &cobra.Command{
		Use:   "set",
		Short: "Register the webhook URL with Telegram",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			if cfg.Server.PublicBaseURL == "" || cfg.Server.WebhookPathSecret == "" {
				return fmt.Errorf("server.public_base_url and server.webhook_path_secret are required")
			}
			url := cfg.Server.PublicBaseURL + "/telegram/" + cfg.Server.WebhookPathSecret
			tg := srv.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.APIBaseURL)
			if err := tg.SetWebhook(context.Background(), url, cfg.Telegram.SecretToken); err != nil {
				return err
			}
			fmt.Printf("webhook set to %s\n", url)
			return nil
		},
	}
	var webhookDelete = &cobra.Command{
		Use:   "delete",
		Short: "Remove the webhook registration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			tg := srv.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.APIBaseURL)
			if err := tg.DeleteWebhook(context.Background()); err != nil {
				return err
			}
			fmt.Println("webhook deleted")
			return nil
		},
	}
	var webhookInfo = &cobra.Command{
		Use:   "info",
		Short: "Show the current webhook registration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			tg := srv.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.APIBaseURL)
			info, err := tg.GetWebhookInfo(context.Background())
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(info, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
	webhook.AddCommand(webhookSet, webhookDelete, webhookInfo)

	var admin = &cobra.Command{
		Use:   "admin",
		Short: "Player administration",
	}
	setBanned := func(arg string, banned bool) error {
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid player id %q", arg)
		}
		cfg := config.LoadConfig(cfgPath)
		ctx := context.Background()
		st, err := store.New(ctx, cfg.Storage.Postgres)
		if err != nil {
			return err
		}
		defer st.DB.Close()
		return st.SetBanned(ctx, id, banned)
	}
	var adminBan = &cobra.Command{
		Use:   "ban <player_id>",
		Short: "Ban a player from the bot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := setBanned(args[0], true); err != nil {
				return err
			}
			fmt.Printf("banned %s\n", args[0])
			return nil
		},
	}
	var adminUnban = &cobra.Command{
		Use:   "unban <player_id>",
		Short: "Lift a player's ban",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := setBanned(args[0], false); err != nil {
				return err
			}
			fmt.Printf("unbanned %s\n", args[0])
			return nil
		},
	}
	admin.AddCommand(adminBan, adminUnban)

	root.AddCommand(serve, migrate, webhook, admin)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
