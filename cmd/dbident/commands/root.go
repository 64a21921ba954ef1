package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/identkit/dbident/internal/app"
	"github.com/identkit/dbident/internal/identity"
	"github.com/identkit/dbident/internal/observability"
)

// Execute runs the root command with the given context and arguments.
func Execute(ctx context.Context, args []string) error {
	cmd := &cli.Command{
		Name:  "dbident",
		Usage: "Database identity token helper",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to config file",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "log level (debug|info|warn|error)",
				Value: slog.LevelInfo.String(),
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "log format (text|json)",
				Value: string(app.DefaultConfigLogFormat),
			},
			&cli.StringFlag{
				Name:  "provider--client-id",
				Usage: "registered public client ID",
			},
			&cli.StringFlag{
				Name:  "provider--authority",
				Usage: "identity provider authority URL",
				Value: app.DefaultConfigAuthority,
			},
			&cli.StringFlag{
				Name:  "auth--method",
				Usage: "login method (authcode|devicecode)",
				Value: string(app.DefaultConfigAuthMethod),
			},
			&cli.StringFlag{
				Name:  "storage--secret-backend",
				Usage: "credential store backend (keyring|file)",
				Value: string(app.DefaultConfigSecretBackend),
			},
		},
		Commands: []*cli.Command{
			loginCommand(),
			tokenCommand(),
			accountsCommand(),
			logoutCommand(),
		},
	}

	return cmd.Run(ctx, args)
}

// withApp loads configuration, sets up logging, and runs fn against a wired
// App, closing it afterwards.
func withApp(ctx context.Context, cmd *cli.Command, fn func(context.Context, *app.App) error) error {
	cfg, err := loadConfig(cmd.String("config"), cmd, os.Environ)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := observability.Instrument(cfg.LogLevel, string(cfg.LogFormat)); err != nil {
		return fmt.Errorf("failed to set up observability layer: %w", err)
	}
	defer func() { _ = observability.Shutdown(ctx) }()

	application, err := app.New(cfg, newTerminalPrompter())
	if err != nil {
		return fmt.Errorf("failed to create app: %w", err)
	}
	defer func() { _ = application.Close(ctx) }()

	return fn(ctx, application)
}

func loginCommand() *cli.Command {
	return &cli.Command{
		Name:  "login",
		Usage: "sign in interactively and cache tokens",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "resource",
				Usage: "resource short name to request a token for",
			},
			&cli.StringFlag{
				Name:  "tenant",
				Usage: "tenant ID to sign in against",
			},
			&cli.BoolFlag{
				Name:  "show-token",
				Usage: "print the acquired access token",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withApp(ctx, cmd, func(ctx context.Context, application *app.App) error {
				controller, err := application.Controller()
				if err != nil {
					return err
				}

				profile := &identity.Profile{
					Resource: cmd.String("resource"),
					TenantID: cmd.String("tenant"),
				}
				if err := controller.GetTokens(ctx, profile); err != nil {
					return err
				}

				fmt.Printf("Signed in as %s\n", profile.Email)
				if cmd.Bool("show-token") {
					fmt.Println(profile.Token)
				}
				return nil
			})
		},
	}
}

func tokenCommand() *cli.Command {
	return &cli.Command{
		Name:    "token",
		Aliases: []string{"refresh"},
		Usage:   "print an access token for a signed-in account without interaction",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "account",
				Usage: "account key; may be omitted when exactly one account is signed in",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withApp(ctx, cmd, func(ctx context.Context, application *app.App) error {
				controller, err := application.Controller()
				if err != nil {
					return err
				}

				key := cmd.String("account")
				if key == "" {
					key, err = soleAccountKey(ctx, controller)
					if err != nil {
						return err
					}
				}

				token, err := controller.RefreshToken(ctx, key)
				if err != nil {
					return err
				}
				fmt.Println(token)
				return nil
			})
		},
	}
}

func accountsCommand() *cli.Command {
	return &cli.Command{
		Name:  "accounts",
		Usage: "list signed-in accounts",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withApp(ctx, cmd, func(ctx context.Context, application *app.App) error {
				controller, err := application.Controller()
				if err != nil {
					return err
				}

				accounts, err := controller.Accounts().List(ctx)
				if err != nil {
					return err
				}
				if len(accounts) == 0 {
					fmt.Println("No accounts signed in.")
					return nil
				}

				for _, account := range accounts {
					status := ""
					if account.IsStale {
						status = " (reauthentication required)"
					}
					fmt.Printf("%s\t%s\t%s%s\n", account.Key, account.AuthType, account.DisplayInfo.Email, status)
				}
				return nil
			})
		},
	}
}

func logoutCommand() *cli.Command {
	return &cli.Command{
		Name:  "logout",
		Usage: "evict cached tokens for an account",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "account",
				Usage: "account key; may be omitted when exactly one account is signed in",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withApp(ctx, cmd, func(ctx context.Context, application *app.App) error {
				controller, err := application.Controller()
				if err != nil {
					return err
				}

				key := cmd.String("account")
				if key == "" {
					key, err = soleAccountKey(ctx, controller)
					if err != nil {
						return err
					}
				}

				if err := controller.Logout(ctx, key); err != nil {
					return err
				}
				fmt.Printf("Signed out %s\n", key)
				return nil
			})
		},
	}
}

// soleAccountKey resolves the implicit account for commands invoked without
// --account.
func soleAccountKey(ctx context.Context, controller *identity.Controller) (string, error) {
	accounts, err := controller.Accounts().List(ctx)
	if err != nil {
		return "", err
	}
	switch len(accounts) {
	case 0:
		return "", fmt.Errorf("no accounts signed in; run `dbident login` first")
	case 1:
		return accounts[0].Key, nil
	default:
		return "", fmt.Errorf("multiple accounts signed in; pass --account")
	}
}
