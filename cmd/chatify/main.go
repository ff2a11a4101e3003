// Chatify - terminal chat client
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ashureev/chatify/internal/app"
	"github.com/ashureev/chatify/internal/domain"
	"github.com/ashureev/chatify/internal/tui"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "chatify"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		logLevel string
		envFile  string
	)

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Terminal client for the Chatify chat service",
		Long: `Chatify signs you in to the Chatify backend and opens a chat session
in the terminal. The session token is kept in a local SQLite file so the
next start resumes where you left off.

Configuration is read from the environment (and an optional .env file),
for example CHATIFY_BACKEND_URL and CHATIFY_CREDENTIAL_MODE.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := setup(envFile, logLevel)
			if err != nil {
				return err
			}
			defer rt.Close()
			return runTUI(cmd.Context(), rt)
		},
	}

	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Optional dotenv file to load")

	cmd.AddCommand(&cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := setup(envFile, logLevel)
			if err != nil {
				return err
			}
			defer rt.Close()
			return whoami(cmd, rt)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "logout",
		Short: "Sign out and forget the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := setup(envFile, logLevel)
			if err != nil {
				return err
			}
			defer rt.Close()
			return logout(cmd, rt)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	})

	return cmd
}

func runTUI(ctx context.Context, rt *runtime) error {
	ctrl := app.New(app.Options{
		Prober:      rt.probe,
		Backend:     rt.client,
		Credentials: rt.creds,
		Recorder:    rt.recorder,
		OTPTTL:      rt.cfg.OTPTTL,
		Logger:      rt.logger,
	})
	defer ctrl.Close()

	m := tui.New(ctx, ctrl)
	defer m.Close()

	rt.logger.Info("Starting TUI", "backend", rt.cfg.BackendURL, "credential_mode", rt.cfg.CredentialMode)
	_, err := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("run TUI: %w", err)
	}
	return nil
}

func whoami(cmd *cobra.Command, rt *runtime) error {
	res := rt.probe.Probe(cmd.Context())
	out := cmd.OutOrStdout()
	if !res.Authenticated {
		fmt.Fprintf(out, "Not signed in (%s)\n", res.Reason)
		return nil
	}

	fmt.Fprintf(out, "Signed in as %s\n", res.User.DisplayName())
	if res.User.Email != "" {
		fmt.Fprintf(out, "Email: %s\n", res.User.Email)
	}
	return nil
}

func logout(cmd *cobra.Command, rt *runtime) error {
	ctx := cmd.Context()
	if err := rt.client.Logout(ctx); err != nil {
		rt.logger.Warn("Backend logout failed, clearing session locally", "error", err)
		fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %s\n", domain.UserMessage(err, "backend logout failed"))
	}
	if err := rt.creds.Clear(ctx); err != nil {
		return fmt.Errorf("clear credential: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
	return nil
}
