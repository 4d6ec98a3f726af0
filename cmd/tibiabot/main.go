// Command tibiabot posts the daily Tibia boosted creature and boss to Telegram.
//
// Usage:
//
//	tibiabot --config config.yaml          run the bot
//	tibiabot check --config config.yaml    one forced check, then exit
//	tibiabot next                          next server save and scheduled check
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"tibiabot/internal/app"
	"tibiabot/internal/boosted"
)

// oneShot is what the check and next subcommands need from the app.
type oneShot interface {
	CheckOnce(ctx context.Context, force bool) boosted.Result
	NextInfo(now time.Time) string
	Close() error
}

var openOneShot = func(cfgPath string) (oneShot, error) {
	a, err := app.New(cfgPath)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func main() {
	// Optional; real environment variables win over .env entries.
	_ = godotenv.Load(".env")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string
	root := &cobra.Command{
		Use:           "tibiabot",
		Short:         "Daily Tibia boosted creature and boss notifier",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBot(cmd.Context(), cfgPath)
		},
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "./config.yaml", "path to config (yaml or json)")
	root.AddCommand(checkCmd(&cfgPath), nextCmd(&cfgPath))
	return root
}

func runBot(ctx context.Context, cfgPath string) error {
	a, err := app.New(cfgPath)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = a.Stop(stopCtx, app.StopFatalError)
		return fmt.Errorf("start: %w", err)
	}

	reason := app.StopSignal
	select {
	case <-ctx.Done():
	case <-a.Done():
		reason = app.StopFatalError
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 45*time.Second)
	defer cancel()
	_ = a.Stop(stopCtx, reason)
	if reason == app.StopFatalError {
		if err := a.Err(); err != nil {
			return err
		}
		return errors.New("stopped unexpectedly")
	}
	return nil
}

func checkCmd(cfgPath *string) *cobra.Command {
	var noForce bool
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Run one boosted check, post the results and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openOneShot(*cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()

			res := a.CheckOnce(cmd.Context(), !noForce)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "creature: %s (posted=%v)\n", res.Boosted.Creature, res.CreaturePosted)
			fmt.Fprintf(out, "boss:     %s (posted=%v)\n", res.Boosted.Boss, res.BossPosted)
			for _, e := range res.Errors {
				fmt.Fprintln(out, "error:", e)
			}
			if !res.OK() {
				return fmt.Errorf("check finished with %d error(s)", len(res.Errors))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&noForce, "changed-only", false, "post only sides that changed since the stored state")
	return cmd
}

func nextCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "next",
		Short: "Print the next server save and scheduled check",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openOneShot(*cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()
			fmt.Fprintln(cmd.OutOrStdout(), a.NextInfo(time.Now()))
			return nil
		},
	}
}
