package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/TimurManjosov/flagship-webdemo/internal/cli"
	"github.com/TimurManjosov/flagship-webdemo/internal/config"
	"github.com/TimurManjosov/flagship-webdemo/internal/evalctx"
	"github.com/TimurManjosov/flagship-webdemo/internal/reason"
	"github.com/TimurManjosov/flagship-webdemo/internal/sdk"
	"github.com/TimurManjosov/flagship-webdemo/internal/web"
)

var (
	evalUser   string
	evalFormat string
	evalWait   time.Duration
)

var evalCmd = &cobra.Command{
	Use:   "eval [flag...]",
	Short: "Evaluate flags once and print the result",
	Long: `Evaluate flags for one user and print the result. With no flag keys every
known flag is evaluated.

Examples:
  flagdemo eval
  flagdemo eval web-banner --user alice
  flagdemo eval --flag-file flags.yaml --format yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := cli.ParseFormat(evalFormat)
		if err != nil {
			return err
		}
		cfg, logger, err := loadConfig()
		if err != nil {
			return fmt.Errorf("config: %w", err)
		}
		ev, err := runEval(cmd.Context(), cfg, logger, evalUser, args, evalWait)
		if err != nil {
			return err
		}
		return cli.PrintEvaluation(cmd.OutOrStdout(), ev, format)
	},
}

func init() {
	evalCmd.Flags().StringVar(&evalUser, "user", web.DefaultUserKey, "User key to evaluate for")
	evalCmd.Flags().StringVar(&evalFormat, "format", "table", "Output format (table, json, yaml)")
	evalCmd.Flags().DurationVar(&evalWait, "wait", 5*time.Second, "How long to wait for flag data")
	rootCmd.AddCommand(evalCmd)
}

// runEval starts a short-lived client, waits for flag data and evaluates keys
// (all flags when keys is empty) for user.
func runEval(ctx context.Context, cfg *config.Config, logger zerolog.Logger, user string, keys []string, wait time.Duration) (cli.Evaluation, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	sdkCfg := cfg.SDKConfig(logger)
	sdkCfg.SendEvents = false

	client, err := sdk.New(cfg.SDKKey, sdkCfg)
	if err != nil {
		return cli.Evaluation{}, err
	}
	defer client.Close()

	if err := waitInitialized(ctx, client, wait); err != nil {
		return cli.Evaluation{}, err
	}

	evalCtx := evalctx.New(user)
	all := client.AllFlags(evalCtx)
	if len(keys) == 0 {
		return cli.Evaluation{User: user, Flags: all}, nil
	}

	byKey := make(map[string]sdk.FlagState, len(all))
	for _, st := range all {
		byKey[st.Key] = st
	}
	states := make([]sdk.FlagState, 0, len(keys))
	for _, k := range keys {
		st, ok := byKey[k]
		if !ok {
			st = sdk.FlagState{Key: k, Reason: reason.Error(reason.ErrorFlagNotFound)}
		}
		states = append(states, st)
	}
	return cli.Evaluation{User: user, Flags: states}, nil
}

func waitInitialized(ctx context.Context, client *sdk.Client, wait time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for !client.Initialized() {
		select {
		case <-ctx.Done():
			return fmt.Errorf("flag client not initialized within %s", wait)
		case <-ticker.C:
		}
	}
	return nil
}
