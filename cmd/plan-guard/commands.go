package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/triage-ai/palisade/services/plan_guard/internal/dispatcher"
	"github.com/triage-ai/palisade/services/plan_guard/internal/engine"
	"github.com/triage-ai/palisade/services/plan_guard/internal/registry"
	"github.com/triage-ai/palisade/services/plan_guard/internal/rules"
	"github.com/triage-ai/palisade/services/plan_guard/internal/sandbox"
	"github.com/triage-ai/palisade/services/plan_guard/internal/storage"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <plan.star>",
		Short: "Run a plan against a tool dispatcher",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadRules(cmd)
			if err != nil {
				return err
			}
			plan, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read plan: %w", err)
			}

			dispatcherURL, _ := cmd.Flags().GetString("dispatcher")
			if dispatcherURL == "" {
				dispatcherURL = os.Getenv("PLAN_GUARD_DISPATCHER_URL")
			}
			if dispatcherURL == "" {
				return fmt.Errorf("--dispatcher or PLAN_GUARD_DISPATCHER_URL is required")
			}
			token, _ := cmd.Flags().GetString("token")
			toolsFile, _ := cmd.Flags().GetString("tools")
			entry, _ := cmd.Flags().GetString("entry")
			maxSteps, _ := cmd.Flags().GetUint64("max-steps")
			timeout, _ := cmd.Flags().GetDuration("timeout")

			logger := buildLogger(cmd)
			defer logger.Sync() //nolint:errcheck // best-effort flush

			d, err := dispatcher.NewHTTP(dispatcherURL, dispatcher.WithToken(token), dispatcher.WithLogger(logger))
			if err != nil {
				return err
			}

			engOpts := []engine.Option{engine.WithLogger(logger)}
			if toolsFile != "" {
				reg, err := registry.LoadFile(toolsFile)
				if err != nil {
					return err
				}
				engOpts = append(engOpts, engine.WithSchemaLookup(registry.SchemaLookup(reg, "")))
			}
			eng := engine.New(cfg, engOpts...)

			runOpts := []sandbox.Option{sandbox.WithLogger(logger)}
			if maxSteps > 0 {
				runOpts = append(runOpts, sandbox.WithMaxSteps(maxSteps))
			}
			runner := sandbox.NewRunner(eng, runOpts...)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			rec := storage.NewRunRecorder(storage.NewLogWriter(logger), uuid.New().String(), "local", "cli")
			out := runner.Execute(ctx, string(plan), d, sandbox.Entry(entry), sandbox.Hook(rec.Hook))
			if entry == "" {
				entry = sandbox.DefaultEntryPoint
			}
			rec.Finish(string(plan), entry, out)

			fmt.Fprintln(cmd.OutOrStdout(), out.Result)
			if out.Failed {
				return fmt.Errorf("plan failed (%s) after %d tool calls", out.ErrorKind, out.ToolCalls)
			}
			return nil
		},
	}
	cmd.Flags().String("dispatcher", "", "Tool dispatcher base URL (env PLAN_GUARD_DISPATCHER_URL)")
	cmd.Flags().String("token", "", "Bearer token for the dispatcher")
	cmd.Flags().String("tools", "", "YAML tools file with argument schemas")
	cmd.Flags().String("entry", sandbox.DefaultEntryPoint, "Entry point function")
	cmd.Flags().Uint64("max-steps", 0, "Interpreter step cap (0 keeps the default)")
	cmd.Flags().Duration("timeout", 0, "Overall run deadline, e.g. 2m (0 means none)")
	return cmd
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <plan.star>",
		Short: "Run the static plan checks without executing anything",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadRules(cmd)
			if err != nil {
				return err
			}
			plan, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read plan: %w", err)
			}
			if err := engine.New(cfg).ValidatePlan(string(plan)); err != nil {
				return fmt.Errorf("plan rejected: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective rule configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadRules(cmd)
			if err != nil {
				return err
			}
			data, err := cfg.Marshal()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

// loadRules applies --config, then --set overrides.
func loadRules(cmd *cobra.Command) (rules.RuleConfig, error) {
	path, _ := cmd.Flags().GetString("config")
	sets, _ := cmd.Flags().GetStringArray("set")

	cfg, err := rules.Load(path)
	if err != nil {
		return rules.RuleConfig{}, err
	}
	overrides, err := rules.ParseOverrides(sets)
	if err != nil {
		return rules.RuleConfig{}, err
	}
	return rules.Apply(cfg, overrides)
}

func buildLogger(cmd *cobra.Command) *zap.Logger {
	verbose, _ := cmd.Flags().GetBool("verbose")
	level := zapcore.WarnLevel
	if verbose {
		level = zapcore.DebugLevel
	}
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout(time.TimeOnly)
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.AddSync(cmd.ErrOrStderr()),
		level,
	)
	return zap.New(core)
}
