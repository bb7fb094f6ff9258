package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"npdbot/internal/cli"
	"npdbot/internal/config"
	"npdbot/internal/export"
	applog "npdbot/internal/log"
	"npdbot/internal/report"
	"npdbot/internal/services"
	"npdbot/internal/storage"
)

// app holds what the commands need. open is called once before any
// subcommand runs and close after Execute returns; tests replace open.
type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	repo       *storage.SQLiteRepository
	registries *services.RegistryService
	run        func(ctx context.Context) (*services.CycleResult, error)

	open  func(a *app) error
	close func()
}

func newApp() *app {
	return &app{open: openStore}
}

func (a *app) Close() {
	if a.close != nil {
		a.close()
	}
}

// openStore loads the environment and opens the record store. Only the run
// command needs the full mail configuration, so it validates on its own.
func openStore(a *app) error {
	cli.LoadEnvFile()
	a.logger = cli.SetupLogger(applog.ComponentCLI)
	a.cfg = config.Load()

	repo, err := storage.NewSQLiteRepository(a.cfg.SQLiteDBPath)
	if err != nil {
		return fmt.Errorf("open database %s: %w", a.cfg.SQLiteDBPath, err)
	}
	a.repo = repo
	a.registries = cli.NewRegistryService(a.cfg, repo)
	a.run = func(ctx context.Context) (*services.CycleResult, error) {
		if err := a.cfg.Validate(); err != nil {
			return nil, err
		}
		publisher := cli.InitPublisher(a.logger, a.cfg)
		if publisher != nil {
			defer publisher.Close()
		}
		return cli.NewIngestService(a.cfg, repo, publisher).RunCycle(ctx, cli.NewSource(a.cfg))
	}
	a.close = func() { repo.Close() }
	return nil
}

func (a *app) taxDescription(ctx context.Context) string {
	if v, ok, err := a.registries.Setting(ctx, services.SettingTaxDescription); err == nil && ok && v != "" {
		return v
	}
	if a.cfg != nil && a.cfg.TaxDescription != "" {
		return a.cfg.TaxDescription
	}
	return export.DefaultTaxDescription
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "npdctl",
		Short:         "Operate the npdbot registry store from the command line",
		Long:          "npdctl runs ingestion cycles and answers status, history and statistics queries against the npdbot database.",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.open(a)
		},
	}

	root.AddCommand(
		newRunCmd(a),
		newStatusCmd(a),
		newHistoryCmd(a),
		newPendingCmd(a),
		newShowCmd(a),
		newConfirmCmd(a),
		newStatsCmd(a),
		newSettingsCmd(a),
	)
	return root
}

func newRunCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Check the mailbox once and ingest new registries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			res, err := a.run(ctx)
			out := cmd.OutOrStdout()
			if res != nil {
				description := a.taxDescription(ctx)
				for _, reg := range res.Registries {
					fmt.Fprintln(out, report.Registry(reg, description))
					fmt.Fprintln(out)
				}
			}
			fmt.Fprintln(out, res.Report(err))
			return err
		},
	}
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the last check time and lifetime counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.registries.Counters(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), report.Status(c, a.registries.Location()))
			return nil
		},
	}
}

func newHistoryCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List the most recent registries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			regs, err := a.registries.History(cmd.Context(), limit)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), report.History(regs))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", services.DefaultHistoryLimit, "Number of registries to list")
	return cmd
}

func newPendingCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List registries not yet declared in the tax app",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			regs, err := a.registries.Pending(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), report.History(regs))
			return nil
		},
	}
}

func newShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show DATE",
		Short: "Show one registry with its tax line",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			reg, err := a.registries.Registry(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), report.Registry(reg, a.taxDescription(ctx)))
			return nil
		},
	}
}

func newConfirmCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "confirm DATE",
		Short: "Mark a registry as declared",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			changed, err := a.registries.Confirm(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if changed {
				fmt.Fprintf(cmd.OutOrStdout(), "Реестр %s подтвержден\n", strings.TrimSpace(args[0]))
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Реестр %s не найден или уже подтвержден\n", strings.TrimSpace(args[0]))
			}
			return nil
		},
	}
}

func newStatsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show income statistics",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "month [YEAR MONTH]",
		Short: "Income for a month, the current one by default",
		Args:  periodArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			year, month := a.registries.Today()
			if len(args) == 2 {
				var err error
				if year, err = parseIntArg("year", args[0]); err != nil {
					return err
				}
				if month, err = parseIntArg("month", args[1]); err != nil {
					return err
				}
			}
			m, err := a.registries.Month(cmd.Context(), year, month)
			if err != nil {
				return err
			}
			return writeLine(cmd.OutOrStdout(), report.Month(m))
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "year [YEAR]",
		Short: "Income for a year against the annual limit",
		Args:  periodArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			year, _ := a.registries.Today()
			if len(args) == 1 {
				var err error
				if year, err = parseIntArg("year", args[0]); err != nil {
					return err
				}
			}
			y, err := a.registries.Year(cmd.Context(), year)
			if err != nil {
				return err
			}
			return writeLine(cmd.OutOrStdout(), report.Year(y))
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "all",
		Short: "Income over all stored registries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.registries.AllTime(cmd.Context())
			if err != nil {
				return err
			}
			return writeLine(cmd.OutOrStdout(), report.AllTime(s))
		},
	})
	return cmd
}

func newSettingsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Read or change runtime settings",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get KEY",
		Short: "Print a setting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, ok, err := a.registries.Setting(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !ok {
				return writeLine(cmd.OutOrStdout(), "(не задано)")
			}
			return writeLine(cmd.OutOrStdout(), value)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set KEY VALUE",
		Short: "Change a setting",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			value := strings.Join(args[1:], " ")
			if err := a.registries.SetSetting(cmd.Context(), args[0], value); err != nil {
				return err
			}
			return writeLine(cmd.OutOrStdout(), "OK")
		},
	})
	return cmd
}

// periodArgs accepts either no arguments or exactly n.
func periodArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != 0 && len(args) != n {
			return fmt.Errorf("accepts 0 or %d arg(s), received %d", n, len(args))
		}
		return nil
	}
}

func parseIntArg(name, v string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("%s must be a number: %q", name, v)
	}
	return n, nil
}

func writeLine(w io.Writer, s string) error {
	_, err := fmt.Fprintln(w, s)
	return err
}
