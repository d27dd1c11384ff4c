package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/balance-cli/internal/batch"
	"github.com/sells-group/balance-cli/internal/model"
	"github.com/sells-group/balance-cli/internal/report"
)

var (
	batchFlags  batchOptions
	batchDryRun bool
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Collect balances for every active account once",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initBatch(ctx, batchFlags)
		if err != nil {
			return err
		}
		defer env.Close()

		if batchDryRun {
			return dryRun(ctx, os.Stdout, env.Source, batchFlags.Limit)
		}

		r, err := env.Orchestrator.Run(ctx, env.Source)
		if err != nil {
			return eris.Wrap(err, "batch")
		}

		fmt.Fprintln(os.Stdout, report.Render(*r, report.Options{Locale: cfg.Report.Locale}))
		return nil
	},
}

func init() {
	batchCmd.Flags().IntVar(&batchFlags.Concurrency, "concurrency", 0, "max profiles open at once (default from config)")
	batchCmd.Flags().IntVar(&batchFlags.Limit, "limit", 0, "max number of accounts to process (0 = all)")
	batchCmd.Flags().StringVar(&batchFlags.AccountsFile, "accounts-file", "", "read accounts from a YAML file instead of the database")
	batchCmd.Flags().BoolVar(&batchFlags.NoRetry, "no-retry", false, "skip the second pass for blocked accounts")
	batchCmd.Flags().BoolVar(&batchDryRun, "dry-run", false, "list the accounts that would be processed and exit")
	rootCmd.AddCommand(batchCmd)
}

// dryRun prints the accounts a batch would dispatch without opening any
// profile.
func dryRun(ctx context.Context, out io.Writer, source batch.AccountSource, limit int) error {
	accounts, err := source.Accounts(ctx)
	if err != nil {
		return eris.Wrap(err, "dry run")
	}
	if limit > 0 && len(accounts) > limit {
		accounts = accounts[:limit]
	}
	if len(accounts) == 0 {
		zap.L().Info("no active accounts found")
		return nil
	}
	formatAccounts(out, accounts)
	return nil
}

// formatAccounts writes a tabular list of accounts to out. Passwords are
// never printed.
func formatAccounts(out io.Writer, accounts []model.Account) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tUSERNAME\tPROFILE\tSTATUS")
	_, _ = fmt.Fprintln(w, "--\t--------\t-------\t------")
	for _, a := range accounts {
		ref := a.ProfileRef
		if ref == "" {
			ref = "(missing)"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", truncateID(a.Key()), a.Username, ref, a.Status)
	}
	_ = w.Flush()
}
