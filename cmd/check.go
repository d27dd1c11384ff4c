package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/balance-cli/internal/batch"
	"github.com/sells-group/balance-cli/internal/model"
)

var (
	checkAccountsFile string
	checkJSON         bool
	checkNoSave       bool
)

var checkCmd = &cobra.Command{
	Use:   "check <username|id>",
	Short: "Collect the balance of one account now",
	Long:  "Runs a single attempt for one active account outside of a batch. The outcome is recorded like a batch outcome unless --no-save is set.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initBatch(ctx, batchOptions{AccountsFile: checkAccountsFile})
		if err != nil {
			return err
		}
		defer env.Close()

		acct, err := findAccount(ctx, env.Source, args[0])
		if err != nil {
			return err
		}

		var sinks []batch.OutcomeSink
		if !checkNoSave {
			sinks = env.Sinks
		}
		out := checkAccount(ctx, env.Job, acct, sinks)

		if checkJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		}
		formatOutcome(os.Stdout, out)
		return nil
	},
}

func init() {
	checkCmd.Flags().StringVar(&checkAccountsFile, "accounts-file", "", "look the account up in a YAML file instead of the database")
	checkCmd.Flags().BoolVar(&checkJSON, "json", false, "print the outcome as JSON")
	checkCmd.Flags().BoolVar(&checkNoSave, "no-save", false, "do not record the outcome in the store or spreadsheet")
	rootCmd.AddCommand(checkCmd)
}

// findAccount returns the active account whose ID or username matches ref.
// Usernames compare case-insensitively.
func findAccount(ctx context.Context, source batch.AccountSource, ref string) (model.Account, error) {
	accounts, err := source.Accounts(ctx)
	if err != nil {
		return model.Account{}, eris.Wrap(err, "check: load accounts")
	}
	ref = strings.TrimSpace(ref)
	for _, a := range accounts {
		if a.ID == ref || strings.EqualFold(a.Username, ref) {
			return a, nil
		}
	}
	return model.Account{}, eris.Errorf("check: no active account matches %q", ref)
}

// checkAccount runs one attempt for acct and hands the outcome to sinks.
// Sink errors are logged.
func checkAccount(ctx context.Context, job batch.Runner, acct model.Account, sinks []batch.OutcomeSink) model.JobOutcome {
	out := job.Run(ctx, acct, 1)
	for _, sink := range sinks {
		if err := sink.RecordOutcome(ctx, "", out); err != nil {
			zap.L().Warn("check: outcome sink failed", zap.String("account", acct.Username), zap.Error(err))
		}
	}
	return out
}

func formatOutcome(w io.Writer, out model.JobOutcome) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(tw, "Account:\t%s\n", out.Username)
	_, _ = fmt.Fprintf(tw, "Result:\t%s\n", out.Result)
	if out.Value != nil {
		_, _ = fmt.Fprintf(tw, "Balance:\t%d\n", *out.Value)
	}
	if !out.Succeeded() {
		_, _ = fmt.Fprintf(tw, "Failure:\t%s (%s)\n", out.FailureKind, out.FailureKind.Message())
		if out.Detail != "" {
			_, _ = fmt.Fprintf(tw, "Detail:\t%s\n", out.Detail)
		}
	}
	if out.EvidenceRef != "" {
		_, _ = fmt.Fprintf(tw, "Evidence:\t%s\n", out.EvidenceRef)
	}
	_, _ = fmt.Fprintf(tw, "Duration:\t%s\n", out.Duration.Round(100*time.Millisecond))
	_ = tw.Flush()
}
