package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/balance-cli/internal/batch"
	"github.com/sells-group/balance-cli/internal/model"
	"github.com/sells-group/balance-cli/internal/secret"
)

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "Manage stored accounts",
}

// -- accounts import --

var accountsFile string

var accountsImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Import accounts from a YAML file, encrypting passwords",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		c, err := initCipher()
		if err != nil {
			return err
		}

		accounts, err := batch.ReadAccountsFile(accountsFile)
		if err != nil {
			return eris.Wrap(err, "accounts import")
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		var enc encrypter
		if c != nil {
			enc = c
		}
		imported, err := importAccounts(ctx, st, enc, accounts)
		if err != nil {
			return err
		}

		zap.L().Info("import complete",
			zap.Int("imported", imported),
			zap.String("file", accountsFile),
			zap.Bool("encrypted", enc != nil),
		)
		return nil
	},
}

// -- accounts list --

var accountsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active accounts",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		accounts, err := st.ListActiveAccounts(ctx)
		if err != nil {
			return eris.Wrap(err, "accounts list")
		}
		if len(accounts) == 0 {
			fmt.Fprintln(os.Stderr, "No accounts found.")
			return nil
		}
		formatAccounts(os.Stdout, accounts)
		return nil
	},
}

// -- accounts keygen --

var accountsKeygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Print a new password encryption key for crypto.keys",
	RunE: func(cmd *cobra.Command, _ []string) error {
		key, err := secret.GenerateKey()
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, key)
		return nil
	},
}

func init() {
	accountsImportCmd.Flags().StringVar(&accountsFile, "file", "accounts.yaml", "path to the accounts YAML file")

	accountsCmd.AddCommand(accountsImportCmd)
	accountsCmd.AddCommand(accountsListCmd)
	accountsCmd.AddCommand(accountsKeygenCmd)
	rootCmd.AddCommand(accountsCmd)
}

type encrypter interface {
	Encrypt(plain string) (string, error)
}

type accountWriter interface {
	UpsertAccount(ctx context.Context, acct model.Account) error
}

// importAccounts encrypts each password with enc (when set) and upserts the
// account. It stops at the first failure.
func importAccounts(ctx context.Context, w accountWriter, enc encrypter, accounts []model.Account) (int, error) {
	for i, acct := range accounts {
		if enc != nil && !acct.Password.IsZero() {
			token, err := enc.Encrypt(acct.Password.Reveal())
			if err != nil {
				return i, eris.Wrapf(err, "accounts import: encrypt %s", acct.Username)
			}
			acct.Password = model.NewSecret(token)
		}
		if err := w.UpsertAccount(ctx, acct); err != nil {
			return i, eris.Wrap(err, "accounts import")
		}
	}
	return len(accounts), nil
}
