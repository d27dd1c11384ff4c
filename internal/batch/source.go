package batch

import (
	"context"
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/balance-cli/internal/model"
)

// AccountSource supplies the accounts for one batch.
type AccountSource interface {
	Accounts(ctx context.Context) ([]model.Account, error)
}

// Decrypter reveals stored passwords. *secret.Cipher implements it.
type Decrypter interface {
	Decrypt(value string) string
}

// AccountLister is the store query used by StoreSource.
type AccountLister interface {
	ListActiveAccounts(ctx context.Context) ([]model.Account, error)
}

// StoreSource loads active accounts from the database, least recently
// updated first.
type StoreSource struct {
	lister AccountLister
	dec    Decrypter
}

// NewStoreSource creates a StoreSource. dec may be nil when passwords are
// stored in plaintext.
func NewStoreSource(lister AccountLister, dec Decrypter) *StoreSource {
	return &StoreSource{lister: lister, dec: dec}
}

func (s *StoreSource) Accounts(ctx context.Context) ([]model.Account, error) {
	accounts, err := s.lister.ListActiveAccounts(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "batch: list accounts")
	}
	return decryptAll(accounts, s.dec), nil
}

// FileSource loads accounts from a YAML file:
//
//	accounts:
//	  - username: alice@example.com
//	    password: gAAAAA...
//	    profile_ref: k1a2b3
type FileSource struct {
	path string
	dec  Decrypter
}

// NewFileSource creates a FileSource. dec may be nil.
func NewFileSource(path string, dec Decrypter) *FileSource {
	return &FileSource{path: path, dec: dec}
}

type accountFile struct {
	Accounts []fileAccount `yaml:"accounts"`
}

type fileAccount struct {
	ID         string `yaml:"id"`
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	ProfileRef string `yaml:"profile_ref"`
	Phone      string `yaml:"phone"`
	Status     string `yaml:"status"`
}

func (s *FileSource) Accounts(_ context.Context) ([]model.Account, error) {
	all, err := ReadAccountsFile(s.path)
	if err != nil {
		return nil, err
	}
	accounts := make([]model.Account, 0, len(all))
	for _, a := range all {
		if a.Status == model.AccountStatusActive {
			accounts = append(accounts, a)
		}
	}
	return decryptAll(accounts, s.dec), nil
}

// ReadAccountsFile parses every entry of a YAML accounts file, including
// inactive ones. Passwords are returned as stored.
func ReadAccountsFile(path string) ([]model.Account, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "batch: read accounts file %s", path)
	}

	var f accountFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrapf(err, "batch: parse accounts file %s", path)
	}

	accounts := make([]model.Account, 0, len(f.Accounts))
	for i, fa := range f.Accounts {
		if fa.Username == "" {
			return nil, eris.Errorf("batch: accounts file %s: entry %d has no username", path, i+1)
		}
		status := model.AccountStatus(fa.Status)
		if status == "" {
			status = model.AccountStatusActive
		}
		accounts = append(accounts, model.Account{
			ID:         fa.ID,
			Username:   fa.Username,
			Password:   model.NewSecret(fa.Password),
			ProfileRef: fa.ProfileRef,
			Phone:      fa.Phone,
			Status:     status,
		})
	}
	return accounts, nil
}

func decryptAll(accounts []model.Account, dec Decrypter) []model.Account {
	if dec == nil {
		return accounts
	}
	for i := range accounts {
		accounts[i].Password = model.NewSecret(dec.Decrypt(accounts[i].Password.Reveal()))
	}
	return accounts
}
