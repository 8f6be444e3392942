package storage

import (
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	"github.com/correlator-io/sdbridge/internal/legacy"
)

// Accounts maps legacy account names to their connectors. It satisfies the bridge's
// account opener and is safe for concurrent use.
type Accounts struct {
	mutex    sync.RWMutex
	accounts map[string]legacy.Account
}

// NewAccounts creates an empty account registry.
func NewAccounts() *Accounts {
	return &Accounts{accounts: make(map[string]legacy.Account)}
}

// NewPostgresAccounts opens one PostgresAccount per name, all throttled by a single
// limiter built from cfg.
func NewPostgresAccounts(conn *Connection, cfg *Config, names []string) (*Accounts, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	var opts []PostgresAccountOption

	if cfg != nil && cfg.LegacyQueryRPS > 0 {
		burst := max(cfg.LegacyQueryBurst, 1)
		opts = append(opts, WithQueryLimiter(rate.NewLimiter(rate.Limit(cfg.LegacyQueryRPS), burst)))
	}

	accounts := NewAccounts()

	for _, name := range names {
		account, err := NewPostgresAccount(conn, name, opts...)
		if err != nil {
			return nil, fmt.Errorf("account %q: %w", name, err)
		}

		accounts.Register(name, account)
	}

	return accounts, nil
}

// Register binds name to account, replacing any previous binding.
func (a *Accounts) Register(name string, account legacy.Account) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	a.accounts[name] = account
}

// Open returns the connectors of the named account.
func (a *Accounts) Open(name string) (legacy.Account, bool) {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	account, ok := a.accounts[name]

	return account, ok
}
