// Command auditctl inspects the audit ledger: it verifies the hash chain and
// prints recent entries. It exits 1 when the chain is broken.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/BradenHooton/clinitrust/internal/config"
	"github.com/BradenHooton/clinitrust/internal/database"
	"github.com/BradenHooton/clinitrust/internal/repositories"
	"github.com/BradenHooton/clinitrust/internal/services"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr, openPostgresLedger))
}

func run(args []string, stdout, stderr io.Writer, open ledgerOpener) int {
	cmd := newRootCmd(open)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, errTampered) {
			fmt.Fprintln(stderr, "auditctl:", err)
		}
		return 1
	}
	return 0
}

// openPostgresLedger connects with the same DB_* settings as the API server.
func openPostgresLedger(ctx context.Context) (Ledger, func(), error) {
	cfg, err := config.LoadDatabase()
	if err != nil {
		return nil, nil, err
	}
	if cfg.Driver != config.StorageDriverPostgres {
		return nil, nil, fmt.Errorf("auditctl reads a postgres ledger; STORAGE_DRIVER is %q", cfg.Driver)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	db, err := database.NewConnection(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	chain := services.NewAuditChain(repositories.NewAuditEntryRepository(db), nil)
	return chain, db.Close, nil
}
