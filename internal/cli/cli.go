// Package cli implements the finsync subcommands. Each command builds
// its dependencies through newApp, runs one engine operation, and
// renders the result through the ui package.
package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/subcommands"
	"github.com/joho/godotenv"

	"github.com/rumor-ml/commons.systems/finsync/internal/provider"
	"github.com/rumor-ml/commons.systems/finsync/internal/provider/csvfile"
	"github.com/rumor-ml/commons.systems/finsync/internal/provider/demo"
	"github.com/rumor-ml/commons.systems/finsync/internal/provider/ofxfile"
	"github.com/rumor-ml/commons.systems/finsync/internal/rules"
	"github.com/rumor-ml/commons.systems/finsync/internal/store"
	fsstore "github.com/rumor-ml/commons.systems/finsync/internal/store/firestore"
	"github.com/rumor-ml/commons.systems/finsync/internal/store/sqlite"
)

// Environment variables read at startup, optionally from a .env file.
const (
	envDir              = "FINSYNC_DIR"
	envDemoMode         = "FINSYNC_DEMO_MODE"
	envFirestoreProject = "FINSYNC_FIRESTORE_PROJECT"
	envFirestoreCreds   = "FINSYNC_FIRESTORE_CREDENTIALS"
)

const dbFileName = "finsync.db"

// Commands returns every finsync subcommand for registration.
func Commands() []subcommands.Command {
	return []subcommands.Command{
		&initCmd{},
		&syncCmd{},
		&importCmd{},
		&backfillCmd{},
		&balanceCmd{},
		&statusCmd{},
		&integrationsCmd{},
	}
}

// app bundles the dependencies shared by every command.
type app struct {
	store    store.Store
	registry *provider.Registry
	tagger   *rules.Engine
}

func newApp(ctx context.Context) (*app, error) {
	// A missing .env file is fine; the environment may be set directly.
	_ = godotenv.Load()

	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}
	tagger, err := rules.LoadEmbedded()
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to load tag rules: %w", err)
	}
	return &app{
		store:    st,
		registry: newRegistry(),
		tagger:   tagger,
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to close store: %v\n", err)
	}
}

// openStore picks Firestore when a project is configured, otherwise the
// SQLite database under the data directory.
func openStore(ctx context.Context) (store.Store, error) {
	if project := os.Getenv(envFirestoreProject); project != "" {
		st, err := fsstore.Open(ctx, project, os.Getenv(envFirestoreCreds))
		if err != nil {
			return nil, err
		}
		return st, nil
	}

	dir, err := dataDir()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", dir, err)
	}
	st, err := sqlite.Open(filepath.Join(dir, dbFileName))
	if err != nil {
		return nil, err
	}
	if err := st.Init(ctx); err != nil {
		st.Close()
		return nil, err
	}
	return st, nil
}

func dataDir() (string, error) {
	if dir := os.Getenv(envDir); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory (set %s): %w", envDir, err)
	}
	return filepath.Join(home, ".finsync"), nil
}

func newRegistry() *provider.Registry {
	providers := []provider.Provider{csvfile.New(), ofxfile.New()}
	if demoMode() {
		providers = append(providers, demo.New())
	}
	return provider.NewRegistry(providers...)
}

func demoMode() bool { return truthy(os.Getenv(envDemoMode)) }

func truthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// stringList is a repeatable string flag.
type stringList []string

func (l *stringList) String() string { return strings.Join(*l, ",") }

func (l *stringList) Set(v string) error {
	*l = append(*l, v)
	return nil
}

// fail prints err and returns the standard failure status.
func fail(err error) subcommands.ExitStatus {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	return subcommands.ExitFailure
}
