package catalog

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatchSeed(t *testing.T) {
	t.Run("returns without blocking the caller", func(t *testing.T) {
		store, _ := setupStore(t)
		path := writeSeedFile(t, "plans: []\n")

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Server startup calls this inline; a watcher that parks here
		// would never let the listeners come up.
		done := make(chan error, 1)
		go func() { done <- store.WatchSeed(ctx, path) }()

		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("WatchSeed did not return; it must only set up the watcher")
		}
	})

	t.Run("missing directory", func(t *testing.T) {
		store, _ := setupStore(t)

		err := store.WatchSeed(context.Background(), filepath.Join(t.TempDir(), "nope", "plans.yaml"))
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to watch")
	})

	t.Run("reapplies seed on change", func(t *testing.T) {
		store, mock := setupStore(t)
		path := writeSeedFile(t, "plans: []\n")

		mock.ExpectQuery("SELECT (.+) FROM subscription_plans").
			WithArgs("pro").
			WillReturnError(sql.ErrNoRows)
		mock.ExpectExec("INSERT INTO subscription_plans").
			WillReturnResult(sqlmock.NewResult(0, 1))

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		require.NoError(t, store.WatchSeed(ctx, path))

		// Give the watcher a moment to register, then rewrite the seed until
		// the reload lands. Rewrites are spaced past the debounce window.
		time.Sleep(100 * time.Millisecond)
		content := []byte("plans:\n  - id: pro\n    name: Pro\n    published: true\n")
		deadline := time.Now().Add(5 * time.Second)
		for mock.ExpectationsWereMet() != nil && time.Now().Before(deadline) {
			require.NoError(t, os.WriteFile(path, content, 0o644))
			time.Sleep(500 * time.Millisecond)
		}
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
