package catalog

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bricksaw/warden/pkg/guard"
	"github.com/bricksaw/warden/pkg/observability"
)

const sampleSeedYAML = `plans:
  - id: free
    name: Free
    max_seats: 3
    max_records: 100
    max_reports: 10
    max_storage_gb: 1
    base_users_included: 3
    features:
      - basic_reports
    field_categories:
      - basic
      - evidence
    published: true

  - id: enterprise
    name: Enterprise
    max_seats: -1
    max_records: -1
    max_reports: -1
    max_storage_gb: 100
    monthly_price_cents: 19900
    annual_price_cents: 199000
    per_seat_price_cents: 700
    base_users_included: 20
    published: false
`

func writeSeedFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "plans.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadSeedFile(t *testing.T) {
	t.Run("valid seed", func(t *testing.T) {
		seed, err := LoadSeedFile(writeSeedFile(t, sampleSeedYAML))
		require.NoError(t, err)
		require.Len(t, seed.Plans, 2)

		free := seed.Plans[0]
		assert.Equal(t, "free", free.ID)
		assert.Equal(t, int64(3), free.MaxSeats)
		assert.Equal(t, []string{"basic_reports"}, free.Features)
		assert.Equal(t, []string{"basic", "evidence"}, free.FieldCategories)
		assert.True(t, free.Published)
		assert.True(t, free.CreatedAt.IsZero())

		ent := seed.Plans[1]
		assert.Equal(t, Unlimited, ent.MaxSeats)
		assert.Equal(t, Unlimited, ent.MaxRecords)
		assert.Equal(t, int64(100), ent.MaxStorageGB)
		assert.False(t, ent.Published)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadSeedFile(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read plan seed")
	})

	t.Run("invalid yaml", func(t *testing.T) {
		_, err := LoadSeedFile(writeSeedFile(t, "plans: [\n"))
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to parse plan seed")
	})

	t.Run("plan without id", func(t *testing.T) {
		_, err := LoadSeedFile(writeSeedFile(t, "plans:\n  - name: Nameless\n"))
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "has no id")
	})

	t.Run("plan without name", func(t *testing.T) {
		_, err := LoadSeedFile(writeSeedFile(t, "plans:\n  - id: mystery\n"))
		assert.Error(t, err)
		assert.Contains(t, err.Error(), `plan "mystery" in seed has no name`)
	})
}

func TestStore_Seed(t *testing.T) {
	pro := Plan{
		ID: "pro", Name: "Pro",
		MaxSeats: 25, MaxRecords: 10000, MaxReports: 500, MaxStorageGB: 10,
		MonthlyPriceCents: 4900, AnnualPriceCents: 49000, PerSeatPriceCents: 900,
		BaseUsersIncluded: 5,
		Features:          []string{"basic_reports", "csv_export"},
		FieldCategories:   []string{"basic", "evidence", "measurements"},
		Published:         true,
	}

	t.Run("inserts missing plan", func(t *testing.T) {
		store, mock := setupStore(t)

		mock.ExpectQuery("SELECT (.+) FROM subscription_plans").
			WithArgs("pro").
			WillReturnError(sql.ErrNoRows)
		mock.ExpectExec("INSERT INTO subscription_plans").
			WithArgs("pro", "Pro",
				int64(25), int64(10000), int64(500), int64(10),
				int64(4900), int64(49000), int64(900), int64(5),
				pq.Array(pro.Features), pq.Array(pro.FieldCategories), true).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := store.Seed(context.Background(), []Plan{pro})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("updates draft plan", func(t *testing.T) {
		store, mock := setupStore(t)

		row := proPlanRow(time.Now())
		row[1] = "Pro (old name)"
		row[12] = false
		mock.ExpectQuery("SELECT (.+) FROM subscription_plans").
			WithArgs("pro").
			WillReturnRows(sqlmock.NewRows(planColumns()).AddRow(row...))
		mock.ExpectExec("UPDATE subscription_plans").
			WithArgs("pro", "Pro",
				int64(25), int64(10000), int64(500), int64(10),
				int64(4900), int64(49000), int64(900), int64(5),
				pq.Array(pro.Features), pq.Array(pro.FieldCategories), true).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := store.Seed(context.Background(), []Plan{pro})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("published drift is logged and skipped", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()
		mock.ExpectExec("CREATE TABLE IF NOT EXISTS subscription_plans").
			WillReturnResult(sqlmock.NewResult(0, 0))

		var buf bytes.Buffer
		logger := observability.NewLogger(observability.InfoLevel, &buf)
		store, err := NewStore(db, logger, nil, time.Hour, time.Minute)
		require.NoError(t, err)

		row := proPlanRow(time.Now())
		row[6] = int64(5900) // drifted monthly price
		mock.ExpectQuery("SELECT (.+) FROM subscription_plans").
			WithArgs("pro").
			WillReturnRows(sqlmock.NewRows(planColumns()).AddRow(row...))
		// No write expected.

		err = store.Seed(context.Background(), []Plan{pro})
		require.NoError(t, err)
		assert.Contains(t, buf.String(), "Seed drift on published plan ignored")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("published plan matching seed stays quiet", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()
		mock.ExpectExec("CREATE TABLE IF NOT EXISTS subscription_plans").
			WillReturnResult(sqlmock.NewResult(0, 0))

		var buf bytes.Buffer
		logger := observability.NewLogger(observability.InfoLevel, &buf)
		store, err := NewStore(db, logger, nil, time.Hour, time.Minute)
		require.NoError(t, err)

		createdAt := time.Date(2024, 8, 1, 0, 0, 0, 0, time.UTC)
		mock.ExpectQuery("SELECT (.+) FROM subscription_plans").
			WithArgs("pro").
			WillReturnRows(sqlmock.NewRows(planColumns()).AddRow(proPlanRow(createdAt)...))

		err = store.Seed(context.Background(), []Plan{pro})
		require.NoError(t, err)
		assert.NotContains(t, buf.String(), "drift")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("storage error during read", func(t *testing.T) {
		store, mock := setupStore(t)

		mock.ExpectQuery("SELECT (.+) FROM subscription_plans").
			WithArgs("pro").
			WillReturnError(errors.New("connection refused"))

		err := store.Seed(context.Background(), []Plan{pro})
		assert.ErrorIs(t, err, guard.ErrUnavailable)
		assert.Contains(t, err.Error(), `failed to read plan "pro" during seed`)
	})

	t.Run("seed invalidates caches", func(t *testing.T) {
		store, mock := setupStore(t)

		// Warm the plan cache.
		mock.ExpectQuery("SELECT (.+) FROM subscription_plans").
			WithArgs("pro").
			WillReturnRows(sqlmock.NewRows(planColumns()).AddRow(proPlanRow(time.Now())...))
		_, err := store.Get(context.Background(), "pro")
		require.NoError(t, err)

		mock.ExpectQuery("SELECT (.+) FROM subscription_plans").
			WithArgs("pro").
			WillReturnError(sql.ErrNoRows)
		mock.ExpectExec("INSERT INTO subscription_plans").
			WillReturnResult(sqlmock.NewResult(0, 1))
		require.NoError(t, store.Seed(context.Background(), []Plan{pro}))

		// The cached row is gone, so the next read hits the database.
		mock.ExpectQuery("SELECT (.+) FROM subscription_plans").
			WithArgs("pro").
			WillReturnRows(sqlmock.NewRows(planColumns()).AddRow(proPlanRow(time.Now())...))
		_, err = store.Get(context.Background(), "pro")
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestStore_SeedFromFile(t *testing.T) {
	store, mock := setupStore(t)

	path := writeSeedFile(t, "plans:\n  - id: pro\n    name: Pro\n    published: true\n")

	mock.ExpectQuery("SELECT (.+) FROM subscription_plans").
		WithArgs("pro").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("INSERT INTO subscription_plans").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.SeedFromFile(context.Background(), path))
	assert.NoError(t, mock.ExpectationsWereMet())

	t.Run("unreadable file", func(t *testing.T) {
		store, _ := setupStore(t)
		err := store.SeedFromFile(context.Background(), filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})
}

func TestSeedEquivalent(t *testing.T) {
	base := Plan{
		ID: "pro", Name: "Pro",
		MaxSeats: 25, MonthlyPriceCents: 4900,
		Features:        []string{"basic_reports"},
		FieldCategories: []string{"basic"},
		Published:       true,
	}

	same := base
	same.CreatedAt = time.Now() // created_at never participates
	assert.True(t, seedEquivalent(&base, &same))

	renamed := base
	renamed.Name = "Professional"
	assert.False(t, seedEquivalent(&base, &renamed))

	repriced := base
	repriced.MonthlyPriceCents = 5900
	assert.False(t, seedEquivalent(&base, &repriced))

	refeatured := base
	refeatured.Features = []string{"basic_reports", "sso"}
	assert.False(t, seedEquivalent(&base, &refeatured))

	unpublished := base
	unpublished.Published = false
	assert.False(t, seedEquivalent(&base, &unpublished))
}
