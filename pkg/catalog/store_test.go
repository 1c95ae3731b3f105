package catalog

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bricksaw/warden/pkg/guard"
	"github.com/bricksaw/warden/pkg/observability"
)

func setupStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS subscription_plans").
		WillReturnResult(sqlmock.NewResult(0, 0))

	store, err := NewStore(db, nil, nil, time.Hour, time.Minute)
	require.NoError(t, err)
	return store, mock
}

func planColumns() []string {
	return []string{
		"id", "name", "max_seats", "max_records", "max_reports", "max_storage_gb",
		"monthly_price_cents", "annual_price_cents", "per_seat_price_cents", "base_users_included",
		"features", "field_categories", "published", "created_at",
	}
}

func proPlanRow(createdAt time.Time) []driver.Value {
	return []driver.Value{
		"pro", "Pro", int64(25), int64(10000), int64(500), int64(10),
		int64(4900), int64(49000), int64(900), int64(5),
		"{basic_reports,csv_export}", "{basic,evidence,measurements}", true, createdAt,
	}
}

func TestNewStore(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectExec("CREATE TABLE IF NOT EXISTS subscription_plans").
			WillReturnResult(sqlmock.NewResult(0, 0))

		store, err := NewStore(db, nil, nil, 0, 0)
		require.NoError(t, err)
		assert.NotNil(t, store)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("nil database", func(t *testing.T) {
		store, err := NewStore(nil, nil, nil, time.Hour, time.Minute)
		assert.Error(t, err)
		assert.Nil(t, store)
		assert.Contains(t, err.Error(), "database connection is required")
	})

	t.Run("table creation error", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectExec("CREATE TABLE IF NOT EXISTS subscription_plans").
			WillReturnError(errors.New("permission denied"))

		store, err := NewStore(db, nil, nil, time.Hour, time.Minute)
		assert.Error(t, err)
		assert.Nil(t, store)
		assert.Contains(t, err.Error(), "failed to ensure subscription_plans table")
	})
}

func TestStore_Get(t *testing.T) {
	t.Run("success and cached on second read", func(t *testing.T) {
		store, mock := setupStore(t)

		createdAt := time.Date(2025, 1, 6, 10, 0, 0, 0, time.UTC)
		mock.ExpectQuery("SELECT (.+) FROM subscription_plans").
			WithArgs("pro").
			WillReturnRows(sqlmock.NewRows(planColumns()).AddRow(proPlanRow(createdAt)...))

		plan, err := store.Get(context.Background(), "pro")
		require.NoError(t, err)
		assert.Equal(t, "pro", plan.ID)
		assert.Equal(t, "Pro", plan.Name)
		assert.Equal(t, int64(25), plan.MaxSeats)
		assert.Equal(t, int64(4900), plan.MonthlyPriceCents)
		assert.Equal(t, []string{"basic_reports", "csv_export"}, plan.Features)
		assert.Equal(t, []string{"basic", "evidence", "measurements"}, plan.FieldCategories)
		assert.True(t, plan.Published)
		assert.Equal(t, createdAt, plan.CreatedAt)

		// No second query expected.
		again, err := store.Get(context.Background(), "pro")
		require.NoError(t, err)
		assert.Equal(t, plan, again)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		store, mock := setupStore(t)

		mock.ExpectQuery("SELECT (.+) FROM subscription_plans").
			WithArgs("ghost").
			WillReturnError(sql.ErrNoRows)

		plan, err := store.Get(context.Background(), "ghost")
		assert.Nil(t, plan)
		assert.ErrorIs(t, err, guard.ErrNotFound)
		assert.Contains(t, err.Error(), `plan "ghost"`)
	})

	t.Run("empty id", func(t *testing.T) {
		store, _ := setupStore(t)

		plan, err := store.Get(context.Background(), "")
		assert.Nil(t, plan)
		assert.ErrorIs(t, err, guard.ErrInvalidArgument)
	})

	t.Run("storage error", func(t *testing.T) {
		store, mock := setupStore(t)

		mock.ExpectQuery("SELECT (.+) FROM subscription_plans").
			WithArgs("pro").
			WillReturnError(errors.New("connection refused"))

		plan, err := store.Get(context.Background(), "pro")
		assert.Nil(t, plan)
		assert.ErrorIs(t, err, guard.ErrUnavailable)
		assert.Contains(t, err.Error(), "connection refused")
	})

	t.Run("null arrays normalise to empty slices", func(t *testing.T) {
		store, mock := setupStore(t)

		row := proPlanRow(time.Now())
		row[10] = nil
		row[11] = nil
		mock.ExpectQuery("SELECT (.+) FROM subscription_plans").
			WithArgs("pro").
			WillReturnRows(sqlmock.NewRows(planColumns()).AddRow(row...))

		plan, err := store.Get(context.Background(), "pro")
		require.NoError(t, err)
		assert.NotNil(t, plan.Features)
		assert.Empty(t, plan.Features)
		assert.NotNil(t, plan.FieldCategories)
		assert.Empty(t, plan.FieldCategories)
	})
}

func TestStore_GetBySlug(t *testing.T) {
	store, mock := setupStore(t)

	mock.ExpectQuery("SELECT (.+) FROM subscription_plans").
		WithArgs("pro").
		WillReturnRows(sqlmock.NewRows(planColumns()).AddRow(proPlanRow(time.Now())...))

	plan, err := store.GetBySlug(context.Background(), "pro")
	require.NoError(t, err)
	assert.Equal(t, "pro", plan.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_List(t *testing.T) {
	t.Run("returns published catalog and caches it", func(t *testing.T) {
		store, mock := setupStore(t)

		rows := sqlmock.NewRows(planColumns()).
			AddRow("free", "Free", int64(3), int64(100), int64(10), int64(1),
				int64(0), int64(0), int64(0), int64(3),
				"{basic_reports}", "{basic,evidence}", true, time.Now()).
			AddRow(proPlanRow(time.Now())...)
		mock.ExpectQuery("SELECT (.+) FROM subscription_plans WHERE published = TRUE").
			WillReturnRows(rows)

		plans, err := store.List(context.Background())
		require.NoError(t, err)
		require.Len(t, plans, 2)
		assert.Equal(t, "free", plans[0].ID)
		assert.Equal(t, "pro", plans[1].ID)

		// Second read is served from the list cache.
		again, err := store.List(context.Background())
		require.NoError(t, err)
		assert.Equal(t, plans, again)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("empty catalog returns empty slice", func(t *testing.T) {
		store, mock := setupStore(t)

		mock.ExpectQuery("SELECT (.+) FROM subscription_plans WHERE published = TRUE").
			WillReturnRows(sqlmock.NewRows(planColumns()))

		plans, err := store.List(context.Background())
		require.NoError(t, err)
		assert.NotNil(t, plans)
		assert.Empty(t, plans)
	})

	t.Run("storage error", func(t *testing.T) {
		store, mock := setupStore(t)

		mock.ExpectQuery("SELECT (.+) FROM subscription_plans WHERE published = TRUE").
			WillReturnError(errors.New("connection refused"))

		plans, err := store.List(context.Background())
		assert.Nil(t, plans)
		assert.ErrorIs(t, err, guard.ErrUnavailable)
	})
}

func TestStore_Exists(t *testing.T) {
	t.Run("present", func(t *testing.T) {
		store, mock := setupStore(t)

		mock.ExpectQuery("SELECT EXISTS").
			WithArgs("pro").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

		ok, err := store.Exists(context.Background(), "pro")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("absent", func(t *testing.T) {
		store, mock := setupStore(t)

		mock.ExpectQuery("SELECT EXISTS").
			WithArgs("ghost").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

		ok, err := store.Exists(context.Background(), "ghost")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("cached plan skips the query", func(t *testing.T) {
		store, mock := setupStore(t)

		mock.ExpectQuery("SELECT (.+) FROM subscription_plans").
			WithArgs("pro").
			WillReturnRows(sqlmock.NewRows(planColumns()).AddRow(proPlanRow(time.Now())...))

		_, err := store.Get(context.Background(), "pro")
		require.NoError(t, err)

		ok, err := store.Exists(context.Background(), "pro")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("empty id", func(t *testing.T) {
		store, _ := setupStore(t)

		ok, err := store.Exists(context.Background(), "")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("storage error", func(t *testing.T) {
		store, mock := setupStore(t)

		mock.ExpectQuery("SELECT EXISTS").
			WithArgs("pro").
			WillReturnError(errors.New("connection refused"))

		ok, err := store.Exists(context.Background(), "pro")
		assert.False(t, ok)
		assert.ErrorIs(t, err, guard.ErrUnavailable)
	})
}

func TestStore_CacheMetrics(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS subscription_plans").
		WillReturnResult(sqlmock.NewResult(0, 0))

	metrics := observability.NewMetrics(prometheus.NewRegistry())
	store, err := NewStore(db, nil, metrics, time.Hour, time.Minute)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT (.+) FROM subscription_plans").
		WithArgs("pro").
		WillReturnRows(sqlmock.NewRows(planColumns()).AddRow(proPlanRow(time.Now())...))

	_, err = store.Get(context.Background(), "pro")
	require.NoError(t, err)
	_, err = store.Get(context.Background(), "pro")
	require.NoError(t, err)

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.CacheMissesTotal.WithLabelValues("plan")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.CacheHitsTotal.WithLabelValues("plan")))
}

func TestPlan_HasFeature(t *testing.T) {
	plan := &Plan{Features: []string{"basic_reports", "csv_export"}}
	assert.True(t, plan.HasFeature("csv_export"))
	assert.False(t, plan.HasFeature("sso"))
	assert.False(t, (&Plan{}).HasFeature("basic_reports"))
}

func TestIsUnlimited(t *testing.T) {
	assert.True(t, IsUnlimited(Unlimited))
	assert.False(t, IsUnlimited(0))
	assert.False(t, IsUnlimited(100))
}
