// The aggregator is warden's background worker: it refreshes the business
// gauges the API process cannot cheaply keep current, and exports each
// day's audit entries to the S3 archive. It shares the database with the
// API but runs as its own process so a slow rollup never competes with
// request traffic.
package main

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/bricksaw/warden/pkg/async"
	"github.com/bricksaw/warden/pkg/audit"
	"github.com/bricksaw/warden/pkg/billing"
	"github.com/bricksaw/warden/pkg/catalog"
	"github.com/bricksaw/warden/pkg/entitlement"
	"github.com/bricksaw/warden/pkg/guard"
	"github.com/bricksaw/warden/pkg/impersonation"
	"github.com/bricksaw/warden/pkg/observability"
	"github.com/bricksaw/warden/pkg/orgs"
	"github.com/bricksaw/warden/pkg/storage"
	"github.com/bricksaw/warden/pkg/storage/postgres"
	"github.com/bricksaw/warden/pkg/superadmin"
)

var (
	dbURL           = flag.String("db-url", getEnv("WARDEN_POSTGRES_URL", "postgres://localhost/warden?sslmode=disable"), "PostgreSQL connection URL")
	metricsAddr     = flag.String("metrics-addr", getEnv("WARDEN_AGGREGATOR_METRICS_ADDR", ":9091"), "Address for the /metrics endpoint")
	rollupSchedule  = flag.String("rollup-schedule", "* * * * *", "Cron schedule for gauge refresh (default: every minute)")
	exportSchedule  = flag.String("export-schedule", "5 0 * * *", "Cron schedule for the daily audit export (default: 00:05 UTC)")
	runOnce         = flag.Bool("run-once", false, "Run one rollup (and export, if configured) and exit")
	exportDate      = flag.String("export-date", "", "Day to export (YYYY-MM-DD). Empty means yesterday. Only used with --run-once")
	orgScanPageSize = flag.Int("org-scan-page-size", 500, "Organisations fetched per page during the storage-warning scan")
)

func main() {
	_ = godotenv.Load()
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	if level, err := logrus.ParseLevel(getEnv("WARDEN_LOG_LEVEL", "info")); err == nil {
		log.SetLevel(level)
	}

	db, err := sql.Open("postgres", *dbURL)
	if err != nil {
		log.WithError(err).Fatal("Failed to open database")
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		log.WithError(err).Fatal("Failed to ping database")
	}

	agg, err := newAggregator(db, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize aggregator")
	}

	ctx := context.Background()

	if *runOnce {
		if err := agg.refreshGauges(ctx); err != nil {
			log.WithError(err).Fatal("Gauge refresh failed")
		}
		if agg.archive != nil {
			day, err := resolveExportDay(*exportDate)
			if err != nil {
				log.WithError(err).Fatal("Invalid export date")
			}
			if err := agg.exportDay(ctx, day); err != nil {
				log.WithError(err).Fatal("Audit export failed")
			}
		}
		log.Info("Run-once aggregation completed")
		return
	}

	c := cron.New()

	if _, err := c.AddFunc(*rollupSchedule, func() {
		if err := agg.refreshGauges(ctx); err != nil {
			log.WithError(err).Error("Gauge refresh failed")
		}
	}); err != nil {
		log.WithError(err).Fatal("Failed to schedule gauge refresh")
	}

	if agg.archive != nil {
		if _, err := c.AddFunc(*exportSchedule, func() {
			yesterday := time.Now().UTC().AddDate(0, 0, -1)
			if err := agg.exportDay(ctx, yesterday); err != nil {
				log.WithError(err).Error("Audit export failed")
			}
		}); err != nil {
			log.WithError(err).Fatal("Failed to schedule audit export")
		}
	} else {
		log.Info("S3 archive not configured; audit export disabled")
	}

	metricsMux := http.NewServeMux()
	observability.RegisterMetricsEndpoint(metricsMux, agg.registry)
	metricsServer := &http.Server{Addr: *metricsAddr, Handler: metricsMux}
	go func() {
		log.WithField("addr", *metricsAddr).Info("Aggregator metrics listening")
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("Metrics server failed")
		}
	}()

	c.Start()
	log.WithFields(logrus.Fields{
		"rollup_schedule": *rollupSchedule,
		"export_schedule": *exportSchedule,
	}).Info("Warden aggregator started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	cronCtx := c.Stop()
	<-cronCtx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = metricsServer.Shutdown(shutdownCtx)
	log.Info("Warden aggregator stopped")
}

// aggregator bundles the read-side stores and the gauges they feed.
type aggregator struct {
	log      *logrus.Logger
	registry *prometheus.Registry
	metrics  *observability.Metrics

	orgs        *orgs.Store
	billing     *billing.Store
	sessions    *impersonation.Store
	superadmins *superadmin.Store
	auditLog    *audit.Store
	plans       *catalog.Store

	archive *postgres.ArchiveClient
}

func newAggregator(db *sql.DB, log *logrus.Logger) (*aggregator, error) {
	orgStore, err := orgs.NewStore(db)
	if err != nil {
		return nil, err
	}
	billingStore, err := billing.NewStore(db)
	if err != nil {
		return nil, err
	}
	sessionStore, err := impersonation.NewStore(db)
	if err != nil {
		return nil, err
	}
	superAdminStore, err := superadmin.NewStore(db)
	if err != nil {
		return nil, err
	}
	auditStore, err := audit.NewStore(db)
	if err != nil {
		return nil, err
	}
	planStore, err := catalog.NewStore(db, nil, nil, 0, 0)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()

	agg := &aggregator{
		log:         log,
		registry:    registry,
		metrics:     observability.NewMetrics(registry),
		orgs:        orgStore,
		billing:     billingStore,
		sessions:    sessionStore,
		superadmins: superAdminStore,
		auditLog:    auditStore,
		plans:       planStore,
	}

	s3cfg := loadArchiveConfig()
	if s3cfg.ArchiveEnabled() {
		archive, err := postgres.NewArchiveClient(s3cfg)
		if err != nil {
			return nil, err
		}
		agg.archive = archive
	}

	return agg, nil
}

// refreshGauges recomputes every business gauge. The rollups are
// independent, so they run concurrently; one failing query fails the tick
// without leaving the others unset.
func (a *aggregator) refreshGauges(ctx context.Context) error {
	start := time.Now()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		counts, err := a.orgs.CountByStatus(ctx)
		if err != nil {
			return err
		}
		for _, status := range []string{orgs.StatusActive, orgs.StatusArchived, orgs.StatusBlocked} {
			a.metrics.OrganisationsByStatus.WithLabelValues(status).Set(float64(counts[status]))
		}
		return nil
	})

	g.Go(func() error {
		counts, err := a.billing.CountByStatus(ctx)
		if err != nil {
			return err
		}
		for _, status := range billing.Statuses() {
			a.metrics.SubscriptionsByStatus.WithLabelValues(string(status)).Set(float64(counts[status]))
		}
		return nil
	})

	g.Go(func() error {
		live, err := a.sessions.CountLive(ctx)
		if err != nil {
			return err
		}
		a.metrics.ImpersonationSessionsLive.Set(float64(live))
		return nil
	})

	g.Go(func() error {
		active, err := a.superadmins.CountActive(ctx)
		if err != nil {
			return err
		}
		a.metrics.SuperAdminsActive.Set(float64(active))
		return nil
	})

	g.Go(func() error {
		counts, err := a.auditLog.CountByCategory(ctx)
		if err != nil {
			return err
		}
		for _, category := range audit.Categories() {
			a.metrics.AuditEntriesByCategory.WithLabelValues(string(category)).Set(float64(counts[category]))
		}
		return nil
	})

	g.Go(func() error {
		atWarning, err := a.countStorageWarnings(ctx)
		if err != nil {
			return err
		}
		a.metrics.OrganisationsAtStorageWarning.Set(float64(atWarning))
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	a.log.WithField("duration_ms", time.Since(start).Milliseconds()).Debug("Gauges refreshed")
	return nil
}

// countStorageWarnings walks the organisation roster and evaluates each
// tenant's storage standing. A full scan per tick is acceptable at
// administrative tenant counts; evaluation within a page fans out across a
// small worker pool since each organisation needs three reads.
func (a *aggregator) countStorageWarnings(ctx context.Context) (int64, error) {
	var atWarning int64

	for offset := 0; ; offset += *orgScanPageSize {
		page, err := a.orgs.List(ctx, *orgScanPageSize, offset)
		if err != nil {
			return 0, err
		}
		if len(page) == 0 {
			return atWarning, nil
		}

		errs := async.Batch(ctx, page, 8, "storage-warning scan", 30*time.Second,
			func(ctx context.Context, org *orgs.Organisation) error {
				report, err := a.evaluateStorage(ctx, org.ID)
				if err != nil {
					return fmt.Errorf("organisation %d: %w", org.ID, err)
				}
				if report.AtStorageWarning() {
					atomic.AddInt64(&atWarning, 1)
				}
				return nil
			})
		for _, err := range errs {
			a.log.WithError(err).Warn("Skipping organisation in storage-warning scan")
		}
	}
}

func (a *aggregator) evaluateStorage(ctx context.Context, organisationID int64) (*entitlement.OrganisationEntitlements, error) {
	row, err := a.billing.Get(ctx, organisationID)
	if err != nil {
		return nil, err
	}
	addOn, err := a.billing.GetStorageAddOn(ctx, organisationID)
	if err != nil {
		return nil, err
	}
	usage, err := a.orgs.GetUsage(ctx, organisationID)
	if err != nil {
		return nil, err
	}

	var plan *catalog.Plan
	if row.CurrentPlanID != nil {
		plan, err = a.plans.Get(ctx, *row.CurrentPlanID)
		if err != nil && !errors.Is(err, guard.ErrNotFound) {
			return nil, err
		}
	}

	return entitlement.Evaluate(entitlement.Input{
		Plan:            plan,
		DiscountPercent: row.DiscountPercent,
		StorageAddOn:    addOn,
		Usage:           usage,
	}), nil
}

// exportDay copies one day's audit entries to the S3 archive as JSONL.
// Strictly copy-only: the log itself is permanent and rows are never
// deleted after export.
func (a *aggregator) exportDay(ctx context.Context, day time.Time) error {
	from := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 1)

	entries, err := a.auditLog.ListCreatedBetween(ctx, from, to)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		a.log.WithField("day", from.Format("2006-01-02")).Info("No audit entries to export")
		return nil
	}

	content, err := audit.EncodeJSONL(entries)
	if err != nil {
		return err
	}

	key := postgres.ArchiveKey(from)
	if err := a.archive.PutArchive(ctx, key, bytes.NewReader(content)); err != nil {
		return err
	}

	a.log.WithFields(logrus.Fields{
		"day":      from.Format("2006-01-02"),
		"entries":  len(entries),
		"key":      key,
		"checksum": audit.ContentChecksum(content),
	}).Info("Audit export uploaded")
	return nil
}

func resolveExportDay(value string) (time.Time, error) {
	if value == "" {
		return time.Now().UTC().AddDate(0, 0, -1), nil
	}
	return time.Parse("2006-01-02", value)
}

// loadArchiveConfig reads the S3 settings with the same environment names
// the API process uses.
func loadArchiveConfig() storage.Config {
	cfg := storage.DefaultConfig()
	cfg.S3Endpoint = getEnv("WARDEN_S3_ENDPOINT", "")
	cfg.S3Region = getEnv("WARDEN_S3_REGION", "")
	cfg.S3Bucket = getEnv("WARDEN_S3_BUCKET", "")
	cfg.S3AccessKey = getEnv("WARDEN_S3_ACCESS_KEY", "")
	cfg.S3SecretKey = getEnv("WARDEN_S3_SECRET_KEY", "")
	cfg.S3UsePathStyle = getEnv("WARDEN_S3_USE_PATH_STYLE", "") == "true"
	return cfg
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
