// Package catalog serves the subscription plan catalog.
//
// # Overview
//
// Plans are identified by slug (free, pro, enterprise) and define the limit
// and pricing surface the entitlement evaluator works from. A limit of
// Unlimited (-1) is a sentinel, never arithmetic input. Reads go through an
// in-process expirable LRU so the hot path (every entitlement evaluation
// loads a plan) rarely touches Postgres.
//
// # Seeding
//
// The catalog is seeded from a YAML file at startup: missing plans are
// inserted, draft (unpublished) plans are updated in place, and published
// plans are immutable. Seed drift against a published plan logs a warning
// and is skipped. With watching enabled the seed file is re-applied on
// change, so a catalog edit lands without a restart.
//
// # Usage Example
//
//	store, err := catalog.NewStore(db, logger, metrics, time.Hour, 5*time.Minute)
//	if err != nil {
//		return err
//	}
//	if err := store.SeedFromFile(ctx, cfg.Catalog.SeedPath); err != nil {
//		return err
//	}
//	plan, err := store.Get(ctx, "pro")
//
// # Related Packages
//
//   - pkg/entitlement: evaluates usage against plan limits
//   - pkg/billing: validates plan overrides against the catalog
package catalog
