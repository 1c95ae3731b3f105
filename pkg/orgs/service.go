package orgs

import (
	"context"
	"fmt"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/bricksaw/warden/pkg/audit"
	"github.com/bricksaw/warden/pkg/guard"
	"github.com/bricksaw/warden/pkg/observability"
	"github.com/bricksaw/warden/pkg/superadmin"
)

const organisationsTable = "organisations"

// Service runs organisation lifecycle management through the guard pipeline.
// Mutations require edit-all-organisations and write exactly one audit entry
// of category organisation each; reads require view-all-organisations.
type Service struct {
	store  *Store
	guard  *guard.Guard
	logger *observability.Logger
}

// NewService creates the lifecycle service.
func NewService(store *Store, g *guard.Guard, logger *observability.Logger) *Service {
	return &Service{store: store, guard: g, logger: logger}
}

// Get fetches one organisation.
func (s *Service) Get(ctx context.Context, principal guard.Principal, id int64) (*Organisation, error) {
	if id <= 0 {
		return nil, fmt.Errorf("organisation id must be positive: %w", guard.ErrInvalidArgument)
	}

	var org *Organisation
	err := s.guard.Run(ctx, principal, guard.Operation{
		Permission: superadmin.PermissionViewAllOrganisations.String(),
		Act: func(ctx context.Context) error {
			var actErr error
			org, actErr = s.store.Get(ctx, id)
			return actErr
		},
	})
	if err != nil {
		return nil, err
	}

	return org, nil
}

// Snapshot returns the organisation together with its live usage counters.
// The two rows live in independent tables and are read in parallel.
func (s *Service) Snapshot(ctx context.Context, principal guard.Principal, id int64) (*Snapshot, error) {
	if id <= 0 {
		return nil, fmt.Errorf("organisation id must be positive: %w", guard.ErrInvalidArgument)
	}

	var snapshot *Snapshot
	err := s.guard.Run(ctx, principal, guard.Operation{
		Permission: superadmin.PermissionViewAllOrganisations.String(),
		Act: func(ctx context.Context) error {
			var org *Organisation
			var usage *Usage

			group, ctx := errgroup.WithContext(ctx)
			group.Go(func() error {
				var err error
				org, err = s.store.Get(ctx, id)
				return err
			})
			group.Go(func() error {
				var err error
				usage, err = s.store.GetUsage(ctx, id)
				return err
			})
			if err := group.Wait(); err != nil {
				return err
			}

			snapshot = &Snapshot{Organisation: org, Usage: usage}
			return nil
		},
	})
	if err != nil {
		return nil, err
	}

	return snapshot, nil
}

// List returns a page of organisations, newest first, plus the total count
// for pagination.
func (s *Service) List(ctx context.Context, principal guard.Principal, limit, offset int) ([]*Organisation, int64, error) {
	var organisations []*Organisation
	var total int64
	err := s.guard.Run(ctx, principal, guard.Operation{
		Permission: superadmin.PermissionViewAllOrganisations.String(),
		Act: func(ctx context.Context) error {
			var actErr error
			organisations, actErr = s.store.List(ctx, limit, offset)
			if actErr != nil {
				return actErr
			}
			total, actErr = s.store.Count(ctx)
			return actErr
		},
	})
	if err != nil {
		return nil, 0, err
	}

	return organisations, total, nil
}

// Update edits the organisation's content fields.
func (s *Service) Update(ctx context.Context, principal guard.Principal, id int64, params UpdateParams) (*Organisation, error) {
	if id <= 0 {
		return nil, fmt.Errorf("organisation id must be positive: %w", guard.ErrInvalidArgument)
	}
	if params.Name == nil {
		return nil, fmt.Errorf("no fields to update: %w", guard.ErrInvalidArgument)
	}
	if *params.Name == "" {
		return nil, fmt.Errorf("organisation name must not be empty: %w", guard.ErrInvalidArgument)
	}

	return s.mutate(ctx, principal, id, "update_organisation", func(ctx context.Context) (*Organisation, error) {
		return s.store.Update(ctx, id, params)
	})
}

// Archive hides the organisation from normal use. Archiving an archived
// organisation is a no-op that still audits the (identical) state.
func (s *Service) Archive(ctx context.Context, principal guard.Principal, id int64) (*Organisation, error) {
	if id <= 0 {
		return nil, fmt.Errorf("organisation id must be positive: %w", guard.ErrInvalidArgument)
	}

	return s.mutate(ctx, principal, id, "archive_organisation", func(ctx context.Context) (*Organisation, error) {
		return s.store.SetArchived(ctx, id, true)
	})
}

// Restore brings an archived organisation back.
func (s *Service) Restore(ctx context.Context, principal guard.Principal, id int64) (*Organisation, error) {
	if id <= 0 {
		return nil, fmt.Errorf("organisation id must be positive: %w", guard.ErrInvalidArgument)
	}

	return s.mutate(ctx, principal, id, "restore_organisation", func(ctx context.Context) (*Organisation, error) {
		return s.store.SetArchived(ctx, id, false)
	})
}

// Block locks the organisation out with a stated reason. An empty reason is
// refused before anything runs: no mutation, no audit entry.
func (s *Service) Block(ctx context.Context, principal guard.Principal, id int64, reason string) (*Organisation, error) {
	if id <= 0 {
		return nil, fmt.Errorf("organisation id must be positive: %w", guard.ErrInvalidArgument)
	}
	if reason == "" {
		return nil, fmt.Errorf("block reason is required: %w", guard.ErrInvalidArgument)
	}

	return s.mutate(ctx, principal, id, "block_organisation", func(ctx context.Context) (*Organisation, error) {
		return s.store.SetBlocked(ctx, id, true, reason)
	})
}

// Unblock lifts the block and clears its reason.
func (s *Service) Unblock(ctx context.Context, principal guard.Principal, id int64) (*Organisation, error) {
	if id <= 0 {
		return nil, fmt.Errorf("organisation id must be positive: %w", guard.ErrInvalidArgument)
	}

	return s.mutate(ctx, principal, id, "unblock_organisation", func(ctx context.Context) (*Organisation, error) {
		return s.store.SetBlocked(ctx, id, false, "")
	})
}

// mutate wraps one lifecycle write in the guard pipeline, reading the row
// first so the audit entry carries before and after state.
func (s *Service) mutate(ctx context.Context, principal guard.Principal, id int64, action string, write func(ctx context.Context) (*Organisation, error)) (*Organisation, error) {
	entry := &audit.Entry{
		Action:               action,
		Category:             audit.CategoryOrganisation,
		TargetTable:          strPtr(organisationsTable),
		TargetID:             strPtr(strconv.FormatInt(id, 10)),
		TargetOrganisationID: &id,
	}

	var updated *Organisation
	err := s.guard.Run(ctx, principal, guard.Operation{
		Permission: superadmin.PermissionEditAllOrganisations.String(),
		Act: func(ctx context.Context) error {
			current, err := s.store.Get(ctx, id)
			if err != nil {
				return err
			}

			updated, err = write(ctx)
			if err != nil {
				return err
			}

			entry.Payload = audit.OrganisationChange{
				Before: auditState(current),
				After:  auditState(updated),
			}
			return nil
		},
		Entry: entry,
	})
	if err != nil {
		return nil, err
	}

	if s.logger != nil {
		s.logger.WithFields(map[string]interface{}{
			"organisation": id,
			"action":       action,
			"status":       updated.Status(),
		}).Info("Organisation lifecycle updated")
	}

	return updated, nil
}

// DeletePermanently removes the organisation and its usage counters
// outright. Nothing survives to diff afterwards, so the audit entry carries
// the before state and lands before the destructive write.
func (s *Service) DeletePermanently(ctx context.Context, principal guard.Principal, id int64) error {
	if id <= 0 {
		return fmt.Errorf("organisation id must be positive: %w", guard.ErrInvalidArgument)
	}

	entry := &audit.Entry{
		Action:               "delete_organisation",
		Category:             audit.CategoryOrganisation,
		TargetTable:          strPtr(organisationsTable),
		TargetID:             strPtr(strconv.FormatInt(id, 10)),
		TargetOrganisationID: &id,
	}

	err := s.guard.Run(ctx, principal, guard.Operation{
		Permission: superadmin.PermissionEditAllOrganisations.String(),
		Prepare: func(ctx context.Context) error {
			current, err := s.store.Get(ctx, id)
			if err != nil {
				return err
			}
			entry.Payload = audit.OrganisationChange{Before: auditState(current)}
			return nil
		},
		Act: func(ctx context.Context) error {
			return s.store.Delete(ctx, id)
		},
		Entry:      entry,
		AuditFirst: true,
	})
	if err != nil {
		return err
	}

	if s.logger != nil {
		s.logger.WithFields(map[string]interface{}{
			"organisation": id,
			"actor":        principal.UserID,
		}).Warn("Organisation deleted permanently")
	}

	return nil
}

// SetUsage replaces all usage counters for one organisation. The
// usage-source surface is machine-to-machine: the service token at the
// transport layer is the authorisation, and counter maintenance is
// telemetry rather than an admin action, so nothing is audited.
func (s *Service) SetUsage(ctx context.Context, usage *Usage) error {
	if err := s.store.SetUsage(ctx, usage); err != nil {
		return err
	}

	if s.logger != nil {
		s.logger.WithFields(map[string]interface{}{
			"organisation": usage.OrganisationID,
			"seats":        usage.SeatsCount,
			"records":      usage.RecordsCount,
			"reports":      usage.ReportsCount,
			"storage":      usage.StorageBytes,
		}).Debug("Usage counters replaced")
	}

	return nil
}

// AdjustUsage adds delta (which may be negative) to one counter, clamping
// at zero. Unguarded and unaudited for the same reason as SetUsage.
func (s *Service) AdjustUsage(ctx context.Context, organisationID int64, resource Resource, delta int64) (*Usage, error) {
	usage, err := s.store.AdjustUsage(ctx, organisationID, resource, delta)
	if err != nil {
		return nil, err
	}

	if s.logger != nil {
		s.logger.WithFields(map[string]interface{}{
			"organisation": organisationID,
			"resource":     resource.String(),
			"delta":        delta,
			"current":      usage.Count(resource),
		}).Debug("Usage counter adjusted")
	}

	return usage, nil
}

func auditState(o *Organisation) audit.OrganisationState {
	return audit.OrganisationState{
		Name:          o.Name,
		Archived:      o.Archived,
		Blocked:       o.Blocked,
		BlockedReason: o.BlockedReason,
	}
}

func strPtr(s string) *string { return &s }
