package superadmin

import (
	"context"
	"fmt"

	"github.com/bricksaw/warden/pkg/audit"
	"github.com/bricksaw/warden/pkg/guard"
)

const rosterTable = "super_admins"

var errNoPermissions = fmt.Errorf("at least one permission is required: %w", guard.ErrInvalidArgument)

func unknownPermissionError(p Permission) error {
	return fmt.Errorf("unknown permission %q: %w", p, guard.ErrInvalidArgument)
}

// normalizeTokens validates and deduplicates a requested permission set,
// preserving caller order.
func normalizeTokens(permissions []Permission) ([]string, error) {
	if len(permissions) == 0 {
		return nil, errNoPermissions
	}

	seen := make(map[Permission]bool, len(permissions))
	tokens := make([]string, 0, len(permissions))
	for _, p := range permissions {
		if !p.Valid() {
			return nil, unknownPermissionError(p)
		}
		if seen[p] {
			continue
		}
		seen[p] = true
		tokens = append(tokens, string(p))
	}

	return tokens, nil
}

// Service runs roster management through the guard pipeline. Every mutation
// requires manage-super-admins and writes a user_management audit entry;
// reads carry the same permission without an entry.
type Service struct {
	store *Store
	guard *guard.Guard
}

// NewService creates the roster management service.
func NewService(store *Store, g *guard.Guard) *Service {
	return &Service{store: store, guard: g}
}

// Grant upserts an active super admin with the given permissions. The first
// roster record is created out of band; Grant always runs under an existing
// manage-super-admins holder.
func (s *Service) Grant(ctx context.Context, principal guard.Principal, userID string, permissions []Permission) (*SuperAdmin, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id is required: %w", guard.ErrInvalidArgument)
	}
	tokens, err := normalizeTokens(permissions)
	if err != nil {
		return nil, err
	}

	var granted *SuperAdmin
	err = s.guard.Run(ctx, principal, guard.Operation{
		Permission: PermissionManageSuperAdmins.String(),
		Act: func(ctx context.Context) error {
			var actErr error
			granted, actErr = s.store.Grant(ctx, userID, tokens, principal.UserID)
			return actErr
		},
		Entry: &audit.Entry{
			Action:      "grant_super_admin",
			Category:    audit.CategoryUserManagement,
			TargetTable: strPtr(rosterTable),
			TargetID:    strPtr(userID),
			Payload:     audit.SuperAdminChange{Permissions: tokens, Active: boolPtr(true)},
		},
	})
	if err != nil {
		return nil, err
	}

	return granted, nil
}

// Revoke deactivates a super admin. The permission list stays on the row but
// carries no authority until a fresh grant.
func (s *Service) Revoke(ctx context.Context, principal guard.Principal, userID string) error {
	if userID == "" {
		return fmt.Errorf("user id is required: %w", guard.ErrInvalidArgument)
	}

	return s.guard.Run(ctx, principal, guard.Operation{
		Permission: PermissionManageSuperAdmins.String(),
		Act: func(ctx context.Context) error {
			return s.store.Deactivate(ctx, userID)
		},
		Entry: &audit.Entry{
			Action:      "revoke_super_admin",
			Category:    audit.CategoryUserManagement,
			TargetTable: strPtr(rosterTable),
			TargetID:    strPtr(userID),
			Payload:     audit.SuperAdminChange{Active: boolPtr(false)},
		},
	})
}

// SetPermissions replaces a super admin's permission list without touching
// the active flag.
func (s *Service) SetPermissions(ctx context.Context, principal guard.Principal, userID string, permissions []Permission) (*SuperAdmin, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id is required: %w", guard.ErrInvalidArgument)
	}
	tokens, err := normalizeTokens(permissions)
	if err != nil {
		return nil, err
	}

	var updated *SuperAdmin
	err = s.guard.Run(ctx, principal, guard.Operation{
		Permission: PermissionManageSuperAdmins.String(),
		Act: func(ctx context.Context) error {
			var actErr error
			updated, actErr = s.store.SetPermissions(ctx, userID, tokens)
			return actErr
		},
		Entry: &audit.Entry{
			Action:      "set_super_admin_permissions",
			Category:    audit.CategoryUserManagement,
			TargetTable: strPtr(rosterTable),
			TargetID:    strPtr(userID),
			Payload:     audit.SuperAdminChange{Permissions: tokens},
		},
	})
	if err != nil {
		return nil, err
	}

	return updated, nil
}

// Get fetches one roster record.
func (s *Service) Get(ctx context.Context, principal guard.Principal, userID string) (*SuperAdmin, error) {
	var admin *SuperAdmin
	err := s.guard.Run(ctx, principal, guard.Operation{
		Permission: PermissionManageSuperAdmins.String(),
		Act: func(ctx context.Context) error {
			var actErr error
			admin, actErr = s.store.Get(ctx, userID)
			return actErr
		},
	})
	if err != nil {
		return nil, err
	}

	return admin, nil
}

// List returns the whole roster.
func (s *Service) List(ctx context.Context, principal guard.Principal) ([]*SuperAdmin, error) {
	var admins []*SuperAdmin
	err := s.guard.Run(ctx, principal, guard.Operation{
		Permission: PermissionManageSuperAdmins.String(),
		Act: func(ctx context.Context) error {
			var actErr error
			admins, actErr = s.store.List(ctx)
			return actErr
		},
	})
	if err != nil {
		return nil, err
	}

	return admins, nil
}

func strPtr(s string) *string { return &s }

func boolPtr(b bool) *bool { return &b }
