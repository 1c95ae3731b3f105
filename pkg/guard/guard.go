package guard

import (
	"context"
	"fmt"
	"time"

	"github.com/bricksaw/warden/pkg/audit"
	"github.com/bricksaw/warden/pkg/observability"
)

// Principal identifies the authenticated caller of a privileged operation.
// ImpersonatedUserID and ImpersonationOrgID are set when the caller has a
// live impersonation session; permission checks always run against UserID.
// AuthMethod records which identity mechanism vouched for UserID (the
// pkg/identity Method values); surfaces restricted to machine callers check
// it.
type Principal struct {
	UserID             string
	AuthMethod         string
	ImpersonatedUserID *string
	ImpersonationOrgID *int64
}

// Impersonating reports whether the principal is inside a live
// impersonation session.
func (p Principal) Impersonating() bool {
	return p.ImpersonatedUserID != nil
}

// PermissionChecker answers whether a super admin holds a permission token.
type PermissionChecker interface {
	HasPermission(ctx context.Context, userID, permission string) (bool, error)
}

// Recorder appends audit entries. *audit.Recorder satisfies it.
type Recorder interface {
	Record(ctx context.Context, entry *audit.Entry) error
}

// Operation describes one privileged action: the permission it requires, the
// work itself, and the audit entry to append afterwards. AuditFirst flips
// the order for destructive writes whose evidence must land before the row
// disappears; Prepare runs between the permission check and the audit-first
// record so such operations can still capture the state they are about to
// destroy.
type Operation struct {
	Permission string
	Prepare    func(ctx context.Context) error
	Act        func(ctx context.Context) error
	Entry      *audit.Entry
	AuditFirst bool
}

// Guard runs privileged operations through check -> execute -> audit so no
// call site can mutate without a permission check or skip its audit entry.
type Guard struct {
	checker  PermissionChecker
	recorder Recorder
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// NewGuard creates a guard. Logger and metrics may be nil in tests.
func NewGuard(checker PermissionChecker, recorder Recorder, logger *observability.Logger, metrics *observability.Metrics) *Guard {
	return &Guard{
		checker:  checker,
		recorder: recorder,
		logger:   logger,
		metrics:  metrics,
	}
}

// Run executes op on behalf of principal. An anonymous or unauthorized
// principal gets ErrPermissionDenied before anything runs. Audit attribution
// is stamped here from the principal so it cannot drift from the
// authenticated identity. A failed audit write never fails the operation;
// the recorder logs and counts it.
func (g *Guard) Run(ctx context.Context, principal Principal, op Operation) error {
	if op.Act == nil {
		return fmt.Errorf("operation act is required")
	}
	if op.Permission == "" {
		return fmt.Errorf("operation permission is required")
	}
	if principal.UserID == "" {
		return fmt.Errorf("anonymous caller: %w", ErrPermissionDenied)
	}

	allowed, err := g.checker.HasPermission(ctx, principal.UserID, op.Permission)
	if err != nil {
		return fmt.Errorf("failed to check permission %s: %w", op.Permission, err)
	}
	if !allowed {
		g.countCheck(op.Permission, "denied")
		if g.logger != nil {
			g.logger.WithFields(map[string]interface{}{
				"actor":      principal.UserID,
				"permission": op.Permission,
			}).Warn("Permission denied")
		}
		return fmt.Errorf("%s: %w", op.Permission, ErrPermissionDenied)
	}
	g.countCheck(op.Permission, "granted")

	if op.Entry != nil {
		op.Entry.ActorUserID = principal.UserID
		op.Entry.ImpersonatingUserID = principal.ImpersonatedUserID
	}

	if op.Prepare != nil {
		if err := op.Prepare(ctx); err != nil {
			g.countOperation(op, "error")
			return err
		}
	}

	if op.AuditFirst && op.Entry != nil {
		g.record(ctx, op.Entry)
	}

	start := time.Now()
	if err := op.Act(ctx); err != nil {
		g.countOperation(op, "error")
		return err
	}
	g.observeDuration(op, time.Since(start))
	g.countOperation(op, "success")

	if !op.AuditFirst && op.Entry != nil {
		g.record(ctx, op.Entry)
	}

	return nil
}

func (g *Guard) record(ctx context.Context, entry *audit.Entry) {
	// The recorder has already logged and counted any failure; the primary
	// action stands either way.
	_ = g.recorder.Record(ctx, entry)
}

func (g *Guard) countCheck(permission, result string) {
	if g.metrics != nil {
		g.metrics.PermissionChecksTotal.WithLabelValues(permission, result).Inc()
	}
}

func (g *Guard) countOperation(op Operation, status string) {
	if g.metrics != nil {
		g.metrics.GuardedOperationsTotal.WithLabelValues(operationLabel(op), status).Inc()
	}
}

func (g *Guard) observeDuration(op Operation, elapsed time.Duration) {
	if g.metrics != nil {
		g.metrics.GuardedOperationDuration.WithLabelValues(operationLabel(op)).Observe(elapsed.Seconds())
	}
}

// operationLabel prefers the audit action for metric labels, falling back to
// the permission for read-only operations without an entry.
func operationLabel(op Operation) string {
	if op.Entry != nil && op.Entry.Action != "" {
		return op.Entry.Action
	}
	return op.Permission
}
