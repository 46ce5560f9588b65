package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"localsim/backend/internal/alert"
	"localsim/backend/internal/cache"
	"localsim/backend/internal/catalog"
	"localsim/backend/internal/domain"
	"localsim/backend/internal/logger"
	"localsim/backend/internal/metrics"
	"localsim/backend/internal/reconcile"
	"localsim/backend/internal/store"
	"localsim/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Options struct {
	// Policy defaults to reconcile.DefaultPolicy when nil.
	Policy            *reconcile.Policy
	CloseTimeout      time.Duration
	Catalog           catalog.Catalog
	ReportCache       cache.ReportCache
	ReportCacheTTL    time.Duration
	Notifier          alert.Notifier
	Metrics           *metrics.Metrics
	ShortageThreshold int
	Clock             func() time.Time
}

type Service struct {
	repo              store.Repository
	policy            reconcile.Policy
	closeTimeout      time.Duration
	catalog           catalog.Catalog
	reports           cache.ReportCache
	reportTTL         time.Duration
	notifier          alert.Notifier
	metrics           *metrics.Metrics
	shortageThreshold int
	clock             func() time.Time
	log               zerolog.Logger
}

func New(repo store.Repository, opts Options) *Service {
	policy := reconcile.DefaultPolicy()
	if opts.Policy != nil {
		policy = *opts.Policy
	}
	if opts.CloseTimeout <= 0 {
		opts.CloseTimeout = 15 * time.Second
	}
	if opts.Catalog == nil {
		opts.Catalog = catalog.NewSeeded()
	}
	if opts.ReportCache == nil {
		opts.ReportCache = cache.NoopReportCache{}
	}
	if opts.ReportCacheTTL <= 0 {
		opts.ReportCacheTTL = 24 * time.Hour
	}
	if opts.Notifier == nil {
		opts.Notifier = alert.NoopNotifier{}
	}
	if opts.ShortageThreshold < 1 {
		opts.ShortageThreshold = 3
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	return &Service{
		repo:              repo,
		policy:            policy,
		closeTimeout:      opts.CloseTimeout,
		catalog:           opts.Catalog,
		reports:           opts.ReportCache,
		reportTTL:         opts.ReportCacheTTL,
		notifier:          opts.Notifier,
		metrics:           opts.Metrics,
		shortageThreshold: opts.ShortageThreshold,
		clock:             opts.Clock,
		log:               logger.WithComponent("service"),
	}
}

func (s *Service) now() time.Time {
	return s.clock().UTC()
}

// shiftFor loads a shift the caller is allowed to act on. Shifts of other
// operators are reported as missing unless the caller can override.
func (s *Service) shiftFor(ctx context.Context, shiftID string) (*domain.Shift, error) {
	if shiftID == "" {
		return nil, domain.NewValidationError("shift_id", "is required")
	}
	shift, err := s.repo.GetShift(ctx, shiftID)
	if err != nil {
		return nil, err
	}
	if actor, ok := ActorFromContext(ctx); ok && !actor.CanOverride() && actor.Username != shift.OperatorID {
		return nil, &domain.NotFoundError{Entity: "shift", ID: shiftID}
	}
	return shift, nil
}

// openShiftFor is shiftFor restricted to open shifts.
func (s *Service) openShiftFor(ctx context.Context, shiftID string) (*domain.Shift, error) {
	shift, err := s.shiftFor(ctx, shiftID)
	if err != nil {
		return nil, err
	}
	if !shift.IsOpen() {
		return nil, &domain.NotFoundError{Entity: "open shift", ID: shiftID}
	}
	return shift, nil
}

// operatorFor resolves which operator a call acts for. Without an actor in the
// context the requested id is taken as is.
func operatorFor(ctx context.Context, requested string) (string, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		if requested == "" {
			return "", domain.NewValidationError("operator_id", "is required")
		}
		return requested, nil
	}
	if requested == "" || requested == actor.Username {
		return actor.Username, nil
	}
	if !actor.CanOverride() {
		return "", &domain.NotFoundError{Entity: "operator", ID: requested}
	}
	return requested, nil
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(context.WithoutCancel(ctx), domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.now(),
	}); err != nil {
		s.log.Warn().Err(err).
			Str("action", action).
			Str("entity_type", entityType).
			Str("entity_id", entityID).
			Msg("failed to write audit log")
	}
}
