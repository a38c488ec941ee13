// Package follow performs optimistic follow and unfollow transitions and reconciles
// every rendered copy of the affected profile.
package follow

import (
	"context"
	"strings"
	"sync"

	"feedsync/internal/models"
	"feedsync/internal/observability"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

const placeholderPrefix = "pending-"

// PlaceholderID returns a fresh local id standing in for a relationship the server has
// not confirmed yet.
func PlaceholderID() models.ID {
	return models.ID(placeholderPrefix + uuid.NewString())
}

// IsPlaceholder reports whether id was issued by PlaceholderID.
func IsPlaceholder(id models.ID) bool {
	return strings.HasPrefix(string(id), placeholderPrefix)
}

// ProfileStore is the part of the store the coordinator writes through.
type ProfileStore interface {
	Generation() uint64
	PatchProfileAt(ctx context.Context, gen uint64, id models.ID, patch models.ProfilePatch) (int, error)
}

// Invalidator drops cached pages that embed a profile's follow state.
type Invalidator interface {
	InvalidateProfile(ctx context.Context, profileID string)
}

// Coordinator runs the per-profile state machine
// NotFollowing -> Pending -> Following -> Pending -> NotFollowing.
// At most one mutation per profile is pending at a time.
type Coordinator struct {
	rel   Relationships
	store ProfileStore
	cache Invalidator
	log   *observability.ComponentLogger

	mu      sync.Mutex
	pending map[models.ID]models.MutationOp
}

// NewCoordinator builds a coordinator. cache may be nil.
func NewCoordinator(rel Relationships, store ProfileStore, cache Invalidator) *Coordinator {
	return &Coordinator{
		rel:     rel,
		store:   store,
		cache:   cache,
		log:     observability.NewComponentLogger("follow"),
		pending: make(map[models.ID]models.MutationOp),
	}
}

// Pending reports whether a mutation on id is in flight.
func (c *Coordinator) Pending(id models.ID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pending[id]
	return ok
}

func (c *Coordinator) acquire(id models.ID, op models.MutationOp) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.pending[id]; busy {
		return false
	}
	c.pending[id] = op
	return true
}

func (c *Coordinator) release(id models.ID) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// Follow makes the session user follow p. The follow is shown everywhere immediately
// with a placeholder relationship id, then replaced by the server's id. On failure the
// pre-call id and count are restored and a *MutationError matching ErrFollowFailed is
// returned. The returned profile is p as it stands after the call.
func (c *Coordinator) Follow(ctx context.Context, p models.Profile) (models.Profile, error) {
	if p.IsOwner {
		return p, models.ErrOwnProfile
	}
	if !c.acquire(p.ID, models.OpFollow) {
		observability.RecordMutation(string(models.OpFollow), "rejected")
		return p, models.ErrMutationInProgress
	}
	defer c.release(p.ID)
	if p.FollowingID != nil {
		return p, models.ErrAlreadyFollowing
	}

	span, ctx := observability.StartMutationSpan(ctx, string(models.OpFollow), p.ID.String())
	defer span.End()

	gen := c.store.Generation()
	prior := p.Clone()

	// Counts move relative to each copy so that a rollback restores copies that
	// disagreed before the call to their own values.
	optimistic := models.ProfilePatch{}.
		WithFollowing(PlaceholderID()).
		WithFollowersDelta(1)
	c.reconcile(ctx, gen, p.ID, optimistic)

	rel, err := c.rel.Create(ctx, p.ID)
	if err != nil {
		rollback := models.ProfilePatch{}.
			WithoutFollowing().
			WithFollowersDelta(-1)
		c.reconcile(ctx, gen, p.ID, rollback)

		merr := &models.MutationError{Op: models.OpFollow, ProfileID: p.ID, Cause: err}
		span.SetError(merr)
		observability.RecordMutation(string(models.OpFollow), "rolled_back")
		c.log.Warn(ctx, "follow", merr, map[string]interface{}{"profile_id": p.ID.String()})
		return prior, merr
	}

	confirmed := models.ProfilePatch{}.WithFollowing(rel.ID)
	stale := !c.reconcile(ctx, gen, p.ID, confirmed)
	c.invalidate(ctx, p.ID)

	span.AddAttributes(attribute.String("relationship.id", rel.ID.String()))
	c.recordSuccess(ctx, models.OpFollow, p.ID, stale)

	out := prior
	optimistic.Apply(&out)
	confirmed.Apply(&out)
	return out, nil
}

// Unfollow deletes the session user's follow relationship with p. The unfollow is shown
// everywhere immediately; on failure the prior relationship id and count are restored and
// a *MutationError matching ErrUnfollowFailed is returned.
func (c *Coordinator) Unfollow(ctx context.Context, p models.Profile) (models.Profile, error) {
	if !c.acquire(p.ID, models.OpUnfollow) {
		observability.RecordMutation(string(models.OpUnfollow), "rejected")
		return p, models.ErrMutationInProgress
	}
	defer c.release(p.ID)
	if p.FollowingID == nil {
		return p, models.ErrNotFollowing
	}
	if IsPlaceholder(*p.FollowingID) {
		// Copy taken while a follow was still unconfirmed.
		return p, models.ErrMutationInProgress
	}

	span, ctx := observability.StartMutationSpan(ctx, string(models.OpUnfollow), p.ID.String())
	defer span.End()

	gen := c.store.Generation()
	prior := p.Clone()
	relID := *prior.FollowingID
	span.AddAttributes(attribute.String("relationship.id", relID.String()))

	optimistic := models.ProfilePatch{}.
		WithoutFollowing().
		WithFollowersDelta(-1)
	c.reconcile(ctx, gen, p.ID, optimistic)

	if err := c.rel.Delete(ctx, relID); err != nil {
		rollback := models.ProfilePatch{}.
			WithFollowing(relID).
			WithFollowersDelta(1)
		c.reconcile(ctx, gen, p.ID, rollback)

		merr := &models.MutationError{Op: models.OpUnfollow, ProfileID: p.ID, Cause: err}
		span.SetError(merr)
		observability.RecordMutation(string(models.OpUnfollow), "rolled_back")
		c.log.Warn(ctx, "unfollow", merr, map[string]interface{}{
			"profile_id":      p.ID.String(),
			"relationship_id": relID.String(),
		})
		return prior, merr
	}

	// Clear the relationship on copies that arrived while the request was in flight.
	stale := !c.reconcile(ctx, gen, p.ID, models.ProfilePatch{}.WithoutFollowing())
	c.invalidate(ctx, p.ID)
	c.recordSuccess(ctx, models.OpUnfollow, p.ID, stale)

	out := prior
	optimistic.Apply(&out)
	return out, nil
}

// reconcile patches every copy of id unless the store moved past gen. It reports
// whether the patch was applied.
func (c *Coordinator) reconcile(ctx context.Context, gen uint64, id models.ID, patch models.ProfilePatch) bool {
	touched, err := c.store.PatchProfileAt(ctx, gen, id, patch)
	if err != nil {
		c.log.Debug(ctx, "reconcile", map[string]interface{}{
			"profile_id": id.String(),
			"generation": gen,
			"error":      err.Error(),
		})
		return false
	}
	c.log.Debug(ctx, "reconcile", map[string]interface{}{
		"profile_id": id.String(),
		"touched":    touched,
	})
	return true
}

func (c *Coordinator) invalidate(ctx context.Context, id models.ID) {
	if c.cache != nil {
		c.cache.InvalidateProfile(ctx, id.String())
	}
}

func (c *Coordinator) recordSuccess(ctx context.Context, op models.MutationOp, id models.ID, stale bool) {
	outcome := "ok"
	if stale {
		outcome = "stale"
	}
	observability.RecordMutation(string(op), outcome)
	c.log.Info(ctx, string(op), map[string]interface{}{
		"profile_id": id.String(),
		"stale":      stale,
	})
}
