// Package store holds the session-scoped profile state shared by every view of a
// session: the profile being viewed and the popular-profiles panel.
package store

import (
	"context"
	"sync"

	"feedsync/internal/models"
	"feedsync/internal/observability"
)

// State is the profile data shared by a session's views.
type State struct {
	// PageProfile holds the viewed profile: zero or one items.
	PageProfile     models.Page[models.Profile]
	PopularProfiles models.Page[models.Profile]
}

// Clone returns a deep copy of the state.
func (s State) Clone() State {
	out := State{
		PageProfile:     s.PageProfile.Clone(),
		PopularProfiles: s.PopularProfiles.Clone(),
	}
	for i := range out.PageProfile.Results {
		out.PageProfile.Results[i] = out.PageProfile.Results[i].Clone()
	}
	for i := range out.PopularProfiles.Results {
		out.PopularProfiles.Results[i] = out.PopularProfiles.Results[i].Clone()
	}
	return out
}

// ProfileSyncTarget is a list holding denormalised copies of profile data, such as a
// post list carrying its authors' images. It returns how many items it changed.
type ProfileSyncTarget interface {
	ApplyProfilePatch(id models.ID, patch models.ProfilePatch) int
}

// ChangeKind says what a Change did.
type ChangeKind string

const (
	ChangeNavigate    ChangeKind = "navigate"
	ChangePageProfile ChangeKind = "page_profile"
	ChangePopular     ChangeKind = "popular"
	ChangePatch       ChangeKind = "patch"
)

// Change is delivered to subscribers after every committed write.
type Change struct {
	Kind       ChangeKind
	Generation uint64
	// ProfileID is set for ChangePatch and ChangePageProfile.
	ProfileID models.ID
	// Touched counts the copies a patch changed, store and attached lists together.
	Touched int
}

// Listener receives changes. Listeners run on the writer's goroutine after the store
// lock is released and may read the store.
type Listener func(Change)

// Store is the single source of truth for State. Only its methods write the state;
// readers get copies.
type Store struct {
	mu         sync.RWMutex
	state      State
	generation uint64
	targets    map[int]ProfileSyncTarget
	listeners  map[int]Listener
	nextHandle int
	log        *observability.ComponentLogger
}

// New returns an empty store at generation 1. Generation 0 is never current; the
// *At writers treat it as "unchecked".
func New() *Store {
	return &Store{
		generation: 1,
		targets:    make(map[int]ProfileSyncTarget),
		listeners:  make(map[int]Listener),
		log:        observability.NewComponentLogger("store"),
	}
}

// Generation returns the current generation token.
func (s *Store) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

// Navigate discards the state wholesale and starts a new generation. Writes tagged with
// an older generation are rejected from now on.
func (s *Store) Navigate() uint64 {
	s.mu.Lock()
	s.generation++
	s.state = State{}
	gen := s.generation
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeNavigate, Generation: gen})
	return gen
}

// SetPageProfile replaces the viewed profile with a single-item page.
func (s *Store) SetPageProfile(p models.Profile) {
	_ = s.SetPageProfileAt(context.Background(), 0, p)
}

// SetPageProfileAt is SetPageProfile for a write issued at generation gen. It returns
// ErrStaleResponse, leaving the state alone, when gen is no longer current. A zero gen
// skips the check.
func (s *Store) SetPageProfileAt(ctx context.Context, gen uint64, p models.Profile) error {
	page := models.SinglePage(p.Clone())
	return s.write(ctx, gen, Change{Kind: ChangePageProfile, ProfileID: p.ID}, func(st *State) int {
		st.PageProfile = page
		return 1
	})
}

// SetPopularProfiles replaces the popular-profiles panel.
func (s *Store) SetPopularProfiles(page models.Page[models.Profile]) {
	_ = s.SetPopularProfilesAt(context.Background(), 0, page)
}

// SetPopularProfilesAt is SetPopularProfiles guarded by a generation.
func (s *Store) SetPopularProfilesAt(ctx context.Context, gen uint64, page models.Page[models.Profile]) error {
	page = cloneProfiles(page)
	return s.write(ctx, gen, Change{Kind: ChangePopular}, func(st *State) int {
		st.PopularProfiles = page
		return len(page.Results)
	})
}

// AppendPopularProfiles appends the next page of the popular panel and takes over its
// cursor.
func (s *Store) AppendPopularProfiles(page models.Page[models.Profile]) {
	_ = s.AppendPopularProfilesAt(context.Background(), 0, page)
}

// AppendPopularProfilesAt is AppendPopularProfiles guarded by a generation.
func (s *Store) AppendPopularProfilesAt(ctx context.Context, gen uint64, page models.Page[models.Profile]) error {
	page = cloneProfiles(page)
	return s.write(ctx, gen, Change{Kind: ChangePopular}, func(st *State) int {
		st.PopularProfiles.Results = append(st.PopularProfiles.Results, page.Results...)
		st.PopularProfiles.Next = page.Next
		st.PopularProfiles.Previous = page.Previous
		if page.Count > 0 {
			st.PopularProfiles.Count = page.Count
		}
		return len(page.Results)
	})
}

// PatchProfileEverywhere applies patch to every copy of profile id: the viewed profile,
// the popular panel, and every attached list. Subscribers are notified once all copies
// agree.
func (s *Store) PatchProfileEverywhere(id models.ID, patch models.ProfilePatch) int {
	touched, _ := s.PatchProfileAt(context.Background(), 0, id, patch)
	return touched
}

// PatchProfileAt is PatchProfileEverywhere guarded by a generation.
func (s *Store) PatchProfileAt(ctx context.Context, gen uint64, id models.ID, patch models.ProfilePatch) (int, error) {
	var touched int
	err := s.write(ctx, gen, Change{Kind: ChangePatch, ProfileID: id}, func(st *State) int {
		touched = patchPage(&st.PageProfile, id, patch) + patchPage(&st.PopularProfiles, id, patch)
		for _, t := range s.targets {
			touched += t.ApplyProfilePatch(id, patch)
		}
		return touched
	})
	if err != nil {
		return 0, err
	}
	observability.PatchFanout.Observe(float64(touched))
	return touched, nil
}

// Attach registers a list to receive profile patches. The returned func detaches it.
func (s *Store) Attach(t ProfileSyncTarget) (detach func()) {
	s.mu.Lock()
	h := s.nextHandle
	s.nextHandle++
	s.targets[h] = t
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.targets, h)
			s.mu.Unlock()
		})
	}
}

// Subscribe registers fn for change notifications. The returned func unsubscribes.
func (s *Store) Subscribe(fn Listener) (unsubscribe func()) {
	s.mu.Lock()
	h := s.nextHandle
	s.nextHandle++
	s.listeners[h] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, h)
			s.mu.Unlock()
		})
	}
}

// Snapshot returns a deep copy of the state and the generation it belongs to.
func (s *Store) Snapshot() (State, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Clone(), s.generation
}

// Profile returns a copy of profile id, looking at the viewed profile first and then
// the popular panel.
func (s *Store) Profile(id models.ID) (models.Profile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.state.PageProfile.Results {
		if p.ID == id {
			return p.Clone(), true
		}
	}
	for _, p := range s.state.PopularProfiles.Results {
		if p.ID == id {
			return p.Clone(), true
		}
	}
	return models.Profile{}, false
}

// write runs fn under the write lock when gen is current (or zero) and notifies
// subscribers afterwards. Attached targets are patched under the same lock so that a
// Navigate cannot slip between the store copies and the list copies.
func (s *Store) write(ctx context.Context, gen uint64, change Change, fn func(*State) int) error {
	s.mu.Lock()
	if gen != 0 && gen != s.generation {
		current := s.generation
		s.mu.Unlock()
		observability.RecordStaleDiscard("store")
		s.log.Debug(ctx, "discard_stale_write", map[string]interface{}{
			"kind":               string(change.Kind),
			"profile_id":         change.ProfileID.String(),
			"write_generation":   gen,
			"current_generation": current,
		})
		return models.ErrStaleResponse
	}
	change.Touched = fn(&s.state)
	change.Generation = s.generation
	s.mu.Unlock()

	s.notify(change)
	return nil
}

func (s *Store) notify(change Change) {
	s.mu.RLock()
	listeners := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.mu.RUnlock()

	for _, l := range listeners {
		l(change)
	}
}

func patchPage(page *models.Page[models.Profile], id models.ID, patch models.ProfilePatch) int {
	n := 0
	for i := range page.Results {
		if page.Results[i].ID == id {
			patch.Apply(&page.Results[i])
			n++
		}
	}
	return n
}

func cloneProfiles(page models.Page[models.Profile]) models.Page[models.Profile] {
	out := page.Clone()
	for i := range out.Results {
		out.Results[i] = out.Results[i].Clone()
	}
	return out
}
