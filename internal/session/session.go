// Package session wires the synchronisation core for one signed-in user: the shared
// profile store, the follow coordinator and the lists rendered by the views.
package session

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"feedsync/internal/apiclient"
	"feedsync/internal/cache"
	"feedsync/internal/featureflags"
	"feedsync/internal/follow"
	"feedsync/internal/listing"
	"feedsync/internal/models"
	"feedsync/internal/observability"
	"feedsync/internal/pagination"
	"feedsync/internal/store"

	"golang.org/x/sync/errgroup"
)

const (
	profilesPath = "/profiles/"
	popularPath  = "/profiles/?ordering=-followers_count"
)

// ProfilePath is the read endpoint of a single profile.
func ProfilePath(id models.ID) string {
	return fmt.Sprintf("/profiles/%s", url.PathEscape(id.String()))
}

// PostsPath is the first page of the posts authored by profile id. With authorState the
// server denormalises the author's follow state onto every post.
func PostsPath(id models.ID, authorState bool) string {
	path := "/posts/?owner__profile=" + url.QueryEscape(id.String())
	if authorState {
		path += "&author_state=1"
	}
	return path
}

// Options configures a Session.
type Options struct {
	API apiclient.API
	// Cache may be nil. It is only used when the page_cache flag is on.
	Cache    *cache.PageCache
	Flags    *featureflags.Manager
	Username string
}

// Session is the composition root for one user. Views read and mutate profile data only
// through it.
type Session struct {
	api        apiclient.API
	username   string
	cache      *cache.PageCache
	flags      *featureflags.Manager
	authorSync bool
	log        *observability.ComponentLogger

	store    *store.Store
	follow   *follow.Coordinator
	popular  *pagination.Fetcher[models.Profile]
	profiles *listing.Controller[models.Profile]

	mu             sync.Mutex
	posts          *listing.Controller[models.Post]
	detachPosts    func()
	detachProfiles func()
	profileID      models.ID
	popularLoading bool
}

// New builds a session around opts.API.
func New(opts Options) *Session {
	pageCache := opts.Cache
	if !opts.Flags.Enabled(featureflags.PageCache, opts.Username) {
		pageCache = nil
	}

	st := store.New()
	s := &Session{
		api:        opts.API,
		username:   opts.Username,
		cache:      pageCache,
		flags:      opts.Flags,
		authorSync: opts.Flags.Enabled(featureflags.PostAuthorSync, opts.Username),
		log:        observability.NewComponentLogger("session"),
		store:      st,
		follow:     follow.NewCoordinator(follow.NewRelationships(opts.API), st, pageCache),
		popular: pagination.NewFetcher[models.Profile](opts.API, "popular_profiles",
			pagination.WithCache(pageCache, cache.PopularTag)),
		profiles: listing.New[models.Profile](
			pagination.NewFetcher[models.Profile](opts.API, "profiles", pagination.WithCache(pageCache, cache.PopularTag)),
			"profiles"),
	}
	s.posts, _ = s.newPostList("")
	s.detachProfiles = st.Attach(listing.NewProfileListSync(s.profiles))
	return s
}

// newPostList builds the post list of profile id. Its pages are cached under the
// profile's tag so a follow mutation on the author invalidates them.
func (s *Session) newPostList(id models.ID) (*listing.Controller[models.Post], *pagination.Fetcher[models.Post]) {
	var opts []pagination.Option
	if id != "" {
		opts = append(opts, pagination.WithCache(s.cache, cache.ProfileTag(id.String())))
	}
	f := pagination.NewFetcher[models.Post](s.api, "posts", opts...)
	return listing.New[models.Post](f, "posts"), f
}

// AuthorSync reports whether post cards carry their author's follow state.
func (s *Session) AuthorSync() bool { return s.authorSync }

// Flags evaluates every configured feature flag for the session user.
func (s *Session) Flags() map[string]bool {
	return s.flags.Snapshot(s.username)
}

// Username returns the session user.
func (s *Session) Username() string { return s.username }

// OpenProfile navigates to profile id. The profile, the first page of its posts and the
// popular panel are fetched concurrently; results are committed only if no later
// navigation happened meanwhile (ErrStaleResponse otherwise). A failed popular panel
// load is logged and leaves the panel empty.
func (s *Session) OpenProfile(ctx context.Context, id models.ID) error {
	ctx = observability.EnsureCorrelationID(ctx)
	gen := s.store.Navigate()
	ctx = observability.WithGeneration(ctx, gen)

	posts, postsFetcher := s.newPostList(id)

	// Install the list only if no later navigation got in between; the last
	// navigation to take the lock is the one that stays installed.
	s.mu.Lock()
	if s.store.Generation() != gen {
		s.mu.Unlock()
		s.log.Debug(ctx, "open_profile", map[string]interface{}{
			"profile_id": id.String(),
			"discarded":  true,
		})
		return models.ErrStaleResponse
	}
	postsGen := posts.Begin()
	detach := s.store.Attach(listing.NewPostAuthorSync(posts, s.authorSync))
	oldPosts, oldDetach := s.posts, s.detachPosts
	s.posts, s.detachPosts, s.profileID = posts, detach, id
	s.popularLoading = false
	s.mu.Unlock()

	if oldDetach != nil {
		oldDetach()
	}
	oldPosts.Reset()

	var (
		profile    models.Profile
		firstPage  *models.Page[models.Post]
		popular    *models.Page[models.Profile]
		popularErr error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.api.Get(gctx, ProfilePath(id), &profile)
	})
	g.Go(func() error {
		var err error
		firstPage, err = postsFetcher.FetchPage(gctx, PostsPath(id, s.authorSync))
		return err
	})
	g.Go(func() error {
		popular, popularErr = s.popular.FetchPage(gctx, popularPath)
		return nil
	})
	if err := g.Wait(); err != nil {
		_ = posts.CompleteInitial(ctx, postsGen, nil, err)
		s.log.Warn(ctx, "open_profile", err, map[string]interface{}{"profile_id": id.String()})
		return err
	}

	s.normalise(&profile)
	if err := s.store.SetPageProfileAt(ctx, gen, profile); err != nil {
		// Superseded: release the list so it never stays loading.
		posts.Reset()
		return err
	}
	if err := posts.CompleteInitial(ctx, postsGen, firstPage, nil); err != nil {
		return err
	}
	if popularErr != nil {
		s.log.Warn(ctx, "open_profile", popularErr, map[string]interface{}{"panel": "popular"})
	} else if err := s.store.SetPopularProfilesAt(ctx, gen, s.normalisePage(*popular)); err != nil {
		return err
	}

	s.log.Info(ctx, "open_profile", map[string]interface{}{
		"profile_id": id.String(),
		"posts":      posts.Len(),
		"has_more":   posts.HasMore(),
	})
	return nil
}

// LoadPopularProfiles (re)loads the popular-profiles panel.
func (s *Session) LoadPopularProfiles(ctx context.Context) error {
	gen := s.store.Generation()
	page, err := s.popular.FetchPage(ctx, popularPath)
	if err != nil {
		return err
	}
	return s.store.SetPopularProfilesAt(ctx, gen, s.normalisePage(*page))
}

// MorePopular appends the next page of the popular panel. Like a list controller it
// returns ErrNoMoreData at the end and ErrLoadInProgress while a load runs.
func (s *Session) MorePopular(ctx context.Context) error {
	s.mu.Lock()
	if s.popularLoading {
		s.mu.Unlock()
		return models.ErrLoadInProgress
	}
	st, gen := s.store.Snapshot()
	if !st.PopularProfiles.HasNext() {
		s.mu.Unlock()
		return models.ErrNoMoreData
	}
	s.popularLoading = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.popularLoading = false
		s.mu.Unlock()
	}()

	page, err := s.popular.FetchNext(ctx, &st.PopularProfiles)
	if err != nil {
		return err
	}
	return s.store.AppendPopularProfilesAt(ctx, gen, s.normalisePage(*page))
}

// BrowseProfiles loads the first page of all profiles into Profiles().
func (s *Session) BrowseProfiles(ctx context.Context) error {
	return s.profiles.LoadInitial(ctx, profilesPath)
}

// Follow follows profile id as currently shown.
func (s *Session) Follow(ctx context.Context, id models.ID) (models.Profile, error) {
	p, err := s.lookup(id)
	if err != nil {
		return models.Profile{}, err
	}
	return s.follow.Follow(observability.EnsureCorrelationID(ctx), p)
}

// Unfollow unfollows profile id as currently shown.
func (s *Session) Unfollow(ctx context.Context, id models.ID) (models.Profile, error) {
	p, err := s.lookup(id)
	if err != nil {
		return models.Profile{}, err
	}
	return s.follow.Unfollow(observability.EnsureCorrelationID(ctx), p)
}

// ToggleFollow follows or unfollows id depending on its current state.
func (s *Session) ToggleFollow(ctx context.Context, id models.ID) (models.Profile, error) {
	p, err := s.lookup(id)
	if err != nil {
		return models.Profile{}, err
	}
	ctx = observability.EnsureCorrelationID(ctx)
	if p.Following() {
		return s.follow.Unfollow(ctx, p)
	}
	return s.follow.Follow(ctx, p)
}

func (s *Session) lookup(id models.ID) (models.Profile, error) {
	if p, ok := s.store.Profile(id); ok {
		return p, nil
	}
	for _, p := range s.profiles.Items() {
		if p.ID == id {
			return p, nil
		}
	}
	return models.Profile{}, fmt.Errorf("profile %s: %w", id, models.ErrProfileNotLoaded)
}

// Posts returns the post list of the profile being viewed.
func (s *Session) Posts() *listing.Controller[models.Post] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.posts
}

// Profiles returns the browse list filled by BrowseProfiles.
func (s *Session) Profiles() *listing.Controller[models.Profile] {
	return s.profiles
}

// CurrentProfile returns the profile being viewed.
func (s *Session) CurrentProfile() (models.Profile, bool) {
	s.mu.Lock()
	id := s.profileID
	s.mu.Unlock()
	if id == "" {
		return models.Profile{}, false
	}
	return s.store.Profile(id)
}

// State returns a copy of the shared profile state and its generation.
func (s *Session) State() (store.State, uint64) {
	return s.store.Snapshot()
}

// Subscribe registers fn for store changes.
func (s *Session) Subscribe(fn store.Listener) func() {
	return s.store.Subscribe(fn)
}

// Close detaches every list and discards the session state.
func (s *Session) Close() {
	s.mu.Lock()
	detachPosts, detachProfiles := s.detachPosts, s.detachProfiles
	s.detachPosts, s.detachProfiles = nil, nil
	posts := s.posts
	s.profileID = ""
	s.mu.Unlock()

	if detachPosts != nil {
		detachPosts()
	}
	if detachProfiles != nil {
		detachProfiles()
	}
	posts.Reset()
	s.profiles.Reset()
	s.store.Navigate()
}

// normalise enforces is_owner == (owner == session user) when the user is known.
func (s *Session) normalise(p *models.Profile) {
	if s.username != "" {
		p.IsOwner = p.Owner == s.username
	}
}

func (s *Session) normalisePage(page models.Page[models.Profile]) models.Page[models.Profile] {
	for i := range page.Results {
		s.normalise(&page.Results[i])
	}
	return page
}
