package session

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"feedsync/internal/apiclient"
	"feedsync/internal/cache"
	"feedsync/internal/config"
	"feedsync/internal/database"
	"feedsync/internal/devserver"
	"feedsync/internal/featureflags"
	"feedsync/internal/follow"
	"feedsync/internal/models"
	"feedsync/internal/store"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
)

const testSecret = "session-test-secret-with-32-characters"

// ann=1 (followed by bob and cat), bob=2, cat=3.
const fixture = `
profiles:
  - owner: ann
    posts:
      - title: a3
      - title: a2
      - title: a1
  - owner: bob
  - owner: cat
    posts:
      - title: meow
follows:
  - {owner: bob, followed: ann}
  - {owner: cat, followed: ann}
`

// startServer runs a development API with the fixture on a loopback port and
// returns its base URL.
func startServer(t *testing.T) string {
	t.Helper()
	db, err := database.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), true)
	require.NoError(t, err)
	fx, err := devserver.ParseFixture([]byte(fixture))
	require.NoError(t, err)
	require.NoError(t, fx.Apply(db))

	srv := devserver.New(&config.Config{JWTSecret: testSecret, PageSize: 2, Port: "0"}, db)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = srv.Serve(ln) }()

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return "http://" + ln.Addr().String() + "/api"
}

// apiSpy wraps the real client to count page fetches and inject failures.
type apiSpy struct {
	apiclient.API

	mu      sync.Mutex
	raw     map[string]int
	getHook func(path string)
	postErr error
}

func (a *apiSpy) GetRaw(ctx context.Context, path string) ([]byte, error) {
	a.mu.Lock()
	a.raw[path]++
	a.mu.Unlock()
	return a.API.GetRaw(ctx, path)
}

func (a *apiSpy) Get(ctx context.Context, path string, out any) error {
	if a.getHook != nil {
		a.getHook(path)
	}
	return a.API.Get(ctx, path, out)
}

func (a *apiSpy) Post(ctx context.Context, path string, body, out any) error {
	if a.postErr != nil {
		return a.postErr
	}
	return a.API.Post(ctx, path, body, out)
}

func (a *apiSpy) fetches(prefix string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for path, c := range a.raw {
		if strings.HasPrefix(path, prefix) {
			n += c
		}
	}
	return n
}

type harness struct {
	session *Session
	spy     *apiSpy
	client  *apiclient.Client
}

func newHarness(t *testing.T, username, flags string, pageCache *cache.PageCache) *harness {
	t.Helper()
	base := startServer(t)
	tok, err := devserver.MintToken(testSecret, username, time.Hour)
	require.NoError(t, err)

	client := apiclient.New(apiclient.Options{BaseURL: base, Token: tok, Timeout: 5 * time.Second})
	spy := &apiSpy{API: client, raw: make(map[string]int)}
	s := New(Options{
		API:      spy,
		Cache:    pageCache,
		Flags:    featureflags.NewManager(flags),
		Username: username,
	})
	t.Cleanup(s.Close)
	return &harness{session: s, spy: spy, client: client}
}

func popularByOwner(t *testing.T, s *Session, owner string) models.Profile {
	t.Helper()
	st, _ := s.State()
	for _, p := range st.PopularProfiles.Results {
		if p.Owner == owner {
			return p
		}
	}
	t.Fatalf("%s not in popular panel", owner)
	return models.Profile{}
}

func TestOpenProfileLoadsHeaderPostsAndPopular(t *testing.T) {
	h := newHarness(t, "bob", "post_author_sync=on", nil)
	s := h.session
	ctx := context.Background()

	require.NoError(t, s.OpenProfile(ctx, "1"))

	header, ok := s.CurrentProfile()
	require.True(t, ok)
	assert.Equal(t, "ann", header.Owner)
	assert.Equal(t, 2, header.FollowersCount)
	assert.True(t, header.Following())
	assert.False(t, header.IsOwner)

	posts := s.Posts()
	assert.Equal(t, 2, posts.Len())
	assert.True(t, posts.HasMore())
	require.NoError(t, posts.LoadMore(ctx))
	titles := []string{}
	for _, p := range posts.Items() {
		titles = append(titles, p.Title)
	}
	assert.Equal(t, []string{"a3", "a2", "a1"}, titles)
	assert.ErrorIs(t, posts.LoadMore(ctx), models.ErrNoMoreData)
	assert.Empty(t, posts.Duplicates())

	st, _ := s.State()
	require.Len(t, st.PopularProfiles.Results, 2)
	assert.Equal(t, "ann", st.PopularProfiles.Results[0].Owner)
	require.NoError(t, s.MorePopular(ctx))
	st, _ = s.State()
	assert.Len(t, st.PopularProfiles.Results, 3)
	assert.ErrorIs(t, s.MorePopular(ctx), models.ErrNoMoreData)
}

func TestFollowPropagatesToEveryCopy(t *testing.T) {
	h := newHarness(t, "bob", "post_author_sync=on", nil)
	s := h.session
	ctx := context.Background()

	require.NoError(t, s.OpenProfile(ctx, "3"))
	require.NoError(t, s.MorePopular(ctx))

	p, err := s.Follow(ctx, "3")
	require.NoError(t, err)
	require.NotNil(t, p.FollowingID)
	assert.False(t, follow.IsPlaceholder(*p.FollowingID))
	assert.Equal(t, 1, p.FollowersCount)

	header, _ := s.CurrentProfile()
	assert.Equal(t, 1, header.FollowersCount)
	assert.Equal(t, *p.FollowingID, *header.FollowingID)

	panel := popularByOwner(t, s, "cat")
	assert.Equal(t, 1, panel.FollowersCount)
	require.NotNil(t, panel.FollowingID)
	assert.Equal(t, *p.FollowingID, *panel.FollowingID)

	items := s.Posts().Items()
	require.Len(t, items, 1)
	require.NotNil(t, items[0].AuthorFollowersCount)
	assert.Equal(t, 1, *items[0].AuthorFollowersCount)
	require.NotNil(t, items[0].AuthorFollowingID)
	assert.Equal(t, *p.FollowingID, *items[0].AuthorFollowingID)

	var remote models.Profile
	require.NoError(t, h.client.Get(ctx, ProfilePath("3"), &remote))
	assert.Equal(t, 1, remote.FollowersCount)

	p, err = s.ToggleFollow(ctx, "3")
	require.NoError(t, err)
	assert.Nil(t, p.FollowingID)
	assert.Equal(t, 0, p.FollowersCount)
	assert.Equal(t, 0, popularByOwner(t, s, "cat").FollowersCount)
	items = s.Posts().Items()
	assert.Nil(t, items[0].AuthorFollowingID)

	require.NoError(t, h.client.Get(ctx, ProfilePath("3"), &remote))
	assert.Equal(t, 0, remote.FollowersCount)
}

func TestFollowFailureRollsBackEverywhere(t *testing.T) {
	h := newHarness(t, "bob", "post_author_sync=on", nil)
	s := h.session
	ctx := context.Background()

	require.NoError(t, s.OpenProfile(ctx, "3"))
	before, _ := s.State()
	postsBefore := s.Posts().Items()

	h.spy.postErr = &models.TransportError{Op: "POST", URL: "/followers/", Status: 503, Cause: errors.New("unavailable")}
	_, err := s.Follow(ctx, "3")
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrFollowFailed)

	after, _ := s.State()
	assert.Equal(t, before.PageProfile, after.PageProfile)
	assert.Equal(t, before.PopularProfiles, after.PopularProfiles)
	assert.Equal(t, postsBefore, s.Posts().Items())
}

func TestOwnProfileCannotBeFollowed(t *testing.T) {
	h := newHarness(t, "ann", "", nil)
	s := h.session
	ctx := context.Background()

	require.NoError(t, s.OpenProfile(ctx, "1"))
	header, _ := s.CurrentProfile()
	assert.True(t, header.IsOwner)

	_, err := s.Follow(ctx, "1")
	assert.ErrorIs(t, err, models.ErrOwnProfile)

	_, err = s.Follow(ctx, "42")
	assert.ErrorIs(t, err, models.ErrProfileNotLoaded)
}

func TestAuthorStateIgnoredWhenFlagOff(t *testing.T) {
	h := newHarness(t, "dan", "post_author_sync=off", nil)
	s := h.session
	ctx := context.Background()
	assert.False(t, s.AuthorSync())
	assert.Equal(t, map[string]bool{"post_author_sync": false}, s.Flags())

	require.NoError(t, s.OpenProfile(ctx, "1"))
	_, err := s.Follow(ctx, "1")
	require.NoError(t, err)

	header, _ := s.CurrentProfile()
	assert.Equal(t, 3, header.FollowersCount)
	for _, p := range s.Posts().Items() {
		assert.Nil(t, p.AuthorFollowersCount)
		assert.Nil(t, p.AuthorFollowingID)
	}
}

func TestNavigationDiscardsSlowProfileLoad(t *testing.T) {
	h := newHarness(t, "bob", "post_author_sync=on", nil)
	s := h.session
	ctx := context.Background()

	blocked := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	h.spy.getHook = func(path string) {
		if path == ProfilePath("1") {
			once.Do(func() { close(blocked) })
			<-release
		}
	}

	errc := make(chan error, 1)
	go func() { errc <- s.OpenProfile(ctx, "1") }()
	<-blocked

	require.NoError(t, s.OpenProfile(ctx, "3"))
	close(release)
	assert.ErrorIs(t, <-errc, models.ErrStaleResponse)

	header, ok := s.CurrentProfile()
	require.True(t, ok)
	assert.Equal(t, "cat", header.Owner)
	items := s.Posts().Items()
	require.Len(t, items, 1)
	assert.Equal(t, "meow", items[0].Title)
}

func TestPageCacheServesRepeatVisitsUntilFollow(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	pc := cache.NewPageCache(rdb, time.Minute, "bob")

	h := newHarness(t, "bob", "post_author_sync=on,page_cache=on", pc)
	s := h.session
	ctx := context.Background()

	require.NoError(t, s.OpenProfile(ctx, "3"))
	require.NoError(t, s.OpenProfile(ctx, "3"))
	assert.Equal(t, 1, h.spy.fetches("/posts/"))

	_, err := s.Follow(ctx, "3")
	require.NoError(t, err)

	require.NoError(t, s.OpenProfile(ctx, "3"))
	assert.Equal(t, 2, h.spy.fetches("/posts/"))
	items := s.Posts().Items()
	require.Len(t, items, 1)
	require.NotNil(t, items[0].AuthorFollowersCount)
	assert.Equal(t, 1, *items[0].AuthorFollowersCount)
}

func TestBrowseProfilesFollowsFromList(t *testing.T) {
	h := newHarness(t, "dan", "", nil)
	s := h.session
	ctx := context.Background()

	require.NoError(t, s.BrowseProfiles(ctx))
	require.Equal(t, 2, s.Profiles().Len())

	id := s.Profiles().Items()[1].ID
	p, err := s.Follow(ctx, id)
	require.NoError(t, err)
	assert.True(t, p.Following())
	for _, item := range s.Profiles().Items() {
		if item.ID == id {
			assert.True(t, item.Following())
		}
	}
}

func TestInterleavedNavigationKeepsLatestProfile(t *testing.T) {
	h := newHarness(t, "bob", "post_author_sync=on", nil)
	s := h.session
	ctx := context.Background()

	// Open profile 3 between the navigation to profile 1 and the installation of
	// its post list. Listeners run on the navigating goroutine, so this is the
	// worst-case interleaving, every time.
	var armed atomic.Bool
	armed.Store(true)
	nested := make(chan error, 1)
	unsubscribe := s.Subscribe(func(c store.Change) {
		if c.Kind != store.ChangeNavigate || !armed.CompareAndSwap(true, false) {
			return
		}
		nested <- s.OpenProfile(ctx, "3")
	})
	defer unsubscribe()

	assert.ErrorIs(t, s.OpenProfile(ctx, "1"), models.ErrStaleResponse)
	require.NoError(t, <-nested)

	header, ok := s.CurrentProfile()
	require.True(t, ok)
	assert.Equal(t, "cat", header.Owner)

	posts := s.Posts()
	assert.False(t, posts.Loading())
	items := posts.Items()
	require.Len(t, items, 1)
	assert.Equal(t, "meow", items[0].Title)
	assert.ErrorIs(t, posts.LoadMore(ctx), models.ErrNoMoreData)
}

func TestReadPaths(t *testing.T) {
	assert.Equal(t, "/profiles/42", ProfilePath("42"))
	assert.Equal(t, "/profiles/a%2Fb", ProfilePath("a/b"))
	assert.Equal(t, "/posts/?owner__profile=42", PostsPath("42", false))
	assert.Equal(t, "/posts/?owner__profile=42&author_state=1", PostsPath("42", true))
}
