package listing

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"feedsync/internal/models"
	"feedsync/internal/store"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fetcherStub[T any] struct {
	fetchPageFn func(ctx context.Context, url string) (*models.Page[T], error)
}

func (s *fetcherStub[T]) FetchPage(ctx context.Context, url string) (*models.Page[T], error) {
	return s.fetchPageFn(ctx, url)
}

func (s *fetcherStub[T]) FetchNext(ctx context.Context, page *models.Page[T]) (*models.Page[T], error) {
	if page == nil || !page.HasNext() {
		return nil, models.ErrEndOfCollection
	}
	return s.fetchPageFn(ctx, *page.Next)
}

// pagedPosts serves n pages of size posts each, with sequential ids.
func pagedPosts(n, size int) (*fetcherStub[models.Post], [][]models.Post) {
	pages := make(map[string]*models.Page[models.Post], n)
	var all [][]models.Post
	id := 1
	for i := 0; i < n; i++ {
		url := fmt.Sprintf("http://api.test/posts/?page=%d", i+1)
		page := &models.Page[models.Post]{}
		for j := 0; j < size; j++ {
			page.Results = append(page.Results, models.Post{ID: models.IDFromUint(uint(id)), ProfileID: "42"})
			id++
		}
		if i+1 < n {
			next := fmt.Sprintf("http://api.test/posts/?page=%d", i+2)
			page.Next = &next
		}
		pages[url] = page
		all = append(all, page.Results)
	}
	return &fetcherStub[models.Post]{fetchPageFn: func(_ context.Context, url string) (*models.Page[models.Post], error) {
		p, ok := pages[url]
		if !ok {
			return nil, &models.TransportError{Op: "GET", URL: url, Status: 404, Cause: errors.New("not found")}
		}
		out := p.Clone()
		return &out, nil
	}}, all
}

func TestLoadMoreConcatenatesAllPagesInOrder(t *testing.T) {
	f, pages := pagedPosts(4, 3)
	c := New[models.Post](f, "posts")
	ctx := context.Background()

	require.NoError(t, c.LoadInitial(ctx, "http://api.test/posts/?page=1"))
	for c.HasMore() {
		require.NoError(t, c.LoadMore(ctx))
	}

	var want []models.Post
	for _, p := range pages {
		want = append(want, p...)
	}
	assert.Empty(t, cmp.Diff(want, c.Items()))
	assert.Empty(t, c.Duplicates())
	assert.Equal(t, 12, c.Len())

	err := c.LoadMore(ctx)
	assert.ErrorIs(t, err, models.ErrNoMoreData)
	assert.True(t, models.IsBenign(err))
}

func TestLoadInitialReplacesItems(t *testing.T) {
	f, _ := pagedPosts(2, 2)
	c := New[models.Post](f, "posts")
	ctx := context.Background()

	require.NoError(t, c.LoadInitial(ctx, "http://api.test/posts/?page=1"))
	require.NoError(t, c.LoadMore(ctx))
	require.Equal(t, 4, c.Len())

	require.NoError(t, c.LoadInitial(ctx, "http://api.test/posts/?page=2"))
	assert.Equal(t, 2, c.Len())
	assert.False(t, c.HasMore())
}

func TestLoadMoreWhileInFlightIsRejected(t *testing.T) {
	release := make(chan struct{})
	next := "http://api.test/posts/?page=2"
	f := &fetcherStub[models.Post]{fetchPageFn: func(_ context.Context, url string) (*models.Page[models.Post], error) {
		if url == next {
			<-release
			return &models.Page[models.Post]{Results: []models.Post{{ID: "2"}}}, nil
		}
		return &models.Page[models.Post]{Next: &next, Results: []models.Post{{ID: "1"}}}, nil
	}}
	c := New[models.Post](f, "posts")
	ctx := context.Background()
	require.NoError(t, c.LoadInitial(ctx, "first"))

	done := make(chan error, 1)
	go func() { done <- c.LoadMore(ctx) }()
	require.Eventually(t, c.Loading, time.Second, time.Millisecond)

	before := c.Items()
	err := c.LoadMore(ctx)
	assert.ErrorIs(t, err, models.ErrLoadInProgress)
	assert.Empty(t, cmp.Diff(before, c.Items()))
	assert.True(t, c.HasMore())

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, 2, c.Len())
	assert.False(t, c.HasMore())
}

func TestStaleLoadMoreIsDiscarded(t *testing.T) {
	release := make(chan struct{})
	next := "http://api.test/posts/?owner__profile=1&page=2"
	f := &fetcherStub[models.Post]{fetchPageFn: func(_ context.Context, url string) (*models.Page[models.Post], error) {
		switch url {
		case next:
			<-release
			return &models.Page[models.Post]{Results: []models.Post{{ID: "old-2"}}}, nil
		case "profile-1":
			return &models.Page[models.Post]{Next: &next, Results: []models.Post{{ID: "old-1"}}}, nil
		default:
			return &models.Page[models.Post]{Results: []models.Post{{ID: "new-1"}}}, nil
		}
	}}
	c := New[models.Post](f, "posts")
	ctx := context.Background()
	require.NoError(t, c.LoadInitial(ctx, "profile-1"))

	done := make(chan error, 1)
	go func() { done <- c.LoadMore(ctx) }()
	require.Eventually(t, c.Loading, time.Second, time.Millisecond)

	require.NoError(t, c.LoadInitial(ctx, "profile-2"))
	close(release)
	err := <-done
	assert.ErrorIs(t, err, models.ErrStaleResponse)

	items := c.Items()
	require.Len(t, items, 1)
	assert.Equal(t, models.ID("new-1"), items[0].ID)
	assert.False(t, c.Loading())
}

func TestFailedLoadLeavesStateUnchanged(t *testing.T) {
	next := "http://api.test/posts/?page=2"
	failure := error(&models.MalformedResponseError{URL: next, Reason: "missing results"})
	f := &fetcherStub[models.Post]{fetchPageFn: func(_ context.Context, url string) (*models.Page[models.Post], error) {
		if url == next {
			return nil, failure
		}
		return &models.Page[models.Post]{Next: &next, Results: []models.Post{{ID: "1"}}}, nil
	}}
	c := New[models.Post](f, "posts")
	ctx := context.Background()
	require.NoError(t, c.LoadInitial(ctx, "first"))

	err := c.LoadMore(ctx)
	var me *models.MalformedResponseError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, 1, c.Len())
	assert.True(t, c.HasMore())
	assert.False(t, c.Loading())

	failure = &models.TransportError{Op: "GET", URL: next, Status: 502, Cause: errors.New("bad gateway")}
	err = c.LoadMore(ctx)
	var te *models.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 1, c.Len())
	assert.True(t, c.HasMore())
}

func TestDuplicatesAreReportedNotFiltered(t *testing.T) {
	next := "p2"
	f := &fetcherStub[models.Post]{fetchPageFn: func(_ context.Context, url string) (*models.Page[models.Post], error) {
		if url == next {
			return &models.Page[models.Post]{Results: []models.Post{{ID: "2"}, {ID: "3"}}}, nil
		}
		return &models.Page[models.Post]{Next: &next, Results: []models.Post{{ID: "1"}, {ID: "2"}}}, nil
	}}
	c := New[models.Post](f, "posts")
	ctx := context.Background()
	require.NoError(t, c.LoadInitial(ctx, "p1"))
	require.NoError(t, c.LoadMore(ctx))

	assert.Equal(t, 4, c.Len())
	assert.Equal(t, []models.ID{"2"}, c.Duplicates())
}

func TestPatchItem(t *testing.T) {
	f, _ := pagedPosts(1, 3)
	c := New[models.Post](f, "posts")
	require.NoError(t, c.LoadInitial(context.Background(), "http://api.test/posts/?page=1"))

	ok := c.PatchItem("2", func(p *models.Post) { p.LikesCount = 5 })
	assert.True(t, ok)
	assert.False(t, c.PatchItem("99", func(p *models.Post) { p.LikesCount = 1 }))

	items := c.Items()
	assert.Equal(t, 0, items[0].LikesCount)
	assert.Equal(t, 5, items[1].LikesCount)
}

func TestItemsAreCopies(t *testing.T) {
	f := &fetcherStub[models.Post]{fetchPageFn: func(context.Context, string) (*models.Page[models.Post], error) {
		return &models.Page[models.Post]{Results: []models.Post{{ID: "1", LikeID: models.IDPtr("like-1")}}}, nil
	}}
	c := New[models.Post](f, "posts")
	require.NoError(t, c.LoadInitial(context.Background(), "p1"))

	items := c.Items()
	items[0].Title = "changed"
	*items[0].LikeID = "changed"

	again := c.Items()
	assert.Empty(t, again[0].Title)
	assert.Equal(t, models.ID("like-1"), *again[0].LikeID)
}

func TestResetSupersedesInFlightLoad(t *testing.T) {
	release := make(chan struct{})
	f := &fetcherStub[models.Post]{fetchPageFn: func(context.Context, string) (*models.Page[models.Post], error) {
		<-release
		return &models.Page[models.Post]{Results: []models.Post{{ID: "1"}}}, nil
	}}
	c := New[models.Post](f, "posts")

	done := make(chan error, 1)
	go func() { done <- c.LoadInitial(context.Background(), "p1") }()
	require.Eventually(t, c.Loading, time.Second, time.Millisecond)

	c.Reset()
	close(release)
	assert.ErrorIs(t, <-done, models.ErrStaleResponse)
	assert.Zero(t, c.Len())
}

func TestPostAuthorSyncKeepsCardsInStepWithHeader(t *testing.T) {
	for _, followState := range []bool{true, false} {
		t.Run(fmt.Sprintf("follow_state=%v", followState), func(t *testing.T) {
			f := &fetcherStub[models.Post]{fetchPageFn: func(context.Context, string) (*models.Page[models.Post], error) {
				return &models.Page[models.Post]{Results: []models.Post{
					{ID: "1", ProfileID: "42"},
					{ID: "2", ProfileID: "7"},
					{ID: "3", ProfileID: "42"},
				}}, nil
			}}
			posts := New[models.Post](f, "posts")
			require.NoError(t, posts.LoadInitial(context.Background(), "feed"))

			s := store.New()
			s.SetPageProfile(models.Profile{ID: "42", FollowersCount: 10})
			detach := s.Attach(NewPostAuthorSync(posts, followState))
			defer detach()

			touched := s.PatchProfileEverywhere("42", models.ProfilePatch{}.WithFollowing("rel-7").WithFollowersCount(11))

			header, _ := s.Profile("42")
			items := posts.Items()
			if !followState {
				assert.Equal(t, 1, touched)
				assert.Nil(t, items[0].AuthorFollowingID)
				return
			}
			assert.Equal(t, 3, touched)
			for _, p := range items {
				if p.ProfileID != "42" {
					assert.Nil(t, p.AuthorFollowersCount)
					continue
				}
				require.NotNil(t, p.AuthorFollowersCount)
				require.NotNil(t, p.AuthorFollowingID)
				assert.Equal(t, header.FollowersCount, *p.AuthorFollowersCount)
				assert.Equal(t, *header.FollowingID, *p.AuthorFollowingID)
			}
		})
	}
}

func TestPostAuthorSyncCopiesImageRegardlessOfFlag(t *testing.T) {
	f := &fetcherStub[models.Post]{fetchPageFn: func(context.Context, string) (*models.Page[models.Post], error) {
		return &models.Page[models.Post]{Results: []models.Post{{ID: "1", ProfileID: "42", ProfileImage: "old.png"}}}, nil
	}}
	posts := New[models.Post](f, "posts")
	require.NoError(t, posts.LoadInitial(context.Background(), "feed"))

	img := "new.png"
	n := NewPostAuthorSync(posts, false).ApplyProfilePatch("42", models.ProfilePatch{Image: &img})
	assert.Equal(t, 1, n)
	assert.Equal(t, "new.png", posts.Items()[0].ProfileImage)
}

func TestProfileListSync(t *testing.T) {
	f := &fetcherStub[models.Profile]{fetchPageFn: func(context.Context, string) (*models.Page[models.Profile], error) {
		return &models.Page[models.Profile]{Results: []models.Profile{{ID: "42", FollowersCount: 10}, {ID: "7"}}}, nil
	}}
	profiles := New[models.Profile](f, "profiles")
	require.NoError(t, profiles.LoadInitial(context.Background(), "/profiles/"))

	s := store.New()
	s.SetPageProfile(models.Profile{ID: "42", FollowersCount: 10})
	s.Attach(NewProfileListSync(profiles))
	s.PatchProfileEverywhere("42", models.ProfilePatch{}.WithFollowing("rel-7").WithFollowersCount(11))

	header, _ := s.Profile("42")
	assert.Empty(t, cmp.Diff(header, profiles.Items()[0]))
	assert.Nil(t, profiles.Items()[1].FollowingID)
}
