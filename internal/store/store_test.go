package store

import (
	"context"
	"sync"
	"testing"

	"feedsync/internal/models"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubTarget struct {
	ApplyFunc func(id models.ID, patch models.ProfilePatch) int
}

func (s *stubTarget) ApplyProfilePatch(id models.ID, patch models.ProfilePatch) int {
	return s.ApplyFunc(id, patch)
}

func profile(id string, followers int) models.Profile {
	return models.Profile{ID: models.ID(id), Owner: "user" + id, FollowersCount: followers}
}

func TestSetPageProfileWrapsSingleItem(t *testing.T) {
	s := New()
	s.SetPageProfile(profile("42", 10))
	s.SetPageProfile(profile("43", 3))

	st, _ := s.Snapshot()
	require.Len(t, st.PageProfile.Results, 1)
	assert.Equal(t, models.ID("43"), st.PageProfile.Results[0].ID)
	assert.False(t, st.PageProfile.HasNext())
}

func TestPatchProfileEverywhereKeepsCopiesEqual(t *testing.T) {
	s := New()
	s.SetPageProfile(profile("42", 10))
	next := "http://api.test/profiles/?page=2"
	s.SetPopularProfiles(models.Page[models.Profile]{
		Next:    &next,
		Results: []models.Profile{profile("7", 90), profile("42", 10)},
	})

	var listCalls []models.ID
	detach := s.Attach(&stubTarget{ApplyFunc: func(id models.ID, _ models.ProfilePatch) int {
		listCalls = append(listCalls, id)
		return 2
	}})
	defer detach()

	touched := s.PatchProfileEverywhere("42", models.ProfilePatch{}.WithFollowing("rel-7").WithFollowersCount(11))
	assert.Equal(t, 4, touched)
	assert.Equal(t, []models.ID{"42"}, listCalls)

	st, _ := s.Snapshot()
	header := st.PageProfile.Results[0]
	panel := st.PopularProfiles.Results[1]
	assert.Empty(t, cmp.Diff(header, panel))
	assert.Equal(t, 11, header.FollowersCount)
	require.NotNil(t, header.FollowingID)
	assert.Equal(t, models.ID("rel-7"), *header.FollowingID)

	assert.Equal(t, 90, st.PopularProfiles.Results[0].FollowersCount)
	assert.Nil(t, st.PopularProfiles.Results[0].FollowingID)
}

func TestDetachStopsPatches(t *testing.T) {
	s := New()
	calls := 0
	detach := s.Attach(&stubTarget{ApplyFunc: func(models.ID, models.ProfilePatch) int {
		calls++
		return 0
	}})
	s.PatchProfileEverywhere("1", models.ProfilePatch{}.WithFollowersCount(1))
	detach()
	detach()
	s.PatchProfileEverywhere("1", models.ProfilePatch{}.WithFollowersCount(2))
	assert.Equal(t, 1, calls)
}

func TestNavigateReplacesStateWholesale(t *testing.T) {
	s := New()
	s.SetPageProfile(profile("42", 10))
	s.SetPopularProfiles(models.Page[models.Profile]{Results: []models.Profile{profile("7", 1)}})
	before := s.Generation()

	gen := s.Navigate()
	assert.Equal(t, before+1, gen)

	st, g := s.Snapshot()
	assert.Equal(t, gen, g)
	assert.Empty(t, st.PageProfile.Results)
	assert.Empty(t, st.PopularProfiles.Results)
}

func TestStaleWritesAreDiscarded(t *testing.T) {
	s := New()
	ctx := context.Background()
	old := s.Navigate()
	s.Navigate()

	err := s.SetPageProfileAt(ctx, old, profile("42", 10))
	assert.ErrorIs(t, err, models.ErrStaleResponse)

	_, err = s.PatchProfileAt(ctx, old, "42", models.ProfilePatch{}.WithFollowersCount(11))
	assert.ErrorIs(t, err, models.ErrStaleResponse)

	err = s.AppendPopularProfilesAt(ctx, old, models.Page[models.Profile]{Results: []models.Profile{profile("1", 1)}})
	assert.ErrorIs(t, err, models.ErrStaleResponse)

	st, _ := s.Snapshot()
	assert.Empty(t, st.PageProfile.Results)
	assert.Empty(t, st.PopularProfiles.Results)
}

func TestStalePatchDoesNotReachAttachedLists(t *testing.T) {
	s := New()
	old := s.Navigate()
	calls := 0
	s.Attach(&stubTarget{ApplyFunc: func(models.ID, models.ProfilePatch) int {
		calls++
		return 1
	}})
	s.Navigate()

	_, err := s.PatchProfileAt(context.Background(), old, "42", models.ProfilePatch{}.WithoutFollowing())
	require.ErrorIs(t, err, models.ErrStaleResponse)
	assert.Zero(t, calls)
}

func TestAppendPopularProfilesTakesOverCursor(t *testing.T) {
	s := New()
	p2 := "http://api.test/profiles/?page=2"
	s.SetPopularProfiles(models.Page[models.Profile]{Next: &p2, Results: []models.Profile{profile("1", 9)}})
	s.AppendPopularProfiles(models.Page[models.Profile]{Results: []models.Profile{profile("2", 8)}})

	st, _ := s.Snapshot()
	assert.Len(t, st.PopularProfiles.Results, 2)
	assert.False(t, st.PopularProfiles.HasNext())
}

func TestSnapshotIsDetached(t *testing.T) {
	s := New()
	p := profile("42", 10)
	p.FollowingID = models.IDPtr("rel-1")
	s.SetPageProfile(p)

	st, _ := s.Snapshot()
	st.PageProfile.Results[0].FollowersCount = 99
	*st.PageProfile.Results[0].FollowingID = "tampered"

	got, ok := s.Profile("42")
	require.True(t, ok)
	assert.Equal(t, 10, got.FollowersCount)
	assert.Equal(t, models.ID("rel-1"), *got.FollowingID)
}

func TestProfileLookup(t *testing.T) {
	s := New()
	s.SetPopularProfiles(models.Page[models.Profile]{Results: []models.Profile{profile("7", 1)}})

	got, ok := s.Profile("7")
	require.True(t, ok)
	assert.Equal(t, "user7", got.Owner)

	_, ok = s.Profile("8")
	assert.False(t, ok)
}

func TestSubscribersSeeConsistentState(t *testing.T) {
	s := New()
	s.SetPageProfile(profile("42", 10))

	var seen []Change
	var counts []int
	unsubscribe := s.Subscribe(func(c Change) {
		seen = append(seen, c)
		p, _ := s.Profile("42")
		counts = append(counts, p.FollowersCount)
	})

	s.PatchProfileEverywhere("42", models.ProfilePatch{}.WithFollowersCount(11))
	unsubscribe()
	s.PatchProfileEverywhere("42", models.ProfilePatch{}.WithFollowersCount(12))

	require.Len(t, seen, 1)
	assert.Equal(t, ChangePatch, seen[0].Kind)
	assert.Equal(t, models.ID("42"), seen[0].ProfileID)
	assert.Equal(t, 1, seen[0].Touched)
	assert.Equal(t, []int{11}, counts)
}

func TestConcurrentPatchesAndReads(t *testing.T) {
	s := New()
	s.SetPageProfile(profile("42", 0))

	var wg sync.WaitGroup
	for i := 1; i <= 50; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			s.PatchProfileEverywhere("42", models.ProfilePatch{}.WithFollowersCount(n))
		}(i)
		go func() {
			defer wg.Done()
			_, _ = s.Snapshot()
		}()
	}
	wg.Wait()

	got, ok := s.Profile("42")
	require.True(t, ok)
	assert.Positive(t, got.FollowersCount)
}
