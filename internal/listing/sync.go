package listing

import (
	"feedsync/internal/models"
)

// PostAuthorSync keeps the author data denormalised onto a post list in step with
// profile patches. Attach it to the store.
type PostAuthorSync struct {
	list *Controller[models.Post]
	// followState also copies follower count and following id onto post cards.
	followState bool
}

// NewPostAuthorSync wraps list. followState selects whether cards carry their author's
// follow state.
func NewPostAuthorSync(list *Controller[models.Post], followState bool) *PostAuthorSync {
	return &PostAuthorSync{list: list, followState: followState}
}

// ApplyProfilePatch updates every post authored by id.
func (s *PostAuthorSync) ApplyProfilePatch(id models.ID, patch models.ProfilePatch) int {
	if !s.relevant(patch) {
		return 0
	}
	return s.list.PatchWhere(
		func(p models.Post) bool { return p.ProfileID == id },
		func(p *models.Post) { p.ApplyAuthorPatch(patch, s.followState) },
	)
}

func (s *PostAuthorSync) relevant(patch models.ProfilePatch) bool {
	if patch.Image != nil {
		return true
	}
	return s.followState && (patch.FollowersCount != nil || patch.FollowersDelta != 0 || patch.FollowingID.Set)
}

// ProfileListSync applies profile patches to a list of profiles, such as a paged
// followers list rendered next to the profile header.
type ProfileListSync struct {
	list *Controller[models.Profile]
}

// NewProfileListSync wraps list.
func NewProfileListSync(list *Controller[models.Profile]) *ProfileListSync {
	return &ProfileListSync{list: list}
}

// ApplyProfilePatch updates every copy of profile id in the list.
func (s *ProfileListSync) ApplyProfilePatch(id models.ID, patch models.ProfilePatch) int {
	if patch.Empty() {
		return 0
	}
	return s.list.PatchWhere(
		func(p models.Profile) bool { return p.ID == id },
		patch.Apply,
	)
}
