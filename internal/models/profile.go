package models

import "time"

// Profile is the public profile of a user as rendered by the profile header and the
// popular-profiles panel.
type Profile struct {
	ID             ID        `json:"id"`
	Owner          string    `json:"owner"`
	Name           string    `json:"name"`
	About          string    `json:"about"`
	Image          string    `json:"image"`
	PostsCount     int       `json:"posts_count"`
	FollowersCount int       `json:"followers_count"`
	FollowingCount int       `json:"following_count"`
	FollowingID    *ID       `json:"following_id"`
	IsOwner        bool      `json:"is_owner"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// EntityID implements Entity.
func (p Profile) EntityID() ID { return p.ID }

// Following reports whether the session user follows the profile.
func (p Profile) Following() bool { return p.FollowingID != nil }

// Clone returns a copy that shares no pointers with p.
func (p Profile) Clone() Profile {
	if p.FollowingID != nil {
		p.FollowingID = IDPtr(*p.FollowingID)
	}
	return p
}

// FollowingUpdate is the tri-state update of a nullable following id: untouched when
// Set is false, cleared when Set is true and Value is nil.
type FollowingUpdate struct {
	Set   bool
	Value *ID
}

// ProfilePatch is a partial Profile. Nil fields are left untouched.
type ProfilePatch struct {
	Name           *string
	About          *string
	Image          *string
	PostsCount     *int
	FollowersCount *int
	FollowingCount *int
	FollowingID    FollowingUpdate
	// FollowersDelta moves each copy's follower count relative to its own value,
	// after FollowersCount is applied. Counts never drop below zero.
	FollowersDelta int
}

// WithFollowing returns a copy of the patch that sets the following id.
func (pp ProfilePatch) WithFollowing(id ID) ProfilePatch {
	pp.FollowingID = FollowingUpdate{Set: true, Value: IDPtr(id)}
	return pp
}

// WithoutFollowing returns a copy of the patch that clears the following id.
func (pp ProfilePatch) WithoutFollowing() ProfilePatch {
	pp.FollowingID = FollowingUpdate{Set: true}
	return pp
}

// WithFollowersCount returns a copy of the patch that sets the follower count.
func (pp ProfilePatch) WithFollowersCount(n int) ProfilePatch {
	pp.FollowersCount = &n
	return pp
}

// WithFollowersDelta returns a copy of the patch that moves the follower count by n.
func (pp ProfilePatch) WithFollowersDelta(n int) ProfilePatch {
	pp.FollowersDelta = n
	return pp
}

// Empty reports whether the patch changes nothing.
func (pp ProfilePatch) Empty() bool {
	return pp.Name == nil && pp.About == nil && pp.Image == nil &&
		pp.PostsCount == nil && pp.FollowersCount == nil && pp.FollowingCount == nil &&
		!pp.FollowingID.Set && pp.FollowersDelta == 0
}

// Apply writes the patch onto p.
func (pp ProfilePatch) Apply(p *Profile) {
	if pp.Name != nil {
		p.Name = *pp.Name
	}
	if pp.About != nil {
		p.About = *pp.About
	}
	if pp.Image != nil {
		p.Image = *pp.Image
	}
	if pp.PostsCount != nil {
		p.PostsCount = *pp.PostsCount
	}
	if pp.FollowersCount != nil {
		p.FollowersCount = *pp.FollowersCount
	}
	if pp.FollowingCount != nil {
		p.FollowingCount = *pp.FollowingCount
	}
	if pp.FollowersDelta != 0 {
		p.FollowersCount = shiftCount(p.FollowersCount, pp.FollowersDelta)
	}
	if pp.FollowingID.Set {
		if pp.FollowingID.Value == nil {
			p.FollowingID = nil
		} else {
			p.FollowingID = IDPtr(*pp.FollowingID.Value)
		}
	}
}

// Follower is a follow-relationship record. Deleting it unfollows Followed.
type Follower struct {
	ID           ID        `json:"id"`
	Owner        string    `json:"owner"`
	Followed     ID        `json:"followed"`
	FollowedName string    `json:"followed_name"`
	CreatedAt    time.Time `json:"created_at"`
}

// FollowRequest is the body of POST /followers/.
type FollowRequest struct {
	Followed ID `json:"followed"`
}

func shiftCount(n, delta int) int {
	return max(n+delta, 0)
}
