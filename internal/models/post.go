package models

import "time"

// Post is a post card. It references its author by ProfileID; Owner and ProfileImage
// are denormalised copies of the author's profile served with every post.
type Post struct {
	ID            ID        `json:"id"`
	Owner         string    `json:"owner"`
	IsOwner       bool      `json:"is_owner"`
	ProfileID     ID        `json:"profile_id"`
	ProfileImage  string    `json:"profile_image"`
	Title         string    `json:"title"`
	Caption       string    `json:"caption"`
	Image         string    `json:"image"`
	LikeID        *ID       `json:"like_id"`
	LikesCount    int       `json:"likes_count"`
	CommentsCount int       `json:"comments_count"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`

	// Author follow state, only present when the server denormalises it.
	AuthorFollowingID    *ID  `json:"author_following_id,omitempty"`
	AuthorFollowersCount *int `json:"author_followers_count,omitempty"`
}

// EntityID implements Entity.
func (p Post) EntityID() ID { return p.ID }

// Clone returns a copy that shares no pointers with p.
func (p Post) Clone() Post {
	if p.LikeID != nil {
		p.LikeID = IDPtr(*p.LikeID)
	}
	if p.AuthorFollowingID != nil {
		p.AuthorFollowingID = IDPtr(*p.AuthorFollowingID)
	}
	if p.AuthorFollowersCount != nil {
		n := *p.AuthorFollowersCount
		p.AuthorFollowersCount = &n
	}
	return p
}

// ApplyAuthorPatch copies the author fields of a profile patch onto the post. Follow
// state is only copied when followState is set.
func (p *Post) ApplyAuthorPatch(pp ProfilePatch, followState bool) {
	if pp.Image != nil {
		p.ProfileImage = *pp.Image
	}
	if !followState {
		return
	}
	if pp.FollowersCount != nil {
		n := *pp.FollowersCount
		p.AuthorFollowersCount = &n
	}
	if pp.FollowersDelta != 0 && p.AuthorFollowersCount != nil {
		n := shiftCount(*p.AuthorFollowersCount, pp.FollowersDelta)
		p.AuthorFollowersCount = &n
	}
	if pp.FollowingID.Set {
		if pp.FollowingID.Value == nil {
			p.AuthorFollowingID = nil
		} else {
			p.AuthorFollowingID = IDPtr(*pp.FollowingID.Value)
		}
	}
}
