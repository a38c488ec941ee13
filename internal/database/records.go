package database

import "time"

// ProfileRecord is a row of the profiles table. The counters and FollowingID are
// computed per query and never stored.
type ProfileRecord struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Owner     string    `gorm:"size:150;not null;uniqueIndex" json:"owner"`
	Name      string    `gorm:"size:255" json:"name"`
	About     string    `gorm:"type:text" json:"about"`
	Image     string    `json:"image"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	PostsCount     int   `gorm:"->;-:migration" json:"posts_count"`
	FollowersCount int   `gorm:"->;-:migration" json:"followers_count"`
	FollowingCount int   `gorm:"->;-:migration" json:"following_count"`
	FollowingID    *uint `gorm:"->;-:migration" json:"following_id"`
}

// TableName specifies the table name for GORM
func (ProfileRecord) TableName() string {
	return "profiles"
}

// PostRecord is a row of the posts table.
type PostRecord struct {
	ID            uint          `gorm:"primaryKey" json:"id"`
	ProfileID     uint          `gorm:"not null;index" json:"profile_id"`
	Profile       ProfileRecord `gorm:"foreignKey:ProfileID" json:"-"`
	Title         string        `gorm:"size:255;not null" json:"title"`
	Caption       string        `gorm:"type:text" json:"caption"`
	Image         string        `json:"image"`
	LikesCount    int           `gorm:"not null;default:0" json:"likes_count"`
	CommentsCount int           `gorm:"not null;default:0" json:"comments_count"`
	CreatedAt     time.Time     `gorm:"index" json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`

	Owner                string `gorm:"->;-:migration" json:"owner"`
	ProfileImage         string `gorm:"->;-:migration" json:"profile_image"`
	AuthorFollowingID    *uint  `gorm:"->;-:migration" json:"author_following_id"`
	AuthorFollowersCount int    `gorm:"->;-:migration" json:"author_followers_count"`
}

// TableName specifies the table name for GORM
func (PostRecord) TableName() string {
	return "posts"
}

// FollowerRecord is a follow relationship: Owner follows the profile FollowedID.
type FollowerRecord struct {
	ID         uint          `gorm:"primaryKey" json:"id"`
	Owner      string        `gorm:"size:150;not null;uniqueIndex:idx_follower_pair" json:"owner"`
	FollowedID uint          `gorm:"not null;uniqueIndex:idx_follower_pair;index" json:"followed"`
	Followed   ProfileRecord `gorm:"foreignKey:FollowedID" json:"-"`
	CreatedAt  time.Time     `json:"created_at"`
}

// TableName specifies the table name for GORM
func (FollowerRecord) TableName() string {
	return "followers"
}

// Tables lists every migrated model.
func Tables() []interface{} {
	return []interface{}{
		&ProfileRecord{},
		&PostRecord{},
		&FollowerRecord{},
	}
}
