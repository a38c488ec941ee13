package devserver

import (
	"context"
	"errors"
	"strings"

	"feedsync/internal/database"
	"feedsync/internal/models"

	"gorm.io/gorm"
)

// Repository defines the data operations behind the REST endpoints. viewer is the
// username of the requesting user, empty for anonymous requests; it drives the
// following_id and is_owner fields.
type Repository interface {
	GetProfile(ctx context.Context, id uint, viewer string) (*models.Profile, error)
	ListProfiles(ctx context.Context, viewer, ordering string, limit, offset int) ([]models.Profile, int64, error)
	ListPosts(ctx context.Context, filter PostFilter, viewer string, limit, offset int) ([]models.Post, int64, error)
	CreateFollower(ctx context.Context, owner string, followed uint) (*models.Follower, error)
	DeleteFollower(ctx context.Context, id uint, owner string) error
}

// PostFilter narrows a post listing.
type PostFilter struct {
	// ProfileID restricts posts to one author when non-zero.
	ProfileID uint
	// AuthorState denormalises the author's follow state onto each post.
	AuthorState bool
}

// profileOrderings maps the accepted ?ordering= values to ORDER BY clauses. Every
// clause ends with the primary key so pages are stable.
var profileOrderings = map[string]string{
	"":                 "profiles.created_at DESC, profiles.id DESC",
	"-created_at":      "profiles.created_at DESC, profiles.id DESC",
	"created_at":       "profiles.created_at ASC, profiles.id ASC",
	"-followers_count": "followers_count DESC, profiles.id ASC",
	"followers_count":  "followers_count ASC, profiles.id ASC",
	"-following_count": "following_count DESC, profiles.id ASC",
	"-posts_count":     "posts_count DESC, profiles.id ASC",
}

const profileColumns = `profiles.*,
	(SELECT COUNT(*) FROM posts WHERE posts.profile_id = profiles.id) AS posts_count,
	(SELECT COUNT(*) FROM followers WHERE followers.followed_id = profiles.id) AS followers_count,
	(SELECT COUNT(*) FROM followers WHERE followers.owner = profiles.owner) AS following_count,
	(SELECT f.id FROM followers f WHERE f.followed_id = profiles.id AND f.owner = ?) AS following_id`

const postColumns = `posts.*, profiles.owner AS owner, profiles.image AS profile_image`

const postAuthorColumns = `,
	(SELECT f.id FROM followers f WHERE f.followed_id = posts.profile_id AND f.owner = ?) AS author_following_id,
	(SELECT COUNT(*) FROM followers f2 WHERE f2.followed_id = posts.profile_id) AS author_followers_count`

// gormRepository implements Repository
type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a new GORM-backed repository
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) GetProfile(ctx context.Context, id uint, viewer string) (*models.Profile, error) {
	var rec database.ProfileRecord
	err := r.db.WithContext(ctx).
		Model(&database.ProfileRecord{}).
		Select(profileColumns, viewer).
		Where("profiles.id = ?", id).
		Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.NewNotFoundError("Profile", id)
	}
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	p := toProfile(rec, viewer)
	return &p, nil
}

func (r *gormRepository) ListProfiles(ctx context.Context, viewer, ordering string, limit, offset int) ([]models.Profile, int64, error) {
	order, ok := profileOrderings[strings.TrimSpace(ordering)]
	if !ok {
		return nil, 0, models.NewValidationError("Unsupported ordering " + ordering)
	}

	var total int64
	if err := r.db.WithContext(ctx).Model(&database.ProfileRecord{}).Count(&total).Error; err != nil {
		return nil, 0, models.NewInternalError(err)
	}

	var recs []database.ProfileRecord
	err := r.db.WithContext(ctx).
		Model(&database.ProfileRecord{}).
		Select(profileColumns, viewer).
		Order(order).
		Limit(limit).
		Offset(offset).
		Find(&recs).Error
	if err != nil {
		return nil, 0, models.NewInternalError(err)
	}

	out := make([]models.Profile, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toProfile(rec, viewer))
	}
	return out, total, nil
}

func (r *gormRepository) ListPosts(ctx context.Context, filter PostFilter, viewer string, limit, offset int) ([]models.Post, int64, error) {
	scope := func(db *gorm.DB) *gorm.DB {
		if filter.ProfileID != 0 {
			db = db.Where("posts.profile_id = ?", filter.ProfileID)
		}
		return db
	}

	var total int64
	if err := r.db.WithContext(ctx).Model(&database.PostRecord{}).Scopes(scope).Count(&total).Error; err != nil {
		return nil, 0, models.NewInternalError(err)
	}

	q := r.db.WithContext(ctx).Model(&database.PostRecord{})
	if filter.AuthorState {
		q = q.Select(postColumns+postAuthorColumns, viewer)
	} else {
		q = q.Select(postColumns)
	}

	var recs []database.PostRecord
	err := q.Joins("JOIN profiles ON profiles.id = posts.profile_id").
		Scopes(scope).
		Order("posts.created_at DESC, posts.id DESC").
		Limit(limit).
		Offset(offset).
		Find(&recs).Error
	if err != nil {
		return nil, 0, models.NewInternalError(err)
	}

	out := make([]models.Post, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toPost(rec, viewer, filter.AuthorState))
	}
	return out, total, nil
}

func (r *gormRepository) CreateFollower(ctx context.Context, owner string, followed uint) (*models.Follower, error) {
	var profile database.ProfileRecord
	err := r.db.WithContext(ctx).Take(&profile, followed).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.NewNotFoundError("Profile", followed)
	}
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	if profile.Owner == owner {
		return nil, models.NewValidationError("You cannot follow yourself")
	}

	var existing int64
	if err := r.db.WithContext(ctx).Model(&database.FollowerRecord{}).
		Where("owner = ? AND followed_id = ?", owner, followed).
		Count(&existing).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	if existing > 0 {
		return nil, models.NewValidationError("You already follow this profile")
	}

	rec := database.FollowerRecord{Owner: owner, FollowedID: followed}
	if err := r.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return &models.Follower{
		ID:           models.IDFromUint(rec.ID),
		Owner:        rec.Owner,
		Followed:     models.IDFromUint(rec.FollowedID),
		FollowedName: profile.Owner,
		CreatedAt:    rec.CreatedAt,
	}, nil
}

func (r *gormRepository) DeleteFollower(ctx context.Context, id uint, owner string) error {
	var rec database.FollowerRecord
	err := r.db.WithContext(ctx).Take(&rec, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.NewNotFoundError("Follower", id)
	}
	if err != nil {
		return models.NewInternalError(err)
	}
	if rec.Owner != owner {
		return models.NewForbiddenError("You can only delete your own follows")
	}
	if err := r.db.WithContext(ctx).Delete(&rec).Error; err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

func toProfile(rec database.ProfileRecord, viewer string) models.Profile {
	p := models.Profile{
		ID:             models.IDFromUint(rec.ID),
		Owner:          rec.Owner,
		Name:           rec.Name,
		About:          rec.About,
		Image:          rec.Image,
		PostsCount:     rec.PostsCount,
		FollowersCount: rec.FollowersCount,
		FollowingCount: rec.FollowingCount,
		IsOwner:        viewer != "" && rec.Owner == viewer,
		CreatedAt:      rec.CreatedAt,
		UpdatedAt:      rec.UpdatedAt,
	}
	if rec.FollowingID != nil {
		p.FollowingID = models.IDPtr(models.IDFromUint(*rec.FollowingID))
	}
	return p
}

func toPost(rec database.PostRecord, viewer string, authorState bool) models.Post {
	p := models.Post{
		ID:            models.IDFromUint(rec.ID),
		Owner:         rec.Owner,
		IsOwner:       viewer != "" && rec.Owner == viewer,
		ProfileID:     models.IDFromUint(rec.ProfileID),
		ProfileImage:  rec.ProfileImage,
		Title:         rec.Title,
		Caption:       rec.Caption,
		Image:         rec.Image,
		LikesCount:    rec.LikesCount,
		CommentsCount: rec.CommentsCount,
		CreatedAt:     rec.CreatedAt,
		UpdatedAt:     rec.UpdatedAt,
	}
	if authorState {
		n := rec.AuthorFollowersCount
		p.AuthorFollowersCount = &n
		if rec.AuthorFollowingID != nil {
			p.AuthorFollowingID = models.IDPtr(models.IDFromUint(*rec.AuthorFollowingID))
		}
	}
	return p
}
