package devserver

import (
	"fmt"
	"strings"
	"time"

	"feedsync/internal/database"
	"feedsync/internal/observability"

	"github.com/brianvoe/gofakeit/v6"
	"gorm.io/gorm"
)

// SeedOptions controls generated demo data.
type SeedOptions struct {
	Profiles        int
	PostsPerProfile int
	// FollowRatio is the chance that a profile follows any other profile.
	FollowRatio float64
	// Seed makes generation deterministic when non-zero.
	Seed int64
	// Usernames are created first, so known accounts exist for tokens.
	Usernames []string
}

// Seed clears the tables and fills them with generated profiles, posts and follows.
func Seed(db *gorm.DB, opts SeedOptions) error {
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	faker := gofakeit.New(seed)
	if opts.FollowRatio <= 0 {
		opts.FollowRatio = 0.3
	}

	return db.Transaction(func(tx *gorm.DB) error {
		if err := clearData(tx); err != nil {
			return err
		}

		profiles := make([]database.ProfileRecord, 0, opts.Profiles+len(opts.Usernames))
		seen := make(map[string]bool)
		for _, name := range opts.Usernames {
			if name == "" || seen[name] {
				continue
			}
			seen[name] = true
			profiles = append(profiles, buildProfile(faker, name))
		}
		target := len(profiles) + opts.Profiles
		for i := 0; len(profiles) < target && i < opts.Profiles*4; i++ {
			name := strings.ToLower(faker.Username())
			if seen[name] {
				continue
			}
			seen[name] = true
			profiles = append(profiles, buildProfile(faker, name))
		}
		if len(profiles) == 0 {
			return nil
		}
		if err := tx.CreateInBatches(&profiles, 100).Error; err != nil {
			return fmt.Errorf("failed to seed profiles: %w", err)
		}

		var posts []database.PostRecord
		for _, p := range profiles {
			for j := 0; j < opts.PostsPerProfile; j++ {
				posts = append(posts, buildPost(faker, p.ID))
			}
		}
		if len(posts) > 0 {
			if err := tx.CreateInBatches(&posts, 200).Error; err != nil {
				return fmt.Errorf("failed to seed posts: %w", err)
			}
		}

		var follows []database.FollowerRecord
		for _, follower := range profiles {
			for _, followed := range profiles {
				if follower.ID == followed.ID || faker.Float64Range(0, 1) >= opts.FollowRatio {
					continue
				}
				follows = append(follows, database.FollowerRecord{Owner: follower.Owner, FollowedID: followed.ID})
			}
		}
		if len(follows) > 0 {
			if err := tx.CreateInBatches(&follows, 200).Error; err != nil {
				return fmt.Errorf("failed to seed follows: %w", err)
			}
		}

		observability.GlobalLogger.Info("Seeded development data",
			"profiles", len(profiles), "posts", len(posts), "follows", len(follows))
		return nil
	})
}

func clearData(tx *gorm.DB) error {
	for _, table := range []string{"followers", "posts", "profiles"} {
		if err := tx.Exec("DELETE FROM " + table).Error; err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	return nil
}

func buildProfile(faker *gofakeit.Faker, owner string) database.ProfileRecord {
	return database.ProfileRecord{
		Owner:     owner,
		Name:      faker.Name(),
		About:     faker.Sentence(12),
		Image:     fmt.Sprintf("https://picsum.photos/seed/%s/200/200", owner),
		CreatedAt: faker.DateRange(time.Now().AddDate(-1, 0, 0), time.Now()),
	}
}

func buildPost(faker *gofakeit.Faker, profileID uint) database.PostRecord {
	return database.PostRecord{
		ProfileID:     profileID,
		Title:         faker.Sentence(5),
		Caption:       faker.Paragraph(1, 3, 8, " "),
		Image:         fmt.Sprintf("https://picsum.photos/seed/%s/800/800", faker.UUID()),
		LikesCount:    faker.Number(0, 200),
		CommentsCount: faker.Number(0, 40),
		CreatedAt:     faker.DateRange(time.Now().AddDate(0, -3, 0), time.Now()),
	}
}
