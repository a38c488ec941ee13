package devserver

import (
	"fmt"
	"os"
	"time"

	"feedsync/internal/database"

	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
)

// Fixture is a hand-written data set, loaded instead of generated data when
// deterministic ids matter.
//
//	profiles:
//	  - owner: ann
//	    name: Ann
//	    posts:
//	      - title: hello
//	follows:
//	  - {owner: bob, followed: ann}
type Fixture struct {
	Profiles []FixtureProfile `yaml:"profiles"`
	Follows  []FixtureFollow  `yaml:"follows"`
}

// FixtureProfile is one profile and its posts. Posts are created newest first in
// list order.
type FixtureProfile struct {
	Owner string        `yaml:"owner"`
	Name  string        `yaml:"name"`
	About string        `yaml:"about"`
	Image string        `yaml:"image"`
	Posts []FixturePost `yaml:"posts"`
}

// FixturePost is one post of a FixtureProfile.
type FixturePost struct {
	Title   string `yaml:"title"`
	Caption string `yaml:"caption"`
	Image   string `yaml:"image"`
}

// FixtureFollow makes Owner follow the profile owned by Followed.
type FixtureFollow struct {
	Owner    string `yaml:"owner"`
	Followed string `yaml:"followed"`
}

// LoadFixture reads a YAML fixture file.
func LoadFixture(path string) (*Fixture, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture: %w", err)
	}
	return ParseFixture(raw)
}

// ParseFixture decodes and validates a YAML fixture.
func ParseFixture(raw []byte) (*Fixture, error) {
	var f Fixture
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("decode fixture: %w", err)
	}

	owners := make(map[string]bool, len(f.Profiles))
	for i, p := range f.Profiles {
		if p.Owner == "" {
			return nil, fmt.Errorf("profile %d has no owner", i)
		}
		if owners[p.Owner] {
			return nil, fmt.Errorf("duplicate profile owner %q", p.Owner)
		}
		owners[p.Owner] = true
	}
	for _, fl := range f.Follows {
		if !owners[fl.Followed] {
			return nil, fmt.Errorf("follow of unknown profile %q", fl.Followed)
		}
		if fl.Owner == fl.Followed {
			return nil, fmt.Errorf("profile %q cannot follow itself", fl.Owner)
		}
	}
	return &f, nil
}

// Apply replaces the database contents with the fixture. Profiles get ids in list
// order starting at 1 on an empty database.
func (f *Fixture) Apply(db *gorm.DB) error {
	return db.Transaction(func(tx *gorm.DB) error {
		if err := clearData(tx); err != nil {
			return err
		}

		base := time.Now().Add(-time.Duration(len(f.Profiles)) * time.Hour)
		ids := make(map[string]uint, len(f.Profiles))
		for i, fp := range f.Profiles {
			rec := database.ProfileRecord{
				Owner:     fp.Owner,
				Name:      fp.Name,
				About:     fp.About,
				Image:     fp.Image,
				CreatedAt: base.Add(time.Duration(i) * time.Hour),
			}
			if err := tx.Create(&rec).Error; err != nil {
				return fmt.Errorf("create profile %q: %w", fp.Owner, err)
			}
			ids[fp.Owner] = rec.ID

			n := len(fp.Posts)
			for j, post := range fp.Posts {
				pr := database.PostRecord{
					ProfileID: rec.ID,
					Title:     post.Title,
					Caption:   post.Caption,
					Image:     post.Image,
					CreatedAt: rec.CreatedAt.Add(time.Duration(n-j) * time.Second),
				}
				if err := tx.Create(&pr).Error; err != nil {
					return fmt.Errorf("create post %q: %w", post.Title, err)
				}
			}
		}

		for _, fl := range f.Follows {
			rec := database.FollowerRecord{Owner: fl.Owner, FollowedID: ids[fl.Followed]}
			if err := tx.Create(&rec).Error; err != nil {
				return fmt.Errorf("create follow %s->%s: %w", fl.Owner, fl.Followed, err)
			}
		}
		return nil
	})
}
