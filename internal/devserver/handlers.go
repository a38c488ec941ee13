package devserver

import (
	"strconv"

	"feedsync/internal/models"

	"github.com/gofiber/fiber/v2"
)

// GetProfiles handles GET /api/profiles/
func (s *Server) GetProfiles(c *fiber.Ctx) error {
	ctx := c.UserContext()
	page := parsePagination(c, s.pageSize)

	profiles, total, err := s.repo.ListProfiles(ctx, viewer(c), c.Query("ordering"), page.Limit, page.Offset)
	if err != nil {
		return respondWithError(c, err)
	}

	next, previous := pageLinks(c, page, total)
	return c.JSON(models.Page[models.Profile]{
		Count:    int(total),
		Next:     next,
		Previous: previous,
		Results:  profiles,
	})
}

// GetProfile handles GET /api/profiles/:id
func (s *Server) GetProfile(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return nil
	}

	profile, err := s.repo.GetProfile(c.UserContext(), id, viewer(c))
	if err != nil {
		return respondWithError(c, err)
	}
	return c.JSON(profile)
}

// GetPosts handles GET /api/posts/
// ?owner__profile=<id> restricts the listing to one author and ?author_state=1 adds
// the author's follow state to every post.
func (s *Server) GetPosts(c *fiber.Ctx) error {
	page := parsePagination(c, s.pageSize)

	var filter PostFilter
	if raw := c.Query("owner__profile"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 32)
		if err != nil || id == 0 {
			return respondWithError(c, models.NewValidationError("Invalid owner__profile"))
		}
		filter.ProfileID = uint(id)
	}
	filter.AuthorState = c.QueryBool("author_state", false)

	posts, total, err := s.repo.ListPosts(c.UserContext(), filter, viewer(c), page.Limit, page.Offset)
	if err != nil {
		return respondWithError(c, err)
	}

	next, previous := pageLinks(c, page, total)
	return c.JSON(models.Page[models.Post]{
		Count:    int(total),
		Next:     next,
		Previous: previous,
		Results:  posts,
	})
}

// CreateFollower handles POST /api/followers/
func (s *Server) CreateFollower(c *fiber.Ctx) error {
	var req models.FollowRequest
	if err := c.BodyParser(&req); err != nil {
		return respondWithError(c, models.NewValidationError("Invalid request body"))
	}
	followed, err := req.Followed.Uint()
	if err != nil || followed == 0 {
		return respondWithError(c, models.NewValidationError("followed must be a profile ID"))
	}

	follower, err := s.repo.CreateFollower(c.UserContext(), viewer(c), followed)
	if err != nil {
		return respondWithError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(follower)
}

// DeleteFollower handles DELETE /api/followers/:id
func (s *Server) DeleteFollower(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return nil
	}

	if err := s.repo.DeleteFollower(c.UserContext(), id, viewer(c)); err != nil {
		return respondWithError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
