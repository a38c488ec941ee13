package devserver

import (
	"errors"
	"net/url"
	"strconv"

	"feedsync/internal/models"

	"github.com/gofiber/fiber/v2"
)

// errResponseWritten is a sentinel indicating the HTTP response was already
// committed by a helper. Handlers must return nil (not this error) to avoid
// Fiber's ErrorHandler overwriting the response.
var errResponseWritten = errors.New("response already written")

// Pagination holds parsed limit/offset query parameters.
type Pagination struct {
	Limit  int
	Offset int
}

const (
	maxPaginationLimit = 100
)

// parsePagination extracts limit and offset query parameters with the given default limit.
func parsePagination(c *fiber.Ctx, defaultLimit int) Pagination {
	limit := c.QueryInt("limit", defaultLimit)
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxPaginationLimit {
		limit = maxPaginationLimit
	}

	offset := c.QueryInt("offset", 0)
	if offset < 0 {
		offset = 0
	}

	return Pagination{
		Limit:  limit,
		Offset: offset,
	}
}

// pageLinks builds the absolute next and previous URLs of a limit/offset page. The
// other query parameters of the request are preserved.
func pageLinks(c *fiber.Ctx, p Pagination, total int64) (next, previous *string) {
	link := func(offset int) *string {
		q := url.Values{}
		c.Request().URI().QueryArgs().VisitAll(func(k, v []byte) {
			q.Set(string(k), string(v))
		})
		q.Set("limit", strconv.Itoa(p.Limit))
		if offset > 0 {
			q.Set("offset", strconv.Itoa(offset))
		} else {
			q.Del("offset")
		}
		s := c.BaseURL() + c.Path() + "?" + q.Encode()
		return &s
	}

	if int64(p.Offset+p.Limit) < total {
		next = link(p.Offset + p.Limit)
	}
	if p.Offset > 0 {
		prev := p.Offset - p.Limit
		if prev < 0 {
			prev = 0
		}
		previous = link(prev)
	}
	return next, previous
}

// parseID extracts a route parameter by name as a positive uint.
// On failure it writes a 400 JSON response and returns errResponseWritten.
func parseID(c *fiber.Ctx, param string) (uint, error) {
	id, err := c.ParamsInt(param)
	if err != nil || id <= 0 {
		_ = respondWithError(c, models.NewValidationError("Invalid ID"))
		return 0, errResponseWritten
	}
	return uint(id), nil
}

// statusFor maps an AppError code to its HTTP status.
func statusFor(err error) int {
	var appErr *models.AppError
	if !errors.As(err, &appErr) {
		return fiber.StatusInternalServerError
	}
	switch appErr.Code {
	case "NOT_FOUND":
		return fiber.StatusNotFound
	case "VALIDATION_ERROR":
		return fiber.StatusBadRequest
	case "UNAUTHORIZED":
		return fiber.StatusUnauthorized
	case "FORBIDDEN":
		return fiber.StatusForbidden
	default:
		return fiber.StatusInternalServerError
	}
}

// respondWithError writes err as an ErrorResponse with the status derived from its code.
func respondWithError(c *fiber.Ctx, err error) error {
	var response models.ErrorResponse

	var appErr *models.AppError
	if errors.As(err, &appErr) {
		response = models.ErrorResponse{
			Error: appErr.Message,
			Code:  appErr.Code,
		}
		if appErr.Err != nil {
			response.Details = appErr.Err.Error()
		}
	} else {
		response = models.ErrorResponse{
			Error: err.Error(),
		}
	}

	return c.Status(statusFor(err)).JSON(response)
}
