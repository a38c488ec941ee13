package follow

import (
	"context"
	"fmt"
	"net/url"

	"feedsync/internal/apiclient"
	"feedsync/internal/models"
)

// Relationships creates and deletes follow-relationship records on the server.
type Relationships interface {
	Create(ctx context.Context, followed models.ID) (*models.Follower, error)
	Delete(ctx context.Context, relationshipID models.ID) error
}

// APIRelationships implements Relationships over the REST follower endpoints.
type APIRelationships struct {
	api apiclient.API
}

var _ Relationships = (*APIRelationships)(nil)

// NewRelationships returns a Relationships backed by api.
func NewRelationships(api apiclient.API) *APIRelationships {
	return &APIRelationships{api: api}
}

// Create issues POST /followers/ {"followed": id}.
func (r *APIRelationships) Create(ctx context.Context, followed models.ID) (*models.Follower, error) {
	var f models.Follower
	if err := r.api.Post(ctx, "/followers/", models.FollowRequest{Followed: followed}, &f); err != nil {
		return nil, err
	}
	if f.ID == "" {
		return nil, &models.MalformedResponseError{URL: "/followers/", Reason: "relationship has no id"}
	}
	return &f, nil
}

// Delete issues DELETE /followers/<id>/.
func (r *APIRelationships) Delete(ctx context.Context, relationshipID models.ID) error {
	return r.api.Delete(ctx, fmt.Sprintf("/followers/%s/", url.PathEscape(relationshipID.String())))
}
