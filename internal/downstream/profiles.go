package downstream

import (
	"context"
	"net/http"
	"net/url"

	"github.com/baechuer/activity-sync/internal/domain"
)

type ProfileClient struct {
	c *Client
}

func NewProfileClient(c *Client) *ProfileClient {
	return &ProfileClient{c: c}
}

func (p *ProfileClient) Get(ctx context.Context, username string) (*domain.Profile, error) {
	var prof domain.Profile
	err := p.c.do(ctx, call{
		op:     "profiles.get",
		method: http.MethodGet,
		route:  "/profiles/{username}",
		path:   "/profiles/" + url.PathEscape(username),
	}, &prof)
	if err != nil {
		return nil, err
	}
	return &prof, nil
}

func (p *ProfileClient) Follow(ctx context.Context, username string) error {
	return p.c.do(ctx, call{
		op:     "profiles.follow",
		method: http.MethodPost,
		route:  "/profiles/{username}/follow",
		path:   "/profiles/" + url.PathEscape(username) + "/follow",
		body:   struct{}{},
	}, nil)
}

func (p *ProfileClient) Unfollow(ctx context.Context, username string) error {
	return p.c.do(ctx, call{
		op:     "profiles.unfollow",
		method: http.MethodDelete,
		route:  "/profiles/{username}/follow",
		path:   "/profiles/" + url.PathEscape(username) + "/follow",
	}, nil)
}

type UserClient struct {
	c *Client
}

func NewUserClient(c *Client) *UserClient {
	return &UserClient{c: c}
}

// Current resolves the identity behind the configured bearer token.
func (u *UserClient) Current(ctx context.Context) (*domain.User, error) {
	var user domain.User
	err := u.c.do(ctx, call{
		op:     "user.current",
		method: http.MethodGet,
		route:  "/user",
		path:   "/user",
	}, &user)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// Followings lists the followers ("followers") or followees ("following") of
// username.
func (p *ProfileClient) Followings(ctx context.Context, username, predicate string) ([]domain.Profile, error) {
	out := make([]domain.Profile, 0)
	err := p.c.do(ctx, call{
		op:     "profiles.followings",
		method: http.MethodGet,
		route:  "/profiles/{username}/follow",
		path:   "/profiles/" + url.PathEscape(username) + "/follow",
		query:  url.Values{"predicate": {predicate}},
	}, &out)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Activities lists the activities username takes part in. predicate is
// "past", "future" or "hosting".
func (p *ProfileClient) Activities(ctx context.Context, username, predicate string) ([]domain.UserActivity, error) {
	out := make([]domain.UserActivity, 0)
	err := p.c.do(ctx, call{
		op:     "profiles.activities",
		method: http.MethodGet,
		route:  "/profiles/{username}/activities",
		path:   "/profiles/" + url.PathEscape(username) + "/activities",
		query:  url.Values{"predicate": {predicate}},
	}, &out)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UploadPhoto adds a photo to the signed-in user's profile.
func (p *ProfileClient) UploadPhoto(ctx context.Context, filename string, data []byte) (*domain.Photo, error) {
	var photo domain.Photo
	err := p.c.do(ctx, call{
		op:     "photos.upload",
		method: http.MethodPost,
		route:  "/photos",
		path:   "/photos",
		file:   &filePart{field: "File", filename: filename, data: data},
	}, &photo)
	if err != nil {
		return nil, err
	}
	return &photo, nil
}

func (p *ProfileClient) SetMainPhoto(ctx context.Context, id string) error {
	return p.c.do(ctx, call{
		op:     "photos.set_main",
		method: http.MethodPost,
		route:  "/photos/{id}/setMain",
		path:   "/photos/" + url.PathEscape(id) + "/setMain",
		body:   struct{}{},
	}, nil)
}

func (p *ProfileClient) DeletePhoto(ctx context.Context, id string) error {
	return p.c.do(ctx, call{
		op:     "photos.delete",
		method: http.MethodDelete,
		route:  "/photos/{id}",
		path:   "/photos/" + url.PathEscape(id),
	}, nil)
}
