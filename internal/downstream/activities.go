package downstream

import (
	"context"
	"net/http"
	"net/url"

	"github.com/baechuer/activity-sync/internal/domain"
)

// ActivityClient covers the /activities REST surface.
type ActivityClient struct {
	c *Client
}

func NewActivityClient(c *Client) *ActivityClient {
	return &ActivityClient{c: c}
}

func (a *ActivityClient) List(ctx context.Context, query url.Values) (*domain.Envelope, error) {
	var env domain.Envelope
	err := a.c.do(ctx, call{
		op:     "activities.list",
		method: http.MethodGet,
		route:  "/activities",
		path:   "/activities",
		query:  query,
	}, &env)
	if err != nil {
		return nil, err
	}
	if env.Activities == nil {
		env.Activities = make([]domain.Activity, 0)
	}
	return &env, nil
}

func (a *ActivityClient) Details(ctx context.Context, id string) (*domain.Activity, error) {
	var act domain.Activity
	err := a.c.do(ctx, call{
		op:     "activities.details",
		method: http.MethodGet,
		route:  "/activities/{id}",
		path:   "/activities/" + url.PathEscape(id),
	}, &act)
	if err != nil {
		return nil, err
	}
	return &act, nil
}

func (a *ActivityClient) Create(ctx context.Context, act domain.Activity) error {
	return a.c.do(ctx, call{
		op:     "activities.create",
		method: http.MethodPost,
		route:  "/activities",
		path:   "/activities",
		body:   act,
	}, nil)
}

func (a *ActivityClient) Update(ctx context.Context, act domain.Activity) error {
	return a.c.do(ctx, call{
		op:     "activities.update",
		method: http.MethodPut,
		route:  "/activities/{id}",
		path:   "/activities/" + url.PathEscape(act.ID),
		body:   act,
	}, nil)
}

func (a *ActivityClient) Delete(ctx context.Context, id string) error {
	return a.c.do(ctx, call{
		op:     "activities.delete",
		method: http.MethodDelete,
		route:  "/activities/{id}",
		path:   "/activities/" + url.PathEscape(id),
	}, nil)
}

func (a *ActivityClient) Attend(ctx context.Context, id string) error {
	return a.c.do(ctx, call{
		op:     "activities.attend",
		method: http.MethodPost,
		route:  "/activities/{id}/attend",
		path:   "/activities/" + url.PathEscape(id) + "/attend",
		body:   struct{}{},
	}, nil)
}

func (a *ActivityClient) Unattend(ctx context.Context, id string) error {
	return a.c.do(ctx, call{
		op:     "activities.unattend",
		method: http.MethodDelete,
		route:  "/activities/{id}/attend",
		path:   "/activities/" + url.PathEscape(id) + "/attend",
	}, nil)
}
