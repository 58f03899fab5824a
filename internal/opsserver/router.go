package opsserver

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/baechuer/activity-sync/internal/middleware"
	"github.com/baechuer/activity-sync/internal/realtime"
	"github.com/baechuer/activity-sync/internal/store"
)

// ActivitySource is the read side of the activity store.
type ActivitySource interface {
	ActivitiesByDate() []store.DateGroup
	Page() int
	TotalPages() int
}

// ChannelSource reports the realtime channel.
type ChannelSource interface {
	State() realtime.State
	ActivityID() string
}

type Deps struct {
	Logger     zerolog.Logger
	Activities ActivitySource
	Channel    ChannelSource
	Checkers   []ReadinessChecker
}

type snapshot struct {
	Page       int               `json:"page"`
	TotalPages int               `json:"totalPages"`
	Groups     []store.DateGroup `json:"groups"`
	Channel    *channelSnapshot  `json:"channel,omitempty"`
}

type channelSnapshot struct {
	State      string `json:"state"`
	ActivityID string `json:"activityId,omitempty"`
}

func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RequestLogger(d.Logger))
	r.Use(chimiddleware.Recoverer)

	ready := NewReadinessHandler(d.Checkers...)
	r.Get("/healthz", ready.Healthz)
	r.Get("/readyz", ready.Readyz)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/debug/activities", func(w http.ResponseWriter, r *http.Request) {
		snap := snapshot{Groups: []store.DateGroup{}}
		if d.Activities != nil {
			snap.Page = d.Activities.Page()
			snap.TotalPages = d.Activities.TotalPages()
			snap.Groups = d.Activities.ActivitiesByDate()
		}
		if d.Channel != nil {
			snap.Channel = &channelSnapshot{
				State:      d.Channel.State().String(),
				ActivityID: d.Channel.ActivityID(),
			}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(snap)
	})

	return r
}

// New wraps h in an http.Server listening on addr.
func New(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
