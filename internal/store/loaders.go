package store

import (
	"context"
	"net/url"

	"github.com/baechuer/activity-sync/internal/domain"
	"github.com/baechuer/activity-sync/internal/logger"
	"github.com/baechuer/activity-sync/internal/metrics"
	"github.com/baechuer/activity-sync/internal/middleware"
	"github.com/baechuer/activity-sync/internal/tracing"
)

// LoadActivities fetches the current page into the registry. A response that
// arrives after a Clear is dropped. Failures leave the registry untouched.
func (s *Store) LoadActivities(ctx context.Context) (err error) {
	ctx = middleware.EnsureRequestID(ctx)
	query, gen := s.listSnapshot()
	defer s.setLoadingInitial(false)

	ctx, span := tracing.StartLoad(ctx, "LoadActivities",
		tracing.AttrQuery.String(query.Encode()),
		tracing.AttrGeneration.Int64(int64(gen)))
	defer func() { tracing.End(span, err) }()

	env, err := s.api.List(ctx, query)
	if err != nil {
		s.react(ctx, "load_activities", err, false)
		return err
	}

	u, _ := s.user()
	for i := range env.Activities {
		env.Activities[i].ApplyUser(u)
	}

	if !s.registry.UpsertAt(gen, env.Activities...) {
		metrics.StaleResponsesTotal.Inc()
		span.AddEvent("stale_response_dropped")
		logger.Ctx(ctx).Debug().
			Uint64("generation", gen).
			Int("count", len(env.Activities)).
			Msg("stale_list_response_dropped")
		return nil
	}

	s.mu.Lock()
	if s.registry.Generation() == gen {
		s.paging.SetActivityCount(env.ActivityCount)
	}
	s.mu.Unlock()
	return nil
}

// listSnapshot marks the load as started and reads the query together with
// the registry generation it belongs to.
func (s *Store) listSnapshot() (url.Values, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadingInitial = true
	return s.paging.Query(), s.registry.Generation()
}

// SetPredicate replaces the list filter, empties the registry and reloads
// page 0. Pass PredicateAll to drop the filter.
func (s *Store) SetPredicate(ctx context.Context, name string, value any) error {
	s.mu.Lock()
	s.paging.SetPredicate(name, value)
	notify := s.registry.reset()
	s.mu.Unlock()

	notify()
	return s.LoadActivities(ctx)
}

// LoadNextPage advances the cursor and appends that page to the registry.
func (s *Store) LoadNextPage(ctx context.Context) error {
	s.mu.Lock()
	s.paging.SetPage(s.paging.Page() + 1)
	s.mu.Unlock()
	return s.LoadActivities(ctx)
}

// LoadActivity makes id the current activity, fetching it only on a registry
// miss.
func (s *Store) LoadActivity(ctx context.Context, id string) (act domain.Activity, err error) {
	if a, ok := s.registry.Get(id); ok {
		s.setCurrent(a)
		return a, nil
	}

	ctx = middleware.EnsureRequestID(ctx)
	ctx, span := tracing.StartLoad(ctx, "LoadActivity", tracing.AttrActivityID.String(id))
	defer func() { tracing.End(span, err) }()

	s.setLoadingInitial(true)
	defer s.setLoadingInitial(false)

	remote, err := s.api.Details(ctx, id)
	if err != nil {
		s.react(ctx, "load_activity", err, false)
		return domain.Activity{}, err
	}

	u, _ := s.user()
	remote.ApplyUser(u)
	s.registry.Upsert(*remote)
	s.setCurrent(*remote)
	return remote.Clone(), nil
}

func (s *Store) setLoadingInitial(v bool) {
	s.mu.Lock()
	s.loadingInitial = v
	s.mu.Unlock()
}
