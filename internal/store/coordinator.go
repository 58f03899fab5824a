package store

import (
	"context"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/baechuer/activity-sync/internal/domain"
	"github.com/baechuer/activity-sync/internal/metrics"
	"github.com/baechuer/activity-sync/internal/middleware"
	"github.com/baechuer/activity-sync/internal/tracing"
)

const (
	opCreate = "create"
	opEdit   = "edit"
	opDelete = "delete"
	opAttend = "attend"
	opCancel = "cancel_attendance"
)

func (s *Store) begin(ctx context.Context, op, id string) (context.Context, trace.Span) {
	return tracing.StartMutation(middleware.EnsureRequestID(ctx), op, id)
}

func finish(span trace.Span, op string, err error) {
	metrics.MutationsTotal.WithLabelValues(op, metrics.Outcome(err)).Inc()
	tracing.End(span, err)
}

func (s *Store) requireUser(op string) (domain.User, error) {
	u, ok := s.user()
	if !ok {
		return domain.User{}, domain.NewError(domain.KindUnauthorized, op, "not signed in")
	}
	return *u, nil
}

func (s *Store) setSubmitting(v bool, target string) {
	s.mu.Lock()
	s.submitting = v
	s.target = target
	s.mu.Unlock()
}

func (s *Store) setLoading(v bool) {
	s.mu.Lock()
	s.loading = v
	s.mu.Unlock()
}

// CreateActivity sends a new activity hosted by the current user. The
// registry is written only after the API accepts it. An empty ID is filled
// with a client-generated one.
func (s *Store) CreateActivity(ctx context.Context, a domain.Activity) (out domain.Activity, err error) {
	ctx, span := s.begin(ctx, opCreate, a.ID)
	defer func() { finish(span, opCreate, err) }()

	user, err := s.requireUser(opCreate)
	if err != nil {
		return domain.Activity{}, err
	}
	if err := domain.ValidateActivity(a); err != nil {
		return domain.Activity{}, err
	}

	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	host := domain.NewAttendee(user)
	host.IsHost = true
	a.Attendees = []domain.Attendee{host}
	a.Comments = []domain.Comment{}
	a.ApplyUser(&user)

	s.setSubmitting(true, "")
	defer s.setSubmitting(false, "")

	if err := s.api.Create(ctx, a); err != nil {
		s.react(ctx, opCreate, err, true)
		return domain.Activity{}, err
	}

	s.registry.Upsert(a)
	s.setCurrent(a)
	s.nav.Navigate("/activities/" + a.ID)
	return a.Clone(), nil
}

// EditActivity sends a wholesale update. Only on success does it replace the
// registry entry and the current activity.
func (s *Store) EditActivity(ctx context.Context, a domain.Activity) (out domain.Activity, err error) {
	ctx, span := s.begin(ctx, opEdit, a.ID)
	defer func() { finish(span, opEdit, err) }()

	if err := domain.ValidateActivity(a); err != nil {
		return domain.Activity{}, err
	}
	if a.ID == "" {
		return domain.Activity{}, domain.NewError(domain.KindValidation, opEdit, "missing id")
	}

	s.setSubmitting(true, "")
	defer s.setSubmitting(false, "")

	if err := s.api.Update(ctx, a); err != nil {
		s.react(ctx, opEdit, err, true)
		return domain.Activity{}, err
	}

	u, _ := s.user()
	a.ApplyUser(u)
	s.registry.Upsert(a)
	s.setCurrent(a)
	s.nav.Navigate("/activities/" + a.ID)
	return a.Clone(), nil
}

// DeleteActivity removes id after the API confirms. target identifies the
// control that triggered it and is exposed through Target while in flight.
func (s *Store) DeleteActivity(ctx context.Context, id, target string) (err error) {
	ctx, span := s.begin(ctx, opDelete, id)
	defer func() { finish(span, opDelete, err) }()

	s.setSubmitting(true, target)
	defer s.setSubmitting(false, "")

	if err := s.api.Delete(ctx, id); err != nil {
		s.react(ctx, opDelete, err, true)
		return err
	}

	s.registry.Remove(id)
	s.mu.Lock()
	if s.current != nil && s.current.ID == id {
		s.current = nil
	}
	s.mu.Unlock()
	return nil
}

// AttendActivity adds the current user to id's attendees before the remote
// call and takes them out again if the API rejects it. An attendee who was
// already present is left alone either way.
func (s *Store) AttendActivity(ctx context.Context, id string) (err error) {
	ctx, span := s.begin(ctx, opAttend, id)
	defer func() { finish(span, opAttend, err) }()

	user, err := s.requireUser(opAttend)
	if err != nil {
		return err
	}

	s.setLoading(true)
	defer s.setLoading(false)

	att := domain.NewAttendee(user)
	found, added := s.edit(id, func(a *domain.Activity) bool {
		return a.AddAttendee(att)
	})
	if !found {
		return domain.NewError(domain.KindNotFound, opAttend, "activity not loaded")
	}
	span.SetAttributes(attribute.Bool("optimistic.added", added))

	if err := s.api.Attend(ctx, id); err != nil {
		if added {
			s.edit(id, func(a *domain.Activity) bool {
				return a.RemoveAttendee(user.Username)
			})
			span.AddEvent("optimistic_rollback")
		}
		s.react(ctx, opAttend, err, true)
		return err
	}
	return nil
}

// CancelAttendance removes the current user from id once the API confirms.
func (s *Store) CancelAttendance(ctx context.Context, id string) (err error) {
	ctx, span := s.begin(ctx, opCancel, id)
	defer func() { finish(span, opCancel, err) }()

	user, err := s.requireUser(opCancel)
	if err != nil {
		return err
	}

	s.setLoading(true)
	defer s.setLoading(false)

	if err := s.api.Unattend(ctx, id); err != nil {
		s.react(ctx, opCancel, err, true)
		return err
	}

	s.edit(id, func(a *domain.Activity) bool {
		a.RemoveAttendee(user.Username)
		return true
	})
	return nil
}
