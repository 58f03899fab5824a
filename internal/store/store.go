package store

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"time"

	"github.com/baechuer/activity-sync/internal/domain"
	"github.com/baechuer/activity-sync/internal/logger"
)

// ActivityAPI is the remote source of truth for activities.
type ActivityAPI interface {
	List(ctx context.Context, query url.Values) (*domain.Envelope, error)
	Details(ctx context.Context, id string) (*domain.Activity, error)
	Create(ctx context.Context, a domain.Activity) error
	Update(ctx context.Context, a domain.Activity) error
	Delete(ctx context.Context, id string) error
	Attend(ctx context.Context, id string) error
	Unattend(ctx context.Context, id string) error
}

// Session is the identity the store acts for.
type Session interface {
	Current() (domain.User, bool)
	Invalidate()
}

type NoticeLevel string

const (
	NoticeInfo  NoticeLevel = "info"
	NoticeError NoticeLevel = "error"
)

// Notice is a transient user-facing message.
type Notice struct {
	Level   NoticeLevel
	Message string
}

type Notifier interface {
	Notify(n Notice)
}

// Navigator moves the user to another view, e.g. "/activities/{id}".
type Navigator interface {
	Navigate(path string)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notice)

func (f NotifierFunc) Notify(n Notice) { f(n) }

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(string)

func (f NavigatorFunc) Navigate(path string) { f(path) }

const (
	PathHome     = "/"
	PathNotFound = "/notfound"
)

const (
	msgNetwork     = "Network Error - Ensure that the API is running."
	msgServer      = "Server error - check the logs for more info!"
	msgSubmit      = "Problem submitting data"
	msgSessionLost = "Session expired - please sign in again"
)

type Deps struct {
	API       ActivityAPI
	Session   Session
	Notifier  Notifier
	Navigator Navigator
	PageSize  int
}

// Store is the activity cache plus the operations that keep it in step with
// the API. Construct one per session and pass it to consumers.
type Store struct {
	api      ActivityAPI
	session  Session
	notifier Notifier
	nav      Navigator
	registry *Registry

	mu             sync.Mutex
	paging         *Paging
	current        *domain.Activity
	submitting     bool
	target         string
	loading        bool
	loadingInitial bool
}

func New(d Deps) *Store {
	if d.Notifier == nil {
		d.Notifier = NotifierFunc(func(Notice) {})
	}
	if d.Navigator == nil {
		d.Navigator = NavigatorFunc(func(string) {})
	}
	if d.PageSize <= 0 {
		d.PageSize = 2
	}
	return &Store{
		api:      d.API,
		session:  d.Session,
		notifier: d.Notifier,
		nav:      d.Navigator,
		registry: NewRegistry(),
		paging:   NewPaging(d.PageSize),
	}
}

func (s *Store) Registry() *Registry { return s.registry }

// Subscribe forwards registry changes to fn.
func (s *Store) Subscribe(fn func(Change)) (unsubscribe func()) {
	return s.registry.Subscribe(fn)
}

// ActivitiesByDate projects the current registry contents.
func (s *Store) ActivitiesByDate() []DateGroup {
	return GroupByDate(s.registry.Values())
}

func (s *Store) TotalPages() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paging.TotalPages()
}

func (s *Store) Page() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paging.Page()
}

// SetPage moves the cursor only; call LoadActivities to fetch it.
func (s *Store) SetPage(n int) {
	s.mu.Lock()
	s.paging.SetPage(n)
	s.mu.Unlock()
}

func (s *Store) Predicate() (string, any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paging.Predicate()
}

// Query returns the parameters the next list load will send.
func (s *Store) Query() url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paging.Query()
}

func (s *Store) Submitting() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submitting
}

// Target is the caller token of the delete in flight, if any.
func (s *Store) Target() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.target
}

// Loading is true while an attend or cancel is in flight.
func (s *Store) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// LoadingInitial is true while a list or detail load is in flight.
func (s *Store) LoadingInitial() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadingInitial
}

// Current returns the activity on display.
func (s *Store) Current() (domain.Activity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return domain.Activity{}, false
	}
	return s.current.Clone(), true
}

// Policy reports which controls the signed-in user gets on the current
// activity.
func (s *Store) Policy(now time.Time) (domain.ActionPolicy, bool) {
	a, ok := s.Current()
	if !ok {
		return domain.ActionPolicy{}, false
	}
	u, _ := s.user()
	return domain.CalculateActionPolicy(&a, u, now), true
}

func (s *Store) ClearActivity() {
	s.mu.Lock()
	s.current = nil
	s.mu.Unlock()
}

func (s *Store) user() (*domain.User, bool) {
	if s.session == nil {
		return nil, false
	}
	u, ok := s.session.Current()
	if !ok {
		return nil, false
	}
	return &u, true
}

func (s *Store) setCurrent(a domain.Activity) {
	cp := a.Clone()
	s.mu.Lock()
	s.current = &cp
	s.mu.Unlock()
}

// put upserts a and refreshes the current activity if it is the same one.
func (s *Store) put(a domain.Activity) {
	s.registry.Upsert(a)
	s.mu.Lock()
	if s.current != nil && s.current.ID == a.ID {
		cp := a.Clone()
		s.current = &cp
	}
	s.mu.Unlock()
}

// edit applies fn to both the registry entry and the current activity for id,
// then recomputes the user flags. found reports whether either copy exists;
// changed whether fn modified at least one of them.
func (s *Store) edit(id string, fn func(*domain.Activity) bool) (found, changed bool) {
	u, _ := s.user()
	wrap := func(a *domain.Activity) bool {
		if !fn(a) {
			return false
		}
		a.ApplyUser(u)
		return true
	}

	_, inRegistry := s.registry.Get(id)
	found = inRegistry
	changed = s.registry.Update(id, wrap)

	s.mu.Lock()
	if s.current != nil && s.current.ID == id {
		found = true
		if wrap(s.current) {
			changed = true
		}
	}
	s.mu.Unlock()
	return found, changed
}

// Report applies the transport failure policy to err without forcing a
// notice. Collaborating stores route their remote failures through it.
func (s *Store) Report(ctx context.Context, op string, err error) {
	s.react(ctx, op, err, false)
}

// react applies the transport failure policy. A remote not-found routes to
// the not-found view. notify forces a notice for kinds that are otherwise
// silent.
func (s *Store) react(ctx context.Context, op string, err error, notify bool) {
	log := logger.Ctx(ctx)

	switch {
	case errors.Is(err, domain.ErrTokenExpired):
		log.Warn().Str("op", op).Msg("session_expired")
		if s.session != nil {
			s.session.Invalidate()
		}
		s.nav.Navigate(PathHome)
		s.notifier.Notify(Notice{Level: NoticeError, Message: msgSessionLost})
		return
	case errors.Is(err, domain.ErrNetworkUnreachable):
		s.notifier.Notify(Notice{Level: NoticeError, Message: msgNetwork})
	case errors.Is(err, domain.ErrServerFault):
		s.notifier.Notify(Notice{Level: NoticeError, Message: msgServer})
	case errors.Is(err, domain.ErrNotFound):
		s.nav.Navigate(PathNotFound)
		if notify {
			s.notifier.Notify(Notice{Level: NoticeError, Message: msgSubmit})
		}
	case notify:
		s.notifier.Notify(Notice{Level: NoticeError, Message: msgSubmit})
	}

	log.Warn().Err(err).Str("op", op).Msg("store_operation_failed")
}
