package store

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/baechuer/activity-sync/internal/domain"
	"github.com/baechuer/activity-sync/internal/session"
)

type mockActivityAPI struct {
	mock.Mock
}

func (m *mockActivityAPI) List(ctx context.Context, query url.Values) (*domain.Envelope, error) {
	args := m.Called(ctx, query)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Envelope), args.Error(1)
}

func (m *mockActivityAPI) Details(ctx context.Context, id string) (*domain.Activity, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Activity), args.Error(1)
}

func (m *mockActivityAPI) Create(ctx context.Context, a domain.Activity) error {
	return m.Called(ctx, a).Error(0)
}

func (m *mockActivityAPI) Update(ctx context.Context, a domain.Activity) error {
	return m.Called(ctx, a).Error(0)
}

func (m *mockActivityAPI) Delete(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockActivityAPI) Attend(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockActivityAPI) Unattend(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

// recorder collects notices and navigations.
type recorder struct {
	mu      sync.Mutex
	notices []Notice
	paths   []string
}

func (r *recorder) Notify(n Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
}

func (r *recorder) Navigate(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, path)
}

var bob = domain.User{Username: "bob", DisplayName: "Bob", Token: "tok", Image: "bob.png"}

func newTestStore(t *testing.T) (*Store, *mockActivityAPI, *recorder, *session.Session) {
	t.Helper()
	api := new(mockActivityAPI)
	rec := &recorder{}
	sess := session.New(&bob)
	s := New(Deps{API: api, Session: sess, Notifier: rec, Navigator: rec, PageSize: 2})
	t.Cleanup(func() { api.AssertExpectations(t) })
	return s, api, rec, sess
}

func envelope(count int, acts ...domain.Activity) *domain.Envelope {
	return &domain.Envelope{Activities: acts, ActivityCount: count}
}

func future(id string) domain.Activity {
	return act(id, time.Now().Add(48*time.Hour).UTC().Truncate(time.Millisecond))
}

func TestLoadActivities_AppliesUserFlagsAndCount(t *testing.T) {
	s, api, _, _ := newTestStore(t)

	going := future("a2")
	going.Attendees = append(going.Attendees, domain.Attendee{Username: "bob"})
	api.On("List", mock.Anything, url.Values{"limit": {"2"}, "offset": {"0"}}).
		Return(envelope(5, future("a1"), going), nil).Once()

	require.NoError(t, s.LoadActivities(context.Background()))

	a1, _ := s.Registry().Get("a1")
	a2, _ := s.Registry().Get("a2")
	assert.False(t, a1.IsGoing)
	assert.True(t, a2.IsGoing)
	assert.False(t, a2.IsHost)
	assert.Equal(t, 3, s.TotalPages())
	assert.False(t, s.LoadingInitial())
}

func TestLoadActivities_FailureLeavesRegistry(t *testing.T) {
	s, api, rec, _ := newTestStore(t)
	s.Registry().Upsert(future("kept"))

	api.On("List", mock.Anything, mock.Anything).
		Return(nil, &domain.Error{Kind: domain.KindNetworkUnreachable}).Once()

	err := s.LoadActivities(context.Background())
	assert.ErrorIs(t, err, domain.ErrNetworkUnreachable)
	assert.Equal(t, 1, s.Registry().Len())
	assert.False(t, s.LoadingInitial())
	require.Len(t, rec.notices, 1)
	assert.Equal(t, msgNetwork, rec.notices[0].Message)
}

func TestLoadActivities_DropsResponseAfterClear(t *testing.T) {
	s, api, _, _ := newTestStore(t)

	api.On("List", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) {
			// A predicate change lands while the fetch is in flight.
			s.Registry().Clear()
		}).
		Return(envelope(9, future("stale")), nil).Once()

	require.NoError(t, s.LoadActivities(context.Background()))
	assert.Zero(t, s.Registry().Len())
	assert.Zero(t, s.TotalPages(), "stale count must not be recorded")
}

func TestSetPredicate_ResetsPageAndClearsBeforeFetch(t *testing.T) {
	s, api, _, _ := newTestStore(t)
	s.Registry().Upsert(future("old"))
	s.SetPage(3)

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	api.On("List", mock.Anything, url.Values{
		"limit":     {"2"},
		"offset":    {"0"},
		"startDate": {"2024-01-01T00:00:00.000Z"},
	}).Run(func(mock.Arguments) {
		assert.Zero(t, s.Registry().Len(), "registry is empty until the fetch lands")
		assert.Equal(t, 0, s.Page())
	}).Return(envelope(1, future("new")), nil).Once()

	require.NoError(t, s.SetPredicate(context.Background(), "startDate", start))

	_, ok := s.Registry().Get("old")
	assert.False(t, ok)
	_, ok = s.Registry().Get("new")
	assert.True(t, ok)
}

func TestListSnapshot_PairsQueryWithGeneration(t *testing.T) {
	s, api, _, _ := newTestStore(t)

	oldQuery, oldGen := s.listSnapshot()
	api.On("List", mock.Anything, mock.Anything).Return(envelope(1, future("fresh")), nil).Once()
	require.NoError(t, s.SetPredicate(context.Background(), "isGoing", true))

	newQuery, newGen := s.listSnapshot()
	assert.Empty(t, oldQuery.Get("isGoing"))
	assert.Equal(t, "true", newQuery.Get("isGoing"))
	assert.NotEqual(t, oldGen, newGen)
	assert.False(t, s.Registry().UpsertAt(oldGen, future("old-filter")),
		"a fetch issued with the old filter cannot land")
}

// filterEchoAPI answers every list call with one activity whose Category
// names the filter the call was made with.
type filterEchoAPI struct {
	*mockActivityAPI
	seq atomic.Int64
}

func (f *filterEchoAPI) List(ctx context.Context, query url.Values) (*domain.Envelope, error) {
	filter := "none"
	for _, k := range []string{"isGoing", "isHost"} {
		if query.Has(k) {
			filter = k
		}
	}
	a := future(fmt.Sprintf("%s-%d", filter, f.seq.Add(1)))
	a.Category = filter
	return envelope(1, a), nil
}

func TestSetPredicate_ConcurrentLoadsNeverMixFilters(t *testing.T) {
	s := New(Deps{API: &filterEchoAPI{mockActivityAPI: new(mockActivityAPI)}, Session: session.New(&bob)})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		name := "isGoing"
		if i%2 == 1 {
			name = "isHost"
		}
		wg.Add(2)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.SetPredicate(ctx, name, true))
		}()
		go func() {
			defer wg.Done()
			assert.NoError(t, s.LoadActivities(ctx))
		}()
	}
	wg.Wait()

	name, _, ok := s.Predicate()
	require.True(t, ok)
	for _, a := range s.Registry().Values() {
		assert.Equal(t, name, a.Category, "activity %s loaded under another filter", a.ID)
	}
}

func TestSetPredicate_AllClearsFilterAndReloadsPageZero(t *testing.T) {
	s, api, _, _ := newTestStore(t)

	api.On("List", mock.Anything, mock.MatchedBy(func(q url.Values) bool {
		return q.Has("startDate")
	})).Return(envelope(1, future("filtered")), nil).Once()
	api.On("List", mock.Anything, url.Values{"limit": {"2"}, "offset": {"0"}}).
		Return(envelope(2, future("x"), future("y")), nil).Once()

	ctx := context.Background()
	require.NoError(t, s.SetPredicate(ctx, "startDate", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))
	s.SetPage(1)
	require.NoError(t, s.SetPredicate(ctx, PredicateAll, nil))

	_, _, ok := s.Predicate()
	assert.False(t, ok)
	assert.Equal(t, 0, s.Page())
	assert.ElementsMatch(t, []string{"x", "y"}, ids(s.Registry().Values()))
	api.AssertNumberOfCalls(t, "List", 2)
}

func TestLoadNextPage_Appends(t *testing.T) {
	s, api, _, _ := newTestStore(t)

	api.On("List", mock.Anything, url.Values{"limit": {"2"}, "offset": {"0"}}).
		Return(envelope(3, future("a"), future("b")), nil).Once()
	api.On("List", mock.Anything, url.Values{"limit": {"2"}, "offset": {"2"}}).
		Return(envelope(3, future("c")), nil).Once()

	ctx := context.Background()
	require.NoError(t, s.LoadActivities(ctx))
	require.NoError(t, s.LoadNextPage(ctx))

	assert.Equal(t, 1, s.Page())
	assert.Equal(t, 3, s.Registry().Len())
}

func TestLoadActivity(t *testing.T) {
	t.Run("registry hit needs no remote call", func(t *testing.T) {
		s, _, _, _ := newTestStore(t)
		s.Registry().Upsert(future("a1"))

		got, err := s.LoadActivity(context.Background(), "a1")
		require.NoError(t, err)
		assert.Equal(t, "a1", got.ID)
		cur, ok := s.Current()
		require.True(t, ok)
		assert.Equal(t, "a1", cur.ID)
	})

	t.Run("miss fetches and caches", func(t *testing.T) {
		s, api, _, _ := newTestStore(t)
		remote := future("a1")
		remote.Attendees = append(remote.Attendees, domain.Attendee{Username: "bob"})
		api.On("Details", mock.Anything, "a1").Return(&remote, nil).Once()

		got, err := s.LoadActivity(context.Background(), "a1")
		require.NoError(t, err)
		assert.True(t, got.IsGoing)
		_, ok := s.Registry().Get("a1")
		assert.True(t, ok)
	})

	t.Run("not found routes away", func(t *testing.T) {
		s, api, rec, _ := newTestStore(t)
		api.On("Details", mock.Anything, "gone").
			Return(nil, &domain.Error{Kind: domain.KindNotFound, Status: 404}).Once()

		_, err := s.LoadActivity(context.Background(), "gone")
		assert.ErrorIs(t, err, domain.ErrNotFound)
		assert.Equal(t, []string{PathNotFound}, rec.paths)
		_, ok := s.Current()
		assert.False(t, ok)
		assert.False(t, s.LoadingInitial())
	})
}

func TestCreateActivity(t *testing.T) {
	s, api, rec, _ := newTestStore(t)

	in := future("")
	in.Attendees = nil
	api.On("Create", mock.Anything, mock.MatchedBy(func(a domain.Activity) bool {
		return a.ID != "" && len(a.Attendees) == 1 && a.Attendees[0].IsHost
	})).Run(func(mock.Arguments) {
		assert.True(t, s.Submitting())
		assert.Zero(t, s.Registry().Len(), "nothing is written before the API accepts")
	}).Return(nil).Once()

	out, err := s.CreateActivity(context.Background(), in)
	require.NoError(t, err)
	assert.False(t, s.Submitting())

	got, ok := s.Registry().Get(out.ID)
	require.True(t, ok)
	var mine []domain.Attendee
	for _, a := range got.Attendees {
		if a.Username == bob.Username {
			mine = append(mine, a)
		}
	}
	require.Len(t, mine, 1)
	assert.True(t, mine[0].IsHost)
	assert.True(t, got.IsHost)
	assert.True(t, got.IsGoing)
	assert.NotNil(t, got.Comments)
	assert.Equal(t, []string{"/activities/" + out.ID}, rec.paths)
}

func TestCreateActivity_KeepsClientID(t *testing.T) {
	s, api, _, _ := newTestStore(t)
	api.On("Create", mock.Anything, mock.MatchedBy(func(a domain.Activity) bool { return a.ID == "mine" })).
		Return(nil).Once()

	out, err := s.CreateActivity(context.Background(), future("mine"))
	require.NoError(t, err)
	assert.Equal(t, "mine", out.ID)
}

func TestCreateActivity_Failure(t *testing.T) {
	s, api, rec, _ := newTestStore(t)
	api.On("Create", mock.Anything, mock.Anything).
		Return(&domain.Error{Kind: domain.KindValidation, Status: 400}).Once()

	_, err := s.CreateActivity(context.Background(), future(""))
	assert.ErrorIs(t, err, domain.ErrValidationFailed)
	assert.Zero(t, s.Registry().Len())
	assert.False(t, s.Submitting())
	assert.Empty(t, rec.paths)
	require.Len(t, rec.notices, 1)
	assert.Equal(t, NoticeError, rec.notices[0].Level)
}

func TestCreateActivity_InvalidFormSkipsRemote(t *testing.T) {
	s, _, _, _ := newTestStore(t)

	_, err := s.CreateActivity(context.Background(), domain.Activity{Title: "no date"})
	assert.ErrorIs(t, err, domain.ErrValidationFailed)
}

func TestCreateActivity_SignedOut(t *testing.T) {
	s, _, _, sess := newTestStore(t)
	sess.Invalidate()

	_, err := s.CreateActivity(context.Background(), future(""))
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestEditActivity(t *testing.T) {
	s, api, rec, _ := newTestStore(t)
	orig := future("a1")
	s.Registry().Upsert(orig)
	s.setCurrent(orig)

	edited := orig.Clone()
	edited.Title = "Renamed"

	api.On("Update", mock.Anything, mock.Anything).
		Return(&domain.Error{Kind: domain.KindServerFault, Status: 500}).Once()
	_, err := s.EditActivity(context.Background(), edited)
	assert.ErrorIs(t, err, domain.ErrServerFault)
	got, _ := s.Registry().Get("a1")
	assert.Equal(t, orig.Title, got.Title)
	assert.Equal(t, msgServer, rec.notices[0].Message)

	api.On("Update", mock.Anything, mock.Anything).Return(nil).Once()
	_, err = s.EditActivity(context.Background(), edited)
	require.NoError(t, err)
	got, _ = s.Registry().Get("a1")
	assert.Equal(t, "Renamed", got.Title)
	cur, _ := s.Current()
	assert.Equal(t, "Renamed", cur.Title)
}

func TestDeleteActivity_ExposesTarget(t *testing.T) {
	s, api, _, _ := newTestStore(t)
	s.Registry().Upsert(future("a1"))
	s.Registry().Upsert(future("a2"))
	s.setCurrent(future("a1"))

	api.On("Delete", mock.Anything, "a1").Run(func(mock.Arguments) {
		assert.True(t, s.Submitting())
		assert.Equal(t, "delete-a1", s.Target())
	}).Return(nil).Once()

	require.NoError(t, s.DeleteActivity(context.Background(), "a1", "delete-a1"))
	_, ok := s.Registry().Get("a1")
	assert.False(t, ok)
	_, ok = s.Registry().Get("a2")
	assert.True(t, ok)
	_, ok = s.Current()
	assert.False(t, ok)
	assert.Empty(t, s.Target())
	assert.False(t, s.Submitting())
}

func TestDeleteActivity_FailureKeepsEntry(t *testing.T) {
	s, api, _, _ := newTestStore(t)
	s.Registry().Upsert(future("a1"))
	api.On("Delete", mock.Anything, "a1").Return(&domain.Error{Kind: domain.KindUnauthorized, Status: 403}).Once()

	assert.Error(t, s.DeleteActivity(context.Background(), "a1", "btn"))
	_, ok := s.Registry().Get("a1")
	assert.True(t, ok)
}

func TestRemoteNotFoundRoutesToNotFound(t *testing.T) {
	s, api, rec, _ := newTestStore(t)
	s.Registry().Upsert(future("a1"))
	api.On("Delete", mock.Anything, "a1").Return(&domain.Error{Kind: domain.KindNotFound, Status: 404}).Once()
	api.On("List", mock.Anything, mock.Anything).Return(nil, &domain.Error{Kind: domain.KindNotFound, Status: 404}).Once()

	assert.ErrorIs(t, s.DeleteActivity(context.Background(), "a1", "btn"), domain.ErrNotFound)
	assert.Equal(t, []string{PathNotFound}, rec.paths)
	assert.Equal(t, []Notice{{Level: NoticeError, Message: msgSubmit}}, rec.notices)

	assert.ErrorIs(t, s.LoadActivities(context.Background()), domain.ErrNotFound)
	assert.Equal(t, []string{PathNotFound, PathNotFound}, rec.paths)
	assert.Len(t, rec.notices, 1, "loads stay silent")
}

func TestAttendActivity_OptimisticThenConfirmed(t *testing.T) {
	s, api, _, _ := newTestStore(t)
	a := future("a1")
	s.Registry().Upsert(a)
	s.setCurrent(a)

	api.On("Attend", mock.Anything, "a1").Run(func(mock.Arguments) {
		got, _ := s.Registry().Get("a1")
		assert.True(t, got.HasAttendee("bob"), "attendee is visible while the call is pending")
		assert.True(t, got.IsGoing)
		assert.True(t, s.Loading())
	}).Return(nil).Once()

	require.NoError(t, s.AttendActivity(context.Background(), "a1"))
	got, _ := s.Registry().Get("a1")
	assert.Len(t, got.Attendees, 2)
	assert.True(t, got.IsGoing)
	cur, _ := s.Current()
	assert.True(t, cur.IsGoing)
	assert.False(t, s.Loading())
}

func TestAttendActivity_RejectedLeavesNoOrphan(t *testing.T) {
	s, api, rec, _ := newTestStore(t)
	a := future("a1")
	s.Registry().Upsert(a)
	s.setCurrent(a)

	api.On("Attend", mock.Anything, "a1").
		Return(&domain.Error{Kind: domain.KindServerFault, Status: 500}).Once()

	err := s.AttendActivity(context.Background(), "a1")
	assert.ErrorIs(t, err, domain.ErrServerFault)

	for _, got := range []func() (domain.Activity, bool){
		func() (domain.Activity, bool) { return s.Registry().Get("a1") },
		s.Current,
	} {
		snapshot, ok := got()
		require.True(t, ok)
		assert.Equal(t, a.Attendees, snapshot.Attendees)
		assert.False(t, snapshot.IsGoing)
	}
	require.Len(t, rec.notices, 1)
	assert.Equal(t, msgServer, rec.notices[0].Message)
}

func TestAttendActivity_RejectedKeepsPriorAttendance(t *testing.T) {
	s, api, _, _ := newTestStore(t)
	a := future("a1")
	a.Attendees = append(a.Attendees, domain.NewAttendee(bob))
	s.Registry().Upsert(a)

	api.On("Attend", mock.Anything, "a1").
		Return(&domain.Error{Kind: domain.KindServerFault, Status: 500}).Once()

	assert.Error(t, s.AttendActivity(context.Background(), "a1"))
	got, _ := s.Registry().Get("a1")
	assert.Len(t, got.Attendees, 2)
	assert.True(t, got.HasAttendee("bob"))
}

func TestAttendActivity_UnknownActivity(t *testing.T) {
	s, _, _, _ := newTestStore(t)
	err := s.AttendActivity(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCancelAttendance(t *testing.T) {
	orders := [][]domain.Attendee{
		{{Username: "tom", IsHost: true}, {Username: "bob"}, {Username: "jane"}},
		{{Username: "bob"}, {Username: "tom", IsHost: true}},
		{{Username: "jane"}, {Username: "tom", IsHost: true}, {Username: "bob"}},
	}
	for _, attendees := range orders {
		s, api, _, _ := newTestStore(t)
		a := future("a1")
		a.Attendees = attendees
		a.ApplyUser(&bob)
		s.Registry().Upsert(a)

		api.On("Unattend", mock.Anything, "a1").Return(nil).Once()
		require.NoError(t, s.CancelAttendance(context.Background(), "a1"))

		got, _ := s.Registry().Get("a1")
		assert.False(t, got.HasAttendee("bob"))
		assert.Len(t, got.Attendees, len(attendees)-1)
		assert.False(t, got.IsGoing)
	}
}

func TestCancelAttendance_FailureUntouched(t *testing.T) {
	s, api, rec, _ := newTestStore(t)
	a := future("a1")
	a.Attendees = append(a.Attendees, domain.NewAttendee(bob))
	a.ApplyUser(&bob)
	s.Registry().Upsert(a)

	api.On("Unattend", mock.Anything, "a1").
		Return(&domain.Error{Kind: domain.KindNetworkUnreachable}).Once()

	assert.Error(t, s.CancelAttendance(context.Background(), "a1"))
	got, _ := s.Registry().Get("a1")
	assert.True(t, got.HasAttendee("bob"))
	assert.True(t, got.IsGoing)
	assert.Equal(t, msgNetwork, rec.notices[0].Message)
}

func TestExpiredTokenInvalidatesSession(t *testing.T) {
	s, api, rec, sess := newTestStore(t)
	invalidated := false
	sess.OnInvalidate(func() { invalidated = true })

	api.On("List", mock.Anything, mock.Anything).
		Return(nil, &domain.Error{Kind: domain.KindUnauthorized, Status: 401, TokenExpired: true}).Once()

	err := s.LoadActivities(context.Background())
	assert.ErrorIs(t, err, domain.ErrTokenExpired)
	assert.True(t, invalidated)
	_, ok := sess.Current()
	assert.False(t, ok)
	assert.Equal(t, []string{PathHome}, rec.paths)
}

func TestReceiveComment_StaleBindingGuard(t *testing.T) {
	s, _, _, _ := newTestStore(t)
	a := future("a1")
	b := future("b1")
	s.Registry().Upsert(a)
	s.Registry().Upsert(b)
	s.setCurrent(a)

	first := domain.Comment{Body: "first", Username: "tom"}
	second := domain.Comment{Body: "second", Username: "jane"}
	assert.True(t, s.ReceiveComment("a1", first))
	assert.True(t, s.ReceiveComment("a1", second))

	cur, _ := s.Current()
	require.Len(t, cur.Comments, 2)
	assert.Equal(t, "first", cur.Comments[0].Body)
	assert.Equal(t, "second", cur.Comments[1].Body)

	// The user navigated to b1; a late event for a1 must not land anywhere.
	s.setCurrent(b)
	assert.False(t, s.ReceiveComment("a1", domain.Comment{Body: "late"}))
	got, _ := s.Registry().Get("a1")
	assert.Len(t, got.Comments, 2)
	cur, _ = s.Current()
	assert.Empty(t, cur.Comments)
}

func TestBroadcastNotifies(t *testing.T) {
	s, _, rec, _ := newTestStore(t)
	s.Broadcast("server restarting")
	assert.Equal(t, []Notice{{Level: NoticeInfo, Message: "server restarting"}}, rec.notices)
}

func TestActivitiesByDate_TracksRegistry(t *testing.T) {
	s, _, _, _ := newTestStore(t)
	var changes int
	unsubscribe := s.Subscribe(func(Change) { changes++ })
	defer unsubscribe()

	s.Registry().Upsert(act("late", time.Date(2024, 5, 2, 10, 0, 0, 0, time.UTC)))
	s.Registry().Upsert(act("early", time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)))

	groups := s.ActivitiesByDate()
	require.Len(t, groups, 2)
	assert.Equal(t, "early", groups[0].Activities[0].ID)
	assert.Equal(t, 2, changes)

	s.Registry().Remove("early")
	assert.Len(t, s.ActivitiesByDate(), 1)
}

func TestPolicy_FollowsCurrentActivity(t *testing.T) {
	s, _, _, _ := newTestStore(t)
	_, ok := s.Policy(time.Now())
	assert.False(t, ok)

	s.Registry().Upsert(future("a1"))
	_, err := s.LoadActivity(context.Background(), "a1")
	require.NoError(t, err)

	p, ok := s.Policy(time.Now())
	require.True(t, ok)
	assert.True(t, p.CanAttend)
	assert.False(t, p.CanEdit)
}
