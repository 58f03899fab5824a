package store

import (
	"context"
	"slices"
	"sync"

	"github.com/baechuer/activity-sync/internal/domain"
	"github.com/baechuer/activity-sync/internal/logger"
	"github.com/baechuer/activity-sync/internal/middleware"
)

type ProfileAPI interface {
	Get(ctx context.Context, username string) (*domain.Profile, error)
	Follow(ctx context.Context, username string) error
	Unfollow(ctx context.Context, username string) error
	Followings(ctx context.Context, username, predicate string) ([]domain.Profile, error)
	Activities(ctx context.Context, username, predicate string) ([]domain.UserActivity, error)
	UploadPhoto(ctx context.Context, filename string, data []byte) (*domain.Photo, error)
	SetMainPhoto(ctx context.Context, id string) error
	DeletePhoto(ctx context.Context, id string) error
}

// FollowingSink receives follow state changes so cached attendees stay in
// step. *Store implements it.
type FollowingSink interface {
	SetFollowing(username string, following bool)
}

// FailureReporter applies the shared transport failure policy to a remote
// error. *Store implements it.
type FailureReporter interface {
	Report(ctx context.Context, op string, err error)
}

// userUpdater is implemented by sessions that can replace the signed-in user.
type userUpdater interface {
	SetUser(u domain.User)
}

type ProfileDeps struct {
	API       ProfileAPI
	Session   Session
	Following FollowingSink
	Failures  FailureReporter
}

// ProfileStore holds the profile on display.
type ProfileStore struct {
	api      ProfileAPI
	session  Session
	sink     FollowingSink
	failures FailureReporter

	mu                sync.Mutex
	profile           *domain.Profile
	followings        []domain.Profile
	userActivities    []domain.UserActivity
	loadingProfile    bool
	loading           bool
	loadingActivities bool
	uploading         bool
}

func NewProfileStore(d ProfileDeps) *ProfileStore {
	return &ProfileStore{api: d.API, session: d.Session, sink: d.Following, failures: d.Failures}
}

func (p *ProfileStore) report(ctx context.Context, op string, err error) {
	if p.failures != nil {
		p.failures.Report(ctx, op, err)
	}
}

func (p *ProfileStore) LoadProfile(ctx context.Context, username string) (domain.Profile, error) {
	ctx = middleware.EnsureRequestID(ctx)

	p.mu.Lock()
	p.loadingProfile = true
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.loadingProfile = false
		p.mu.Unlock()
	}()

	prof, err := p.api.Get(ctx, username)
	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("username", username).Msg("profile_load_failed")
		p.report(ctx, "load_profile", err)
		return domain.Profile{}, err
	}

	p.mu.Lock()
	p.profile = prof
	p.userActivities = nil
	p.mu.Unlock()
	return cloneProfile(*prof), nil
}

// LoadFollowings loads the followers or followings of the profile on display.
// predicate is "followers" or "following".
func (p *ProfileStore) LoadFollowings(ctx context.Context, predicate string) ([]domain.Profile, error) {
	prof, ok := p.Profile()
	if !ok {
		return nil, domain.NewError(domain.KindNotFound, "profile.followings", "no profile loaded")
	}
	ctx = middleware.EnsureRequestID(ctx)

	p.setLoading(true)
	defer p.setLoading(false)

	list, err := p.api.Followings(ctx, prof.Username, predicate)
	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("predicate", predicate).Msg("profile_followings_failed")
		p.report(ctx, "load_followings", err)
		return nil, err
	}

	p.mu.Lock()
	p.followings = list
	p.mu.Unlock()
	return list, nil
}

func (p *ProfileStore) Profile() (domain.Profile, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.profile == nil {
		return domain.Profile{}, false
	}
	return cloneProfile(*p.profile), true
}

func (p *ProfileStore) Followings() []domain.Profile {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.Profile, len(p.followings))
	copy(out, p.followings)
	return out
}

// UserActivities returns the last loaded activity tab of the profile.
func (p *ProfileStore) UserActivities() []domain.UserActivity {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.UserActivity, len(p.userActivities))
	copy(out, p.userActivities)
	return out
}

func (p *ProfileStore) LoadingActivities() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loadingActivities
}

func (p *ProfileStore) Uploading() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.uploading
}

func (p *ProfileStore) LoadingProfile() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loadingProfile
}

func (p *ProfileStore) Loading() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loading
}

// IsCurrentUser reports whether the profile on display is the signed-in user.
func (p *ProfileStore) IsCurrentUser() bool {
	if p.session == nil {
		return false
	}
	u, ok := p.session.Current()
	if !ok {
		return false
	}
	prof, ok := p.Profile()
	return ok && prof.Username == u.Username
}

func (p *ProfileStore) Follow(ctx context.Context, username string) error {
	return p.setFollow(ctx, username, true)
}

func (p *ProfileStore) Unfollow(ctx context.Context, username string) error {
	return p.setFollow(ctx, username, false)
}

func (p *ProfileStore) setFollow(ctx context.Context, username string, follow bool) error {
	ctx = middleware.EnsureRequestID(ctx)

	p.setLoading(true)
	defer p.setLoading(false)

	var err error
	if follow {
		err = p.api.Follow(ctx, username)
	} else {
		err = p.api.Unfollow(ctx, username)
	}
	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("username", username).Bool("follow", follow).Msg("profile_follow_failed")
		p.report(ctx, "follow", err)
		return err
	}

	p.mu.Lock()
	if p.profile != nil && p.profile.Username == username && p.profile.Following != follow {
		p.profile.Following = follow
		if follow {
			p.profile.FollowersCount++
		} else if p.profile.FollowersCount > 0 {
			p.profile.FollowersCount--
		}
	}
	for i := range p.followings {
		if p.followings[i].Username == username {
			p.followings[i].Following = follow
		}
	}
	p.mu.Unlock()

	if p.sink != nil {
		p.sink.SetFollowing(username, follow)
	}
	return nil
}

func (p *ProfileStore) setLoading(v bool) {
	p.mu.Lock()
	p.loading = v
	p.mu.Unlock()
}

// LoadUserActivities loads the activity tab of the profile on display.
// predicate is "past", "future" or "hosting".
func (p *ProfileStore) LoadUserActivities(ctx context.Context, predicate string) ([]domain.UserActivity, error) {
	prof, ok := p.Profile()
	if !ok {
		return nil, domain.NewError(domain.KindNotFound, "profile.activities", "no profile loaded")
	}
	ctx = middleware.EnsureRequestID(ctx)

	p.mu.Lock()
	p.loadingActivities = true
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.loadingActivities = false
		p.mu.Unlock()
	}()

	list, err := p.api.Activities(ctx, prof.Username, predicate)
	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("predicate", predicate).Msg("profile_activities_failed")
		p.report(ctx, "load_user_activities", err)
		return nil, err
	}

	p.mu.Lock()
	if p.profile != nil && p.profile.Username == prof.Username {
		p.userActivities = list
	}
	p.mu.Unlock()
	return list, nil
}

// UploadPhoto adds a photo to the signed-in user's profile. A photo the
// server marks as main also becomes the profile and user image.
func (p *ProfileStore) UploadPhoto(ctx context.Context, filename string, data []byte) (domain.Photo, error) {
	ctx = middleware.EnsureRequestID(ctx)

	p.mu.Lock()
	p.uploading = true
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.uploading = false
		p.mu.Unlock()
	}()

	photo, err := p.api.UploadPhoto(ctx, filename, data)
	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("filename", filename).Msg("photo_upload_failed")
		p.report(ctx, "upload_photo", err)
		return domain.Photo{}, err
	}

	if p.IsCurrentUser() {
		p.mu.Lock()
		if p.profile != nil {
			p.profile.Photos = append(p.profile.Photos, *photo)
			if photo.IsMain {
				p.profile.Image = photo.URL
			}
		}
		p.mu.Unlock()
	}
	if photo.IsMain {
		p.setUserImage(photo.URL)
	}
	return *photo, nil
}

// SetMainPhoto makes id the main photo of the signed-in user.
func (p *ProfileStore) SetMainPhoto(ctx context.Context, id string) error {
	ctx = middleware.EnsureRequestID(ctx)

	p.setLoading(true)
	defer p.setLoading(false)

	if err := p.api.SetMainPhoto(ctx, id); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("photo_id", id).Msg("photo_set_main_failed")
		p.report(ctx, "set_main_photo", err)
		return err
	}

	url := ""
	p.mu.Lock()
	if p.profile != nil {
		for i := range p.profile.Photos {
			ph := &p.profile.Photos[i]
			ph.IsMain = ph.ID == id
			if ph.IsMain {
				url = ph.URL
			}
		}
		if url != "" {
			p.profile.Image = url
		}
	}
	p.mu.Unlock()

	if url != "" {
		p.setUserImage(url)
	}
	return nil
}

func (p *ProfileStore) DeletePhoto(ctx context.Context, id string) error {
	ctx = middleware.EnsureRequestID(ctx)

	p.setLoading(true)
	defer p.setLoading(false)

	if err := p.api.DeletePhoto(ctx, id); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("photo_id", id).Msg("photo_delete_failed")
		p.report(ctx, "delete_photo", err)
		return err
	}

	p.mu.Lock()
	if p.profile != nil {
		p.profile.Photos = slices.DeleteFunc(p.profile.Photos, func(ph domain.Photo) bool { return ph.ID == id })
	}
	p.mu.Unlock()
	return nil
}

func (p *ProfileStore) setUserImage(url string) {
	up, ok := p.session.(userUpdater)
	if !ok {
		return
	}
	u, ok := p.session.Current()
	if !ok {
		return
	}
	u.Image = url
	up.SetUser(u)
}

func cloneProfile(prof domain.Profile) domain.Profile {
	prof.Photos = slices.Clone(prof.Photos)
	return prof
}
