package domain

import (
	"time"
)

type Activity struct {
	ID          string     `json:"id"`
	Title       string     `json:"title" validate:"required,max=120"`
	Description string     `json:"description" validate:"required,max=4000"`
	Category    string     `json:"category" validate:"required,max=80"`
	Date        time.Time  `json:"date" validate:"required"`
	City        string     `json:"city" validate:"required,max=80"`
	Venue       string     `json:"venue" validate:"required,max=120"`
	Attendees   []Attendee `json:"attendees"`
	Comments    []Comment  `json:"comments"`

	// Derived from Attendees and the current user, see ApplyUser.
	IsGoing bool `json:"isGoing"`
	IsHost  bool `json:"isHost"`
}

type Attendee struct {
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	Image       string `json:"image,omitempty"`
	IsHost      bool   `json:"isHost"`
	Following   bool   `json:"following"`
}

type Comment struct {
	ID          string    `json:"id,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	Body        string    `json:"body"`
	Username    string    `json:"username"`
	DisplayName string    `json:"displayName"`
	Image       string    `json:"image,omitempty"`
}

type User struct {
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	Token       string `json:"token"`
	Image       string `json:"image,omitempty"`
}

type Profile struct {
	Username       string  `json:"username"`
	DisplayName    string  `json:"displayName"`
	Image          string  `json:"image,omitempty"`
	Bio            string  `json:"bio,omitempty"`
	Following      bool    `json:"following"`
	FollowersCount int     `json:"followersCount"`
	FollowingCount int     `json:"followingCount"`
	Photos         []Photo `json:"photos,omitempty"`
}

type Photo struct {
	ID     string `json:"id"`
	URL    string `json:"url"`
	IsMain bool   `json:"isMain"`
}

// UserActivity is the summary row of a profile's activity tab.
type UserActivity struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Category string    `json:"category"`
	Date     time.Time `json:"date"`
}

// Envelope is one page of the activity list.
type Envelope struct {
	Activities    []Activity `json:"activities"`
	ActivityCount int        `json:"activityCount"`
}

func NewAttendee(u User) Attendee {
	return Attendee{
		Username:    u.Username,
		DisplayName: u.DisplayName,
		Image:       u.Image,
	}
}

// ApplyUser recomputes IsGoing and IsHost for the given user.
// A nil user clears both flags.
func (a *Activity) ApplyUser(u *User) {
	a.IsGoing = false
	a.IsHost = false
	if u == nil {
		return
	}
	for _, att := range a.Attendees {
		if att.Username != u.Username {
			continue
		}
		a.IsGoing = true
		a.IsHost = att.IsHost
		return
	}
}

// AddAttendee appends att unless an attendee with the same username exists.
func (a *Activity) AddAttendee(att Attendee) bool {
	if a.HasAttendee(att.Username) {
		return false
	}
	a.Attendees = append(a.Attendees, att)
	return true
}

func (a *Activity) RemoveAttendee(username string) bool {
	kept := make([]Attendee, 0, len(a.Attendees))
	removed := false
	for _, att := range a.Attendees {
		if att.Username == username {
			removed = true
			continue
		}
		kept = append(kept, att)
	}
	a.Attendees = kept
	return removed
}

func (a *Activity) HasAttendee(username string) bool {
	for _, att := range a.Attendees {
		if att.Username == username {
			return true
		}
	}
	return false
}

func (a *Activity) Host() (Attendee, bool) {
	for _, att := range a.Attendees {
		if att.IsHost {
			return att, true
		}
	}
	return Attendee{}, false
}

// Clone returns a copy that shares no slices with a.
func (a Activity) Clone() Activity {
	out := a
	if a.Attendees != nil {
		out.Attendees = make([]Attendee, len(a.Attendees))
		copy(out.Attendees, a.Attendees)
	}
	if a.Comments != nil {
		out.Comments = make([]Comment, len(a.Comments))
		copy(out.Comments, a.Comments)
	}
	return out
}
