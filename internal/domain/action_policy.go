package domain

import "time"

type ActionPolicy struct {
	CanAttend bool   `json:"canAttend"`
	CanCancel bool   `json:"canCancel"`
	CanEdit   bool   `json:"canEdit"`
	Reason    string `json:"reason,omitempty"`
}

// CalculateActionPolicy determines which controls the current user gets on an
// activity's detail view.
func CalculateActionPolicy(a *Activity, u *User, now time.Time) ActionPolicy {
	// 1. Auth Gate
	if u == nil || u.Username == "" {
		return ActionPolicy{Reason: "auth_required"}
	}

	isHost := false
	isGoing := false
	for _, att := range a.Attendees {
		if att.Username == u.Username {
			isGoing = true
			isHost = att.IsHost
			break
		}
	}

	// 2. Host manages, never attends or cancels
	if isHost {
		return ActionPolicy{CanEdit: true, Reason: "is_host"}
	}

	// 3. Past activities are read-only
	if !a.Date.IsZero() && a.Date.Before(now) {
		return ActionPolicy{Reason: "activity_past"}
	}

	if isGoing {
		return ActionPolicy{CanCancel: true, Reason: "already_going"}
	}
	return ActionPolicy{CanAttend: true}
}
