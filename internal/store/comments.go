package store

import (
	"context"

	"github.com/baechuer/activity-sync/internal/domain"
	"github.com/baechuer/activity-sync/internal/logger"
	"github.com/baechuer/activity-sync/internal/metrics"
)

// ReceiveComment appends c to activityID's comments in arrival order. The
// event is dropped unless activityID is still the current activity.
func (s *Store) ReceiveComment(activityID string, c domain.Comment) bool {
	s.mu.Lock()
	bound := s.current != nil && s.current.ID == activityID
	s.mu.Unlock()

	if !bound {
		metrics.ChannelEventsTotal.WithLabelValues("comment_dropped_stale").Inc()
		logger.Ctx(context.Background()).Debug().
			Str("activity_id", activityID).
			Msg("stale_comment_dropped")
		return false
	}

	_, changed := s.edit(activityID, func(a *domain.Activity) bool {
		a.Comments = append(a.Comments, c)
		return true
	})
	return changed
}

// Broadcast surfaces a server-pushed message as an info notice.
func (s *Store) Broadcast(message string) {
	s.notifier.Notify(Notice{Level: NoticeInfo, Message: message})
}

// SetFollowing updates the Following flag of username wherever it attends.
func (s *Store) SetFollowing(username string, following bool) {
	flip := func(a *domain.Activity) bool {
		changed := false
		for i := range a.Attendees {
			if a.Attendees[i].Username == username && a.Attendees[i].Following != following {
				a.Attendees[i].Following = following
				changed = true
			}
		}
		return changed
	}

	s.registry.UpdateAll(flip)
	s.mu.Lock()
	if s.current != nil {
		flip(s.current)
	}
	s.mu.Unlock()
}
