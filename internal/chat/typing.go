package chat

import (
	"sort"
	"time"
)

// typingSet maps conversation id to the users currently typing there. A user
// appears at most once per conversation. With a positive ttl an entry counts
// as stale once it has not been refreshed for ttl.
type typingSet struct {
	ttl    time.Duration
	byConv map[string]map[string]time.Time
}

func newTypingSet(ttl time.Duration) *typingSet {
	return &typingSet{ttl: ttl, byConv: make(map[string]map[string]time.Time)}
}

// set adds or removes userID and reports whether the visible set changed.
func (t *typingSet) set(conversationID, userID string, typing bool, now time.Time) bool {
	users := t.byConv[conversationID]
	if !typing {
		if _, ok := users[userID]; !ok {
			return false
		}
		delete(users, userID)
		if len(users) == 0 {
			delete(t.byConv, conversationID)
		}
		return true
	}

	if users == nil {
		users = make(map[string]time.Time)
		t.byConv[conversationID] = users
	}
	seen, ok := users[userID]
	users[userID] = now
	return !ok || t.stale(seen, now)
}

func (t *typingSet) stale(seen, now time.Time) bool {
	return t.ttl > 0 && now.Sub(seen) >= t.ttl
}

// expire drops stale entries and returns how many were removed.
func (t *typingSet) expire(now time.Time) int {
	if t.ttl <= 0 {
		return 0
	}
	removed := 0
	for conv, users := range t.byConv {
		for user, seen := range users {
			if t.stale(seen, now) {
				delete(users, user)
				removed++
			}
		}
		if len(users) == 0 {
			delete(t.byConv, conv)
		}
	}
	return removed
}

// snapshot lists the live typists per conversation, sorted by user id.
func (t *typingSet) snapshot(now time.Time) map[string][]string {
	out := make(map[string][]string, len(t.byConv))
	for conv, users := range t.byConv {
		var ids []string
		for user, seen := range users {
			if !t.stale(seen, now) {
				ids = append(ids, user)
			}
		}
		if len(ids) > 0 {
			sort.Strings(ids)
			out[conv] = ids
		}
	}
	return out
}
