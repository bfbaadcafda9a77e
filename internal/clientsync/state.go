// Package clientsync reconciles a subscriber's local view of a user's
// notifications (an ordered, capped list plus an unread counter) with the
// authoritative store, from a baseline fetch and a stream of live events.
//
// All merge rules are pure functions: they never mutate their input State.
package clientsync

import (
	"sort"
	"time"

	"notification-hub/internal/models"
)

// State is one subscriber's view.
//
// Unread counts the unread notifications the view knows about: those in Items
// plus unread ones pushed out of Items by truncation since the last resync.
// After Resync it equals the number of unread, non-expired Items.
type State struct {
	Items  []models.Notification
	Unread int
	Limit  int

	// unread ids truncated out of Items, with their expiry
	evicted map[string]*time.Time
}

// Resync builds a fresh State from a fetched page, discarding everything local.
func Resync(items []models.Notification, limit int, now time.Time) State {
	st := State{Limit: limit}
	for _, n := range items {
		if n.Expired(now) {
			continue
		}
		st.Items = append(st.Items, n)
	}
	sortNewestFirst(st.Items)
	if limit > 0 && len(st.Items) > limit {
		st.Items = st.Items[:limit]
	}
	st.Unread = CountUnread(st.Items, now)
	return st
}

// CountUnread counts unread, non-expired notifications.
func CountUnread(items []models.Notification, now time.Time) int {
	count := 0
	for i := range items {
		if !items[i].Read && !items[i].Expired(now) {
			count++
		}
	}
	return count
}

// Apply merges one live event into st.
func Apply(st State, ev models.Event, now time.Time) State {
	switch ev.Kind {
	case models.EventInsert:
		if ev.Notification == nil {
			return st
		}
		return applyInsert(st, *ev.Notification, now)
	case models.EventUpdate:
		if ev.Notification == nil {
			return st
		}
		return applyUpdate(st, *ev.Notification)
	case models.EventDelete:
		return Remove(st, ev.NotificationID())
	}
	return st
}

func applyInsert(st State, n models.Notification, now time.Time) State {
	if i := st.indexOf(n.ID); i >= 0 {
		// duplicate delivery: refresh the record, never count it twice
		return applyUpdate(st, n)
	}
	if _, known := st.evicted[n.ID]; known {
		return st
	}
	if n.Expired(now) {
		return st
	}

	out := st.clone()
	pos := sort.Search(len(out.Items), func(i int) bool { return newer(n, out.Items[i]) })
	out.Items = append(out.Items, models.Notification{})
	copy(out.Items[pos+1:], out.Items[pos:])
	out.Items[pos] = n
	if !n.Read {
		out.Unread++
	}
	out.truncate()
	return out
}

func applyUpdate(st State, n models.Notification) State {
	i := st.indexOf(n.ID)
	if i < 0 {
		if _, known := st.evicted[n.ID]; known && n.Read {
			out := st.clone()
			delete(out.evicted, n.ID)
			out.decrement()
			return out
		}
		return st
	}

	out := st.clone()
	wasRead := out.Items[i].Read
	// read never reverts to unread
	n.Read = n.Read || wasRead
	out.Items[i] = n
	if n.Read && !wasRead {
		out.decrement()
	}
	return out
}

// MarkRead applies a local mark-as-read. changed reports whether the view moved.
func MarkRead(st State, id string) (out State, changed bool) {
	if i := st.indexOf(id); i >= 0 {
		if st.Items[i].Read {
			return st, false
		}
		out = st.clone()
		out.Items[i].Read = true
		out.decrement()
		return out, true
	}
	if _, known := st.evicted[id]; known {
		out = st.clone()
		delete(out.evicted, id)
		out.decrement()
		return out, true
	}
	return st, false
}

// MarkAllRead applies a local mark-all-as-read.
func MarkAllRead(st State) State {
	out := st.clone()
	for i := range out.Items {
		out.Items[i].Read = true
	}
	out.Unread = 0
	out.evicted = nil
	return out
}

// Remove deletes id from the view. The counter follows the locally cached copy,
// which is the copy it was counted from.
func Remove(st State, id string) State {
	if i := st.indexOf(id); i >= 0 {
		out := st.clone()
		wasUnread := !out.Items[i].Read
		out.Items = append(out.Items[:i], out.Items[i+1:]...)
		if wasUnread {
			out.decrement()
		}
		return out
	}
	if _, known := st.evicted[id]; known {
		out := st.clone()
		delete(out.evicted, id)
		out.decrement()
		return out
	}
	return st
}

// Prune drops notifications that have expired by now.
func Prune(st State, now time.Time) State {
	out := st.clone()
	kept := out.Items[:0]
	for _, n := range out.Items {
		if n.Expired(now) {
			if !n.Read {
				out.decrement()
			}
			continue
		}
		kept = append(kept, n)
	}
	out.Items = kept
	for id, exp := range out.evicted {
		if exp != nil && !exp.After(now) {
			delete(out.evicted, id)
			out.decrement()
		}
	}
	return out
}

// Get returns the cached notification with id.
func (st State) Get(id string) (models.Notification, bool) {
	if i := st.indexOf(id); i >= 0 {
		return st.Items[i], true
	}
	return models.Notification{}, false
}

func (st State) indexOf(id string) int {
	for i := range st.Items {
		if st.Items[i].ID == id {
			return i
		}
	}
	return -1
}

func (st State) clone() State {
	out := State{
		Items:  append([]models.Notification(nil), st.Items...),
		Unread: st.Unread,
		Limit:  st.Limit,
	}
	if len(st.evicted) > 0 {
		out.evicted = make(map[string]*time.Time, len(st.evicted))
		for k, v := range st.evicted {
			out.evicted[k] = v
		}
	}
	return out
}

func (st *State) decrement() {
	if st.Unread > 0 {
		st.Unread--
	}
}

func (st *State) truncate() {
	if st.Limit <= 0 || len(st.Items) <= st.Limit {
		return
	}
	for _, n := range st.Items[st.Limit:] {
		if n.Read {
			continue
		}
		if st.evicted == nil {
			st.evicted = make(map[string]*time.Time)
		}
		st.evicted[n.ID] = n.ExpiresAt
	}
	st.Items = st.Items[:st.Limit]
}

// newer orders notifications the way the store lists them.
func newer(a, b models.Notification) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

func sortNewestFirst(items []models.Notification) {
	sort.SliceStable(items, func(i, j int) bool { return newer(items[i], items[j]) })
}
