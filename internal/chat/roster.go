package chat

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"forumchat/internal/logger"
	"forumchat/internal/loop"
	"forumchat/internal/models"
)

// Roster is the local copy of every known user. Users are never removed
// during a session; going offline is a state change.
//
// Renders are immediate. Writes to the cache are coalesced: the first change
// arms a timer and the snapshot taken when it fires covers every change since.
type Roster struct {
	sched     loop.Scheduler
	self      string
	users     map[string]*models.User
	view      RosterView
	cache     RosterCache
	saveDelay time.Duration
	saveTimer loop.Timer
	ctx       context.Context
}

func NewRoster(sched loop.Scheduler, self string, view RosterView, cache RosterCache, saveDelay time.Duration) *Roster {
	return &Roster{
		sched:     sched,
		self:      self,
		users:     make(map[string]*models.User),
		view:      view,
		cache:     cache,
		saveDelay: saveDelay,
		ctx:       logger.WithLogFields(context.Background(), logger.LogFields{Component: "chat.roster"}),
	}
}

// Seed merges an initial roster, from GET /users or the local cache.
// Unread markers are kept if either side has one.
func (r *Roster) Seed(users []models.User) {
	for _, in := range users {
		if in.ID == "" {
			continue
		}
		u, ok := r.users[in.ID]
		if !ok {
			copied := in
			r.users[in.ID] = &copied
			continue
		}
		if in.DisplayName != "" {
			u.DisplayName = in.DisplayName
		}
		u.Online = in.Online
		if in.HasPreview() && newerPreview(u, *in.LastMessageTime) {
			u.LastMessage = in.LastMessage
			u.LastMessageTime = in.LastMessageTime
		}
		u.Unread = u.Unread || in.Unread
	}
	r.changed()
}

// ApplyPresenceBatch merges a possibly partial presence batch.
func (r *Roster) ApplyPresenceBatch(batch []models.Presence) {
	for _, p := range batch {
		u, ok := r.users[p.UserID]
		if !ok {
			u = &models.User{ID: p.UserID, DisplayName: p.Nickname}
			r.users[p.UserID] = u
		}
		if p.Nickname != "" {
			u.DisplayName = p.Nickname
		}
		u.Online = p.Online
		if p.LastMessage != "" && !p.LastMessageTime.IsZero() {
			body, at := p.LastMessage, p.LastMessageTime
			u.LastMessage = &body
			u.LastMessageTime = &at
		}
	}
	r.changed()
}

// AddUser appends a newly registered user. Known users are left alone.
func (r *Roster) AddUser(user models.User) {
	if user.ID == "" {
		return
	}
	if _, ok := r.users[user.ID]; ok {
		return
	}
	r.users[user.ID] = &models.User{ID: user.ID, DisplayName: user.DisplayName}
	r.changed()
}

// RecordLastMessage updates the preview shown for userID. An older message
// never replaces a newer preview.
func (r *Roster) RecordLastMessage(userID, nickname, body string, at time.Time) {
	if userID == "" || userID == r.self {
		return
	}
	u, ok := r.users[userID]
	if !ok {
		u = &models.User{ID: userID, DisplayName: nickname}
		r.users[userID] = u
	}
	if !newerPreview(u, at) {
		return
	}
	u.LastMessage = &body
	u.LastMessageTime = &at
	r.changed()
}

func (r *Roster) MarkUnread(userID string) {
	r.setUnread(userID, true)
}

func (r *Roster) ClearUnread(userID string) {
	r.setUnread(userID, false)
}

func (r *Roster) setUnread(userID string, unread bool) {
	u, ok := r.users[userID]
	if !ok || u.Unread == unread {
		return
	}
	u.Unread = unread
	r.changed()
}

// Lookup returns a copy of the user with id.
func (r *Roster) Lookup(id string) (models.User, bool) {
	u, ok := r.users[id]
	if !ok {
		return models.User{}, false
	}
	return *u, true
}

// DisplayName falls back to id for users the roster does not know.
func (r *Roster) DisplayName(id string) string {
	if u, ok := r.users[id]; ok && u.DisplayName != "" {
		return u.DisplayName
	}
	return id
}

// ListForDisplay returns every user except the local one, split by presence.
// Each group lists users with a preview first, newest first, then the rest
// alphabetically. Remaining ties are broken by id.
func (r *Roster) ListForDisplay() (online, offline []models.User) {
	online = []models.User{}
	offline = []models.User{}
	for id, u := range r.users {
		if id == r.self {
			continue
		}
		if u.Online {
			online = append(online, *u)
		} else {
			offline = append(offline, *u)
		}
	}
	sortForDisplay(online)
	sortForDisplay(offline)
	return online, offline
}

// Users returns every known user ordered by id.
func (r *Roster) Users() []models.User {
	out := make([]models.User, 0, len(r.users))
	for _, u := range r.users {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Reset forgets every user, used when the session ends. A pending cache
// write is made first.
func (r *Roster) Reset() {
	r.Flush()
	r.users = make(map[string]*models.User)
	r.cache = nil
	r.view.RenderRoster([]models.User{}, []models.User{})
}

func (r *Roster) changed() {
	online, offline := r.ListForDisplay()
	r.view.RenderRoster(online, offline)

	if r.cache == nil || r.self == "" || r.saveTimer != nil {
		return
	}
	r.saveTimer = r.sched.AfterFunc(r.saveDelay, func() {
		r.saveTimer = nil
		r.save()
	})
}

// Flush writes a pending cache update now.
func (r *Roster) Flush() {
	if r.saveTimer == nil {
		return
	}
	r.saveTimer.Stop()
	r.saveTimer = nil
	r.save()
}

func (r *Roster) save() {
	if r.cache == nil || r.self == "" {
		return
	}
	if err := r.cache.SaveRoster(r.self, r.Users()); err != nil {
		slog.WarnContext(r.ctx, "failed to persist roster", "error", err)
	}
}

func newerPreview(u *models.User, at time.Time) bool {
	return u.LastMessageTime == nil || !at.Before(*u.LastMessageTime)
}

func sortForDisplay(users []models.User) {
	sort.Slice(users, func(i, j int) bool {
		a, b := users[i], users[j]
		ap, bp := a.HasPreview(), b.HasPreview()
		if ap != bp {
			return ap
		}
		if ap && !a.LastMessageTime.Equal(*b.LastMessageTime) {
			return a.LastMessageTime.After(*b.LastMessageTime)
		}
		if !ap {
			an, bn := strings.ToLower(a.DisplayName), strings.ToLower(b.DisplayName)
			if an != bn {
				return an < bn
			}
		}
		return a.ID < b.ID
	})
}
