package chat_test

import (
	"errors"
	"fmt"
	"math/rand"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"forumchat/internal/chat"
	"forumchat/internal/loop"
	"forumchat/internal/models"
)

func ids(users []models.User) []string {
	out := make([]string, 0, len(users))
	for _, u := range users {
		out = append(out, u.ID)
	}
	return out
}

var _ = Describe("Roster", func() {
	const saveDelay = time.Second

	var (
		sched  *loop.Manual
		view   *fakeView
		cache  *fakeCache
		roster *chat.Roster
		t0     time.Time
	)

	BeforeEach(func() {
		sched = loop.NewManual()
		view = &fakeView{}
		cache = &fakeCache{}
		roster = chat.NewRoster(sched, "u-alice", view, cache, saveDelay)
		t0 = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	})

	Describe("ApplyPresenceBatch", func() {
		It("merges partial batches instead of replacing the roster", func() {
			roster.ApplyPresenceBatch([]models.Presence{
				{UserID: "u-bob", Nickname: "bob", Online: true},
				{UserID: "u-carol", Nickname: "carol", Online: true},
			})
			roster.ApplyPresenceBatch([]models.Presence{
				{UserID: "u-bob", Nickname: "bob", Online: false},
			})

			online, offline := roster.ListForDisplay()
			Expect(ids(online)).To(Equal([]string{"u-carol"}))
			Expect(ids(offline)).To(Equal([]string{"u-bob"}))
		})

		It("keeps a known preview when an update carries none", func() {
			roster.ApplyPresenceBatch([]models.Presence{
				{UserID: "u-bob", Nickname: "bob", Online: true, LastMessage: "hi", LastMessageTime: t0},
			})
			roster.ApplyPresenceBatch([]models.Presence{{UserID: "u-bob", Nickname: "bob"}})

			bob, ok := roster.Lookup("u-bob")
			Expect(ok).To(BeTrue())
			Expect(bob.HasPreview()).To(BeTrue())
			Expect(*bob.LastMessage).To(Equal("hi"))
		})

		It("renders after every batch and persists to the cache", func() {
			roster.ApplyPresenceBatch([]models.Presence{{UserID: "u-bob", Nickname: "bob", Online: true}})

			online, _ := view.lastRoster()
			Expect(ids(online)).To(Equal([]string{"u-bob"}))

			sched.Advance(saveDelay)
			Expect(ids(cache.saves["u-alice"])).To(Equal([]string{"u-bob"}))
		})

		It("coalesces a burst of changes into one cache write", func() {
			roster.ApplyPresenceBatch([]models.Presence{{UserID: "u-bob", Nickname: "bob", Online: true}})
			roster.ApplyPresenceBatch([]models.Presence{{UserID: "u-carol", Nickname: "carol", Online: true}})
			roster.RecordLastMessage("u-bob", "bob", "hi", t0)
			roster.MarkUnread("u-carol")

			Expect(view.online).To(HaveLen(4))
			Expect(cache.writes).To(BeZero())

			sched.Advance(saveDelay)
			Expect(cache.writes).To(Equal(1))
			Expect(ids(cache.saves["u-alice"])).To(Equal([]string{"u-bob", "u-carol"}))
			Expect(sched.Pending()).To(BeZero())

			roster.MarkUnread("u-bob")
			sched.Advance(saveDelay)
			Expect(cache.writes).To(Equal(2))
		})

		It("writes a pending update on Flush and Reset", func() {
			roster.ApplyPresenceBatch([]models.Presence{{UserID: "u-bob", Nickname: "bob", Online: true}})
			roster.Flush()
			Expect(cache.writes).To(Equal(1))
			Expect(sched.Pending()).To(BeZero())

			roster.MarkUnread("u-bob")
			roster.Reset()
			Expect(cache.writes).To(Equal(2))
			Expect(cache.saves["u-alice"][0].Unread).To(BeTrue())

			sched.Advance(10 * saveDelay)
			Expect(cache.writes).To(Equal(2))
		})

		It("keeps working when the cache fails", func() {
			cache.err = errors.New("disk full")
			roster.ApplyPresenceBatch([]models.Presence{{UserID: "u-bob", Nickname: "bob", Online: true}})

			online, _ := roster.ListForDisplay()
			Expect(ids(online)).To(Equal([]string{"u-bob"}))
		})
	})

	Describe("ListForDisplay", func() {
		It("orders previews newest first, then names alphabetically, ties by id", func() {
			roster.ApplyPresenceBatch([]models.Presence{
				{UserID: "u-zed", Nickname: "zed", Online: true},
				{UserID: "u-amy", Nickname: "amy", Online: true},
				{UserID: "u-old", Nickname: "old", Online: true, LastMessage: "a", LastMessageTime: t0},
				{UserID: "u-new", Nickname: "new", Online: true, LastMessage: "b", LastMessageTime: t0.Add(time.Minute)},
				{UserID: "u-twin2", Nickname: "twin", Online: true},
				{UserID: "u-twin1", Nickname: "Twin", Online: true},
				{UserID: "u-same2", Nickname: "s2", Online: true, LastMessage: "c", LastMessageTime: t0},
			})

			online, offline := roster.ListForDisplay()
			Expect(offline).To(BeEmpty())
			Expect(ids(online)).To(Equal([]string{
				"u-new", "u-old", "u-same2",
				"u-amy", "u-twin1", "u-twin2", "u-zed",
			}))
		})

		It("never lists the local user", func() {
			roster.ApplyPresenceBatch([]models.Presence{
				{UserID: "u-alice", Nickname: "alice", Online: true},
				{UserID: "u-bob", Nickname: "bob", Online: true},
			})
			online, offline := roster.ListForDisplay()
			Expect(ids(online)).To(Equal([]string{"u-bob"}))
			Expect(offline).To(BeEmpty())
		})

		It("holds for random presence batches", func() {
			rng := rand.New(rand.NewSource(42))
			people := []string{"u-alice", "u-bob", "u-carol", "u-dave", "u-erin", "u-frank"}

			for round := 0; round < 200; round++ {
				var batch []models.Presence
				for i := rng.Intn(5); i >= 0; i-- {
					id := people[rng.Intn(len(people))]
					p := models.Presence{UserID: id, Nickname: id[2:], Online: rng.Intn(2) == 0}
					if rng.Intn(3) == 0 {
						p.LastMessage = fmt.Sprintf("msg %d", round)
						p.LastMessageTime = t0.Add(time.Duration(rng.Intn(4)) * time.Minute)
					}
					batch = append(batch, p)
				}
				roster.ApplyPresenceBatch(batch)

				online, offline := roster.ListForDisplay()
				seen := map[string]bool{}
				for _, id := range append(ids(online), ids(offline)...) {
					Expect(id).NotTo(Equal("u-alice"))
					Expect(seen).NotTo(HaveKey(id))
					seen[id] = true
				}

				online2, offline2 := roster.ListForDisplay()
				Expect(online2).To(Equal(online))
				Expect(offline2).To(Equal(offline))
			}
		})
	})

	Describe("Seed", func() {
		It("merges the cached roster with the directory", func() {
			roster.Seed([]models.User{
				{ID: "u-bob", DisplayName: "bob", LastMessage: strPtr("cached"), LastMessageTime: &t0, Unread: true},
			})
			roster.Seed([]models.User{
				{ID: "u-bob", DisplayName: "Bobby", Online: true},
				{ID: "u-carol", DisplayName: "carol"},
			})

			bob, _ := roster.Lookup("u-bob")
			Expect(bob.DisplayName).To(Equal("Bobby"))
			Expect(bob.Online).To(BeTrue())
			Expect(bob.Unread).To(BeTrue())
			Expect(*bob.LastMessage).To(Equal("cached"))
			Expect(roster.Users()).To(HaveLen(2))
		})
	})

	Describe("AddUser", func() {
		It("appends unseen users offline and ignores known ones", func() {
			roster.ApplyPresenceBatch([]models.Presence{{UserID: "u-bob", Nickname: "bob", Online: true}})
			renders := len(view.online)

			roster.AddUser(models.User{ID: "u-bob", DisplayName: "other"})
			Expect(view.online).To(HaveLen(renders))

			roster.AddUser(models.User{ID: "u-dave", DisplayName: "dave"})
			_, offline := roster.ListForDisplay()
			Expect(ids(offline)).To(Equal([]string{"u-dave"}))
		})
	})

	Describe("RecordLastMessage", func() {
		It("never lets an older message replace a newer preview", func() {
			roster.RecordLastMessage("u-bob", "bob", "newer", t0.Add(time.Minute))
			roster.RecordLastMessage("u-bob", "bob", "older", t0)

			bob, ok := roster.Lookup("u-bob")
			Expect(ok).To(BeTrue())
			Expect(*bob.LastMessage).To(Equal("newer"))
		})

		It("ignores the local user", func() {
			roster.RecordLastMessage("u-alice", "alice", "me", t0)
			_, ok := roster.Lookup("u-alice")
			Expect(ok).To(BeFalse())
		})
	})

	Describe("unread markers", func() {
		It("only re-renders on a change", func() {
			roster.ApplyPresenceBatch([]models.Presence{{UserID: "u-bob", Nickname: "bob"}})
			renders := len(view.online)

			roster.MarkUnread("u-bob")
			roster.MarkUnread("u-bob")
			roster.MarkUnread("u-nobody")
			Expect(view.online).To(HaveLen(renders + 1))

			roster.ClearUnread("u-bob")
			bob, _ := roster.Lookup("u-bob")
			Expect(bob.Unread).To(BeFalse())
		})
	})
})
