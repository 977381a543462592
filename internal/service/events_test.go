package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diagnosis/slotgrid/internal/domain"
	"github.com/diagnosis/slotgrid/pkg/events"
)

func standupRequest() *domain.CreateEventRequest {
	return &domain.CreateEventRequest{
		Name:      "Standup",
		DateRange: domain.DateRangeInput{From: "2025-01-06T00:00:00Z", To: "2025-01-10T00:00:00Z"},
		Duration:  30,
		Timezone:  "UTC",
	}
}

func participantByName(v *domain.EventView, username string) (domain.ParticipantView, bool) {
	for _, p := range v.Participants {
		if p.Username == username {
			return p, true
		}
	}
	return domain.ParticipantView{}, false
}

func expectMessage(t *testing.T, sub *events.Subscription, typ string) {
	t.Helper()
	select {
	case msg, ok := <-sub.C:
		require.True(t, ok)
		assert.Equal(t, typ, msg.Type)
	case <-time.After(time.Second):
		t.Fatalf("expected %s message", typ)
	}
}

func TestStandupScenario(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.registerVerified(t, "alice")
	b := env.registerVerified(t, "bobby")

	created, err := env.events.Create(ctx, a, standupRequest())
	require.NoError(t, err)
	assert.Equal(t, a, created.CreatorID)
	assert.True(t, created.IsOwner)
	require.Len(t, created.Participants, 1)
	assert.Equal(t, a, created.Participants[0].UserID)
	assert.Empty(t, created.Participants[0].Availability)

	sub := env.hub.Subscribe(created.ID)
	defer env.hub.Unsubscribe(sub)

	require.NoError(t, env.events.Join(ctx, created.ID, b))
	expectMessage(t, sub, events.TypeEventUpdated)
	view, err := env.events.Get(ctx, created.ID, b)
	require.NoError(t, err)
	assert.Len(t, view.Participants, 2)
	assert.False(t, view.IsOwner)

	require.NoError(t, env.events.Update(ctx, created.ID, b, &domain.UpdateEventRequest{
		Availability: domain.Availability{"2025-01-06T09:00:00Z": true},
	}))
	expectMessage(t, sub, events.TypeEventUpdated)
	view, err = env.events.Get(ctx, created.ID, a)
	require.NoError(t, err)
	pb, ok := participantByName(view, "bobby")
	require.True(t, ok)
	assert.Equal(t, domain.Availability{"2025-01-06T09:00:00Z": true}, pb.Availability)

	disabled := []string{"2025-01-06T12:00:00Z"}
	require.NoError(t, env.events.Update(ctx, created.ID, a, &domain.UpdateEventRequest{DisabledSlots: &disabled}))
	for _, viewer := range []string{a, b} {
		view, err = env.events.Get(ctx, created.ID, viewer)
		require.NoError(t, err)
		assert.Equal(t, disabled, view.DisabledSlots)
		pb, _ = participantByName(view, "bobby")
		assert.True(t, pb.Availability["2025-01-06T09:00:00Z"], "unrelated availability survives")
	}
}

func TestUpdate_ParticipantCannotChangeMetadata(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.registerVerified(t, "alice")
	b := env.registerVerified(t, "bobby")

	ev, err := env.events.Create(ctx, a, standupRequest())
	require.NoError(t, err)
	require.NoError(t, env.events.Join(ctx, ev.ID, b))

	disabled := []string{"2025-01-07T09:00:00Z"}
	require.NoError(t, env.events.Update(ctx, ev.ID, b, &domain.UpdateEventRequest{
		Name:          ptr("Hijacked"),
		Duration:      ptr(60),
		DisabledSlots: &disabled,
		Participants: []domain.ParticipantInput{
			{UserID: a, Availability: domain.Availability{"2025-01-06T10:00:00Z": true}},
			{UserID: b, Availability: domain.Availability{"2025-01-06T11:00:00Z": true}},
		},
	}))

	view, err := env.events.Get(ctx, ev.ID, a)
	require.NoError(t, err)
	assert.Equal(t, "Standup", view.Name)
	assert.Equal(t, 30, view.Duration)
	assert.Empty(t, view.DisabledSlots)
	pa, _ := participantByName(view, "alice")
	assert.Empty(t, pa.Availability, "participant cannot write someone else's availability")
	pb, _ := participantByName(view, "bobby")
	assert.Equal(t, domain.Availability{"2025-01-06T11:00:00Z": true}, pb.Availability)
}

func TestUpdate_ParticipantWithoutAvailabilityPublishesNothing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.registerVerified(t, "alice")
	b := env.registerVerified(t, "bobby")

	ev, err := env.events.Create(ctx, a, standupRequest())
	require.NoError(t, err)
	require.NoError(t, env.events.Join(ctx, ev.ID, b))

	sub := env.hub.Subscribe(ev.ID)
	defer env.hub.Unsubscribe(sub)

	require.NoError(t, env.events.Update(ctx, ev.ID, b, &domain.UpdateEventRequest{Name: ptr("Ignored")}))
	select {
	case msg := <-sub.C:
		t.Fatalf("unexpected %s message for a no-op update", msg.Type)
	default:
	}

	require.NoError(t, env.events.Update(ctx, ev.ID, b, &domain.UpdateEventRequest{
		Availability: domain.Availability{"2025-01-06T11:00:00Z": true},
	}))
	expectMessage(t, sub, events.TypeEventUpdated)
}

func TestUpdate_OutsiderForbidden(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.registerVerified(t, "alice")
	c := env.registerVerified(t, "carol")

	ev, err := env.events.Create(ctx, a, standupRequest())
	require.NoError(t, err)

	err = env.events.Update(ctx, ev.ID, c, &domain.UpdateEventRequest{Name: ptr("mine")})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	err = env.events.Update(ctx, "missing", a, &domain.UpdateEventRequest{})
	assert.ErrorIs(t, err, domain.ErrEventNotFound)
}

func TestUpdate_DisabledSlotsNeverPersistTrue(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.registerVerified(t, "alice")
	b := env.registerVerified(t, "bobby")

	ev, err := env.events.Create(ctx, a, standupRequest())
	require.NoError(t, err)
	require.NoError(t, env.events.Join(ctx, ev.ID, b))

	// Offsets normalise to the same UTC key as the disabled slot.
	require.NoError(t, env.events.Update(ctx, ev.ID, b, &domain.UpdateEventRequest{
		Availability: domain.Availability{"2025-01-06T10:00:00+01:00": true, "2025-01-06T10:00:00Z": true, "2025-01-06T11:00:00Z": false},
	}))

	disabled := []string{"2025-01-06T09:00:00Z"}
	require.NoError(t, env.events.Update(ctx, ev.ID, a, &domain.UpdateEventRequest{DisabledSlots: &disabled}))

	view, err := env.events.Get(ctx, ev.ID, a)
	require.NoError(t, err)
	pb, _ := participantByName(view, "bobby")
	assert.Equal(t, domain.Availability{"2025-01-06T10:00:00Z": true}, pb.Availability)

	require.NoError(t, env.events.Update(ctx, ev.ID, b, &domain.UpdateEventRequest{
		Availability: domain.Availability{"2025-01-06T09:00:00Z": true},
	}))
	view, err = env.events.Get(ctx, ev.ID, a)
	require.NoError(t, err)
	pb, _ = participantByName(view, "bobby")
	assert.Empty(t, pb.Availability)

	err = env.events.Update(ctx, ev.ID, b, &domain.UpdateEventRequest{
		Availability: domain.Availability{"tuesday morning": true},
	})
	assert.ErrorIs(t, err, domain.Validation(domain.CodeInvalidSlot, ""))
}

func TestUpdate_CreatorRosterReplace(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.registerVerified(t, "alice")
	b := env.registerVerified(t, "bobby")
	c := env.registerVerified(t, "carol")

	ev, err := env.events.Create(ctx, a, &domain.CreateEventRequest{
		ID:           "team-sync",
		Name:         "Sync",
		DateRange:    domain.DateRangeInput{From: "2025-01-06T00:00:00Z", To: "2025-01-06T00:00:00Z"},
		Duration:     15,
		Timezone:     "Europe/Berlin",
		Participants: []string{b, b},
	})
	require.NoError(t, err)
	assert.Equal(t, "team-sync", ev.ID)
	assert.Len(t, ev.Participants, 2)

	// Empty roster leaves participants untouched.
	require.NoError(t, env.events.Update(ctx, ev.ID, a, &domain.UpdateEventRequest{Name: ptr("Sync v2")}))
	view, err := env.events.Get(ctx, ev.ID, a)
	require.NoError(t, err)
	assert.Equal(t, "Sync v2", view.Name)
	assert.Len(t, view.Participants, 2)

	// Non-empty roster replaces it wholesale; the creator is kept.
	require.NoError(t, env.events.Update(ctx, ev.ID, a, &domain.UpdateEventRequest{
		Participants: []domain.ParticipantInput{{UserID: c, Availability: domain.Availability{"2025-01-06T08:00:00Z": true}}},
		Availability: domain.Availability{"2025-01-06T08:15:00Z": true},
	}))
	view, err = env.events.Get(ctx, ev.ID, a)
	require.NoError(t, err)
	require.Len(t, view.Participants, 2)
	_, hasB := participantByName(view, "bobby")
	assert.False(t, hasB)
	pc, _ := participantByName(view, "carol")
	assert.True(t, pc.Availability["2025-01-06T08:00:00Z"])
	pa, _ := participantByName(view, "alice")
	assert.True(t, pa.Availability["2025-01-06T08:15:00Z"])

	err = env.events.Update(ctx, ev.ID, a, &domain.UpdateEventRequest{
		Participants: []domain.ParticipantInput{{UserID: "ghost"}},
	})
	assert.ErrorIs(t, err, domain.Validation(domain.CodeUnknownUser, ""))
	view, err = env.events.Get(ctx, ev.ID, a)
	require.NoError(t, err)
	assert.Len(t, view.Participants, 2, "failed replace rolls back")
}

func TestCreate_Validation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.registerVerified(t, "alice")

	mutate := []func(r *domain.CreateEventRequest){
		func(r *domain.CreateEventRequest) { r.Name = " " },
		func(r *domain.CreateEventRequest) { r.DateRange.From = "" },
		func(r *domain.CreateEventRequest) { r.DateRange.To = "next week" },
		func(r *domain.CreateEventRequest) { r.Duration = 0 },
		func(r *domain.CreateEventRequest) { r.Timezone = "" },
		func(r *domain.CreateEventRequest) { r.Timezone = "Mars/Olympus" },
		func(r *domain.CreateEventRequest) { r.DateRange.From = "2025-02-01T00:00:00Z" },
		func(r *domain.CreateEventRequest) { r.ID = "bad id!" },
		func(r *domain.CreateEventRequest) { r.Participants = []string{"ghost"} },
		func(r *domain.CreateEventRequest) { r.DisabledSlots = []string{"noon"} },
	}
	for i, m := range mutate {
		req := standupRequest()
		m(req)
		_, err := env.events.Create(ctx, a, req)
		assert.Equal(t, domain.KindValidation, domain.KindOf(err), "case %d", i)
	}

	req := standupRequest()
	req.ID = "fixed"
	_, err := env.events.Create(ctx, a, req)
	require.NoError(t, err)
	_, err = env.events.Create(ctx, a, req)
	assert.ErrorIs(t, err, domain.ErrEventExists)
}

func TestInviteJoinLeave(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.registerVerified(t, "alice")
	b := env.registerVerified(t, "bobby")

	ev, err := env.events.Create(ctx, a, standupRequest())
	require.NoError(t, err)

	assert.ErrorIs(t, env.events.Invite(ctx, ev.ID, b, "alice"), domain.ErrForbidden)

	require.NoError(t, env.events.Invite(ctx, ev.ID, a, "nobody"))
	view, err := env.events.Get(ctx, ev.ID, a)
	require.NoError(t, err)
	assert.Len(t, view.Participants, 1, "unknown invitee adds no row")

	require.NoError(t, env.events.Invite(ctx, ev.ID, a, "bobby"))
	assert.ErrorIs(t, env.events.Invite(ctx, ev.ID, a, "bobby"), domain.ErrAlreadyParticipant)

	require.NoError(t, env.events.Join(ctx, ev.ID, b))
	require.NoError(t, env.events.Join(ctx, ev.ID, b))
	view, err = env.events.Get(ctx, ev.ID, a)
	require.NoError(t, err)
	assert.Len(t, view.Participants, 2, "join is idempotent")

	require.NoError(t, env.events.Leave(ctx, ev.ID, b))
	assert.ErrorIs(t, env.events.Leave(ctx, ev.ID, b), domain.ErrNotParticipant)
	assert.ErrorIs(t, env.events.Join(ctx, "missing", b), domain.ErrEventNotFound)
}

func TestDeleteAndList(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.registerVerified(t, "alice")
	b := env.registerVerified(t, "bobby")

	ev, err := env.events.Create(ctx, a, standupRequest())
	require.NoError(t, err)
	require.NoError(t, env.events.Join(ctx, ev.ID, b))

	list, err := env.events.ListForUser(ctx, b)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.False(t, list[0].IsOwner)
	assert.Equal(t, 2, list[0].ParticipantCount)

	sub := env.hub.Subscribe(ev.ID)
	assert.ErrorIs(t, env.events.Delete(ctx, ev.ID, b), domain.ErrForbidden)
	require.NoError(t, env.events.Delete(ctx, ev.ID, a))
	expectMessage(t, sub, events.TypeEventDeleted)
	env.hub.Unsubscribe(sub)

	_, err = env.events.Get(ctx, ev.ID, a)
	assert.ErrorIs(t, err, domain.ErrEventNotFound)
	assert.ErrorIs(t, env.events.Delete(ctx, ev.ID, a), domain.ErrEventNotFound)

	list, err = env.events.ListForUser(ctx, b)
	require.NoError(t, err)
	assert.Empty(t, list)
}
