package state_test

import (
	"encoding/json"
	"errors"
	"sort"
	"testing"

	"github.com/driftlabs/pylon/state"
	"github.com/driftlabs/pylon/wire"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func frame(t *testing.T, typ string, payload any) *wire.Frame {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal %s payload: %v", typ, err)
	}
	return &wire.Frame{Op: wire.OpDispatch, T: typ, D: data}
}

func mustApply(t *testing.T, s *state.Store, f *wire.Frame) state.Event {
	t.Helper()
	evt, err := s.Apply(f)
	if err != nil {
		t.Fatalf("Apply %s: %v", f.T, err)
	}
	return evt
}

func TestEventBeforeGuildCreate(t *testing.T) {
	s := state.NewStore(nil)

	// A member update racing ahead of its guild's create is dropped,
	// and a retry after the create lands cleanly.
	upd := frame(t, "GUILD_MEMBER_UPDATE", wire.Member{
		GuildID: "g1", User: wire.User{ID: "u1"}, Nick: "zaphod",
	})
	if _, err := s.Apply(upd); !errors.Is(err, state.ErrUnknownGuild) {
		t.Fatalf("Apply before create: got error %v, want ErrUnknownGuild", err)
	}

	mustApply(t, s, frame(t, "GUILD_CREATE", wire.Guild{
		ID: "g1", Name: "heart of gold",
		Members: []wire.Member{{GuildID: "g1", User: wire.User{ID: "u1"}}},
	}))
	mustApply(t, s, upd)

	m, err := s.Member("g1", "u1")
	if err != nil {
		t.Fatalf("Member: %v", err)
	}
	if m.Nick != "zaphod" {
		t.Errorf("Nick: got %q, want %q", m.Nick, "zaphod")
	}
}

func TestUnavailableGuildIsDistinct(t *testing.T) {
	s := state.NewStore(nil)
	mustApply(t, s, frame(t, "GUILD_CREATE", wire.Guild{ID: "g1", Unavailable: true}))

	if _, err := s.Guild("g1"); !errors.Is(err, state.ErrGuildUnavailable) {
		t.Errorf("Guild(stub): got %v, want ErrGuildUnavailable", err)
	}
	if _, err := s.Guild("nope"); !errors.Is(err, state.ErrUnknownGuild) {
		t.Errorf("Guild(absent): got %v, want ErrUnknownGuild", err)
	}

	// The full create replaces the stub.
	mustApply(t, s, frame(t, "GUILD_CREATE", wire.Guild{ID: "g1", Name: "magrathea"}))
	g, err := s.Guild("g1")
	if err != nil {
		t.Fatalf("Guild after full create: %v", err)
	}
	if g.Name != "magrathea" {
		t.Errorf("Name: got %q, want %q", g.Name, "magrathea")
	}
}

func TestGuildDeleteVariants(t *testing.T) {
	s := state.NewStore(nil)
	mustApply(t, s, frame(t, "GUILD_CREATE", wire.Guild{ID: "g1"}))
	mustApply(t, s, frame(t, "GUILD_CREATE", wire.Guild{ID: "g2"}))

	// Unavailable delete marks an outage, a plain delete is a removal.
	mustApply(t, s, frame(t, "GUILD_DELETE", wire.Guild{ID: "g1", Unavailable: true}))
	mustApply(t, s, frame(t, "GUILD_DELETE", wire.Guild{ID: "g2"}))

	if _, err := s.Guild("g1"); !errors.Is(err, state.ErrGuildUnavailable) {
		t.Errorf("g1: got %v, want ErrGuildUnavailable", err)
	}
	if _, err := s.Guild("g2"); !errors.Is(err, state.ErrUnknownGuild) {
		t.Errorf("g2: got %v, want ErrUnknownGuild", err)
	}
}

func TestMergeGuildKeepsUnsetFields(t *testing.T) {
	s := state.NewStore(nil)
	s.CreateGuild(wire.Guild{ID: "g1", Name: "before", Region: "deep-space", OwnerID: "u9"})

	if err := s.MergeGuild("g1", wire.Guild{ID: "g1", Name: "after"}); err != nil {
		t.Fatalf("MergeGuild: %v", err)
	}
	g, err := s.Guild("g1")
	if err != nil {
		t.Fatalf("Guild: %v", err)
	}
	if g.Name != "after" || g.Region != "deep-space" || g.OwnerID != "u9" {
		t.Errorf("merge result: got name=%q region=%q owner=%q", g.Name, g.Region, g.OwnerID)
	}
}

func TestMergeGuildIdempotent(t *testing.T) {
	s := state.NewStore(nil)
	s.CreateGuild(wire.Guild{ID: "g1", Name: "before", Region: "deep-space", OwnerID: "u9"})

	upd := frame(t, "GUILD_UPDATE", wire.Guild{ID: "g1", Name: "after", OwnerID: "u1"})
	mustApply(t, s, upd)
	once, err := s.Guild("g1")
	if err != nil {
		t.Fatalf("Guild: %v", err)
	}

	mustApply(t, s, upd)
	twice, err := s.Guild("g1")
	if err != nil {
		t.Fatalf("Guild: %v", err)
	}
	if diff := cmp.Diff(once, twice); diff != "" {
		t.Errorf("repeated update changed state (-once, +twice):\n%s", diff)
	}
}

func TestGuildSnapshotRoundTrip(t *testing.T) {
	in := wire.Guild{
		ID: "g1", Name: "milliways",
		Members:  []wire.Member{{GuildID: "g1", User: wire.User{ID: "u1"}}, {GuildID: "g1", User: wire.User{ID: "u2"}}},
		Roles:    []wire.Role{{ID: "r1", Name: "cook"}},
		Channels: []wire.Channel{{ID: "c1", GuildID: "g1"}},
	}
	s := state.NewStore(nil)
	s.CreateGuild(in)

	got, err := s.Guild("g1")
	if err != nil {
		t.Fatalf("Guild: %v", err)
	}
	opt := cmpopts.SortSlices(func(a, b wire.Member) bool { return a.User.ID < b.User.ID })
	if diff := cmp.Diff(in, *got, opt); diff != "" {
		t.Errorf("snapshot (-want, +got):\n%s", diff)
	}
}

func TestMemberLifecycle(t *testing.T) {
	s := state.NewStore(nil)
	s.CreateGuild(wire.Guild{ID: "g1"})

	mustApply(t, s, frame(t, "GUILD_MEMBER_ADD", wire.Member{GuildID: "g1", User: wire.User{ID: "u1"}}))
	mustApply(t, s, frame(t, "PRESENCE_UPDATE", wire.Presence{GuildID: "g1", User: wire.User{ID: "u1"}, Status: "online"}))
	mustApply(t, s, frame(t, "GUILD_MEMBER_REMOVE", wire.Member{GuildID: "g1", User: wire.User{ID: "u1"}}))

	if m, err := s.Member("g1", "u1"); err != nil {
		t.Fatalf("Member: %v", err)
	} else if m != nil {
		t.Errorf("Member after remove: got %+v, want nil", m)
	}
	g, err := s.Guild("g1")
	if err != nil {
		t.Fatalf("Guild: %v", err)
	}
	if len(g.Presences) != 0 {
		t.Errorf("Presences after member remove: got %d, want 0", len(g.Presences))
	}
}

func TestVoiceStateEmptyChannelLeaves(t *testing.T) {
	s := state.NewStore(nil)
	s.CreateGuild(wire.Guild{ID: "g1"})

	mustApply(t, s, frame(t, "VOICE_STATE_UPDATE", wire.VoiceState{GuildID: "g1", UserID: "u1", ChannelID: "v1"}))
	g, _ := s.Guild("g1")
	if len(g.VoiceStates) != 1 {
		t.Fatalf("VoiceStates after join: got %d, want 1", len(g.VoiceStates))
	}

	mustApply(t, s, frame(t, "VOICE_STATE_UPDATE", wire.VoiceState{GuildID: "g1", UserID: "u1"}))
	g, _ = s.Guild("g1")
	if len(g.VoiceStates) != 0 {
		t.Errorf("VoiceStates after leave: got %d, want 0", len(g.VoiceStates))
	}
}

func TestChannelIndexFollowsLifecycle(t *testing.T) {
	s := state.NewStore(nil)
	s.CreateGuild(wire.Guild{ID: "g1"})

	mustApply(t, s, frame(t, "CHANNEL_CREATE", wire.Channel{ID: "c1", GuildID: "g1"}))
	if gid, ok := s.GuildForChannel("c1"); !ok || gid != "g1" {
		t.Errorf("GuildForChannel: got %q, %v; want g1, true", gid, ok)
	}

	mustApply(t, s, frame(t, "CHANNEL_DELETE", wire.Channel{ID: "c1", GuildID: "g1"}))
	if _, ok := s.GuildForChannel("c1"); ok {
		t.Error("GuildForChannel after delete: still indexed")
	}
}

func TestGuildResyncReindexesChannels(t *testing.T) {
	s := state.NewStore(nil)
	s.CreateGuild(wire.Guild{
		ID: "g1", Channels: []wire.Channel{{ID: "c1", GuildID: "g1"}},
	})

	// A fresh GUILD_CREATE replaces the channel set wholesale; channels it
	// no longer carries must leave the index.
	s.CreateGuild(wire.Guild{
		ID: "g1", Channels: []wire.Channel{{ID: "c2", GuildID: "g1"}},
	})
	if gid, ok := s.GuildForChannel("c1"); ok {
		t.Errorf("GuildForChannel(c1) after resync: got %q, want unindexed", gid)
	}
	if gid, ok := s.GuildForChannel("c2"); !ok || gid != "g1" {
		t.Errorf("GuildForChannel(c2): got %q, %v; want g1, true", gid, ok)
	}
}

func TestRoleMutationReplay(t *testing.T) {
	s := state.NewStore(nil)
	s.CreateGuild(wire.Guild{ID: "g1"})

	// Replay a create/update/delete/create script against one role id; the
	// surviving state must reflect the last write.
	for _, f := range []*wire.Frame{
		frame(t, "GUILD_ROLE_CREATE", wire.RoleUpdate{GuildID: "g1", Role: wire.Role{ID: "r1", Name: "cook"}}),
		frame(t, "GUILD_ROLE_UPDATE", wire.RoleUpdate{GuildID: "g1", Role: wire.Role{ID: "r1", Name: "critic", Color: 7}}),
		frame(t, "GUILD_ROLE_DELETE", wire.RoleDelete{GuildID: "g1", RoleID: "r1"}),
		frame(t, "GUILD_ROLE_CREATE", wire.RoleUpdate{GuildID: "g1", Role: wire.Role{ID: "r1", Name: "owner"}}),
	} {
		mustApply(t, s, f)
	}

	g, err := s.Guild("g1")
	if err != nil {
		t.Fatalf("Guild: %v", err)
	}
	want := []wire.Role{{ID: "r1", Name: "owner"}}
	if diff := cmp.Diff(want, g.Roles); diff != "" {
		t.Errorf("roles after replay (-want, +got):\n%s", diff)
	}

	// Deleting again is a no-op, not an error.
	mustApply(t, s, frame(t, "GUILD_ROLE_DELETE", wire.RoleDelete{GuildID: "g1", RoleID: "r1"}))
	mustApply(t, s, frame(t, "GUILD_ROLE_DELETE", wire.RoleDelete{GuildID: "g1", RoleID: "r1"}))
	g, _ = s.Guild("g1")
	if len(g.Roles) != 0 {
		t.Errorf("roles after delete: got %d, want 0", len(g.Roles))
	}
}

func TestPrivateChannels(t *testing.T) {
	s := state.NewStore(nil)
	mustApply(t, s, frame(t, "CHANNEL_CREATE", wire.Channel{
		ID: "d1", Type: wire.ChannelTypePrivate,
		Recipients: []wire.User{{ID: "u7"}},
	}))

	if ch, ok := s.PrivateChannel("d1"); !ok || ch.ID != "d1" {
		t.Errorf("PrivateChannel: got %+v, %v", ch, ok)
	}
	if ch, ok := s.PrivateChannelWith("u7"); !ok || ch.ID != "d1" {
		t.Errorf("PrivateChannelWith: got %+v, %v", ch, ok)
	}

	mustApply(t, s, frame(t, "CHANNEL_DELETE", wire.Channel{ID: "d1", Type: wire.ChannelTypePrivate}))
	if _, ok := s.PrivateChannel("d1"); ok {
		t.Error("PrivateChannel after delete: still present")
	}
}

func TestReadySeedsEverything(t *testing.T) {
	s := state.NewStore(nil)
	mustApply(t, s, frame(t, "READY", wire.Ready{
		V:         6,
		User:      wire.User{ID: "me"},
		SessionID: "sess",
		Guilds: []wire.Guild{
			{ID: "g1", Unavailable: true},
			{ID: "g2", Name: "full"},
		},
		PrivateChannels: []wire.Channel{{ID: "d1", Type: wire.ChannelTypePrivate}},
	}))

	if u := s.CurrentUser(); u == nil || u.ID != "me" {
		t.Errorf("CurrentUser: got %+v, want id me", u)
	}
	ids := s.GuildIDs()
	sort.Strings(ids)
	if diff := cmp.Diff([]string{"g1", "g2"}, ids); diff != "" {
		t.Errorf("GuildIDs (-want, +got):\n%s", diff)
	}
	if _, ok := s.PrivateChannel("d1"); !ok {
		t.Error("PrivateChannel d1 missing after READY")
	}
}

func TestUnhandledEventPassesThrough(t *testing.T) {
	s := state.NewStore(nil)
	evt := mustApply(t, s, frame(t, "TYPING_START", map[string]string{"channel_id": "c1"}))
	if evt.Type != "TYPING_START" || len(evt.Args) != 1 {
		t.Errorf("passthrough event: got %+v", evt)
	}
}

func TestMessageCreatePayload(t *testing.T) {
	s := state.NewStore(nil)
	evt := mustApply(t, s, frame(t, "MESSAGE_CREATE", wire.Message{
		ID: "m1", ChannelID: "c1", Content: "hi",
	}))
	if len(evt.Args) != 1 {
		t.Fatalf("Args: got %d, want 1", len(evt.Args))
	}
	msg, ok := evt.Args[0].(*wire.Message)
	if !ok {
		t.Fatalf("Args[0]: got %T, want *wire.Message", evt.Args[0])
	}
	if msg.Content != "hi" {
		t.Errorf("Content: got %q, want %q", msg.Content, "hi")
	}
}
