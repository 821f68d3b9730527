package state

import (
	"encoding/json"
	"fmt"

	"github.com/driftlabs/pylon/wire"
)

// Apply applies one raw dispatch frame to the store and returns the
// normalized event to fan out to handlers.
//
// Guild-scoped events for a guild the store has never seen report
// ErrUnknownGuild: a member update can race ahead of its guild's create on a
// logically concurrent path, and the documented behavior is to drop such
// events with a diagnostic rather than queue or crash. Dispatch types the
// cache does not interpret pass through with their raw payload as the sole
// argument.
func (s *Store) Apply(f *wire.Frame) (Event, error) {
	switch f.T {
	case wire.EventReady:
		var r wire.Ready
		if err := decode(f, &r); err != nil {
			return Event{}, err
		}
		s.SetCurrentUser(r.User)
		for _, ch := range r.PrivateChannels {
			s.putPrivate(ch)
		}
		for _, g := range r.Guilds {
			s.CreateGuild(g)
		}
		return Event{Type: f.T, Args: []any{&r}}, nil

	case wire.EventGuildCreate:
		var g wire.Guild
		if err := decode(f, &g); err != nil {
			return Event{}, err
		}
		s.CreateGuild(g)
		return Event{Type: f.T, Args: []any{&g}}, nil

	case wire.EventGuildUpdate:
		var g wire.Guild
		if err := decode(f, &g); err != nil {
			return Event{}, err
		}
		if err := s.MergeGuild(g.ID, g); err != nil {
			return Event{}, err
		}
		return Event{Type: f.T, Args: []any{&g}}, nil

	case wire.EventGuildDelete:
		var g wire.Guild
		if err := decode(f, &g); err != nil {
			return Event{}, err
		}
		if g.Unavailable {
			// Outage, not a leave: mark rather than destroy.
			if err := s.MarkUnavailable(g.ID); err != nil {
				return Event{}, err
			}
		} else {
			s.RemoveGuild(g.ID)
		}
		return Event{Type: f.T, Args: []any{&g}}, nil

	case wire.EventGuildMemberAdd, wire.EventGuildMemberUpdate:
		var m wire.Member
		if err := decode(f, &m); err != nil {
			return Event{}, err
		}
		if err := s.PutMember(m.GuildID, m); err != nil {
			return Event{}, err
		}
		return Event{Type: f.T, Args: []any{&m}}, nil

	case wire.EventGuildMemberRemove:
		var m wire.Member
		if err := decode(f, &m); err != nil {
			return Event{}, err
		}
		if err := s.RemoveMember(m.GuildID, m.User.ID); err != nil {
			return Event{}, err
		}
		return Event{Type: f.T, Args: []any{&m}}, nil

	case wire.EventGuildMembersChunk:
		var c wire.MembersChunk
		if err := decode(f, &c); err != nil {
			return Event{}, err
		}
		for _, m := range c.Members {
			if err := s.PutMember(c.GuildID, m); err != nil {
				return Event{}, err
			}
		}
		return Event{Type: f.T, Args: []any{&c}}, nil

	case wire.EventGuildRoleCreate, wire.EventGuildRoleUpdate:
		var r wire.RoleUpdate
		if err := decode(f, &r); err != nil {
			return Event{}, err
		}
		if err := s.PutRole(r.GuildID, r.Role); err != nil {
			return Event{}, err
		}
		return Event{Type: f.T, Args: []any{&r}}, nil

	case wire.EventGuildRoleDelete:
		var r wire.RoleDelete
		if err := decode(f, &r); err != nil {
			return Event{}, err
		}
		if err := s.RemoveRole(r.GuildID, r.RoleID); err != nil {
			return Event{}, err
		}
		return Event{Type: f.T, Args: []any{&r}}, nil

	case wire.EventGuildEmojisUpdate:
		var e wire.EmojisUpdate
		if err := decode(f, &e); err != nil {
			return Event{}, err
		}
		if err := s.ReplaceEmojis(e.GuildID, e.Emojis); err != nil {
			return Event{}, err
		}
		return Event{Type: f.T, Args: []any{&e}}, nil

	case wire.EventChannelCreate, wire.EventChannelUpdate:
		var ch wire.Channel
		if err := decode(f, &ch); err != nil {
			return Event{}, err
		}
		if ch.Type == wire.ChannelTypePrivate {
			s.putPrivate(ch)
		} else if err := s.PutChannel(ch.GuildID, ch); err != nil {
			return Event{}, err
		}
		return Event{Type: f.T, Args: []any{&ch}}, nil

	case wire.EventChannelDelete:
		var ch wire.Channel
		if err := decode(f, &ch); err != nil {
			return Event{}, err
		}
		if ch.Type == wire.ChannelTypePrivate {
			s.removePrivate(ch.ID)
		} else if err := s.RemoveChannel(ch.GuildID, ch.ID); err != nil {
			return Event{}, err
		}
		return Event{Type: f.T, Args: []any{&ch}}, nil

	case wire.EventPresenceUpdate:
		var p wire.Presence
		if err := decode(f, &p); err != nil {
			return Event{}, err
		}
		if err := s.PutPresence(p.GuildID, p); err != nil {
			return Event{}, err
		}
		return Event{Type: f.T, Args: []any{&p}}, nil

	case wire.EventVoiceStateUpdate:
		var v wire.VoiceState
		if err := decode(f, &v); err != nil {
			return Event{}, err
		}
		if err := s.PutVoiceState(v.GuildID, v); err != nil {
			return Event{}, err
		}
		return Event{Type: f.T, Args: []any{&v}}, nil

	case wire.EventUserUpdate:
		var u wire.User
		if err := decode(f, &u); err != nil {
			return Event{}, err
		}
		s.SetCurrentUser(u)
		return Event{Type: f.T, Args: []any{&u}}, nil

	case wire.EventMessageCreate:
		// Messages are not cached; the event carries the message through.
		var m wire.Message
		if err := decode(f, &m); err != nil {
			return Event{}, err
		}
		return Event{Type: f.T, Args: []any{&m}}, nil

	default:
		return Event{Type: f.T, Args: []any{f.D}}, nil
	}
}

func decode(f *wire.Frame, v any) error {
	if err := json.Unmarshal(f.D, v); err != nil {
		return fmt.Errorf("state: decode %s payload: %w", f.T, err)
	}
	return nil
}
