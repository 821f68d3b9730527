package state

import (
	"sync"

	"github.com/driftlabs/pylon/wire"
)

// A partition owns the cached state of one guild. All mutations to a guild
// acquire its partition lock, so per-guild operations are strictly
// serialized while distinct guilds proceed concurrently.
type partition struct {
	mu          sync.Mutex
	unavailable bool
	guild       guildState
}

// guildState is the normalized cache form of a guild: keyed entity arrays
// from the wire are held as maps.
type guildState struct {
	id          string
	name        string
	ownerID     string
	region      string
	memberCount int
	members     map[string]wire.Member     // by user id
	roles       map[string]wire.Role       // by role id
	channels    map[string]wire.Channel    // by channel id
	presences   map[string]wire.Presence   // by user id
	voiceStates map[string]wire.VoiceState // by user id
	emojis      map[string]wire.Emoji      // by emoji id
}

func newGuildState(g wire.Guild) guildState {
	return guildState{
		id:          g.ID,
		name:        g.Name,
		ownerID:     g.OwnerID,
		region:      g.Region,
		memberCount: g.MemberCount,
		members:     indexBy(g.Members, func(m wire.Member) string { return m.User.ID }),
		roles:       indexBy(g.Roles, func(r wire.Role) string { return r.ID }),
		channels:    indexBy(g.Channels, func(c wire.Channel) string { return c.ID }),
		presences:   indexBy(g.Presences, func(p wire.Presence) string { return p.User.ID }),
		voiceStates: indexBy(g.VoiceStates, func(v wire.VoiceState) string { return v.UserID }),
		emojis:      indexBy(g.Emojis, func(e wire.Emoji) string { return e.ID }),
	}
}

// snapshot de-indexes the cached form back into the wire shape for external
// exposure.
func (g *guildState) snapshot() wire.Guild {
	return wire.Guild{
		ID:          g.id,
		Name:        g.name,
		OwnerID:     g.ownerID,
		Region:      g.region,
		MemberCount: g.memberCount,
		Members:     deindex(g.members),
		Roles:       deindex(g.roles),
		Channels:    deindex(g.channels),
		Presences:   deindex(g.presences),
		VoiceStates: deindex(g.voiceStates),
		Emojis:      deindex(g.emojis),
	}
}

// part returns the partition for id, or ErrUnknownGuild.
func (s *Store) part(id string) (*partition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.guilds[id]
	if !ok {
		return nil, ErrUnknownGuild
	}
	return p, nil
}

// Knows reports whether the store has seen the guild id, loaded or not.
func (s *Store) Knows(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.guilds[id]
	return ok
}

// CreateGuild inserts or replaces the state of a guild wholesale. An
// unavailable stub (from the READY guild list, or an outage) creates the
// partition without state; the later GUILD_CREATE fills it in.
func (s *Store) CreateGuild(g wire.Guild) {
	s.mu.Lock()
	p, ok := s.guilds[g.ID]
	if !ok {
		p = new(partition)
		s.guilds[g.ID] = p
	}
	s.mu.Unlock()

	p.mu.Lock()
	prev := p.guild.channels
	if g.Unavailable {
		p.unavailable = true
		p.guild.id = g.ID
	} else {
		p.unavailable = false
		p.guild = newGuildState(g)
	}
	channels := p.guild.channels
	p.mu.Unlock()

	// A resync replaces the channel set wholesale; deindex channels the
	// incoming state no longer carries.
	for id := range prev {
		if _, ok := channels[id]; !ok {
			s.dropChannelGuild(id)
		}
	}
	for id := range channels {
		s.setChannelGuild(id, g.ID)
	}
}

// RemoveGuild deletes a guild and its channel index entries entirely
// (explicit leave or kick, not an outage).
func (s *Store) RemoveGuild(id string) {
	s.mu.Lock()
	p, ok := s.guilds[id]
	delete(s.guilds, id)
	s.mu.Unlock()
	if !ok {
		return
	}
	p.mu.Lock()
	channels := p.guild.channels
	p.guild = guildState{id: id}
	p.unavailable = true
	p.mu.Unlock()
	for cid := range channels {
		s.dropChannelGuild(cid)
	}
}

// MarkUnavailable flags a guild as in outage, keeping the partition so a
// later GUILD_CREATE restores it.
func (s *Store) MarkUnavailable(id string) error {
	p, err := s.part(id)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unavailable = true
	return nil
}

// Guild returns a de-indexed snapshot of the guild. An unknown id reports
// ErrUnknownGuild; a guild known but not loaded reports ErrGuildUnavailable.
func (s *Store) Guild(id string) (*wire.Guild, error) {
	p, err := s.part(id)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.unavailable {
		return nil, ErrGuildUnavailable
	}
	g := p.guild.snapshot()
	return &g, nil
}

// MergeGuild merges scalar fields into a guild's state in place. Zero-valued
// fields of g are left untouched, so re-applying an identical update is
// idempotent.
func (s *Store) MergeGuild(id string, g wire.Guild) error {
	p, err := s.part(id)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if g.Name != "" {
		p.guild.name = g.Name
	}
	if g.OwnerID != "" {
		p.guild.ownerID = g.OwnerID
	}
	if g.Region != "" {
		p.guild.region = g.Region
	}
	if g.MemberCount != 0 {
		p.guild.memberCount = g.MemberCount
	}
	return nil
}

// The keyed mutation set below covers every indexed section of a guild.
// Each is a single serialized put or remove against the owning partition.

// PutMember inserts or replaces a member, keyed by user id.
func (s *Store) PutMember(guildID string, m wire.Member) error {
	return s.withGuild(guildID, func(g *guildState) {
		if g.members == nil {
			g.members = make(map[string]wire.Member)
		}
		g.members[m.User.ID] = m
	})
}

// RemoveMember deletes the member with the given user id.
func (s *Store) RemoveMember(guildID, userID string) error {
	return s.withGuild(guildID, func(g *guildState) {
		delete(g.members, userID)
		delete(g.presences, userID)
		delete(g.voiceStates, userID)
	})
}

// PutRole inserts or replaces a role.
func (s *Store) PutRole(guildID string, r wire.Role) error {
	return s.withGuild(guildID, func(g *guildState) {
		if g.roles == nil {
			g.roles = make(map[string]wire.Role)
		}
		g.roles[r.ID] = r
	})
}

// RemoveRole deletes the role with the given id.
func (s *Store) RemoveRole(guildID, roleID string) error {
	return s.withGuild(guildID, func(g *guildState) { delete(g.roles, roleID) })
}

// PutChannel inserts or replaces a guild channel and records it in the
// global channel→guild index.
func (s *Store) PutChannel(guildID string, c wire.Channel) error {
	err := s.withGuild(guildID, func(g *guildState) {
		if g.channels == nil {
			g.channels = make(map[string]wire.Channel)
		}
		g.channels[c.ID] = c
	})
	if err != nil {
		return err
	}
	s.setChannelGuild(c.ID, guildID)
	return nil
}

// RemoveChannel deletes a guild channel and its index entry.
func (s *Store) RemoveChannel(guildID, channelID string) error {
	err := s.withGuild(guildID, func(g *guildState) { delete(g.channels, channelID) })
	if err != nil {
		return err
	}
	s.dropChannelGuild(channelID)
	return nil
}

// PutPresence inserts or replaces a presence, keyed by user id.
func (s *Store) PutPresence(guildID string, p wire.Presence) error {
	return s.withGuild(guildID, func(g *guildState) {
		if g.presences == nil {
			g.presences = make(map[string]wire.Presence)
		}
		g.presences[p.User.ID] = p
	})
}

// PutVoiceState inserts, replaces, or (when the channel id is empty,
// meaning the user left voice) removes a voice state, keyed by user id.
func (s *Store) PutVoiceState(guildID string, v wire.VoiceState) error {
	return s.withGuild(guildID, func(g *guildState) {
		if v.ChannelID == "" {
			delete(g.voiceStates, v.UserID)
			return
		}
		if g.voiceStates == nil {
			g.voiceStates = make(map[string]wire.VoiceState)
		}
		g.voiceStates[v.UserID] = v
	})
}

// ReplaceEmojis replaces a guild's emoji section wholesale.
func (s *Store) ReplaceEmojis(guildID string, emojis []wire.Emoji) error {
	return s.withGuild(guildID, func(g *guildState) {
		g.emojis = indexBy(emojis, func(e wire.Emoji) string { return e.ID })
	})
}

// Member returns one member of a guild, or nil with no error if the guild
// holds no member with that user id.
func (s *Store) Member(guildID, userID string) (*wire.Member, error) {
	p, err := s.part(guildID)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.unavailable {
		return nil, ErrGuildUnavailable
	}
	m, ok := p.guild.members[userID]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

// withGuild runs fn against the guild's state under its partition lock.
// Mutating an unavailable guild is permitted: the gateway may stream
// incremental events while the bulk state is still in flight, and the
// partition's arrival order must be preserved.
func (s *Store) withGuild(id string, fn func(*guildState)) error {
	p, err := s.part(id)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(&p.guild)
	return nil
}
