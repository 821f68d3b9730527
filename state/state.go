// Package state maintains the client's in-memory view of server-side state.
//
// Guild state is partitioned: each guild is owned by its own lock, so
// mutations within one guild are linearized while different guilds mutate
// concurrently. A small set of global tables (current user, private channels,
// channel→guild index) sit outside the partitioning. All state is rebuilt
// from the READY bulk load plus incremental events on every fresh session;
// nothing is persisted.
package state

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/driftlabs/pylon/wire"
)

// ErrUnknownGuild is reported for lookups and mutations against a guild id
// the store has never seen.
var ErrUnknownGuild = errors.New("state: unknown guild")

// ErrGuildUnavailable is reported for lookups against a guild the store
// knows of but whose state has not been delivered yet (or is in outage).
// It is distinct from ErrUnknownGuild.
var ErrGuildUnavailable = errors.New("state: guild not loaded")

// An Event is the normalized output of applying one raw dispatch frame:
// the event's type tag plus its ordered arguments. Events are ephemeral;
// they are produced by Apply and consumed exactly once by the router stage.
type Event struct {
	Type string
	Args []any
}

// A Store holds the cached state for one client.
type Store struct {
	mu     sync.RWMutex
	guilds map[string]*partition

	userMu sync.RWMutex
	user   *wire.User

	// Global channel tables. channelGuild maps every known guild channel to
	// its guild; privates holds direct-message channel snapshots with a
	// secondary peer→channel index.
	chanMu       sync.RWMutex
	channelGuild map[string]string
	privates     map[string]wire.Channel
	privatePeer  map[string]string

	logger *slog.Logger
}

// NewStore constructs an empty store. If logger is nil, slog.Default() is
// used.
func NewStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		guilds:       make(map[string]*partition),
		channelGuild: make(map[string]string),
		privates:     make(map[string]wire.Channel),
		privatePeer:  make(map[string]string),
		logger:       logger,
	}
}

// CurrentUser returns the bot's own user object, or nil before READY.
func (s *Store) CurrentUser() *wire.User {
	s.userMu.RLock()
	defer s.userMu.RUnlock()
	if s.user == nil {
		return nil
	}
	u := *s.user
	return &u
}

// SetCurrentUser replaces the current-user slot wholesale.
func (s *Store) SetCurrentUser(u wire.User) {
	s.userMu.Lock()
	defer s.userMu.Unlock()
	s.user = &u
}

// PrivateChannel returns the direct-message channel with the given id.
func (s *Store) PrivateChannel(id string) (wire.Channel, bool) {
	s.chanMu.RLock()
	defer s.chanMu.RUnlock()
	ch, ok := s.privates[id]
	return ch, ok
}

// PrivateChannelWith returns the direct-message channel whose peer is the
// given user, if one is cached.
func (s *Store) PrivateChannelWith(userID string) (wire.Channel, bool) {
	s.chanMu.RLock()
	defer s.chanMu.RUnlock()
	id, ok := s.privatePeer[userID]
	if !ok {
		return wire.Channel{}, false
	}
	ch, ok := s.privates[id]
	return ch, ok
}

// putPrivate stores a direct-message channel and indexes its peer.
func (s *Store) putPrivate(ch wire.Channel) {
	s.chanMu.Lock()
	defer s.chanMu.Unlock()
	s.privates[ch.ID] = ch
	for _, u := range ch.Recipients {
		s.privatePeer[u.ID] = ch.ID
	}
}

func (s *Store) removePrivate(id string) {
	s.chanMu.Lock()
	defer s.chanMu.Unlock()
	ch, ok := s.privates[id]
	if !ok {
		return
	}
	delete(s.privates, id)
	for _, u := range ch.Recipients {
		if s.privatePeer[u.ID] == id {
			delete(s.privatePeer, u.ID)
		}
	}
}

// GuildForChannel resolves a guild channel id to its guild id.
func (s *Store) GuildForChannel(channelID string) (string, bool) {
	s.chanMu.RLock()
	defer s.chanMu.RUnlock()
	gid, ok := s.channelGuild[channelID]
	return gid, ok
}

func (s *Store) setChannelGuild(channelID, guildID string) {
	s.chanMu.Lock()
	defer s.chanMu.Unlock()
	s.channelGuild[channelID] = guildID
}

func (s *Store) dropChannelGuild(channelID string) {
	s.chanMu.Lock()
	defer s.chanMu.Unlock()
	delete(s.channelGuild, channelID)
}

// GuildIDs returns the ids of all guilds the store knows of, including
// unavailable ones.
func (s *Store) GuildIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.guilds))
	for id := range s.guilds {
		ids = append(ids, id)
	}
	return ids
}

// Guilds returns a snapshot of every loaded guild. Each guild's snapshot
// reflects its own latest state, but the collection is not a single atomic
// cut across guilds.
func (s *Store) Guilds() []wire.Guild {
	var out []wire.Guild
	for _, id := range s.GuildIDs() {
		if g, err := s.Guild(id); err == nil {
			out = append(out, *g)
		}
	}
	return out
}
