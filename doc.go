// Package pylon is a client library for a sharded realtime event gateway and
// its paired REST API.
//
// A client maintains one persistent WebSocket session per shard, keeps an
// in-memory queryable view of server-side state (guilds, channels, members,
// roles, presences), paces REST calls through per-route and global rate
// limits, and fans inbound events out to user-registered handlers and chat
// commands.
//
// # Clients
//
// The core type defined by this package is the [Client]. Construct one with
// a token and start it:
//
//	c, err := pylon.New(pylon.Options{Token: token, Prefix: "!"})
//	if err != nil {
//	   log.Fatal(err)
//	}
//	if err := c.Start(ctx); err != nil {
//	   log.Fatal(err)
//	}
//	defer c.Stop()
//
// Start discovers the gateway URL and recommended shard count from the REST
// API, connects shard 0, and staggers the remaining shards to respect the
// gateway's identify rate limit. Sessions reconnect automatically, resuming
// their prior session where the gateway permits it.
//
// # Events
//
// Inbound events are applied to the state store and then dispatched to
// registered handlers. Handlers are grouped under a module identifier so
// they can be unloaded as a unit:
//
//	reg := c.On(wire.EventMessageCreate, "greeter", func(ctx context.Context, evt state.Event) {
//	   msg := evt.Args[0].(*wire.Message)
//	   // ...
//	})
//	reg.Remove()       // unregister just this handler
//	c.Unload("greeter") // or everything the module registered
//
// Each handler invocation runs as an independent task: a panicking or slow
// handler never affects its siblings or the pipeline.
//
// # Commands
//
// Chat commands are matched against a configurable prefix and invoked with
// arguments parsed to their declared arity:
//
//	c.AddCommands(dispatch.Command{
//	   Name: "echo", Module: "demo", Arity: 1,
//	   Run: func(ctx context.Context, msg *wire.Message, args []string) {
//	      c.Rest().CreateMessage(ctx, msg.ChannelID, args[0])
//	   },
//	})
//
// # State
//
// The [state.Store] returned by [Client.State] answers lookups from memory.
// Guild state is partitioned per guild: reads observe that guild's latest
// applied event, and mutations within one guild are strictly ordered, while
// different guilds are maintained concurrently. Nothing is persisted; the
// view is rebuilt from the gateway's bulk load on every fresh session.
//
// # Metrics
//
// Clients maintain expvar counters while running; use [Client.Metrics] to
// obtain the map. Counters include frames sent and received, events applied
// and dropped, identifies, resumes, reconnects, and heartbeats.
package pylon
