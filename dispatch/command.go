package dispatch

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/creachadair/taskgroup"

	"github.com/driftlabs/pylon/wire"
)

// A Command is a named chat command. Its handler receives the triggering
// message and the parsed arguments, truncated or padded to Arity.
type Command struct {
	Name   string
	Module string // owning module identifier
	Arity  int    // number of arguments delivered to Run

	// Parse splits the argument text. If nil, the text is split on
	// whitespace.
	Parse func(rest string) []string

	Run func(ctx context.Context, msg *wire.Message, args []string)
}

// Commands routes "message received" events to named commands. A message is
// eligible when its content starts with the configured prefix; the first
// whitespace-delimited token after the prefix names the command.
type Commands struct {
	mu      sync.Mutex
	prefix  string
	ownerID string // selfbot mode: only this author may trigger commands
	table   map[string]Command

	tasks  *taskgroup.Group
	logger *slog.Logger
}

// NewCommands constructs an empty command table with the given trigger
// prefix. If logger is nil, slog.Default() is used.
func NewCommands(prefix string, logger *slog.Logger) *Commands {
	if logger == nil {
		logger = slog.Default()
	}
	return &Commands{
		prefix: prefix,
		table:  make(map[string]Command),
		tasks:  taskgroup.New(nil),
		logger: logger,
	}
}

// SetPrefix replaces the trigger prefix.
func (c *Commands) SetPrefix(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prefix = prefix
}

// SetOwner restricts command triggering to messages authored by the given
// account (selfbot mode). An empty id removes the restriction.
func (c *Commands) SetOwner(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ownerID = userID
}

// Add merges entries into the command table by name. A new entry for an
// existing name takes effect only when its declared arity is strictly
// higher than the registered one; ties keep the existing entry, so a later
// equal-or-lower-arity registration is ignored. Consumers depend on the
// exact tie-break.
func (c *Commands) Add(cmds ...Command) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, cmd := range cmds {
		if prev, ok := c.table[cmd.Name]; ok && cmd.Arity <= prev.Arity {
			continue
		}
		c.table[cmd.Name] = cmd
	}
}

// Unload removes every command owned by module.
func (c *Commands) Unload(module string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for name, cmd := range c.table {
		if cmd.Module == module {
			delete(c.table, name)
		}
	}
}

// Disable removes the single named command.
func (c *Commands) Disable(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.table, name)
}

// Dispatch examines one received message and, if it names a known command,
// schedules the command's handler as an independent task. Messages without
// the prefix, from non-owners in selfbot mode, or naming unknown commands
// are silently ignored.
func (c *Commands) Dispatch(ctx context.Context, msg *wire.Message) {
	c.mu.Lock()
	prefix, ownerID := c.prefix, c.ownerID
	c.mu.Unlock()

	if prefix == "" || !strings.HasPrefix(msg.Content, prefix) {
		return
	}
	if ownerID != "" && msg.Author.ID != ownerID {
		return
	}

	name, rest, _ := strings.Cut(strings.TrimPrefix(msg.Content, prefix), " ")
	c.mu.Lock()
	cmd, ok := c.table[name]
	c.mu.Unlock()
	if !ok {
		return // unknown command names are not an error
	}

	args := fields(cmd, rest)
	args = atArity(args, cmd.Arity)

	c.tasks.Go(func() error {
		defer func() {
			if x := recover(); x != nil {
				c.logger.Error("command panicked (recovered)",
					"command", cmd.Name, "module", cmd.Module, "panic", x)
			}
		}()
		cmd.Run(ctx, msg, args)
		return nil
	})
}

// Wait blocks until all in-flight command invocations have returned.
func (c *Commands) Wait() { c.tasks.Wait() }

func fields(cmd Command, rest string) []string {
	if cmd.Parse != nil {
		return cmd.Parse(rest)
	}
	return strings.Fields(rest)
}

// atArity truncates or pads args to exactly n entries, padding with empty
// strings.
func atArity(args []string, n int) []string {
	if len(args) >= n {
		return args[:n]
	}
	out := make([]string, n)
	copy(out, args)
	return out
}
