package bot

import (
	"context"
	"fmt"
	"sync"

	"github.com/bwmarrin/discordgo"
)

// HandlerFunc handles one slash command invocation
type HandlerFunc func(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate)

// Command is a slash command definition and its handler
type Command struct {
	Definition *discordgo.ApplicationCommand
	Handler    HandlerFunc

	// Deferred commands call the Riot API and acknowledge before running
	Deferred bool
}

// Router is the command table, built once at startup
type Router struct {
	mu       sync.RWMutex
	commands map[string]*Command
	order    []string
}

// NewRouter creates an empty router
func NewRouter() *Router {
	return &Router{
		commands: make(map[string]*Command),
	}
}

// Register adds a command. Names must be unique.
func (r *Router) Register(cmd *Command) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := cmd.Definition.Name
	if _, exists := r.commands[name]; exists {
		return fmt.Errorf("command %s already registered", name)
	}
	r.commands[name] = cmd
	r.order = append(r.order, name)
	return nil
}

// Get retrieves a command by name
func (r *Router) Get(name string) (*Command, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cmd, ok := r.commands[name]
	if !ok {
		return nil, fmt.Errorf("unknown command: %s", name)
	}
	return cmd, nil
}

// Definitions returns the command definitions in registration order
func (r *Router) Definitions() []*discordgo.ApplicationCommand {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]*discordgo.ApplicationCommand, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.commands[name].Definition)
	}
	return defs
}
