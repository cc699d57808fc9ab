package api

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mtappler/focusgate/internal/enforce"
	"github.com/mtappler/focusgate/internal/metrics"
	"github.com/rs/zerolog"
)

// Command kinds the browser client executes.
const (
	CommandRedirect = "redirect"
	CommandBadge    = "badge"
	CommandNotify   = "notify"
)

// Command is one queued instruction for the browser client.
type Command struct {
	ID       string    `json:"id"`
	Kind     string    `json:"kind"`
	TabID    int       `json:"tabId,omitempty"`
	URL      string    `json:"url,omitempty"`
	Text     string    `json:"text,omitempty"`
	Color    string    `json:"color,omitempty"`
	Title    string    `json:"title,omitempty"`
	Message  string    `json:"message,omitempty"`
	QueuedAt time.Time `json:"queuedAt"`
}

const maxQueuedCommands = 256

// CommandQueue bridges the daemon's outbound tab effects to the
// polling browser client. The client reports its open tabs and drains
// pending commands on each poll; enforcement components see it as a
// TabController.
type CommandQueue struct {
	logger zerolog.Logger

	mu       sync.Mutex
	commands []Command
	tabs     []enforce.Tab
	tabsSeen time.Time
}

// NewCommandQueue creates an empty command queue.
func NewCommandQueue(logger zerolog.Logger) *CommandQueue {
	return &CommandQueue{
		logger: logger.With().Str("component", "commands").Logger(),
	}
}

// UpdateTabs stores the client's latest open-tab snapshot.
func (q *CommandQueue) UpdateTabs(tabs []enforce.Tab) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tabs = tabs
	q.tabsSeen = time.Now()
}

// List returns the last reported open tabs.
func (q *CommandQueue) List(ctx context.Context) ([]enforce.Tab, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]enforce.Tab(nil), q.tabs...), nil
}

// Redirect queues a tab navigation.
func (q *CommandQueue) Redirect(ctx context.Context, tabID int, url string) error {
	q.enqueue(Command{Kind: CommandRedirect, TabID: tabID, URL: url})
	return nil
}

// SetBadge queues a badge update.
func (q *CommandQueue) SetBadge(ctx context.Context, tabID int, text, color string) error {
	q.enqueue(Command{Kind: CommandBadge, TabID: tabID, Text: text, Color: color})
	return nil
}

// Notify queues a user notification.
func (q *CommandQueue) Notify(ctx context.Context, title, message string) error {
	q.enqueue(Command{Kind: CommandNotify, Title: title, Message: message})
	return nil
}

// Drain returns all pending commands and clears the queue.
func (q *CommandQueue) Drain() []Command {
	q.mu.Lock()
	defer q.mu.Unlock()
	commands := q.commands
	q.commands = nil
	return commands
}

func (q *CommandQueue) enqueue(cmd Command) {
	cmd.ID = uuid.NewString()
	cmd.QueuedAt = time.Now()

	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.commands) >= maxQueuedCommands {
		// The client has stopped polling; oldest commands are the
		// least likely to still be actionable.
		q.commands = q.commands[1:]
		q.logger.Warn().Msg("Command queue full, dropping oldest command")
	}
	q.commands = append(q.commands, cmd)
	metrics.CommandsQueued.WithLabelValues(cmd.Kind).Inc()
}
