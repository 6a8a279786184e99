// Package matrix connects Hikari to a Matrix homeserver: it turns room
// messages into gate.Message values and delivers replies, notices and
// command responses.
package matrix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/bdobrica/Hikari/common/retry"
	"github.com/bdobrica/Hikari/internal/hikari/docstore"
	"github.com/bdobrica/Hikari/internal/hikari/gate"
)

// Reconnect backoff bounds for the sync loop.
const (
	backoffMin = 2 * time.Second
	backoffMax = 5 * time.Minute
	// healthySync is how long a sync must run before a failure resets the
	// backoff.
	healthySync = time.Minute
)

const typingTimeout = 30 * time.Second

// Config holds Matrix client configuration.
type Config struct {
	Homeserver  string
	UserID      string
	AccessToken string
	DisplayName string
	// Rooms are joined before syncing starts.
	Rooms    []string
	AutoJoin bool
	// Bots are user IDs whose messages are flagged as bot-authored.
	Bots []string
	// Store persists the sync token. When nil, an in-memory store is used
	// and history is replayed on every restart.
	Store  docstore.Store
	Logger *slog.Logger
}

// Handler processes one inbound message. Each call runs on its own goroutine.
type Handler func(ctx context.Context, msg gate.Message)

// Client wraps a mautrix client.
type Client struct {
	client    *mautrix.Client
	cfg       Config
	me        identity
	logger    *slog.Logger
	startedAt time.Time

	handler  Handler
	inflight sync.WaitGroup

	directMu sync.Mutex
	direct   map[id.RoomID]bool

	stopOnce sync.Once
	stopCh   chan struct{}
}

var _ gate.Fetcher = (*Client)(nil)

// New creates a client; it does not contact the homeserver.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("matrix: create client: %w", err)
	}

	if cfg.Store != nil {
		client.Store = NewDocSyncStore(cfg.Store)
	} else {
		cfg.Logger.Warn("matrix: no store configured, history will replay on restart")
	}

	bots := make(map[id.UserID]struct{}, len(cfg.Bots))
	for _, b := range cfg.Bots {
		bots[id.UserID(b)] = struct{}{}
	}
	return &Client{
		client: client,
		cfg:    cfg,
		me: identity{
			userID:      id.UserID(cfg.UserID),
			displayName: cfg.DisplayName,
			bots:        bots,
		},
		logger: cfg.Logger,
		direct: make(map[id.RoomID]bool),
		stopCh: make(chan struct{}),
	}, nil
}

// UserID returns the companion's Matrix user ID.
func (c *Client) UserID() string { return c.cfg.UserID }

// Run joins the configured rooms and syncs until ctx is cancelled or Stop is
// called, reconnecting with exponential backoff. It waits for in-flight
// handlers before returning.
func (c *Client) Run(ctx context.Context, handler Handler) error {
	c.handler = handler
	c.startedAt = time.Now()

	// E2EE is not implemented; encrypted rooms are not readable.
	c.logger.Warn("matrix: E2EE is not enabled; messages are transmitted in plaintext")

	syncer := c.client.Syncer.(*mautrix.DefaultSyncer)
	syncer.OnEventType(event.EventMessage, c.handleMessage)
	syncer.OnEventType(event.StateMember, c.handleMember)

	for _, roomID := range c.cfg.Rooms {
		if err := c.joinRoom(ctx, id.RoomID(roomID)); err != nil {
			return fmt.Errorf("matrix: join room %s: %w", roomID, err)
		}
	}

	defer c.inflight.Wait()

	b := retry.NewBackoff(backoffMin, backoffMax)
	for {
		started := time.Now()
		err := c.client.SyncWithContext(ctx)
		if ctx.Err() != nil || c.stopped() {
			return nil
		}
		if err == nil {
			// Only on a clean StopSync.
			return nil
		}
		if time.Since(started) > healthySync {
			b.Reset()
		}
		delay := b.Next()
		c.logger.Error("matrix: sync stopped; reconnecting", "err", err, "backoff", delay)
		select {
		case <-c.stopCh:
			return nil
		default:
		}
		if retry.Sleep(ctx, delay) != nil {
			return nil
		}
	}
}

// Stop ends the sync loop. It is safe to call more than once.
func (c *Client) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
		c.client.StopSync()
	})
}

func (c *Client) stopped() bool {
	select {
	case <-c.stopCh:
		return true
	default:
		return false
	}
}

func (c *Client) handleMessage(ctx context.Context, evt *event.Event) {
	// Skip backlog delivered by the first sync after startup.
	if evt.Timestamp < c.startedAt.UnixMilli() {
		return
	}
	msg, ok := c.me.toMessage(evt, c.isDirect(ctx, evt.RoomID))
	if !ok || c.handler == nil {
		return
	}
	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		c.handler(ctx, msg)
	}()
}

func (c *Client) handleMember(ctx context.Context, evt *event.Event) {
	c.directMu.Lock()
	delete(c.direct, evt.RoomID)
	c.directMu.Unlock()

	mem := evt.Content.AsMember()
	if mem == nil || !c.cfg.AutoJoin {
		return
	}
	if mem.Membership == event.MembershipInvite && evt.GetStateKey() == c.cfg.UserID {
		if err := c.joinRoom(ctx, evt.RoomID); err != nil {
			c.logger.Warn("matrix: accept invite failed", "room", evt.RoomID, "err", err)
			return
		}
		c.logger.Info("matrix: joined room on invite", "room", evt.RoomID, "inviter", evt.Sender)
	}
}

// isDirect reports whether the room has exactly two joined members. Results
// are cached until the room's membership changes.
func (c *Client) isDirect(ctx context.Context, roomID id.RoomID) bool {
	c.directMu.Lock()
	direct, ok := c.direct[roomID]
	c.directMu.Unlock()
	if ok {
		return direct
	}

	resp, err := c.client.JoinedMembers(ctx, roomID)
	if err != nil {
		c.logger.Warn("matrix: joined members lookup failed", "room", roomID, "err", err)
		return false
	}
	direct = len(resp.Joined) == 2

	c.directMu.Lock()
	c.direct[roomID] = direct
	c.directMu.Unlock()
	return direct
}

func (c *Client) joinRoom(ctx context.Context, roomID id.RoomID) error {
	_, err := c.client.JoinRoomByID(ctx, roomID)
	if err != nil {
		// M_FORBIDDEN is returned when the bot is already a member.
		if errors.Is(err, mautrix.MForbidden) {
			c.logger.Warn("matrix: already a member or access denied, continuing", "room", roomID)
			return nil
		}
		return err
	}
	return nil
}
