package mwbridge

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
)

// Client is the single entry point composing the Device Transport
// Interface, the SNI/USB2SNES/cloud-relay transports, the backend service
// client, the reconciliation engine, and the connection supervisor (§4.G).
type Client struct {
	mu sync.RWMutex

	cfg  *Config
	sink NotificationSink

	sessionURI  string
	sessionGUID string

	backend    *BackendClient
	supervisor *connectionSupervisor
	engine     *SMZ3Engine

	session *Session
	client  *ClientInfo

	closeOnce sync.Once
}

// New constructs a Client against sessionURI/sessionGUID. sink may be nil,
// in which case notifications are discarded.
func New(sessionURI, sessionGUID string, sink NotificationSink, opts ...Option) (*Client, error) {
	cfg := applyConfig(opts)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if sink == nil {
		sink = nopSink
	}

	backend := NewBackendClient(sessionURI, cfg)

	candidates, err := buildTransportCandidates(cfg)
	if err != nil {
		return nil, err
	}
	poll := NewAdaptivePoll(cfg.fastPoll, cfg.reconnectPoll)
	supervisor := newConnectionSupervisor(candidates, cfg.metrics, sink, poll)

	return &Client{
		cfg:         cfg,
		sink:        sink,
		sessionURI:  sessionURI,
		sessionGUID: sessionGUID,
		backend:     backend,
		supervisor:  supervisor,
	}, nil
}

func buildTransportCandidates(cfg *Config) ([]Transport, error) {
	sni := NewSNITransport(cfg.sniURI, cfg)
	primary := NewUSB2SNESTransport(cfg.usb2snesURI, cfg)
	legacy := NewUSB2SNESTransport(cfg.usb2snesLegacyURI, cfg)

	candidates := []Transport{
		newMetricsTransport(sni, cfg.metrics),
		newMetricsTransport(primary, cfg.metrics),
		newMetricsTransport(legacy, cfg.metrics),
	}

	if cfg.cloudRelay != nil {
		serviceURL := fmt.Sprintf("https://%s.queue.core.windows.net/", cfg.cloudRelay.account)
		relay, err := NewCloudRelayTransport(serviceURL, cfg.cloudRelay.account, cfg.cloudRelay.key, cfg.cloudRelay.prefix, cfg.connectTimeout)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, newMetricsTransport(relay, cfg.metrics))
	}
	return candidates, nil
}

// Initialize fetches the session descriptor.
func (c *Client) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, err := c.backend.GetSession(ctx, c.sessionGUID)
	if err != nil {
		return err
	}
	c.session = s
	return nil
}

// GetSessionData returns the last-fetched session descriptor.
func (c *Client) GetSessionData() (*Session, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil {
		return nil, NewPreconditionError("session not initialized; call Initialize first")
	}
	return c.session, nil
}

// RegisterPlayer registers a new client for worldID.
func (c *Client) RegisterPlayer(ctx context.Context, worldID int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	info, err := c.backend.RegisterPlayer(ctx, c.sessionGUID, worldID)
	if err != nil {
		return err
	}
	c.client = info
	return nil
}

// LoginPlayer resumes an existing client.
func (c *Client) LoginPlayer(ctx context.Context, clientGUID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	info, err := c.backend.LoginPlayer(ctx, c.sessionGUID, clientGUID)
	if err != nil {
		return err
	}
	c.client = info
	return nil
}

// UnregisterPlayer releases the current client's registration.
func (c *Client) UnregisterPlayer(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return NewPreconditionError("no registered client")
	}
	return c.backend.UnregisterPlayer(ctx, c.client.ClientToken)
}

// GetClientData returns the current client's descriptor.
func (c *Client) GetClientData() (*ClientInfo, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.client == nil {
		return nil, NewPreconditionError("no registered client")
	}
	return c.client, nil
}

// GetPatch fetches the patch bytes for the current client.
func (c *Client) GetPatch(ctx context.Context) ([]byte, error) {
	c.mu.RLock()
	client := c.client
	c.mu.RUnlock()
	if client == nil {
		return nil, NewPreconditionError("no registered client")
	}
	return c.backend.GetPatch(ctx, client.ClientToken)
}

// ListDevices ensures a transport is connected and returns the devices it
// reports.
func (c *Client) ListDevices(ctx context.Context) ([]Device, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.supervisor.ensureConnected(ctx); err != nil {
		return nil, err
	}
	return c.supervisor.transport.ListDevices(ctx)
}

// GetEvents proxies to the backend.
func (c *Client) GetEvents(ctx context.Context, filter GetEventsFilter) ([]SessionEvent, error) {
	c.mu.RLock()
	client := c.client
	c.mu.RUnlock()
	if client == nil {
		return nil, NewPreconditionError("no registered client")
	}
	return c.backend.GetEvents(ctx, client.ClientToken, filter)
}

// GetReport returns events of any type across the whole session (a wider
// GetEvents call with no from/to bounds).
func (c *Client) GetReport(ctx context.Context) ([]SessionEvent, error) {
	return c.GetEvents(ctx, GetEventsFilter{})
}

// SendEvent proxies to the backend.
func (c *Client) SendEvent(ctx context.Context, ev SessionEvent) (SessionEvent, error) {
	c.mu.RLock()
	client := c.client
	c.mu.RUnlock()
	if client == nil {
		return SessionEvent{}, NewPreconditionError("no registered client")
	}
	return c.backend.SendEvent(ctx, client.ClientToken, ev)
}

// Forfeit unregisters the current client and clears local state.
func (c *Client) Forfeit(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return NewPreconditionError("no registered client")
	}
	err := c.backend.UnregisterPlayer(ctx, c.client.ClientToken)
	c.client = nil
	c.engine = nil
	return err
}

// Start selects and binds the engine variant for (gameID, gameMode),
// currently only ("smz3", "multiworld").
func (c *Client) Start(gameID, gameMode, device string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil || c.client == nil {
		return NewPreconditionError("Start requires Initialize and a registered/logged-in client")
	}
	if strings.ToLower(gameID) != "smz3" || strings.ToLower(gameMode) != "multiworld" {
		return fmt.Errorf("%w: %s/%s", ErrUnsupportedGame, gameID, gameMode)
	}

	worldGUID := ""
	for _, w := range c.session.Seed.Worlds {
		if w.WorldID == c.client.WorldID {
			worldGUID = w.GUID
			break
		}
	}

	engine := NewSMZ3Engine(c.cfg, c.backend, c.sink)
	engine.Bind(c.sessionGUID, worldGUID, c.client.WorldID, c.client.ClientToken)
	c.engine = engine
	c.supervisor.device = device
	return nil
}

// Update runs one tick: ensures connectivity, then advances the engine.
// Ticks are fully serialized by the client's write lock.
func (c *Client) Update(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.engine == nil {
		return NewPreconditionError("Start must be called before Update")
	}
	if err := c.supervisor.ensureConnected(ctx); err != nil {
		return err
	}

	device := c.supervisor.currentDevice()
	err := c.engine.Tick(ctx, c.supervisor.transport, device)
	return c.supervisor.classify(ctx, err)
}

// ParseSessionURI validates that uri is well-formed. New does not call it;
// callers that want the check run it before constructing a Client.
func ParseSessionURI(uri string) error {
	_, err := url.Parse(uri)
	return err
}

// Close disconnects the currently selected transport, if any. Safe to call
// more than once.
func (c *Client) Close(ctx context.Context) error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.supervisor.transport != nil {
			err = c.supervisor.transport.Disconnect(ctx)
		}
	})
	return err
}
