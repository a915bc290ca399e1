package mwbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
)

// World describes one world slot in a session's seed data.
type World struct {
	WorldID int    `json:"world_id"`
	GUID    string `json:"guid"`
}

// Seed carries the per-session world list consumed for detection (§3).
type Seed struct {
	Worlds []World `json:"worlds"`
}

// Session is the opaque session descriptor returned by GetSession.
type Session struct {
	GUID string `json:"guid"`
	Seed Seed   `json:"seed"`
}

// ClientInfo is the backend's view of a registered/logged-in client (§3).
type ClientInfo struct {
	ClientToken string `json:"client_token"`
	WorldID     int    `json:"world_id"`
}

// SessionEvent is one item-exchange event in the backend's event log (§3).
type SessionEvent struct {
	ID           int64  `json:"id"`
	EventType    string `json:"event_type"`
	FromWorldID  int    `json:"from_world_id"`
	ToWorldID    int    `json:"to_world_id"`
	ItemID       int    `json:"item_id"`
	ItemLocation int    `json:"item_location"`
	SequenceNum  int    `json:"sequence_num"`
	Confirmed    bool   `json:"confirmed"`
	Message      string `json:"message"`
	Timestamp    string `json:"time_stamp"`
}

// EventType values recognized by GetEvents/SendEvent.
const (
	EventTypeItemFound = "ItemFound"
)

// PlayerState is the state argument to UpdatePlayer.
type PlayerState string

// PlayerState values.
const (
	PlayerReady PlayerState = "Ready"
)

// GetEventsFilter narrows a GetEvents call (§4.D). Zero value fields are
// omitted from the request.
type GetEventsFilter struct {
	EventTypes  []string
	FromEventID int64
	ToEventID   int64
	FromWorldID int
	ToWorldID   int
}

// BackendClient is a thin JSON-over-HTTP wrapper for the session/player/event
// RPC surface (§4.D), grounded on the request/response client style used for
// the backend in this corpus.
type BackendClient struct {
	baseURI string
	client  *http.Client
	log     Logger

	patchCacheMu sync.Mutex
	patchCache   map[string][]byte
	blobCache    *patchBlobCache // nil unless WithPatchBlobCache was set
}

// NewBackendClient constructs a client against baseURI.
func NewBackendClient(baseURI string, cfg *Config) *BackendClient {
	c := &BackendClient{
		baseURI:    baseURI,
		client:     &http.Client{},
		log:        cfg.logger,
		patchCache: make(map[string][]byte),
	}
	if cfg.patchBlobCache != nil {
		bc, err := newPatchBlobCache(cfg.patchBlobCache)
		if err != nil {
			cfg.logger.Warn("backend: patch blob cache unavailable, falling back to in-process only", "err", err.Error())
		} else {
			c.blobCache = bc
		}
	}
	return c
}

func (c *BackendClient) do(ctx context.Context, method, path string, reqBody, respBody interface{}) error {
	var body bytes.Reader
	if reqBody != nil {
		buf, err := json.Marshal(reqBody)
		if err != nil {
			return NewProtocolError("encode " + path + " request: " + err.Error())
		}
		body = *bytes.NewReader(buf)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURI+path, &body)
	if err != nil {
		return NewTransportError(path, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return NewTransportError(path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var be struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&be)
		return NewBackendError(path, resp.StatusCode, be.Message)
	}
	if respBody == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(respBody); err != nil {
		return NewProtocolError("decode " + path + " response: " + err.Error())
	}
	return nil
}

// GetSession fetches the session descriptor identified by sessionGUID.
func (c *BackendClient) GetSession(ctx context.Context, sessionGUID string) (*Session, error) {
	var s Session
	if err := c.do(ctx, http.MethodGet, "/sessions/"+sessionGUID, nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// RegisterPlayer registers a new client for worldID in the session.
func (c *BackendClient) RegisterPlayer(ctx context.Context, sessionGUID string, worldID int) (*ClientInfo, error) {
	req := struct {
		WorldID int `json:"world_id"`
	}{WorldID: worldID}
	var info ClientInfo
	if err := c.do(ctx, http.MethodPost, "/sessions/"+sessionGUID+"/players", req, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// LoginPlayer resumes an existing client identified by clientGUID.
func (c *BackendClient) LoginPlayer(ctx context.Context, sessionGUID, clientGUID string) (*ClientInfo, error) {
	req := struct {
		ClientGUID string `json:"client_guid"`
	}{ClientGUID: clientGUID}
	var info ClientInfo
	if err := c.do(ctx, http.MethodPost, "/sessions/"+sessionGUID+"/players/login", req, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// UnregisterPlayer releases a client's registration.
func (c *BackendClient) UnregisterPlayer(ctx context.Context, clientToken string) error {
	return c.do(ctx, http.MethodDelete, "/clients/"+clientToken, nil, nil)
}

// UpdatePlayer reports state/device to the backend (used from Detecting on
// match, §4.E).
func (c *BackendClient) UpdatePlayer(ctx context.Context, clientToken string, state PlayerState, device string) error {
	req := struct {
		State  string `json:"state"`
		Device string `json:"device"`
	}{State: string(state), Device: device}
	return c.do(ctx, http.MethodPatch, "/clients/"+clientToken, req, nil)
}

// GetPatch fetches patch bytes for clientToken, serving from the in-process
// cache (and, if configured, the blob mirror) before issuing a request (§4.D,
// §4.I).
func (c *BackendClient) GetPatch(ctx context.Context, clientToken string) ([]byte, error) {
	c.patchCacheMu.Lock()
	if data, ok := c.patchCache[clientToken]; ok {
		c.patchCacheMu.Unlock()
		return data, nil
	}
	c.patchCacheMu.Unlock()

	if c.blobCache != nil {
		if data, ok, err := c.blobCache.get(ctx, clientToken); err == nil && ok {
			c.patchCacheMu.Lock()
			c.patchCache[clientToken] = data
			c.patchCacheMu.Unlock()
			return data, nil
		}
	}

	var resp struct {
		Patch []byte `json:"patch"`
	}
	if err := c.do(ctx, http.MethodGet, "/clients/"+clientToken+"/patch", nil, &resp); err != nil {
		return nil, err
	}

	c.patchCacheMu.Lock()
	c.patchCache[clientToken] = resp.Patch
	c.patchCacheMu.Unlock()

	if c.blobCache != nil {
		if err := c.blobCache.put(ctx, clientToken, resp.Patch); err != nil {
			c.log.Warn("backend: patch blob mirror write failed", "err", err.Error())
		}
	}
	return resp.Patch, nil
}

// GetEvents fetches events matching filter.
func (c *BackendClient) GetEvents(ctx context.Context, clientToken string, filter GetEventsFilter) ([]SessionEvent, error) {
	q := "/clients/" + clientToken + "/events"
	sep := "?"
	add := func(param string) {
		q += sep + param
		sep = "&"
	}
	for _, b := range []struct {
		name string
		v    int64
	}{
		{"from_event_id", filter.FromEventID},
		{"to_event_id", filter.ToEventID},
		{"from_world_id", int64(filter.FromWorldID)},
		{"to_world_id", int64(filter.ToWorldID)},
	} {
		if b.v != 0 {
			add(fmt.Sprintf("%s=%d", b.name, b.v))
		}
	}
	for _, et := range filter.EventTypes {
		add("event_type=" + et)
	}
	var resp struct {
		Events []SessionEvent `json:"events"`
	}
	if err := c.do(ctx, http.MethodGet, q, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Events, nil
}

// SendEvent submits a new event and returns the backend-assigned copy.
func (c *BackendClient) SendEvent(ctx context.Context, clientToken string, ev SessionEvent) (SessionEvent, error) {
	var out SessionEvent
	if err := c.do(ctx, http.MethodPost, "/clients/"+clientToken+"/events", ev, &out); err != nil {
		return SessionEvent{}, err
	}
	return out, nil
}

// ConfirmEvents marks event ids as durably committed to SRAM.
func (c *BackendClient) ConfirmEvents(ctx context.Context, clientToken string, ids []int64) error {
	req := struct {
		IDs []int64 `json:"ids"`
	}{IDs: ids}
	return c.do(ctx, http.MethodPost, "/clients/"+clientToken+"/events/confirm", req, nil)
}
