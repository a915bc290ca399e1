package mwbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
)

// usb2snesState is the three-state connection lifecycle of §4.C.
type usb2snesState int

const (
	stateDisconnected usb2snesState = iota
	stateConnected
	stateAttached
)

func (s usb2snesState) String() string {
	switch s {
	case stateDisconnected:
		return "Disconnected"
	case stateConnected:
		return "Connected"
	case stateAttached:
		return "Attached"
	default:
		return "Unknown"
	}
}

// wsConn is the subset of *websocket.Conn this transport depends on, so
// tests can substitute a fake stream without opening a real socket.
type wsConn interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
}

// dialWebSocket opens a client WebSocket connection to uri. Overridable in
// tests.
var dialWebSocket = func(ctx context.Context, uri string) (wsConn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, uri, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// USB2SNESTransport implements Transport as the stateful framed protocol of
// §4.C: a tagged state machine wrapping a bidirectional WebSocket stream,
// with vectored Get/Put packing and a post-write liveness probe.
type USB2SNESTransport struct {
	singleViaMulti

	uri string
	cfg *Config
	log Logger

	mu       sync.Mutex // guards stream+state+attached for one req/resp exchange
	state    usb2snesState
	stream   wsConn
	attached string
}

// NewUSB2SNESTransport constructs a transport bound to uri (not yet
// connected).
func NewUSB2SNESTransport(uri string, cfg *Config) *USB2SNESTransport {
	t := &USB2SNESTransport{uri: uri, cfg: cfg, log: cfg.logger, state: stateDisconnected}
	t.singleViaMulti = singleViaMulti{multi: t}
	return t
}

type usb2snesFactory struct{}

func (usb2snesFactory) NewTransport(uri string, cfg *Config) (Transport, error) {
	return NewUSB2SNESTransport(uri, cfg), nil
}

func init() {
	RegisterFactory("usb2snes", usb2snesFactory{})
}

// Connect opens the WebSocket stream. Invariant (i): the stream exists iff
// state != Disconnected.
func (t *USB2SNESTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connectLocked(ctx)
}

func (t *USB2SNESTransport) connectLocked(ctx context.Context) error {
	if t.state != stateDisconnected {
		return nil
	}
	if t.cfg.connectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.cfg.connectTimeout)
		defer cancel()
	}
	conn, err := dialWebSocket(ctx, t.uri)
	if err != nil {
		return NewTransportError("connect", err)
	}
	t.stream = conn
	t.state = stateConnected
	t.attached = ""
	t.log.Debug("usb2snes: connected", "uri", t.uri)
	return nil
}

// Disconnect closes the stream. Idempotent.
func (t *USB2SNESTransport) Disconnect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.disconnectLocked()
}

func (t *USB2SNESTransport) disconnectLocked() error {
	if t.state == stateDisconnected {
		return nil
	}
	if t.stream != nil {
		_ = t.stream.Close()
	}
	t.stream = nil
	t.state = stateDisconnected
	t.attached = ""
	return nil
}

// attachLocked sends an Attach request and transitions to Attached. It does
// not pass through updateConnectionStateLocked (attach never recurses).
func (t *USB2SNESTransport) attachLocked(ctx context.Context, device string) error {
	req := usb2snesRequest{Opcode: opcodeAttach, Space: spaceSNES, Operands: []string{device}}
	if err := t.sendLocked(req); err != nil {
		return err
	}
	t.state = stateAttached
	t.attached = device
	t.log.Debug("usb2snes: attached", "device", device)
	return nil
}

// updateConnectionStateLocked is the pre-check invoked before every command
// (§4.C). device is nil when the caller doesn't need a specific device
// attached (e.g. DeviceList).
func (t *USB2SNESTransport) updateConnectionStateLocked(ctx context.Context, device *string) error {
	// Pre-check: verify stream readiness; force Disconnected if not Open.
	if t.state != stateDisconnected && t.stream == nil {
		t.state = stateDisconnected
	}

	switch t.state {
	case stateDisconnected:
		if err := t.connectLocked(ctx); err != nil {
			return err
		}
		if device != nil {
			return t.attachLocked(ctx, *device)
		}
		return nil
	case stateConnected:
		if device != nil {
			return t.attachLocked(ctx, *device)
		}
		return nil
	case stateAttached:
		if device != nil && *device != t.attached {
			return t.attachLocked(ctx, *device)
		}
		return nil
	default:
		return NewProtocolError(fmt.Sprintf("unknown state %v", t.state))
	}
}

// sendLocked writes a single JSON control request. Caller holds t.mu.
func (t *USB2SNESTransport) sendLocked(req usb2snesRequest) error {
	if t.stream == nil {
		t.state = stateDisconnected
		return NewTransportError("send", fmt.Errorf("no open stream"))
	}
	buf, err := json.Marshal(req)
	if err != nil {
		return NewProtocolError("encode request: " + err.Error())
	}
	if err := t.stream.WriteMessage(websocket.TextMessage, buf); err != nil {
		t.state = stateDisconnected
		t.stream = nil
		return NewTransportError("send", err)
	}
	return nil
}

// sendBinaryLocked writes a raw binary frame immediately following a text
// request, for PutAddress.
func (t *USB2SNESTransport) sendBinaryLocked(payload []byte) error {
	if t.stream == nil {
		t.state = stateDisconnected
		return NewTransportError("send-binary", fmt.Errorf("no open stream"))
	}
	if err := t.stream.WriteMessage(websocket.BinaryMessage, payload); err != nil {
		t.state = stateDisconnected
		t.stream = nil
		return NewTransportError("send-binary", err)
	}
	return nil
}

// recvTextLocked reads one text frame and decodes it as a usb2snesResponse.
func (t *USB2SNESTransport) recvTextLocked() (usb2snesResponse, error) {
	var resp usb2snesResponse
	if t.stream == nil {
		t.state = stateDisconnected
		return resp, NewTransportError("recv", fmt.Errorf("no open stream"))
	}
	mt, data, err := t.stream.ReadMessage()
	if err != nil {
		t.state = stateDisconnected
		t.stream = nil
		return resp, NewTransportError("recv", err)
	}
	if mt != websocket.TextMessage {
		return resp, NewProtocolError("expected text frame, got binary")
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return resp, NewProtocolError("decode response: " + err.Error())
	}
	return resp, nil
}

// recvBinaryLocked reads binary frames until total bytes equals size,
// erroring if a text frame arrives instead.
func (t *USB2SNESTransport) recvBinaryLocked(size int) ([]byte, error) {
	if t.stream == nil {
		t.state = stateDisconnected
		return nil, NewTransportError("recv-binary", fmt.Errorf("no open stream"))
	}
	out := make([]byte, 0, size)
	for len(out) < size {
		mt, data, err := t.stream.ReadMessage()
		if err != nil {
			t.state = stateDisconnected
			t.stream = nil
			return nil, NewTransportError("recv-binary", err)
		}
		if mt != websocket.BinaryMessage {
			return nil, NewProtocolError("expected binary frame, got text")
		}
		out = append(out, data...)
	}
	if len(out) != size {
		return nil, NewProtocolError(fmt.Sprintf("binary response overran: got %d, want %d", len(out), size))
	}
	return out, nil
}

// ListDevices issues DeviceList.
func (t *USB2SNESTransport) ListDevices(ctx context.Context) ([]Device, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.updateConnectionStateLocked(ctx, nil); err != nil {
		return nil, err
	}
	if err := t.sendLocked(usb2snesRequest{Opcode: opcodeDeviceList, Space: spaceSNES}); err != nil {
		return nil, err
	}
	resp, err := t.recvTextLocked()
	if err != nil {
		return nil, err
	}
	devices := make([]Device, 0, len(resp.Results))
	for _, uri := range resp.Results {
		devices = append(devices, Device{Name: uri, URI: uri})
	}
	return devices, nil
}

// ReadMulti performs a vectored or split read per the packing rules (§4.C).
func (t *USB2SNESTransport) ReadMulti(ctx context.Context, device Device, regions []AddrSize) ([][]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	name := device.Name
	if err := t.updateConnectionStateLocked(ctx, &name); err != nil {
		return nil, err
	}

	total := 0
	for _, r := range regions {
		total += r.Size
	}

	if canVector(len(regions), total, maxVectoredReadPairs) {
		if err := t.sendLocked(newGetAddressRequest(regions)); err != nil {
			return nil, err
		}
		data, err := t.recvBinaryLocked(total)
		if err != nil {
			return nil, err
		}
		return splitBinaryBuffers(data, regions)
	}

	bufs := make([][]byte, len(regions))
	for i, r := range regions {
		if err := t.sendLocked(newGetAddressRequest([]AddrSize{r})); err != nil {
			return nil, err
		}
		data, err := t.recvBinaryLocked(r.Size)
		if err != nil {
			return nil, err
		}
		bufs[i] = data
	}
	return bufs, nil
}

// WriteMulti performs a vectored or split write per the packing rules
// (§4.C), followed by the write-liveness AppVersion probe.
func (t *USB2SNESTransport) WriteMulti(ctx context.Context, device Device, addresses []uint32, data [][]byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	name := device.Name
	if err := t.updateConnectionStateLocked(ctx, &name); err != nil {
		return err
	}
	if len(addresses) != len(data) {
		return NewProtocolError("addresses/data length mismatch")
	}

	regions := make([]AddrSize, len(addresses))
	total := 0
	for i, a := range addresses {
		regions[i] = AddrSize{Address: a, Size: len(data[i])}
		total += len(data[i])
	}

	if canVector(len(regions), total, maxVectoredWritePairs) {
		if err := t.sendLocked(newPutAddressRequest(regions)); err != nil {
			return err
		}
		payload := make([]byte, 0, total)
		for _, d := range data {
			payload = append(payload, d...)
		}
		if err := t.sendBinaryLocked(payload); err != nil {
			return err
		}
	} else {
		for i, r := range regions {
			if err := t.sendLocked(newPutAddressRequest([]AddrSize{r})); err != nil {
				return err
			}
			if err := t.sendBinaryLocked(data[i]); err != nil {
				return err
			}
		}
	}

	return t.writeLivenessProbeLocked()
}

// writeLivenessProbeLocked issues AppVersion after a write batch so a broken
// stream surfaces a read error that would otherwise be invisible for
// write-only traffic (§4.C, §9).
func (t *USB2SNESTransport) writeLivenessProbeLocked() error {
	if err := t.sendLocked(usb2snesRequest{Opcode: opcodeAppVersion, Space: spaceSNES}); err != nil {
		return err
	}
	_, err := t.recvTextLocked()
	return err
}

// Info issues the Info opcode (requires Attached).
func (t *USB2SNESTransport) Info(ctx context.Context, device Device) ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	name := device.Name
	if err := t.updateConnectionStateLocked(ctx, &name); err != nil {
		return nil, err
	}
	if err := t.sendLocked(usb2snesRequest{Opcode: opcodeInfo, Space: spaceSNES}); err != nil {
		return nil, err
	}
	resp, err := t.recvTextLocked()
	if err != nil {
		return nil, err
	}
	return resp.Results, nil
}
