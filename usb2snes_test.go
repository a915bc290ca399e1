package mwbridge

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/gorilla/websocket"
)

// fakeWSConn is a scripted wsConn: WriteMessage records frames, ReadMessage
// replays a pre-loaded queue of (type, payload) responses in order.
type fakeWSConn struct {
	written []fakeFrame
	replies []fakeFrame
	closed  bool
}

type fakeFrame struct {
	mt   int
	data []byte
}

func (f *fakeWSConn) WriteMessage(mt int, data []byte) error {
	f.written = append(f.written, fakeFrame{mt, append([]byte(nil), data...)})
	return nil
}

func (f *fakeWSConn) ReadMessage() (int, []byte, error) {
	if len(f.replies) == 0 {
		return 0, nil, errors.New("fakeWSConn: no more scripted replies")
	}
	r := f.replies[0]
	f.replies = f.replies[1:]
	return r.mt, r.data, nil
}

func (f *fakeWSConn) Close() error {
	f.closed = true
	return nil
}

func textReply(t *testing.T, results ...string) fakeFrame {
	t.Helper()
	buf, err := json.Marshal(usb2snesResponse{Results: results})
	if err != nil {
		t.Fatalf("marshal reply: %v", err)
	}
	return fakeFrame{websocket.TextMessage, buf}
}

func binaryReply(data []byte) fakeFrame {
	return fakeFrame{websocket.BinaryMessage, data}
}

func newTestUSB2SNES(t *testing.T, stream *fakeWSConn) *USB2SNESTransport {
	t.Helper()
	cfg := defaultConfig()
	tr := NewUSB2SNESTransport("ws://test/", cfg)
	orig := dialWebSocket
	dialWebSocket = func(ctx context.Context, uri string) (wsConn, error) {
		return stream, nil
	}
	t.Cleanup(func() { dialWebSocket = orig })
	return tr
}

func TestUSB2SNESConnectTransitionsToConnected(t *testing.T) {
	stream := &fakeWSConn{}
	tr := newTestUSB2SNES(t, stream)
	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if tr.state != stateConnected {
		t.Errorf("state = %v, want Connected", tr.state)
	}
}

func TestUSB2SNESListDevicesDoesNotAttach(t *testing.T) {
	stream := &fakeWSConn{replies: []fakeFrame{textReply(t, "device1")}}
	tr := newTestUSB2SNES(t, stream)
	devices, err := tr.ListDevices(context.Background())
	if err != nil {
		t.Fatalf("ListDevices: %v", err)
	}
	if len(devices) != 1 || devices[0].Name != "device1" {
		t.Errorf("ListDevices = %v, want one device named device1", devices)
	}
	if tr.state != stateConnected {
		t.Errorf("state = %v, want Connected (ListDevices must not attach)", tr.state)
	}
}

func TestUSB2SNESAttachesOnFirstDeviceScopedCall(t *testing.T) {
	// Attach itself awaits no reply (sendLocked-only); Info is what reads the
	// one queued text frame below.
	stream := &fakeWSConn{replies: []fakeFrame{textReply(t, "1.0.0")}}
	tr := newTestUSB2SNES(t, stream)
	if _, err := tr.Info(context.Background(), Device{Name: "device1"}); err != nil {
		t.Fatalf("Info: %v", err)
	}
	if tr.state != stateAttached {
		t.Errorf("state = %v, want Attached", tr.state)
	}
	if tr.attached != "device1" {
		t.Errorf("attached = %q, want device1", tr.attached)
	}
}

func TestUSB2SNESReattachesOnDeviceSwitch(t *testing.T) {
	stream := &fakeWSConn{replies: []fakeFrame{
		textReply(t, "1.0.0"), // Info for device1 (attaches device1)
		textReply(t, "1.0.0"), // Info for device2 (re-attaches device2)
	}}
	tr := newTestUSB2SNES(t, stream)
	if _, err := tr.Info(context.Background(), Device{Name: "device1"}); err != nil {
		t.Fatalf("Info device1: %v", err)
	}
	if _, err := tr.Info(context.Background(), Device{Name: "device2"}); err != nil {
		t.Fatalf("Info device2: %v", err)
	}
	if tr.attached != "device2" {
		t.Errorf("attached = %q, want device2", tr.attached)
	}
	// Attach + Attach + Info + Info = 4 text frames written.
	if len(stream.written) != 4 {
		t.Errorf("wrote %d frames, want 4 (attach, info, attach, info)", len(stream.written))
	}
}

func TestUSB2SNESReadMultiVectorsWithinLimit(t *testing.T) {
	// Attach awaits no reply; the single queued frame answers GetAddress.
	stream := &fakeWSConn{replies: []fakeFrame{
		binaryReply([]byte{0xAA, 0xBB, 0x01, 0x02, 0x03}),
	}}
	tr := newTestUSB2SNES(t, stream)
	regions := []AddrSize{{Address: 1, Size: 2}, {Address: 2, Size: 3}}
	bufs, err := tr.ReadMulti(context.Background(), Device{Name: "device1"}, regions)
	if err != nil {
		t.Fatalf("ReadMulti: %v", err)
	}
	if len(bufs) != 2 || len(bufs[0]) != 2 || len(bufs[1]) != 3 {
		t.Errorf("ReadMulti = %v, want 2 buffers of length 2 and 3", bufs)
	}
}

func TestUSB2SNESReadMultiSplitsBelowMinimumPairs(t *testing.T) {
	stream := &fakeWSConn{replies: []fakeFrame{
		binaryReply([]byte{0xAA, 0xBB}),
	}}
	tr := newTestUSB2SNES(t, stream)
	regions := []AddrSize{{Address: 1, Size: 2}}
	bufs, err := tr.ReadMulti(context.Background(), Device{Name: "device1"}, regions)
	if err != nil {
		t.Fatalf("ReadMulti: %v", err)
	}
	if len(bufs) != 1 || len(bufs[0]) != 2 {
		t.Errorf("ReadMulti = %v, want one 2-byte buffer", bufs)
	}
}

func TestUSB2SNESWriteMultiIssuesLivenessProbe(t *testing.T) {
	stream := &fakeWSConn{replies: []fakeFrame{
		textReply(t, "1.0.0"), // AppVersion liveness probe response
	}}
	tr := newTestUSB2SNES(t, stream)
	addrs := []uint32{1, 2}
	data := [][]byte{{0xAA, 0xBB}, {0x01, 0x02, 0x03}}
	if err := tr.WriteMulti(context.Background(), Device{Name: "device1"}, addrs, data); err != nil {
		t.Fatalf("WriteMulti: %v", err)
	}
	// Attach text + PutAddress text + binary payload + AppVersion text = 4 frames.
	if len(stream.written) != 4 {
		t.Errorf("wrote %d frames, want 4", len(stream.written))
	}
	last := stream.written[len(stream.written)-1]
	var req usb2snesRequest
	if err := json.Unmarshal(last.data, &req); err != nil {
		t.Fatalf("decode last frame: %v", err)
	}
	if req.Opcode != opcodeAppVersion {
		t.Errorf("last frame opcode = %q, want AppVersion", req.Opcode)
	}
}

func TestUSB2SNESStreamErrorForcesDisconnected(t *testing.T) {
	stream := &fakeWSConn{} // no replies queued -> ReadMessage errors immediately
	tr := newTestUSB2SNES(t, stream)
	tr.state = stateAttached
	tr.stream = stream
	tr.attached = "device1"
	_, err := tr.recvTextLocked()
	if err == nil {
		t.Fatal("expected error from exhausted fake stream")
	}
	if tr.state != stateDisconnected {
		t.Errorf("state = %v, want Disconnected after stream error", tr.state)
	}
}
