package mwbridge

import (
	"context"
	"errors"
	"testing"
)

type fakeTransport struct {
	singleViaMulti
	connectErr  error
	devices     []Device
	listErr     error
	connectCall int
	disconnects int
}

func newFakeTransport(devices []Device) *fakeTransport {
	t := &fakeTransport{devices: devices}
	t.singleViaMulti = singleViaMulti{multi: t}
	return t
}

func (f *fakeTransport) Connect(ctx context.Context) error {
	f.connectCall++
	return f.connectErr
}
func (f *fakeTransport) Disconnect(ctx context.Context) error {
	f.disconnects++
	return nil
}
func (f *fakeTransport) ListDevices(ctx context.Context) ([]Device, error) {
	return f.devices, f.listErr
}
func (f *fakeTransport) ReadMulti(ctx context.Context, device Device, regions []AddrSize) ([][]byte, error) {
	return nil, nil
}
func (f *fakeTransport) WriteMulti(ctx context.Context, device Device, addresses []uint32, data [][]byte) error {
	return nil
}

func newTestSupervisor(candidates ...Transport) *connectionSupervisor {
	return newConnectionSupervisor(candidates, NewDefaultMetrics(), nil, NewAdaptivePoll(DefaultFastPoll, DefaultDataPoll))
}

func TestSupervisorFirstConnectPicksFirstWorkingCandidate(t *testing.T) {
	failing := newFakeTransport(nil)
	failing.connectErr = errors.New("boom")
	working := newFakeTransport([]Device{{Name: "sd2snes"}})
	s := newTestSupervisor(failing, working)

	if err := s.firstConnect(context.Background()); err != nil {
		t.Fatalf("firstConnect: %v", err)
	}
	if s.transport != Transport(working) {
		t.Error("expected supervisor to select the working candidate")
	}
	if s.device != "sd2snes" {
		t.Errorf("device = %q, want sd2snes", s.device)
	}
}

func TestSupervisorFirstConnectAllFail(t *testing.T) {
	failing := newFakeTransport(nil)
	failing.connectErr = errors.New("boom")
	s := newTestSupervisor(failing)
	if err := s.firstConnect(context.Background()); err == nil {
		t.Fatal("expected error when every candidate fails")
	}
}

func TestSupervisorEnsureConnectedKeepsCachedDeviceWhenPresent(t *testing.T) {
	tr := newFakeTransport([]Device{{Name: "sd2snes"}, {Name: "snes9x"}})
	s := newTestSupervisor(tr)
	if err := s.firstConnect(context.Background()); err != nil {
		t.Fatalf("firstConnect: %v", err)
	}
	s.connected = false // simulate a dropped connection to re-enter recovery

	if err := s.ensureConnected(context.Background()); err != nil {
		t.Fatalf("ensureConnected: %v", err)
	}
	if s.device != "sd2snes" {
		t.Errorf("device = %q, want cached sd2snes kept", s.device)
	}
}

func TestSupervisorEnsureConnectedAdoptsSoleDeviceWhenCachedGone(t *testing.T) {
	tr := newFakeTransport([]Device{{Name: "sd2snes"}})
	s := newTestSupervisor(tr)
	if err := s.firstConnect(context.Background()); err != nil {
		t.Fatalf("firstConnect: %v", err)
	}
	s.connected = false
	tr.devices = []Device{{Name: "other-device"}}

	if err := s.ensureConnected(context.Background()); err != nil {
		t.Fatalf("ensureConnected: %v", err)
	}
	if s.device != "other-device" {
		t.Errorf("device = %q, want adopted other-device", s.device)
	}
}

func TestSupervisorEnsureConnectedAmbiguousWhenCachedGoneAndMultiple(t *testing.T) {
	tr := newFakeTransport([]Device{{Name: "sd2snes"}})
	s := newTestSupervisor(tr)
	if err := s.firstConnect(context.Background()); err != nil {
		t.Fatalf("firstConnect: %v", err)
	}
	s.connected = false
	tr.devices = []Device{{Name: "a"}, {Name: "b"}}

	err := s.ensureConnected(context.Background())
	if err == nil {
		t.Fatal("expected ambiguous-reconnect error")
	}
	if !errors.Is(err, ErrRetriable) {
		t.Errorf("expected ErrRetriable, got %v", err)
	}
}

func TestSupervisorEnsureConnectedEmptyDeviceListRetriable(t *testing.T) {
	tr := newFakeTransport([]Device{{Name: "sd2snes"}})
	s := newTestSupervisor(tr)
	if err := s.firstConnect(context.Background()); err != nil {
		t.Fatalf("firstConnect: %v", err)
	}
	s.connected = false
	tr.devices = nil

	err := s.ensureConnected(context.Background())
	if !errors.Is(err, ErrRetriable) {
		t.Errorf("expected ErrRetriable for empty device list, got %v", err)
	}
}

func TestSupervisorClassifyTransportErrorMarksDisconnected(t *testing.T) {
	tr := newFakeTransport([]Device{{Name: "sd2snes"}})
	s := newTestSupervisor(tr)
	if err := s.firstConnect(context.Background()); err != nil {
		t.Fatalf("firstConnect: %v", err)
	}

	err := s.classify(context.Background(), NewTransportError("read", errors.New("closed")))
	if !errors.Is(err, ErrRetriable) {
		t.Errorf("expected ErrRetriable, got %v", err)
	}
	if s.connected {
		t.Error("expected supervisor to be marked disconnected")
	}
	if tr.disconnects != 1 {
		t.Errorf("Disconnect called %d times, want 1", tr.disconnects)
	}
}

func TestSupervisorClassifyPassesThroughNonTransportError(t *testing.T) {
	s := newTestSupervisor(newFakeTransport([]Device{{Name: "x"}}))
	other := errors.New("engine precondition failed")
	if got := s.classify(context.Background(), other); got != other {
		t.Errorf("classify altered a non-transport error: %v", got)
	}
}
