package mwbridge

import (
	"context"
	"errors"
	"fmt"
)

// ErrRetriable marks a tick failure the supervisor believes a subsequent
// Update call may recover from (disconnect, empty device list, ambiguous
// reconnect).
var ErrRetriable = errors.New("retriable connection failure")

// ErrUnsupportedGame is returned by Start for any (gameID, gameMode) pair
// other than ("smz3", "multiworld").
var ErrUnsupportedGame = errors.New("unsupported game/mode")

// connectionSupervisor auto-selects a Transport from a prioritized list,
// detects mid-tick disconnects, and performs bounded reconnect (§4.F).
type connectionSupervisor struct {
	candidates []Transport // priority order; physical transports before cloud relay
	metrics    Metrics
	sink       NotificationSink
	poll       *AdaptivePoll

	connected bool
	device    string
	transport Transport
}

func newConnectionSupervisor(candidates []Transport, metrics Metrics, sink NotificationSink, poll *AdaptivePoll) *connectionSupervisor {
	if sink == nil {
		sink = nopSink
	}
	return &connectionSupervisor{candidates: candidates, metrics: metrics, sink: sink, poll: poll}
}

// firstConnect tries each candidate transport in priority order, selecting
// the first whose Connect succeeds and whose ListDevices reports at least
// one device; the first listed device becomes the cached device.
func (s *connectionSupervisor) firstConnect(ctx context.Context) error {
	var lastErr error
	for _, t := range s.candidates {
		if err := t.Connect(ctx); err != nil {
			lastErr = err
			continue
		}
		devices, err := t.ListDevices(ctx)
		if err != nil {
			lastErr = err
			continue
		}
		if len(devices) == 0 {
			lastErr = NewTransportError("first-connect", fmt.Errorf("transport reported no devices"))
			continue
		}
		s.transport = t
		s.device = devices[0].Name
		s.connected = true
		s.sink(ConsoleConnected, []string{s.device})
		return nil
	}
	if lastErr == nil {
		lastErr = NewTransportError("first-connect", fmt.Errorf("no transport candidates configured"))
	}
	return lastErr
}

// ensureConnected runs the per-tick recovery in §4.F, to be called at the
// start of every Update.
func (s *connectionSupervisor) ensureConnected(ctx context.Context) error {
	if s.transport == nil {
		if err := s.firstConnect(ctx); err != nil {
			return err
		}
	}
	if s.connected {
		return nil
	}

	s.sink(ConsoleReconnecting, nil)
	s.metrics.IncrementReconnects()
	if err := s.transport.Connect(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrRetriable, err)
	}
	devices, err := s.transport.ListDevices(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRetriable, err)
	}

	switch {
	case len(devices) == 0:
		return fmt.Errorf("%w: device list empty after reconnect", ErrRetriable)
	case containsDevice(devices, s.device):
		// keep cached device
	case len(devices) == 1:
		s.device = devices[0].Name
	default:
		s.sink(ConsoleError, []string{"multiple devices present, reconnect manually"})
		return fmt.Errorf("%w: ambiguous device after reconnect", ErrRetriable)
	}

	s.connected = true
	s.sink(ConsoleConnected, []string{s.device})
	return nil
}

func containsDevice(devices []Device, name string) bool {
	for _, d := range devices {
		if d.Name == name {
			return true
		}
	}
	return false
}

// currentDevice returns the Device value the engine should operate
// against.
func (s *connectionSupervisor) currentDevice() Device {
	return Device{Name: s.device}
}

// classify inspects a tick error. If it is transport-kind, it emits
// ConsoleDisconnected, best-effort disconnects, marks the supervisor
// disconnected, and returns a retriable error; otherwise it passes err
// through unchanged.
func (s *connectionSupervisor) classify(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	var te *TransportError
	if !errors.As(err, &te) {
		return err
	}
	s.sink(ConsoleDisconnected, nil)
	if s.transport != nil {
		_ = s.transport.Disconnect(ctx)
	}
	s.connected = false
	return fmt.Errorf("%w: %v", ErrRetriable, err)
}
