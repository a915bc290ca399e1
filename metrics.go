package mwbridge

import (
	"context"
	"sync/atomic"
)

// Metrics tracks read/write/retry/reconnect activity across transports and
// the engine. Callers call Increment* and collectors read via Get*.
type Metrics interface {
	IncrementReadOps()
	IncrementWriteOps()
	IncrementVerifyRetries()
	IncrementReconnects()
	IncrementBytesSent(n int64)
	IncrementBytesReceived(n int64)

	GetReadOps() int64
	GetWriteOps() int64
	GetVerifyRetries() int64
	GetReconnects() int64
	GetBytesSent() int64
	GetBytesReceived() int64
}

// DefaultMetrics implements Metrics with atomic counters.
type DefaultMetrics struct {
	readOps        int64
	writeOps       int64
	verifyRetries  int64
	reconnects     int64
	bytesSent      int64
	bytesReceived  int64
}

// NewDefaultMetrics creates a new DefaultMetrics instance.
func NewDefaultMetrics() *DefaultMetrics { return &DefaultMetrics{} }

func (m *DefaultMetrics) IncrementReadOps()             { atomic.AddInt64(&m.readOps, 1) }
func (m *DefaultMetrics) IncrementWriteOps()            { atomic.AddInt64(&m.writeOps, 1) }
func (m *DefaultMetrics) IncrementVerifyRetries()       { atomic.AddInt64(&m.verifyRetries, 1) }
func (m *DefaultMetrics) IncrementReconnects()          { atomic.AddInt64(&m.reconnects, 1) }
func (m *DefaultMetrics) IncrementBytesSent(n int64)    { atomic.AddInt64(&m.bytesSent, n) }
func (m *DefaultMetrics) IncrementBytesReceived(n int64) { atomic.AddInt64(&m.bytesReceived, n) }

func (m *DefaultMetrics) GetReadOps() int64       { return atomic.LoadInt64(&m.readOps) }
func (m *DefaultMetrics) GetWriteOps() int64      { return atomic.LoadInt64(&m.writeOps) }
func (m *DefaultMetrics) GetVerifyRetries() int64 { return atomic.LoadInt64(&m.verifyRetries) }
func (m *DefaultMetrics) GetReconnects() int64    { return atomic.LoadInt64(&m.reconnects) }
func (m *DefaultMetrics) GetBytesSent() int64     { return atomic.LoadInt64(&m.bytesSent) }
func (m *DefaultMetrics) GetBytesReceived() int64 { return atomic.LoadInt64(&m.bytesReceived) }

// metricsTransport wraps a Transport, recording read/write op and byte
// counts on every successful read or write call without altering behavior
// or errors. Failed calls are not counted.
type metricsTransport struct {
	Transport
	m Metrics
}

func newMetricsTransport(t Transport, m Metrics) Transport {
	return &metricsTransport{Transport: t, m: m}
}

func (t *metricsTransport) ReadSingle(ctx context.Context, device Device, address uint32, size int) ([]byte, error) {
	data, err := t.Transport.ReadSingle(ctx, device, address, size)
	if err == nil {
		t.m.IncrementReadOps()
		t.m.IncrementBytesReceived(int64(len(data)))
	}
	return data, err
}

func (t *metricsTransport) ReadMulti(ctx context.Context, device Device, regions []AddrSize) ([][]byte, error) {
	bufs, err := t.Transport.ReadMulti(ctx, device, regions)
	if err == nil {
		t.m.IncrementReadOps()
		for _, b := range bufs {
			t.m.IncrementBytesReceived(int64(len(b)))
		}
	}
	return bufs, err
}

func (t *metricsTransport) WriteSingle(ctx context.Context, device Device, address uint32, data []byte) error {
	err := t.Transport.WriteSingle(ctx, device, address, data)
	if err == nil {
		t.m.IncrementWriteOps()
		t.m.IncrementBytesSent(int64(len(data)))
	}
	return err
}

func (t *metricsTransport) WriteMulti(ctx context.Context, device Device, addresses []uint32, data [][]byte) error {
	err := t.Transport.WriteMulti(ctx, device, addresses, data)
	if err == nil {
		t.m.IncrementWriteOps()
		for _, b := range data {
			t.m.IncrementBytesSent(int64(len(b)))
		}
	}
	return err
}
