package mwbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// sniReadReq/sniWriteReq mirror the (address,size)/(address,data) pairs
// MultiRead/MultiWrite carry over the wire.
type sniReadReq struct {
	Address uint32 `json:"address"`
	Size    int    `json:"size"`
}

type sniWriteReq struct {
	Address uint32 `json:"address"`
	Data    []byte `json:"data"`
}

type sniMappingDetectRequest struct {
	URI string `json:"uri"`
}

type sniMappingDetectResponse struct {
	MappingID string `json:"mapping_id"`
}

type sniListDevicesResponse struct {
	Devices []Device `json:"devices"`
}

type sniMultiReadRequest struct {
	URI   string       `json:"uri"`
	Reads []sniReadReq `json:"reads"`
}

type sniMultiReadResponse struct {
	Data [][]byte `json:"data"`
}

type sniMultiWriteRequest struct {
	URI    string        `json:"uri"`
	Writes []sniWriteReq `json:"writes"`
}

// SNITransport is a request/response Transport implementation (§4.B): one
// JSON-over-HTTP POST per logical RPC, with a per-device mapping cache.
type SNITransport struct {
	singleViaMulti

	baseURI        string
	client         *http.Client
	log            Logger
	connectTimeout time.Duration

	mappingMu sync.Mutex
	mappings  map[string]string // device URI -> mapping id
}

// NewSNITransport constructs an SNI transport against baseURI (e.g.
// "http://127.0.0.1:8190").
func NewSNITransport(baseURI string, cfg *Config) *SNITransport {
	t := &SNITransport{
		baseURI:        baseURI,
		client:         &http.Client{},
		log:            cfg.logger,
		connectTimeout: cfg.connectTimeout,
		mappings:       make(map[string]string),
	}
	t.singleViaMulti = singleViaMulti{multi: t}
	return t
}

type sniFactory struct{}

func (sniFactory) NewTransport(uri string, cfg *Config) (Transport, error) {
	return NewSNITransport(uri, cfg), nil
}

func init() {
	RegisterFactory("sni", sniFactory{})
}

func (t *SNITransport) postJSON(ctx context.Context, method string, reqBody, respBody interface{}) error {
	buf, err := json.Marshal(reqBody)
	if err != nil {
		return NewProtocolError("encode " + method + " request: " + err.Error())
	}
	url := t.baseURI + "/" + method
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return NewTransportError(method, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return NewTransportError(method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var be struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&be)
		return NewTransportError(method, fmt.Errorf("status %d: %s", resp.StatusCode, be.Message))
	}
	if respBody == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(respBody); err != nil {
		return NewProtocolError("decode " + method + " response: " + err.Error())
	}
	return nil
}

// MappingDetect resolves and caches the mapping id for a device URI (§3).
func (t *SNITransport) MappingDetect(ctx context.Context, deviceURI string) (string, error) {
	t.mappingMu.Lock()
	if id, ok := t.mappings[deviceURI]; ok {
		t.mappingMu.Unlock()
		return id, nil
	}
	t.mappingMu.Unlock()

	var resp sniMappingDetectResponse
	if err := t.postJSON(ctx, "mapping_detect", sniMappingDetectRequest{URI: deviceURI}, &resp); err != nil {
		return "", err
	}

	t.mappingMu.Lock()
	if id, ok := t.mappings[deviceURI]; ok {
		t.mappingMu.Unlock()
		return id, nil
	}
	t.mappings[deviceURI] = resp.MappingID
	t.mappingMu.Unlock()
	return resp.MappingID, nil
}

// Connect probes reachability via ListDevices (§4.A).
func (t *SNITransport) Connect(ctx context.Context) error {
	if t.connectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.connectTimeout)
		defer cancel()
	}
	_, err := t.ListDevices(ctx)
	return err
}

// Disconnect is a no-op for a stateless request/response transport.
func (t *SNITransport) Disconnect(ctx context.Context) error {
	return nil
}

// ListDevices issues the list_devices RPC.
func (t *SNITransport) ListDevices(ctx context.Context) ([]Device, error) {
	var resp sniListDevicesResponse
	if err := t.postJSON(ctx, "list_devices", struct{}{}, &resp); err != nil {
		return nil, err
	}
	return resp.Devices, nil
}

// ReadMulti resolves the device's mapping then issues multi_read.
func (t *SNITransport) ReadMulti(ctx context.Context, device Device, regions []AddrSize) ([][]byte, error) {
	if _, err := t.MappingDetect(ctx, device.URI); err != nil {
		return nil, err
	}
	reads := make([]sniReadReq, len(regions))
	for i, r := range regions {
		reads[i] = sniReadReq{Address: r.Address, Size: r.Size}
	}
	var resp sniMultiReadResponse
	if err := t.postJSON(ctx, "multi_read", sniMultiReadRequest{URI: device.URI, Reads: reads}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) != len(regions) {
		return nil, NewProtocolError(fmt.Sprintf("multi_read returned %d buffers, expected %d", len(resp.Data), len(regions)))
	}
	for i, r := range regions {
		if len(resp.Data[i]) != r.Size {
			return nil, NewProtocolError(fmt.Sprintf("multi_read buffer %d length %d, expected %d", i, len(resp.Data[i]), r.Size))
		}
	}
	return resp.Data, nil
}

// WriteMulti resolves the device's mapping then issues multi_write.
func (t *SNITransport) WriteMulti(ctx context.Context, device Device, addresses []uint32, data [][]byte) error {
	if len(addresses) != len(data) {
		return NewProtocolError("addresses/data length mismatch")
	}
	if _, err := t.MappingDetect(ctx, device.URI); err != nil {
		return err
	}
	writes := make([]sniWriteReq, len(addresses))
	for i, a := range addresses {
		writes[i] = sniWriteReq{Address: a, Data: data[i]}
	}
	return t.postJSON(ctx, "multi_write", sniMultiWriteRequest{URI: device.URI, Writes: writes}, nil)
}
