package mwbridge

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue/queueerror"
	"github.com/google/uuid"
)

// cloudRelayRequest/cloudRelayResponse are the JSON envelopes exchanged over
// the two relay queues, addressed by (address,size) pairs rather than opaque
// payload bytes (§4.H).
type cloudRelayRequest struct {
	ID      string     `json:"id"`
	Op      string     `json:"op"` // "read" or "write"
	Regions []AddrSize `json:"regions"`
	Data    [][]byte   `json:"data,omitempty"` // for write
}

type cloudRelayResponse struct {
	ID      string   `json:"id"`
	Data    [][]byte `json:"data,omitempty"`
	Err     string   `json:"err,omitempty"`
}

// CloudRelayTransport implements Transport over two Azure Storage Queues
// (one inbound, one outbound), intended purely for headless CI/integration
// runs exercising the supervisor→engine→transport path without a physical
// console (§4.H): a request/response queue pair with correlation ids.
type CloudRelayTransport struct {
	singleViaMulti

	client         *azqueue.ServiceClient
	prefix         string
	outQueue       *azqueue.QueueClient // this client enqueues requests here
	inQueue        *azqueue.QueueClient // this client dequeues responses here
	pollEvery      time.Duration
	pollWindow     time.Duration
	connectTimeout time.Duration
}

// NewCloudRelayTransport constructs a relay transport against the queue
// service at serviceURL, authenticated with account/key, with queue names
// namespaced by prefix.
func NewCloudRelayTransport(serviceURL, account, key, prefix string, connectTimeout time.Duration) (*CloudRelayTransport, error) {
	cred, err := azqueue.NewSharedKeyCredential(account, key)
	if err != nil {
		return nil, fmt.Errorf("cloud relay credential: %w", err)
	}
	client, err := azqueue.NewServiceClientWithSharedKeyCredential(serviceURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("cloud relay client: %w", err)
	}

	outName, inName := prefix+"-requests", prefix+"-responses"
	ctx := context.Background()
	for _, name := range []string{outName, inName} {
		if _, err := client.CreateQueue(ctx, name, nil); err != nil && !queueerror.HasCode(err, queueerror.QueueAlreadyExists) {
			return nil, fmt.Errorf("cloud relay create queue %s: %w", name, err)
		}
	}

	t := &CloudRelayTransport{
		client:         client,
		prefix:         prefix,
		outQueue:       client.NewQueueClient(outName),
		inQueue:        client.NewQueueClient(inName),
		pollEvery:      200 * time.Millisecond,
		pollWindow:     10 * time.Second,
		connectTimeout: connectTimeout,
	}
	t.singleViaMulti = singleViaMulti{multi: t}
	return t, nil
}

type cloudRelayFactory struct{}

func (cloudRelayFactory) NewTransport(uri string, cfg *Config) (Transport, error) {
	if cfg.cloudRelay == nil {
		return nil, NewPreconditionError("azqueue:// transport requires WithCloudRelay")
	}
	return NewCloudRelayTransport(uri, cfg.cloudRelay.account, cfg.cloudRelay.key, cfg.cloudRelay.prefix, cfg.connectTimeout)
}

func init() {
	RegisterFactory("azqueue", cloudRelayFactory{})
}

// Connect probes reachability via ListDevices.
func (t *CloudRelayTransport) Connect(ctx context.Context) error {
	if t.connectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.connectTimeout)
		defer cancel()
	}
	_, err := t.ListDevices(ctx)
	return err
}

// Disconnect is a no-op; the queues are not owned exclusively by this
// client.
func (t *CloudRelayTransport) Disconnect(ctx context.Context) error { return nil }

// ListDevices returns a single synthetic device whose name and URI encode
// the relay's queue prefix (the account is not part of either).
func (t *CloudRelayTransport) ListDevices(ctx context.Context) ([]Device, error) {
	return []Device{{
		Name: "cloud-relay:" + t.prefix,
		URI:  "azqueue://" + t.prefix,
		Info: []string{"synthetic headless relay device"},
	}}, nil
}

func (t *CloudRelayTransport) roundTrip(ctx context.Context, req cloudRelayRequest) (cloudRelayResponse, error) {
	buf, err := json.Marshal(req)
	if err != nil {
		return cloudRelayResponse{}, NewProtocolError("encode cloud relay request: " + err.Error())
	}
	if _, err := t.outQueue.EnqueueMessage(ctx, base64.StdEncoding.EncodeToString(buf), nil); err != nil {
		return cloudRelayResponse{}, NewTransportError("cloud-relay-send", err)
	}

	deadline := time.Now().Add(t.pollWindow)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return cloudRelayResponse{}, ctx.Err()
		default:
		}

		resp, err := t.inQueue.DequeueMessages(ctx, &azqueue.DequeueMessagesOptions{NumberOfMessages: to.Ptr[int32](32)})
		if err != nil {
			return cloudRelayResponse{}, NewTransportError("cloud-relay-recv", err)
		}
		for _, msg := range resp.Messages {
			if msg.MessageText == nil {
				continue
			}
			raw, err := base64.StdEncoding.DecodeString(*msg.MessageText)
			if err != nil {
				continue
			}
			var out cloudRelayResponse
			if err := json.Unmarshal(raw, &out); err != nil {
				continue
			}
			_, _ = t.inQueue.DeleteMessage(ctx, *msg.MessageID, *msg.PopReceipt, nil)
			if out.ID != req.ID {
				continue // not ours; leave it deleted, a genuine relay tags every response
			}
			if out.Err != "" {
				return cloudRelayResponse{}, NewTransportError("cloud-relay", fmt.Errorf("%s", out.Err))
			}
			return out, nil
		}

		wait := time.NewTimer(t.pollEvery)
		select {
		case <-ctx.Done():
			wait.Stop()
			return cloudRelayResponse{}, ctx.Err()
		case <-wait.C:
		}
	}
	return cloudRelayResponse{}, NewTransportError("cloud-relay", fmt.Errorf("timed out waiting for relay response"))
}

// ReadMulti sends a read request for regions and awaits the matching
// response.
func (t *CloudRelayTransport) ReadMulti(ctx context.Context, device Device, regions []AddrSize) ([][]byte, error) {
	req := cloudRelayRequest{ID: uuid.NewString(), Op: "read", Regions: regions}
	resp, err := t.roundTrip(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(resp.Data) != len(regions) {
		return nil, NewProtocolError(fmt.Sprintf("cloud relay read returned %d buffers, expected %d", len(resp.Data), len(regions)))
	}
	return resp.Data, nil
}

// WriteMulti sends a write request for addresses/data and awaits
// acknowledgement.
func (t *CloudRelayTransport) WriteMulti(ctx context.Context, device Device, addresses []uint32, data [][]byte) error {
	if len(addresses) != len(data) {
		return NewProtocolError("addresses/data length mismatch")
	}
	regions := make([]AddrSize, len(addresses))
	for i, a := range addresses {
		regions[i] = AddrSize{Address: a, Size: len(data[i])}
	}
	req := cloudRelayRequest{ID: uuid.NewString(), Op: "write", Regions: regions, Data: data}
	_, err := t.roundTrip(ctx, req)
	return err
}
