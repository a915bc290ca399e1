package mwbridge

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"strconv"
)

// engineState is the three-state per-tick game loop (§4.E).
type engineState int

const (
	engineInitialized engineState = iota
	engineDetecting
	engineRunning
)

// SRAM layout offsets relative to itemsBase (§3).
const (
	offInboundReadPtr     = 0x600
	offInboundWritePtr    = 0x602
	offLastInboundEventID = 0x608
	offSyncReadPtr        = 0x680
	offOutboundWritePtr   = 0x682
	offOutboundSlotsBase  = 0x700
	outboundSlotSize      = 8
	inboundSlotSize       = 4
)

// Offsets relative to seedData (§3).
const (
	offSessionGUID = 0x10
	offWorldGUID   = 0x30
	seedDataSpan   = 0x50
)

// SMZ3Engine implements the SMZ3 multiworld per-tick reconciliation loop
// (§4.E): fingerprint detection against seed_data, then verified read/write
// exchange against the items_base ring buffers.
type SMZ3Engine struct {
	itemsBase uint32
	seedData  uint32

	backend *BackendClient
	metrics Metrics
	sink    NotificationSink

	state          engineState
	sessionGUID    string
	worldGUID      string
	worldID        int
	clientToken    string
	device         Device
	verifiedEvents []int64

	poll *AdaptivePoll
}

// NewSMZ3Engine constructs an engine bound to cfg's SRAM bases.
func NewSMZ3Engine(cfg *Config, backend *BackendClient, sink NotificationSink) *SMZ3Engine {
	if sink == nil {
		sink = nopSink
	}
	return &SMZ3Engine{
		itemsBase: cfg.itemsBase,
		seedData:  cfg.seedData,
		backend:   backend,
		metrics:   cfg.metrics,
		sink:      sink,
		state:     engineInitialized,
		poll:      NewAdaptivePoll(cfg.fastPoll, cfg.dataPoll),
	}
}

// Bind supplies the session/client identifiers needed once the engine
// leaves Initialized (called by the facade after registration/login).
func (e *SMZ3Engine) Bind(sessionGUID, worldGUID string, worldID int, clientToken string) {
	e.sessionGUID = sessionGUID
	e.worldGUID = worldGUID
	e.worldID = worldID
	e.clientToken = clientToken
}

// Tick runs one pass of the state machine against transport t for device.
func (e *SMZ3Engine) Tick(ctx context.Context, t Transport, device Device) error {
	e.device = device
	switch e.state {
	case engineInitialized:
		e.sink(GameState, []string{"Detecting game"})
		e.state = engineDetecting
		return nil
	case engineDetecting:
		return e.tickDetecting(ctx, t)
	case engineRunning:
		return e.tickRunning(ctx, t)
	default:
		return NewPreconditionError("engine in unknown state")
	}
}

func (e *SMZ3Engine) tickDetecting(ctx context.Context, t Transport) error {
	if e.sessionGUID == "" || e.clientToken == "" {
		return NewPreconditionError("engine requires a bound session and registered client before detecting")
	}

	data, err := t.ReadSingle(ctx, e.device, e.seedData, seedDataSpan)
	if err != nil {
		return err
	}
	gotSession := trimNulls(data[offSessionGUID : offSessionGUID+0x20])
	gotWorld := trimNulls(data[offWorldGUID : offWorldGUID+0x20])

	if gotSession != e.sessionGUID || gotWorld != e.worldGUID {
		return nil // remain in Detecting; next tick retries
	}

	if err := e.backend.UpdatePlayer(ctx, e.clientToken, PlayerReady, e.device.Name); err != nil {
		return err
	}
	e.sink(GameState, []string{"Multiworld session running"})
	e.state = engineRunning
	return nil
}

func trimNulls(b []byte) string {
	i := 0
	for i < len(b) && b[i] != 0 {
		i++
	}
	return string(b[:i])
}

// verifiedRead performs a double-read at address until two consecutive
// reads agree, per the engine's torn-read guard (§4.E step 1/7).
func verifiedRead(ctx context.Context, t Transport, device Device, address uint32, size int, poll *AdaptivePoll) ([]byte, error) {
	prev, err := t.ReadSingle(ctx, device, address, size)
	if err != nil {
		return nil, err
	}
	for {
		cur, err := t.ReadSingle(ctx, device, address, size)
		if err != nil {
			return nil, err
		}
		if bytesEqual(prev, cur) {
			return cur, nil
		}
		prev = cur
		if err := poll.SleepCtx(ctx); err != nil {
			return nil, err
		}
	}
}

// verifiedWrite writes data at address, then re-reads until the read
// matches, per the engine's write-then-confirm pattern (§4.E step 4/5/9).
func verifiedWrite(ctx context.Context, t Transport, device Device, address uint32, data []byte, metrics Metrics, poll *AdaptivePoll) error {
	for {
		if err := t.WriteSingle(ctx, device, address, data); err != nil {
			return err
		}
		got, err := t.ReadSingle(ctx, device, address, len(data))
		if err != nil {
			return err
		}
		if bytesEqual(got, data) {
			return nil
		}
		metrics.IncrementVerifyRetries()
		if err := poll.SleepCtx(ctx); err != nil {
			return err
		}
	}
}

// verifiedWriteMulti is the vectored analogue of verifiedWrite, used for the
// two-pointer-field write in step 5.
func verifiedWriteMulti(ctx context.Context, t Transport, device Device, addresses []uint32, data [][]byte, metrics Metrics, poll *AdaptivePoll) error {
	for {
		if err := t.WriteMulti(ctx, device, addresses, data); err != nil {
			return err
		}
		regions := make([]AddrSize, len(addresses))
		for i, a := range addresses {
			regions[i] = AddrSize{Address: a, Size: len(data[i])}
		}
		got, err := t.ReadMulti(ctx, device, regions)
		if err != nil {
			return err
		}
		ok := true
		for i := range data {
			if !bytesEqual(got[i], data[i]) {
				ok = false
				break
			}
		}
		if ok {
			return nil
		}
		metrics.IncrementVerifyRetries()
		if err := poll.SleepCtx(ctx); err != nil {
			return err
		}
	}
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (e *SMZ3Engine) tickRunning(ctx context.Context, t Transport) error {
	// Step 1: verified read of the inbound header.
	header, err := verifiedRead(ctx, t, e.device, e.itemsBase+offInboundReadPtr, 16, e.poll)
	if err != nil {
		return err
	}
	snesWritePtr := binary.LittleEndian.Uint16(header[2:4])
	snesEventID := int32(binary.LittleEndian.Uint32(header[8:12]))

	// Step 2: fetch inbound events.
	events, err := e.backend.GetEvents(ctx, e.clientToken, GetEventsFilter{
		EventTypes:  []string{EventTypeItemFound},
		FromEventID: int64(snesEventID) + 1,
		ToWorldID:   e.worldID,
	})
	if err != nil {
		return err
	}

	if len(events) > 0 {
		// Step 3: build inbound payload and target writes.
		payload := make([]byte, 0, len(events)*inboundSlotSize)
		var maxID int64
		for _, ev := range events {
			var slot [inboundSlotSize]byte
			binary.LittleEndian.PutUint16(slot[0:2], uint16(ev.FromWorldID))
			binary.LittleEndian.PutUint16(slot[2:4], uint16(ev.ItemID))
			payload = append(payload, slot[:]...)
			if ev.ID > maxID {
				maxID = ev.ID
			}
			e.sink(ItemReceived, []string{eventJSON(ev)})
		}

		payloadAddr := e.itemsBase + 4*uint32(snesWritePtr)
		newWritePtr := snesWritePtr + uint16(len(events))

		// Step 4: verified write of the payload.
		if err := verifiedWrite(ctx, t, e.device, payloadAddr, payload, e.metrics, e.poll); err != nil {
			return err
		}

		// Step 5: verified vectored write of the two pointer fields.
		var writePtrBuf [2]byte
		binary.LittleEndian.PutUint16(writePtrBuf[:], newWritePtr)
		var eventIDBuf [4]byte
		binary.LittleEndian.PutUint32(eventIDBuf[:], uint32(maxID))
		if err := verifiedWriteMulti(ctx, t, e.device,
			[]uint32{e.itemsBase + offInboundWritePtr, e.itemsBase + offLastInboundEventID},
			[][]byte{writePtrBuf[:], eventIDBuf[:]},
			e.metrics, e.poll,
		); err != nil {
			return err
		}

		// Step 6: track committed event ids.
		for _, ev := range events {
			e.verifiedEvents = append(e.verifiedEvents, ev.ID)
		}
	}

	// Step 7: verified read of the outbound header.
	outHeader, err := verifiedRead(ctx, t, e.device, e.itemsBase+offSyncReadPtr, 4, e.poll)
	if err != nil {
		return err
	}
	syncReadPtr := binary.LittleEndian.Uint16(outHeader[0:2])
	outboundWritePtr := binary.LittleEndian.Uint16(outHeader[2:4])

	if syncReadPtr < outboundWritePtr {
		messages := outboundWritePtr - syncReadPtr
		slotsAddr := e.itemsBase + offOutboundSlotsBase + uint32(syncReadPtr)*outboundSlotSize
		slots, err := t.ReadSingle(ctx, e.device, slotsAddr, int(messages)*outboundSlotSize)
		if err != nil {
			return err
		}

		for i := 0; i < int(messages); i++ {
			slot := slots[i*outboundSlotSize : (i+1)*outboundSlotSize]
			toWorldID := binary.LittleEndian.Uint16(slot[0:2])
			itemID := binary.LittleEndian.Uint16(slot[2:4])
			itemIndex := binary.LittleEndian.Uint16(slot[4:6])

			ev := SessionEvent{
				EventType:    EventTypeItemFound,
				FromWorldID:  e.worldID,
				ToWorldID:    int(toWorldID),
				ItemID:       int(itemID),
				ItemLocation: int(itemIndex),
				SequenceNum:  int(syncReadPtr) + i,
			}
			sent, err := e.backend.SendEvent(ctx, e.clientToken, ev)
			if err != nil {
				return err
			}
			e.sink(ItemFound, []string{eventJSON(sent)})
		}

		// Step 9: verified write of the advanced sync read pointer.
		var ptrBuf [2]byte
		binary.LittleEndian.PutUint16(ptrBuf[:], syncReadPtr+messages)
		if err := verifiedWrite(ctx, t, e.device, e.itemsBase+offSyncReadPtr, ptrBuf[:], e.metrics, e.poll); err != nil {
			return err
		}
	}

	// Step 10: confirm committed events, non-fatally.
	if len(e.verifiedEvents) > 0 {
		if err := e.backend.ConfirmEvents(ctx, e.clientToken, e.verifiedEvents); err != nil {
			e.sink(ConsoleError, []string{err.Error()})
		} else {
			e.sink(ItemsConfirmed, idsToStrings(e.verifiedEvents))
		}
		e.verifiedEvents = e.verifiedEvents[:0]
	}

	return nil
}

func idsToStrings(ids []int64) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = strconv.FormatInt(id, 10)
	}
	return out
}

func eventJSON(ev SessionEvent) string {
	buf, err := json.Marshal(ev)
	if err != nil {
		return ""
	}
	return string(buf)
}
