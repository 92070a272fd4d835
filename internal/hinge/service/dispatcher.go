package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/hingelabs/hinge/server/internal/hinge/store"
	"github.com/hingelabs/hinge/server/internal/hinge/types"
	"github.com/hingelabs/hinge/server/internal/metrics"
	"github.com/hingelabs/hinge/server/internal/transport"
)

type DispatcherConfig struct {
	// AckTimeout is how long each publish attempt waits for the device's
	// ack before retrying.
	AckTimeout time.Duration

	// ExecTimeout is how long an acked command may run before the ticket
	// times out. Defaults to 3x AckTimeout.
	ExecTimeout time.Duration

	// PublishTimeout bounds each broker publish. This is backpressure
	// protection, separate from AckTimeout.
	PublishTimeout time.Duration

	// MaxAttempts is the total number of publish attempts (default 3).
	MaxAttempts int

	// RetryBackoff is the initial delay before a re-publish, doubled on
	// each subsequent retry (default 500ms).
	RetryBackoff time.Duration
}

func (c *DispatcherConfig) applyDefaults() {
	if c.AckTimeout <= 0 {
		c.AckTimeout = 10 * time.Second
	}
	if c.ExecTimeout <= 0 {
		c.ExecTimeout = 3 * c.AckTimeout
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = 2 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 500 * time.Millisecond
	}
}

// Dispatcher issues commands to devices and tracks ticket lifecycles.
// Per-device ordering is enforced by a keyed mutex: submission, ack
// processing, result processing, timeout firing and cancellation for the
// same device never interleave, while different devices proceed fully in
// parallel.
type Dispatcher struct {
	tickets  store.TicketStore
	devices  store.DeviceStore
	presence *StateService
	bus      transport.Transport
	audit    *AuditLog
	logger   *log.Logger
	cfg      DispatcherConfig

	mu       sync.Mutex
	devLocks map[string]*sync.Mutex
	inflight map[string]*ticketWatch
	wg       sync.WaitGroup
	stopped  bool
}

// ticketWatch carries the signals between telemetry handlers and the
// per-ticket timeout goroutine.
type ticketWatch struct {
	ackOnce  sync.Once
	doneOnce sync.Once
	acked    chan struct{}
	done     chan struct{}
}

func newTicketWatch() *ticketWatch {
	return &ticketWatch{acked: make(chan struct{}), done: make(chan struct{})}
}

func (w *ticketWatch) signalAck()  { w.ackOnce.Do(func() { close(w.acked) }) }
func (w *ticketWatch) signalDone() { w.doneOnce.Do(func() { close(w.done) }) }

func NewDispatcher(
	tickets store.TicketStore,
	devices store.DeviceStore,
	presence *StateService,
	bus transport.Transport,
	audit *AuditLog,
	logger *log.Logger,
	cfg DispatcherConfig,
) *Dispatcher {
	cfg.applyDefaults()
	return &Dispatcher{
		tickets:  tickets,
		devices:  devices,
		presence: presence,
		bus:      bus,
		audit:    audit,
		logger:   logger,
		cfg:      cfg,
		devLocks: make(map[string]*sync.Mutex),
		inflight: make(map[string]*ticketWatch),
	}
}

// Submit issues a command to a device. Idempotent on ticketID: a replay,
// terminal or not, returns the stored ticket unchanged and publishes
// nothing.
func (d *Dispatcher) Submit(ctx context.Context, ticketID, deviceID string, cmd types.CommandType, args json.RawMessage) (types.CommandTicket, error) {
	if ticketID == "" {
		return types.CommandTicket{}, fmt.Errorf("%w: empty ticket_id", ErrInvalidCommand)
	}
	if !cmd.IsValid() {
		return types.CommandTicket{}, fmt.Errorf("%w: %q", ErrInvalidCommand, cmd)
	}
	if d.audit.Halted() {
		return types.CommandTicket{}, ErrChainCorrupt
	}

	if t, err := d.tickets.Get(ctx, ticketID); err == nil {
		return t, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return types.CommandTicket{}, err
	}

	if _, err := d.devices.Get(ctx, deviceID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.CommandTicket{}, ErrDeviceUnknown
		}
		return types.CommandTicket{}, err
	}

	lock := d.deviceLock(deviceID)
	lock.Lock()
	defer lock.Unlock()

	now := time.Now().UTC()
	t := types.CommandTicket{
		TicketID:    ticketID,
		DeviceID:    deviceID,
		CommandType: cmd,
		Args:        args,
		IssuedAt:    now,
		Status:      types.TicketIssued,
	}

	err := d.tickets.Insert(ctx, t)
	switch {
	case errors.Is(err, store.ErrDuplicate):
		// Replay raced in between the check above and the insert.
		return d.tickets.Get(ctx, ticketID)
	case errors.Is(err, store.ErrDeviceBusy):
		d.audit.note(ctx, "dispatcher", "command.device_busy", "device:"+deviceID,
			"severity=warning ticket="+ticketID+" rejected: command already in flight")
		return types.CommandTicket{}, ErrDeviceBusy
	case err != nil:
		return types.CommandTicket{}, err
	}
	metrics.CommandsSubmittedTotal.Inc()

	if _, err := d.audit.Append(ctx, "dispatcher", "command.submitted", "ticket:"+ticketID,
		"device="+deviceID+" command="+string(cmd)); err != nil {
		return types.CommandTicket{}, err
	}

	online, err := d.presence.IsOnline(ctx, deviceID)
	if err != nil {
		return types.CommandTicket{}, err
	}
	if !online {
		// No point waiting out the full retry schedule on a device that
		// has not been heard from inside the heartbeat window.
		if err := d.tickets.Transition(ctx, ticketID, types.TicketIssued, types.TicketTimedOut, "device_offline", now); err != nil {
			return types.CommandTicket{}, err
		}
		metrics.CommandTimeoutsTotal.Inc()
		t.Status = types.TicketTimedOut
		t.FailReason = "device_offline"
		return t, ErrDeviceOffline
	}

	payload, err := json.Marshal(types.CommandMessage{
		TicketID:    ticketID,
		CommandType: cmd,
		Args:        args,
		IssuedAt:    now,
	})
	if err != nil {
		return types.CommandTicket{}, fmt.Errorf("encode command: %w", err)
	}

	// First attempt. A publish failure is not fatal here; the watch
	// goroutine re-publishes on the retry schedule.
	if err := d.publishAttempt(ctx, ticketID, deviceID, payload, 1); err != nil {
		d.logger.Printf("ticket %s attempt 1 publish: %v", ticketID, err)
	}
	t.AttemptCount = 1
	t.LastAttemptAt = now

	w := newTicketWatch()
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return t, nil
	}
	d.inflight[ticketID] = w
	d.wg.Add(1)
	d.mu.Unlock()
	go d.watchTicket(ticketID, deviceID, payload, w, 1)

	return t, nil
}

// GetTicket is the read-side ticket lookup.
func (d *Dispatcher) GetTicket(ctx context.Context, ticketID string) (types.CommandTicket, error) {
	t, err := d.tickets.Get(ctx, ticketID)
	if errors.Is(err, store.ErrNotFound) {
		return types.CommandTicket{}, ErrTicketNotFound
	}
	return t, err
}

// Cancel requests best-effort cancellation of a non-terminal ticket. The
// device may already have executed the command; if the ticket is terminal
// by the time cancellation is processed, Cancel reports ErrCancelRaced
// instead of pretending success.
func (d *Dispatcher) Cancel(ctx context.Context, actor, ticketID string) (types.CommandTicket, error) {
	t, err := d.tickets.Get(ctx, ticketID)
	if errors.Is(err, store.ErrNotFound) {
		return types.CommandTicket{}, ErrTicketNotFound
	}
	if err != nil {
		return types.CommandTicket{}, err
	}

	lock := d.deviceLock(t.DeviceID)
	lock.Lock()
	defer lock.Unlock()

	// Re-read under the device lock; an ack or result may have landed.
	t, err = d.tickets.Get(ctx, ticketID)
	if err != nil {
		return types.CommandTicket{}, err
	}
	if t.Status.Terminal() {
		return t, ErrCancelRaced
	}

	payload, err := json.Marshal(types.CommandMessage{
		TicketID:    ticketID,
		CommandType: types.CommandCancel,
		IssuedAt:    time.Now().UTC(),
	})
	if err != nil {
		return types.CommandTicket{}, fmt.Errorf("encode cancel: %w", err)
	}
	pctx, cancel := context.WithTimeout(ctx, d.cfg.PublishTimeout)
	if err := d.bus.Publish(pctx, transport.CommandTopic(t.DeviceID), payload); err != nil {
		d.logger.Printf("ticket %s cancel publish: %v", ticketID, err)
	}
	cancel()

	if err := d.tickets.Transition(ctx, ticketID, t.Status, types.TicketFailed, "cancelled", time.Now().UTC()); err != nil {
		if errors.Is(err, store.ErrConflict) {
			t, _ = d.tickets.Get(ctx, ticketID)
			return t, ErrCancelRaced
		}
		return types.CommandTicket{}, err
	}
	d.signalDone(ticketID)

	d.audit.note(ctx, actor, "command.cancelled", "ticket:"+ticketID, "device="+t.DeviceID)

	t.Status = types.TicketFailed
	t.FailReason = "cancelled"
	return t, nil
}

// HandleAck advances ISSUED -> ACKED. An ack with no matching non-terminal
// ticket is counted and discarded; it may be a duplicate or a stale retry.
func (d *Dispatcher) HandleAck(ctx context.Context, deviceID, ticketID string) {
	lock := d.deviceLock(deviceID)
	lock.Lock()
	defer lock.Unlock()

	t, err := d.tickets.Get(ctx, ticketID)
	if err != nil || t.DeviceID != deviceID || t.Status.Terminal() {
		d.discard("ack", deviceID, ticketID)
		return
	}
	if t.Status == types.TicketAcked {
		// duplicate ack
		return
	}

	if err := d.tickets.Transition(ctx, ticketID, types.TicketIssued, types.TicketAcked, "", time.Now().UTC()); err != nil {
		if errors.Is(err, store.ErrConflict) {
			d.discard("ack", deviceID, ticketID)
			return
		}
		d.logger.Printf("ticket %s ack transition: %v", ticketID, err)
		return
	}
	d.signalAck(ticketID)
}

// HandleResult advances to EXECUTED or FAILED. Results for unknown or
// already-terminal tickets are counted and discarded.
func (d *Dispatcher) HandleResult(ctx context.Context, deviceID, ticketID string, ok bool, reasonCode string) {
	lock := d.deviceLock(deviceID)
	lock.Lock()
	defer lock.Unlock()

	t, err := d.tickets.Get(ctx, ticketID)
	if err != nil || t.DeviceID != deviceID || t.Status.Terminal() {
		d.discard("result", deviceID, ticketID)
		return
	}

	to := types.TicketExecuted
	reason := ""
	if !ok {
		to = types.TicketFailed
		if reasonCode == "" {
			reasonCode = "device_reported_failure"
		}
		reason = reasonCode
	}

	// A result may arrive without a prior ack; ISSUED -> EXECUTED/FAILED
	// is legal, the ack was just lost in transit.
	if err := d.tickets.Transition(ctx, ticketID, t.Status, to, reason, time.Now().UTC()); err != nil {
		if errors.Is(err, store.ErrConflict) {
			d.discard("result", deviceID, ticketID)
			return
		}
		d.logger.Printf("ticket %s result transition: %v", ticketID, err)
		return
	}
	d.signalDone(ticketID)
}

// Recover restarts watchers for tickets that were in flight when the
// previous process exited. ISSUED tickets resume the retry schedule from
// their persisted attempt count; ACKED tickets go straight to the exec
// timer. Without this a crash would leave the device blocked by the
// one-in-flight check until an operator intervened.
func (d *Dispatcher) Recover(ctx context.Context) (int, error) {
	open, err := d.tickets.ListNonTerminal(ctx)
	if err != nil {
		return 0, fmt.Errorf("list open tickets: %w", err)
	}

	recovered := 0
	for _, t := range open {
		payload, err := json.Marshal(types.CommandMessage{
			TicketID:    t.TicketID,
			CommandType: t.CommandType,
			Args:        t.Args,
			IssuedAt:    t.IssuedAt,
		})
		if err != nil {
			d.logger.Printf("ticket %s recover encode: %v", t.TicketID, err)
			continue
		}

		w := newTicketWatch()
		d.mu.Lock()
		if d.stopped {
			d.mu.Unlock()
			break
		}
		if _, ok := d.inflight[t.TicketID]; ok {
			d.mu.Unlock()
			continue
		}
		d.inflight[t.TicketID] = w
		d.wg.Add(1)
		d.mu.Unlock()

		attempt := t.AttemptCount
		if attempt < 1 {
			attempt = 1
		}
		if t.Status == types.TicketAcked {
			w.signalAck()
		}
		go d.watchTicket(t.TicketID, t.DeviceID, payload, w, attempt)
		d.logger.Printf("ticket %s recovered in %s (attempt %d)", t.TicketID, t.Status, attempt)
		recovered++
	}
	return recovered, nil
}

// Stop halts all ticket watchers and waits for them. Outstanding tickets
// stay in their current persisted state; on restart Recover re-arms them
// and telemetry resolves them as usual.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	d.stopped = true
	for _, w := range d.inflight {
		w.signalDone()
	}
	d.mu.Unlock()
	d.wg.Wait()
}

// watchTicket runs the retry/timeout schedule for one in-flight ticket.
// attempt is the number of publish attempts already made.
func (d *Dispatcher) watchTicket(ticketID, deviceID string, payload []byte, w *ticketWatch, attempt int) {
	defer d.wg.Done()
	defer d.forget(ticketID)

	ackTimer := time.NewTimer(d.cfg.AckTimeout)
	defer ackTimer.Stop()

	backoff := d.cfg.RetryBackoff

	for {
		select {
		case <-w.done:
			return

		case <-w.acked:
			execTimer := time.NewTimer(d.cfg.ExecTimeout)
			select {
			case <-w.done:
				execTimer.Stop()
				return
			case <-execTimer.C:
				d.timeOut(ticketID, deviceID, types.TicketAcked, "result_timeout")
				return
			}

		case <-ackTimer.C:
			if attempt >= d.cfg.MaxAttempts {
				if d.timeOut(ticketID, deviceID, types.TicketIssued, "ack_timeout") {
					return
				}
				// Lost the compare-and-set: telemetry landed right at
				// the deadline. An ack means the command is still
				// running, so keep waiting for the result instead of
				// abandoning the ticket in ACKED.
				gctx, gcancel := context.WithTimeout(context.Background(), 5*time.Second)
				t, err := d.tickets.Get(gctx, ticketID)
				gcancel()
				if err != nil || t.Status != types.TicketAcked {
					return
				}
				w.signalAck()
				continue
			}
			select {
			case <-w.done:
				return
			case <-w.acked:
				continue
			case <-time.After(backoff):
			}
			backoff *= 2
			attempt++

			ctx, cancel := context.WithTimeout(context.Background(), d.cfg.PublishTimeout)
			if err := d.publishAttempt(ctx, ticketID, deviceID, payload, attempt); err != nil {
				d.logger.Printf("ticket %s attempt %d publish: %v", ticketID, attempt, err)
			}
			cancel()
			metrics.CommandRetriesTotal.Inc()
			ackTimer.Reset(d.cfg.AckTimeout)
		}
	}
}

func (d *Dispatcher) publishAttempt(ctx context.Context, ticketID, deviceID string, payload []byte, attempt int) error {
	pctx, cancel := context.WithTimeout(ctx, d.cfg.PublishTimeout)
	defer cancel()

	now := time.Now().UTC()
	if err := d.tickets.RecordAttempt(context.WithoutCancel(ctx), ticketID, attempt, now); err != nil {
		d.logger.Printf("ticket %s record attempt %d: %v", ticketID, attempt, err)
	}
	return d.bus.Publish(pctx, transport.CommandTopic(deviceID), payload)
}

// timeOut moves the ticket to TIMED_OUT from the given non-terminal state.
// Losing the compare-and-set means telemetry advanced the ticket first; the
// caller gets false so it can decide whether the ticket still needs
// watching.
func (d *Dispatcher) timeOut(ticketID, deviceID string, from types.TicketStatus, reason string) bool {
	lock := d.deviceLock(deviceID)
	lock.Lock()
	defer lock.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := d.tickets.Transition(ctx, ticketID, from, types.TicketTimedOut, reason, time.Now().UTC())
	if errors.Is(err, store.ErrConflict) {
		return false
	}
	if err != nil {
		d.logger.Printf("ticket %s timeout transition: %v", ticketID, err)
		return true
	}
	metrics.CommandTimeoutsTotal.Inc()
	d.logger.Printf("ticket %s timed out (%s)", ticketID, reason)
	return true
}

func (d *Dispatcher) discard(kind, deviceID, ticketID string) {
	metrics.TelemetryUnmatchedTotal.Inc()
	d.logger.Printf("discarding %s from %s for ticket %s: no matching open ticket", kind, deviceID, ticketID)
}

func (d *Dispatcher) deviceLock(deviceID string) *sync.Mutex {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.devLocks[deviceID]
	if !ok {
		l = &sync.Mutex{}
		d.devLocks[deviceID] = l
	}
	return l
}

func (d *Dispatcher) signalAck(ticketID string) {
	d.mu.Lock()
	w := d.inflight[ticketID]
	d.mu.Unlock()
	if w != nil {
		w.signalAck()
	}
}

func (d *Dispatcher) signalDone(ticketID string) {
	d.mu.Lock()
	w := d.inflight[ticketID]
	d.mu.Unlock()
	if w != nil {
		w.signalDone()
	}
}

func (d *Dispatcher) forget(ticketID string) {
	d.mu.Lock()
	delete(d.inflight, ticketID)
	d.mu.Unlock()
}
