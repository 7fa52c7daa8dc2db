// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package mbclient

import (
	"github.com/lgili/modbuscore/modbus"
	"github.com/lgili/modbuscore/modbus/dedupe"
	"github.com/lgili/modbuscore/modbus/diag"
)

// State is the client FSM's top-level phase, per spec §4.8.
type State int

const (
	StateIdle State = iota
	StateBuilding
	StateSending
	StateWaiting
	StateParsing
	StateCompleting
	StateBackoff
	StateErrorRecovery
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateBuilding:
		return "BUILDING"
	case StateSending:
		return "SENDING"
	case StateWaiting:
		return "WAITING"
	case StateParsing:
		return "PARSING"
	case StateCompleting:
		return "COMPLETING"
	case StateBackoff:
		return "BACKOFF"
	case StateErrorRecovery:
		return "ERROR_RECOVERY"
	default:
		return "UNKNOWN"
	}
}

// maxPollSteps bounds the unbounded-looking Poll() call so a codec bug can
// never wedge the caller's process in an infinite loop.
const maxPollSteps = 100000

// Client drives one transaction pool against one Codec (an RTU or MBAP
// framing layer), per spec §4.8. It never blocks: Poll/PollWithBudget only
// ever perform bounded, non-blocking work.
type Client struct {
	codec Codec
	pool  []Transaction
	free  []int
	nextID uint16

	highQueue   []Handle
	normalQueue []Handle
	queueCapacity int

	state  State
	active Handle

	activeFrame     []byte
	activeTID       uint16
	pendingResponse modbus.ADU
	backoffUntil    int64

	watchdogMs     int64
	lastProgressAt int64
	haveProgress   bool

	dup *dedupe.Filter // opt-in client-side response dedupe; nil disables

	diag *diag.Sink
}

// New allocates a Client with a poolSize-slot transaction pool driven
// against codec, per spec §4.8's init(transport, txn_pool).
func New(codec Codec, poolSize int) *Client {
	c := &Client{
		codec:  codec,
		pool:   make([]Transaction, poolSize),
		free:   make([]int, poolSize),
		active: InvalidHandle,
		diag:   diag.NewSink(),
		watchdogMs: DefaultWatchdogMs,
	}
	for i := 0; i < poolSize; i++ {
		c.free[i] = poolSize - 1 - i
	}
	return c
}

// SetWatchdog sets the maximum duration the FSM may stay out of Idle
// without forward progress before ErrorRecovery is forced. ms<=0 disables
// the watchdog, per spec §6.4.
func (c *Client) SetWatchdog(ms int64) { c.watchdogMs = ms }

// SetQueueCapacity bounds the combined high+normal queue length. 0 means
// unbounded within pool size, per spec §6.4.
func (c *Client) SetQueueCapacity(n int) { c.queueCapacity = n }

// SetEventCallback installs fn as the structured-event subscriber.
func (c *Client) SetEventCallback(fn diag.EventFunc) { c.diag.SetEventCallback(fn) }

// SetIdleHook installs fn as the idle/jitter subscriber.
func (c *Client) SetIdleHook(fn diag.IdleHook) { c.diag.SetIdleHook(fn) }

// SetTraceHex enables or disables the hex/status trace ring.
func (c *Client) SetTraceHex(enabled bool) { c.diag.SetTraceHex(enabled) }

// Diagnostics exposes the counters and trace ring accumulated so far.
func (c *Client) Diagnostics() *diag.Sink { return c.diag }

// WithResponseDedupe installs an opt-in duplicate-response filter, per
// spec §9's client-side symmetric-filtering open question.
func (c *Client) WithResponseDedupe(f *dedupe.Filter) { c.dup = f }

// Submit validates req, allocates a free pool slot and enqueues it. It
// returns NoResources when the pool or queue is full, InvalidRequest for a
// PDU payload that is already too large to frame.
func (c *Client) Submit(req Request) (Handle, error) {
	if len(req.PDU.Data) > modbus.MaxPDUPayload {
		return InvalidHandle, modbus.NewError(modbus.StatusInvalidRequest, nil)
	}
	if c.queueCapacity > 0 && len(c.highQueue)+len(c.normalQueue) >= c.queueCapacity {
		return InvalidHandle, modbus.NewError(modbus.StatusNoResources, nil)
	}
	if len(c.free) == 0 {
		return InvalidHandle, modbus.NewError(modbus.StatusNoResources, nil)
	}

	idx := c.free[len(c.free)-1]
	c.free = c.free[:len(c.free)-1]

	timeoutMs := req.TimeoutMs
	if timeoutMs <= 0 {
		timeoutMs = DefaultTimeoutMs
	}
	maxRetries := req.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}

	c.nextID++
	c.pool[idx] = Transaction{
		ID:         c.nextID,
		State:      TxnQueued,
		Priority:   req.Priority,
		Request:    modbus.ADU{UnitID: req.UnitID, PDU: req.PDU},
		TimeoutMs:  timeoutMs,
		MaxRetries: maxRetries,
		BackoffMs:  req.BackoffMs,
		Callback:   req.Callback,
		UserCtx:    req.UserCtx,
	}

	h := Handle(idx)
	if req.Priority == PriorityHigh {
		c.highQueue = append(c.highQueue, h)
	} else {
		c.normalQueue = append(c.normalQueue, h)
	}
	c.diag.Emit(c.codec.Now(), diag.Event{Kind: diag.ClientTxSubmit, TxnID: c.nextID, FC: req.PDU.FunctionCode})
	return h, nil
}

// Pending reports the number of transactions queued or in flight.
func (c *Client) Pending() int {
	n := len(c.highQueue) + len(c.normalQueue)
	if c.active != InvalidHandle {
		n++
	}
	return n
}

// Poll runs the FSM until no further progress is possible this call.
func (c *Client) Poll() error { return c.PollWithBudget(maxPollSteps) }

// PollWithBudget runs at most steps micro-steps and returns. Per spec
// §4.8, each micro-step corresponds to one sub-phase transition.
func (c *Client) PollWithBudget(steps int) error {
	now := c.codec.Now()
	c.diag.NotePoll(now, c.Pending(), DefaultWatchdogMs)

	if c.state != StateIdle && c.watchdogMs > 0 && c.haveProgress && now-c.lastProgressAt > c.watchdogMs {
		c.completeActive(modbus.StatusTransport, modbus.ADU{}, now)
		c.codec.Reset()
		c.setState(StateErrorRecovery, now)
	}

	for i := 0; i < steps; i++ {
		now = c.codec.Now()
		if !c.step(now) {
			break
		}
	}
	return nil
}

// Cancel completes h's transaction with status Cancelled and frees its
// slot. If h is the in-flight transaction, the FSM enters ErrorRecovery to
// drain any pending response before accepting new work, per spec §5.
func (c *Client) Cancel(h Handle) error {
	if int(h) < 0 || int(h) >= len(c.pool) {
		return modbus.NewError(modbus.StatusInvalidArgument, nil)
	}
	txn := &c.pool[h]
	if txn.State == TxnFree || txn.State == TxnCompleted {
		return modbus.NewError(modbus.StatusInvalidArgument, nil)
	}

	if h == c.active {
		now := c.codec.Now()
		c.completeActive(modbus.StatusCancelled, modbus.ADU{}, now)
		c.codec.Reset()
		c.setState(StateErrorRecovery, now)
		return nil
	}

	c.removeFromQueues(h)
	cb, ctx := txn.Callback, txn.UserCtx
	*txn = Transaction{}
	c.free = append(c.free, int(h))
	if cb != nil {
		cb(modbus.StatusCancelled, modbus.ADU{}, ctx)
	}
	return nil
}

// CancelAll cancels every queued and in-flight transaction.
func (c *Client) CancelAll() {
	for _, h := range append(append([]Handle{}, c.highQueue...), c.normalQueue...) {
		c.Cancel(h)
	}
	if c.active != InvalidHandle {
		c.Cancel(c.active)
	}
}

func (c *Client) removeFromQueues(h Handle) {
	c.highQueue = removeHandle(c.highQueue, h)
	c.normalQueue = removeHandle(c.normalQueue, h)
}

func removeHandle(q []Handle, h Handle) []Handle {
	for i, v := range q {
		if v == h {
			return append(q[:i], q[i+1:]...)
		}
	}
	return q
}

func (c *Client) setState(s State, now int64) {
	if s != c.state {
		c.diag.Emit(now, diag.Event{Kind: diag.ClientStateExit, State: c.state.String()})
		c.state = s
		c.diag.Emit(now, diag.Event{Kind: diag.ClientStateEnter, State: s.String()})
	}
}

func (c *Client) noteProgress(now int64) {
	c.lastProgressAt = now
	c.haveProgress = true
}

func (c *Client) dequeue() (Handle, bool) {
	if len(c.highQueue) > 0 {
		h := c.highQueue[0]
		c.highQueue = c.highQueue[1:]
		return h, true
	}
	if len(c.normalQueue) > 0 {
		h := c.normalQueue[0]
		c.normalQueue = c.normalQueue[1:]
		return h, true
	}
	return InvalidHandle, false
}

// completeActive finalizes the active transaction (if any), invoking its
// callback exactly once and returning its slot to the free pool. It does
// not change c.state; callers transition afterward.
func (c *Client) completeActive(status modbus.Status, resp modbus.ADU, now int64) {
	h := c.active
	if h == InvalidHandle {
		return
	}
	txn := &c.pool[h]
	cb, ctx, id := txn.Callback, txn.UserCtx, txn.ID
	*txn = Transaction{}
	c.free = append(c.free, int(h))
	c.active = InvalidHandle
	c.activeFrame = nil
	c.activeTID = 0
	c.haveProgress = false

	c.diag.Emit(now, diag.Event{Kind: diag.ClientTxComplete, Status: status, TxnID: id})
	if cb != nil {
		cb(status, resp, ctx)
	}
}

// step runs one micro-step of the FSM, reporting whether it made progress
// (so PollWithBudget knows when to stop early).
func (c *Client) step(now int64) bool {
	switch c.state {
	case StateIdle:
		h, ok := c.dequeue()
		if !ok {
			return false
		}
		c.active = h
		c.pool[h].State = TxnInFlight
		c.setState(StateBuilding, now)
		return true

	case StateBuilding:
		txn := &c.pool[c.active]
		frame, tid, err := c.codec.EncodeRequest(txn.Request)
		if err != nil {
			c.completeActive(modbus.StatusInvalidRequest, modbus.ADU{}, now)
			c.setState(StateIdle, now)
			return true
		}
		c.activeFrame = frame
		c.activeTID = tid
		if err := c.codec.BeginTx(frame); err != nil {
			c.completeActive(modbus.StatusTransport, modbus.ADU{}, now)
			c.setState(StateIdle, now)
			return true
		}
		c.noteProgress(now)
		c.setState(StateSending, now)
		return true

	case StateSending:
		done, err := c.codec.PollTx(now)
		if err != nil {
			c.completeActive(modbus.StatusTransport, modbus.ADU{}, now)
			c.codec.Reset()
			c.setState(StateErrorRecovery, now)
			return true
		}
		if !done {
			return false
		}
		c.noteProgress(now)
		c.diag.CountTxFrame()
		txn := &c.pool[c.active]
		if txn.Request.IsBroadcast() {
			c.diag.CountBroadcast()
			c.completeActive(modbus.StatusOK, modbus.ADU{}, now)
			c.setState(StateIdle, now)
			return true
		}
		txn.State = TxnAwaitingResponse
		txn.Deadline = now + txn.TimeoutMs
		c.setState(StateWaiting, now)
		return true

	case StateWaiting:
		return c.stepWaiting(now)

	case StateParsing:
		resp := c.pendingResponse
		if resp.PDU.IsException() {
			c.diag.CountExceptionReceived()
			c.completeActive(modbus.StatusException, resp, now)
		} else {
			c.completeActive(modbus.StatusOK, resp, now)
		}
		c.setState(StateIdle, now)
		return true

	case StateBackoff:
		if now < c.backoffUntil {
			return false
		}
		if err := c.codec.BeginTx(c.activeFrame); err != nil {
			c.completeActive(modbus.StatusTransport, modbus.ADU{}, now)
			c.setState(StateIdle, now)
			return true
		}
		c.setState(StateSending, now)
		return true

	case StateErrorRecovery:
		_, _, status := c.codec.PollRx(now)
		if status == modbus.StatusTimeout {
			c.setState(StateIdle, now)
			return true
		}
		return true

	default:
		return false
	}
}

func (c *Client) stepWaiting(now int64) bool {
	txn := &c.pool[c.active]
	tid, adu, status := c.codec.PollRx(now)

	switch status {
	case modbus.StatusOK:
		if tid != c.activeTID {
			c.diag.CountTIDMismatch()
			return true
		}
		if c.dup != nil {
			h := dedupe.Hash(txn.Request.UnitID, txn.Request.PDU.FunctionCode, adu.PDU.Data)
			if c.dup.Check(h, now) {
				c.dup.NoteDuplicate(h, now, adu.PDU.Data)
				c.diag.CountDuplicateSuppressed()
				return true
			}
			c.dup.Add(h, now, adu.PDU.Data)
		}
		c.noteProgress(now)
		c.diag.CountRxFrame()
		c.pendingResponse = adu
		c.setState(StateParsing, now)
		return true

	case modbus.StatusCRC:
		c.diag.CountCRCError()
	case modbus.StatusFraming:
		c.diag.CountFramingError()
	case modbus.StatusTransport:
		c.completeActive(modbus.StatusTransport, modbus.ADU{}, now)
		c.codec.Reset()
		c.setState(StateErrorRecovery, now)
		return true
	}

	if now >= txn.Deadline {
		return c.handleTimeout(now)
	}
	return false
}

func (c *Client) handleTimeout(now int64) bool {
	txn := &c.pool[c.active]
	txn.RetriesUsed++
	c.diag.CountTimeout()
	if txn.RetriesUsed <= txn.MaxRetries {
		c.diag.CountRetry()
		c.backoffUntil = now + effectiveBackoff(txn.TimeoutMs, txn.BackoffMs)
		c.setState(StateBackoff, now)
		return true
	}
	c.completeActive(modbus.StatusTimeout, modbus.ADU{}, now)
	c.setState(StateIdle, now)
	return true
}
