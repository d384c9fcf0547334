// Package statemachine implements the single authoritative BotState value
// that governs the bot's one-cycle lifecycle: Idle → OrderPlaced →
// Filled → Hedging → Complete, with Error reachable from any state.
//
// The machine is the sole arbiter of lifecycle transitions. All mutation
// goes through the exported methods below; no task ever writes State
// directly, the same way a kill-switch owns its guarded state behind a
// small method set rather than exposing the fields.
package statemachine

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"xemm-bot/pkg/types"
)

// Machine is the RW-lock-guarded BotState cell.
type Machine struct {
	mu     sync.RWMutex
	state  types.BotState
	order  types.ActiveOrder
	fill   types.FillEvent
	fatal  error
	logger *slog.Logger

	// completeCh closes exactly once, when the machine reaches a terminal
	// state (Complete or Error). The engine's main goroutine blocks on it.
	completeCh chan struct{}
	closeOnce  sync.Once
}

// New returns a machine in the Idle state.
func New(logger *slog.Logger) *Machine {
	return &Machine{
		state:      types.StateIdle,
		logger:     logger,
		completeCh: make(chan struct{}),
	}
}

// State returns the current state under the read lock. Cheap enough for
// the 40 Hz monitor and 10 Hz evaluator to call on every tick.
func (m *Machine) State() types.BotState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// ActiveOrder returns the currently-tracked order, valid only while state
// is OrderPlaced or Filled.
func (m *Machine) ActiveOrder() types.ActiveOrder {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.order
}

// Fill returns the FillEvent that moved the machine into Filled.
func (m *Machine) Fill() types.FillEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fill
}

// FatalErr returns the error that drove the machine into Error, if any.
func (m *Machine) FatalErr() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fatal
}

// Done returns a channel that closes once the machine reaches Complete
// or Error.
func (m *Machine) Done() <-chan struct{} {
	return m.completeCh
}

func (m *Machine) markDone() {
	m.closeOnce.Do(func() { close(m.completeCh) })
}

// TryPlaceOrder attempts the Idle → OrderPlaced transition atomically. It
// returns false without mutating state if the machine is not currently
// Idle — callers (the opportunity loop) must abandon placement in that
// case rather than retry the lock.
func (m *Machine) TryPlaceOrder(order types.ActiveOrder) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != types.StateIdle {
		return false
	}
	m.order = order
	m.state = types.StateOrderPlaced
	m.logger.Info("order placed", "order_id", order.OrderID, "side", order.Side, "price", order.Price, "size", order.Size)
	return true
}

// OnFillEvent is called by the Fill Detector for every order-update
// message. Only a transition from OrderPlaced with a partial_fill or
// full_fill event moves the machine to Filled; everything else (a
// cancellation, a duplicate fill for an order_id we've already left
// OrderPlaced for) is a documented no-op, which is what makes duplicate
// FillEvents idempotent.
func (m *Machine) OnFillEvent(ev types.FillEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ev.Kind != types.FillPartial && ev.Kind != types.FillFull {
		return
	}
	if m.state != types.StateOrderPlaced {
		m.logger.Debug("ignoring fill event outside OrderPlaced", "state", m.state, "order_id", ev.OrderID)
		return
	}
	if ev.OrderID != m.order.OrderID {
		m.logger.Warn("fill event for unknown order_id, ignoring", "order_id", ev.OrderID, "active_order_id", m.order.OrderID)
		return
	}

	m.fill = ev
	m.state = types.StateFilled
	m.logger.Info("order filled", "order_id", ev.OrderID, "kind", ev.Kind, "price", ev.FillPrice, "size", ev.FillSize)
}

// OnCancelConfirmed implements the dual-cancellation race fix: it only
// resets the machine to Idle when the current state is exactly
// OrderPlaced. In Filled/Hedging/Complete it is a no-op — the residual
// cancel confirmations from the hedge executor's dual cancellation
// arrive after the state has already advanced, and must not resurrect
// Idle while a hedge is in flight.
func (m *Machine) OnCancelConfirmed(orderID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != types.StateOrderPlaced {
		m.logger.Debug("cancel_confirmed no-op outside OrderPlaced", "state", m.state, "order_id", orderID)
		return
	}
	m.logger.Info("order cancelled, returning to idle", "order_id", orderID)
	m.order = types.ActiveOrder{}
	m.state = types.StateIdle
}

// SetOrderID records the venue-assigned order id once the placement
// REST call returns, while still in OrderPlaced. A no-op otherwise.
func (m *Machine) SetOrderID(orderID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != types.StateOrderPlaced {
		return
	}
	m.order.OrderID = orderID
}

// Abort reverts an OrderPlaced placement that never reached the venue
// (the REST call itself failed) back to Idle unconditionally. Unlike
// OnCancelConfirmed this is not a race-sensitive exchange confirmation —
// the order was never live, so there is nothing to race against.
func (m *Machine) Abort() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != types.StateOrderPlaced {
		return
	}
	m.order = types.ActiveOrder{}
	m.state = types.StateIdle
}

// StartHedge transitions Filled → Hedging. Returns an error if called
// from any other state (the hedge executor should only ever call this
// once, immediately after observing Filled).
func (m *Machine) StartHedge() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != types.StateFilled {
		return fmt.Errorf("cannot start hedge from state %s, expected %s", m.state, types.StateFilled)
	}
	m.state = types.StateHedging
	m.logger.Info("hedge started")
	return nil
}

// HedgeOK transitions Hedging → Complete. Callers must ensure the
// summary has already been emitted before calling this — the ordering
// is mandatory per the hedge executor's contract, not enforced here.
func (m *Machine) HedgeOK() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != types.StateHedging {
		return fmt.Errorf("cannot complete hedge from state %s, expected %s", m.state, types.StateHedging)
	}
	m.state = types.StateComplete
	m.logger.Info("cycle complete")
	m.markDone()
	return nil
}

// FatalError transitions any state to Error. Reachable from every state,
// including Error itself (idempotent).
func (m *Machine) FatalError(cause error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == types.StateError {
		return
	}
	m.fatal = cause
	m.state = types.StateError
	m.logger.Error("fatal error, transitioning to Error state", "error", cause)
	m.markDone()
}

// WaitTimeout blocks until Done() closes or the timeout elapses,
// returning the final state. Used by tests and by the engine's shutdown
// path to bound how long it waits for an in-flight hedge.
func (m *Machine) WaitTimeout(d time.Duration) types.BotState {
	select {
	case <-m.completeCh:
	case <-time.After(d):
	}
	return m.State()
}
