package node

import (
	"go.uber.org/zap"

	"github.com/gneo-network/gneo/common"
	"github.com/gneo-network/gneo/core/dao"
	"github.com/gneo-network/gneo/core/mempool"
	"github.com/gneo-network/gneo/core/state"
	"github.com/gneo-network/gneo/core/types"
)

// Event is the closed union of bus events.
type Event interface{ isEvent() }

// BlockCommitting fires before the batch reaches storage; the snapshot is
// the block's still-open write layer.
type BlockCommitting struct {
	Block    *types.Block
	Snapshot *dao.Simple
}

// BlockCommitted fires once a block is durable.
type BlockCommitted struct {
	Block *types.Block
}

// TxAdded fires on mempool admission.
type TxAdded struct {
	Tx *types.Transaction
}

// TxRemoved fires on mempool removal with its reason.
type TxRemoved struct {
	Tx     *types.Transaction
	Reason mempool.RemovalReason
}

// ContractLog carries a System.Runtime.Log line.
type ContractLog struct {
	Contract common.Uint160
	Message  string
}

// ContractNotify carries a contract notification.
type ContractNotify struct {
	Event state.NotificationEvent
}

func (BlockCommitting) isEvent() {}
func (BlockCommitted) isEvent()  {}
func (TxAdded) isEvent()         {}
func (TxRemoved) isEvent()       {}
func (ContractLog) isEvent()     {}
func (ContractNotify) isEvent()  {}

// Handler observes bus events; an error is surfaced as a log line, never
// propagated.
type Handler func(Event) error

// EventBus performs synchronous dispatch in publication order. Handlers are
// registered before the node starts; registration is not safe once events
// flow.
type EventBus struct {
	log      *zap.Logger
	handlers []Handler
}

// NewEventBus returns an empty bus.
func NewEventBus(log *zap.Logger) *EventBus {
	return &EventBus{log: log}
}

// Subscribe registers a handler; call before Start.
func (b *EventBus) Subscribe(h Handler) {
	b.handlers = append(b.handlers, h)
}

// Publish dispatches e to every handler in order.
func (b *EventBus) Publish(e Event) {
	for _, h := range b.handlers {
		if err := h(e); err != nil {
			b.log.Warn("event handler failed",
				zap.String("event", eventName(e)),
				zap.Error(err))
		}
	}
}

func eventName(e Event) string {
	switch e.(type) {
	case BlockCommitting:
		return "Committing"
	case BlockCommitted:
		return "Committed"
	case TxAdded:
		return "TxAdded"
	case TxRemoved:
		return "TxRemoved"
	case ContractLog:
		return "Log"
	case ContractNotify:
		return "Notify"
	}
	return "Unknown"
}
