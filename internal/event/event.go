package event

import (
	"time"

	"dmarket_go/internal/domain"
)

// Type identifies an event kind.
type Type string

const (
	TypeFill       Type = "FILL"
	TypeOrderState Type = "ORDER_STATE"
)

// Event is anything a game loop receives through its inbox or publishes.
type Event interface {
	GetType() Type
	GetTs() time.Time
}

// BaseEvent carries the creation time.
type BaseEvent struct {
	Ts time.Time `json:"ts"`
}

func (e BaseEvent) GetTs() time.Time { return e.Ts }

// FillEvent notifies a loop that one of its orders executed.
type FillEvent struct {
	BaseEvent
	Fill domain.Fill `json:"fill"`
}

func (e *FillEvent) GetType() Type { return TypeFill }

// NewFillEvent wraps a fill.
func NewFillEvent(f domain.Fill) *FillEvent {
	return &FillEvent{BaseEvent: BaseEvent{Ts: time.Now()}, Fill: f}
}

// OrderStateEvent reports a machine settling into a new state or price.
type OrderStateEvent struct {
	BaseEvent
	Game    string       `json:"game"`
	Title   string       `json:"title"`
	Side    domain.Side  `json:"side"`
	AssetID string       `json:"asset_id,omitempty"`
	State   string       `json:"state"`
	Price   domain.Cents `json:"price"`
	Reason  string       `json:"reason,omitempty"`
}

func (e *OrderStateEvent) GetType() Type { return TypeOrderState }
