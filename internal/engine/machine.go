package engine

import (
	"time"

	"dmarket_go/internal/domain"
)

// State of a per-item machine.
type State int

const (
	StateIdle State = iota
	StateEvaluating
	StateBidding
	StateAsking
	StateMonitoring
	StateFilled
	StateWithdrawn
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateEvaluating:
		return "EVALUATING"
	case StateBidding:
		return "BIDDING"
	case StateAsking:
		return "ASKING"
	case StateMonitoring:
		return "MONITORING"
	case StateFilled:
		return "FILLED"
	case StateWithdrawn:
		return "WITHDRAWN"
	default:
		return "UNKNOWN"
	}
}

// settled states are reported to observers; the rest are transient within a cycle.
func (s State) settled() bool {
	return s == StateIdle || s == StateMonitoring || s == StateFilled || s == StateWithdrawn
}

// Machine tracks one buy-side item or one bought asset on the sell side.
// It is owned by its game loop goroutine.
type Machine struct {
	Title     string
	Game      string
	Side      domain.Side
	AssetID   string       // sell side only
	Purchase  domain.Cents // sell side only
	State     State
	Order     *domain.ActiveOrder
	Reason    string
	UpdatedAt time.Time

	lastSent struct {
		state State
		price domain.Cents
		ok    bool
	}
}

func newBuyMachine(game, title string) *Machine {
	return &Machine{Title: title, Game: game, Side: domain.SideBuy}
}

func newSellMachine(game, title, assetID string, purchase domain.Cents) *Machine {
	return &Machine{Title: title, Game: game, Side: domain.SideSell, AssetID: assetID, Purchase: purchase}
}

// MachineView is a read-only copy of a machine for status reporting.
type MachineView struct {
	Title     string              `json:"title"`
	Game      string              `json:"game"`
	Side      domain.Side         `json:"side"`
	AssetID   string              `json:"asset_id,omitempty"`
	Purchase  domain.Cents        `json:"purchase,omitempty"`
	State     string              `json:"state"`
	Reason    string              `json:"reason,omitempty"`
	Order     *domain.ActiveOrder `json:"order,omitempty"`
	UpdatedAt time.Time           `json:"updated_at"`
}

func (m *Machine) view() MachineView {
	v := MachineView{
		Title:     m.Title,
		Game:      m.Game,
		Side:      m.Side,
		AssetID:   m.AssetID,
		Purchase:  m.Purchase,
		State:     m.State.String(),
		Reason:    m.Reason,
		UpdatedAt: m.UpdatedAt,
	}
	if m.Order != nil {
		o := *m.Order
		v.Order = &o
	}
	return v
}

func (m *Machine) price() domain.Cents {
	if m.Order == nil {
		return 0
	}
	return m.Order.Price
}
