package domain

import (
	"time"

	"github.com/google/uuid"
)

// Side is the direction of a trading signal.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
	SideHold Side = "hold"
)

// Action is what the caller should do with the signal.
type Action string

const (
	ActionEnter Action = "enter"
	ActionExit  Action = "exit"
	ActionHold  Action = "hold"
)

// TradingSignal is a scored trade recommendation. It is immutable once
// constructed: confidence is clamped into [0,1] at construction time and
// never re-derived later.
type TradingSignal struct {
	ID           string            `json:"id"`
	Symbol       string            `json:"symbol,omitempty"`
	Side         Side              `json:"side"`
	Action       Action            `json:"action"`
	Confidence   float64           `json:"confidence"`
	Price        float64           `json:"price"`
	Timestamp    time.Time         `json:"timestamp"`
	Reason       string            `json:"reason"`
	StopLoss     *float64          `json:"stop_loss,omitempty"`
	TakeProfit   *float64          `json:"take_profit,omitempty"`
	PositionSize float64           `json:"position_size"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// NewSignal validates the fields and returns a signal with a fresh ID.
// Side and action must come from the closed enums; price, stop and target
// must be positive.
func NewSignal(side Side, action Action, confidence, price float64, ts time.Time, reason string) (*TradingSignal, error) {
	switch side {
	case SideBuy, SideSell, SideHold:
	default:
		return nil, &InvalidParameterError{Param: "side", Reason: "must be buy, sell or hold"}
	}
	switch action {
	case ActionEnter, ActionExit, ActionHold:
	default:
		return nil, &InvalidParameterError{Param: "action", Reason: "must be enter, exit or hold"}
	}
	if price <= 0 {
		return nil, &InvalidParameterError{Param: "price", Reason: "must be positive"}
	}
	return &TradingSignal{
		ID:         uuid.NewString(),
		Side:       side,
		Action:     action,
		Confidence: Clamp01(confidence),
		Price:      price,
		Timestamp:  ts,
		Reason:     reason,
	}, nil
}

// WithRiskLevels sets stop-loss and take-profit, both required positive.
func (s *TradingSignal) WithRiskLevels(stopLoss, takeProfit float64) (*TradingSignal, error) {
	if stopLoss <= 0 {
		return nil, &InvalidParameterError{Param: "stop_loss", Reason: "must be positive"}
	}
	if takeProfit <= 0 {
		return nil, &InvalidParameterError{Param: "take_profit", Reason: "must be positive"}
	}
	s.StopLoss = &stopLoss
	s.TakeProfit = &takeProfit
	return s, nil
}

// RiskReward derives the reward-to-risk ratio from price, stop and target.
// Returns false when either level is missing or risk is not positive.
func (s *TradingSignal) RiskReward() (float64, bool) {
	if s.StopLoss == nil || s.TakeProfit == nil || s.Price <= 0 {
		return 0, false
	}
	var risk, reward float64
	switch s.Side {
	case SideBuy:
		risk = s.Price - *s.StopLoss
		reward = *s.TakeProfit - s.Price
	case SideSell:
		risk = *s.StopLoss - s.Price
		reward = s.Price - *s.TakeProfit
	default:
		return 0, false
	}
	if risk <= 0 {
		return 0, false
	}
	return reward / risk, true
}

// Clamp01 bounds v into [0,1].
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
