package models

import (
	"fmt"
	"strings"
	"time"
)

// StockInfo is the watch-list entry for one listed stock
type StockInfo struct {
	StockID    string      `json:"stock_id"`
	StockName  string      `json:"stock_name"`
	Industry   string      `json:"industry"`
	Follow     bool        `json:"follow"`
	MarketType string      `json:"market_type"`
	Source     string      `json:"source"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
	Conditions *Conditions `json:"conditions,omitempty"`
}

// Ref returns the identifying pair used in run summaries
func (s StockInfo) Ref() StockRef {
	return StockRef{ID: s.StockID, Name: s.StockName}
}

// Conditions are the screening flags stored on StockInfo
type Conditions struct {
	VolumeIncrease bool `json:"volume_increase"`
	AboveMA5       bool `json:"above_ma5"`
	AboveMA10      bool `json:"above_ma10"`
	AboveMA20      bool `json:"above_ma20"`
	AboveMA60      bool `json:"above_ma60"`
}

// StockRef identifies a stock in stage outcomes
type StockRef struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// String renders "2330(台積電)", or the bare id when the name is unknown
func (r StockRef) String() string {
	if r.Name == "" {
		return r.ID
	}
	return fmt.Sprintf("%s(%s)", r.ID, r.Name)
}

// JoinRefs renders refs as a comma separated list
func JoinRefs(refs []StockRef) string {
	parts := make([]string, len(refs))
	for i, r := range refs {
		parts[i] = r.String()
	}
	return strings.Join(parts, ", ")
}
