package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// VelocityFinding is one transaction flagged for rapid succession on
// its card. Gap fields are nil at partition boundaries: the first
// transaction of a card has no predecessor, the last no successor.
type VelocityFinding struct {
	TransactionID    string          `json:"transactionId"`
	CardID           string          `json:"cardId"`
	CardHolderName   string          `json:"cardHolderName,omitempty"`
	MerchantName     string          `json:"merchantName,omitempty"`
	Timestamp        time.Time       `json:"timestamp"`
	Amount           decimal.Decimal `json:"amount"`
	MinutesSincePrev *float64        `json:"minutesSincePrev"`
	MinutesToNext    *float64        `json:"minutesToNext"`
}

// BurstWindow names the window family a burst finding breached.
type BurstWindow string

const (
	BurstWindowRolling BurstWindow = "rolling"
	BurstWindowMinute  BurstWindow = "minute"
	BurstWindowHour    BurstWindow = "hour"
)

// BurstFinding records a card whose transaction count inside one time
// window crossed a configured limit.
type BurstFinding struct {
	CardID         string      `json:"cardId"`
	Window         BurstWindow `json:"window"`
	Start          time.Time   `json:"start"`
	End            time.Time   `json:"end"`
	Count          int         `json:"count"`
	Threshold      int         `json:"threshold"`
	TransactionIDs []string    `json:"transactionIds"`
}

// EarlyMorningFinding is a transaction inside the configured
// early-morning hour range.
type EarlyMorningFinding struct {
	TransactionID  string          `json:"transactionId"`
	CardID         string          `json:"cardId"`
	CardHolderName string          `json:"cardHolderName,omitempty"`
	MerchantName   string          `json:"merchantName,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
	Hour           int             `json:"hour"`
	Amount         decimal.Decimal `json:"amount"`
}

// CardActivity aggregates one card's small transactions.
type CardActivity struct {
	CardID         string          `json:"cardId"`
	CardHolderID   string          `json:"cardHolderId"`
	CardHolderName string          `json:"cardHolderName,omitempty"`
	Count          int             `json:"count"`
	Mean           decimal.Decimal `json:"mean"`
	Min            decimal.Decimal `json:"min"`
	Max            decimal.Decimal `json:"max"`
	Categories     int             `json:"categories"`
}

// CardTestingSuspect marks a card whose small-transaction count inside
// some rolling window exceeded the configured maximum. The window shown
// is the densest one observed for the card.
type CardTestingSuspect struct {
	CardID         string    `json:"cardId"`
	CardHolderName string    `json:"cardHolderName,omitempty"`
	WindowStart    time.Time `json:"windowStart"`
	WindowEnd      time.Time `json:"windowEnd"`
	Count          int       `json:"count"`
	Threshold      int       `json:"threshold"`
}

// MerchantExposure describes a merchant matching the vulnerable
// merchant rule: enough small transactions across enough distinct
// cards.
type MerchantExposure struct {
	MerchantID      string          `json:"merchantId"`
	MerchantName    string          `json:"merchantName,omitempty"`
	CategoryName    string          `json:"categoryName,omitempty"`
	SmallTxCount    int             `json:"smallTxCount"`
	DistinctCards   int             `json:"distinctCards"`
	DistinctHolders int             `json:"distinctHolders"`
	TotalAmount     decimal.Decimal `json:"totalAmount"`
}
