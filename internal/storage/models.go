package storage

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Cycle sample statuses.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// CycleSample is one persisted round-trip evaluation, successful or not.
type CycleSample struct {
	ID            uuid.UUID
	StartedAt     time.Time
	Route         string
	Input         decimal.Decimal
	ForwardAmount decimal.Decimal
	ForwardLabel  string
	ReturnAmount  decimal.Decimal
	ReturnLabel   string
	Profit        decimal.Decimal
	ProfitPct     decimal.Decimal
	Status        string
	Error         *string
	CreatedAt     time.Time
}

// AlertRecord captures an emitted alert for auditing.
type AlertRecord struct {
	ID           int64
	CycleID      uuid.UUID
	Route        string
	ForwardLabel string
	ReturnLabel  string
	Profit       decimal.Decimal
	Threshold    decimal.Decimal
	Severity     string
	Delivered    int
	CreatedAt    time.Time
}
