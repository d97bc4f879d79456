package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ScheduleSnapshot is one observed state of the ledger parameters. A new row
// is written only when something changed.
type ScheduleSnapshot struct {
	ID                 uint   `gorm:"primaryKey"`
	Owner              string `gorm:"size:96"`
	Treasury           string `gorm:"size:96"`
	Vault              string `gorm:"size:96"`
	Paused             bool
	EscrowCount        uint32
	TaskBps            uint16
	SettlementBps      uint16
	TransferBps        uint16
	DiscountBps        uint16
	TotalFeesCollected string    `gorm:"size:80"`
	ObservedAt         time.Time `gorm:"index"`
}

// SameState reports whether two snapshots describe the same ledger state.
func (s ScheduleSnapshot) SameState(other ScheduleSnapshot) bool {
	return s.Owner == other.Owner &&
		s.Treasury == other.Treasury &&
		s.Vault == other.Vault &&
		s.Paused == other.Paused &&
		s.EscrowCount == other.EscrowCount &&
		s.TaskBps == other.TaskBps &&
		s.SettlementBps == other.SettlementBps &&
		s.TransferBps == other.TransferBps &&
		s.DiscountBps == other.DiscountBps &&
		s.TotalFeesCollected == other.TotalFeesCollected
}

// LedgerEvent is a relayed ledger event keyed by its ledger sequence.
type LedgerEvent struct {
	Seq        uint64  `gorm:"primaryKey;autoIncrement:false"`
	Type       string  `gorm:"size:64;index"`
	EscrowID   *uint32 `gorm:"index"`
	Attributes string  `gorm:"type:text"`
	ObservedAt time.Time
}

// Cursor stores named progress markers.
type Cursor struct {
	Name  string `gorm:"primaryKey;size:64"`
	Value uint64
}

// PreviewAudit records fee previews served to clients.
type PreviewAudit struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	RequestID    string    `gorm:"size:64;index"`
	Amount       string    `gorm:"size:80"`
	FeeType      string    `gorm:"size:16"`
	OpenClaw     bool
	Fee          string `gorm:"size:80"`
	Payout       string `gorm:"size:80"`
	EffectiveBps uint16
	CreatedAt    time.Time
}

// AutoMigrate performs all schema migrations for the service.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&ScheduleSnapshot{},
		&LedgerEvent{},
		&Cursor{},
		&PreviewAudit{},
	)
}

// Open connects to the configured database driver.
func Open(driver, dsn string) (*gorm.DB, error) {
	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)}
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "sqlite":
		return gorm.Open(sqlite.Open(dsn), cfg)
	case "postgres":
		return gorm.Open(postgres.Open(dsn), cfg)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}
