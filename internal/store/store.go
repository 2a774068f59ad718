// Package store persists engine state that must survive a restart: bot
// configs with their last-known states, compliance rule snapshots per
// account, and optimizer state per bot. Rows hold versioned JSON blobs so
// the schema stays stable while the snapshot layouts evolve.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/quantfleet/engine/internal/compliance"
	"github.com/quantfleet/engine/internal/errs"
	"github.com/quantfleet/engine/internal/optimizer"
	"github.com/quantfleet/engine/pkg/types"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// botDocVersion guards the bot config blob layout.
const botDocVersion = 1

// BotRecord is one persisted bot: its config document and the state it was
// last seen in.
type BotRecord struct {
	BotID     string `gorm:"primaryKey"`
	Config    []byte
	State     string
	UpdatedAt time.Time
}

// ComplianceRecord holds one account's full rule snapshot.
type ComplianceRecord struct {
	Broker    string `gorm:"primaryKey"`
	AccountID string `gorm:"primaryKey"`
	Snapshot  []byte
	UpdatedAt time.Time
}

// OptimizerRecord holds one bot's optimizer snapshot.
type OptimizerRecord struct {
	BotID     string `gorm:"primaryKey"`
	Snapshot  []byte
	UpdatedAt time.Time
}

// botDoc is the versioned envelope around a bot config blob.
type botDoc struct {
	Version int             `json:"version"`
	Config  types.BotConfig `json:"config"`
}

// RestoredBot is one row decoded back from the store.
type RestoredBot struct {
	BotID  string
	Config types.BotConfig
	State  types.BotState
}

// Store wraps the database handle.
type Store struct {
	logger *zap.Logger
	db     *gorm.DB
}

// Open connects to the database named by dsn. A postgres:// or
// postgresql:// prefix selects the postgres driver; anything else is a
// sqlite file path.
func Open(logger *zap.Logger, dsn string) (*Store, error) {
	var (
		db  *gorm.DB
		err error
	)
	gcfg := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)}

	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		db, err = gorm.Open(postgres.Open(dsn), gcfg)
	} else {
		if dir := filepath.Dir(dsn); dir != "." {
			if mkErr := os.MkdirAll(dir, 0o755); mkErr != nil {
				return nil, errs.Wrap(mkErr, errs.KindInternal, "store", "open", "creating database directory")
			}
		}
		db, err = gorm.Open(sqlite.Open(dsn), gcfg)
	}
	if err != nil {
		return nil, errs.Wrap(err, errs.KindExternal, "store", "open", "connecting to database")
	}

	if err := db.AutoMigrate(&BotRecord{}, &ComplianceRecord{}, &OptimizerRecord{}); err != nil {
		return nil, errs.Wrap(err, errs.KindInternal, "store", "open", "migrating schema")
	}

	logger.Named("store").Info("database ready")
	return &Store{logger: logger.Named("store"), db: db}, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) upsert(row interface{}) error {
	return s.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(row).Error
}

// SaveBot persists one bot's config and last-known state.
func (s *Store) SaveBot(botID string, cfg types.BotConfig, state types.BotState) error {
	blob, err := json.Marshal(botDoc{Version: botDocVersion, Config: cfg})
	if err != nil {
		return errs.Wrap(err, errs.KindInternal, "store", "save_bot", botID)
	}
	row := BotRecord{BotID: botID, Config: blob, State: string(state)}
	if err := s.upsert(&row); err != nil {
		return errs.Wrap(err, errs.KindExternal, "store", "save_bot", botID)
	}
	return nil
}

// DeleteBot removes a bot row along with its optimizer state.
func (s *Store) DeleteBot(botID string) error {
	if err := s.db.Delete(&BotRecord{}, "bot_id = ?", botID).Error; err != nil {
		return errs.Wrap(err, errs.KindExternal, "store", "delete_bot", botID)
	}
	if err := s.db.Delete(&OptimizerRecord{}, "bot_id = ?", botID).Error; err != nil {
		return errs.Wrap(err, errs.KindExternal, "store", "delete_bot", botID)
	}
	return nil
}

// LoadBots decodes every persisted bot. Blobs written by a newer code
// version fail the whole load rather than restoring a partial fleet.
func (s *Store) LoadBots() ([]RestoredBot, error) {
	var rows []BotRecord
	if err := s.db.Order("bot_id").Find(&rows).Error; err != nil {
		return nil, errs.Wrap(err, errs.KindExternal, "store", "load_bots", "querying bot rows")
	}

	out := make([]RestoredBot, 0, len(rows))
	for _, row := range rows {
		var doc botDoc
		if err := json.Unmarshal(row.Config, &doc); err != nil {
			return nil, errs.Wrap(err, errs.KindInternal, "store", "load_bots", "decoding "+row.BotID)
		}
		if doc.Version > botDocVersion {
			return nil, errs.New(errs.KindInternal, "store", "load_bots",
				fmt.Sprintf("bot %s blob version %d is newer than supported %d", row.BotID, doc.Version, botDocVersion))
		}
		out = append(out, RestoredBot{
			BotID:  row.BotID,
			Config: doc.Config,
			State:  types.BotState(row.State),
		})
	}
	return out, nil
}

// SaveComplianceSnapshot persists one account's rule state. The snapshot
// carries its own version.
func (s *Store) SaveComplianceSnapshot(snap *compliance.Snapshot) error {
	if snap == nil {
		return errs.New(errs.KindClient, "store", "save_compliance", "nil snapshot")
	}
	blob, err := json.Marshal(snap)
	if err != nil {
		return errs.Wrap(err, errs.KindInternal, "store", "save_compliance", snap.AccountID)
	}
	row := ComplianceRecord{Broker: snap.Broker, AccountID: snap.AccountID, Snapshot: blob}
	if err := s.upsert(&row); err != nil {
		return errs.Wrap(err, errs.KindExternal, "store", "save_compliance", snap.AccountID)
	}
	return nil
}

// LoadComplianceSnapshot returns one account's persisted rule state.
func (s *Store) LoadComplianceSnapshot(broker, accountID string) (*compliance.Snapshot, error) {
	var row ComplianceRecord
	err := s.db.First(&row, "broker = ? AND account_id = ?", broker, accountID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errs.Wrap(errs.ErrNotFound, errs.KindClient, "store", "load_compliance",
			broker+"/"+accountID)
	}
	if err != nil {
		return nil, errs.Wrap(err, errs.KindExternal, "store", "load_compliance", accountID)
	}

	var snap compliance.Snapshot
	if err := json.Unmarshal(row.Snapshot, &snap); err != nil {
		return nil, errs.Wrap(err, errs.KindInternal, "store", "load_compliance", "decoding "+accountID)
	}
	return &snap, nil
}

// LoadComplianceSnapshots returns every persisted account rule state.
func (s *Store) LoadComplianceSnapshots() ([]*compliance.Snapshot, error) {
	var rows []ComplianceRecord
	if err := s.db.Order("broker, account_id").Find(&rows).Error; err != nil {
		return nil, errs.Wrap(err, errs.KindExternal, "store", "load_compliance", "querying rows")
	}

	out := make([]*compliance.Snapshot, 0, len(rows))
	for _, row := range rows {
		var snap compliance.Snapshot
		if err := json.Unmarshal(row.Snapshot, &snap); err != nil {
			return nil, errs.Wrap(err, errs.KindInternal, "store", "load_compliance",
				"decoding "+row.Broker+"/"+row.AccountID)
		}
		out = append(out, &snap)
	}
	return out, nil
}

// SaveOptimizerState persists one bot's optimizer snapshot.
func (s *Store) SaveOptimizerState(snap *optimizer.Snapshot) error {
	if snap == nil {
		return errs.New(errs.KindClient, "store", "save_optimizer", "nil snapshot")
	}
	blob, err := json.Marshal(snap)
	if err != nil {
		return errs.Wrap(err, errs.KindInternal, "store", "save_optimizer", snap.BotID)
	}
	row := OptimizerRecord{BotID: snap.BotID, Snapshot: blob}
	if err := s.upsert(&row); err != nil {
		return errs.Wrap(err, errs.KindExternal, "store", "save_optimizer", snap.BotID)
	}
	return nil
}

// LoadOptimizerStates returns every persisted optimizer snapshot keyed by
// bot id.
func (s *Store) LoadOptimizerStates() (map[string]*optimizer.Snapshot, error) {
	var rows []OptimizerRecord
	if err := s.db.Find(&rows).Error; err != nil {
		return nil, errs.Wrap(err, errs.KindExternal, "store", "load_optimizer", "querying rows")
	}

	out := make(map[string]*optimizer.Snapshot, len(rows))
	for _, row := range rows {
		var snap optimizer.Snapshot
		if err := json.Unmarshal(row.Snapshot, &snap); err != nil {
			return nil, errs.Wrap(err, errs.KindInternal, "store", "load_optimizer", "decoding "+row.BotID)
		}
		out[row.BotID] = &snap
	}
	return out, nil
}

// DeleteOptimizerState removes one bot's optimizer snapshot.
func (s *Store) DeleteOptimizerState(botID string) error {
	if err := s.db.Delete(&OptimizerRecord{}, "bot_id = ?", botID).Error; err != nil {
		return errs.Wrap(err, errs.KindExternal, "store", "delete_optimizer", botID)
	}
	return nil
}
