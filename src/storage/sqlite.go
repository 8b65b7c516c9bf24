package storage

import (
	"database/sql"
	"fmt"

	"candle-hub/src/helpers"
	"candle-hub/src/logger"
	"candle-hub/src/models"

	_ "modernc.org/sqlite"
)

// -----------------------------------------------------------------------------

type SQLiteBarStore struct {
	Config *models.MConfig
	DB     *sql.DB
	Logger *logger.Logger
}

// -----------------------------------------------------------------------------

func NewSQLiteBarStore(cfg *models.MConfig, log *logger.Logger) (*SQLiteBarStore, error) {
	return &SQLiteBarStore{
		Config: cfg,
		Logger: log,
	}, nil
}

// -----------------------------------------------------------------------------

func (d *SQLiteBarStore) Initialize() error {
	dsn := d.Config.Storage.DBPath

	// Open DB
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return err
	}

	if err := db.Ping(); err != nil {
		return err
	}

	d.DB = db

	// PRAGMA optimizations
	if _, err := db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		d.Logger.Warning("Failed to set WAL mode: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL;"); err != nil {
		d.Logger.Warning("Failed to set synchronous mode: %v", err)
	}

	return d.createTables()
}

// -----------------------------------------------------------------------------

func (d *SQLiteBarStore) createTables() error {
	// SQLite types: INTEGER for int64, TEXT for decimal strings (exact)
	query := `
		CREATE TABLE IF NOT EXISTS bars (
			venue TEXT,
			symbol TEXT,
			timeframe TEXT,
			open_time INTEGER,
			close_time INTEGER,
			open TEXT,
			high TEXT,
			low TEXT,
			close TEXT,
			volume TEXT,
			final INTEGER,
			PRIMARY KEY (venue, symbol, timeframe, open_time)
		);
	`
	if _, err := d.DB.Exec(query); err != nil {
		return fmt.Errorf("failed to create bars table: %w", err)
	}

	d.Logger.Info("SQLiteBarStore initialized at %s", d.Config.Storage.DBPath)
	return nil
}

// -----------------------------------------------------------------------------

// SaveBarsBulk upserts a batch of bars. An updated in-progress bar for the
// same open time replaces the previous row.
func (d *SQLiteBarStore) SaveBarsBulk(bars []models.MBar) error {
	if len(bars) == 0 {
		return nil
	}

	tx, err := d.DB.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO bars (venue, symbol, timeframe, open_time, close_time, open, high, low, close, volume, final)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, b := range bars {
		_, err := stmt.Exec(
			b.Venue, b.Symbol, b.Timeframe, b.OpenTime, b.CloseTime,
			b.Open.String(), b.High.String(), b.Low.String(), b.Close.String(), b.Volume.String(),
			boolToInt(b.Final),
		)
		if err != nil {
			return helpers.NewDatabaseError("failed to insert bar", err)
		}
	}

	return tx.Commit()
}

// -----------------------------------------------------------------------------

// Close the database connection
func (d *SQLiteBarStore) Close() error {
	if d.DB == nil {
		return nil
	}
	return d.DB.Close()
}

// -----------------------------------------------------------------------------

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
