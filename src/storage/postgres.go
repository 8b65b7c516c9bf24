package storage

import (
	"database/sql"
	"fmt"

	"candle-hub/src/helpers"
	"candle-hub/src/logger"
	"candle-hub/src/models"

	_ "github.com/lib/pq"
)

// -----------------------------------------------------------------------------

type PostgresBarStore struct {
	Config *models.MConfig
	DB     *sql.DB
	Logger *logger.Logger
}

// -----------------------------------------------------------------------------

func NewPostgresBarStore(cfg *models.MConfig, log *logger.Logger) (*PostgresBarStore, error) {
	if cfg.Storage.DBConnectionString == "" {
		return nil, fmt.Errorf("postgres connection string cannot be empty")
	}

	return &PostgresBarStore{
		Config: cfg,
		Logger: log,
	}, nil
}

// -----------------------------------------------------------------------------

func (d *PostgresBarStore) Initialize() error {
	dsn := d.Config.Storage.DBConnectionString
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return err
	}

	if err := db.Ping(); err != nil {
		return err
	}

	d.DB = db

	if err := d.createTables(); err != nil {
		return err
	}

	d.Logger.Info("PostgresBarStore initialized successfully")
	return nil
}

// -----------------------------------------------------------------------------

func (d *PostgresBarStore) createTables() error {
	// NUMERIC keeps the decimal fields exact end to end
	query := `
		CREATE TABLE IF NOT EXISTS bars (
			venue TEXT,
			symbol TEXT,
			timeframe TEXT,
			open_time BIGINT,
			close_time BIGINT,
			open NUMERIC,
			high NUMERIC,
			low NUMERIC,
			close NUMERIC,
			volume NUMERIC,
			final BOOLEAN,
			PRIMARY KEY (venue, symbol, timeframe, open_time)
		);
	`
	if _, err := d.DB.Exec(query); err != nil {
		return fmt.Errorf("failed to create bars table: %w", err)
	}

	return nil
}

// -----------------------------------------------------------------------------

// SaveBarsBulk upserts a batch of bars. An updated in-progress bar for the
// same open time replaces the previous row.
func (d *PostgresBarStore) SaveBarsBulk(bars []models.MBar) error {
	if len(bars) == 0 {
		return nil
	}

	tx, err := d.DB.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO bars (venue, symbol, timeframe, open_time, close_time, open, high, low, close, volume, final)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (venue, symbol, timeframe, open_time) DO UPDATE SET
			close_time = EXCLUDED.close_time,
			open = EXCLUDED.open,
			high = EXCLUDED.high,
			low = EXCLUDED.low,
			close = EXCLUDED.close,
			volume = EXCLUDED.volume,
			final = EXCLUDED.final
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, b := range bars {
		_, err := stmt.Exec(
			b.Venue, b.Symbol, b.Timeframe, b.OpenTime, b.CloseTime,
			b.Open.String(), b.High.String(), b.Low.String(), b.Close.String(), b.Volume.String(),
			b.Final,
		)
		if err != nil {
			return helpers.NewDatabaseError("failed to insert bar", err)
		}
	}

	return tx.Commit()
}

// -----------------------------------------------------------------------------

// Close the database connection
func (d *PostgresBarStore) Close() error {
	if d.DB == nil {
		return nil
	}
	return d.DB.Close()
}
