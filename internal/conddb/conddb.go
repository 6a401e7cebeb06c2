// Package conddb retrieves calibration constants from the conditions
// database.
package conddb

import (
	"context"
	"fmt"
	"math"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"firestige.xyz/lappd/internal/calib"
)

const drvName = "mysql"

// Row is one per-capacitor calibration constant.
type Row struct {
	Board     string  `db:"board"`
	Channel   uint8   `db:"channel"`
	Capacitor int     `db:"capacitor"`
	Value     float64 `db:"value"`
}

// DB exposes the calibration tables of the conditions database.
type DB struct {
	db *sqlx.DB
}

// Open connects to the conditions database described by dsn, for example
// "user:pass@tcp(host:3306)/lappd".
func Open(dsn string) (*DB, error) {
	db, err := sqlx.Open(drvName, dsn)
	if err != nil {
		return nil, fmt.Errorf("conddb: could not open db: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("conddb: could not ping db: %w", err)
	}
	return &DB{db: db}, nil
}

func (db *DB) Close() error {
	return db.db.Close()
}

// Pedestal returns the pedestal table of a board.
func (db *DB) Pedestal(ctx context.Context, board string) (*calib.PedestalTable, error) {
	rows, err := db.rows(ctx, "pedestal", board)
	if err != nil {
		return nil, err
	}
	return &calib.PedestalTable{Board: board, Mean: Tabulate(rows, math.NaN())}, nil
}

// Gain returns the gain table of a board.
func (db *DB) Gain(ctx context.Context, board string) (*calib.GainTable, error) {
	rows, err := db.rows(ctx, "gain", board)
	if err != nil {
		return nil, err
	}
	return &calib.GainTable{Board: board, Factor: Tabulate(rows, math.NaN())}, nil
}

func (db *DB) rows(ctx context.Context, table, board string) ([]Row, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var rows []Row
	query := fmt.Sprintf(
		"SELECT board, channel, capacitor, value FROM %s WHERE board = ? ORDER BY channel, capacitor",
		table,
	)
	if err := db.db.SelectContext(ctx, &rows, query, board); err != nil {
		return nil, fmt.Errorf("conddb: could not query %s of board %s: %w", table, board, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("conddb: no %s rows for board %s", table, board)
	}
	return rows, nil
}

// Tabulate groups rows by channel into capacitor-indexed slices. Capacitors
// without a row hold fill.
func Tabulate(rows []Row, fill float64) map[uint8][]float64 {
	size := make(map[uint8]int)
	for _, r := range rows {
		if r.Capacitor < 0 {
			continue
		}
		if r.Capacitor+1 > size[r.Channel] {
			size[r.Channel] = r.Capacitor + 1
		}
	}

	out := make(map[uint8][]float64, len(size))
	for ch, n := range size {
		vs := make([]float64, n)
		for i := range vs {
			vs[i] = fill
		}
		out[ch] = vs
	}
	for _, r := range rows {
		if r.Capacitor < 0 {
			continue
		}
		out[r.Channel][r.Capacitor] = r.Value
	}
	return out
}
