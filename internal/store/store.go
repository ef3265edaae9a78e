package store

import (
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

// Sentinel errors surfaced to handlers and the HTTP layer
var (
	ErrNotFound       = errors.New("not found")
	ErrUserNotFound   = errors.New("user not found")
	ErrDuplicateShelf = errors.New("shelf already exists")
)

// Store handles SQLite database operations
type Store struct {
	db *sql.DB
}

// NewStore creates a new database connection and applies the schema
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec(`PRAGMA foreign_keys = ON`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &Store{db: db}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// initSchema creates the database tables
func (s *Store) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT UNIQUE NOT NULL,
			rfid TEXT UNIQUE NOT NULL,
			email TEXT,
			full_name TEXT,
			role TEXT DEFAULT 'employee'
		)`,
		`CREATE TABLE IF NOT EXISTS shelves (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			shelf_code TEXT UNIQUE NOT NULL,
			name TEXT UNIQUE NOT NULL,
			mac_ip TEXT UNIQUE NOT NULL,
			location TEXT NOT NULL,
			credential_path TEXT DEFAULT '',
			credential_state TEXT DEFAULT 'pending',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS shelf_users (
			shelf_id INTEGER NOT NULL REFERENCES shelves(id) ON DELETE CASCADE,
			user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			PRIMARY KEY (shelf_id, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS products (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			sku TEXT,
			name TEXT NOT NULL,
			price REAL NOT NULL DEFAULT 0,
			discount REAL NOT NULL DEFAULT 0,
			stock INTEGER NOT NULL DEFAULT 0,
			threshold INTEGER NOT NULL DEFAULT 1,
			weight REAL NOT NULL DEFAULT 0,
			max_quantity INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS load_cells (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			shelf_id INTEGER NOT NULL REFERENCES shelves(id) ON DELETE CASCADE,
			slot INTEGER NOT NULL,
			name TEXT NOT NULL,
			floor INTEGER NOT NULL,
			col INTEGER NOT NULL,
			product_id INTEGER REFERENCES products(id),
			previous_product_id INTEGER REFERENCES products(id),
			quantity INTEGER NOT NULL DEFAULT 0,
			fault INTEGER NOT NULL DEFAULT 0,
			threshold INTEGER NOT NULL DEFAULT 1,
			UNIQUE(shelf_id, floor, col)
		)`,
		`CREATE TABLE IF NOT EXISTS histories (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			shelf_id INTEGER NOT NULL REFERENCES shelves(id),
			user_id INTEGER NOT NULL REFERENCES users(id),
			notes TEXT DEFAULT '',
			pre_products TEXT NOT NULL DEFAULT '[]',
			post_products TEXT NOT NULL DEFAULT '[]',
			pre_verified_quantity TEXT NOT NULL DEFAULT '[]',
			post_verified_quantity TEXT NOT NULL DEFAULT '[]',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS notifications (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			message TEXT NOT NULL,
			kind TEXT NOT NULL DEFAULT 'info',
			category TEXT DEFAULT '',
			shelf_id INTEGER REFERENCES shelves(id),
			load_cell_id INTEGER REFERENCES load_cells(id),
			product_id INTEGER REFERENCES products(id),
			user_id INTEGER REFERENCES users(id),
			read INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS orders (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			order_code TEXT UNIQUE NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			amount REAL NOT NULL DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS order_details (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			order_id INTEGER NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
			product_id INTEGER NOT NULL REFERENCES products(id),
			quantity INTEGER NOT NULL,
			price REAL NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_shelves_mac_ip ON shelves(mac_ip)`,
		`CREATE INDEX IF NOT EXISTS idx_load_cells_shelf_id ON load_cells(shelf_id)`,
		`CREATE INDEX IF NOT EXISTS idx_notifications_load_cell ON notifications(load_cell_id, kind, read)`,
		`CREATE INDEX IF NOT EXISTS idx_histories_shelf_id ON histories(shelf_id)`,
		`CREATE INDEX IF NOT EXISTS idx_users_rfid ON users(rfid)`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query: %w", err)
		}
	}

	return nil
}

// nullableID converts a sql.NullInt64 to an optional id
func nullableID(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

// toNullID converts an optional id to a sql.NullInt64
func toNullID(id *int64) sql.NullInt64 {
	if id == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *id, Valid: true}
}
