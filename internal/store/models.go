package store

import "time"

// Notification kinds
const (
	KindWarning = "warning"
	KindError   = "error"
	KindInfo    = "info"
	KindSuccess = "success"
)

// Credential states for a shelf's QR artifact
const (
	CredentialPending = "pending"
	CredentialReady   = "ready"
)

// Shelf is a physical sensor-equipped shelf unit
type Shelf struct {
	ID              int64     `json:"id"`
	ShelfCode       string    `json:"shelf_code"`
	Name            string    `json:"name"`
	MacIP           string    `json:"mac_ip"`
	Location        string    `json:"location"`
	CredentialPath  string    `json:"credential_path"`
	CredentialState string    `json:"credential_state"`
	UserIDs         []int64   `json:"user_ids"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// LoadCell is one inventory slot on a shelf, identified by (shelf, floor, col)
type LoadCell struct {
	ID                int64  `json:"id"`
	ShelfID           int64  `json:"shelf_id"`
	Slot              int    `json:"slot"`
	Name              string `json:"name"`
	Floor             int    `json:"floor"`
	Col               int    `json:"col"`
	ProductID         *int64 `json:"product_id"`
	PreviousProductID *int64 `json:"previous_product_id"`
	Quantity          int    `json:"quantity"`
	Fault             bool   `json:"fault"`
	Threshold         int    `json:"threshold"` // legacy per-cell threshold, not read at ingestion
}

// Product is a catalog item; Stock is the authoritative aggregate
type Product struct {
	ID          int64     `json:"id"`
	SKU         string    `json:"sku"`
	Name        string    `json:"name"`
	Price       float64   `json:"price"`
	Discount    float64   `json:"discount"`
	Stock       int       `json:"stock"`
	Threshold   int       `json:"threshold"`
	Weight      float64   `json:"weight"`
	MaxQuantity int       `json:"max_quantity"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// User is an operator account; only the lookup surface is owned here
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	RFID     string `json:"rfid"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`
	Role     string `json:"role"`
}

// History is an immutable audit record of one restock/pickup event.
// Pre/post snapshots are ordered, index-aligned product/quantity pairs.
type History struct {
	ID                    int64     `json:"id"`
	ShelfID               int64     `json:"shelf_id"`
	UserID                int64     `json:"user_id"`
	Notes                 string    `json:"notes"`
	PreProducts           []int64   `json:"pre_products"`
	PostProducts          []int64   `json:"post_products"`
	PreVerifiedQuantity   []int     `json:"pre_verified_quantity"`
	PostVerifiedQuantity  []int     `json:"post_verified_quantity"`
	CreatedAt             time.Time `json:"created_at"`
}

// Notification is a transient operator-facing alert
type Notification struct {
	ID         int64     `json:"id"`
	Message    string    `json:"message"`
	Kind       string    `json:"kind"`
	Category   string    `json:"category"`
	ShelfID    *int64    `json:"shelf_id"`
	LoadCellID *int64    `json:"load_cell_id"`
	ProductID  *int64    `json:"product_id"`
	UserID     *int64    `json:"user_id"`
	Read       bool      `json:"read"`
	CreatedAt  time.Time `json:"created_at"`
}

// Order is a completed sale, a stock consumer via History
type Order struct {
	ID        int64     `json:"id"`
	OrderCode string    `json:"order_code"`
	Status    string    `json:"status"`
	Amount    float64   `json:"amount"`
	CreatedAt time.Time `json:"created_at"`
}

// OrderDetail is one line item of an Order
type OrderDetail struct {
	ID        int64   `json:"id"`
	OrderID   int64   `json:"order_id"`
	ProductID int64   `json:"product_id"`
	Quantity  int     `json:"quantity"`
	Price     float64 `json:"price"`
}

// ProductStock is one row of a shelf's load-cell-derived stock view
type ProductStock struct {
	ProductID int64  `json:"product_id"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
}
