package models

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// ItemType discriminates the purchasable entity a cart line points at
type ItemType string

const (
	ItemTypeCourse  ItemType = "course"
	ItemTypeProduct ItemType = "product"
	ItemTypeTrip    ItemType = "trip"
)

// Valid reports whether t is one of the known item types
func (t ItemType) Valid() bool {
	switch t {
	case ItemTypeCourse, ItemTypeProduct, ItemTypeTrip:
		return true
	}
	return false
}

// Payment statuses
const (
	PaymentStatusPending    = "pending"
	PaymentStatusSuccessful = "successful"
	PaymentStatusCancelled  = "cancelled"
)

// Cart line statuses
const (
	CartStatusPending  = "pending"
	CartStatusComplete = "complete"
)

// Purchasable entity statuses
const (
	EntityStatusPending   = "pending"
	EntityStatusPaid      = "paid"
	EntityStatusCancelled = "cancelled"
)

// PaymentRecord represents one checkout attempt
type PaymentRecord struct {
	ID         int64          `db:"id" json:"id"`
	UserID     int64          `db:"user_id" json:"user_id"`
	CartIDs    pq.Int64Array  `db:"cart_ids" json:"cart_ids"`
	SessionID  sql.NullString `db:"session_id" json:"-"`
	TotalPrice int64          `db:"total_price" json:"total_price"`
	Status     string         `db:"status" json:"status"`
	NotifiedAt sql.NullTime   `db:"notified_at" json:"-"`
	CreatedAt  time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time      `db:"updated_at" json:"updated_at"`
}

// CartLine is one purchasable unit within a payment
type CartLine struct {
	ID       int64    `db:"id" json:"id"`
	UserID   int64    `db:"user_id" json:"user_id"`
	ItemType ItemType `db:"item_type" json:"item_type"`
	ItemID   int64    `db:"item_id" json:"item_id"`
	Price    int64    `db:"price" json:"price"`
	Quantity int      `db:"quantity" json:"quantity"`
	Status   string   `db:"status" json:"status"`
}

// CourseBooking is a seat booked on a class
type CourseBooking struct {
	ID           int64     `db:"id" json:"id"`
	UserID       int64     `db:"user_id" json:"user_id"`
	ClassID      int64     `db:"class_id" json:"class_id"`
	Participants int       `db:"participants" json:"participants"`
	Price        int64     `db:"price" json:"price"`
	Status       string    `db:"status" json:"status"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// ProductOrder is an order for a physical product, optionally a single variant
type ProductOrder struct {
	ID         int64          `db:"id" json:"id"`
	UserID     int64          `db:"user_id" json:"user_id"`
	ProductID  int64          `db:"product_id" json:"product_id"`
	Quantity   sql.NullInt64  `db:"quantity" json:"quantity"`
	VariantKey sql.NullString `db:"variant_key" json:"variant_key"`
	Price      int64          `db:"price" json:"price"`
	Status     string         `db:"status" json:"status"`
	UpdatedAt  time.Time      `db:"updated_at" json:"updated_at"`
}

// TripBooking is a booking on a trip for one or more participants
type TripBooking struct {
	ID           int64        `db:"id" json:"id"`
	UserID       int64        `db:"user_id" json:"user_id"`
	TripID       int64        `db:"trip_id" json:"trip_id"`
	Participants Participants `db:"participants" json:"participants"`
	Price        int64        `db:"price" json:"price"`
	Status       string       `db:"status" json:"status"`
	UpdatedAt    time.Time    `db:"updated_at" json:"updated_at"`
}

// Participant is a traveller embedded in a trip booking
type Participant struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Participants is stored as a JSONB column
type Participants []Participant

// Value implements driver.Valuer
func (p Participants) Value() (driver.Value, error) {
	if p == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(p)
}

// Scan implements sql.Scanner
func (p *Participants) Scan(src interface{}) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*p = nil
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported participants column type %T", src)
	}
	return json.Unmarshal(data, p)
}

// Product represents a catalog product with a flat stock counter
type Product struct {
	ID        int64     `db:"id" json:"id"`
	Title     string    `db:"title" json:"title"`
	Price     int64     `db:"price" json:"price"`
	Quantity  int       `db:"quantity" json:"quantity"`
	InStock   bool      `db:"in_stock" json:"in_stock"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// ProductVariant is a color/size variant with its own stock counter
type ProductVariant struct {
	ProductID  int64  `db:"product_id" json:"product_id"`
	VariantKey string `db:"variant_key" json:"variant_key"`
	Quantity   int    `db:"quantity" json:"quantity"`
}

// User is the slice of the user directory this service reads
type User struct {
	ID    int64  `db:"id" json:"id"`
	Email string `db:"email" json:"email"`
}
