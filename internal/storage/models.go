package storage

import "time"

type LockerStatus string

const (
	LockerStatusActive   LockerStatus = "active"
	LockerStatusInactive LockerStatus = "inactive"
)

type Locker struct {
	ID              int64        `db:"id" json:"id"`
	ClientID        string       `db:"client_id" json:"clientId"`
	Address         string       `db:"address" json:"address"`
	Latitude        float64      `db:"latitude" json:"latitude"`
	Longitude       float64      `db:"longitude" json:"longitude"`
	Status          LockerStatus `db:"status" json:"status"`
	Approved        bool         `db:"approved" json:"approved"`
	ApprovedBy      *string      `db:"approved_by" json:"approvedBy,omitempty"`
	Secret          string       `db:"secret" json:"-"`
	SecretRotatedAt time.Time    `db:"secret_rotated_at" json:"secretRotatedAt"`
	SecretDelivered bool         `db:"secret_delivered" json:"-"`
	CreatedAt       time.Time    `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time    `db:"updated_at" json:"updatedAt"`
	Version         int64        `db:"version" json:"version"`
}

func (l *Locker) Active() bool {
	return l.Status == LockerStatusActive
}

type CompartmentStatus string

const (
	CompartmentFree CompartmentStatus = "free"
	CompartmentBusy CompartmentStatus = "busy"
)

type Condition string

const (
	ConditionGood   Condition = "good"
	ConditionClean  Condition = "clean"
	ConditionDirty  Condition = "dirty"
	ConditionBroken Condition = "broken"
)

// Usable reports whether a compartment in this condition may take new orders.
func (c Condition) Usable() bool {
	return c == ConditionGood || c == ConditionClean
}

type Compartment struct {
	ID          int64             `db:"id" json:"id"`
	LockerID    int64             `db:"locker_id" json:"lockerId"`
	DeviceRef   int64             `db:"device_ref" json:"deviceRef"` // id reported by the locker itself
	Size        int               `db:"size" json:"size"`
	Temperature int               `db:"temperature" json:"temperature"`
	Status      CompartmentStatus `db:"status" json:"status"`
	Condition   Condition         `db:"condition" json:"condition"`
	Version     int64             `db:"version" json:"version"`
}

type ReservationStatus string

const (
	StatusPending              ReservationStatus = "pending"
	StatusConfirmed            ReservationStatus = "confirmed"
	StatusWaitingBakeryDropOff ReservationStatus = "waiting_bakery_drop_off"
	StatusPickupOrder          ReservationStatus = "pickup_order"
	StatusCompleted            ReservationStatus = "completed"
	StatusWaitingCleaning      ReservationStatus = "waiting_cleaning"
	StatusExpired              ReservationStatus = "expired"
	StatusCanceled             ReservationStatus = "canceled"
)

// BlockingStatuses occupy their compartment for the whole window. Pending
// rows only block while their hold is live; that part is checked against
// expires_at separately.
var BlockingStatuses = []ReservationStatus{
	StatusConfirmed,
	StatusWaitingBakeryDropOff,
	StatusPickupOrder,
}

type Reservation struct {
	ID               int64             `db:"id" json:"id"`
	UserID           int64             `db:"user_id" json:"userId"`
	BakeryID         int64             `db:"bakery_id" json:"bakeryId"`
	LockerID         int64             `db:"locker_id" json:"lockerId"`
	CompartmentID    int64             `db:"compartment_id" json:"compartmentId"`
	Status           ReservationStatus `db:"status" json:"status"`
	ReservationStart time.Time         `db:"reservation_start" json:"reservationStart"`
	ReservationEnd   time.Time         `db:"reservation_end" json:"reservationEnd"`
	DeliveryTime     time.Time         `db:"delivery_time" json:"deliveryTime"`
	ExpiresAt        *time.Time        `db:"expires_at" json:"expiresAt,omitempty"`
	QRCodeData       string            `db:"qr_code_data" json:"qrCodeData,omitempty"`
	QRToken          string            `db:"qr_token" json:"-"`
	CreatedAt        time.Time         `db:"created_at" json:"createdAt"`
	UpdatedAt        time.Time         `db:"updated_at" json:"updatedAt"`
	Version          int64             `db:"version" json:"version"`
}

// LiveHold reports whether a pending reservation still holds its compartment at now.
func (r *Reservation) LiveHold(now time.Time) bool {
	return r.Status == StatusPending && r.ExpiresAt != nil && r.ExpiresAt.After(now)
}

type User struct {
	ID        int64     `db:"id" json:"id"`
	Phone     string    `db:"phone" json:"phone"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

type Bakery struct {
	ID           int64     `db:"id" json:"id"`
	Name         string    `db:"name" json:"name"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
}

// ReservationFilter narrows ListReservations. Zero values mean no filter.
type ReservationFilter struct {
	Statuses []ReservationStatus
	BakeryID int64
	LockerID int64
}
