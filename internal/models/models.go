package models

import "time"

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// MatchStatus is the trip lifecycle state. Transitions only happen
// through the dispatcher; COMPLETED and CANCELLED are terminal.
type MatchStatus string

const (
	MatchWaiting    MatchStatus = "WAITING"
	MatchAccepted   MatchStatus = "ACCEPTED"
	MatchInProgress MatchStatus = "IN_PROGRESS"
	MatchCompleted  MatchStatus = "COMPLETED"
	MatchCancelled  MatchStatus = "CANCELLED"
)

func (s MatchStatus) Terminal() bool {
	return s == MatchCompleted || s == MatchCancelled
}

type Match struct {
	ID                 string      `json:"id"`
	RequesterID        string      `json:"requester_id"`
	DriverID           string      `json:"driver_id,omitempty"` // empty until accepted
	Pickup             Coord       `json:"pickup"`
	Destination        Coord       `json:"destination"`
	PickupAddress      string      `json:"pickup_address,omitempty"`
	DestinationAddress string      `json:"destination_address,omitempty"`
	VehicleType        string      `json:"vehicle_type"`
	Fare               int         `json:"fare"` // coins
	Status             MatchStatus `json:"status"`
	CreatedAt          time.Time   `json:"created_at"`
	AcceptedAt         *time.Time  `json:"accepted_at,omitempty"`
	StartedAt          *time.Time  `json:"started_at,omitempty"`
	CompletedAt        *time.Time  `json:"completed_at,omitempty"`
	CancelledAt        *time.Time  `json:"cancelled_at,omitempty"`
}

// DriverStatus mirrors what the directory tracks for dispatch eligibility.
type DriverStatus string

const (
	DriverOffline DriverStatus = "OFFLINE"
	DriverOnline  DriverStatus = "ONLINE"
	DriverBusy    DriverStatus = "BUSY"
)

type Driver struct {
	ID             string       `json:"id"`
	Loc            Coord        `json:"loc"`
	VehicleType    string       `json:"vehicle_type"`
	Rating         float64      `json:"rating"`          // 0..5
	AcceptanceRate float64      `json:"acceptance_rate"` // 0..100
	CompletionRate float64      `json:"completion_rate"` // 0..100
	RidesAccepted  int          `json:"rides_accepted"`
	RidesCompleted int          `json:"rides_completed"`
	Status         DriverStatus `json:"status"`
	Updated        time.Time    `json:"updated"`
}

// DriverCandidate is computed per matching attempt and never persisted.
type DriverCandidate struct {
	DriverID         string  `json:"driver_id"`
	Loc              Coord   `json:"loc"`
	DistanceToPickup float64 `json:"distance_to_pickup_km"`
	Rating           float64 `json:"rating"`
	AcceptanceRate   float64 `json:"acceptance_rate"`
	CompletionRate   float64 `json:"completion_rate"`
	RidesCompleted   int     `json:"rides_completed"`
	MatchScore       float64 `json:"match_score"`
	ETAMinutes       int     `json:"eta_minutes"`
}

// Session is the communication channel bound 1:1 to a match.
type Session struct {
	ID        string     `json:"id"`
	MatchID   string     `json:"match_id"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Active    bool       `json:"active"`
}

type ReportStatus string

const (
	ReportPending    ReportStatus = "PENDING"
	ReportProcessing ReportStatus = "PROCESSING"
	ReportResolved   ReportStatus = "RESOLVED"
	ReportRejected   ReportStatus = "REJECTED"
)

func (s ReportStatus) Terminal() bool {
	return s == ReportResolved || s == ReportRejected
}

type ReportCategory string

const (
	CategorySafety   ReportCategory = "SAFETY"
	CategoryBehavior ReportCategory = "BEHAVIOR"
	CategoryLostItem ReportCategory = "LOST_ITEM"
	CategoryPayment  ReportCategory = "PAYMENT"
	CategoryAppIssue ReportCategory = "APP_ISSUE"
	CategoryOther    ReportCategory = "OTHER"
)

// SanctionAction is the closed set of resolution actions an admin can take.
type SanctionAction string

const (
	ActionWarning       SanctionAction = "WARNING"
	ActionLock7Days     SanctionAction = "LOCK_7_DAYS"
	ActionLock30Days    SanctionAction = "LOCK_30_DAYS"
	ActionLockPermanent SanctionAction = "LOCK_PERMANENT"
)

type Report struct {
	ID             string         `json:"id"`
	ReporterID     string         `json:"reporter_id"`
	ReportedUserID string         `json:"reported_user_id,omitempty"`
	MatchID        string         `json:"match_id,omitempty"`
	Title          string         `json:"title"`
	Description    string         `json:"description"`
	Category       ReportCategory `json:"category"`
	Status         ReportStatus   `json:"status"`
	Action         SanctionAction `json:"resolution_action,omitempty"`
	Notes          string         `json:"resolution_notes,omitempty"`
	ResolvedBy     string         `json:"resolved_by,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	ResolvedAt     *time.Time     `json:"resolved_at,omitempty"`
}

// UserSanction is the per-user escalation state: unresolved warning
// count and the lock expiry, if any.
type UserSanction struct {
	UserID      string     `json:"user_id"`
	Warnings    int        `json:"warnings"`
	LockedUntil *time.Time `json:"locked_until,omitempty"`
}

// Voucher is a coin-priced reward users redeem from their balance.
type Voucher struct {
	ID        string    `json:"id"`
	Code      string    `json:"code"`
	Cost      int       `json:"cost"` // coins
	Active    bool      `json:"active"`
	ExpiresAt time.Time `json:"expires_at"`
}

type UserVoucher struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	VoucherID  string    `json:"voucher_id"`
	AcquiredAt time.Time `json:"acquired_at"`
}
