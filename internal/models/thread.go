package models

import "time"

// Role is the side a user occupies in a thread.
type Role string

const (
	RoleSeller Role = "seller"
	RoleBuyer  Role = "buyer"
)

// Opposite returns the other side of the thread.
func (r Role) Opposite() Role {
	if r == RoleSeller {
		return RoleBuyer
	}
	return RoleSeller
}

// Thread is a one-to-one conversation between a seller and a buyer.
type Thread struct {
	ID        int       `db:"id" json:"id"`
	SellerID  int       `db:"seller_id" json:"seller_id"`
	BuyerID   int       `db:"buyer_id" json:"buyer_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// RoleOf reports which side userID occupies, if any.
func (t Thread) RoleOf(userID int) (Role, bool) {
	switch userID {
	case t.SellerID:
		return RoleSeller, true
	case t.BuyerID:
		return RoleBuyer, true
	}
	return "", false
}

// UserFor returns the user on the given side.
func (t Thread) UserFor(role Role) int {
	if role == RoleSeller {
		return t.SellerID
	}
	return t.BuyerID
}

// Counterpart returns the other participant for userID.
func (t Thread) Counterpart(userID int) int {
	if userID == t.SellerID {
		return t.BuyerID
	}
	return t.SellerID
}

// ParticipantState holds one side's flags for a thread.
type ParticipantState struct {
	ThreadID    int  `db:"thread_id" json:"thread_id"`
	Role        Role `db:"role" json:"role"`
	UserID      int  `db:"user_id" json:"user_id"`
	Archived    bool `db:"archived" json:"archived"`
	Muted       bool `db:"muted" json:"muted"`
	Blocked     bool `db:"blocked" json:"blocked"`
	MutedUnread int  `db:"muted_unread" json:"muted_unread"`
}

// ParticipantFlags is a partial update of a participant's flags.
type ParticipantFlags struct {
	Archived *bool `json:"archived"`
	Muted    *bool `json:"muted"`
	Blocked  *bool `json:"blocked"`
}

// Empty reports whether no flag is set.
func (f ParticipantFlags) Empty() bool {
	return f.Archived == nil && f.Muted == nil && f.Blocked == nil
}

// ThreadSummary is a thread as seen from one participant's thread list.
type ThreadSummary struct {
	ID                int        `db:"id" json:"id"`
	SellerID          int        `db:"seller_id" json:"seller_id"`
	BuyerID           int        `db:"buyer_id" json:"buyer_id"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
	Role              Role       `db:"role" json:"role"`
	CounterpartID     int        `db:"counterpart_id" json:"counterpart_id"`
	CounterpartName   string     `db:"counterpart_name" json:"counterpart_name"`
	CounterpartAvatar string     `db:"counterpart_avatar" json:"counterpart_avatar,omitempty"`
	CounterpartOnline bool       `db:"-" json:"counterpart_online"`
	LastText          *string    `db:"last_text" json:"last_text"`
	LastAt            *time.Time `db:"last_at" json:"last_at"`
	Unread            int        `db:"unread" json:"unread"`
	Archived          bool       `db:"archived" json:"archived"`
	Muted             bool       `db:"muted" json:"muted"`
	Blocked           bool       `db:"blocked" json:"blocked"`
	MutedUnread       int        `db:"muted_unread" json:"muted_unread"`
}

// Role filters for thread listing.
const (
	RoleFilterAll    = "all"
	RoleFilterSeller = "seller"
	RoleFilterBuyer  = "buyer"
)

// Archived filters for thread listing.
const (
	ArchivedInclude = "include"
	ArchivedExclude = "exclude"
	ArchivedOnly    = "only"
)

// ThreadFilter narrows listThreadsFor.
type ThreadFilter struct {
	Role     string
	Archived string
}

// Normalize fills defaults and reports whether the filter is valid.
func (f ThreadFilter) Normalize() (ThreadFilter, bool) {
	if f.Role == "" {
		f.Role = RoleFilterAll
	}
	if f.Archived == "" {
		f.Archived = ArchivedInclude
	}
	switch f.Role {
	case RoleFilterAll, RoleFilterSeller, RoleFilterBuyer:
	default:
		return f, false
	}
	switch f.Archived {
	case ArchivedInclude, ArchivedExclude, ArchivedOnly:
	default:
		return f, false
	}
	return f, true
}
