package domain

import (
	"time"
)

// DiscountType represents how a coupon discount is computed
type DiscountType string

const (
	DiscountTypePercentage DiscountType = "percentage"
	DiscountTypeFixed      DiscountType = "fixed"
)

// IsValid checks if the discount type is known
func (d DiscountType) IsValid() bool {
	return d == DiscountTypePercentage || d == DiscountTypeFixed
}

// Coupon represents a discount coupon definition
type Coupon struct {
	ID              string       `json:"id"`
	Code            string       `json:"code"`
	DiscountType    DiscountType `json:"discount_type"`
	DiscountValue   float64      `json:"discount_value"`
	MaxDiscount     float64      `json:"max_discount,omitempty"`
	MinOrderAmount  float64      `json:"min_order_amount"`
	UsageLimit      int          `json:"usage_limit"`
	UsedCount       int          `json:"used_count"`
	ApplicableItems []string     `json:"applicable_items,omitempty"`
	IsActive        bool         `json:"is_active"`
	ValidFrom       time.Time    `json:"valid_from"`
	ValidUntil      time.Time    `json:"valid_until"`
	CreatedAt       time.Time    `json:"created_at"`
}

// IsValidAt checks if the coupon is within its validity window
func (c *Coupon) IsValidAt(t time.Time) bool {
	if t.Before(c.ValidFrom) {
		return false
	}
	if !c.ValidUntil.IsZero() && t.After(c.ValidUntil) {
		return false
	}
	return true
}

// HasStock checks if the coupon usage limit has not been exhausted.
// A zero limit means unlimited.
func (c *Coupon) HasStock() bool {
	return c.UsageLimit == 0 || c.UsedCount < c.UsageLimit
}

// AppliesTo checks if the coupon can be applied to the given item.
// An empty applicability list means all items.
func (c *Coupon) AppliesTo(itemID string) bool {
	if len(c.ApplicableItems) == 0 {
		return true
	}
	for _, id := range c.ApplicableItems {
		if id == itemID {
			return true
		}
	}
	return false
}

// ComputeDiscount returns the discount for the given order amount,
// never exceeding the amount itself
func (c *Coupon) ComputeDiscount(amount float64) float64 {
	var discount float64
	switch c.DiscountType {
	case DiscountTypePercentage:
		discount = amount * c.DiscountValue / 100
		if c.MaxDiscount > 0 && discount > c.MaxDiscount {
			discount = c.MaxDiscount
		}
	case DiscountTypeFixed:
		discount = c.DiscountValue
	}
	if discount > amount {
		discount = amount
	}
	if discount < 0 {
		discount = 0
	}
	return discount
}

// UserCouponStatus represents the status of a coupon held by a user
type UserCouponStatus string

const (
	UserCouponStatusActive    UserCouponStatus = "ACTIVE"
	UserCouponStatusReserved  UserCouponStatus = "RESERVED"
	UserCouponStatusUsed      UserCouponStatus = "USED"
	UserCouponStatusCancelled UserCouponStatus = "CANCELLED"
	UserCouponStatusExpired   UserCouponStatus = "EXPIRED"
)

// IsValid checks if the status is a valid UserCouponStatus
func (s UserCouponStatus) IsValid() bool {
	switch s {
	case UserCouponStatusActive, UserCouponStatusReserved, UserCouponStatusUsed,
		UserCouponStatusCancelled, UserCouponStatusExpired:
		return true
	}
	return false
}

// UserCoupon represents a coupon instance owned by a user
type UserCoupon struct {
	ID         string           `json:"id"`
	UserID     string           `json:"user_id"`
	CouponID   string           `json:"coupon_id"`
	Status     UserCouponStatus `json:"status"`
	OrderID    string           `json:"order_id,omitempty"`
	AssignedAt time.Time        `json:"assigned_at"`
	UsedAt     *time.Time       `json:"used_at,omitempty"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

// BelongsTo checks if the user coupon is owned by the given user
func (uc *UserCoupon) BelongsTo(userID string) bool {
	return uc.UserID == userID
}

// Reserve marks the user coupon as held by an in-flight order
func (uc *UserCoupon) Reserve(orderID string) error {
	if uc.Status == UserCouponStatusReserved && uc.OrderID == orderID {
		return nil
	}
	if uc.Status != UserCouponStatusActive {
		return ErrCouponNotUsable
	}
	uc.Status = UserCouponStatusReserved
	uc.OrderID = orderID
	uc.UpdatedAt = time.Now()
	return nil
}

// ConfirmUsage marks the user coupon as consumed by a completed order
func (uc *UserCoupon) ConfirmUsage(orderID string) error {
	if uc.Status == UserCouponStatusUsed {
		return nil
	}
	if uc.Status != UserCouponStatusReserved && uc.Status != UserCouponStatusActive {
		return ErrCouponNotUsable
	}
	now := time.Now()
	uc.Status = UserCouponStatusUsed
	uc.OrderID = orderID
	uc.UsedAt = &now
	uc.UpdatedAt = now
	return nil
}

// CancelUsage releases the coupon back to the user after a failed order
func (uc *UserCoupon) CancelUsage() error {
	if uc.Status == UserCouponStatusActive {
		return nil
	}
	if uc.Status != UserCouponStatusReserved {
		return ErrCouponNotUsable
	}
	uc.Status = UserCouponStatusActive
	uc.OrderID = ""
	uc.UpdatedAt = time.Now()
	return nil
}
