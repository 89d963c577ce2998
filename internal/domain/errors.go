package domain

import "errors"

// Domain errors
var (
	// Order errors
	ErrOrderNotFound        = errors.New("order not found")
	ErrInvalidOrderID       = errors.New("invalid order id")
	ErrInvalidOrderStatus   = errors.New("invalid order status")
	ErrOrderAlreadyTerminal = errors.New("order already in terminal state")
	ErrAmountMismatch       = errors.New("final amount does not match total minus discount")

	// User errors
	ErrUserNotFound          = errors.New("user not found")
	ErrInvalidUserID         = errors.New("invalid user id")
	ErrInvalidUsername       = errors.New("invalid username")
	ErrUserInactive          = errors.New("user is not active")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInvalidInventorySlots = errors.New("invalid max inventory slots")
	ErrInsufficientSlots     = errors.New("insufficient inventory slots")

	// Item errors
	ErrItemNotFound      = errors.New("item not found")
	ErrInvalidItemID     = errors.New("invalid item id")
	ErrInvalidItemName   = errors.New("invalid item name")
	ErrItemInactive      = errors.New("item is not active")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidStock      = errors.New("invalid stock")
	ErrInvalidQuantity   = errors.New("invalid quantity")
	ErrInvalidAmount     = errors.New("invalid amount")

	// Reservation errors
	ErrReservationNotFound        = errors.New("reservation not found")
	ErrReservationAlreadyTerminal = errors.New("reservation already in terminal state")

	// Coupon errors
	ErrCouponNotFound       = errors.New("coupon not found")
	ErrUserCouponNotFound   = errors.New("user coupon not found")
	ErrCouponNotOwned       = errors.New("coupon not owned by user")
	ErrCouponNotUsable      = errors.New("coupon not in a usable state")
	ErrCouponInactive       = errors.New("coupon is not active")
	ErrCouponExpired        = errors.New("coupon has expired")
	ErrCouponOutOfStock     = errors.New("coupon usage limit reached")
	ErrCouponMinOrderNotMet = errors.New("order amount below coupon minimum")
	ErrCouponNotApplicable  = errors.New("coupon not applicable to item")

	// Lock errors
	ErrLockNotAcquired = errors.New("failed to acquire lock")
)

// Failure reasons carried in *_FAILED events. Reasons are stable wire
// strings, not prose.
const (
	ReasonUserNotFound      = "user-not-found"
	ReasonUserInactive      = "user-inactive"
	ReasonInsufficientFunds = "insufficient-balance"
	ReasonInsufficientSlots = "insufficient-inventory-slots"

	ReasonItemNotFound      = "item-not-found"
	ReasonItemInactive      = "item-inactive"
	ReasonInsufficientStock = "insufficient-stock"

	ReasonReservationMissing = "reservation-missing"
	ReasonReservationExpired = "reservation-expired"
	ReasonPaymentDeclined    = "payment-declined"

	ReasonCouponNotFound      = "coupon-not-found"
	ReasonCouponNotOwned      = "coupon-not-owned"
	ReasonCouponInactive      = "coupon-inactive"
	ReasonCouponExpired       = "coupon-expired"
	ReasonCouponOutOfStock    = "coupon-out-of-stock"
	ReasonCouponMinOrder      = "min-order-not-met"
	ReasonCouponNotApplicable = "coupon-not-applicable"
	ReasonCouponInUse         = "coupon-in-use"

	ReasonLockContention = "lock-contention"
	ReasonSystemError    = "system-error"
)

// ReasonForError maps a domain error to its wire-level failure reason.
// Unknown errors map to system-error.
func ReasonForError(err error) string {
	switch {
	case errors.Is(err, ErrUserNotFound):
		return ReasonUserNotFound
	case errors.Is(err, ErrUserInactive):
		return ReasonUserInactive
	case errors.Is(err, ErrInsufficientBalance):
		return ReasonInsufficientFunds
	case errors.Is(err, ErrInsufficientSlots):
		return ReasonInsufficientSlots
	case errors.Is(err, ErrItemNotFound):
		return ReasonItemNotFound
	case errors.Is(err, ErrItemInactive):
		return ReasonItemInactive
	case errors.Is(err, ErrInsufficientStock):
		return ReasonInsufficientStock
	case errors.Is(err, ErrReservationNotFound):
		return ReasonReservationMissing
	case errors.Is(err, ErrCouponNotFound), errors.Is(err, ErrUserCouponNotFound):
		return ReasonCouponNotFound
	case errors.Is(err, ErrCouponNotOwned):
		return ReasonCouponNotOwned
	case errors.Is(err, ErrCouponInactive):
		return ReasonCouponInactive
	case errors.Is(err, ErrCouponNotUsable):
		return ReasonCouponInUse
	case errors.Is(err, ErrCouponExpired):
		return ReasonCouponExpired
	case errors.Is(err, ErrCouponOutOfStock):
		return ReasonCouponOutOfStock
	case errors.Is(err, ErrCouponMinOrderNotMet):
		return ReasonCouponMinOrder
	case errors.Is(err, ErrCouponNotApplicable):
		return ReasonCouponNotApplicable
	case errors.Is(err, ErrLockNotAcquired):
		return ReasonLockContention
	default:
		return ReasonSystemError
	}
}
