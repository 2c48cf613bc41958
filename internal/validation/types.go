package validation

import (
	"encoding/json"
	"fmt"
	"strings"
)

// OrderLine is one cart line sent by the storefront.
type OrderLine struct {
	ProductID string `json:"_id" validate:"required"`
	Quantity  int    `json:"quantity"` // range checked by checkout so it can report per-line issues
}

// PlaceOrderRequest is the payload for POST /order/place.
type PlaceOrderRequest struct {
	Items     []OrderLine    `json:"items" validate:"required,min=1,dive"`
	Amount    float64        `json:"amount" validate:"gte=0"`
	Address   map[string]any `json:"address" validate:"required,min=1"`
	PromoCode string         `json:"promoCode,omitempty" validate:"omitempty,max=32"`
}

// VerifyRequest is the payload for POST /order/verify.
type VerifyRequest struct {
	OrderID string   `json:"orderId" validate:"required"`
	Success FlexBool `json:"success"`
}

// UpdateStatusRequest is the payload for POST /order/updatestatus.
type UpdateStatusRequest struct {
	OrderID string `json:"orderId" validate:"required"`
	Status  string `json:"status" validate:"required,max=64"`
}

// ProductRequest is the payload for POST /textile/add.
type ProductRequest struct {
	ID          string  `json:"_id,omitempty"`
	Name        string  `json:"name" validate:"required,max=200"`
	Description string  `json:"description" validate:"max=5000"`
	Price       float64 `json:"price" validate:"gte=0"`
	Category    string  `json:"category" validate:"required,max=100"`
	Image       string  `json:"image,omitempty" validate:"omitempty,max=2048"`
	Stock       *int    `json:"stock,omitempty" validate:"omitempty,gte=0"`
}

// IDRequest carries a bare product id (DELETE /textile/remove).
type IDRequest struct {
	ID string `json:"id" validate:"required"`
}

// AdjustStockRequest is the payload for POST /textile/adjust-stock. Exactly
// one of Delta and Set is required.
type AdjustStockRequest struct {
	ID    string `json:"id" validate:"required"`
	Delta *int   `json:"delta,omitempty"`
	Set   *int   `json:"set,omitempty" validate:"omitempty,gte=0"`
}

// RegisterRequest is the payload for POST /user/register.
type RegisterRequest struct {
	Name     string `json:"name" validate:"required,max=100"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

// LoginRequest is the payload for POST /user/login.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// AdminLoginRequest is the payload for POST /admin/login.
type AdminLoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// ProfileRequest is the payload for PUT /user/profile. Absent fields are left
// unchanged.
type ProfileRequest struct {
	Name        *string           `json:"name,omitempty" validate:"omitempty,min=1,max=100"`
	Email       *string           `json:"email,omitempty" validate:"omitempty,email"`
	Password    *string           `json:"password,omitempty" validate:"omitempty,min=8,max=72"`
	Phone       *string           `json:"phone,omitempty" validate:"omitempty,max=32"`
	Address     map[string]string `json:"address,omitempty"`
	Preferences map[string]string `json:"preferences,omitempty"`
}

// CartRequest is the payload for POST /cart/add and /cart/remove.
type CartRequest struct {
	ItemID string `json:"itemId" validate:"required"`
}

// PromoRequest is the payload for POST /promo/validate.
type PromoRequest struct {
	Code string `json:"code" validate:"required,max=32"`
}

// InvoiceRequest is the optional body of POST /invoice/generate/:orderId.
type InvoiceRequest struct {
	HTMLContent string `json:"htmlContent"`
}

// ListQuery holds the catalog listing query string.
type ListQuery struct {
	Search    string   `form:"search" validate:"max=200"`
	Category  string   `form:"category" validate:"max=100"`
	MinPrice  *float64 `form:"minPrice" validate:"omitempty,gte=0"`
	MaxPrice  *float64 `form:"maxPrice" validate:"omitempty,gte=0"`
	SortBy    string   `form:"sortBy" validate:"omitempty,oneof=name price category createdAt stock"`
	SortOrder string   `form:"sortOrder" validate:"omitempty,oneof=asc desc"`
	Page      int      `form:"page" validate:"gte=0"`
	Limit     int      `form:"limit" validate:"gte=0,lte=100"`
}

// UserListQuery holds the admin user listing query string.
type UserListQuery struct {
	Search string `form:"search" validate:"max=200"`
	Page   int    `form:"page" validate:"gte=0"`
	Limit  int    `form:"limit" validate:"gte=0,lte=100"`
}

// FlexBool accepts true/false as a JSON boolean or string, as sent by the
// payment return page.
type FlexBool bool

func (b *FlexBool) UnmarshalJSON(raw []byte) error {
	var v bool
	if err := json.Unmarshal(raw, &v); err == nil {
		*b = FlexBool(v)
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return fmt.Errorf("success must be a boolean")
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1":
		*b = true
	case "false", "0", "":
		*b = false
	default:
		return fmt.Errorf("success must be a boolean, got %q", s)
	}
	return nil
}
