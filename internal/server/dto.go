package server

import (
	"time"

	"cyclone/internal/domain"
	"cyclone/internal/engine"
)

// Request payloads

type IntakeRequest struct {
	ID          string `json:"id"`
	OrderID     string `json:"order_id,omitempty"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	Quantity    int    `json:"quantity,omitempty" minimum:"0"`
	Priority    string `json:"priority,omitempty" enum:",Low,Normal,High,Urgent"`
}

type StationRequest struct {
	Station string `json:"station" enum:"Saw,Thread,CNC,QC,Ship"`
}

type HoldRequest struct {
	Reason string `json:"reason" enum:"Material Defect,Dimension Error,Machine Issue,Surface Finish,Documentation Missing,Customer Request"`
}

type ReworkRequest struct {
	Notes string `json:"notes,omitempty"`
}

type BadgeLoginRequest struct {
	BadgeID string `json:"badge_id"`
}

// Response payloads

type ActionResponse struct {
	Applied bool `json:"applied"`
}

type ShipCheckResponse struct {
	CanShip bool   `json:"can_ship"`
	Reason  string `json:"reason,omitempty"`
}

type HeldItemResponse struct {
	Item      domain.WorkItem     `json:"item"`
	HoldHours float64             `json:"hold_hours"`
	Class     domain.HoldAgeClass `json:"class" enum:"recent,aging"`
}

type OrderSummaryResponse struct {
	ID           string    `json:"id"`
	CustomerName string    `json:"customer_name"`
	OrderNumber  string    `json:"order_number"`
	DueDate      time.Time `json:"due_date" format:"date-time"`
	CreatedAt    time.Time `json:"created_at" format:"date-time"`
	ItemCount    int       `json:"item_count"`
	ReadyToShip  bool      `json:"ready_to_ship"`
}

type TokenResponse struct {
	Token string `json:"token"`
	Actor string `json:"actor_id"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

func orderSummary(o domain.Order) OrderSummaryResponse {
	return OrderSummaryResponse{
		ID:           o.ID,
		CustomerName: o.CustomerName,
		OrderNumber:  o.OrderNumber,
		DueDate:      o.DueDate,
		CreatedAt:    o.CreatedAt,
		ItemCount:    len(o.Items),
		ReadyToShip:  o.ReadyToShip(),
	}
}

func heldItemResponse(h engine.HeldItem) HeldItemResponse {
	return HeldItemResponse{
		Item:      h.Item,
		HoldHours: h.HoldAge.Hours(),
		Class:     h.Class,
	}
}
