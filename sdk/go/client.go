package cyclonesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Cyclone HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	ActorID     string // legacy X-Actor-Id fallback when no token is set
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// WorkItem represents the API work item model (partial).
type WorkItem struct {
	ID          string       `json:"id"`
	OrderID     string       `json:"order_id"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Quantity    int          `json:"quantity"`
	CurrentStep string       `json:"current_step"`
	Status      string       `json:"status"`
	OnHold      bool         `json:"on_hold"`
	HoldReason  string       `json:"hold_reason,omitempty"`
	Priority    string       `json:"priority"`
	History     []AuditEntry `json:"audit_history,omitempty"`
}

// AuditEntry represents one audit trail record.
type AuditEntry struct {
	ID        string `json:"id"`
	ItemID    string `json:"item_id"`
	Timestamp string `json:"timestamp"`
	Step      string `json:"step"`
	Action    string `json:"action"`
	ActorID   string `json:"actor_id"`
	ActorName string `json:"actor_name"`
	Station   string `json:"station"`
	Notes     string `json:"notes,omitempty"`
}

// OrderSummary represents the order list model.
type OrderSummary struct {
	ID           string `json:"id"`
	CustomerName string `json:"customer_name"`
	OrderNumber  string `json:"order_number"`
	DueDate      string `json:"due_date"`
	ItemCount    int    `json:"item_count"`
	ReadyToShip  bool   `json:"ready_to_ship"`
}

// Order represents a full order with items.
type Order struct {
	ID           string     `json:"id"`
	CustomerName string     `json:"customer_name"`
	OrderNumber  string     `json:"order_number"`
	DueDate      string     `json:"due_date"`
	Items        []WorkItem `json:"items"`
}

// HeldItem pairs a held work item with its escalation class.
type HeldItem struct {
	Item      WorkItem `json:"item"`
	HoldHours float64  `json:"hold_hours"`
	Class     string   `json:"class"`
}

// ShipCheck reports whether an item can ship and why not.
type ShipCheck struct {
	CanShip bool   `json:"can_ship"`
	Reason  string `json:"reason,omitempty"`
}

// ActionResult reports a transition outcome.
type ActionResult struct {
	Applied bool `json:"applied"`
}

// Token is a badge login response.
type Token struct {
	Token string `json:"token"`
	Actor string `json:"actor_id"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

// ItemFilters narrows Items listings. Zero values are ignored.
type ItemFilters struct {
	Step   string
	Status string
	OnHold string // "true" or "false"
	Search string
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// BadgeLogin exchanges a badge id for a floor token and stores it on the client.
func (c *Client) BadgeLogin(ctx context.Context, badgeID string) (Token, error) {
	var resp Token
	err := c.do(ctx, http.MethodPost, "v0/auth/badge", map[string]any{"badge_id": badgeID}, &resp)
	if err == nil {
		c.BearerToken = resp.Token
	}
	return resp, err
}

// Item fetches a work item with its audit history.
func (c *Client) Item(ctx context.Context, id string) (WorkItem, error) {
	var resp WorkItem
	err := c.do(ctx, http.MethodGet, c.itemPath(id, ""), nil, &resp)
	return resp, err
}

// Items lists work items matching the filters.
func (c *Client) Items(ctx context.Context, f ItemFilters) ([]WorkItem, error) {
	q := url.Values{}
	if f.Step != "" {
		q.Set("step", f.Step)
	}
	if f.Status != "" {
		q.Set("status", f.Status)
	}
	if f.OnHold != "" {
		q.Set("on_hold", f.OnHold)
	}
	if f.Search != "" {
		q.Set("search", f.Search)
	}
	endpoint := "v0/items"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp []WorkItem
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// History returns an item's audit trail, most recent first.
func (c *Client) History(ctx context.Context, id string) ([]AuditEntry, error) {
	var resp []AuditEntry
	err := c.do(ctx, http.MethodGet, c.itemPath(id, "history"), nil, &resp)
	return resp, err
}

// Intake registers a new work item.
func (c *Client) Intake(ctx context.Context, id, orderID, name string, quantity int) (WorkItem, error) {
	body := map[string]any{
		"id":       id,
		"order_id": orderID,
		"name":     name,
		"quantity": quantity,
	}
	var resp WorkItem
	err := c.do(ctx, http.MethodPost, "v0/items", body, &resp)
	return resp, err
}

// Start begins work on an item at a station.
func (c *Client) Start(ctx context.Context, id, station string) (ActionResult, error) {
	return c.stationAction(ctx, id, "start", station)
}

// Complete finishes the current step and advances the item.
func (c *Client) Complete(ctx context.Context, id, station string) (ActionResult, error) {
	return c.stationAction(ctx, id, "complete", station)
}

// Ship ships an item from the Ship station.
func (c *Client) Ship(ctx context.Context, id string) (ActionResult, error) {
	return c.stationAction(ctx, id, "ship", "Ship")
}

// Hold places an item on hold.
func (c *Client) Hold(ctx context.Context, id, reason string) (ActionResult, error) {
	var resp ActionResult
	err := c.do(ctx, http.MethodPost, c.itemPath(id, "hold"), map[string]any{"reason": reason}, &resp)
	return resp, err
}

// Release releases an item from hold.
func (c *Client) Release(ctx context.Context, id string) (ActionResult, error) {
	var resp ActionResult
	err := c.do(ctx, http.MethodPost, c.itemPath(id, "release"), nil, &resp)
	return resp, err
}

// Rework sends an item back to the first station.
func (c *Client) Rework(ctx context.Context, id, notes string) (ActionResult, error) {
	var resp ActionResult
	err := c.do(ctx, http.MethodPost, c.itemPath(id, "rework"), map[string]any{"notes": notes}, &resp)
	return resp, err
}

// PassQC passes an item's QC inspection.
func (c *Client) PassQC(ctx context.Context, id string) (ActionResult, error) {
	var resp ActionResult
	err := c.do(ctx, http.MethodPost, c.itemPath(id, "qc/pass"), nil, &resp)
	return resp, err
}

// FailQC fails an item's QC inspection, holding it with the reason.
func (c *Client) FailQC(ctx context.Context, id, reason string) (ActionResult, error) {
	var resp ActionResult
	err := c.do(ctx, http.MethodPost, c.itemPath(id, "qc/fail"), map[string]any{"reason": reason}, &resp)
	return resp, err
}

// ShipCheck reports whether an item can ship.
func (c *Client) ShipCheck(ctx context.Context, id string) (ShipCheck, error) {
	var resp ShipCheck
	err := c.do(ctx, http.MethodGet, c.itemPath(id, "ship-check"), nil, &resp)
	return resp, err
}

// Orders lists orders; readyOnly narrows to those ready to ship.
func (c *Client) Orders(ctx context.Context, readyOnly bool) ([]OrderSummary, error) {
	endpoint := "v0/orders"
	if readyOnly {
		endpoint += "?ready=true"
	}
	var resp []OrderSummary
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Order fetches an order with its items.
func (c *Client) Order(ctx context.Context, id string) (Order, error) {
	var resp Order
	err := c.do(ctx, http.MethodGet, "v0/orders/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// Holds lists items on hold with their escalation class.
func (c *Client) Holds(ctx context.Context) ([]HeldItem, error) {
	var resp []HeldItem
	err := c.do(ctx, http.MethodGet, "v0/holds", nil, &resp)
	return resp, err
}

func (c *Client) stationAction(ctx context.Context, id, action, station string) (ActionResult, error) {
	var resp ActionResult
	err := c.do(ctx, http.MethodPost, c.itemPath(id, action), map[string]any{"station": station}, &resp)
	return resp, err
}

func (c *Client) itemPath(id, suffix string) string {
	p := "v0/items/" + url.PathEscape(id)
	if suffix != "" {
		p += "/" + suffix
	}
	return p
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.ActorID != "":
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
