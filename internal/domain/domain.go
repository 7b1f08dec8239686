package domain

import (
	"strings"
	"time"
)

// WorkflowStep is one station on the fixed production path.
type WorkflowStep string

const (
	StepSaw    WorkflowStep = "Saw"
	StepThread WorkflowStep = "Thread"
	StepCNC    WorkflowStep = "CNC"
	StepQC     WorkflowStep = "QC"
	StepShip   WorkflowStep = "Ship"
)

// Steps is the production path in order. Position defines next/previous;
// the only jump outside this order is the explicit rework transition.
var Steps = []WorkflowStep{StepSaw, StepThread, StepCNC, StepQC, StepShip}

var stepIndex = func() map[WorkflowStep]int {
	m := make(map[WorkflowStep]int, len(Steps))
	for i, s := range Steps {
		m[s] = i
	}
	return m
}()

// Next returns the following station, or false at the terminal step.
func (s WorkflowStep) Next() (WorkflowStep, bool) {
	i, ok := stepIndex[s]
	if !ok || i >= len(Steps)-1 {
		return "", false
	}
	return Steps[i+1], true
}

// Previous returns the preceding station, or false at the initial step.
func (s WorkflowStep) Previous() (WorkflowStep, bool) {
	i, ok := stepIndex[s]
	if !ok || i == 0 {
		return "", false
	}
	return Steps[i-1], true
}

func (s WorkflowStep) Valid() bool {
	_, ok := stepIndex[s]
	return ok
}

// ParseStep converts a string into a known WorkflowStep, case-insensitively.
func ParseStep(value string) (WorkflowStep, bool) {
	trimmed := strings.TrimSpace(value)
	for _, s := range Steps {
		if strings.EqualFold(trimmed, string(s)) {
			return s, true
		}
	}
	return "", false
}

// ItemStatus tracks progress within the current step, not overall completion.
// An item is Completed only once it has finished the terminal step.
type ItemStatus string

const (
	StatusPending    ItemStatus = "Pending"
	StatusInProgress ItemStatus = "In Progress"
	StatusCompleted  ItemStatus = "Completed"
)

var Statuses = []ItemStatus{StatusPending, StatusInProgress, StatusCompleted}

func ParseStatus(value string) (ItemStatus, bool) {
	trimmed := strings.TrimSpace(value)
	for _, s := range Statuses {
		if strings.EqualFold(trimmed, string(s)) {
			return s, true
		}
	}
	return "", false
}

// HoldReason is the closed set of reasons an item may be placed on hold.
type HoldReason string

const (
	HoldMaterialDefect       HoldReason = "Material Defect"
	HoldDimensionError       HoldReason = "Dimension Error"
	HoldMachineIssue         HoldReason = "Machine Issue"
	HoldSurfaceFinish        HoldReason = "Surface Finish"
	HoldDocumentationMissing HoldReason = "Documentation Missing"
	HoldCustomerRequest      HoldReason = "Customer Request"
)

var HoldReasons = []HoldReason{
	HoldMaterialDefect,
	HoldDimensionError,
	HoldMachineIssue,
	HoldSurfaceFinish,
	HoldDocumentationMissing,
	HoldCustomerRequest,
}

func ParseHoldReason(value string) (HoldReason, bool) {
	trimmed := strings.TrimSpace(value)
	for _, r := range HoldReasons {
		if strings.EqualFold(trimmed, string(r)) {
			return r, true
		}
	}
	return "", false
}

// Priority is advisory only and never affects transition legality.
type Priority string

const (
	PriorityLow    Priority = "Low"
	PriorityNormal Priority = "Normal"
	PriorityHigh   Priority = "High"
	PriorityUrgent Priority = "Urgent"
)

var Priorities = []Priority{PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent}

func ParsePriority(value string) (Priority, bool) {
	trimmed := strings.TrimSpace(value)
	for _, p := range Priorities {
		if strings.EqualFold(trimmed, string(p)) {
			return p, true
		}
	}
	return "", false
}

// AuditAction labels a transition in an item's audit history.
type AuditAction string

const (
	ActionCreated      AuditAction = "Created"
	ActionStarted      AuditAction = "Started"
	ActionCompleted    AuditAction = "Completed"
	ActionPlacedOnHold AuditAction = "Placed on Hold"
	ActionReleasedHold AuditAction = "Released from Hold"
	ActionSentToRework AuditAction = "Sent to Rework"
	ActionPassedQC     AuditAction = "Passed QC"
	ActionFailedQC     AuditAction = "Failed QC"
	ActionShipped      AuditAction = "Shipped"
)

// AuditEntry is one immutable record of a single transition. Entries are
// created by the engine atomically with the mutation they document and are
// never edited afterwards.
type AuditEntry struct {
	ID        string       `json:"id"`
	ItemID    string       `json:"item_id"`
	Timestamp time.Time    `json:"timestamp" format:"date-time"`
	Step      WorkflowStep `json:"step"`
	Action    AuditAction  `json:"action"`
	ActorID   string       `json:"actor_id"`
	ActorName string       `json:"actor_name"`
	Station   WorkflowStep `json:"station,omitempty"`
	Notes     string       `json:"notes,omitempty"`
}

// WorkItem is one unit of production work moving through the step sequence.
type WorkItem struct {
	ID            string       `json:"id"`
	OrderID       string       `json:"order_id"`
	Name          string       `json:"name"`
	Description   string       `json:"description,omitempty"`
	Quantity      int          `json:"quantity"`
	CurrentStep   WorkflowStep `json:"current_step" enum:"Saw,Thread,CNC,QC,Ship"`
	Status        ItemStatus   `json:"status" enum:"Pending,In Progress,Completed"`
	OnHold        bool         `json:"on_hold"`
	HoldReason    HoldReason   `json:"hold_reason,omitempty"`
	HoldTimestamp *time.Time   `json:"hold_timestamp,omitempty" format:"date-time"`
	Priority      Priority     `json:"priority" enum:"Low,Normal,High,Urgent"`
	AuditHistory  []AuditEntry `json:"audit_history,omitempty"`
	CreatedAt     time.Time    `json:"created_at" format:"date-time"`
	UpdatedAt     time.Time    `json:"updated_at" format:"date-time"`
}

// HoldAge returns how long the item has been held as of now, or zero when not held.
func (i WorkItem) HoldAge(now time.Time) time.Duration {
	if !i.OnHold || i.HoldTimestamp == nil {
		return 0
	}
	return now.Sub(*i.HoldTimestamp)
}

// Order groups related work items for one customer shipment.
type Order struct {
	ID           string     `json:"id"`
	CustomerName string     `json:"customer_name"`
	OrderNumber  string     `json:"order_number"`
	DueDate      time.Time  `json:"due_date" format:"date-time"`
	CreatedAt    time.Time  `json:"created_at" format:"date-time"`
	Items        []WorkItem `json:"items,omitempty"`
}

// ReadyToShip reports whether every item in the order sits at the Ship
// station and is not on hold. Empty orders are never ready.
func (o Order) ReadyToShip() bool {
	if len(o.Items) == 0 {
		return false
	}
	for _, item := range o.Items {
		if item.CurrentStep != StepShip || item.OnHold {
			return false
		}
	}
	return true
}

// GeneralStockOrderID is the synthetic order holding items registered
// without a customer order.
const GeneralStockOrderID = "GENERAL-STOCK"

// HoldAgeClass splits held items into a supervisory escalation signal.
type HoldAgeClass string

const (
	HoldRecent HoldAgeClass = "recent"
	HoldAging  HoldAgeClass = "aging"
)

// ClassifyHoldAge buckets a hold age against the escalation threshold.
func ClassifyHoldAge(age, threshold time.Duration) HoldAgeClass {
	if age >= threshold {
		return HoldAging
	}
	return HoldRecent
}

// WorkItemFilter narrows item listings for station queues.
type WorkItemFilter struct {
	Step   *WorkflowStep
	Status *ItemStatus
	OnHold *bool
	Search string
}

// Matches applies the filter to one item.
func (f WorkItemFilter) Matches(item WorkItem) bool {
	if f.Step != nil && item.CurrentStep != *f.Step {
		return false
	}
	if f.Status != nil && item.Status != *f.Status {
		return false
	}
	if f.OnHold != nil && item.OnHold != *f.OnHold {
		return false
	}
	if f.Search != "" {
		q := strings.ToLower(f.Search)
		if !strings.Contains(strings.ToLower(item.ID), q) &&
			!strings.Contains(strings.ToLower(item.Name), q) &&
			!strings.Contains(strings.ToLower(item.Description), q) {
			return false
		}
	}
	return true
}

// DashboardStats aggregates the floor for supervisor views.
type DashboardStats struct {
	TotalItems  int                  `json:"total_items"`
	ByStatus    map[ItemStatus]int   `json:"by_status"`
	ByStep      map[WorkflowStep]int `json:"by_step"`
	OnHoldCount int                  `json:"on_hold_count"`
}
