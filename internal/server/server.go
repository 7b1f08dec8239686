package server

import (
	"context"
	"errors"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"cyclone/internal/domain"
	"cyclone/internal/engine"
	"cyclone/internal/packslip"
	"cyclone/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"precondition_failed"`
	Message string         `json:"message" example:"the requested action did not happen; state is unchanged"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Cyclone WCS API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the error envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Config))
	hcfg := huma.DefaultConfig("Cyclone WCS API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerStats(group, cfg.Engine)
	registerOrders(group, cfg.Engine)
	registerItems(group, cfg.Engine)
	registerWorkflow(group, cfg.Engine)
	registerHolds(group, cfg.Engine)
	registerAuth(group, cfg.Engine, cfg.Auth)
	registerPackingSlip(router, basePath, cfg.Engine)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "precondition_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
}

// rejected is returned when the engine declines a transition. State is
// unchanged; the caller should re-read and retry.
func rejected() huma.StatusError {
	return newAPIError(http.StatusConflict, "precondition_failed",
		"the requested action did not happen; state is unchanged", nil)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body struct {
			Status string `json:"status" example:"ok"`
		}
	}, error) {
		resp := &struct {
			Body struct {
				Status string `json:"status" example:"ok"`
			}
		}{}
		resp.Body.Status = "ok"
		return resp, nil
	})
}

func registerStats(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-stats",
		Method:      http.MethodGet,
		Path:        "/stats",
		Summary:     "Dashboard statistics",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body domain.DashboardStats
	}, error) {
		stats, err := e.Repo.Stats(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct{ Body domain.DashboardStats }{Body: stats}, nil
	})
}

func registerOrders(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-orders",
		Method:      http.MethodGet,
		Path:        "/orders",
		Summary:     "List orders",
	}, func(ctx context.Context, input *struct {
		Ready bool `query:"ready" doc:"only orders ready to ship"`
	}) (*struct {
		Body []OrderSummaryResponse
	}, error) {
		orders, err := e.Repo.ListOrders(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]OrderSummaryResponse, 0, len(orders))
		for _, o := range orders {
			if input.Ready && !o.ReadyToShip() {
				continue
			}
			out = append(out, orderSummary(o))
		}
		return &struct{ Body []OrderSummaryResponse }{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-order",
		Method:      http.MethodGet,
		Path:        "/orders/{order_id}",
		Summary:     "Get order with items",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		OrderID string `path:"order_id"`
	}) (*struct {
		Body domain.Order
	}, error) {
		o, err := e.Repo.GetOrderWithItems(ctx, input.OrderID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct{ Body domain.Order }{Body: o}, nil
	})
}

func registerItems(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-items",
		Method:      http.MethodGet,
		Path:        "/items",
		Summary:     "List work items",
	}, func(ctx context.Context, input *struct {
		Step   string `query:"step" enum:",Saw,Thread,CNC,QC,Ship"`
		Status string `query:"status" enum:",Pending,In Progress,Completed"`
		OnHold string `query:"on_hold" enum:",true,false"`
		Search string `query:"search"`
	}) (*struct {
		Body []domain.WorkItem
	}, error) {
		var filter domain.WorkItemFilter
		if input.Step != "" {
			step, ok := domain.ParseStep(input.Step)
			if !ok {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "unknown step", nil)
			}
			filter.Step = &step
		}
		if input.Status != "" {
			status, ok := domain.ParseStatus(input.Status)
			if !ok {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "unknown status", nil)
			}
			filter.Status = &status
		}
		if input.OnHold != "" {
			onHold := input.OnHold == "true"
			filter.OnHold = &onHold
		}
		filter.Search = input.Search
		items, err := e.Repo.ListItems(ctx, filter)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct{ Body []domain.WorkItem }{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-item",
		Method:      http.MethodGet,
		Path:        "/items/{item_id}",
		Summary:     "Get work item with audit history",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ItemID string `path:"item_id"`
	}) (*struct {
		Body domain.WorkItem
	}, error) {
		it, err := e.Repo.GetItemWithHistory(ctx, input.ItemID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct{ Body domain.WorkItem }{Body: it}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-item-history",
		Method:      http.MethodGet,
		Path:        "/items/{item_id}/history",
		Summary:     "Audit history, most recent first",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ItemID string `path:"item_id"`
	}) (*struct {
		Body []domain.AuditEntry
	}, error) {
		if _, err := e.Repo.GetItem(ctx, input.ItemID); err != nil {
			return nil, handleError(err)
		}
		entries, err := e.Repo.AuditHistory(ctx, input.ItemID)
		if err != nil {
			return nil, handleError(err)
		}
		// Storage order is chronological; display order is newest first.
		for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
			entries[i], entries[j] = entries[j], entries[i]
		}
		return &struct{ Body []domain.AuditEntry }{Body: entries}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "intake-item",
		Method:        http.MethodPost,
		Path:          "/items",
		Summary:       "Register a new work item",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body IntakeRequest
	}) (*struct {
		Body domain.WorkItem
	}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if strings.TrimSpace(input.Body.ID) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "id is required", nil)
		}
		var priority domain.Priority
		if input.Body.Priority != "" {
			var ok bool
			if priority, ok = domain.ParsePriority(input.Body.Priority); !ok {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "unknown priority", nil)
			}
		}
		it, ok, err := e.AddNewItem(ctx, input.Body.ID, actorFrom(p), engine.IntakeOptions{
			OrderID:     input.Body.OrderID,
			Name:        input.Body.Name,
			Description: input.Body.Description,
			Quantity:    input.Body.Quantity,
			Priority:    priority,
		})
		if err != nil {
			return nil, handleError(err)
		}
		if !ok {
			return nil, newAPIError(http.StatusConflict, "duplicate_intake", "item id already exists", map[string]any{"id": input.Body.ID})
		}
		return &struct{ Body domain.WorkItem }{Body: it}, nil
	})
}

func actorFrom(p Principal) engine.Actor {
	return engine.Actor{ID: p.ActorID, Name: p.Name}
}

// stationAction wires one station-gated transition endpoint.
func stationAction(api huma.API, e engine.Engine, opID, pathSuffix, summary string,
	fn func(ctx context.Context, itemID string, actor engine.Actor, station domain.WorkflowStep) (bool, error)) {
	huma.Register(api, huma.Operation{
		OperationID: opID,
		Method:      http.MethodPost,
		Path:        "/items/{item_id}/" + pathSuffix,
		Summary:     summary,
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		ItemID string `path:"item_id"`
		Body   StationRequest
	}) (*struct {
		Body ActionResponse
	}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		station, ok := domain.ParseStep(input.Body.Station)
		if !ok {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "unknown station", nil)
		}
		if err := requireStationRole(p, e.Config, station); err != nil {
			return nil, err
		}
		if _, err := e.Repo.GetItem(ctx, input.ItemID); err != nil {
			return nil, handleError(err)
		}
		applied, err := fn(ctx, input.ItemID, actorFrom(p), station)
		if err != nil {
			return nil, handleError(err)
		}
		if !applied {
			return nil, rejected()
		}
		return &struct{ Body ActionResponse }{Body: ActionResponse{Applied: true}}, nil
	})
}

func registerWorkflow(api huma.API, e engine.Engine) {
	stationAction(api, e, "start-step", "start", "Start work at the current station", e.StartStep)
	stationAction(api, e, "complete-step", "complete", "Complete the current step", e.CompleteStep)
	stationAction(api, e, "ship-item", "ship", "Ship the item", e.ShipItem)

	huma.Register(api, huma.Operation{
		OperationID: "hold-item",
		Method:      http.MethodPost,
		Path:        "/items/{item_id}/hold",
		Summary:     "Place item on hold",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		ItemID string `path:"item_id"`
		Body   HoldRequest
	}) (*struct {
		Body ActionResponse
	}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		reason, ok := domain.ParseHoldReason(input.Body.Reason)
		if !ok {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "unknown hold reason", nil)
		}
		if _, err := e.Repo.GetItem(ctx, input.ItemID); err != nil {
			return nil, handleError(err)
		}
		applied, err := e.PlaceOnHold(ctx, input.ItemID, reason, actorFrom(p))
		if err != nil {
			return nil, handleError(err)
		}
		if !applied {
			return nil, rejected()
		}
		return &struct{ Body ActionResponse }{Body: ActionResponse{Applied: true}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "release-item",
		Method:      http.MethodPost,
		Path:        "/items/{item_id}/release",
		Summary:     "Release item from hold",
		Errors:      []int{http.StatusNotFound, http.StatusConflict, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		ItemID string `path:"item_id"`
	}) (*struct {
		Body ActionResponse
	}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := e.Repo.GetItem(ctx, input.ItemID); err != nil {
			return nil, handleError(err)
		}
		applied, err := e.ReleaseHold(ctx, input.ItemID, actorFrom(p))
		if err != nil {
			return nil, handleError(err)
		}
		if !applied {
			return nil, rejected()
		}
		return &struct{ Body ActionResponse }{Body: ActionResponse{Applied: true}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "rework-item",
		Method:      http.MethodPost,
		Path:        "/items/{item_id}/rework",
		Summary:     "Send item back to the first station",
		Errors:      []int{http.StatusNotFound, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		ItemID string `path:"item_id"`
		Body   ReworkRequest
	}) (*struct {
		Body ActionResponse
	}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := e.Repo.GetItem(ctx, input.ItemID); err != nil {
			return nil, handleError(err)
		}
		applied, err := e.SendToRework(ctx, input.ItemID, actorFrom(p), input.Body.Notes)
		if err != nil {
			return nil, handleError(err)
		}
		if !applied {
			return nil, rejected()
		}
		return &struct{ Body ActionResponse }{Body: ActionResponse{Applied: true}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "pass-qc",
		Method:      http.MethodPost,
		Path:        "/items/{item_id}/qc/pass",
		Summary:     "Pass QC inspection",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		ItemID string `path:"item_id"`
	}) (*struct {
		Body ActionResponse
	}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := requireStationRole(p, e.Config, domain.StepQC); err != nil {
			return nil, err
		}
		if _, err := e.Repo.GetItem(ctx, input.ItemID); err != nil {
			return nil, handleError(err)
		}
		applied, err := e.PassQC(ctx, input.ItemID, actorFrom(p))
		if err != nil {
			return nil, handleError(err)
		}
		if !applied {
			return nil, rejected()
		}
		return &struct{ Body ActionResponse }{Body: ActionResponse{Applied: true}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "fail-qc",
		Method:      http.MethodPost,
		Path:        "/items/{item_id}/qc/fail",
		Summary:     "Fail QC inspection and hold the item",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		ItemID string `path:"item_id"`
		Body   HoldRequest
	}) (*struct {
		Body ActionResponse
	}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := requireStationRole(p, e.Config, domain.StepQC); err != nil {
			return nil, err
		}
		reason, ok := domain.ParseHoldReason(input.Body.Reason)
		if !ok {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "unknown hold reason", nil)
		}
		if _, err := e.Repo.GetItem(ctx, input.ItemID); err != nil {
			return nil, handleError(err)
		}
		applied, err := e.FailQC(ctx, input.ItemID, reason, actorFrom(p))
		if err != nil {
			return nil, handleError(err)
		}
		if !applied {
			return nil, rejected()
		}
		return &struct{ Body ActionResponse }{Body: ActionResponse{Applied: true}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "ship-check",
		Method:      http.MethodGet,
		Path:        "/items/{item_id}/ship-check",
		Summary:     "Check whether an item can ship",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ItemID string `path:"item_id"`
	}) (*struct {
		Body ShipCheckResponse
	}, error) {
		it, err := e.Repo.GetItem(ctx, input.ItemID)
		if err != nil {
			return nil, handleError(err)
		}
		check := e.CanShipItem(it)
		return &struct{ Body ShipCheckResponse }{Body: ShipCheckResponse(check)}, nil
	})
}

func registerHolds(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-holds",
		Method:      http.MethodGet,
		Path:        "/holds",
		Summary:     "Items on hold with escalation class",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []HeldItemResponse
	}, error) {
		held, err := e.HeldItems(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]HeldItemResponse, 0, len(held))
		for _, h := range held {
			out = append(out, heldItemResponse(h))
		}
		return &struct{ Body []HeldItemResponse }{Body: out}, nil
	})
}

func registerAuth(api huma.API, e engine.Engine, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "badge-login",
		Method:      http.MethodPost,
		Path:        "/auth/badge",
		Summary:     "Exchange a badge number for a floor token",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body BadgeLoginRequest
	}) (*struct {
		Body TokenResponse
	}, error) {
		if strings.TrimSpace(input.Body.BadgeID) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "badge_id is required", nil)
		}
		user, ok := e.Config.UserByBadge(input.Body.BadgeID)
		if !ok {
			return nil, newAPIError(http.StatusUnauthorized, "unknown_badge", "badge not on roster", nil)
		}
		token, err := IssueToken(authCfg.JWTSecret, user, authCfg.tokenTTL(), e.Clock())
		if err != nil {
			return nil, newAPIError(http.StatusUnauthorized, "token_unavailable", err.Error(), nil)
		}
		return &struct{ Body TokenResponse }{Body: TokenResponse{
			Token: token,
			Actor: user.ID,
			Name:  user.Name,
			Role:  user.Role,
		}}, nil
	})
}

func registerPackingSlip(router chi.Router, basePath string, e engine.Engine) {
	router.Get(path.Join(basePath, "/items/{item_id}/packing-slip"), func(w http.ResponseWriter, r *http.Request) {
		itemID := chi.URLParam(r, "item_id")
		it, err := e.Repo.GetItem(r.Context(), itemID)
		if err != nil {
			respondStatusError(w, handleError(err))
			return
		}
		order, err := e.Repo.GetOrder(r.Context(), it.OrderID)
		if err != nil {
			respondStatusError(w, handleError(err))
			return
		}
		packedBy := "Operator"
		if p, ok := principalFromContext(r.Context()); ok && p.Name != "" {
			packedBy = p.Name
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_ = packslip.Render(w, packslip.Input{
			Item:      it,
			Order:     order,
			PackedBy:  packedBy,
			FloorName: e.Config.Floor.Name,
			PrintedAt: e.Clock(),
		})
	})
}
