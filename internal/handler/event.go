package handler

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/iliyamo/eventapp/internal/auth"
	"github.com/iliyamo/eventapp/internal/queue"
	"github.com/iliyamo/eventapp/internal/rbac"
	"github.com/iliyamo/eventapp/internal/repository"
	"github.com/iliyamo/eventapp/internal/tenant"
)

// EventStore is the part of repository.EventRepo the event endpoints need.
type EventStore interface {
	CreateWithAdmin(ctx context.Context, ev repository.Event, creatorID, adminRoleID int64, provision repository.ProvisionFunc) (repository.Event, error)
	GetByID(ctx context.Context, id int64) (repository.Event, error)
	ListForUser(ctx context.Context, userID int64) ([]repository.MyEvent, error)
	Update(ctx context.Context, ev repository.Event) error
	Delete(ctx context.Context, id int64) error
	EventRole(ctx context.Context, email string, eventID int64) (string, bool, error)
	AssignRole(ctx context.Context, eventID, userID int64, role, adminRole rbac.Role) error
	Members(ctx context.Context, eventID int64) ([]repository.EventUserRole, error)
}

// Tenants provisions and opens per-event databases; *tenant.Manager.
type Tenants interface {
	Name(eventID int64) string
	Create(ctx context.Context, name string) error
	Delete(ctx context.Context, name string) error
	Handle(ctx context.Context, name string) (*sql.DB, error)
}

// TenantEvents publishes tenant lifecycle notifications; *queue.Publisher.
type TenantEvents interface {
	PublishTenantEvent(ctx context.Context, ev queue.TenantEvent) error
}

// EventHandler bundles dependencies for the /v1/events endpoints.
type EventHandler struct {
	Events    EventStore
	Users     UserStore
	Tenants   Tenants
	Catalog   *rbac.Catalog
	Tokens    *auth.TokenService
	Publisher TenantEvents
	Logger    zerolog.Logger
}

// ----- DTOs -----

type createEventReq struct {
	Name        string    `json:"name" validate:"required,max=255"`
	Description *string   `json:"description" validate:"omitempty,max=2000"`
	StartTime   time.Time `json:"start_time" validate:"required"`
	EndTime     time.Time `json:"end_time" validate:"required,gtfield=StartTime"`
	BankAccount *string   `json:"bank_account" validate:"omitempty,max=64"`
}

// updateEventReq changes only the fields that are present.
type updateEventReq struct {
	Name        *string    `json:"name" validate:"omitempty,min=1,max=255"`
	Description *string    `json:"description" validate:"omitempty,max=2000"`
	StartTime   *time.Time `json:"start_time"`
	EndTime     *time.Time `json:"end_time"`
	BankAccount *string    `json:"bank_account" validate:"omitempty,max=64"`
}

type memberReq struct {
	Email string `json:"email" validate:"required,email"`
	Role  string `json:"role" validate:"required"`
}

type participantReq struct {
	Email       string `json:"email" validate:"required,email"`
	DisplayName string `json:"display_name" validate:"omitempty,max=255"`
}

type eventResp struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description *string   `json:"description,omitempty"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	BankAccount *string   `json:"bank_account,omitempty"`
	Role        string    `json:"role,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func toEventResp(ev repository.Event) eventResp {
	return eventResp{
		ID:          ev.ID,
		Name:        ev.Name,
		Description: ev.Description,
		StartTime:   ev.StartTime,
		EndTime:     ev.EndTime,
		BankAccount: ev.BankAccount,
		CreatedAt:   ev.CreatedAt,
	}
}

type memberResp struct {
	UserID int64  `json:"user_id"`
	Role   string `json:"role"`
}

type participantResp struct {
	ID          int64     `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
}

func eventID(c echo.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	return id, err == nil && id > 0
}

func badEventID(c echo.Context) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid event id"})
}

func (h *EventHandler) publish(ctx context.Context, kind string, id int64, actor string) {
	if h.Publisher == nil {
		return
	}
	ev := queue.TenantEvent{Kind: kind, EventID: id, Database: h.Tenants.Name(id), Actor: actor, At: time.Now().UTC()}
	if err := h.Publisher.PublishTenantEvent(ctx, ev); err != nil {
		h.Logger.Warn().Err(err).Str("kind", kind).Int64("event_id", id).Msg("publish tenant event failed")
	}
}

// Create inserts the event, makes the caller its administrator and
// provisions its database, all inside one transaction.
func (h *EventHandler) Create(c echo.Context) error {
	var req createEventReq
	if ok, err := bindValid(c, &req); !ok {
		return err
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 30*time.Second)
	defer cancel()

	caller := identity(c).Email
	u, err := h.Users.GetByEmail(ctx, caller)
	if err != nil {
		return respondError(c, err, "load user failed")
	}

	ev, err := h.Events.CreateWithAdmin(ctx, repository.Event{
		Name:        strings.TrimSpace(req.Name),
		Description: req.Description,
		StartTime:   req.StartTime,
		EndTime:     req.EndTime,
		BankAccount: req.BankAccount,
	}, u.ID, h.Catalog.Admin(rbac.NamespaceEvent).ID, func(ctx context.Context, id int64) error {
		return h.Tenants.Create(ctx, h.Tenants.Name(id))
	})
	if err != nil {
		h.Logger.Error().Err(err).Str("actor", caller).Msg("create event failed")
		if errors.Is(err, tenant.ErrProvisioning) {
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": msgEventCreate})
		}
		return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": msgEventCreate})
	}
	h.publish(ctx, queue.TenantProvisioned, ev.ID, caller)

	resp := toEventResp(ev)
	resp.Role = h.Catalog.Admin(rbac.NamespaceEvent).Name
	return c.JSON(http.StatusCreated, resp)
}

// List returns the events the caller is bound to and their role in each.
func (h *EventHandler) List(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	u, err := h.Users.GetByEmail(ctx, identity(c).Email)
	if err != nil {
		return respondError(c, err, "load user failed")
	}
	events, err := h.Events.ListForUser(ctx, u.ID)
	if err != nil {
		return respondError(c, err, "list events failed")
	}
	out := make([]eventResp, 0, len(events))
	for _, me := range events {
		r := toEventResp(me.Event)
		r.Role = me.RoleName
		out = append(out, r)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": out})
}

// Token exchanges the caller's global token for one bound to the event.
func (h *EventHandler) Token(c echo.Context) error {
	id, ok := eventID(c)
	if !ok {
		return badEventID(c)
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	caller := identity(c)
	claims := &auth.Claims{Scopes: caller.Scopes.Sorted()}
	claims.Subject = caller.Email

	at, err := h.Tokens.StepUp(ctx, claims, id, h.Events, h.Catalog)
	if err != nil {
		return respondError(c, err, "issue token failed")
	}
	return c.JSON(http.StatusOK, tokenResp{AccessToken: at.Token, TokenType: "bearer", ExpiresAt: at.Exp})
}

// Get returns one event.
func (h *EventHandler) Get(c echo.Context) error {
	id, ok := eventID(c)
	if !ok {
		return badEventID(c)
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	ev, err := h.Events.GetByID(ctx, id)
	if err != nil {
		return respondError(c, err, "load event failed")
	}
	return c.JSON(http.StatusOK, toEventResp(ev))
}

// Update changes the fields present in the body.
func (h *EventHandler) Update(c echo.Context) error {
	id, ok := eventID(c)
	if !ok {
		return badEventID(c)
	}
	var req updateEventReq
	if ok, err := bindValid(c, &req); !ok {
		return err
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	ev, err := h.Events.GetByID(ctx, id)
	if err != nil {
		return respondError(c, err, "load event failed")
	}
	if req.Name != nil {
		ev.Name = strings.TrimSpace(*req.Name)
	}
	if req.Description != nil {
		ev.Description = req.Description
	}
	if req.StartTime != nil {
		ev.StartTime = *req.StartTime
	}
	if req.EndTime != nil {
		ev.EndTime = *req.EndTime
	}
	if req.BankAccount != nil {
		ev.BankAccount = req.BankAccount
	}
	if !ev.EndTime.After(ev.StartTime) {
		return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": "end_time must be after start_time"})
	}
	if err := h.Events.Update(ctx, ev); err != nil {
		return respondError(c, err, "update event failed")
	}
	return c.JSON(http.StatusOK, toEventResp(ev))
}

// Delete drops the event database, then the event row and its bindings.
func (h *EventHandler) Delete(c echo.Context) error {
	id, ok := eventID(c)
	if !ok {
		return badEventID(c)
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 30*time.Second)
	defer cancel()

	if _, err := h.Events.GetByID(ctx, id); err != nil {
		return respondError(c, err, "load event failed")
	}
	if err := h.Tenants.Delete(ctx, h.Tenants.Name(id)); err != nil {
		return respondError(c, err, "delete event database failed")
	}
	if err := h.Events.Delete(ctx, id); err != nil {
		return respondError(c, err, "delete event failed")
	}
	h.publish(ctx, queue.TenantDeleted, id, identity(c).Email)
	return c.NoContent(http.StatusNoContent)
}

// Members lists who holds which role in the event.
func (h *EventHandler) Members(c echo.Context) error {
	id, ok := eventID(c)
	if !ok {
		return badEventID(c)
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	members, err := h.Events.Members(ctx, id)
	if err != nil {
		return respondError(c, err, "list members failed")
	}
	out := make([]memberResp, 0, len(members))
	for _, m := range members {
		out = append(out, memberResp{UserID: m.UserID, Role: m.RoleName})
	}
	return c.JSON(http.StatusOK, echo.Map{"items": out})
}

// AssignRole gives another user a role in the event.
func (h *EventHandler) AssignRole(c echo.Context) error {
	id, ok := eventID(c)
	if !ok {
		return badEventID(c)
	}
	var req memberReq
	if ok, err := bindValid(c, &req); !ok {
		return err
	}
	role, ok := h.Catalog.ByName(rbac.NamespaceEvent, strings.TrimSpace(req.Role))
	if !ok {
		return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": msgInvalidRole})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	u, err := h.Users.GetByEmail(ctx, req.Email)
	if err != nil {
		return respondError(c, err, "load user failed")
	}
	if err := h.Events.AssignRole(ctx, id, u.ID, role, h.Catalog.Admin(rbac.NamespaceEvent)); err != nil {
		return respondError(c, err, "assign role failed")
	}
	h.Logger.Info().Int64("event_id", id).Str("actor", identity(c).Email).Str("target", u.Email).Str("role", role.Name).Msg("event role assigned")
	return c.JSON(http.StatusOK, memberResp{UserID: u.ID, Role: role.Name})
}

// Participants lists the participants stored in the event database.
func (h *EventHandler) Participants(c echo.Context) error {
	id, ok := eventID(c)
	if !ok {
		return badEventID(c)
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	db, err := h.Tenants.Handle(ctx, h.Tenants.Name(id))
	if err != nil {
		return respondError(c, err, "open event database failed")
	}
	ps, err := repository.NewParticipantRepo(db).List(ctx)
	if err != nil {
		return respondError(c, err, "list participants failed")
	}
	out := make([]participantResp, 0, len(ps))
	for _, p := range ps {
		out = append(out, participantResp{ID: p.ID, Email: p.UserEmail, DisplayName: p.DisplayName, CreatedAt: p.CreatedAt})
	}
	return c.JSON(http.StatusOK, echo.Map{"items": out})
}

// AddParticipant registers a participant in the event database.
func (h *EventHandler) AddParticipant(c echo.Context) error {
	id, ok := eventID(c)
	if !ok {
		return badEventID(c)
	}
	var req participantReq
	if ok, err := bindValid(c, &req); !ok {
		return err
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	db, err := h.Tenants.Handle(ctx, h.Tenants.Name(id))
	if err != nil {
		return respondError(c, err, "open event database failed")
	}
	p, err := repository.NewParticipantRepo(db).Add(ctx, req.Email, strings.TrimSpace(req.DisplayName))
	if err != nil {
		return respondError(c, err, "add participant failed")
	}
	return c.JSON(http.StatusCreated, participantResp{ID: p.ID, Email: p.UserEmail, DisplayName: p.DisplayName, CreatedAt: p.CreatedAt})
}
