package handler

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/eventapp/internal/auth"
	"github.com/iliyamo/eventapp/internal/middleware"
	"github.com/iliyamo/eventapp/internal/queue"
	"github.com/iliyamo/eventapp/internal/rbac"
	"github.com/iliyamo/eventapp/internal/repository"
)

const testSecret = "handler-test-secret"

func testCatalog(t *testing.T) *rbac.Catalog {
	t.Helper()
	c, err := rbac.NewCatalog([]rbac.Role{
		{ID: 1, Namespace: rbac.NamespaceGlobal, Name: "admin", IsAdmin: true},
		{ID: 2, Namespace: rbac.NamespaceGlobal, Name: "user", Parent: "admin", IsDefault: true},
		{ID: 3, Namespace: rbac.NamespaceEvent, Name: "admin", IsAdmin: true},
		{ID: 4, Namespace: rbac.NamespaceEvent, Name: "staff", Parent: "admin"},
		{ID: 5, Namespace: rbac.NamespaceEvent, Name: "member", Parent: "staff", IsDefault: true},
	})
	require.NoError(t, err)
	return c
}

type fakeUsers struct {
	mu     sync.Mutex
	byMail map[string]repository.User
	nextID int64
	// soleEventAdmin reports whether the user is the only admin of some event.
	soleEventAdmin func(userID int64, eventAdmin rbac.Role) bool
}

func newFakeUsers() *fakeUsers { return &fakeUsers{byMail: map[string]repository.User{}} }

func (f *fakeUsers) Create(_ context.Context, nu repository.NewUser, def, admin rbac.Role) (repository.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	email := strings.ToLower(nu.Email)
	if _, ok := f.byMail[email]; ok {
		return repository.User{}, repository.ErrEmailExists
	}
	role := def
	if len(f.byMail) == 0 {
		role = admin
	}
	f.nextID++
	u := repository.User{ID: f.nextID, FirstName: nu.FirstName, LastName: nu.LastName, Email: email,
		PasswordHash: nu.PasswordHash, RoleID: role.ID, RoleName: role.Name, CreatedAt: time.Now()}
	f.byMail[email] = u
	return u, nil
}

func (f *fakeUsers) GetByEmail(_ context.Context, email string) (repository.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byMail[strings.ToLower(email)]
	if !ok {
		return repository.User{}, repository.ErrUserNotFound
	}
	return u, nil
}

func (f *fakeUsers) update(email string, fn func(*repository.User)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byMail[email]
	if !ok {
		return repository.ErrUserNotFound
	}
	fn(&u)
	f.byMail[u.Email] = u
	return nil
}

func (f *fakeUsers) UpdateNames(_ context.Context, email, first, last string) error {
	return f.update(email, func(u *repository.User) { u.FirstName, u.LastName = first, last })
}

func (f *fakeUsers) UpdateEmail(_ context.Context, email, newEmail string) error {
	f.mu.Lock()
	_, taken := f.byMail[newEmail]
	f.mu.Unlock()
	if taken {
		return repository.ErrEmailExists
	}
	err := f.update(email, func(u *repository.User) { u.Email = newEmail })
	if err == nil {
		f.mu.Lock()
		delete(f.byMail, email)
		f.mu.Unlock()
	}
	return err
}

func (f *fakeUsers) UpdatePassword(_ context.Context, email, hash string) error {
	return f.update(email, func(u *repository.User) { u.PasswordHash = hash })
}

func (f *fakeUsers) SetProfilePicture(_ context.Context, email string, key *string) (*string, error) {
	var prev *string
	err := f.update(email, func(u *repository.User) { prev, u.ProfilePictureKey = u.ProfilePictureKey, key })
	return prev, err
}

func (f *fakeUsers) admins(adminRole rbac.Role) int {
	n := 0
	for _, u := range f.byMail {
		if u.RoleID == adminRole.ID {
			n++
		}
	}
	return n
}

func (f *fakeUsers) UpdateRole(_ context.Context, email string, role, adminRole rbac.Role) error {
	f.mu.Lock()
	u, ok := f.byMail[email]
	lastAdmin := ok && u.RoleID == adminRole.ID && role.ID != adminRole.ID && f.admins(adminRole) <= 1
	f.mu.Unlock()
	if lastAdmin {
		return repository.ErrRoleNotAssignable
	}
	return f.update(email, func(u *repository.User) { u.RoleID, u.RoleName = role.ID, role.Name })
}

func (f *fakeUsers) Delete(_ context.Context, email string, adminRole, eventAdmin rbac.Role) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byMail[email]
	if !ok {
		return repository.ErrUserNotFound
	}
	if u.RoleID == adminRole.ID && f.admins(adminRole) <= 1 {
		return repository.ErrRoleNotAssignable
	}
	if f.soleEventAdmin != nil && f.soleEventAdmin(u.ID, eventAdmin) {
		return repository.ErrRoleNotAssignable
	}
	delete(f.byMail, email)
	return nil
}

type fakeEvents struct {
	mu       sync.Mutex
	events   map[int64]repository.Event
	bindings map[int64]map[int64]rbac.Role // event -> user -> role
	users    *fakeUsers
	calls    *[]string
}

func (f *fakeEvents) CreateWithAdmin(ctx context.Context, ev repository.Event, creatorID, adminRoleID int64, provision repository.ProvisionFunc) (repository.Event, error) {
	f.mu.Lock()
	id := int64(len(f.events) + 1)
	f.mu.Unlock()
	if err := provision(ctx, id); err != nil {
		return repository.Event{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	ev.ID = id
	f.events[id] = ev
	f.bindings[id] = map[int64]rbac.Role{creatorID: {ID: adminRoleID, Namespace: rbac.NamespaceEvent, Name: "admin"}}
	return ev, nil
}

func (f *fakeEvents) GetByID(_ context.Context, id int64) (repository.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev, ok := f.events[id]
	if !ok {
		return repository.Event{}, repository.ErrEventNotFound
	}
	return ev, nil
}

func (f *fakeEvents) ListForUser(_ context.Context, userID int64) ([]repository.MyEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []repository.MyEvent
	for id, ev := range f.events {
		if r, ok := f.bindings[id][userID]; ok {
			out = append(out, repository.MyEvent{Event: ev, RoleName: r.Name})
		}
	}
	return out, nil
}

func (f *fakeEvents) Update(_ context.Context, ev repository.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events[ev.ID] = ev
	return nil
}

func (f *fakeEvents) Delete(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	*f.calls = append(*f.calls, "row")
	delete(f.events, id)
	delete(f.bindings, id)
	return nil
}

func (f *fakeEvents) EventRole(ctx context.Context, email string, eventID int64) (string, bool, error) {
	u, err := f.users.GetByEmail(ctx, email)
	if err != nil {
		return "", false, nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.bindings[eventID][u.ID]
	return r.Name, ok, nil
}

func (f *fakeEvents) soleAdmin(userID int64, eventAdmin rbac.Role) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, members := range f.bindings {
		if members[userID].ID != eventAdmin.ID {
			continue
		}
		admins := 0
		for _, r := range members {
			if r.ID == eventAdmin.ID {
				admins++
			}
		}
		if admins <= 1 {
			return true
		}
	}
	return false
}

func (f *fakeEvents) AssignRole(_ context.Context, eventID, userID int64, role, _ rbac.Role) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.events[eventID]; !ok {
		return repository.ErrEventNotFound
	}
	f.bindings[eventID][userID] = role
	return nil
}

func (f *fakeEvents) Members(_ context.Context, eventID int64) ([]repository.EventUserRole, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []repository.EventUserRole
	for uid, r := range f.bindings[eventID] {
		out = append(out, repository.EventUserRole{UserID: uid, EventID: eventID, RoleID: r.ID, RoleName: r.Name})
	}
	return out, nil
}

type fakeTenants struct {
	createErr error
	db        *sql.DB
	created   []string
	calls     *[]string
}

func (f *fakeTenants) Name(id int64) string { return "event_" + strconv.FormatInt(id, 10) }

func (f *fakeTenants) Create(_ context.Context, name string) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.created = append(f.created, name)
	return nil
}

func (f *fakeTenants) Delete(_ context.Context, name string) error {
	*f.calls = append(*f.calls, "drop "+name)
	return nil
}

func (f *fakeTenants) Handle(context.Context, string) (*sql.DB, error) { return f.db, nil }

type fakePublisher struct {
	mu     sync.Mutex
	events []queue.TenantEvent
}

func (p *fakePublisher) PublishTenantEvent(_ context.Context, ev queue.TenantEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

// testApp wires the handlers onto an echo instance the way the router does,
// with in-memory stores.
type testApp struct {
	e         *echo.Echo
	users     *fakeUsers
	events    *fakeEvents
	tenants   *fakeTenants
	publisher *fakePublisher
	tokens    *auth.TokenService
	catalog   *rbac.Catalog
	calls     []string
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	app := &testApp{catalog: testCatalog(t), users: newFakeUsers(), publisher: &fakePublisher{}}
	app.tokens = auth.NewTokenService(testSecret, time.Minute, "eventapp")
	app.events = &fakeEvents{events: map[int64]repository.Event{}, bindings: map[int64]map[int64]rbac.Role{}, users: app.users, calls: &app.calls}
	app.tenants = &fakeTenants{calls: &app.calls}
	app.users.soleEventAdmin = app.events.soleAdmin

	gate := auth.NewGate(app.tokens, "global:user")
	uh := &UserHandler{Users: app.users, Catalog: app.catalog, Tokens: app.tokens, BcryptCost: 4, MaxUpload: 1 << 10, Logger: zerolog.Nop()}
	eh := &EventHandler{Events: app.events, Users: app.users, Tenants: app.tenants, Catalog: app.catalog,
		Tokens: app.tokens, Publisher: app.publisher, Logger: zerolog.Nop()}

	e := echo.New()
	e.Validator = NewValidator()
	base := middleware.RequireScopes(gate)
	e.POST("/v1/users/register", uh.Register)
	e.POST("/v1/users/login", uh.Login)
	e.GET("/v1/users/me", uh.Me, base)
	e.PUT("/v1/users/me/email", uh.UpdateEmail, base)
	e.PUT("/v1/users/me/password", uh.UpdatePassword, base)
	e.PUT("/v1/users/me/picture", uh.UploadPicture, base)
	e.DELETE("/v1/users/me", uh.DeleteMe, base)
	e.PUT("/v1/users/role", uh.UpdateRole, middleware.RequireScopes(gate, "global:admin"))
	e.POST("/v1/events", eh.Create, base)
	e.GET("/v1/events", eh.List, base)
	e.POST("/v1/events/:id/token", eh.Token, base)
	e.GET("/v1/events/:id", eh.Get, middleware.RequireEventScopes(gate, "id", "event:member"))
	e.DELETE("/v1/events/:id", eh.Delete, middleware.RequireEventScopes(gate, "id", "event:admin"))
	e.PUT("/v1/events/:id/members", eh.AssignRole, middleware.RequireEventScopes(gate, "id", "event:admin"))
	e.GET("/v1/events/:id/participants", eh.Participants, middleware.RequireEventScopes(gate, "id", "event:member"))
	e.POST("/v1/events/:id/participants", eh.AddParticipant, middleware.RequireEventScopes(gate, "id", "event:staff"))
	e.GET("/v1/roles", (&RoleHandler{Catalog: app.catalog}).List)
	app.e = e
	return app
}
