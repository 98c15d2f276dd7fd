package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/iliyamo/eventapp/internal/auth"
	"github.com/iliyamo/eventapp/internal/middleware"
	"github.com/iliyamo/eventapp/internal/rbac"
	"github.com/iliyamo/eventapp/internal/repository"
	"github.com/iliyamo/eventapp/internal/storage"
)

// UserStore is the part of repository.UserRepo the user endpoints need.
type UserStore interface {
	Create(ctx context.Context, nu repository.NewUser, defaultRole, adminRole rbac.Role) (repository.User, error)
	GetByEmail(ctx context.Context, email string) (repository.User, error)
	UpdateNames(ctx context.Context, email, first, last string) error
	UpdateEmail(ctx context.Context, email, newEmail string) error
	UpdatePassword(ctx context.Context, email, hash string) error
	SetProfilePicture(ctx context.Context, email string, key *string) (*string, error)
	UpdateRole(ctx context.Context, email string, role, adminRole rbac.Role) error
	Delete(ctx context.Context, email string, adminRole, eventAdmin rbac.Role) error
}

// UserHandler bundles dependencies for the /v1/users endpoints. Objects may
// be nil, in which case picture endpoints answer 503.
type UserHandler struct {
	Users      UserStore
	Catalog    *rbac.Catalog
	Tokens     *auth.TokenService
	Objects    storage.ObjectStore
	BcryptCost int
	MaxUpload  int64
	Logger     zerolog.Logger
}

// ----- DTOs -----

type registerReq struct {
	FirstName string `json:"first_name" validate:"required,max=100"`
	LastName  string `json:"last_name" validate:"required,max=100"`
	Email     string `json:"email" validate:"required,email,max=255"`
	Password  string `json:"password" validate:"required,password"`
}

// loginReq accepts JSON {email,password} or the OAuth2 password form
// (username=<email>&password=...).
type loginReq struct {
	Email    string `json:"email" form:"email"`
	Username string `json:"username" form:"username"`
	Password string `json:"password" form:"password"`
}

type namesReq struct {
	FirstName string `json:"first_name" validate:"required,max=100"`
	LastName  string `json:"last_name" validate:"required,max=100"`
}

type emailReq struct {
	Email string `json:"email" validate:"required,email,max=255"`
}

type passwordReq struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,password"`
}

type roleReq struct {
	Email string `json:"email" validate:"required,email"`
	Role  string `json:"role" validate:"required"`
}

type tokenResp struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type userResp struct {
	ID                int64     `json:"id"`
	FirstName         string    `json:"first_name"`
	LastName          string    `json:"last_name"`
	Email             string    `json:"email"`
	Role              string    `json:"role"`
	ProfilePictureURL *string   `json:"profile_picture_url,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

func (h *UserHandler) toResp(u repository.User) userResp {
	out := userResp{
		ID:        u.ID,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Email:     u.Email,
		Role:      u.RoleName,
		CreatedAt: u.CreatedAt,
	}
	if u.ProfilePictureKey != nil && h.Objects != nil {
		url := h.Objects.URL(*u.ProfilePictureKey)
		out.ProfilePictureURL = &url
	}
	return out
}

func identity(c echo.Context) auth.Identity {
	id, _ := middleware.IdentityFrom(c)
	return id
}

// Register creates an account. The first account ever created becomes the
// global administrator.
func (h *UserHandler) Register(c echo.Context) error {
	var req registerReq
	if ok, err := bindValid(c, &req); !ok {
		return err
	}
	hash, err := auth.HashPassword(req.Password, h.BcryptCost)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "hash password failed"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	u, err := h.Users.Create(ctx, repository.NewUser{
		FirstName:    strings.TrimSpace(req.FirstName),
		LastName:     strings.TrimSpace(req.LastName),
		Email:        req.Email,
		PasswordHash: hash,
	}, h.Catalog.Default(rbac.NamespaceGlobal), h.Catalog.Admin(rbac.NamespaceGlobal))
	if err != nil {
		return respondError(c, err, "create user failed")
	}
	h.Logger.Info().Int64("user_id", u.ID).Str("role", u.RoleName).Msg("user registered")
	return c.JSON(http.StatusCreated, h.toResp(u))
}

// Login verifies the password and returns a bearer token carrying the
// resolved global scopes. Unknown email and wrong password look the same.
func (h *UserHandler) Login(c echo.Context) error {
	var req loginReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	email := req.Email
	if email == "" {
		email = req.Username
	}
	if strings.TrimSpace(email) == "" || req.Password == "" {
		return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": "email/password required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	u, err := h.Users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": msgInvalidCreds})
		}
		return respondError(c, err, "query failed")
	}
	if !auth.VerifyPassword(u.PasswordHash, req.Password) {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": msgInvalidCreds})
	}
	tok, err := h.globalToken(u)
	if err != nil {
		return respondError(c, err, "issue token failed")
	}
	return c.JSON(http.StatusOK, tok)
}

func (h *UserHandler) globalToken(u repository.User) (tokenResp, error) {
	scopes, err := h.Catalog.ResolveScopes(u.RoleName, rbac.NamespaceGlobal)
	if err != nil {
		return tokenResp{}, err
	}
	at, err := h.Tokens.Issue(u.Email, scopes.Sorted(), 0)
	if err != nil {
		return tokenResp{}, err
	}
	return tokenResp{AccessToken: at.Token, TokenType: "bearer", ExpiresAt: at.Exp}, nil
}

// Me returns the caller's profile.
func (h *UserHandler) Me(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	u, err := h.Users.GetByEmail(ctx, identity(c).Email)
	if err != nil {
		return respondError(c, err, "load user failed")
	}
	return c.JSON(http.StatusOK, h.toResp(u))
}

// UpdateNames changes the caller's first and last name.
func (h *UserHandler) UpdateNames(c echo.Context) error {
	var req namesReq
	if ok, err := bindValid(c, &req); !ok {
		return err
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	email := identity(c).Email
	if err := h.Users.UpdateNames(ctx, email, strings.TrimSpace(req.FirstName), strings.TrimSpace(req.LastName)); err != nil {
		return respondError(c, err, "update names failed")
	}
	return h.reload(ctx, c, email)
}

// UpdateEmail changes the caller's email. The old token names the old email
// as subject, so a fresh token is returned alongside the profile.
func (h *UserHandler) UpdateEmail(c echo.Context) error {
	var req emailReq
	if ok, err := bindValid(c, &req); !ok {
		return err
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if err := h.Users.UpdateEmail(ctx, identity(c).Email, req.Email); err != nil {
		return respondError(c, err, "update email failed")
	}
	u, err := h.Users.GetByEmail(ctx, req.Email)
	if err != nil {
		return respondError(c, err, "load user failed")
	}
	tok, err := h.globalToken(u)
	if err != nil {
		return respondError(c, err, "issue token failed")
	}
	return c.JSON(http.StatusOK, echo.Map{"user": h.toResp(u), "token": tok})
}

// UpdatePassword requires the current password before setting a new one.
func (h *UserHandler) UpdatePassword(c echo.Context) error {
	var req passwordReq
	if ok, err := bindValid(c, &req); !ok {
		return err
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	u, err := h.Users.GetByEmail(ctx, identity(c).Email)
	if err != nil {
		return respondError(c, err, "load user failed")
	}
	if !auth.VerifyPassword(u.PasswordHash, req.CurrentPassword) {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": msgInvalidCreds})
	}
	hash, err := auth.HashPassword(req.NewPassword, h.BcryptCost)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "hash password failed"})
	}
	if err := h.Users.UpdatePassword(ctx, u.Email, hash); err != nil {
		return respondError(c, err, "update password failed")
	}
	return c.JSON(http.StatusOK, h.toResp(u))
}

// UpdateRole sets another user's global role. Admin only.
func (h *UserHandler) UpdateRole(c echo.Context) error {
	var req roleReq
	if ok, err := bindValid(c, &req); !ok {
		return err
	}
	role, ok := h.Catalog.ByName(rbac.NamespaceGlobal, strings.TrimSpace(req.Role))
	if !ok {
		return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": msgInvalidRole})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if err := h.Users.UpdateRole(ctx, req.Email, role, h.Catalog.Admin(rbac.NamespaceGlobal)); err != nil {
		return respondError(c, err, "update role failed")
	}
	h.Logger.Info().Str("actor", identity(c).Email).Str("target", req.Email).Str("role", role.Name).Msg("global role changed")
	return h.reload(ctx, c, req.Email)
}

// DeleteMe removes the caller's account, its event bindings and its picture.
func (h *UserHandler) DeleteMe(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	email := identity(c).Email
	u, err := h.Users.GetByEmail(ctx, email)
	if err != nil {
		return respondError(c, err, "load user failed")
	}
	err = h.Users.Delete(ctx, email, h.Catalog.Admin(rbac.NamespaceGlobal), h.Catalog.Admin(rbac.NamespaceEvent))
	if err != nil {
		return respondError(c, err, "delete user failed")
	}
	if u.ProfilePictureKey != nil {
		h.dropObject(ctx, *u.ProfilePictureKey)
	}
	resp := h.toResp(u)
	resp.ProfilePictureURL = nil
	return c.JSON(http.StatusOK, resp)
}

var pictureTypes = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
}

// UploadPicture stores a png or jpeg from the multipart field "file" and
// points the profile at it. The previous picture is deleted.
func (h *UserHandler) UploadPicture(c echo.Context) error {
	if h.Objects == nil {
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "object storage disabled"})
	}
	fh, err := c.FormFile("file")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "file required"})
	}
	if h.MaxUpload > 0 && fh.Size > h.MaxUpload {
		return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": "Invalid image file. The file is too large."})
	}
	f, err := fh.Open()
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "file unreadable"})
	}
	defer f.Close()

	// sniff instead of trusting the client's Content-Type
	head := make([]byte, 512)
	n, _ := io.ReadFull(f, head)
	contentType := http.DetectContentType(head[:n])
	ext, ok := pictureTypes[contentType]
	if !ok {
		return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": "Invalid image file. Only png and jpeg are accepted."})
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "file unreadable"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 30*time.Second)
	defer cancel()

	email := identity(c).Email
	u, err := h.Users.GetByEmail(ctx, email)
	if err != nil {
		return respondError(c, err, "load user failed")
	}
	key := storage.ProfilePictureKey(u.ID, ext)
	if err := h.Objects.Put(ctx, key, f, fh.Size, contentType); err != nil {
		return respondError(c, err, "upload failed")
	}
	prev, err := h.Users.SetProfilePicture(ctx, email, &key)
	if err != nil {
		h.dropObject(ctx, key)
		return respondError(c, err, "update user failed")
	}
	if prev != nil && *prev != key {
		h.dropObject(ctx, *prev)
	}
	u.ProfilePictureKey = &key
	return c.JSON(http.StatusOK, h.toResp(u))
}

// DeletePicture clears the profile picture.
func (h *UserHandler) DeletePicture(c echo.Context) error {
	if h.Objects == nil {
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "object storage disabled"})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	prev, err := h.Users.SetProfilePicture(ctx, identity(c).Email, nil)
	if err != nil {
		return respondError(c, err, "update user failed")
	}
	if prev == nil {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "Image not found."})
	}
	h.dropObject(ctx, *prev)
	return c.NoContent(http.StatusNoContent)
}

// dropObject deletes an object best effort; the row no longer points at it.
func (h *UserHandler) dropObject(ctx context.Context, key string) {
	if h.Objects == nil {
		return
	}
	if err := h.Objects.Delete(ctx, key); err != nil {
		h.Logger.Warn().Err(err).Str("key", key).Msg("delete object failed")
	}
}

func (h *UserHandler) reload(ctx context.Context, c echo.Context, email string) error {
	u, err := h.Users.GetByEmail(ctx, email)
	if err != nil {
		return respondError(c, err, "load user failed")
	}
	return c.JSON(http.StatusOK, h.toResp(u))
}
