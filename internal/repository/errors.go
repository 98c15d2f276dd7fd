// Package repository defines error types that are reused across multiple
// repositories. These sentinel values allow higher layers such as
// handlers to distinguish between different failure scenarios without
// inspecting driver errors themselves.
package repository

import "errors"

// ErrUserNotFound is returned when no user matches the given email or id.
// Handlers translate it into 404, except on login where it becomes the
// uniform 401 "invalid credentials".
var ErrUserNotFound = errors.New("user not found")

// ErrEmailExists is returned when an insert or update collides with the
// unique email index. Handlers translate this into 409.
var ErrEmailExists = errors.New("email already exists")

// ErrEventNotFound is returned when the event id does not exist.
var ErrEventNotFound = errors.New("event not found")

// ErrRoleNotAssignable is returned when a role change would leave a
// namespace (or an event) without an administrator. Handlers answer 422.
var ErrRoleNotAssignable = errors.New("role not assignable")

// ErrConflict is returned when a write cannot be performed because of
// conflicting state, such as registering the same participant twice.
// Handlers should translate this into an HTTP 409 response.
var ErrConflict = errors.New("conflict")
