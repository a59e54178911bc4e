package access

import "errors"

var (
	ErrNotFound           = errors.New("access: not found")
	ErrInvalidInput       = errors.New("access: invalid input")
	ErrPermissionDenied   = errors.New("access: permission denied")
	ErrAuthorityViolation = errors.New("access: authority violation")
	ErrLastOwner          = errors.New("access: organization would be left without an owner")
	ErrDuplicateConflict  = errors.New("access: duplicate conflict")
	ErrInvalidState       = errors.New("access: invalid state")
	ErrExpired            = errors.New("access: expired")
	ErrAdminImpersonation = errors.New("access: admins cannot be impersonated")
	ErrBanned             = errors.New("access: account is banned")
)
