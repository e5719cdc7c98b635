package menu

import "errors"

var (
	ErrParentNotFound = errors.New("parent not found")
	ErrNotSubMenu     = errors.New("parent is not a submenu")
	ErrRootImmutable  = errors.New("root item cannot be replaced or removed")
	ErrItemNotFound   = errors.New("item not found")
	ErrInvalidValue   = errors.New("invalid value for item")
	ErrKindChange     = errors.New("submenu with children cannot change kind")
)
