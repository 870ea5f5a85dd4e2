package store

import "github.com/jmin1219/voku/internal/domain"

var (
	ErrNotFound = domain.ErrNotFound
	ErrConflict = domain.ErrConflict
)
