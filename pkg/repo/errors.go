package repo

import "errors"

// ErrNotFound is returned by Get/Update when no entity with the given id
// exists in the backend.
var ErrNotFound = errors.New("repo: not found")

// ErrDuplicateKey is returned by Create when an entity with the given id
// already exists in the backend.
var ErrDuplicateKey = errors.New("repo: duplicate key")
