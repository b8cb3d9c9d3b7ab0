package simulation

import (
	"errors"
	"fmt"

	"github.com/pvsim/pvsim/pkg/storage"
)

var (
	// ErrSiteNotFound is returned when the referenced site does not exist. It
	// is the storage sentinel so errors.Is matches either.
	ErrSiteNotFound = storage.ErrSiteNotFound

	ErrAlreadyRunning  = errors.New("simulation already running")
	ErrNotRunning      = errors.New("simulation not running")
	ErrInvalidInterval = errors.New("invalid interval")
	ErrInvalidPoints   = errors.New("invalid points")
	ErrShutdown        = errors.New("simulation registry is shut down")
)

// PersistenceError wraps a storage failure with the operation and site it
// happened for.
type PersistenceError struct {
	Op     string
	SiteID string
	Err    error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("failed to %s for site %s: %v", e.Op, e.SiteID, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// SeedError is returned when seeding stops partway. Created points were
// committed before the failure.
type SeedError struct {
	Created int
	Err     error
}

func (e *SeedError) Error() string {
	return fmt.Sprintf("seeding stopped after %d points: %v", e.Created, e.Err)
}

func (e *SeedError) Unwrap() error {
	return e.Err
}

// siteError converts a site lookup failure into ErrSiteNotFound or a
// PersistenceError.
func siteError(siteID string, err error) error {
	if errors.Is(err, storage.ErrSiteNotFound) {
		return fmt.Errorf("%w: %s", ErrSiteNotFound, siteID)
	}
	return &PersistenceError{Op: "get site", SiteID: siteID, Err: err}
}
