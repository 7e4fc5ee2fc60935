package repositories

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/wingfox/pkg/database"
)

// NotFound returns a 404 HTTP error with a descriptive message
func NotFound(format string, args ...any) error {
	return httperror.NewHTTPErrorf(http.StatusNotFound, format, args...)
}

// Conflict returns a 409 HTTP error. Conditional writes that lose a race report it.
func Conflict(format string, args ...any) error {
	return httperror.NewHTTPErrorf(http.StatusConflict, format, args...)
}

// Internal returns a 500 HTTP error that unwraps to cause. A cause that already carries
// a status is returned unchanged.
func Internal(message string, cause error) error {
	if httperror.IsHTTPError(cause) {
		return cause
	}
	err := httperror.WrapError(http.StatusInternalServerError, cause)
	err.Message = message
	return err
}

// IsNotFound reports whether err is a repository not-found error
func IsNotFound(err error) bool {
	return httperror.IsNotFound(err)
}

// IsConflict reports whether err is a repository conflict error
func IsConflict(err error) bool {
	return httperror.IsStatus(err, http.StatusConflict)
}

// Repository provides common database operations
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new base repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

// DB returns the database instance
func (r *Repository) DB() database.DB {
	return r.db
}

// conn returns the transaction carried by ctx, or the pool
func (r *Repository) conn(ctx context.Context) database.Executor {
	return r.db.Conn(ctx)
}

func (r *Repository) log(ctx context.Context) ectologger.Logger {
	return r.logger.WithContext(ctx)
}
