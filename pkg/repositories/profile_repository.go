package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/wingfox/pkg/database"
	"github.com/Ramsey-B/wingfox/pkg/models"
	"github.com/Ramsey-B/wingfox/pkg/tracing"
)

const profilesTable = "profiles"

var profileStruct = database.NewStruct(new(models.Profile))

type ProfileRepository struct {
	*Repository
}

func NewProfileRepository(db database.DB, logger ectologger.Logger) *ProfileRepository {
	return &ProfileRepository{
		Repository: NewRepository(db, logger),
	}
}

func (r *ProfileRepository) Get(ctx context.Context, userID uuid.UUID) (*models.Profile, error) {
	ctx, span := tracing.StartSpan(ctx, "ProfileRepository.Get")
	defer span.End()

	sb := profileStruct.SelectFrom(profilesTable)
	sb.Where(sb.Equal("user_id", userID))

	query, args := sb.Build()
	var profile models.Profile
	err := r.conn(ctx).GetContext(ctx, &profile, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFound("profile for user %s does not exist", userID)
	}
	if err != nil {
		r.log(ctx).WithError(err).WithFields(map[string]any{
			"user_id": userID,
		}).Error("failed to get profile")
		return nil, Internal("failed to get profile", err)
	}
	return &profile, nil
}

// ListActive returns every profile eligible for matching
func (r *ProfileRepository) ListActive(ctx context.Context) ([]models.Profile, error) {
	ctx, span := tracing.StartSpan(ctx, "ProfileRepository.ListActive")
	defer span.End()

	sb := profileStruct.SelectFrom(profilesTable)
	sb.Where("active")
	sb.OrderBy("user_id")

	query, args := sb.Build()
	profiles := []models.Profile{}
	if err := r.conn(ctx).SelectContext(ctx, &profiles, query, args...); err != nil {
		r.log(ctx).WithError(err).Error("failed to list active profiles")
		return nil, Internal("failed to list active profiles", err)
	}

	r.log(ctx).Debugf("Listed %d active %s", len(profiles), profilesTable)
	return profiles, nil
}
