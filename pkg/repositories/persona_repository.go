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

const personasTable = "personas"

var personaStruct = database.NewStruct(new(models.Persona))

type PersonaRepository struct {
	*Repository
}

func NewPersonaRepository(db database.DB, logger ectologger.Logger) *PersonaRepository {
	return &PersonaRepository{
		Repository: NewRepository(db, logger),
	}
}

func (r *PersonaRepository) Get(ctx context.Context, userID uuid.UUID, personaType models.PersonaType) (*models.Persona, error) {
	ctx, span := tracing.StartSpan(ctx, "PersonaRepository.Get")
	defer span.End()

	sb := personaStruct.SelectFrom(personasTable)
	sb.Where(sb.Equal("user_id", userID), sb.Equal("persona_type", personaType))

	query, args := sb.Build()
	var persona models.Persona
	err := r.conn(ctx).GetContext(ctx, &persona, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFound("%s persona for user %s does not exist", personaType, userID)
	}
	if err != nil {
		r.log(ctx).WithError(err).WithFields(map[string]any{
			"user_id":      userID,
			"persona_type": personaType,
		}).Error("failed to get persona")
		return nil, Internal("failed to get persona", err)
	}
	return &persona, nil
}
