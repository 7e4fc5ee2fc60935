package repositories

import (
	"context"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/wingfox/pkg/database"
	"github.com/Ramsey-B/wingfox/pkg/models"
	"github.com/Ramsey-B/wingfox/pkg/tracing"
)

const blocksTable = "blocks"

var blockStruct = database.NewStruct(new(models.Block))

type BlockRepository struct {
	*Repository
}

func NewBlockRepository(db database.DB, logger ectologger.Logger) *BlockRepository {
	return &BlockRepository{
		Repository: NewRepository(db, logger),
	}
}

func (r *BlockRepository) ListAll(ctx context.Context) ([]models.Block, error) {
	ctx, span := tracing.StartSpan(ctx, "BlockRepository.ListAll")
	defer span.End()

	query, args := blockStruct.SelectFrom(blocksTable).Build()
	blocks := []models.Block{}
	if err := r.conn(ctx).SelectContext(ctx, &blocks, query, args...); err != nil {
		r.log(ctx).WithError(err).Error("failed to list blocks")
		return nil, Internal("failed to list blocks", err)
	}
	return blocks, nil
}
