package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/harborgrid-justin/black-cross-sub000/internal/domain/models"
	"github.com/harborgrid-justin/black-cross-sub000/internal/infrastructure/database"
)

// GroupRepository persists duplicate groups with version-checked merges
type GroupRepository struct {
	pool database.Pool
}

// NewGroupRepository creates a new group repository
func NewGroupRepository(pool database.Pool) *GroupRepository {
	return &GroupRepository{pool: pool}
}

// GetGroupByMember returns nil, nil when the record is not grouped
func (r *GroupRepository) GetGroupByMember(ctx context.Context, recordID string) (*models.DuplicateGroup, error) {
	query := `
		SELECT g.id, g.canonical_id, g.version, g.created_at, g.updated_at
		FROM duplicate_group_members m
		JOIN duplicate_groups g ON g.id = m.group_id
		WHERE m.record_id = $1`

	var g models.DuplicateGroup
	err := r.pool.QueryRow(ctx, query, recordID).Scan(&g.ID, &g.CanonicalID, &g.Version, &g.CreatedAt, &g.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeError("get duplicate group", err)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT record_id, first_seen FROM duplicate_group_members
		WHERE group_id = $1
		ORDER BY record_id`, g.ID)
	if err != nil {
		return nil, storeError("list group members", err)
	}
	defer rows.Close()
	for rows.Next() {
		var m models.GroupMember
		if err := rows.Scan(&m.RecordID, &m.FirstSeen); err != nil {
			return nil, storeError("scan group member", err)
		}
		g.Members = append(g.Members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("list group members", err)
	}
	return &g, nil
}

// SaveMerge applies the merge in one transaction. Any version mismatch, a
// taken group id or a member claimed by an unrelated group aborts it with
// models.ErrConflict.
func (r *GroupRepository) SaveMerge(ctx context.Context, merge *models.GroupMerge) (*models.DuplicateGroup, error) {
	g := merge.Result
	err := database.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if merge.Survivor != nil {
			tag, err := tx.Exec(ctx, `
				UPDATE duplicate_groups SET canonical_id = $2, version = $3, updated_at = $4
				WHERE id = $1 AND version = $5`,
				merge.Survivor.ID, g.CanonicalID, g.Version, g.UpdatedAt, merge.Survivor.Version)
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				return models.ErrConflict
			}
		} else {
			_, err := tx.Exec(ctx, `
				INSERT INTO duplicate_groups (id, canonical_id, version, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5)`,
				g.ID, g.CanonicalID, g.Version, g.CreatedAt, g.UpdatedAt)
			if err != nil {
				return err
			}
		}

		// members of absorbed groups go with them (ON DELETE CASCADE) and are re-added below
		for _, ref := range merge.Absorbed {
			tag, err := tx.Exec(ctx, `DELETE FROM duplicate_groups WHERE id = $1 AND version = $2`, ref.ID, ref.Version)
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				return models.ErrConflict
			}
		}

		for _, m := range g.Members {
			tag, err := tx.Exec(ctx, `
				INSERT INTO duplicate_group_members (record_id, group_id, first_seen)
				VALUES ($1, $2, $3)
				ON CONFLICT (record_id) DO UPDATE SET first_seen = EXCLUDED.first_seen
				WHERE duplicate_group_members.group_id = EXCLUDED.group_id`,
				m.RecordID, g.ID, m.FirstSeen)
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				return models.ErrConflict
			}
		}
		return nil
	})

	switch {
	case err == nil:
		return g.Clone(), nil
	case errors.Is(err, models.ErrConflict), isConflict(err):
		return nil, models.ErrConflict
	default:
		return nil, storeError("save duplicate group", err)
	}
}
