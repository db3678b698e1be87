package data

import (
	"context"

	"github.com/stake-plus/nombot/src/types"
	"gorm.io/gorm"
)

// ErrNotFound is returned when a nominee lookup matches nothing.
var ErrNotFound = gorm.ErrRecordNotFound

// NomineeRepo is the single write path for nominee records. Everything
// that mutates lifecycle state goes through the state machine, which in
// turn goes through UpdateStateIf.
type NomineeRepo interface {
	Create(ctx context.Context, n *types.Nominee) error
	Get(ctx context.Context, id string) (*types.Nominee, error)
	FindByName(ctx context.Context, guildID, name string) (*types.Nominee, error)
	ListActive(ctx context.Context, guildID string) ([]types.Nominee, error)
	FindInState(ctx context.Context, guildID string, state types.NomineeState) (*types.Nominee, error)
	FindInProgress(ctx context.Context, guildID string) (*types.Nominee, error)
	Update(ctx context.Context, id string, patch map[string]interface{}) error
	UpdateStateIf(ctx context.Context, id string, expected types.NomineeState, patch map[string]interface{}) (bool, error)
	Delete(ctx context.Context, id string) error
	Guilds(ctx context.Context) ([]string, error)
}

type GormNomineeRepo struct {
	db *gorm.DB
}

func NewNomineeRepo(db *gorm.DB) *GormNomineeRepo {
	return &GormNomineeRepo{db: db}
}

func (r *GormNomineeRepo) Create(ctx context.Context, n *types.Nominee) error {
	return r.db.WithContext(ctx).Create(n).Error
}

func (r *GormNomineeRepo) Get(ctx context.Context, id string) (*types.Nominee, error) {
	var n types.Nominee
	if err := r.db.WithContext(ctx).First(&n, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &n, nil
}

// FindByName matches the newest non-archived nominee with the given
// name; names are only unique per guild while not Past.
func (r *GormNomineeRepo) FindByName(ctx context.Context, guildID, name string) (*types.Nominee, error) {
	var n types.Nominee
	err := r.db.WithContext(ctx).
		Where("guild_id = ? AND name = ? AND state <> ?", guildID, name, types.StatePast).
		Order("created_at DESC").
		First(&n).Error
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// ListActive returns the Active queue in FIFO order (created_at, then
// id as a tiebreaker so equal timestamps still order deterministically).
func (r *GormNomineeRepo) ListActive(ctx context.Context, guildID string) ([]types.Nominee, error) {
	var out []types.Nominee
	err := r.db.WithContext(ctx).
		Where("guild_id = ? AND state = ?", guildID, types.StateActive).
		Order("created_at ASC, id ASC").
		Find(&out).Error
	return out, err
}

func (r *GormNomineeRepo) FindInState(ctx context.Context, guildID string, state types.NomineeState) (*types.Nominee, error) {
	var n types.Nominee
	err := r.db.WithContext(ctx).
		Where("guild_id = ? AND state = ?", guildID, state).
		First(&n).Error
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// FindInProgress returns the nominee occupying the guild's single
// in-flight slot, or ErrNotFound.
func (r *GormNomineeRepo) FindInProgress(ctx context.Context, guildID string) (*types.Nominee, error) {
	var n types.Nominee
	err := r.db.WithContext(ctx).
		Where("guild_id = ? AND state IN ?", guildID,
			[]types.NomineeState{types.StateDiscussion, types.StateVote, types.StateCleanup}).
		First(&n).Error
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func (r *GormNomineeRepo) Update(ctx context.Context, id string, patch map[string]interface{}) error {
	res := r.db.WithContext(ctx).Model(&types.Nominee{}).Where("id = ?", id).Updates(patch)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateStateIf applies the patch only if the row still holds the
// expected state (conditional write; the race guard for the sweep vs
// command paths). Returns false when the row was not in that state.
func (r *GormNomineeRepo) UpdateStateIf(ctx context.Context, id string, expected types.NomineeState, patch map[string]interface{}) (bool, error) {
	res := r.db.WithContext(ctx).Model(&types.Nominee{}).
		Where("id = ? AND state = ?", id, expected).
		Updates(patch)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *GormNomineeRepo) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Delete(&types.Nominee{}, "id = ?", id).Error
}

// Guilds lists every guild with at least one non-archived nominee, so
// the sweep visits only guilds that have work.
func (r *GormNomineeRepo) Guilds(ctx context.Context) ([]string, error) {
	var out []string
	err := r.db.WithContext(ctx).Model(&types.Nominee{}).
		Where("state <> ?", types.StatePast).
		Distinct().Pluck("guild_id", &out).Error
	return out, err
}
