package repository

import (
	"context"

	"bookdesk/internal/domain/user"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type userRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) GetByID(ctx context.Context, id uuid.UUID) (*user.User, error) {
	var u user.User
	if err := r.db.WithContext(ctx).First(&u, "id = ?", id).Error; err != nil {
		return nil, translateError(err, "user")
	}
	return &u, nil
}

func (r *userRepository) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]user.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var users []user.User
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error
	return users, err
}

func (r *userRepository) ListAdmins(ctx context.Context) ([]user.User, error) {
	var users []user.User
	err := r.db.WithContext(ctx).
		Where("role = ?", user.RoleAdmin).
		Order("created_at ASC").
		Find(&users).Error
	return users, err
}

func (r *userRepository) FindByTelegramChatID(ctx context.Context, chatID string) (*user.User, error) {
	var u user.User
	err := r.db.WithContext(ctx).
		Where("telegram_chat_id = ?", chatID).
		Order("created_at ASC").
		First(&u).Error
	if err != nil {
		return nil, translateError(err, "user")
	}
	return &u, nil
}

// Upsert inserts the user or refreshes its contact fields.
func (r *userRepository) Upsert(ctx context.Context, u *user.User) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"display_name", "email", "phone", "telegram_chat_id", "updated_at"}),
		}).
		Create(u).Error
}
