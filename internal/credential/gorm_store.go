package credential

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/odlemon/khaya-portal-sub001/pkg/database"
	"github.com/odlemon/khaya-portal-sub001/pkg/log"
)

// CredentialModel is the GORM model for the credentials table.
type CredentialModel struct {
	Name      string    `gorm:"type:varchar(64);primaryKey"`
	Token     string    `gorm:"type:text;not null"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// TableName specifies the table name for CredentialModel.
func (CredentialModel) TableName() string {
	return "console_credentials"
}

// GormStore persists tokens in a SQL database through GORM.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates a store and migrates its table.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := database.AutoMigrate(db, &CredentialModel{}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) Load(ctx context.Context, name string) (string, error) {
	var model CredentialModel
	result := s.db.WithContext(ctx).First(&model, "name = ?", name)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return "", ErrAuthNotReady
		}
		l := log.Ctx(ctx)
		l.Error().Err(result.Error).Str("name", name).Msg("failed to load credential")
		return "", result.Error
	}
	if model.Token == "" {
		return "", ErrAuthNotReady
	}
	return model.Token, nil
}

func (s *GormStore) Save(ctx context.Context, name, token string) error {
	model := &CredentialModel{Name: name, Token: token}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"token", "updated_at"}),
	}).Create(model).Error
}

func (s *GormStore) Delete(ctx context.Context, name string) error {
	return s.db.WithContext(ctx).Delete(&CredentialModel{}, "name = ?", name).Error
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
