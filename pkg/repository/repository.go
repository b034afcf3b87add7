package repository

import (
	"context"

	"github.com/lucaresi/stima/pkg/models"
)

// Repository interfaces for durable entities. These are the public contracts
// consumers should depend on; concrete implementations live under internal/.

type UserRepo interface {
	CreateUser(ctx context.Context, u *models.User) (int64, error)
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
}

type SaveRepo interface {
	CreateSave(ctx context.Context, s *models.Save) error
	GetSave(ctx context.Context, id string) (*models.Save, error)
	ListSaves(ctx context.Context, limit int) ([]models.Save, error)
	// UpdateSaveContent overwrites the snapshot fields of a draft save and
	// bumps updated. It reports false when the save is missing or final.
	UpdateSaveContent(ctx context.Context, s *models.Save) (bool, error)
	// FinalizeSave moves a draft to final. It reports false when the save
	// is missing or already final.
	FinalizeSave(ctx context.Context, id string) (bool, error)
	// DeleteSave removes a draft. It reports false when the save is missing
	// or final.
	DeleteSave(ctx context.Context, id string) (bool, error)
}

type SchemaRepo interface {
	CreateSchema(ctx context.Context, version, description, schemaJSON string) (int64, error)
	GetSchema(ctx context.Context, version string) (*models.Schema, error)
	ListSchemas(ctx context.Context) ([]models.Schema, error)
}

type ModelDocRepo interface {
	CreateModelDocument(ctx context.Context, name, version, documentMD string) (int64, error)
	GetModelDocument(ctx context.Context, name, version string) (*models.ModelDocument, error)
}
