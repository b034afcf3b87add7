package sqlite

import (
	"context"
	"database/sql"

	"github.com/lucaresi/stima/pkg/models"
)

// CreateModelDocument inserts or updates a model document by (name, version).
func (r *SQLiteRepo) CreateModelDocument(ctx context.Context, name, version, documentMD string) (int64, error) {
	res, err := r.conn.Exec(ctx, `INSERT INTO model_documents (name, version, document_md, created, updated) VALUES (?, ?, ?, strftime('%s','now'), strftime('%s','now')) ON CONFLICT(name, version) DO UPDATE SET document_md=excluded.document_md, updated=strftime('%s','now')`, name, version, documentMD)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r *SQLiteRepo) GetModelDocument(ctx context.Context, name, version string) (*models.ModelDocument, error) {
	row := r.conn.QueryRow(ctx, `SELECT id, name, version, document_md, created, updated FROM model_documents WHERE name = ? AND version = ?`, name, version)
	var d models.ModelDocument
	if err := row.Scan(&d.ID, &d.Name, &d.Version, &d.DocumentMD, &d.Created, &d.Updated); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &d, nil
}
