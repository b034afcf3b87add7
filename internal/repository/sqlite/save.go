package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lucaresi/stima/pkg/models"
)

func (r *SQLiteRepo) CreateSave(ctx context.Context, s *models.Save) error {
	if s == nil {
		return fmt.Errorf("save is nil")
	}

	ts := now()
	_, err := r.conn.Exec(ctx, `INSERT INTO saves (id, name, status, requirements_md, model_md, estimate_json, financials_json, report_md, created, updated) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.Name, s.Status, s.RequirementsMD, s.ModelMD, s.EstimateJSON, s.FinancialsJSON, s.ReportMD, ts, ts)
	if err != nil {
		return err
	}

	s.Created = ts
	s.Updated = ts
	return nil
}

func (r *SQLiteRepo) GetSave(ctx context.Context, id string) (*models.Save, error) {
	row := r.conn.QueryRow(ctx, `SELECT id, name, status, requirements_md, model_md, estimate_json, financials_json, report_md, created, updated FROM saves WHERE id = ?`, id)
	var s models.Save
	if err := row.Scan(&s.ID, &s.Name, &s.Status, &s.RequirementsMD, &s.ModelMD, &s.EstimateJSON, &s.FinancialsJSON, &s.ReportMD, &s.Created, &s.Updated); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}

		return nil, err
	}

	return &s, nil
}

func (r *SQLiteRepo) ListSaves(ctx context.Context, limit int) ([]models.Save, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.conn.QueryRows(ctx, `SELECT id, name, status, requirements_md, model_md, estimate_json, financials_json, report_md, created, updated FROM saves ORDER BY updated DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Save
	for rows.Next() {
		var s models.Save
		if err := rows.Scan(&s.ID, &s.Name, &s.Status, &s.RequirementsMD, &s.ModelMD, &s.EstimateJSON, &s.FinancialsJSON, &s.ReportMD, &s.Created, &s.Updated); err != nil {
			return nil, err
		}
		out = append(out, s)
	}

	return out, nil
}

// UpdateSaveContent overwrites the snapshot columns of a draft. The status
// guard lives in the WHERE clause so a final save is never touched.
func (r *SQLiteRepo) UpdateSaveContent(ctx context.Context, s *models.Save) (bool, error) {
	if s == nil {
		return false, fmt.Errorf("save is nil")
	}

	ts := now()
	res, err := r.conn.Exec(ctx, `UPDATE saves SET requirements_md = ?, model_md = ?, estimate_json = ?, financials_json = ?, report_md = ?, updated = ? WHERE id = ? AND status = 'draft'`,
		s.RequirementsMD, s.ModelMD, s.EstimateJSON, s.FinancialsJSON, s.ReportMD, ts, s.ID)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		s.Updated = ts
	}

	return n > 0, nil
}

func (r *SQLiteRepo) FinalizeSave(ctx context.Context, id string) (bool, error) {
	res, err := r.conn.Exec(ctx, `UPDATE saves SET status = 'final', updated = ? WHERE id = ? AND status = 'draft'`, now(), id)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return n > 0, nil
}

func (r *SQLiteRepo) DeleteSave(ctx context.Context, id string) (bool, error) {
	res, err := r.conn.Exec(ctx, `DELETE FROM saves WHERE id = ? AND status = 'draft'`, id)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return n > 0, nil
}
