package sqlite_test

import (
	"context"
	"testing"
	"time"

	dbpkg "github.com/lucaresi/stima/internal/db"
	sqlite "github.com/lucaresi/stima/internal/repository/sqlite"
	"github.com/lucaresi/stima/pkg/models"
)

func setupRepo(t *testing.T) (*sqlite.SQLiteRepo, func()) {
	t.Helper()
	ctx := context.Background()
	d, err := dbpkg.New(ctx, "file::memory:?cache=shared")
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}

	// create schema required by the repo
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT, email TEXT UNIQUE, password_hash TEXT, created INTEGER, updated INTEGER);`,
		`CREATE TABLE IF NOT EXISTS saves (id TEXT PRIMARY KEY, name TEXT, status TEXT DEFAULT 'draft', requirements_md TEXT, model_md TEXT, estimate_json TEXT, financials_json TEXT, report_md TEXT, created INTEGER, updated INTEGER);`,
		`CREATE TABLE IF NOT EXISTS estimate_schemas (id INTEGER PRIMARY KEY AUTOINCREMENT, version TEXT UNIQUE, description TEXT, schema_json TEXT, created INTEGER, updated INTEGER);`,
		`CREATE TABLE IF NOT EXISTS model_documents (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT, version TEXT, document_md TEXT, created INTEGER, updated INTEGER, UNIQUE(name, version));`,
	}

	for _, s := range stmts {
		if _, err := d.Exec(ctx, s); err != nil {
			d.Close()
			t.Fatalf("failed to exec schema: %v", err)
		}
	}

	repo := sqlite.New(d, nil)
	return repo, func() { d.Close() }
}

func TestUserCRUD(t *testing.T) {
	repo, cleanup := setupRepo(t)
	defer cleanup()
	ctx := context.Background()

	// nil user should error
	if _, err := repo.CreateUser(ctx, nil); err == nil {
		t.Fatalf("expected error when creating nil user")
	}

	// Non-existing ID should return nil, nil
	got, err := repo.GetUserByID(ctx, 9999)
	if err != nil {
		t.Fatalf("expected no error when getting non-existing ID")
	}
	if got != nil {
		t.Fatalf("expected nil when getting non-existing ID got: %#v", got)
	}

	// Non-existing email should return nil, nil
	got, err = repo.GetUserByEmail(ctx, "a@a.com")
	if err != nil {
		t.Fatalf("expected no error when getting non-existing email")
	}
	if got != nil {
		t.Fatalf("expected nil when getting non-existing email got: %#v", got)
	}

	u := &models.User{Name: "Alice", Email: "alice@example.com", PasswordHash: "hash"}
	id, err := repo.CreateUser(ctx, u)
	if err != nil {
		t.Fatalf("CreateUser error: %v", err)
	}
	if id == 0 {
		t.Fatalf("expected non-zero id")
	}

	got, err = repo.GetUserByID(ctx, id)
	if err != nil {
		t.Fatalf("GetUserByID error: %v", err)
	}
	if got == nil || got.Email != u.Email {
		t.Fatalf("GetUserByID wrong result: %#v", got)
	}
	if got.PasswordHash != "hash" {
		t.Fatalf("expected password hash to round-trip, got: %q", got.PasswordHash)
	}
	if got.Created == 0 || got.Updated == 0 {
		t.Fatalf("expected timestamps to be set: %#v", got)
	}

	byEmail, err := repo.GetUserByEmail(ctx, u.Email)
	if err != nil {
		t.Fatalf("GetUserByEmail error: %v", err)
	}
	if byEmail == nil || byEmail.ID != id {
		t.Fatalf("GetUserByEmail wrong result: %#v", byEmail)
	}

	// duplicate email should hit the unique constraint
	if _, err := repo.CreateUser(ctx, &models.User{Name: "Alice2", Email: u.Email, PasswordHash: "other"}); err == nil {
		t.Fatalf("expected error when creating duplicate email")
	}
}

func TestSaveDraftLifecycle(t *testing.T) {
	repo, cleanup := setupRepo(t)
	defer cleanup()
	ctx := context.Background()

	// nil save should error
	if err := repo.CreateSave(ctx, nil); err == nil {
		t.Fatalf("expected error when creating nil save")
	}

	// Non-existing ID should return nil, nil
	got, err := repo.GetSave(ctx, "missing")
	if err != nil {
		t.Fatalf("expected no error when getting non-existing save")
	}
	if got != nil {
		t.Fatalf("expected nil when getting non-existing save got: %#v", got)
	}

	s := &models.Save{
		ID:             "sv-1",
		Name:           "CRM estimate",
		Status:         models.SaveStatusDraft,
		RequirementsMD: "# Requirements\n\nBuild a CRM.",
		ModelMD:        "# Estimation Model",
		EstimateJSON:   `{"project_name":"CRM"}`,
		FinancialsJSON: `{"grand_mandays":15}`,
		ReportMD:       "# Project Estimate: CRM",
	}
	if err := repo.CreateSave(ctx, s); err != nil {
		t.Fatalf("CreateSave error: %v", err)
	}
	if s.Created == 0 || s.Updated == 0 {
		t.Fatalf("expected CreateSave to stamp timestamps: %#v", s)
	}

	got, err = repo.GetSave(ctx, "sv-1")
	if err != nil {
		t.Fatalf("GetSave error: %v", err)
	}
	if got == nil || got.Name != s.Name || got.Status != models.SaveStatusDraft {
		t.Fatalf("GetSave wrong result: %#v", got)
	}
	if got.RequirementsMD != s.RequirementsMD || got.EstimateJSON != s.EstimateJSON || got.ReportMD != s.ReportMD {
		t.Fatalf("GetSave content mismatch: %#v", got)
	}

	// nil save should error on update too
	if _, err := repo.UpdateSaveContent(ctx, nil); err == nil {
		t.Fatalf("expected error when updating nil save")
	}

	// sync new content onto the draft
	time.Sleep(5 * time.Millisecond)
	s.ReportMD = "# Project Estimate: CRM v2"
	s.EstimateJSON = `{"project_name":"CRM v2"}`
	ok, err := repo.UpdateSaveContent(ctx, s)
	if err != nil {
		t.Fatalf("UpdateSaveContent error: %v", err)
	}
	if !ok {
		t.Fatalf("expected update on draft to report true")
	}

	got, err = repo.GetSave(ctx, "sv-1")
	if err != nil {
		t.Fatalf("GetSave after update error: %v", err)
	}
	if got.ReportMD != "# Project Estimate: CRM v2" {
		t.Fatalf("expected updated report, got: %q", got.ReportMD)
	}
	if got.Updated <= got.Created {
		t.Fatalf("expected updated to move past created: %#v", got)
	}

	// finalize locks the save
	ok, err = repo.FinalizeSave(ctx, "sv-1")
	if err != nil {
		t.Fatalf("FinalizeSave error: %v", err)
	}
	if !ok {
		t.Fatalf("expected finalize on draft to report true")
	}

	got, err = repo.GetSave(ctx, "sv-1")
	if err != nil {
		t.Fatalf("GetSave after finalize error: %v", err)
	}
	if got.Status != models.SaveStatusFinal {
		t.Fatalf("expected final status, got: %q", got.Status)
	}

	// a final save rejects updates, finalize and delete
	s.ReportMD = "tampered"
	ok, err = repo.UpdateSaveContent(ctx, s)
	if err != nil {
		t.Fatalf("UpdateSaveContent on final error: %v", err)
	}
	if ok {
		t.Fatalf("expected update on final save to report false")
	}

	ok, err = repo.FinalizeSave(ctx, "sv-1")
	if err != nil {
		t.Fatalf("FinalizeSave twice error: %v", err)
	}
	if ok {
		t.Fatalf("expected second finalize to report false")
	}

	ok, err = repo.DeleteSave(ctx, "sv-1")
	if err != nil {
		t.Fatalf("DeleteSave on final error: %v", err)
	}
	if ok {
		t.Fatalf("expected delete on final save to report false")
	}

	got, err = repo.GetSave(ctx, "sv-1")
	if err != nil {
		t.Fatalf("GetSave after rejected delete error: %v", err)
	}
	if got == nil || got.ReportMD != "# Project Estimate: CRM v2" {
		t.Fatalf("expected final save untouched, got: %#v", got)
	}

	// drafts can be deleted
	d := &models.Save{ID: "sv-2", Name: "Scratch", Status: models.SaveStatusDraft}
	if err := repo.CreateSave(ctx, d); err != nil {
		t.Fatalf("CreateSave draft error: %v", err)
	}
	ok, err = repo.DeleteSave(ctx, "sv-2")
	if err != nil {
		t.Fatalf("DeleteSave error: %v", err)
	}
	if !ok {
		t.Fatalf("expected delete on draft to report true")
	}

	after, err := repo.GetSave(ctx, "sv-2")
	if err != nil {
		t.Fatalf("GetSave after delete error: %v", err)
	}
	if after != nil {
		t.Fatalf("expected nil after delete got: %#v", after)
	}

	// deleting a missing save reports false
	ok, err = repo.DeleteSave(ctx, "missing")
	if err != nil {
		t.Fatalf("DeleteSave missing error: %v", err)
	}
	if ok {
		t.Fatalf("expected delete on missing save to report false")
	}
}

func TestListSavesOrderAndLimit(t *testing.T) {
	repo, cleanup := setupRepo(t)
	defer cleanup()
	ctx := context.Background()

	for _, id := range []string{"sv-a", "sv-b", "sv-c"} {
		if err := repo.CreateSave(ctx, &models.Save{ID: id, Name: id, Status: models.SaveStatusDraft}); err != nil {
			t.Fatalf("CreateSave %s error: %v", id, err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	all, err := repo.ListSaves(ctx, 0)
	if err != nil {
		t.Fatalf("ListSaves error: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 saves, got %d", len(all))
	}
	if all[0].ID != "sv-c" || all[1].ID != "sv-b" || all[2].ID != "sv-a" {
		t.Fatalf("expected most recently updated first, got: %s %s %s", all[0].ID, all[1].ID, all[2].ID)
	}

	// updating the oldest save moves it to the front
	time.Sleep(5 * time.Millisecond)
	ok, err := repo.UpdateSaveContent(ctx, &models.Save{ID: "sv-a", ReportMD: "# fresh"})
	if err != nil {
		t.Fatalf("UpdateSaveContent error: %v", err)
	}
	if !ok {
		t.Fatalf("expected update on draft to report true")
	}

	top, err := repo.ListSaves(ctx, 2)
	if err != nil {
		t.Fatalf("ListSaves with limit error: %v", err)
	}
	if len(top) != 2 {
		t.Fatalf("expected 2 saves, got %d", len(top))
	}
	if top[0].ID != "sv-a" || top[1].ID != "sv-c" {
		t.Fatalf("expected sv-a then sv-c, got: %s %s", top[0].ID, top[1].ID)
	}
}

func TestSchemaUpsertAndList(t *testing.T) {
	repo, cleanup := setupRepo(t)
	defer cleanup()
	ctx := context.Background()

	// Non-existing version should return nil, nil
	got, err := repo.GetSchema(ctx, "v9")
	if err != nil {
		t.Fatalf("expected no error when getting non-existing schema")
	}
	if got != nil {
		t.Fatalf("expected nil when getting non-existing schema got: %#v", got)
	}

	if _, err := repo.CreateSchema(ctx, "v1", "estimate payload", `{"type":"object"}`); err != nil {
		t.Fatalf("CreateSchema error: %v", err)
	}

	got, err = repo.GetSchema(ctx, "v1")
	if err != nil {
		t.Fatalf("GetSchema error: %v", err)
	}
	if got == nil || got.Description != "estimate payload" || got.SchemaJSON != `{"type":"object"}` {
		t.Fatalf("GetSchema wrong result: %#v", got)
	}

	// same version upserts in place
	if _, err := repo.CreateSchema(ctx, "v1", "estimate payload, stricter", `{"type":"object","required":["project_name"]}`); err != nil {
		t.Fatalf("CreateSchema upsert error: %v", err)
	}
	got, err = repo.GetSchema(ctx, "v1")
	if err != nil {
		t.Fatalf("GetSchema after upsert error: %v", err)
	}
	if got.Description != "estimate payload, stricter" {
		t.Fatalf("expected upserted description, got: %q", got.Description)
	}

	if _, err := repo.CreateSchema(ctx, "v2", "next", `{"type":"object"}`); err != nil {
		t.Fatalf("CreateSchema v2 error: %v", err)
	}

	list, err := repo.ListSchemas(ctx)
	if err != nil {
		t.Fatalf("ListSchemas error: %v", err)
	}
	if len(list) != 2 || list[0].Version != "v1" || list[1].Version != "v2" {
		t.Fatalf("ListSchemas wrong result: %#v", list)
	}
}

func TestModelDocumentUpsert(t *testing.T) {
	repo, cleanup := setupRepo(t)
	defer cleanup()
	ctx := context.Background()

	// Non-existing document should return nil, nil
	got, err := repo.GetModelDocument(ctx, "estimation", "v9")
	if err != nil {
		t.Fatalf("expected no error when getting non-existing document")
	}
	if got != nil {
		t.Fatalf("expected nil when getting non-existing document got: %#v", got)
	}

	if _, err := repo.CreateModelDocument(ctx, "estimation", "v1", "# Estimation Model"); err != nil {
		t.Fatalf("CreateModelDocument error: %v", err)
	}

	got, err = repo.GetModelDocument(ctx, "estimation", "v1")
	if err != nil {
		t.Fatalf("GetModelDocument error: %v", err)
	}
	if got == nil || got.DocumentMD != "# Estimation Model" {
		t.Fatalf("GetModelDocument wrong result: %#v", got)
	}

	// same (name, version) upserts in place
	if _, err := repo.CreateModelDocument(ctx, "estimation", "v1", "# Estimation Model\n\nRevised."); err != nil {
		t.Fatalf("CreateModelDocument upsert error: %v", err)
	}
	got, err = repo.GetModelDocument(ctx, "estimation", "v1")
	if err != nil {
		t.Fatalf("GetModelDocument after upsert error: %v", err)
	}
	if got.DocumentMD != "# Estimation Model\n\nRevised." {
		t.Fatalf("expected upserted document, got: %q", got.DocumentMD)
	}

	// a new version is a distinct row
	if _, err := repo.CreateModelDocument(ctx, "estimation", "v2", "# Estimation Model v2"); err != nil {
		t.Fatalf("CreateModelDocument v2 error: %v", err)
	}
	v1, err := repo.GetModelDocument(ctx, "estimation", "v1")
	if err != nil {
		t.Fatalf("GetModelDocument v1 error: %v", err)
	}
	v2, err := repo.GetModelDocument(ctx, "estimation", "v2")
	if err != nil {
		t.Fatalf("GetModelDocument v2 error: %v", err)
	}
	if v1 == nil || v2 == nil || v1.DocumentMD == v2.DocumentMD {
		t.Fatalf("expected distinct documents per version: %#v %#v", v1, v2)
	}
}
