package mock

import (
	"context"
	"sort"
	"time"

	"github.com/lucaresi/stima/pkg/models"
	"github.com/lucaresi/stima/pkg/repository"
)

// Test helpers and mocks
type Mocks struct {
	Users *mockUserRepo
	Saves *mockSaveRepo
	Docs  *mockModelDocRepo
}

// NewMocks builds the in-memory repos. Docs starts out seeded with the
// default estimation/v1 document, mirroring a migrated database.
func NewMocks() *Mocks {
	return &Mocks{
		Users: &mockUserRepo{},
		Saves: &mockSaveRepo{Records: make(map[string]*models.Save)},
		Docs:  &mockModelDocRepo{Docs: map[string]string{"estimation/v1": "# Estimation Model"}},
	}
}

var (
	_ repository.UserRepo     = (*mockUserRepo)(nil)
	_ repository.SaveRepo     = (*mockSaveRepo)(nil)
	_ repository.ModelDocRepo = (*mockModelDocRepo)(nil)
)

type mockUserRepo struct {
	Stored    *models.User
	CreateErr error
}

func (m *mockUserRepo) CreateUser(ctx context.Context, u *models.User) (int64, error) {
	if m.CreateErr != nil {
		return 0, m.CreateErr
	}
	m.Stored = &models.User{ID: 1, Name: u.Name, Email: u.Email, PasswordHash: u.PasswordHash}
	return 1, nil
}

func (m *mockUserRepo) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	if m.Stored != nil && m.Stored.ID == id {
		return m.Stored, nil
	}
	return nil, nil
}

func (m *mockUserRepo) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	if m.Stored != nil && m.Stored.Email == email {
		return m.Stored, nil
	}
	return nil, nil
}

type mockSaveRepo struct {
	Records   map[string]*models.Save
	CreateErr error
	GetErr    error
	ListErr   error
	UpdateErr error
}

func (m *mockSaveRepo) CreateSave(ctx context.Context, s *models.Save) error {
	if m.CreateErr != nil {
		return m.CreateErr
	}
	ts := time.Now().UTC().UnixMilli()
	s.Created = ts
	s.Updated = ts
	cp := *s
	m.Records[s.ID] = &cp
	return nil
}

func (m *mockSaveRepo) GetSave(ctx context.Context, id string) (*models.Save, error) {
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	s, ok := m.Records[id]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (m *mockSaveRepo) ListSaves(ctx context.Context, limit int) ([]models.Save, error) {
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	out := make([]models.Save, 0, len(m.Records))
	for _, s := range m.Records {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Updated > out[j].Updated })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockSaveRepo) UpdateSaveContent(ctx context.Context, s *models.Save) (bool, error) {
	if m.UpdateErr != nil {
		return false, m.UpdateErr
	}
	cur, ok := m.Records[s.ID]
	if !ok || cur.Status != models.SaveStatusDraft {
		return false, nil
	}
	cur.RequirementsMD = s.RequirementsMD
	cur.ModelMD = s.ModelMD
	cur.EstimateJSON = s.EstimateJSON
	cur.FinancialsJSON = s.FinancialsJSON
	cur.ReportMD = s.ReportMD
	cur.Updated = time.Now().UTC().UnixMilli()
	return true, nil
}

func (m *mockSaveRepo) FinalizeSave(ctx context.Context, id string) (bool, error) {
	cur, ok := m.Records[id]
	if !ok || cur.Status != models.SaveStatusDraft {
		return false, nil
	}
	cur.Status = models.SaveStatusFinal
	cur.Updated = time.Now().UTC().UnixMilli()
	return true, nil
}

func (m *mockSaveRepo) DeleteSave(ctx context.Context, id string) (bool, error) {
	cur, ok := m.Records[id]
	if !ok || cur.Status != models.SaveStatusDraft {
		return false, nil
	}
	delete(m.Records, id)
	return true, nil
}

type mockModelDocRepo struct {
	Docs   map[string]string
	GetErr error
}

func (m *mockModelDocRepo) CreateModelDocument(ctx context.Context, name, version, documentMD string) (int64, error) {
	m.Docs[name+"/"+version] = documentMD
	return int64(len(m.Docs)), nil
}

func (m *mockModelDocRepo) GetModelDocument(ctx context.Context, name, version string) (*models.ModelDocument, error) {
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	doc, ok := m.Docs[name+"/"+version]
	if !ok {
		return nil, nil
	}
	return &models.ModelDocument{Name: name, Version: version, DocumentMD: doc}, nil
}
