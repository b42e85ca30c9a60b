package index

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/docdex/docdex/internal/domain"
	domidx "github.com/docdex/docdex/internal/domain/index"
	domjob "github.com/docdex/docdex/internal/domain/job"
	"github.com/docdex/docdex/internal/domain/mapping"
	colrepo "github.com/docdex/docdex/internal/repository/collection"
	"github.com/docdex/docdex/internal/repository/doc"
	"github.com/docdex/docdex/internal/search"
)

// --- Mocks ---

type mockRepo struct {
	byName        map[string]domidx.Index
	props         []mapping.Property
	created       *domidx.Index
	updated       []domidx.Index
	replaced      []mapping.Property
	appliedPlan   *mapping.Plan
	deletedID     int64
	createErr     error
}

func newMockRepo() *mockRepo {
	return &mockRepo{byName: make(map[string]domidx.Index)}
}

func (m *mockRepo) Create(_ context.Context, idx domidx.Index, props []mapping.Property) (domidx.Index, error) {
	if m.createErr != nil {
		return domidx.Index{}, m.createErr
	}
	idx = idx.WithID(1)
	m.created = &idx
	m.byName[idx.Name()] = idx
	m.props = props
	return idx, nil
}

func (m *mockRepo) GetByName(_ context.Context, name string) (domidx.Index, error) {
	idx, ok := m.byName[name]
	if !ok {
		return domidx.Index{}, domain.ErrNotFound
	}
	return idx, nil
}

func (m *mockRepo) GetByID(_ context.Context, id int64) (domidx.Index, error) {
	for _, idx := range m.byName {
		if idx.ID() == id {
			return idx, nil
		}
	}
	return domidx.Index{}, domain.ErrNotFound
}

func (m *mockRepo) ListByCollection(_ context.Context, _ int64) ([]domidx.Index, error) {
	var out []domidx.Index
	for _, idx := range m.byName {
		out = append(out, idx)
	}
	return out, nil
}

func (m *mockRepo) Update(_ context.Context, idx domidx.Index) error {
	m.updated = append(m.updated, idx)
	m.byName[idx.Name()] = idx
	return nil
}

func (m *mockRepo) Delete(_ context.Context, indexID int64) error {
	m.deletedID = indexID
	for name, idx := range m.byName {
		if idx.ID() == indexID {
			delete(m.byName, name)
		}
	}
	return nil
}

func (m *mockRepo) Properties(_ context.Context, _ int64) ([]mapping.Property, error) {
	return m.props, nil
}

func (m *mockRepo) ReplaceProperties(_ context.Context, _ int64, props []mapping.Property) error {
	m.replaced = props
	m.props = props
	return nil
}

func (m *mockRepo) ApplyPlan(_ context.Context, _ int64, plan mapping.Plan) error {
	m.appliedPlan = &plan
	return nil
}

type mockLogStore struct {
	appended        []doc.Row
	row             doc.Row
	deletedByIndex  int64
}

func (m *mockLogStore) AppendOne(_ context.Context, row doc.Row) (int64, error) {
	m.appended = append(m.appended, row)
	return int64(100 + len(m.appended)), nil
}

func (m *mockLogStore) Get(_ context.Context, _ int64) (doc.Row, error) {
	return m.row, nil
}

func (m *mockLogStore) DeleteByIndex(_ context.Context, indexID int64) error {
	m.deletedByIndex = indexID
	return nil
}

type mockCollections struct {
	rec colrepo.Record
	err error
}

func (m *mockCollections) GetByName(_ context.Context, _ string) (colrepo.Record, error) {
	return m.rec, m.err
}

func (m *mockCollections) GetByID(_ context.Context, _ int64) (colrepo.Record, error) {
	return m.rec, m.err
}

type mockJobs struct {
	modes []domjob.MigrateMode
	err   error
}

func (m *mockJobs) CreateMigrateJob(_ context.Context, indexID int64, mode domjob.MigrateMode) (domjob.Job, error) {
	if m.err != nil {
		return domjob.Job{}, m.err
	}
	m.modes = append(m.modes, mode)
	return domjob.New(domjob.TypeIndexMigrate, nil, 0).WithID(9), nil
}

type mockEngine struct {
	created  []string
	deleted  []string
	mapped   []string
	upserted []search.Document
	getDoc   search.Document
	getErr   error
}

func (m *mockEngine) CreateIndex(_ context.Context, name string) error {
	m.created = append(m.created, name)
	return nil
}

func (m *mockEngine) DeleteIndex(_ context.Context, name string) error {
	m.deleted = append(m.deleted, name)
	return nil
}

func (m *mockEngine) PutMapping(_ context.Context, name string, _ []mapping.Property) error {
	m.mapped = append(m.mapped, name)
	return nil
}

func (m *mockEngine) BulkUpsert(_ context.Context, docs []search.Document) error {
	m.upserted = append(m.upserted, docs...)
	return nil
}

func (m *mockEngine) Get(_ context.Context, _, _ string) (search.Document, error) {
	return m.getDoc, m.getErr
}

func (m *mockEngine) Search(_ context.Context, index string, _ []byte, _ int) ([]search.Document, error) {
	return []search.Document{{Index: index, ID: "hit"}}, nil
}

// --- Helpers ---

type fixture struct {
	repo        *mockRepo
	logs        *mockLogStore
	collections *mockCollections
	jobs        *mockJobs
	engine      *mockEngine
	svc         *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:        newMockRepo(),
		logs:        &mockLogStore{},
		collections: &mockCollections{rec: colrepo.Record{ID: 1, Name: "sales"}},
		jobs:        &mockJobs{},
		engine:      &mockEngine{},
	}
	f.svc = New(f.repo, f.logs, f.collections, f.jobs, f.engine, zap.NewNop())
	return f
}

func orderProps(t *testing.T) []mapping.Property {
	t.Helper()
	id, err := mapping.NewProperty("order_no", mapping.TypeText)
	if err != nil {
		t.Fatalf("NewProperty: %v", err)
	}
	qty, err := mapping.NewProperty("quantity", mapping.TypeNumber)
	if err != nil {
		t.Fatalf("NewProperty: %v", err)
	}
	return []mapping.Property{id.WithIDPart(true), qty}
}

func (f *fixture) createOrders(t *testing.T) View {
	t.Helper()
	view, err := f.svc.Create(context.Background(), CreateParams{
		Name:           "orders",
		CollectionName: "sales",
		Properties:     orderProps(t),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return view
}

// --- Tests ---

func TestCreate_StartsInactivated(t *testing.T) {
	f := newFixture(t)

	view := f.createOrders(t)
	if view.Index.Status() != domidx.StatusInactivated {
		t.Errorf("status = %q, want %q", view.Index.Status(), domidx.StatusInactivated)
	}
	if len(f.engine.created) != 0 {
		t.Error("creation must not touch the search engine")
	}
}

func TestCreate_DuplicateName(t *testing.T) {
	f := newFixture(t)
	f.createOrders(t)

	_, err := f.svc.Create(context.Background(), CreateParams{
		Name:           "orders",
		CollectionName: "sales",
		Properties:     orderProps(t),
	})
	if !errors.Is(err, domain.ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}
}

func TestCreate_RejectsSchemaWithoutIDPart(t *testing.T) {
	f := newFixture(t)

	qty, err := mapping.NewProperty("quantity", mapping.TypeNumber)
	if err != nil {
		t.Fatalf("NewProperty: %v", err)
	}
	_, err = f.svc.Create(context.Background(), CreateParams{
		Name:           "orders",
		CollectionName: "sales",
		Properties:     []mapping.Property{qty},
	})
	if !errors.Is(err, domain.ErrSchema) {
		t.Errorf("expected ErrSchema, got %v", err)
	}
}

func TestActivate_ProvisionsAndSchedulesReinsert(t *testing.T) {
	f := newFixture(t)
	f.createOrders(t)

	job, err := f.svc.Activate(context.Background(), "orders")
	if err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if job.ID() != 9 {
		t.Errorf("job id = %d, want 9", job.ID())
	}
	if len(f.engine.created) != 1 || f.engine.created[0] != "orders@1" {
		t.Errorf("engine created = %v, want [orders@1]", f.engine.created)
	}
	if len(f.engine.mapped) != 1 || f.engine.mapped[0] != "orders@1" {
		t.Errorf("engine mapped = %v, want [orders@1]", f.engine.mapped)
	}
	if len(f.jobs.modes) != 1 || f.jobs.modes[0] != domjob.ModeReinsert {
		t.Errorf("job modes = %v, want [reinsert]", f.jobs.modes)
	}
	if got := f.repo.byName["orders"].Status(); got != domidx.StatusMigrating {
		t.Errorf("stored status = %q, want %q", got, domidx.StatusMigrating)
	}

	// Second activation is an invalid transition.
	if _, err := f.svc.Activate(context.Background(), "orders"); !errors.Is(err, domain.ErrInvalidState) {
		t.Errorf("expected ErrInvalidState, got %v", err)
	}
}

func TestRecreate_DropsOldPhysicalIndex(t *testing.T) {
	f := newFixture(t)
	f.createOrders(t)
	if _, err := f.svc.Activate(context.Background(), "orders"); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if err := f.svc.ForceActivate(context.Background(), "orders"); err != nil {
		t.Fatalf("ForceActivate: %v", err)
	}

	if _, err := f.svc.Recreate(context.Background(), "orders"); err != nil {
		t.Fatalf("Recreate: %v", err)
	}
	if len(f.engine.created) != 2 || f.engine.created[1] != "orders@2" {
		t.Errorf("engine created = %v, want new orders@2", f.engine.created)
	}
	if len(f.engine.deleted) != 1 || f.engine.deleted[0] != "orders@1" {
		t.Errorf("engine deleted = %v, want [orders@1]", f.engine.deleted)
	}
}

func TestAppend_RequiresActivated(t *testing.T) {
	f := newFixture(t)
	f.createOrders(t)

	if _, err := f.svc.Append(context.Background(), "orders"); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState on inactivated index, got %v", err)
	}

	if _, err := f.svc.Activate(context.Background(), "orders"); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if err := f.svc.ForceActivate(context.Background(), "orders"); err != nil {
		t.Fatalf("ForceActivate: %v", err)
	}

	if _, err := f.svc.Append(context.Background(), "orders"); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if f.jobs.modes[len(f.jobs.modes)-1] != domjob.ModeAppend {
		t.Errorf("job modes = %v, want append last", f.jobs.modes)
	}
	// Append keeps the physical index in place.
	if len(f.engine.created) != 1 {
		t.Errorf("engine created = %v, append must not allocate", f.engine.created)
	}
}

func TestUpdateSchema_CompatibleChangeAppliesPlan(t *testing.T) {
	f := newFixture(t)
	f.createOrders(t)

	props := orderProps(t)
	props[1] = props[1].WithRequired(true)
	job, err := f.svc.UpdateSchema(context.Background(), "orders", nil, props)
	if err != nil {
		t.Fatalf("UpdateSchema: %v", err)
	}
	if job != nil {
		t.Error("compatible change should not schedule a job")
	}
	if f.repo.appliedPlan == nil {
		t.Fatal("expected ApplyPlan to be called")
	}
	if f.repo.appliedPlan.NeedRecreate {
		t.Error("plan should not require recreate")
	}
}

func TestUpdateSchema_IncompatibleChangeOnActiveIndexRebuilds(t *testing.T) {
	f := newFixture(t)
	f.createOrders(t)
	if _, err := f.svc.Activate(context.Background(), "orders"); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if err := f.svc.ForceActivate(context.Background(), "orders"); err != nil {
		t.Fatalf("ForceActivate: %v", err)
	}

	extra, err := mapping.NewProperty("region", mapping.TypeText)
	if err != nil {
		t.Fatalf("NewProperty: %v", err)
	}
	props := append(orderProps(t), extra)

	job, err := f.svc.UpdateSchema(context.Background(), "orders", nil, props)
	if err != nil {
		t.Fatalf("UpdateSchema: %v", err)
	}
	if job == nil {
		t.Fatal("expected a rebuild job")
	}
	if len(f.repo.replaced) != 3 {
		t.Errorf("expected property replacement with 3 props, got %d", len(f.repo.replaced))
	}
	if f.jobs.modes[len(f.jobs.modes)-1] != domjob.ModeReinsert {
		t.Errorf("job modes = %v, want reinsert last", f.jobs.modes)
	}
}

func TestUpdateSchema_IncompatibleChangeOnInactiveIndexIsSilent(t *testing.T) {
	f := newFixture(t)
	f.createOrders(t)

	extra, err := mapping.NewProperty("region", mapping.TypeText)
	if err != nil {
		t.Fatalf("NewProperty: %v", err)
	}
	props := append(orderProps(t), extra)

	job, err := f.svc.UpdateSchema(context.Background(), "orders", nil, props)
	if err != nil {
		t.Fatalf("UpdateSchema: %v", err)
	}
	if job != nil {
		t.Error("inactive index should never schedule a rebuild")
	}
	if len(f.repo.replaced) != 3 {
		t.Errorf("expected property replacement, got %v", f.repo.replaced)
	}
}

func TestUpdateSchema_RejectedWhileMigrating(t *testing.T) {
	f := newFixture(t)
	f.createOrders(t)
	if _, err := f.svc.Activate(context.Background(), "orders"); err != nil {
		t.Fatalf("Activate: %v", err)
	}

	_, err := f.svc.UpdateSchema(context.Background(), "orders", nil, orderProps(t))
	if !errors.Is(err, domain.ErrInvalidState) {
		t.Errorf("expected ErrInvalidState, got %v", err)
	}
}

func TestDelete_RemovesPhysicalIndexAndOwnedRows(t *testing.T) {
	f := newFixture(t)
	f.createOrders(t)
	if _, err := f.svc.Activate(context.Background(), "orders"); err != nil {
		t.Fatalf("Activate: %v", err)
	}

	// Migrating index cannot be deleted.
	if err := f.svc.Delete(context.Background(), "orders", false); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState while migrating, got %v", err)
	}

	if err := f.svc.ForceActivate(context.Background(), "orders"); err != nil {
		t.Fatalf("ForceActivate: %v", err)
	}
	if err := f.svc.Delete(context.Background(), "orders", false); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(f.engine.deleted) != 1 || f.engine.deleted[0] != "orders@1" {
		t.Errorf("engine deleted = %v, want [orders@1]", f.engine.deleted)
	}
	if f.logs.deletedByIndex != 1 {
		t.Errorf("expected owned log rows deleted for index 1, got %d", f.logs.deletedByIndex)
	}
}

func TestDelete_RetainDataKeepsLogRows(t *testing.T) {
	f := newFixture(t)
	f.createOrders(t)

	if err := f.svc.Delete(context.Background(), "orders", true); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if f.logs.deletedByIndex != 0 {
		t.Error("retain_data must keep log rows")
	}
	// Inactivated index has no physical counterpart to delete.
	if len(f.engine.deleted) != 0 {
		t.Errorf("engine deleted = %v, want none", f.engine.deleted)
	}
}

func TestUpdateDocument_MergesAndReindexes(t *testing.T) {
	f := newFixture(t)
	f.createOrders(t)
	if _, err := f.svc.Activate(context.Background(), "orders"); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if err := f.svc.ForceActivate(context.Background(), "orders"); err != nil {
		t.Fatalf("ForceActivate: %v", err)
	}

	f.engine.getDoc = search.Document{Index: "orders@1", ID: "O-1", SourceLogID: 55}
	f.logs.row = doc.Row{ID: 55, Source: []byte(`{"order_no":"O-1","quantity":1,"color":"red"}`), CollectionID: 1}

	if err := f.svc.UpdateDocument(context.Background(), "orders", "O-1", []byte(`{"quantity":5}`)); err != nil {
		t.Fatalf("UpdateDocument: %v", err)
	}

	if len(f.logs.appended) != 1 {
		t.Fatalf("expected one appended log row, got %d", len(f.logs.appended))
	}
	appended := f.logs.appended[0]
	if appended.ModifiedByIndex == nil || *appended.ModifiedByIndex != 1 {
		t.Error("appended row must be attributed to the updating index")
	}

	if len(f.engine.upserted) != 1 {
		t.Fatalf("expected one upsert, got %d", len(f.engine.upserted))
	}
	up := f.engine.upserted[0]
	if up.ID != "O-1" {
		t.Errorf("upsert id = %q, want O-1", up.ID)
	}
	if string(up.Source) != `{"order_no":"O-1","quantity":5}` {
		t.Errorf("upsert source = %s", up.Source)
	}
}

func TestUpdateDocument_RejectedWhenNotActivated(t *testing.T) {
	f := newFixture(t)
	f.createOrders(t)

	err := f.svc.UpdateDocument(context.Background(), "orders", "O-1", []byte(`{}`))
	if !errors.Is(err, domain.ErrInvalidState) {
		t.Errorf("expected ErrInvalidState, got %v", err)
	}
}

func TestSearchDocuments_RewritesIndexName(t *testing.T) {
	f := newFixture(t)
	f.createOrders(t)
	if _, err := f.svc.Activate(context.Background(), "orders"); err != nil {
		t.Fatalf("Activate: %v", err)
	}

	docs, err := f.svc.SearchDocuments(context.Background(), "orders", []byte(`{"match":"x"}`), 10)
	if err != nil {
		t.Fatalf("SearchDocuments: %v", err)
	}
	if len(docs) != 1 || docs[0].Index != "orders" {
		t.Errorf("hits should carry the logical index name, got %+v", docs)
	}
}

func TestSearchDocuments_NoPhysicalIndex(t *testing.T) {
	f := newFixture(t)
	f.createOrders(t)

	_, err := f.svc.SearchDocuments(context.Background(), "orders", []byte(`{}`), 10)
	if !errors.Is(err, domain.ErrInvalidState) {
		t.Errorf("expected ErrInvalidState, got %v", err)
	}
}
