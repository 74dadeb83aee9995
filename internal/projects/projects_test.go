package projects_test

import (
	"bytes"
	"context"
	"errors"
	"image/png"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hugh/salesdesk/internal/audit"
	"github.com/hugh/salesdesk/internal/database/models"
	"github.com/hugh/salesdesk/internal/projects"
	"github.com/hugh/salesdesk/internal/storage"
	"github.com/hugh/salesdesk/internal/testutil"
	"github.com/hugh/salesdesk/pkg/apperr"
	"github.com/hugh/salesdesk/pkg/util"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newService(t *testing.T, store storage.Store) (*projects.Service, *testutil.TestSetup) {
	t.Helper()
	tc := testutil.NewTestContext(t)
	logger := util.DiscardLogger()
	return projects.NewService(tc.DB, store, audit.NewLog(tc.DB, logger), logger, "https://desk.example.com/"), tc
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Spring Sale 2024", "spring-sale-2024"},
		{"  Dr. Amaka  O'Neil ", "dr-amaka-o-neil"},
		{"--Already--Dashed--", "already-dashed"},
		{"Café Olé", "caf-ol"},
		{"!!!", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, projects.Slugify(tt.in))
		})
	}
}

func TestService_Create(t *testing.T) {
	svc, tc := newService(t, nil)
	defer tc.Cleanup()
	ctx := testutil.TestContext(t)

	p, err := svc.Create(ctx, tc.Admin.ID, projects.CreateInput{
		Name:           "Summer Vouchers",
		Price:          decimal.RequireFromString("49.999"),
		CommissionRate: decimal.NewFromInt(15),
	})
	require.NoError(t, err)
	assert.Equal(t, "summer-vouchers", p.Slug)
	assert.Equal(t, models.ProjectTypeVouchers, p.ProjectType)
	assert.Equal(t, models.ProjectStatusDraft, p.Status)
	assert.Equal(t, "50", p.Price.String())

	_, err = svc.Create(ctx, tc.Admin.ID, projects.CreateInput{Name: "summer  vouchers!"})
	assert.ErrorIs(t, err, projects.ErrSlugTaken)

	_, err = svc.Create(ctx, tc.Admin.ID, projects.CreateInput{Name: "Bad rate", CommissionRate: decimal.NewFromInt(101)})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = svc.Create(ctx, tc.Admin.ID, projects.CreateInput{Name: "Odd", ProjectType: "crypto"})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	status := "active"
	updated, err := svc.Update(ctx, tc.Admin.ID, p.ID, projects.UpdateInput{Status: &status})
	require.NoError(t, err)
	assert.Equal(t, models.ProjectStatusActive, updated.Status)
	assert.Equal(t, "summer-vouchers", updated.Slug)

	list, err := svc.List(ctx, projects.Filter{Status: "active"})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestService_Assign(t *testing.T) {
	svc, tc := newService(t, nil)
	defer tc.Cleanup()
	ctx := testutil.TestContext(t)

	project := testutil.CreateTestProject(t, tc.DB, "Gala Night")
	seller := testutil.CreateTestAffiliate(t, tc.DB, testutil.WithName("Ada Obi"))

	res, err := svc.Assign(ctx, tc.Admin.ID, project.ID, seller.ID)
	require.NoError(t, err)
	assert.False(t, res.Reactivated)
	assert.Equal(t, "/form/"+project.Slug+"/ada-obi", res.Assignment.FormURL)

	t.Run("second assignment conflicts", func(t *testing.T) {
		_, err := svc.Assign(ctx, tc.Admin.ID, project.ID, seller.ID)
		assert.ErrorIs(t, err, projects.ErrAlreadyAssigned)
	})

	t.Run("unassign then reassign keeps the link", func(t *testing.T) {
		require.NoError(t, svc.Unassign(ctx, tc.Admin.ID, project.ID, res.Assignment.ID))

		_, err := svc.ResolveForm(ctx, project.Slug, "ada-obi")
		assert.ErrorIs(t, err, projects.ErrFormNotFound)

		again, err := svc.Assign(ctx, tc.Admin.ID, project.ID, seller.ID)
		require.NoError(t, err)
		assert.True(t, again.Reactivated)
		assert.Equal(t, res.Assignment.ID, again.Assignment.ID)
		assert.Equal(t, res.Assignment.FormURL, again.Assignment.FormURL)
	})

	t.Run("same name on the same project conflicts", func(t *testing.T) {
		twin := testutil.CreateTestAffiliate(t, tc.DB, testutil.WithName("Ada  Obi"))
		_, err := svc.Assign(ctx, tc.Admin.ID, project.ID, twin.ID)
		assert.ErrorIs(t, err, projects.ErrFormPathTaken)
	})

	t.Run("only sellers can be assigned", func(t *testing.T) {
		marketing := testutil.CreateTestUser(t, tc.DB, testutil.WithDepartment(models.DepartmentMarketing))
		_, err := svc.Assign(ctx, tc.Admin.ID, project.ID, marketing.ID)
		assert.ErrorIs(t, err, projects.ErrNotSeller)

		salesStaff := testutil.CreateTestUser(t, tc.DB, testutil.WithDepartment(models.DepartmentSales), testutil.WithName("Sales Sam"))
		_, err = svc.Assign(ctx, tc.Admin.ID, project.ID, salesStaff.ID)
		assert.NoError(t, err)
	})

	t.Run("missing entities", func(t *testing.T) {
		_, err := svc.Assign(ctx, tc.Admin.ID, uuid.New(), seller.ID)
		assert.ErrorIs(t, err, projects.ErrProjectNotFound)
		_, err = svc.Assign(ctx, tc.Admin.ID, project.ID, uuid.New())
		assert.ErrorIs(t, err, projects.ErrSalespersonNotFound)
	})

	t.Run("form resolves with relations", func(t *testing.T) {
		a, err := svc.ResolveForm(ctx, project.Slug, "ada-obi")
		require.NoError(t, err)
		require.NotNil(t, a.Project)
		require.NotNil(t, a.Salesperson)
		assert.Equal(t, seller.ID, a.Salesperson.ID)
	})

	t.Run("salesperson portal lists active projects", func(t *testing.T) {
		mine, err := svc.ListForSalesperson(ctx, seller.ID)
		require.NoError(t, err)
		require.Len(t, mine, 1)
		assert.Equal(t, project.ID, mine[0].Project.ID)
	})
}

// insertBeforeCreate registers a callback that commits a competing
// assignment row just before the next assignment insert, the way a
// concurrent request that passed the same checks would.
func insertBeforeCreate(t *testing.T, db *gorm.DB, projectID, salespersonID uuid.UUID, formURL string) {
	t.Helper()
	fired := false
	require.NoError(t, db.Callback().Create().Before("gorm:begin_transaction").Register("test:competing_assignment", func(tx *gorm.DB) {
		if fired || tx.Statement.Table != "project_assignments" {
			return
		}
		fired = true
		now := time.Now().UTC()
		_ = tx.AddError(tx.Session(&gorm.Session{NewDB: true}).Exec(
			`INSERT INTO project_assignments (id, project_id, salesperson_id, form_url, status, assigned_at, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			uuid.New(), projectID, salespersonID, formURL, models.AssignmentActive, now, now, now).Error)
	}))
	t.Cleanup(func() { _ = db.Callback().Create().Remove("test:competing_assignment") })
}

func TestService_AssignRace(t *testing.T) {
	t.Run("twin name inserted first gets the link", func(t *testing.T) {
		svc, tc := newService(t, nil)
		defer tc.Cleanup()
		ctx := testutil.TestContext(t)

		project := testutil.CreateTestProject(t, tc.DB, "Jazz Brunch")
		first := testutil.CreateTestAffiliate(t, tc.DB, testutil.WithName("Jo Smith"))
		second := testutil.CreateTestAffiliate(t, tc.DB, testutil.WithName("Jo-Smith"))
		formURL := projects.FormPath(project.Slug, "jo-smith")
		insertBeforeCreate(t, tc.DB, project.ID, first.ID, formURL)

		_, err := svc.Assign(ctx, tc.Admin.ID, project.ID, second.ID)
		assert.ErrorIs(t, err, projects.ErrFormPathTaken)

		var sharing int64
		require.NoError(t, tc.DB.Model(&models.ProjectAssignment{}).
			Where("project_id = ? AND form_url = ?", project.ID, formURL).Count(&sharing).Error)
		assert.Equal(t, int64(1), sharing)

		a, err := svc.ResolveForm(ctx, project.Slug, "jo-smith")
		require.NoError(t, err)
		assert.Equal(t, first.ID, a.SalespersonID)
	})

	t.Run("same salesperson inserted first", func(t *testing.T) {
		svc, tc := newService(t, nil)
		defer tc.Cleanup()
		ctx := testutil.TestContext(t)

		project := testutil.CreateTestProject(t, tc.DB, "Jazz Brunch")
		seller := testutil.CreateTestAffiliate(t, tc.DB, testutil.WithName("Jo Smith"))
		insertBeforeCreate(t, tc.DB, project.ID, seller.ID, projects.FormPath(project.Slug, "jo-smith"))

		_, err := svc.Assign(ctx, tc.Admin.ID, project.ID, seller.ID)
		assert.ErrorIs(t, err, projects.ErrAlreadyAssigned)
	})
}

type memStore struct {
	objects map[string][]byte
	fail    bool
}

func (m *memStore) Put(_ context.Context, key, _ string, body []byte) (string, error) {
	if m.fail {
		return "", errors.New("bucket unavailable")
	}
	m.objects[key] = body
	return "https://cdn.example.com/" + key, nil
}

func (m *memStore) Get(_ context.Context, key string) ([]byte, error) {
	b, ok := m.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return b, nil
}

func TestService_QRCode(t *testing.T) {
	store := &memStore{objects: map[string][]byte{}}
	svc, tc := newService(t, store)
	defer tc.Cleanup()
	ctx := testutil.TestContext(t)

	project := testutil.CreateTestProject(t, tc.DB, "QR Project")
	seller := testutil.CreateTestAffiliate(t, tc.DB, testutil.WithName("Qr Seller"))
	res, err := svc.Assign(ctx, tc.Admin.ID, project.ID, seller.ID)
	require.NoError(t, err)
	id := res.Assignment.ID

	t.Run("owner gets a rendered code", func(t *testing.T) {
		qr, err := svc.QRCode(ctx, id, seller.ID, false)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(qr.DataURL, "data:image/png;base64,"))
		assert.Equal(t, "https://desk.example.com"+res.Assignment.FormURL, qr.FullURL)
		assert.Equal(t, "https://cdn.example.com/qr/"+id.String()+".png", qr.ImageURL)

		var stored models.ProjectAssignment
		require.NoError(t, tc.DB.First(&stored, "id = ?", id).Error)
		assert.Equal(t, qr.DataURL, stored.QRCodeData)
	})

	t.Run("cached code is reused", func(t *testing.T) {
		store.fail = true
		defer func() { store.fail = false }()

		first, err := svc.QRCode(ctx, id, tc.Admin.ID, true)
		require.NoError(t, err)
		second, err := svc.QRCode(ctx, id, tc.Admin.ID, true)
		require.NoError(t, err)
		assert.Equal(t, first.DataURL, second.DataURL)
	})

	t.Run("png download decodes", func(t *testing.T) {
		raw, err := svc.QRCodePNG(ctx, id, seller.ID, false)
		require.NoError(t, err)
		img, err := png.Decode(bytes.NewReader(raw))
		require.NoError(t, err)
		assert.Equal(t, 512, img.Bounds().Dx())
	})

	t.Run("other sellers are refused", func(t *testing.T) {
		stranger := testutil.CreateTestAffiliate(t, tc.DB)
		_, err := svc.QRCode(ctx, id, stranger.ID, false)
		assert.ErrorIs(t, err, projects.ErrQRForbidden)
	})

	t.Run("upload failure is not fatal", func(t *testing.T) {
		other := testutil.CreateTestAffiliate(t, tc.DB, testutil.WithName("Second Seller"))
		r, err := svc.Assign(ctx, tc.Admin.ID, project.ID, other.ID)
		require.NoError(t, err)

		store.fail = true
		defer func() { store.fail = false }()
		qr, err := svc.QRCode(ctx, r.Assignment.ID, other.ID, false)
		require.NoError(t, err)
		assert.NotEmpty(t, qr.DataURL)
		assert.Empty(t, qr.ImageURL)
	})
}
