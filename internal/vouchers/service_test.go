package vouchers_test

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hugh/salesdesk/internal/audit"
	"github.com/hugh/salesdesk/internal/database/models"
	"github.com/hugh/salesdesk/internal/testutil"
	"github.com/hugh/salesdesk/internal/vouchers"
	"github.com/hugh/salesdesk/pkg/apperr"
	"github.com/hugh/salesdesk/pkg/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"
)

func newService(t *testing.T) (*vouchers.Service, *testutil.TestSetup) {
	t.Helper()
	tc := testutil.NewTestContext(t)
	logger := util.DiscardLogger()
	return vouchers.NewService(tc.DB, nil, audit.NewLog(tc.DB, logger), logger, 0), tc
}

func csvFile(name, body string) vouchers.ImportFile {
	return vouchers.ImportFile{Name: name, Size: int64(len(body)), Body: strings.NewReader(body)}
}

func countStatus(t *testing.T, db *gorm.DB, projectID uuid.UUID, status models.VoucherStatus) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&models.VoucherCode{}).
		Where("project_id = ? AND status = ?", projectID, status).Count(&n).Error)
	return n
}

func TestImport(t *testing.T) {
	svc, tc := newService(t)
	defer tc.Cleanup()
	ctx := testutil.TestContext(t)
	project := testutil.CreateTestProject(t, tc.DB, "Gift Cards")

	t.Run("normalises and de-duplicates within the file", func(t *testing.T) {
		res, err := svc.Import(ctx, project.ID, tc.Admin.ID, csvFile("codes.csv", "code\nabc-1\nABC-1\n"), "")
		require.NoError(t, err)
		assert.Equal(t, int64(1), res.Imported)
		assert.Equal(t, int64(1), res.Duplicates)
		assert.Equal(t, int64(2), res.Total)

		var stored models.VoucherCode
		require.NoError(t, tc.DB.First(&stored, "project_id = ?", project.ID).Error)
		assert.Equal(t, "ABC-1", stored.Code)
		assert.Equal(t, models.VoucherAvailable, stored.Status)
	})

	t.Run("re-importing the same file is a no-op", func(t *testing.T) {
		body := "\xef\xbb\xbfCode,expires_at\nXYZ-1,2099-01-01\nXYZ-2,\n XYZ-3 ,2099-06-30T12:00:00Z\n"
		first, err := svc.Import(ctx, project.ID, tc.Admin.ID, csvFile("batch.csv", body), "Standard")
		require.NoError(t, err)
		assert.Equal(t, int64(3), first.Imported)

		second, err := svc.Import(ctx, project.ID, tc.Admin.ID, csvFile("batch.csv", body), "Standard")
		require.NoError(t, err)
		assert.Equal(t, int64(0), second.Imported)
		assert.Equal(t, second.Total, second.Duplicates)

		var xyz1 models.VoucherCode
		require.NoError(t, tc.DB.First(&xyz1, "code = ?", "XYZ-1").Error)
		require.NotNil(t, xyz1.ExpiresAt)
		assert.Equal(t, 2099, xyz1.ExpiresAt.Year())
		assert.Equal(t, "Standard", xyz1.ProductName)
	})

	t.Run("empty code fails the whole file", func(t *testing.T) {
		before := countStatus(t, tc.DB, project.ID, models.VoucherAvailable)

		_, err := svc.Import(ctx, project.ID, tc.Admin.ID, csvFile("bad.csv", "code\nNEW-1\n,\nNEW-2\n"), "")
		require.Error(t, err)
		assert.True(t, apperr.Is(err, apperr.KindValidation))
		assert.Contains(t, err.Error(), "Row 3")

		assert.Equal(t, before, countStatus(t, tc.DB, project.ID, models.VoucherAvailable))
	})

	t.Run("rejects bad uploads before touching the database", func(t *testing.T) {
		tests := []struct {
			name string
			file vouchers.ImportFile
			want error
		}{
			{"not csv", csvFile("codes.txt", "code\nA\n"), vouchers.ErrNotCSV},
			{"too large", vouchers.ImportFile{Name: "big.csv", Size: vouchers.DefaultMaxUploadBytes + 1, Body: strings.NewReader("")}, vouchers.ErrFileTooLarge},
			{"empty", csvFile("empty.csv", "  \n"), vouchers.ErrEmptyFile},
			{"no code column", csvFile("cols.csv", "voucher\nA\n"), vouchers.ErrMissingHeader},
			{"header only", csvFile("header.csv", "code\n"), vouchers.ErrNoCodes},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := svc.Import(ctx, project.ID, tc.Admin.ID, tt.file, "")
				assert.ErrorIs(t, err, tt.want)
			})
		}
	})

	t.Run("understated size is still capped", func(t *testing.T) {
		body := "code\n" + strings.Repeat("A", vouchers.DefaultMaxUploadBytes)
		_, err := svc.Import(ctx, project.ID, tc.Admin.ID, vouchers.ImportFile{Name: "x.csv", Size: 10, Body: strings.NewReader(body)}, "")
		assert.ErrorIs(t, err, vouchers.ErrFileTooLarge)
	})

	t.Run("unknown project", func(t *testing.T) {
		_, err := svc.Import(ctx, uuid.New(), tc.Admin.ID, csvFile("codes.csv", "code\nA\n"), "")
		assert.ErrorIs(t, err, vouchers.ErrProjectNotFound)
	})
}

func TestAdd(t *testing.T) {
	svc, tc := newService(t)
	defer tc.Cleanup()
	ctx := testutil.TestContext(t)
	project := testutil.CreateTestProject(t, tc.DB, "Manual")

	v, err := svc.Add(ctx, project.ID, tc.Admin.ID, vouchers.AddInput{Code: " promo-9 "})
	require.NoError(t, err)
	assert.Equal(t, "PROMO-9", v.Code)

	_, err = svc.Add(ctx, project.ID, tc.Admin.ID, vouchers.AddInput{Code: "Promo-9"})
	assert.ErrorIs(t, err, vouchers.ErrDuplicateCode)

	_, err = svc.Add(ctx, project.ID, tc.Admin.ID, vouchers.AddInput{Code: "   "})
	assert.ErrorIs(t, err, vouchers.ErrCodeRequired)

	other := testutil.CreateTestProject(t, tc.DB, "Other")
	_, err = svc.Add(ctx, other.ID, tc.Admin.ID, vouchers.AddInput{Code: "PROMO-9"})
	assert.NoError(t, err, "codes are unique per project only")
}

func TestReserve_Concurrent(t *testing.T) {
	svc, tc := newService(t)
	defer tc.Cleanup()
	ctx := testutil.TestContext(t)

	project := testutil.CreateTestProject(t, tc.DB, "Concert")
	seller := testutil.CreateTestAffiliate(t, tc.DB)
	customer := testutil.CreateTestCustomer(t, tc.DB)

	const codes, buyers = 5, 12
	for i := 0; i < codes; i++ {
		testutil.CreateTestVoucher(t, tc.DB, project.ID, fmt.Sprintf("SEAT-%02d", i))
	}
	txns := make([]*models.SalesTransaction, buyers)
	for i := range txns {
		txns[i] = testutil.CreateTestTransaction(t, tc.DB, project, seller, customer)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		claimed = map[uuid.UUID]uuid.UUID{}
		soldOut int
	)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(txn *models.SalesTransaction) {
			defer wg.Done()
			v, err := svc.Reserve(ctx, project.ID, vouchers.ReserveFilter{TransactionID: txn.ID})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				claimed[v.ID] = txn.ID
			case errors.Is(err, vouchers.ErrNoAvailableCode):
				soldOut++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(txns[i])
	}
	wg.Wait()

	assert.Len(t, claimed, codes, "every code sold exactly once")
	assert.Equal(t, buyers-codes, soldOut)
	assert.Equal(t, int64(codes), countStatus(t, tc.DB, project.ID, models.VoucherSold))

	for voucherID, txnID := range claimed {
		var txn models.SalesTransaction
		require.NoError(t, tc.DB.First(&txn, "id = ?", txnID).Error)
		require.NotNil(t, txn.VoucherCodeID)
		assert.Equal(t, voucherID, *txn.VoucherCodeID)

		var v models.VoucherCode
		require.NoError(t, tc.DB.First(&v, "id = ?", voucherID).Error)
		require.NotNil(t, v.TransactionID)
		assert.Equal(t, txnID, *v.TransactionID)
		assert.NotNil(t, v.SoldAt)
	}
}

func TestReserve_LostClaimMovesOn(t *testing.T) {
	svc, tc := newService(t)
	defer tc.Cleanup()
	ctx := testutil.TestContext(t)

	project := testutil.CreateTestProject(t, tc.DB, "Concert")
	seller := testutil.CreateTestAffiliate(t, tc.DB)
	txn := testutil.CreateTestTransaction(t, tc.DB, project, seller, testutil.CreateTestCustomer(t, tc.DB))

	first := testutil.CreateTestVoucher(t, tc.DB, project.ID, "SEAT-01")
	second := testutil.CreateTestVoucher(t, tc.DB, project.ID, "SEAT-02")
	require.NoError(t, tc.DB.Model(first).Update("created_at", time.Now().UTC().Add(-time.Hour)).Error)

	// Another buyer sells the oldest code between our select and our claim.
	fired := false
	require.NoError(t, tc.DB.Callback().Update().Before("gorm:update").Register("test:rival_sale", func(tx *gorm.DB) {
		if fired || tx.Statement.Table != "voucher_codes" {
			return
		}
		fired = true
		_ = tx.AddError(tx.Session(&gorm.Session{NewDB: true}).
			Exec("UPDATE voucher_codes SET status = ? WHERE id = ?", models.VoucherSold, first.ID).Error)
	}))
	defer func() { _ = tc.DB.Callback().Update().Remove("test:rival_sale") }()

	v, err := svc.Reserve(ctx, project.ID, vouchers.ReserveFilter{TransactionID: txn.ID})
	require.NoError(t, err)
	require.True(t, fired)
	assert.Equal(t, second.ID, v.ID)

	var lost models.VoucherCode
	require.NoError(t, tc.DB.First(&lost, "id = ?", first.ID).Error)
	assert.Equal(t, models.VoucherSold, lost.Status)
	assert.Nil(t, lost.TransactionID, "the rival's sale is left alone")

	var linked models.SalesTransaction
	require.NoError(t, tc.DB.First(&linked, "id = ?", txn.ID).Error)
	require.NotNil(t, linked.VoucherCodeID)
	assert.Equal(t, second.ID, *linked.VoucherCodeID)
}

func TestReserve_Rules(t *testing.T) {
	svc, tc := newService(t)
	defer tc.Cleanup()
	ctx := testutil.TestContext(t)
	project := testutil.CreateTestProject(t, tc.DB, "Rules")

	t.Run("skips codes past expiry even before the sweep", func(t *testing.T) {
		stale := testutil.CreateTestVoucher(t, tc.DB, project.ID, "STALE")
		past := time.Now().UTC().Add(-time.Hour)
		require.NoError(t, tc.DB.Model(stale).Update("expires_at", past).Error)

		_, err := svc.Reserve(ctx, project.ID, vouchers.ReserveFilter{})
		assert.ErrorIs(t, err, vouchers.ErrNoAvailableCode)

		n, err := svc.CountAvailable(ctx, project.ID)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("honours the product filter", func(t *testing.T) {
		v := testutil.CreateTestVoucher(t, tc.DB, project.ID, "VIP-1")
		require.NoError(t, tc.DB.Model(v).Update("product_name", "VIP").Error)
		testutil.CreateTestVoucher(t, tc.DB, project.ID, "GA-1")

		got, err := svc.Reserve(ctx, project.ID, vouchers.ReserveFilter{ProductName: "VIP"})
		require.NoError(t, err)
		assert.Equal(t, "VIP-1", got.Code)

		_, err = svc.Reserve(ctx, project.ID, vouchers.ReserveFilter{ProductName: "VIP"})
		assert.ErrorIs(t, err, vouchers.ErrNoAvailableCode)
	})

	t.Run("a transaction cannot hold two codes", func(t *testing.T) {
		testutil.CreateTestVoucher(t, tc.DB, project.ID, "SPARE-1")
		testutil.CreateTestVoucher(t, tc.DB, project.ID, "SPARE-2")
		txn := testutil.CreateTestTransaction(t, tc.DB, project, testutil.CreateTestAffiliate(t, tc.DB), testutil.CreateTestCustomer(t, tc.DB))

		_, err := svc.Reserve(ctx, project.ID, vouchers.ReserveFilter{TransactionID: txn.ID})
		require.NoError(t, err)
		before := countStatus(t, tc.DB, project.ID, models.VoucherAvailable)

		_, err = svc.Reserve(ctx, project.ID, vouchers.ReserveFilter{TransactionID: txn.ID})
		assert.ErrorIs(t, err, vouchers.ErrTransactionLinked)
		assert.Equal(t, before, countStatus(t, tc.DB, project.ID, models.VoucherAvailable), "claim rolled back")
	})
}

func TestRevoke(t *testing.T) {
	svc, tc := newService(t)
	defer tc.Cleanup()
	ctx := testutil.TestContext(t)
	project := testutil.CreateTestProject(t, tc.DB, "Revocations")

	t.Run("available code is revoked", func(t *testing.T) {
		v := testutil.CreateTestVoucher(t, tc.DB, project.ID, "REV-1")
		got, err := svc.Revoke(ctx, project.ID, v.ID, tc.Admin.ID)
		require.NoError(t, err)
		assert.Equal(t, models.VoucherRevoked, got.Status)

		_, err = svc.Revoke(ctx, project.ID, v.ID, tc.Admin.ID)
		assert.ErrorIs(t, err, vouchers.ErrAlreadyRevoked)
	})

	t.Run("sold code stays sold", func(t *testing.T) {
		v := testutil.CreateTestVoucher(t, tc.DB, project.ID, "REV-2")
		require.NoError(t, tc.DB.Model(v).Update("status", models.VoucherSold).Error)

		_, err := svc.Revoke(ctx, project.ID, v.ID, tc.Admin.ID)
		assert.ErrorIs(t, err, vouchers.ErrSoldNotRevocable)
		assert.True(t, apperr.Is(err, apperr.KindConflict))

		var reloaded models.VoucherCode
		require.NoError(t, tc.DB.First(&reloaded, "id = ?", v.ID).Error)
		assert.Equal(t, models.VoucherSold, reloaded.Status)
	})

	t.Run("missing code", func(t *testing.T) {
		_, err := svc.Revoke(ctx, project.ID, uuid.New(), tc.Admin.ID)
		assert.ErrorIs(t, err, vouchers.ErrVoucherNotFound)
	})
}

func TestListSummaryAndExport(t *testing.T) {
	svc, tc := newService(t)
	defer tc.Cleanup()
	ctx := testutil.TestContext(t)
	project := testutil.CreateTestProject(t, tc.DB, "Reporting")

	_, err := svc.Import(ctx, project.ID, tc.Admin.ID, csvFile("a.csv", "code\nGOLD-1\nGOLD-2\n"), "Gold")
	require.NoError(t, err)
	_, err = svc.Import(ctx, project.ID, tc.Admin.ID, csvFile("b.csv", "code\nSILVER-1\n"), "Silver")
	require.NoError(t, err)

	txn := testutil.CreateTestTransaction(t, tc.DB, project, testutil.CreateTestAffiliate(t, tc.DB, testutil.WithName("Sam Seller")), testutil.CreateTestCustomer(t, tc.DB))
	sold, err := svc.Reserve(ctx, project.ID, vouchers.ReserveFilter{ProductName: "Gold", TransactionID: txn.ID})
	require.NoError(t, err)

	t.Run("list joins the sale", func(t *testing.T) {
		page, err := svc.List(ctx, project.ID, vouchers.Query{Status: "sold"})
		require.NoError(t, err)
		require.Len(t, page.Items, 1)
		row := page.Items[0]
		assert.Equal(t, sold.Code, row.Code)
		require.NotNil(t, row.SalespersonName)
		assert.Equal(t, "Sam Seller", *row.SalespersonName)
		assert.True(t, row.Amount.Valid)
		assert.Equal(t, 50, page.Limit)
	})

	t.Run("search is case-insensitive", func(t *testing.T) {
		page, err := svc.List(ctx, project.ID, vouchers.Query{Search: "silver"})
		require.NoError(t, err)
		assert.Equal(t, int64(1), page.Total)
	})

	t.Run("search wildcards match literally", func(t *testing.T) {
		for _, term := range []string{"%", "_", "GOLD_1"} {
			page, err := svc.List(ctx, project.ID, vouchers.Query{Search: term})
			require.NoError(t, err)
			assert.Zero(t, page.Total, term)
		}

		page, err := svc.List(ctx, project.ID, vouchers.Query{Search: "-"})
		require.NoError(t, err)
		assert.Equal(t, int64(3), page.Total)
	})

	t.Run("limit is capped", func(t *testing.T) {
		page, err := svc.List(ctx, project.ID, vouchers.Query{Limit: 1000})
		require.NoError(t, err)
		assert.Equal(t, vouchers.MaxPageSize, page.Limit)
		assert.Equal(t, int64(3), page.Total)
	})

	t.Run("invalid status", func(t *testing.T) {
		_, err := svc.List(ctx, project.ID, vouchers.Query{Status: "gone"})
		assert.True(t, apperr.Is(err, apperr.KindValidation))
	})

	t.Run("summary", func(t *testing.T) {
		summary, err := svc.Summary(ctx, project.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(3), summary.Total)
		assert.Equal(t, int64(2), summary.Available)
		assert.Equal(t, int64(1), summary.Sold)
		require.Len(t, summary.Products, 2)
		for _, p := range summary.Products {
			if p.ProductName == "Gold" {
				assert.Equal(t, int64(1), p.Sold)
				assert.Equal(t, int64(1), p.Available)
			}
		}
	})

	t.Run("export", func(t *testing.T) {
		buf, name, err := svc.Export(ctx, project.ID, vouchers.Query{})
		require.NoError(t, err)
		assert.True(t, strings.HasSuffix(name, ".xlsx"))

		f, err := excelize.OpenReader(bytes.NewReader(buf.Bytes()))
		require.NoError(t, err)
		defer f.Close()
		rows, err := f.GetRows("Vouchers")
		require.NoError(t, err)
		assert.Len(t, rows, 4)
		assert.Equal(t, "Code", rows[0][0])
	})
}

func TestExpireStale(t *testing.T) {
	svc, tc := newService(t)
	defer tc.Cleanup()
	ctx := testutil.TestContext(t)
	project := testutil.CreateTestProject(t, tc.DB, "Sweep")

	now := time.Now().UTC()
	old := testutil.CreateTestVoucher(t, tc.DB, project.ID, "OLD")
	require.NoError(t, tc.DB.Model(old).Update("expires_at", now.Add(-time.Hour)).Error)
	fresh := testutil.CreateTestVoucher(t, tc.DB, project.ID, "FRESH")
	require.NoError(t, tc.DB.Model(fresh).Update("expires_at", now.Add(time.Hour)).Error)
	testutil.CreateTestVoucher(t, tc.DB, project.ID, "FOREVER")

	n, err := svc.ExpireStale(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, int64(1), countStatus(t, tc.DB, project.ID, models.VoucherExpired))
	assert.Equal(t, int64(2), countStatus(t, tc.DB, project.ID, models.VoucherAvailable))

	n, err = svc.ExpireStale(ctx, now)
	require.NoError(t, err)
	assert.Zero(t, n)
}
