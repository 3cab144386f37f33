package render

import (
	"context"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/garyjia/booking-approval/internal/domain/entity"
)

func testData() entity.BookingOrderData {
	d := entity.BookingOrderData{
		BONumber:  "BO-2024-001",
		Client:    "Acme",
		Currency:  "HKD",
		NetPreTax: 100000,
		TaxRate:   0.05,
		Locations: []entity.LocationItem{
			{Name: "Central MTR", StartDate: "2024-03-01", EndDate: "2024-03-14", NetAmount: 60000},
			{Name: "Causeway Bay", StartDate: "2024-03-01", EndDate: "2024-03-14", NetAmount: 40000},
		},
	}
	d.Recompute()
	return d
}

func newTestRenderer(t *testing.T) *ExcelRenderer {
	t.Helper()
	r, err := NewExcelRenderer(Config{OutputDir: t.TempDir(), CompanyName: "Media Co"}, nil)
	require.NoError(t, err)
	r.now = func() time.Time { return time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC) }
	return r
}

func TestExcelRenderer_Draft(t *testing.T) {
	r := newTestRenderer(t)

	path, err := r.Render(context.Background(), testData(), "bo-acme-1", false)
	require.NoError(t, err)
	assert.Equal(t, "bo-acme-1-draft.xlsx", filepath.Base(path))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	client, err := f.GetCellValue(sheetName, "B5")
	require.NoError(t, err)
	assert.Equal(t, "Acme", client)

	stamp, err := f.GetCellValue(sheetName, "E1")
	require.NoError(t, err)
	assert.Empty(t, stamp)

	rows, err := f.GetRows(sheetName, excelize.Options{RawCellValue: true})
	require.NoError(t, err)
	var gross string
	for _, row := range rows {
		if len(row) >= 5 && row[3] == "Gross" {
			gross = row[4]
		}
	}
	v, err := strconv.ParseFloat(gross, 64)
	require.NoError(t, err)
	assert.Equal(t, 105000.0, v)
}

func TestExcelRenderer_ApprovalStampIsSeparateFile(t *testing.T) {
	r := newTestRenderer(t)

	draft, err := r.Render(context.Background(), testData(), "BO-2024-001", false)
	require.NoError(t, err)
	final, err := r.Render(context.Background(), testData(), "BO-2024-001", true)
	require.NoError(t, err)
	assert.NotEqual(t, draft, final)

	f, err := excelize.OpenFile(final)
	require.NoError(t, err)
	defer f.Close()

	stamp, err := f.GetCellValue(sheetName, "E1")
	require.NoError(t, err)
	assert.Equal(t, stampText, stamp)
	date, err := f.GetCellValue(sheetName, "E2")
	require.NoError(t, err)
	assert.Equal(t, "2024-03-02", date)
}

func TestExcelRenderer_Errors(t *testing.T) {
	r := newTestRenderer(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Render(ctx, testData(), "x", false)
	assert.ErrorIs(t, err, context.Canceled)

	r.cfg.TemplatePath = filepath.Join(t.TempDir(), "missing.xlsx")
	_, err = r.Render(context.Background(), testData(), "x", false)
	assert.ErrorContains(t, err, "failed to open template")
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "BO_1-R2024-approved.xlsx", fileName("BO/1-R2024", true))
	assert.Equal(t, "booking-order-draft.xlsx", fileName("", false))
}
