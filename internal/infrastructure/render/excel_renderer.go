// Package render produces the booking order spreadsheet sent to approvers.
package render

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/garyjia/booking-approval/internal/application/port"
	"github.com/garyjia/booking-approval/internal/domain/entity"
)

const (
	sheetName    = "Booking Order"
	stampText    = "APPROVED"
	amountNumFmt = 4 // built-in #,##0.00
)

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Config configures the spreadsheet renderer
type Config struct {
	OutputDir    string
	TemplatePath string // optional; the first sheet is filled in place
	CompanyName  string
}

// ExcelRenderer writes booking orders to xlsx files
type ExcelRenderer struct {
	cfg    Config
	now    func() time.Time
	logger *zap.Logger
}

// NewExcelRenderer creates a renderer writing into cfg.OutputDir
func NewExcelRenderer(cfg Config, logger *zap.Logger) (*ExcelRenderer, error) {
	if cfg.OutputDir == "" {
		cfg.OutputDir = filepath.Join(os.TempDir(), "booking-orders")
	}
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExcelRenderer{cfg: cfg, now: time.Now, logger: logger}, nil
}

// Render writes the booking order and returns the file path. Stamped
// renders get their own file name so the draft is never overwritten.
func (r *ExcelRenderer) Render(ctx context.Context, data entity.BookingOrderData, referenceID string, applyApprovalStamp bool) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	f, sheet, err := r.open()
	if err != nil {
		return "", err
	}
	defer f.Close()

	w := &sheetWriter{f: f, sheet: sheet}
	if w.amountStyle, err = f.NewStyle(&excelize.Style{NumFmt: amountNumFmt}); err != nil {
		return "", fmt.Errorf("failed to create amount style: %w", err)
	}
	if w.headerStyle, err = f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}}); err != nil {
		return "", fmt.Errorf("failed to create header style: %w", err)
	}

	w.text("A1", r.cfg.CompanyName)
	w.header("A2", "Booking Order")
	w.text("B2", referenceID)

	row := 4
	for _, field := range []struct{ label, value string }{
		{"BO Number", data.BONumber},
		{"Client", data.Client},
		{"Brand / Campaign", data.Campaign},
		{"Agency", data.Agency},
		{"Sales Person", data.SalesPerson},
		{"Payment Terms", data.PaymentTerms},
		{"Currency", data.Currency},
		{"Start Date", data.StartDate},
		{"End Date", data.EndDate},
	} {
		w.header(cell("A", row), field.label)
		w.text(cell("B", row), field.value)
		row++
	}

	row++
	w.header(cell("A", row), "Location")
	w.header(cell("B", row), "Start")
	w.header(cell("C", row), "End")
	w.header(cell("D", row), "Duration")
	w.header(cell("E", row), "Net Amount")
	row++
	for _, loc := range data.Locations {
		w.text(cell("A", row), loc.Name)
		w.text(cell("B", row), loc.StartDate)
		w.text(cell("C", row), loc.EndDate)
		w.text(cell("D", row), loc.Duration)
		w.amount(cell("E", row), loc.NetAmount)
		row++
	}

	row++
	w.header(cell("D", row), "Net (pre-tax)")
	w.amount(cell("E", row), data.NetPreTax)
	row++
	w.header(cell("D", row), fmt.Sprintf("Tax (%g%%)", data.TaxRate*100))
	w.amount(cell("E", row), data.Tax)
	row++
	w.header(cell("D", row), "Gross")
	w.amount(cell("E", row), data.Gross)

	if applyApprovalStamp {
		if err := w.stamp(r.now()); err != nil {
			return "", err
		}
	}
	if w.err != nil {
		return "", fmt.Errorf("failed to fill booking order: %w", w.err)
	}

	outputPath := filepath.Join(r.cfg.OutputDir, fileName(referenceID, applyApprovalStamp))
	if err := f.SaveAs(outputPath); err != nil {
		return "", fmt.Errorf("failed to save Excel file: %w", err)
	}

	r.logger.Info("Booking order rendered",
		zap.String("reference_id", referenceID),
		zap.Bool("approved", applyApprovalStamp),
		zap.String("output_path", outputPath))
	return outputPath, nil
}

func (r *ExcelRenderer) open() (*excelize.File, string, error) {
	if r.cfg.TemplatePath == "" {
		f := excelize.NewFile()
		if err := f.SetSheetName("Sheet1", sheetName); err != nil {
			f.Close()
			return nil, "", fmt.Errorf("failed to name sheet: %w", err)
		}
		return f, sheetName, nil
	}

	f, err := excelize.OpenFile(r.cfg.TemplatePath)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open template: %w", err)
	}
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		f.Close()
		return nil, "", fmt.Errorf("template has no sheets")
	}
	return f, sheets[0], nil
}

// sheetWriter keeps the first error so the fill code stays linear
type sheetWriter struct {
	f           *excelize.File
	sheet       string
	amountStyle int
	headerStyle int
	err         error
}

func (w *sheetWriter) text(c, value string) {
	if w.err != nil || value == "" {
		return
	}
	w.err = w.f.SetCellStr(w.sheet, c, value)
}

func (w *sheetWriter) header(c, value string) {
	w.text(c, value)
	if w.err == nil {
		w.err = w.f.SetCellStyle(w.sheet, c, c, w.headerStyle)
	}
}

func (w *sheetWriter) amount(c string, v float64) {
	if w.err != nil {
		return
	}
	if w.err = w.f.SetCellFloat(w.sheet, c, v, 2, 64); w.err == nil {
		w.err = w.f.SetCellStyle(w.sheet, c, c, w.amountStyle)
	}
}

func (w *sheetWriter) stamp(at time.Time) error {
	var border []excelize.Border
	for _, side := range []string{"left", "right", "top", "bottom"} {
		border = append(border, excelize.Border{Type: side, Color: "C00000", Style: 2})
	}
	style, err := w.f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 16, Color: "C00000"},
		Border:    border,
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		return fmt.Errorf("failed to create stamp style: %w", err)
	}
	w.text("E1", stampText)
	w.text("E2", at.Format("2006-01-02"))
	if w.err == nil {
		w.err = w.f.SetCellStyle(w.sheet, "E1", "E1", style)
	}
	return nil
}

func cell(col string, row int) string {
	return fmt.Sprintf("%s%d", col, row)
}

func fileName(referenceID string, approved bool) string {
	name := unsafeName.ReplaceAllString(referenceID, "_")
	if name == "" {
		name = "booking-order"
	}
	if approved {
		return name + "-approved.xlsx"
	}
	return name + "-draft.xlsx"
}

// Verify interface compliance
var _ port.Renderer = (*ExcelRenderer)(nil)
