package services

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	ierr "billing-service/internal/errors"
	"billing-service/internal/models"
	"billing-service/internal/money"
	"billing-service/internal/repository"
)

const reportDateLayout = "2006-01-02"

// ReportService builds read-only financial aggregations from the invoice and
// transaction tables. Reports never mutate state.
type ReportService struct {
	repo repository.BillingRepositoryInterface
}

// NewReportService creates a new report service
func NewReportService(repo repository.BillingRepositoryInterface) *ReportService {
	return &ReportService{repo: repo}
}

// FinancialReport aggregates invoiced and collected totals per currency,
// collected totals per gateway, and collected tax per rate over an inclusive
// date range. Dates are calendar days in UTC.
func (s *ReportService) FinancialReport(ctx context.Context, tenantID, startDate, endDate string) (*models.FinancialReportResponse, error) {
	start, err := time.ParseInLocation(reportDateLayout, startDate, time.UTC)
	if err != nil {
		return nil, ierr.NewError("invalid start date").
			WithHintf("Start date %q must use the YYYY-MM-DD format", startDate).
			Mark(ierr.ErrValidation)
	}
	end, err := time.ParseInLocation(reportDateLayout, endDate, time.UTC)
	if err != nil {
		return nil, ierr.NewError("invalid end date").
			WithHintf("End date %q must use the YYYY-MM-DD format", endDate).
			Mark(ierr.ErrValidation)
	}
	if end.Before(start) {
		return nil, ierr.NewError("inverted date range").
			WithHint("End date must not precede start date").
			Mark(ierr.ErrValidation)
	}

	// The end date is inclusive: query up to the following midnight.
	endExclusive := end.AddDate(0, 0, 1)

	invoiced, err := s.repo.InvoicedTotalsByCurrency(ctx, tenantID, start, endExclusive)
	if err != nil {
		return nil, err
	}
	paid, err := s.repo.PaidTotalsByCurrency(ctx, tenantID, start, endExclusive)
	if err != nil {
		return nil, err
	}
	byGateway, err := s.repo.PaidTotalsByGateway(ctx, tenantID, start, endExclusive)
	if err != nil {
		return nil, err
	}
	byTaxRate, err := s.repo.TaxTotalsByRate(ctx, tenantID, start, endExclusive)
	if err != nil {
		return nil, err
	}

	return &models.FinancialReportResponse{
		StartDate:  startDate,
		EndDate:    endDate,
		Currencies: mergeCurrencyRows(invoiced, paid),
		Gateways:   gatewayBreakdowns(byGateway),
		TaxRates:   taxRateBreakdowns(byTaxRate),
	}, nil
}

// mergeCurrencyRows joins invoiced and paid aggregates on currency. A
// currency present on only one side still gets a row.
func mergeCurrencyRows(invoiced []repository.CurrencyInvoicedRow, paid []repository.CurrencyPaidRow) []models.CurrencyBreakdown {
	type merged struct {
		invoiceCount  int64
		totalInvoiced decimal.Decimal
		totalPaid     decimal.Decimal
	}
	byCurrency := make(map[string]*merged)
	for _, row := range invoiced {
		byCurrency[row.Currency] = &merged{
			invoiceCount:  row.InvoiceCount,
			totalInvoiced: row.TotalInvoiced,
		}
	}
	for _, row := range paid {
		m, ok := byCurrency[row.Currency]
		if !ok {
			m = &merged{}
			byCurrency[row.Currency] = m
		}
		m.totalPaid = row.TotalPaid
	}

	currencies := make([]string, 0, len(byCurrency))
	for currency := range byCurrency {
		currencies = append(currencies, currency)
	}
	sort.Strings(currencies)

	out := make([]models.CurrencyBreakdown, 0, len(currencies))
	for _, currency := range currencies {
		m := byCurrency[currency]
		out = append(out, models.CurrencyBreakdown{
			Currency:      currency,
			InvoiceCount:  m.invoiceCount,
			TotalInvoiced: money.FormatAmount(m.totalInvoiced, currency),
			TotalPaid:     money.FormatAmount(m.totalPaid, currency),
		})
	}
	return out
}

func gatewayBreakdowns(rows []repository.GatewayPaidRow) []models.GatewayBreakdown {
	out := make([]models.GatewayBreakdown, 0, len(rows))
	for _, row := range rows {
		out = append(out, models.GatewayBreakdown{
			GatewayID:        row.GatewayID,
			Currency:         row.Currency,
			TransactionCount: row.TransactionCount,
			TotalPaid:        money.FormatAmount(row.TotalPaid, row.Currency),
		})
	}
	return out
}

func taxRateBreakdowns(rows []repository.TaxRateRow) []models.TaxRateBreakdown {
	out := make([]models.TaxRateBreakdown, 0, len(rows))
	for _, row := range rows {
		out = append(out, models.TaxRateBreakdown{
			TaxRate:      row.TaxRate.String(),
			Currency:     row.Currency,
			LineCount:    row.LineCount,
			TaxCollected: money.FormatAmount(row.TaxCollected, row.Currency),
		})
	}
	return out
}
