package services

import (
	"fmt"
	"html"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"

	domain "github.com/finitefield/order-desk/internal/domain"
)

const (
	defaultMaxLineItems = 200
	maxLineQuantity     = 99999
	maxZipCode          = 9999999
)

var memoPolicy = bluemonday.StrictPolicy()

var fieldLimits = map[string]int{
	"section":     64,
	"initial":     8,
	"username":    64,
	"position":    64,
	"companyName": 128,
	"siteCode":    32,
	"siteName":    128,
	"address":     256,
	"tel":         20,
	"applicant":   64,
	"memo":        1000,
	"skuId":       128,
	"productId":   128,
}

// orderDraft is a validated submission, ready to be written once the catalog and counter
// have been read inside a transaction.
type orderDraft struct {
	userID    string
	submitter domain.SubmitterInfo
	lines     []draftLine
	total     int64
}

type draftLine struct {
	skuID     string
	productID string
	quantity  int64
	hem       *int64
	sortNum   int
}

func (l draftLine) key() lineKey {
	return lineKey{productID: l.productID, skuID: l.skuID}
}

// assembleOrder normalises the command, drops lines without a SKU id or with a non-positive
// quantity, and validates what remains. It never touches the store.
func assembleOrder(cmd CreateOrderCommand, maxLines int) (orderDraft, error) {
	if maxLines <= 0 {
		maxLines = defaultMaxLineItems
	}

	submitter := normalizeSubmitter(cmd.Submitter)
	var invalid []string
	invalid = append(invalid, validateSubmitter(submitter)...)

	lines := make([]draftLine, 0, len(cmd.Lines))
	for _, in := range cmd.Lines {
		skuID := foldIdentifier(in.SKUID)
		if skuID == "" || in.Quantity <= 0 {
			continue
		}
		line := draftLine{
			skuID:     skuID,
			productID: foldIdentifier(in.ProductID),
			quantity:  in.Quantity,
			sortNum:   len(lines) + 1,
		}
		if in.Hem != nil {
			hem := *in.Hem
			line.hem = &hem
		}
		lines = append(lines, line)
	}

	for _, line := range lines {
		if line.quantity > maxLineQuantity {
			invalid = appendUnique(invalid, "lines.quantity")
		}
		if exceeds("skuId", line.skuID) || strings.Contains(line.skuID, "/") {
			invalid = appendUnique(invalid, "lines.skuId")
		}
		if exceeds("productId", line.productID) || strings.Contains(line.productID, "/") {
			invalid = appendUnique(invalid, "lines.productId")
		}
		if line.hem != nil && *line.hem < 0 {
			invalid = appendUnique(invalid, "lines.hem")
		}
	}

	if len(invalid) > 0 {
		return orderDraft{}, &OrderFailure{
			Kind:    FailureValidation,
			Message: "invalid fields: " + strings.Join(invalid, ", "),
			Fields:  invalid,
		}
	}
	if len(lines) == 0 {
		return orderDraft{}, newFailure(FailureEmptyOrder, "no line item has a SKU and a positive quantity", nil)
	}
	if len(lines) > maxLines {
		return orderDraft{}, &OrderFailure{
			Kind:    FailureValidation,
			Message: fmt.Sprintf("at most %d line items per order, got %d", maxLines, len(lines)),
			Fields:  []string{"lines"},
		}
	}

	var total int64
	for _, line := range lines {
		var ok bool
		if total, ok = addQuantity(total, line.quantity); !ok {
			return orderDraft{}, &OrderFailure{
				Kind:    FailureValidation,
				Message: "total quantity is too large",
				Fields:  []string{"lines.quantity"},
			}
		}
	}

	return orderDraft{
		userID:    strings.TrimSpace(cmd.UserID),
		submitter: submitter,
		lines:     lines,
		total:     total,
	}, nil
}

// addQuantity sums two non-negative quantities and reports false on int64 overflow.
func addQuantity(a, b int64) (int64, bool) {
	if b > math.MaxInt64-a {
		return 0, false
	}
	return a + b, true
}

// header builds the order document for the allocated number.
func (d orderDraft) header(orderID string, orderNumber int64, now time.Time) domain.Order {
	return domain.Order{
		ID:            orderID,
		OrderNumber:   orderNumber,
		Submitter:     d.submitter,
		Status:        domain.OrderStatusPending,
		UserID:        d.userID,
		LineCount:     len(d.lines),
		TotalQuantity: d.total,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// detail merges the resolved catalog record with the submitted line.
func (d orderDraft) detail(order domain.Order, line draftLine, sku domain.SKU) domain.OrderDetail {
	detail := domain.OrderDetail{
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		SKU:           sku.Ref(),
		ProductNumber: sku.ProductNumber,
		ProductName:   sku.ProductName,
		SalePrice:     sku.SalePrice,
		CostPrice:     sku.CostPrice,
		Size:          sku.Size,
		OrderQuantity: line.quantity,
		Quantity:      line.quantity,
		SortNum:       line.sortNum,
		UserID:        order.UserID,
		CreatedAt:     order.CreatedAt,
		UpdatedAt:     order.UpdatedAt,
	}
	if line.hem != nil && *line.hem > 0 {
		inseam := *line.hem
		detail.Inseam = &inseam
	}
	return detail
}

func normalizeSubmitter(in SubmitterInput) domain.SubmitterInfo {
	return domain.SubmitterInfo{
		Section:      normalizeText(in.Section),
		EmployeeCode: in.EmployeeCode,
		Initial:      foldIdentifier(in.Initial),
		Username:     normalizeText(in.Username),
		Position:     normalizeText(in.Position),
		CompanyName:  normalizeText(in.CompanyName),
		SiteCode:     foldIdentifier(in.SiteCode),
		SiteName:     normalizeText(in.SiteName),
		ZipCode:      in.ZipCode,
		Address:      normalizeText(in.Address),
		Tel:          foldIdentifier(in.Tel),
		Applicant:    normalizeText(in.Applicant),
		Memo:         sanitizeMemo(in.Memo),
	}
}

func validateSubmitter(s domain.SubmitterInfo) []string {
	var invalid []string
	required := []struct {
		name  string
		value string
	}{
		{"section", s.Section},
		{"username", s.Username},
		{"siteCode", s.SiteCode},
		{"siteName", s.SiteName},
		{"address", s.Address},
		{"tel", s.Tel},
	}
	for _, field := range required {
		if field.value == "" {
			invalid = append(invalid, field.name)
		}
	}
	if s.EmployeeCode <= 0 {
		invalid = append(invalid, "employeeCode")
	}
	if s.ZipCode < 0 || s.ZipCode > maxZipCode {
		invalid = append(invalid, "zipCode")
	}
	if s.Tel != "" && !isPhoneNumber(s.Tel) {
		invalid = appendUnique(invalid, "tel")
	}

	capped := []struct {
		name  string
		value string
	}{
		{"section", s.Section},
		{"initial", s.Initial},
		{"username", s.Username},
		{"position", s.Position},
		{"companyName", s.CompanyName},
		{"siteCode", s.SiteCode},
		{"siteName", s.SiteName},
		{"address", s.Address},
		{"tel", s.Tel},
		{"applicant", s.Applicant},
		{"memo", s.Memo},
	}
	for _, field := range capped {
		if exceeds(field.name, field.value) {
			invalid = appendUnique(invalid, field.name)
		}
	}
	return invalid
}

// foldIdentifier maps full-width and compatibility characters to their canonical narrow form.
func foldIdentifier(value string) string {
	return strings.TrimSpace(norm.NFKC.String(width.Fold.String(value)))
}

// sanitizeMemo strips markup and returns plain text. Sanitize escapes the text it keeps, so
// the result is unescaped again before storage.
func sanitizeMemo(value string) string {
	return strings.TrimSpace(html.UnescapeString(memoPolicy.Sanitize(normalizeText(value))))
}

func normalizeText(value string) string {
	return strings.TrimSpace(norm.NFC.String(value))
}

func isPhoneNumber(value string) bool {
	digits := 0
	for _, r := range value {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == '-' || r == '+' || r == '(' || r == ')' || r == ' ':
		default:
			return false
		}
	}
	return digits > 0
}

func exceeds(field, value string) bool {
	limit, ok := fieldLimits[field]
	return ok && utf8.RuneCountInString(value) > limit
}

func appendUnique(values []string, value string) []string {
	for _, existing := range values {
		if existing == value {
			return values
		}
	}
	return append(values, value)
}
