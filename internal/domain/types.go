package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// Page wraps a slice of results with the token for the next page.
type Page[T any] struct {
	Items         []T
	NextPageToken string
}

// OrderStatus enumerates the lifecycle states of an order.
type OrderStatus string

const (
	// OrderStatusPending is assigned to every order at creation.
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusPreparing OrderStatus = "preparing"
	OrderStatusShipped   OrderStatus = "shipped"
	OrderStatusFinished  OrderStatus = "finished"
	OrderStatusCanceled  OrderStatus = "canceled"
)

// SubmitterInfo is the buyer metadata captured on the order form.
type SubmitterInfo struct {
	Section      string
	EmployeeCode int64
	Initial      string
	Username     string
	Position     string
	CompanyName  string
	SiteCode     string
	SiteName     string
	ZipCode      int64
	Address      string
	Tel          string
	Applicant    string
	Memo         string
}

// Order is the persisted order header.
type Order struct {
	ID            string
	OrderNumber   int64
	Submitter     SubmitterInfo
	Status        OrderStatus
	UserID        string
	LineCount     int
	TotalQuantity int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
	Details       []OrderDetail
}

// OrderDetail is one line item. Details are immutable once the order commits.
type OrderDetail struct {
	ID            string
	OrderID       string
	OrderNumber   int64
	SKU           SKURef
	ProductNumber string
	ProductName   string
	SalePrice     int64
	CostPrice     int64
	Size          string
	OrderQuantity int64
	Quantity      int64
	// Inseam is the requested hem length in centimetres; nil when no alteration.
	Inseam    *int64
	SortNum   int
	UserID    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SKURef addresses a SKU by its owning product.
type SKURef struct {
	ProductID string
	SKUID     string
}

// Path returns the slash separated document path of the SKU.
func (r SKURef) Path() string {
	return "products/" + r.ProductID + "/skus/" + r.SKUID
}

// IsZero reports whether the reference is unset.
func (r SKURef) IsZero() bool {
	return r.ProductID == "" && r.SKUID == ""
}

// Product groups SKUs of one catalogue item.
type Product struct {
	ID            string
	ProductNumber string
	ProductName   string
	DisplayName   string
	SalePrice     int64
	CostPrice     int64
	IsHem         bool
	SortNum       int
	SKUs          []SKU
}

// SKU is a stock keeping unit nested under a product.
type SKU struct {
	ID                  string
	ProductID           string
	ProductNumber       string
	ProductName         string
	DisplayName         string
	Size                string
	SalePrice           int64
	CostPrice           int64
	IsHem               bool
	SortNum             int
	OutstandingQuantity int64
	UpdatedAt           time.Time
}

// Ref returns the reference of the SKU document.
func (s SKU) Ref() SKURef {
	return SKURef{ProductID: s.ProductID, SKUID: s.ID}
}

// SerialCounter is the shared order number sequence.
type SerialCounter struct {
	Count     int64
	UpdatedAt time.Time
}
