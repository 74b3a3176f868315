package firestore

import (
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/finitefield/order-desk/internal/domain"
)

const (
	ordersCollection       = "orders"
	orderDetailsCollection = "orderDetails"
	productsCollection     = "products"
	skusCollection         = "skus"

	fieldCount               = "count"
	fieldUpdatedAt           = "updatedAt"
	fieldOutstandingQuantity = "outstandingQuantity"
)

type counterDocument struct {
	Count     int64     `firestore:"count"`
	UpdatedAt time.Time `firestore:"updatedAt,serverTimestamp"`
}

func (d counterDocument) toDomain() domain.SerialCounter {
	return domain.SerialCounter{Count: d.Count, UpdatedAt: d.UpdatedAt}
}

type productDocument struct {
	ID            string    `firestore:"id"`
	ProductNumber string    `firestore:"productNumber"`
	ProductName   string    `firestore:"productName"`
	DisplayName   string    `firestore:"displayName"`
	SalePrice     int64     `firestore:"salePrice"`
	CostPrice     int64     `firestore:"costPrice"`
	IsHem         bool      `firestore:"isHem"`
	SortNum       int       `firestore:"sortNum"`
	UpdatedAt     time.Time `firestore:"updatedAt,serverTimestamp"`
}

func newProductDocument(p domain.Product) productDocument {
	return productDocument{
		ID:            p.ID,
		ProductNumber: p.ProductNumber,
		ProductName:   p.ProductName,
		DisplayName:   p.DisplayName,
		SalePrice:     p.SalePrice,
		CostPrice:     p.CostPrice,
		IsHem:         p.IsHem,
		SortNum:       p.SortNum,
	}
}

func (d productDocument) toDomain() domain.Product {
	return domain.Product{
		ID:            d.ID,
		ProductNumber: d.ProductNumber,
		ProductName:   d.ProductName,
		DisplayName:   d.DisplayName,
		SalePrice:     d.SalePrice,
		CostPrice:     d.CostPrice,
		IsHem:         d.IsHem,
		SortNum:       d.SortNum,
	}
}

type skuDocument struct {
	ID                  string    `firestore:"id"`
	ProductID           string    `firestore:"productId"`
	ProductNumber       string    `firestore:"productNumber"`
	ProductName         string    `firestore:"productName"`
	DisplayName         string    `firestore:"displayName"`
	Size                string    `firestore:"size"`
	SalePrice           int64     `firestore:"salePrice"`
	CostPrice           int64     `firestore:"costPrice"`
	IsHem               bool      `firestore:"isHem"`
	SortNum             int       `firestore:"sortNum"`
	OutstandingQuantity int64     `firestore:"outstandingQuantity"`
	UpdatedAt           time.Time `firestore:"updatedAt,serverTimestamp"`
}

func newSKUDocument(s domain.SKU) skuDocument {
	return skuDocument{
		ID:                  s.ID,
		ProductID:           s.ProductID,
		ProductNumber:       s.ProductNumber,
		ProductName:         s.ProductName,
		DisplayName:         s.DisplayName,
		Size:                s.Size,
		SalePrice:           s.SalePrice,
		CostPrice:           s.CostPrice,
		IsHem:               s.IsHem,
		SortNum:             s.SortNum,
		OutstandingQuantity: s.OutstandingQuantity,
	}
}

// catalogUpdates lists the SKU fields owned by catalogue imports. outstandingQuantity
// belongs to order transactions and is never written here.
func (d skuDocument) catalogUpdates() []firestore.Update {
	return []firestore.Update{
		{Path: "id", Value: d.ID},
		{Path: "productId", Value: d.ProductID},
		{Path: "productNumber", Value: d.ProductNumber},
		{Path: "productName", Value: d.ProductName},
		{Path: "displayName", Value: d.DisplayName},
		{Path: "size", Value: d.Size},
		{Path: "salePrice", Value: d.SalePrice},
		{Path: "costPrice", Value: d.CostPrice},
		{Path: "isHem", Value: d.IsHem},
		{Path: "sortNum", Value: d.SortNum},
		{Path: fieldUpdatedAt, Value: firestore.ServerTimestamp},
	}
}

// toDomain fills identifiers from the document path when older documents lack them.
func (d skuDocument) toDomain(ref *firestore.DocumentRef) domain.SKU {
	sku := domain.SKU{
		ID:                  d.ID,
		ProductID:           d.ProductID,
		ProductNumber:       d.ProductNumber,
		ProductName:         d.ProductName,
		DisplayName:         d.DisplayName,
		Size:                d.Size,
		SalePrice:           d.SalePrice,
		CostPrice:           d.CostPrice,
		IsHem:               d.IsHem,
		SortNum:             d.SortNum,
		OutstandingQuantity: d.OutstandingQuantity,
		UpdatedAt:           d.UpdatedAt,
	}
	if ref != nil {
		if sku.ID == "" {
			sku.ID = ref.ID
		}
		if parent := ref.Parent.Parent; parent != nil {
			sku.ProductID = parent.ID
		}
	}
	return sku
}

type orderDocument struct {
	ID            string    `firestore:"id"`
	OrderNumber   int64     `firestore:"orderNumber"`
	Section       string    `firestore:"section"`
	EmployeeCode  int64     `firestore:"employeeCode"`
	Initial       string    `firestore:"initial"`
	Username      string    `firestore:"username"`
	Position      string    `firestore:"position"`
	CompanyName   string    `firestore:"companyName"`
	SiteCode      string    `firestore:"siteCode"`
	SiteName      string    `firestore:"siteName"`
	ZipCode       int64     `firestore:"zipCode"`
	Address       string    `firestore:"address"`
	Tel           string    `firestore:"tel"`
	Applicant     string    `firestore:"applicant"`
	Memo          string    `firestore:"memo"`
	Status        string    `firestore:"status"`
	UID           string    `firestore:"uid"`
	LineCount     int       `firestore:"lineCount"`
	TotalQuantity int64     `firestore:"totalQuantity"`
	CreatedAt     time.Time `firestore:"createdAt,serverTimestamp"`
	UpdatedAt     time.Time `firestore:"updatedAt,serverTimestamp"`
}

func newOrderDocument(o domain.Order) orderDocument {
	s := o.Submitter
	return orderDocument{
		ID:            o.ID,
		OrderNumber:   o.OrderNumber,
		Section:       s.Section,
		EmployeeCode:  s.EmployeeCode,
		Initial:       s.Initial,
		Username:      s.Username,
		Position:      s.Position,
		CompanyName:   s.CompanyName,
		SiteCode:      s.SiteCode,
		SiteName:      s.SiteName,
		ZipCode:       s.ZipCode,
		Address:       s.Address,
		Tel:           s.Tel,
		Applicant:     s.Applicant,
		Memo:          s.Memo,
		Status:        string(o.Status),
		UID:           o.UserID,
		LineCount:     o.LineCount,
		TotalQuantity: o.TotalQuantity,
	}
}

func (d orderDocument) toDomain(id string) domain.Order {
	if d.ID == "" {
		d.ID = id
	}
	return domain.Order{
		ID:          d.ID,
		OrderNumber: d.OrderNumber,
		Submitter: domain.SubmitterInfo{
			Section:      d.Section,
			EmployeeCode: d.EmployeeCode,
			Initial:      d.Initial,
			Username:     d.Username,
			Position:     d.Position,
			CompanyName:  d.CompanyName,
			SiteCode:     d.SiteCode,
			SiteName:     d.SiteName,
			ZipCode:      d.ZipCode,
			Address:      d.Address,
			Tel:          d.Tel,
			Applicant:    d.Applicant,
			Memo:         d.Memo,
		},
		Status:        domain.OrderStatus(d.Status),
		UserID:        d.UID,
		LineCount:     d.LineCount,
		TotalQuantity: d.TotalQuantity,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}
}

type orderDetailDocument struct {
	OrderID       string                 `firestore:"orderId"`
	OrderRef      *firestore.DocumentRef `firestore:"orderRef"`
	OrderNumber   int64                  `firestore:"orderNumber"`
	SKUID         string                 `firestore:"skuId"`
	SKURef        *firestore.DocumentRef `firestore:"skuRef"`
	ProductID     string                 `firestore:"productId"`
	ProductNumber string                 `firestore:"productNumber"`
	ProductName   string                 `firestore:"productName"`
	SalePrice     int64                  `firestore:"salePrice"`
	CostPrice     int64                  `firestore:"costPrice"`
	Size          string                 `firestore:"size"`
	OrderQuantity int64                  `firestore:"orderQuantity"`
	Quantity      int64                  `firestore:"quantity"`
	Inseam        *int64                 `firestore:"inseam"`
	SortNum       int                    `firestore:"sortNum"`
	UID           string                 `firestore:"uid"`
	CreatedAt     time.Time              `firestore:"createdAt,serverTimestamp"`
	UpdatedAt     time.Time              `firestore:"updatedAt,serverTimestamp"`
}

func newOrderDetailDocument(d domain.OrderDetail, orderRef, skuRef *firestore.DocumentRef) orderDetailDocument {
	return orderDetailDocument{
		OrderID:       d.OrderID,
		OrderRef:      orderRef,
		OrderNumber:   d.OrderNumber,
		SKUID:         d.SKU.SKUID,
		SKURef:        skuRef,
		ProductID:     d.SKU.ProductID,
		ProductNumber: d.ProductNumber,
		ProductName:   d.ProductName,
		SalePrice:     d.SalePrice,
		CostPrice:     d.CostPrice,
		Size:          d.Size,
		OrderQuantity: d.OrderQuantity,
		Quantity:      d.Quantity,
		Inseam:        d.Inseam,
		SortNum:       d.SortNum,
		UID:           d.UserID,
	}
}

func (d orderDetailDocument) toDomain(id string) domain.OrderDetail {
	ref := domain.SKURef{ProductID: d.ProductID, SKUID: d.SKUID}
	if d.SKURef != nil {
		ref.SKUID = d.SKURef.ID
		if parent := d.SKURef.Parent.Parent; parent != nil {
			ref.ProductID = parent.ID
		}
	}
	return domain.OrderDetail{
		ID:            id,
		OrderID:       d.OrderID,
		OrderNumber:   d.OrderNumber,
		SKU:           ref,
		ProductNumber: d.ProductNumber,
		ProductName:   d.ProductName,
		SalePrice:     d.SalePrice,
		CostPrice:     d.CostPrice,
		Size:          d.Size,
		OrderQuantity: d.OrderQuantity,
		Quantity:      d.Quantity,
		Inseam:        d.Inseam,
		SortNum:       d.SortNum,
		UserID:        d.UID,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}
}
