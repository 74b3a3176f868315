package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	domain "github.com/finitefield/order-desk/internal/domain"
	"github.com/finitefield/order-desk/internal/platform/auth"
	"github.com/finitefield/order-desk/internal/platform/httpx"
	"github.com/finitefield/order-desk/internal/services"
)

const maxAdminRequestBody = 256 * 1024

// AdminHandlers exposes catalogue and counter administration to operators.
type AdminHandlers struct {
	authn   *auth.Authenticator
	catalog services.CatalogService
}

// NewAdminHandlers constructs admin handlers.
func NewAdminHandlers(authn *auth.Authenticator, catalog services.CatalogService) *AdminHandlers {
	return &AdminHandlers{authn: authn, catalog: catalog}
}

// Routes registers the /admin endpoints. Every route requires the admin role.
func (h *AdminHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.RoleAdmin))
	}
	r.Get("/counter", h.getCounter)
	r.Put("/counter", h.initializeCounter)
	r.Get("/products/{productID}", h.getProduct)
	r.Put("/products/{productID}", h.importProduct)
}

type counterPayload struct {
	Count     int64  `json:"count"`
	UpdatedAt string `json:"updatedAt,omitempty"`
}

type initializeCounterRequest struct {
	Value int64 `json:"value"`
	Force bool  `json:"force"`
}

type productPayload struct {
	ID            string       `json:"id"`
	ProductNumber string       `json:"productNumber"`
	ProductName   string       `json:"productName"`
	DisplayName   string       `json:"displayName,omitempty"`
	SalePrice     int64        `json:"salePrice"`
	CostPrice     int64        `json:"costPrice"`
	IsHem         bool         `json:"isHem"`
	SortNum       int          `json:"sortNum"`
	SKUs          []skuPayload `json:"skus"`
}

type skuPayload struct {
	ID                  string `json:"id"`
	ProductNumber       string `json:"productNumber,omitempty"`
	ProductName         string `json:"productName,omitempty"`
	DisplayName         string `json:"displayName,omitempty"`
	Size                string `json:"size"`
	SalePrice           int64  `json:"salePrice,omitempty"`
	CostPrice           int64  `json:"costPrice,omitempty"`
	IsHem               bool   `json:"isHem,omitempty"`
	SortNum             int    `json:"sortNum"`
	OutstandingQuantity int64  `json:"outstandingQuantity"`
}

func (h *AdminHandlers) getCounter(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	counter, err := h.catalog.CurrentCounter(ctx)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, counterPayload{Count: counter.Count, UpdatedAt: formatTime(counter.UpdatedAt)})
}

func (h *AdminHandlers) initializeCounter(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req initializeCounterRequest
	if err := decodeAdminBody(w, r, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	err := h.catalog.InitializeCounter(ctx, services.InitializeCounterCommand{
		Value:   req.Value,
		Force:   req.Force,
		ActorID: auth.UserID(ctx),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	h.getCounter(w, r)
}

func (h *AdminHandlers) getProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	product, err := h.catalog.GetProduct(ctx, trimmedParam(r, "productID"))
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildProductPayload(product))
}

func (h *AdminHandlers) importProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req productPayload
	if err := decodeAdminBody(w, r, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	productID := trimmedParam(r, "productID")
	if req.ID != "" && req.ID != productID {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "body id does not match path", http.StatusBadRequest))
		return
	}
	req.ID = productID

	product := req.toDomain()
	if err := h.catalog.ImportProduct(ctx, product); err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	stored, err := h.catalog.GetProduct(ctx, productID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildProductPayload(stored))
}

func decodeAdminBody(w http.ResponseWriter, r *http.Request, dst any) error {
	body := http.MaxBytesReader(w, r.Body, maxAdminRequestBody)
	defer body.Close()
	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body required")
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func (p productPayload) toDomain() domain.Product {
	product := domain.Product{
		ID:            p.ID,
		ProductNumber: p.ProductNumber,
		ProductName:   p.ProductName,
		DisplayName:   p.DisplayName,
		SalePrice:     p.SalePrice,
		CostPrice:     p.CostPrice,
		IsHem:         p.IsHem,
		SortNum:       p.SortNum,
		SKUs:          make([]domain.SKU, 0, len(p.SKUs)),
	}
	for _, s := range p.SKUs {
		product.SKUs = append(product.SKUs, domain.SKU{
			ID:            s.ID,
			ProductNumber: s.ProductNumber,
			ProductName:   s.ProductName,
			DisplayName:   s.DisplayName,
			Size:          s.Size,
			SalePrice:     s.SalePrice,
			CostPrice:     s.CostPrice,
			IsHem:         s.IsHem,
			SortNum:       s.SortNum,
		})
	}
	return product
}

func buildProductPayload(product domain.Product) productPayload {
	payload := productPayload{
		ID:            product.ID,
		ProductNumber: product.ProductNumber,
		ProductName:   product.ProductName,
		DisplayName:   product.DisplayName,
		SalePrice:     product.SalePrice,
		CostPrice:     product.CostPrice,
		IsHem:         product.IsHem,
		SortNum:       product.SortNum,
		SKUs:          make([]skuPayload, 0, len(product.SKUs)),
	}
	for _, s := range product.SKUs {
		payload.SKUs = append(payload.SKUs, skuPayload{
			ID:                  s.ID,
			ProductNumber:       s.ProductNumber,
			ProductName:         s.ProductName,
			DisplayName:         s.DisplayName,
			Size:                s.Size,
			SalePrice:           s.SalePrice,
			CostPrice:           s.CostPrice,
			IsHem:               s.IsHem,
			SortNum:             s.SortNum,
			OutstandingQuantity: s.OutstandingQuantity,
		})
	}
	return payload
}
