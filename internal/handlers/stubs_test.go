package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	firebaseauth "firebase.google.com/go/v4/auth"

	domain "github.com/finitefield/order-desk/internal/domain"
	"github.com/finitefield/order-desk/internal/platform/auth"
	"github.com/finitefield/order-desk/internal/services"
)

// tokenVerifier accepts "<uid>" or "<uid>:<role>" as bearer tokens.
type tokenVerifier struct{}

func (tokenVerifier) VerifyIDToken(_ context.Context, token string) (*firebaseauth.Token, error) {
	if token == "bad" {
		return nil, auth.ErrTokenInvalid
	}
	uid, role, _ := strings.Cut(token, ":")
	claims := map[string]interface{}{}
	if role != "" {
		claims["role"] = role
	}
	return &firebaseauth.Token{UID: uid, Claims: claims}, nil
}

func newTestAuthenticator() *auth.Authenticator {
	return auth.NewAuthenticator(tokenVerifier{})
}

func withBearer(req *http.Request, token string) *http.Request {
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

type stubOrderService struct {
	createFn func(context.Context, services.CreateOrderCommand) (services.CreateOrderResult, error)
	getFn    func(context.Context, services.GetOrderCommand) (domain.Order, error)
	listFn   func(context.Context, services.ListOrdersCommand) (domain.Page[domain.Order], error)

	created []services.CreateOrderCommand
	listed  []services.ListOrdersCommand
}

func (s *stubOrderService) CreateOrder(ctx context.Context, cmd services.CreateOrderCommand) (services.CreateOrderResult, error) {
	s.created = append(s.created, cmd)
	if s.createFn != nil {
		return s.createFn(ctx, cmd)
	}
	return services.CreateOrderResult{}, errors.New("not implemented")
}

func (s *stubOrderService) GetOrder(ctx context.Context, cmd services.GetOrderCommand) (domain.Order, error) {
	if s.getFn != nil {
		return s.getFn(ctx, cmd)
	}
	return domain.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) ListOrders(ctx context.Context, cmd services.ListOrdersCommand) (domain.Page[domain.Order], error) {
	s.listed = append(s.listed, cmd)
	if s.listFn != nil {
		return s.listFn(ctx, cmd)
	}
	return domain.Page[domain.Order]{}, nil
}

type stubSystemService struct {
	report domain.SystemHealthReport
	err    error
}

func (s *stubSystemService) HealthReport(context.Context) (domain.SystemHealthReport, error) {
	return s.report, s.err
}

type stubCatalogService struct {
	products map[string]domain.Product
	counter  *domain.SerialCounter
	importFn func(domain.Product) error
	inits    []services.InitializeCounterCommand
}

func (s *stubCatalogService) ImportProduct(_ context.Context, product domain.Product) error {
	if s.importFn != nil {
		if err := s.importFn(product); err != nil {
			return err
		}
	}
	if s.products == nil {
		s.products = map[string]domain.Product{}
	}
	s.products[product.ID] = product
	return nil
}

func (s *stubCatalogService) GetProduct(_ context.Context, productID string) (domain.Product, error) {
	product, ok := s.products[productID]
	if !ok {
		return domain.Product{}, &services.OrderFailure{Kind: services.FailureNotFound, Message: "product " + productID + " not found"}
	}
	return product, nil
}

func (s *stubCatalogService) CurrentCounter(context.Context) (domain.SerialCounter, error) {
	if s.counter == nil {
		return domain.SerialCounter{}, &services.OrderFailure{Kind: services.FailureNotFound, Message: "order number counter is not initialised"}
	}
	return *s.counter, nil
}

func (s *stubCatalogService) InitializeCounter(_ context.Context, cmd services.InitializeCounterCommand) error {
	s.inits = append(s.inits, cmd)
	if s.counter != nil && !cmd.Force {
		return &services.OrderFailure{Kind: services.FailureConflict, Message: "counter exists"}
	}
	s.counter = &domain.SerialCounter{Count: cmd.Value}
	return nil
}
