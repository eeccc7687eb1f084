package tool

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"

	contractx "github.com/tanpawarit/Chative-Retail-Agent/agent/contract"
	statex "github.com/tanpawarit/Chative-Retail-Agent/agent/state"
)

const (
	ToolSearchProducts        = "search_products"
	ToolGetBusinessInfo       = "get_business_info"
	ToolGetCart               = "get_cart"
	ToolGetOrderStatus        = "get_order_status"
	ToolGetLastOrder          = "get_last_order"
	ToolAddToCart             = "add_to_cart"
	ToolRemoveFromCart        = "remove_from_cart"
	ToolRepeatLastOrder       = "repeat_last_order"
	ToolUpdateCustomerDetails = "update_customer_details"
	ToolConfirmOrder          = "confirm_order"
	ToolCancelOrder           = "cancel_order"
	ToolAdjustStock           = "adjust_stock"
	ToolApplyPaymentReceipt   = "apply_payment_receipt"
)

type Product struct {
	ID         string `json:"id" yaml:"id"`
	Name       string `json:"name" yaml:"name"`
	Category   string `json:"category,omitempty" yaml:"category"`
	PriceCents int64  `json:"price_cents" yaml:"price_cents"`
	Stock      int    `json:"stock" yaml:"stock"`
}

type Order struct {
	ID          string            `json:"id"`
	CustomerID  string            `json:"customer_id"`
	Items       []statex.CartItem `json:"items"`
	TotalCents  int64             `json:"total_cents"`
	PaidCents   int64             `json:"paid_cents"`
	Status      string            `json:"status"`
	Notes       string            `json:"notes,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	CancelledAt *time.Time        `json:"cancelled_at,omitempty"`
}

type CustomerDetails struct {
	Name    string `json:"name,omitempty"`
	Address string `json:"address,omitempty"`
	Notes   string `json:"notes,omitempty"`
}

// Backend is the persistence layer the tool bodies call into. Every method
// is scoped to one workspace. Recoverable refusals wrap ErrBusinessRule.
type Backend interface {
	SearchProducts(ctx context.Context, workspaceID, query string, limit int) ([]Product, error)
	FindProduct(ctx context.Context, workspaceID, ref string) (Product, error)
	BusinessInfo(ctx context.Context, workspaceID, topic string) (string, error)
	PlaceOrder(ctx context.Context, workspaceID, customerID string, items []statex.CartItem, notes string) (Order, error)
	GetOrder(ctx context.Context, workspaceID, orderID string) (Order, error)
	LastOrder(ctx context.Context, workspaceID, customerID string) (Order, error)
	CancelOrder(ctx context.Context, workspaceID, orderID string) (Order, error)
	AdjustStock(ctx context.Context, workspaceID, productID string, delta int, reason string) (Product, error)
	ApplyPayment(ctx context.Context, workspaceID, orderID, receiptID string, amountCents int64) (Order, error)
	UpdateCustomer(ctx context.Context, workspaceID, customerID string, details CustomerDetails) (CustomerDetails, error)
}

type SearchProductsInput struct {
	Query string `json:"query" validate:"required,min=2,max=120"`
	Limit int    `json:"limit" validate:"gte=0,lte=20"`
}

type BusinessInfoInput struct {
	Topic string `json:"topic" validate:"required,oneof=hours location delivery payment general"`
}

type EmptyInput struct{}

type OrderRefInput struct {
	OrderID string `json:"order_id" validate:"required,max=64"`
}

type AddToCartInput struct {
	Product  string `json:"product" validate:"required,max=120"`
	Quantity int    `json:"quantity" validate:"required,gte=1,lte=500"`
}

type RemoveFromCartInput struct {
	Product string `json:"product" validate:"required,max=120"`
}

type UpdateCustomerInput struct {
	Name    string `json:"name" validate:"max=120"`
	Address string `json:"address" validate:"max=240"`
	Notes   string `json:"notes" validate:"max=500"`
}

type ConfirmOrderInput struct {
	Notes string `json:"notes" validate:"max=500"`
}

type AdjustStockInput struct {
	ProductID string `json:"product_id" validate:"required,max=64"`
	Delta     int    `json:"delta" validate:"required,ne=0,gte=-10000,lte=10000"`
	Reason    string `json:"reason" validate:"required,min=3,max=200"`
}

type PaymentReceiptInput struct {
	OrderID     string `json:"order_id" validate:"required,max=64"`
	ReceiptID   string `json:"receipt_id" validate:"required,max=128"`
	AmountCents int64  `json:"amount_cents" validate:"required,gt=0"`
}

func cartOf(ec ExecContext) (*statex.Cart, error) {
	if ec.Cart == nil {
		return nil, fmt.Errorf("%w: session has no cart", contractx.ErrFatalBackend)
	}
	return ec.Cart, nil
}

func cartView(cart *statex.Cart) map[string]any {
	items := []statex.CartItem{}
	if cart != nil && cart.Items != nil {
		items = cart.Items
	}
	return map[string]any{"items": items, "total_cents": cart.TotalCents()}
}

// ownedOrder loads an order the caller may act on. Customers only see their
// own orders; anyone else's reads as not found.
func ownedOrder(ctx context.Context, backend Backend, ec ExecContext, orderID string) (Order, error) {
	order, err := backend.GetOrder(ctx, ec.WorkspaceID, orderID)
	if err != nil {
		return Order{}, err
	}
	if ec.Role == contractx.RoleCustomer && order.CustomerID != ec.CustomerID {
		return Order{}, fmt.Errorf("%w: order %s not found", contractx.ErrBusinessRule, orderID)
	}
	return order, nil
}

// RetailTools builds the catalog over backend.
func RetailTools(backend Backend) []Tool {
	str := func(desc string, required bool) *schema.ParameterInfo {
		return &schema.ParameterInfo{Type: schema.String, Desc: desc, Required: required}
	}
	integer := func(desc string, required bool) *schema.ParameterInfo {
		return &schema.ParameterInfo{Type: schema.Integer, Desc: desc, Required: required}
	}

	return []Tool{
		Define(Spec[SearchProductsInput]{
			Name:        ToolSearchProducts,
			Description: "Search the catalog by name or category. Returns price and stock.",
			Category:    CategoryQuery,
			Params: map[string]*schema.ParameterInfo{
				"query": str("Product name or category", true),
				"limit": integer("Maximum results, default 5", false),
			},
			Run: func(ctx context.Context, ec ExecContext, in SearchProductsInput) (any, error) {
				limit := in.Limit
				if limit == 0 {
					limit = 5
				}
				products, err := backend.SearchProducts(ctx, ec.WorkspaceID, in.Query, limit)
				if err != nil {
					return nil, err
				}
				return map[string]any{"products": products}, nil
			},
		}),
		Define(Spec[BusinessInfoInput]{
			Name:        ToolGetBusinessInfo,
			Description: "Business information: hours, location, delivery zones, payment methods.",
			Category:    CategoryQuery,
			Params: map[string]*schema.ParameterInfo{
				"topic": {
					Type:     schema.String,
					Desc:     "Topic to look up",
					Enum:     []string{"hours", "location", "delivery", "payment", "general"},
					Required: true,
				},
			},
			Run: func(ctx context.Context, ec ExecContext, in BusinessInfoInput) (any, error) {
				info, err := backend.BusinessInfo(ctx, ec.WorkspaceID, in.Topic)
				if err != nil {
					return nil, err
				}
				return map[string]any{"topic": in.Topic, "info": info}, nil
			},
		}),
		Define(Spec[EmptyInput]{
			Name:        ToolGetCart,
			Description: "Show the current cart and its total.",
			Category:    CategoryQuery,
			Run: func(_ context.Context, ec ExecContext, _ EmptyInput) (any, error) {
				return cartView(ec.Cart), nil
			},
		}),
		Define(Spec[OrderRefInput]{
			Name:        ToolGetOrderStatus,
			Description: "Status of an existing order.",
			Category:    CategoryQuery,
			Params: map[string]*schema.ParameterInfo{
				"order_id": str("Order identifier", true),
			},
			Run: func(ctx context.Context, ec ExecContext, in OrderRefInput) (any, error) {
				return ownedOrder(ctx, backend, ec, in.OrderID)
			},
		}),
		Define(Spec[EmptyInput]{
			Name:        ToolGetLastOrder,
			Description: "The customer's most recent order.",
			Category:    CategoryQuery,
			Run: func(ctx context.Context, ec ExecContext, _ EmptyInput) (any, error) {
				return backend.LastOrder(ctx, ec.WorkspaceID, ec.CustomerID)
			},
		}),
		Define(Spec[AddToCartInput]{
			Name:        ToolAddToCart,
			Description: "Add a product to the cart, or increase its quantity.",
			Category:    CategoryMutation,
			Suggests:    statex.StateCollectingOrder,
			Params: map[string]*schema.ParameterInfo{
				"product":  str("Product id or name", true),
				"quantity": integer("Units to add", true),
			},
			Run: func(ctx context.Context, ec ExecContext, in AddToCartInput) (any, error) {
				cart, err := cartOf(ec)
				if err != nil {
					return nil, err
				}
				product, err := backend.FindProduct(ctx, ec.WorkspaceID, in.Product)
				if err != nil {
					return nil, err
				}
				already := 0
				for _, item := range cart.Items {
					if item.ProductID == product.ID {
						already = item.Quantity
					}
				}
				if product.Stock < already+in.Quantity {
					return nil, fmt.Errorf("%w: only %d units of %s in stock", contractx.ErrBusinessRule, product.Stock, product.Name)
				}
				cart.Add(statex.CartItem{
					ProductID:      product.ID,
					Name:           product.Name,
					Quantity:       in.Quantity,
					UnitPriceCents: product.PriceCents,
				})
				return cartView(cart), nil
			},
		}),
		Define(Spec[RemoveFromCartInput]{
			Name:        ToolRemoveFromCart,
			Description: "Remove a product from the cart.",
			Category:    CategoryMutation,
			Suggests:    statex.StateCollectingOrder,
			Params: map[string]*schema.ParameterInfo{
				"product": str("Product id or name", true),
			},
			Run: func(_ context.Context, ec ExecContext, in RemoveFromCartInput) (any, error) {
				cart, err := cartOf(ec)
				if err != nil {
					return nil, err
				}
				if _, ok := cart.Remove(in.Product); !ok {
					return nil, fmt.Errorf("%w: %s is not in the cart", contractx.ErrBusinessRule, in.Product)
				}
				return cartView(cart), nil
			},
		}),
		Define(Spec[EmptyInput]{
			Name:        ToolRepeatLastOrder,
			Description: "Fill the cart with the items of the customer's last order.",
			Category:    CategoryMutation,
			Suggests:    statex.StateCollectingOrder,
			Run: func(ctx context.Context, ec ExecContext, _ EmptyInput) (any, error) {
				cart, err := cartOf(ec)
				if err != nil {
					return nil, err
				}
				last, err := backend.LastOrder(ctx, ec.WorkspaceID, ec.CustomerID)
				if err != nil {
					return nil, err
				}
				for _, item := range last.Items {
					cart.Add(item)
				}
				return cartView(cart), nil
			},
		}),
		Define(Spec[UpdateCustomerInput]{
			Name:        ToolUpdateCustomerDetails,
			Description: "Save delivery details for the customer (name, address, notes).",
			Category:    CategoryMutation,
			Suggests:    statex.StateCollectingOrder,
			Params: map[string]*schema.ParameterInfo{
				"name":    str("Customer name", false),
				"address": str("Delivery address", false),
				"notes":   str("Delivery notes", false),
			},
			Run: func(ctx context.Context, ec ExecContext, in UpdateCustomerInput) (any, error) {
				if strings.TrimSpace(in.Name+in.Address+in.Notes) == "" {
					return nil, &ValidationError{Tool: ToolUpdateCustomerDetails, Fields: []FieldError{{Field: "name", Message: "at least one field is required"}}}
				}
				return backend.UpdateCustomer(ctx, ec.WorkspaceID, ec.CustomerID, CustomerDetails(in))
			},
		}),
		Define(Spec[ConfirmOrderInput]{
			Name:        ToolConfirmOrder,
			Description: "Place the order with the current cart. Needs customer confirmation.",
			Category:    CategoryMutation,
			Suggests:    statex.StateDone,
			Params: map[string]*schema.ParameterInfo{
				"notes": str("Order notes", false),
			},
			// A retry of the same flow replays; a new flow with the same cart
			// places a new order.
			Idempotency: func(_ ConfirmOrderInput, ec ExecContext) string {
				return ec.CustomerID + ":" + ec.OrderFlow + ":" + ec.Cart.Hash()
			},
			Describe: func(ConfirmOrderInput) string {
				return "confirm_order"
			},
			Run: func(ctx context.Context, ec ExecContext, in ConfirmOrderInput) (any, error) {
				cart, err := cartOf(ec)
				if err != nil {
					return nil, err
				}
				if cart.IsEmpty() {
					return nil, fmt.Errorf("%w: cart is empty", contractx.ErrBusinessRule)
				}
				order, err := backend.PlaceOrder(ctx, ec.WorkspaceID, ec.CustomerID, cart.Clone().Items, in.Notes)
				if err != nil {
					return nil, err
				}
				cart.Items = nil
				return order, nil
			},
		}),
		Define(Spec[OrderRefInput]{
			Name:        ToolCancelOrder,
			Description: "Cancel an existing order. Irreversible.",
			Category:    CategoryMutation,
			Suggests:    statex.StateDone,
			Params: map[string]*schema.ParameterInfo{
				"order_id": str("Order identifier", true),
			},
			Idempotency: func(in OrderRefInput, _ ExecContext) string { return in.OrderID },
			Describe: func(in OrderRefInput) string {
				return "cancel_order " + in.OrderID
			},
			Run: func(ctx context.Context, ec ExecContext, in OrderRefInput) (any, error) {
				if _, err := ownedOrder(ctx, backend, ec, in.OrderID); err != nil {
					return nil, err
				}
				return backend.CancelOrder(ctx, ec.WorkspaceID, in.OrderID)
			},
		}),
		Define(Spec[AdjustStockInput]{
			Name:        ToolAdjustStock,
			Description: "Add or subtract stock units for a product. Owner only.",
			Category:    CategoryMutation,
			Suggests:    statex.StateDone,
			Params: map[string]*schema.ParameterInfo{
				"product_id": str("Product identifier", true),
				"delta":      integer("Units to add (positive) or remove (negative)", true),
				"reason":     str("Why the stock changes", true),
			},
			Describe: func(in AdjustStockInput) string {
				return fmt.Sprintf("adjust_stock %s %+d (%s)", in.ProductID, in.Delta, in.Reason)
			},
			Run: func(ctx context.Context, ec ExecContext, in AdjustStockInput) (any, error) {
				return backend.AdjustStock(ctx, ec.WorkspaceID, in.ProductID, in.Delta, in.Reason)
			},
		}),
		Define(Spec[PaymentReceiptInput]{
			Name:        ToolApplyPaymentReceipt,
			Description: "Apply a payment receipt to an order. Staff or owner only.",
			Category:    CategoryMutation,
			Suggests:    statex.StateDone,
			Params: map[string]*schema.ParameterInfo{
				"order_id":     str("Order identifier", true),
				"receipt_id":   str("Receipt identifier from the payment provider", true),
				"amount_cents": integer("Paid amount in cents", true),
			},
			Idempotency: func(in PaymentReceiptInput, _ ExecContext) string { return in.ReceiptID },
			Describe: func(in PaymentReceiptInput) string {
				return fmt.Sprintf("apply_payment_receipt %s to %s (%d)", in.ReceiptID, in.OrderID, in.AmountCents)
			},
			Run: func(ctx context.Context, ec ExecContext, in PaymentReceiptInput) (any, error) {
				return backend.ApplyPayment(ctx, ec.WorkspaceID, in.OrderID, in.ReceiptID, in.AmountCents)
			},
		}),
	}
}
