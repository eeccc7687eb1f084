package tool

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tanpawarit/Chative-Retail-Agent/agent/audit"
	contractx "github.com/tanpawarit/Chative-Retail-Agent/agent/contract"
	"github.com/tanpawarit/Chative-Retail-Agent/agent/memory"
	statex "github.com/tanpawarit/Chative-Retail-Agent/agent/state"
)

type fakeBackend struct {
	mu        sync.Mutex
	products  map[string]Product
	adjusts   int
	payments  int32
	orders    []Order
	panicking bool
	failWith  error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{products: map[string]Product{
		"coca":  {ID: "coca", Name: "Coca Cola", PriceCents: 150, Stock: 10},
		"fanta": {ID: "fanta", Name: "Fanta", PriceCents: 140, Stock: 2},
	}}
}

func (b *fakeBackend) SearchProducts(_ context.Context, _, query string, _ int) ([]Product, error) {
	if b.panicking {
		panic("search index corrupted")
	}
	var out []Product
	for _, p := range b.products {
		if strings.Contains(strings.ToLower(p.Name), strings.ToLower(query)) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (b *fakeBackend) FindProduct(_ context.Context, _, ref string) (Product, error) {
	if b.failWith != nil {
		return Product{}, b.failWith
	}
	if p, ok := b.products[ref]; ok {
		return p, nil
	}
	return Product{}, fmt.Errorf("%w: unknown product %s", contractx.ErrBusinessRule, ref)
}

func (b *fakeBackend) BusinessInfo(context.Context, string, string) (string, error) {
	return "9 a 18", nil
}

func (b *fakeBackend) PlaceOrder(_ context.Context, _, customerID string, items []statex.CartItem, notes string) (Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	order := Order{ID: fmt.Sprintf("o-%d", len(b.orders)+1), CustomerID: customerID, Items: items, Notes: notes, Status: "placed"}
	b.orders = append(b.orders, order)
	return order, nil
}

func (b *fakeBackend) GetOrder(_ context.Context, _, orderID string) (Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, o := range b.orders {
		if o.ID == orderID {
			return o, nil
		}
	}
	return Order{}, fmt.Errorf("%w: order %s not found", contractx.ErrBusinessRule, orderID)
}

func (b *fakeBackend) LastOrder(context.Context, string, string) (Order, error) {
	return Order{Items: []statex.CartItem{{ProductID: "coca", Name: "Coca Cola", Quantity: 2, UnitPriceCents: 150}}}, nil
}

func (b *fakeBackend) CancelOrder(_ context.Context, _, orderID string) (Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.orders {
		if b.orders[i].ID == orderID {
			b.orders[i].Status = "cancelled"
			return b.orders[i], nil
		}
	}
	return Order{}, fmt.Errorf("%w: order %s not found", contractx.ErrBusinessRule, orderID)
}

func (b *fakeBackend) orderStatus(orderID string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, o := range b.orders {
		if o.ID == orderID {
			return o.Status
		}
	}
	return ""
}

func (b *fakeBackend) AdjustStock(_ context.Context, _, productID string, delta int, _ string) (Product, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.adjusts++
	p := b.products[productID]
	p.Stock += delta
	b.products[productID] = p
	return p, nil
}

func (b *fakeBackend) ApplyPayment(_ context.Context, _, orderID, _ string, amount int64) (Order, error) {
	atomic.AddInt32(&b.payments, 1)
	time.Sleep(5 * time.Millisecond)
	return Order{ID: orderID, PaidCents: amount}, nil
}

func (b *fakeBackend) UpdateCustomer(_ context.Context, _, _ string, d CustomerDetails) (CustomerDetails, error) {
	return d, nil
}

type registryFixture struct {
	registry *Registry
	backend  *fakeBackend
	sink     *audit.MemorySink
	metrics  *prometheus.Registry
}

func newFixture(t *testing.T) registryFixture {
	t.Helper()
	store := statex.NewMemoryStore(time.Hour)
	manager, err := memory.New(store, store)
	require.NoError(t, err)

	backend := newFakeBackend()
	sink := audit.NewMemorySink()
	reg := prometheus.NewRegistry()
	registry, err := NewRetailRegistry(backend, nil,
		WithAudit(sink),
		WithIdempotency(manager),
		WithMetrics(reg),
		WithTokenSource(func() string { return "tok-fixed" }),
	)
	require.NoError(t, err)
	return registryFixture{registry: registry, backend: backend, sink: sink, metrics: reg}
}

func ownerContext() ExecContext {
	return ExecContext{WorkspaceID: "ws-1", SessionID: "s-1", CustomerID: "c-1", Role: contractx.RoleOwner, Cart: &statex.Cart{}}
}

func TestExecuteUnknownToolWritesOneAuditRecord(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	exec := f.registry.Execute(context.Background(), "nonexistent_tool", map[string]any{"x": 1}, ownerContext())

	assert.False(t, exec.Success)
	assert.Equal(t, contractx.ExecNotFound, exec.Status)
	assert.Contains(t, exec.Error, "not found")
	assert.ErrorIs(t, exec.Err, contractx.ErrToolNotFound)

	records := f.sink.Records()
	require.Len(t, records, 1)
	assert.Equal(t, "nonexistent_tool", records[0].ToolName)
	assert.False(t, records[0].ValidationPassed)
	assert.Equal(t, "not_found", records[0].Status)
}

func TestDangerousToolWithoutConfirmationIsStaged(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	args := map[string]any{"product_id": "coca", "delta": -3, "reason": "rotura"}
	exec := f.registry.Execute(context.Background(), ToolAdjustStock, args, ownerContext())

	assert.False(t, exec.Success)
	assert.Equal(t, contractx.ExecPendingConfirmation, exec.Status)
	require.NotNil(t, exec.Pending)
	assert.Equal(t, "tok-fixed", exec.Pending.Token)
	assert.NotEmpty(t, exec.Pending.Warning)
	assert.Equal(t, "dangerous", exec.Pending.Call.Risk)
	assert.Zero(t, f.backend.adjusts)
	assert.Equal(t, 10, f.backend.products["coca"].Stock)

	records := f.sink.Records()
	require.Len(t, records, 1)
	assert.Contains(t, records[0].Result, "[REDACTED]")
	assert.NotContains(t, records[0].Result, "tok-fixed")
}

func TestConfirmedDangerousToolRuns(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ec := ownerContext()
	ec.Confirmed = true
	exec := f.registry.Execute(context.Background(), ToolAdjustStock, map[string]any{"product_id": "coca", "delta": 5, "reason": "reposicion"}, ec)

	require.True(t, exec.Success, exec.Error)
	assert.Equal(t, 1, f.backend.adjusts)
	assert.Equal(t, 15, f.backend.products["coca"].Stock)
	assert.Equal(t, statex.StateDone, exec.Suggests)
}

func TestRoleNotAllowedIsForbidden(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ec := ownerContext()
	ec.Role = contractx.RoleCustomer
	ec.Confirmed = true
	exec := f.registry.Execute(context.Background(), ToolAdjustStock, map[string]any{"product_id": "coca", "delta": 5, "reason": "robo"}, ec)

	assert.Equal(t, contractx.ExecForbidden, exec.Status)
	assert.ErrorIs(t, exec.Err, contractx.ErrForbidden)
	assert.Zero(t, f.backend.adjusts)
	assert.Len(t, f.sink.Records(), 1)
}

func TestCustomerCannotCancelAnotherCustomersOrder(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	other, err := f.backend.PlaceOrder(ctx, "ws-1", "c-other", nil, "")
	require.NoError(t, err)
	own, err := f.backend.PlaceOrder(ctx, "ws-1", "c-1", nil, "")
	require.NoError(t, err)

	ec := ownerContext()
	ec.Role = contractx.RoleCustomer
	ec.Confirmed = true

	exec := f.registry.Execute(ctx, ToolCancelOrder, map[string]any{"order_id": other.ID}, ec)
	assert.Equal(t, contractx.ExecFailed, exec.Status)
	assert.ErrorIs(t, exec.Err, contractx.ErrBusinessRule)
	assert.Equal(t, "placed", f.backend.orderStatus(other.ID))

	exec = f.registry.Execute(ctx, ToolCancelOrder, map[string]any{"order_id": own.ID}, ec)
	require.True(t, exec.Success, exec.Error)
	assert.Equal(t, "cancelled", f.backend.orderStatus(own.ID))

	// Staff may cancel on a customer's behalf.
	ec.Role = contractx.RoleStaff
	exec = f.registry.Execute(ctx, ToolCancelOrder, map[string]any{"order_id": other.ID}, ec)
	require.True(t, exec.Success, exec.Error)
	assert.Equal(t, "cancelled", f.backend.orderStatus(other.ID))
}

func TestRefuseWritesOneAuditRecord(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	ec := ownerContext()

	exec := f.registry.Refuse(ctx, ToolAddToCart, map[string]any{"product": "coca", "quantity": 2}, ec, "is not available")
	assert.Equal(t, contractx.ExecForbidden, exec.Status)
	assert.ErrorIs(t, exec.Err, contractx.ErrForbidden)
	assert.Equal(t, CategoryMutation, exec.Category)
	assert.False(t, exec.Success)
	assert.True(t, ec.Cart.IsEmpty())

	exec = f.registry.Refuse(ctx, "nonexistent_tool", nil, ec, "is not available")
	assert.Equal(t, contractx.ExecNotFound, exec.Status)
	assert.ErrorIs(t, exec.Err, contractx.ErrToolNotFound)

	records := f.sink.Records()
	require.Len(t, records, 2)
	assert.Equal(t, string(contractx.ExecForbidden), records[0].Status)
	assert.False(t, records[0].ValidationPassed)
	assert.Equal(t, string(contractx.ExecNotFound), records[1].Status)
}

func TestValidationFailureReportsFieldPaths(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ec := ownerContext()
	exec := f.registry.Execute(context.Background(), ToolAddToCart, map[string]any{"product": "coca", "quantity": 0}, ec)

	assert.Equal(t, contractx.ExecValidationFailed, exec.Status)
	assert.ErrorIs(t, exec.Err, contractx.ErrValidationFailed)
	require.Len(t, exec.Fields, 1)
	assert.Equal(t, "quantity", exec.Fields[0].Field)
	assert.True(t, ec.Cart.IsEmpty())

	records := f.sink.Records()
	require.Len(t, records, 1)
	assert.False(t, records[0].ValidationPassed)
}

func TestWeakTypedInputIsAccepted(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ec := ownerContext()
	exec := f.registry.Execute(context.Background(), ToolAddToCart, map[string]any{"product": "coca", "quantity": "5"}, ec)

	require.True(t, exec.Success, exec.Error)
	assert.Equal(t, 5, ec.Cart.Items[0].Quantity)
	assert.Equal(t, statex.StateCollectingOrder, exec.Suggests)
}

func TestBusinessRuleFailureIsNotTransient(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	exec := f.registry.Execute(context.Background(), ToolAddToCart, map[string]any{"product": "fanta", "quantity": 3}, ownerContext())

	assert.Equal(t, contractx.ExecFailed, exec.Status)
	assert.ErrorIs(t, exec.Err, contractx.ErrBusinessRule)
	assert.False(t, contractx.IsTransient(exec.Err))
}

func TestPanicIsConvertedToFailedExecution(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.backend.panicking = true
	exec := f.registry.Execute(context.Background(), ToolSearchProducts, map[string]any{"query": "coca"}, ownerContext())

	assert.Equal(t, contractx.ExecFailed, exec.Status)
	assert.ErrorIs(t, exec.Err, contractx.ErrFatalBackend)
	assert.Contains(t, exec.Error, "search index corrupted")
	assert.Len(t, f.sink.Records(), 1)
}

func TestConcurrentSameReceiptHasOneSideEffect(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ec := ownerContext()
	ec.Confirmed = true
	args := map[string]any{"order_id": "o-1", "receipt_id": "rcpt-9", "amount_cents": 1500}

	const callers = 12
	results := make([]Execution, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = f.registry.Execute(context.Background(), ToolApplyPaymentReceipt, args, ec)
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt32(&f.backend.payments))
	var success, replayed int
	for _, r := range results {
		assert.True(t, r.Success)
		assert.Equal(t, "ws:ws-1:apply_payment_receipt:rcpt-9", r.IdempotencyKey)
		switch r.Status {
		case contractx.ExecSuccess:
			success++
		case contractx.ExecReplayed:
			replayed++
		}
	}
	assert.Equal(t, 1, success)
	assert.Equal(t, callers-1, replayed)
	assert.Len(t, f.sink.Records(), callers)
}

func TestIdempotencyIsScopedByWorkspace(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	args := map[string]any{"order_id": "o-1", "receipt_id": "same", "amount_cents": 100}
	a := ownerContext()
	a.Confirmed = true
	b := a
	b.WorkspaceID = "ws-2"

	assert.Equal(t, contractx.ExecSuccess, f.registry.Execute(context.Background(), ToolApplyPaymentReceipt, args, a).Status)
	assert.Equal(t, contractx.ExecSuccess, f.registry.Execute(context.Background(), ToolApplyPaymentReceipt, args, b).Status)
	assert.Equal(t, contractx.ExecReplayed, f.registry.Execute(context.Background(), ToolApplyPaymentReceipt, args, a).Status)
}

func TestToolInfosFilterByCategory(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	queries := f.registry.ToolInfos(ThreadCategories(contractx.ThreadInfo)...)
	require.Len(t, queries, 5)
	for _, info := range queries {
		tl, _, ok := f.registry.Lookup(info.Name)
		require.True(t, ok)
		assert.Equal(t, CategoryQuery, tl.Category())
	}
	assert.Len(t, f.registry.ToolInfos(), 13)
	assert.Equal(t, ToolSearchProducts, queries[0].Name)
}

func TestMetricsCountByStatus(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.registry.Execute(context.Background(), ToolGetCart, nil, ownerContext())
	f.registry.Execute(context.Background(), ToolGetCart, nil, ownerContext())
	f.registry.Execute(context.Background(), "nope", nil, ownerContext())

	assert.Equal(t, 2.0, testutil.ToFloat64(f.registry.metrics.executions.WithLabelValues(ToolGetCart, "query", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.registry.metrics.executions.WithLabelValues("nope", "", "not_found")))
}

func TestRegisterRejectsToolWithoutPolicy(t *testing.T) {
	t.Parallel()

	registry, err := NewRegistry(nil)
	require.NoError(t, err)
	err = registry.Register(Define(Spec[EmptyInput]{Name: "drop_tables", Category: CategoryMutation}))
	assert.ErrorIs(t, err, contractx.ErrValidation)
}

func TestPolicyInvariants(t *testing.T) {
	t.Parallel()

	_, err := LoadPolicies([]byte("tools:\n  - name: wipe\n    risk: dangerous\n"))
	assert.Error(t, err)
	_, err = LoadPolicies([]byte("tools:\n  - name: peek\n    risk: safe\n    requires_confirmation: true\n"))
	assert.Error(t, err)

	set := DefaultPolicies()
	assert.Equal(t, 5*time.Minute, set.ConfirmationTTL)
	p, ok := set.Lookup(ToolAdjustStock)
	require.True(t, ok)
	assert.True(t, p.NeedsConfirmation())
	assert.True(t, p.Allows(contractx.RoleOwner))
	assert.False(t, p.Allows(contractx.RoleStaff))
	assert.False(t, p.Allows(""))
}

func TestUpdateCustomerNeedsOneField(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	exec := f.registry.Execute(context.Background(), ToolUpdateCustomerDetails, map[string]any{}, ownerContext())
	assert.Equal(t, contractx.ExecValidationFailed, exec.Status)
	assert.True(t, errors.Is(exec.Err, contractx.ErrValidationFailed))
}
