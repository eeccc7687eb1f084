// Package backend holds an in-process implementation of the retail
// persistence layer, used by the CLI and tests.
package backend

import (
	"context"
	_ "embed"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	contractx "github.com/tanpawarit/Chative-Retail-Agent/agent/contract"
	statex "github.com/tanpawarit/Chative-Retail-Agent/agent/state"
	"github.com/tanpawarit/Chative-Retail-Agent/agent/tool"
)

//go:embed seed.yaml
var defaultSeed []byte

type Seed struct {
	Workspaces map[string]WorkspaceSeed `yaml:"workspaces"`
}

type WorkspaceSeed struct {
	Info     map[string]string `yaml:"info"`
	Products []tool.Product    `yaml:"products"`
}

type workspace struct {
	info      map[string]string
	products  map[string]tool.Product
	orders    map[string]*tool.Order
	byCust    map[string][]string
	customers map[string]tool.CustomerDetails
	receipts  map[string]string
	seq       int
}

// Memory is safe for concurrent use. Workspaces never see each other's data.
type Memory struct {
	mu         sync.Mutex
	workspaces map[string]*workspace
	now        func() time.Time
}

func NewMemory(seed Seed) *Memory {
	m := &Memory{workspaces: make(map[string]*workspace, len(seed.Workspaces)), now: time.Now}
	for id, ws := range seed.Workspaces {
		w := m.workspace(id)
		for k, v := range ws.Info {
			w.info[k] = v
		}
		for _, p := range ws.Products {
			w.products[p.ID] = p
		}
	}
	return m
}

// NewDemo loads the embedded demo catalog.
func NewDemo() (*Memory, error) {
	seed, err := ParseSeed(defaultSeed)
	if err != nil {
		return nil, err
	}
	return NewMemory(seed), nil
}

func ParseSeed(data []byte) (Seed, error) {
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return Seed{}, fmt.Errorf("parse backend seed: %w", err)
	}
	return seed, nil
}

func (m *Memory) workspace(id string) *workspace {
	w, ok := m.workspaces[id]
	if !ok {
		w = &workspace{
			info:      map[string]string{},
			products:  map[string]tool.Product{},
			orders:    map[string]*tool.Order{},
			byCust:    map[string][]string{},
			customers: map[string]tool.CustomerDetails{},
			receipts:  map[string]string{},
		}
		m.workspaces[id] = w
	}
	return w
}

func (m *Memory) SearchProducts(_ context.Context, workspaceID, query string, limit int) ([]tool.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	query = strings.ToLower(strings.TrimSpace(query))
	w := m.workspace(workspaceID)
	out := make([]tool.Product, 0, limit)
	for _, p := range w.products {
		if strings.Contains(strings.ToLower(p.Name), query) || strings.EqualFold(p.Category, query) || p.ID == query {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) FindProduct(_ context.Context, workspaceID, ref string) (tool.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.workspace(workspaceID).find(ref)
}

func (w *workspace) find(ref string) (tool.Product, error) {
	ref = strings.TrimSpace(ref)
	if p, ok := w.products[ref]; ok {
		return p, nil
	}
	var matches []tool.Product
	needle := strings.ToLower(ref)
	for _, p := range w.products {
		if strings.Contains(strings.ToLower(p.Name), needle) {
			matches = append(matches, p)
		}
	}
	switch len(matches) {
	case 0:
		return tool.Product{}, fmt.Errorf("%w: product %q not found", contractx.ErrBusinessRule, ref)
	case 1:
		return matches[0], nil
	default:
		names := make([]string, 0, len(matches))
		for _, p := range matches {
			names = append(names, p.Name)
		}
		sort.Strings(names)
		return tool.Product{}, fmt.Errorf("%w: %q matches several products: %s", contractx.ErrBusinessRule, ref, strings.Join(names, ", "))
	}
}

func (m *Memory) BusinessInfo(_ context.Context, workspaceID, topic string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	info, ok := m.workspace(workspaceID).info[topic]
	if !ok {
		return "", fmt.Errorf("%w: no %s information", contractx.ErrBusinessRule, topic)
	}
	return info, nil
}

// PlaceOrder reserves stock for every line or for none.
func (m *Memory) PlaceOrder(_ context.Context, workspaceID, customerID string, items []statex.CartItem, notes string) (tool.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w := m.workspace(workspaceID)
	for _, item := range items {
		p, ok := w.products[item.ProductID]
		if !ok {
			return tool.Order{}, fmt.Errorf("%w: product %s no longer exists", contractx.ErrBusinessRule, item.ProductID)
		}
		if p.Stock < item.Quantity {
			return tool.Order{}, fmt.Errorf("%w: only %d units of %s left", contractx.ErrBusinessRule, p.Stock, p.Name)
		}
	}
	var total int64
	for _, item := range items {
		p := w.products[item.ProductID]
		p.Stock -= item.Quantity
		w.products[item.ProductID] = p
		total += item.SubtotalCents()
	}
	w.seq++
	order := &tool.Order{
		ID:         fmt.Sprintf("%s-%04d", strings.ToUpper(workspaceID), w.seq),
		CustomerID: customerID,
		Items:      append([]statex.CartItem(nil), items...),
		TotalCents: total,
		Status:     "placed",
		Notes:      notes,
		CreatedAt:  m.now().UTC(),
	}
	w.orders[order.ID] = order
	w.byCust[customerID] = append(w.byCust[customerID], order.ID)
	return *order, nil
}

func (m *Memory) GetOrder(_ context.Context, workspaceID, orderID string) (tool.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.workspace(workspaceID).orders[orderID]
	if !ok {
		return tool.Order{}, fmt.Errorf("%w: order %s not found", contractx.ErrBusinessRule, orderID)
	}
	return *order, nil
}

func (m *Memory) LastOrder(_ context.Context, workspaceID, customerID string) (tool.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w := m.workspace(workspaceID)
	ids := w.byCust[customerID]
	if len(ids) == 0 {
		return tool.Order{}, fmt.Errorf("%w: customer has no previous orders", contractx.ErrBusinessRule)
	}
	return *w.orders[ids[len(ids)-1]], nil
}

func (m *Memory) CancelOrder(_ context.Context, workspaceID, orderID string) (tool.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w := m.workspace(workspaceID)
	order, ok := w.orders[orderID]
	if !ok {
		return tool.Order{}, fmt.Errorf("%w: order %s not found", contractx.ErrBusinessRule, orderID)
	}
	if order.Status == "cancelled" {
		return *order, nil
	}
	if order.PaidCents > 0 {
		return tool.Order{}, fmt.Errorf("%w: order %s is already paid", contractx.ErrBusinessRule, orderID)
	}
	for _, item := range order.Items {
		if p, ok := w.products[item.ProductID]; ok {
			p.Stock += item.Quantity
			w.products[item.ProductID] = p
		}
	}
	now := m.now().UTC()
	order.Status = "cancelled"
	order.CancelledAt = &now
	return *order, nil
}

func (m *Memory) AdjustStock(_ context.Context, workspaceID, productID string, delta int, _ string) (tool.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w := m.workspace(workspaceID)
	p, ok := w.products[productID]
	if !ok {
		return tool.Product{}, fmt.Errorf("%w: product %s not found", contractx.ErrBusinessRule, productID)
	}
	if p.Stock+delta < 0 {
		return tool.Product{}, fmt.Errorf("%w: stock of %s cannot go below zero", contractx.ErrBusinessRule, p.Name)
	}
	p.Stock += delta
	w.products[productID] = p
	return p, nil
}

func (m *Memory) ApplyPayment(_ context.Context, workspaceID, orderID, receiptID string, amountCents int64) (tool.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w := m.workspace(workspaceID)
	order, ok := w.orders[orderID]
	if !ok {
		return tool.Order{}, fmt.Errorf("%w: order %s not found", contractx.ErrBusinessRule, orderID)
	}
	if prev, seen := w.receipts[receiptID]; seen {
		return tool.Order{}, fmt.Errorf("%w: receipt %s already applied to %s", contractx.ErrBusinessRule, receiptID, prev)
	}
	w.receipts[receiptID] = orderID
	order.PaidCents += amountCents
	if order.PaidCents >= order.TotalCents {
		order.Status = "paid"
	}
	return *order, nil
}

func (m *Memory) UpdateCustomer(_ context.Context, workspaceID, customerID string, details tool.CustomerDetails) (tool.CustomerDetails, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w := m.workspace(workspaceID)
	current := w.customers[customerID]
	if details.Name != "" {
		current.Name = details.Name
	}
	if details.Address != "" {
		current.Address = details.Address
	}
	if details.Notes != "" {
		current.Notes = details.Notes
	}
	w.customers[customerID] = current
	return current, nil
}

var _ tool.Backend = (*Memory)(nil)
