package state

import (
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
)

type CartItem struct {
	ProductID      string `json:"product_id"`
	Name           string `json:"name"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
}

func (i CartItem) SubtotalCents() int64 {
	return int64(i.Quantity) * i.UnitPriceCents
}

type Cart struct {
	Items []CartItem `json:"items"`
}

func (c *Cart) IsEmpty() bool {
	return c == nil || len(c.Items) == 0
}

func (c *Cart) Len() int {
	if c == nil {
		return 0
	}
	return len(c.Items)
}

// Add merges by product id; a non-positive resulting quantity drops the line.
func (c *Cart) Add(item CartItem) {
	for idx := range c.Items {
		if c.Items[idx].ProductID == item.ProductID {
			c.Items[idx].Quantity += item.Quantity
			if item.UnitPriceCents > 0 {
				c.Items[idx].UnitPriceCents = item.UnitPriceCents
			}
			if c.Items[idx].Quantity <= 0 {
				c.Items = append(c.Items[:idx], c.Items[idx+1:]...)
			}
			return
		}
	}
	if item.Quantity > 0 {
		c.Items = append(c.Items, item)
	}
}

// Remove drops the line whose product id or name matches ref
// (case-insensitive) and returns it.
func (c *Cart) Remove(ref string) (CartItem, bool) {
	if c == nil {
		return CartItem{}, false
	}
	ref = strings.TrimSpace(ref)
	for idx, it := range c.Items {
		if it.ProductID == ref || strings.EqualFold(it.Name, ref) {
			c.Items = append(c.Items[:idx], c.Items[idx+1:]...)
			return it, true
		}
	}
	return CartItem{}, false
}

func (c *Cart) TotalCents() int64 {
	if c == nil {
		return 0
	}
	var total int64
	for _, it := range c.Items {
		total += it.SubtotalCents()
	}
	return total
}

// Hash is stable under item order and identifies the cart contents for
// idempotency keys.
func (c *Cart) Hash() string {
	if c.IsEmpty() {
		return "empty"
	}
	lines := make([]string, 0, len(c.Items))
	for _, it := range c.Items {
		lines = append(lines, fmt.Sprintf("%s|%d|%d", it.ProductID, it.Quantity, it.UnitPriceCents))
	}
	sort.Strings(lines)
	h := fnv.New64a()
	for _, l := range lines {
		_, _ = h.Write([]byte(l))
		_, _ = h.Write([]byte{'\n'})
	}
	return fmt.Sprintf("%016x", h.Sum64())
}

func (c *Cart) Clone() *Cart {
	if c == nil {
		return nil
	}
	out := &Cart{Items: make([]CartItem, len(c.Items))}
	copy(out.Items, c.Items)
	return out
}
