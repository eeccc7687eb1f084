package tool

import (
	contractx "github.com/tanpawarit/Chative-Retail-Agent/agent/contract"
)

// NewRetailRegistry registers the retail catalog over backend.
func NewRetailRegistry(backend Backend, policies *PolicySet, opts ...Option) (*Registry, error) {
	registry, err := NewRegistry(policies, opts...)
	if err != nil {
		return nil, err
	}
	for _, t := range RetailTools(backend) {
		if err := registry.Register(t); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

// ThreadCategories limits which tools the model sees per thread: the INFO
// thread may only read.
func ThreadCategories(thread contractx.Thread) []Category {
	switch thread {
	case contractx.ThreadInfo:
		return []Category{CategoryQuery}
	case contractx.ThreadHandoff:
		return nil
	default:
		return []Category{CategoryQuery, CategoryMutation}
	}
}
