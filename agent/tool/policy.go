package tool

import (
	_ "embed"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	contractx "github.com/tanpawarit/Chative-Retail-Agent/agent/contract"
)

//go:embed policies.yaml
var defaultPolicies []byte

// PolicySet is the parsed policies.yaml.
type PolicySet struct {
	ConfirmationTTL time.Duration     `yaml:"confirmation_ttl"`
	Redaction       SanitizeConfig    `yaml:"redaction"`
	Tools           []Policy          `yaml:"tools"`
	byName          map[string]Policy `yaml:"-"`
}

func LoadPolicies(data []byte) (*PolicySet, error) {
	var set PolicySet
	if err := yaml.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("%w: parse policies: %v", contractx.ErrValidation, err)
	}
	if set.ConfirmationTTL <= 0 {
		set.ConfirmationTTL = 5 * time.Minute
	}
	set.byName = make(map[string]Policy, len(set.Tools))
	for _, p := range set.Tools {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if _, dup := set.byName[p.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate policy %s", contractx.ErrValidation, p.Name)
		}
		set.byName[p.Name] = p
	}
	return &set, nil
}

func DefaultPolicies() *PolicySet {
	set, err := LoadPolicies(defaultPolicies)
	if err != nil {
		panic(err)
	}
	return set
}

func (s *PolicySet) Lookup(name string) (Policy, bool) {
	p, ok := s.byName[name]
	return p, ok
}
