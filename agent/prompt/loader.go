package prompt

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	contractx "github.com/tanpawarit/Chative-Retail-Agent/agent/contract"
)

var (
	//go:embed template/order.txt
	orderRaw string

	//go:embed template/info.txt
	infoRaw string

	//go:embed template/copy.yaml
	copyRaw []byte
)

// PromptSet holds the system prompt of each thread.
type PromptSet struct {
	Order string
	Info  string
}

// LoadPromptSet returns a PromptSet with trimmed prompt strings.
func LoadPromptSet() PromptSet {
	return PromptSet{
		Order: strings.TrimSpace(orderRaw),
		Info:  strings.TrimSpace(infoRaw),
	}
}

// For renders the prompt of thread with the session placeholders filled.
func (p PromptSet) For(thread contractx.Thread, vars map[string]string) (string, error) {
	raw := p.Order
	if thread == contractx.ThreadInfo {
		raw = p.Info
	}
	if strings.TrimSpace(raw) == "" {
		return "", fmt.Errorf("%w: thread=%s", contractx.ErrPromptMissing, thread)
	}
	return Fill(raw, vars), nil
}

// Copy is the customer-facing text. Placeholders use {name}.
type Copy struct {
	ConfirmWarning    string            `yaml:"confirm_warning"`
	ConfirmButton     string            `yaml:"confirm_button"`
	CancelButton      string            `yaml:"cancel_button"`
	Cancelled         string            `yaml:"cancelled"`
	Expired           string            `yaml:"expired"`
	Mismatch          string            `yaml:"mismatch"`
	PendingReminder   string            `yaml:"pending_reminder"`
	Handoff           string            `yaml:"handoff"`
	GenericFailure    string            `yaml:"generic_failure"`
	ValidationFailure string            `yaml:"validation_failure"`
	ReturnToOrder     string            `yaml:"return_to_order"`
	Done              string            `yaml:"done"`
	ToolLabels        map[string]string `yaml:"tool_labels"`
}

func LoadCopy() (Copy, error) {
	return ParseCopy(copyRaw)
}

func ParseCopy(data []byte) (Copy, error) {
	var c Copy
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Copy{}, fmt.Errorf("%w: parse copy: %v", contractx.ErrPromptMissing, err)
	}
	required := map[string]string{
		"confirm_warning": c.ConfirmWarning,
		"cancelled":       c.Cancelled,
		"expired":         c.Expired,
		"mismatch":        c.Mismatch,
		"handoff":         c.Handoff,
		"generic_failure": c.GenericFailure,
	}
	var missing []string
	for key, value := range required {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return Copy{}, fmt.Errorf("%w: copy keys %s", contractx.ErrPromptMissing, strings.Join(missing, ", "))
	}
	return c, nil
}

// Label describes a pending tool call for the customer, falling back to
// fallback when no label is configured.
func (c Copy) Label(tool string, args map[string]any, extra map[string]string, fallback string) string {
	tmpl, ok := c.ToolLabels[tool]
	if !ok {
		return fallback
	}
	vars := make(map[string]string, len(args)+len(extra))
	for k, v := range args {
		vars[k] = fmt.Sprint(v)
	}
	for k, v := range extra {
		vars[k] = v
	}
	return Fill(tmpl, vars)
}

// Fill replaces {key} placeholders. Unknown placeholders are left as is.
func Fill(tmpl string, vars map[string]string) string {
	if len(vars) == 0 {
		return tmpl
	}
	pairs := make([]string, 0, 2*len(vars))
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}
