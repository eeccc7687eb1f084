package prompt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	contractx "github.com/tanpawarit/Chative-Retail-Agent/agent/contract"
)

func TestLoadPromptSetRendersThreads(t *testing.T) {
	t.Parallel()

	set := LoadPromptSet()
	order, err := set.For(contractx.ThreadOrder, map[string]string{"state": "COLLECTING_ORDER", "cart": "vacío"})
	require.NoError(t, err)
	assert.Contains(t, order, "confirm_order")
	assert.Contains(t, order, "COLLECTING_ORDER")
	assert.NotContains(t, order, "{cart}")

	info, err := set.For(contractx.ThreadInfo, nil)
	require.NoError(t, err)
	assert.Contains(t, info, "get_business_info")

	_, err = PromptSet{}.For(contractx.ThreadOrder, nil)
	assert.ErrorIs(t, err, contractx.ErrPromptMissing)
}

func TestLoadCopy(t *testing.T) {
	t.Parallel()

	c, err := LoadCopy()
	require.NoError(t, err)
	assert.NotEmpty(t, c.Handoff)

	label := c.Label("adjust_stock", map[string]any{"product_id": "coca-15", "delta": -3}, nil, "x")
	assert.Equal(t, "ajustar el stock de coca-15 en -3", label)
	assert.Equal(t, "fallback", c.Label("unknown", nil, nil, "fallback"))
}

func TestParseCopyReportsMissingKeys(t *testing.T) {
	t.Parallel()

	_, err := ParseCopy([]byte("handoff: hola\n"))
	require.ErrorIs(t, err, contractx.ErrPromptMissing)
	assert.Contains(t, err.Error(), "cancelled")
}
