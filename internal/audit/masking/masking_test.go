package masking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "pay_****xm2f", MaskSecret("pay_29QQoUBi66xm2f"))
	assert.Equal(t, "order_****", MaskSecret("order_abc"))
	assert.Equal(t, "", MaskSecret("  "))
}

func TestMaskMetadataOnlyTouchesSensitiveKeys(t *testing.T) {
	out := MaskMetadata(map[string]any{
		"amount":             "250.00",
		"gateway_payment_id": "pay_29QQoUBi66xm2f",
		"nested": map[string]any{
			"phone": "9876543210",
		},
		"": "dropped",
	})

	assert.Equal(t, "250.00", out["amount"])
	assert.Equal(t, "pay_****xm2f", out["gateway_payment_id"])
	assert.Equal(t, map[string]any{"phone": "****3210"}, out["nested"])
	assert.NotContains(t, out, "")
	assert.Nil(t, MaskMetadata(nil))
}
