package format

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInvoiceNumber(t *testing.T) {
	issued := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	got, err := InvoiceNumber(DefaultInvoiceNumberTemplate, issued, 42)
	require.NoError(t, err)
	assert.Equal(t, "INV-202402-00042", got)

	got, err = InvoiceNumber("{YY}{MM}{DD}/{SEQ}", issued, 7)
	require.NoError(t, err)
	assert.Equal(t, "240201/7", got)

	_, err = InvoiceNumber("INV-{SEQX}", issued, 1)
	assert.Error(t, err)
	_, err = InvoiceNumber(DefaultInvoiceNumberTemplate, issued, 0)
	assert.Error(t, err)
}
