// Package pdf renders customer documents with maroto.
package pdf

import (
	"context"

	"go.uber.org/fx"
)

type Renderer interface {
	RenderInvoice(ctx context.Context, doc InvoiceDocument) ([]byte, error)
}

var Module = fx.Module("pdf",
	fx.Provide(New),
)
