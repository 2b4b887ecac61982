package events

const (
	EventSubscriptionStatusChanged = "subscription.status_changed"
	EventDeliveryScheduled         = "delivery.scheduled"
	EventDeliveryStatusChanged     = "delivery.status_changed"
	EventDeliveryDelivered         = "delivery.delivered"
	EventOrderCreated              = "order.created"
	EventOrderStatusChanged        = "order.status_changed"
	EventOrderDelivered            = "order.delivered"
	EventRoutePlanned              = "route.planned"
	EventRouteStatusChanged        = "route.status_changed"
	EventInvoiceIssued             = "invoice.issued"
	EventPaymentCompleted          = "payment.completed"
	EventLedgerEntryCreated        = "ledger.entry_created"
)
