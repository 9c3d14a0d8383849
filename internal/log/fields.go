package log

// Common field names for structured logging
const (
	FieldComponent   = "component"
	FieldOperation   = "operation"
	FieldError       = "error"
	FieldOwner       = "owner_id"
	FieldExpenseID   = "expense_id"
	FieldPeriod      = "period"
	FieldAmountCents = "amount_cents"
	FieldCategory    = "category"
	FieldMerchant    = "merchant"
	FieldEventKind   = "event_kind"
	FieldTask        = "task"
	FieldCacheKey    = "cache_key"
	FieldDuration    = "duration_ms"
)

// Components defines standard component names
const (
	ComponentApp        = "app"
	ComponentLedger     = "ledger"
	ComponentBudget     = "budget"
	ComponentReconcile  = "reconcile"
	ComponentAggregator = "aggregator"
	ComponentEvents     = "events"
	ComponentCache      = "cache"
	ComponentStorage    = "storage"
	ComponentAMQP       = "amqp"
	ComponentSheets     = "sheets"
	ComponentAnomaly    = "anomaly"
	ComponentDuplicate  = "duplicate"
	ComponentForecast   = "forecast"
	ComponentWorker     = "worker"
	ComponentBackend    = "backend"
)

// Operations defines standard operation names
const (
	OpCreate    = "create"
	OpRead      = "read"
	OpUpdate    = "update"
	OpDelete    = "delete"
	OpList      = "list"
	OpStats     = "stats"
	OpReconcile = "reconcile"
	OpEmit      = "emit"
	OpPublish   = "publish"
	OpShutdown  = "shutdown"
	OpStartup   = "startup"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

// NewFields creates a new LogFields instance
func NewFields() LogFields {
	return make(LogFields)
}

// WithComponent adds component field
func (f LogFields) WithComponent(component string) LogFields {
	f[FieldComponent] = component
	return f
}

// WithError adds error field
func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

// WithOperation adds operation field
func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithOwner adds the owner id
func (f LogFields) WithOwner(ownerID string) LogFields {
	f[FieldOwner] = ownerID
	return f
}

// WithExpense adds expense-related fields
func (f LogFields) WithExpense(id string, amountCents int64, merchant, category string) LogFields {
	f[FieldExpenseID] = id
	f[FieldAmountCents] = amountCents
	f[FieldMerchant] = merchant
	f[FieldCategory] = category
	return f
}

// WithPeriod adds the budget period key
func (f LogFields) WithPeriod(period string) LogFields {
	f[FieldPeriod] = period
	return f
}

// ToSlice converts LogFields to a slice for slog
func (f LogFields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}
