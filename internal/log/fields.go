package log

// Common field names for structured logging
const (
	FieldComponent  = "component"
	FieldRequestID  = "request_id"
	FieldClientIP   = "client_ip"
	FieldMethod     = "method"
	FieldPath       = "path"
	FieldQuery      = "query"
	FieldStatusCode = "status_code"
	FieldDuration   = "duration_ms"
	FieldSuccess    = "success"
	FieldError      = "error"
	FieldOperation  = "operation"

	FieldCycleID       = "cycle_id"
	FieldDeliveryID    = "delivery_id"
	FieldFilename      = "filename"
	FieldHash          = "hash"
	FieldRegistryDate  = "registry_date"
	FieldTotalAmount   = "total_amount"
	FieldPaymentsCount = "payments_count"
	FieldMessageID     = "message_id"
	FieldYear          = "year"
	FieldMonth         = "month"
)

// Components defines standard component names
const (
	ComponentApp       = "app"
	ComponentHTTP      = "http"
	ComponentIngest    = "ingest"
	ComponentParser    = "parser"
	ComponentMail      = "mail"
	ComponentExport    = "export"
	ComponentStorage   = "storage"
	ComponentAMQP      = "amqp"
	ComponentWorker    = "worker"
	ComponentSheets    = "sheets"
	ComponentCache     = "cache"
	ComponentScheduler = "scheduler"
	ComponentCLI       = "cli"
)

// Operations defines standard operation names
const (
	OpIngest   = "ingest"
	OpParse    = "parse"
	OpExport   = "export"
	OpPublish  = "publish"
	OpAppend   = "append"
	OpConfirm  = "confirm"
	OpSummary  = "summary"
	OpShutdown = "shutdown"
	OpStartup  = "startup"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

func NewFields() LogFields {
	return make(LogFields)
}

func (f LogFields) WithComponent(component string) LogFields {
	f[FieldComponent] = component
	return f
}

func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithError adds the error text; nil errors are ignored.
func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

// WithAttachment identifies one attachment of a delivery.
func (f LogFields) WithAttachment(deliveryID, filename, hash string) LogFields {
	f[FieldDeliveryID] = deliveryID
	f[FieldFilename] = filename
	if hash != "" {
		f[FieldHash] = hash
	}
	return f
}

func (f LogFields) WithRegistry(date, total string, payments int) LogFields {
	f[FieldRegistryDate] = date
	f[FieldTotalAmount] = total
	f[FieldPaymentsCount] = payments
	return f
}

func (f LogFields) WithHTTPRequest(method, path, query string) LogFields {
	f[FieldMethod] = method
	f[FieldPath] = path
	f[FieldQuery] = query
	return f
}

func (f LogFields) WithHTTPResponse(statusCode int, durationMs int64) LogFields {
	f[FieldStatusCode] = statusCode
	f[FieldDuration] = durationMs
	f[FieldSuccess] = statusCode < 400
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
