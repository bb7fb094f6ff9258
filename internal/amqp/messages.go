package amqp

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"npdbot/internal/core"
)

// RegistryIngestedMessage announces a newly stored registry. It carries the
// totals and the rendered report so consumers never read the database.
type RegistryIngestedMessage struct {
	MessageID     string          `json:"message_id"`
	CycleID       string          `json:"cycle_id,omitempty"`
	Date          string          `json:"date"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	Commission    decimal.Decimal `json:"commission"`
	PaymentsCount int             `json:"payments_count"`
	TaxFile       string          `json:"tax_file,omitempty"`
	PaymentsFile  string          `json:"payments_file,omitempty"`
	Description   string          `json:"description"`
	Recipients    []int64         `json:"recipients,omitempty"`
	Report        string          `json:"report"`
	Timestamp     time.Time       `json:"timestamp"`
}

// NewRegistryIngestedMessage builds the event for reg. recipients are the
// operator ids the report is addressed to.
func NewRegistryIngestedMessage(reg *core.Registry, description, report string, recipients []int64) *RegistryIngestedMessage {
	return &RegistryIngestedMessage{
		MessageID:     uuid.NewString(),
		Date:          reg.Date,
		TotalAmount:   reg.TotalAmount,
		Commission:    reg.Commission,
		PaymentsCount: reg.PaymentsCount,
		TaxFile:       reg.TaxFile,
		PaymentsFile:  reg.PaymentsFile,
		Description:   description,
		Recipients:    recipients,
		Report:        report,
		Timestamp:     time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *RegistryIngestedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func RegistryIngestedMessageFromJSON(data []byte) (*RegistryIngestedMessage, error) {
	var msg RegistryIngestedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
