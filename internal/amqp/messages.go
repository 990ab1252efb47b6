package amqp

import (
	"encoding/json"
	"errors"
	"time"
)

// LedgerExportMessage announces a committed ledger record. It carries only
// the id; the worker loads the record itself.
type LedgerExportMessage struct {
	TransactionID string    `json:"transaction_id"`
	FamilyID      string    `json:"family_id"`
	ChildID       string    `json:"child_id"`
	Timestamp     time.Time `json:"timestamp"`
}

func NewLedgerExportMessage(transactionID, familyID, childID string) *LedgerExportMessage {
	return &LedgerExportMessage{
		TransactionID: transactionID,
		FamilyID:      familyID,
		ChildID:       childID,
		Timestamp:     time.Now().UTC(),
	}
}

func (m *LedgerExportMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func LedgerExportMessageFromJSON(data []byte) (*LedgerExportMessage, error) {
	var msg LedgerExportMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.TransactionID == "" {
		return nil, errors.New("ledger export message without transaction id")
	}
	return &msg, nil
}
