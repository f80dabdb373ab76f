// Package settlement models the server-side invoice record a gateway
// webhook settles out of band, and classifies its status vocabulary.
package settlement

import (
	"strings"
	"time"
)

// InvoiceTypeRental marks the invoice covering the rental payment
// itself, as opposed to deposits, damage fees or other invoice types a
// single order can accumulate.
const InvoiceTypeRental = "RENTAL_PAYMENT"

// Record is a settlement record as returned by the lookup collaborator.
// The engine never mutates it.
type Record struct {
	InvoiceID      string    `json:"invoiceId"`
	OrderID        string    `json:"orderId"`
	InvoiceType    string    `json:"invoiceType"`
	Status         string    `json:"status"`
	TotalAmount    float64   `json:"totalAmount"`
	DepositApplied float64   `json:"depositApplied"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// IsRental reports whether the record's invoice type denotes the
// rental payment, tolerating vocabulary drift the same way the status
// classifier does.
func (r Record) IsRental() bool {
	return strings.Contains(strings.ToUpper(r.InvoiceType), "RENTAL")
}

// Select picks the record a reconciliation run should track when the
// lookup returns several invoices for one order. Preference order:
// a rental invoice already classified Paid, then the first rental
// invoice, then the first record at all.
func Select(records []Record) *Record {
	if len(records) == 0 {
		return nil
	}

	var firstRental *Record
	for i := range records {
		if !records[i].IsRental() {
			continue
		}
		if Classify(records[i].Status) == StatusPaid {
			return &records[i]
		}
		if firstRental == nil {
			firstRental = &records[i]
		}
	}
	if firstRental != nil {
		return firstRental
	}
	return &records[0]
}
