package order

import "github.com/shopspring/decimal"

type TransactionKind string

const (
	TransactionSale   TransactionKind = "sale"
	TransactionRefund TransactionKind = "refund"
)

type TransactionStatus string

const (
	TransactionSuccess TransactionStatus = "success"
	TransactionFailure TransactionStatus = "failure"
)

// Transaction is a money movement recorded against a commerce order.
// ProcessorRef links the commerce-side record to the processor-side charge
// (the original payment) and is what the refund engine follows to find the
// charge to refund.
type Transaction struct {
	ID           string
	Kind         TransactionKind
	Status       TransactionStatus
	Amount       decimal.Decimal
	Currency     string
	ProcessorRef string
	ParentID     string
	Gateway      string
}

// FindSuccessfulSale returns the order's successful sale transaction, or nil.
func FindSuccessfulSale(txs []Transaction) *Transaction {
	for i := range txs {
		if txs[i].Kind == TransactionSale && txs[i].Status == TransactionSuccess {
			return &txs[i]
		}
	}
	return nil
}
