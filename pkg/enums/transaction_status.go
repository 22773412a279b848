package enums

import "fmt"

// TransactionStatus classifies an audit record of a settlement attempt.
type TransactionStatus string

const (
	TransactionStatusSuccess       TransactionStatus = "Success"
	TransactionStatusFailed        TransactionStatus = "Failed"
	TransactionStatusAdminOverride TransactionStatus = "AdminOverride"
)

var validTransactionStatuses = []TransactionStatus{
	TransactionStatusSuccess,
	TransactionStatusFailed,
	TransactionStatusAdminOverride,
}

// String implements fmt.Stringer.
func (s TransactionStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known TransactionStatus.
func (s TransactionStatus) IsValid() bool {
	for _, candidate := range validTransactionStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseTransactionStatus converts raw input into a TransactionStatus.
func ParseTransactionStatus(value string) (TransactionStatus, error) {
	for _, candidate := range validTransactionStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid transaction status %q", value)
}
