package repositories

import "fmt"

// StockErrorCode enumerates stock related failures raised during order commit.
type StockErrorCode string

const (
	// StockErrorUnknown represents an unspecified failure.
	StockErrorUnknown StockErrorCode = "stock_unknown"
	// StockErrorInsufficient indicates the requested quantity exceeds availability.
	StockErrorInsufficient StockErrorCode = "stock_insufficient"
	// StockErrorVariantNotFound indicates the variant has no stock record.
	StockErrorVariantNotFound StockErrorCode = "stock_variant_not_found"
)

// StockError wraps stock specific failures with machine readable codes. The
// order commit transaction raises it when a variant cannot cover the order.
type StockError struct {
	Op        string
	Code      StockErrorCode
	VariantID string
	// Available carries the remaining stock when Code is StockErrorInsufficient.
	Available int64
	Message   string
	Err       error
}

// Error implements the error interface.
func (e *StockError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *StockError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewStockError constructs a typed stock error for the given variant.
func NewStockError(code StockErrorCode, variantID, message string, err error) *StockError {
	if message == "" {
		message = string(code)
	}
	return &StockError{
		Code:      code,
		VariantID: variantID,
		Message:   message,
		Err:       err,
	}
}
