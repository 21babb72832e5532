package checkout

import "errors"

var (
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrProductNotFound    = errors.New("product not found")
	ErrCartEmpty          = errors.New("cart is empty")
	ErrProviderError      = errors.New("payment provider unavailable")
	ErrSignatureMismatch  = errors.New("payment verification failed")
	ErrOrderNotFound      = errors.New("order not found")
	ErrOrderNotPending    = errors.New("order is not pending")
	ErrAddressIncomplete  = errors.New("incomplete or missing address")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrInvalidRequest     = errors.New("invalid request")
)

// ErrorKind is the stable, externally visible classification of a saga failure.
type ErrorKind string

const (
	KindInsufficientStock  ErrorKind = "InsufficientStock"
	KindProductNotFound    ErrorKind = "ProductNotFound"
	KindCartEmpty          ErrorKind = "CartEmpty"
	KindProviderError      ErrorKind = "ProviderError"
	KindSignatureMismatch  ErrorKind = "SignatureMismatch"
	KindOrderNotFound      ErrorKind = "OrderNotFound"
	KindOrderNotPending    ErrorKind = "OrderNotPending"
	KindAddressIncomplete  ErrorKind = "AddressIncomplete"
	KindStorageUnavailable ErrorKind = "StorageUnavailable"
	KindInvalidRequest     ErrorKind = "InvalidRequest"
)

var kinds = []struct {
	err  error
	kind ErrorKind
}{
	{ErrInsufficientStock, KindInsufficientStock},
	{ErrProductNotFound, KindProductNotFound},
	{ErrCartEmpty, KindCartEmpty},
	{ErrProviderError, KindProviderError},
	{ErrSignatureMismatch, KindSignatureMismatch},
	{ErrOrderNotFound, KindOrderNotFound},
	{ErrOrderNotPending, KindOrderNotPending},
	{ErrAddressIncomplete, KindAddressIncomplete},
	{ErrInvalidRequest, KindInvalidRequest},
	{ErrStorageUnavailable, KindStorageUnavailable},
}

// Kind classifies err. Anything unrecognised is reported as StorageUnavailable
// so that raw storage text never crosses the external interface.
func Kind(err error) ErrorKind {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindStorageUnavailable
}

// PublicMessage returns the caller-safe message for err. Provider and storage
// failures collapse to their sentinel text; domain rejections keep their detail.
func PublicMessage(err error) string {
	switch kind := Kind(err); kind {
	case KindStorageUnavailable:
		return ErrStorageUnavailable.Error()
	case KindProviderError:
		return ErrProviderError.Error()
	default:
		return err.Error()
	}
}

// isDomainError reports whether err already carries one of the saga kinds.
func isDomainError(err error) bool {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return true
		}
	}
	return false
}
