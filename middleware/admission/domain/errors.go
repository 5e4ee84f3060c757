package domain

import "errors"

// Taxonomia das negações. Todas são recuperáveis pelo cliente
// (esperar ou parar de sondar); nenhuma é fatal para o processo.
var (
	ErrCapacityExceeded = errors.New("capacity exceeded")
	ErrAttackDetected   = errors.New("attack detected")
	ErrContentRejected  = errors.New("content rejected")
	ErrAccessDenied     = errors.New("access denied")
)

// ErrStoreUnavailable marca falhas internas de stores externos.
var ErrStoreUnavailable = errors.New("store unavailable")

// IsDenial informa se err pertence à taxonomia de negação.
func IsDenial(err error) bool {
	return errors.Is(err, ErrCapacityExceeded) ||
		errors.Is(err, ErrAttackDetected) ||
		errors.Is(err, ErrContentRejected) ||
		errors.Is(err, ErrAccessDenied)
}
