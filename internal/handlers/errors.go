package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/federated-storage/registry/internal/ledger"
	"github.com/federated-storage/registry/internal/registry"
	"github.com/federated-storage/registry/internal/services"
)

var requestFailures = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "registry_request_failures_total",
		Help: "Rejected registry operations, by status",
	},
	[]string{"status"},
)

// statusFor maps a domain error to an HTTP status
func statusFor(err error) int {
	switch {
	case errors.Is(err, registry.ErrNotFound),
		errors.Is(err, services.ErrContentNotFound),
		errors.Is(err, services.ErrAccountNotFound):
		return http.StatusNotFound
	case errors.Is(err, registry.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, registry.ErrInvalidReference),
		errors.Is(err, registry.ErrMissingTitle),
		errors.Is(err, registry.ErrEmptyComment),
		errors.Is(err, registry.ErrInvalidRating),
		errors.Is(err, registry.ErrNonPositiveAmount),
		errors.Is(err, registry.ErrNegativeAmount),
		errors.Is(err, registry.ErrSelfTip),
		errors.Is(err, registry.ErrAmountOverflow),
		errors.Is(err, registry.ErrInvalidOwner),
		errors.Is(err, services.ErrInvalidContentRef),
		errors.Is(err, ledger.ErrInvalidRef):
		return http.StatusBadRequest
	case errors.Is(err, registry.ErrNothingToClaim):
		return http.StatusConflict
	case errors.Is(err, registry.ErrNoLedger) && !errors.Is(err, registry.ErrTransferFailed):
		return http.StatusServiceUnavailable
	case errors.Is(err, registry.ErrTransferFailed):
		return http.StatusUnprocessableEntity
	case errors.Is(err, services.ErrContentTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, services.ErrAccountExists):
		return http.StatusConflict
	case errors.Is(err, services.ErrInvalidCredentials):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err as a JSON error body with the mapped status
func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	requestFailures.WithLabelValues(http.StatusText(status)).Inc()
	c.Error(err)

	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	c.JSON(status, gin.H{"error": msg})
}
