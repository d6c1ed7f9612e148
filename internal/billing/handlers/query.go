// Package handlers implements the billing worker's query surface: a
// read-only lookup of a vehicle's billing transactions, per spec §6.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/smarttoll/pipeline/internal/billing/models"
)

// TransactionReader is the subset of the Transaction Store's contract
// this handler needs, narrowed to an interface so it can be tested
// without Postgres.
type TransactionReader interface {
	ListByVehicle(ctx context.Context, vehicleID string, limit int) ([]models.BillingTransaction, error)
}

// QueryHandler exposes GET /transactions/:vehicleId.
type QueryHandler struct {
	store  TransactionReader
	logger *zap.Logger
}

// NewQueryHandler constructs a QueryHandler.
func NewQueryHandler(store TransactionReader, logger *zap.Logger) *QueryHandler {
	return &QueryHandler{store: store, logger: logger}
}

// Register mounts the handler's routes onto r.
func (h *QueryHandler) Register(r gin.IRoutes) {
	r.GET("/transactions/:vehicleId", h.listByVehicle)
}

type transactionView struct {
	ID                   int64   `json:"id"`
	TollEventID          string  `json:"tollEventId"`
	VehicleID            string  `json:"vehicleId"`
	Amount               string  `json:"amount"`
	Currency             string  `json:"currency"`
	Status               string  `json:"status"`
	TransactionTime      string  `json:"transactionTime"`
	LastUpdated          string  `json:"lastUpdated"`
	PaymentGatewayRef    *string `json:"paymentGatewayRef,omitempty"`
	ErrorMessage         *string `json:"errorMessage,omitempty"`
	RetryCount           int     `json:"retryCount"`
}

func (h *QueryHandler) listByVehicle(c *gin.Context) {
	vehicleID := c.Param("vehicleId")
	if vehicleID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "vehicleId is required"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	txs, err := h.store.ListByVehicle(ctx, vehicleID, 100)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			c.JSON(http.StatusGatewayTimeout, gin.H{"error": "transaction store timed out"})
			return
		}
		h.logger.Error("failed to list transactions", zap.String("vehicleId", vehicleID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list transactions"})
		return
	}

	views := make([]transactionView, 0, len(txs))
	for _, tx := range txs {
		views = append(views, transactionView{
			ID:                tx.ID,
			TollEventID:       tx.TollEventID,
			VehicleID:         tx.VehicleID,
			Amount:            tx.Amount.StringFixed(2),
			Currency:          tx.Currency,
			Status:            string(tx.Status),
			TransactionTime:   tx.TransactionTime.UTC().Format(time.RFC3339),
			LastUpdated:       tx.LastUpdated.UTC().Format(time.RFC3339),
			PaymentGatewayRef: tx.PaymentGatewayRef,
			ErrorMessage:      tx.ErrorMessage,
			RetryCount:        tx.RetryCount,
		})
	}

	c.JSON(http.StatusOK, gin.H{"vehicleId": vehicleID, "transactions": views})
}
