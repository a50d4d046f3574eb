package http

import (
	"net/http"

	"github.com/go-chi/cors"
	"github.com/gorilla/mux"

	"rental-payments-backend/internal/gateway"
	"rental-payments-backend/internal/security"
	"rental-payments-backend/internal/service"
)

// Services are the handlers' dependencies
type Services struct {
	Rental  service.RentalService
	Webhook service.WebhookService
	Access  service.AccessService
}

// NewRouter builds the API. Route names key into config.EndpointSecurityConfig.
func NewRouter(svcs Services, tm security.TokenManager, allowedOrigins []string) http.Handler {
	rentals := NewRentalHandler(svcs.Rental)
	webhooks := NewWebhookHandler(svcs.Webhook)
	access := NewAccessHandler(svcs.Access)

	router := mux.NewRouter()
	router.Use(LoggingMiddleware, TracingMiddleware, NewAuthMiddleware(tm).Handler)

	router.HandleFunc("/health", Health).Methods(http.MethodGet).Name("Health")
	router.HandleFunc("/webhooks/processor", webhooks.Handle).Methods(http.MethodPost).Name("ProcessorWebhook")

	router.HandleFunc("/rentals/request", rentals.Request).Methods(http.MethodPost).Name("RequestRental")
	router.HandleFunc("/rentals/{id}/approve", rentals.Approve).Methods(http.MethodPost).Name("ApproveRental")
	router.HandleFunc("/rentals/{id}/decline", rentals.Decline).Methods(http.MethodPost).Name("DeclineRental")
	router.HandleFunc("/rentals/{id}/confirm-payment", rentals.ConfirmPayment).Methods(http.MethodPost).Name("ConfirmPayment")
	router.HandleFunc("/rentals/{id}/pickup", rentals.Pickup).Methods(http.MethodPost).Name("PickupRental")
	router.HandleFunc("/rentals/{id}/return", rentals.Return).Methods(http.MethodPost).Name("ReturnRental")
	router.HandleFunc("/rentals/{id}/damage-claim", rentals.DamageClaim).Methods(http.MethodPost).Name("DamageClaim")
	router.HandleFunc("/rentals/{id}/late-fee", rentals.LateFee).Methods(http.MethodPost).Name("LateFee")
	router.HandleFunc("/rentals/{id}/payment-status", rentals.GetPaymentStatus).Methods(http.MethodGet).Name("GetPaymentStatus")

	router.HandleFunc("/access/status", access.GetStatus).Methods(http.MethodGet).Name("GetAccessStatus")

	c := cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", gateway.SignatureHeader, gateway.SignatureTimestampHeader},
		MaxAge:         300,
	})
	return c(router)
}
