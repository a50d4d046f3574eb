// config/security_config.go
package config

type SecurityLevel int

const (
	SecurityPublic    SecurityLevel = iota // No authentication
	SecuritySignature                      // Processor signature required (checked by the reconciler)
	SecurityAccess                         // Access token required
)

// EndpointSecurityConfig maps route names to their required security level
var EndpointSecurityConfig = map[string]SecurityLevel{
	// Health - Public
	"Health": SecurityPublic,

	// Processor callbacks - authenticated by signature over the raw body, not by bearer token
	"ProcessorWebhook": SecuritySignature,

	// RentalService - Access Protected
	"RequestRental":    SecurityAccess,
	"ApproveRental":    SecurityAccess,
	"DeclineRental":    SecurityAccess,
	"ConfirmPayment":   SecurityAccess,
	"PickupRental":     SecurityAccess,
	"ReturnRental":     SecurityAccess,
	"DamageClaim":      SecurityAccess,
	"LateFee":          SecurityAccess,
	"GetPaymentStatus": SecurityAccess,

	// AccessGate - Access Protected
	"GetAccessStatus": SecurityAccess,
}

// GetSecurityLevel returns the security level for a given route name
func GetSecurityLevel(route string) SecurityLevel {
	if level, exists := EndpointSecurityConfig[route]; exists {
		return level
	}
	// Default to highest security for unknown routes
	return SecurityAccess
}
