package domain

// NotificationType identifies which rental transition a notification reports
type NotificationType string

const (
	NotificationRentalRequested NotificationType = "RENTAL_REQUESTED"
	NotificationRentalApproved  NotificationType = "RENTAL_APPROVED"
	NotificationRentalDeclined  NotificationType = "RENTAL_DECLINED"
	NotificationRentalPaid      NotificationType = "RENTAL_PAID"
	NotificationRentalPickedUp  NotificationType = "RENTAL_PICKED_UP"
	NotificationRentalReturned  NotificationType = "RENTAL_RETURNED"
	NotificationDamageClaimed   NotificationType = "DAMAGE_CLAIMED"
	NotificationLateFeeCharged  NotificationType = "LATE_FEE_CHARGED"
	NotificationPaymentFailed   NotificationType = "PAYMENT_FAILED"
	NotificationRentalCancelled NotificationType = "RENTAL_CANCELLED"
	NotificationPayoutSent      NotificationType = "PAYOUT_SENT"
)

// Notification is a best-effort message to one member about one transaction
type Notification struct {
	UserID        string            `json:"user_id"`
	Type          NotificationType  `json:"type"`
	TransactionID string            `json:"transaction_id"`
	Title         string            `json:"title"`
	Message       string            `json:"message"`
	Attributes    map[string]string `json:"attributes,omitempty"`
}
