package enums

import "fmt"

// NotificationType maps to the notification_type enum in Postgres.
type NotificationType string

const (
	NotificationTypeOrderCreated   NotificationType = "order_created"
	NotificationTypeOrderAccepted  NotificationType = "order_accepted"
	NotificationTypeOrderRejected  NotificationType = "order_rejected"
	NotificationTypeOrderReady     NotificationType = "order_ready"
	NotificationTypeOrderAssigned  NotificationType = "order_assigned"
	NotificationTypeOrderPickedUp  NotificationType = "order_picked_up"
	NotificationTypeOrderInTransit NotificationType = "order_in_transit"
	NotificationTypeOrderDelivered NotificationType = "order_delivered"
	NotificationTypeOrderCompleted NotificationType = "order_completed"
	NotificationTypeOrderCancelled NotificationType = "order_cancelled"
)

var validNotificationTypes = []NotificationType{
	NotificationTypeOrderCreated,
	NotificationTypeOrderAccepted,
	NotificationTypeOrderRejected,
	NotificationTypeOrderReady,
	NotificationTypeOrderAssigned,
	NotificationTypeOrderPickedUp,
	NotificationTypeOrderInTransit,
	NotificationTypeOrderDelivered,
	NotificationTypeOrderCompleted,
	NotificationTypeOrderCancelled,
}

// IsValid checks whether the given type matches the canonical enum.
func (n NotificationType) IsValid() bool {
	for _, candidate := range validNotificationTypes {
		if candidate == n {
			return true
		}
	}
	return false
}

// ParseNotificationType converts raw strings into NotificationType.
func ParseNotificationType(value string) (NotificationType, error) {
	for _, candidate := range validNotificationTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid notification type %q", value)
}

// NotificationPurgeScope selects what a user-triggered bulk purge removes.
type NotificationPurgeScope string

const (
	NotificationPurgeWindow NotificationPurgeScope = "window"
	NotificationPurgeAll    NotificationPurgeScope = "all"
)

func ParseNotificationPurgeScope(value string) (NotificationPurgeScope, error) {
	switch NotificationPurgeScope(value) {
	case "", NotificationPurgeWindow:
		return NotificationPurgeWindow, nil
	case NotificationPurgeAll:
		return NotificationPurgeAll, nil
	}
	return "", fmt.Errorf("invalid purge scope %q", value)
}
