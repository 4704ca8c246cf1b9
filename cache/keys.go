package cache

// Well-known resource types. The same vocabulary keys cache entries,
// push-topic resource segments, and mutation invalidations, so it lives
// here with Key rather than in any one domain package.
//
// ".list" types hold whole page snapshots keyed by query signature;
// InvalidateType on them drops every cached page of the collection.
const (
	TypeEvent             = "event"
	TypeEventList         = "event.list"
	TypeEventAvailability = "event.availability"

	TypeUser = "user"

	TypeOrder     = "order"
	TypeOrderList = "order.list"

	TypeConversation     = "conversation"
	TypeConversationList = "conversation.list"
	TypeMessage          = "message"
	TypeMessageList      = "message.list"

	TypePayment = "payment"

	TypeNotificationList = "notification.list"

	TypeVerification = "verification"

	TypeSearchList         = "search.list"
	TypeRecommendationList = "recommendation.list"
)
