package constant

import "time"

// Realtime topics (without the "realtime:" transport prefix)
const (
	TopicPresence       = "presence"
	topicMessagesFormat = "messages:%s" // messages:{conversation_id}
	topicRefreshFormat  = "refresh:%s"  // refresh:{conversation_id}
	topicTypingFormat   = "typing:%s"   // typing:{conversation_id}
)

// Broadcast events
const (
	EventTyping     = "typing"
	EventStopTyping = "stop_typing"
	EventRefresh    = "refresh"
)

// Change feed tables
const (
	SchemaPublic          = "public"
	TableMessages         = "messages"
	TableMessageReactions = "message_reactions"
)

// Message list directions
const (
	DirectionBackward = "backward"
	DirectionForward  = "forward"
)

// Typing and signed URL lifetimes
const (
	TypingTTL           = 3 * time.Second
	TypingSweepInterval = time.Second
	SignedURLExpiry     = time.Hour
)

// Refetch reasons, used as metric labels and in logs
const (
	RefetchOpen      = "open"
	RefetchSend      = "send"
	RefetchReaction  = "reaction"
	RefetchRefresh   = "refresh"
	RefetchReconcile = "reconcile"
	RefetchResolve   = "resolve_failed"
	RefetchRejoin    = "rejoin"
)

// Redis key patterns (without prefix, use RedisKey() to get full key)
const (
	redisKeySignedURL = "signed_url:%s:%s" // signed_url:{bucket}:{path}
)

// redisKeyPrefix is the global prefix for all Redis keys
var redisKeyPrefix = "ecomm:"

// InitRedisKeyPrefix sets the global Redis key prefix
func InitRedisKeyPrefix(prefix string) {
	if prefix != "" {
		redisKeyPrefix = prefix
	}
}

// GetRedisKeyPrefix returns the current Redis key prefix
func GetRedisKeyPrefix() string {
	return redisKeyPrefix
}

// Redis key getters with prefix
func RedisKeySignedURL() string { return redisKeyPrefix + redisKeySignedURL }

// Topic getters
func TopicMessages() string { return topicMessagesFormat }
func TopicRefresh() string  { return topicRefreshFormat }
func TopicTyping() string   { return topicTypingFormat }
