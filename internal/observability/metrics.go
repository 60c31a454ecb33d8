package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Chat collectors. Labels are limited to small fixed sets.
var (
	messagesPosted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_messages_posted_total",
		Help: "Messages accepted into the ledger.",
	})

	postsRateLimited = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_posts_rate_limited_total",
		Help: "Post attempts rejected by the per-identity limiter.",
	})

	subscribersLive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_stream_subscribers",
		Help: "Currently registered stream subscribers.",
	})

	subscribersDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_stream_subscribers_dropped_total",
		Help: "Subscribers removed because their buffer overflowed.",
	})

	heartbeatsSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_stream_heartbeats_total",
		Help: "Heartbeat ticks fanned out to subscribers.",
	})

	eventsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_events_published_total",
		Help: "Events published through the hub, by kind.",
	}, []string{"kind"})

	moderationActions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_moderation_actions_total",
		Help: "Completed moderation actions, by action.",
	}, []string{"action"})
)

func init() {
	prometheus.MustRegister(
		messagesPosted,
		postsRateLimited,
		subscribersLive,
		subscribersDropped,
		heartbeatsSent,
		eventsPublished,
		moderationActions,
	)
}

// MessagePosted counts an accepted message.
func MessagePosted() { messagesPosted.Inc() }

// PostRateLimited counts a rejected post attempt.
func PostRateLimited() { postsRateLimited.Inc() }

// SetSubscribers records the live subscriber count.
func SetSubscribers(n int) { subscribersLive.Set(float64(n)) }

// SubscriberDropped counts a subscriber removed on overflow.
func SubscriberDropped() { subscribersDropped.Inc() }

// HeartbeatSent counts one heartbeat tick.
func HeartbeatSent() { heartbeatsSent.Inc() }

// EventPublished counts a published event of kind.
func EventPublished(kind string) { eventsPublished.WithLabelValues(kind).Inc() }

// ModerationAction counts a committed moderation action.
func ModerationAction(action string) { moderationActions.WithLabelValues(action).Inc() }
