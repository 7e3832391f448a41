package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "guildwarden"

var (
	SquadsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "squads_created_total",
		Help:      "Squads created.",
	})
	SquadsDeleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "squads_deleted_total",
		Help:      "Squads torn down, by the path that observed them empty.",
	}, []string{"path"})
	ChannelsSwept = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "untracked_channels_swept_total",
		Help:      "Empty untracked voice channels deleted by the sweep.",
	})
	Commands = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "commands_total",
		Help:      "Chat commands handled, by command and result.",
	}, []string{"command", "result"})
	PollTicks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "poll_ticks_total",
		Help:      "Poll loop ticks, by task and result.",
	}, []string{"task", "result"})
	Announcements = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "announcements_total",
		Help:      "Alerts posted to chat, by kind.",
	}, []string{"kind"})
	RateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_rate_limited_total",
		Help:      "HTTP 429 responses received from third-party APIs.",
	}, []string{"host"})
	Webhooks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "webhook_deliveries_total",
		Help:      "Deliveries received on the webhook route.",
	})
	AccountsLinked = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "accounts_linked_total",
		Help:      "Twitch accounts linked through the OAuth callback.",
	})
)

func Handler() http.Handler {
	return promhttp.Handler()
}
