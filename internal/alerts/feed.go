package alerts

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"guildwarden/internal/metrics"
	"guildwarden/internal/twitter"

	"github.com/bwmarrin/discordgo"
	"github.com/disgoorg/snowflake/v2"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

type FeedSource interface {
	UserID(ctx context.Context, username string) (string, error)
	Tweets(ctx context.Context, userID, sinceID string) ([]twitter.Tweet, error)
}

// PostLog remembers which post ids were already announced.
type PostLog interface {
	PostedTweets() []string
	HasPostedTweet(id string) bool
	AddPostedTweet(ctx context.Context, id string) error
}

type FeedWatcher struct {
	source    FeedSource
	log       PostLog
	announcer Announcer
	username  string
	channelID string
	logger    *zap.Logger

	mu     sync.Mutex
	userID string
}

func NewFeedWatcher(source FeedSource, log PostLog, announcer Announcer, username, channelID string, logger *zap.Logger) *FeedWatcher {
	return &FeedWatcher{
		source:    source,
		log:       log,
		announcer: announcer,
		username:  username,
		channelID: channelID,
		logger:    logger.With(zap.String("component", "feed_watcher")),
	}
}

func (w *FeedWatcher) Name() string { return "twitter_feed" }

// Run announces every unseen post in ascending id order, recording each id
// right after its announcement.
func (w *FeedWatcher) Run(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.userID == "" {
		id, err := w.source.UserID(ctx, w.username)
		if err != nil {
			return fmt.Errorf("resolve user: %w", err)
		}
		w.userID = id
	}

	tweets, err := w.source.Tweets(ctx, w.userID, highestID(w.log.PostedTweets()))
	if err != nil {
		return fmt.Errorf("fetch tweets: %w", err)
	}

	fresh := lo.Filter(tweets, func(t twitter.Tweet, _ int) bool { return !w.log.HasPostedTweet(t.ID) })
	fresh = lo.UniqBy(fresh, func(t twitter.Tweet) string { return t.ID })
	slices.SortFunc(fresh, func(a, b twitter.Tweet) int { return compareIDs(a.ID, b.ID) })

	for _, tweet := range fresh {
		link := fmt.Sprintf("https://x.com/%s/status/%s", w.username, tweet.ID)
		msg := &discordgo.MessageSend{Content: fmt.Sprintf("🐦 Nouveau post de **@%s**\n%s", w.username, link)}
		if err := w.announcer.Announce(ctx, w.channelID, msg); err != nil {
			return fmt.Errorf("announce tweet %s: %w", tweet.ID, err)
		}
		metrics.Announcements.WithLabelValues("tweet").Inc()
		if err := w.log.AddPostedTweet(ctx, tweet.ID); err != nil {
			return fmt.Errorf("record tweet %s: %w", tweet.ID, err)
		}
		w.logger.Info("tweet announced", zap.String("id", tweet.ID))
	}
	return nil
}

// highestID returns the largest numeric id of ids, or "" when none parses.
func highestID(ids []string) string {
	var best snowflake.ID
	var bestRaw string
	for _, raw := range ids {
		id, err := snowflake.Parse(raw)
		if err != nil {
			continue
		}
		if id > best {
			best, bestRaw = id, raw
		}
	}
	return bestRaw
}

func compareIDs(a, b string) int {
	ia, errA := snowflake.Parse(a)
	ib, errB := snowflake.Parse(b)
	if errA != nil || errB != nil {
		return cmp.Compare(a, b)
	}
	return cmp.Compare(ia, ib)
}
