package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const tracerName = "guildwarden/internal/storage"

type LinkedAccount struct {
	TwitchID    string    `json:"twitch_id"`
	TwitchLogin string    `json:"twitch_login"`
	Following   bool      `json:"following"`
	LinkedAt    time.Time `json:"linked_at"`
}

type Giveaway struct {
	ChannelID string    `json:"channel_id"`
	MessageID string    `json:"message_id"`
	Prize     string    `json:"prize"`
	HostID    string    `json:"host_id,omitempty"`
	EndTime   time.Time `json:"end_time"`
}

// SquadRecord is the persisted half of an active squad. Members holds the
// occupant ids in join order.
type SquadRecord struct {
	VoiceChannelID    string    `json:"voice_channel_id"`
	GuildID           string    `json:"guild_id"`
	AnnounceChannelID string    `json:"announce_channel_id,omitempty"`
	AnnounceMessageID string    `json:"announce_message_id,omitempty"`
	GameLabel         string    `json:"game_label"`
	Capacity          int       `json:"capacity"`
	OwnerID           string    `json:"owner_id"`
	Members           []string  `json:"members"`
	CreatedAt         time.Time `json:"created_at"`
}

type VoiceXP struct {
	VoiceSeconds int64     `json:"voice_seconds"`
	Sessions     int       `json:"sessions"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Document is the whole persisted state. Tickets and polls are kept
// verbatim so a rewrite never drops them.
type Document struct {
	LinkedAccounts     map[string]LinkedAccount `json:"linked_accounts"`
	ReglementMessageID string                   `json:"reglement_message_id,omitempty"`
	GuideMessageID     string                   `json:"guide_message_id,omitempty"`
	PostedTweets       []string                 `json:"twitter_posted_tweets"`
	Giveaways          map[string]Giveaway      `json:"giveaways"`
	ActiveSquads       map[string]SquadRecord   `json:"active_squads"`
	XP                 map[string]VoiceXP       `json:"xp"`
	Tickets            json.RawMessage          `json:"tickets,omitempty"`
	Polls              json.RawMessage          `json:"polls,omitempty"`
}

type Store struct {
	mu      sync.Mutex
	backend Backend
	doc     Document
}

// Open loads the document from the backend. An empty backend yields an
// empty document.
func Open(ctx context.Context, backend Backend) (*Store, error) {
	data, err := backend.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load document: %w", err)
	}

	s := &Store{backend: backend}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &s.doc); err != nil {
			return nil, fmt.Errorf("decode document: %w", err)
		}
	}
	s.doc.ensure()
	return s, nil
}

func (s *Store) Close() {
	if s.backend != nil {
		_ = s.backend.Close()
	}
}

func (d *Document) ensure() {
	if d.LinkedAccounts == nil {
		d.LinkedAccounts = make(map[string]LinkedAccount)
	}
	if d.PostedTweets == nil {
		d.PostedTweets = []string{}
	}
	if d.Giveaways == nil {
		d.Giveaways = make(map[string]Giveaway)
	}
	if d.ActiveSquads == nil {
		d.ActiveSquads = make(map[string]SquadRecord)
	}
	if d.XP == nil {
		d.XP = make(map[string]VoiceXP)
	}
}

// persist rewrites the whole document. Callers hold s.mu.
func (s *Store) persist(ctx context.Context, op string) error {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "Store."+op)
	defer span.End()

	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetAttributes(attribute.Int("bytes", len(data)))

	if err := s.backend.Save(ctx, data); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("save document: %w", err)
	}
	span.SetStatus(codes.Ok, "ok")
	return nil
}

func (s *Store) LinkedAccount(memberID string) (LinkedAccount, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.doc.LinkedAccounts[memberID]
	return acct, ok
}

func (s *Store) SetLinkedAccount(ctx context.Context, memberID string, acct LinkedAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.LinkedAccounts[memberID] = acct
	return s.persist(ctx, "SetLinkedAccount")
}

func (s *Store) ReglementMessage() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.ReglementMessageID
}

func (s *Store) SetReglementMessage(ctx context.Context, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.ReglementMessageID = ref
	return s.persist(ctx, "SetReglementMessage")
}

func (s *Store) GuideMessage() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.GuideMessageID
}

func (s *Store) SetGuideMessage(ctx context.Context, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.GuideMessageID = ref
	return s.persist(ctx, "SetGuideMessage")
}

func (s *Store) PostedTweets() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.doc.PostedTweets)
}

func (s *Store) HasPostedTweet(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Contains(s.doc.PostedTweets, id)
}

func (s *Store) AddPostedTweet(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if slices.Contains(s.doc.PostedTweets, id) {
		return nil
	}
	s.doc.PostedTweets = append(s.doc.PostedTweets, id)
	return s.persist(ctx, "AddPostedTweet")
}

func (s *Store) Giveaways() []Giveaway {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Giveaway, 0, len(s.doc.Giveaways))
	for _, g := range s.doc.Giveaways {
		out = append(out, g)
	}
	slices.SortFunc(out, func(a, b Giveaway) int { return a.EndTime.Compare(b.EndTime) })
	return out
}

func (s *Store) AddGiveaway(ctx context.Context, g Giveaway) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Giveaways[g.MessageID] = g
	return s.persist(ctx, "AddGiveaway")
}

func (s *Store) DeleteGiveaway(ctx context.Context, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.doc.Giveaways[messageID]; !ok {
		return nil
	}
	delete(s.doc.Giveaways, messageID)
	return s.persist(ctx, "DeleteGiveaway")
}

func (s *Store) Squads() []SquadRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SquadRecord, 0, len(s.doc.ActiveSquads))
	for _, rec := range s.doc.ActiveSquads {
		rec.Members = slices.Clone(rec.Members)
		out = append(out, rec)
	}
	slices.SortFunc(out, func(a, b SquadRecord) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out
}

func (s *Store) PutSquad(ctx context.Context, rec SquadRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.Members = slices.Clone(rec.Members)
	s.doc.ActiveSquads[rec.VoiceChannelID] = rec
	return s.persist(ctx, "PutSquad")
}

func (s *Store) DeleteSquad(ctx context.Context, channelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.doc.ActiveSquads[channelID]; !ok {
		return nil
	}
	delete(s.doc.ActiveSquads, channelID)
	return s.persist(ctx, "DeleteSquad")
}

func (s *Store) VoiceXP(memberID string) VoiceXP {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.XP[memberID]
}

func (s *Store) AddVoiceTime(ctx context.Context, memberID string, d time.Duration, now time.Time) error {
	if d <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	xp := s.doc.XP[memberID]
	xp.VoiceSeconds += int64(d / time.Second)
	xp.Sessions++
	xp.UpdatedAt = now
	s.doc.XP[memberID] = xp
	return s.persist(ctx, "AddVoiceTime")
}
