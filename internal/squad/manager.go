// Package squad manages temporary, capacity-bounded voice channels and the
// roster message announcing each of them.
package squad

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"guildwarden/internal/metrics"
	"guildwarden/internal/storage"
	"guildwarden/internal/utils"

	"github.com/bwmarrin/discordgo"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// createGrace is how long a new squad is exempt from the sweep, while the
// requester's voice state has not reached the gateway cache yet.
const createGrace = 15 * time.Second

var (
	ErrInvalidCapacity  = errors.New("invalid squad capacity")
	ErrCategoryNotFound = errors.New("squad category not found")
	ErrCreateThrottled  = errors.New("squad creation throttled")
	ErrSquadNotFound    = errors.New("squad not found")
	ErrAlreadyMember    = errors.New("already in squad")
	ErrSquadFull        = errors.New("squad full")
	ErrMoveFailed       = errors.New("move into squad failed")
	// ErrNotFound is returned by a Platform when the target no longer exists.
	ErrNotFound = errors.New("not found")
)

type Channel struct {
	ID       string
	GuildID  string
	ParentID string
	Name     string
	Category bool
	Voice    bool
}

type Occupant struct {
	UserID      string
	DisplayName string
	Bot         bool
}

// Platform is the slice of the chat platform the manager drives.
type Platform interface {
	Channel(ctx context.Context, channelID string) (Channel, error)
	GuildChannels(ctx context.Context, guildID string) ([]Channel, error)
	CreateVoiceChannel(ctx context.Context, guildID, parentID, name string, userLimit int) (Channel, error)
	DeleteChannel(ctx context.Context, channelID string) error
	// GuildLoaded reports whether the guild's voice states are cached, so
	// VoiceOccupants can be trusted.
	GuildLoaded(guildID string) bool
	VoiceOccupants(guildID, channelID string) []Occupant
	MoveMember(ctx context.Context, guildID, userID, channelID string) error
	SendEmbed(ctx context.Context, channelID string, embed *discordgo.MessageEmbed, components []discordgo.MessageComponent) (string, error)
	EditEmbed(ctx context.Context, channelID, messageID string, embed *discordgo.MessageEmbed, components []discordgo.MessageComponent) error
	DeleteMessage(ctx context.Context, channelID, messageID string) error
}

type Config struct {
	GuildID           string
	CategoryID        string
	AnnounceChannelID string
	LobbyChannelID    string
	LobbyCapacity     int
	MaxCapacity       int
	SettleDelay       time.Duration
	CreateLimit       int
	CreateWindow      time.Duration
	KeepChannelIDs    []string
}

type CreateRequest struct {
	GuildID           string
	RequesterID       string
	RequesterName     string
	Game              string
	Capacity          int
	FallbackChannelID string
}

type Manager struct {
	cfg      Config
	platform Platform
	registry *Registry
	logger   *zap.Logger

	suffix func() int
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration)

	throttleMu sync.Mutex
	throttle   map[string]*utils.SlidingWindow

	reconcileMu sync.Mutex
	reconciled  atomic.Bool
}

func NewManager(cfg Config, platform Platform, store RecordStore, logger *zap.Logger) *Manager {
	if cfg.MaxCapacity <= 0 {
		cfg.MaxCapacity = 99
	}
	logger = logger.With(zap.String("component", "squad"))
	return &Manager{
		cfg:      cfg,
		platform: platform,
		registry: NewRegistry(store, logger),
		logger:   logger,
		suffix:   func() int { return rand.IntN(10000) },
		now:      time.Now,
		sleep:    sleepContext,
		throttle: make(map[string]*utils.SlidingWindow),
	}
}

func (m *Manager) Registry() *Registry {
	return m.registry
}

func (m *Manager) Tracked(channelID string) bool {
	_, ok := m.registry.Get(channelID)
	return ok
}

// CreateSquad creates the voice channel, moves the requester in, publishes
// the roster and registers the squad. Move and publish failures are logged
// and do not abort creation.
func (m *Manager) CreateSquad(ctx context.Context, req CreateRequest) (storage.SquadRecord, error) {
	if req.Capacity < 1 || req.Capacity > m.cfg.MaxCapacity {
		return storage.SquadRecord{}, fmt.Errorf("%w: must be within 1..%d", ErrInvalidCapacity, m.cfg.MaxCapacity)
	}
	if !m.allowCreate(req.RequesterID) {
		return storage.SquadRecord{}, ErrCreateThrottled
	}
	if m.cfg.CategoryID == "" {
		return storage.SquadRecord{}, ErrCategoryNotFound
	}
	category, err := m.platform.Channel(ctx, m.cfg.CategoryID)
	if err != nil || !category.Category {
		return storage.SquadRecord{}, ErrCategoryNotFound
	}

	guildID := req.GuildID
	if guildID == "" {
		guildID = category.GuildID
	}
	name := channelName(req.Game, req.RequesterName, m.suffix())
	voice, err := m.platform.CreateVoiceChannel(ctx, guildID, category.ID, name, req.Capacity)
	if err != nil {
		return storage.SquadRecord{}, fmt.Errorf("create voice channel: %w", err)
	}

	rec := storage.SquadRecord{
		VoiceChannelID: voice.ID,
		GuildID:        guildID,
		GameLabel:      req.Game,
		Capacity:       req.Capacity,
		OwnerID:        req.RequesterID,
		CreatedAt:      m.now(),
	}

	names := []string{}
	if err := m.platform.MoveMember(ctx, guildID, req.RequesterID, voice.ID); err != nil {
		m.logger.Info("move requester into squad failed", zap.String("channel_id", voice.ID), zap.String("user_id", req.RequesterID), zap.Error(err))
	} else {
		rec.Members = []string{req.RequesterID}
		names = append(names, req.RequesterName)
	}

	rec.AnnounceChannelID = m.cfg.AnnounceChannelID
	if rec.AnnounceChannelID == "" {
		rec.AnnounceChannelID = req.FallbackChannelID
	}
	if rec.AnnounceChannelID != "" {
		roster := rosterOf(rec, names)
		messageID, err := m.platform.SendEmbed(ctx, rec.AnnounceChannelID, roster.Embed(), roster.Components())
		if err != nil {
			m.logger.Warn("publish roster failed", zap.String("channel_id", voice.ID), zap.Error(err))
		} else {
			rec.AnnounceMessageID = messageID
		}
	}

	m.registry.Put(ctx, rec)
	metrics.SquadsCreated.Inc()
	m.logger.Info("squad created", zap.String("channel_id", voice.ID), zap.String("game", req.Game), zap.Int("capacity", req.Capacity), zap.String("owner_id", req.RequesterID))
	return rec, nil
}

// OnMembershipChanged re-renders the roster of a tracked channel, tearing the
// squad down when nobody is left. Untracked channels are ignored.
func (m *Manager) OnMembershipChanged(ctx context.Context, channelID string) error {
	if channelID == "" {
		return nil
	}
	return m.refresh(ctx, channelID, "event")
}

// JoinSquad moves userID into a tracked squad after checking membership and
// capacity.
func (m *Manager) JoinSquad(ctx context.Context, userID, channelID string) error {
	rec, ok := m.registry.Get(channelID)
	if !ok {
		return ErrSquadNotFound
	}

	occupants := humans(m.platform.VoiceOccupants(rec.GuildID, channelID))
	if lo.ContainsBy(occupants, func(o Occupant) bool { return o.UserID == userID }) {
		return ErrAlreadyMember
	}
	if len(occupants) >= rec.Capacity {
		if err := m.refresh(ctx, channelID, "join"); err != nil {
			m.logger.Debug("refresh full squad failed", zap.Error(err))
		}
		return ErrSquadFull
	}

	if err := m.platform.MoveMember(ctx, rec.GuildID, userID, channelID); err != nil {
		return fmt.Errorf("%w: %v", ErrMoveFailed, err)
	}
	m.sleep(ctx, m.cfg.SettleDelay)
	return m.refresh(ctx, channelID, "join")
}

// HandleLobbyJoin creates a personal squad when a member enters the
// configured lobby channel.
func (m *Manager) HandleLobbyJoin(ctx context.Context, guildID, userID, displayName, channelID string) (bool, error) {
	if m.cfg.LobbyChannelID == "" || channelID != m.cfg.LobbyChannelID {
		return false, nil
	}
	capacity := m.cfg.LobbyCapacity
	if capacity <= 0 || capacity > m.cfg.MaxCapacity {
		capacity = m.cfg.MaxCapacity
	}
	_, err := m.CreateSquad(ctx, CreateRequest{
		GuildID:       guildID,
		RequesterID:   userID,
		RequesterName: displayName,
		Game:          "🔊 " + displayName,
		Capacity:      capacity,
	})
	return true, err
}

func (m *Manager) Name() string { return "squad_sweep" }

// Run sweeps the category. Until the registry has been reconciled it tries
// that first, so a failed startup reconcile is retried on the next tick.
func (m *Manager) Run(ctx context.Context) error {
	ready, err := m.EnsureReconciled(ctx)
	if err != nil || !ready {
		return err
	}
	return m.Sweep(ctx)
}

// EnsureReconciled runs Reconcile once the guild is loaded and reports
// whether the registry has been reconciled.
func (m *Manager) EnsureReconciled(ctx context.Context) (bool, error) {
	if m.reconciled.Load() {
		return true, nil
	}
	m.reconcileMu.Lock()
	defer m.reconcileMu.Unlock()
	if m.reconciled.Load() {
		return true, nil
	}
	if !m.platform.GuildLoaded(m.cfg.GuildID) {
		return false, nil
	}
	if err := m.Reconcile(ctx); err != nil {
		return false, err
	}
	m.reconciled.Store(true)
	return true, nil
}

// Sweep deletes every empty voice channel of the category, tracked or not,
// and purges records whose channel disappeared.
func (m *Manager) Sweep(ctx context.Context) error {
	if m.cfg.CategoryID == "" || m.cfg.GuildID == "" {
		return nil
	}
	channels, err := m.platform.GuildChannels(ctx, m.cfg.GuildID)
	if err != nil {
		return fmt.Errorf("list channels: %w", err)
	}

	present := make(map[string]struct{}, len(channels))
	for _, ch := range channels {
		present[ch.ID] = struct{}{}
	}
	for _, ch := range m.squadChannels(channels) {
		if m.settling(ch.ID) || len(humans(m.platform.VoiceOccupants(m.cfg.GuildID, ch.ID))) > 0 {
			continue
		}
		m.deleteEmpty(ctx, ch.ID, "sweep")
	}

	for _, id := range m.registry.IDs() {
		if _, ok := present[id]; ok {
			continue
		}
		if err := m.refresh(ctx, id, "sweep"); err != nil {
			m.logger.Debug("refresh missing squad failed", zap.String("channel_id", id), zap.Error(err))
		}
	}
	m.pruneThrottle()
	return nil
}

// Reconcile rebuilds the registry after a restart from the stored records
// and the channels that actually exist.
func (m *Manager) Reconcile(ctx context.Context) error {
	stored := m.registry.stored()
	if m.cfg.CategoryID == "" || m.cfg.GuildID == "" {
		for _, rec := range stored {
			m.registry.Take(ctx, rec.VoiceChannelID)
		}
		return nil
	}

	channels, err := m.platform.GuildChannels(ctx, m.cfg.GuildID)
	if err != nil {
		return fmt.Errorf("list channels: %w", err)
	}
	existing := lo.SliceToMap(channels, func(ch Channel) (string, Channel) { return ch.ID, ch })

	var kept, discarded int
	for _, rec := range stored {
		if _, ok := existing[rec.VoiceChannelID]; !ok {
			m.registry.Take(ctx, rec.VoiceChannelID)
			m.deleteRoster(ctx, rec)
			discarded++
			continue
		}
		m.registry.Put(ctx, rec)
		kept++
		if err := m.refresh(ctx, rec.VoiceChannelID, "reconcile"); err != nil {
			m.logger.Debug("refresh rehydrated squad failed", zap.String("channel_id", rec.VoiceChannelID), zap.Error(err))
		}
	}
	m.logger.Info("squad registry reconciled", zap.Int("kept", kept), zap.Int("discarded", discarded), zap.Int("tracked", m.registry.Len()))

	return m.Sweep(ctx)
}

func (m *Manager) refresh(ctx context.Context, channelID, path string) error {
	rec, ok := m.registry.Get(channelID)
	if !ok {
		return nil
	}

	if _, err := m.platform.Channel(ctx, channelID); err != nil {
		if errors.Is(err, ErrNotFound) {
			m.teardown(ctx, channelID, path)
			return nil
		}
		return fmt.Errorf("fetch squad channel: %w", err)
	}

	occupants := humans(m.platform.VoiceOccupants(rec.GuildID, channelID))
	if len(occupants) == 0 {
		m.teardown(ctx, channelID, path)
		return nil
	}

	ordered := joinOrder(rec.Members, occupants)
	updated, ok := m.registry.Update(ctx, channelID, func(r *storage.SquadRecord) {
		r.Members = lo.Map(ordered, func(o Occupant, _ int) string { return o.UserID })
	})
	if !ok {
		return nil
	}

	if updated.AnnounceMessageID == "" {
		return nil
	}
	roster := rosterOf(updated, lo.Map(ordered, func(o Occupant, _ int) string { return o.DisplayName }))
	if err := m.platform.EditEmbed(ctx, updated.AnnounceChannelID, updated.AnnounceMessageID, roster.Embed(), roster.Components()); err != nil {
		m.logger.Debug("roster edit failed", zap.String("channel_id", channelID), zap.Error(err))
	}
	return nil
}

// teardown deletes a squad once. The record leaves the registry before any
// delete call, so a concurrent trigger finds nothing to do.
func (m *Manager) teardown(ctx context.Context, channelID, path string) bool {
	rec, ok := m.registry.Take(ctx, channelID)
	if !ok {
		return false
	}
	m.deleteRoster(ctx, rec)
	if err := m.platform.DeleteChannel(ctx, channelID); err != nil && !errors.Is(err, ErrNotFound) {
		m.logger.Warn("delete squad channel failed", zap.String("channel_id", channelID), zap.Error(err))
	}
	metrics.SquadsDeleted.WithLabelValues(path).Inc()
	m.logger.Info("squad deleted", zap.String("channel_id", channelID), zap.String("path", path))
	return true
}

func (m *Manager) deleteEmpty(ctx context.Context, channelID, path string) {
	if m.teardown(ctx, channelID, path) {
		return
	}
	if err := m.platform.DeleteChannel(ctx, channelID); err != nil {
		if !errors.Is(err, ErrNotFound) {
			m.logger.Warn("delete empty channel failed", zap.String("channel_id", channelID), zap.Error(err))
		}
		return
	}
	metrics.ChannelsSwept.Inc()
	m.logger.Info("empty channel deleted", zap.String("channel_id", channelID))
}

func (m *Manager) deleteRoster(ctx context.Context, rec storage.SquadRecord) {
	if rec.AnnounceChannelID == "" || rec.AnnounceMessageID == "" {
		return
	}
	if err := m.platform.DeleteMessage(ctx, rec.AnnounceChannelID, rec.AnnounceMessageID); err != nil {
		m.logger.Debug("roster delete failed", zap.String("message_id", rec.AnnounceMessageID), zap.Error(err))
	}
}

func (m *Manager) squadChannels(channels []Channel) []Channel {
	return lo.Filter(channels, func(ch Channel, _ int) bool {
		return ch.Voice &&
			ch.ParentID == m.cfg.CategoryID &&
			ch.ID != m.cfg.LobbyChannelID &&
			!slices.Contains(m.cfg.KeepChannelIDs, ch.ID)
	})
}

func (m *Manager) allowCreate(userID string) bool {
	if m.cfg.CreateLimit <= 0 {
		return true
	}
	m.throttleMu.Lock()
	window, ok := m.throttle[userID]
	if !ok {
		window = utils.NewSlidingWindow(m.cfg.CreateWindow)
		m.throttle[userID] = window
	}
	m.throttleMu.Unlock()
	return window.Allow(m.now(), m.cfg.CreateLimit)
}

func (m *Manager) settling(channelID string) bool {
	rec, ok := m.registry.Get(channelID)
	if !ok {
		return false
	}
	grace := max(m.cfg.SettleDelay, createGrace)
	return m.now().Sub(rec.CreatedAt) < grace
}

func (m *Manager) pruneThrottle() {
	now := m.now()
	m.throttleMu.Lock()
	defer m.throttleMu.Unlock()
	for userID, window := range m.throttle {
		if window.Idle(now) {
			delete(m.throttle, userID)
		}
	}
}

func rosterOf(rec storage.SquadRecord, names []string) Roster {
	return Roster{
		ChannelID: rec.VoiceChannelID,
		Game:      rec.GameLabel,
		OwnerID:   rec.OwnerID,
		Capacity:  rec.Capacity,
		Names:     names,
	}
}

func humans(occupants []Occupant) []Occupant {
	return lo.Filter(occupants, func(o Occupant, _ int) bool { return !o.Bot })
}

// joinOrder keeps previous members in their recorded order and appends
// newcomers after them.
func joinOrder(previous []string, current []Occupant) []Occupant {
	byID := lo.KeyBy(current, func(o Occupant) string { return o.UserID })
	ordered := make([]Occupant, 0, len(current))
	for _, id := range previous {
		if o, ok := byID[id]; ok {
			ordered = append(ordered, o)
			delete(byID, id)
		}
	}
	for _, o := range current {
		if _, ok := byID[o.UserID]; ok {
			ordered = append(ordered, o)
		}
	}
	return ordered
}

func sleepContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
