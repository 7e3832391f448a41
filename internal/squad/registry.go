package squad

import (
	"context"
	"slices"
	"sync"

	"guildwarden/internal/storage"

	"go.uber.org/zap"
)

// RecordStore persists squad records alongside the rest of the document.
type RecordStore interface {
	Squads() []storage.SquadRecord
	PutSquad(ctx context.Context, rec storage.SquadRecord) error
	DeleteSquad(ctx context.Context, channelID string) error
}

// Registry is the in-memory view of active squads, written through to the
// store. Take is the only way out, so concurrent teardown attempts resolve
// to exactly one winner.
type Registry struct {
	mu      sync.Mutex
	records map[string]storage.SquadRecord
	store   RecordStore
	logger  *zap.Logger
}

func NewRegistry(store RecordStore, logger *zap.Logger) *Registry {
	return &Registry{
		records: make(map[string]storage.SquadRecord),
		store:   store,
		logger:  logger,
	}
}

func (r *Registry) Get(channelID string) (storage.SquadRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[channelID]
	rec.Members = slices.Clone(rec.Members)
	return rec, ok
}

func (r *Registry) Put(ctx context.Context, rec storage.SquadRecord) {
	r.mu.Lock()
	rec.Members = slices.Clone(rec.Members)
	r.records[rec.VoiceChannelID] = rec
	r.mu.Unlock()

	if err := r.store.PutSquad(ctx, rec); err != nil {
		r.logger.Warn("persist squad failed", zap.String("channel_id", rec.VoiceChannelID), zap.Error(err))
	}
}

// Update applies fn to a tracked record and persists the result. It reports
// false when the record is gone.
func (r *Registry) Update(ctx context.Context, channelID string, fn func(rec *storage.SquadRecord)) (storage.SquadRecord, bool) {
	r.mu.Lock()
	rec, ok := r.records[channelID]
	if !ok {
		r.mu.Unlock()
		return storage.SquadRecord{}, false
	}
	fn(&rec)
	r.records[channelID] = rec
	r.mu.Unlock()

	if err := r.store.PutSquad(ctx, rec); err != nil {
		r.logger.Warn("persist squad failed", zap.String("channel_id", channelID), zap.Error(err))
	}
	rec.Members = slices.Clone(rec.Members)
	return rec, true
}

// Take removes and returns the record. Only the first caller gets ok.
func (r *Registry) Take(ctx context.Context, channelID string) (storage.SquadRecord, bool) {
	r.mu.Lock()
	rec, ok := r.records[channelID]
	delete(r.records, channelID)
	r.mu.Unlock()

	if err := r.store.DeleteSquad(ctx, channelID); err != nil {
		r.logger.Warn("forget squad failed", zap.String("channel_id", channelID), zap.Error(err))
	}
	return rec, ok
}

func (r *Registry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.records))
	for id := range r.records {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// stored returns the persisted records, used to rehydrate on startup.
func (r *Registry) stored() []storage.SquadRecord {
	return r.store.Squads()
}
