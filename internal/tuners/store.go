package tuners

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"strings"

	"github.com/MarcoPoloResearchLab/tunerboard/internal/kv"
	"go.uber.org/zap"
)

const (
	tunerKeyPrefix     = "tuners/"
	urlIndexKeyPrefix  = "tuners_by_url/"
	userLikesKeyPrefix = "user_likes/"

	scanBatchSize = 100
)

func tunerKey(id string) string {
	return tunerKeyPrefix + id
}

func urlIndexKey(url string) string {
	return urlIndexKeyPrefix + url
}

func userLikesKey(userID string) string {
	return userLikesKeyPrefix + userID
}

// NormalizeURL returns the canonical form used for uniqueness and index lookups.
func NormalizeURL(raw string) string {
	return strings.TrimSpace(raw)
}

// RecordStoreConfig describes the dependencies of a RecordStore.
type RecordStoreConfig struct {
	Store      kv.Store
	IDProvider IDProvider
	Logger     *zap.Logger
}

// RecordStore persists tuners, the url index and per-user like-sets in three
// key namespaces of an ordered key-value store.
type RecordStore struct {
	kv     kv.Store
	ids    IDProvider
	logger *zap.Logger
}

// NewRecordStore constructs a RecordStore.
func NewRecordStore(cfg RecordStoreConfig) (*RecordStore, error) {
	if cfg.Store == nil {
		return nil, newServiceError(opServiceNew, "missing_store", errMissingStore)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &RecordStore{kv: cfg.Store, ids: cfg.IDProvider, logger: logger}, nil
}

// Get returns the tuner with the provided id.
func (s *RecordStore) Get(ctx context.Context, id string) (Tuner, error) {
	tuner, _, err := s.getVersioned(ctx, opGet, id)
	return tuner, err
}

func (s *RecordStore) getVersioned(ctx context.Context, operation, id string) (Tuner, int64, error) {
	if strings.TrimSpace(id) == "" {
		return Tuner{}, 0, newServiceError(operation, "not_found", ErrNotFound)
	}
	entry, err := s.kv.Get(ctx, tunerKey(id))
	if errors.Is(err, kv.ErrNotFound) {
		return Tuner{}, 0, newServiceError(operation, "not_found", fmt.Errorf("%w: tuner %s", ErrNotFound, id))
	}
	if err != nil {
		return Tuner{}, 0, newServiceError(operation, "store_read_failed", err)
	}
	tuner, err := decodeTuner(entry.Value)
	if err != nil {
		return Tuner{}, 0, newServiceError(operation, "decode_failed", err)
	}
	return tuner, entry.Version, nil
}

// All lazily scans every tuner in store order. Undecodable entries are logged and skipped.
func (s *RecordStore) All(ctx context.Context) iter.Seq2[Tuner, error] {
	return func(yield func(Tuner, error) bool) {
		cursor := ""
		for {
			batch, next, err := s.Page(ctx, cursor, scanBatchSize)
			if err != nil {
				yield(Tuner{}, err)
				return
			}
			for _, tuner := range batch {
				if !yield(tuner, nil) {
					return
				}
			}
			if next == "" {
				return
			}
			cursor = next
		}
	}
}

// Page returns up to limit tuners following cursor, plus the store cursor for
// the next call. The returned cursor is empty once the store is exhausted.
func (s *RecordStore) Page(ctx context.Context, cursor string, limit int) ([]Tuner, string, error) {
	page, err := s.kv.List(ctx, kv.ListOptions{Prefix: tunerKeyPrefix, Cursor: cursor, Limit: limit})
	if errors.Is(err, kv.ErrInvalidCursor) {
		return nil, "", validationError(opScan, "invalid_cursor", err.Error())
	}
	if err != nil {
		return nil, "", newServiceError(opScan, "store_list_failed", err)
	}
	tuners := make([]Tuner, 0, len(page.Entries))
	for _, entry := range page.Entries {
		tuner, err := decodeTuner(entry.Value)
		if err != nil {
			s.logger.Warn("skipping undecodable tuner", zap.String("key", entry.Key), zap.Error(err))
			continue
		}
		tuners = append(tuners, tuner)
	}
	return tuners, page.Cursor, nil
}

// Create persists a new tuner together with its url index entry. A url that is
// already indexed is rejected with ErrValidation.
func (s *RecordStore) Create(ctx context.Context, draft TunerDraft) (Tuner, error) {
	url := NormalizeURL(draft.URL)
	if url == "" {
		return Tuner{}, validationError(opCreate, "missing_url", "url is required")
	}
	id, err := s.ids.NewID()
	if err != nil {
		return Tuner{}, newServiceError(opCreate, "id_generation_failed", err)
	}
	tuner := Tuner{
		ID:       id,
		AuthorID: draft.AuthorID,
		Prompt:   draft.Prompt,
		URL:      url,
		Size:     draft.Size,
		Comments: []Comment{},
		Likes:    0,
	}
	value, err := encodeTuner(tuner)
	if err != nil {
		return Tuner{}, newServiceError(opCreate, "encode_failed", err)
	}

	var batch kv.Batch
	batch.Check(urlIndexKey(url), 0).
		Check(tunerKey(id), 0).
		Set(tunerKey(id), value).
		Set(urlIndexKey(url), []byte(id))
	err = s.kv.Commit(ctx, batch)
	if errors.Is(err, kv.ErrConflict) {
		return Tuner{}, validationError(opCreate, "duplicate_url", "a tuner with this url already exists")
	}
	if err != nil {
		return Tuner{}, newServiceError(opCreate, "commit_failed", err)
	}
	return tuner, nil
}

// Update applies patch to an existing tuner. When the url changes, the old
// index entry is removed and the new one written in the same commit as the
// record; if any part cannot be applied nothing is changed.
func (s *RecordStore) Update(ctx context.Context, id string, patch TunerPatch) (Tuner, error) {
	current, version, err := s.getVersioned(ctx, opUpdate, id)
	if err != nil {
		return Tuner{}, err
	}

	updated := current
	if patch.Prompt != nil {
		updated.Prompt = *patch.Prompt
	}
	if patch.Size != nil {
		updated.Size = *patch.Size
	}
	if patch.URL != nil {
		updated.URL = NormalizeURL(*patch.URL)
		if updated.URL == "" {
			return Tuner{}, validationError(opUpdate, "missing_url", "url is required")
		}
	}

	value, err := encodeTuner(updated)
	if err != nil {
		return Tuner{}, newServiceError(opUpdate, "encode_failed", err)
	}

	var batch kv.Batch
	batch.Check(tunerKey(id), version)
	urlChanged := updated.URL != current.URL
	if urlChanged {
		newIndex, err := s.kv.Get(ctx, urlIndexKey(updated.URL))
		switch {
		case err == nil && string(newIndex.Value) != id:
			return Tuner{}, validationError(opUpdate, "duplicate_url", "a tuner with this url already exists")
		case err == nil:
			batch.Check(urlIndexKey(updated.URL), newIndex.Version)
		case errors.Is(err, kv.ErrNotFound):
			batch.Check(urlIndexKey(updated.URL), 0)
		default:
			return Tuner{}, newServiceError(opUpdate, "index_read_failed", err)
		}

		oldIndex, err := s.kv.Get(ctx, urlIndexKey(current.URL))
		switch {
		case err == nil && string(oldIndex.Value) == id:
			batch.Check(urlIndexKey(current.URL), oldIndex.Version).Delete(urlIndexKey(current.URL))
		case err == nil, errors.Is(err, kv.ErrNotFound):
			// the old url belongs to nobody or to another record; leave it alone
		default:
			return Tuner{}, newServiceError(opUpdate, "index_read_failed", err)
		}
		batch.Set(urlIndexKey(updated.URL), []byte(id))
	}
	batch.Set(tunerKey(id), value)

	if err := s.kv.Commit(ctx, batch); err != nil {
		s.logger.Warn("tuner update rejected",
			zap.String("tuner_id", id),
			zap.Bool("url_changed", urlChanged),
			zap.Error(err))
		switch {
		case urlChanged:
			return Tuner{}, newServiceError(opUpdate, "index_update_failed", fmt.Errorf("%w: %v", ErrIndexUpdateFailed, err))
		case errors.Is(err, kv.ErrConflict):
			return Tuner{}, newServiceError(opUpdate, "conflict", fmt.Errorf("%w: %v", ErrConflict, err))
		default:
			return Tuner{}, newServiceError(opUpdate, "commit_failed", err)
		}
	}
	return updated, nil
}

// Delete removes the tuner and, when it still points at this tuner, its url index entry in one commit.
func (s *RecordStore) Delete(ctx context.Context, id, url string) error {
	_, version, err := s.getVersioned(ctx, opDelete, id)
	if err != nil {
		return err
	}

	var batch kv.Batch
	batch.Check(tunerKey(id), version).Delete(tunerKey(id))
	if normalized := NormalizeURL(url); normalized != "" {
		index, err := s.kv.Get(ctx, urlIndexKey(normalized))
		switch {
		case err == nil && string(index.Value) == id:
			batch.Check(urlIndexKey(normalized), index.Version).Delete(urlIndexKey(normalized))
		case err == nil, errors.Is(err, kv.ErrNotFound):
		default:
			return newServiceError(opDelete, "index_read_failed", err)
		}
	}

	if err := s.kv.Commit(ctx, batch); err != nil {
		if errors.Is(err, kv.ErrConflict) {
			return newServiceError(opDelete, "index_update_failed", fmt.Errorf("%w: %v", ErrIndexUpdateFailed, err))
		}
		return newServiceError(opDelete, "commit_failed", err)
	}
	return nil
}

// FindByURL resolves a tuner through the url index.
func (s *RecordStore) FindByURL(ctx context.Context, url string) (Tuner, error) {
	normalized := NormalizeURL(url)
	if normalized == "" {
		return Tuner{}, newServiceError(opFindByURL, "not_found", ErrNotFound)
	}
	entry, err := s.kv.Get(ctx, urlIndexKey(normalized))
	if errors.Is(err, kv.ErrNotFound) {
		return Tuner{}, newServiceError(opFindByURL, "not_found", fmt.Errorf("%w: url %s", ErrNotFound, normalized))
	}
	if err != nil {
		return Tuner{}, newServiceError(opFindByURL, "index_read_failed", err)
	}
	tuner, _, err := s.getVersioned(ctx, opFindByURL, string(entry.Value))
	if err != nil {
		return Tuner{}, err
	}
	if tuner.URL != normalized {
		s.logger.Warn("stale url index entry", zap.String("url", normalized), zap.String("tuner_id", tuner.ID))
		return Tuner{}, newServiceError(opFindByURL, "not_found", fmt.Errorf("%w: url %s", ErrNotFound, normalized))
	}
	return tuner, nil
}

// UserLikes returns the set of tuner ids liked by userID.
func (s *RecordStore) UserLikes(ctx context.Context, userID string) (IDSet, error) {
	likes, _, err := s.userLikesVersioned(ctx, opUserLikes, userID)
	return likes, err
}

func (s *RecordStore) userLikesVersioned(ctx context.Context, operation, userID string) (IDSet, int64, error) {
	if strings.TrimSpace(userID) == "" {
		return NewIDSet(), 0, nil
	}
	entry, err := s.kv.Get(ctx, userLikesKey(userID))
	if errors.Is(err, kv.ErrNotFound) {
		return NewIDSet(), 0, nil
	}
	if err != nil {
		return nil, 0, newServiceError(operation, "store_read_failed", err)
	}
	var ids []string
	if err := json.Unmarshal(entry.Value, &ids); err != nil {
		s.logger.Error("user likes are not a list of ids",
			zap.String("user_id", userID),
			zap.Error(err))
		return NewIDSet(), entry.Version, nil
	}
	return NewIDSet(ids...), entry.Version, nil
}

// SetUserLikes replaces the like-set of userID.
func (s *RecordStore) SetUserLikes(ctx context.Context, userID string, likes IDSet) error {
	if strings.TrimSpace(userID) == "" {
		return newServiceError(opSetUserLikes, "missing_user_id", ErrUnauthorized)
	}
	value, err := encodeIDs(likes)
	if err != nil {
		return newServiceError(opSetUserLikes, "encode_failed", err)
	}
	if err := kv.Set(ctx, s.kv, userLikesKey(userID), value); err != nil {
		return newServiceError(opSetUserLikes, "commit_failed", err)
	}
	return nil
}

func encodeIDs(ids IDSet) ([]byte, error) {
	return json.Marshal(ids.Sorted())
}

func encodeTuner(tuner Tuner) ([]byte, error) {
	if tuner.Comments == nil {
		tuner.Comments = []Comment{}
	}
	return json.Marshal(tuner)
}

func decodeTuner(value []byte) (Tuner, error) {
	var tuner Tuner
	if err := json.Unmarshal(value, &tuner); err != nil {
		return Tuner{}, err
	}
	if tuner.ID == "" {
		return Tuner{}, errors.New("tuner record missing id")
	}
	if tuner.Comments == nil {
		tuner.Comments = []Comment{}
	}
	if tuner.Likes < 0 {
		tuner.Likes = 0
	}
	return tuner, nil
}
