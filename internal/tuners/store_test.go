package tuners

import (
	"context"
	"errors"
	"testing"

	"github.com/MarcoPoloResearchLab/tunerboard/internal/kv"
)

func TestRecordStoreCreateIndexesURL(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	created := mustCreate(t, service, TunerDraft{Prompt: "a cat", URL: "  " + testURL(1) + " "})
	if created.ID == "" || created.Likes != 0 || len(created.Comments) != 0 {
		t.Fatalf("unexpected created tuner %+v", created)
	}
	if created.URL != testURL(1) {
		t.Fatalf("expected normalized url, got %q", created.URL)
	}

	found, err := service.Records().FindByURL(ctx, testURL(1))
	if err != nil {
		t.Fatalf("find by url failed: %v", err)
	}
	if found.ID != created.ID {
		t.Fatalf("expected %s, got %s", created.ID, found.ID)
	}
}

func TestRecordStoreCreateRejectsDuplicateURL(t *testing.T) {
	service := newTestService(t)
	mustCreate(t, service, TunerDraft{Prompt: "first", URL: testURL(1)})

	_, err := service.Records().Create(context.Background(), TunerDraft{AuthorID: testOtherID, Prompt: "second", URL: testURL(1), Size: Size32})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	count, err := service.Count(context.Background(), FilterSpec{})
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("duplicate create must not write, found %d tuners", count)
	}
}

func TestRecordStoreUpdateMovesURLIndex(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()
	created := mustCreate(t, service, TunerDraft{Prompt: "a cat", URL: testURL(1)})

	updated, err := service.Records().Update(ctx, created.ID, TunerPatch{URL: pointer(testURL(2)), Prompt: pointer("a dog")})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if updated.URL != testURL(2) || updated.Prompt != "a dog" || updated.AuthorID != testAuthorID {
		t.Fatalf("unexpected updated tuner %+v", updated)
	}

	found, err := service.Records().FindByURL(ctx, testURL(2))
	if err != nil {
		t.Fatalf("new url should resolve: %v", err)
	}
	if found.ID != created.ID || found.Prompt != "a dog" {
		t.Fatalf("unexpected tuner for new url %+v", found)
	}
	if _, err := service.Records().FindByURL(ctx, testURL(1)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("old url should be gone, got %v", err)
	}
}

func TestRecordStoreUpdateRejectsURLOfAnotherTuner(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()
	first := mustCreate(t, service, TunerDraft{Prompt: "first", URL: testURL(1)})
	mustCreate(t, service, TunerDraft{Prompt: "second", URL: testURL(2)})

	_, err := service.Records().Update(ctx, first.ID, TunerPatch{URL: pointer(testURL(2))})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	found, err := service.Records().FindByURL(ctx, testURL(1))
	if err != nil || found.ID != first.ID {
		t.Fatalf("first tuner should keep its url, got %+v, %v", found, err)
	}
}

func TestRecordStoreUpdateMissingTuner(t *testing.T) {
	service := newTestService(t)
	_, err := service.Records().Update(context.Background(), "missing", TunerPatch{Prompt: pointer("x")})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRecordStoreUpdateIndexFailureLeavesRecordUnchanged(t *testing.T) {
	base := newTestKV(t)
	interceptor := &commitInterceptor{Store: base}
	service := newTestServiceWithStore(t, interceptor)
	ctx := context.Background()
	created := mustCreate(t, service, TunerDraft{Prompt: "a cat", URL: testURL(1)})

	// another writer claims the new url between the index read and the commit
	interceptor.beforeCommit = func(ctx context.Context, batch kv.Batch) error {
		interceptor.beforeCommit = nil
		return kv.Set(ctx, base, urlIndexKey(testURL(2)), []byte("someone-else"))
	}

	_, err := service.Records().Update(ctx, created.ID, TunerPatch{URL: pointer(testURL(2)), Prompt: pointer("changed")})
	if !errors.Is(err, ErrIndexUpdateFailed) {
		t.Fatalf("expected index update failure, got %v", err)
	}
	var serviceErr *ServiceError
	if !errors.As(err, &serviceErr) || serviceErr.Code() != "tuners.update.index_update_failed" {
		t.Fatalf("unexpected error code: %v", err)
	}

	stored, err := service.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if stored.URL != testURL(1) || stored.Prompt != "a cat" {
		t.Fatalf("record must be unchanged, got %+v", stored)
	}
	found, err := service.Records().FindByURL(ctx, testURL(1))
	if err != nil || found.ID != created.ID {
		t.Fatalf("old index entry must survive, got %+v, %v", found, err)
	}
}

func TestRecordStoreDeleteRemovesIndex(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()
	created := mustCreate(t, service, TunerDraft{Prompt: "a cat", URL: testURL(1)})

	if err := service.Records().Delete(ctx, created.ID, created.URL); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := service.Get(ctx, created.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	if _, err := service.Records().FindByURL(ctx, testURL(1)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected url to be released, got %v", err)
	}
	mustCreate(t, service, TunerDraft{Prompt: "again", URL: testURL(1)})
}

func TestRecordStoreUserLikesRoundTrip(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	likes, err := service.Records().UserLikes(ctx, testOtherID)
	if err != nil {
		t.Fatalf("user likes failed: %v", err)
	}
	if len(likes) != 0 {
		t.Fatalf("expected empty like-set, got %v", likes)
	}

	if err := service.Records().SetUserLikes(ctx, testOtherID, NewIDSet("b", "a", "b")); err != nil {
		t.Fatalf("set user likes failed: %v", err)
	}
	likes, err = service.Records().UserLikes(ctx, testOtherID)
	if err != nil {
		t.Fatalf("user likes failed: %v", err)
	}
	if len(likes) != 2 || !likes.Has("a") || !likes.Has("b") {
		t.Fatalf("unexpected like-set %v", likes)
	}

	if err := service.Records().SetUserLikes(ctx, "", NewIDSet("a")); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized for blank user, got %v", err)
	}
}

func TestRecordStoreSkipsCorruptLikeSet(t *testing.T) {
	store := newTestKV(t)
	service := newTestServiceWithStore(t, store)
	ctx := context.Background()
	if err := kv.Set(ctx, store, userLikesKey(testOtherID), []byte(`{"not":"a list"}`)); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	likes, err := service.Records().UserLikes(ctx, testOtherID)
	if err != nil {
		t.Fatalf("corrupt like-set should degrade to empty, got %v", err)
	}
	if len(likes) != 0 {
		t.Fatalf("expected empty like-set, got %v", likes)
	}
}

func TestNewRecordStoreRequiresDependencies(t *testing.T) {
	if _, err := NewRecordStore(RecordStoreConfig{IDProvider: NewUUIDProvider()}); !errors.Is(err, errMissingStore) {
		t.Fatalf("expected missing store error, got %v", err)
	}
	if _, err := NewRecordStore(RecordStoreConfig{Store: newTestKV(t)}); !errors.Is(err, errMissingIDProvider) {
		t.Fatalf("expected missing id provider error, got %v", err)
	}
}
