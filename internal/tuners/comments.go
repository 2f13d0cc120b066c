package tuners

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/tunerboard/internal/kv"
	"go.uber.org/zap"
)

// AddComment appends a comment to a tuner and returns the updated tuner. The
// comment receives a fresh id and the current time.
func (s *Service) AddComment(ctx context.Context, recordID string, draft CommentDraft) (Tuner, error) {
	if strings.TrimSpace(draft.UserID) == "" {
		return Tuner{}, newServiceError(opAddComment, "unauthenticated", ErrUnauthorized)
	}
	text := strings.TrimSpace(draft.Text)
	if text == "" {
		return Tuner{}, validationError(opAddComment, "empty_text", "comment text is required")
	}
	commentID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opAddComment, "id_generation_failed", err)
		return Tuner{}, newServiceError(opAddComment, "id_generation_failed", err)
	}
	comment := Comment{
		CommentID: commentID,
		UserID:    draft.UserID,
		Username:  draft.Username,
		AvatarURL: draft.AvatarURL,
		Text:      text,
		Timestamp: s.clock().UTC(),
	}

	return s.mutateRecord(ctx, opAddComment, recordID, func(tuner *Tuner) error {
		tuner.Comments = append(tuner.Comments, comment)
		return nil
	})
}

// DeleteComment removes the comment with commentID, keeping the order of the remaining comments.
func (s *Service) DeleteComment(ctx context.Context, recordID, commentID string) (Tuner, error) {
	return s.mutateRecord(ctx, opDeleteComment, recordID, func(tuner *Tuner) error {
		index := findComment(tuner.Comments, commentID)
		if index < 0 {
			return newServiceError(opDeleteComment, "comment_not_found", fmt.Errorf("%w: comment %s", ErrNotFound, commentID))
		}
		remaining := make([]Comment, 0, len(tuner.Comments)-1)
		remaining = append(remaining, tuner.Comments[:index]...)
		remaining = append(remaining, tuner.Comments[index+1:]...)
		tuner.Comments = remaining
		return nil
	})
}

// PostComment adds a comment authored by user, snapshotting the user's name and avatar.
func (s *Service) PostComment(ctx context.Context, user Identity, recordID, text string) (Tuner, error) {
	if !user.Authenticated() {
		return Tuner{}, newServiceError(opPostComment, "unauthenticated", ErrUnauthorized)
	}
	return s.AddComment(ctx, recordID, CommentDraft{
		UserID:    user.ID,
		Username:  user.Username,
		AvatarURL: user.AvatarURL,
		Text:      text,
	})
}

// RemoveComment deletes a comment when user wrote it or is an admin.
func (s *Service) RemoveComment(ctx context.Context, user Identity, recordID, commentID string) (Tuner, error) {
	if !user.Authenticated() {
		return Tuner{}, newServiceError(opRemoveComment, "unauthenticated", ErrUnauthorized)
	}
	tuner, err := s.records.Get(ctx, recordID)
	if err != nil {
		return Tuner{}, err
	}
	index := findComment(tuner.Comments, commentID)
	if index < 0 {
		return Tuner{}, newServiceError(opRemoveComment, "comment_not_found", fmt.Errorf("%w: comment %s", ErrNotFound, commentID))
	}
	if !CanEditComment(tuner.Comments[index], user) {
		return Tuner{}, newServiceError(opRemoveComment, "forbidden", ErrForbidden)
	}
	return s.DeleteComment(ctx, recordID, commentID)
}

// mutateRecord applies change to the stored tuner and writes it back guarded by
// the version it was read at, retrying on conflicting writers.
func (s *Service) mutateRecord(ctx context.Context, operation, recordID string, change func(*Tuner) error) (Tuner, error) {
	for attempt := 1; attempt <= maxCommitAttempts; attempt++ {
		tuner, version, err := s.records.getVersioned(ctx, operation, recordID)
		if err != nil {
			return Tuner{}, err
		}
		if err := change(&tuner); err != nil {
			return Tuner{}, err
		}
		value, err := encodeTuner(tuner)
		if err != nil {
			return Tuner{}, newServiceError(operation, "encode_failed", err)
		}

		var batch kv.Batch
		batch.Check(tunerKey(recordID), version).Set(tunerKey(recordID), value)
		err = s.records.kv.Commit(ctx, batch)
		if err == nil {
			return tuner, nil
		}
		if !errors.Is(err, kv.ErrConflict) {
			s.logError(operation, "commit_failed", err, zap.String("tuner_id", recordID))
			return Tuner{}, newServiceError(operation, "commit_failed", err)
		}
	}
	return Tuner{}, newServiceError(operation, "conflict", fmt.Errorf("%w: tuner %s", ErrConflict, recordID))
}

func findComment(comments []Comment, commentID string) int {
	if commentID == "" {
		return -1
	}
	for i, comment := range comments {
		if comment.CommentID == commentID {
			return i
		}
	}
	return -1
}
