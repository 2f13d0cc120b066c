package tuners

import (
	"context"
	"errors"
	"fmt"

	"github.com/MarcoPoloResearchLab/tunerboard/internal/kv"
	"go.uber.org/zap"
)

// ToggleLike records that userID likes (liked=true) or no longer likes a tuner
// and returns the tuner with its updated counter.
//
// The counter and the user's like-set are written in one commit guarded by the
// versions read beforehand, retried a bounded number of times on conflict. The
// counter only moves when the like-set actually changes, so repeating a like or
// an unlike is a no-op.
func (s *Service) ToggleLike(ctx context.Context, recordID, userID string, liked bool) (Tuner, error) {
	if userID == "" {
		return Tuner{}, newServiceError(opToggleLike, "unauthenticated", ErrUnauthorized)
	}

	for attempt := 1; attempt <= maxCommitAttempts; attempt++ {
		tuner, recordVersion, err := s.records.getVersioned(ctx, opToggleLike, recordID)
		if err != nil {
			return Tuner{}, err
		}
		likes, likesVersion, err := s.records.userLikesVersioned(ctx, opToggleLike, userID)
		if err != nil {
			return Tuner{}, err
		}

		changed := false
		if liked {
			changed = likes.Add(recordID)
			if changed {
				tuner.Likes++
			}
		} else {
			changed = likes.Remove(recordID)
			if changed && tuner.Likes > 0 {
				tuner.Likes--
			}
		}
		if !changed {
			return tuner, nil
		}

		record, err := encodeTuner(tuner)
		if err != nil {
			return Tuner{}, newServiceError(opToggleLike, "encode_failed", err)
		}
		likeSet, err := encodeIDs(likes)
		if err != nil {
			return Tuner{}, newServiceError(opToggleLike, "encode_failed", err)
		}

		var batch kv.Batch
		batch.Check(tunerKey(recordID), recordVersion).
			Check(userLikesKey(userID), likesVersion).
			Set(tunerKey(recordID), record).
			Set(userLikesKey(userID), likeSet)
		err = s.records.kv.Commit(ctx, batch)
		if err == nil {
			return tuner, nil
		}
		if !errors.Is(err, kv.ErrConflict) {
			s.logError(opToggleLike, "commit_failed", err,
				zap.String("tuner_id", recordID),
				zap.String("user_id", userID))
			return Tuner{}, newServiceError(opToggleLike, "commit_failed", err)
		}
		s.logger.Debug("like commit conflicted",
			zap.String("tuner_id", recordID),
			zap.String("user_id", userID),
			zap.Int("attempt", attempt))
	}

	return Tuner{}, newServiceError(opToggleLike, "conflict", fmt.Errorf("%w: tuner %s", ErrConflict, recordID))
}
