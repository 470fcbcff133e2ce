package registry

import (
	"github.com/federated-storage/registry/internal/models"
)

// Rate folds rating into the file's running mean and returns the new
// average and count. Only the mean and the count are kept, so the mean is
// truncated at every step:
//
//	avg = (avg*count + rating) / (count + 1)
//
// Rating the same file repeatedly, or rating your own file, is allowed.
func (r *Registry) Rate(fileID uint64, rating int64, rater string) (int64, int64, error) {
	if rating <= 0 || rating > MaxRating {
		return 0, 0, ErrInvalidRating
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.lookup(fileID)
	if err != nil {
		return 0, 0, err
	}

	rec.AverageRating = (rec.AverageRating*rec.RatingCount + rating) / (rec.RatingCount + 1)
	rec.RatingCount++

	r.emit(models.Event{
		Kind:    models.EventRatingRecorded,
		FileID:  rec.ID,
		Actor:   rater,
		Rating:  rating,
		Average: rec.AverageRating,
		Count:   rec.RatingCount,
	})
	return rec.AverageRating, rec.RatingCount, nil
}
