package registry

import (
	"fmt"

	"github.com/federated-storage/registry/internal/models"
)

// Apply replays a journaled event without calling the ledger or notifying.
// Events must arrive in sequence order starting right after Seq().
func (r *Registry) Apply(ev models.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ev.Seq != r.seq+1 {
		return fmt.Errorf("%w: got %d, want %d", ErrOutOfOrder, ev.Seq, r.seq+1)
	}

	switch ev.Kind {
	case models.EventFileCreated:
		if ev.FileID != r.lastID+1 {
			return fmt.Errorf("%w: file id %d after %d", ErrOutOfOrder, ev.FileID, r.lastID)
		}
		r.lastID = ev.FileID
		r.files[ev.FileID] = &models.FileRecord{
			ID:          ev.FileID,
			ContentRef:  ev.ContentRef,
			Title:       ev.Title,
			Description: ev.Desc,
			Category:    ev.Category,
			Tags:        []string{},
			Uploader:    ev.Actor,
			CreatedAt:   ev.Timestamp,
		}
		r.byUploader[ev.Actor] = append(r.byUploader[ev.Actor], ev.FileID)

	case models.EventTagAdded:
		rec, err := r.lookup(ev.FileID)
		if err != nil {
			return err
		}
		rec.Tags = append(rec.Tags, ev.Tag)

	case models.EventMetadataUpdated:
		rec, err := r.lookup(ev.FileID)
		if err != nil {
			return err
		}
		rec.Title = ev.Title
		rec.Description = ev.Desc
		rec.Category = ev.Category

	case models.EventTipRecorded:
		rec, err := r.lookup(ev.FileID)
		if err != nil {
			return err
		}
		rec.TotalTips = ev.Total

	case models.EventRatingRecorded:
		rec, err := r.lookup(ev.FileID)
		if err != nil {
			return err
		}
		rec.AverageRating = ev.Average
		rec.RatingCount = ev.Count

	case models.EventCommentAdded:
		if _, err := r.lookup(ev.FileID); err != nil {
			return err
		}
		r.comments[ev.FileID] = append(r.comments[ev.FileID], models.Comment{
			FileID:    ev.FileID,
			Author:    ev.Actor,
			Content:   ev.Text,
			Timestamp: ev.Timestamp,
		})

	case models.EventRewardAccrued:
		r.pending[ev.Recipient] = ev.Total

	case models.EventRewardClaimed:
		delete(r.pending, ev.Actor)

	case models.EventTokenLedgerChanged:
		if r.resolver != nil {
			l, err := r.resolver.Resolve(ev.TokenRef)
			if err != nil {
				return fmt.Errorf("failed to resolve token %q: %w", ev.TokenRef, err)
			}
			r.ledger = l
		}
		r.tokenRef = ev.TokenRef

	case models.EventOwnershipChanged:
		if t, ok := r.auth.(OwnershipTransferer); ok {
			t.SetOwner(ev.Recipient)
		}

	case models.EventTreasuryWithdrawn:
		// no registry state

	default:
		return fmt.Errorf("unknown event kind %q", ev.Kind)
	}

	r.seq = ev.Seq
	return nil
}
