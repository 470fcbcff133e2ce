package registry

import (
	"github.com/federated-storage/registry/internal/models"
)

// AddComment appends a comment to the file's log. Comments are never
// edited or removed.
func (r *Registry) AddComment(fileID uint64, author, content string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.lookup(fileID); err != nil {
		return err
	}
	if content == "" {
		return ErrEmptyComment
	}

	c := models.Comment{
		FileID:    fileID,
		Author:    author,
		Content:   content,
		Timestamp: r.now(),
	}
	r.comments[fileID] = append(r.comments[fileID], c)

	r.emit(models.Event{
		Kind:      models.EventCommentAdded,
		FileID:    fileID,
		Actor:     author,
		Text:      content,
		Timestamp: c.Timestamp,
	})
	return nil
}

// ListComments returns the file's comments in the order they were added
func (r *Registry) ListComments(fileID uint64) ([]models.Comment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, err := r.lookup(fileID); err != nil {
		return nil, err
	}
	log := r.comments[fileID]
	out := make([]models.Comment, len(log))
	copy(out, log)
	return out, nil
}
