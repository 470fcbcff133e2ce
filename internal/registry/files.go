package registry

import (
	"github.com/federated-storage/registry/internal/models"
)

// UploadRequest describes a new file record
type UploadRequest struct {
	ContentRef  string
	Title       string
	Description string
	Category    string
	Tags        []string
	Uploader    string
}

// MetadataUpdate holds the mutable fields of a file record
type MetadataUpdate struct {
	Title       string
	Description string
	Category    string
}

// Upload registers a new file and returns its id. Ids start at 1 and a
// rejected upload never consumes one.
func (r *Registry) Upload(req UploadRequest) (uint64, error) {
	if len(req.ContentRef) <= r.minRefLength {
		return 0, ErrInvalidReference
	}
	if req.Title == "" {
		return 0, ErrMissingTitle
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.lastID++
	rec := &models.FileRecord{
		ID:          r.lastID,
		ContentRef:  req.ContentRef,
		Title:       req.Title,
		Description: req.Description,
		Category:    req.Category,
		Tags:        make([]string, 0, len(req.Tags)),
		Uploader:    req.Uploader,
		CreatedAt:   r.now(),
	}
	r.files[rec.ID] = rec
	r.byUploader[rec.Uploader] = append(r.byUploader[rec.Uploader], rec.ID)

	r.emit(models.Event{
		Kind:       models.EventFileCreated,
		FileID:     rec.ID,
		Actor:      rec.Uploader,
		ContentRef: rec.ContentRef,
		Title:      rec.Title,
		Desc:       rec.Description,
		Category:   rec.Category,
		Timestamp:  rec.CreatedAt,
	})
	for _, tag := range req.Tags {
		rec.Tags = append(rec.Tags, tag)
		r.emit(models.Event{
			Kind:   models.EventTagAdded,
			FileID: rec.ID,
			Tag:    tag,
		})
	}

	return rec.ID, nil
}

// UpdateMetadata overwrites title, description and category. Only the
// uploader may do this.
func (r *Registry) UpdateMetadata(fileID uint64, upd MetadataUpdate, caller string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.lookup(fileID)
	if err != nil {
		return err
	}
	if caller != rec.Uploader {
		return ErrUnauthorized
	}

	rec.Title = upd.Title
	rec.Description = upd.Description
	rec.Category = upd.Category

	r.emit(models.Event{
		Kind:     models.EventMetadataUpdated,
		FileID:   rec.ID,
		Actor:    caller,
		Title:    rec.Title,
		Desc:     rec.Description,
		Category: rec.Category,
	})
	return nil
}

// Get returns a copy of the file record
func (r *Registry) Get(fileID uint64) (models.FileRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, err := r.lookup(fileID)
	if err != nil {
		return models.FileRecord{}, err
	}
	return rec.Clone(), nil
}

// ListByUploader returns the ids uploaded by uploader in upload order
func (r *Registry) ListByUploader(uploader string) []uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.byUploader[uploader]
	out := make([]uint64, len(ids))
	copy(out, ids)
	return out
}

// ListAll returns every record in id order
func (r *Registry) ListAll() []models.FileRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.FileRecord, 0, r.lastID)
	for id := uint64(1); id <= r.lastID; id++ {
		if rec, ok := r.files[id]; ok {
			out = append(out, rec.Clone())
		}
	}
	return out
}

// Count returns the number of registered files
func (r *Registry) Count() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastID
}
