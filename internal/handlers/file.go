package handlers

import (
	"io"
	"net/http"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/federated-storage/registry/internal/middleware"
	"github.com/federated-storage/registry/internal/registry"
	"github.com/federated-storage/registry/internal/services"
)

// FileHandler handles file record requests
type FileHandler struct {
	registry *registry.Registry
	content  *services.ContentService
}

// NewFileHandler creates a new file handler
func NewFileHandler(reg *registry.Registry, content *services.ContentService) *FileHandler {
	return &FileHandler{registry: reg, content: content}
}

// UploadFileRequest registers a file whose content is already addressed
type UploadFileRequest struct {
	ContentRef  string   `json:"content_ref" binding:"required"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	Tags        []string `json:"tags"`
}

// UpdateFileRequest replaces a file's mutable metadata
type UpdateFileRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

// Upload registers a file. A multipart body is stored in the content store
// first; a JSON body must carry an existing content reference.
func (h *FileHandler) Upload(c *gin.Context) {
	var req UploadFileRequest

	if strings.HasPrefix(c.ContentType(), "multipart/") {
		// reject before the blob is stored and announced
		if c.PostForm("title") == "" {
			respondError(c, registry.ErrMissingTitle)
			return
		}
		ref, ok := h.storeMultipart(c)
		if !ok {
			return
		}
		req = UploadFileRequest{
			ContentRef:  ref,
			Title:       c.PostForm("title"),
			Description: c.PostForm("description"),
			Category:    c.PostForm("category"),
			Tags:        c.PostFormArray("tags"),
		}
	} else if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id, err := h.registry.Upload(registry.UploadRequest{
		ContentRef:  req.ContentRef,
		Title:       req.Title,
		Description: req.Description,
		Category:    req.Category,
		Tags:        req.Tags,
		Uploader:    middleware.GetIdentity(c),
	})
	if err != nil {
		respondError(c, err)
		return
	}

	rec, err := h.registry.Get(id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

func (h *FileHandler) storeMultipart(c *gin.Context) (string, bool) {
	if h.content == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "content store disabled"})
		return "", false
	}

	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing file"})
		return "", false
	}
	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read file"})
		return "", false
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read file"})
		return "", false
	}

	ref, err := h.content.Put(c.Request.Context(), data)
	if err != nil {
		respondError(c, err)
		return "", false
	}
	return ref, true
}

// Update replaces title, description and category
func (h *FileHandler) Update(c *gin.Context) {
	id, ok := fileID(c)
	if !ok {
		return
	}

	var req UpdateFileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := h.registry.UpdateMetadata(id, registry.MetadataUpdate{
		Title:       req.Title,
		Description: req.Description,
		Category:    req.Category,
	}, middleware.GetIdentity(c))
	if err != nil {
		respondError(c, err)
		return
	}

	rec, err := h.registry.Get(id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// Get returns one file record
func (h *FileHandler) Get(c *gin.Context) {
	id, ok := fileID(c)
	if !ok {
		return
	}

	rec, err := h.registry.Get(id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// List returns file records in id order, optionally filtered by category or tag
func (h *FileHandler) List(c *gin.Context) {
	category := c.Query("category")
	tag := c.Query("tag")

	all := h.registry.ListAll()
	files := all[:0]
	for _, rec := range all {
		if category != "" && rec.Category != category {
			continue
		}
		if tag != "" && !slices.Contains(rec.Tags, tag) {
			continue
		}
		files = append(files, rec)
	}

	offset, limit := page(c)
	c.JSON(http.StatusOK, gin.H{
		"files": paginate(files, offset, limit),
		"total": len(files),
	})
}

// ListByUploader returns the ids of every file uploaded by :address
func (h *FileHandler) ListByUploader(c *gin.Context) {
	ids := h.registry.ListByUploader(c.Param("address"))
	c.JSON(http.StatusOK, gin.H{"file_ids": ids})
}

// Content streams a blob by reference
func (h *FileHandler) Content(c *gin.Context) {
	if h.content == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "content store disabled"})
		return
	}

	data, err := h.content.Get(c.Request.Context(), c.Param("ref"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.Header("Cache-Control", "public, max-age=31536000, immutable")
	c.Data(http.StatusOK, "application/octet-stream", data)
}
