package server

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Muizzyranking/shopifyte-api/internal/models"
)

// ownerHeader carries the authenticated principal's id. Authentication
// itself is handled upstream; this adapter trusts the header.
const ownerHeader = "X-Owner-ID"

const (
	originalCacheControl  = "public, max-age=31536000, immutable"
	transformCacheControl = "public, max-age=604800, stale-while-revalidate=86400"
)

func (s *Server) handleUpload(c *gin.Context) {
	file, err := c.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing image file"})
		return
	}
	if file.Size > s.cfg.MaxUploadBytes {
		s.abortWithError(c, models.ErrPayloadTooLarge)
		return
	}

	src, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable upload"})
		return
	}
	defer src.Close()
	data, err := io.ReadAll(src)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable upload"})
		return
	}

	rec, err := s.pipeline.Upload(c.Request.Context(), models.UploadParams{
		OwnerID:     ownerID(c),
		Data:        data,
		SizeHint:    file.Size,
		Category:    models.ParseCategory(c.PostForm("category")),
		AltText:     c.PostForm("alt_text"),
		Title:       c.PostForm("title"),
		Description: c.PostForm("description"),
	})
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) handleList(c *gin.Context) {
	owner := ownerID(c)
	if owner == uuid.Nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing owner id"})
		return
	}
	records, err := s.pipeline.ListByOwner(c.Request.Context(), owner)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	if records == nil {
		records = []models.ImageRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"images": records})
}

func (s *Server) handleGetMetadata(c *gin.Context) {
	id, ok := imageID(c)
	if !ok {
		return
	}
	rec, err := s.pipeline.GetMetadata(c.Request.Context(), id)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) handleUpdateMetadata(c *gin.Context) {
	id, ok := imageID(c)
	if !ok {
		return
	}

	var body struct {
		AltText     *string `json:"alt_text"`
		Title       *string `json:"title"`
		Description *string `json:"description"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}

	rec, err := s.pipeline.UpdateMetadata(c.Request.Context(), id, models.MetadataUpdate{
		AltText:     body.AltText,
		Title:       body.Title,
		Description: body.Description,
	})
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) handleDelete(c *gin.Context) {
	id, ok := imageID(c)
	if !ok {
		return
	}
	if err := s.pipeline.Delete(c.Request.Context(), id, ownerID(c)); err != nil {
		s.abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleServe(c *gin.Context) {
	id, ok := imageID(c)
	if !ok {
		return
	}

	params, err := transformParams(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := s.pipeline.Serve(c.Request.Context(), id, params)
	if err != nil {
		s.abortWithError(c, err)
		return
	}

	// ETag and Cache-Control derive purely from the fingerprint and the
	// transform key, so every instance emits identical headers for the
	// same content.
	etag := result.Fingerprint
	cacheControl := originalCacheControl
	if result.TransformKey != "" {
		sum := md5.Sum([]byte(result.Fingerprint + "_" + result.TransformKey))
		etag = hex.EncodeToString(sum[:])
		cacheControl = transformCacheControl
	}

	// A 304 must carry the same ETag and Cache-Control as the 200 it
	// stands in for, so set them before the conditional check.
	c.Header("ETag", `"`+etag+`"`)
	c.Header("Cache-Control", cacheControl)

	if match := c.GetHeader("If-None-Match"); match == `"`+etag+`"` {
		c.Status(http.StatusNotModified)
		return
	}

	c.Data(http.StatusOK, result.MimeType, result.Data)
}

func imageID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid image id"})
		return uuid.Nil, false
	}
	return id, true
}

func ownerID(c *gin.Context) uuid.UUID {
	id, err := uuid.Parse(c.GetHeader(ownerHeader))
	if err != nil {
		return uuid.Nil
	}
	return id
}

func transformParams(c *gin.Context) (*models.TransformParams, error) {
	var params models.TransformParams
	var set bool

	for _, q := range []struct {
		name string
		dst  *int
	}{
		{"width", &params.Width},
		{"height", &params.Height},
		{"quality", &params.Quality},
	} {
		raw := c.Query(q.name)
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			return nil, fmt.Errorf("invalid %s parameter", q.name)
		}
		*q.dst = v
		set = true
	}

	if raw := c.Query("format"); raw != "" {
		format, ok := models.ParseFormat(raw)
		if !ok {
			return nil, fmt.Errorf("unsupported format %q", raw)
		}
		params.Format = format
		set = true
	}

	if !set {
		return nil, nil
	}
	return &params, nil
}
