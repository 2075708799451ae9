package admin

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/JoeLogavina/METENZI-B2B-sub007/internal/storage"
	"github.com/JoeLogavina/METENZI-B2B-sub007/internal/validation"
)

// resourceParams validates the :type/:id route pair and returns the storage
// path. A false return means a response has already been written.
func resourceParams(c *gin.Context) (string, bool) {
	resourceType := c.Param("type")
	resourceID := c.Param("id")
	if err := validation.ValidateResourceType(resourceType); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return "", false
	}
	if err := validation.ValidateResourceID(resourceID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return "", false
	}
	return validation.ResourcePath(resourceType, resourceID), true
}

// @Summary      Upload a protected resource
// @Description  Streams the request body into the resource store. When an X-Content-SHA256 header is present, the upload is rejected unless the stored checksum matches.
// @Tags         Admin
// @Accept       octet-stream
// @Produce      json
// @Param        type  path  string  true  "Resource type (installer or document)"
// @Param        id    path  string  true  "Resource ID"
// @Success      201  {object}  map[string]interface{}  "path, size, checksum"
// @Failure      400  {object}  map[string]interface{}  "Invalid identifier or checksum mismatch"
// @Router       /v1/admin/resources/{type}/{id} [put]
// UploadResourceHandler handles resource uploads
func UploadResourceHandler(store storage.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		path, ok := resourceParams(c)
		if !ok {
			return
		}

		result, err := store.Put(c.Request.Context(), path, c.Request.Body, c.Request.ContentLength)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Resource store temporarily unavailable"})
			return
		}

		if expected := c.GetHeader("X-Content-SHA256"); expected != "" {
			if !strings.EqualFold(expected, result.Checksum) {
				// The corrupt object must not stay retrievable.
				if delErr := store.Delete(c.Request.Context(), path); delErr != nil {
					c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Checksum mismatch and cleanup failed"})
					return
				}
				c.JSON(http.StatusBadRequest, gin.H{
					"error":    "Checksum mismatch",
					"expected": expected,
					"actual":   result.Checksum,
				})
				return
			}
		}

		c.JSON(http.StatusCreated, gin.H{
			"path":     result.Path,
			"size":     result.Size,
			"checksum": result.Checksum,
		})
	}
}

// @Summary      Get resource metadata
// @Description  Returns size, checksum, and last-modified time for a stored resource.
// @Tags         Admin
// @Produce      json
// @Param        type  path  string  true  "Resource type"
// @Param        id    path  string  true  "Resource ID"
// @Success      200  {object}  map[string]interface{}  "path, size, checksum, last_modified"
// @Failure      404  {object}  map[string]interface{}  "Resource not found"
// @Router       /v1/admin/resources/{type}/{id} [get]
// ResourceMetadataHandler handles resource metadata queries
func ResourceMetadataHandler(store storage.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		path, ok := resourceParams(c)
		if !ok {
			return
		}

		info, err := store.Metadata(c.Request.Context(), path)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "Resource not found"})
				return
			}
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Resource store temporarily unavailable"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"path":          info.Path,
			"size":          info.Size,
			"checksum":      info.Checksum,
			"last_modified": info.LastModified,
		})
	}
}

// @Summary      Delete a protected resource
// @Description  Removes the resource from the store. Deleting a missing resource is a no-op success. Outstanding tokens for the resource will fail at retrieval.
// @Tags         Admin
// @Produce      json
// @Param        type  path  string  true  "Resource type"
// @Param        id    path  string  true  "Resource ID"
// @Success      200  {object}  map[string]interface{}  "deleted: true"
// @Router       /v1/admin/resources/{type}/{id} [delete]
// DeleteResourceHandler handles resource deletion
func DeleteResourceHandler(store storage.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		path, ok := resourceParams(c)
		if !ok {
			return
		}

		if err := store.Delete(c.Request.Context(), path); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Resource store temporarily unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"deleted": true})
	}
}
