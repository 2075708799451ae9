// Package validation contains input validation helpers shared by the HTTP
// handlers: resource identifier checks and the storage path layout for
// protected resources.
package validation

import (
	"fmt"
	"path"
	"regexp"

	"github.com/JoeLogavina/METENZI-B2B-sub007/internal/db/models"
)

// resourceIDPattern admits UUIDs, slugs, and versioned artifact names while
// excluding path separators and traversal sequences. The storage path for a
// resource embeds its id verbatim, so the charset is the traversal defense.
var resourceIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,254}$`)

// resourceTypes is the closed set of resource types a token can reference
var resourceTypes = map[string]bool{
	models.ResourceTypeLicenseKey: true,
	models.ResourceTypeInstaller:  true,
	models.ResourceTypeDocument:   true,
}

// ValidateResourceType checks that a resource type is one of the recognised
// values
func ValidateResourceType(resourceType string) error {
	if !resourceTypes[resourceType] {
		return fmt.Errorf("invalid resource type %q: must be one of license_key, installer, document", resourceType)
	}
	return nil
}

// ValidateResourceID checks that a resource identifier is safe to embed in a
// storage path: no separators, no traversal, no leading dot.
func ValidateResourceID(resourceID string) error {
	if resourceID == "" {
		return fmt.Errorf("resource id is required")
	}
	if !resourceIDPattern.MatchString(resourceID) {
		return fmt.Errorf("invalid resource id %q: only letters, digits, dot, dash, and underscore are allowed", resourceID)
	}
	return nil
}

// ResourcePath returns the storage path for a stored resource. Both inputs
// must already have passed validation.
func ResourcePath(resourceType, resourceID string) string {
	return path.Join(resourceType, resourceID)
}
