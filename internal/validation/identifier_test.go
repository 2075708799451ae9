package validation

import "testing"

func TestValidateResourceType(t *testing.T) {
	for _, valid := range []string{"license_key", "installer", "document"} {
		if err := ValidateResourceType(valid); err != nil {
			t.Errorf("ValidateResourceType(%q) = %v, want nil", valid, err)
		}
	}
	for _, invalid := range []string{"", "binary", "Installer", "license key"} {
		if err := ValidateResourceType(invalid); err == nil {
			t.Errorf("ValidateResourceType(%q) = nil, want error", invalid)
		}
	}
}

func TestValidateResourceID(t *testing.T) {
	valid := []string{
		"d3b07384-d9a0-4c9d-8f12-6a54bfbd0f9c",
		"product-1",
		"installer_v2.3.1.exe",
		"a",
	}
	for _, id := range valid {
		if err := ValidateResourceID(id); err != nil {
			t.Errorf("ValidateResourceID(%q) = %v, want nil", id, err)
		}
	}

	invalid := []string{
		"",
		"../etc/passwd",
		"a/b",
		"a\\b",
		".hidden",
		"-leading-dash",
		"with space",
		"semi;colon",
	}
	for _, id := range invalid {
		if err := ValidateResourceID(id); err == nil {
			t.Errorf("ValidateResourceID(%q) = nil, want error", id)
		}
	}
}

func TestResourcePath(t *testing.T) {
	got := ResourcePath("installer", "setup-v1.exe")
	if got != "installer/setup-v1.exe" {
		t.Fatalf("ResourcePath = %q, want installer/setup-v1.exe", got)
	}
}
