package google

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
	"gitlab.com/yelinaung/receipt-tracker/internal/storage"
)

// MaxFolderNameLength bounds Drive folder names.
const MaxFolderNameLength = 100

var uuidPattern = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// ValidateFileName rejects names that could address another path.
func ValidateFileName(name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return invalidInput("file name is required")
	case strings.ContainsAny(name, `/\`):
		return invalidInput("file name must not contain path separators")
	case strings.Contains(name, ".."):
		return invalidInput("file name must not contain '..'")
	case strings.ContainsRune(name, 0):
		return invalidInput("file name must not contain NUL")
	}
	return nil
}

// ValidateFolderName checks a Drive folder name.
func ValidateFolderName(name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return invalidInput("folder name is required")
	case len([]rune(name)) > MaxFolderNameLength:
		return invalidInput("folder name must be at most %d characters", MaxFolderNameLength)
	case strings.ContainsAny(name, `<>:"/\|?*`):
		return invalidInput(`folder name must not contain any of < > : " / \ | ? *`)
	case strings.Contains(name, ".."):
		return invalidInput("folder name must not contain '..'")
	}
	for _, r := range name {
		if r < 0x20 {
			return invalidInput("folder name must not contain control characters")
		}
	}
	return nil
}

// ParseUserID parses an optional user id. An empty string yields uuid.Nil.
// Anything else must have the canonical 8-4-4-4-12 form.
func ParseUserID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, nil
	}
	if !uuidPattern.MatchString(s) {
		return uuid.Nil, invalidInput("user id must be a UUID")
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, invalidInput("user id must be a UUID")
	}
	return id, nil
}

func validateImageURL(raw string) error {
	if _, err := storage.ValidateImageURL(raw); err != nil {
		return invalidInput("%s", err.Error())
	}
	return nil
}
