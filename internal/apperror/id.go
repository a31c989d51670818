package apperror

import "github.com/google/uuid"

// ParseID checks that raw is a well-formed identity reference and returns its
// canonical form.
func ParseID(raw string) (string, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return "", InvalidInput("Invalid ID format")
	}
	return id.String(), nil
}
