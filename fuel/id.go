package fuel

import "github.com/google/uuid"

// NewID returns prefix_<uuid v7>. v7 ids sort by creation time.
func NewID(prefix string) string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return prefix + "_" + id.String()
}
