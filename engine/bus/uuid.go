package bus

import "github.com/google/uuid"

// parseUUIDLoose treats an empty string as the nil UUID rather than an
// error, since not every bridged event necessarily carries a correlation id.
func parseUUIDLoose(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, nil
	}
	return uuid.Parse(s)
}
