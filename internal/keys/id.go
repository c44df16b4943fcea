package keys

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/keyhaven/keyhaven/internal/rules"
)

// NewID generates a globally unique credential id of the form
// <provider>-<unix-ms>-<random8>[-<hash6>]. The hash suffix ties the id
// loosely to the key material without being reversible.
func NewID(provider rules.Provider, keyHash string) string {
	random := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	id := fmt.Sprintf("%s-%d-%s", provider, time.Now().UnixMilli(), random)
	if len(keyHash) >= 6 {
		id += "-" + keyHash[:6]
	}
	return id
}
