package load

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// TableNamer derives the import table name for a dataset and requester. The
// result must be deterministic so that diagnosis can find the table again.
type TableNamer func(datasetID, requesterID string) string

// maxIdentifierLen is PostgreSQL's NAMEDATALEN-1.
const maxIdentifierLen = 63

// DefaultTableName returns imported_dataset_{dataset}_{requester}. Names that
// would exceed the identifier limit keep the dataset part and replace the
// requester with a short hash of both identifiers.
func DefaultTableName(datasetID, requesterID string) string {
	dataset := identifierPart(datasetID)
	requester := identifierPart(requesterID)
	name := fmt.Sprintf("imported_dataset_%s_%s", dataset, requester)
	if len(name) <= maxIdentifierLen {
		return name
	}
	sum := sha256.Sum256([]byte(datasetID + "\x00" + requesterID))
	suffix := hex.EncodeToString(sum[:])[:12]
	room := maxIdentifierLen - len("imported_dataset_") - len(suffix) - 1
	if len(dataset) > room {
		dataset = dataset[:room]
	}
	return fmt.Sprintf("imported_dataset_%s_%s", dataset, suffix)
}

// identifierPart lower-cases id and drops everything but letters, digits and
// underscores.
func identifierPart(id string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(id) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
