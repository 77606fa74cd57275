package admission

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/kkraso01/cognicodeide/internal/executor"
)

// snapshotFile is the canonical serialization used for hashing and
// retention: name, path, content, nothing else. Struct field order fixes
// the JSON key order, so identical file sets always hash identically.
type snapshotFile struct {
	Name    string `json:"name"`
	Path    string `json:"path"`
	Content string `json:"content"`
}

// SnapshotFiles returns the SHA-256 hex digest of the serialized file list
// and, when the serialization fits under maxBytes, the serialization
// itself for retention. The hash is always computed. The list is sorted
// before serialization, so neither file order nor JSON key order affects
// the digest.
func SnapshotFiles(files []executor.FileData, maxBytes int) (string, *string, error) {
	canonical := make([]snapshotFile, len(files))
	for i, f := range files {
		canonical[i] = snapshotFile{Name: f.Name, Path: f.Path, Content: f.Content}
	}
	sort.Slice(canonical, func(i, j int) bool {
		if canonical[i].Path != canonical[j].Path {
			return canonical[i].Path < canonical[j].Path
		}
		if canonical[i].Name != canonical[j].Name {
			return canonical[i].Name < canonical[j].Name
		}
		return canonical[i].Content < canonical[j].Content
	})

	serialized, err := json.Marshal(canonical)
	if err != nil {
		return "", nil, err
	}

	digest := sha256.Sum256(serialized)
	hash := hex.EncodeToString(digest[:])

	if len(serialized) > maxBytes {
		return hash, nil, nil
	}
	snapshot := string(serialized)
	return hash, &snapshot, nil
}
