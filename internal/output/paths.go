package output

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// maxVersions bounds the suffix search in FreshPath.
const maxVersions = 10000

// FreshPath returns dir/name if it does not exist yet, otherwise the first
// dir/name.N that does not. Existing results are never overwritten.
func FreshPath(dir, name string) (string, error) {
	base := filepath.Join(dir, name)
	candidate := base
	for i := 1; i <= maxVersions; i++ {
		_, err := os.Stat(candidate)
		if errors.Is(err, os.ErrNotExist) {
			return candidate, nil
		}
		if err != nil {
			return "", err
		}
		candidate = fmt.Sprintf("%s.%d", base, i)
	}
	return "", fmt.Errorf("no free name for %s after %d attempts", base, maxVersions)
}

// createExclusive opens a new file, failing if something raced us to it.
func createExclusive(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
}
