package namedsem

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

const (
	// DefaultKeyDir is the shared, world-readable directory that holds
	// key-files. Every cooperating process must use the same directory.
	DefaultKeyDir = "/tmp"

	keyFilePrefix = "zipc_systemsem_"
	keyFileMode   = 0640
	semaphoreMode = 0600

	// ftok project id.
	projectID = 'Z'
)

// KeyFilePath returns the key-file path for name in DefaultKeyDir. The path
// is the cross-process rendezvous token: identical names map to identical
// paths across processes and reboots. An empty name yields "".
func KeyFilePath(name string) string {
	return keyFilePath(DefaultKeyDir, name)
}

func keyFilePath(dir, name string) string {
	if name == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(name))
	return filepath.Join(dir, keyFilePrefix+hex.EncodeToString(sum[:]))
}

type keyFileResult int

const (
	keyFileExisted keyFileResult = iota
	keyFileCreated
)

// ensureKeyFile makes sure the zero-byte key-file at path exists. Exactly one
// of any number of racing callers sees keyFileCreated.
func ensureKeyFile(path string) (keyFileResult, error) {
	if path == "" {
		return keyFileExisted, ErrInvalidName
	}
	if _, err := os.Stat(path); err == nil {
		return keyFileExisted, nil
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, keyFileMode)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return keyFileExisted, nil
		}
		return keyFileExisted, &ResourceError{Op: "keyfile", Path: path, Err: err}
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return keyFileExisted, &ResourceError{Op: "keyfile", Path: path, Err: err}
	}
	return keyFileCreated, nil
}

// removeKeyFile deletes the key-file; a file already gone is not an error.
func removeKeyFile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return errors.Wrap(err, "removing key-file")
	}
	return nil
}
