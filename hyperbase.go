package hyperbase

import (
	"bytes"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"syscall"
)

const (
	// DefaultAlgo is the hash algorithm used for namespace journals.
	DefaultAlgo = "sha256"
	// DefaultHyperspace is the hyperspace directory name under the
	// chat root.
	DefaultHyperspace = "hyperspace"
	// SockName is the daemon socket name in the chat root.
	SockName = "chat.sock"
)

// mkdir creates dir if missing; an existing dir is not an error.
func mkdir(dir string, mode os.FileMode) (err error) {
	if _, err = os.Stat(dir); os.IsNotExist(err) {
		err = os.MkdirAll(dir, mode)
		if err != nil {
			return
		}
	}
	return
}

func exists(path string) (found bool) {
	_, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false
	}
	return true
}

func canstat(path string) bool {
	_, err := os.Stat(path)
	if err == nil {
		return true
	}
	if os.IsNotExist(err) {
		return false
	}
	return false
}

// canlstat is canstat without following a final symlink component --
// a category or item exists iff its symlink exists, even when the
// link target is dangling.
func canlstat(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

func bin2hex(bin []byte) string {
	return hex.EncodeToString(bin)
}

// Hash returns the binary hash of buf using the named algorithm.
func Hash(algo string, buf []byte) (binhash []byte, err error) {
	switch algo {
	case "sha256":
		sum := sha256.Sum256(buf)
		binhash = sum[:]
	case "sha512":
		sum := sha512.Sum512(buf)
		binhash = sum[:]
	default:
		err = fmt.Errorf("%w: %s", syscall.ENOSYS, algo)
	}
	return
}

// GetGID returns the current goroutine ID, for debug log correlation.
func GetGID() uint64 {
	b := make([]byte, 64)
	b = b[:runtime.Stack(b, false)]
	b = bytes.TrimPrefix(b, []byte("goroutine "))
	b = b[:bytes.IndexByte(b, ' ')]
	n, _ := strconv.ParseUint(string(b), 10, 64)
	return n
}
