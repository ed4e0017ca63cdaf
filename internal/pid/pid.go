// Package pid guards against two monitors running at once.
package pid

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"codeberg.org/mutker/fanmon/internal/errors"
)

// Write records the current process ID at path. It fails with
// ErrAlreadyRunning when the file names another live process; a stale or
// unreadable file is replaced.
func Write(path string) error {
	errFactory := errors.New()
	self := os.Getpid()

	if data, err := os.ReadFile(path); err == nil {
		if pid, err := strconv.Atoi(strings.TrimSpace(string(data))); err == nil && pid > 0 && pid != self {
			if alive(pid) {
				return errFactory.WithData(errors.ErrAlreadyRunning, pid)
			}
		}
	} else if !os.IsNotExist(err) {
		return errFactory.WrapData(errors.ErrInternal, err, path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errFactory.WrapData(errors.ErrInternal, err, path)
	}

	if err := os.WriteFile(path, []byte(strconv.Itoa(self)+"\n"), 0o644); err != nil {
		return errFactory.WrapData(errors.ErrInternal, err, path)
	}

	return nil
}

// Remove removes the PID file.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.New().WrapData(errors.ErrInternal, err, path)
	}

	return nil
}

func alive(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = process.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}
