// Package fsutil writes files so that readers only ever see the old
// content or the complete new content.
package fsutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// ErrWriteFailure is matched by every error returned from this package.
var ErrWriteFailure = errors.New("write failed")

// WriteError reports the step at which a single file write failed.
type WriteError struct {
	Path string
	Op   string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write %s: %s: %v", e.Path, e.Op, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

func (e *WriteError) Is(target error) bool { return target == ErrWriteFailure }

// BatchError is returned by WriteAll when the rename phase fails after some
// targets were already committed.
type BatchError struct {
	Committed []string
	Err       error
}

func (e *BatchError) Error() string {
	if len(e.Committed) == 0 {
		return e.Err.Error()
	}
	return fmt.Sprintf("%v (already committed: %s)", e.Err, strings.Join(e.Committed, ", "))
}

func (e *BatchError) Unwrap() error { return e.Err }

// FileWrite is one entry of a WriteAll batch.
type FileWrite struct {
	Path string
	Data []byte
}

// Writer performs temp-then-rename writes. The temp file is created in the
// target's directory so the rename never crosses filesystems.
type Writer struct {
	// Perm is applied to the file before it is renamed into place.
	Perm os.FileMode
	// DirPerm is used when the parent directory has to be created.
	DirPerm os.FileMode
	Logger  zerolog.Logger

	// swapped in tests
	rename func(oldpath, newpath string) error
	write  func(f *os.File, data []byte) error
}

// NewWriter returns a Writer producing files with the given permissions.
func NewWriter(perm os.FileMode, logger zerolog.Logger) *Writer {
	return &Writer{
		Perm:    perm,
		DirPerm: 0o755,
		Logger:  logger,
	}
}

var defaultWriter = NewWriter(0o644, zerolog.Nop())

// WriteFile writes data to path with the default writer (0644 files).
func WriteFile(path string, data []byte) (string, error) {
	return defaultWriter.Write(path, data)
}

// Write atomically replaces path with data and returns the absolute target
// path. On failure the temp file is removed and the original cause is
// returned wrapped in a *WriteError.
func (w *Writer) Write(path string, data []byte) (string, error) {
	target, err := filepath.Abs(path)
	if err != nil {
		return "", &WriteError{Path: path, Op: "resolve", Err: err}
	}

	tmp, err := w.writeTemp(target, data)
	if err != nil {
		return "", err
	}

	if err := w.renameFn()(tmp, target); err != nil {
		w.cleanup(tmp)
		return "", &WriteError{Path: target, Op: "rename", Err: err}
	}

	return target, nil
}

// WriteAll writes every entry in two phases. Phase one stages all temp
// files and aborts with nothing committed if any of them fails. Phase two
// renames the temps onto their targets in order; a rename failure leaves
// earlier targets committed and is reported as a *BatchError listing them.
func (w *Writer) WriteAll(writes []FileWrite) ([]string, error) {
	targets := make([]string, len(writes))
	temps := make([]string, 0, len(writes))

	for i, fw := range writes {
		target, err := filepath.Abs(fw.Path)
		if err != nil {
			w.cleanup(temps...)
			return nil, &WriteError{Path: fw.Path, Op: "resolve", Err: err}
		}
		tmp, err := w.writeTemp(target, fw.Data)
		if err != nil {
			w.cleanup(temps...)
			return nil, err
		}
		targets[i] = target
		temps = append(temps, tmp)
	}

	for i, tmp := range temps {
		if err := w.renameFn()(tmp, targets[i]); err != nil {
			w.cleanup(temps[i:]...)
			return nil, &BatchError{
				Committed: append([]string(nil), targets[:i]...),
				Err:       &WriteError{Path: targets[i], Op: "rename", Err: err},
			}
		}
	}

	return targets, nil
}

func (w *Writer) writeTemp(target string, data []byte) (string, error) {
	dir := filepath.Dir(target)
	dirPerm := w.DirPerm
	if dirPerm == 0 {
		dirPerm = 0o755
	}
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return "", &WriteError{Path: target, Op: "mkdir", Err: err}
	}

	f, err := os.CreateTemp(dir, "."+filepath.Base(target)+".tmp-*")
	if err != nil {
		return "", &WriteError{Path: target, Op: "create temp", Err: err}
	}
	name := f.Name()

	if err := w.writeFn()(f, data); err != nil {
		_ = f.Close()
		w.cleanup(name)
		return "", &WriteError{Path: target, Op: "write", Err: err}
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		w.cleanup(name)
		return "", &WriteError{Path: target, Op: "sync", Err: err}
	}
	if err := f.Close(); err != nil {
		w.cleanup(name)
		return "", &WriteError{Path: target, Op: "close", Err: err}
	}
	if w.Perm != 0 {
		if err := os.Chmod(name, w.Perm); err != nil {
			w.cleanup(name)
			return "", &WriteError{Path: target, Op: "chmod", Err: err}
		}
	}

	return name, nil
}

// EnsureDir creates dir if needed and sets its mode to perm, tightening a
// directory that already existed with looser permissions.
func EnsureDir(dir string, perm os.FileMode) error {
	if err := os.MkdirAll(dir, perm); err != nil {
		return &WriteError{Path: dir, Op: "mkdir", Err: err}
	}
	if err := os.Chmod(dir, perm); err != nil {
		return &WriteError{Path: dir, Op: "chmod", Err: err}
	}
	return nil
}

// cleanup removes temp files. Failures are logged and dropped so they never
// replace the error that triggered the cleanup.
func (w *Writer) cleanup(paths ...string) {
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			w.Logger.Warn().Err(err).Str("path", p).Msg("failed to remove temp file")
		}
	}
}

func (w *Writer) renameFn() func(string, string) error {
	if w.rename != nil {
		return w.rename
	}
	return os.Rename
}

func (w *Writer) writeFn() func(*os.File, []byte) error {
	if w.write != nil {
		return w.write
	}
	return func(f *os.File, data []byte) error {
		_, err := f.Write(data)
		return err
	}
}
