// Package photo stores uploaded student photos and releases them on request.
package photo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// DefaultAvatar is the reference every student without an upload points at.
// It is never deleted.
const DefaultAvatar = "/images/default-avatar.png"

// Store saves photo content and returns an opaque reference for it.
type Store interface {
	Save(ctx context.Context, r io.Reader, filename string) (string, error)
	Delete(ctx context.Context, ref string) error
}

// LocalStore keeps photos on local disk and serves them under URLPrefix.
type LocalStore struct {
	Dir       string
	URLPrefix string
}

// NewLocalStore creates dir if needed.
func NewLocalStore(dir, urlPrefix string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &LocalStore{Dir: dir, URLPrefix: strings.TrimSuffix(urlPrefix, "/")}, nil
}

// Save writes r to a uniquely named file. A failed write removes the partial file.
func (s *LocalStore) Save(ctx context.Context, r io.Reader, filename string) (ref string, err error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	name := uuid.NewString() + "_" + cleanName(filename)
	full := filepath.Join(s.Dir, name)

	f, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("create photo file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close photo file: %w", cerr)
		}
		if err != nil {
			_ = os.Remove(full)
			ref = ""
		}
	}()

	n, err := io.Copy(f, r)
	if err != nil {
		return "", fmt.Errorf("write photo file: %w", err)
	}
	if n == 0 {
		return "", errors.New("photo is empty")
	}
	return s.URLPrefix + "/" + name, nil
}

// Delete removes the file behind ref. Unknown or missing files are ignored.
func (s *LocalStore) Delete(_ context.Context, ref string) error {
	if ref == "" || ref == DefaultAvatar || !strings.HasPrefix(ref, s.URLPrefix+"/") {
		return nil
	}
	name := path.Base(ref)
	if name == "." || name == "/" {
		return nil
	}
	if err := os.Remove(filepath.Join(s.Dir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func cleanName(filename string) string {
	base := filepath.Base(strings.ReplaceAll(filename, "\\", "/"))
	if base == "." || base == "/" || base == "" {
		return "photo"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		}
		return '_'
	}, base)
}
