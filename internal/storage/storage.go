package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/npezzotti/go-messenger/internal/types"
	"github.com/teris-io/shortid"
)

const PublicPrefix = "/uploads/"

var ErrInvalidRef = errors.New("invalid asset reference")

// AssetStore keeps the binary payload of media messages and group
// images. Save returns the reference that is stored as message content.
type AssetStore interface {
	Save(kind types.MessageType, data []byte) (string, error)
	Delete(ref string) error
}

// DiskStore writes assets below root and hands out references under
// PublicPrefix, e.g. /uploads/images/Xb2dk9_Z.jpg.
type DiskStore struct {
	root            string
	generateShortId func() (string, error)
}

func NewDiskStore(root string) (*DiskStore, error) {
	if root == "" {
		return nil, fmt.Errorf("storage root cannot be empty")
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}

	return &DiskStore{
		root:            abs,
		generateShortId: shortid.Generate,
	}, nil
}

func (d *DiskStore) Root() string {
	return d.root
}

func extension(kind types.MessageType, data []byte) string {
	switch kind {
	case types.MessageTypeImage:
		switch http.DetectContentType(data) {
		case "image/png":
			return "png"
		case "image/gif":
			return "gif"
		case "image/webp":
			return "webp"
		default:
			return "jpg"
		}
	default:
		return "webm"
	}
}

func (d *DiskStore) Save(kind types.MessageType, data []byte) (string, error) {
	if !kind.IsMedia() {
		return "", fmt.Errorf("cannot store asset of type %q", kind)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("asset is empty")
	}

	name, err := d.generateShortId()
	if err != nil {
		return "", fmt.Errorf("generate asset name: %w", err)
	}

	dir := string(kind) + "s"
	file := name + "." + extension(kind, data)

	if err := os.MkdirAll(filepath.Join(d.root, dir), 0o755); err != nil {
		return "", fmt.Errorf("create asset dir: %w", err)
	}

	if err := os.WriteFile(filepath.Join(d.root, dir, file), data, 0o644); err != nil {
		return "", fmt.Errorf("write asset: %w", err)
	}

	return PublicPrefix + dir + "/" + file, nil
}

// Delete removes the file behind ref. Missing files are not an error.
func (d *DiskStore) Delete(ref string) error {
	p, err := d.resolve(ref)
	if err != nil {
		return err
	}

	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove asset: %w", err)
	}
	return nil
}

func (d *DiskStore) resolve(ref string) (string, error) {
	if !strings.HasPrefix(ref, PublicPrefix) {
		return "", fmt.Errorf("%q: %w", ref, ErrInvalidRef)
	}

	rel := path.Clean(strings.TrimPrefix(ref, PublicPrefix))
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") || path.IsAbs(rel) {
		return "", fmt.Errorf("%q: %w", ref, ErrInvalidRef)
	}

	p := filepath.Join(d.root, filepath.FromSlash(rel))
	if r, err := filepath.Rel(d.root, p); err != nil || strings.HasPrefix(r, "..") {
		return "", fmt.Errorf("%q: %w", ref, ErrInvalidRef)
	}

	return p, nil
}

// Handler serves stored assets under PublicPrefix.
func (d *DiskStore) Handler() http.Handler {
	return http.StripPrefix(strings.TrimSuffix(PublicPrefix, "/"), http.FileServer(http.Dir(d.root)))
}
