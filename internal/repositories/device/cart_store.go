// Package device persists anonymous shoppers' carts as local JSON files, one
// file per device id. Guest carts never touch the server-side database; this
// store backs them with atomic file replacement so a crash mid-write leaves
// the previous cart intact.
package device

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/orchardlane/storefront/internal/domain"
	"github.com/orchardlane/storefront/internal/repositories"
)

var deviceIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// Error implements repositories.RepositoryError for the file-backed store.
type Error struct {
	op       string
	err      error
	notFound bool
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %v", e.op, e.err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

func (e *Error) IsNotFound() bool { return e != nil && e.notFound }

func (e *Error) IsConflict() bool { return false }

func (e *Error) IsUnavailable() bool { return false }

// CartStore implements repositories.CartRepository on the local filesystem.
type CartStore struct {
	dir string
	mu  sync.Mutex
}

// NewCartStore creates the backing directory if needed and returns the store.
func NewCartStore(dir string) (*CartStore, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("device cart store: directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("device cart store: create directory: %w", err)
	}
	return &CartStore{dir: dir}, nil
}

var _ repositories.CartRepository = (*CartStore)(nil)

// Get loads the cart file for the device.
func (s *CartStore) Get(ctx context.Context, ownerID string) (domain.Cart, error) {
	if err := ctx.Err(); err != nil {
		return domain.Cart{}, err
	}
	path, err := s.path(ownerID)
	if err != nil {
		return domain.Cart{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return domain.Cart{}, &Error{op: "devicecart.get", err: err, notFound: true}
		}
		return domain.Cart{}, &Error{op: "devicecart.get", err: err}
	}

	var cart domain.Cart
	if err := json.Unmarshal(data, &cart); err != nil {
		return domain.Cart{}, &Error{op: "devicecart.get", err: err}
	}
	return cart, nil
}

// Save writes the cart to a temp file in the same directory and renames it
// over the previous file.
func (s *CartStore) Save(ctx context.Context, cart domain.Cart) (domain.Cart, error) {
	if err := ctx.Err(); err != nil {
		return domain.Cart{}, err
	}
	path, err := s.path(cart.OwnerID)
	if err != nil {
		return domain.Cart{}, err
	}

	data, err := json.Marshal(cart)
	if err != nil {
		return domain.Cart{}, &Error{op: "devicecart.save", err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(s.dir, ".cart-*")
	if err != nil {
		return domain.Cart{}, &Error{op: "devicecart.save", err: err}
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return domain.Cart{}, &Error{op: "devicecart.save", err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return domain.Cart{}, &Error{op: "devicecart.save", err: err}
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return domain.Cart{}, &Error{op: "devicecart.save", err: err}
	}
	return cart, nil
}

// Delete removes the cart file. An absent file is a no-op.
func (s *CartStore) Delete(ctx context.Context, ownerID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.path(ownerID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return &Error{op: "devicecart.delete", err: err}
	}
	return nil
}

func (s *CartStore) path(ownerID string) (string, error) {
	ownerID = strings.TrimSpace(ownerID)
	if !deviceIDPattern.MatchString(ownerID) {
		return "", &Error{op: "devicecart.path", err: fmt.Errorf("invalid device id %q", ownerID)}
	}
	return filepath.Join(s.dir, ownerID+".json"), nil
}
