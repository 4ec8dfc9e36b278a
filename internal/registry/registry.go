// Package registry manages the set of configured media server endpoints.
//
// Endpoints are created explicitly via Add (or seeded from the config file at
// startup) and persisted in a bbolt database inside the data directory so
// they survive restarts. Only endpoint settings are persisted — pending
// library changes are deliberately in-memory only and die with the process.
//
// Design rules:
//   - Endpoint names must be 1-64 lowercase alphanumeric characters or
//     hyphens.
//   - Endpoint URLs must be absolute http or https URLs.
//   - All methods are safe for concurrent use (bbolt serialises writers).
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"go.etcd.io/bbolt"

	"github.com/CorentinB/Sonarr/internal/types"
)

const dbFile = "endpoints.db"

var bucketEndpoints = []byte("endpoints")

// nameRe validates endpoint names: 1–64 chars, lowercase letters/digits/hyphens,
// must start with a letter or digit.
var nameRe = regexp.MustCompile(`^[a-z0-9][a-z0-9\-]{0,63}$`)

// ErrNotFound is returned when an endpoint that doesn't exist is requested.
var ErrNotFound = errors.New("registry: endpoint not found")

// ErrAlreadyExists is returned when Add is called for an existing endpoint.
var ErrAlreadyExists = errors.New("registry: endpoint already exists")

// ErrInvalidName is returned when an endpoint name fails validation.
var ErrInvalidName = errors.New("registry: invalid endpoint name")

// ErrInvalidURL is returned when an endpoint URL is not an absolute
// http/https URL.
var ErrInvalidURL = errors.New("registry: invalid endpoint url")

// ErrMissingAPIKey is returned when an endpoint has no API key.
var ErrMissingAPIKey = errors.New("registry: api key must not be empty")

// Validate checks ep's settings and returns the first problem found.
// It is called by Add and exposed so transports can reject bad input before
// touching any state.
func Validate(ep types.Endpoint) error {
	if !nameRe.MatchString(ep.Name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, ep.Name)
	}
	u, err := url.Parse(ep.URL)
	if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidURL, ep.URL)
	}
	if ep.APIKey == "" {
		return fmt.Errorf("%w (endpoint %q)", ErrMissingAPIKey, ep.Name)
	}
	return nil
}

// Registry is the persistent store of endpoint settings.
//
// bbolt is chosen because it is pure Go, ACID, and a single file inside the
// data directory — the registry is always consistent even after a crash.
type Registry struct {
	db *bbolt.DB
}

// Open opens (or creates) the registry database under dataDir.
func Open(dataDir string) (*Registry, error) {
	path := filepath.Join(dataDir, dbFile)
	db, err := bbolt.Open(path, 0o640, &bbolt.Options{Timeout: 0})
	if err != nil {
		return nil, fmt.Errorf("registry: open %s: %w", path, err)
	}

	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketEndpoints)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("registry: init bucket: %w", err)
	}

	return &Registry{db: db}, nil
}

// Close closes the underlying database.
func (r *Registry) Close() error {
	return r.db.Close()
}

// Add validates and registers a new endpoint.
// Returns ErrAlreadyExists if the name is already registered.
func (r *Registry) Add(ep types.Endpoint) error {
	if err := Validate(ep); err != nil {
		return err
	}
	if ep.CreatedAt == 0 {
		ep.CreatedAt = time.Now().UnixMilli()
	}

	val, err := json.Marshal(ep)
	if err != nil {
		return fmt.Errorf("registry: marshal %s: %w", ep.Name, err)
	}

	return r.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketEndpoints)
		if b.Get([]byte(ep.Name)) != nil {
			return fmt.Errorf("%w: %s", ErrAlreadyExists, ep.Name)
		}
		return b.Put([]byte(ep.Name), val)
	})
}

// Ensure registers ep if its name is not already taken, or is a no-op if it
// is. Used for seeding endpoints from the config file without clobbering
// settings changed later through the API.
func (r *Registry) Ensure(ep types.Endpoint) error {
	err := r.Add(ep)
	if errors.Is(err, ErrAlreadyExists) {
		return nil
	}
	return err
}

// Get returns the endpoint registered under name.
// Returns ErrNotFound if no such endpoint exists.
func (r *Registry) Get(name string) (types.Endpoint, error) {
	var ep types.Endpoint
	err := r.db.View(func(tx *bbolt.Tx) error {
		val := tx.Bucket(bucketEndpoints).Get([]byte(name))
		if val == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return json.Unmarshal(val, &ep)
	})
	return ep, err
}

// List returns all registered endpoints sorted by name.
func (r *Registry) List() ([]types.Endpoint, error) {
	var out []types.Endpoint
	err := r.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketEndpoints).ForEach(func(_, v []byte) error {
			var ep types.Endpoint
			if err := json.Unmarshal(v, &ep); err != nil {
				return err
			}
			out = append(out, ep)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// SetUpdateLibrary flips the library-update toggle for name.
// Returns ErrNotFound if no such endpoint exists.
func (r *Registry) SetUpdateLibrary(name string, enabled bool) error {
	return r.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketEndpoints)
		val := b.Get([]byte(name))
		if val == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		var ep types.Endpoint
		if err := json.Unmarshal(val, &ep); err != nil {
			return fmt.Errorf("registry: unmarshal %s: %w", name, err)
		}
		ep.UpdateLibrary = enabled
		updated, err := json.Marshal(ep)
		if err != nil {
			return fmt.Errorf("registry: marshal %s: %w", name, err)
		}
		return b.Put([]byte(name), updated)
	})
}

// Remove deletes the endpoint registered under name.
// Returns ErrNotFound if no such endpoint exists. Any pending library changes
// for the endpoint are left to expire in memory.
func (r *Registry) Remove(name string) error {
	return r.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketEndpoints)
		if b.Get([]byte(name)) == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return b.Delete([]byte(name))
	})
}

// Len returns the number of registered endpoints.
func (r *Registry) Len() (int, error) {
	n := 0
	err := r.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket(bucketEndpoints).Stats().KeyN
		return nil
	})
	return n, err
}
