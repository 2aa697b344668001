// Package catalog persists seedbox hosts, albums and tracks in a bbolt file.
//
// Records are stored as JSON, one bucket per kind. The stored fingerprint of a
// host is written only through SetFingerprint, and only while none is stored.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/juju/loggo"
	bolt "go.etcd.io/bbolt"

	"github.com/joe/seedstream/pkg/filesystem"
	"github.com/joe/seedstream/pkg/media"
)

// Exported variables.
var (
	// ErrNotFound means no record has the requested id.
	ErrNotFound = errors.New("not found")
	// ErrInvalidRecord means a record is missing a required field.
	ErrInvalidRecord = errors.New("invalid record")
	// ErrFingerprintConflict means a different fingerprint is already stored for the host.
	ErrFingerprintConflict = errors.New("a different fingerprint is already stored")
)

//nolint:gochecknoglobals // Package logger, as loggo intends
var logger = loggo.GetLogger("seedstream.catalog")

//nolint:gochecknoglobals // Bucket names
var (
	hostsBucket  = []byte("hosts")
	albumsBucket = []byte("albums")
	tracksBucket = []byte("tracks")
)

// idNamespace scopes the name-based album and track ids.
//
//nolint:gochecknoglobals // Fixed namespace
var idNamespace = uuid.MustParse("6f1d7c2e-3b8a-5e4f-9a0b-1c2d3e4f5a6b")

const openTimeout = 5 * time.Second

// Host is a configured seedbox.
type Host struct {
	filesystem.HostConfig

	Name string `json:"name,omitempty"`
	// LibraryRoot is the remote directory scanned when a scan names no root.
	LibraryRoot string `json:"libraryRoot,omitempty"`
}

// Album is a directory of tracks. HostID is empty for albums on local disk.
type Album struct {
	ID           string `json:"id"`
	HostID       string `json:"hostId,omitempty"`
	Dir          string `json:"dir"`
	Title        string `json:"title"`
	CoverArtPath string `json:"coverArtPath,omitempty"`
}

// Track is one audio file of an album. RelPath is relative to the album directory.
type Track struct {
	ID      string `json:"id"`
	AlbumID string `json:"albumId"`
	RelPath string `json:"relPath"`
	Format  string `json:"format"`
	Title   string `json:"title"`
	Size    int64  `json:"size"`
}

// Catalog is a bbolt-backed store. It is safe for concurrent use.
type Catalog struct {
	db *bolt.DB
}

// Open opens or creates the catalog file at dbPath.
func Open(dbPath string) (*Catalog, error) {
	db, err := bolt.Open(dbPath, 0o600, &bolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, fmt.Errorf("open catalog %s: %w", dbPath, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{hostsBucket, albumsBucket, tracksBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}

		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	logger.Debugf("opened catalog %s", dbPath)

	return &Catalog{db: db}, nil
}

// Close releases the database file.
func (c *Catalog) Close() error {
	if err := c.db.Close(); err != nil {
		return fmt.Errorf("close catalog: %w", err)
	}

	return nil
}

// PutHost creates or replaces a host. An existing stored fingerprint is kept
// unless the host's address or username changed.
func (c *Catalog) PutHost(host Host) error {
	if host.ID == "" || host.Host == "" || host.Username == "" {
		return fmt.Errorf("%w: host needs id, host and username", ErrInvalidRecord)
	}

	return c.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(hostsBucket)

		var existing Host
		found, err := get(bucket, host.ID, &existing)
		if err != nil {
			return err
		}

		host.StoredFingerprint = ""
		if found && existing.Address() == host.Address() && existing.Username == host.Username {
			host.StoredFingerprint = existing.StoredFingerprint
		}

		return put(bucket, host.ID, host)
	})
}

// GetHost returns the host with the given id.
func (c *Catalog) GetHost(id string) (Host, error) {
	var host Host

	err := c.db.View(func(tx *bolt.Tx) error {
		return mustGet(tx.Bucket(hostsBucket), "host", id, &host)
	})

	return host, err
}

// ListHosts returns every host ordered by id.
func (c *Catalog) ListHosts() ([]Host, error) {
	var hosts []Host

	err := c.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(hostsBucket).ForEach(func(k, v []byte) error {
			var host Host
			if err := json.Unmarshal(v, &host); err != nil {
				return fmt.Errorf("decode host %s: %w", k, err)
			}

			hosts = append(hosts, host)

			return nil
		})
	})

	return hosts, err
}

// DeleteHost removes a host. Its albums and tracks are left in place.
func (c *Catalog) DeleteHost(id string) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(hostsBucket)
		if bucket.Get([]byte(id)) == nil {
			return fmt.Errorf("host %q: %w", id, ErrNotFound)
		}

		return bucket.Delete([]byte(id))
	})
}

// SetFingerprint records the accepted host key fingerprint for a host.
// It only writes when no fingerprint is stored yet. Storing the same value again
// succeeds; a different stored value fails with ErrFingerprintConflict and is
// left untouched.
func (c *Catalog) SetFingerprint(id, fingerprint string) error {
	if fingerprint == "" {
		return fmt.Errorf("%w: empty fingerprint", ErrInvalidRecord)
	}

	return c.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(hostsBucket)

		var host Host
		if err := mustGet(bucket, "host", id, &host); err != nil {
			return err
		}

		switch host.StoredFingerprint {
		case fingerprint:
			return nil
		case "":
		default:
			return fmt.Errorf("host %q: %w", id, ErrFingerprintConflict)
		}

		host.StoredFingerprint = fingerprint

		return put(bucket, id, host)
	})
}

// ClearFingerprint forgets the accepted fingerprint, so the next connection
// test has to accept the host key again.
func (c *Catalog) ClearFingerprint(id string) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(hostsBucket)

		var host Host
		if err := mustGet(bucket, "host", id, &host); err != nil {
			return err
		}

		host.StoredFingerprint = ""

		return put(bucket, id, host)
	})
}

// PutAlbum creates or replaces an album.
func (c *Catalog) PutAlbum(album Album) error {
	if album.ID == "" || album.Dir == "" {
		return fmt.Errorf("%w: album needs id and dir", ErrInvalidRecord)
	}

	return c.db.Update(func(tx *bolt.Tx) error {
		return put(tx.Bucket(albumsBucket), album.ID, album)
	})
}

// GetAlbum returns the album with the given id.
func (c *Catalog) GetAlbum(id string) (Album, error) {
	var album Album

	err := c.db.View(func(tx *bolt.Tx) error {
		return mustGet(tx.Bucket(albumsBucket), "album", id, &album)
	})

	return album, err
}

// PutTrack creates or replaces a track.
func (c *Catalog) PutTrack(track Track) error {
	if track.ID == "" || track.AlbumID == "" || track.RelPath == "" {
		return fmt.Errorf("%w: track needs id, album id and path", ErrInvalidRecord)
	}

	return c.db.Update(func(tx *bolt.Tx) error {
		return put(tx.Bucket(tracksBucket), track.ID, track)
	})
}

// GetTrack returns the track with the given id.
func (c *Catalog) GetTrack(id string) (Track, error) {
	var track Track

	err := c.db.View(func(tx *bolt.Tx) error {
		return mustGet(tx.Bucket(tracksBucket), "track", id, &track)
	})

	return track, err
}

// Location is everything needed to stream a track.
type Location struct {
	Track Track
	Album Album
	// Host is nil for albums on local disk.
	Host *filesystem.HostConfig
}

// Locate loads a track together with its album and, for remote albums, the
// host's current config.
func (c *Catalog) Locate(trackID string) (Location, error) {
	var loc Location

	err := c.db.View(func(tx *bolt.Tx) error {
		if err := mustGet(tx.Bucket(tracksBucket), "track", trackID, &loc.Track); err != nil {
			return err
		}

		if err := mustGet(tx.Bucket(albumsBucket), "album", loc.Track.AlbumID, &loc.Album); err != nil {
			return err
		}

		if loc.Album.HostID == "" {
			return nil
		}

		var host Host
		if err := mustGet(tx.Bucket(hostsBucket), "host", loc.Album.HostID, &host); err != nil {
			return err
		}

		loc.Host = &host.HostConfig

		return nil
	})

	return loc, err
}

// Import records the albums found by a scan of hostID ("" for local disk).
// Ids are derived from the host and path, so rescanning updates records in place.
// It returns the imported albums.
func (c *Catalog) Import(hostID string, dirs []filesystem.DiscoveredAlbumDir) ([]Album, error) {
	albums := make([]Album, 0, len(dirs))

	err := c.db.Update(func(tx *bolt.Tx) error {
		albumBucket := tx.Bucket(albumsBucket)
		trackBucket := tx.Bucket(tracksBucket)

		for _, dir := range dirs {
			album := Album{
				ID:           AlbumID(hostID, dir.AbsDir),
				HostID:       hostID,
				Dir:          dir.AbsDir,
				Title:        path.Base(strings.ReplaceAll(dir.AbsDir, "\\", "/")),
				CoverArtPath: dir.CoverArtPath,
			}

			if err := put(albumBucket, album.ID, album); err != nil {
				return err
			}

			for _, file := range dir.AudioFiles {
				track := Track{
					ID:      TrackID(album.ID, file.Filename),
					AlbumID: album.ID,
					RelPath: file.Filename,
					Format:  media.FormatFromPath(file.Filename),
					Title:   strings.TrimSuffix(file.Filename, path.Ext(file.Filename)),
					Size:    file.Size,
				}

				if err := put(trackBucket, track.ID, track); err != nil {
					return err
				}
			}

			albums = append(albums, album)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Infof("imported %d albums for host %q", len(albums), hostID)

	return albums, nil
}

// AlbumID is the id an album directory gets on import.
func AlbumID(hostID, dir string) string {
	return uuid.NewSHA1(idNamespace, []byte(hostID+"\x00"+dir)).String()
}

// TrackID is the id a track gets on import.
func TrackID(albumID, relPath string) string {
	return uuid.NewSHA1(idNamespace, []byte(albumID+"\x00"+relPath)).String()
}

func put(bucket *bolt.Bucket, id string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", id, err)
	}

	if err := bucket.Put([]byte(id), data); err != nil {
		return fmt.Errorf("put %s: %w", id, err)
	}

	return nil
}

func get(bucket *bolt.Bucket, id string, value any) (bool, error) {
	data := bucket.Get([]byte(id))
	if data == nil {
		return false, nil
	}

	if err := json.Unmarshal(data, value); err != nil {
		return false, fmt.Errorf("decode %s: %w", id, err)
	}

	return true, nil
}

func mustGet(bucket *bolt.Bucket, kind, id string, value any) error {
	found, err := get(bucket, id, value)
	if err != nil {
		return err
	}

	if !found {
		return fmt.Errorf("%s %q: %w", kind, id, ErrNotFound)
	}

	return nil
}
