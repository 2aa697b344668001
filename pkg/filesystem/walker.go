package filesystem

import (
	"context"
	"fmt"
	"os"
	"path"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/juju/loggo"
	"github.com/kr/fs"

	"github.com/joe/seedstream/pkg/media"
)

//nolint:gochecknoglobals // Package logger, as loggo intends
var walkLogger = loggo.GetLogger("seedstream.walker")

// DiscoveredAlbumDir is a directory that directly contains at least one audio file.
type DiscoveredAlbumDir struct {
	AbsDir       string      `json:"absDir"`
	RelDir       string      `json:"relDir"`
	AudioFiles   []AudioFile `json:"audioFiles"`
	CoverArtPath string      `json:"coverArtPath,omitempty"`
}

// AudioFile is one recognized audio file inside a DiscoveredAlbumDir.
type AudioFile struct {
	AbsPath  string `json:"absPath"`
	RelPath  string `json:"relPath"`
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
}

// ProgressFunc is called once per directory visited with its path relative to the root.
type ProgressFunc func(relDir string)

// pendingDir is a directory waiting to be read.
type pendingDir struct {
	abs string
	rel string
}

// Walk traverses the tree under root depth-first and returns every album directory
// in pre-order, children in name order. An *sftp.Client satisfies fs.FileSystem,
// as does LocalFS.
//
// Subdirectories that cannot be read are logged and skipped. Only an unreadable
// root fails the walk. Symlinks are not followed.
func Walk(ctx context.Context, fsys fs.FileSystem, root string, onProgress ProgressFunc) ([]DiscoveredAlbumDir, error) {
	var (
		albums     []DiscoveredAlbumDir
		dirs       int
		totalBytes int64
	)

	stack := []pendingDir{{abs: root, rel: "."}}

	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("walk %s: %w", root, err)
		}

		dir := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if onProgress != nil {
			onProgress(dir.rel)
		}

		entries, err := fsys.ReadDir(dir.abs)
		if err != nil {
			if dir.rel == "." {
				return nil, fmt.Errorf("failed to read root directory %s: %w", root, err)
			}

			walkLogger.Warningf("skipping unreadable directory %s: %v", dir.abs, err)

			continue
		}

		dirs++

		sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

		album, subdirs := scanDir(fsys, dir, entries)
		if album != nil {
			albums = append(albums, *album)
			for _, f := range album.AudioFiles {
				totalBytes += f.Size
			}
		}

		// Push in reverse so the first name is popped first.
		for i := len(subdirs) - 1; i >= 0; i-- {
			stack = append(stack, subdirs[i])
		}
	}

	walkLogger.Infof("walked %d directories under %s: %d album directories, %s of audio",
		dirs, root, len(albums), humanize.Bytes(uint64(totalBytes))) //nolint:gosec // sizes are never negative

	return albums, nil
}

// scanDir classifies the sorted entries of one directory.
func scanDir(fsys fs.FileSystem, dir pendingDir, entries []os.FileInfo) (*DiscoveredAlbumDir, []pendingDir) {
	var (
		audio    []AudioFile
		coverArt string
		subdirs  []pendingDir
	)

	for _, entry := range entries {
		name := entry.Name()
		mode := entry.Mode()

		switch {
		case mode.IsDir():
			subdirs = append(subdirs, pendingDir{
				abs: fsys.Join(dir.abs, name),
				rel: path.Join(dir.rel, name),
			})
		case !mode.IsRegular():
			continue
		case media.IsAudioFile(name):
			audio = append(audio, AudioFile{
				AbsPath:  fsys.Join(dir.abs, name),
				RelPath:  path.Join(dir.rel, name),
				Filename: name,
				Size:     entry.Size(),
			})
		case coverArt == "" && media.IsCoverArt(name):
			coverArt = fsys.Join(dir.abs, name)
		}
	}

	if len(audio) == 0 {
		return nil, subdirs
	}

	return &DiscoveredAlbumDir{
		AbsDir:       dir.abs,
		RelDir:       dir.rel,
		AudioFiles:   audio,
		CoverArtPath: coverArt,
	}, subdirs
}
