package snapshot

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/lockguard/lockguard/errs"
)

// diskMetadata is the on-disk shape of metadata.json, exactly as the base
// spec's external-interfaces section pins it.
type diskMetadata struct {
	ID          string           `json:"id"`
	Description string           `json:"description"`
	Timestamp   string           `json:"timestamp"`
	Type        string           `json:"type"`
	Files       []diskManifestEntry `json:"files"`
}

type diskManifestEntry struct {
	Path string `json:"path"`
	Type string `json:"type"` // "file" | "directory"
	Size *int64 `json:"size,omitempty"`
	Mode string `json:"mode"` // "0oNNN"
}

// ManualStore is the manual (copy-the-critical-paths) backend. It is also
// held by TimeshiftStore as its fallback collaborator.
type ManualStore struct {
	Root          string
	MaxSnapshots  int
	Compress      bool
	CriticalPaths []string
	Logger        *log.Logger

	// nowOverrideForTest lets tests force distinct snapshot timestamps
	// without sleeping a full second between creates.
	nowOverrideForTest time.Time
}

// NewManualStore constructs a ManualStore rooted at dir. maxSnapshots <= 0
// defaults to 10, matching the base spec's cleanup default.
func NewManualStore(dir string, maxSnapshots int, compress bool, logger *log.Logger) *ManualStore {
	if maxSnapshots <= 0 {
		maxSnapshots = 10
	}
	if logger == nil {
		logger = log.Default()
	}
	return &ManualStore{
		Root:          dir,
		MaxSnapshots:  maxSnapshots,
		Compress:      compress,
		CriticalPaths: CriticalPaths,
		Logger:        logger,
	}
}

func (s *ManualStore) newID() ID {
	now := time.Now()
	if !s.nowOverrideForTest.IsZero() {
		now = s.nowOverrideForTest
	}
	return ID{Kind: Manual, Value: "manual_" + strconv.FormatInt(now.Unix(), 10)}
}

// Create materialises a directory mirror of every existing entry in the
// critical path set, preserving mode bits, then writes metadata.json last.
// On any failure the partial snapshot is removed before returning.
func (s *ManualStore) Create(ctx context.Context, description string) (ID, error) {
	id := s.newID()
	stageDir := filepath.Join(s.Root, id.Value)

	if err := os.MkdirAll(stageDir, 0o755); err != nil {
		return ID{}, errs.New(errs.Transient, "snapshot.Create", err)
	}

	manifest, err := s.copyCriticalPaths(stageDir)
	if err != nil {
		os.RemoveAll(stageDir)
		return ID{}, errs.New(errs.Transient, "snapshot.Create", err)
	}

	createdAt := time.Now()
	if !s.nowOverrideForTest.IsZero() {
		createdAt = s.nowOverrideForTest
	}
	meta := diskMetadata{
		ID:          id.Value,
		Description: description,
		Timestamp:   createdAt.UTC().Format(time.RFC3339),
		Type:        "manual",
		Files:       toDiskManifest(manifest),
	}
	if err := writeMetadata(filepath.Join(stageDir, "metadata.json"), meta); err != nil {
		os.RemoveAll(stageDir)
		return ID{}, errs.New(errs.Transient, "snapshot.Create", err)
	}

	if s.Compress {
		archivePath := stageDir + ".tar.gz"
		if err := compressDir(stageDir, archivePath); err != nil {
			os.RemoveAll(stageDir)
			os.Remove(archivePath)
			return ID{}, errs.New(errs.Transient, "snapshot.Create", err)
		}
		if err := os.RemoveAll(stageDir); err != nil {
			s.Logger.Printf("[WARN] snapshot: failed to remove staging dir after compress: %s", err)
		}
	}

	return id, nil
}

// copyCriticalPaths mirrors every existing entry of the critical path set
// into destRoot, preserving mode bits, and returns the manifest describing
// what was copied.
func (s *ManualStore) copyCriticalPaths(destRoot string) ([]ManifestEntry, error) {
	var manifest []ManifestEntry
	for _, src := range s.CriticalPaths {
		info, err := os.Lstat(src)
		if err != nil {
			if os.IsNotExist(err) {
				s.Logger.Printf("[DEBUG] snapshot: critical path does not exist, skipping: %s", src)
				continue
			}
			return nil, fmt.Errorf("stat %s: %w", src, err)
		}

		dest := filepath.Join(destRoot, src)
		if info.IsDir() {
			entries, err := copyTree(src, dest)
			if err != nil {
				return nil, err
			}
			manifest = append(manifest, ManifestEntry{Path: src, Kind: DirEntry, Mode: uint32(info.Mode().Perm())})
			manifest = append(manifest, entries...)
			continue
		}

		if err := copyFile(src, dest, info.Mode()); err != nil {
			return nil, err
		}
		manifest = append(manifest, ManifestEntry{
			Path: src,
			Kind: FileEntry,
			Mode: uint32(info.Mode().Perm()),
			Size: info.Size(),
		})
	}
	return manifest, nil
}

func copyTree(src, dest string) ([]ManifestEntry, error) {
	var manifest []ManifestEntry
	err := filepath.Walk(src, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		destPath := filepath.Join(dest, rel)
		if info.IsDir() {
			if err := os.MkdirAll(destPath, info.Mode().Perm()); err != nil {
				return err
			}
			if rel != "." {
				manifest = append(manifest, ManifestEntry{Path: p, Kind: DirEntry, Mode: uint32(info.Mode().Perm())})
			}
			return nil
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		if err := copyFile(p, destPath, info.Mode()); err != nil {
			return err
		}
		manifest = append(manifest, ManifestEntry{Path: p, Kind: FileEntry, Mode: uint32(info.Mode().Perm()), Size: info.Size()})
		return nil
	})
	return manifest, err
}

func copyFile(src, dest string, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode.Perm())
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Chmod(mode.Perm())
}

func toDiskManifest(entries []ManifestEntry) []diskManifestEntry {
	out := make([]diskManifestEntry, 0, len(entries))
	for _, e := range entries {
		kind := "file"
		if e.Kind == DirEntry {
			kind = "directory"
		}
		d := diskManifestEntry{
			Path: e.Path,
			Type: kind,
			Mode: fmt.Sprintf("0o%o", e.Mode),
		}
		if e.Kind == FileEntry {
			size := e.Size
			d.Size = &size
		}
		out = append(out, d)
	}
	return out
}

func fromDiskManifest(entries []diskManifestEntry) ([]ManifestEntry, error) {
	out := make([]ManifestEntry, 0, len(entries))
	for _, d := range entries {
		mode, err := parseOctalMode(d.Mode)
		if err != nil {
			return nil, err
		}
		kind := FileEntry
		if d.Type == "directory" {
			kind = DirEntry
		}
		e := ManifestEntry{Path: d.Path, Kind: kind, Mode: mode}
		if d.Size != nil {
			e.Size = *d.Size
		}
		out = append(out, e)
	}
	return out, nil
}

func parseOctalMode(s string) (uint32, error) {
	s = strings.TrimPrefix(s, "0o")
	v, err := strconv.ParseUint(s, 8, 32)
	if err != nil {
		return 0, fmt.Errorf("parse mode %q: %w", s, err)
	}
	return uint32(v), nil
}

func writeMetadata(path string, meta diskMetadata) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(meta)
}

// List returns every complete snapshot (one whose metadata.json, or
// metadata.json inside its .tar.gz, is present and parses), newest first.
// Incomplete snapshots — directories without a metadata.json, per the
// write-last invariant — are silently ignored.
func (s *ManualStore) List(ctx context.Context) ([]Metadata, error) {
	entries, err := os.ReadDir(s.Root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errs.New(errs.Transient, "snapshot.List", err)
	}

	var out []Metadata
	for _, e := range entries {
		name := e.Name()
		var meta *Metadata
		var rerr error
		switch {
		case e.IsDir():
			meta, rerr = readDirMetadata(filepath.Join(s.Root, name))
		case strings.HasSuffix(name, ".tar.gz"):
			meta, rerr = readArchiveMetadata(filepath.Join(s.Root, name))
		default:
			continue
		}
		if rerr != nil {
			s.Logger.Printf("[DEBUG] snapshot: ignoring incomplete snapshot %s: %s", name, rerr)
			continue
		}
		if meta != nil {
			out = append(out, *meta)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Created.After(out[j].Created) })
	return out, nil
}

func readDirMetadata(dir string) (*Metadata, error) {
	data, err := os.ReadFile(filepath.Join(dir, "metadata.json"))
	if err != nil {
		return nil, err
	}
	return parseMetadata(data)
}

func readArchiveMetadata(archivePath string) (*Metadata, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil, fmt.Errorf("%s: no metadata.json", archivePath)
		}
		if err != nil {
			return nil, err
		}
		if filepath.Base(hdr.Name) == "metadata.json" {
			data, err := io.ReadAll(tr)
			if err != nil {
				return nil, err
			}
			return parseMetadata(data)
		}
	}
}

func parseMetadata(data []byte) (*Metadata, error) {
	var dm diskMetadata
	if err := json.Unmarshal(data, &dm); err != nil {
		return nil, err
	}
	ts, err := time.Parse(time.RFC3339, dm.Timestamp)
	if err != nil {
		return nil, err
	}
	manifest, err := fromDiskManifest(dm.Files)
	if err != nil {
		return nil, err
	}
	return &Metadata{
		ID:          ID{Kind: Manual, Value: dm.ID},
		Created:     ts,
		Description: dm.Description,
		Manifest:    manifest,
	}, nil
}

// Info looks up a single snapshot by id.
func (s *ManualStore) Info(ctx context.Context, id ID) (*Metadata, bool, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, false, err
	}
	for _, m := range all {
		if m.ID == id {
			return &m, true, nil
		}
	}
	return nil, false, nil
}

// Restore walks the manifest in listed order, copying each entry from the
// snapshot over the live host path. Individual failures are aggregated and
// logged but do not abort the remaining entries; the call fails overall iff
// any entry failed.
func (s *ManualStore) Restore(ctx context.Context, id ID) error {
	meta, ok, err := s.Info(ctx, id)
	if err != nil {
		return errs.New(errs.Transient, "snapshot.Restore", err)
	}
	if !ok {
		return errs.New(errs.Invariant, "snapshot.Restore", fmt.Errorf("unknown snapshot %s", id))
	}

	src, cleanup, err := s.openSnapshotRoot(id)
	if err != nil {
		return errs.New(errs.Transient, "snapshot.Restore", err)
	}
	defer cleanup()

	var merr *multierror.Error
	for _, entry := range meta.Manifest {
		if entry.Kind == DirEntry {
			if err := restoreDir(filepath.Join(src, entry.Path), entry.Path, os.FileMode(entry.Mode)); err != nil {
				s.Logger.Printf("[ERR] snapshot: failed to restore directory %s: %s", entry.Path, err)
				merr = multierror.Append(merr, fmt.Errorf("%s: %w", entry.Path, err))
			}
			continue
		}
		if err := copyFile(filepath.Join(src, entry.Path), entry.Path, os.FileMode(entry.Mode)); err != nil {
			s.Logger.Printf("[ERR] snapshot: failed to restore file %s: %s", entry.Path, err)
			merr = multierror.Append(merr, fmt.Errorf("%s: %w", entry.Path, err))
		}
	}

	if merr.ErrorOrNil() != nil {
		return errs.New(errs.Transient, "snapshot.Restore", merr)
	}
	return nil
}

func restoreDir(srcDir, destDir string, mode os.FileMode) error {
	if err := os.RemoveAll(destDir); err != nil {
		return err
	}
	return filepath.Walk(srcDir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		rel, err := filepath.Rel(srcDir, p)
		if err != nil {
			return err
		}
		dest := filepath.Join(destDir, rel)
		if info.IsDir() {
			return os.MkdirAll(dest, info.Mode().Perm())
		}
		return copyFile(p, dest, info.Mode())
	})
}

// openSnapshotRoot returns a filesystem path under which entry.Path can be
// resolved relative-free (i.e. joined verbatim as it was at create time),
// transparently extracting a compressed snapshot to a temp directory when
// needed. cleanup must be called once the caller is done reading.
func (s *ManualStore) openSnapshotRoot(id ID) (string, func(), error) {
	dir := filepath.Join(s.Root, id.Value)
	if info, err := os.Stat(dir); err == nil && info.IsDir() {
		return dir, func() {}, nil
	}

	archivePath := dir + ".tar.gz"
	if _, err := os.Stat(archivePath); err != nil {
		return "", func() {}, fmt.Errorf("snapshot %s not found", id.Value)
	}

	tmp, err := os.MkdirTemp("", "lockguard-restore-*")
	if err != nil {
		return "", func() {}, err
	}
	if err := extractTarGz(archivePath, tmp); err != nil {
		os.RemoveAll(tmp)
		return "", func() {}, err
	}
	return filepath.Join(tmp, id.Value), func() { os.RemoveAll(tmp) }, nil
}

// Delete removes a snapshot's directory or archive.
func (s *ManualStore) Delete(ctx context.Context, id ID) error {
	dir := filepath.Join(s.Root, id.Value)
	archivePath := dir + ".tar.gz"
	if err := os.RemoveAll(dir); err != nil {
		return errs.New(errs.Transient, "snapshot.Delete", err)
	}
	if err := os.Remove(archivePath); err != nil && !os.IsNotExist(err) {
		return errs.New(errs.Transient, "snapshot.Delete", err)
	}
	return nil
}

// Cleanup deletes snapshots beyond MaxSnapshots, oldest first.
func (s *ManualStore) Cleanup(ctx context.Context) error {
	all, err := s.List(ctx)
	if err != nil {
		return err
	}
	if len(all) <= s.MaxSnapshots {
		return nil
	}
	var merr *multierror.Error
	for _, m := range all[s.MaxSnapshots:] {
		if err := s.Delete(ctx, m.ID); err != nil {
			merr = multierror.Append(merr, err)
		}
	}
	return merr.ErrorOrNil()
}

func compressDir(dir, archivePath string) error {
	f, err := os.OpenFile(archivePath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	gz := gzip.NewWriter(f)
	defer gz.Close()
	tw := tar.NewWriter(gz)
	defer tw.Close()

	base := filepath.Dir(dir)
	return filepath.Walk(dir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(base, p)
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = rel
		if info.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		in, err := os.Open(p)
		if err != nil {
			return err
		}
		defer in.Close()
		_, err = io.Copy(tw, in)
		return err
	})
}

func extractTarGz(archivePath, destBase string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return err
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		dest := filepath.Join(destBase, hdr.Name)
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(dest, os.FileMode(hdr.Mode).Perm()); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
				return err
			}
			out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, os.FileMode(hdr.Mode).Perm())
			if err != nil {
				return err
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return err
			}
			out.Close()
		}
	}
}
