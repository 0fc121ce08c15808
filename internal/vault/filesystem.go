package vault

import (
	"context"
	"encoding/base64"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"github.com/martijn/vmvault/internal/core/domain"
)

const partialSuffix = ".partial"

// FilesystemTarget stores objects as files below a root directory. It backs
// both local shares and NFS exports mounted under the vault data directory.
type FilesystemTarget struct {
	name          string
	shareType     string
	endpoint      string
	root          string
	fs            afero.Fs
	capacityBytes int64
	diskTotal     func(path string) (int64, error)
}

func NewLocalTarget(name, root string, capacityBytes int64, fs afero.Fs) *FilesystemTarget {
	return &FilesystemTarget{
		name:          name,
		shareType:     "local",
		endpoint:      root,
		root:          filepath.Clean(root),
		fs:            fs,
		capacityBytes: capacityBytes,
		diskTotal:     diskTotal,
	}
}

// NewNFSTarget expects export to be mounted at MountPath(vaultDataDirectory, export).
func NewNFSTarget(name, export, vaultDataDirectory string, capacityBytes int64, fs afero.Fs) *FilesystemTarget {
	t := NewLocalTarget(name, MountPath(vaultDataDirectory, export), capacityBytes, fs)
	t.shareType = "nfs"
	t.endpoint = export
	return t
}

// MountPath is the directory an NFS export is mounted on.
func MountPath(vaultDataDirectory, export string) string {
	return filepath.Join(vaultDataDirectory, base64.URLEncoding.EncodeToString([]byte(export)))
}

func (t *FilesystemTarget) Name() string     { return t.name }
func (t *FilesystemTarget) Type() string     { return t.shareType }
func (t *FilesystemTarget) Endpoint() string { return t.endpoint }
func (t *FilesystemTarget) Root() string     { return t.root }

// resolve maps key onto the filesystem and refuses anything outside root.
func (t *FilesystemTarget) resolve(key string) (string, error) {
	p := filepath.Join(t.root, filepath.FromSlash(path.Clean("/"+key)))
	rel, err := filepath.Rel(t.root, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errors.Errorf("key %q escapes share root %s", key, t.root)
	}
	return p, nil
}

func (t *FilesystemTarget) Put(ctx context.Context, key string, body io.Reader) error {
	p, err := t.resolve(key)
	if err != nil {
		return err
	}
	if p == t.root {
		return errors.Errorf("refusing to write share root %s", t.root)
	}
	if err := t.fs.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return errors.Wrapf(err, "creating directory for %s", key)
	}

	tmp := p + partialSuffix
	f, err := t.fs.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Wrapf(err, "opening %s", key)
	}
	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		t.fs.Remove(tmp)
		return errors.Wrapf(err, "writing %s", key)
	}
	if err := f.Close(); err != nil {
		t.fs.Remove(tmp)
		return errors.Wrapf(err, "closing %s", key)
	}
	return errors.Wrapf(t.fs.Rename(tmp, p), "renaming %s", key)
}

func (t *FilesystemTarget) Get(ctx context.Context, key string) ([]byte, error) {
	p, err := t.resolve(key)
	if err != nil {
		return nil, err
	}
	data, err := afero.ReadFile(t.fs, p)
	if os.IsNotExist(err) {
		return nil, notFound(key)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", key)
	}
	return data, nil
}

func (t *FilesystemTarget) Delete(ctx context.Context, key string) error {
	p, err := t.resolve(key)
	if err != nil {
		return err
	}
	if p == t.root {
		return errors.Errorf("refusing to delete share root %s", t.root)
	}
	return errors.Wrapf(t.fs.RemoveAll(p), "deleting %s", key)
}

func (t *FilesystemTarget) List(ctx context.Context, prefix string) ([]string, error) {
	// Walk from the deepest directory the prefix names
	dir := t.root
	if i := strings.LastIndex(prefix, "/"); i >= 0 {
		p, err := t.resolve(prefix[:i])
		if err != nil {
			return nil, err
		}
		dir = p
	}

	var keys []string
	err := afero.Walk(t.fs, dir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() || strings.HasSuffix(p, partialSuffix) {
			return nil
		}
		rel, err := filepath.Rel(t.root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "listing %s", prefix)
	}
	sort.Strings(keys)
	return keys, nil
}

func (t *FilesystemTarget) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	p, err := t.resolve(key)
	if err != nil {
		return ObjectInfo{}, err
	}
	info, err := t.fs.Stat(p)
	if os.IsNotExist(err) {
		return ObjectInfo{}, notFound(key)
	}
	if err != nil {
		return ObjectInfo{}, errors.Wrapf(err, "stat %s", key)
	}
	return ObjectInfo{Key: key, Size: info.Size(), ModTime: info.ModTime()}, nil
}

// Capacity reports the configured capacity or the size of the filesystem
// holding root, and the bytes actually stored below root.
func (t *FilesystemTarget) Capacity(ctx context.Context) (domain.Capacity, error) {
	if ok, err := afero.DirExists(t.fs, t.root); err != nil || !ok {
		return domain.Capacity{}, errors.Errorf("share %s is not mounted at %s", t.name, t.root)
	}

	total := t.capacityBytes
	if total <= 0 {
		var err error
		if total, err = t.diskTotal(t.root); err != nil {
			return domain.Capacity{}, errors.Wrapf(err, "statfs %s", t.root)
		}
	}

	var used int64
	err := afero.Walk(t.fs, t.root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			used += info.Size()
		}
		return nil
	})
	if err != nil {
		return domain.Capacity{}, errors.Wrapf(err, "measuring usage of %s", t.root)
	}
	return domain.Capacity{Total: total, Used: used}, nil
}
