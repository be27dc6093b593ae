package archivesvc

import (
	"archive/zip"
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/sir_venger/drive_lite/internal/models"
	"github.com/sir_venger/drive_lite/internal/pathguard"
)

// Compress упаковывает перечисленные элементы каталога dir в zip-архив archiveName.
func (a *Archives) Compress(ctx context.Context, storageID, dir string, names []string, archiveName string) (string, error) {
	if len(names) == 0 {
		return "", models.Invalid("nothing to compress")
	}
	if !strings.HasSuffix(strings.ToLower(archiveName), ".zip") {
		archiveName += ".zip"
	}
	if err := pathguard.ValidateName(archiveName); err != nil {
		return "", err
	}

	root, err := a.Registry.Resolve(ctx, storageID)
	if err != nil {
		return "", err
	}
	base, err := pathguard.Resolve(root.Path, dir)
	if err != nil {
		return "", err
	}

	sources := make([]string, 0, len(names))
	for _, n := range names {
		if err := pathguard.ValidateName(n); err != nil {
			return "", err
		}
		p, err := pathguard.Resolve(root.Path, joinRel(dir, n))
		if err != nil {
			return "", err
		}
		if _, err := os.Lstat(p); err != nil {
			return "", models.Invalid("%s does not exist", joinRel(dir, n))
		}
		sources = append(sources, p)
	}

	destRel := joinRel(dir, archiveName)
	dest, err := pathguard.Resolve(root.Path, destRel)
	if err != nil {
		return "", err
	}
	if _, err := os.Lstat(dest); err == nil {
		return "", models.Invalid("%s already exists", destRel)
	}

	err = a.withSlot(ctx, func() error {
		return writeZip(ctx, base, sources, dest)
	})
	if err != nil {
		a.Log.Warn().Err(err).Str("op", "archive/compress").Str("dest", destRel).Msg("compress failed")
		return "", err
	}

	a.Log.Info().Str("op", "archive/compress").Str("storage", root.ID).Str("dest", destRel).Int("items", len(sources)).Msg("archive created")
	return destRel, nil
}

func writeZip(ctx context.Context, base string, sources []string, dest string) error {
	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".*.tmp")
	if err != nil {
		return models.Internal("create archive", err)
	}
	defer os.Remove(tmp.Name())

	zw := zip.NewWriter(tmp)
	for _, src := range sources {
		err := filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			// симлинки не следуем
			if d.Type()&fs.ModeSymlink != 0 {
				return nil
			}
			rel, err := filepath.Rel(base, p)
			if err != nil {
				return err
			}
			return addToZip(zw, p, filepath.ToSlash(rel), d)
		})
		if err != nil {
			tmp.Close()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return models.Internal("compress "+filepath.Base(src), err)
		}
	}

	if err := zw.Close(); err != nil {
		tmp.Close()
		return models.Internal("finish archive", err)
	}
	if err := tmp.Close(); err != nil {
		return models.Internal("close archive", err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return models.Internal("rename archive", err)
	}
	return nil
}

func addToZip(zw *zip.Writer, p, name string, d fs.DirEntry) error {
	info, err := d.Info()
	if err != nil {
		return err
	}
	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	hdr.Name = name
	if d.IsDir() {
		hdr.Name += "/"
		_, err := zw.CreateHeader(hdr)
		return err
	}
	if !info.Mode().IsRegular() {
		return nil
	}
	hdr.Method = zip.Deflate

	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return err
	}
	f, err := os.Open(p)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(w, f)
	return err
}
