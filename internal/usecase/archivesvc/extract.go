package archivesvc

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sir_venger/drive_lite/internal/models"
	"github.com/sir_venger/drive_lite/internal/pathguard"
)

// Extract распаковывает архив dir/name в соседний каталог с именем архива без расширения
// и возвращает относительный путь этого каталога. Любая запись, выходящая за корень, прерывает распаковку.
func (a *Archives) Extract(ctx context.Context, storageID, dir, name string) (string, error) {
	if err := pathguard.ValidateName(name); err != nil {
		return "", err
	}
	kind, stem, ok := detectKind(name)
	if !ok {
		return "", models.Invalid("unsupported archive format: %s", name)
	}

	root, err := a.Registry.Resolve(ctx, storageID)
	if err != nil {
		return "", err
	}
	src, err := pathguard.Resolve(root.Path, joinRel(dir, name))
	if err != nil {
		return "", err
	}
	if fi, err := os.Stat(src); err != nil || !fi.Mode().IsRegular() {
		return "", fmt.Errorf("%w: archive %s", models.ErrNotFound, joinRel(dir, name))
	}

	parent := filepath.Dir(src)
	outRel := joinRel(dir, freeName(parent, stem, ""))
	outDir, err := pathguard.Resolve(root.Path, outRel)
	if err != nil {
		return "", err
	}

	err = a.withSlot(ctx, func() error {
		if err := os.MkdirAll(outDir, 0o755); err != nil {
			return models.Internal("create extract dir", err)
		}
		x := extractor{ctx: ctx, root: root.Path, outRel: outRel}
		switch kind {
		case kindZip:
			return x.zip(src)
		case kindTarGz:
			return x.tarGz(src)
		default:
			return x.tarFile(src)
		}
	})
	if err != nil {
		_ = os.RemoveAll(outDir)
		a.Log.Warn().Err(err).Str("op", "archive/extract").Str("archive", src).Msg("extract failed")
		return "", err
	}

	a.Log.Info().Str("op", "archive/extract").Str("storage", root.ID).Str("dest", outRel).Msg("archive extracted")
	return outRel, nil
}

type extractor struct {
	ctx    context.Context
	root   string
	outRel string
}

func (x extractor) zip(src string) error {
	zr, err := zip.OpenReader(src)
	if err != nil {
		return models.Invalid("open zip: %v", err)
	}
	defer zr.Close()

	for _, f := range zr.File {
		if err := x.ctx.Err(); err != nil {
			return err
		}
		target, err := resolveEntry(x.root, x.outRel, f.Name)
		if err != nil {
			return err
		}
		mode := f.Mode()
		switch {
		case mode.IsDir():
			if err := os.MkdirAll(target, 0o755); err != nil {
				return models.Internal("create dir", err)
			}
		case mode.IsRegular():
			rc, err := f.Open()
			if err != nil {
				return models.Invalid("zip entry %s: %v", f.Name, err)
			}
			err = writeFile(target, rc)
			rc.Close()
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func (x extractor) tarGz(src string) error {
	f, err := os.Open(src)
	if err != nil {
		return models.Internal("open archive", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return models.Invalid("open gzip: %v", err)
	}
	defer gz.Close()
	return x.tar(gz)
}

func (x extractor) tarFile(src string) error {
	f, err := os.Open(src)
	if err != nil {
		return models.Internal("open archive", err)
	}
	defer f.Close()
	return x.tar(f)
}

func (x extractor) tar(r io.Reader) error {
	tr := tar.NewReader(r)
	for {
		if err := x.ctx.Err(); err != nil {
			return err
		}
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return models.Invalid("read tar: %v", err)
		}

		target, err := resolveEntry(x.root, x.outRel, hdr.Name)
		if err != nil {
			return err
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return models.Internal("create dir", err)
			}
		case tar.TypeReg:
			if err := writeFile(target, tr); err != nil {
				return err
			}
		}
		// ссылки и спецфайлы не создаём
	}
}

func writeFile(target string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return models.Internal("create dir", err)
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return models.Internal("create file", err)
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return models.Internal("write file", err)
	}
	if err := out.Close(); err != nil {
		return models.Internal("close file", err)
	}
	return nil
}
