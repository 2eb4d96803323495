package util

import (
	"archive/zip"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
)

// CreateCBZ packs files into a comic archive. Entries are prefixed with their
// position so readers that sort by name keep the given page order.
func CreateCBZ(files []string, output string) error {
	tmp := output + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("cbz: %w", err)
	}

	z := zip.NewWriter(out)
	for i, file := range files {
		name := fmt.Sprintf("%04d_%s", i+1, filepath.Base(file))
		if err := addFileToZip(z, file, name); err != nil {
			_ = z.Close()
			_ = out.Close()
			_ = os.Remove(tmp)
			return fmt.Errorf("cbz: add %s: %w", file, err)
		}
	}

	if err := z.Close(); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("cbz: finalize %s: %w", output, err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("cbz: close %s: %w", output, err)
	}

	return os.Rename(tmp, output)
}

func addFileToZip(z *zip.Writer, file, name string) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			log.Printf("error closing input file %s: %v", file, cerr)
		}
	}()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}

	header.Name = name
	// JPEG data does not shrink under deflate.
	header.Method = zip.Store

	w, err := z.CreateHeader(header)
	if err != nil {
		return err
	}

	_, err = io.Copy(w, f)
	return err
}
