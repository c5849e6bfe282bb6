package dispatch

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// archiveAttachment copies src to dir/<timestamp>_<basename>, keeping the
// source modification time. It returns the destination path.
func archiveAttachment(src, dir string, now time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("archive: %w", err)
	}
	dst := filepath.Join(dir, now.Format(ExecutionIDLayout)+"_"+filepath.Base(src))

	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("archive: %w", err)
	}
	defer in.Close()
	st, err := in.Stat()
	if err != nil {
		return "", fmt.Errorf("archive: %w", err)
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, st.Mode().Perm())
	if err != nil {
		return "", fmt.Errorf("archive: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return "", fmt.Errorf("archive: %w", err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(dst)
		return "", fmt.Errorf("archive: %w", err)
	}
	_ = os.Chtimes(dst, st.ModTime(), st.ModTime())
	return dst, nil
}
