package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// SaveFile writes data to path. Animated payloads are written verbatim;
// static payloads are re-encoded with the fixed PNG settings, and written
// verbatim if that fails. Only filesystem errors are returned.
func (r *Recolorer) SaveFile(path string, data []byte) error {
	out := data
	if Classify(data) == KindStatic {
		encoded, err := r.static.Reencode(data)
		if err != nil {
			r.logger.Printf("save re-encode failed, writing bytes verbatim path=%s err=%v", path, err)
		} else {
			out = encoded
		}
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("write output file %s: %w", path, err)
	}
	return nil
}

// EditedName maps a source file name to the name used for batch exports:
// "photo.png" becomes "photo_edited.png".
func EditedName(name string) string {
	base := filepath.Base(strings.TrimSpace(name))
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if stem == "" || stem == "." || stem == string(filepath.Separator) {
		stem = "image"
	}
	return stem + "_edited.png"
}
