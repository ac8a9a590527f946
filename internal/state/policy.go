package state

import (
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/Aman-CERP/nexus/internal/config"
)

// Skip reasons reported with a Skip verdict.
const (
	ReasonHidden      = "hidden file"
	ReasonExtension   = "excluded extension"
	ReasonExcluded    = "excluded name"
	ReasonImage       = "image files disabled"
	ReasonTooLarge    = "file exceeds size limit"
	ReasonUnsupported = "unsupported file type"
)

var imageExtensions = map[string]struct{}{
	"png": {}, "jpg": {}, "jpeg": {}, "gif": {}, "bmp": {},
	"tif": {}, "tiff": {}, "webp": {},
}

// IsImage reports whether path has an image extension.
func IsImage(path string) bool {
	_, ok := imageExtensions[extOf(path)]
	return ok
}

// Policy holds the configured exclusions. A Skip is terminal: no
// extraction is attempted for the file.
type Policy struct {
	SkipExtensions []string // Without the leading dot, case-insensitive
	SkipFiles      []string // Path segment names or base-name globs
	SkipHidden     bool
	SkipImages     bool
	MaxFileBytes   int64 // 0 disables the size limit
}

// PolicyFromConfig builds a Policy from the index section.
func PolicyFromConfig(cfg config.IndexConfig) Policy {
	return Policy{
		SkipExtensions: cfg.SkipExtensions,
		SkipFiles:      cfg.SkipFiles,
		SkipHidden:     cfg.SkipHidden,
		SkipImages:     cfg.SkipImages,
		MaxFileBytes:   int64(cfg.MaxFileMB) << 20,
	}
}

// Check returns a reason and true when path must be skipped. It only
// looks at the name and size, so it runs before the file is read.
func (p Policy) Check(path string, size int64) (string, bool) {
	base := filepath.Base(path)
	if p.SkipHidden && strings.HasPrefix(base, ".") {
		return ReasonHidden, true
	}

	ext := extOf(path)
	for _, e := range p.SkipExtensions {
		if strings.EqualFold(strings.TrimPrefix(e, "."), ext) {
			return ReasonExtension, true
		}
	}

	if p.excludedName(base) {
		return ReasonExcluded, true
	}

	if p.SkipImages && IsImage(path) {
		return ReasonImage, true
	}

	if p.MaxFileBytes > 0 && size > p.MaxFileBytes {
		return ReasonTooLarge, true
	}
	return "", false
}

// SkipDir reports whether a directory name is excluded from the walk.
func (p Policy) SkipDir(name string) bool {
	if p.SkipHidden && strings.HasPrefix(name, ".") && name != "." && name != ".." {
		return true
	}
	return p.excludedName(name)
}

// SkipRel reports whether any directory of a root-relative path is excluded.
func (p Policy) SkipRel(rel string) bool {
	segments := strings.Split(filepath.ToSlash(rel), "/")
	for _, seg := range segments[:len(segments)-1] {
		if p.SkipDir(seg) {
			return true
		}
	}
	return false
}

// excludedName matches a single name against SkipFiles, literally or as a glob.
func (p Policy) excludedName(name string) bool {
	for _, s := range p.SkipFiles {
		if s == name {
			return true
		}
		if ok, _ := doublestar.Match(s, name); ok {
			return true
		}
	}
	return false
}

func extOf(path string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
}
