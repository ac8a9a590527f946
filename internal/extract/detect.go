package extract

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

const docxMIME = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

var extensionTypes = map[string]Type{
	"txt": TypeText, "text": TypeText, "md": TypeText, "markdown": TypeText,
	"rst": TypeText, "org": TypeText, "tex": TypeText, "log": TypeText,
	"csv": TypeText, "tsv": TypeText, "json": TypeText, "yaml": TypeText,
	"yml": TypeText, "toml": TypeText, "ini": TypeText, "cfg": TypeText,
	"conf": TypeText, "xml": TypeText, "go": TypeText, "rs": TypeText,
	"py": TypeText, "js": TypeText, "ts": TypeText, "java": TypeText,
	"c": TypeText, "h": TypeText, "cpp": TypeText, "hpp": TypeText,
	"rb": TypeText, "sh": TypeText, "sql": TypeText,

	"html": TypeHTML, "htm": TypeHTML, "xhtml": TypeHTML,
	"docx": TypeDOCX,
	"pdf":  TypePDF,

	"png": TypeImage, "jpg": TypeImage, "jpeg": TypeImage, "gif": TypeImage,
	"bmp": TypeImage, "tif": TypeImage, "tiff": TypeImage, "webp": TypeImage,
}

// DetectType picks the extraction route for path: by extension when it is
// known, otherwise by sniffing the first bytes of content.
func DetectType(path string) (Type, string, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	if t, ok := extensionTypes[ext]; ok {
		return t, "", nil
	}

	f, err := os.Open(path)
	if err != nil {
		return TypeUnknown, "", err
	}
	defer f.Close()

	head := make([]byte, 3072)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return TypeUnknown, "", err
	}
	mime := detectMIME(head[:n])
	return typeForMIME(mime), mime, nil
}

func detectMIME(head []byte) string {
	if len(head) == 0 {
		return "text/plain"
	}
	return mimetype.Detect(head).String()
}

func typeForMIME(mime string) Type {
	base, _, _ := strings.Cut(mime, ";")
	base = strings.TrimSpace(base)
	switch {
	case base == "text/html" || base == "application/xhtml+xml":
		return TypeHTML
	case base == "application/pdf":
		return TypePDF
	case base == docxMIME:
		return TypeDOCX
	case strings.HasPrefix(base, "image/"):
		return TypeImage
	case strings.HasPrefix(base, "text/"), base == "application/json", base == "application/xml":
		return TypeText
	default:
		return TypeUnknown
	}
}
