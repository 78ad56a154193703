package engine

import (
	"os"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/luciancaetano/vmhttp/internal/diag"
)

// ReadSource reads a script file as text. A UTF-8 or UTF-16 byte order mark
// selects the encoding and is stripped; without one the file is UTF-8.
func ReadSource(path string) (string, *diag.Error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fileError(err, path)
	}
	if len(raw) == 0 {
		return "", diag.Newf(diag.ErrFileEmpty, "'%s' is empty", path)
	}
	return DecodeSource(raw)
}

// DecodeSource decodes raw script bytes using the BOM rules of ReadSource.
func DecodeSource(raw []byte) (string, *diag.Error) {
	dec := unicode.BOMOverride(unicode.UTF8.NewDecoder())
	out, _, err := transform.Bytes(dec, raw)
	if err != nil {
		return "", diag.Wrap(diag.ErrJSONUnsupportedEncoding, err).Add("decode script source")
	}
	return string(out), nil
}
