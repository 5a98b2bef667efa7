package session

import (
	"encoding/base64"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/pkg/errors"

	"github.com/cjeanneret/capscan/internal/fault"
)

// FilePayload is a user-chosen file handed to the file fallback paths.
type FilePayload struct {
	Name        string
	ContentType string // as declared by the picker; may be empty
	Data        []byte
}

// MediaType returns the payload's image MIME type. A missing or generic
// declared type is replaced by content sniffing. Anything that is not
// image/* fails with fault.InvalidFileType.
func (p FilePayload) MediaType() (string, error) {
	ct := strings.TrimSpace(p.ContentType)
	if ct != "" {
		if parsed, _, err := mime.ParseMediaType(ct); err == nil {
			ct = parsed
		}
	}
	if ct == "" || ct == "application/octet-stream" {
		ct, _, _ = mime.ParseMediaType(http.DetectContentType(p.Data))
	}
	if len(p.Data) == 0 {
		return "", fault.Newf(fault.InvalidFileType, "input.validate", "%s is empty", p.displayName())
	}
	if !strings.HasPrefix(ct, "image/") {
		return "", fault.Newf(fault.InvalidFileType, "input.validate", "%s has type %q, want image/*", p.displayName(), ct)
	}
	return ct, nil
}

func (p FilePayload) displayName() string {
	if p.Name == "" {
		return "file"
	}
	return p.Name
}

// ParseDataURI decodes a "data:<type>[;base64],<data>" string.
func ParseDataURI(s string) (FilePayload, error) {
	const prefix = "data:"
	if !strings.HasPrefix(s, prefix) {
		return FilePayload{}, fault.Newf(fault.InvalidFileType, "input.data_uri", "not a data URI")
	}
	meta, data, ok := strings.Cut(s[len(prefix):], ",")
	if !ok {
		return FilePayload{}, fault.Newf(fault.InvalidFileType, "input.data_uri", "missing data separator")
	}

	isBase64 := false
	if strings.HasSuffix(meta, ";base64") {
		isBase64 = true
		meta = strings.TrimSuffix(meta, ";base64")
	}

	var raw []byte
	if isBase64 {
		b, err := base64.StdEncoding.DecodeString(data)
		if err != nil {
			return FilePayload{}, fault.New(fault.InvalidFileType, "input.data_uri", errors.Wrap(err, "base64"))
		}
		raw = b
	} else {
		unescaped, err := url.PathUnescape(data)
		if err != nil {
			return FilePayload{}, fault.New(fault.InvalidFileType, "input.data_uri", err)
		}
		raw = []byte(unescaped)
	}
	return FilePayload{ContentType: meta, Data: raw}, nil
}
