package comcore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/infodancer/comcore/internal/crypto"
)

// maxUploadBytes bounds the decoded size of a single upload.
const maxUploadBytes = 10 << 20

// uploadFile stores a base64-encoded file in the upload area and returns a
// download link. Names are sanitized and prefixed with a random code so
// uploads can never collide or escape the upload directory.
func (e *Engine) uploadFile(ctx context.Context, c *Client, data json.RawMessage) (any, error) {
	if _, err := c.requireUser(); err != nil {
		return nil, err
	}
	var req struct {
		Name     string `json:"name"`
		Contents string `json:"contents"`
	}
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if e.uploadDir == "" {
		return nil, Errorf("uploads are not enabled")
	}

	name := sanitizeFileName(req.Name)
	if name == "" {
		return nil, Errorf("name is required")
	}

	// Reject oversized payloads before decoding.
	if base64.StdEncoding.DecodedLen(len(req.Contents)) > maxUploadBytes+2 {
		return nil, Errorf("file exceeds the 10 MB limit")
	}
	contents, err := base64.StdEncoding.DecodeString(req.Contents)
	if err != nil {
		return nil, Errorf("contents must be base64")
	}
	if len(contents) > maxUploadBytes {
		return nil, Errorf("file exceeds the 10 MB limit")
	}

	prefix, err := crypto.HumanCode(8)
	if err != nil {
		return nil, err
	}
	stored := prefix + "_" + name

	if err := os.MkdirAll(e.uploadDir, 0o750); err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(e.uploadDir, stored), contents, 0o640); err != nil {
		return nil, err
	}

	link := stored
	if e.joinBaseURL != "" {
		link = strings.TrimRight(e.joinBaseURL, "/") + "/files/" + stored
	}
	return struct {
		Link string `json:"link"`
	}{Link: link}, nil
}

// sanitizeFileName reduces a client-supplied name to a safe base name:
// path separators are dropped and anything outside a conservative charset
// becomes an underscore.
func sanitizeFileName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == ".." || name == "/" {
		return ""
	}

	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := strings.Trim(b.String(), ".")
	return out
}
