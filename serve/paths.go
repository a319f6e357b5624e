package serve

import (
	"encoding/base64"
	"fmt"
	"mime"
	"path"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/everydev1618/devspace"
)

// cleanPath normalizes a workspace-relative path, rejecting absolute paths
// and traversal. The empty path is the workspace root.
func cleanPath(p string) (string, error) {
	p = strings.ReplaceAll(p, "\\", "/")
	if strings.HasPrefix(p, "/") {
		return "", fmt.Errorf("%w: %s is absolute", devspace.ErrInvalidPath, p)
	}
	cleaned := path.Clean(p)
	if cleaned == "." {
		return "", nil
	}
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: %s escapes the workspace", devspace.ErrInvalidPath, p)
	}
	return cleaned, nil
}

// detectContentType returns a MIME type for the given filename.
func detectContentType(name string) string {
	ext := filepath.Ext(name)
	if ext == "" {
		return "application/octet-stream"
	}

	switch strings.ToLower(ext) {
	case ".md", ".markdown":
		return "text/markdown"
	case ".yaml", ".yml":
		return "text/yaml"
	case ".json":
		return "application/json"
	case ".go":
		return "text/x-go"
	case ".py":
		return "text/x-python"
	case ".js", ".mjs", ".cjs":
		return "text/javascript"
	case ".ts", ".tsx":
		return "text/typescript"
	case ".jsx":
		return "text/jsx"
	case ".sh", ".bash":
		return "text/x-shellscript"
	case ".toml":
		return "text/toml"
	case ".svg":
		return "image/svg+xml"
	}

	if ct := mime.TypeByExtension(ext); ct != "" {
		if i := strings.IndexByte(ct, ';'); i >= 0 {
			ct = strings.TrimSpace(ct[:i])
		}
		return ct
	}
	return "application/octet-stream"
}

func isTextContentType(ct string) bool {
	if strings.HasPrefix(ct, "text/") {
		return true
	}
	switch ct {
	case "application/json", "application/xml", "application/javascript",
		"application/x-yaml", "application/toml", "image/svg+xml":
		return true
	}
	return false
}

// encodeContent picks utf-8 for text and base64 for everything else.
func encodeContent(fc *FileContent, data []byte) {
	if isTextContentType(fc.ContentType) || (fc.ContentType == "application/octet-stream" && utf8.Valid(data)) {
		fc.Content = string(data)
		fc.Encoding = "utf-8"
		return
	}
	fc.Content = base64.StdEncoding.EncodeToString(data)
	fc.Encoding = "base64"
}
