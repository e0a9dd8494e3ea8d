package analyses

import (
	"fmt"
	"io"
	"net/http"
)

const defaultMaxArtifactBytes = 10 << 20

// Artifact types accepted for analysis. The declared multipart type is
// ignored; only the sniffed type counts.
var allowedImageTypes = map[string]struct{}{
	"image/jpeg": {},
	"image/png":  {},
	"image/webp": {},
}

// readArtifact drains the submitted image into memory, enforcing the size cap
// and sniffing the real content type.
func readArtifact(r io.Reader, maxBytes int64) ([]byte, string, error) {
	if maxBytes <= 0 {
		maxBytes = defaultMaxArtifactBytes
	}
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("read artifact: %w", err)
	}
	if len(data) == 0 {
		return nil, "", errValidation("image is required")
	}
	if int64(len(data)) > maxBytes {
		return nil, "", errValidation(fmt.Sprintf("image exceeds %d byte limit", maxBytes))
	}
	mimeType := http.DetectContentType(data)
	if _, ok := allowedImageTypes[mimeType]; !ok {
		return nil, "", errValidation("unsupported image type " + mimeType)
	}
	return data, mimeType, nil
}
