package recording

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"mime"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

var extensionByContentType = map[string]string{
	"audio/mpeg":      ".mp3",
	"audio/mp3":       ".mp3",
	"audio/ogg":       ".ogg",
	"application/ogg": ".ogg",
	"audio/wav":       ".wav",
	"audio/x-wav":     ".wav",
	"audio/wave":      ".wav",
}

// Extension picks the file extension from the response content type,
// falling back to the URL path and finally to .bin.
func Extension(contentType, recordingURL string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err == nil {
		ext, ok := extensionByContentType[mediaType]
		if ok {
			return ext
		}
	}

	parsed, err := url.Parse(recordingURL)
	if err == nil {
		ext := strings.ToLower(path.Ext(parsed.Path))
		if ext != "" {
			return ext
		}
	}

	return ".bin"
}

// ObjectKey derives a stable storage key from the call id, so retried
// uploads for the same call overwrite instead of piling up.
func ObjectKey(callID, ext string) string {
	sum := sha256.Sum256([]byte(callID))

	return hex.EncodeToString(sum[:])[:32] + ext
}

// OriginalFilename builds the human-facing filename carried on the task.
func OriginalFilename(dialTime time.Time, calling, ext string) string {
	sanitized := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}

		return -1
	}, calling)

	if sanitized == "" {
		sanitized = "unknown"
	}

	return fmt.Sprintf("%s_%s_%s%s",
		dialTime.Format("20060102150405"),
		sanitized,
		uuid.New().String()[:8],
		ext,
	)
}
