package security

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// maxFingerprintLen caps the value before transmission to the backend.
const maxFingerprintLen = 64

// FingerprintComponents are the coarse device signals reported by the
// client at session start.
type FingerprintComponents struct {
	ScreenResolution string `json:"screenResolution"`
	Timezone         string `json:"timezone"`
	Language         string `json:"language"`
	Platform         string `json:"platform"`
	CanvasHash       string `json:"canvasHash"`
}

// Fingerprint derives a best-effort anti-replay signal from the device
// components plus a timestamp. It is a weak heuristic, not an identity
// primitive: two devices may collide and one device drifts over time.
func Fingerprint(c FingerprintComponents, now time.Time) string {
	canvas := c.CanvasHash
	if len(canvas) > 16 {
		canvas = canvas[:16]
	}
	composite := strings.Join([]string{
		c.ScreenResolution,
		c.Timezone,
		c.Language,
		c.Platform,
		canvas,
		fmt.Sprintf("%d", now.Unix()),
	}, "|")

	sum := sha256.Sum256([]byte(composite))
	fp := hex.EncodeToString(sum[:])
	if len(fp) > maxFingerprintLen {
		fp = fp[:maxFingerprintLen]
	}
	return fp
}
