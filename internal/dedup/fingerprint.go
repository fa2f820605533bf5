package dedup

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/notifyd/notifyd/internal/domain"
)

// Fingerprinter computes the deterministic hash that identifies a logical
// notification for duplicate suppression. By default the identity is
// (recipient, template, time bucket); VarKeys narrows in the named variables
// for templates whose payload distinguishes otherwise-identical sends.
type Fingerprinter struct {
	// Window is the suppression window; it also sizes the time bucket so a
	// fingerprint cannot collide with one from a much earlier period.
	Window time.Duration
	// VarKeys lists the variable names included in the identity. Empty means
	// recipient+template only.
	VarKeys []string
}

func NewFingerprinter(window time.Duration, varKeys ...string) *Fingerprinter {
	if window <= 0 {
		window = time.Hour
	}
	keys := append([]string(nil), varKeys...)
	sort.Strings(keys)
	return &Fingerprinter{Window: window, VarKeys: keys}
}

// Fingerprint hashes the logical identity of a submission at the given instant.
func (f *Fingerprinter) Fingerprint(channel domain.Channel, recipient, template string, variables map[string]string, now time.Time) string {
	digest := xxhash.New()

	bucket := now.UTC().Truncate(f.Window).Unix()
	fmt.Fprintf(digest, "%s\x00%s\x00%s\x00%d",
		channel,
		strings.ToLower(strings.TrimSpace(recipient)),
		strings.TrimSpace(template),
		bucket,
	)

	for _, key := range f.VarKeys {
		fmt.Fprintf(digest, "\x00%s=%s", key, variables[key])
	}

	return fmt.Sprintf("%016x", digest.Sum64())
}
