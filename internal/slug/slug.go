// Package slug derives the file name stem shared by a session's archived
// artifacts.
package slug

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// MaxAttempts bounds the numeric suffix search in Unique.
const MaxAttempts = 999

const maxTagLen = 50

var (
	headingRe = regexp.MustCompile(`(?m)^#[ \t]+(.+)$`)
	nonWordRe = regexp.MustCompile(`[^a-z0-9]+`)
)

// Generate returns "YYYY-MM-DD-<tag>" where tag comes from the first
// top-level heading in content, or "YYYY-MM-DD-plan" when there is none.
func Generate(content string, now time.Time) string {
	date := now.Format("2006-01-02")
	tag := headingTag(content)
	if tag == "" {
		tag = "plan"
	}
	return date + "-" + tag
}

func headingTag(content string) string {
	m := headingRe.FindStringSubmatch(content)
	if m == nil {
		return ""
	}
	tag := nonWordRe.ReplaceAllString(strings.ToLower(m[1]), "-")
	tag = strings.Trim(tag, "-")
	if len(tag) > maxTagLen {
		tag = strings.TrimRight(tag[:maxTagLen], "-")
	}
	return tag
}

// Unique returns a slug from Generate for which "{slug}.md" does not exist
// in dir. Collisions get "-2" through "-999"; past that a millisecond
// timestamp suffix is used.
func Unique(content, dir string, now time.Time) string {
	base := Generate(content, now)
	if !exists(dir, base) {
		return base
	}
	for n := 2; n <= MaxAttempts; n++ {
		candidate := fmt.Sprintf("%s-%d", base, n)
		if !exists(dir, candidate) {
			return candidate
		}
	}
	return fmt.Sprintf("%s-%d", base, now.UnixMilli())
}

func exists(dir, slug string) bool {
	_, err := os.Lstat(filepath.Join(dir, slug+".md"))
	return err == nil
}

// Allocator hands out slugs using its clock.
type Allocator struct {
	Now func() time.Time
}

// Unique is the clock-bound form of the package-level Unique.
func (a Allocator) Unique(content, dir string) string {
	now := time.Now
	if a.Now != nil {
		now = a.Now
	}
	return Unique(content, dir, now())
}
