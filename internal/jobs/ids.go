package jobs

import (
	"path"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	timestampLayout = "20060102150405"
	// maxStemLen keeps job directory names well under filesystem name limits.
	maxStemLen = 100
)

// IDGenerator issues job identifiers of the form <timestamp>_<stem>. Identifiers
// issued within the same second that would otherwise collide get a _<n> suffix.
type IDGenerator struct {
	mu     sync.Mutex
	clock  func() time.Time
	second string
	issued map[string]struct{}
}

func NewIDGenerator(clock func() time.Time) *IDGenerator {
	if clock == nil {
		clock = time.Now
	}
	return &IDGenerator{clock: clock, issued: make(map[string]struct{})}
}

func (g *IDGenerator) Next(filename string) string {
	stem := Stem(filename)

	g.mu.Lock()
	defer g.mu.Unlock()

	ts := g.clock().Format(timestampLayout)
	if ts != g.second {
		g.second = ts
		g.issued = make(map[string]struct{})
	}

	base := ts + "_" + stem
	id := base
	for n := 2; ; n++ {
		if _, taken := g.issued[id]; !taken {
			break
		}
		id = base + "_" + strconv.Itoa(n)
	}
	g.issued[id] = struct{}{}
	return id
}

// Stem returns the base name of filename without its extension, restricted to
// characters that are safe in a directory name and at most maxStemLen bytes.
func Stem(filename string) string {
	name := baseName(filename)
	name = sanitize(strings.TrimSuffix(name, path.Ext(name)))
	if len(name) > maxStemLen {
		name = name[:maxStemLen]
	}
	name = strings.Trim(name, ".")
	if name == "" {
		return "image"
	}
	return name
}

// SafeFileName is Stem with the extension kept.
func SafeFileName(filename string) string {
	ext := sanitize(path.Ext(baseName(filename)))
	if ext == "." || len(ext) > maxStemLen {
		ext = ""
	}
	return Stem(filename) + ext
}

func baseName(filename string) string {
	return path.Base(strings.ReplaceAll(filename, `\`, "/"))
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, s)
}
