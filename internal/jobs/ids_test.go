package jobs

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	m.Run()
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestIDGenerator_TimestampAndStem(t *testing.T) {
	g := NewIDGenerator(newTestClock().Now)
	assert.Equal(t, "20240101000000_A", g.Next("A.jpg"))
}

func TestIDGenerator_SameSecondSameName(t *testing.T) {
	g := NewIDGenerator(newTestClock().Now)

	assert.Equal(t, "20240101000000_A", g.Next("A.jpg"))
	assert.Equal(t, "20240101000000_A_2", g.Next("A.jpg"))
	assert.Equal(t, "20240101000000_A_3", g.Next("A.png"))
}

func TestIDGenerator_SuffixDoesNotShadowRealName(t *testing.T) {
	g := NewIDGenerator(newTestClock().Now)

	first := g.Next("A.jpg")
	second := g.Next("A.jpg")
	third := g.Next("A_2.jpg")

	assert.Equal(t, "20240101000000_A_2", second)
	assert.NotEqual(t, second, third)
	assert.NotEqual(t, first, third)
}

func TestIDGenerator_NextSecond(t *testing.T) {
	clock := newTestClock()
	g := NewIDGenerator(clock.Now)

	first := g.Next("A.jpg")
	clock.Advance(time.Second)
	second := g.Next("A.jpg")

	assert.Equal(t, "20240101000000_A", first)
	assert.Equal(t, "20240101000001_A", second)
}

func TestIDGenerator_ConcurrentUnique(t *testing.T) {
	g := NewIDGenerator(newTestClock().Now)

	const n = 200
	ids := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids <- g.Next("page.jpg")
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool, n)
	for id := range ids {
		require.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
	assert.Len(t, seen, n)
}

func TestStem(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"A.jpg", "A"},
		{"dir/x y.png", "x_y"},
		{`C:\tmp\a.b.jpg`, "a.b"},
		{"", "image"},
		{"../..", "image"},
		{".hidden", "image"},
		{"räksmörgås.jpg", "r_ksm_rg_s"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Stem(tt.in), "Stem(%q)", tt.in)
	}
}

func TestSafeFileName(t *testing.T) {
	assert.Equal(t, "x_y.PNG", SafeFileName("x y.PNG"))
	assert.Equal(t, "passwd", SafeFileName("../../etc/passwd"))
	assert.Equal(t, "m.pt", SafeFileName("m.pt"))
}

func TestStem_CapsLength(t *testing.T) {
	long := strings.Repeat("a", 260) + ".jpg"

	assert.Len(t, Stem(long), maxStemLen)
	assert.Equal(t, strings.Repeat("a", maxStemLen)+".jpg", SafeFileName(long))

	g := NewIDGenerator(newTestClock().Now)
	assert.Equal(t, "20240101000000_"+strings.Repeat("a", maxStemLen), g.Next(long))
}
