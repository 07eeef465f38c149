package filtertest

import (
	"bytes"
	"sync"
	"testing"

	log "github.com/sirupsen/logrus"
)

// LogBuffer collects the output of the standard logger. It can be read
// while the filters log from other goroutines.
type LogBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *LogBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *LogBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// CaptureLog redirects the standard logger to a buffer with the given
// level, until the end of the test.
func CaptureLog(t *testing.T, level log.Level) *LogBuffer {
	oldOut := log.StandardLogger().Out
	oldLevel := log.GetLevel()

	out := &LogBuffer{}
	log.SetOutput(out)
	log.SetLevel(level)

	t.Cleanup(func() {
		log.SetOutput(oldOut)
		log.SetLevel(oldLevel)
	})

	return out
}
