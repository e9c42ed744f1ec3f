package db

import (
	"log"
	"sync"
	"time"

	"gradebook-server-go/models"
)

// Writer persists one workspace snapshot.
type Writer interface {
	Save(ws models.Workspace) error
}

// DebouncedSaver collapses a burst of workspace changes into one write. Each
// Schedule cancels any pending write and starts a fresh window, so only the
// newest snapshot ever reaches the writer. Write failures are logged and
// otherwise ignored; the in-memory workspace remains the source of truth.
type DebouncedSaver struct {
	writer Writer
	delay  time.Duration

	mu        sync.Mutex
	timer     *time.Timer
	lastSaved time.Time
}

// NewDebouncedSaver wraps a writer with a debounce window.
func NewDebouncedSaver(writer Writer, delay time.Duration) *DebouncedSaver {
	return &DebouncedSaver{writer: writer, delay: delay}
}

// Schedule queues the snapshot for writing once the window elapses without a
// newer change. Cancel-on-supersede: there is never a backlog of writes.
func (d *DebouncedSaver) Schedule(ws models.Workspace) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, func() {
		d.write(ws)
	})
}

// Flush writes any pending snapshot immediately. Used at shutdown.
func (d *DebouncedSaver) Flush(ws models.Workspace) {
	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.mu.Unlock()
	d.write(ws)
}

// LastSaved reports when the last successful write finished (zero if none).
func (d *DebouncedSaver) LastSaved() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastSaved
}

func (d *DebouncedSaver) write(ws models.Workspace) {
	if err := d.writer.Save(ws); err != nil {
		log.Printf("Error saving workspace state: %v", err)
		return
	}
	d.mu.Lock()
	d.lastSaved = time.Now()
	d.mu.Unlock()
}
