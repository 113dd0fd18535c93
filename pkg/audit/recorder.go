// Package audit records what every plugin did to every class. The dispatcher
// and the plugins themselves feed a Recorder; the Trail implementation hash
// chains entries so the record of a launch can be exported and verified
// later.
package audit

import (
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Recorder receives transformation audit output. Append must be safe for
// concurrent use; it is called from every dispatching goroutine.
type Recorder interface {
	Append(className string, fields []string)
}

// NopRecorder discards everything.
type NopRecorder struct{}

func (NopRecorder) Append(string, []string) {}

// RecorderFunc adapts a function to the Recorder interface.
type RecorderFunc func(className string, fields []string)

func (f RecorderFunc) Append(className string, fields []string) { f(className, fields) }

// event is the line format WriterRecorder emits.
type event struct {
	ID        string    `json:"id"`
	ClassName string    `json:"class_name"`
	Fields    []string  `json:"fields,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// WriterRecorder writes one JSON line per entry to a configurable writer.
type WriterRecorder struct {
	mu     sync.Mutex
	writer io.Writer
}

// NewWriterRecorder creates a recorder writing to w. A nil writer falls back
// to os.Stdout.
func NewWriterRecorder(w io.Writer) *WriterRecorder {
	if w == nil {
		w = os.Stdout
	}
	return &WriterRecorder{writer: w}
}

func (r *WriterRecorder) Append(className string, fields []string) {
	evt := event{
		ID:        uuid.New().String(),
		ClassName: className,
		Fields:    fields,
		Timestamp: time.Now().UTC(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	bytes, err := json.Marshal(evt)
	if err != nil {
		return
	}
	// Prefix for easy filtering in mixed output
	_, _ = r.writer.Write(append([]byte("AUDIT: "), append(bytes, '\n')...))
}

// Tee fans one append out to several recorders.
func Tee(recorders ...Recorder) Recorder {
	return RecorderFunc(func(className string, fields []string) {
		for _, r := range recorders {
			if r != nil {
				r.Append(className, fields)
			}
		}
	})
}
