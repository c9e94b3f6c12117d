package monitor

import (
	"bytes"
	"net/http"
	"sync"
)

// bufferedWriter holds the worker leg's response so its output can become
// the job's status text before anything reaches the client.
type bufferedWriter struct {
	mu     sync.Mutex
	header http.Header
	status int
	body   bytes.Buffer
}

func newBufferedWriter() *bufferedWriter {
	return &bufferedWriter{header: make(http.Header)}
}

func (b *bufferedWriter) Header() http.Header { return b.header }

func (b *bufferedWriter) WriteHeader(code int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.status == 0 {
		b.status = code
	}
}

func (b *bufferedWriter) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.status == 0 {
		b.status = http.StatusOK
	}
	return b.body.Write(p)
}

// String returns the output written so far.
func (b *bufferedWriter) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.body.String()
}

func (b *bufferedWriter) Status() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.status == 0 {
		return http.StatusOK
	}
	return b.status
}

// flush copies the buffered response to w.
func (b *bufferedWriter) flush(w http.ResponseWriter) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for k, v := range b.header {
		w.Header()[k] = v
	}
	status := b.status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(b.body.Bytes())
}
