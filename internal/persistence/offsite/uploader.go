package offsite

import (
	"context"
	"fmt"
	"log"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Putter stores one local file under an object key.
type Putter interface {
	PutFile(ctx context.Context, key, localPath string) error
}

type Stats struct {
	Queued   int    `json:"queued"`
	Uploaded uint64 `json:"uploaded"`
	Failed   uint64 `json:"failed"`
	Dropped  uint64 `json:"dropped"`
}

// Uploader copies files under a data dir to a bucket from a single
// background worker. Keys mirror the path relative to the data dir.
type Uploader struct {
	dst     Putter
	dataDir string
	prefix  string
	log     *log.Logger

	jobs chan string
	done chan struct{}
	once sync.Once

	attempts int
	backoff  time.Duration

	uploaded atomic.Uint64
	failed   atomic.Uint64
	dropped  atomic.Uint64
}

func NewUploader(dst Putter, dataDir, prefix string, logger *log.Logger) *Uploader {
	u := &Uploader{
		dst:      dst,
		dataDir:  dataDir,
		prefix:   strings.Trim(strings.ReplaceAll(prefix, "\\", "/"), "/"),
		log:      logger,
		jobs:     make(chan string, 64),
		done:     make(chan struct{}),
		attempts: 4,
		backoff:  250 * time.Millisecond,
	}
	go u.run()
	return u
}

// Enqueue schedules localPath for upload. It never blocks; a full queue
// drops the file and counts it.
func (u *Uploader) Enqueue(localPath string) {
	if u == nil {
		return
	}
	select {
	case u.jobs <- localPath:
	default:
		n := u.dropped.Add(1)
		u.logf("offsite: queue full, dropped %s (dropped=%d)", filepath.Base(localPath), n)
	}
}

// Close uploads whatever is already queued, then stops the worker.
func (u *Uploader) Close() {
	if u == nil {
		return
	}
	u.once.Do(func() { close(u.jobs) })
	<-u.done
}

func (u *Uploader) Stats() Stats {
	if u == nil {
		return Stats{}
	}
	return Stats{
		Queued:   len(u.jobs),
		Uploaded: u.uploaded.Load(),
		Failed:   u.failed.Load(),
		Dropped:  u.dropped.Load(),
	}
}

func (u *Uploader) run() {
	defer close(u.done)
	for p := range u.jobs {
		key, err := u.Key(p)
		if err != nil {
			u.failed.Add(1)
			u.logf("offsite: skip %s: %v", p, err)
			continue
		}
		if err := u.put(key, p); err != nil {
			u.failed.Add(1)
			u.logf("offsite: upload %s failed: %v", key, err)
			continue
		}
		u.uploaded.Add(1)
		u.logf("offsite: uploaded %s", key)
	}
}

func (u *Uploader) put(key, localPath string) error {
	var err error
	for i := 1; i <= u.attempts; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		err = u.dst.PutFile(ctx, key, localPath)
		cancel()
		if err == nil {
			return nil
		}
		if i < u.attempts {
			time.Sleep(time.Duration(i*i) * u.backoff)
		}
	}
	return err
}

// Key maps a file under the data dir to its object key.
func (u *Uploader) Key(localPath string) (string, error) {
	base, err := filepath.Abs(u.dataDir)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(localPath)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(base, abs)
	if err != nil {
		return "", err
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("%s is outside %s", abs, base)
	}
	if u.prefix != "" {
		rel = path.Join(u.prefix, rel)
	}
	return rel, nil
}

func (u *Uploader) logf(format string, args ...any) {
	if u.log != nil {
		u.log.Printf(format, args...)
	}
}
