// Package filepool maintains a bounded set of open files shared between torrent storages.
package filepool

import (
	"expvar"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/anacrolix/missinggo/v2/panicif"
	list "github.com/bahlo/generic-list-go"
)

// Identifies one torrent's storage within a session.
type StorageIndex uint32

type FileKey struct {
	Storage StorageIndex
	File    int
}

type entry struct {
	key     FileKey
	h       *Handle
	lastUse time.Time
}

// A physical open in progress. Callers wanting a compatible handle for the same key wait on done
// instead of opening the file again.
type openingFile struct {
	mode OpenMode
	done chan struct{}
	// Callers waiting on done. Each is given a reference when the open succeeds.
	waiters int32
	h       *Handle
	err     error
}

// How many opens were discarded after losing a race to register.
var wastedOpens = expvar.NewInt("torrentdiskFilePoolWastedOpens")

type Opts struct {
	// Maximum open files. Values less than 1 are treated as 1.
	Limit  int
	Logger *slog.Logger
}

type Pool struct {
	mu    sync.Mutex
	limit int
	files map[FileKey]*list.Element[*entry]
	// Least recently used at the front.
	lru     list.List[*entry]
	opening map[FileKey][]*openingFile

	openFile func(path string, size int64, mode OpenMode) (*Handle, error)
	logger   *slog.Logger
	metrics  *metrics
}

func New(opts Opts) *Pool {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Pool{
		limit:    max(opts.Limit, 1),
		files:    make(map[FileKey]*list.Element[*entry]),
		opening:  make(map[FileKey][]*openingFile),
		openFile: openHandle,
		logger:   opts.Logger,
		metrics:  newMetrics(),
	}
}

// Returns a handle for the file, opening it if there isn't a compatible one cached. The caller must
// Close the handle when done with it. size is used if mode includes Truncate.
func (p *Pool) Open(key FileKey, path string, size int64, mode OpenMode) (*Handle, error) {
	p.mu.Lock()
	if e, ok := p.files[key]; ok && e.Value.h.mode.Satisfies(mode) {
		p.touchLocked(e)
		h := e.Value.h
		h.inc(1)
		p.mu.Unlock()
		p.metrics.hits.Inc()
		return h, nil
	}
	for _, of := range p.opening[key] {
		if of.mode.Satisfies(mode) {
			of.waiters++
			p.mu.Unlock()
			p.metrics.waits.Inc()
			<-of.done
			return of.h, of.err
		}
	}
	of := &openingFile{
		mode: mode,
		done: make(chan struct{}),
	}
	p.opening[key] = append(p.opening[key], of)
	var closing []*Handle
	if _, ok := p.files[key]; !ok {
		closing = p.evictLocked(p.limit-1, closing)
	}
	p.mu.Unlock()
	p.closeAll(closing)

	p.metrics.opens.Inc()
	h, err := p.openFile(path, size, mode)

	p.mu.Lock()
	p.removeOpeningLocked(key, of)
	if err != nil {
		of.err = err
		close(of.done)
		p.mu.Unlock()
		return nil, err
	}
	h, closing = p.registerLocked(key, h, of.waiters)
	of.h = h
	close(of.done)
	p.mu.Unlock()
	p.closeAll(closing)
	return h, nil
}

// Inserts a freshly opened handle, which carries the opener's reference. Returns the handle that
// the opener and waiters should use, with a reference for each of them.
func (p *Pool) registerLocked(key FileKey, h *Handle, waiters int32) (_ *Handle, closing []*Handle) {
	if e, ok := p.files[key]; ok {
		existing := e.Value.h
		if existing.mode.Satisfies(h.mode) {
			// Someone else registered a handle that serves us too.
			wastedOpens.Add(1)
			existing.inc(1 + waiters)
			p.touchLocked(e)
			return existing, append(closing, h)
		}
		// Typically a write-mode handle replacing a read-only one that won the race.
		e.Value.h = h
		h.inc(1 + waiters)
		p.touchLocked(e)
		return h, append(closing, existing)
	}
	closing = p.evictLocked(p.limit-1, closing)
	h.inc(1 + waiters)
	p.files[key] = p.lru.PushBack(&entry{
		key:     key,
		h:       h,
		lastUse: time.Now(),
	})
	p.metrics.openFiles.Set(float64(len(p.files)))
	return h, closing
}

func (p *Pool) touchLocked(e *list.Element[*entry]) {
	e.Value.lastUse = time.Now()
	p.lru.MoveToBack(e)
}

func (p *Pool) removeOpeningLocked(key FileKey, of *openingFile) {
	ofs := p.opening[key]
	i := slices.Index(ofs, of)
	panicif.True(i < 0)
	ofs = slices.Delete(ofs, i, i+1)
	if len(ofs) == 0 {
		delete(p.opening, key)
	} else {
		p.opening[key] = ofs
	}
}

// Evicts least recently used entries until there are at most limit. The pool's references to the
// evicted handles are appended to closing, to be released outside the lock.
func (p *Pool) evictLocked(limit int, closing []*Handle) []*Handle {
	for len(p.files) > max(limit, 0) {
		e := p.lru.Front()
		p.logger.Debug("evicting file from pool",
			"storage", e.Value.key.Storage,
			"file", e.Value.key.File,
			"idle", time.Since(e.Value.lastUse))
		closing = append(closing, p.removeLocked(e))
		p.metrics.evictions.Inc()
	}
	return closing
}

func (p *Pool) removeLocked(e *list.Element[*entry]) *Handle {
	p.lru.Remove(e)
	delete(p.files, e.Value.key)
	p.metrics.openFiles.Set(float64(len(p.files)))
	return e.Value.h
}

func (p *Pool) closeAll(hs []*Handle) {
	for _, h := range hs {
		err := h.dec()
		if err != nil {
			p.logger.Warn("error closing pooled file", "name", h.f.Name(), "err", err)
		}
	}
}

func (p *Pool) releaseMatching(match func(FileKey) bool) {
	var closing []*Handle
	p.mu.Lock()
	for e := p.lru.Front(); e != nil; {
		next := e.Next()
		if match(e.Value.key) {
			closing = append(closing, p.removeLocked(e))
		}
		e = next
	}
	p.mu.Unlock()
	p.closeAll(closing)
}

// Releases the pool's handle for the key, if any.
func (p *Pool) Release(key FileKey) {
	p.releaseMatching(func(k FileKey) bool { return k == key })
}

// Releases every handle belonging to a storage.
func (p *Pool) ReleaseStorage(storage StorageIndex) {
	p.releaseMatching(func(k FileKey) bool { return k.Storage == storage })
}

func (p *Pool) ReleaseAll() {
	p.releaseMatching(func(FileKey) bool { return true })
}

// Changes the limit. Shrinking evicts immediately, growing takes effect as files are opened.
func (p *Pool) Resize(limit int) {
	p.mu.Lock()
	p.limit = max(limit, 1)
	closing := p.evictLocked(p.limit, nil)
	p.mu.Unlock()
	p.closeAll(closing)
}

func (p *Pool) Limit() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.limit
}

func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.files)
}

type OpenFileStatus struct {
	File    int
	Mode    OpenMode
	LastUse time.Time
}

// The storage's files currently in the pool, ordered by file index.
func (p *Pool) Status(storage StorageIndex) (ret []OpenFileStatus) {
	p.mu.Lock()
	for e := p.lru.Front(); e != nil; e = e.Next() {
		if e.Value.key.Storage != storage {
			continue
		}
		ret = append(ret, OpenFileStatus{
			File:    e.Value.key.File,
			Mode:    e.Value.h.mode,
			LastUse: e.Value.lastUse,
		})
	}
	p.mu.Unlock()
	slices.SortFunc(ret, func(a, b OpenFileStatus) int {
		return a.File - b.File
	})
	return
}
