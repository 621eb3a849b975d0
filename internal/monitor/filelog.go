package monitor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sys/unix"

	"github.com/oyelaran-devlabs/logmonitor/internal/logging"
	"github.com/oyelaran-devlabs/logmonitor/internal/writer"
	"github.com/oyelaran-devlabs/logmonitor/pkg/types"
)

// fileState is the per-file bookkeeping the spec's data model names:
// {path, handle, offset, encoding, partial-line-buffer}.
type fileState struct {
	path     string
	handle   *os.File
	offset   int64
	encoding fileEncoding
	partial  []byte
	dev      uint64
	ino      uint64
}

// FileLogMonitor watches a directory for files matching a glob filter
// and emits every newly-appended line to the Writer. Grounded on the
// directory-watch-plus-per-file-goroutine shape of a plain fsnotify
// tailer, generalized here for glob filtering, encoding detection, and
// the rotation cases spec §4.3 names explicitly.
type FileLogMonitor struct {
	directory string
	filter    string
	recursive bool

	writer  *writer.Writer
	logger  *logging.Logger
	metrics MetricsRecorder

	watcher *fsnotify.Watcher

	mu    sync.Mutex
	files map[string]*fileState

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewFileLogMonitor constructs a FileLogMonitor for one FileConfig
// identity. Any number of these may run concurrently.
func NewFileLogMonitor(directory, filter string, recursive bool, w *writer.Writer, logger *logging.Logger) *FileLogMonitor {
	return &FileLogMonitor{
		directory: directory,
		filter:    filter,
		recursive: recursive,
		writer:    w,
		logger:    logger.WithComponent("filelog").WithField("directory", directory),
		files:     make(map[string]*fileState),
	}
}

// Directory, Filter, and Recursive expose the identity fields the
// supervisor's diff compares via config.FileSource.Key.
func (m *FileLogMonitor) Directory() string { return m.directory }
func (m *FileLogMonitor) Filter() string    { return m.filter }
func (m *FileLogMonitor) Recursive() bool   { return m.recursive }

func (m *FileLogMonitor) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	m.watcher = watcher

	if err := m.addDirectories(); err != nil {
		watcher.Close()
		return err
	}

	if err := m.scanExisting(); err != nil {
		m.logger.Warn().Err(err).Msg("failed to scan directory at start")
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	m.wg.Add(1)
	go m.watchLoop(runCtx)

	return nil
}

func (m *FileLogMonitor) Stop(ctx context.Context) error {
	if m.cancel != nil {
		m.cancel()
	}
	m.watcher.Close()
	m.wg.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, fs := range m.files {
		m.flushPartial(fs)
		if fs.handle != nil {
			fs.handle.Close()
		}
	}
	return nil
}

func (m *FileLogMonitor) addDirectories() error {
	if err := m.watcher.Add(m.directory); err != nil {
		return err
	}
	if !m.recursive {
		return nil
	}
	return filepath.Walk(m.directory, func(path string, info os.FileInfo, err error) error {
		if err != nil || !info.IsDir() || path == m.directory {
			return nil
		}
		return m.watcher.Add(path)
	})
}

// scanExisting matches the discovery-time rule: files present when the
// monitor starts are opened and seeked to end, never replayed.
func (m *FileLogMonitor) scanExisting() error {
	entries, err := os.ReadDir(m.directory)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if m.matches(e.Name()) {
			m.openFile(filepath.Join(m.directory, e.Name()))
		}
	}
	return nil
}

func (m *FileLogMonitor) matches(name string) bool {
	ok, err := filepath.Match(m.filter, name)
	return err == nil && ok
}

func (m *FileLogMonitor) watchLoop(ctx context.Context) {
	defer m.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			m.handleEvent(ev)
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Error().Err(err).Msg("directory watcher error")
		}
	}
}

func (m *FileLogMonitor) handleEvent(ev fsnotify.Event) {
	name := filepath.Base(ev.Name)
	if !m.matches(name) {
		return
	}

	switch {
	case ev.Op&fsnotify.Remove != 0, ev.Op&fsnotify.Rename != 0:
		m.mu.Lock()
		fs, tracked := m.files[ev.Name]
		if tracked {
			m.flushPartial(fs)
			if fs.handle != nil {
				fs.handle.Close()
			}
			delete(m.files, ev.Name)
		}
		m.mu.Unlock()

	case ev.Op&fsnotify.Create != 0:
		// Rename-out followed by create-with-same-name is the third
		// rotation case (spec §4.3). openFile seeks to end of file, but
		// every byte of a newly created file is new, so its state is
		// reset to offset 0 and read from there.
		m.openFile(ev.Name)
		m.mu.Lock()
		fs, tracked := m.files[ev.Name]
		m.mu.Unlock()
		if tracked {
			fs.offset = 0
			m.readAvailable(fs)
		}

	case ev.Op&fsnotify.Write != 0:
		m.mu.Lock()
		fs, tracked := m.files[ev.Name]
		m.mu.Unlock()
		if !tracked {
			m.openFile(ev.Name)
			return
		}
		m.readAvailable(fs)
	}
}

func (m *FileLogMonitor) openFile(path string) {
	f, err := os.Open(path)
	if err != nil {
		m.logger.Warn().Str("path", path).Err(err).Msg("failed to open file, will retry on next notification")
		return
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		m.logger.Warn().Str("path", path).Err(err).Msg("failed to stat file")
		return
	}

	sample := make([]byte, sniffWindow)
	n, _ := f.ReadAt(sample, 0)
	enc := detectEncoding(sample[:n])

	offset, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		f.Close()
		m.logger.Warn().Str("path", path).Err(err).Msg("failed to seek to end")
		return
	}

	dev, ino := identity(info)

	fs := &fileState{
		path:     path,
		handle:   f,
		offset:   offset,
		encoding: enc,
		dev:      dev,
		ino:      ino,
	}

	m.mu.Lock()
	if old, exists := m.files[path]; exists {
		m.flushPartial(old)
		if old.handle != nil {
			old.handle.Close()
		}
	}
	m.files[path] = fs
	m.mu.Unlock()
}

// readAvailable reads newly appended bytes, checking for the
// size-decrease and inode-change rotation cases before reading.
func (m *FileLogMonitor) readAvailable(fs *fileState) {
	info, err := fs.handle.Stat()
	if err != nil {
		m.logger.Warn().Str("path", fs.path).Err(wrapOsError(err)).Msg("failed to stat open file, skipping this notification")
		return
	}

	dev, ino := identity(info)
	rotated := info.Size() < fs.offset || dev != fs.dev || ino != fs.ino
	if rotated {
		m.flushPartial(fs)
		fs.handle.Close()
		m.mu.Lock()
		delete(m.files, fs.path)
		m.mu.Unlock()
		m.openFile(fs.path)
		// openFile seeks to end; a rotated or truncated file is read
		// again from offset 0.
		m.mu.Lock()
		next, ok := m.files[fs.path]
		m.mu.Unlock()
		if ok {
			next.offset = 0
			m.readAvailable(next)
		}
		return
	}

	buf := make([]byte, info.Size()-fs.offset)
	n, err := fs.handle.ReadAt(buf, fs.offset)
	if err != nil && err != io.EOF {
		m.logger.Warn().Str("path", fs.path).Err(wrapTransient(err)).Msg("failed to read file, will retry on next notification")
		return
	}
	fs.offset += int64(n)

	m.extractLines(fs, buf[:n])
}

// extractLines splits newly read bytes on \n (tolerating a preceding
// \r), decoding non-UTF-8 encodings first, and emits complete lines in
// file order. A trailing unterminated chunk stays in fs.partial.
func (m *FileLogMonitor) extractLines(fs *fileState, chunk []byte) {
	decoded := chunk
	if dec := decoderFor(fs.encoding); dec != nil {
		if out, err := dec.Bytes(chunk); err == nil {
			decoded = out
		}
	}

	data := append(fs.partial, decoded...)
	fs.partial = nil

	for {
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			fs.partial = append([]byte(nil), data...)
			return
		}
		line := data[:idx]
		line = bytes.TrimSuffix(line, []byte("\r"))
		m.emitLine(string(line))
		data = data[idx+1:]
	}
}

func (m *FileLogMonitor) flushPartial(fs *fileState) {
	if len(fs.partial) == 0 {
		return
	}
	m.emitLine(string(fs.partial))
	fs.partial = nil
}

func (m *FileLogMonitor) emitLine(line string) {
	if err := m.writer.Write(line); err != nil {
		m.logger.Error().Err(err).Msg("failed to write record")
		return
	}
	if m.metrics != nil {
		m.metrics.RecordEmitted(string(types.SourceFile))
	}
}

// SetMetrics wires an optional metrics recorder. Safe to call before Start.
func (m *FileLogMonitor) SetMetrics(recorder MetricsRecorder) {
	m.metrics = recorder
}

func identity(info os.FileInfo) (dev, ino uint64) {
	if stat, ok := info.Sys().(*unix.Stat_t); ok {
		return uint64(stat.Dev), stat.Ino
	}
	return 0, 0
}

// wrapOsError marks a failed OS call made against an otherwise-running
// monitor, so callers can errors.Is against it without depending on
// the underlying error's concrete type.
func wrapOsError(err error) error {
	return fmt.Errorf("%w: %w", ErrOsError, err)
}

// wrapTransient marks an error the monitor expects to clear on its own
// by the next notification, so it logs and continues instead of
// restarting.
func wrapTransient(err error) error {
	return fmt.Errorf("%w: %w", ErrTransient, err)
}
