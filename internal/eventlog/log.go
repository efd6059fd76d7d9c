package eventlog

import (
	"encoding/json"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

const (
	BufferSize           = 1024                   // Circular buffer size
	MaxEventsPerSec      = 2000                    // Global rate limit
	MaxEventsPerRobot    = 50                      // Per-robot rate limit per second
	BatchFlushSize       = 64                      // Events per batch write
	BatchFlushInterval   = 100 * time.Millisecond  // How often to flush
	RobotLimiterCleanup  = 5 * time.Minute         // Cleanup interval for stale robot limiters
)

// Log provides bounded, rate-limited event logging with backpressure,
// so a misbehaving or malicious robot driver cannot stall the writer or
// exhaust memory by generating commands as fast as possible.
type Log struct {
	buffer    [BufferSize]Event
	writeHead uint64 // atomic - producer position
	readHead  uint64 // atomic - consumer position

	globalLimiter *rate.Limiter
	robotLimiters sync.Map // map[string]*robotLimiterEntry

	writerWg sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
	running  atomic.Bool

	filePath string
	file     *os.File
	fileMu   sync.Mutex

	droppedCount uint64 // atomic
	totalCount   uint64 // atomic
}

type robotLimiterEntry struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

// New creates a new bounded event log.
func New() *Log {
	return &Log{
		globalLimiter: rate.NewLimiter(MaxEventsPerSec, MaxEventsPerSec/10),
		stopChan:      make(chan struct{}),
	}
}

// Start begins the async writer goroutine. filePath may be empty, in
// which case events are still buffered and counted but never flushed.
func (l *Log) Start(filePath string) error {
	if l.running.Load() {
		return nil
	}

	l.filePath = filePath
	if filePath != "" {
		file, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return err
		}
		l.file = file
	}

	l.running.Store(true)
	l.writerWg.Add(2)
	go l.writerLoop()
	go l.cleanupLoop()

	return nil
}

// Stop gracefully shuts down the event log.
func (l *Log) Stop() {
	l.stopOnce.Do(func() {
		l.running.Store(false)
		close(l.stopChan)
		l.writerWg.Wait()

		l.fileMu.Lock()
		if l.file != nil {
			l.file.Close()
		}
		l.fileMu.Unlock()
	})
}

// Emit adds an event, subject to global and per-robot rate limits.
// Returns false if the event was dropped.
func (l *Log) Emit(event Event) bool {
	if !l.running.Load() {
		return false
	}

	if !l.globalLimiter.Allow() {
		atomic.AddUint64(&l.droppedCount, 1)
		return false
	}

	if event.RobotName != "" {
		limiter := l.getRobotLimiter(event.RobotName)
		if !limiter.Allow() {
			atomic.AddUint64(&l.droppedCount, 1)
			return false
		}
	}

	head := atomic.AddUint64(&l.writeHead, 1)
	tail := atomic.LoadUint64(&l.readHead)
	if head-tail >= BufferSize {
		atomic.AddUint64(&l.readHead, 1)
		atomic.AddUint64(&l.droppedCount, 1)
	}

	event.Sequence = head
	idx := head % BufferSize
	l.buffer[idx] = event

	atomic.AddUint64(&l.totalCount, 1)
	return true
}

// EmitSimple is a convenience wrapper that stamps and emits an event.
func (l *Log) EmitSimple(eventType EventType, matchID int, robotName string, payload interface{}) bool {
	return l.Emit(NewEvent(eventType, matchID, robotName, payload))
}

func (l *Log) getRobotLimiter(robotName string) *rate.Limiter {
	if entry, ok := l.robotLimiters.Load(robotName); ok {
		e := entry.(*robotLimiterEntry)
		e.lastUsed = time.Now()
		return e.limiter
	}

	entry := &robotLimiterEntry{
		limiter:  rate.NewLimiter(MaxEventsPerRobot, MaxEventsPerRobot/10),
		lastUsed: time.Now(),
	}
	actual, _ := l.robotLimiters.LoadOrStore(robotName, entry)
	return actual.(*robotLimiterEntry).limiter
}

func (l *Log) writerLoop() {
	defer l.writerWg.Done()

	ticker := time.NewTicker(BatchFlushInterval)
	defer ticker.Stop()

	batch := make([]Event, 0, BatchFlushSize)

	for {
		select {
		case <-l.stopChan:
			batch = l.collectBatch(batch[:0])
			if len(batch) > 0 {
				l.flushBatch(batch)
			}
			return
		case <-ticker.C:
			batch = l.collectBatch(batch[:0])
			if len(batch) > 0 {
				l.flushBatch(batch)
			}
		}
	}
}

func (l *Log) cleanupLoop() {
	defer l.writerWg.Done()

	ticker := time.NewTicker(RobotLimiterCleanup)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopChan:
			return
		case <-ticker.C:
			l.cleanupRobotLimiters()
		}
	}
}

func (l *Log) cleanupRobotLimiters() {
	cutoff := time.Now().Add(-RobotLimiterCleanup)
	l.robotLimiters.Range(func(key, value interface{}) bool {
		entry := value.(*robotLimiterEntry)
		if entry.lastUsed.Before(cutoff) {
			l.robotLimiters.Delete(key)
		}
		return true
	})
}

func (l *Log) collectBatch(batch []Event) []Event {
	head := atomic.LoadUint64(&l.writeHead)
	tail := atomic.LoadUint64(&l.readHead)

	for i := tail; i < head && len(batch) < BatchFlushSize; i++ {
		idx := i % BufferSize
		batch = append(batch, l.buffer[idx])
	}

	if len(batch) > 0 {
		atomic.AddUint64(&l.readHead, uint64(len(batch)))
	}

	return batch
}

func (l *Log) flushBatch(batch []Event) {
	l.fileMu.Lock()
	defer l.fileMu.Unlock()

	if l.file == nil {
		return
	}

	for _, event := range batch {
		data, err := json.Marshal(event)
		if err != nil {
			continue
		}
		l.file.Write(data)
		l.file.Write([]byte("\n"))
	}
}

// Stats returns counters useful for monitoring and DoS detection.
func (l *Log) Stats() map[string]interface{} {
	head := atomic.LoadUint64(&l.writeHead)
	tail := atomic.LoadUint64(&l.readHead)

	return map[string]interface{}{
		"total":   atomic.LoadUint64(&l.totalCount),
		"dropped": atomic.LoadUint64(&l.droppedCount),
		"pending": head - tail,
		"running": l.running.Load(),
	}
}

// DroppedCount returns the number of events dropped to backpressure.
func (l *Log) DroppedCount() uint64 {
	return atomic.LoadUint64(&l.droppedCount)
}

// TotalCount returns the total number of events accepted.
func (l *Log) TotalCount() uint64 {
	return atomic.LoadUint64(&l.totalCount)
}
