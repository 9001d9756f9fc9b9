package monitor

import (
	"sync"
	"time"
)

// DefaultHistorySize is how many completed calls the Recorder retains.
const DefaultHistorySize = 100

// CallEventRecord is one notable in-call event.
type CallEventRecord struct {
	At     time.Time `json:"at"`
	Event  string    `json:"event"`
	Detail string    `json:"detail,omitempty"`
}

// CallRecord is the Recorder's view of one call, active or completed.
type CallRecord struct {
	CallInfo
	Status   string            `json:"status"`
	Events   []CallEventRecord `json:"events,omitempty"`
	EndedAt  time.Time         `json:"ended_at"`
	Duration time.Duration     `json:"duration_ns"`
}

// Stats aggregates call counts across the Recorder's lifetime.
type Stats struct {
	ActiveCalls     int              `json:"active_calls"`
	CompletedInView int              `json:"completed_calls_in_history"`
	TotalCalls      int64            `json:"total_calls"`
	ByStatus        map[string]int64 `json:"by_status"`
	AverageDuration time.Duration    `json:"average_duration_ns"`
}

// Recorder is the in-memory Sink behind the stats surface: active calls by
// SID, a bounded history of completed calls, and lifetime aggregates.
type Recorder struct {
	mu        sync.Mutex
	active    map[string]*CallRecord
	completed []CallRecord
	byStatus  map[string]int64
	total     int64
	totalDur  time.Duration
	history   int
}

// NewRecorder builds a Recorder retaining historySize completed calls;
// historySize <= 0 selects DefaultHistorySize.
func NewRecorder(historySize int) *Recorder {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	return &Recorder{
		active:   make(map[string]*CallRecord),
		byStatus: make(map[string]int64),
		history:  historySize,
	}
}

func (r *Recorder) CallStarted(info CallInfo) {
	if info.CallSID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active[info.CallSID] = &CallRecord{CallInfo: info, Status: "active"}
	r.total++
}

func (r *Recorder) CallEvent(callSID, event, detail string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.active[callSID]
	if !ok {
		return
	}
	now := time.Now()
	rec.Events = append(rec.Events, CallEventRecord{At: now, Event: event, Detail: detail})
	rec.Duration = now.Sub(rec.StartedAt)
}

func (r *Recorder) CallCompleted(callSID, status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.active[callSID]
	if !ok {
		return
	}
	delete(r.active, callSID)
	now := time.Now()
	rec.Status = status
	rec.EndedAt = now
	rec.Duration = now.Sub(rec.StartedAt)

	r.completed = append(r.completed, *rec)
	if len(r.completed) > r.history {
		r.completed = append(r.completed[:0:0], r.completed[len(r.completed)-r.history:]...)
	}
	r.byStatus[status]++
	r.totalDur += rec.Duration
}

// Active returns a snapshot of in-progress calls.
func (r *Recorder) Active() []CallRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]CallRecord, 0, len(r.active))
	for _, rec := range r.active {
		out = append(out, copyRecord(*rec))
	}
	return out
}

// Completed returns the retained completed-call history, oldest first.
func (r *Recorder) Completed() []CallRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]CallRecord, 0, len(r.completed))
	for _, rec := range r.completed {
		out = append(out, copyRecord(rec))
	}
	return out
}

// Stats returns lifetime aggregates. The average is over completed calls
// only; active calls contribute once they finish.
func (r *Recorder) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := Stats{
		ActiveCalls:     len(r.active),
		CompletedInView: len(r.completed),
		TotalCalls:      r.total,
		ByStatus:        make(map[string]int64, len(r.byStatus)),
	}
	var finished int64
	for status, n := range r.byStatus {
		st.ByStatus[status] = n
		finished += n
	}
	if finished > 0 {
		st.AverageDuration = r.totalDur / time.Duration(finished)
	}
	return st
}

func copyRecord(rec CallRecord) CallRecord {
	rec.Events = append([]CallEventRecord(nil), rec.Events...)
	return rec
}
