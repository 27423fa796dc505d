package lens

import (
	"bytes"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-analyze/bulk"
	"github.com/vmihailenco/msgpack/v5"
)

var callLogStartTime = time.Now()

// CallRecord is the logged form of one intercepted call.
type CallRecord struct {
	// Function is the short function name.
	Function string `msgpack:"f"`
	// Ident is the fully qualified function identifier.
	Ident string `msgpack:"i"`
	// Receiver is the receiver type name, NULL for static calls.
	Receiver string `msgpack:"r"`
	// Args holds the stringified captured arguments, NULL for null values.
	Args []string `msgpack:"a"`
	// Continued reports whether the original body was allowed to run.
	Continued bool `msgpack:"c"`
	// TimeNS is the nanoseconds since process start.
	TimeNS int64 `msgpack:"t"`
}

// CallLog is a concurrency safe recorder of intercepted calls.
type CallLog struct {
	mu      sync.Mutex
	records []CallRecord
}

// NewCallLog returns an empty CallLog.
func NewCallLog() *CallLog {
	return &CallLog{}
}

// Record appends the snapshot to the log.
func (l *CallLog) Record(s CallSnapshot, continued bool) {
	rec := CallRecord{
		Function:  s.Function.Name,
		Ident:     s.Function.Ident(),
		Receiver:  s.ReceiverTypeName(),
		Args:      s.ArgStrings(),
		Continued: continued,
		TimeNS:    time.Since(callLogStartTime).Nanoseconds(),
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, rec)
}

// Records returns a copy of the recorded calls in call order.
func (l *CallLog) Records() []CallRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.records)
}

// Len returns the number of recorded calls.
func (l *CallLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// Reset discards all recorded calls.
func (l *CallLog) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = nil
}

// Lines flattens the log: for each call the function name, the receiver type name and every argument.
func (l *CallLog) Lines() []string {
	return CallRecordLines(l.Records())
}

// CallRecordLines flattens records the same way as CallLog.Lines.
func CallRecordLines(records []CallRecord) []string {
	var lines []string
	for _, r := range records {
		lines = append(lines, r.Function, r.Receiver)
		lines = append(lines, r.Args...)
	}
	return lines
}

// LoggingHook records every call into l, then defers the decision to decide (nil continues).
func LoggingHook(l *CallLog, decide Hook) Hook {
	return func(fd *FunctionDescriptor, receiver any, args []DynamicValue) bool {
		proceed := decide == nil || decide(fd, receiver, args)
		l.Record(CallSnapshot{Function: fd, Receiver: receiver, Args: args}, proceed)
		return proceed
	}
}

// CallStats summarizes hook decisions for a single function.
type CallStats struct {
	Ident     string
	Continued int
	Skipped   int
}

// Stats groups records by function identifier, sorted by ident.
func Stats(records []CallRecord) []CallStats {
	groups := bulk.SliceToGroupsBy(func(r CallRecord) string { return r.Ident }, records)
	stats := make([]CallStats, 0, len(groups))
	for ident, recs := range groups {
		s := CallStats{Ident: ident}
		for _, r := range recs {
			if r.Continued {
				s.Continued++
			} else {
				s.Skipped++
			}
		}
		stats = append(stats, s)
	}
	slices.SortFunc(stats, func(a, b CallStats) int {
		return strings.Compare(a.Ident, b.Ident)
	})
	return stats
}

// EncodeCallRecords serializes records with msgpack and compresses the result.
func EncodeCallRecords(records []CallRecord) ([]byte, error) {
	enc := msgpack.GetEncoder()
	defer msgpack.PutEncoder(enc)
	var buf bytes.Buffer
	enc.Reset(&buf)
	if err := enc.Encode(records); err != nil {
		return nil, fmt.Errorf("encode call records: %w", err)
	}
	return ZstdCompress(nil, buf.Bytes()), nil
}

// DecodeCallRecords reverses EncodeCallRecords.
func DecodeCallRecords(blob []byte) ([]CallRecord, error) {
	raw, err := ZstdDecompress(nil, blob)
	if err != nil {
		return nil, fmt.Errorf("decompress call records: %w", err)
	}
	var records []CallRecord
	if err := msgpack.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("decode call records: %w", err)
	}
	return records, nil
}

// SaveCallLog persists the current records of l under name.
func SaveCallLog(store Storage, name string, l *CallLog) error {
	blob, err := EncodeCallRecords(l.Records())
	if err != nil {
		return err
	}
	return store.Put(StorageKey(name), blob)
}

// LoadCallLog restores a CallLog saved with SaveCallLog.
func LoadCallLog(store Storage, name string) (*CallLog, bool, error) {
	blob, ok, err := store.Get(StorageKey(name))
	if err != nil || !ok {
		return nil, ok, err
	}
	records, err := DecodeCallRecords(blob)
	if err != nil {
		return nil, true, err
	}
	return &CallLog{records: records}, true, nil
}

// RecordGateCalls installs a LoggingHook as the gate hook used by injected gates. The returned stop
// function restores the previous hook and saves the recorded calls into store under name.
func RecordGateCalls(store Storage, name string, decide Hook) (stop func() error) {
	l := NewCallLog()
	restore := SetGateHook(LoggingHook(l, decide))
	return func() error {
		restore()
		if err := SaveCallLog(store, name, l); err != nil {
			return fmt.Errorf("save call log %s failed: %w", name, err)
		}
		return nil
	}
}
