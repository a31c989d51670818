package docstore

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
)

// TimeLayout is the fixed-width UTC layout used for stamps so that lexical
// order of the stored strings equals chronological order.
const TimeLayout = "2006-01-02T15:04:05.000000000Z"

var codec = jsoniter.ConfigCompatibleWithStandardLibrary

// FormatTime renders t in TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// Marshal encodes v with the store codec.
func Marshal(v any) ([]byte, error) {
	return codec.Marshal(v)
}

// Unmarshal decodes raw with the store codec.
func Unmarshal(raw []byte, out any) error {
	return codec.Unmarshal(raw, out)
}

// EncodeDocument converts v into its Document form.
func EncodeDocument(v any) (Document, error) {
	raw, err := codec.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	var doc Document
	if err := codec.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	if doc == nil {
		return nil, fmt.Errorf("encode document: %T is not an object", v)
	}
	return doc, nil
}

// DecodeDocument decodes doc into out.
func DecodeDocument(doc Document, out any) error {
	raw, err := codec.Marshal(doc)
	if err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	if err := codec.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	return nil
}

// PrepareInsert encodes v, assigns an id when it has none and stamps both
// timestamps with now. It returns the prepared document and its id.
func PrepareInsert(v any, now time.Time) (Document, string, error) {
	doc, err := EncodeDocument(v)
	if err != nil {
		return nil, "", err
	}
	id, _ := doc[FieldID].(string)
	if id == "" {
		id = uuid.NewString()
		doc[FieldID] = id
	}
	stamp := FormatTime(now)
	doc[FieldCreatedAt] = stamp
	doc[FieldUpdatedAt] = stamp
	return doc, id, nil
}

// Clock hands out strictly increasing timestamps so documents inserted in
// quick succession still sort by creation order.
type Clock struct {
	mu   sync.Mutex
	now  func() time.Time
	last time.Time
}

// NewClock returns a Clock backed by now, or time.Now when now is nil.
func NewClock(now func() time.Time) *Clock {
	if now == nil {
		now = time.Now
	}
	return &Clock{now: now}
}

// Now returns the current time, nudged forward if it would not advance.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.now().UTC()
	if !t.After(c.last) {
		t = c.last.Add(time.Nanosecond)
	}
	c.last = t
	return t
}
