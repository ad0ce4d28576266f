package storage

import (
	"encoding/json"
	"io"
	"os"
	"sync"

	"github.com/uhyunpark/minimarket/pkg/app/core/trade"
)

// Journal is an append-only audit log of committed trades, one JSON object
// per line. It is written after the store commit and is never read back.
type Journal interface {
	Append(t trade.Record) error
	Close() error
}

type NopJournal struct{}

func NewNopJournal() *NopJournal                { return &NopJournal{} }
func (*NopJournal) Append(_ trade.Record) error { return nil }
func (*NopJournal) Close() error                { return nil }

type FileJournal struct {
	mu  sync.Mutex
	w   io.WriteCloser
	enc *json.Encoder
}

func NewFileJournal(path string) (*FileJournal, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &FileJournal{w: f, enc: json.NewEncoder(f)}, nil
}

func (j *FileJournal) Append(t trade.Record) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.enc.Encode(t)
}

func (j *FileJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.w.Close()
}

var _ Journal = (*NopJournal)(nil)
var _ Journal = (*FileJournal)(nil)
