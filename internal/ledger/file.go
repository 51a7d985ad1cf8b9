package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "reelrelay/pkg/logx"
)

// fileLedger keeps the ledger as one JSON document:
//
//	{
//	  "processedIds": ["7301", "7302"]
//	}
//
// The document is read on every call, so edits made by an operator between
// runs are honored. Writes go to a temp file that is renamed over the
// original.
type fileLedger struct {
	path string
	log  logx.Logger

	mu     sync.Mutex
	closed bool
}

type fileDocument struct {
	ProcessedIDs []string `json:"processedIds"`
}

func openFile(cfg Config, log logx.Logger) (Ledger, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("ledger.path is required for file driver")
	}
	l := &fileLedger{path: path, log: log}
	if err := l.ensure(); err != nil {
		return nil, err
	}
	return l, nil
}

// ensure creates an empty document if none exists.
func (l *fileLedger) ensure() error {
	if _, err := os.Stat(l.path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return err
	}
	if err := l.writeLocked(nil); err != nil {
		return err
	}
	l.log.Info("ledger created", logx.String("path", l.path))
	return nil
}

func (l *fileLedger) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	return nil
}

func (l *fileLedger) Contains(ctx context.Context, id any) (bool, error) {
	key := CanonicalID(id)
	if key == "" {
		return false, nil
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false, ErrClosed
	}
	ids, err := l.readLocked()
	if err != nil {
		return false, err
	}
	for _, s := range ids {
		if s == key {
			return true, nil
		}
	}
	return false, nil
}

func (l *fileLedger) Add(ctx context.Context, id any) error {
	key := CanonicalID(id)
	if key == "" {
		return ErrEmptyID
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	ids, err := l.readLocked()
	if err != nil {
		return err
	}
	for _, s := range ids {
		if s == key {
			return nil
		}
	}
	return l.writeLocked(append(ids, key))
}

func (l *fileLedger) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, ErrClosed
	}
	return l.readLocked()
}

// readLocked loads and canonicalizes the document. A missing file reads as
// empty; anything unparsable is ErrCorrupt.
func (l *fileLedger) readLocked() ([]string, error) {
	b, err := os.ReadFile(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	ids, err := decodeDocument(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, l.path, err)
	}
	return ids, nil
}

func decodeDocument(b []byte) ([]string, error) {
	var doc struct {
		ProcessedIDs *[]any `json:"processedIds"`
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	if doc.ProcessedIDs == nil {
		return nil, errors.New(`missing "processedIds" array`)
	}
	raw := *doc.ProcessedIDs
	out := make([]string, 0, len(raw))
	for i, v := range raw {
		switch v.(type) {
		case string, json.Number:
		default:
			return nil, fmt.Errorf("processedIds[%d]: unsupported value %T", i, v)
		}
		if s := CanonicalID(v); s != "" {
			out = append(out, s)
		}
	}
	return out, nil
}

func (l *fileLedger) writeLocked(ids []string) error {
	if ids == nil {
		ids = []string{}
	}
	b, err := json.MarshalIndent(fileDocument{ProcessedIDs: ids}, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')

	tmp := l.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, l.path)
}
