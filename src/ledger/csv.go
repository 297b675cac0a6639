package ledger

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"krakendca/src/model"

	logger "github.com/sirupsen/logrus"
)

var csvHeader = []string{"date", "price", "volume", "fees"}

// CSVLedger appends buy legs to <dir>/<symbol>.csv. The ids already written are kept in
// <dir>/<symbol>.csv.ids so a leg observed twice is written once.
type CSVLedger struct {
	dir string
	mu  sync.Mutex
}

func NewCSVLedger(dir string) (*CSVLedger, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("csv ledger: empty directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("csv ledger: create dir: %w", err)
	}
	return &CSVLedger{dir: dir}, nil
}

func (l *CSVLedger) PathFor(symbol string) string {
	return filepath.Join(l.dir, symbol+".csv")
}

func (l *CSVLedger) Record(_ context.Context, s model.Settlement) (bool, error) {
	if !strings.EqualFold(s.Side, model.SideBuy.Capitalized()) {
		return false, nil
	}
	if s.ID == "" {
		return false, errors.New("csv ledger: empty id")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	path := l.PathFor(s.Symbol)
	idsPath := path + ".ids"

	seen, err := readIDs(idsPath)
	if err != nil {
		return false, err
	}
	if _, ok := seen[s.ID]; ok {
		return false, nil
	}

	if err := appendRow(path, []string{
		s.Tstamp.UTC().Format(time.RFC3339),
		s.Price.String(),
		s.Volume.String(),
		s.Fees.String(),
	}); err != nil {
		return false, err
	}

	// sidecar after the row: a crash in between duplicates the row, never drops it
	if err := appendLine(idsPath, s.ID); err != nil {
		return false, err
	}

	logger.WithFields(map[string]interface{}{
		"file": path,
		"txid": s.ID,
	}).Debug("csv ledger - leg recorded")

	return true, nil
}

func readIDs(path string) (map[string]struct{}, error) {
	ids := make(map[string]struct{})

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return ids, nil
	}
	if err != nil {
		return nil, fmt.Errorf("csv ledger: open ids: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if id := strings.TrimSpace(scanner.Text()); id != "" {
			ids[id] = struct{}{}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("csv ledger: read ids: %w", err)
	}
	return ids, nil
}

func appendRow(path string, row []string) error {
	info, statErr := os.Stat(path)
	needHeader := errors.Is(statErr, os.ErrNotExist) || (statErr == nil && info.Size() == 0)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("csv ledger: open %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if needHeader {
		if err := w.Write(csvHeader); err != nil {
			return fmt.Errorf("csv ledger: write header: %w", err)
		}
	}
	if err := w.Write(row); err != nil {
		return fmt.Errorf("csv ledger: write row: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("csv ledger: flush: %w", err)
	}
	return f.Sync()
}

func appendLine(path, line string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("csv ledger: open %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("csv ledger: append %s: %w", path, err)
	}
	return f.Sync()
}
