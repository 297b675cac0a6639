// Package pending persists the exchange ids of orders that are still in flight, one id
// per line. A reconciliation pass reads the whole file once and swaps in a new snapshot
// at the end; submissions append.
package pending

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	logger "github.com/sirupsen/logrus"
)

// PathFor returns <dir>/<account>/<symbol>_txs.txt.
func PathFor(dir, account, symbol string) string {
	return filepath.Join(dir, account, fmt.Sprintf("%s_txs.txt", symbol))
}

// ensure creates the parent directory and an empty file when missing.
func ensure(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create store dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create store %s: %w", path, err)
	}
	return f.Close()
}

// LoadAll returns the ids in file order. Blank lines are skipped and a repeated id is
// kept only once.
func LoadAll(path string) ([]string, error) {
	if err := ensure(path); err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}
	defer f.Close()

	ids := make([]string, 0)
	seen := make(map[string]struct{})

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		id := strings.TrimSpace(scanner.Text())
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			logger.WithFields(map[string]interface{}{
				"store": path,
				"txid":  id,
			}).Warn("pending - duplicate id in store, keeping first occurrence")
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read store %s: %w", path, err)
	}

	return ids, nil
}

// ReplaceAll swaps the store content for exactly ids. The new content is written to a
// temp file in the same directory, synced and renamed over path, so a crash leaves
// either the old or the new snapshot.
func ReplaceAll(path string, ids []string) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create store dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp store: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	w := bufio.NewWriter(tmp)
	for _, id := range ids {
		if _, err = w.WriteString(id + "\n"); err != nil {
			_ = tmp.Close()
			return fmt.Errorf("write temp store: %w", err)
		}
	}
	if err = w.Flush(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("flush temp store: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp store: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp store: %w", err)
	}
	if err = os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("chmod temp store: %w", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("swap store %s: %w", path, err)
	}
	return nil
}

// Append adds one id at the end of the store.
func Append(path, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return errors.New("pending - empty id")
	}
	if err := ensure(path); err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open store %s: %w", path, err)
	}
	if _, err := f.WriteString(id + "\n"); err != nil {
		_ = f.Close()
		return fmt.Errorf("append to store %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync store %s: %w", path, err)
	}
	return f.Close()
}
