// Package persistence implements the file-backed store for the two opaque
// cloud documents (decoder manifest, collection scheme list), the LKS
// activation metadata, and undelivered payload sidecars described in
// spec.md §6. Every write is atomic (temp file + rename) and every path is
// confined under the configured root directory.
package persistence

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	decoderManifestFile   = "decoder-manifest.bin"
	collectionSchemesFile = "collection-schemes.bin"
	lksActivationFile     = "last-known-state.json"
	undeliveredDir        = "undelivered"
)

// Store is the root of the persisted-state directory tree.
type Store struct {
	root string
}

// New constructs a Store rooted at dir, which must already exist or be
// creatable — callers surface a creation failure as an initialization
// failure before their main loops start, per spec.md §7.
func New(dir string) (*Store, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("persistence: resolve root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("persistence: create root: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(abs, undeliveredDir), 0o755); err != nil {
		return nil, fmt.Errorf("persistence: create undelivered dir: %w", err)
	}
	return &Store{root: abs}, nil
}

// safePath resolves key to an absolute path under the store root, rejecting
// path traversal.
func (s *Store) safePath(key string) (string, error) {
	full := filepath.Join(s.root, filepath.FromSlash(key))
	abs, err := filepath.Abs(full)
	if err != nil {
		return "", fmt.Errorf("invalid path: %w", err)
	}
	if !strings.HasPrefix(abs, s.root+string(filepath.Separator)) && abs != s.root {
		return "", fmt.Errorf("path traversal rejected: %q", key)
	}
	return abs, nil
}

// writeAtomic writes data to key via a temp file in the same directory
// followed by rename, so readers never observe a partial write.
func (s *Store) writeAtomic(key string, data []byte) error {
	path, err := s.safePath(key)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".persist-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

func (s *Store) readFile(key string) ([]byte, bool, error) {
	path, err := s.safePath(key)
	if err != nil {
		return nil, false, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

// SaveDecoderManifest persists the raw bytes of the current decoder
// manifest document.
func (s *Store) SaveDecoderManifest(raw []byte) error {
	return s.writeAtomic(decoderManifestFile, raw)
}

// LoadDecoderManifest returns the last persisted decoder manifest bytes.
// ok is false ("nothing persisted") on a missing file or read error — per
// spec.md §7, a PersistencyError on read is treated as "nothing persisted".
func (s *Store) LoadDecoderManifest() (raw []byte, ok bool) {
	data, found, err := s.readFile(decoderManifestFile)
	if err != nil || !found {
		return nil, false
	}
	return data, true
}

// SaveCollectionSchemes persists the raw bytes of the accepted collection
// scheme list.
func (s *Store) SaveCollectionSchemes(raw []byte) error {
	return s.writeAtomic(collectionSchemesFile, raw)
}

// LoadCollectionSchemes returns the last persisted collection scheme list
// bytes.
func (s *Store) LoadCollectionSchemes() (raw []byte, ok bool) {
	data, found, err := s.readFile(collectionSchemesFile)
	if err != nil || !found {
		return nil, false
	}
	return data, true
}

// ActivationRecord mirrors spec.md §3/§6's LKS activation metadata entry.
type ActivationRecord struct {
	StateTemplateID             string `json:"stateTemplateId"`
	Activated                   bool   `json:"activated"`
	DeactivateAfterSystemTimeMs int64  `json:"deactivateAfterSystemTimeMs"`
}

// SaveActivations persists the full LKS activation record set as a single
// JSON array, keyed by template ID order for deterministic output.
func (s *Store) SaveActivations(records map[string]ActivationRecord) error {
	list := make([]ActivationRecord, 0, len(records))
	for _, r := range records {
		list = append(list, r)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].StateTemplateID < list[j].StateTemplateID })

	data, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("persistence: marshal activations: %w", err)
	}
	return s.writeAtomic(lksActivationFile, data)
}

// LoadActivations returns the last persisted activation records keyed by
// template ID. A missing or corrupt file is treated as "nothing persisted".
func (s *Store) LoadActivations() map[string]ActivationRecord {
	data, found, err := s.readFile(lksActivationFile)
	if err != nil || !found {
		return map[string]ActivationRecord{}
	}
	var list []ActivationRecord
	if err := json.Unmarshal(data, &list); err != nil {
		return map[string]ActivationRecord{}
	}
	out := make(map[string]ActivationRecord, len(list))
	for _, r := range list {
		out[r.StateTemplateID] = r
	}
	return out
}

// UndeliveredMetadata is the sidecar JSON accompanying one undelivered
// payload's bytes, per spec.md §6.
type UndeliveredMetadata struct {
	CampaignSyncID string `json:"campaignSyncId"`
	EventID        string `json:"eventId"`
	TriggerTime    int64  `json:"triggerTime"`
	Compression    bool   `json:"compression"`
}

// SaveUndelivered writes {filename}.bin and the sibling {filename}.json
// sidecar for a payload the connectivity layer failed to transmit.
func (s *Store) SaveUndelivered(filename string, payload []byte, meta UndeliveredMetadata) error {
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("persistence: marshal undelivered metadata: %w", err)
	}
	binKey := filepath.Join(undeliveredDir, filename+".bin")
	jsonKey := filepath.Join(undeliveredDir, filename+".json")
	if err := s.writeAtomic(binKey, payload); err != nil {
		return err
	}
	return s.writeAtomic(jsonKey, metaJSON)
}

// UndeliveredEntry names one pending retry found by ListUndelivered.
type UndeliveredEntry struct {
	Filename string
	Meta     UndeliveredMetadata
}

// ListUndelivered enumerates every persisted-but-unsent payload.
func (s *Store) ListUndelivered() ([]UndeliveredEntry, error) {
	dir := filepath.Join(s.root, undeliveredDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("persistence: list undelivered: %w", err)
	}

	var out []UndeliveredEntry
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, ".json") {
			continue
		}
		base := strings.TrimSuffix(name, ".json")
		data, found, err := s.readFile(filepath.Join(undeliveredDir, name))
		if err != nil || !found {
			continue
		}
		var meta UndeliveredMetadata
		if err := json.Unmarshal(data, &meta); err != nil {
			continue
		}
		out = append(out, UndeliveredEntry{Filename: base, Meta: meta})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Filename < out[j].Filename })
	return out, nil
}

// UndeliveredCount reports how many payloads are currently persisted
// awaiting retry. Cheap enough to call from the metrics scrape goroutine.
func (s *Store) UndeliveredCount() int {
	entries, err := s.ListUndelivered()
	if err != nil {
		return 0
	}
	return len(entries)
}

// LoadUndeliveredPayload returns the raw bytes for a previously listed
// undelivered payload.
func (s *Store) LoadUndeliveredPayload(filename string) ([]byte, error) {
	data, found, err := s.readFile(filepath.Join(undeliveredDir, filename+".bin"))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("persistence: %s.bin not found", filename)
	}
	return data, nil
}

// RemoveUndelivered deletes both files of a successfully retransmitted
// payload. Failures are logged by the caller and leave the files intact.
func (s *Store) RemoveUndelivered(filename string) error {
	binPath, err := s.safePath(filepath.Join(undeliveredDir, filename+".bin"))
	if err != nil {
		return err
	}
	jsonPath, err := s.safePath(filepath.Join(undeliveredDir, filename+".json"))
	if err != nil {
		return err
	}
	if err := os.Remove(binPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	if err := os.Remove(jsonPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
