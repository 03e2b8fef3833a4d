package rgbutxo

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/btcsuite/btcd/wire"
	"github.com/rgbln/rgbsettle/fn"
)

const (
	// LedgerFileName is the name of the file inside the data directory
	// that holds the colored UTXO ledger.
	LedgerFileName = "rgb_utxos"

	ledgerFilePerms = 0600
)

var (
	// ErrLedgerMissing is returned when the ledger file can't be found at
	// startup.
	ErrLedgerMissing = errors.New("colored utxo ledger not found")

	// ErrLedgerCorrupt is returned when the ledger file can't be parsed.
	ErrLedgerCorrupt = errors.New("colored utxo ledger is corrupt")
)

// Utxo is a single record of the colored UTXO ledger.
type Utxo struct {
	// OutPoint is the on-chain output the record describes.
	OutPoint wire.OutPoint

	// Colored is true if the output carries an asset allocation.
	Colored bool
}

// jsonUtxo is the on-disk form of a Utxo.
type jsonUtxo struct {
	OutPoint string `json:"outpoint"`
	Colored  bool   `json:"colored"`
}

// ledgerFile is the on-disk form of the whole ledger.
type ledgerFile struct {
	Utxos []jsonUtxo `json:"utxos"`
}

// Ledger is the persisted set of outputs that carry asset allocations. Every
// mutation rewrites the backing file atomically.
//
// Callers that select inputs, build and sign a transaction based on the
// ledger must hold the ledger lock (Lock/Unlock) for the whole sequence, so
// two operations can't select the same colored output.
type Ledger struct {
	// opMtx is the lock that callers hold across a select, build, sign
	// and persist sequence.
	opMtx sync.Mutex

	// mtx guards the fields below.
	mtx sync.RWMutex

	path  string
	utxos []Utxo
	index map[wire.OutPoint]int

	// reserved are outputs spent by transactions that were signed but not
	// handed off yet. They only live in memory.
	reserved map[wire.OutPoint]struct{}
}

// Init creates an empty ledger file in dataDir if none exists yet, then opens
// the ledger. It is meant to be used when a node is created for the first
// time.
func Init(dataDir string) (*Ledger, error) {
	path := filepath.Join(dataDir, LedgerFileName)

	_, err := os.Stat(path)
	switch {
	case os.IsNotExist(err):
		log.Infof("Creating empty colored utxo ledger at %v", path)

		err := writeAtomic(path, &ledgerFile{Utxos: []jsonUtxo{}})
		if err != nil {
			return nil, err
		}

	case err != nil:
		return nil, fmt.Errorf("unable to stat ledger: %w", err)
	}

	return Open(dataDir)
}

// Open loads the ledger from dataDir. A missing or unreadable ledger is a
// critical error, since inputs can't be selected safely without it.
func Open(dataDir string) (*Ledger, error) {
	path := filepath.Join(dataDir, LedgerFileName)

	raw, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		return nil, fn.NewCriticalError(fmt.Errorf("%w: %v",
			ErrLedgerMissing, path))

	case err != nil:
		return nil, fn.NewCriticalError(fmt.Errorf("unable to read "+
			"ledger %v: %w", path, err))
	}

	var file ledgerFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fn.NewCriticalError(fmt.Errorf("%w: %v",
			ErrLedgerCorrupt, err))
	}

	l := &Ledger{
		path:  path,
		utxos: make([]Utxo, 0, len(file.Utxos)),
		index: make(map[wire.OutPoint]int, len(file.Utxos)),

		reserved: make(map[wire.OutPoint]struct{}),
	}
	for _, u := range file.Utxos {
		op, err := wire.NewOutPointFromString(u.OutPoint)
		if err != nil {
			return nil, fn.NewCriticalError(fmt.Errorf("%w: "+
				"invalid outpoint %q: %v", ErrLedgerCorrupt,
				u.OutPoint, err))
		}

		// Duplicates are folded into the first record, with the
		// colored flag sticky.
		if idx, ok := l.index[*op]; ok {
			l.utxos[idx].Colored = l.utxos[idx].Colored || u.Colored
			continue
		}

		l.index[*op] = len(l.utxos)
		l.utxos = append(l.utxos, Utxo{
			OutPoint: *op,
			Colored:  u.Colored,
		})
	}

	log.Debugf("Loaded colored utxo ledger with %d records", len(l.utxos))

	return l, nil
}

// Lock acquires the ledger lock that serializes input selection.
func (l *Ledger) Lock() {
	l.opMtx.Lock()
}

// Unlock releases the ledger lock.
func (l *Ledger) Unlock() {
	l.opMtx.Unlock()
}

// IsColored returns true if the outpoint is recorded as carrying an asset
// allocation.
func (l *Ledger) IsColored(op wire.OutPoint) bool {
	l.mtx.RLock()
	defer l.mtx.RUnlock()

	idx, ok := l.index[op]
	return ok && l.utxos[idx].Colored
}

// MarkColored records the outpoint as colored and persists the ledger. An
// outpoint that is already present keeps its single record.
func (l *Ledger) MarkColored(op wire.OutPoint) error {
	l.mtx.Lock()
	defer l.mtx.Unlock()

	utxos := make([]Utxo, len(l.utxos), len(l.utxos)+1)
	copy(utxos, l.utxos)

	idx, ok := l.index[op]
	switch {
	case ok && utxos[idx].Colored:
		return nil

	case ok:
		utxos[idx].Colored = true

	default:
		idx = len(utxos)
		utxos = append(utxos, Utxo{OutPoint: op, Colored: true})
	}

	if err := writeAtomic(l.path, toFile(utxos)); err != nil {
		return err
	}

	l.utxos = utxos
	l.index[op] = idx

	log.Debugf("Marked %v as colored", op)

	return nil
}

// Reserve marks outputs as spent by a transaction that is still in flight.
// Reserved outputs must not be selected again until they are released.
func (l *Ledger) Reserve(ops ...wire.OutPoint) {
	l.mtx.Lock()
	defer l.mtx.Unlock()

	for _, op := range ops {
		l.reserved[op] = struct{}{}
	}
}

// Release drops the reservation of outputs.
func (l *Ledger) Release(ops ...wire.OutPoint) {
	l.mtx.Lock()
	defer l.mtx.Unlock()

	for _, op := range ops {
		delete(l.reserved, op)
	}
}

// IsReserved returns true if the output is spent by an in-flight
// transaction.
func (l *Ledger) IsReserved(op wire.OutPoint) bool {
	l.mtx.RLock()
	defer l.mtx.RUnlock()

	_, ok := l.reserved[op]
	return ok
}

// UnspendableSet returns every colored outpoint that is not in excluding, in
// ledger order, followed by the reserved outpoints not in excluding. The
// result is meant to be used as the negative input filter of a wallet.
func (l *Ledger) UnspendableSet(excluding []wire.OutPoint) []wire.OutPoint {
	l.mtx.RLock()
	defer l.mtx.RUnlock()

	skip := fn.NewSet(excluding...)

	var unspendable []wire.OutPoint
	for _, u := range l.utxos {
		if !u.Colored {
			continue
		}
		if _, ok := skip[u.OutPoint]; ok {
			continue
		}

		unspendable = append(unspendable, u.OutPoint)
	}

	for op := range l.reserved {
		_, skipped := skip[op]
		idx, ok := l.index[op]
		if skipped || (ok && l.utxos[idx].Colored) {
			continue
		}

		unspendable = append(unspendable, op)
	}

	return unspendable
}

// Utxos returns a copy of all records of the ledger.
func (l *Ledger) Utxos() []Utxo {
	l.mtx.RLock()
	defer l.mtx.RUnlock()

	utxos := make([]Utxo, len(l.utxos))
	copy(utxos, l.utxos)

	return utxos
}

func toFile(utxos []Utxo) *ledgerFile {
	return &ledgerFile{
		Utxos: fn.Map(utxos, func(u Utxo) jsonUtxo {
			return jsonUtxo{
				OutPoint: u.OutPoint.String(),
				Colored:  u.Colored,
			}
		}),
	}
}

// writeAtomic writes the ledger to a temporary file next to path and renames
// it into place, so a crash never leaves a partially written ledger behind.
func writeAtomic(path string, file *ledgerFile) error {
	raw, err := json.Marshal(file)
	if err != nil {
		return fmt.Errorf("unable to encode ledger: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), LedgerFileName+".*.tmp")
	if err != nil {
		return fmt.Errorf("unable to create temp ledger: %w", err)
	}
	tmpName := tmp.Name()

	cleanup := func(err error) error {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("unable to write ledger: %w", err)
	}

	if _, err := tmp.Write(raw); err != nil {
		return cleanup(err)
	}
	if err := tmp.Chmod(ledgerFilePerms); err != nil {
		return cleanup(err)
	}
	if err := tmp.Sync(); err != nil {
		return cleanup(err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("unable to write ledger: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("unable to replace ledger: %w", err)
	}

	return nil
}
