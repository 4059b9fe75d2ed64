package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/syndtr/goleveldb/leveldb"
	lvlstorage "github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"

	"examseal/types/ids"
)

const (
	prefixEntry   = "entry:"
	prefixTx      = "tx:"
	prefixContent = "content:"
	prefixOutcome = "outcome:"
	keyHead       = "head"
)

// Local is an append-only hash chain kept in leveldb. It stands in for the
// external ledger in single-node deployments and behind the gateway handler.
type Local struct {
	db  *leveldb.DB
	mu  sync.Mutex
	now func() time.Time
}

// OpenLocal opens (or creates) a local ledger at path.
func OpenLocal(path string) (*Local, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("ledger: open %s: %w", path, err)
	}
	return &Local{db: db, now: time.Now}, nil
}

// OpenLocalMem opens a ledger held in memory.
func OpenLocalMem() (*Local, error) {
	db, err := leveldb.Open(lvlstorage.NewMemStorage(), nil)
	if err != nil {
		return nil, err
	}
	return &Local{db: db, now: time.Now}, nil
}

// Close releases the database.
func (l *Local) Close() error {
	return l.db.Close()
}

func seqKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixEntry, seq))
}

func contentKey(subjectID int64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixContent, subjectID))
}

func outcomeKey(subjectID int64, principalFP ids.ID) []byte {
	return []byte(fmt.Sprintf("%s%020d:%s", prefixOutcome, subjectID, principalFP))
}

// RegisterContent anchors a content fingerprint. A subject can be registered once.
func (l *Local) RegisterContent(ctx context.Context, subjectID int64, fingerprint ids.ID, windowStart, windowEnd int64) (TxRef, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if windowEnd < windowStart {
		return "", fmt.Errorf("%w: window ends before it starts", ErrRejected)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	key := contentKey(subjectID)
	if ok, err := l.db.Has(key, nil); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	} else if ok {
		return "", fmt.Errorf("%w: content already registered for subject %d", ErrRejected, subjectID)
	}
	return l.append(Entry{
		Kind:        KindContent,
		SubjectID:   subjectID,
		Fingerprint: fingerprint,
		WindowStart: windowStart,
		WindowEnd:   windowEnd,
	}, key)
}

// CommitOutcome anchors an outcome fingerprint. A principal's outcome for a
// subject can be committed once.
func (l *Local) CommitOutcome(ctx context.Context, subjectID int64, principalFingerprint, outcomeFingerprint ids.ID) (TxRef, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	key := outcomeKey(subjectID, principalFingerprint)
	if ok, err := l.db.Has(key, nil); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	} else if ok {
		return "", fmt.Errorf("%w: outcome already committed", ErrRejected)
	}
	pfp := principalFingerprint
	return l.append(Entry{
		Kind:                 KindOutcome,
		SubjectID:            subjectID,
		Fingerprint:          outcomeFingerprint,
		PrincipalFingerprint: &pfp,
	}, key)
}

// append links e after the current head and writes it with its indexes in
// one batch. Callers hold l.mu.
func (l *Local) append(e Entry, uniqueKey []byte) (TxRef, error) {
	head, ok, err := l.head()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	e.Seq = 1
	if ok {
		e.Seq = head.Seq + 1
		e.PrevHash = head.Hash
	}
	e.ID = uuid.NewString()
	e.Timestamp = l.now().UTC()
	e.Hash = e.ComputeHash()

	raw, err := json.Marshal(e)
	if err != nil {
		return "", err
	}
	seq := []byte(strconv.FormatUint(e.Seq, 10))
	batch := new(leveldb.Batch)
	batch.Put(seqKey(e.Seq), raw)
	batch.Put([]byte(prefixTx+e.Hash.String()), seq)
	batch.Put(uniqueKey, seq)
	batch.Put([]byte(keyHead), seq)
	if err := l.db.Write(batch, nil); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return e.TxRef(), nil
}

func (l *Local) entry(seq uint64) (Entry, error) {
	var e Entry
	raw, err := l.db.Get(seqKey(seq), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return e, ErrNotFound
	}
	if err != nil {
		return e, err
	}
	return e, json.Unmarshal(raw, &e)
}

func (l *Local) seqAt(key []byte) (uint64, error) {
	raw, err := l.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(string(raw), 10, 64)
}

func (l *Local) head() (Entry, bool, error) {
	seq, err := l.seqAt([]byte(keyHead))
	if errors.Is(err, ErrNotFound) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	e, err := l.entry(seq)
	return e, err == nil, err
}

// Head returns the latest entry. ok is false for an empty ledger.
func (l *Local) Head() (e Entry, ok bool, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.head()
}

// Lookup returns the entry behind a reference.
func (l *Local) Lookup(ctx context.Context, ref TxRef) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	hash, err := ParseTxRef(ref)
	if err != nil {
		return Entry{}, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	seq, err := l.seqAt([]byte(prefixTx + hash.String()))
	if err != nil {
		return Entry{}, err
	}
	return l.entry(seq)
}

// ContentEntry returns the content registration of a subject.
func (l *Local) ContentEntry(ctx context.Context, subjectID int64) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	seq, err := l.seqAt(contentKey(subjectID))
	if err != nil {
		return Entry{}, err
	}
	return l.entry(seq)
}

// ChainError reports the first entry that breaks the chain.
type ChainError struct {
	Seq    uint64
	Reason string
}

func (e *ChainError) Error() string {
	return fmt.Sprintf("ledger: chain broken at entry %d: %s", e.Seq, e.Reason)
}

// VerifyChain walks every entry in order, recomputing hashes and checking the
// links. It returns the number of entries checked.
func (l *Local) VerifyChain(ctx context.Context) (int, error) {
	iter := l.db.NewIterator(util.BytesPrefix([]byte(prefixEntry)), nil)
	defer iter.Release()

	var (
		n    int
		prev ids.ID
		want uint64 = 1
	)
	for iter.Next() {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		var e Entry
		if err := json.Unmarshal(iter.Value(), &e); err != nil {
			return n, &ChainError{Seq: want, Reason: "undecodable entry"}
		}
		switch {
		case e.Seq != want:
			return n, &ChainError{Seq: want, Reason: fmt.Sprintf("found sequence %d", e.Seq)}
		case e.PrevHash != prev:
			return n, &ChainError{Seq: e.Seq, Reason: "previous hash mismatch"}
		case e.ComputeHash() != e.Hash:
			return n, &ChainError{Seq: e.Seq, Reason: "entry hash mismatch"}
		}
		prev = e.Hash
		want++
		n++
	}
	return n, iter.Error()
}
