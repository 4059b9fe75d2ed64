package storage

import (
	"crypto/cipher"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	lvlstorage "github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"

	"examseal/core/exam"
)

// ErrNotFound is returned when a record does not exist. It is the same value
// as exam.ErrNotFound so callers behind the exam.Store interface can match it.
var ErrNotFound = exam.ErrNotFound

const (
	prefixSubject = "subject:"
	prefixItem    = "item:"
	prefixSeal    = "seal:"
	prefixAttempt = "attempt:"
	prefixOutcome = "outcome:"
	prefixPending = "pending:"
	prefixSeq     = "seq:"
)

// Storage is the leveldb-backed record store. Values are JSON, encrypted at
// rest when a data key is configured.
type Storage struct {
	db    *leveldb.DB
	gcm   cipher.AEAD
	seqMu sync.Mutex
}

// Option configures a Storage.
type Option func(*Storage) error

// WithDataKey enables AES-256-GCM encryption of every stored value.
func WithDataKey(dek []byte) Option {
	return func(s *Storage) error {
		if len(dek) == 0 {
			return nil
		}
		gcm, err := newAEAD(dek)
		if err != nil {
			return err
		}
		s.gcm = gcm
		return nil
	}
}

// Open opens (or creates) the database at path.
func Open(path string, opts ...Option) (*Storage, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return newStorage(db, opts)
}

// OpenMem opens a memory-backed database, used by tests and dry runs.
func OpenMem(opts ...Option) (*Storage, error) {
	db, err := leveldb.Open(lvlstorage.NewMemStorage(), nil)
	if err != nil {
		return nil, err
	}
	return newStorage(db, opts)
}

func newStorage(db *leveldb.DB, opts []Option) (*Storage, error) {
	s := &Storage{db: db}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			db.Close()
			return nil, err
		}
	}
	return s, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

// DB exposes the underlying LevelDB instance
func (s *Storage) DB() *leveldb.DB {
	return s.db
}

// Ping checks the database is readable.
func (s *Storage) Ping() error {
	_, err := s.db.GetProperty("leveldb.stats")
	return err
}

func subjectKey(id int64) []byte { return []byte(prefixSubject + pad(id)) }
func itemPrefix(subjectID int64) []byte {
	return []byte(prefixItem + pad(subjectID) + ":")
}
func itemKey(subjectID, itemID int64) []byte {
	return append(itemPrefix(subjectID), pad(itemID)...)
}
func sealKey(subjectID int64) []byte { return []byte(prefixSeal + pad(subjectID)) }
func attemptKey(subjectID, principalID int64) []byte {
	return []byte(prefixAttempt + pad(subjectID) + ":" + pad(principalID))
}
func outcomePrefix(subjectID int64) []byte {
	return []byte(prefixOutcome + pad(subjectID) + ":")
}
func outcomeKey(subjectID, principalID int64) []byte {
	return append(outcomePrefix(subjectID), pad(principalID)...)
}
func pendingPrefix(subjectID int64) []byte {
	return []byte(prefixPending + pad(subjectID) + ":")
}
func pendingKey(kind exam.PendingKind, subjectID, principalID int64) []byte {
	return []byte(string(pendingPrefix(subjectID)) + string(kind) + ":" + pad(principalID))
}

// pad renders ids fixed-width so lexicographic key order is numeric order.
func pad(id int64) string {
	return fmt.Sprintf("%020d", id)
}

func (s *Storage) encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if s.gcm == nil {
		return data, nil
	}
	return seal(s.gcm, data)
}

func (s *Storage) decode(raw []byte, v any) error {
	if s.gcm != nil {
		dec, err := open(s.gcm, raw)
		if err != nil {
			return fmt.Errorf("decrypt: %w", err)
		}
		raw = dec
	}
	return json.Unmarshal(raw, v)
}

func (s *Storage) get(key []byte, v any) error {
	raw, err := s.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return s.decode(raw, v)
}

func (s *Storage) put(key []byte, v any) error {
	enc, err := s.encode(v)
	if err != nil {
		return err
	}
	return s.db.Put(key, enc, nil)
}

// NextID allocates the next value of the named sequence (starting at 1).
func (s *Storage) NextID(name string) (int64, error) {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()
	key := []byte(prefixSeq + name)
	var cur int64
	raw, err := s.db.Get(key, nil)
	switch {
	case errors.Is(err, leveldb.ErrNotFound):
	case err != nil:
		return 0, err
	default:
		cur, err = strconv.ParseInt(string(raw), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("sequence %s: %w", name, err)
		}
	}
	cur++
	if err := s.db.Put(key, []byte(strconv.FormatInt(cur, 10)), nil); err != nil {
		return 0, err
	}
	return cur, nil
}

// BumpID raises the named sequence to at least id, so explicitly numbered
// records (seed fixtures) never collide with allocated ones.
func (s *Storage) BumpID(name string, id int64) error {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()
	key := []byte(prefixSeq + name)
	raw, err := s.db.Get(key, nil)
	if err != nil && !errors.Is(err, leveldb.ErrNotFound) {
		return err
	}
	if err == nil {
		cur, perr := strconv.ParseInt(string(raw), 10, 64)
		if perr == nil && cur >= id {
			return nil
		}
	}
	return s.db.Put(key, []byte(strconv.FormatInt(id, 10)), nil)
}

func (s *Storage) PutSubject(subj exam.Subject) error {
	return s.put(subjectKey(subj.ID), subj)
}

func (s *Storage) GetSubject(id int64) (exam.Subject, error) {
	var subj exam.Subject
	err := s.get(subjectKey(id), &subj)
	return subj, err
}

// ListSubjects returns all subjects in ascending id order.
func (s *Storage) ListSubjects() ([]exam.Subject, error) {
	iter := s.db.NewIterator(util.BytesPrefix([]byte(prefixSubject)), nil)
	defer iter.Release()
	var out []exam.Subject
	for iter.Next() {
		var subj exam.Subject
		if err := s.decode(iter.Value(), &subj); err != nil {
			return nil, fmt.Errorf("subject %s: %w", iter.Key(), err)
		}
		out = append(out, subj)
	}
	return out, iter.Error()
}

func (s *Storage) PutItem(it exam.Item) error {
	return s.put(itemKey(it.SubjectID, it.ID), it)
}

func (s *Storage) GetItem(subjectID, itemID int64) (exam.Item, error) {
	var it exam.Item
	err := s.get(itemKey(subjectID, itemID), &it)
	return it, err
}

func (s *Storage) DeleteItem(subjectID, itemID int64) error {
	return s.db.Delete(itemKey(subjectID, itemID), nil)
}

// ListItems returns the subject's items in ascending id order.
func (s *Storage) ListItems(subjectID int64) ([]exam.Item, error) {
	iter := s.db.NewIterator(util.BytesPrefix(itemPrefix(subjectID)), nil)
	defer iter.Release()
	var out []exam.Item
	for iter.Next() {
		var it exam.Item
		if err := s.decode(iter.Value(), &it); err != nil {
			return nil, fmt.Errorf("item %s: %w", iter.Key(), err)
		}
		out = append(out, it)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Storage) GetSeal(subjectID int64) (exam.Seal, error) {
	var seal exam.Seal
	err := s.get(sealKey(subjectID), &seal)
	return seal, err
}

func (s *Storage) GetAttempt(subjectID, principalID int64) (exam.Attempt, error) {
	var a exam.Attempt
	err := s.get(attemptKey(subjectID, principalID), &a)
	return a, err
}

func (s *Storage) PutAttempt(a exam.Attempt) error {
	return s.put(attemptKey(a.SubjectID, a.PrincipalID), a)
}

func (s *Storage) GetOutcome(subjectID, principalID int64) (exam.OutcomeRecord, error) {
	var o exam.OutcomeRecord
	err := s.get(outcomeKey(subjectID, principalID), &o)
	return o, err
}

// ListOutcomes returns the subject's committed outcomes ordered by principal id.
func (s *Storage) ListOutcomes(subjectID int64) ([]exam.OutcomeRecord, error) {
	iter := s.db.NewIterator(util.BytesPrefix(outcomePrefix(subjectID)), nil)
	defer iter.Release()
	var out []exam.OutcomeRecord
	for iter.Next() {
		var o exam.OutcomeRecord
		if err := s.decode(iter.Value(), &o); err != nil {
			return nil, fmt.Errorf("outcome %s: %w", iter.Key(), err)
		}
		out = append(out, o)
	}
	return out, iter.Error()
}

func (s *Storage) GetPending(kind exam.PendingKind, subjectID, principalID int64) (exam.Pending, error) {
	var p exam.Pending
	err := s.get(pendingKey(kind, subjectID, principalID), &p)
	return p, err
}

func (s *Storage) PutPending(p exam.Pending) error {
	return s.put(pendingKey(p.Kind, p.SubjectID, p.PrincipalID), p)
}

// ListPending returns the unresolved ledger calls recorded for a subject.
func (s *Storage) ListPending(subjectID int64) ([]exam.Pending, error) {
	iter := s.db.NewIterator(util.BytesPrefix(pendingPrefix(subjectID)), nil)
	defer iter.Release()
	var out []exam.Pending
	for iter.Next() {
		var p exam.Pending
		if err := s.decode(iter.Value(), &p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, iter.Error()
}

// Batch stages several writes that commit together or not at all.
type Batch struct {
	s   *Storage
	b   *leveldb.Batch
	err error
}

func (b *Batch) put(key []byte, v any) {
	if b.err != nil {
		return
	}
	enc, err := b.s.encode(v)
	if err != nil {
		b.err = err
		return
	}
	b.b.Put(key, enc)
}

func (b *Batch) PutSeal(seal exam.Seal) {
	b.put(sealKey(seal.SubjectID), seal)
}

func (b *Batch) PutAttempt(a exam.Attempt) {
	b.put(attemptKey(a.SubjectID, a.PrincipalID), a)
}

func (b *Batch) PutOutcome(o exam.OutcomeRecord) {
	b.put(outcomeKey(o.SubjectID, o.PrincipalID), o)
}

func (b *Batch) PutItem(it exam.Item) {
	b.put(itemKey(it.SubjectID, it.ID), it)
}

func (b *Batch) PutSubject(subj exam.Subject) {
	b.put(subjectKey(subj.ID), subj)
}

func (b *Batch) DeletePending(kind exam.PendingKind, subjectID, principalID int64) {
	b.b.Delete(pendingKey(kind, subjectID, principalID))
}

// Write runs fn against a fresh batch and commits it atomically.
func (s *Storage) Write(fn func(b *Batch) error) error {
	b := &Batch{s: s, b: new(leveldb.Batch)}
	if err := fn(b); err != nil {
		return err
	}
	if b.err != nil {
		return b.err
	}
	return s.db.Write(b.b, nil)
}
