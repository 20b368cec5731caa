// Package checkpoint stores the best parameters of an optimization in
// a bolt database, so that an interrupted run can be resumed.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/op/go-logging"

	bolt "go.etcd.io/bbolt"
)

// log is the global logging variable.
var log = logging.MustGetLogger("checkpoint")

// MAIN is the bucket name for all checkpoints.
var MAIN = []byte("main")

// Data stores checkpoint data.
type Data struct {
	Names      []string  `json:"names"`
	Values     []float64 `json:"values"`
	Likelihood float64   `json:"likelihood"`
	Iter       int       `json:"iter"`
	Final      bool      `json:"final"`
}

// Open opens or creates a checkpoint database.
func Open(path string) (*bolt.DB, error) {
	return bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
}

// Key derives a stable checkpoint key from the description of a run,
// e.g. the tree, the data file and the model settings.
func Key(parts ...string) []byte {
	data := ""
	for _, p := range parts {
		data += p + "\x00"
	}
	return []byte(uuid.NewSHA1(uuid.NameSpaceOID, []byte(data)).String())
}

// IO saves and loads checkpoints for a single key. It implements the
// optimizer Checkpointer.
type IO struct {
	db      *bolt.DB
	key     []byte
	names   []string
	last    time.Time
	seconds float64
}

// NewIO creates a new IO. Saves more frequent than seconds are
// skipped.
func NewIO(db *bolt.DB, key []byte, names []string, seconds float64) *IO {
	return &IO{
		db:      db,
		key:     key,
		names:   names,
		seconds: seconds,
	}
}

// Save implements the optimizer Checkpointer.
func (s *IO) Save(values []float64, l float64, iter int) error {
	if !s.Old() {
		return nil
	}
	return s.SaveData(&Data{
		Names:      s.names,
		Values:     values,
		Likelihood: l,
		Iter:       iter,
	})
}

// SaveData saves checkpoint data.
func (s *IO) SaveData(data *Data) error {
	// Even if saving fails, we do not want to run this code too often.
	s.SetNow()
	dataB, err := json.Marshal(data)
	if err != nil {
		log.Error("Error serializing checkpoint", err)
		return err
	}
	err = SaveData(s.db, s.key, dataB)
	if err != nil {
		log.Error("Error saving checkpoint", err)
	}
	return err
}

// Finalize stores the final result.
func (s *IO) Finalize(values []float64, l float64, iter int) error {
	return s.SaveData(&Data{
		Names:      s.names,
		Values:     values,
		Likelihood: l,
		Iter:       iter,
		Final:      true,
	})
}

// Load returns the stored checkpoint or nil if there is none.
func (s *IO) Load() (*Data, error) {
	var data *Data

	b, err := LoadData(s.db, s.key)

	if err != nil || b == nil {
		return nil, err
	}

	err = json.Unmarshal(b, &data)

	if err != nil {
		return nil, err
	}

	if data == nil || len(data.Values) == 0 {
		return nil, nil
	}
	if len(data.Values) != len(s.names) {
		return nil, fmt.Errorf("checkpoint has %d parameters, expected %d", len(data.Values), len(s.names))
	}

	if data.Final {
		log.Noticef("Found finished likelihood optimization checkpoint (iter=%v, lnL=%v)", data.Iter, data.Likelihood)
	} else {
		log.Noticef("Found unfinished likelihood optimization checkpoint (iter=%v, lnL=%v)", data.Iter, data.Likelihood)
	}

	return data, nil
}

// Old returns true if last checkpoint save time too long ago.
func (s *IO) Old() bool {
	return time.Since(s.last).Seconds() >= s.seconds
}

// SetNow sets last checkpoint time to now.
func (s *IO) SetNow() {
	s.last = time.Now()
}

// SaveData saves values in bolt database.
func SaveData(db *bolt.DB, key []byte, data []byte) error {
	if db == nil {
		return nil
	}
	return db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(MAIN)
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
}

// LoadData loads data from bolt database.
func LoadData(db *bolt.DB, key []byte) ([]byte, error) {
	var data []byte
	if db == nil {
		return nil, nil
	}
	err := db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(MAIN)
		if b == nil {
			return nil
		}
		if v := b.Get(key); v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}
