package checkpoint

import (
	"path/filepath"
	"testing"

	"github.com/op/go-logging"
)

func init() {
	logging.SetLevel(logging.WARNING, "checkpoint")
}

func TestRoundTrip(tst *testing.T) {
	db, err := Open(filepath.Join(tst.TempDir(), "checkpoint.db"))
	if err != nil {
		tst.Fatal("Error opening database:", err)
	}
	defer db.Close()

	key := Key("(A:1,B:1);", "families.txt", "global")
	if string(key) != string(Key("(A:1,B:1);", "families.txt", "global")) {
		tst.Error("Keys are not stable")
	}
	if string(key) == string(Key("(A:1,B:1);", "families.txt", "clustered")) {
		tst.Error("Different runs share a key")
	}

	s := NewIO(db, key, []string{"lambda", "mu"}, 0)
	if data, err := s.Load(); err != nil || data != nil {
		tst.Fatal("Expected no checkpoint, got", data, err)
	}
	if err := s.Save([]float64{0.01, 0.02}, -12.5, 10); err != nil {
		tst.Fatal("Error saving:", err)
	}
	data, err := s.Load()
	if err != nil {
		tst.Fatal("Error loading:", err)
	}
	if data.Values[0] != 0.01 || data.Values[1] != 0.02 || data.Likelihood != -12.5 || data.Iter != 10 || data.Final {
		tst.Error("Wrong checkpoint:", data)
	}
	if err := s.Finalize([]float64{0.03, 0.04}, -11, 20); err != nil {
		tst.Fatal(err)
	}
	if data, _ := s.Load(); !data.Final || data.Values[0] != 0.03 {
		tst.Error("Final checkpoint not stored:", data)
	}

	other := NewIO(db, key, []string{"lambda"}, 0)
	if _, err := other.Load(); err == nil {
		tst.Error("Expected an error for a parameter count mismatch")
	}
}

func TestThrottle(tst *testing.T) {
	db, err := Open(filepath.Join(tst.TempDir(), "checkpoint.db"))
	if err != nil {
		tst.Fatal(err)
	}
	defer db.Close()
	s := NewIO(db, Key("x"), []string{"a"}, 3600)
	s.Save([]float64{1}, -1, 1)
	s.Save([]float64{2}, -0.5, 2)
	data, _ := s.Load()
	if data == nil || data.Values[0] != 1 {
		tst.Error("Second save should be skipped:", data)
	}
}
