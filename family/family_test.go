package family

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/op/go-logging"

	"github.com/mrrlab/gofam/tree"
)

func init() {
	logging.SetLevel(logging.WARNING, "family")
}

const families = "Desc\tFamily ID\tA\tB\tC\n" +
	"kinase\tF1\t2\t3\t2\n" +
	"ribosomal\tF2\t1\t1\t1\n" +
	"kinase-like\tF3\t2\t3\t2\n" +
	"olfactory\tF4\t40\t12\t3\n"

func TestRead(tst *testing.T) {
	fam, err := Read(strings.NewReader(families))
	if err != nil {
		tst.Fatal("Error reading families:", err)
	}
	if fam.Len() != 4 || len(fam.Species) != 3 {
		tst.Fatal("Wrong number of families or species:", fam.Len(), fam.Species)
	}
	item := fam.Get("F4")
	if item == nil || item.Count[0] != 40 || item.Desc != "olfactory" {
		tst.Error("Wrong family F4:", item)
	}
	if fam.Index("F3") != 2 || fam.Index("missing") != -1 {
		tst.Error("Wrong index")
	}
	if fam.MaxCount() != 40 {
		tst.Error("Wrong max count", fam.MaxCount())
	}
}

func TestReadGzip(tst *testing.T) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	gz.Write([]byte(families))
	gz.Close()
	fam, err := Read(&buf)
	if err != nil {
		tst.Fatal("Error reading families:", err)
	}
	if fam.Len() != 4 {
		tst.Error("Expected 4 families, got", fam.Len())
	}
}

func TestReadShape(tst *testing.T) {
	_, err := Read(strings.NewReader("Desc\tFamily ID\tA\tB\nx\tF1\t1\n"))
	if !errors.Is(err, ErrDataShape) {
		tst.Error("Expected data shape error, got", err)
	}
}

func TestBindTree(tst *testing.T) {
	fam, err := Read(strings.NewReader(families))
	if err != nil {
		tst.Fatal(err)
	}
	t, err := tree.ParseNewick(strings.NewReader("(C:1,(B:1,A:1):1);"))
	if err != nil {
		tst.Fatal(err)
	}
	if err := fam.BindTree(t); err != nil {
		tst.Fatal("Error binding tree:", err)
	}
	if fam.Species[0] != "C" || fam.Species[2] != "A" {
		tst.Error("Wrong species order:", fam.Species)
	}
	if c := fam.Get("F4").Count; c[0] != 3 || c[1] != 12 || c[2] != 40 {
		tst.Error("Counts not reordered:", c)
	}

	t2, _ := tree.ParseNewick(strings.NewReader("(A:1,B:1,D:1);"))
	if err := fam.BindTree(t2); !errors.Is(err, ErrDataShape) {
		tst.Error("Expected data shape error, got", err)
	}
	t3, _ := tree.ParseNewick(strings.NewReader("(A:1,B:1);"))
	if err := fam.BindTree(t3); !errors.Is(err, ErrDataShape) {
		tst.Error("Expected data shape error, got", err)
	}
}

func TestDedupeFilter(tst *testing.T) {
	fam, _ := Read(strings.NewReader(families))
	if n := fam.Dedupe(); n != 1 {
		tst.Error("Expected one duplicate, got", n)
	}
	if fam.Get("F3").Ref != 0 || fam.Get("F1").Ref != -1 {
		tst.Error("Wrong references")
	}
	if removed := fam.Filter(Range{1, 20, 0, 30}); removed != 1 {
		tst.Error("Expected one removed family, got", removed)
	}
	if fam.Get("F4") != nil {
		tst.Error("F4 should be filtered")
	}
	fam.Items[0].MaxLH = 3
	fam.ResetMaxLH()
	if fam.Items[0].MaxLH != -1 {
		tst.Error("MaxLH not reset")
	}
}

func TestRange(tst *testing.T) {
	if err := (Range{1, 10, 0, 20}).Validate(); err != nil {
		tst.Error("Valid range rejected:", err)
	}
	for _, r := range []Range{{-1, 10, 0, 20}, {5, 4, 0, 20}, {1, 10, 3, 2}} {
		if err := r.Validate(); !errors.Is(err, ErrInvalidParameter) {
			tst.Error("Invalid range accepted:", r)
		}
	}
	if s := (Range{1, 30, 0, 20}).Size(); s != 31 {
		tst.Error("Wrong size:", s)
	}
	r := RangeFor(40)
	if r.Validate() != nil || r.Max < 40 || r.MaxRoot < 40 {
		tst.Error("Range too narrow:", r)
	}
}

func TestWrite(tst *testing.T) {
	fam, _ := Read(strings.NewReader(families))
	var buf bytes.Buffer
	if err := fam.Write(&buf); err != nil {
		tst.Fatal(err)
	}
	if buf.String() != families {
		tst.Error("Written families differ:", buf.String())
	}
}
