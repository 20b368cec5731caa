// Package family holds gene family sizes observed in a set of species.
package family

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/op/go-logging"

	"github.com/mrrlab/gofam/tree"
)

var log = logging.MustGetLogger("family")

// Item is a single gene family.
type Item struct {
	ID    string
	Desc  string
	Count []int
	// MaxLH is the root size maximizing the likelihood, -1 if unknown.
	MaxLH int
	// Ref is the index of the first family with identical counts, or
	// -1 if the item is the first one.
	Ref int
	// Lambda and Mu override model rates for this family if set.
	Lambda []float64
	Mu     []float64
	// Membership holds mixture component posteriors.
	Membership []float64
}

// NewItem creates an item with no cached results.
func NewItem(id, desc string, count []int) *Item {
	return &Item{
		ID:    id,
		Desc:  desc,
		Count: count,
		MaxLH: -1,
		Ref:   -1,
	}
}

// MaxCount returns the largest count of the family.
func (item *Item) MaxCount() (max int) {
	for _, c := range item.Count {
		if c > max {
			max = c
		}
	}
	return
}

// HasOverride returns true if the family carries its own rates.
func (item *Item) HasOverride() bool {
	return len(item.Lambda) > 0
}

// Family is a set of gene families sharing a species list. Every item
// has one count per species.
type Family struct {
	Species []string
	Items   []*Item
	index   map[string]int
}

// New creates an empty family set.
func New(species []string) *Family {
	return &Family{Species: species}
}

// Add appends an item.
func (fam *Family) Add(item *Item) error {
	if len(item.Count) != len(fam.Species) {
		return fmt.Errorf("%w: family %s has %d counts, expected %d",
			ErrDataShape, item.ID, len(item.Count), len(fam.Species))
	}
	fam.Items = append(fam.Items, item)
	fam.index = nil
	return nil
}

// Len returns the number of items.
func (fam *Family) Len() int {
	return len(fam.Items)
}

// Index returns the position of a family id or -1.
func (fam *Family) Index(id string) int {
	if fam.index == nil {
		fam.index = make(map[string]int, len(fam.Items))
		for i, item := range fam.Items {
			if _, ok := fam.index[item.ID]; !ok {
				fam.index[item.ID] = i
			}
		}
	}
	if i, ok := fam.index[id]; ok {
		return i
	}
	return -1
}

// Get returns the family with the given id or nil.
func (fam *Family) Get(id string) *Item {
	if i := fam.Index(id); i >= 0 {
		return fam.Items[i]
	}
	return nil
}

// MaxCount returns the largest count over all families.
func (fam *Family) MaxCount() (max int) {
	for _, item := range fam.Items {
		if m := item.MaxCount(); m > max {
			max = m
		}
	}
	return
}

// BindTree reorders counts so that count i belongs to the leaf with
// LeafID i.
func (fam *Family) BindTree(t *tree.Tree) error {
	leaves := t.Leaves()
	if len(leaves) != len(fam.Species) {
		return fmt.Errorf("%w: tree has %d leaves, families have %d species",
			ErrDataShape, len(leaves), len(fam.Species))
	}
	col := make(map[string]int, len(fam.Species))
	for i, sp := range fam.Species {
		col[strings.ToLower(sp)] = i
	}
	perm := make([]int, len(leaves))
	for i, leaf := range leaves {
		j, ok := col[strings.ToLower(leaf.Name)]
		if !ok {
			return fmt.Errorf("%w: species %q not found in families", ErrDataShape, leaf.Name)
		}
		perm[i] = j
	}
	for _, item := range fam.Items {
		if len(item.Count) != len(perm) {
			return fmt.Errorf("%w: family %s has %d counts, expected %d",
				ErrDataShape, item.ID, len(item.Count), len(perm))
		}
		count := make([]int, len(perm))
		for i, j := range perm {
			count[i] = item.Count[j]
		}
		item.Count = count
	}
	species := make([]string, len(perm))
	for i, j := range perm {
		species[i] = fam.Species[j]
	}
	fam.Species = species
	return nil
}

// Dedupe marks families with counts identical to an earlier one.
// It returns the number of references set.
func (fam *Family) Dedupe() (n int) {
	seen := make(map[string]int, len(fam.Items))
	for i, item := range fam.Items {
		key := fmt.Sprint(item.Count)
		if j, ok := seen[key]; ok {
			item.Ref = j
			n++
			continue
		}
		item.Ref = -1
		seen[key] = i
	}
	return
}

// Filter drops families with counts outside of the range. It returns
// the number of families removed.
func (fam *Family) Filter(r Range) (removed int) {
	items := fam.Items[:0]
	for _, item := range fam.Items {
		if item.MaxCount() > r.Max {
			log.Debugf("Removing family %s, maximum count %d", item.ID, item.MaxCount())
			removed++
			continue
		}
		items = append(items, item)
	}
	fam.Items = items
	fam.index = nil
	if removed > 0 {
		fam.Dedupe()
	}
	return
}

// ResetMaxLH clears the cached maximum likelihood root sizes.
func (fam *Family) ResetMaxLH() {
	for _, item := range fam.Items {
		item.MaxLH = -1
	}
}

// Read parses the tab separated family format:
//
//	Desc	Family ID	species1	species2	...
//	desc	id	count1	count2	...
//
// Gzip compressed input is detected automatically.
func Read(rd io.Reader) (*Family, error) {
	br := bufio.NewReader(rd)
	if magic, err := br.Peek(2); err == nil && bytes.Equal(magic, []byte{0x1f, 0x8b}) {
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		br = bufio.NewReader(gz)
	}

	scanner := bufio.NewScanner(br)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	var fam *Family
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if fam == nil {
			if len(fields) < 3 {
				return nil, fmt.Errorf("%w: header needs description, id and species columns", ErrDataShape)
			}
			species := make([]string, len(fields)-2)
			for i, sp := range fields[2:] {
				species[i] = strings.TrimSpace(sp)
			}
			fam = New(species)
			continue
		}
		if len(fields) != len(fam.Species)+2 {
			return nil, fmt.Errorf("%w: line %d has %d columns, expected %d",
				ErrDataShape, lineNo, len(fields), len(fam.Species)+2)
		}
		count := make([]int, len(fam.Species))
		for i, f := range fields[2:] {
			c, err := strconv.Atoi(strings.TrimSpace(f))
			if err != nil {
				return nil, fmt.Errorf("line %d: %v", lineNo, err)
			}
			if c < 0 {
				return nil, fmt.Errorf("%w: line %d has a negative count", ErrInvalidParameter, lineNo)
			}
			count[i] = c
		}
		if err := fam.Add(NewItem(fields[1], fields[0], count)); err != nil {
			return nil, err
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if fam == nil {
		return nil, fmt.Errorf("%w: empty family file", ErrDataShape)
	}
	log.Infof("Read %d families for %d species", fam.Len(), len(fam.Species))
	return fam, nil
}

// Write outputs families in the format accepted by Read.
func (fam *Family) Write(w io.Writer) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "Desc\tFamily ID\t%s\n", strings.Join(fam.Species, "\t"))
	for _, item := range fam.Items {
		fmt.Fprintf(bw, "%s\t%s", item.Desc, item.ID)
		for _, c := range item.Count {
			fmt.Fprintf(bw, "\t%d", c)
		}
		fmt.Fprintln(bw)
	}
	return bw.Flush()
}
