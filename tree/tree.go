// Package tree implements rooted phylogenetic trees with branch
// lengths and lambda-cluster tags.
package tree

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"unicode"
	"unicode/utf8"
)

// Mode is a Newick parser state.
type Mode int

// Parser states.
const (
	NORMAL Mode = iota
	LENGTH
	CLASS
)

// ErrNegativeBranch is returned by Validate if some branch has a
// negative length.
var ErrNegativeBranch = errors.New("negative branch length")

// Tree is a rooted tree. Node slices are computed once the topology
// is fixed and cached; call ClearCache after changing the topology.
type Tree struct {
	*Node
	nNodes    int
	nodes     []*Node
	leaves    []*Node
	nodeOrder []*Node
	preOrder  []*Node
}

// ClearCache removes all the cached node orders.
func (tree *Tree) ClearCache() {
	tree.nNodes = 0
	tree.nodes = nil
	tree.leaves = nil
	tree.nodeOrder = nil
	tree.preOrder = nil
}

// NNodes returns the number of nodes including the root.
func (tree *Tree) NNodes() int {
	if tree.nNodes == 0 {
		tree.nNodes = tree.NSubNodes()
	}
	return tree.nNodes
}

// NodeIDArray returns nodes indexed by their ID.
func (tree *Tree) NodeIDArray() []*Node {
	if tree.nodes == nil {
		tree.nodes = make([]*Node, tree.NNodes())
		for node := range tree.Walker(nil) {
			tree.nodes[node.ID] = node
		}
	}
	return tree.nodes
}

// Leaves returns terminal nodes indexed by LeafID.
func (tree *Tree) Leaves() []*Node {
	if tree.leaves == nil {
		tree.leaves = make([]*Node, tree.NLeaves())
		for node := range tree.Terminals() {
			tree.leaves[node.LeafID] = node
		}
	}
	return tree.leaves
}

// LeafNames returns species names ordered by LeafID.
func (tree *Tree) LeafNames() []string {
	leaves := tree.Leaves()
	names := make([]string, len(leaves))
	for i, node := range leaves {
		names[i] = node.Name
	}
	return names
}

// Terminals returns a channel with all the leaves.
func (tree *Tree) Terminals() <-chan *Node {
	return tree.Walker(func(n *Node) bool {
		return n.IsTerminal()
	})
}

// ClassNodes returns all the nodes with a given class.
func (tree *Tree) ClassNodes(class int) <-chan *Node {
	return tree.Walker(func(node *Node) bool {
		return node.Class == class
	})
}

// NLeaves returns the number of terminal nodes.
func (tree *Tree) NLeaves() (i int) {
	for range tree.Terminals() {
		i++
	}
	return
}

// NClasses returns the number of lambda clusters, i.e. maximum class
// plus one. The root branch is ignored.
func (tree *Tree) NClasses() int {
	max := 0
	for node := range tree.Walker(nil) {
		if !node.IsRoot() && node.Class > max {
			max = node.Class
		}
	}
	return max + 1
}

// MaxBranchLength returns the longest branch length.
func (tree *Tree) MaxBranchLength() (max float64) {
	for node := range tree.Walker(nil) {
		if node.BranchLength > max {
			max = node.BranchLength
		}
	}
	return
}

// BranchLengths returns the distinct non-root branch lengths.
func (tree *Tree) BranchLengths() []float64 {
	seen := make(map[float64]bool)
	var res []float64
	for _, node := range tree.NodeIDArray() {
		if node.IsRoot() || seen[node.BranchLength] {
			continue
		}
		seen[node.BranchLength] = true
		res = append(res, node.BranchLength)
	}
	return res
}

// Validate checks that no branch length is negative and classes are
// non-negative.
func (tree *Tree) Validate() error {
	for node := range tree.Walker(nil) {
		if node.BranchLength < 0 {
			return fmt.Errorf("%w: node %d (%s) has length %v",
				ErrNegativeBranch, node.ID, node.Name, node.BranchLength)
		}
		if node.Class < 0 {
			return fmt.Errorf("node %d has negative class %d", node.ID, node.Class)
		}
	}
	return nil
}

// Walker returns a buffered channel with all the nodes in pre-order
// which satisfy the filter.
func (tree *Tree) Walker(filter func(*Node) bool) <-chan *Node {
	ch := make(chan *Node, tree.NNodes())
	tree.Walk(ch, filter)
	close(ch)
	return ch
}

// Copy creates independent copy of the tree.
func (tree *Tree) Copy() (newTree *Tree) {
	nNodes := tree.NNodes()
	newTree = &Tree{
		nNodes: nNodes,
		nodes:  make([]*Node, nNodes),
	}

	for i, node := range tree.NodeIDArray() {
		if i != node.ID {
			panic("node id mismatch")
		}
		newTree.nodes[i] = node.Copy()
	}

	// Rewire node/parent connections.
	for i, node := range tree.NodeIDArray() {
		newNode := newTree.nodes[i]
		for _, child := range node.childNodes {
			newNode.AddChild(newTree.nodes[child.ID])
		}
	}

	newTree.Node = newTree.nodes[tree.Node.ID]

	return
}

// NodeOrder returns internal nodes in the order of computation,
// i.e. every node comes after all of its children. The root is the
// last node.
func (tree *Tree) NodeOrder() []*Node {
	if tree.nodeOrder == nil {
		tree.nodeOrder = make([]*Node, 0, tree.NNodes())
		computed := make(map[*Node]bool, tree.NNodes())
		awaiting := make(chan *Node, tree.NNodes()*2)
		for node := range tree.Terminals() {
			computed[node] = true
			awaiting <- node.Parent
		}

		for node := range awaiting {
			if node == nil {
				break
			}
			if computed[node] {
				continue
			}
			allComputed := true
			for _, childNode := range node.ChildNodes() {
				if !computed[childNode] {
					allComputed = false
					break
				}
			}
			if !allComputed {
				awaiting <- node
			} else {
				tree.nodeOrder = append(tree.nodeOrder, node)
				computed[node] = true
				awaiting <- node.Parent
			}
		}
	}
	return tree.nodeOrder
}

// PreOrder returns all the nodes so that every parent comes before
// its children. The root is the first node.
func (tree *Tree) PreOrder() []*Node {
	if tree.preOrder == nil {
		tree.preOrder = make([]*Node, 0, tree.NNodes())
		for node := range tree.Walker(nil) {
			tree.preOrder = append(tree.preOrder, node)
		}
	}
	return tree.preOrder
}

// Node is a tree node. Branch length and class belong to the branch
// leading to the node.
type Node struct {
	Name         string
	BranchLength float64
	Parent       *Node
	childNodes   []*Node
	ID           int
	LeafID       int
	Class        int
}

// NewNode creates a new node with a given parent and ID.
func NewNode(parent *Node, nodeID int) (node *Node) {
	node = &Node{Parent: parent, ID: nodeID, LeafID: -1}
	return
}

// Copy creates copy of node with empty parent and children.
func (node *Node) Copy() *Node {
	return &Node{
		Name:         node.Name,
		BranchLength: node.BranchLength,
		childNodes:   make([]*Node, 0, len(node.childNodes)),
		ID:           node.ID,
		LeafID:       node.LeafID,
		Class:        node.Class,
	}
}

// AddChild adds a child node.
func (node *Node) AddChild(subNode *Node) {
	subNode.Parent = node
	node.childNodes = append(node.childNodes, subNode)
}

// ClassString returns a Newick string with lambda-cluster tags.
func (node *Node) ClassString() (s string) {
	if !node.IsTerminal() {
		s += "("
		for i, child := range node.childNodes {
			s += child.ClassString()
			if i != len(node.childNodes)-1 {
				s += ","
			}
		}
		s += ")"
	}
	s += node.Name
	if node.Class != 0 {
		s += fmt.Sprintf("#%d", node.Class)
	}
	if node.IsRoot() {
		s += ";"
	} else {
		s += ":" + strconv.FormatFloat(node.BranchLength, 'g', -1, 64)
	}
	return
}

// ChildNodes returns the node children.
func (node *Node) ChildNodes() []*Node {
	return node.childNodes
}

// Walk sends the subtree nodes in pre-order to the channel.
func (node *Node) Walk(ch chan *Node, filter func(*Node) bool) {
	if filter == nil || filter(node) {
		ch <- node
	}
	for _, node := range node.childNodes {
		node.Walk(ch, filter)
	}
}

// NSubNodes returns the size of the subtree.
func (node *Node) NSubNodes() (size int) {
	for _, node := range node.childNodes {
		size += node.NSubNodes()
	}
	return size + 1
}

// IsRoot returns true for the root node.
func (node *Node) IsRoot() bool {
	return node.Parent == nil
}

// IsTerminal returns true for leaves.
func (node *Node) IsTerminal() bool {
	return len(node.childNodes) == 0
}

// IsSpecial returns true for the Newick control characters.
func IsSpecial(c rune) bool {
	switch c {
	case '(', ')', ':', '#', ';', ',':
		return true
	}
	return false

}

// NewickSplit is a bufio.SplitFunc for Newick tokens.
func NewickSplit(data []byte, atEOF bool) (advance int, token []byte, err error) {
	start := 0
	// Skip leading spaces; and return 1-char tokens.
	for width := 0; start < len(data); start += width {
		var r rune
		r, width = utf8.DecodeRune(data[start:])
		if IsSpecial(r) {
			return start + width, data[start : start+width], nil
		}
		if !unicode.IsSpace(r) {
			break
		}
	}
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}

	// Scan until space or special character.
	for width, i := 0, start; i < len(data); i += width {
		var r rune
		r, width = utf8.DecodeRune(data[i:])
		if unicode.IsSpace(r) || IsSpecial(r) {
			return i, data[start:i], nil
		}
	}
	// If we're at EOF, we have a final, non-empty, non-terminated word. Return it.
	if atEOF && len(data) > start {
		return len(data), data[start:], nil
	}
	// Request more data.
	return 0, nil, nil
}

// ParseNewick parses a Newick tree. Lambda-cluster tags are given as
// "#k" after a node, e.g. "((a,b)#1:2,c:3);".
func ParseNewick(rd io.Reader) (tree *Tree, err error) {
	scanner := bufio.NewScanner(rd)

	scanner.Split(NewickSplit)

	nodeID := 0

	node := NewNode(nil, nodeID)
	tree = &Tree{Node: node}
	nodeID++

	mode := NORMAL

	for scanner.Scan() {
		text := scanner.Text()
		switch text {
		case "(":
			subNode := NewNode(nil, nodeID)
			nodeID++
			node.AddChild(subNode)
			node = subNode

		case ",":
			if node.Parent == nil {
				return nil, errors.New("top level comma mismatch")
			}
			subNode := NewNode(nil, nodeID)
			nodeID++

			node.Parent.AddChild(subNode)
			node = subNode

		case ")":
			if node.Parent == nil {
				return nil, errors.New("brackets mismatch")
			}
			node = node.Parent
		case "#":
			mode = CLASS
		case ":":
			mode = LENGTH
		case ";":
			tree.setLeafIDs()
			return
		default:
			switch mode {
			case LENGTH:
				l, err := strconv.ParseFloat(text, 64)
				if err != nil {
					return nil, err
				}
				node.BranchLength = l
				mode = NORMAL
			case CLASS:
				cl, err := strconv.ParseInt(text, 0, 0)
				if err != nil {
					return nil, err
				}
				node.Class = int(cl)
				mode = NORMAL
			default:
				node.Name = text
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	tree.setLeafIDs()

	return
}

// setLeafIDs numbers leaves in the pre-order.
func (tree *Tree) setLeafIDs() {
	leafID := 0
	for node := range tree.Walker(nil) {
		if node.IsTerminal() {
			node.LeafID = leafID
			leafID++
		} else {
			node.LeafID = -1
		}
	}
}
