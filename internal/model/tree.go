package model

import (
	"errors"
	"fmt"
	"math"
)

// coverTolerance is the relative slack allowed between a node's cover and the
// sum of its children's covers.
const coverTolerance = 1e-6

type tree struct {
	nodes []Node
}

// newTree validates the node table. Children must come after their parent,
// which rules out cycles and keeps traversal bounded.
func newTree(nodes []Node, numFeatures int) (tree, error) {
	if len(nodes) == 0 {
		return tree{}, errors.New("tree has no nodes")
	}

	for i := range nodes {
		n := &nodes[i]
		if isNonFinite(n.Value) || isNonFinite(n.Cover) || n.Cover <= 0 {
			return tree{}, fmt.Errorf("node %d: value must be finite and cover positive", i)
		}
		if n.isLeaf() {
			continue
		}
		if n.Left <= i || n.Right <= i || n.Left >= len(nodes) || n.Right >= len(nodes) || n.Left == n.Right {
			return tree{}, fmt.Errorf("node %d: invalid children %d and %d", i, n.Left, n.Right)
		}
		if n.Feature < 0 || n.Feature >= numFeatures {
			return tree{}, fmt.Errorf("node %d: feature index %d out of range", i, n.Feature)
		}
		if isNonFinite(n.Threshold) {
			return tree{}, fmt.Errorf("node %d: threshold must be finite", i)
		}
	}

	for i := range nodes {
		n := &nodes[i]
		if n.isLeaf() {
			continue
		}
		sum := nodes[n.Left].Cover + nodes[n.Right].Cover
		if math.Abs(sum-n.Cover) > coverTolerance*math.Max(1, n.Cover) {
			return tree{}, fmt.Errorf("node %d: cover %g does not match children covers %g", i, n.Cover, sum)
		}
	}

	return tree{nodes: append([]Node(nil), nodes...)}, nil
}

// predict returns the leaf value reached by x.
func (t *tree) predict(x []float64) float64 {
	i := 0
	for {
		n := &t.nodes[i]
		if n.isLeaf() {
			return n.Value
		}
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

// expectedValue is the cover-weighted mean of the leaves.
func (t *tree) expectedValue() float64 {
	return t.expectedFrom(0)
}

func (t *tree) expectedFrom(i int) float64 {
	n := &t.nodes[i]
	if n.isLeaf() {
		return n.Value
	}
	left, right := t.fractions(n)
	return left*t.expectedFrom(n.Left) + right*t.expectedFrom(n.Right)
}

// fractions returns the share of training samples routed to each child.
// Normalizing by the children's covers keeps the shares summing to one even
// when the exported parent cover is rounded.
func (t *tree) fractions(n *Node) (left, right float64) {
	l := t.nodes[n.Left].Cover
	r := t.nodes[n.Right].Cover
	return l / (l + r), r / (l + r)
}
