package model

// Exact path-dependent TreeSHAP (Lundberg et al., "Consistent Individualized
// Feature Attribution for Tree Ensembles", algorithm 2).

type pathElement struct {
	feature int
	zero    float64 // fraction of paths flowing through when the feature is absent
	one     float64 // 1 if x follows this branch, 0 otherwise
	weight  float64
}

// shap adds the attributions of this tree for x into phi.
func (t *tree) shap(x []float64, phi []float64) {
	t.shapRecurse(x, phi, 0, 0, nil, 1, 1, -1)
}

func (t *tree) shapRecurse(x, phi []float64, node, depth int, parent []pathElement, zero, one float64, feature int) {
	path := make([]pathElement, depth+1)
	copy(path, parent[:depth])
	extendPath(path, depth, zero, one, feature)

	n := &t.nodes[node]
	if n.isLeaf() {
		for i := 1; i <= depth; i++ {
			w := unwoundPathSum(path, depth, i)
			el := path[i]
			phi[el.feature] += w * (el.one - el.zero) * n.Value
		}
		return
	}

	hot, cold := n.Left, n.Right
	hotZero, coldZero := t.fractions(n)
	if x[n.Feature] > n.Threshold {
		hot, cold = cold, hot
		hotZero, coldZero = coldZero, hotZero
	}

	incomingZero, incomingOne := 1.0, 1.0

	// A feature already split on higher up is folded into this split.
	k := -1
	for i := 1; i <= depth; i++ {
		if path[i].feature == n.Feature {
			k = i
			break
		}
	}
	if k >= 0 {
		incomingZero = path[k].zero
		incomingOne = path[k].one
		unwindPath(path, depth, k)
		depth--
	}

	t.shapRecurse(x, phi, hot, depth+1, path, hotZero*incomingZero, incomingOne, n.Feature)
	t.shapRecurse(x, phi, cold, depth+1, path, coldZero*incomingZero, 0, n.Feature)
}

func extendPath(path []pathElement, depth int, zero, one float64, feature int) {
	path[depth] = pathElement{feature: feature, zero: zero, one: one}
	if depth == 0 {
		path[depth].weight = 1
	}
	d := float64(depth)
	for i := depth - 1; i >= 0; i-- {
		fi := float64(i)
		path[i+1].weight += one * path[i].weight * (fi + 1) / (d + 1)
		path[i].weight = zero * path[i].weight * (d - fi) / (d + 1)
	}
}

func unwindPath(path []pathElement, depth, index int) {
	one := path[index].one
	zero := path[index].zero
	next := path[depth].weight
	d := float64(depth)

	for i := depth - 1; i >= 0; i-- {
		fi := float64(i)
		if one != 0 {
			tmp := path[i].weight
			path[i].weight = next * (d + 1) / ((fi + 1) * one)
			next = tmp - path[i].weight*zero*(d-fi)/(d+1)
		} else {
			path[i].weight = path[i].weight * (d + 1) / (zero * (d - fi))
		}
	}

	for i := index; i < depth; i++ {
		path[i].feature = path[i+1].feature
		path[i].zero = path[i+1].zero
		path[i].one = path[i+1].one
	}
}

// unwoundPathSum is the total weight of the path with element index removed,
// without modifying the path.
func unwoundPathSum(path []pathElement, depth, index int) float64 {
	one := path[index].one
	zero := path[index].zero
	next := path[depth].weight
	d := float64(depth)

	total := 0.0
	for i := depth - 1; i >= 0; i-- {
		fi := float64(i)
		if one != 0 {
			tmp := next * (d + 1) / ((fi + 1) * one)
			total += tmp
			next = path[i].weight - tmp*zero*(d-fi)/(d+1)
		} else if zero != 0 {
			total += path[i].weight * (d + 1) / (zero * (d - fi))
		}
	}
	return total
}
