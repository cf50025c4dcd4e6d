package clustering

import (
	"math"
	"sort"

	"veilleur/internal/vectorstore"
)

// HDBSCANParams tunes the density clustering.
type HDBSCANParams struct {
	MinClusterSize   int     // Smallest group treated as a cluster, default 2
	MinSamples       int     // Neighborhood size for core distances, default 1
	SelectionEpsilon float64 // Clusters born closer than this merge upward, default 0.15
}

func (p HDBSCANParams) withDefaults() HDBSCANParams {
	if p.MinClusterSize < 2 {
		p.MinClusterSize = 2
	}
	if p.MinSamples < 1 {
		p.MinSamples = 1
	}
	if p.SelectionEpsilon < 0 {
		p.SelectionEpsilon = 0.15
	}
	return p
}

// HDBSCAN assigns a cluster label to every vector; -1 marks noise. The
// distance is cosine (1 - similarity), cluster extraction uses excess of
// mass over the condensed tree with an epsilon merge of shallow clusters.
func HDBSCAN(vectors [][]float64, params HDBSCANParams) []int {
	params = params.withDefaults()
	n := len(vectors)
	labels := make([]int, n)
	for i := range labels {
		labels[i] = -1
	}
	if n < params.MinClusterSize {
		return labels
	}

	dist := distanceMatrix(vectors)
	core := coreDistances(dist, params.MinSamples)
	edges := minimumSpanningTree(dist, core)
	tree := singleLinkage(edges, n)
	condensed := condense(tree, n, params.MinClusterSize)
	selected := selectClusters(condensed, params.SelectionEpsilon)

	for clusterID, label := range selected {
		assignLabel(condensed, clusterID, label, labels)
	}
	return labels
}

// distanceMatrix computes pairwise cosine distances.
func distanceMatrix(vectors [][]float64) [][]float64 {
	n := len(vectors)
	dist := make([][]float64, n)
	for i := range dist {
		dist[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d := 1 - vectorstore.CosineSimilarity(vectors[i], vectors[j])
			if d < 0 {
				d = 0
			}
			dist[i][j] = d
			dist[j][i] = d
		}
	}
	return dist
}

// coreDistances returns, per point, the distance to its minSamples-th nearest
// neighbor.
func coreDistances(dist [][]float64, minSamples int) []float64 {
	n := len(dist)
	core := make([]float64, n)
	neighbors := make([]float64, 0, n-1)
	for i := 0; i < n; i++ {
		neighbors = neighbors[:0]
		for j := 0; j < n; j++ {
			if j != i {
				neighbors = append(neighbors, dist[i][j])
			}
		}
		sort.Float64s(neighbors)
		k := minSamples
		if k > len(neighbors) {
			k = len(neighbors)
		}
		core[i] = neighbors[k-1]
	}
	return core
}

type edge struct {
	a, b   int
	weight float64
}

// minimumSpanningTree runs Prim over the mutual reachability graph:
// mreach(a,b) = max(core(a), core(b), d(a,b)).
func minimumSpanningTree(dist [][]float64, core []float64) []edge {
	n := len(dist)
	inTree := make([]bool, n)
	best := make([]float64, n)
	from := make([]int, n)
	for i := range best {
		best[i] = math.Inf(1)
	}

	edges := make([]edge, 0, n-1)
	current := 0
	inTree[0] = true
	for len(edges) < n-1 {
		next := -1
		for v := 0; v < n; v++ {
			if inTree[v] {
				continue
			}
			w := math.Max(dist[current][v], math.Max(core[current], core[v]))
			if w < best[v] {
				best[v] = w
				from[v] = current
			}
			if next == -1 || best[v] < best[next] {
				next = v
			}
		}
		inTree[next] = true
		edges = append(edges, edge{a: from[next], b: next, weight: best[next]})
		current = next
	}
	return edges
}

// linkNode is one internal node of the single-linkage dendrogram. Leaves are
// the points 0..n-1; internal nodes are numbered n..2n-2 bottom-up.
type linkNode struct {
	left, right int
	dist        float64
	size        int
}

// singleLinkage merges the MST edges in weight order into a dendrogram.
func singleLinkage(edges []edge, n int) []linkNode {
	sort.Slice(edges, func(i, j int) bool { return edges[i].weight < edges[j].weight })

	parent := make([]int, 2*n-1)
	size := make([]int, 2*n-1)
	for i := range parent {
		parent[i] = i
		size[i] = 1
	}
	var find func(int) int
	find = func(x int) int {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}

	nodes := make([]linkNode, 0, n-1)
	next := n
	for _, e := range edges {
		ra, rb := find(e.a), find(e.b)
		nodes = append(nodes, linkNode{left: ra, right: rb, dist: e.weight, size: size[ra] + size[rb]})
		parent[ra] = next
		parent[rb] = next
		size[next] = size[ra] + size[rb]
		next++
	}
	return nodes
}

// condensedCluster is one cluster of the condensed tree.
type condensedCluster struct {
	parent      int // -1 for the root
	birthLambda float64
	children    []int
	points      []pointFall
	stability   float64
}

// pointFall records a point leaving a cluster at a density level.
type pointFall struct {
	point  int
	lambda float64
}

// maxLambda caps 1/distance when points merge at distance zero.
const maxLambda = 1e9

func lambdaOf(dist float64) float64 {
	if dist <= 1/maxLambda {
		return maxLambda
	}
	return 1 / dist
}

// condense collapses the dendrogram into clusters of at least minClusterSize
// points, recording for each cluster the density at which it was born and
// the density at which each point fell out of it.
func condense(tree []linkNode, n, minClusterSize int) []condensedCluster {
	// The root covers the whole dataset and is born at density zero.
	root := n + len(tree) - 1
	clusters := []condensedCluster{{parent: -1, birthLambda: 0}}

	type frame struct {
		node    int // Dendrogram node id
		cluster int // Condensed cluster the node belongs to
	}
	stack := []frame{{node: root, cluster: 0}}

	// collect drops every point under a dendrogram node out of the cluster
	// at the given lambda.
	var collect func(node, cluster int, lambda float64)
	collect = func(node, cluster int, lambda float64) {
		if node < n {
			clusters[cluster].points = append(clusters[cluster].points, pointFall{point: node, lambda: lambda})
			return
		}
		ln := tree[node-n]
		collect(ln.left, cluster, lambda)
		collect(ln.right, cluster, lambda)
	}

	nodeSize := func(node int) int {
		if node < n {
			return 1
		}
		return tree[node-n].size
	}

	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		ln := tree[f.node-n]
		lambda := lambdaOf(ln.dist)
		leftBig := nodeSize(ln.left) >= minClusterSize
		rightBig := nodeSize(ln.right) >= minClusterSize

		push := func(child int, cluster int) {
			if child < n {
				clusters[cluster].points = append(clusters[cluster].points, pointFall{point: child, lambda: lambda})
				return
			}
			stack = append(stack, frame{node: child, cluster: cluster})
		}

		switch {
		case leftBig && rightBig:
			// True split: both sides become new clusters born here.
			for _, child := range []int{ln.left, ln.right} {
				id := len(clusters)
				clusters = append(clusters, condensedCluster{parent: f.cluster, birthLambda: lambda})
				clusters[f.cluster].children = append(clusters[f.cluster].children, id)
				push(child, id)
			}
		case leftBig:
			collect(ln.right, f.cluster, lambda)
			push(ln.left, f.cluster)
		case rightBig:
			collect(ln.left, f.cluster, lambda)
			push(ln.right, f.cluster)
		default:
			collect(ln.left, f.cluster, lambda)
			collect(ln.right, f.cluster, lambda)
		}
	}

	for i := range clusters {
		c := &clusters[i]
		for _, p := range c.points {
			c.stability += p.lambda - c.birthLambda
		}
	}
	return clusters
}

// selectClusters picks the flat clustering by excess of mass, then merges
// clusters born below the epsilon distance into their shallower ancestors.
// The root (the whole dataset) is never selected. Returns cluster id → label.
func selectClusters(clusters []condensedCluster, epsilon float64) map[int]int {
	n := len(clusters)
	selected := make([]bool, n)
	subtree := make([]float64, n)

	// Children always have larger ids than their parent, so a reverse scan
	// visits leaves first.
	for i := n - 1; i >= 1; i-- {
		c := clusters[i]
		var childSum float64
		for _, ch := range c.children {
			childSum += subtree[ch]
		}
		if len(c.children) == 0 || c.stability >= childSum {
			selected[i] = true
			deselectDescendants(clusters, i, selected)
			subtree[i] = c.stability
		} else {
			subtree[i] = childSum
		}
	}

	// Epsilon merge: a selected cluster born at a distance below epsilon is
	// replaced by its deepest ancestor born at or above epsilon.
	if epsilon > 0 {
		for i := 1; i < n; i++ {
			if !selected[i] {
				continue
			}
			if 1/clusters[i].birthLambda >= epsilon {
				continue
			}
			anc := i
			for clusters[anc].parent > 0 && 1/clusters[anc].birthLambda < epsilon {
				anc = clusters[anc].parent
			}
			if anc != i {
				selected[i] = false
				selected[anc] = true
				deselectDescendants(clusters, anc, selected)
			}
		}
	}

	labels := make(map[int]int)
	next := 0
	for i := 1; i < n; i++ {
		if selected[i] {
			labels[i] = next
			next++
		}
	}
	return labels
}

func deselectDescendants(clusters []condensedCluster, id int, selected []bool) {
	for _, ch := range clusters[id].children {
		selected[ch] = false
		deselectDescendants(clusters, ch, selected)
	}
}

// assignLabel labels every point that fell out of the cluster or of any of
// its descendants.
func assignLabel(clusters []condensedCluster, id, label int, labels []int) {
	for _, p := range clusters[id].points {
		labels[p.point] = label
	}
	for _, ch := range clusters[id].children {
		assignLabel(clusters, ch, label, labels)
	}
}
