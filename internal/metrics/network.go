package metrics

import (
	"math"
	"sort"

	"github.com/talgya/agora/internal/agents"
)

const (
	eigenMaxIter = 100
	eigenTol     = 1e-6
)

// NetworkStats describes the trade graph.
type NetworkStats struct {
	Nodes       int                        `json:"nodes"`
	Edges       int                        `json:"edges"`
	Density     float64                    `json:"density"`
	Clustering  float64                    `json:"clustering"`
	Degree      map[agents.AgentID]float64 `json:"degree_centrality"`
	Eigenvector map[agents.AgentID]float64 `json:"eigenvector_centrality"`
	Communities map[agents.AgentID]int     `json:"communities"`
	Modularity  float64                    `json:"modularity"`
}

// Network is the undirected trade graph, edges weighted by trade count.
// It is extended one ledger entry at a time.
type Network struct {
	adj   map[agents.AgentID]map[agents.AgentID]float64
	edges int
	eig   map[agents.AgentID]float64 // previous eigenvector, reused as the start
}

// NewNetwork creates an empty graph.
func NewNetwork() *Network {
	return &Network{
		adj: make(map[agents.AgentID]map[agents.AgentID]float64),
		eig: make(map[agents.AgentID]float64),
	}
}

// AddTrade records one trade between a and b.
func (n *Network) AddTrade(a, b agents.AgentID) {
	if a == b {
		return
	}
	if n.adj[a] == nil {
		n.adj[a] = make(map[agents.AgentID]float64)
	}
	if n.adj[b] == nil {
		n.adj[b] = make(map[agents.AgentID]float64)
	}
	if n.adj[a][b] == 0 {
		n.edges++
	}
	n.adj[a][b]++
	n.adj[b][a]++
}

// Weight returns the number of trades between a and b.
func (n *Network) Weight(a, b agents.AgentID) float64 { return n.adj[a][b] }

func (n *Network) nodes() []agents.AgentID {
	ids := make([]agents.AgentID, 0, len(n.adj))
	for id := range n.adj {
		ids = append(ids, id)
	}
	sortAgentIDs(ids)
	return ids
}

func (n *Network) neighbors(id agents.AgentID) []agents.AgentID {
	out := make([]agents.AgentID, 0, len(n.adj[id]))
	for nb := range n.adj[id] {
		out = append(out, nb)
	}
	sortAgentIDs(out)
	return out
}

// Stats computes every graph measure.
func (n *Network) Stats() NetworkStats {
	nodes := n.nodes()
	s := NetworkStats{
		Nodes:       len(nodes),
		Edges:       n.edges,
		Degree:      make(map[agents.AgentID]float64, len(nodes)),
		Eigenvector: n.eigenvector(nodes),
	}
	if len(nodes) > 1 {
		s.Density = 2 * float64(n.edges) / float64(len(nodes)*(len(nodes)-1))
		for _, id := range nodes {
			s.Degree[id] = float64(len(n.adj[id])) / float64(len(nodes)-1)
		}
	}
	s.Clustering = n.clustering(nodes)
	s.Communities, s.Modularity = n.communities(nodes)
	return s
}

// clustering is the mean local clustering coefficient; nodes with fewer
// than two neighbours contribute zero.
func (n *Network) clustering(nodes []agents.AgentID) float64 {
	if len(nodes) == 0 {
		return 0
	}
	var total float64
	for _, id := range nodes {
		nbs := n.neighbors(id)
		k := len(nbs)
		if k < 2 {
			continue
		}
		links := 0
		for i := 0; i < k; i++ {
			for j := i + 1; j < k; j++ {
				if n.adj[nbs[i]][nbs[j]] > 0 {
					links++
				}
			}
		}
		total += 2 * float64(links) / float64(k*(k-1))
	}
	return total / float64(len(nodes))
}

// eigenvector runs weighted power iteration on (A + I), starting from the
// previous result so a slowly growing graph converges in a few steps.
func (n *Network) eigenvector(nodes []agents.AgentID) map[agents.AgentID]float64 {
	out := make(map[agents.AgentID]float64, len(nodes))
	if len(nodes) == 0 {
		return out
	}
	x := make(map[agents.AgentID]float64, len(nodes))
	for _, id := range nodes {
		if v, ok := n.eig[id]; ok && v > 0 {
			x[id] = v
		} else {
			x[id] = 1 / float64(len(nodes))
		}
	}
	normalize(nodes, x)

	for iter := 0; iter < eigenMaxIter; iter++ {
		next := make(map[agents.AgentID]float64, len(nodes))
		for _, id := range nodes {
			next[id] = x[id]
			for _, nb := range n.neighbors(id) {
				next[id] += x[nb] * n.adj[id][nb]
			}
		}
		normalize(nodes, next)
		var diff float64
		for _, id := range nodes {
			diff += math.Abs(next[id] - x[id])
		}
		x = next
		if diff < float64(len(nodes))*eigenTol {
			break
		}
	}
	n.eig = x
	for _, id := range nodes {
		out[id] = x[id]
	}
	return out
}

func normalize(nodes []agents.AgentID, x map[agents.AgentID]float64) {
	var norm float64
	for _, id := range nodes {
		norm += x[id] * x[id]
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return
	}
	for _, id := range nodes {
		x[id] /= norm
	}
}

// communities partitions the graph by Louvain local moving: each node in
// turn joins the neighbouring community with the best modularity gain
// until no move helps. Community ids are the smallest member id.
func (n *Network) communities(nodes []agents.AgentID) (map[agents.AgentID]int, float64) {
	comm := make(map[agents.AgentID]agents.AgentID, len(nodes))
	degree := make(map[agents.AgentID]float64, len(nodes))
	tot := make(map[agents.AgentID]float64, len(nodes))
	var m2 float64 // twice the total edge weight
	for _, id := range nodes {
		comm[id] = id
		for _, w := range n.adj[id] {
			degree[id] += w
		}
		tot[id] = degree[id]
		m2 += degree[id]
	}
	if m2 == 0 {
		out := make(map[agents.AgentID]int, len(nodes))
		for _, id := range nodes {
			out[id] = int(id)
		}
		return out, 0
	}

	for pass := 0; pass < 2*len(nodes)+1; pass++ {
		moved := false
		for _, id := range nodes {
			home := comm[id]
			tot[home] -= degree[id]

			links := make(map[agents.AgentID]float64)
			for _, nb := range n.neighbors(id) {
				links[comm[nb]] += n.adj[id][nb]
			}
			gain := func(c agents.AgentID) float64 {
				return links[c] - tot[c]*degree[id]/m2
			}

			best, bestGain := home, gain(home)
			cands := make([]agents.AgentID, 0, len(links))
			for c := range links {
				cands = append(cands, c)
			}
			sortAgentIDs(cands)
			for _, c := range cands {
				if g := gain(c); g > bestGain+1e-12 {
					best, bestGain = c, g
				}
			}
			comm[id] = best
			tot[best] += degree[id]
			if best != home {
				moved = true
			}
		}
		if !moved {
			break
		}
	}

	// Relabel by smallest member and compute Q.
	label := make(map[agents.AgentID]agents.AgentID)
	for _, id := range nodes {
		c := comm[id]
		if l, ok := label[c]; !ok || id < l {
			label[c] = id
		}
	}
	out := make(map[agents.AgentID]int, len(nodes))
	internal := make(map[agents.AgentID]float64)
	sumDeg := make(map[agents.AgentID]float64)
	for _, id := range nodes {
		c := label[comm[id]]
		out[id] = int(c)
		sumDeg[c] += degree[id]
		for nb, w := range n.adj[id] {
			if label[comm[nb]] == c {
				internal[c] += w // each internal edge seen from both ends
			}
		}
	}
	var q float64
	labels := make([]agents.AgentID, 0, len(sumDeg))
	for c := range sumDeg {
		labels = append(labels, c)
	}
	sortAgentIDs(labels)
	for _, c := range labels {
		q += internal[c]/m2 - (sumDeg[c]/m2)*(sumDeg[c]/m2)
	}
	return out, q
}

func sortAgentIDs(ids []agents.AgentID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
