package graph

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/teranos/proofchain/dedup"
	"github.com/teranos/proofchain/keys"
	"github.com/teranos/proofchain/registration"
)

// Build assembles the provenance neighbourhood of q from records.
// Returns nil when nothing but the query node would be drawn.
func (b *Builder) Build(q Query, records []*registration.Record, opts Options) *Graph {
	candidates := b.rankCandidates(q, records, opts.topK())
	if len(candidates) == 0 {
		b.logger.Debugw("No candidates for provenance graph",
			"digest", q.DigestHex,
			"locator", q.Locator,
			"records", len(records))
		return nil
	}

	qid, _ := queryID(q)
	gb := newGraphBuilding()
	gb.addNode(Node{
		ID:      qid,
		Type:    NodeQuery,
		Label:   shortLabel(qid),
		Visible: true,
		Metadata: map[string]interface{}{
			"digest_hex":      q.DigestHex,
			"content_locator": q.Locator,
		},
	})

	// Anchor is the best-ranked candidate
	anchor := candidates[0].Record
	anchorID, strategy := canonicalID(anchor)

	for i, m := range candidates {
		id, _ := canonicalID(m.Record)
		sim := m.Similarity
		nodeType := NodeNeighbor
		rel := RelQueryNeighbor
		if sim >= opts.Threshold {
			nodeType = NodeMatch
			rel = RelQueryMatch
		}
		if i == 0 {
			nodeType = NodeAnchor
		}
		gb.addRecordNode(m.Record, nodeType, &sim)
		gb.addLink(qid, id, rel, &sim)
		if i > 0 {
			gb.addLink(anchorID, id, RelSimilarity, &sim)
		}
	}

	// Exact duplicates of the anchor's bytes
	for _, rec := range records {
		if rec.ContentKey != anchor.ContentKey || rec.RegKey == anchor.RegKey {
			continue
		}
		id, _ := canonicalID(rec)
		gb.addRecordNode(rec, NodeDuplicate, nil)
		gb.addLink(anchorID, id, RelSameContent, nil)
	}

	// Declared lineage: children of the anchor and the anchor's own parent
	byKey := make(map[keys.RegistrationKey]*registration.Record, len(records))
	for _, rec := range records {
		if _, seen := byKey[rec.RegKey]; !seen {
			byKey[rec.RegKey] = rec
		}
	}
	for _, rec := range records {
		if rec.NearDuplicateOf == nil || *rec.NearDuplicateOf != anchor.RegKey || rec.RegKey == anchor.RegKey {
			continue
		}
		id, _ := canonicalID(rec)
		gb.addRecordNode(rec, NodeDeclared, nil)
		gb.addLink(id, anchorID, RelDeclaredLineage, rec.NearDuplicateSimilarity)
	}
	if anchor.NearDuplicateOf != nil {
		if parent, ok := byKey[*anchor.NearDuplicateOf]; ok && parent.RegKey != anchor.RegKey {
			id, _ := canonicalID(parent)
			gb.addRecordNode(parent, NodeDeclared, nil)
			gb.addLink(anchorID, id, RelDeclaredLineage, anchor.NearDuplicateSimilarity)
		} else {
			b.logger.Debugw("Anchor parent not in snapshot",
				"anchor", anchorID,
				"parent", anchor.NearDuplicateOf.Hex())
		}
	}

	graph := &Graph{
		Nodes: gb.nodeList(),
		Links: gb.linkList(opts.KeepHidden),
		Meta: Meta{
			GeneratedAt: time.Now(),
			Config: map[string]string{
				"query":       qid,
				"description": fmt.Sprintf("Provenance of %s", shortLabel(qid)),
				"ranking":     rankingMode(q, b.ranker),
			},
			QueryID:           qid,
			AnchorID:          anchorID,
			Threshold:         opts.Threshold,
			TopK:              opts.topK(),
			CanonicalStrategy: strategy,
		},
	}

	graph.Meta.Stats = Stats{
		TotalNodes: len(graph.Nodes),
		TotalEdges: len(graph.Links),
		Candidates: len(candidates),
	}
	for _, n := range graph.Nodes {
		switch n.Type {
		case NodeDuplicate:
			graph.Meta.Stats.Duplicates++
		case NodeDeclared:
			graph.Meta.Stats.Declared++
		}
	}

	// Collect type information for frontend
	graph.Meta.NodeTypes = collectNodeTypeInfo(graph.Nodes)
	graph.Meta.RelationshipTypes = collectRelationshipTypeInfo(graph.Links)

	b.logger.Debugw("Built provenance graph",
		"query", qid,
		"anchor", anchorID,
		"nodes", graph.Meta.Stats.TotalNodes,
		"links", graph.Meta.Stats.TotalEdges)

	return graph
}

// rankCandidates returns the top-k records most similar to q. Records sharing
// the query's bytes or locator rank at similarity 1 even without embeddings.
func (b *Builder) rankCandidates(q Query, records []*registration.Record, k int) []dedup.Match {
	var matches []dedup.Match
	if b.ranker != nil && len(q.Embedding) > 0 {
		matches = b.ranker.Rank(q.Embedding, records, nil)
	}

	ranked := make(map[keys.RegistrationKey]bool, len(matches))
	for _, m := range matches {
		ranked[m.Record.RegKey] = true
	}

	var exact []dedup.Match
	for _, rec := range records {
		if ranked[rec.RegKey] || !sameAsset(q, rec) {
			continue
		}
		ranked[rec.RegKey] = true
		exact = append(exact, dedup.Match{Record: rec, Similarity: 1})
	}

	all := append(exact, matches...)
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Similarity > all[j].Similarity
	})
	if len(all) > k {
		all = all[:k]
	}
	return all
}

// sameAsset reports whether rec registers the query's exact bytes or locator.
func sameAsset(q Query, rec *registration.Record) bool {
	if d, err := keys.ParseDigest(q.DigestHex); err == nil {
		if rec.ContentKey == keys.ContentKeyOf(d) {
			return true
		}
	}
	loc := strings.TrimSpace(q.Locator)
	return loc != "" && rec.ContentLocator == loc
}

func rankingMode(q Query, r Ranker) string {
	if r != nil && len(q.Embedding) > 0 {
		return "embedding"
	}
	return "exact"
}

// graphBuilding accumulates nodes and links in insertion order.
type graphBuilding struct {
	nodes     map[string]*Node
	nodeOrder []string
	links     map[string]*Link
	linkOrder []string
}

func newGraphBuilding() *graphBuilding {
	return &graphBuilding{
		nodes: make(map[string]*Node),
		links: make(map[string]*Link),
	}
}

// addNode inserts n, or upgrades an existing node's type when n's type has
// higher priority. The first-seen similarity is kept.
func (g *graphBuilding) addNode(n Node) {
	existing, ok := g.nodes[n.ID]
	if !ok {
		n.Group = nodeTypePriority(n.Type)
		g.nodes[n.ID] = &n
		g.nodeOrder = append(g.nodeOrder, n.ID)
		return
	}
	if nodeTypePriority(n.Type) > nodeTypePriority(existing.Type) {
		existing.Type = n.Type
		existing.Group = nodeTypePriority(n.Type)
	}
	if existing.Similarity == nil && n.Similarity != nil {
		existing.Similarity = n.Similarity
	}
}

func (g *graphBuilding) addRecordNode(rec *registration.Record, nodeType string, sim *float64) {
	id, _ := canonicalID(rec)
	label := rec.FileName
	if label == "" {
		label = shortLabel(id)
	}
	g.addNode(Node{
		ID:         id,
		Type:       nodeType,
		Label:      label,
		Visible:    true,
		Similarity: sim,
		Metadata:   recordMetadata(rec),
	})
}

func (g *graphBuilding) addLink(source, target, rel string, sim *float64) {
	if source == target {
		return
	}
	linkID := source + "_" + rel + "_" + target
	if _, exists := g.links[linkID]; exists {
		return
	}
	weight := defaultLinkWeight
	label := rel
	if sim != nil {
		weight = *sim
		label = strconv.FormatFloat(*sim, 'f', 2, 64)
	}
	g.links[linkID] = &Link{
		Source:     source,
		Target:     target,
		Type:       rel,
		Weight:     weight,
		Label:      label,
		Similarity: sim,
	}
	g.linkOrder = append(g.linkOrder, linkID)
}

func (g *graphBuilding) nodeList() []Node {
	nodes := make([]Node, 0, len(g.nodeOrder))
	for _, id := range g.nodeOrder {
		nodes = append(nodes, *g.nodes[id])
	}
	return nodes
}

// linkList trims links to the curated relationship set. With keepHidden the
// rest are returned flagged Hidden.
func (g *graphBuilding) linkList(keepHidden bool) []Link {
	links := make([]Link, 0, len(g.linkOrder))
	for _, id := range g.linkOrder {
		l := *g.links[id]
		if !curatedRelationships[l.Type] {
			if !keepHidden {
				continue
			}
			l.Hidden = true
		}
		links = append(links, l)
	}
	return links
}
