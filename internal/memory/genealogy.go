package memory

import (
	"context"
	"sort"

	"remem/internal/logging"
	"remem/internal/types"
)

// Genealogy traverses the ancestry DAG for one memory: ancestors via
// parent_id and derived_from, descendants via a reverse index built in one
// workspace scan, and the root-to-target chain. A revisited node during
// ancestor traversal means the graph is corrupt and raises GenealogyCycle.
func (c *Core) Genealogy(ctx context.Context, memoryID, workspaceID string) (*types.Genealogy, error) {
	timer := logging.StartTimer(logging.CategoryMemory, "Genealogy")
	defer timer.Stop()

	all, err := c.Memories(ctx, workspaceID)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*types.Memory, len(all))
	children := make(map[string][]*types.Memory)
	for _, m := range all {
		byID[m.ID] = m
	}
	for _, m := range all {
		for _, p := range parentIDs(m) {
			children[p] = append(children[p], m)
		}
	}

	target, ok := byID[memoryID]
	if !ok {
		return nil, types.NewError(types.KindMemoryRetrieval,
			"memory %s not found in workspace %s", memoryID, workspaceID)
	}

	// Ancestors: DFS over parent links. The path set catches true cycles;
	// the visited set dedupes diamond merges, which are legal.
	var ancestors []*types.Memory
	visited := make(map[string]bool)
	onPath := make(map[string]bool)
	var walk func(id string) error
	walk = func(id string) error {
		if onPath[id] {
			return types.NewError(types.KindGenealogyCycle, "cycle detected at memory %s", id)
		}
		if visited[id] {
			return nil
		}
		visited[id] = true
		onPath[id] = true
		defer delete(onPath, id)

		if id != target.ID {
			p, ok := byID[id]
			if !ok {
				// Dangling link; the ancestor was cleaned up.
				logging.MemoryDebug("Genealogy: ancestor %s of %s missing", id, memoryID)
				return nil
			}
			ancestors = append(ancestors, p)
			for _, pid := range parentIDs(p) {
				if err := walk(pid); err != nil {
					return err
				}
			}
			return nil
		}
		for _, pid := range parentIDs(target) {
			if err := walk(pid); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(target.ID); err != nil {
		return nil, err
	}

	// Descendants: BFS over the reverse index.
	var descendants []*types.Memory
	seen := map[string]bool{target.ID: true}
	queue := children[target.ID]
	for len(queue) > 0 {
		m := queue[0]
		queue = queue[1:]
		if seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		descendants = append(descendants, m)
		queue = append(queue, children[m.ID]...)
	}

	// Stage = 1 + max ancestor stage; roots are stage 0.
	stage := 0
	if len(ancestors) > 0 {
		maxStage := -1
		for _, a := range ancestors {
			if a.EvolutionStage > maxStage {
				maxStage = a.EvolutionStage
			}
		}
		stage = 1 + maxStage
	}

	// Chain: ancestors ordered root first (stage ascending, then
	// timestamp), then the target itself.
	chain := make([]*types.Memory, 0, len(ancestors)+1)
	chain = append(chain, ancestors...)
	sort.SliceStable(chain, func(i, j int) bool {
		if chain[i].EvolutionStage != chain[j].EvolutionStage {
			return chain[i].EvolutionStage < chain[j].EvolutionStage
		}
		return chain[i].Timestamp.Before(chain[j].Timestamp)
	})
	chain = append(chain, target)

	return &types.Genealogy{
		MemoryID:    memoryID,
		Ancestors:   ancestors,
		Descendants: descendants,
		Chain:       chain,
		Stage:       stage,
		IsRoot:      len(ancestors) == 0,
		IsLeaf:      len(descendants) == 0,
	}, nil
}

// parentIDs returns the combined parent links of a memory.
func parentIDs(m *types.Memory) []string {
	var ids []string
	if m.ParentID != "" {
		ids = append(ids, m.ParentID)
	}
	for _, id := range m.DerivedFrom {
		if id != "" && id != m.ParentID {
			ids = append(ids, id)
		}
	}
	return ids
}
