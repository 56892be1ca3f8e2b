package resolver

import (
	"fmt"

	"github.com/mgiedrius/pakt/internal/errdefs"
	"github.com/mgiedrius/pakt/internal/models"
	"github.com/mgiedrius/pakt/internal/store"
)

// maxDepth caps transitive resolution so a pathological repository cannot
// recurse without bound.
const maxDepth = 10

// Plan is the outcome of resolving an install request.
type Plan struct {
	// InstallOrder lists the packages to install, dependencies first.
	InstallOrder []*models.RepositoryPackage

	// Missing names dependencies no enabled repository advertises.
	Missing []string

	// Conflicts describes constraints that cannot be satisfied.
	Conflicts []string
}

// OK reports whether the plan can be executed.
func (p *Plan) OK() bool { return len(p.Missing) == 0 && len(p.Conflicts) == 0 }

// Err converts an unexecutable plan into its classified error.
func (p *Plan) Err() error {
	if len(p.Conflicts) > 0 {
		return errdefs.New(errdefs.KindConstraintUnsat, "unsatisfiable constraints: %v", p.Conflicts)
	}
	if len(p.Missing) > 0 {
		return errdefs.New(errdefs.KindDependencyMissing, "missing dependencies: %v", p.Missing)
	}
	return nil
}

// Resolver answers dependency questions against the state store and the
// synced repository catalogs.
type Resolver struct {
	q store.Querier
}

// New creates a Resolver reading through q.
func New(q store.Querier) *Resolver {
	return &Resolver{q: q}
}

// PlanInstall resolves name against the enabled repositories, walking
// runtime dependencies transitively. A non-empty version pins the seed
// package. The returned plan orders dependencies before their dependents.
func (r *Resolver) PlanInstall(name, version string) (*Plan, error) {
	installed, err := r.installedVersions()
	if err != nil {
		return nil, err
	}

	seedConstraint := ""
	if version != "" {
		seedConstraint = "= " + version
	}

	plan := &Plan{}
	graph := NewGraph()
	resolved := make(map[string]*models.RepositoryPackage)
	conflicted := make(map[string]bool)

	type item struct {
		name       string
		constraint string
		depth      int
	}
	queue := []item{{name: name, constraint: seedConstraint}}

	for len(queue) > 0 {
		it := queue[0]
		queue = queue[1:]

		if pkg, ok := resolved[it.name]; ok {
			if !Satisfies(pkg.Version, it.constraint) && !conflicted[it.name] {
				conflicted[it.name] = true
				plan.Conflicts = append(plan.Conflicts, fmt.Sprintf(
					"%s: selected %s does not satisfy %q", it.name, pkg.Version, it.constraint))
			}
			continue
		}
		if conflicted[it.name] {
			continue
		}

		// Installed packages satisfy their dependents in place; only a
		// constraint the installed version misses forces a conflict.
		if v, ok := installed[it.name]; ok && it.depth > 0 {
			if !Satisfies(v, it.constraint) {
				conflicted[it.name] = true
				plan.Conflicts = append(plan.Conflicts, fmt.Sprintf(
					"%s: installed %s does not satisfy %q", it.name, v, it.constraint))
			}
			continue
		}

		pkg, found, err := r.pickCandidate(it.name, it.constraint)
		if err != nil {
			return nil, err
		}
		if pkg == nil {
			conflicted[it.name] = true
			if found {
				plan.Conflicts = append(plan.Conflicts, fmt.Sprintf(
					"%s: no advertised version satisfies %q", it.name, it.constraint))
			} else {
				plan.Missing = append(plan.Missing, it.name)
			}
			continue
		}
		resolved[it.name] = pkg
		graph.AddNode(pkg.Name, pkg.Version)

		if it.depth >= maxDepth {
			continue
		}
		deps, err := store.DecodeDependencies(pkg.Dependencies)
		if err != nil {
			return nil, err
		}
		for _, dep := range deps {
			if dep.Type != models.DepRuntime {
				continue
			}
			queue = append(queue, item{name: dep.Name, constraint: dep.Constraint, depth: it.depth + 1})
		}
	}

	// Edges only between packages the plan will install.
	for _, pkg := range resolved {
		from, _ := graph.Lookup(pkg.Name)
		deps, err := store.DecodeDependencies(pkg.Dependencies)
		if err != nil {
			return nil, err
		}
		for _, dep := range deps {
			if to, ok := graph.Lookup(dep.Name); ok && dep.Type == models.DepRuntime {
				graph.AddEdge(from, to, dep.Constraint)
			}
		}
	}

	order, err := graph.TopologicalOrder()
	if err != nil {
		return nil, err
	}
	for _, id := range order {
		plan.InstallOrder = append(plan.InstallOrder, resolved[graph.Node(id).Name])
	}
	return plan, nil
}

// pickCandidate returns the best advertised package for name that satisfies
// constraint: the highest satisfying version from the highest-priority
// repository. found reports whether any repository advertises the name at all.
func (r *Resolver) pickCandidate(name, constraint string) (pkg *models.RepositoryPackage, found bool, err error) {
	candidates, err := store.FindRepositoryPackages(r.q, name)
	if err != nil {
		return nil, false, err
	}
	var best *models.RepositoryPackage
	for _, c := range candidates {
		// Candidates arrive highest priority first; once a repository has
		// supplied a match, other repositories are not considered.
		if best != nil && c.RepositoryID != best.RepositoryID {
			continue
		}
		if !Satisfies(c.Version, constraint) {
			continue
		}
		if best == nil || CompareVersions(c.Version, best.Version) > 0 {
			best = c
		}
	}
	return best, len(candidates) > 0, nil
}

func (r *Resolver) installedVersions() (map[string]string, error) {
	troves, err := store.ListTroves(r.q, "")
	if err != nil {
		return nil, err
	}
	versions := make(map[string]string, len(troves))
	for _, t := range troves {
		versions[t.Name] = t.Version
	}
	return versions, nil
}

// InstalledGraph builds the dependency graph of everything installed. Edges
// run from dependent troves to the installed troves they depend on.
func (r *Resolver) InstalledGraph() (*Graph, error) {
	troves, err := store.ListTroves(r.q, "")
	if err != nil {
		return nil, err
	}
	graph := NewGraph()
	byID := make(map[int64]int, len(troves))
	for _, t := range troves {
		byID[t.ID] = graph.AddNode(t.Name, t.Version)
	}

	deps, err := store.AllDependencies(r.q)
	if err != nil {
		return nil, err
	}
	for _, d := range deps {
		if d.Type != models.DepRuntime {
			continue
		}
		from, ok := byID[d.TroveID]
		if !ok {
			continue
		}
		if to, ok := graph.Lookup(d.Name); ok {
			graph.AddEdge(from, to, d.Constraint)
		}
	}
	return graph, nil
}

// CheckRemoval returns the names of installed packages that would break if
// name were removed.
func (r *Resolver) CheckRemoval(name string) ([]string, error) {
	graph, err := r.InstalledGraph()
	if err != nil {
		return nil, err
	}
	id, ok := graph.Lookup(name)
	if !ok {
		return nil, errdefs.New(errdefs.KindNotFound, "package %s is not installed", name)
	}
	return graph.BreakingSet(id), nil
}
