package sqlref

import (
	"sort"
	"strings"
)

// Joins is an insertion-ordered map from a join source ("schema.table alias"
// or a derived subquery followed by its alias) to the set of conditions that
// tie it to the rest of the statement.
//
// Sources are rendered as CROSS JOINs in insertion order and their
// conditions move to the WHERE clause. A source without conditions is a
// plain cartesian join. Adding a source twice unions the condition sets;
// conditions are never dropped.
type Joins struct {
	keys     []string
	conds    map[string][]string
	deferred map[string]bool
	owner    map[string]string
}

// NewJoins creates an empty Joins.
func NewJoins() *Joins {
	return &Joins{
		conds:    make(map[string][]string),
		deferred: make(map[string]bool),
		owner:    make(map[string]string),
	}
}

// Add records source with the given conditions, merging with any
// conditions already recorded for it. Empty conditions are ignored.
func (j *Joins) Add(source string, conds ...string) {
	if strings.TrimSpace(source) == "" {
		return
	}
	if _, ok := j.conds[source]; !ok {
		j.keys = append(j.keys, source)
		j.conds[source] = nil
	}
	for _, c := range conds {
		c = strings.TrimSpace(c)
		if c == "" || containsString(j.conds[source], c) {
			continue
		}
		j.conds[source] = append(j.conds[source], c)
	}
}

// AddFor is Add that also records the entity label the source belongs to.
func (j *Joins) AddFor(entity, source string, conds ...string) {
	j.Add(source, conds...)
	if entity != "" {
		if _, ok := j.owner[source]; !ok {
			j.owner[source] = entity
		}
	}
}

// Owner returns the entity a source was added for, or "".
func (j *Joins) Owner(source string) string {
	return j.owner[source]
}

// Defer moves source to the end of the rendered join list. Deferred sources
// keep their relative insertion order.
func (j *Joins) Defer(source string) {
	if _, ok := j.conds[source]; ok {
		j.deferred[source] = true
	}
}

// Merge adds every source and condition of other, preserving other's order.
func (j *Joins) Merge(other *Joins) {
	if other == nil {
		return
	}
	for _, k := range other.keys {
		j.AddFor(other.owner[k], k, other.conds[k]...)
		if other.deferred[k] {
			j.deferred[k] = true
		}
	}
}

// Has reports whether source is recorded.
func (j *Joins) Has(source string) bool {
	_, ok := j.conds[source]
	return ok
}

// Remove deletes source and returns its conditions.
func (j *Joins) Remove(source string) []string {
	conds, ok := j.conds[source]
	if !ok {
		return nil
	}
	delete(j.conds, source)
	delete(j.deferred, source)
	delete(j.owner, source)
	for i, k := range j.keys {
		if k == source {
			j.keys = append(j.keys[:i:i], j.keys[i+1:]...)
			break
		}
	}
	return conds
}

// Keys returns the sources in render order.
func (j *Joins) Keys() []string {
	out := make([]string, 0, len(j.keys))
	var last []string
	for _, k := range j.keys {
		if j.deferred[k] {
			last = append(last, k)
			continue
		}
		out = append(out, k)
	}
	return append(out, last...)
}

// Conditions returns the conditions recorded for source.
func (j *Joins) Conditions(source string) []string {
	return append([]string(nil), j.conds[source]...)
}

// AllConditions returns every recorded condition, deduplicated and sorted.
func (j *Joins) AllConditions() []string {
	seen := map[string]struct{}{}
	var out []string
	for _, k := range j.keys {
		for _, c := range j.conds[k] {
			if _, ok := seen[c]; ok {
				continue
			}
			seen[c] = struct{}{}
			out = append(out, c)
		}
	}
	sort.Strings(out)
	return out
}

// Len returns the number of sources.
func (j *Joins) Len() int {
	return len(j.keys)
}

// Clone returns an independent copy.
func (j *Joins) Clone() *Joins {
	c := NewJoins()
	c.Merge(j)
	return c
}

// CrossJoins renders every source as "CROSS JOIN source", one per line.
func (j *Joins) CrossJoins() string {
	keys := j.Keys()
	lines := make([]string, len(keys))
	for i, k := range keys {
		lines[i] = "CROSS JOIN " + k
	}
	return strings.Join(lines, "\n")
}

// LeftJoins renders the sources that carry conditions as
// "source ON c1 AND c2", sorted.
func (j *Joins) LeftJoins() []string {
	var out []string
	for _, k := range j.keys {
		if len(j.conds[k]) == 0 {
			continue
		}
		conds := append([]string(nil), j.conds[k]...)
		sort.Strings(conds)
		out = append(out, k+" ON "+strings.Join(conds, " AND "))
	}
	sort.Strings(out)
	return out
}

// String renders the join list as CROSS JOINs.
func (j *Joins) String() string {
	return j.CrossJoins()
}

func containsString(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}
