// Package category implements the category filter policy: a pure predicate
// deciding whether a record belongs to a user-selected stream. The same
// policy decides chunk membership at plan time and filters loaded records
// at query time.
package category

import (
	"fmt"
	"sort"
	"strings"

	"github.com/neetlogiq/datapack/pkg/types"
)

// Rule lists the admissible sub-tags of one category and, for level-bearing
// records, the admissible level.
type Rule struct {
	SubTags []string    `json:"sub_tags" yaml:"sub_tags"`
	Level   types.Level `json:"level" yaml:"level"`
}

// Table maps each category to its rule.
type Table map[types.Category]Rule

// DefaultTable returns the stock category configuration.
func DefaultTable() Table {
	return Table{
		types.CategoryUG:        {SubTags: []string{"MEDICAL", "DENTAL"}, Level: types.LevelUG},
		types.CategoryPGMedical: {SubTags: []string{"MEDICAL", "DNB", "DIPLOMA"}, Level: types.LevelPG},
		types.CategoryPGDental:  {SubTags: []string{"DENTAL"}, Level: types.LevelPG},
	}
}

type compiledRule struct {
	subTags map[string]struct{}
	level   types.Level
}

// Policy is an immutable compiled Table. It is safe for concurrent use.
type Policy struct {
	rules map[types.Category]compiledRule
}

// NewPolicy compiles a copy of table. Sub-tags are compared case-insensitively.
func NewPolicy(table Table) *Policy {
	p := &Policy{rules: make(map[types.Category]compiledRule, len(table))}
	for cat, rule := range table {
		cr := compiledRule{subTags: make(map[string]struct{}, len(rule.SubTags)), level: rule.Level}
		for _, tag := range rule.SubTags {
			cr.subTags[normalize(tag)] = struct{}{}
		}
		p.rules[cat] = cr
	}
	return p
}

// Default returns a policy over DefaultTable.
func Default() *Policy {
	return NewPolicy(DefaultTable())
}

// BelongsToCategory reports whether the record is admissible under the
// category. Unknown categories never match. Colleges carry no level and
// match on sub-tag alone.
func (p *Policy) BelongsToCategory(record types.Record, cat types.Category) bool {
	if record == nil {
		return false
	}
	return p.Matches(cat, record.SubTag(), record.RecordLevel())
}

// Matches is BelongsToCategory over raw attributes. It lets the source
// aggregate counts without materializing records.
func (p *Policy) Matches(cat types.Category, subTag string, level types.Level) bool {
	rule, ok := p.rules[cat]
	if !ok {
		return false
	}
	if _, ok := rule.subTags[normalize(subTag)]; !ok {
		return false
	}
	if level == types.LevelAny || rule.level == types.LevelAny {
		return true
	}
	return level == rule.level
}

// CategoriesFor returns every category the record belongs to, in the
// canonical category order.
func (p *Policy) CategoriesFor(record types.Record) []types.Category {
	var out []types.Category
	for _, cat := range types.Categories() {
		if p.BelongsToCategory(record, cat) {
			out = append(out, cat)
		}
	}
	return out
}

// Filter returns the records admissible under cat, preserving order.
func (p *Policy) Filter(records []types.Record, cat types.Category) []types.Record {
	out := make([]types.Record, 0, len(records))
	for _, r := range records {
		if p.BelongsToCategory(r, cat) {
			out = append(out, r)
		}
	}
	return out
}

// SubTags returns the sorted admissible sub-tags for cat.
func (p *Policy) SubTags(cat types.Category) []string {
	rule, ok := p.rules[cat]
	if !ok {
		return nil
	}
	tags := make([]string, 0, len(rule.subTags))
	for tag := range rule.subTags {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// Validate checks that the table is closed over the known categories and
// that every rule admits at least one sub-tag.
func (p *Policy) Validate() error {
	for cat := range p.rules {
		if !cat.Valid() {
			return fmt.Errorf("category: %w: %q", types.ErrUnknownCategory, cat)
		}
	}
	for _, cat := range types.Categories() {
		rule, ok := p.rules[cat]
		if !ok {
			return fmt.Errorf("category: no rule for %s", cat)
		}
		if len(rule.subTags) == 0 {
			return fmt.Errorf("category: rule for %s has no sub-tags", cat)
		}
		switch rule.level {
		case types.LevelAny, types.LevelUG, types.LevelPG:
		default:
			return fmt.Errorf("category: rule for %s has unknown level %q", cat, rule.level)
		}
	}
	return nil
}

func normalize(tag string) string {
	return strings.ToUpper(strings.TrimSpace(tag))
}
