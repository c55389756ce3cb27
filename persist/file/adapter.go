// Package file loads and saves policies as CSV lines, one rule per line,
// the policy type first:
//
//	p, alice, /data/1, read
//	g, alice, admin
//
// The adapter cannot update single rules in place; the engine falls back to
// SavePolicy when it has to persist a change.
package file

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"strings"

	"github.com/supremind/perm/types"
)

var _ types.Adapter = (*Adapter)(nil)

// Adapter reads and writes one policy CSV file
type Adapter struct {
	path string
}

// NewAdapter creates an adapter on the given file path
func NewAdapter(path string) *Adapter {
	return &Adapter{path: path}
}

// LoadPolicy implements Adapter interface
func (a *Adapter) LoadPolicy() ([]types.PolicyRule, error) {
	f, e := os.Open(a.path)
	if e != nil {
		return nil, fmt.Errorf("load policy file %s: %w", a.path, e)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.Comment = '#'
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	records, e := r.ReadAll()
	if e != nil {
		return nil, fmt.Errorf("parse policy file %s: %w", a.path, e)
	}

	rules := make([]types.PolicyRule, 0, len(records))
	for _, rec := range records {
		if len(rec) < 2 {
			continue
		}
		ptype := strings.TrimSpace(rec[0])
		if ptype == "" {
			continue
		}
		values := make([]string, 0, len(rec)-1)
		for _, v := range rec[1:] {
			values = append(values, strings.TrimSpace(v))
		}
		rules = append(rules, types.PolicyRule{
			Section: ptype[:1],
			PType:   ptype,
			Values:  values,
		})
	}
	return rules, nil
}

// SavePolicy implements Adapter interface
func (a *Adapter) SavePolicy(rules []types.PolicyRule) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	for _, r := range rules {
		record := append([]string{r.PType}, r.Values...)
		if e := w.Write(record); e != nil {
			return fmt.Errorf("encode policy rule: %w", e)
		}
	}
	w.Flush()
	if e := w.Error(); e != nil {
		return fmt.Errorf("encode policy rules: %w", e)
	}

	if e := os.WriteFile(a.path, buf.Bytes(), 0o644); e != nil {
		return fmt.Errorf("save policy file %s: %w", a.path, e)
	}
	return nil
}
