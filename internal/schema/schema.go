// Package schema describes a table's column families: their numeric
// ids, which access group owns them, and the per-family properties
// (version limit, TTL, counter semantics, bloom filter mode,
// replication factor) the rest of the storage path reads from.
//
// Grounded on Hypertable::Lib::Schema (original_source/src/cc/Hypertable/Lib)
// for the field set this module keeps (max_versions, ttl, counter, bloom
// filter mode, replication factor grouped per family, families grouped
// under an access group), and on the teacher's options_file.go for the
// textual persistence idiom: a bufio.Scanner-driven "[Section]" /
// "key=value" reader and a bufio.Writer-driven mirror-image writer,
// reused here for "[AccessGroup ...]" / "[ColumnFamily ...]" sections
// instead of "[DBOptions]" / "[CFOptions ...]".
package schema

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/hypertable-go/rangestore/internal/filter"
)

// ColumnFamily describes one column family's identity and storage
// properties.
type ColumnFamily struct {
	ID          uint8
	Name        string
	AccessGroup string

	// MaxVersions is the number of most-recent inserts per logical
	// (row, cfid, cq) triple retained by scans; zero means unbounded.
	MaxVersions int

	// TTL is the duration after a cell's timestamp at which it is no
	// longer visible to scans; zero means no expiration.
	TTL time.Duration

	// Counter marks a family whose inserts are summed rather than
	// replacing on read, per the cell cache's counter-insert path and
	// the merge scanner's counter aggregation overlay.
	Counter bool

	BloomFilterMode   filter.Mode
	ReplicationFactor int
}

// Schema is the full set of column families for one table.
type Schema struct {
	Table      string
	Generation int

	families []*ColumnFamily
	byName   map[string]*ColumnFamily
	byID     map[uint8]*ColumnFamily
}

// New builds a Schema from an explicit family list, assigning no id
// automatically — callers (or a parsed schema file) must set ID on
// each family before calling New.
func New(table string, generation int, families []*ColumnFamily) (*Schema, error) {
	s := &Schema{
		Table:      table,
		Generation: generation,
		families:   families,
		byName:     make(map[string]*ColumnFamily, len(families)),
		byID:       make(map[uint8]*ColumnFamily, len(families)),
	}
	for _, cf := range families {
		if _, dup := s.byName[cf.Name]; dup {
			return nil, fmt.Errorf("schema: duplicate column family name %q", cf.Name)
		}
		if _, dup := s.byID[cf.ID]; dup {
			return nil, fmt.Errorf("schema: duplicate column family id %d", cf.ID)
		}
		s.byName[cf.Name] = cf
		s.byID[cf.ID] = cf
	}
	return s, nil
}

// ByName looks up a family by name.
func (s *Schema) ByName(name string) (*ColumnFamily, bool) {
	cf, ok := s.byName[name]
	return cf, ok
}

// ByID looks up a family by its numeric id.
func (s *Schema) ByID(id uint8) (*ColumnFamily, bool) {
	cf, ok := s.byID[id]
	return cf, ok
}

// Families returns every column family, in declaration order.
func (s *Schema) Families() []*ColumnFamily { return s.families }

// AccessGroups returns the distinct access group names referenced by
// this schema's families, in first-seen order.
func (s *Schema) AccessGroups() []string {
	var out []string
	seen := make(map[string]struct{})
	for _, cf := range s.families {
		if _, ok := seen[cf.AccessGroup]; ok {
			continue
		}
		seen[cf.AccessGroup] = struct{}{}
		out = append(out, cf.AccessGroup)
	}
	return out
}

// FamiliesInAccessGroup returns the families belonging to ag, in
// declaration order.
func (s *Schema) FamiliesInAccessGroup(ag string) []*ColumnFamily {
	var out []*ColumnFamily
	for _, cf := range s.families {
		if cf.AccessGroup == ag {
			out = append(out, cf)
		}
	}
	return out
}

// TTLRange reports the minimum and maximum nonzero TTL across families
// in ag, and whether any family there carries a TTL at all.
func TTLRange(families []*ColumnFamily) (min, max time.Duration, any bool) {
	for _, cf := range families {
		if cf.TTL <= 0 {
			continue
		}
		if !any || cf.TTL < min {
			min = cf.TTL
		}
		if !any || cf.TTL > max {
			max = cf.TTL
		}
		any = true
	}
	return min, max, any
}

// AnyBoundedVersions reports whether any family in families declares a
// MaxVersions limit.
func AnyBoundedVersions(families []*ColumnFamily) bool {
	for _, cf := range families {
		if cf.MaxVersions > 0 {
			return true
		}
	}
	return false
}

// Write renders the schema in its textual section form.
func Write(w io.Writer, s *Schema) error {
	bw := bufio.NewWriter(w)

	fmt.Fprintln(bw, "[Schema]")
	fmt.Fprintf(bw, "  table=%s\n", s.Table)
	fmt.Fprintf(bw, "  generation=%d\n", s.Generation)
	fmt.Fprintln(bw)

	for _, cf := range s.families {
		fmt.Fprintf(bw, "[ColumnFamily %q]\n", cf.Name)
		fmt.Fprintf(bw, "  id=%d\n", cf.ID)
		fmt.Fprintf(bw, "  access_group=%s\n", cf.AccessGroup)
		fmt.Fprintf(bw, "  max_versions=%d\n", cf.MaxVersions)
		fmt.Fprintf(bw, "  ttl=%d\n", int64(cf.TTL))
		fmt.Fprintf(bw, "  counter=%t\n", cf.Counter)
		fmt.Fprintf(bw, "  bloom_filter_mode=%s\n", cf.BloomFilterMode)
		fmt.Fprintf(bw, "  replication_factor=%d\n", cf.ReplicationFactor)
		fmt.Fprintln(bw)
	}

	return bw.Flush()
}

// Parse reads a schema in the section form Write produces.
func Parse(r io.Reader) (*Schema, error) {
	scanner := bufio.NewScanner(r)
	section := ""
	table := ""
	generation := 0
	var families []*ColumnFamily
	var cur *ColumnFamily

	flush := func() error {
		if cur == nil {
			return nil
		}
		families = append(families, cur)
		cur = nil
		return nil
	}

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			if err := flush(); err != nil {
				return nil, err
			}
			section = line[1 : len(line)-1]
			if strings.HasPrefix(section, "ColumnFamily ") {
				name := strings.Trim(strings.TrimPrefix(section, "ColumnFamily "), `"`)
				cur = &ColumnFamily{Name: name}
			}
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		switch {
		case section == "Schema":
			switch key {
			case "table":
				table = value
			case "generation":
				generation, _ = strconv.Atoi(value)
			}
		case strings.HasPrefix(section, "ColumnFamily ") && cur != nil:
			switch key {
			case "id":
				n, _ := strconv.Atoi(value)
				cur.ID = uint8(n)
			case "access_group":
				cur.AccessGroup = value
			case "max_versions":
				cur.MaxVersions, _ = strconv.Atoi(value)
			case "ttl":
				n, _ := strconv.ParseInt(value, 10, 64)
				cur.TTL = time.Duration(n)
			case "counter":
				cur.Counter = value == "true"
			case "bloom_filter_mode":
				cur.BloomFilterMode = parseBloomMode(value)
			case "replication_factor":
				cur.ReplicationFactor, _ = strconv.Atoi(value)
			}
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return New(table, generation, families)
}

func parseBloomMode(s string) filter.Mode {
	switch s {
	case "Rows":
		return filter.Rows
	case "RowsCols":
		return filter.RowsCols
	default:
		return filter.Disabled
	}
}
