// Package metadata provides the static PGN/SPN definitions: broadcast
// periods, rate class and the bit layout of each parameter.
package metadata

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed pgns.yaml
var defaultTable []byte

// SPN describes one parameter and where it sits inside its PGN.
type SPN struct {
	ID         uint32  `yaml:"spn"`
	Label      string  `yaml:"label"`
	Unit       string  `yaml:"unit,omitempty"`
	StartByte  int     `yaml:"start_byte"`
	StartBit   int     `yaml:"start_bit"`
	Bits       int     `yaml:"bits"`
	Resolution float64 `yaml:"resolution"`
	Offset     float64 `yaml:"offset"`
}

// PGN describes one parameter group.
type PGN struct {
	ID      uint32 `yaml:"pgn"`
	Label   string `yaml:"label"`
	Acronym string `yaml:"acronym"`
	// PeriodMs is the defined broadcast period; 0 means on request only.
	PeriodMs int `yaml:"period_ms"`
	// Variable marks PGNs whose rate depends on operating conditions.
	Variable bool  `yaml:"variable,omitempty"`
	SPNs     []SPN `yaml:"spns,omitempty"`
}

// Broadcast reports whether the PGN has a positive broadcast period.
func (p PGN) Broadcast() bool { return p.PeriodMs > 0 }

type document struct {
	PGNs []PGN `yaml:"pgns"`
}

// Table is a read-only PGN/SPN lookup. It is safe for concurrent use.
type Table struct {
	pgns     map[uint32]PGN
	spns     map[uint32]SPN
	spnOwner map[uint32][]uint32
}

// Default returns the table embedded in the binary.
func Default() (*Table, error) {
	return Load(bytes.NewReader(defaultTable))
}

// Load parses a YAML document of PGN definitions.
func Load(r io.Reader) (*Table, error) {
	t := &Table{
		pgns:     make(map[uint32]PGN),
		spns:     make(map[uint32]SPN),
		spnOwner: make(map[uint32][]uint32),
	}
	if err := t.merge(r); err != nil {
		return nil, err
	}
	return t, nil
}

// LoadFile returns the embedded table with the definitions found in path
// layered on top; a PGN in the file replaces the embedded one.
func LoadFile(path string) (*Table, error) {
	t, err := Default()
	if err != nil {
		return nil, err
	}
	if path == "" {
		return t, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open metadata file: %w", err)
	}
	defer f.Close()

	if err := t.merge(f); err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return t, nil
}

func (t *Table) merge(r io.Reader) error {
	var doc document
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil && err != io.EOF {
		return fmt.Errorf("decode pgn table: %w", err)
	}

	for _, p := range doc.PGNs {
		if p.PeriodMs < 0 {
			return fmt.Errorf("pgn %d: negative period %d", p.ID, p.PeriodMs)
		}
		if old, ok := t.pgns[p.ID]; ok {
			for _, s := range old.SPNs {
				t.spnOwner[s.ID] = slices.DeleteFunc(t.spnOwner[s.ID], func(id uint32) bool { return id == p.ID })
			}
		}
		t.pgns[p.ID] = p
		for _, s := range p.SPNs {
			if s.Bits <= 0 || s.Bits > 32 {
				return fmt.Errorf("spn %d: invalid bit length %d", s.ID, s.Bits)
			}
			t.spns[s.ID] = s
			t.spnOwner[s.ID] = append(t.spnOwner[s.ID], p.ID)
		}
	}
	return nil
}

// PGN returns the definition of id.
func (t *Table) PGN(id uint32) (PGN, bool) {
	p, ok := t.pgns[id]
	return p, ok
}

// SPN returns the definition of id.
func (t *Table) SPN(id uint32) (SPN, bool) {
	s, ok := t.spns[id]
	return s, ok
}

// BroadcastPeriod returns the defined period of pgn; zero for on-request or
// unknown PGNs.
func (t *Table) BroadcastPeriod(pgn uint32) time.Duration {
	return time.Duration(t.pgns[pgn].PeriodMs) * time.Millisecond
}

// IsVariableRate reports whether pgn is broadcast at a condition-dependent rate.
func (t *Table) IsVariableRate(pgn uint32) bool {
	return t.pgns[pgn].Variable
}

// SPNsOf lists the SPN ids carried by pgn.
func (t *Table) SPNsOf(pgn uint32) []uint32 {
	p := t.pgns[pgn]
	ids := make([]uint32, 0, len(p.SPNs))
	for _, s := range p.SPNs {
		ids = append(ids, s.ID)
	}
	return ids
}

// PGNsForSPN lists the PGNs that carry spn, in ascending order.
func (t *Table) PGNsForSPN(spn uint32) []uint32 {
	out := slices.Clone(t.spnOwner[spn])
	slices.Sort(out)
	return out
}

// PGNs returns every known PGN id in ascending order.
func (t *Table) PGNs() []uint32 {
	ids := make([]uint32, 0, len(t.pgns))
	for id := range t.pgns {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Label returns "<label> (<acronym>)" or the numeric PGN.
func (t *Table) Label(pgn uint32) string {
	p, ok := t.pgns[pgn]
	if !ok {
		return fmt.Sprintf("PGN %d", pgn)
	}
	return fmt.Sprintf("%s (%s)", p.Label, p.Acronym)
}
