package erasure

import (
	"fmt"

	"github.com/autopeer-io/obdverify/internal/verifier/listener"
	"github.com/autopeer-io/obdverify/internal/verifier/model"
	"github.com/autopeer-io/obdverify/internal/verifier/repository"
	"github.com/autopeer-io/obdverify/pkg/j1939"
)

// SectionVerifier holds the lookups and reporting shared by the checks of
// one test section.
type SectionVerifier struct {
	repo *repository.Repository
}

// NewSectionVerifier returns a SectionVerifier reading from repo.
func NewSectionVerifier(repo *repository.Repository) SectionVerifier {
	return SectionVerifier{repo: repo}
}

// Latest returns the last packet of pgn recorded for the module at address.
func (s SectionVerifier) Latest(address uint8, pgn uint32) (j1939.Packet, bool) {
	m, ok := s.repo.Module(address)
	if !ok {
		return j1939.Packet{}, false
	}
	return m.Latest(pgn)
}

// Vehicle returns the declared vehicle, or the zero value before one is set.
func (s SectionVerifier) Vehicle() model.VehicleInformation {
	v, _ := s.repo.Vehicle()
	return v
}

// Before2019 reports whether the declared vehicle predates model year 2019.
func (s SectionVerifier) Before2019() bool {
	return s.Vehicle().Before2019()
}

// Report adds a FAIL stating whether moduleName erased dataName.
func (s SectionVerifier) Report(l listener.Listener, part, step int, section, moduleName, dataName string, erased bool) {
	l.AddOutcome(part, step, model.Fail, ErasureMessage(section, moduleName, dataName, erased))
}

// ErasureMessage formats "<section> - <module> erased|did not erase <data> data".
func ErasureMessage(section, moduleName, dataName string, erased bool) string {
	verb := "did not erase"
	if erased {
		verb = "erased"
	}
	return model.Cite(section, fmt.Sprintf("%s %s %s data", moduleName, verb, dataName))
}
