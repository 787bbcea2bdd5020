// Package erasure verifies what a diagnostic code clear did to every
// module: that data which should be erased was, that data which should be
// kept was, and that no module erased only part of it.
package erasure

import (
	"context"
	"fmt"

	"github.com/autopeer-io/obdverify/internal/verifier/listener"
	"github.com/autopeer-io/obdverify/internal/verifier/model"
	"github.com/autopeer-io/obdverify/internal/verifier/repository"
	"github.com/autopeer-io/obdverify/pkg/log"
)

// ShouldBeReported decides whether a check fails. When verifyIsErased is
// set the data must be erased, so a module still holding data it held
// before fails. Otherwise the data must be kept, so a module that now shows
// erased data it did not show before fails.
func ShouldBeReported(verifyIsErased, wasPreviouslyErased, isCurrentlyErased bool) bool {
	if verifyIsErased {
		return !wasPreviouslyErased && !isCurrentlyErased
	}
	return isCurrentlyErased && !wasPreviouslyErased
}

// Verifier runs the checks against every module in the repository.
type Verifier struct {
	SectionVerifier

	repo      *repository.Repository
	requester Requester
	checks    []Check
	log       log.Logger
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithChecks replaces the default checks.
func WithChecks(checks ...Check) Option {
	return func(v *Verifier) { v.checks = checks }
}

// New returns a Verifier requesting through r. DM7 commands of the default
// checks are sent from toolAddress.
func New(repo *repository.Repository, r Requester, toolAddress uint8, opts ...Option) *Verifier {
	v := &Verifier{
		SectionVerifier: NewSectionVerifier(repo),
		repo:            repo,
		requester:       r,
		checks:          DefaultChecks(toolAddress),
		log:             log.WithName("erasure"),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

type verdict struct {
	check Check
	obs   Observation
}

// observe runs every applicable check against m. Checks the module did
// not answer are reported as warnings and left out.
func (v *Verifier) observe(ctx context.Context, l listener.Listener, part, step int, section string,
	m repository.ModuleSnapshot, vehicle model.VehicleInformation) ([]verdict, error) {
	var out []verdict
	for _, c := range v.checks {
		if !c.Applies(m, vehicle) {
			continue
		}
		obs, err := c.Observe(ctx, v.requester, m, vehicle)
		if err != nil {
			return nil, err
		}
		if !obs.Responded {
			msg := fmt.Sprintf("%s did not respond to the %s request", m.Name(), c.DataName())
			if obs.Nacked {
				msg = fmt.Sprintf("%s responded NACK to the %s request", m.Name(), c.DataName())
			}
			l.AddOutcome(part, step, model.Warn, model.Cite(section, msg))
			continue
		}
		v.log.Debug("Observed", "module", m.Name(), "data", c.DataName(),
			"wasErased", obs.WasErased, "isErased", obs.IsErased, "decreased", obs.Decreased)
		out = append(out, verdict{check: c, obs: obs})
	}
	return out, nil
}

// VerifyDataErased fails every check that still shows the data held before
// the clear, and each module with at least one such failure.
func (v *Verifier) VerifyDataErased(ctx context.Context, l listener.Listener, part, step int, section string) error {
	return v.verify(ctx, l, part, step, section, true)
}

// VerifyDataNotErased fails every check showing data erased that was
// present before, and each module with at least one such failure.
func (v *Verifier) VerifyDataNotErased(ctx context.Context, l listener.Listener, part, step int, section string) error {
	return v.verify(ctx, l, part, step, section, false)
}

func (v *Verifier) verify(ctx context.Context, l listener.Listener, part, step int, section string, verifyIsErased bool) error {
	vehicle := v.Vehicle()
	for _, m := range v.repo.Modules() {
		verdicts, err := v.observe(ctx, l, part, step, section, m, vehicle)
		if err != nil {
			return err
		}

		failed := false
		for _, vd := range verdicts {
			switch {
			case vd.obs.Monotonic:
				if vd.obs.Decreased {
					v.Report(l, part, step, section, m.Name(), vd.check.DataName(), true)
					failed = true
				}
			case ShouldBeReported(verifyIsErased, vd.obs.WasErased, vd.obs.IsErased):
				v.Report(l, part, step, section, m.Name(), vd.check.DataName(), !verifyIsErased)
				failed = true
			}
		}

		if failed {
			msg := fmt.Sprintf("%s erased data", m.Name())
			if verifyIsErased {
				msg = fmt.Sprintf("%s did not erase data", m.Name())
			}
			l.AddOutcome(part, step, model.Fail, model.Cite(section, msg))
		}
	}
	return nil
}

// VerifyDataNotPartialErased classifies each module as having erased or
// kept its diagnostic data. A module whose checks disagree fails under
// sectionPartial. Among the remaining modules, a fleet where some erased and
// others kept their data fails once under sectionFleet.
func (v *Verifier) VerifyDataNotPartialErased(ctx context.Context, l listener.Listener, part, step int, sectionPartial, sectionFleet string) error {
	vehicle := v.Vehicle()
	var fleetErased, fleetRetained bool

	for _, m := range v.repo.Modules() {
		verdicts, err := v.observe(ctx, l, part, step, sectionPartial, m, vehicle)
		if err != nil {
			return err
		}

		erased, retained := classify(verdicts)
		switch {
		case erased && retained:
			l.AddOutcome(part, step, model.Fail, model.Cite(sectionPartial,
				fmt.Sprintf("%s partially erased diagnostic information", m.Name())))
		case erased:
			fleetErased = true
		case retained:
			fleetRetained = true
		}
	}

	if fleetErased && fleetRetained {
		l.AddOutcome(part, step, model.Fail, model.Cite(sectionFleet,
			"One or more ECUs erased diagnostic information and one or more other ECUs did not erase diagnostic information"))
	}
	return nil
}

// classify reads each observation both ways: data still held counts as
// retained and data gone since the last capture counts as erased. Data that
// was already erased before says nothing either way, and monotonic counters
// never vote.
func classify(verdicts []verdict) (erased, retained bool) {
	for _, vd := range verdicts {
		if vd.obs.Monotonic {
			continue
		}
		if ShouldBeReported(true, vd.obs.WasErased, vd.obs.IsErased) {
			retained = true
		}
		if ShouldBeReported(false, vd.obs.WasErased, vd.obs.IsErased) {
			erased = true
		}
	}
	return erased, retained
}

