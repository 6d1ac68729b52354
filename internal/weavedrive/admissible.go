package weavedrive

import (
	"context"
	"fmt"

	"github.com/roach88/aosim/internal/ir"
	"github.com/roach88/aosim/internal/queryir"
)

// AvailabilityMode selects how content is authorized for a process.
type AvailabilityMode int

const (
	// Assignments admits content some attestor has attested.
	Assignments AvailabilityMode = iota
	// Individual also admits content an attestor declared available.
	Individual
	// Library is not supported; using it halts the process.
	Library
)

var modeNames = map[AvailabilityMode]string{
	Assignments: "Assignments",
	Individual:  "Individual",
	Library:     "Library",
}

func (m AvailabilityMode) String() string {
	if s, ok := modeNames[m]; ok {
		return s
	}
	return fmt.Sprintf("AvailabilityMode(%d)", int(m))
}

// ParseAvailabilityMode parses a tag value. The empty string is Assignments.
func ParseAvailabilityMode(s string) (AvailabilityMode, error) {
	if s == "" {
		return Assignments, nil
	}
	for m, name := range modeNames {
		if name == s {
			return m, nil
		}
	}
	return 0, &ConfigError{Message: fmt.Sprintf("unsupported availability mode %q", s)}
}

// Subject is the process a drive serves, with the tags of its spawn and
// module transactions.
type Subject struct {
	ProcessID   string
	ProcessTags ir.Tags
	ModuleID    string
	ModuleTags  ir.Tags
}

// Mode resolves the availability mode. Process tags override module tags.
func (s Subject) Mode() (AvailabilityMode, error) {
	v := s.ModuleTags.Value("Availability-Type")
	if pv := s.ProcessTags.Value("Availability-Type"); pv != "" {
		v = pv
	}
	return ParseAvailabilityMode(v)
}

// HasExtension reports whether the module or the process enables the drive.
func (s Subject) HasExtension() bool {
	for _, tags := range []ir.Tags{s.ModuleTags, s.ProcessTags} {
		if tags.Has("Extension", ir.WeaveDriveProtocol) {
			return true
		}
	}
	return false
}

// Attestors lists the scheduler followed by any Attestor tags.
func (s Subject) Attestors() []string {
	var out []string
	if v := s.ProcessTags.Value("Scheduler"); v != "" {
		out = append(out, v)
	}
	for _, v := range s.ProcessTags.Values("Attestor") {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

type heightKey struct{}

// WithBlockHeight attaches the block height of the message being executed.
// Admission checks only consider attestations at or below it.
func WithBlockHeight(ctx context.Context, height int64) context.Context {
	return context.WithValue(ctx, heightKey{}, height)
}

// BlockHeightFrom returns the height set by WithBlockHeight.
func BlockHeightFrom(ctx context.Context) (int64, bool) {
	h, ok := ctx.Value(heightKey{}).(int64)
	return h, ok
}

// CheckAdmissible decides whether the process may read content id.
func (d *Drive) CheckAdmissible(ctx context.Context, id string) (bool, error) {
	ok, err := d.checkAdmissible(ctx, id)
	switch {
	case IsCapabilityHalt(err):
		d.metrics.ObserveAdmission("halted")
	case err == nil && ok:
		d.metrics.ObserveAdmission("allowed")
	case err == nil:
		d.metrics.ObserveAdmission("denied")
	}
	return ok, err
}

func (d *Drive) checkAdmissible(ctx context.Context, id string) (bool, error) {
	if d.testMode {
		return true, nil
	}
	if boot := d.subject.ProcessTags.Value("On-Boot"); boot != "" && boot == id {
		return true, nil
	}
	if !d.subject.HasExtension() {
		d.logger.Warn("drive used without extension", "process", d.subject.ProcessID, "id", id)
		return false, nil
	}

	mode, err := d.subject.Mode()
	if err != nil {
		return false, err
	}
	attestors := d.subject.Attestors()
	if len(attestors) == 0 {
		return false, nil
	}
	height, err := d.blockHeight(ctx)
	if err != nil {
		return false, err
	}

	found, err := d.exists(ctx, attestors, height,
		"Type", ir.TypeAttestation,
		"Message", id,
		"Data-Protocol", ir.DataProtocol,
	)
	if err != nil || found {
		return found, err
	}

	switch mode {
	case Individual:
		return d.exists(ctx, attestors, height,
			"Type", ir.TypeAvailable,
			"ID", id,
			"Data-Protocol", ir.WeaveDriveProtocol,
		)
	case Library:
		return false, &CapabilityHaltError{Mode: Library, Reason: "library availability is not supported"}
	}
	return false, nil
}

func (d *Drive) blockHeight(ctx context.Context) (int64, error) {
	if h, ok := BlockHeightFrom(ctx); ok {
		return h, nil
	}
	if d.height == nil {
		return -1, nil
	}
	return d.height(ctx)
}

// exists runs an attestation query. A negative height means unbounded.
func (d *Drive) exists(ctx context.Context, owners []string, height int64, tags ...string) (bool, error) {
	preds := []queryir.Predicate{queryir.OwnerIn{Owners: owners}}
	if height >= 0 {
		preds = append(preds, queryir.HeightAtMost{Height: height})
	}
	preds = append(preds, queryir.Tags(tags...)...)

	txs, err := d.src.Query(ctx, queryir.Filter{Where: queryir.All(preds...), Limit: 1})
	if err != nil {
		return false, fmt.Errorf("attestation query: %w", err)
	}
	return len(txs) > 0, nil
}
