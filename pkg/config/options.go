package config

import (
	"gopkg.in/yaml.v3"

	"phasetiler/pkg/errs"
)

// UpsampleMethod selects how the coarse reference is projected onto a tile.
type UpsampleMethod string

const (
	// UpsampleSpectral zero-pads the spectrum; accurate but expensive.
	UpsampleSpectral UpsampleMethod = "spectral"
	// UpsampleNearest replicates the nearest coarse sample; cheap.
	UpsampleNearest UpsampleMethod = "nearest"
)

func (m UpsampleMethod) validate() error {
	switch m {
	case UpsampleSpectral, UpsampleNearest:
		return nil
	}
	return errs.Configf("stitching.upsample", "unknown method %q (want spectral or nearest)", string(m))
}

// UnmarshalYAML rejects unknown methods at load time.
func (m *UpsampleMethod) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	*m = UpsampleMethod(s)
	return m.validate()
}

// Statistic selects the estimator for the per-tile cycle offset.
type Statistic string

const (
	// StatisticMean rounds the mean of the reference difference in cycles.
	StatisticMean Statistic = "mean"
	// StatisticMode takes the most frequent per-sample rounded difference.
	StatisticMode Statistic = "mode"
)

func (s Statistic) validate() error {
	switch s {
	case StatisticMean, StatisticMode:
		return nil
	}
	return errs.Configf("stitching.statistic", "unknown statistic %q (want mean or mode)", string(s))
}

// UnmarshalYAML rejects unknown statistics at load time.
func (s *Statistic) UnmarshalYAML(node *yaml.Node) error {
	var v string
	if err := node.Decode(&v); err != nil {
		return err
	}
	*s = Statistic(v)
	return s.validate()
}

// FailurePolicy decides how a tile-level unwrapping failure is handled.
type FailurePolicy string

const (
	// PolicyAbort stops the run at the first tile failure.
	PolicyAbort FailurePolicy = "abort"
	// PolicyDegrade writes the projected coarse reference for the failed tile.
	PolicyDegrade FailurePolicy = "degrade"
)

func (p FailurePolicy) validate() error {
	switch p {
	case PolicyAbort, PolicyDegrade:
		return nil
	}
	return errs.Configf("stitching.failurePolicy", "unknown policy %q (want abort or degrade)", string(p))
}

// UnmarshalYAML rejects unknown policies at load time.
func (p *FailurePolicy) UnmarshalYAML(node *yaml.Node) error {
	var v string
	if err := node.Decode(&v); err != nil {
		return err
	}
	*p = FailurePolicy(v)
	return p.validate()
}

// Averaging selects how complex samples are combined by multilooking.
type Averaging string

const (
	// AverageComplex averages the complex samples directly.
	AverageComplex Averaging = "complex"
	// AverageMagnitudePhase averages magnitude and phasor direction separately.
	AverageMagnitudePhase Averaging = "magnitude-phase"
)

func (a Averaging) validate() error {
	switch a {
	case AverageComplex, AverageMagnitudePhase:
		return nil
	}
	return errs.Configf("coarse.averaging", "unknown averaging %q (want complex or magnitude-phase)", string(a))
}

// UnmarshalYAML rejects unknown averaging modes at load time.
func (a *Averaging) UnmarshalYAML(node *yaml.Node) error {
	var v string
	if err := node.Decode(&v); err != nil {
		return err
	}
	*a = Averaging(v)
	return a.validate()
}
