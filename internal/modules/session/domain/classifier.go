package domain

import (
	"fmt"
	"math"
	"sort"
)

const (
	PolicyDeviation = "deviation"
	PolicyAbsolute  = "absolute"
)

type Severity int

const (
	SeverityOK Severity = iota
	SeverityWarn
	SeverityAlert
)

type Classification struct {
	Policy   string
	Label    string
	Severity Severity
}

// Classifier labels a GSR value. Implementations must be pure.
type Classifier interface {
	Name() string
	Classify(value, baseline float64) Classification
}

// DeviationClassifier compares the absolute distance from the baseline GSR.
type DeviationClassifier struct {
	Elevated float64
	High     float64
}

func NewDeviationClassifier() DeviationClassifier {
	return DeviationClassifier{Elevated: 50, High: 150}
}

func (DeviationClassifier) Name() string { return PolicyDeviation }

func (c DeviationClassifier) Classify(value, baseline float64) Classification {
	d := math.Abs(value - baseline)
	switch {
	case d < c.Elevated:
		return Classification{Policy: PolicyDeviation, Label: "Normal", Severity: SeverityOK}
	case d < c.High:
		return Classification{Policy: PolicyDeviation, Label: "Elevated", Severity: SeverityWarn}
	default:
		return Classification{Policy: PolicyDeviation, Label: "High Stress Alert", Severity: SeverityAlert}
	}
}

// AbsoluteClassifier ignores the baseline and bands the raw magnitude.
type AbsoluteClassifier struct {
	Low      float64
	Moderate float64
}

func NewAbsoluteClassifier() AbsoluteClassifier {
	return AbsoluteClassifier{Low: 100, Moderate: 200}
}

func (AbsoluteClassifier) Name() string { return PolicyAbsolute }

func (c AbsoluteClassifier) Classify(value, _ float64) Classification {
	switch {
	case value <= c.Low:
		return Classification{Policy: PolicyAbsolute, Label: "Low", Severity: SeverityOK}
	case value <= c.Moderate:
		return Classification{Policy: PolicyAbsolute, Label: "Moderate", Severity: SeverityWarn}
	default:
		return Classification{Policy: PolicyAbsolute, Label: "High", Severity: SeverityAlert}
	}
}

var classifiers = map[string]func() Classifier{
	PolicyDeviation: func() Classifier { return NewDeviationClassifier() },
	PolicyAbsolute:  func() Classifier { return NewAbsoluteClassifier() },
}

func NewClassifier(name string) (Classifier, error) {
	build, ok := classifiers[name]
	if !ok {
		return nil, fmt.Errorf("unknown classifier policy %q (known: %v)", name, ClassifierNames())
	}
	return build(), nil
}

func ClassifierNames() []string {
	names := make([]string, 0, len(classifiers))
	for name := range classifiers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
