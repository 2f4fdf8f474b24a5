package wikicounts

import (
	"time"
)

// Statter is the interface that stats collectors must implement to get stats
// out of a pipeline run.
type Statter interface {
	Count(name string, value int64, rate float64, tags ...string)
	Gauge(name string, value float64, rate float64, tags ...string)
	Histogram(name string, value float64, rate float64, tags ...string)
	Set(name string, value string, rate float64, tags ...string)
	Timing(name string, value time.Duration, rate float64, tags ...string)
}

// NopStatter does nothing.
type NopStatter struct{}

// Count does nothing.
func (NopStatter) Count(name string, value int64, rate float64, tags ...string) {}

// Gauge does nothing.
func (NopStatter) Gauge(name string, value float64, rate float64, tags ...string) {}

// Histogram does nothing.
func (NopStatter) Histogram(name string, value float64, rate float64, tags ...string) {}

// Set does nothing.
func (NopStatter) Set(name string, value string, rate float64, tags ...string) {}

// Timing does nothing.
func (NopStatter) Timing(name string, value time.Duration, rate float64, tags ...string) {}

// Statters sends every stat to each of its members.
type Statters []Statter

// Count implements Statter.
func (ss Statters) Count(name string, value int64, rate float64, tags ...string) {
	for _, s := range ss {
		s.Count(name, value, rate, tags...)
	}
}

// Gauge implements Statter.
func (ss Statters) Gauge(name string, value float64, rate float64, tags ...string) {
	for _, s := range ss {
		s.Gauge(name, value, rate, tags...)
	}
}

// Histogram implements Statter.
func (ss Statters) Histogram(name string, value float64, rate float64, tags ...string) {
	for _, s := range ss {
		s.Histogram(name, value, rate, tags...)
	}
}

// Set implements Statter.
func (ss Statters) Set(name string, value string, rate float64, tags ...string) {
	for _, s := range ss {
		s.Set(name, value, rate, tags...)
	}
}

// Timing implements Statter.
func (ss Statters) Timing(name string, value time.Duration, rate float64, tags ...string) {
	for _, s := range ss {
		s.Timing(name, value, rate, tags...)
	}
}

// Logger is the interface that loggers must implement to get pipeline logs.
// *logrus.Logger and *logrus.Entry both satisfy it.
type Logger interface {
	Printf(format string, v ...interface{})
	Debugf(format string, v ...interface{})
}

// NopLogger logs nothing.
type NopLogger struct{}

// Printf does nothing.
func (NopLogger) Printf(format string, v ...interface{}) {}

// Debugf does nothing.
func (NopLogger) Debugf(format string, v ...interface{}) {}
