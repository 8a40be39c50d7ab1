// Package forecast estimates next-period demand from a short history of (period, quantity)
// observations.
package forecast

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidSeries is returned for series holding non-finite values.
var ErrInvalidSeries = errors.New("invalid historical series")

// Point is one observation.
type Point struct {
	Period   float64
	Quantity float64
}

// DefaultSeries is used when the caller supplies no history.
var DefaultSeries = []Point{
	{Period: 1, Quantity: 100},
	{Period: 2, Quantity: 120},
	{Period: 3, Quantity: 130},
	{Period: 4, Quantity: 150},
	{Period: 5, Quantity: 170},
}

// Model is a fitted line quantity = Slope*period + Intercept.
type Model struct {
	Slope     float64
	Intercept float64
}

// Fit computes the least-squares line through series. A series whose periods do not vary
// yields a flat line at the mean quantity.
func Fit(series []Point) (Model, error) {
	if len(series) == 0 {
		return Model{}, fmt.Errorf("%w: empty", ErrInvalidSeries)
	}
	var sumX, sumY float64
	for i, p := range series {
		if !finite(p.Period) || !finite(p.Quantity) {
			return Model{}, fmt.Errorf("%w: point %d is not finite", ErrInvalidSeries, i)
		}
		sumX += p.Period
		sumY += p.Quantity
	}
	n := float64(len(series))
	meanX, meanY := sumX/n, sumY/n

	var sxx, sxy float64
	for _, p := range series {
		dx := p.Period - meanX
		sxx += dx * dx
		sxy += dx * (p.Quantity - meanY)
	}
	if sxx == 0 {
		return Model{Intercept: meanY}, nil
	}
	slope := sxy / sxx
	return Model{Slope: slope, Intercept: meanY - slope*meanX}, nil
}

// At evaluates the line at period.
func (m Model) At(period float64) float64 {
	return m.Slope*period + m.Intercept
}

// PredictDemand returns the rounded estimate for period len(series)+1. An empty series falls
// back to DefaultSeries.
func PredictDemand(series []Point) (int64, error) {
	if len(series) == 0 {
		series = DefaultSeries
	}
	m, err := Fit(series)
	if err != nil {
		return 0, err
	}
	next := m.At(float64(len(series) + 1))
	if !finite(next) || math.Abs(next) > math.MaxInt64 {
		return 0, fmt.Errorf("%w: prediction out of range", ErrInvalidSeries)
	}
	return int64(math.Round(next)), nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
