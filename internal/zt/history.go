package zt

import (
	"fmt"

	"zt-go/internal/model"
)

// History returns the most recent job runs, ordered newest first.
func (s *Service) History(limit int) ([]model.JobRun, error) {
	runs, err := s.store.ListJobRuns(limit)
	if err != nil {
		return nil, fmt.Errorf("listing job runs: %w", err)
	}
	return runs, nil
}

// Readings returns the most recent location readings, newest first.
func (s *Service) Readings(limit int) ([]model.LocationReading, error) {
	rs, err := s.store.ListReadings(limit)
	if err != nil {
		return nil, fmt.Errorf("listing readings: %w", err)
	}
	return rs, nil
}

// Store exposes the underlying store for job bookkeeping.
func (s *Service) Store() Store { return s.store }
