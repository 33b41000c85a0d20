package database

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/ndkramer/one80learn-sub000/pkg/types"
)

// Catalog is a bulk catalog document in load order
type Catalog struct {
	Users       []types.User       `json:"users"`
	Classes     []types.Class      `json:"classes"`
	Modules     []types.Module     `json:"modules"`
	Steps       []types.Step       `json:"steps"`
	Enrollments []types.Enrollment `json:"enrollments"`
}

// DecodeCatalog reads a JSON catalog, rejecting unknown fields
func DecodeCatalog(r io.Reader) (*Catalog, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	var c Catalog
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	return &c, nil
}

// LoadCatalog upserts every row, parents before children
// FUNCTIONAL DISCOVERY: Enrollments default to active when the status is omitted
func (m *Manager) LoadCatalog(ctx context.Context, c *Catalog) error {
	for i := range c.Users {
		if err := m.UpsertUser(ctx, &c.Users[i]); err != nil {
			return err
		}
	}
	for i := range c.Classes {
		if err := m.UpsertClass(ctx, &c.Classes[i]); err != nil {
			return err
		}
	}
	for i := range c.Modules {
		if err := m.UpsertModule(ctx, &c.Modules[i]); err != nil {
			return err
		}
	}
	for i := range c.Steps {
		if err := m.UpsertStep(ctx, &c.Steps[i]); err != nil {
			return err
		}
	}
	for i := range c.Enrollments {
		e := c.Enrollments[i]
		if e.Status == "" {
			e.Status = types.EnrollmentActive
		}
		if err := m.UpsertEnrollment(ctx, &e); err != nil {
			return err
		}
	}
	return nil
}
