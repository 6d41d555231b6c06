package mcp

import (
	"context"
	"time"

	"github.com/custodia-labs/keep/internal/core/domain"
	"github.com/custodia-labs/keep/internal/core/ports/driving"
)

// mockKeeper implements the keeper calls the server makes. Anything else
// panics through the nil embedded interface.
type mockKeeper struct {
	driving.Keeper

	doc         *domain.Document
	docs        []domain.Document
	version     *domain.Version
	nav         *domain.VersionNav
	find        *domain.FindResult
	put         *domain.PutResult
	collections []string
	err         error

	lastPut        domain.PutRequest
	lastFind       domain.FindRequest
	lastCollection string
}

func (m *mockKeeper) Put(_ context.Context, req domain.PutRequest) (*domain.PutResult, error) {
	m.lastPut = req
	return m.put, m.err
}

func (m *mockKeeper) Get(_ context.Context, collection, _ string) (*domain.Document, error) {
	m.lastCollection = collection
	return m.doc, m.err
}

func (m *mockKeeper) GetVersion(_ context.Context, _, _ string, _ int) (*domain.Version, error) {
	return m.version, m.err
}

func (m *mockKeeper) VersionNav(_ context.Context, _, _ string, offset int) (*domain.VersionNav, error) {
	if m.nav != nil {
		return m.nav, m.err
	}
	return &domain.VersionNav{Offset: offset}, m.err
}

func (m *mockKeeper) Find(_ context.Context, req domain.FindRequest) (*domain.FindResult, error) {
	m.lastFind = req
	if m.find == nil {
		return &domain.FindResult{Mode: domain.FindFulltext}, m.err
	}
	return m.find, m.err
}

func (m *mockKeeper) Tag(_ context.Context, _, _ string, _ map[string]string) (*domain.Document, error) {
	return m.doc, m.err
}

func (m *mockKeeper) Collections(_ context.Context) ([]string, error) {
	return m.collections, m.err
}

func (m *mockKeeper) ListRecent(_ context.Context, collection string, _ int, _ time.Time) ([]domain.Document, error) {
	m.lastCollection = collection
	return m.docs, m.err
}
