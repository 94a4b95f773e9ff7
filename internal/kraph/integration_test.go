//go:build integration
// +build integration

package kraph

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"kraph/core/internal/age"
	"kraph/core/internal/db"
	"kraph/core/internal/kgerr"
)

const ageImage = "apache/age:release_PG16_1.5.0"

// setupAGE starts a PostgreSQL container with Apache AGE and returns a
// service over it backed by an in-memory catalogue.
func setupAGE(t *testing.T, ctx context.Context) *Service {
	t.Helper()

	provider, err := testcontainers.ProviderDocker.GetProvider()
	if err != nil {
		t.Skip("Docker not available, skipping integration test")
	}
	if err := provider.Health(ctx); err != nil {
		t.Skip("Docker not running, skipping integration test")
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        ageImage,
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "postgres",
				"POSTGRES_PASSWORD": "postgres",
				"POSTGRES_DB":       "kraph",
			},
			WaitingFor: wait.ForAll(
				wait.ForListeningPort("5432/tcp"),
				wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
			).WithDeadline(120 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("Failed to start AGE container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	pool, err := age.Open(ctx, age.Config{
		DSN:              fmt.Sprintf("postgres://postgres:postgres@%s:%s/kraph?sslmode=disable", host, port.Port()),
		MaxOpenConns:     4,
		StatementTimeout: 30 * time.Second,
		Retries:          2,
	})
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })
	_, err = pool.DB().ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS age")
	require.NoError(t, err)

	catalog, err := db.OpenDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { catalog.Close() })

	return New(catalog, pool)
}

func TestIntegration_EndToEnd(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	svc := setupAGE(t, ctx)

	g, err := svc.CreateGraph(ctx, GraphInput{Name: "Lab A", Owner: "tester"})
	require.NoError(t, err)
	assert.Equal(t, "lab_a", g.AgeName)

	newCategory := func(in CategoryInput) *db.Category {
		t.Helper()
		in.GraphID = g.ID
		c, err := svc.CreateCategory(ctx, in)
		require.NoError(t, err)
		return c
	}

	cell := newCategory(CategoryInput{Kind: db.KindEntity, Label: "Cell"})
	dye := newCategory(CategoryInput{Kind: db.KindReagent, Label: "Dye"})
	image := newCategory(CategoryInput{Kind: db.KindStructure, Structure: &db.StructureSpec{Identifier: "@mikro/image"}})
	stains := newCategory(CategoryInput{Kind: db.KindMeasurement, Label: "stains", Edge: &db.EdgeSpec{
		SourceDefinition: db.CategoryDefinition{CategoryFilters: []string{image.ID}},
		TargetDefinition: db.CategoryDefinition{CategoryFilters: []string{cell.ID}},
	}})
	area := newCategory(CategoryInput{Kind: db.KindMetric, Label: "Area", Metric: &db.MetricSpec{MetricKind: db.MetricNumber}})
	stain := newCategory(CategoryInput{Kind: db.KindProtocolEvent, Label: "Stain", Event: &db.EventSpec{
		SourceReagentRoles: []db.RoleDefinition{{
			Role:               "dye",
			CategoryDefinition: db.CategoryDefinition{DefaultUseActive: &dye.ID},
		}},
		TargetEntityRoles: []db.RoleDefinition{{
			Role:               "sample",
			CategoryDefinition: db.CategoryDefinition{CategoryFilters: []string{cell.ID}},
		}},
	}})

	var entity age.RetrievedEntity
	t.Run("entity upsert by external id", func(t *testing.T) {
		e1, err := svc.CreateEntity(ctx, EntityInput{CategoryID: cell.ID, Name: strPtr("c1"), ExternalID: strPtr("ext-1")})
		require.NoError(t, err)
		e2, err := svc.CreateEntity(ctx, EntityInput{CategoryID: cell.ID, Name: strPtr("c1b"), ExternalID: strPtr("ext-1")})
		require.NoError(t, err)
		assert.Equal(t, e1.ID, e2.ID)
		assert.Equal(t, "c1b", e2.Label())
		entity = e2
	})

	t.Run("measurement from structure", func(t *testing.T) {
		s, err := svc.CreateStructure(ctx, StructureInput{CategoryID: image.ID, Object: "566"})
		require.NoError(t, err)
		assert.Equal(t, "@mikro/image:566", s.Structure())

		r, err := svc.CreateMeasurement(ctx, EdgeInput{CategoryID: stains.ID, Source: s.NodeID(), Target: entity.NodeID()})
		require.NoError(t, err)
		assert.Equal(t, s.ID, r.LeftID)
		assert.Equal(t, entity.ID, r.RightID)
	})

	t.Run("metric describes its target", func(t *testing.T) {
		m, err := svc.CreateMetric(ctx, MetricInput{CategoryID: area.ID, Target: entity.NodeID(), Value: 12.5})
		require.NoError(t, err)
		assert.Equal(t, "METRIC", m.Type())

		sg, err := svc.GetNeighborsAndEdges(ctx, entity.NodeID(), Page{})
		require.NoError(t, err)
		assert.GreaterOrEqual(t, len(sg.Nodes), 3)
	})

	t.Run("protocol event uses the active reagent", func(t *testing.T) {
		_, err := svc.RecordProtocolEvent(ctx, EventInput{
			CategoryID: stain.ID,
			Targets:    []RoleMapping{{Key: "sample", Node: entity.NodeID()}},
		})
		assert.True(t, kgerr.Is(err, kgerr.KindRoleUnfilled), "got %v", err)

		d, err := svc.CreateReagent(ctx, EntityInput{CategoryID: dye.ID, Name: strPtr("DAPI"), SetActive: true})
		require.NoError(t, err)
		rec, err := svc.RecordProtocolEvent(ctx, EventInput{
			CategoryID: stain.ID,
			Targets:    []RoleMapping{{Key: "sample", Node: entity.NodeID()}},
		})
		require.NoError(t, err)
		require.Len(t, rec.InEdges, 1)
		assert.Equal(t, d.ID, rec.InEdges[0].LeftID)
		require.Len(t, rec.OutEdges, 1)
		assert.Equal(t, entity.ID, rec.OutEdges[0].RightID)
	})

	t.Run("saved path query renders", func(t *testing.T) {
		q, err := svc.SaveQuery(ctx, QueryInput{
			GraphID: g.ID, Name: "around", Kind: "PATH", Scope: "NODE",
			Body: "MATCH p=(n)-[]-() WHERE id(n) = $id RETURN p",
		})
		require.NoError(t, err)
		out, err := svc.RenderNodeQuery(ctx, q.ID, entity.NodeID())
		require.NoError(t, err)
		require.NotNil(t, out.Path)
		assert.NotEmpty(t, out.Path.Edges)
	})

	t.Run("mixed-case event sequence", func(t *testing.T) {
		split := newCategory(CategoryInput{Kind: db.KindNaturalEvent, Label: "Split", AutoCreateSequence: true})
		require.NotNil(t, split.SequenceName)
		assert.Equal(t, "splitEvent_sequence", *split.SequenceName)
		for want := int64(1); want <= 2; want++ {
			rec, err := svc.RecordNaturalEvent(ctx, EventInput{CategoryID: split.ID})
			require.NoError(t, err)
			seq, ok := rec.Event.Sequence()
			require.True(t, ok)
			assert.Equal(t, want, seq)
		}
	})

	t.Run("listing pages", func(t *testing.T) {
		nodes, err := svc.SelectAllEntities(ctx, g.ID, Page{Limit: 2})
		require.NoError(t, err)
		assert.Len(t, nodes, 2)
		latest, err := svc.SelectLatestNodes(ctx, g.ID, []db.Kind{db.KindProtocolEvent}, Page{})
		require.NoError(t, err)
		assert.Len(t, latest, 1)
	})

	require.NoError(t, svc.DeleteGraph(ctx, g.ID))
}
