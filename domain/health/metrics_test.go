package health

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpforge/server/domain/mcp"
)

func TestCollectorExposesTaskAndElicitationGauges(t *testing.T) {
	tasks := mcp.NewTaskManager()
	elicitations := mcp.NewElicitationManager()

	tasks.Create(10000, nil, func(ctx context.Context, t *mcp.Task) { <-ctx.Done() })
	elicitations.Create("sess-1", "", "https://example.com", "", nil)
	elicitations.Create("sess-1", "", "https://example.com/2", "", nil)

	collector := NewCollector(tasks, elicitations)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	collector.Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "mcp_tasks_in_flight 1")
	assert.Contains(t, body, "mcp_elicitations_in_flight 2")
}
