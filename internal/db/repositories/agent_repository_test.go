package repositories

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/agentdesk/agentdesk/internal/db/models"
	"github.com/jmoiron/sqlx"
)

var agentCols = []string{
	"id", "name", "description", "instructions", "avatar", "model", "temperature", "max_tokens",
	"webhook_url", "assistant_id", "thread_expiry_hours", "custom_fields", "created_at", "updated_at",
}

func newAgentRepo(t *testing.T) (*AgentRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewAgentRepository(sqlx.NewDb(db, "sqlmock")), mock
}

func sampleAgentRows() *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(agentCols).
		AddRow("agent-1", "Ana", "Helper", "Be kind", nil, "gpt-4o-mini", 0.7, 1000,
			"https://x/webhook", nil, 24, []byte(`[{"key":"tone","label":"Tone","value":"warm"}]`), now, now)
}

func TestCreateAgent(t *testing.T) {
	repo, mock := newAgentRepo(t)
	mock.ExpectExec("INSERT INTO agents").
		WillReturnResult(sqlmock.NewResult(1, 1))

	a := &models.Agent{Name: "Ana", Model: "gpt-4o-mini", ThreadExpiryHours: 24}
	if err := repo.CreateAgent(context.Background(), a); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.ID == "" || a.CreatedAt.IsZero() {
		t.Errorf("agent = %+v", a)
	}
}

func TestGetAgent(t *testing.T) {
	repo, mock := newAgentRepo(t)
	mock.ExpectQuery(`SELECT \* FROM agents WHERE id`).
		WithArgs("agent-1").
		WillReturnRows(sampleAgentRows())

	a, err := repo.GetAgent(context.Background(), "agent-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Strategy() != models.StrategyWebhook {
		t.Errorf("Strategy() = %q, want webhook", a.Strategy())
	}
	if len(a.CustomFields) != 1 || a.CustomFields[0].Value != "warm" {
		t.Errorf("CustomFields = %+v", a.CustomFields)
	}
}

func TestGetAgent_NotFound(t *testing.T) {
	repo, mock := newAgentRepo(t)
	mock.ExpectQuery(`SELECT \* FROM agents WHERE id`).
		WillReturnRows(sqlmock.NewRows(agentCols))

	a, err := repo.GetAgent(context.Background(), "missing")
	if err != nil || a != nil {
		t.Errorf("GetAgent() = %v, %v; want nil, nil", a, err)
	}
}

func TestListAgents(t *testing.T) {
	repo, mock := newAgentRepo(t)
	mock.ExpectQuery(`SELECT \* FROM agents ORDER BY created_at`).
		WillReturnRows(sampleAgentRows())

	agents, err := repo.ListAgents(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(agents) != 1 || agents[0].Name != "Ana" {
		t.Errorf("agents = %+v", agents)
	}
}

func TestUpdateAgent(t *testing.T) {
	repo, mock := newAgentRepo(t)
	mock.ExpectExec("UPDATE agents SET").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE agents SET").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.UpdateAgent(context.Background(), &models.Agent{ID: "agent-1"})
	if err != nil || !ok {
		t.Errorf("UpdateAgent(existing) = %v, %v", ok, err)
	}
	ok, err = repo.UpdateAgent(context.Background(), &models.Agent{ID: "missing"})
	if err != nil || ok {
		t.Errorf("UpdateAgent(missing) = %v, %v", ok, err)
	}
}

func TestSetAssistantID(t *testing.T) {
	repo, mock := newAgentRepo(t)
	mock.ExpectExec("UPDATE agents SET assistant_id").
		WithArgs("agent-1", "asst_1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.SetAssistantID(context.Background(), "agent-1", "asst_1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDeleteAgent(t *testing.T) {
	repo, mock := newAgentRepo(t)
	mock.ExpectExec("DELETE FROM agents").
		WithArgs("agent-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := repo.DeleteAgent(context.Background(), "agent-1")
	if err != nil || !ok {
		t.Errorf("DeleteAgent() = %v, %v", ok, err)
	}
}
