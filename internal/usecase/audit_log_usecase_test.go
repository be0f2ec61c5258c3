package usecase

import (
	"context"
	"net/http"
	"testing"
	"time"

	"storefront/internal/domain/model"
	"storefront/internal/infra/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedAudit(t *testing.T, store *memory.Store, id, actor string, action model.AuditAction, rt model.AuditResourceType, at time.Time) {
	t.Helper()
	require.NoError(t, store.AuditLogs().Create(context.Background(), model.AuditLog{
		ID: id, ActorUserID: actor, Action: action, ResourceType: rt, ResourceID: "r-" + id, CreatedAt: at,
	}))
}

func TestAuditLogs_ListFilters(t *testing.T) {
	store := memory.NewStore()
	seedAudit(t, store, "1", "admin-1", model.AuditActionUpdateStock, model.AuditResourceProduct, fixedNow.Add(-2*time.Hour))
	seedAudit(t, store, "2", "admin-2", model.AuditActionUpdateOrderStatus, model.AuditResourceOrder, fixedNow.Add(-time.Hour))
	seedAudit(t, store, "3", "admin-1", model.AuditActionCreateProduct, model.AuditResourceProduct, fixedNow)
	uc := NewAuditLogUsecase(store.AuditLogs())
	ctx := context.Background()

	all, err := uc.List(ctx, AuditLogListInput{Limit: 50})
	require.NoError(t, err)
	require.Len(t, all.Items, 3)
	assert.Equal(t, "3", all.Items[0].ID)

	byActor, err := uc.List(ctx, AuditLogListInput{ActorUserID: "admin-1", ResourceType: "PRODUCT", Limit: 50})
	require.NoError(t, err)
	assert.Len(t, byActor.Items, 2)

	byAction, err := uc.List(ctx, AuditLogListInput{Action: "update_order_status", Limit: 50})
	require.NoError(t, err)
	require.Len(t, byAction.Items, 1)
	assert.Equal(t, "r-2", byAction.Items[0].ResourceID)

	from := fixedNow.Add(-90 * time.Minute)
	recent, err := uc.List(ctx, AuditLogListInput{From: &from, Limit: 50})
	require.NoError(t, err)
	assert.Len(t, recent.Items, 2)

	paged, err := uc.List(ctx, AuditLogListInput{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, paged.Items, 1)
	assert.Equal(t, "2", paged.Items[0].ID)
}

func TestAuditLogs_ListValidation(t *testing.T) {
	uc := NewAuditLogUsecase(memory.NewStore().AuditLogs())
	ctx := context.Background()

	_, err := uc.List(ctx, AuditLogListInput{Limit: 0})
	assertStatus(t, err, http.StatusBadRequest)
	_, err = uc.List(ctx, AuditLogListInput{Limit: 10, Offset: -1})
	assertStatus(t, err, http.StatusBadRequest)
	_, err = uc.List(ctx, AuditLogListInput{Limit: 10, Action: "DROP_TABLE"})
	assertStatus(t, err, http.StatusBadRequest)
	_, err = uc.List(ctx, AuditLogListInput{Limit: 10, ResourceType: "user"})
	assertStatus(t, err, http.StatusBadRequest)

	from, to := fixedNow, fixedNow.Add(-time.Hour)
	_, err = uc.List(ctx, AuditLogListInput{Limit: 10, From: &from, To: &to})
	assertStatus(t, err, http.StatusBadRequest)

	empty, err := uc.List(ctx, AuditLogListInput{Limit: 10})
	require.NoError(t, err)
	assert.NotNil(t, empty.Items)
	assert.Empty(t, empty.Items)
}
