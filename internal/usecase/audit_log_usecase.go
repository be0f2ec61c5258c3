package usecase

import (
	"context"
	"net/http"
	"strings"
	"time"

	"storefront/internal/domain/model"
	repo "storefront/internal/repository"
)

// 管理者操作の履歴を見る
type AuditLogUsecase struct {
	logs repo.AuditLogRepository
}

func NewAuditLogUsecase(logs repo.AuditLogRepository) *AuditLogUsecase {
	return &AuditLogUsecase{logs: logs}
}

// GET /admin/audit-logs の入力（空は絞り込まない）
type AuditLogListInput struct {
	ActorUserID  string
	Action       string
	ResourceType string
	ResourceID   string
	From         *time.Time
	To           *time.Time
	Limit        int
	Offset       int
}

type AuditLogListOutput struct {
	Items  []model.AuditLog `json:"items"`
	Limit  int              `json:"limit"`
	Offset int              `json:"offset"`
}

func parseAuditAction(s string) (model.AuditAction, bool) {
	switch a := model.AuditAction(strings.ToUpper(strings.TrimSpace(s))); a {
	case model.AuditActionUpdateStock, model.AuditActionUpdateOrderStatus,
		model.AuditActionCreateProduct, model.AuditActionUpdateProduct, model.AuditActionDeleteProduct:
		return a, true
	}
	return "", false
}

func parseAuditResourceType(s string) (model.AuditResourceType, bool) {
	switch r := model.AuditResourceType(strings.ToLower(strings.TrimSpace(s))); r {
	case model.AuditResourceProduct, model.AuditResourceOrder:
		return r, true
	}
	return "", false
}

// List は新しい順に返す。
func (u *AuditLogUsecase) List(ctx context.Context, in AuditLogListInput) (AuditLogListOutput, error) {
	if in.Limit < 1 || in.Limit > 200 {
		return AuditLogListOutput{}, NewHTTPError(http.StatusBadRequest, "invalid limit")
	}
	if in.Offset < 0 {
		return AuditLogListOutput{}, NewHTTPError(http.StatusBadRequest, "invalid offset")
	}
	if in.From != nil && in.To != nil && in.To.Before(*in.From) {
		return AuditLogListOutput{}, NewHTTPError(http.StatusBadRequest, "to is before from")
	}

	f := repo.AuditLogFilter{
		ActorUserID: strings.TrimSpace(in.ActorUserID),
		ResourceID:  strings.TrimSpace(in.ResourceID),
		CreatedFrom: in.From,
		CreatedTo:   in.To,
		Limit:       in.Limit,
		Offset:      in.Offset,
	}
	if in.Action != "" {
		a, ok := parseAuditAction(in.Action)
		if !ok {
			return AuditLogListOutput{}, NewHTTPError(http.StatusBadRequest, "invalid action")
		}
		f.Action = &a
	}
	if in.ResourceType != "" {
		r, ok := parseAuditResourceType(in.ResourceType)
		if !ok {
			return AuditLogListOutput{}, NewHTTPError(http.StatusBadRequest, "invalid resource_type")
		}
		f.ResourceType = &r
	}

	logs, err := u.logs.List(ctx, f)
	if err != nil {
		return AuditLogListOutput{}, dbError(err)
	}
	if logs == nil {
		logs = []model.AuditLog{}
	}
	return AuditLogListOutput{Items: logs, Limit: in.Limit, Offset: in.Offset}, nil
}
