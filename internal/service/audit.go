package service

import (
	"context"
	"fmt"

	"github.com/ayo6706/payment-aggregator/internal/domain"
	"github.com/ayo6706/payment-aggregator/internal/repository"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"
)

// orderTransition is one step of an order's lifecycle. From is empty for the
// creation step.
type orderTransition struct {
	OrderID uuid.UUID
	From    domain.OrderStatus
	To      domain.OrderStatus
	Detail  map[string]any
}

func (t orderTransition) action() string {
	if t.From == "" {
		return "created"
	}
	return "status_" + string(t.To)
}

// AuditService appends order transitions to the audit trail. Entries are
// written through the caller's transaction and share its fate.
type AuditService struct{}

func NewAuditService() *AuditService {
	return &AuditService{}
}

func (s *AuditService) Record(ctx context.Context, q repository.Querier, t orderTransition) error {
	var detail []byte
	if len(t.Detail) > 0 {
		var err error
		if detail, err = json.Marshal(t.Detail); err != nil {
			return fmt.Errorf("encode audit detail: %w", err)
		}
	}
	to := string(t.To)
	params := repository.InsertAuditLogParams{
		EntityType: domain.AuditEntityOrder,
		EntityID:   repository.ToPgUUID(t.OrderID),
		Action:     t.action(),
		NextState:  &to,
		Metadata:   detail,
	}
	if t.From != "" {
		from := string(t.From)
		params.PrevState = &from
	}
	if _, err := q.InsertAuditLog(ctx, params); err != nil {
		return fmt.Errorf("insert audit log for order %s: %w", t.OrderID, err)
	}
	return nil
}
