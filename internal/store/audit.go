package store

import (
	"context"
	"net/http"

	"clinicbill/internal/types"
)

const auditLogsTable = "audit_logs"

// AuditRepo appends advisory billing audit entries. Append-only; nothing in
// this service reads the table back.
type AuditRepo struct {
	client *Client
}

// NewAuditRepo creates an AuditRepo backed by the given client.
func NewAuditRepo(client *Client) *AuditRepo {
	return &AuditRepo{client: client}
}

// Append writes a single audit entry.
func (r *AuditRepo) Append(ctx context.Context, entry types.AuditLogEntry) error {
	if entry.CreatedAt == "" {
		entry.CreatedAt = nowTimestamp()
	}
	_, err := r.client.Request(ctx, http.MethodPost, auditLogsTable, RequestOptions{
		Body: entry,
	})
	return err
}
