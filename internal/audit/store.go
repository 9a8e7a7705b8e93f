package audit

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/aelexs/authcore/internal/domain"
	"github.com/aelexs/authcore/internal/dynamo"
)

// authFailPartition is the constant partition value every failed-auth
// audit event is indexed under on the gsi_auth_fail GSI, turning "all
// recent auth failures" into a single sparse Query instead of a table
// scan. Successful logins and non-auth events carry no gsi_auth_fail_pk
// attribute at all and so never appear in the index.
const authFailPartition = "AUTHFAIL"

// auditDynamoDB is the narrow interface Store depends on — mirroring
// chatmgmt's txDynamoDB, a consumer-defined subset the real SDK client
// satisfies structurally.
type auditDynamoDB interface {
	PutItem(ctx context.Context, params *dynamo.PutItemInput, optFns ...func(*dynamo.Options)) (*dynamo.PutItemOutput, error)
	Query(ctx context.Context, params *dynamo.QueryInput, optFns ...func(*dynamo.Options)) (*dynamo.QueryOutput, error)
}

// item is the DynamoDB row shape for one audit event. Kept distinct from
// domain.AuditEvent so storage concerns (the GSI key, attributevalue
// tags) never leak into the domain type.
type item struct {
	PK             string            `dynamodbav:"pk"`
	SK             string            `dynamodbav:"sk"`
	ID             string            `dynamodbav:"id"`
	Timestamp      int64             `dynamodbav:"timestamp"`
	Type           string            `dynamodbav:"event_type"`
	Severity       string            `dynamodbav:"severity"`
	Actor          string            `dynamodbav:"actor"`
	Action         string            `dynamodbav:"action"`
	Resource       string            `dynamodbav:"resource"`
	Success        bool              `dynamodbav:"success"`
	Error          string            `dynamodbav:"error,omitempty"`
	SourceIP       string            `dynamodbav:"source_ip,omitempty"`
	UserAgent      string            `dynamodbav:"user_agent,omitempty"`
	SessionID      string            `dynamodbav:"session_id,omitempty"`
	RequestID      string            `dynamodbav:"request_id,omitempty"`
	Metadata       map[string]string `dynamodbav:"metadata,omitempty"`
	AuthFailPK     string            `dynamodbav:"gsi_auth_fail_pk,omitempty"`
	AuthFailSK     int64             `dynamodbav:"gsi_auth_fail_sk,omitempty"`
}

// Store is the DynamoDB-backed audit event store.
type Store struct {
	db    auditDynamoDB
	table string
}

// NewStore creates a Store backed by db, writing to and querying table.
func NewStore(db auditDynamoDB, table string) *Store {
	return &Store{db: db, table: table}
}

// Record durably appends event. A failed, auth-typed event is additionally
// tagged onto the auth-failure GSI so DeriveIncidents can find it without
// scanning the whole table.
func (s *Store) Record(ctx context.Context, event domain.AuditEvent) error {
	ctx, span := tracer.Start(ctx, "audit.record")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "dynamodb"),
		attribute.String("audit.event_type", string(event.Type)),
		attribute.Bool("audit.success", event.Success),
	)

	row := item{
		PK:        "EVENT#" + event.ID,
		SK:        "EVENT#" + event.ID,
		ID:        event.ID,
		Timestamp: event.Timestamp.UnixNano(),
		Type:      string(event.Type),
		Severity:  string(event.Severity),
		Actor:     event.Actor,
		Action:    event.Action,
		Resource:  event.Resource,
		Success:   event.Success,
		Error:     event.Error,
		SourceIP:  event.SourceIP,
		UserAgent: event.UserAgent,
		SessionID: event.SessionID,
		RequestID: event.RequestID,
		Metadata:  event.Metadata,
	}
	if event.Type == domain.AuditTypeAuth && !event.Success {
		row.AuthFailPK = authFailPartition
		row.AuthFailSK = event.Timestamp.UnixNano()
	}

	av, err := dynamo.MarshalMap(row)
	if err != nil {
		return fmt.Errorf("%w: marshal audit event: %v", domain.ErrStorageError, err)
	}

	_, err = s.db.PutItem(ctx, &dynamo.PutItemInput{
		TableName: dynamo.String(s.table),
		Item:      av,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%w: put audit event: %v", domain.ErrStorageError, err)
	}
	return nil
}

// ListFailedAuthSince returns every failed authentication event recorded
// at or after since, via the sparse gsi_auth_fail index.
func (s *Store) ListFailedAuthSince(ctx context.Context, since time.Time) ([]domain.AuditEvent, error) {
	ctx, span := tracer.Start(ctx, "audit.list_failed_auth_since")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "dynamodb"))

	out, err := s.db.Query(ctx, &dynamo.QueryInput{
		TableName:              dynamo.String(s.table),
		IndexName:              dynamo.String("gsi_auth_fail"),
		KeyConditionExpression: dynamo.String("gsi_auth_fail_pk = :pk AND gsi_auth_fail_sk >= :since"),
		ExpressionAttributeValues: map[string]dynamo.AttributeValue{
			":pk":    &dynamo.AttributeValueMemberS{Value: authFailPartition},
			":since": &dynamo.AttributeValueMemberN{Value: fmt.Sprintf("%d", since.UnixNano())},
		},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: query failed auth events: %v", domain.ErrStorageError, err)
	}

	events := make([]domain.AuditEvent, 0, len(out.Items))
	for _, raw := range out.Items {
		var row item
		if err := dynamo.UnmarshalMap(raw, &row); err != nil {
			return nil, fmt.Errorf("%w: unmarshal audit event: %v", domain.ErrStorageError, err)
		}
		events = append(events, domain.AuditEvent{
			ID:        row.ID,
			Timestamp: time.Unix(0, row.Timestamp),
			Type:      domain.AuditEventType(row.Type),
			Severity:  domain.AuditSeverity(row.Severity),
			Actor:     row.Actor,
			Action:    row.Action,
			Resource:  row.Resource,
			Success:   row.Success,
			Error:     row.Error,
			SourceIP:  row.SourceIP,
			UserAgent: row.UserAgent,
			SessionID: row.SessionID,
			RequestID: row.RequestID,
			Metadata:  row.Metadata,
		})
	}
	return events, nil
}
