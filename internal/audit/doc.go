// Package audit implements the audit trail and security monitor (C8):
// a durable, append-only record of every authentication boundary
// crossing, a sparse secondary index over failed-auth events for
// brute-force detection, and a pure dashboard projection over the
// incidents that index surfaces.
//
// Only this package imports the DynamoDB SDK through internal/dynamo's
// re-exports — see CONTRIBUTING.md: "Only internal/audit/ may import
// aws-sdk-go-v2/service/dynamodb" (via internal/dynamo). It replaces the
// role internal/chatmgmt/adapter/dynamo_tx.go played before the chat
// surface was retired, adapted from a multi-item TransactWriteItems
// idiom to this package's single-item Put/Query idiom.
package audit

import "github.com/aelexs/authcore/internal/observability"

var tracer = observability.Tracer("authcore/audit")
