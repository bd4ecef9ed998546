package firestore

import (
	"context"
	"errors"
	"maps"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/clovermart/api/internal/platform/pagination"
)

type contextKey string

const transactionContextKey contextKey = "github.com/clovermart/api/internal/repositories/firestore/tx"

// withTransaction stashes an active Firestore transaction on the context so
// repositories invoked inside Registry.RunInTx participate in the same commit.
func withTransaction(ctx context.Context, tx *firestore.Transaction) context.Context {
	return context.WithValue(ctx, transactionContextKey, tx)
}

func transactionFromContext(ctx context.Context) (*firestore.Transaction, bool) {
	if ctx == nil {
		return nil, false
	}
	tx, ok := ctx.Value(transactionContextKey).(*firestore.Transaction)
	if !ok || tx == nil {
		return nil, false
	}
	return tx, true
}

func cloneAnyMap(src map[string]any) map[string]any {
	if len(src) == 0 {
		return nil
	}
	return maps.Clone(src)
}

func chooseTime(primary time.Time, fallback time.Time) time.Time {
	if !primary.IsZero() {
		return primary.UTC()
	}
	if !fallback.IsZero() {
		return fallback.UTC()
	}
	return time.Time{}
}

func normalizeTimePointer(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	if value.IsZero() {
		return nil
	}
	ts := value.UTC()
	return &ts
}

func normalizeStringPointer(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

// List cursors carry the createdAt timestamp and document ID of the last item
// so the next page can resume after it.
func encodeListToken(ts time.Time, docID string) string {
	token, err := pagination.EncodeToken(pagination.Cursor{
		StartAfter: []any{ts.UTC().Format(time.RFC3339Nano), docID},
	})
	if err != nil {
		return ""
	}
	return token
}

func decodeListToken(token string) (time.Time, string, error) {
	cursor, err := pagination.DecodeToken(token)
	if err != nil {
		return time.Time{}, "", err
	}
	if len(cursor.StartAfter) != 2 {
		return time.Time{}, "", errors.New("invalid token structure")
	}
	rawTime, okTime := cursor.StartAfter[0].(string)
	docID, okID := cursor.StartAfter[1].(string)
	if !okTime || !okID {
		return time.Time{}, "", errors.New("invalid token structure")
	}
	ts, err := time.Parse(time.RFC3339Nano, rawTime)
	if err != nil {
		return time.Time{}, "", err
	}
	return ts, docID, nil
}

func normaliseFilterValues(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	normalized := make([]string, 0, len(values))
	seen := make(map[string]struct{})
	for _, value := range values {
		trimmed := strings.ToLower(strings.TrimSpace(value))
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		normalized = append(normalized, trimmed)
	}
	return normalized
}

// applyInFilter adds equality or in filters honouring Firestore's 10 value cap.
func applyInFilter(q firestore.Query, field string, values []string) firestore.Query {
	switch {
	case len(values) == 1:
		return q.Where(field, "==", values[0])
	case len(values) > 1:
		if len(values) > 10 {
			values = values[:10]
		}
		return q.Where(field, "in", values)
	default:
		return q
	}
}
