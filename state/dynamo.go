package state

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/pithecene-io/foreman/types"
)

// callTimeout bounds every individual store call.
const callTimeout = 10 * time.Second

// runIDIndex is the orders-table secondary index keyed by run_id, used for
// the per-run read the orchestrator performs on every pass.
const runIDIndex = "run_id-index"

// DynamoStore is the DynamoDB-backed Store implementation.
type DynamoStore struct {
	client *dynamodb.Client

	ordersTable string
	eventsTable string
	locksTable  string
}

// Tables names the three collections a DynamoStore operates on.
type Tables struct {
	Orders string
	Events string
	Locks  string
}

// NewDynamoStore creates a store over the given client and table names.
func NewDynamoStore(client *dynamodb.Client, tables Tables) *DynamoStore {
	return &DynamoStore{
		client:      client,
		ordersTable: tables.Orders,
		eventsTable: tables.Events,
		locksTable:  tables.Locks,
	}
}

// PutOrder inserts an order record, retrying transient failures.
func (s *DynamoStore) PutOrder(ctx context.Context, rec *types.OrderRecord) error {
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("marshal order: %w", err)
	}
	item["pk"] = &ddbtypes.AttributeValueMemberS{Value: rec.PK()}

	return withRetry(ctx, func() error {
		callCtx, cancel := context.WithTimeout(ctx, callTimeout)
		defer cancel()
		_, err := s.client.PutItem(callCtx, &dynamodb.PutItemInput{
			TableName: aws.String(s.ordersTable),
			Item:      item,
		})
		return wrapError("put_order", rec.PK(), err)
	})
}

// GetOrder fetches one order by its composite key.
func (s *DynamoStore) GetOrder(ctx context.Context, runID, orderNum string) (*types.OrderRecord, error) {
	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	pk := runID + ":" + orderNum
	out, err := s.client.GetItem(callCtx, &dynamodb.GetItemInput{
		TableName: aws.String(s.ordersTable),
		Key:       map[string]ddbtypes.AttributeValue{"pk": &ddbtypes.AttributeValueMemberS{Value: pk}},
	})
	if err != nil {
		return nil, wrapError("get_order", pk, err)
	}
	if out.Item == nil {
		return nil, &StoreError{Kind: ErrNotFound, Op: "get_order", Key: pk, Err: ErrNotFound}
	}

	var rec types.OrderRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal order %s: %w", pk, err)
	}
	return &rec, nil
}

// GetRunOrders queries the run_id index and returns orders sorted by
// order_num.
func (s *DynamoStore) GetRunOrders(ctx context.Context, runID string) ([]*types.OrderRecord, error) {
	keyCond := expression.Key("run_id").Equal(expression.Value(runID))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, fmt.Errorf("build run query: %w", err)
	}

	var orders []*types.OrderRecord
	var startKey map[string]ddbtypes.AttributeValue
	for {
		callCtx, cancel := context.WithTimeout(ctx, callTimeout)
		out, qerr := s.client.Query(callCtx, &dynamodb.QueryInput{
			TableName:                 aws.String(s.ordersTable),
			IndexName:                 aws.String(runIDIndex),
			KeyConditionExpression:    expr.KeyCondition(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
			ExclusiveStartKey:         startKey,
		})
		cancel()
		if qerr != nil {
			return nil, wrapError("get_run_orders", runID, qerr)
		}

		for _, item := range out.Items {
			var rec types.OrderRecord
			if err := attributevalue.UnmarshalMap(item, &rec); err != nil {
				return nil, fmt.Errorf("unmarshal order for run %s: %w", runID, err)
			}
			orders = append(orders, &rec)
		}

		if out.LastEvaluatedKey == nil {
			break
		}
		startKey = out.LastEvaluatedKey
	}

	sort.Slice(orders, func(i, j int) bool { return orders[i].OrderNum < orders[j].OrderNum })
	return orders, nil
}

// UpdateOrderStatus unconditionally sets status + last_update and merges
// extra fields. Retries transient failures; repeating the same terminal
// update is a no-op by construction.
func (s *DynamoStore) UpdateOrderStatus(ctx context.Context, runID, orderNum string, status types.Status, extra map[string]any) error {
	update := expression.
		Set(expression.Name("status"), expression.Value(string(status))).
		Set(expression.Name("last_update"), expression.Value(time.Now().Unix()))
	for k, v := range extra {
		update = update.Set(expression.Name(k), expression.Value(v))
	}

	expr, err := expression.NewBuilder().WithUpdate(update).Build()
	if err != nil {
		return fmt.Errorf("build status update: %w", err)
	}

	pk := runID + ":" + orderNum
	return withRetry(ctx, func() error {
		callCtx, cancel := context.WithTimeout(ctx, callTimeout)
		defer cancel()
		_, err := s.client.UpdateItem(callCtx, &dynamodb.UpdateItemInput{
			TableName:                 aws.String(s.ordersTable),
			Key:                       map[string]ddbtypes.AttributeValue{"pk": &ddbtypes.AttributeValueMemberS{Value: pk}},
			UpdateExpression:          expr.Update(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
		})
		return wrapError("update_order_status", pk, err)
	})
}

// PutEvent appends an audit event, retrying transient failures.
func (s *DynamoStore) PutEvent(ctx context.Context, ev *types.OrderEvent) error {
	item, err := attributevalue.MarshalMap(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	return withRetry(ctx, func() error {
		callCtx, cancel := context.WithTimeout(ctx, callTimeout)
		defer cancel()
		_, err := s.client.PutItem(callCtx, &dynamodb.PutItemInput{
			TableName: aws.String(s.eventsTable),
			Item:      item,
		})
		return wrapError("put_event", ev.SK, err)
	})
}

// QueryByTrace returns events for a trace, optionally prefix-filtered on
// the sort key.
func (s *DynamoStore) QueryByTrace(ctx context.Context, traceID, orderNamePrefix string) ([]*types.OrderEvent, error) {
	keyCond := expression.Key("trace_id").Equal(expression.Value(traceID))
	if orderNamePrefix != "" {
		keyCond = keyCond.And(expression.Key("sk").BeginsWith(orderNamePrefix + ":"))
	}
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, fmt.Errorf("build trace query: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	out, err := s.client.Query(callCtx, &dynamodb.QueryInput{
		TableName:                 aws.String(s.eventsTable),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		return nil, wrapError("query_by_trace", traceID, err)
	}

	events := make([]*types.OrderEvent, 0, len(out.Items))
	for _, item := range out.Items {
		var ev types.OrderEvent
		if err := attributevalue.UnmarshalMap(item, &ev); err != nil {
			return nil, fmt.Errorf("unmarshal event for trace %s: %w", traceID, err)
		}
		events = append(events, &ev)
	}
	return events, nil
}

// LatestEvent returns the most recent event for an order.
func (s *DynamoStore) LatestEvent(ctx context.Context, traceID, orderName string) (*types.OrderEvent, error) {
	keyCond := expression.Key("trace_id").Equal(expression.Value(traceID)).
		And(expression.Key("sk").BeginsWith(orderName + ":"))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, fmt.Errorf("build latest query: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	out, err := s.client.Query(callCtx, &dynamodb.QueryInput{
		TableName:                 aws.String(s.eventsTable),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ScanIndexForward:          aws.Bool(false),
		Limit:                     aws.Int32(1),
	})
	if err != nil {
		return nil, wrapError("latest_event", traceID+"/"+orderName, err)
	}
	if len(out.Items) == 0 {
		return nil, &StoreError{Kind: ErrNotFound, Op: "latest_event", Key: traceID + "/" + orderName, Err: ErrNotFound}
	}

	var ev types.OrderEvent
	if err := attributevalue.UnmarshalMap(out.Items[0], &ev); err != nil {
		return nil, fmt.Errorf("unmarshal latest event: %w", err)
	}
	return &ev, nil
}

// AcquireLock performs the conditional put. Contention surfaces as
// ErrConditionFailed and is never retried; transient faults are.
func (s *DynamoStore) AcquireLock(ctx context.Context, lock *types.LockRecord) error {
	item, err := attributevalue.MarshalMap(lock)
	if err != nil {
		return fmt.Errorf("marshal lock: %w", err)
	}
	item["pk"] = &ddbtypes.AttributeValueMemberS{Value: types.LockPK(lock.RunID)}

	cond := expression.AttributeNotExists(expression.Name("pk")).
		Or(expression.Name("state").Equal(expression.Value(types.LockCompleted)))
	expr, err := expression.NewBuilder().WithCondition(cond).Build()
	if err != nil {
		return fmt.Errorf("build lock condition: %w", err)
	}

	return withRetry(ctx, func() error {
		callCtx, cancel := context.WithTimeout(ctx, callTimeout)
		defer cancel()
		_, err := s.client.PutItem(callCtx, &dynamodb.PutItemInput{
			TableName:                 aws.String(s.locksTable),
			Item:                      item,
			ConditionExpression:       expr.Condition(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
		})
		return wrapError("acquire_lock", lock.RunID, err)
	})
}

// ReleaseLock unconditionally marks the lock completed.
func (s *DynamoStore) ReleaseLock(ctx context.Context, runID string) error {
	update := expression.Set(expression.Name("state"), expression.Value(types.LockCompleted))
	expr, err := expression.NewBuilder().WithUpdate(update).Build()
	if err != nil {
		return fmt.Errorf("build lock release: %w", err)
	}

	return withRetry(ctx, func() error {
		callCtx, cancel := context.WithTimeout(ctx, callTimeout)
		defer cancel()
		_, err := s.client.UpdateItem(callCtx, &dynamodb.UpdateItemInput{
			TableName:                 aws.String(s.locksTable),
			Key:                       map[string]ddbtypes.AttributeValue{"pk": &ddbtypes.AttributeValueMemberS{Value: types.LockPK(runID)}},
			UpdateExpression:          expr.Update(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
		})
		return wrapError("release_lock", runID, err)
	})
}

// GetLock fetches the current lock row.
func (s *DynamoStore) GetLock(ctx context.Context, runID string) (*types.LockRecord, error) {
	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	out, err := s.client.GetItem(callCtx, &dynamodb.GetItemInput{
		TableName: aws.String(s.locksTable),
		Key:       map[string]ddbtypes.AttributeValue{"pk": &ddbtypes.AttributeValueMemberS{Value: types.LockPK(runID)}},
	})
	if err != nil {
		return nil, wrapError("get_lock", runID, err)
	}
	if out.Item == nil {
		return nil, &StoreError{Kind: ErrNotFound, Op: "get_lock", Key: runID, Err: ErrNotFound}
	}

	var lock types.LockRecord
	if err := attributevalue.UnmarshalMap(out.Item, &lock); err != nil {
		return nil, fmt.Errorf("unmarshal lock %s: %w", runID, err)
	}
	return &lock, nil
}

// Verify DynamoStore implements Store.
var _ Store = (*DynamoStore)(nil)
