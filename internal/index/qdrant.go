package index

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Tracer for OpenTelemetry instrumentation.
var tracer = otel.Tracer("embedsync.index.qdrant")

// collectionNamePattern validates collection names.
var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// pointNamespace derives deterministic qdrant point UUIDs from logical ids,
// so re-upserting the same logical id always overwrites the same point.
var pointNamespace = uuid.MustParse("8e3f1c2a-5b6d-4e7f-9a0b-1c2d3e4f5a6b")

const (
	// payloadIDKey stores the logical embedding id in the point payload.
	payloadIDKey = "id"

	defaultMaxMessageSize = 50 * 1024 * 1024
	defaultMaxRetries     = 3
	defaultRetryBackoff   = 500 * time.Millisecond
)

// QdrantConfig holds configuration for the qdrant-backed index client.
type QdrantConfig struct {
	// Host is the qdrant server hostname or IP address.
	Host string

	// Port is the qdrant gRPC port (6334 by default, not the HTTP 6333).
	Port int

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool

	// CollectionName is the collection holding all embeddings. Tenancy is
	// payload-based: every point carries organization_id.
	CollectionName string

	// VectorSize is the dimensionality of stored vectors. Must match the
	// embedding provider's output.
	VectorSize int

	// MaxMessageSize is the maximum gRPC message size in bytes.
	MaxMessageSize int

	// MaxRetries bounds retries of transient failures per operation.
	MaxRetries int

	// RetryBackoff is the first retry delay. Doubles on each attempt.
	RetryBackoff time.Duration
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = defaultMaxMessageSize
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = defaultRetryBackoff
	}
}

// Validate validates the configuration.
func (c QdrantConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host required", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port %d", ErrInvalidConfig, c.Port)
	}
	if c.CollectionName == "" || !collectionNamePattern.MatchString(c.CollectionName) {
		return fmt.Errorf("%w: collection name must match ^[a-z0-9_]{1,64}$, got %q", ErrInvalidConfig, c.CollectionName)
	}
	if c.VectorSize <= 0 {
		return fmt.Errorf("%w: vector size required", ErrInvalidConfig)
	}
	return nil
}

// IsTransientError reports whether an error is a transient provider failure
// (network timeout, temporary unavailability, rate limiting).
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	default:
		return false
	}
}

// Qdrant is a Client backed by qdrant's native gRPC transport.
type Qdrant struct {
	client *qdrant.Client
	config QdrantConfig
	logger *zap.Logger
}

// NewQdrant connects to qdrant and ensures the configured collection exists.
func NewQdrant(config QdrantConfig, logger *zap.Logger) (*Qdrant, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   config.Host,
		Port:   config.Port,
		UseTLS: config.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(config.MaxMessageSize),
				grpc.MaxCallSendMsgSize(config.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	q := &Qdrant{
		client: client,
		config: config,
		logger: logger.Named("qdrant"),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := client.HealthCheck(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: health check: %v", ErrConnectionFailed, err)
	}
	if err := q.ensureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}

	return q, nil
}

// Close closes the gRPC connection.
func (q *Qdrant) Close() error {
	if q.client != nil {
		return q.client.Close()
	}
	return nil
}

func (q *Qdrant) ensureCollection(ctx context.Context) error {
	_, err := q.client.GetCollectionInfo(ctx, q.config.CollectionName)
	if err == nil {
		return nil
	}
	if st, ok := status.FromError(err); !ok || st.Code() != grpccodes.NotFound {
		return fmt.Errorf("checking collection %s: %w", q.config.CollectionName, err)
	}

	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.config.CollectionName,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(q.config.VectorSize),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("creating collection %s: %w", q.config.CollectionName, err)
	}
	q.logger.Info("created collection",
		zap.String("collection", q.config.CollectionName),
		zap.Int("vector_size", q.config.VectorSize))
	return nil
}

// retryOperation retries an operation with exponential backoff. Only
// transient failures are retried; permanent failures return immediately.
func (q *Qdrant) retryOperation(ctx context.Context, operationName string, operation func() error) error {
	backoff := q.config.RetryBackoff

	for attempt := 0; attempt <= q.config.MaxRetries; attempt++ {
		err := operation()
		if err == nil {
			return nil
		}

		if !IsTransientError(err) {
			return fmt.Errorf("%s failed (permanent): %w", operationName, err)
		}

		if attempt == q.config.MaxRetries {
			return fmt.Errorf("%s failed after %d retries: %w", operationName, q.config.MaxRetries, err)
		}

		q.logger.Warn("transient index failure, retrying",
			zap.String("operation", operationName),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return fmt.Errorf("%s canceled: %w", operationName, ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
		}
	}
	return nil
}

// pointID maps a logical embedding id to its deterministic qdrant point id.
func pointID(logicalID string) *qdrant.PointId {
	return qdrant.NewIDUUID(uuid.NewSHA1(pointNamespace, []byte(logicalID)).String())
}

// Upsert writes points to the index, overwriting existing ids.
func (q *Qdrant) Upsert(ctx context.Context, points []Point) error {
	ctx, span := tracer.Start(ctx, "Qdrant.Upsert")
	defer span.End()
	span.SetAttributes(
		attribute.Int("point_count", len(points)),
		attribute.String("collection", q.config.CollectionName),
	)

	if len(points) == 0 {
		return nil
	}

	qdrantPoints := make([]*qdrant.PointStruct, len(points))
	for i, p := range points {
		payload := toQdrantPayload(p.Payload)
		payload[payloadIDKey] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: p.ID}}

		qdrantPoints[i] = &qdrant.PointStruct{
			Id:      pointID(p.ID),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: payload,
		}
	}

	err := q.retryOperation(ctx, "upsert", func() error {
		_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: q.config.CollectionName,
			Points:         qdrantPoints,
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("upserting %d points: %w", len(points), err)
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// Query returns up to topK nearest neighbors, restricted by exact-match
// payload conditions.
func (q *Qdrant) Query(ctx context.Context, vector []float32, topK int, filter map[string]string) ([]Scored, error) {
	ctx, span := tracer.Start(ctx, "Qdrant.Query")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", q.config.CollectionName),
		attribute.Int("top_k", topK),
	)

	if topK <= 0 {
		return nil, fmt.Errorf("%w: topK must be positive, got %d", ErrInvalidConfig, topK)
	}

	var qdrantFilter *qdrant.Filter
	if len(filter) > 0 {
		conditions := make([]*qdrant.Condition, 0, len(filter))
		for key, value := range filter {
			conditions = append(conditions, &qdrant.Condition{
				ConditionOneOf: &qdrant.Condition_Field{
					Field: &qdrant.FieldCondition{
						Key: key,
						Match: &qdrant.Match{
							MatchValue: &qdrant.Match_Keyword{Keyword: value},
						},
					},
				},
			})
		}
		qdrantFilter = &qdrant.Filter{Must: conditions}
	}

	var results []*qdrant.ScoredPoint
	err := q.retryOperation(ctx, "query", func() error {
		var err error
		results, err = q.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: q.config.CollectionName,
			Query:          qdrant.NewQuery(vector...),
			Limit:          qdrant.PtrOf(uint64(topK)),
			WithPayload:    qdrant.NewWithPayload(true),
			Filter:         qdrantFilter,
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying collection %s: %w", q.config.CollectionName, err)
	}

	scored := make([]Scored, 0, len(results))
	for _, point := range results {
		payload := fromQdrantPayload(point.Payload)
		scored = append(scored, Scored{
			ID:      stringPayload(payload, payloadIDKey),
			Score:   point.Score,
			Payload: payload,
		})
	}

	span.SetAttributes(attribute.Int("results_count", len(scored)))
	span.SetStatus(codes.Ok, "success")
	return scored, nil
}

// Fetch retrieves points by logical id. Missing ids are omitted.
func (q *Qdrant) Fetch(ctx context.Context, ids []string, withVectors bool) ([]Record, error) {
	ctx, span := tracer.Start(ctx, "Qdrant.Fetch")
	defer span.End()
	span.SetAttributes(
		attribute.Int("id_count", len(ids)),
		attribute.Bool("with_vectors", withVectors),
	)

	if len(ids) == 0 {
		return nil, nil
	}

	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = pointID(id)
	}

	var points []*qdrant.RetrievedPoint
	err := q.retryOperation(ctx, "fetch", func() error {
		var err error
		points, err = q.client.Get(ctx, &qdrant.GetPoints{
			CollectionName: q.config.CollectionName,
			Ids:            pointIDs,
			WithPayload:    qdrant.NewWithPayload(true),
			WithVectors:    qdrant.NewWithVectors(withVectors),
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("fetching %d points: %w", len(ids), err)
	}

	records := make([]Record, 0, len(points))
	for _, point := range points {
		payload := fromQdrantPayload(point.Payload)
		rec := Record{
			ID:      stringPayload(payload, payloadIDKey),
			Payload: payload,
		}
		if withVectors {
			if v := point.Vectors.GetVector(); v != nil {
				rec.Vector = v.Data
			}
		}
		records = append(records, rec)
	}

	span.SetAttributes(attribute.Int("found_count", len(records)))
	span.SetStatus(codes.Ok, "success")
	return records, nil
}

// Delete removes points by logical id.
func (q *Qdrant) Delete(ctx context.Context, ids []string) error {
	ctx, span := tracer.Start(ctx, "Qdrant.Delete")
	defer span.End()
	span.SetAttributes(attribute.Int("id_count", len(ids)))

	if len(ids) == 0 {
		return nil
	}

	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = pointID(id)
	}

	err := q.retryOperation(ctx, "delete", func() error {
		_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: q.config.CollectionName,
			Points: &qdrant.PointsSelector{
				PointsSelectorOneOf: &qdrant.PointsSelector_Points{
					Points: &qdrant.PointsIdsList{Ids: pointIDs},
				},
			},
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deleting %d points: %w", len(ids), err)
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// toQdrantPayload converts a payload map to qdrant values. Only scalar types
// are stored; anything else is dropped.
func toQdrantPayload(payload map[string]any) map[string]*qdrant.Value {
	out := make(map[string]*qdrant.Value, len(payload)+1)
	for k, v := range payload {
		switch val := v.(type) {
		case string:
			out[k] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: val}}
		case int:
			out[k] = &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(val)}}
		case int64:
			out[k] = &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: val}}
		case float64:
			out[k] = &qdrant.Value{Kind: &qdrant.Value_DoubleValue{DoubleValue: val}}
		case bool:
			out[k] = &qdrant.Value{Kind: &qdrant.Value_BoolValue{BoolValue: val}}
		}
	}
	return out
}

// fromQdrantPayload converts qdrant values back to a plain map.
func fromQdrantPayload(payload map[string]*qdrant.Value) map[string]any {
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		switch val := v.Kind.(type) {
		case *qdrant.Value_StringValue:
			out[k] = val.StringValue
		case *qdrant.Value_IntegerValue:
			out[k] = val.IntegerValue
		case *qdrant.Value_DoubleValue:
			out[k] = val.DoubleValue
		case *qdrant.Value_BoolValue:
			out[k] = val.BoolValue
		}
	}
	return out
}

func stringPayload(payload map[string]any, key string) string {
	if s, ok := payload[key].(string); ok {
		return s
	}
	return ""
}

// Ensure Qdrant implements Client.
var _ Client = (*Qdrant)(nil)
