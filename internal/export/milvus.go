package export

import (
	"context"
	"fmt"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
)

// DefaultCollection holds transaction risk vectors.
const DefaultCollection = "transaction_vectors"

const (
	fieldID       = "transaction_id"
	fieldFeatures = "features"
	fieldCategory = "product_category"
	fieldScore    = "fraud_score"
	fieldFraud    = "is_fraudulent"
)

// MilvusConfig configures the vector sink.
type MilvusConfig struct {
	Address    string
	Username   string
	Password   string
	Collection string
	Shards     int
	// Dimension is the risk feature count.
	Dimension int
}

// MilvusSink loads transaction vectors into a Milvus collection so similar
// transactions can be looked up by their risk profile.
type MilvusSink struct {
	conn client.Client
	cfg  MilvusConfig
}

// NewMilvusSink connects and makes sure the collection exists.
func NewMilvusSink(ctx context.Context, cfg MilvusConfig) (*MilvusSink, error) {
	if cfg.Collection == "" {
		cfg.Collection = DefaultCollection
	}
	if cfg.Shards <= 0 {
		cfg.Shards = 2
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("export: vector dimension must be positive, got %d", cfg.Dimension)
	}

	clientCfg := client.Config{Address: cfg.Address}
	if cfg.Username != "" && cfg.Password != "" {
		clientCfg.Username = cfg.Username
		clientCfg.Password = cfg.Password
	}

	conn, err := client.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to milvus: %w", err)
	}

	s := &MilvusSink{conn: conn, cfg: cfg}
	if err := s.ensureCollection(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *MilvusSink) ensureCollection(ctx context.Context) error {
	exists, err := s.conn.HasCollection(ctx, s.cfg.Collection)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if exists {
		return nil
	}

	if err := s.conn.CreateCollection(ctx, collectionSchema(s.cfg.Collection, s.cfg.Dimension), int32(s.cfg.Shards)); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}
	return nil
}

func collectionSchema(name string, dim int) *entity.Schema {
	return &entity.Schema{
		CollectionName: name,
		Description:    "Transaction risk feature vectors",
		Fields: []*entity.Field{
			{
				Name:       fieldID,
				DataType:   entity.FieldTypeVarChar,
				PrimaryKey: true,
				AutoID:     false,
				TypeParams: map[string]string{
					"max_length": "64",
				},
			},
			{
				Name:     fieldFeatures,
				DataType: entity.FieldTypeFloatVector,
				TypeParams: map[string]string{
					"dim": fmt.Sprintf("%d", dim),
				},
			},
			{
				Name:     fieldCategory,
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "64",
				},
			},
			{
				Name:     fieldScore,
				DataType: entity.FieldTypeFloat,
			},
			{
				Name:     fieldFraud,
				DataType: entity.FieldTypeBool,
			},
		},
	}
}

// Write inserts a batch of vectors.
func (s *MilvusSink) Write(ctx context.Context, batch []Record) error {
	if len(batch) == 0 {
		return nil
	}

	columns, err := vectorColumns(batch, s.cfg.Dimension)
	if err != nil {
		return err
	}

	if _, err := s.conn.Insert(ctx, s.cfg.Collection, "", columns...); err != nil {
		return fmt.Errorf("failed to insert: %w", err)
	}
	return nil
}

func vectorColumns(batch []Record, dim int) ([]entity.Column, error) {
	ids := make([]string, len(batch))
	vectors := make([][]float32, len(batch))
	categories := make([]string, len(batch))
	scores := make([]float32, len(batch))
	labels := make([]bool, len(batch))

	for i, r := range batch {
		if len(r.Vector) != dim {
			return nil, fmt.Errorf("export: record %s has %d features, collection expects %d",
				r.Transaction.ID, len(r.Vector), dim)
		}
		ids[i] = r.Transaction.ID
		vectors[i] = r.Vector
		categories[i] = r.Transaction.ProductCategory
		scores[i] = float32(r.FraudScore)
		labels[i] = r.IsFraudulent
	}

	return []entity.Column{
		entity.NewColumnVarChar(fieldID, ids),
		entity.NewColumnFloatVector(fieldFeatures, dim, vectors),
		entity.NewColumnVarChar(fieldCategory, categories),
		entity.NewColumnFloat(fieldScore, scores),
		entity.NewColumnBool(fieldFraud, labels),
	}, nil
}

// Finish flushes inserted data and builds the vector index.
func (s *MilvusSink) Finish(ctx context.Context) error {
	if err := s.conn.Flush(ctx, s.cfg.Collection, false); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	idx, err := entity.NewIndexIvfFlat(entity.L2, 128)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	if err := s.conn.CreateIndex(ctx, s.cfg.Collection, fieldFeatures, idx, false); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	return nil
}

// Close closes the connection.
func (s *MilvusSink) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
