package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// CatalogItem is one entry of the item catalog. The catalog is the
// authority on which item ids exist and what they are called.
type CatalogItem struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	MaxStack int64  `json:"max_stack"`
}

type CatalogConfig struct {
	Key    string
	Secret string
	Region string
	Bucket string
	Object string
	File   string // local fallback when no bucket is configured
}

// CatalogService loads the item catalog from a Spaces bucket, or from a
// local file when no bucket is configured, and serves name lookups.
type CatalogService struct {
	mu    sync.RWMutex
	items map[int64]CatalogItem

	client *s3.Client
	cfg    CatalogConfig
}

func NewCatalogService(cfg CatalogConfig) *CatalogService {
	svc := &CatalogService{
		items: make(map[int64]CatalogItem),
		cfg:   cfg,
	}

	if cfg.Bucket != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			return aws.Endpoint{
				URL: fmt.Sprintf("https://%s.digitaloceanspaces.com", region),
			}, nil
		})

		awsCfg, err := config.LoadDefaultConfig(context.TODO(),
			config.WithEndpointResolverWithOptions(resolver),
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.Key, cfg.Secret, "")),
			config.WithRegion(cfg.Region),
		)
		if err != nil {
			panic(fmt.Sprintf("Unable to load Spaces config: %v", err))
		}
		svc.client = s3.NewFromConfig(awsCfg)
	}

	return svc
}

// Load fetches the catalog. Bucket first, local file as fallback, so a
// broken bucket read degrades to the last shipped catalog file.
func (s *CatalogService) Load(ctx context.Context) error {
	var data []byte
	var source string

	if s.client != nil {
		out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: &s.cfg.Bucket,
			Key:    &s.cfg.Object,
		})
		if err == nil {
			defer out.Body.Close()
			data, err = io.ReadAll(out.Body)
			if err != nil {
				return fmt.Errorf("failed to read catalog object: %w", err)
			}
			source = fmt.Sprintf("spaces://%s/%s", s.cfg.Bucket, s.cfg.Object)
		} else {
			slog.Warn("Failed to fetch catalog from bucket, trying local file",
				slog.String("bucket", s.cfg.Bucket),
				slog.String("error", err.Error()))
		}
	}

	if data == nil {
		if s.cfg.File == "" {
			return fmt.Errorf("no catalog source configured")
		}
		var err error
		data, err = os.ReadFile(s.cfg.File)
		if err != nil {
			return fmt.Errorf("failed to read catalog file: %w", err)
		}
		source = s.cfg.File
	}

	var items []CatalogItem
	if err := json.Unmarshal(data, &items); err != nil {
		return fmt.Errorf("failed to parse catalog: %w", err)
	}

	byID := make(map[int64]CatalogItem, len(items))
	for _, item := range items {
		byID[item.ID] = item
	}

	s.mu.Lock()
	s.items = byID
	s.mu.Unlock()

	slog.Info("Item catalog loaded",
		slog.String("type", "sys"),
		slog.String("source", source),
		slog.Int("items", len(byID)))

	return nil
}

// ItemName resolves an item id to its display name.
func (s *CatalogService) ItemName(itemID int64) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[itemID]
	if !ok {
		return "", false
	}
	return item.Name, true
}

func (s *CatalogService) Item(itemID int64) (CatalogItem, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[itemID]
	return item, ok
}

func (s *CatalogService) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}
