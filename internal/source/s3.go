package source

import (
	"context"
	"fmt"
	"io"
	"log"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/qualys/accessgraph/internal/models"
)

// S3Source reads collector output from an S3 prefix holding vertices.json
// and edges.json.
type S3Source struct {
	client *s3.Client
	bucket string
	prefix string
}

var _ Producer = (*S3Source)(nil)

type S3Config struct {
	Region string
	Bucket string
	Prefix string
}

func NewS3Source(ctx context.Context, cfg S3Config) (*S3Source, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	// Preflight: confirm we have a usable identity before touching the bucket.
	identity, err := sts.NewFromConfig(awsCfg).GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return nil, fmt.Errorf("verifying aws identity: %w", err)
	}
	if identity.Arn != nil {
		log.Printf("[source] aws identity: %s", *identity.Arn)
	}

	return &S3Source{
		client: s3.NewFromConfig(awsCfg),
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

func (s *S3Source) Records(ctx context.Context) ([]models.Vertex, []models.Edge, error) {
	vertexData, err := s.fetch(ctx, s.prefix+"vertices.json")
	if err != nil {
		return nil, nil, err
	}
	edgeData, err := s.fetch(ctx, s.prefix+"edges.json")
	if err != nil {
		return nil, nil, err
	}

	vertices, err := decodeVertices(vertexData)
	if err != nil {
		return nil, nil, err
	}
	edges, err := decodeEdges(edgeData)
	if err != nil {
		return nil, nil, err
	}

	log.Printf("[source] loaded %d vertices and %d edges from s3://%s/%s", len(vertices), len(edges), s.bucket, s.prefix)
	return vertices, edges, nil
}

func (s *S3Source) fetch(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("fetching s3://%s/%s: %w", s.bucket, key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("reading s3://%s/%s: %w", s.bucket, key, err)
	}
	return data, nil
}
