package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/qualys/accessgraph/internal/models"
)

var (
	firstNames = []string{"John", "Jane", "Michael", "Emily", "David", "Sarah", "Robert", "Lisa", "William", "Jennifer", "James", "Maria", "Charles", "Patricia", "Thomas", "Linda", "Daniel", "Elizabeth", "Matthew", "Barbara"}
	lastNames  = []string{"Smith", "Johnson", "Williams", "Brown", "Jones", "Garcia", "Miller", "Davis", "Rodriguez", "Martinez", "Hernandez", "Lopez", "Gonzalez", "Wilson", "Anderson", "Thomas", "Taylor", "Moore", "Jackson", "Martin"}

	groupNames = []string{"platform-engineering", "data-science", "sre", "security", "finance-ops", "release-managers", "contractors", "analytics", "ml-infra", "support-tier2"}

	environments = []string{"prod", "prod", "dev", "test", "stage", "sandbox"}

	permissionSetNames = []string{
		"AdministratorAccess", "PowerUserAccess", "ReadOnlyAccess",
		"SecurityAudit", "BillingView", "DataEngineerAccess",
		"SystemAdministrator", "ViewOnlyAccess", "DeveloperAccess",
	}
)

func main() {
	rand.Seed(time.Now().UnixNano())

	outputDir := "graph_data"
	if len(os.Args) > 1 {
		outputDir = os.Args[1]
	}
	os.MkdirAll(outputDir, 0755)

	fmt.Println("Generating sample access graph...")

	var vertices []models.Vertex
	var edges []models.Edge
	now := time.Now().UTC().Format(time.RFC3339)

	// Accounts
	accountIDs := make([]string, 0, 20)
	for i := 0; i < 20; i++ {
		id := fmt.Sprintf("acct-%04d", i)
		env := environments[rand.Intn(len(environments))]
		accountIDs = append(accountIDs, id)
		vertices = append(vertices, models.Vertex{
			ID:    id,
			Label: models.LabelAccount,
			Properties: map[string]string{
				models.PropAccountID:      id,
				models.PropAccountName:    fmt.Sprintf("%s-workload-%d", env, i),
				models.PropEnvironmentTag: env,
				models.PropTimestamp:      now,
			},
		})
	}

	// Permission sets
	psIDs := make([]string, 0, len(permissionSetNames))
	for i, name := range permissionSetNames {
		id := fmt.Sprintf("ps-%03d", i)
		psIDs = append(psIDs, id)
		vertices = append(vertices, models.Vertex{
			ID:    id,
			Label: models.LabelPermissionSet,
			Properties: map[string]string{
				models.PropPermissionSetID: id,
				models.PropName:            name,
				models.PropTimestamp:       now,
			},
		})
	}

	// Groups, with a few nested memberships
	groupIDs := make([]string, 0, len(groupNames))
	for i, name := range groupNames {
		id := fmt.Sprintf("grp-%03d", i)
		groupIDs = append(groupIDs, id)
		vertices = append(vertices, models.Vertex{
			ID:    id,
			Label: models.LabelGroup,
			Properties: map[string]string{
				models.PropGroupID:   id,
				models.PropName:      name,
				models.PropTimestamp: now,
			},
		})
	}
	for i := 1; i < len(groupIDs); i += 3 {
		edges = append(edges, models.Edge{
			From: groupIDs[i], To: groupIDs[i-1], Label: models.EdgeMemberOf,
			Properties: map[string]string{models.PropTimestamp: now},
		})
	}

	// Users with memberships and direct grants
	for i := 0; i < 100; i++ {
		first := firstNames[rand.Intn(len(firstNames))]
		last := lastNames[rand.Intn(len(lastNames))]
		id := fmt.Sprintf("usr-%05d", i)
		vertices = append(vertices, models.Vertex{
			ID:    id,
			Label: models.LabelUser,
			Properties: map[string]string{
				models.PropUserID:    id,
				models.PropUserName:  fmt.Sprintf("%s.%s", strings.ToLower(first), strings.ToLower(last)),
				models.PropEmail:     fmt.Sprintf("%s.%s%d@example.com", strings.ToLower(first), strings.ToLower(last), i),
				models.PropTimestamp: now,
			},
		})

		for _, g := range pick(groupIDs, 1+rand.Intn(2)) {
			edges = append(edges, models.Edge{
				From: id, To: g, Label: models.EdgeMemberOf,
				Properties: map[string]string{models.PropTimestamp: now},
			})
		}
		for _, acct := range pick(accountIDs, 1+rand.Intn(4)) {
			ps := psIDs[rand.Intn(len(psIDs))]
			edges = append(edges, models.Edge{
				From: id, To: acct, Label: models.EdgeHasAccount,
				Properties: map[string]string{
					models.PropPermissionSetID: ps,
					models.PropTimestamp:       now,
				},
			})
			edges = append(edges, models.Edge{
				From: id, To: ps, Label: models.EdgeAssignedPermissionSet,
				Properties: map[string]string{
					models.PropAccountID: acct,
					models.PropTimestamp: now,
				},
			})
		}
	}

	// Group-level account grants
	for _, g := range groupIDs {
		for _, acct := range pick(accountIDs, rand.Intn(3)) {
			edges = append(edges, models.Edge{
				From: g, To: acct, Label: models.EdgeHasAccount,
				Properties: map[string]string{models.PropTimestamp: now},
			})
		}
	}

	vertexData := mustMarshal(vertices)
	edgeData := mustMarshal(edges)
	writeFile(filepath.Join(outputDir, "vertices.json"), vertexData)
	writeFile(filepath.Join(outputDir, "edges.json"), edgeData)

	fmt.Printf("Wrote %d vertices and %d edges to %s/\n", len(vertices), len(edges), outputDir)

	if bucket := os.Getenv("ACCESSGRAPH_TEST_BUCKET"); bucket != "" {
		uploadToS3(bucket, vertexData, edgeData)
	}
}

func pick(from []string, n int) []string {
	if n > len(from) {
		n = len(from)
	}
	perm := rand.Perm(len(from))
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = from[perm[i]]
	}
	return out
}

func mustMarshal(v interface{}) []byte {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "marshal: %v\n", err)
		os.Exit(1)
	}
	return data
}

func writeFile(path string, data []byte) {
	if err := os.WriteFile(path, data, 0644); err != nil {
		fmt.Fprintf(os.Stderr, "writing %s: %v\n", path, err)
		os.Exit(1)
	}
}

func uploadToS3(bucket string, vertexData, edgeData []byte) {
	ctx := context.Background()
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading AWS config: %v\n", err)
		os.Exit(1)
	}
	client := s3.NewFromConfig(cfg)

	for name, data := range map[string][]byte{
		"graph_data/vertices.json": vertexData,
		"graph_data/edges.json":    edgeData,
	} {
		_, err := client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(name),
			Body:   bytes.NewReader(data),
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "uploading %s: %v\n", name, err)
			os.Exit(1)
		}
		fmt.Printf("Uploaded s3://%s/%s\n", bucket, name)
	}
}
