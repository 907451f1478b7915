package concepts

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/abhisek/tutorpolicy/internal/logger"
)

// Neo4jConfig locates the concept graph database.
type Neo4jConfig struct {
	URI      string
	User     string
	Password string
	Database string
	Timeout  time.Duration
	MaxDepth int
}

// Neo4jConfigFromEnv reads NEO4J_* variables. ok is false when NEO4J_URI
// is unset.
func Neo4jConfigFromEnv() (cfg Neo4jConfig, ok bool) {
	cfg.URI = strings.TrimSpace(os.Getenv("NEO4J_URI"))
	if cfg.URI == "" {
		return cfg, false
	}
	cfg.User = strings.TrimSpace(os.Getenv("NEO4J_USER"))
	if cfg.User == "" {
		cfg.User = "neo4j"
	}
	cfg.Password = strings.TrimSpace(os.Getenv("NEO4J_PASSWORD"))
	cfg.Database = strings.TrimSpace(os.Getenv("NEO4J_DATABASE"))

	cfg.Timeout = 10 * time.Second
	if v := strings.TrimSpace(os.Getenv("NEO4J_TIMEOUT_SECONDS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Timeout = time.Duration(n) * time.Second
		}
	}
	cfg.MaxDepth = DefaultMaxDepth
	return cfg, true
}

// Neo4jLookup resolves chains by traversing PREREQUISITE_OF relationships
// between (:Concept {name}) nodes.
type Neo4jLookup struct {
	driver   neo4j.DriverWithContext
	database string
	maxDepth int
	timeout  time.Duration
	log      *logger.Logger
}

// NewNeo4jLookup connects and verifies connectivity.
func NewNeo4jLookup(ctx context.Context, cfg Neo4jConfig, log *logger.Logger) (*Neo4jLookup, error) {
	if log == nil {
		log = logger.Nop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = DefaultMaxDepth
	}

	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.User, cfg.Password, ""), func(c *neo4j.Config) {
		c.SocketConnectTimeout = cfg.Timeout
	})
	if err != nil {
		return nil, fmt.Errorf("concepts: init neo4j driver: %w", err)
	}

	vctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	if err := driver.VerifyConnectivity(vctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("concepts: verify neo4j connectivity: %w", err)
	}

	return &Neo4jLookup{
		driver:   driver,
		database: cfg.Database,
		maxDepth: cfg.MaxDepth,
		timeout:  cfg.Timeout,
		log:      log.With("client", "Neo4jLookup"),
	}, nil
}

// NewNeo4jLookupFromEnv returns nil, nil when NEO4J_URI is unset.
func NewNeo4jLookupFromEnv(ctx context.Context, log *logger.Logger) (*Neo4jLookup, error) {
	cfg, ok := Neo4jConfigFromEnv()
	if !ok {
		return nil, nil
	}
	return NewNeo4jLookup(ctx, cfg, log)
}

// chainQuery orders ancestors farthest-first so prerequisites precede the
// concepts that need them. Variable-length bounds cannot be parameters.
func chainQuery(depth int) string {
	return fmt.Sprintf(`MATCH path = (p:Concept)-[:PREREQUISITE_OF*0..%d]->(c:Concept {name: $name})
RETURN p.name AS name, max(length(path)) AS dist
ORDER BY dist DESC, name`, depth)
}

func (l *Neo4jLookup) Chain(ctx context.Context, concepts []string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	query := chainQuery(l.maxDepth)
	var out []string
	seen := make(map[string]bool)
	for _, name := range Dedupe(concepts) {
		res, err := neo4j.ExecuteQuery(ctx, l.driver, query,
			map[string]any{"name": name},
			neo4j.EagerResultTransformer,
			neo4j.ExecuteQueryWithDatabase(l.database),
			neo4j.ExecuteQueryWithReadersRouting(),
		)
		if err != nil {
			return nil, fmt.Errorf("prerequisite chain for %q: %w", name, err)
		}

		names := make([]string, 0, len(res.Records)+1)
		for _, rec := range res.Records {
			v, ok := rec.Get("name")
			if !ok {
				continue
			}
			if s, ok := v.(string); ok && s != "" {
				names = append(names, s)
			}
		}
		l.log.Debug("prerequisite chain resolved", "concept", name, "count", len(names))

		for _, n := range append(names, name) {
			if !seen[n] {
				seen[n] = true
				out = append(out, n)
			}
		}
	}
	return out, nil
}

// Close releases the driver.
func (l *Neo4jLookup) Close(ctx context.Context) error {
	if l == nil || l.driver == nil {
		return nil
	}
	err := l.driver.Close(ctx)
	l.driver = nil
	return err
}
