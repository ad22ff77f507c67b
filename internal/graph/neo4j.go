package graph

import (
	"context"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/engram-io/engram/internal/model"
)

// Neo4jStore implements Store on a Bolt connection.
type Neo4jStore struct {
	driver neo4j.DriverWithContext
}

// NewNeo4j connects and verifies the Bolt endpoint.
func NewNeo4j(ctx context.Context, uri, user, password string) (*Neo4jStore, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, err
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, err
	}
	return &Neo4jStore{driver: driver}, nil
}

func (s *Neo4jStore) write(ctx context.Context, cypher string, params map[string]any) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer func() { _ = session.Close(ctx) }()
	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return tx.Run(ctx, cypher, params)
	})
	return err
}

func (s *Neo4jStore) UpsertMemory(ctx context.Context, node MemoryNode) error {
	return s.write(ctx, `
        MERGE (m:Memory {memoryId: $memoryId})
        SET m.ownerId = $ownerId,
            m.content = $content,
            m.sentiment = $sentiment,
            m.creationTime = $creationTime
    `, map[string]any{
		"memoryId":     node.MemoryID,
		"ownerId":      node.OwnerID,
		"content":      node.Content,
		"sentiment":    node.Sentiment,
		"creationTime": node.CreationTime.UTC(),
	})
}

func (s *Neo4jStore) UpsertEntity(ctx context.Context, ownerID, name, kind string) error {
	return s.write(ctx, `
        MERGE (e:Entity {ownerId: $ownerId, name: $name})
        SET e.kind = $kind
    `, map[string]any{"ownerId": ownerID, "name": name, "kind": kind})
}

func (s *Neo4jStore) LinkMention(ctx context.Context, memoryID, ownerID, entity string) error {
	return s.write(ctx, `
        MATCH (m:Memory {memoryId: $memoryId})
        MERGE (e:Entity {ownerId: $ownerId, name: $entity})
        MERGE (m)-[:MENTIONS]->(e)
    `, map[string]any{"memoryId": memoryID, "ownerId": ownerID, "entity": entity})
}

func (s *Neo4jStore) UpsertRelation(ctx context.Context, edge RelationEdge) error {
	// Keep the stronger observation when the edge already exists.
	return s.write(ctx, `
        MERGE (a:Entity {ownerId: $ownerId, name: $subject})
        MERGE (b:Entity {ownerId: $ownerId, name: $object})
        MERGE (a)-[r:RELATES {relation: $relation}]->(b)
        SET r.weight = CASE WHEN r.weight IS NULL OR r.weight < $weight THEN $weight ELSE r.weight END,
            r.sentiment = $sentiment
    `, map[string]any{
		"ownerId":   edge.OwnerID,
		"subject":   edge.Subject,
		"object":    edge.Object,
		"relation":  edge.Relation,
		"weight":    edge.Weight,
		"sentiment": edge.Sentiment,
	})
}

func (s *Neo4jStore) HasMemory(ctx context.Context, memoryID string) (bool, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer func() { _ = session.Close(ctx) }()
	res, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
            MATCH (m:Memory {memoryId: $memoryId}) RETURN count(m) AS n
        `, map[string]any{"memoryId": memoryID})
		if err != nil {
			return nil, err
		}
		rec, err := result.Single(ctx)
		if err != nil {
			return nil, err
		}
		n, _ := rec.Get("n")
		return n, nil
	})
	if err != nil {
		return false, err
	}
	count, _ := res.(int64)
	return count > 0, nil
}

func (s *Neo4jStore) SampleMemoryIDs(ctx context.Context, n int) ([]string, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer func() { _ = session.Close(ctx) }()
	res, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
            MATCH (m:Memory) RETURN m.memoryId AS id ORDER BY rand() LIMIT $n
        `, map[string]any{"n": n})
		if err != nil {
			return nil, err
		}
		var ids []string
		for result.Next(ctx) {
			if id, ok := result.Record().Get("id"); ok {
				if str, ok := id.(string); ok {
					ids = append(ids, str)
				}
			}
		}
		return ids, result.Err()
	})
	if err != nil {
		return nil, err
	}
	ids, _ := res.([]string)
	return ids, nil
}

func (s *Neo4jStore) Expand(ctx context.Context, ownerID string, seedMemoryIDs []string, maxHops, limit int) (*Expansion, error) {
	// Memories sharing entities with the seeds, up to maxHops entity hops
	// away. Variable-length patterns cannot take a parameter for the
	// bound, so the bound is validated config, not user input.
	memQuery := `
        MATCH (seed:Memory)-[:MENTIONS]->(e:Entity {ownerId: $ownerId})
        WHERE seed.memoryId IN $seedIds
        MATCH (e)-[rels:RELATES*0..` + hopBound(maxHops) + `]-(e2:Entity {ownerId: $ownerId})
        MATCH (linked:Memory)-[:MENTIONS]->(e2)
        WHERE NOT linked.memoryId IN $seedIds AND linked.ownerId = $ownerId
        WITH linked, size(rels) AS hops,
             reduce(w = 1.0, r IN rels | w * r.weight) AS pathWeight
        RETURN linked.memoryId AS id, min(hops) AS hopDistance, max(pathWeight) AS weight
        ORDER BY hopDistance ASC, weight DESC
        LIMIT $limit
    `
	factQuery := `
        MATCH (seed:Memory)-[:MENTIONS]->(e:Entity {ownerId: $ownerId})
        WHERE seed.memoryId IN $seedIds
        MATCH (e)-[rels:RELATES*1..` + hopBound(maxHops) + `]-(other:Entity {ownerId: $ownerId})
        WITH last(rels) AS r, size(rels) AS hops
        MATCH (a:Entity)-[r]->(b:Entity)
        RETURN DISTINCT a.name AS subject, r.relation AS relation, b.name AS object,
               r.weight AS weight, min(hops) AS hopDistance
        ORDER BY hopDistance ASC, weight DESC
        LIMIT $limit
    `
	return s.expand(ctx, memQuery, factQuery, map[string]any{
		"ownerId": ownerID, "seedIds": seedMemoryIDs, "limit": limit,
	})
}

// ExpandFromEntities starts the walk at named entities rather than seed
// memories, so a query mentioning a known entity reaches the graph even
// when vector search returns nothing.
func (s *Neo4jStore) ExpandFromEntities(ctx context.Context, ownerID string, entities []string, maxHops, limit int) (*Expansion, error) {
	memQuery := `
        MATCH (e:Entity {ownerId: $ownerId})
        WHERE e.name IN $entities
        MATCH (e)-[rels:RELATES*0..` + hopBound(maxHops) + `]-(e2:Entity {ownerId: $ownerId})
        MATCH (linked:Memory)-[:MENTIONS]->(e2)
        WHERE linked.ownerId = $ownerId
        WITH linked, size(rels) AS hops,
             reduce(w = 1.0, r IN rels | w * r.weight) AS pathWeight
        RETURN linked.memoryId AS id, min(hops) AS hopDistance, max(pathWeight) AS weight
        ORDER BY hopDistance ASC, weight DESC
        LIMIT $limit
    `
	factQuery := `
        MATCH (e:Entity {ownerId: $ownerId})
        WHERE e.name IN $entities
        MATCH (e)-[rels:RELATES*1..` + hopBound(maxHops) + `]-(other:Entity {ownerId: $ownerId})
        WITH last(rels) AS r, size(rels) AS hops
        MATCH (a:Entity)-[r]->(b:Entity)
        RETURN DISTINCT a.name AS subject, r.relation AS relation, b.name AS object,
               r.weight AS weight, min(hops) AS hopDistance
        ORDER BY hopDistance ASC, weight DESC
        LIMIT $limit
    `
	return s.expand(ctx, memQuery, factQuery, map[string]any{
		"ownerId": ownerID, "entities": entities, "limit": limit,
	})
}

func (s *Neo4jStore) expand(ctx context.Context, memQuery, factQuery string, params map[string]any) (*Expansion, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer func() { _ = session.Close(ctx) }()

	exp := &Expansion{}
	_, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, memQuery, params)
		if err != nil {
			return nil, err
		}
		for result.Next(ctx) {
			rec := result.Record()
			id, _ := rec.Get("id")
			hops, _ := rec.Get("hopDistance")
			weight, _ := rec.Get("weight")
			lm := LinkedMemory{HopDistance: 1}
			if str, ok := id.(string); ok {
				lm.MemoryID = str
			}
			if h, ok := hops.(int64); ok && h > 0 {
				lm.HopDistance = int(h)
			}
			if w, ok := weight.(float64); ok {
				lm.Weight = w
			}
			exp.Memories = append(exp.Memories, lm)
		}
		if err := result.Err(); err != nil {
			return nil, err
		}

		result, err = tx.Run(ctx, factQuery, params)
		if err != nil {
			return nil, err
		}
		for result.Next(ctx) {
			rec := result.Record()
			fact := model.GraphFact{HopDistance: 1}
			if v, ok := rec.Get("subject"); ok {
				fact.Subject, _ = v.(string)
			}
			if v, ok := rec.Get("relation"); ok {
				fact.Relation, _ = v.(string)
			}
			if v, ok := rec.Get("object"); ok {
				fact.Object, _ = v.(string)
			}
			if v, ok := rec.Get("weight"); ok {
				fact.Weight, _ = v.(float64)
			}
			if v, ok := rec.Get("hopDistance"); ok {
				if h, ok := v.(int64); ok {
					fact.HopDistance = int(h)
				}
			}
			exp.Facts = append(exp.Facts, fact)
		}
		return nil, result.Err()
	})
	if err != nil {
		return nil, err
	}
	return exp, nil
}

func hopBound(maxHops int) string {
	switch maxHops {
	case 1:
		return "1"
	case 3:
		return "3"
	default:
		return "2"
	}
}

func (s *Neo4jStore) DeleteMemory(ctx context.Context, memoryID string) error {
	return s.write(ctx, `
        MATCH (m:Memory {memoryId: $memoryId}) DETACH DELETE m
    `, map[string]any{"memoryId": memoryID})
}

func (s *Neo4jStore) PruneEntities(ctx context.Context, ownerID string) error {
	return s.write(ctx, `
        MATCH (e:Entity {ownerId: $ownerId})
        WHERE NOT (e)<-[:MENTIONS]-(:Memory)
        DETACH DELETE e
    `, map[string]any{"ownerId": ownerID})
}

func (s *Neo4jStore) RecentEntities(ctx context.Context, ownerID string, n int) ([]string, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer func() { _ = session.Close(ctx) }()
	res, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
            MATCH (m:Memory {ownerId: $ownerId})-[:MENTIONS]->(e:Entity {ownerId: $ownerId})
            RETURN e.name AS name, max(m.creationTime) AS lastSeen
            ORDER BY lastSeen DESC
            LIMIT $n
        `, map[string]any{"ownerId": ownerID, "n": n})
		if err != nil {
			return nil, err
		}
		var names []string
		for result.Next(ctx) {
			if v, ok := result.Record().Get("name"); ok {
				if str, ok := v.(string); ok {
					names = append(names, str)
				}
			}
		}
		return names, result.Err()
	})
	if err != nil {
		return nil, err
	}
	names, _ := res.([]string)
	return names, nil
}

func (s *Neo4jStore) Ping(ctx context.Context) error {
	return s.driver.VerifyConnectivity(ctx)
}

func (s *Neo4jStore) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}
