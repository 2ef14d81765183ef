package memory

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"graph-memory/backend/internal/constants"
	"graph-memory/backend/internal/graph"
	"graph-memory/backend/internal/validation"
	apperrors "graph-memory/backend/pkg/errors"
)

// CreateRelation creates a typed edge between two nodes of the same owner.
// The relation type is stored in upper snake case.
func (s *Service) CreateRelation(ctx context.Context, in CreateRelationInput) (*graph.Edge, error) {
	owner, err := s.owner(in.OwnerID)
	if err != nil {
		return nil, err
	}
	in.OwnerID = owner
	if err := s.validator.Struct(&in); err != nil {
		return nil, err
	}
	if err := s.validator.Metadata(in.Metadata); err != nil {
		return nil, err
	}
	if _, err := s.requireNodes(ctx, owner, in.FromID, in.ToID); err != nil {
		return nil, err
	}

	edge := &graph.Edge{
		ID:        s.newID(),
		OwnerID:   owner,
		From:      in.FromID,
		To:        in.ToID,
		Type:      validation.NormalizeRelationType(in.RelationType),
		Metadata:  in.Metadata.Clone(),
		CreatedAt: s.nowMillis(),
	}
	if err := s.createEdge(ctx, edge); err != nil {
		return nil, s.storeErr("create_relation", err)
	}
	s.metrics.EdgeCreated("manual")
	s.invalidate()

	s.logger.Info("Relation created",
		zap.String("relation_id", edge.ID),
		zap.String("from_id", edge.From),
		zap.String("to_id", edge.To),
		zap.String("relation_type", edge.Type),
	)
	return edge, nil
}

func (s *Service) createEdge(ctx context.Context, e *graph.Edge) error {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	return s.store.CreateEdge(sctx, e)
}

func (s *Service) listEdges(ctx context.Context, f graph.EdgeFilter) ([]*graph.Edge, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	return s.store.ListEdges(sctx, f)
}

// Unlink removes the edges from FromID to ToID, optionally only those of one
// type, and reports how many were removed.
func (s *Service) Unlink(ctx context.Context, in UnlinkInput) (int, error) {
	owner, err := s.owner(in.OwnerID)
	if err != nil {
		return 0, err
	}
	in.OwnerID = owner
	if err := s.validator.Struct(&in); err != nil {
		return 0, err
	}

	f := graph.EdgeFilter{OwnerID: owner, From: in.FromID, To: in.ToID}
	if in.RelationType != "" {
		f.Type = validation.NormalizeRelationType(in.RelationType)
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	deleted, err := s.store.DeleteEdges(sctx, f)
	if err != nil {
		return 0, s.storeErr("unlink", err)
	}
	if deleted > 0 {
		s.invalidate()
	}

	s.logger.Info("Relations removed",
		zap.String("from_id", in.FromID),
		zap.String("to_id", in.ToID),
		zap.Int("deleted", deleted),
	)
	return deleted, nil
}

// CreateTriplet records subject-predicate-object as an Entity-Entity edge.
// Entities are resolved by name or alias and created when missing. The
// predicate edge is created at most once per (subject, predicate, object).
// With FactID set the fact is linked to the subject by EXTRACTED_FROM.
func (s *Service) CreateTriplet(ctx context.Context, in TripletInput) (*TripletResult, error) {
	owner, err := s.owner(in.OwnerID)
	if err != nil {
		return nil, err
	}
	in.OwnerID = owner
	if err := s.validator.Struct(&in); err != nil {
		return nil, err
	}
	for _, f := range []struct{ name, value string }{
		{"subject", in.Subject},
		{"predicate", in.Predicate},
		{"object_value", in.Object},
	} {
		if err := s.validator.Text(f.name, f.value, true); err != nil {
			return nil, err
		}
	}
	if err := s.validator.Metadata(in.Metadata); err != nil {
		return nil, err
	}

	var fact *graph.Node
	if in.FactID != "" {
		fact, err = s.loadNode(ctx, owner, in.FactID)
		if err != nil {
			return nil, err
		}
		if fact.Label != constants.LabelFact {
			return nil, apperrors.NewValidation("fact_id", "must reference a Fact")
		}
	}

	subject, err := s.resolveEntity(ctx, owner, in.Subject, in.SubjectType)
	if err != nil {
		return nil, err
	}
	object, err := s.resolveEntity(ctx, owner, in.Object, in.ObjectType)
	if err != nil {
		return nil, err
	}

	predicate := validation.NormalizeRelationType(in.Predicate)
	edge, created, err := s.ensureEdge(ctx, "triplet", owner, subject.ID, object.ID, predicate, in.Metadata)
	if err != nil {
		return nil, s.storeErr("create_triplet", err)
	}

	result := &TripletResult{
		Triplet: Triplet{Subject: subject, Predicate: predicate, Object: object, Relation: edge},
		Created: created,
	}
	if fact != nil {
		provenance, _, err := s.ensureEdge(ctx, "triplet", owner, fact.ID, subject.ID, constants.EdgeExtractedFrom, nil)
		if err != nil {
			return nil, s.storeErr("create_triplet", err)
		}
		result.ExtractedFrom = provenance
	}
	s.invalidate()

	s.logger.Info("Triplet recorded",
		zap.String("subject", subject.Text),
		zap.String("predicate", predicate),
		zap.String("object", object.Text),
		zap.Bool("created", created),
	)
	return result, nil
}

// resolveEntity returns the oldest Entity named name, creating one if none exists
func (s *Service) resolveEntity(ctx context.Context, owner, name, entityType string) (*graph.Node, error) {
	sctx, cancel := s.storeCtx(ctx)
	found, err := s.store.FindNodes(sctx, graph.NodeFilter{
		OwnerID: owner,
		Labels:  []string{constants.LabelEntity},
		Name:    name,
		Limit:   1,
	})
	cancel()
	if err != nil {
		return nil, s.storeErr("resolve_entity", err)
	}
	if len(found) > 0 {
		return found[0], nil
	}

	noLink := false
	res, err := s.CreateNode(ctx, CreateNodeInput{
		NodeType: constants.LabelEntity,
		Text:     strings.TrimSpace(name),
		Type:     entityType,
		OwnerID:  owner,
		AutoLink: &noLink,
	})
	if err != nil {
		return nil, err
	}
	return res.Node, nil
}

// ensureEdge returns the existing (from, type, to) edge or creates it
func (s *Service) ensureEdge(ctx context.Context, origin, owner, from, to, relType string, md graph.Metadata) (*graph.Edge, bool, error) {
	existing, err := s.listEdges(ctx, graph.EdgeFilter{OwnerID: owner, From: from, To: to, Type: relType})
	if err != nil {
		return nil, false, err
	}
	if len(existing) > 0 {
		return existing[0], false, nil
	}
	edge := &graph.Edge{
		ID:        s.newID(),
		OwnerID:   owner,
		From:      from,
		To:        to,
		Type:      relType,
		Metadata:  md.Clone(),
		CreatedAt: s.nowMillis(),
	}
	if err := s.createEdge(ctx, edge); err != nil {
		return nil, false, err
	}
	s.metrics.EdgeCreated(origin)
	return edge, true, nil
}

// SearchTriplets finds Entity-Entity edges by subject name, predicate and
// object name. Names match text or alias case-insensitively; empty parts
// match anything.
func (s *Service) SearchTriplets(ctx context.Context, q TripletQuery) ([]Triplet, error) {
	owner, err := s.owner(q.OwnerID)
	if err != nil {
		return nil, err
	}
	q.OwnerID = owner
	if err := s.validator.Struct(&q); err != nil {
		return nil, err
	}
	q.Subject = strings.TrimSpace(q.Subject)
	q.Object = strings.TrimSpace(q.Object)
	limit := q.Limit
	if limit == 0 {
		limit = s.cfg.DefaultSearchLimit
	}

	subjects, err := s.entityIDsNamed(ctx, owner, q.Subject)
	if err != nil {
		return nil, err
	}
	objects, err := s.entityIDsNamed(ctx, owner, q.Object)
	if err != nil {
		return nil, err
	}
	if (q.Subject != "" && len(subjects) == 0) || (q.Object != "" && len(objects) == 0) {
		return []Triplet{}, nil
	}

	predicate := ""
	if strings.TrimSpace(q.Predicate) != "" {
		predicate = validation.NormalizeRelationType(q.Predicate)
	}

	var edges []*graph.Edge
	if q.Subject != "" {
		for id := range subjects {
			es, err := s.listEdges(ctx, graph.EdgeFilter{OwnerID: owner, From: id, Type: predicate})
			if err != nil {
				return nil, s.storeErr("search_triplets", err)
			}
			edges = append(edges, es...)
		}
	} else {
		edges, err = s.listEdges(ctx, graph.EdgeFilter{OwnerID: owner, Type: predicate})
		if err != nil {
			return nil, s.storeErr("search_triplets", err)
		}
	}

	ids := make([]string, 0, 2*len(edges))
	for _, e := range edges {
		ids = append(ids, e.From, e.To)
	}
	sctx, cancel := s.storeCtx(ctx)
	nodes, err := s.store.GetNodes(sctx, owner, ids)
	cancel()
	if err != nil {
		return nil, s.storeErr("search_triplets", err)
	}
	entities := make(map[string]*graph.Node, len(nodes))
	for _, n := range nodes {
		if n.Label == constants.LabelEntity {
			entities[n.ID] = n
		}
	}

	var matched []*graph.Edge
	for _, e := range edges {
		if entities[e.From] == nil || entities[e.To] == nil {
			continue
		}
		if q.Object != "" && !objects[e.To] {
			continue
		}
		matched = append(matched, e)
	}
	graph.SortEdges(matched)
	if len(matched) > limit {
		matched = matched[:limit]
	}

	out := make([]Triplet, 0, len(matched))
	for _, e := range matched {
		out = append(out, Triplet{
			Subject:   entities[e.From],
			Predicate: e.Type,
			Object:    entities[e.To],
			Relation:  e,
		})
	}
	return out, nil
}

// entityIDsNamed returns the ids of entities matching name; empty name yields nil
func (s *Service) entityIDsNamed(ctx context.Context, owner, name string) (map[string]bool, error) {
	if name == "" {
		return nil, nil
	}
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	found, err := s.store.FindNodes(sctx, graph.NodeFilter{
		OwnerID: owner,
		Labels:  []string{constants.LabelEntity},
		Name:    name,
	})
	if err != nil {
		return nil, s.storeErr("search_triplets", err)
	}
	ids := make(map[string]bool, len(found))
	for _, n := range found {
		ids[n.ID] = true
	}
	return ids, nil
}
