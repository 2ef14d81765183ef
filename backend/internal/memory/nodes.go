package memory

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"graph-memory/backend/internal/constants"
	"graph-memory/backend/internal/graph"
	"graph-memory/backend/internal/validation"
	apperrors "graph-memory/backend/pkg/errors"
)

// expiresAt applies the expiry rule: an explicit expires_at wins, otherwise
// ttl_days counts from base, otherwise the node never expires.
func expiresAt(base int64, ttlDays *float64, explicit *int64) *int64 {
	if explicit != nil {
		v := *explicit
		return &v
	}
	if ttlDays != nil {
		v := base + int64(*ttlDays*float64(constants.MillisPerDay))
		return &v
	}
	return nil
}

func (s *Service) validateCreate(in *CreateNodeInput) error {
	owner, err := s.owner(in.OwnerID)
	if err != nil {
		return err
	}
	in.OwnerID = owner
	if err := s.validator.Struct(in); err != nil {
		return err
	}
	if err := s.validator.Text("text", in.Text, in.NodeType == constants.LabelFact); err != nil {
		return err
	}
	if err := s.validator.Metadata(in.Metadata); err != nil {
		return err
	}
	if err := s.validator.TTLDays(in.TTLDays); err != nil {
		return err
	}
	return validation.Threshold("link_threshold", in.LinkThreshold)
}

// CreateNode persists a Fact or Entity. For Facts with auto_link enabled the
// linker runs after the node is stored; a linking failure is returned as an
// *errors.ErrLinking alongside the persisted node, which is kept.
func (s *Service) CreateNode(ctx context.Context, in CreateNodeInput) (*CreateResult, error) {
	if err := s.validateCreate(&in); err != nil {
		return nil, err
	}

	now := s.nowMillis()
	status := graph.StatusActive
	if in.Status != "" {
		status = graph.Status(in.Status)
	}
	n := &graph.Node{
		ID:        s.newID(),
		OwnerID:   in.OwnerID,
		Label:     in.NodeType,
		Text:      in.Text,
		Type:      in.Type,
		Metadata:  in.Metadata.Clone(),
		Status:    status,
		Source:    in.Source,
		CreatedAt: now,
		UpdatedAt: now,
		TTLDays:   in.TTLDays,
		ExpiresAt: expiresAt(now, in.TTLDays, in.ExpiresAt),
	}
	for _, a := range in.Aliases {
		n.AddAlias(a)
	}

	if strings.TrimSpace(n.Text) != "" {
		vec, err := s.embed(ctx, n.Text)
		if err != nil {
			// Linking degrades to a no-op; the node is still stored
			s.logger.Warn("Embedding unavailable, storing node without vector",
				zap.String("node_id", n.ID),
				zap.Error(err),
			)
		} else {
			n.Embedding = vec
		}
	}

	if err := s.upsert(ctx, n); err != nil {
		return nil, s.storeErr("create_node", err)
	}
	s.metrics.NodeCreated(n.Label)
	s.invalidate()

	s.logger.Info("Node created",
		zap.String("node_id", n.ID),
		zap.String("owner_id", n.OwnerID),
		zap.String("node_type", n.Label),
	)

	result := &CreateResult{Node: n}
	result.Relations = s.createExplicitLinks(ctx, n, in.Links)

	autoLink := in.AutoLink == nil || *in.AutoLink
	if n.Label != constants.LabelFact || !autoLink {
		return result, nil
	}

	threshold := s.cfg.AutoLinkThreshold
	if in.LinkThreshold != nil {
		threshold = *in.LinkThreshold
	}
	lctx, cancel := s.storeCtx(ctx)
	defer cancel()
	links, err := s.linker.Link(lctx, n, threshold)
	result.AutoLinks = links
	if len(links) > 0 {
		s.invalidate()
	}
	if err != nil {
		s.logger.Error("Auto-linking failed", zap.String("node_id", n.ID), zap.Error(err))
		return result, apperrors.NewLinking(n.ID, err)
	}
	return result, nil
}

// createExplicitLinks creates the relations requested on create. Failures
// are logged and skipped.
func (s *Service) createExplicitLinks(ctx context.Context, n *graph.Node, links []LinkInput) []*graph.Edge {
	var created []*graph.Edge
	for _, l := range links {
		from, to := n.ID, l.TargetID
		if l.Direction == "incoming" {
			from, to = to, from
		}
		e, err := s.CreateRelation(ctx, CreateRelationInput{
			FromID:       from,
			ToID:         to,
			RelationType: l.RelationType,
			Metadata:     l.Metadata,
			OwnerID:      n.OwnerID,
		})
		if err != nil {
			s.logger.Warn("Failed to create link",
				zap.String("node_id", n.ID),
				zap.String("target_id", l.TargetID),
				zap.Error(err),
			)
			continue
		}
		created = append(created, e)
	}
	return created
}

func (s *Service) upsert(ctx context.Context, n *graph.Node) error {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	return s.store.UpsertNode(sctx, n)
}

// GetNode returns a node by id within an owner
func (s *Service) GetNode(ctx context.Context, ownerID, id string) (*graph.Node, error) {
	owner, err := s.owner(ownerID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(id) == "" {
		return nil, apperrors.NewValidation("node_id", "is required")
	}
	return s.loadNode(ctx, owner, id)
}

func (s *Service) validateUpdate(in *UpdateNodeInput) error {
	owner, err := s.owner(in.OwnerID)
	if err != nil {
		return err
	}
	in.OwnerID = owner
	if err := s.validator.Struct(in); err != nil {
		return err
	}
	if in.Text != nil {
		if err := s.validator.Text("text", *in.Text, false); err != nil {
			return err
		}
	}
	if in.Status != nil {
		if err := validation.Status(*in.Status); err != nil {
			return err
		}
	}
	if err := s.validator.Metadata(in.Metadata); err != nil {
		return err
	}
	return s.validator.TTLDays(in.TTLDays)
}

// UpdateNode applies a partial update. Metadata merges into the existing
// document. A text change re-embeds the node and clears last_dedup_at so the
// next deduplication pass looks at it again.
func (s *Service) UpdateNode(ctx context.Context, in UpdateNodeInput) (*graph.Node, error) {
	if err := s.validateUpdate(&in); err != nil {
		return nil, err
	}

	current, err := s.loadNode(ctx, in.OwnerID, in.NodeID)
	if err != nil {
		return nil, err
	}
	if current.Label == constants.LabelFact && in.Text != nil && strings.TrimSpace(*in.Text) == "" {
		return nil, apperrors.NewValidation("text", "is required")
	}

	before := current.Clone()
	n := current
	now := s.nowMillis()

	if in.Text != nil && *in.Text != n.Text {
		n.Text = *in.Text
		n.LastDedupAt = nil
		n.Embedding = nil
		if strings.TrimSpace(n.Text) != "" {
			vec, err := s.embed(ctx, n.Text)
			if err != nil {
				return nil, s.storeErr("embed", err)
			}
			n.Embedding = vec
		}
	}
	if in.Type != nil {
		n.Type = *in.Type
	}
	if in.Source != nil {
		n.Source = *in.Source
	}
	if in.Status != nil {
		n.Status = graph.Status(*in.Status)
	}
	if in.Metadata != nil {
		n.Metadata = n.Metadata.Merge(in.Metadata)
	}
	if in.TTLDays != nil || in.ExpiresAt != nil {
		if in.TTLDays != nil {
			n.TTLDays = in.TTLDays
		}
		n.ExpiresAt = expiresAt(now, in.TTLDays, in.ExpiresAt)
	}
	n.UpdatedAt = now

	if err := s.upsert(ctx, n); err != nil {
		return nil, s.storeErr("update_node", err)
	}
	if in.Versioning {
		if err := s.versions.Capture(ctx, before); err != nil {
			s.logger.Warn("Failed to capture version", zap.String("node_id", n.ID), zap.Error(err))
		}
	}
	s.invalidate()

	s.logger.Info("Node updated",
		zap.String("node_id", n.ID),
		zap.String("owner_id", n.OwnerID),
		zap.Bool("versioned", in.Versioning),
	)
	return n, nil
}

// DeleteNode irreversibly removes a node and its incident edges
func (s *Service) DeleteNode(ctx context.Context, ownerID, id string) error {
	owner, err := s.owner(ownerID)
	if err != nil {
		return err
	}
	if strings.TrimSpace(id) == "" {
		return apperrors.NewValidation("node_id", "is required")
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	err = s.store.DeleteNode(sctx, owner, id)
	if errors.Is(err, graph.ErrNodeNotFound) {
		return apperrors.NewNotFound(id, owner)
	}
	if err != nil {
		return s.storeErr("delete_node", err)
	}

	s.metrics.NodeDeleted()
	s.invalidate()
	s.logger.Info("Node deleted", zap.String("node_id", id), zap.String("owner_id", owner))
	return nil
}

// MarkOutdated soft-deletes a node, recording the reason in metadata
func (s *Service) MarkOutdated(ctx context.Context, ownerID, id, reason string) (*graph.Node, error) {
	owner, err := s.owner(ownerID)
	if err != nil {
		return nil, err
	}
	if err := s.validator.Text("reason", reason, false); err != nil {
		return nil, err
	}

	n, err := s.loadNode(ctx, owner, id)
	if err != nil {
		return nil, err
	}
	n.Status = graph.StatusOutdated
	if reason != "" {
		n.Metadata = n.Metadata.Merge(graph.Metadata{constants.MetaStatusReason: reason})
	}
	n.UpdatedAt = s.nowMillis()

	if err := s.upsert(ctx, n); err != nil {
		return nil, s.storeErr("mark_outdated", err)
	}
	s.invalidate()

	s.logger.Info("Node marked outdated", zap.String("node_id", id), zap.String("owner_id", owner))
	return n, nil
}

// History returns the versions captured for a node, oldest first
func (s *Service) History(ctx context.Context, ownerID, id string) ([]*graph.Version, error) {
	owner, err := s.owner(ownerID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(id) == "" {
		return nil, apperrors.NewValidation("node_id", "is required")
	}
	versions, err := s.versions.History(ctx, owner, id)
	if err != nil {
		return nil, s.storeErr("get_change_history", err)
	}
	return versions, nil
}
