// Package api exposes the memory operations over HTTP with gin. Every
// response uses the same envelope: {"success": true, ...} on success and
// {"success": false, "error": ..., "code": ...} on failure.
package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"graph-memory/backend/internal/jobs"
	"graph-memory/backend/internal/memory"
	apperrors "graph-memory/backend/pkg/errors"
	"graph-memory/backend/pkg/logger"
)

// JobRunner is the part of the scheduler the API drives
type JobRunner interface {
	Status() []jobs.JobStatus
	RunNow(ctx context.Context, name string) (*jobs.Report, error)
}

// Handler binds HTTP requests to the memory service
type Handler struct {
	svc    *memory.Service
	jobs   JobRunner
	logger *zap.Logger
}

// NewHandler creates a Handler. runner may be nil when jobs are not wired.
func NewHandler(svc *memory.Service, runner JobRunner, log *zap.Logger) *Handler {
	if log == nil {
		log = logger.Named("api")
	}
	return &Handler{svc: svc, jobs: runner, logger: log}
}

// Register mounts every route under the given group
func (h *Handler) Register(r gin.IRouter) {
	nodes := r.Group("/nodes")
	{
		nodes.POST("", h.createNode)
		nodes.GET("/:id", h.getNode)
		nodes.PATCH("/:id", h.updateNode)
		nodes.DELETE("/:id", h.deleteNode)
		nodes.POST("/:id/outdated", h.markOutdated)
		nodes.GET("/:id/history", h.history)
		nodes.GET("/:id/context", h.getContext)
		nodes.GET("/:id/similar", h.findSimilar)
	}

	r.POST("/relations", h.createRelation)
	r.DELETE("/relations", h.unlink)
	r.POST("/triplets", h.createTriplet)
	r.GET("/triplets", h.searchTriplets)
	r.POST("/search", h.search)
	r.GET("/trace", h.getTrace)
	r.POST("/summaries", h.createSummary)
	r.GET("/stats", h.stats)
	r.GET("/health", h.health)

	r.GET("/jobs", h.jobStatus)
	r.POST("/jobs/:name/run", h.runJob)
}

// bind decodes the JSON body; malformed input is a validation failure
func (h *Handler) bind(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		h.fail(c, apperrors.NewValidation("body", err.Error()))
		return false
	}
	return true
}

// queryInt parses an optional integer query parameter
func queryInt(c *gin.Context, name string) (*int, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil, apperrors.NewValidation(name, "must be an integer")
	}
	return &n, nil
}

// queryFloat parses an optional float query parameter
func queryFloat(c *gin.Context, name string) (*float64, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, apperrors.NewValidation(name, "must be a number")
	}
	return &f, nil
}

func deref(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

func (h *Handler) createNode(c *gin.Context) {
	var in memory.CreateNodeInput
	if !h.bind(c, &in) {
		return
	}
	res, err := h.svc.CreateNode(c.Request.Context(), in)
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusCreated, gin.H{
		"node":       res.Node,
		"node_id":    res.Node.ID,
		"auto_links": res.AutoLinks,
		"relations":  res.Relations,
	})
}

func (h *Handler) getNode(c *gin.Context) {
	n, err := h.svc.GetNode(c.Request.Context(), c.Query("owner_id"), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"node": n})
}

func (h *Handler) updateNode(c *gin.Context) {
	var in memory.UpdateNodeInput
	if !h.bind(c, &in) {
		return
	}
	in.NodeID = c.Param("id")
	n, err := h.svc.UpdateNode(c.Request.Context(), in)
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"node": n})
}

func (h *Handler) deleteNode(c *gin.Context) {
	id := c.Param("id")
	if err := h.svc.DeleteNode(c.Request.Context(), c.Query("owner_id"), id); err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"node_id": id, "deleted": true})
}

func (h *Handler) markOutdated(c *gin.Context) {
	var req struct {
		OwnerID string `json:"owner_id"`
		Reason  string `json:"reason"`
	}
	// An empty body is allowed
	if c.Request.ContentLength != 0 && !h.bind(c, &req) {
		return
	}
	n, err := h.svc.MarkOutdated(c.Request.Context(), req.OwnerID, c.Param("id"), req.Reason)
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"node": n})
}

func (h *Handler) history(c *gin.Context) {
	versions, err := h.svc.History(c.Request.Context(), c.Query("owner_id"), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"versions": versions, "count": len(versions)})
}

func (h *Handler) getContext(c *gin.Context) {
	depth, err := queryInt(c, "depth")
	if err != nil {
		h.fail(c, err)
		return
	}
	maxNodes, err := queryInt(c, "max_nodes")
	if err != nil {
		h.fail(c, err)
		return
	}
	sub, err := h.svc.GetContext(c.Request.Context(), memory.ContextInput{
		NodeID:   c.Param("id"),
		OwnerID:  c.Query("owner_id"),
		Depth:    depth,
		MaxNodes: maxNodes,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"nodes": sub.Nodes, "edges": sub.Edges})
}

func (h *Handler) findSimilar(c *gin.Context) {
	limit, err := queryInt(c, "limit")
	if err != nil {
		h.fail(c, err)
		return
	}
	threshold, err := queryFloat(c, "threshold")
	if err != nil {
		h.fail(c, err)
		return
	}
	matches, err := h.svc.FindSimilar(c.Request.Context(), memory.FindSimilarInput{
		NodeID:    c.Param("id"),
		OwnerID:   c.Query("owner_id"),
		Limit:     deref(limit),
		Threshold: threshold,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"results": matches, "count": len(matches)})
}

func (h *Handler) createRelation(c *gin.Context) {
	var in memory.CreateRelationInput
	if !h.bind(c, &in) {
		return
	}
	e, err := h.svc.CreateRelation(c.Request.Context(), in)
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusCreated, gin.H{"relation": e})
}

func (h *Handler) unlink(c *gin.Context) {
	var in memory.UnlinkInput
	if !h.bind(c, &in) {
		return
	}
	n, err := h.svc.Unlink(c.Request.Context(), in)
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"deleted": n})
}

func (h *Handler) createTriplet(c *gin.Context) {
	var in memory.TripletInput
	if !h.bind(c, &in) {
		return
	}
	res, err := h.svc.CreateTriplet(c.Request.Context(), in)
	if err != nil {
		h.fail(c, err)
		return
	}
	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	respond(c, status, gin.H{"triplet": res})
}

func (h *Handler) searchTriplets(c *gin.Context) {
	limit, err := queryInt(c, "limit")
	if err != nil {
		h.fail(c, err)
		return
	}
	triplets, err := h.svc.SearchTriplets(c.Request.Context(), memory.TripletQuery{
		Subject:   c.Query("subject"),
		Predicate: c.Query("predicate"),
		Object:    c.Query("object_value"),
		OwnerID:   c.Query("owner_id"),
		Limit:     deref(limit),
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"triplets": triplets, "count": len(triplets)})
}

func (h *Handler) search(c *gin.Context) {
	var in memory.SearchInput
	if !h.bind(c, &in) {
		return
	}
	res, err := h.svc.Search(c.Request.Context(), in)
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{
		"results":  res.Results,
		"facts":    res.Facts,
		"entities": res.Entities,
		"count":    len(res.Results),
	})
}

func (h *Handler) getTrace(c *gin.Context) {
	maxPaths, err := queryInt(c, "max_paths")
	if err != nil {
		h.fail(c, err)
		return
	}
	maxDepth, err := queryInt(c, "max_depth")
	if err != nil {
		h.fail(c, err)
		return
	}
	paths, err := h.svc.GetTrace(c.Request.Context(), memory.TraceInput{
		FromID:   c.Query("from_id"),
		ToID:     c.Query("to_id"),
		OwnerID:  c.Query("owner_id"),
		MaxPaths: deref(maxPaths),
		MaxDepth: deref(maxDepth),
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"paths": paths, "count": len(paths)})
}

func (h *Handler) createSummary(c *gin.Context) {
	var in memory.SummaryInput
	if !h.bind(c, &in) {
		return
	}
	res, err := h.svc.CreateSummaryFact(c.Request.Context(), in)
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusCreated, gin.H{
		"node":      res.Node,
		"node_id":   res.Node.ID,
		"relations": res.Relations,
	})
}

func (h *Handler) stats(c *gin.Context) {
	st, err := h.svc.Stats(c.Request.Context(), c.Query("owner_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"stats": st})
}

// health reports 503 when the store or embedder is degraded so that load
// balancers can act on it; the body is the same either way.
func (h *Handler) health(c *gin.Context) {
	report := h.svc.Health(c.Request.Context())
	payload := gin.H{
		"status":   report.Status,
		"store":    report.Store,
		"embedder": report.Embedder,
		"cache":    report.Cache,
	}
	if h.jobs != nil {
		payload["jobs"] = h.jobs.Status()
	}
	status := http.StatusOK
	if report.Status != memory.HealthHealthy {
		status = http.StatusServiceUnavailable
	}
	respond(c, status, payload)
}

func (h *Handler) jobStatus(c *gin.Context) {
	if h.jobs == nil {
		respond(c, http.StatusOK, gin.H{"jobs": []jobs.JobStatus{}})
		return
	}
	respond(c, http.StatusOK, gin.H{"jobs": h.jobs.Status()})
}

func (h *Handler) runJob(c *gin.Context) {
	if h.jobs == nil {
		h.fail(c, apperrors.NewValidation("job", "background jobs are not configured"))
		return
	}
	report, err := h.jobs.RunNow(c.Request.Context(), c.Param("name"))
	if err != nil {
		if _, typed := apperrors.TypeOf(err); !typed {
			err = apperrors.NewService("run_job", err)
		}
		h.fail(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"report": report, "outcome": report.Outcome()})
}
