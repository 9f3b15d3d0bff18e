package httpdoc

import (
	"net/http"
	"strconv"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/rustyeddy/tracker/market"
	"github.com/rustyeddy/tracker/remote"
)

// Server exposes any remote.Store through the document API.
type Server struct {
	store remote.Store
	token string
	log   logrus.FieldLogger

	mu   sync.Mutex
	seen map[string]pushResponse
	// keys in arrival order; the oldest is forgotten past seenLimit
	keys      []string
	seenLimit int
}

// DefaultSeenLimit is how many push responses a Server keeps for replay.
const DefaultSeenLimit = 4096

func NewServer(store remote.Store, token string, log logrus.FieldLogger) *Server {
	return &Server{
		store:     store,
		token:     token,
		log:       log,
		seen:      make(map[string]pushResponse),
		seenLimit: DefaultSeenLimit,
	}
}

// Register mounts the document routes on r.
func (s *Server) Register(r gin.IRouter) {
	g := r.Group("/v1/collections/:collection", s.auth)
	g.GET("/documents", s.pull)
	g.POST("/documents", s.push)
}

// Handler returns a standalone engine serving the document API.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())
	s.Register(r)
	return r
}

func (s *Server) auth(c *gin.Context) {
	if s.token != "" && c.GetHeader("Authorization") != "Bearer "+s.token {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Next()
}

func (s *Server) pull(c *gin.Context) {
	after, err := strconv.ParseInt(c.DefaultQuery("after", "0"), 10, 64)
	if err != nil || after < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid after"})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}

	page, err := s.store.Pull(c.Request.Context(), c.Param("collection"), after, limit)
	if err != nil {
		s.log.Warnf("pull failed: %v", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "pull failed"})
		return
	}

	out := pullResponse{Documents: make([]document, 0, len(page.Docs)), Next: page.Next, More: page.More}
	for _, tx := range page.Docs {
		out.Documents = append(out.Documents, toDocument(tx))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) push(c *gin.Context) {
	key := c.GetHeader("Idempotency-Key")
	if key != "" {
		s.mu.Lock()
		prev, ok := s.seen[key]
		s.mu.Unlock()
		if ok {
			c.JSON(http.StatusOK, prev)
			return
		}
	}

	var in pushRequest
	if err := c.ShouldBindJSON(&in); err != nil {
		s.log.Warnf("invalid push body: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	docs := make([]market.Transaction, 0, len(in.Documents))
	for _, d := range in.Documents {
		docs = append(docs, d.transaction())
	}

	acks, err := s.store.Push(c.Request.Context(), c.Param("collection"), docs)
	if err != nil && len(acks) == 0 {
		s.log.Warnf("push failed: %v", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "push failed"})
		return
	}

	out := pushResponse{Acks: make([]ackBody, 0, len(acks))}
	for _, a := range acks {
		out.Acks = append(out.Acks, toAckBody(a))
	}
	if key != "" && err == nil {
		s.remember(key, out)
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) remember(key string, out pushResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[key]; !ok {
		s.keys = append(s.keys, key)
	}
	s.seen[key] = out
	for len(s.keys) > s.seenLimit {
		delete(s.seen, s.keys[0])
		s.keys = s.keys[1:]
	}
}
