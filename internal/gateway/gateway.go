// Package gateway is the HTTP surface a presentation layer reads from:
// current valuation, return series, sync status and staged conflicts.
package gateway

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/rustyeddy/tracker/ingest"
	"github.com/rustyeddy/tracker/journal"
	"github.com/rustyeddy/tracker/service"
	"github.com/rustyeddy/tracker/syncer"
	"github.com/rustyeddy/tracker/valuation"
)

type Options struct {
	// Token, when set, is required as a bearer token on /v1 routes.
	Token      string
	ReturnStep time.Duration
	Logger     logrus.FieldLogger
	Now        func() time.Time
}

type Gateway struct {
	svc  *service.Service
	opts Options
	log  logrus.FieldLogger
}

func New(svc *service.Service, opts Options) *Gateway {
	if opts.ReturnStep <= 0 {
		opts.ReturnStep = 24 * time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	log := opts.Logger
	if log == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		log = l
	}
	return &Gateway{svc: svc, opts: opts, log: log}
}

// Handler returns a gin engine with every route mounted.
func (g *Gateway) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger(g.log))
	g.Register(r)
	return r
}

func (g *Gateway) Register(r gin.IRouter) {
	r.GET("/health", g.health)

	v1 := r.Group("/v1", g.auth)
	v1.GET("/portfolio", g.portfolio)
	v1.GET("/returns", g.returns)
	v1.GET("/status", g.status)
	v1.POST("/sync", g.sync)
	v1.GET("/conflicts", g.conflicts)
	v1.POST("/transactions", g.record)
	v1.POST("/prices", g.ingest)
}

func (g *Gateway) auth(c *gin.Context) {
	if g.opts.Token == "" {
		return
	}
	if c.GetHeader("Authorization") != "Bearer "+g.opts.Token {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	}
}

func (g *Gateway) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "sync": g.svc.SyncStatus()})
}

type positionBody struct {
	Instrument   string          `json:"instrument"`
	Quantity     decimal.Decimal `json:"quantity"`
	CostBasis    decimal.Decimal `json:"cost_basis"`
	AverageCost  decimal.Decimal `json:"average_cost"`
	Price        decimal.Decimal `json:"price"`
	PriceTime    time.Time       `json:"price_time"`
	Value        decimal.Decimal `json:"value"`
	ValueDisplay string          `json:"value_display"`
	Unrealized   decimal.Decimal `json:"unrealized_pl"`
	Realized     decimal.Decimal `json:"realized_pl"`
}

type portfolioBody struct {
	At           time.Time       `json:"at"`
	Account      string          `json:"account"`
	Currency     string          `json:"currency"`
	Total        decimal.Decimal `json:"total"`
	TotalDisplay string          `json:"total_display"`
	CostBasis    decimal.Decimal `json:"cost_basis"`
	Realized     decimal.Decimal `json:"realized_pl"`
	Positions    []positionBody  `json:"positions"`
	Unpriced     []string        `json:"unpriced,omitempty"`
	Complete     bool            `json:"complete"`
}

func (g *Gateway) portfolio(c *gin.Context) {
	at, err := timeParam(c, "at", g.opts.Now())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	v, err := g.svc.Portfolio(at)
	if err != nil {
		g.log.WithError(err).Warn("portfolio failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "valuation failed"})
		return
	}

	body := portfolioBody{
		At:           v.At,
		Account:      g.svc.Account(),
		Currency:     g.svc.Currency(),
		Total:        v.Total,
		TotalDisplay: g.svc.Display(v.Total),
		CostBasis:    v.CostBasis,
		Realized:     v.Realized,
		Positions:    make([]positionBody, 0, len(v.Positions)),
		Unpriced:     v.UnpricedInstruments(),
		Complete:     v.Complete(),
	}
	for _, p := range v.Positions {
		body.Positions = append(body.Positions, positionBody{
			Instrument:   p.Instrument,
			Quantity:     p.Quantity,
			CostBasis:    p.CostBasis,
			AverageCost:  p.AverageCost(),
			Price:        p.Price,
			PriceTime:    p.PriceTime,
			Value:        p.Value,
			ValueDisplay: g.svc.Display(p.Value),
			Unrealized:   p.Unrealized,
			Realized:     p.RealizedPL,
		})
	}
	c.JSON(http.StatusOK, body)
}

type pointBody struct {
	valuation.Point
	ValueDisplay  string `json:"value_display"`
	ReturnPercent string `json:"return_percent"`
}

func (g *Gateway) returns(c *gin.Context) {
	now := g.opts.Now()
	to, err := timeParam(c, "to", now)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	from, err := timeParam(c, "from", to.Add(-30*g.opts.ReturnStep))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	step := g.opts.ReturnStep
	if s := c.Query("step"); s != "" {
		if step, err = time.ParseDuration(s); err != nil || step <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid step %q", s)})
			return
		}
	}
	if to.Before(from) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "to is before from"})
		return
	}
	if n := to.Sub(from) / step; n > 10000 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "too many boundaries"})
		return
	}

	points, err := g.svc.Returns(from, to, step)
	if err != nil {
		g.log.WithError(err).Warn("returns failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "returns failed"})
		return
	}

	out := make([]pointBody, len(points))
	for i, p := range points {
		out[i] = pointBody{Point: p, ValueDisplay: g.svc.Display(p.Value), ReturnPercent: valuation.Percent(p.Return)}
	}
	c.JSON(http.StatusOK, gin.H{"currency": g.svc.Currency(), "step": step.String(), "points": out})
}

// status streams sync status transitions as server-sent events, starting
// with the current status.
func (g *Gateway) status(c *gin.Context) {
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	eng := g.svc.Syncer()
	var events <-chan syncer.StatusEvent
	if eng != nil {
		var cancel func()
		events, cancel = eng.Subscribe(32)
		defer cancel()
	}

	c.SSEvent("status", syncer.StatusEvent{Status: g.svc.SyncStatus(), Time: g.opts.Now().UTC()})
	c.Writer.Flush()
	if events == nil {
		return
	}

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent("status", ev)
			return true
		case <-ctx.Done():
			return false
		}
	})
}

func (g *Gateway) sync(c *gin.Context) {
	res, err := g.svc.Sync(c.Request.Context())
	switch {
	case errors.Is(err, service.ErrNoRemote):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	case errors.Is(err, syncer.ErrSyncFailed):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "result": res})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, res)
	}
}

func (g *Gateway) conflicts(c *gin.Context) {
	cs := g.svc.Conflicts()
	if c.Query("format") == "org" {
		c.String(http.StatusOK, journal.FormatConflictsOrg(cs))
		return
	}
	c.JSON(http.StatusOK, gin.H{"conflicts": cs})
}

type recordRequest struct {
	Instrument string    `json:"instrument" binding:"required"`
	Quantity   string    `json:"quantity" binding:"required"`
	Price      string    `json:"price" binding:"required"`
	Time       time.Time `json:"time"`
}

func (g *Gateway) record(c *gin.Context) {
	var req recordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	qty, err := decimal.NewFromString(req.Quantity)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid quantity format"})
		return
	}
	price, err := decimal.NewFromString(req.Price)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid price format"})
		return
	}

	tx, err := g.svc.Record(req.Instrument, qty, price, req.Time)
	if err != nil {
		if errors.Is(err, journal.ErrDuplicateID) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, tx)
}

func (g *Gateway) ingest(c *gin.Context) {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, 32<<20))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "read body"})
		return
	}

	p := ingest.Parser{
		Format:     ingest.DetectFormat(c.ContentType(), "", raw),
		Path:       c.Query("path"),
		Instrument: c.Query("instrument"),
		Source:     c.Query("source"),
		Now:        g.opts.Now,
	}
	n, err := g.svc.IngestWith(p, raw)
	if err != nil {
		if errors.Is(err, ingest.ErrMalformedInput) || errors.Is(err, ingest.ErrInvalidSnapshot) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
		g.log.WithError(err).Warn("cache prices failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "cache failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cached": n})
}

func timeParam(c *gin.Context, name string, def time.Time) (time.Time, error) {
	s := strings.TrimSpace(c.Query(name))
	if s == "" {
		return def.UTC(), nil
	}
	for _, layout := range []string{time.RFC3339Nano, time.DateOnly} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid %s %q: want RFC3339 or YYYY-MM-DD", name, s)
}
