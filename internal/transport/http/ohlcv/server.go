package ohlcvhttp

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"candlecache/internal/logger"
	"candlecache/internal/metrics"
	"candlecache/internal/query"
	"candlecache/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/process"
	"github.com/zeromicro/go-zero/core/collection"
)

const (
	requestIDHeader   = "X-Request-ID"
	parquetFilename   = "ohlcv.parquet"
	defaultCacheTTL   = time.Hour
	defaultCacheLimit = 32
	defaultComposeTTL = 5 * time.Minute
)

// StatusSource reports the cache summary.
type StatusSource interface {
	Status() store.Status
}

// Composer builds the rows of one /ohlcv.parquet request.
type Composer interface {
	Compose(ctx context.Context, req query.Request) ([]query.Record, error)
}

// Config lists the server dependencies.
type Config struct {
	Addr        string
	Status      StatusSource
	Composer    Composer
	Metrics     *metrics.Metrics
	MetricsPath string
	CacheTTL    time.Duration
	CacheLimit  int

	// ComposeTimeout bounds one shared compose run.
	ComposeTimeout time.Duration
}

// Server serves the candle table, the store status and metrics.
type Server struct {
	addr     string
	status   StatusSource
	composer Composer
	metrics  *metrics.Metrics
	cache    *collection.Cache
	router   *gin.Engine

	composeTimeout time.Duration
}

func NewServer(cfg Config) (*Server, error) {
	if cfg.Status == nil || cfg.Composer == nil {
		return nil, errors.New("status source and composer are required")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":5000"
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultCacheTTL
	}
	if cfg.CacheLimit <= 0 {
		cfg.CacheLimit = defaultCacheLimit
	}
	if cfg.ComposeTimeout <= 0 {
		cfg.ComposeTimeout = defaultComposeTTL
	}
	cache, err := collection.NewCache(cfg.CacheTTL, collection.WithLimit(cfg.CacheLimit), collection.WithName("ohlcv"))
	if err != nil {
		return nil, err
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestID())

	s := &Server{
		addr:     cfg.Addr,
		status:   cfg.Status,
		composer: cfg.Composer,
		metrics:  cfg.Metrics,
		cache:    cache,
		router:   router,

		composeTimeout: cfg.ComposeTimeout,
	}
	s.registerRoutes(cfg.MetricsPath)
	return s, nil
}

func (s *Server) registerRoutes(metricsPath string) {
	s.router.GET("/ohlcv.parquet", s.handleOHLCV)
	s.router.GET("/status", s.handleStatus)
	if s.metrics != nil {
		if metricsPath == "" {
			metricsPath = "/metrics"
		}
		s.router.GET(metricsPath, gin.WrapH(s.metrics.Handler()))
	}
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// requestID tags every request with an id, reusing the caller's when given.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(requestIDHeader, id)
		started := time.Now()
		c.Next()
		logger.Debugf("http %s %s status=%d elapsed=%s request_id=%s",
			c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(started).Truncate(time.Microsecond), id)
	}
}

func (s *Server) handleOHLCV(c *gin.Context) {
	q := c.Request.URL.Query()
	req, err := query.ParseRequest(q)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cacheKey := c.Request.URL.Path + "?" + q.Encode()
	// Concurrent identical requests share one compose run, so it must not
	// end when the request that started it goes away.
	body, err := s.cache.Take(cacheKey, func() (any, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), s.composeTimeout)
		defer cancel()
		started := time.Now()
		defer func() { s.metrics.ObserveQuery(time.Since(started)) }()
		recs, err := s.composer.Compose(ctx, req)
		if err != nil {
			return nil, err
		}
		var buf bytes.Buffer
		if err := query.WriteParquet(&buf, recs); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	})
	if err != nil {
		logger.Errorf("ohlcv %s: %v", cacheKey, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+parquetFilename+`"`)
	c.Data(http.StatusOK, "application/octet-stream", body.([]byte))
}

type memoryStatus struct {
	RSS uint64 `json:"rss"`
}

type statusResponse struct {
	Store  store.Status `json:"store"`
	Memory memoryStatus `json:"memory"`
}

func (s *Server) handleStatus(c *gin.Context) {
	resp := statusResponse{Store: s.status.Status()}
	if rss, err := processRSS(c.Request.Context()); err != nil {
		logger.Warnf("status: read rss: %v", err)
	} else {
		resp.Memory.RSS = rss
	}
	c.JSON(http.StatusOK, resp)
}

func processRSS(ctx context.Context) (uint64, error) {
	p, err := process.NewProcessWithContext(ctx, int32(os.Getpid()))
	if err != nil {
		return 0, err
	}
	mem, err := p.MemoryInfoWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return mem.RSS, nil
}

// Start serves until ctx ends, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		logger.Infof("http: listening on %s", s.addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
