package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rahul/planloop/internal/agent"
	"github.com/rahul/planloop/internal/llm"
	"github.com/rahul/planloop/internal/observability"
	"github.com/rahul/planloop/internal/store"
	"github.com/rahul/planloop/internal/tools"
	"go.uber.org/zap"
)

// Options wires the server. Nil agents or engines leave their routes
// unregistered.
type Options struct {
	Code   CodeAgent
	Surf   SurfAgent
	Simple SimpleRAG
	Hybrid HybridRAG
	Runs   *store.RunStore
	// Catalog concatenates the default catalog with a request's tools.
	Catalog   func(extra ...tools.Descriptor) []tools.Descriptor
	CorpusDir string
	Logger    *zap.Logger
}

type Server struct {
	echo *echo.Echo
	opts Options
	log  *zap.Logger
}

func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	s := &Server{echo: echo.New(), opts: opts, log: opts.Logger.Named("http")}
	e := s.echo
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			s.log.Info("request",
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
			)
			return nil
		},
	}))
	e.HTTPErrorHandler = s.handleError

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/status", s.status)

	if opts.Code != nil {
		e.POST("/run-code-agent", s.runCodeAgent)
	}
	if opts.Surf != nil {
		e.POST("/surf", s.surf)
	}
	if opts.Simple != nil {
		e.POST("/rag/simple/ingest", s.simpleIngest)
		e.POST("/rag/simple/query", s.simpleQuery)
	}
	if opts.Hybrid != nil {
		e.POST("/hybrid-vector-graph-rag-ingest-corpus", s.hybridIngestCorpus)
		e.POST("/rag/hybrid/ingest", s.hybridIngest)
		e.POST("/rag/hybrid/query", s.hybridQuery)
	}
	if opts.Runs != nil {
		e.GET("/runs", s.listRuns)
		e.GET("/runs/:id", s.getRun)
	}
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.echo }

// Start serves on addr until Shutdown.
func (s *Server) Start(addr string) error {
	s.log.Info("listening", zap.String("addr", addr))
	err := s.echo.Start(addr)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// handleError renders every error as {"error": msg}. Anything that is not
// an explicit HTTP error is a 500.
func (s *Server) handleError(err error, c echo.Context) {
	code := http.StatusInternalServerError
	msg := "Internal server error: " + err.Error()
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		msg = fmt.Sprint(he.Message)
	}
	req := c.Request()
	if code >= http.StatusInternalServerError {
		s.log.Error("request failed", zap.Int("status", code), zap.String("method", req.Method), zap.String("path", req.URL.Path), zap.Error(err))
	}
	if !c.Response().Committed {
		_ = c.JSON(code, map[string]any{"error": msg})
	}
}

// decode reads a required JSON body.
func decode(c echo.Context, dst any) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "Request body is empty")
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON: "+err.Error())
	}
	return nil
}

// decodeOptional is decode for endpoints whose body may be omitted.
func decodeOptional(c echo.Context, dst any) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON: "+err.Error())
	}
	return nil
}

func (s *Server) record(res *agent.Result, err error) {
	if s.opts.Runs == nil {
		return
	}
	rec := RecordOf(res, err)
	if rec == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if serr := s.opts.Runs.Save(ctx, *rec); serr != nil {
		s.log.Warn("run not recorded", zap.String("run_id", rec.RunID), zap.Error(serr))
	}
}

// toolSpec accepts both the catalog's own field names and the
// tool_name/lib_name/code_example form.
type toolSpec struct {
	Name         string   `json:"name"`
	ToolName     string   `json:"tool_name"`
	Libraries    []string `json:"libraries"`
	LibName      []string `json:"lib_name"`
	Instructions string   `json:"instructions"`
	Template     string   `json:"template"`
	CodeExample  string   `json:"code_example"`
}

func (t toolSpec) descriptor() tools.Descriptor {
	d := tools.Descriptor{Name: t.Name, Libraries: t.Libraries, Instructions: t.Instructions, Template: t.Template}
	if d.Name == "" {
		d.Name = t.ToolName
	}
	if len(d.Libraries) == 0 {
		d.Libraries = t.LibName
	}
	if d.Template == "" {
		d.Template = t.CodeExample
	}
	return d
}

type codeAgentRequest struct {
	History []llm.Message `json:"session_chat_history"`
	Tools   []toolSpec    `json:"tools"`
}

type agentResponse struct {
	Assistant  string `json:"assistant"`
	RunID      string `json:"run_id"`
	Decision   string `json:"decision"`
	Iterations int    `json:"iterations"`
}

func respond(c echo.Context, res *agent.Result) error {
	return c.JSON(http.StatusOK, agentResponse{
		Assistant:  res.FinalAnswer,
		RunID:      res.RunID,
		Decision:   string(res.Decision),
		Iterations: res.Iterations,
	})
}

func (s *Server) runCodeAgent(c echo.Context) error {
	var req codeAgentRequest
	if err := decode(c, &req); err != nil {
		return err
	}
	extra := make([]tools.Descriptor, 0, len(req.Tools))
	for _, t := range req.Tools {
		extra = append(extra, t.descriptor())
	}
	var catalog []tools.Descriptor
	if s.opts.Catalog != nil {
		catalog = s.opts.Catalog(extra...)
	} else {
		catalog = extra
	}

	res, err := s.opts.Code.Run(c.Request().Context(), agent.Request{History: req.History, Catalog: catalog})
	s.record(res, err)
	if err != nil {
		return err
	}
	return respond(c, res)
}

type surfRequest struct {
	Prompt string `json:"prompt"`
}

func (s *Server) surf(c echo.Context) error {
	var req surfRequest
	if err := decode(c, &req); err != nil {
		return err
	}
	res, err := s.opts.Surf.Run(c.Request().Context(), req.Prompt)
	s.record(res, err)
	if err != nil {
		return err
	}
	return respond(c, res)
}

type ingestRequest struct {
	Texts      []string `json:"texts"`
	Collection string   `json:"collection"`
	Corpus     string   `json:"corpus"`
}

func (s *Server) simpleIngest(c echo.Context) error {
	var req ingestRequest
	if err := decode(c, &req); err != nil {
		return err
	}
	if len(req.Texts) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "texts is empty")
	}
	res, err := s.opts.Simple.Ingest(c.Request().Context(), req.Texts, req.Collection)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

type queryRequest struct {
	Query      string `json:"query"`
	Question   string `json:"question"`
	Collection string `json:"collection"`
	K          int    `json:"k"`
}

func (q queryRequest) text() string {
	if q.Query != "" {
		return q.Query
	}
	return q.Question
}

func (s *Server) simpleQuery(c echo.Context) error {
	var req queryRequest
	if err := decode(c, &req); err != nil {
		return err
	}
	if req.text() == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query is empty")
	}
	hits, err := s.opts.Simple.Retrieve(c.Request().Context(), req.text(), req.Collection, req.K)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"hits": hits})
}

type corpusRequest struct {
	Dir string `json:"dir"`
}

func (s *Server) hybridIngestCorpus(c echo.Context) error {
	var req corpusRequest
	if err := decodeOptional(c, &req); err != nil {
		return err
	}
	dir, err := corpusPath(s.opts.CorpusDir, req.Dir)
	if err != nil {
		return err
	}
	files, err := s.opts.Hybrid.IngestCorpus(c.Request().Context(), dir)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"message": "Corpus ingested", "files": files})
}

// corpusPath resolves a requested directory against base and rejects
// anything outside it.
func corpusPath(base, dir string) (string, error) {
	if dir == "" {
		return base, nil
	}
	absBase, err := filepath.Abs(base)
	if err != nil {
		return "", err
	}
	target := dir
	if !filepath.IsAbs(target) {
		target = filepath.Join(absBase, target)
	}
	rel, err := filepath.Rel(absBase, filepath.Clean(target))
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", echo.NewHTTPError(http.StatusBadRequest, "dir must be inside the corpus directory")
	}
	return filepath.Join(base, rel), nil
}

func (s *Server) hybridIngest(c echo.Context) error {
	var req ingestRequest
	if err := decode(c, &req); err != nil {
		return err
	}
	if len(req.Texts) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "texts is empty")
	}
	corpus := req.Corpus
	if corpus == "" {
		corpus = req.Collection
	}
	res, err := s.opts.Hybrid.Ingest(c.Request().Context(), req.Texts, corpus)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) hybridQuery(c echo.Context) error {
	var req queryRequest
	if err := decode(c, &req); err != nil {
		return err
	}
	if req.text() == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "question is empty")
	}
	ans, err := s.opts.Hybrid.Query(c.Request().Context(), req.text())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ans)
}

func (s *Server) getRun(c echo.Context) error {
	rec, err := s.opts.Runs.Get(c.Request().Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "run not found")
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rec)
}

func (s *Server) listRuns(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	recs, err := s.opts.Runs.List(c.Request().Context(), limit)
	if err != nil {
		return err
	}
	if recs == nil {
		recs = []store.Record{}
	}
	return c.JSON(http.StatusOK, map[string]any{"runs": recs})
}

func (s *Server) status(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"active_runs":    observability.ActiveRuns(),
		"last_heartbeat": observability.LastHeartbeat(),
		"status":         observability.StatusLine(),
	})
}
