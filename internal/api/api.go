// Package api exposes sync, schema, dump and backup operations over HTTP.
// Every route requires an administrator bearer token.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	restful "github.com/emicklei/go-restful/v3"
	"go.uber.org/zap"

	"github.com/robmartinson/tablesync/internal/backup"
	"github.com/robmartinson/tablesync/internal/bootstrap"
	"github.com/robmartinson/tablesync/internal/database"
	"github.com/robmartinson/tablesync/internal/dialect"
	"github.com/robmartinson/tablesync/internal/dump"
	"github.com/robmartinson/tablesync/internal/errs"
	"github.com/robmartinson/tablesync/internal/schema"
	"github.com/robmartinson/tablesync/internal/syncer"
)

// Server holds the collaborators behind the routes. Jobs may be nil, in
// which case the job routes are not registered.
type Server struct {
	Local      *database.Conn
	Catalog    *schema.Catalog
	Controller *syncer.Controller
	Jobs       *syncer.Manager
	Bootstrap  *bootstrap.Bootstrapper
	Dump       *dump.Formatter
	Backup     *backup.Service
	Auth       Authorizer
	Logger     *zap.Logger

	// AllowSQLite lets callers name a sqlite file on this host as the
	// external endpoint. Off, only network dialects are accepted.
	AllowSQLite bool
}

// WebService returns the API routes behind the bearer filter.
func (s *Server) WebService() *restful.WebService {
	ws := &restful.WebService{}
	ws.Produces(restful.MIME_JSON)
	ws.Param(ws.HeaderParameter("Authorization", "Bearer token for authentication").Required(true))
	ws.Filter(s.authFilter)

	ws.Route(ws.POST("/sync/step").To(s.step).
		Doc("run one bounded step of a sync job").
		Reads(stepRequest{}).Writes(syncer.StepResult{}))

	if s.Jobs != nil {
		idParam := ws.PathParameter("id", "job identifier")
		ws.Route(ws.POST("/sync/jobs").To(s.startJob).Reads(syncer.Job{}).Writes(syncer.Record{}))
		ws.Route(ws.GET("/sync/jobs/{id}").To(s.getJob).Param(idParam).Writes(syncer.Record{}))
		ws.Route(ws.DELETE("/sync/jobs/{id}").To(s.deleteJob).Param(idParam))
		ws.Route(ws.POST("/sync/jobs/{id}/resume").To(s.resumeJob).Param(idParam).
			Reads(endpointRequest{}).Writes(syncer.StepResult{}))
	}

	ws.Route(ws.POST("/schema/bootstrap").To(s.bootstrap).Reads(bootstrapRequest{}).Writes(bootstrap.Result{}))
	ws.Route(ws.POST("/dump").To(s.dump).Reads(dumpRequest{}).Writes(dumpResponse{}))
	ws.Route(ws.GET("/backup").To(s.backup).
		Param(ws.QueryParameter("tables", "comma separated table names, all tables when empty")))
	ws.Route(ws.POST("/restore").To(s.restore).
		Param(ws.QueryParameter("replace", "delete existing rows first").DataType("boolean")).
		Reads(backup.Snapshot{}).Writes(backup.Report{}))
	ws.Route(ws.POST("/endpoints/test").To(s.testEndpoint).Reads(endpointRequest{}).Writes(endpointTestResult{}))

	return ws
}

// Container returns an HTTP handler serving the API and /healthz.
func (s *Server) Container() *restful.Container {
	c := restful.NewContainer()
	c.Router(restful.CurlyRouter{})
	c.Add(s.WebService())
	c.ServeMux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.Write([]byte("ok")) })
	return c
}

type stepRequest struct {
	Direction        syncer.Direction   `json:"direction"`
	Tables           []string           `json:"tables,omitempty"`
	ExternalEndpoint *database.Endpoint `json:"externalEndpoint"`
	syncer.State
}

type endpointRequest struct {
	ExternalEndpoint *database.Endpoint `json:"externalEndpoint"`
}

func (r endpointRequest) endpoint(allowSQLite bool) (database.Endpoint, error) {
	if r.ExternalEndpoint == nil {
		return database.Endpoint{}, errs.Validation("externalEndpoint is required")
	}
	ep, err := r.ExternalEndpoint.Normalize()
	if err != nil {
		return ep, err
	}
	if ep.Dialect == dialect.SQLite && !allowSQLite {
		return ep, errs.Validation("sqlite external endpoints are disabled on this server")
	}
	// driver parameters can name files on this host
	if ep.Params != "" {
		return ep, errs.Validation("externalEndpoint driver parameters are not accepted")
	}
	return ep, nil
}

type bootstrapRequest struct {
	endpointRequest
	Tables []string `json:"tables,omitempty"`
}

type dumpRequest struct {
	Table string `json:"table"`
	dump.Options
}

type dumpResponse struct {
	SQL  string `json:"sql"`
	Rows int    `json:"rows"`
}

type endpointTestResult struct {
	Success        bool     `json:"success"`
	Version        string   `json:"version,omitempty"`
	LatencyMS      int64    `json:"latency_ms"`
	ExistingTables []string `json:"existing_tables"`
	Error          string   `json:"error,omitempty"`
}

func (s *Server) step(req *restful.Request, res *restful.Response) {
	body := stepRequest{}
	if err := decode(req, &body); err != nil {
		s.fail(req, res, err)
		return
	}
	ep, err := endpointRequest{body.ExternalEndpoint}.endpoint(s.AllowSQLite)
	if err != nil {
		s.fail(req, res, err)
		return
	}

	job := syncer.Job{Direction: body.Direction, Tables: body.Tables}
	result, err := s.Controller.Step(req.Request.Context(), job, ep, body.State)
	if err != nil {
		s.fail(req, res, err)
		return
	}
	s.write(res, http.StatusOK, result)
}

func (s *Server) startJob(req *restful.Request, res *restful.Response) {
	job := syncer.Job{}
	if err := decode(req, &job); err != nil {
		s.fail(req, res, err)
		return
	}
	rec, err := s.Jobs.Start(req.Request.Context(), job)
	if err != nil {
		s.fail(req, res, err)
		return
	}
	s.write(res, http.StatusCreated, rec)
}

func (s *Server) getJob(req *restful.Request, res *restful.Response) {
	rec, err := s.Jobs.Status(req.Request.Context(), req.PathParameter("id"))
	if err != nil {
		s.fail(req, res, err)
		return
	}
	s.write(res, http.StatusOK, rec)
}

func (s *Server) deleteJob(req *restful.Request, res *restful.Response) {
	if err := s.Jobs.Discard(req.Request.Context(), req.PathParameter("id")); err != nil {
		s.fail(req, res, err)
		return
	}
	res.WriteHeader(http.StatusNoContent)
}

func (s *Server) resumeJob(req *restful.Request, res *restful.Response) {
	body := endpointRequest{}
	if err := decode(req, &body); err != nil {
		s.fail(req, res, err)
		return
	}
	ep, err := body.endpoint(s.AllowSQLite)
	if err != nil {
		s.fail(req, res, err)
		return
	}
	result, err := s.Jobs.Resume(req.Request.Context(), req.PathParameter("id"), ep)
	if err != nil {
		s.fail(req, res, err)
		return
	}
	s.write(res, http.StatusOK, result)
}

func (s *Server) bootstrap(req *restful.Request, res *restful.Response) {
	body := bootstrapRequest{}
	if err := decode(req, &body); err != nil {
		s.fail(req, res, err)
		return
	}
	ep, err := body.endpoint(s.AllowSQLite)
	if err != nil {
		s.fail(req, res, err)
		return
	}
	tables, err := s.Catalog.Select(body.Tables)
	if err != nil {
		s.fail(req, res, err)
		return
	}

	ctx := req.Request.Context()
	conn, err := s.Controller.Connect(ctx, ep)
	if err != nil {
		s.fail(req, res, err)
		return
	}
	defer conn.Close()

	s.write(res, http.StatusOK, s.Bootstrap.Run(ctx, conn, tables, s.Catalog.Enums))
}

func (s *Server) dump(req *restful.Request, res *restful.Response) {
	body := dumpRequest{}
	if err := decode(req, &body); err != nil {
		s.fail(req, res, err)
		return
	}
	if body.Table == "" {
		s.fail(req, res, errs.Validation("table is required"))
		return
	}
	a, err := s.Dump.Table(req.Request.Context(), s.Local, body.Table, body.Options)
	if err != nil {
		s.fail(req, res, err)
		return
	}
	s.write(res, http.StatusOK, dumpResponse{SQL: a.SQL(), Rows: a.Rows})
}

func (s *Server) backup(req *restful.Request, res *restful.Response) {
	var tables []string
	if v := req.QueryParameter("tables"); v != "" {
		tables = strings.Split(v, ",")
	}
	snap, err := s.Backup.Backup(req.Request.Context(), s.Local, tables)
	if err != nil {
		s.fail(req, res, err)
		return
	}

	res.AddHeader("Content-Type", restful.MIME_JSON)
	res.AddHeader("Content-Disposition", `attachment; filename="`+snap.Filename()+`"`)
	res.WriteHeader(http.StatusOK)
	if _, err := snap.WriteTo(res); err != nil {
		s.Logger.Warn("backup download interrupted", zap.Error(err))
	}
}

func (s *Server) restore(req *restful.Request, res *restful.Response) {
	snap, err := backup.Read(req.Request.Body)
	if err != nil {
		s.fail(req, res, err)
		return
	}
	opts := backup.RestoreOptions{Replace: req.QueryParameter("replace") == "true"}
	report, err := s.Backup.Restore(req.Request.Context(), s.Local, snap, opts)
	if err != nil {
		s.fail(req, res, err)
		return
	}
	s.write(res, http.StatusOK, report)
}

// testEndpoint reports reachability in the body: an unreachable endpoint
// is a successful request with success=false.
func (s *Server) testEndpoint(req *restful.Request, res *restful.Response) {
	body := endpointRequest{}
	if err := decode(req, &body); err != nil {
		s.fail(req, res, err)
		return
	}
	ep, err := body.endpoint(s.AllowSQLite)
	if err == nil {
		err = ep.Validate()
	}
	if err != nil {
		s.fail(req, res, err)
		return
	}

	ctx := req.Request.Context()
	start := time.Now()
	result := endpointTestResult{ExistingTables: []string{}}

	conn, err := s.Controller.Connect(ctx, ep)
	if err == nil {
		defer conn.Close()
		result.Version, err = conn.Version(ctx)
	}
	if err == nil {
		var tables []string
		if tables, err = conn.Tables(ctx); err == nil && tables != nil {
			result.ExistingTables = tables
		}
	}
	result.LatencyMS = time.Since(start).Milliseconds()

	if err != nil {
		s.Logger.Info("endpoint test failed", zap.Stringer("endpoint", ep), zap.Error(err))
		result.Error = err.Error()
	} else {
		result.Success = true
	}
	s.write(res, http.StatusOK, result)
}

func decode(req *restful.Request, v any) error {
	if err := json.NewDecoder(req.Request.Body).Decode(v); err != nil {
		return errs.Validation("invalid request body: %v", err)
	}
	return nil
}

func (s *Server) write(res *restful.Response, status int, v any) {
	if err := res.WriteHeaderAndJson(status, v, restful.MIME_JSON); err != nil {
		s.Logger.Warn("failed to write response", zap.Error(err))
	}
}

// fail maps err to its HTTP status and writes {"error": msg}.
func (s *Server) fail(req *restful.Request, res *restful.Response, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		s.Logger.Error("request failed", zap.String("path", req.Request.URL.Path), zap.Error(err))
	}
	s.write(res, status, map[string]string{"error": err.Error()})
}

func statusOf(err error) int {
	if errors.Is(err, syncer.ErrJobNotFound) {
		return http.StatusNotFound
	}
	switch errs.KindOf(err) {
	case errs.KindUnauthenticated:
		return http.StatusUnauthorized
	case errs.KindForbidden:
		return http.StatusForbidden
	case errs.KindValidation:
		return http.StatusBadRequest
	case errs.KindConnectivity:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
