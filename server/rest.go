// Copyright 2020 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	restfulspec "github.com/emicklei/go-restful-openapi/v2"
	"github.com/emicklei/go-restful/v3"
	"github.com/go-openapi/spec"
	"github.com/google/uuid"
	"github.com/gorse-io/userknn/base/log"
	"github.com/gorse-io/userknn/cmd/version"
	"github.com/gorse-io/userknn/config"
	"github.com/gorse-io/userknn/logics"
	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/swaggest/swgui/v5emb"
	"go.opentelemetry.io/contrib/instrumentation/github.com/emicklei/go-restful/otelrestful"
	"go.uber.org/zap"
)

const (
	apiDocsPath  = "/apidocs/"
	apiSpecsPath = "/apidocs.json"
)

const (
	ErrorKeyAuth          = "auth_error"
	ErrorKeyModelNotFound = "model_not_found"
	ErrorKeyUserNotFound  = "user_not_found"
	ErrorKeyBadRequest    = "bad_request"
	ErrorKeyInternal      = "internal_error"
)

// ErrorDetail describes a failed request.
type ErrorDetail struct {
	ErrorKey     string `json:"error_key"`
	ErrorMessage string `json:"error_message"`
}

type ErrorResponse struct {
	Errors []ErrorDetail `json:"errors"`
}

type RecoResponse struct {
	UserId int64   `json:"user_id"`
	Items  []int64 `json:"items"`
}

// RestServer implements a REST-ful API server.
type RestServer struct {
	Config     *config.Config
	Models     logics.Models
	HttpHost   string
	HttpPort   int
	WebService *restful.WebService
	container  *restful.Container
	httpServer *http.Server
}

func NewRestServer(cfg *config.Config, models logics.Models) *RestServer {
	s := &RestServer{
		Config:     cfg,
		Models:     models,
		HttpHost:   cfg.Server.Host,
		HttpPort:   cfg.Server.Port,
		WebService: new(restful.WebService),
		container:  restful.NewContainer(),
	}
	s.CreateWebService()
	s.container.Add(s.WebService)
	// register OpenAPI specification and swagger UI
	specConfig := restfulspec.Config{
		WebServices:                   s.container.RegisteredWebServices(),
		APIPath:                       apiSpecsPath,
		PostBuildSwaggerObjectHandler: enrichSwaggerObject,
	}
	s.container.Add(restfulspec.NewOpenAPIService(specConfig))
	s.container.Handle(apiDocsPath, v5emb.New("userknn", apiSpecsPath, apiDocsPath))
	// register prometheus
	s.container.Handle("/metrics", promhttp.Handler())
	return s
}

// Handler returns the HTTP handler serving all routes.
func (s *RestServer) Handler() http.Handler {
	return s.container
}

// StartHttpServer starts the REST-ful API server and blocks until ctx is done.
func (s *RestServer) StartHttpServer(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.HttpHost, s.HttpPort),
		Handler: s.container,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Logger().Error("failed to shutdown http server", zap.Error(err))
		}
	}()
	log.Logger().Info("start http server",
		zap.String("url", fmt.Sprintf("http://%s:%d", s.HttpHost, s.HttpPort)))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Trace(err)
	}
	return nil
}

func enrichSwaggerObject(swo *spec.Swagger) {
	swo.Info = &spec.Info{
		InfoProps: spec.InfoProps{
			Title:   "userknn",
			Version: version.APIVersion,
		},
	}
}

// RequestIDFilter sets X-Request-ID on the response, generating one if the request carries none.
func RequestIDFilter(req *restful.Request, resp *restful.Response, chain *restful.FilterChain) {
	requestId := req.Request.Header.Get("X-Request-ID")
	if requestId == "" {
		requestId = uuid.New().String()
	}
	resp.Header().Set("X-Request-ID", requestId)
	chain.ProcessFilter(req, resp)
}

func LogFilter(req *restful.Request, resp *restful.Response, chain *restful.FilterChain) {
	start := time.Now()
	chain.ProcessFilter(req, resp)
	RestAPIRequestSecondsVec.WithLabelValues(req.SelectedRoutePath(), strconv.Itoa(resp.StatusCode())).
		Observe(time.Since(start).Seconds())
	if req.Request.URL.Path != "/health" {
		log.ResponseLogger(resp).Info(fmt.Sprintf("%s %s", req.Request.Method, req.Request.URL),
			zap.Int("status_code", resp.StatusCode()))
	}
}

// CreateWebService creates web service.
func (s *RestServer) CreateWebService() {
	ws := s.WebService
	ws.Produces(restful.MIME_JSON)
	ws.Path("/")
	ws.Filter(otelrestful.OTelFilter("userknn"))
	ws.Filter(RequestIDFilter)
	ws.Filter(LogFilter)

	ws.Route(ws.GET("/health").To(s.health).
		Doc("Check whether the server is alive.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"health"}).
		Returns(http.StatusOK, "OK", "").
		Writes(""))
	ws.Route(ws.GET("/reco/{model-name}/{user-id}").To(s.getReco).
		Doc("Get recommended items for a user.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"recommendation"}).
		Param(ws.HeaderParameter("Authorization", "bearer token, e.g. \"Bearer <api_key>\"")).
		Param(ws.PathParameter("model-name", "name of the model").DataType("string")).
		Param(ws.PathParameter("user-id", "ID of the user").DataType("integer")).
		Param(ws.QueryParameter("n", "number of returned items").DataType("integer")).
		Returns(http.StatusOK, "OK", RecoResponse{}).
		Returns(http.StatusBadRequest, "Bad request", ErrorResponse{}).
		Returns(http.StatusForbidden, "Authorization error", ErrorResponse{}).
		Returns(http.StatusNotFound, "Not found", ErrorResponse{}).
		Writes(RecoResponse{}))
}

func (s *RestServer) health(_ *restful.Request, response *restful.Response) {
	Ok(response, "I am alive")
}

func (s *RestServer) getReco(request *restful.Request, response *restful.Response) {
	if !s.auth(request, response) {
		return
	}
	modelName := request.PathParameter("model-name")
	userId, err := strconv.ParseInt(request.PathParameter("user-id"), 10, 64)
	if err != nil {
		Error(response, http.StatusBadRequest, ErrorKeyBadRequest,
			fmt.Sprintf("invalid user id %q", request.PathParameter("user-id")))
		return
	}
	n, err := ParseInt(request, "n", s.Config.Server.DefaultN)
	if err != nil || n < 0 {
		Error(response, http.StatusBadRequest, ErrorKeyBadRequest,
			fmt.Sprintf("invalid n %q", request.QueryParameter("n")))
		return
	}
	log.ResponseLogger(response).Info("request for recommendation",
		zap.String("model", modelName), zap.Int64("user_id", userId))

	if userId > s.Config.Server.MaxUserId {
		Error(response, http.StatusNotFound, ErrorKeyUserNotFound, fmt.Sprintf("User %d not found", userId))
		return
	}
	model, ok := s.Models.Get(modelName)
	if !ok {
		Error(response, http.StatusNotFound, ErrorKeyModelNotFound, fmt.Sprintf("Model %s not found", modelName))
		return
	}

	start := time.Now()
	items, err := model.Recommend(userId, n)
	if err != nil {
		InternalServerError(response, err)
		return
	}
	RecommendSecondsVec.WithLabelValues(modelName).Observe(time.Since(start).Seconds())
	RecommendItemsVec.WithLabelValues(modelName).Observe(float64(len(items)))
	Ok(response, RecoResponse{UserId: userId, Items: items})
}

// ParseInt parses integers from the query parameter.
func ParseInt(request *restful.Request, name string, fallback int) (value int, err error) {
	valueString := request.QueryParameter(name)
	value, err = strconv.Atoi(valueString)
	if err != nil && valueString == "" {
		value = fallback
		err = nil
	}
	return
}

// Error writes an error response with a single error detail.
func Error(response *restful.Response, status int, key, message string) {
	if status >= http.StatusInternalServerError {
		log.ResponseLogger(response).Error(key, zap.String("message", message))
	} else {
		log.ResponseLogger(response).Warn(key, zap.String("message", message))
	}
	if err := response.WriteHeaderAndJson(status, ErrorResponse{
		Errors: []ErrorDetail{{ErrorKey: key, ErrorMessage: message}},
	}, restful.MIME_JSON); err != nil {
		log.ResponseLogger(response).Error("failed to write error", zap.Error(err))
	}
}

// InternalServerError returns a internal server error.
func InternalServerError(response *restful.Response, err error) {
	Error(response, http.StatusInternalServerError, ErrorKeyInternal, err.Error())
}

// Ok sends the content as JSON to the client.
func Ok(response *restful.Response, content interface{}) {
	if err := response.WriteAsJson(content); err != nil {
		log.ResponseLogger(response).Error("failed to write json", zap.Error(err))
	}
}

func (s *RestServer) auth(request *restful.Request, response *restful.Response) bool {
	token, found := strings.CutPrefix(request.HeaderParameter("Authorization"), "Bearer ")
	if found && s.Config.Server.APIKey != "" && token == s.Config.Server.APIKey {
		return true
	}
	Error(response, http.StatusForbidden, ErrorKeyAuth, "Authorization error")
	return false
}
