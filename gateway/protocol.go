package gateway

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"time"

	"github.com/c360/semsub/errors"
	"github.com/c360/semsub/scheduler"
)

// SPARQL 1.1 Protocol media types
const (
	mediaFormEncoded   = "application/x-www-form-urlencoded"
	mediaSPARQLQuery   = "application/sparql-query"
	mediaSPARQLUpdate  = "application/sparql-update"
	mediaSPARQLResults = "application/sparql-results+json"
)

// updateResponse acknowledges an applied update
type updateResponse struct {
	Sequence  uint64   `json:"sequence"`
	AllGraphs bool     `json:"allGraphs,omitempty"`
	Graphs    []string `json:"graphs,omitempty"`
}

// protocolRequest is a parsed SPARQL protocol operation
type protocolRequest struct {
	text   string
	params url.Values
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	s.serveProtocol(w, r, scheduler.KindQuery, []string{http.MethodGet, http.MethodPost})
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	s.serveProtocol(w, r, scheduler.KindUpdate, []string{http.MethodPost})
}

func (s *Server) serveProtocol(w http.ResponseWriter, r *http.Request, kind scheduler.Kind, methods []string) {
	start := time.Now()
	remote := clientAddress(r)

	s.applyCORS(w, r)
	if r.Method == http.MethodOptions && s.config.EnableCORS {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if !methodAllowed(r.Method, methods) {
		writeError(w, errorBody{
			Code:        "invalid_request",
			Description: fmt.Sprintf("method %s not allowed", r.Method),
			Status:      http.StatusMethodNotAllowed,
		})
		return
	}

	if !s.allow(remote) {
		writeError(w, errorResponse(errors.WrapTransient(errors.ErrRateLimited, "Server", "serveProtocol", "admit client")))
		return
	}

	creds, err := s.authorize(r.Context(), r.Header.Values("Authorization"), remote)
	if err != nil {
		s.logger.Debug("Request not authorized", "kind", kind.String(), "remote", remote, "error", err)
		writeError(w, errorResponse(err))
		return
	}

	preq, err := s.parseProtocolRequest(w, r, kind)
	if err != nil {
		writeError(w, errorResponse(err))
		return
	}

	req := scheduler.Request{Kind: kind, SPARQL: preq.text, Credentials: creds}
	if kind == scheduler.KindQuery {
		req.DefaultGraphURIs = preq.params["default-graph-uri"]
		req.NamedGraphURIs = preq.params["named-graph-uri"]
	} else {
		req.UsingGraphURIs = preq.params["using-graph-uri"]
		req.UsingNamedGraphURIs = preq.params["using-named-graph-uri"]
	}

	out, err := s.sched.Submit(r.Context(), req)
	if err != nil {
		body := errorResponse(err)
		if body.Status >= http.StatusInternalServerError {
			s.logger.Warn("Request failed", "kind", kind.String(), "subject", creds.Subject, "error", err)
		}
		writeError(w, body)
		return
	}

	s.logger.Debug("Request served", "kind", kind.String(), "subject", creds.Subject,
		"sequence", out.Sequence, "duration", time.Since(start))

	if kind == scheduler.KindQuery {
		writeJSON(w, http.StatusOK, mediaSPARQLResults, out.Results)
		return
	}
	writeJSON(w, http.StatusOK, "application/json", updateResponse{
		Sequence:  out.Sequence,
		AllGraphs: out.Scope.All,
		Graphs:    out.Scope.List(),
	})
}

// parseProtocolRequest extracts the operation text and dataset parameters
// from a GET query string, a form-encoded POST, or a direct POST body.
func (s *Server) parseProtocolRequest(w http.ResponseWriter, r *http.Request, kind scheduler.Kind) (protocolRequest, error) {
	field := "query"
	direct := mediaSPARQLQuery
	if kind == scheduler.KindUpdate {
		field = "update"
		direct = mediaSPARQLUpdate
	}

	if r.Method == http.MethodGet {
		params := r.URL.Query()
		return protocolRequest{text: params.Get(field), params: params}, nil
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxRequestSize)
	defer r.Body.Close()

	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return protocolRequest{}, invalidRequest("parseProtocolRequest", "missing or malformed Content-Type")
	}

	switch mediaType {
	case mediaFormEncoded:
		if err := r.ParseForm(); err != nil {
			return protocolRequest{}, bodyError(err)
		}
		return protocolRequest{text: r.PostForm.Get(field), params: r.Form}, nil
	case direct:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return protocolRequest{}, bodyError(err)
		}
		return protocolRequest{text: string(body), params: r.URL.Query()}, nil
	default:
		return protocolRequest{}, invalidRequest("parseProtocolRequest", fmt.Sprintf("unsupported Content-Type %s", mediaType))
	}
}

func invalidRequest(method, detail string) error {
	return errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrInvalidRequest, detail),
		"Server", method, "parse request")
}

func bodyError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return invalidRequest("parseProtocolRequest", fmt.Sprintf("request body exceeds maximum size of %d bytes", tooLarge.Limit))
	}
	return invalidRequest("parseProtocolRequest", "failed to read request body")
}

func methodAllowed(method string, allowed []string) bool {
	for _, m := range allowed {
		if m == method {
			return true
		}
	}
	return false
}
