package server

import (
	"embed"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cyclopcam/staticfiles"
	"github.com/cyclopcam/www"
	"github.com/go-chi/httprate"
	"github.com/julienschmidt/httprouter"
)

//go:embed www
var staticWWW embed.FS

func (s *Server) setupHttpRoutes() error {
	logEveryRequest := false
	router := httprouter.New()

	// unprotected creates an HTTP handler that is accessible without authentication
	unprotected := func(method, route string, handle httprouter.Handle) {
		www.Handle(s.Log, router, method, route, func(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
			if logEveryRequest {
				s.Log.Infof("HTTP (unprotected) %v %v", method, r.URL.Path)
			}
			handle(w, r, params)
		})
	}

	// ratelimited is unprotected, but limited per client IP
	ratelimited := unprotected
	if s.Config.RateLimitPerMinute > 0 {
		limiter := httprate.Limit(s.Config.RateLimitPerMinute, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP))
		ratelimited = func(method, route string, handle httprouter.Handle) {
			unprotected(method, route, func(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
				limiter(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					handle(w, r, params)
				})).ServeHTTP(w, r)
			})
		}
	}

	unprotected("GET", "/api/ping", s.httpPing)
	ratelimited("POST", "/api/v1/analyze", s.httpAnalyze)
	ratelimited("POST", "/api/v1/analyze_aoi", s.httpAnalyzeAOI)
	unprotected("GET", "/api/v1/analyses", s.httpListAnalyses)
	unprotected("GET", "/api/v1/analyses/:id", s.httpGetAnalysis)
	unprotected("GET", "/api/v1/blob/*path", s.httpGetBlob)
	unprotected("GET", "/api/v1/feed", s.httpFeed)

	isImmutable := true
	var fsys fs.FS
	fsysRoot := "www"
	fsys = staticWWW
	if s.Config.HotReloadWWW {
		relRoot := "server/www"
		absRoot, err := filepath.Abs(relRoot)
		if err != nil {
			s.Log.Errorf("Failed to resolve static file directory %v: %v", relRoot, err)
			return errors.New("Failed to resolve static file directory for hot reload")
		}
		s.Log.Infof("Serving static files from %v, with hot reload", absRoot)
		fsys = os.DirFS(absRoot)
		fsysRoot = ""
		isImmutable = false
	}

	static, err := staticfiles.NewCachedStaticFileServer(fsys, fsysRoot, []string{"/api/"}, s.Log, isImmutable, nil)
	if err != nil {
		s.Log.Warnf("Error in static files: %v", err)
	} else {
		router.NotFound = static
	}

	s.httpRouter = router
	return nil
}
