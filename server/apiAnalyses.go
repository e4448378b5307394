package server

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/cyclopcam/geochange/server/archive"
	"github.com/cyclopcam/geochange/server/storage"
	"github.com/cyclopcam/www"
	"github.com/julienschmidt/httprouter"
)

func (s *Server) httpListAnalyses(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	limit := www.QueryInt(r, "limit")
	list, err := s.archive.List(limit)
	www.Check(err)
	www.SendJSON(w, list)
}

func (s *Server) httpGetAnalysis(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	rec, err := s.archive.Get(params.ByName("id"))
	if errors.Is(err, archive.ErrNotFound) {
		www.PanicNotFound()
	}
	www.Check(err)
	www.SendJSON(w, rec)
}

// Serve a stored mask or overlay. If the blob store can give the client a direct URL, then redirect there.
func (s *Server) httpGetBlob(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	name := strings.TrimPrefix(params.ByName("path"), "/")
	if !strings.HasPrefix(name, "analyses/") {
		www.PanicForbidden()
	}
	if u, err := s.storage.URL(name); err == nil {
		http.Redirect(w, r, u, http.StatusFound)
		return
	}
	f, err := s.storage.ReadFile(name)
	if errors.Is(err, storage.ErrNotFound) {
		www.PanicNotFound()
	} else if err != nil {
		www.PanicBadRequestf("%v", err)
	}
	defer f.Reader.Close()

	contentType := mime.TypeByExtension(path.Ext(name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	// Blobs are written once, under a unique analysis ID
	www.CacheImmutable(w)
	w.WriteHeader(http.StatusOK)
	io.Copy(w, f.Reader)
}

func (s *Server) httpFeed(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	s.feed.ServeWS(w, r)
}
